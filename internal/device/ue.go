package device

import (
	"fmt"

	"github.com/signalsfoundry/nr-ran-simulator/core"
	"github.com/signalsfoundry/nr-ran-simulator/internal/logging"
	"github.com/signalsfoundry/nr-ran-simulator/internal/phy"
	"github.com/signalsfoundry/nr-ran-simulator/model"
)

// UeDevice is a user equipment with one PHY per carrier.
type UeDevice struct {
	*netDevice

	imsi    uint64
	rnti    uint16
	serving *GnbDevice
}

// NewUeDevice creates a detached UE without carriers.
func NewUeDevice(name string, imsi uint64, pos core.Vec3, sched Scheduler, log logging.Logger) *UeDevice {
	u := &UeDevice{
		netDevice: newNetDevice(name, model.UeRole, pos, sched, log),
		imsi:      imsi,
	}
	u.accepts = func(rnti uint16) bool { return u.rnti != 0 && rnti == u.rnti }
	return u
}

// Imsi returns the subscriber identity.
func (u *UeDevice) Imsi() uint64 { return u.imsi }

// Rnti returns the RNTI assigned by the serving gNB, zero when detached.
func (u *UeDevice) Rnti() uint16 { return u.rnti }

// ServingGnb returns the gNB the UE is attached to.
func (u *UeDevice) ServingGnb() *GnbDevice { return u.serving }

// AttachTo attaches the UE to g. Every UE carrier must exist on the gNB;
// the UE takes over the gNB's cell ids and primary carrier.
func (u *UeDevice) AttachTo(g *GnbDevice) error {
	if u.serving != nil {
		return core.NewConfigError("AttachTo", fmt.Errorf("%s already attached to %s", u.name, u.serving.name))
	}
	for _, cc := range u.Carriers() {
		if _, ok := g.bwpm.Carrier(cc.ID()); !ok {
			return core.NewConfigError("AttachTo",
				fmt.Errorf("%w: carrier %d of %s not served by %s", core.ErrNotFound, cc.ID(), u.name, g.name))
		}
	}
	rnti, err := g.allocateRnti()
	if err != nil {
		return err
	}

	for _, cc := range u.Carriers() {
		peer, _ := g.bwpm.Carrier(cc.ID())
		cc.setCellID(peer.CellID())
		cc.SetAsPrimary(peer.IsPrimary())
		cc.SetDlEarfcn(peer.DlEarfcn())
		cc.SetUlEarfcn(peer.UlEarfcn())
		cc.Phy().SetRnti(rnti)
	}
	u.rnti = rnti
	u.serving = g
	g.ues[rnti] = u
	return nil
}

// Send queues an uplink packet on the primary carrier.
func (u *UeDevice) Send(pkt *phy.Packet, protocol uint16) bool {
	cc, ok := u.bwpm.Primary()
	if !ok {
		return false
	}
	return u.SendOnCarrier(pkt, protocol, cc.ID())
}

// SendOnCarrier queues an uplink packet on a specific carrier.
func (u *UeDevice) SendOnCarrier(pkt *phy.Packet, protocol uint16, carrierID uint8) bool {
	if u.serving == nil {
		u.stats.Rejected++
		return false
	}
	cc, ok := u.carrierFor(carrierID)
	if !ok {
		u.stats.Rejected++
		return false
	}
	pkt.Rnti = u.rnti
	return u.sendOn(cc, pkt, protocol)
}
