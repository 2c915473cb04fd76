package device

import (
	"fmt"
	"math"

	"github.com/signalsfoundry/nr-ran-simulator/core"
	"github.com/signalsfoundry/nr-ran-simulator/internal/logging"
	"github.com/signalsfoundry/nr-ran-simulator/internal/phy"
	"github.com/signalsfoundry/nr-ran-simulator/model"
)

// GnbDevice is a base station with one PHY per carrier.
type GnbDevice struct {
	*netDevice

	nextRnti uint16
	ues      map[uint16]*UeDevice
}

// NewGnbDevice creates a gNB without carriers.
func NewGnbDevice(name string, pos core.Vec3, sched Scheduler, log logging.Logger) *GnbDevice {
	g := &GnbDevice{
		netDevice: newNetDevice(name, model.GnbRole, pos, sched, log),
		ues:       make(map[uint16]*UeDevice),
	}
	g.accepts = func(rnti uint16) bool {
		_, ok := g.ues[rnti]
		return ok
	}
	return g
}

// CellID returns the cell id of the primary carrier.
func (g *GnbDevice) CellID() uint16 {
	if cc, ok := g.bwpm.Primary(); ok {
		return cc.CellID()
	}
	return 0
}

// AttachedUes returns the number of attached UEs.
func (g *GnbDevice) AttachedUes() int { return len(g.ues) }

// Ue returns the UE with the given RNTI.
func (g *GnbDevice) Ue(rnti uint16) (*UeDevice, bool) {
	u, ok := g.ues[rnti]
	return u, ok
}

func (g *GnbDevice) allocateRnti() (uint16, error) {
	if g.nextRnti == math.MaxUint16 {
		return 0, core.NewConfigError("allocateRnti", fmt.Errorf("rnti space of %s exhausted", g.name))
	}
	g.nextRnti++
	return g.nextRnti, nil
}

// Send queues a downlink packet for the UE identified by pkt.Rnti on the
// primary carrier.
func (g *GnbDevice) Send(pkt *phy.Packet, protocol uint16) bool {
	cc, ok := g.bwpm.Primary()
	if !ok {
		return false
	}
	return g.SendOnCarrier(pkt, protocol, cc.ID())
}

// SendOnCarrier queues a downlink packet on a specific carrier.
func (g *GnbDevice) SendOnCarrier(pkt *phy.Packet, protocol uint16, carrierID uint8) bool {
	if _, ok := g.ues[pkt.Rnti]; !ok {
		g.stats.Rejected++
		return false
	}
	cc, ok := g.carrierFor(carrierID)
	if !ok {
		g.stats.Rejected++
		return false
	}
	return g.sendOn(cc, pkt, protocol)
}
