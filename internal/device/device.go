package device

import (
	"context"
	"fmt"

	"github.com/signalsfoundry/nr-ran-simulator/core"
	"github.com/signalsfoundry/nr-ran-simulator/internal/logging"
	"github.com/signalsfoundry/nr-ran-simulator/internal/phy"
	"github.com/signalsfoundry/nr-ran-simulator/model"
)

// Ipv4ProtocolNumber is the only protocol devices accept for transmission.
const Ipv4ProtocolNumber uint16 = 0x0800

// Stats are per-device counters.
type Stats struct {
	TxPackets       uint64
	RxPackets       uint64
	RxBytes         uint64
	Rejected        uint64
	HarqAcks        uint64
	Retransmissions uint64
	HarqDrops       uint64
}

// MacMetricsRecorder receives per-device MAC events for export.
type MacMetricsRecorder interface {
	ObserveHarqOutcome(role, outcome string)
	ObserveAllocation(role string, rbs int, mcs uint8)
	ObserveRejectedPacket(role, reason string)
}

type noopMacMetrics struct{}

func (noopMacMetrics) ObserveHarqOutcome(string, string)    {}
func (noopMacMetrics) ObserveAllocation(string, int, uint8) {}
func (noopMacMetrics) ObserveRejectedPacket(string, string) {}

// ReceiveCallback is invoked for every packet a device decodes correctly.
type ReceiveCallback func(carrierID uint8, pkt *phy.Packet)

// netDevice holds what gNBs and UEs share: the carriers, the MAC scheduler
// contract and the packet path.
type netDevice struct {
	name     string
	role     model.DeviceRole
	position core.Vec3
	log      logging.Logger
	bwpm     *BwpManager
	sched    Scheduler
	stats    Stats
	rxCb     ReceiveCallback
	metrics  MacMetricsRecorder

	// accepts filters control messages addressed to this device.
	accepts func(rnti uint16) bool
}

func newNetDevice(name string, role model.DeviceRole, pos core.Vec3, sched Scheduler, log logging.Logger) *netDevice {
	if log == nil {
		log = logging.Noop()
	}
	if sched == nil {
		sched = FullBandScheduler{Mcs: DefaultMcs}
	}
	return &netDevice{
		name:     name,
		role:     role,
		position: pos,
		log:      log.With(logging.String("device", name)),
		bwpm:     NewBwpManager(),
		sched:    sched,
		metrics:  noopMacMetrics{},
		accepts:  func(uint16) bool { return false },
	}
}

// Name returns the device name.
func (d *netDevice) Name() string { return d.name }

// Role returns whether the device is a gNB or a UE.
func (d *netDevice) Role() model.DeviceRole { return d.role }

// Position returns the antenna position.
func (d *netDevice) Position() core.Vec3 { return d.position }

// CarrierManager implements MultiCarrierDevice.
func (d *netDevice) CarrierManager() *BwpManager {
	if d == nil {
		return nil
	}
	return d.bwpm
}

// Stats returns a snapshot of the counters.
func (d *netDevice) Stats() Stats { return d.stats }

// SetReceiveCallback registers the consumer of decoded packets.
func (d *netDevice) SetReceiveCallback(cb ReceiveCallback) { d.rxCb = cb }

// SetMacMetrics installs the MAC metrics sink. Nil restores the no-op sink.
func (d *netDevice) SetMacMetrics(m MacMetricsRecorder) {
	if m == nil {
		m = noopMacMetrics{}
	}
	d.metrics = m
}

// Scheduler returns the MAC scheduler in use.
func (d *netDevice) Scheduler() Scheduler { return d.sched }

// AddCarrier registers cc and wires its PHY callbacks to the device.
func (d *netDevice) AddCarrier(cc *ComponentCarrier) error {
	if cc.Phy().Config().Role != d.role {
		return core.NewConfigError("AddCarrier",
			fmt.Errorf("carrier %d phy role %s on %s device", cc.ID(), cc.Phy().Config().Role, d.role))
	}
	if err := d.bwpm.AddCarrier(cc); err != nil {
		return err
	}

	p := cc.Phy()
	p.SetRxDataCallback(func(pkt *phy.Packet) {
		d.stats.RxPackets++
		d.stats.RxBytes += uint64(pkt.Size)
		if d.rxCb != nil {
			d.rxCb(cc.ID(), pkt)
		}
	})
	p.SetRxCtrlCallback(func(msgs []phy.ControlMessage) { d.handleCtrl(cc, msgs) })
	p.SetDlHarqCallback(func(info phy.DlHarqInfo) { d.routeFeedback(FromDl(info)) })
	p.SetUlHarqCallback(func(info phy.UlHarqInfo) { d.routeFeedback(FromUl(info)) })
	p.onOutcome = d.countOutcome
	return nil
}

// Carriers returns the device carriers ordered by id.
func (d *netDevice) Carriers() []*ComponentCarrier { return d.bwpm.Carriers() }

// PhyOnCenterFrequency returns the PHY whose BWP is centred on hz, or nil.
func (d *netDevice) PhyOnCenterFrequency(hz float64) *CarrierPhy {
	p, ok := d.bwpm.PhyOnCenterFrequency(hz)
	if !ok {
		d.log.Warn(context.Background(), "no phy on center frequency",
			logging.Float64("frequency_hz", hz))
		return nil
	}
	return p
}

func (d *netDevice) routeFeedback(fb HarqFeedback) {
	if _, err := RouteFeedback(d, fb); err != nil {
		d.log.Error(context.Background(), "harq feedback not routed",
			logging.String("feedback", fb.String()), logging.Err(err))
	}
}

func (d *netDevice) countOutcome(_ uint16, o HarqOutcome) {
	switch o {
	case HarqAcked:
		d.stats.HarqAcks++
	case HarqRetransmit:
		d.stats.Retransmissions++
	case HarqDropped:
		d.stats.HarqDrops++
	}
	d.metrics.ObserveHarqOutcome(d.role.String(), o.String())
}

func (d *netDevice) handleCtrl(cc *ComponentCarrier, msgs []phy.ControlMessage) {
	for _, msg := range msgs {
		if !d.accepts(msg.Rnti) {
			continue
		}
		switch msg.Type {
		case phy.DciMessage:
			// Only blocks sent towards this device are registered.
			if msg.Dci != nil && msg.Dci.IsDownlink == (d.role == model.UeRole) {
				cc.Phy().AddExpectedTb(msg.Rnti, *msg.Dci)
			}
		case phy.DlHarqFeedbackMessage:
			if d.role == model.GnbRole && msg.DlHarq != nil {
				d.routeFeedback(FromDl(*msg.DlHarq))
			}
		case phy.UlHarqFeedbackMessage:
			if d.role == model.UeRole && msg.UlHarq != nil {
				d.routeFeedback(FromUl(*msg.UlHarq))
			}
		}
	}
}

func (d *netDevice) sendOn(cc *ComponentCarrier, pkt *phy.Packet, protocol uint16) bool {
	ctx := context.Background()
	if protocol != Ipv4ProtocolNumber {
		d.stats.Rejected++
		d.metrics.ObserveRejectedPacket(d.role.String(), "protocol")
		d.log.Warn(ctx, "unsupported protocol", logging.Int("protocol", int(protocol)))
		return false
	}
	pkt.Protocol = protocol
	alloc := d.sched.Allocate(cc.Bwp(), pkt.Rnti, pkt.Size)
	tb := phy.ExpectedTb{TbSize: pkt.Size, Mcs: alloc.Mcs, RbBitmap: alloc.RbBitmap}
	if !cc.Phy().Transmit(pkt.Rnti, []*phy.Packet{pkt}, tb) {
		d.stats.Rejected++
		d.metrics.ObserveRejectedPacket(d.role.String(), "harq_busy")
		return false
	}
	d.metrics.ObserveAllocation(d.role.String(), len(alloc.RbBitmap), alloc.Mcs)
	d.stats.TxPackets++
	d.log.Debug(ctx, "packet queued",
		logging.Int("rnti", int(pkt.Rnti)),
		logging.Int("carrier", int(cc.ID())),
		logging.Int("size", int(pkt.Size)))
	return true
}

func (d *netDevice) carrierFor(carrierID uint8) (*ComponentCarrier, bool) {
	cc, ok := d.bwpm.Carrier(carrierID)
	if !ok {
		d.log.Warn(context.Background(), "unknown carrier", logging.Int("carrier", int(carrierID)))
	}
	return cc, ok
}
