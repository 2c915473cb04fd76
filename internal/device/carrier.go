package device

import (
	"context"
	"time"

	"github.com/signalsfoundry/nr-ran-simulator/internal/logging"
	"github.com/signalsfoundry/nr-ran-simulator/internal/phy"
	"github.com/signalsfoundry/nr-ran-simulator/model"
	"github.com/signalsfoundry/nr-ran-simulator/timectrl"
)

// Slot layout, in symbols. The gNB sends control in symbol 0 and the UE in
// symbol 12; the data region is shared and the remaining symbols are
// guards. Even slots carry downlink data and odd slots uplink data, so
// both directions are announced in even slots.
const (
	dlCtrlSymbol    = 0
	ulCtrlSymbol    = 12
	dataStartSymbol = 2
	dataSymbols     = 9
	ctrlSymbols     = 1
)

// CarrierPhy drives one SpectrumPhy slot by slot. Each control frame
// carries the pending HARQ feedback and the DCI of at most one transport
// block, whose data frame follows in the data region.
type CarrierPhy struct {
	*phy.SpectrumPhy

	sched timectrl.EventScheduler
	epoch time.Time
	log   logging.Logger
	harq  *HarqEntity

	feedback  []phy.ControlMessage
	queue     []txJob
	slotEvent string

	onOutcome func(rnti uint16, o HarqOutcome)
}

// NewCarrierPhy wraps p. Slot n starts at epoch + n * slot duration.
func NewCarrierPhy(p *phy.SpectrumPhy, sched timectrl.EventScheduler, epoch time.Time, log logging.Logger) *CarrierPhy {
	if log == nil {
		log = logging.Noop()
	}
	return &CarrierPhy{
		SpectrumPhy: p,
		sched:       sched,
		epoch:       epoch,
		log:         log,
		harq:        NewHarqEntity(MaxHarqRetx),
	}
}

// Harq returns the transmit-side HARQ entity.
func (c *CarrierPhy) Harq() *HarqEntity { return c.harq }

// PendingFeedback returns the number of feedback messages not yet sent.
func (c *CarrierPhy) PendingFeedback() int { return len(c.feedback) }

// QueuedTransmissions returns the number of blocks waiting for a slot.
func (c *CarrierPhy) QueuedTransmissions() int { return len(c.queue) }

// EnqueueDlHarqFeedback stores feedback produced by a UE PHY; it goes out
// in the next uplink control frame.
func (c *CarrierPhy) EnqueueDlHarqFeedback(info phy.DlHarqInfo) {
	c.feedback = append(c.feedback, phy.ControlMessage{
		Type:   phy.DlHarqFeedbackMessage,
		Rnti:   info.Rnti,
		DlHarq: &info,
	})
	c.scheduleSlot()
}

// EnqueueUlHarqFeedback stores feedback produced by a gNB PHY; it goes out
// in the next downlink control frame.
func (c *CarrierPhy) EnqueueUlHarqFeedback(info phy.UlHarqInfo) {
	c.feedback = append(c.feedback, phy.ControlMessage{
		Type:   phy.UlHarqFeedbackMessage,
		Rnti:   info.Rnti,
		UlHarq: &info,
	})
	c.scheduleSlot()
}

// Transmit queues a new transport block. It returns false when no HARQ
// process is free for rnti. With HARQ disabled the process is freed as
// soon as the data frame is on air.
func (c *CarrierPhy) Transmit(rnti uint16, packets []*phy.Packet, tb phy.ExpectedTb) bool {
	tb.IsDownlink = c.isGnb()
	tb.SymStart = dataStartSymbol
	tb.NumSym = dataSymbols
	job, ok := c.harq.Start(rnti, packets, tb)
	if !ok {
		c.log.Warn(context.Background(), "no free harq process", logging.Int("rnti", int(rnti)))
		return false
	}
	c.queue = append(c.queue, job)
	c.scheduleSlot()
	return true
}

// handleFeedback applies feedback received from the peer and requeues the
// block when a retransmission is due.
func (c *CarrierPhy) handleFeedback(rnti uint16, process uint8, status phy.HarqStatus) HarqOutcome {
	job, outcome := c.harq.OnFeedback(rnti, process, status)
	switch outcome {
	case HarqRetransmit:
		c.queue = append(c.queue, job)
		c.scheduleSlot()
	case HarqDropped:
		c.log.Info(context.Background(), "transport block dropped after max retransmissions",
			logging.Int("rnti", int(rnti)),
			logging.Int("harq_process", int(process)))
	}
	if c.onOutcome != nil {
		c.onOutcome(rnti, outcome)
	}
	return outcome
}

func (c *CarrierPhy) isGnb() bool { return c.Config().Role == model.GnbRole }

func (c *CarrierPhy) ctrlOffset() time.Duration {
	if c.isGnb() {
		return dlCtrlSymbol * c.Bwp().SymbolDuration()
	}
	return ulCtrlSymbol * c.Bwp().SymbolDuration()
}

// dataOffset is the time from this side's control frame to its data frame.
func (c *CarrierPhy) dataOffset() time.Duration {
	d := dataStartSymbol*c.Bwp().SymbolDuration() - c.ctrlOffset()
	if d <= 0 {
		d += c.Bwp().SlotDuration()
	}
	return d
}

// nextCtrlTime returns the first control occasion at or after now.
func (c *CarrierPhy) nextCtrlTime() time.Time {
	slot := c.Bwp().SlotDuration()
	elapsed := c.sched.Now().Sub(c.epoch) - c.ctrlOffset()
	var n time.Duration
	if elapsed > 0 {
		n = (elapsed + slot - 1) / slot
	}
	return c.epoch.Add(n*slot + c.ctrlOffset())
}

func (c *CarrierPhy) slotIndex(t time.Time) int64 {
	return int64(t.Sub(c.epoch) / c.Bwp().SlotDuration())
}

func (c *CarrierPhy) scheduleSlot() {
	if c.slotEvent != "" && c.sched.IsPending(c.slotEvent) {
		return
	}
	c.slotEvent = c.sched.Schedule(c.nextCtrlTime(), c.runSlot)
}

func (c *CarrierPhy) retryNextSlot() {
	c.slotEvent = c.sched.Schedule(c.sched.Now().Add(c.Bwp().SlotDuration()), c.runSlot)
}

func (c *CarrierPhy) runSlot() {
	c.slotEvent = ""
	if len(c.feedback) == 0 && len(c.queue) == 0 {
		return
	}

	now := c.sched.Now()
	slot := c.slotIndex(now)
	announce := slot%2 == 0 && len(c.queue) > 0

	msgs := append([]phy.ControlMessage(nil), c.feedback...)
	if announce {
		tb := c.queue[0].tb
		msgs = append(msgs, phy.ControlMessage{Type: phy.DciMessage, Rnti: c.queue[0].rnti, Dci: &tb})
	}
	if len(msgs) == 0 {
		c.retryNextSlot()
		return
	}

	d := ctrlSymbols * c.Bwp().SymbolDuration()
	var ok bool
	if c.isGnb() {
		ok = c.StartTxDlControlFrames(msgs, d)
	} else {
		ok = c.StartTxUlControlFrames(msgs, d)
	}
	if !ok {
		c.retryNextSlot()
		return
	}
	c.feedback = nil

	if announce {
		j := c.queue[0]
		c.queue = c.queue[1:]
		dataAt := now.Add(c.dataOffset())
		c.sched.Schedule(dataAt, func() { c.sendData(j, uint8(c.slotIndex(dataAt))) })
	}
	if len(c.queue) > 0 {
		c.retryNextSlot()
	}
}

func (c *CarrierPhy) sendData(j txJob, slot uint8) {
	d := dataSymbols * c.Bwp().SymbolDuration()
	if c.StartTxDataFrames(j.packets, nil, d, slot) {
		if !c.Config().HarqEnabled {
			c.harq.Release(j.rnti, j.tb.HarqProcessID)
		}
		return
	}
	// Announce again; the peer's registration is simply overwritten.
	c.log.Debug(context.Background(), "data frame deferred",
		logging.Int("rnti", int(j.rnti)),
		logging.String("state", c.State().String()))
	c.queue = append([]txJob{j}, c.queue...)
	c.scheduleSlot()
}
