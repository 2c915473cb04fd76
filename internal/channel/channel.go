package channel

import (
	"context"
	"sync"
	"time"

	"github.com/signalsfoundry/nr-ran-simulator/core"
	"github.com/signalsfoundry/nr-ran-simulator/internal/logging"
	"github.com/signalsfoundry/nr-ran-simulator/internal/phy"
	"github.com/signalsfoundry/nr-ran-simulator/timectrl"
)

// Receiver is a PHY attached to a SpectrumChannel.
type Receiver interface {
	ID() string
	Position() core.Vec3
	AntennaGainDBi() float64
	StartRx(params *phy.SignalParams) error
}

var _ Receiver = (*phy.SpectrumPhy)(nil)

// SpectrumChannel is the shared medium of one bandwidth part. Every
// transmission is delivered to all attached receivers except the sender,
// attenuated by the propagation loss model and delayed by the flight time.
// Receivers are attached during setup; delivery only reads the list.
type SpectrumChannel struct {
	mu        sync.RWMutex
	receivers []Receiver

	name        string
	frequencyHz float64
	sched       timectrl.EventScheduler
	loss        PropagationLossModel
	delay       bool
	log         logging.Logger
}

// Option customises a SpectrumChannel.
type Option func(*SpectrumChannel)

// WithPropagationLoss sets the loss model. Without one the channel is
// lossless.
func WithPropagationLoss(m PropagationLossModel) Option {
	return func(c *SpectrumChannel) { c.loss = m }
}

// WithPropagationDelay toggles the flight-time delay.
func WithPropagationDelay(enabled bool) Option {
	return func(c *SpectrumChannel) { c.delay = enabled }
}

// WithLogger sets the logger.
func WithLogger(l logging.Logger) Option {
	return func(c *SpectrumChannel) {
		if l != nil {
			c.log = l
		}
	}
}

// NewSpectrumChannel creates a channel centred on frequencyHz.
func NewSpectrumChannel(name string, frequencyHz float64, sched timectrl.EventScheduler, opts ...Option) *SpectrumChannel {
	c := &SpectrumChannel{
		name:        name,
		frequencyHz: frequencyHz,
		sched:       sched,
		delay:       true,
		log:         logging.Noop(),
	}
	for _, opt := range opts {
		opt(c)
	}
	c.log = c.log.With(logging.String("channel", name))
	return c
}

// Name returns the channel name.
func (c *SpectrumChannel) Name() string { return c.name }

// FrequencyHz returns the centre frequency used for loss computation.
func (c *SpectrumChannel) FrequencyHz() float64 { return c.frequencyHz }

// LossModel returns the configured propagation loss model, if any.
func (c *SpectrumChannel) LossModel() PropagationLossModel { return c.loss }

// AddRx attaches a receiver. Attaching the same id twice is a no-op.
func (c *SpectrumChannel) AddRx(r Receiver) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, existing := range c.receivers {
		if existing.ID() == r.ID() {
			return
		}
	}
	c.receivers = append(c.receivers, r)
}

// NumRx returns the number of attached receivers.
func (c *SpectrumChannel) NumRx() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.receivers)
}

// StartTx implements phy.Channel.
func (c *SpectrumChannel) StartTx(params *phy.SignalParams) {
	c.mu.RLock()
	receivers := append([]Receiver(nil), c.receivers...)
	c.mu.RUnlock()

	for _, r := range receivers {
		if r.ID() == params.SenderID {
			continue
		}
		rx := params.Clone()
		rx.RxPsd = c.rxPsd(params, r)

		target := r
		deliver := func() {
			if err := target.StartRx(rx); err != nil {
				c.log.Warn(context.Background(), "signal rejected by receiver",
					logging.String("receiver", target.ID()),
					logging.String("sender", rx.SenderID),
					logging.Err(err))
			}
		}

		var d time.Duration
		if c.delay {
			d = time.Duration(PropagationDelay(params.TxPosition, r.Position()) * float64(time.Second))
		}
		c.sched.ScheduleAfter(d, deliver)
	}
}

// RxPowerGainDb returns the net gain in dB from a transmitter at tx with
// gain txGain to receiver r.
func (c *SpectrumChannel) RxPowerGainDb(tx core.Vec3, txGain float64, r Receiver) float64 {
	g := txGain + r.AntennaGainDBi()
	if c.loss != nil {
		g -= c.loss.LossDb(tx, r.Position(), c.frequencyHz)
	}
	return g
}

func (c *SpectrumChannel) rxPsd(params *phy.SignalParams, r Receiver) []float64 {
	scale := core.DbToLinear(c.RxPowerGainDb(params.TxPosition, params.TxGainDBi, r))
	out := make([]float64, len(params.TxPsd))
	for i, p := range params.TxPsd {
		out[i] = p * scale
	}
	return out
}

// TransmitForeign injects non-NR energy, for example from a coexisting
// radio technology. Receivers only ever see it as interference.
func (c *SpectrumChannel) TransmitForeign(senderID string, pos core.Vec3, psd []float64, d time.Duration) {
	c.StartTx(&phy.SignalParams{
		Kind:       phy.ForeignSignal,
		SenderID:   senderID,
		TxPosition: pos,
		TxPsd:      append([]float64(nil), psd...),
		Duration:   d,
	})
}
