package observability

import (
	"fmt"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/signalsfoundry/nr-ran-simulator/internal/device"
)

var _ device.MacMetricsRecorder = (*MacCollector)(nil)

// MacCollector exposes per-device MAC and event loop metrics.
type MacCollector struct {
	gatherer prometheus.Gatherer

	HarqOutcomes    *prometheus.CounterVec
	AllocatedRbs    *prometheus.HistogramVec
	Mcs             *prometheus.GaugeVec
	RejectedPackets *prometheus.CounterVec
	PendingEvents   prometheus.Gauge
	SimulatedTime   prometheus.Gauge
}

// NewMacCollector registers MAC metrics against the provided registerer.
func NewMacCollector(reg prometheus.Registerer) (*MacCollector, error) {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	gatherer := prometheus.DefaultGatherer
	if g, ok := reg.(prometheus.Gatherer); ok {
		gatherer = g
	}

	outcomes, err := registerCounterVec(reg, prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "ran_mac_harq_outcomes_total",
		Help: "HARQ process outcomes at the transmitter, labeled by device role and outcome.",
	}, []string{"role", "outcome"}), "ran_mac_harq_outcomes_total")
	if err != nil {
		return nil, err
	}

	rbs, err := registerHistogramVec(reg, prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "ran_mac_allocated_rbs",
		Help:    "Resource blocks allocated per new transport block.",
		Buckets: prometheus.ExponentialBuckets(4, 2, 8),
	}, []string{"role"}), "ran_mac_allocated_rbs")
	if err != nil {
		return nil, err
	}

	mcs, err := registerGaugeVec(reg, prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Name: "ran_mac_last_mcs",
		Help: "MCS of the most recent allocation.",
	}, []string{"role"}), "ran_mac_last_mcs")
	if err != nil {
		return nil, err
	}

	rejected, err := registerCounterVec(reg, prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "ran_mac_rejected_packets_total",
		Help: "Packets refused by a device, labeled by reason.",
	}, []string{"role", "reason"}), "ran_mac_rejected_packets_total")
	if err != nil {
		return nil, err
	}

	pending, err := registerGauge(reg, prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "ran_sim_pending_events",
		Help: "Events waiting in the simulation scheduler.",
	}), "ran_sim_pending_events")
	if err != nil {
		return nil, err
	}

	simTime, err := registerGauge(reg, prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "ran_sim_time_seconds",
		Help: "Simulated time elapsed since the epoch.",
	}), "ran_sim_time_seconds")
	if err != nil {
		return nil, err
	}

	return &MacCollector{
		gatherer:        gatherer,
		HarqOutcomes:    outcomes,
		AllocatedRbs:    rbs,
		Mcs:             mcs,
		RejectedPackets: rejected,
		PendingEvents:   pending,
		SimulatedTime:   simTime,
	}, nil
}

// Gatherer returns the Prometheus gatherer associated with the collector.
func (c *MacCollector) Gatherer() prometheus.Gatherer {
	if c == nil {
		return nil
	}
	return c.gatherer
}

func (c *MacCollector) ObserveHarqOutcome(role, outcome string) {
	if c == nil || c.HarqOutcomes == nil {
		return
	}
	c.HarqOutcomes.WithLabelValues(role, outcome).Inc()
}

func (c *MacCollector) ObserveAllocation(role string, rbs int, mcs uint8) {
	if c == nil {
		return
	}
	if c.AllocatedRbs != nil {
		c.AllocatedRbs.WithLabelValues(role).Observe(float64(rbs))
	}
	if c.Mcs != nil {
		c.Mcs.WithLabelValues(role).Set(float64(mcs))
	}
}

func (c *MacCollector) ObserveRejectedPacket(role, reason string) {
	if c == nil || c.RejectedPackets == nil {
		return
	}
	c.RejectedPackets.WithLabelValues(role, reason).Inc()
}

// SetEventLoop updates the scheduler gauges. Negative values are clamped.
func (c *MacCollector) SetEventLoop(pending int, elapsedSeconds float64) {
	if c == nil {
		return
	}
	if pending < 0 {
		pending = 0
	}
	if elapsedSeconds < 0 {
		elapsedSeconds = 0
	}
	if c.PendingEvents != nil {
		c.PendingEvents.Set(float64(pending))
	}
	if c.SimulatedTime != nil {
		c.SimulatedTime.Set(elapsedSeconds)
	}
}

func registerGaugeVec(reg prometheus.Registerer, vec *prometheus.GaugeVec, name string) (*prometheus.GaugeVec, error) {
	if err := reg.Register(vec); err != nil {
		if are, ok := err.(prometheus.AlreadyRegisteredError); ok {
			if existing, ok := are.ExistingCollector.(*prometheus.GaugeVec); ok {
				return existing, nil
			}
			return nil, fmt.Errorf("collector %s already registered with incompatible type", name)
		}
		return nil, err
	}
	return vec, nil
}
