package observability

import (
	"fmt"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/signalsfoundry/nr-ran-simulator/internal/phy"
)

var _ phy.MetricsRecorder = (*PhyCollector)(nil)

// PhyCollector bundles Prometheus metrics for the spectrum PHYs and the
// configured spectrum topology. All methods are safe on a nil receiver.
type PhyCollector struct {
	gatherer prometheus.Gatherer

	StateTransitions *prometheus.CounterVec
	Transmissions    *prometheus.CounterVec
	TransportBlocks  *prometheus.CounterVec
	Sinr             *prometheus.HistogramVec
	HarqFeedback     *prometheus.CounterVec
	DroppedSignals   *prometheus.CounterVec
	ChannelBusy      *prometheus.CounterVec

	OperationBands      prometheus.Gauge
	ComponentCarriers   prometheus.Gauge
	AggregatedBandwidth prometheus.Gauge
}

// NewPhyCollector registers PHY metrics against the provided registerer,
// defaulting to the global Prometheus registry when nil.
func NewPhyCollector(reg prometheus.Registerer) (*PhyCollector, error) {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	gatherer := prometheus.DefaultGatherer
	if g, ok := reg.(prometheus.Gatherer); ok {
		gatherer = g
	}

	transitions, err := registerCounterVec(reg, prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "ran_phy_state_transitions_total",
		Help: "PHY state machine transitions, labeled by source and target state.",
	}, []string{"from", "to"}), "ran_phy_state_transitions_total")
	if err != nil {
		return nil, err
	}

	transmissions, err := registerCounterVec(reg, prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "ran_phy_transmissions_total",
		Help: "Transmission requests, labeled by frame kind and whether the PHY accepted them.",
	}, []string{"kind", "result"}), "ran_phy_transmissions_total")
	if err != nil {
		return nil, err
	}

	tbs, err := registerCounterVec(reg, prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "ran_phy_transport_blocks_total",
		Help: "Decoded transport blocks, labeled by direction and decode result.",
	}, []string{"direction", "result"}), "ran_phy_transport_blocks_total")
	if err != nil {
		return nil, err
	}

	sinr, err := registerHistogramVec(reg, prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "ran_phy_tb_sinr_db",
		Help:    "Average SINR over the allocated resource blocks of each transport block.",
		Buckets: prometheus.LinearBuckets(-10, 5, 10),
	}, []string{"direction"}), "ran_phy_tb_sinr_db")
	if err != nil {
		return nil, err
	}

	harq, err := registerCounterVec(reg, prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "ran_phy_harq_feedback_total",
		Help: "HARQ feedback generated by receivers, labeled by direction and status.",
	}, []string{"direction", "status"}), "ran_phy_harq_feedback_total")
	if err != nil {
		return nil, err
	}

	dropped, err := registerCounterVec(reg, prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "ran_phy_dropped_signals_total",
		Help: "Signals heard only as interference because of the receiver state.",
	}, []string{"state"}), "ran_phy_dropped_signals_total")
	if err != nil {
		return nil, err
	}

	busy, err := registerCounterVec(reg, prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "ran_phy_channel_occupancy_seconds_total",
		Help: "Simulated time PHYs spent in each occupied state.",
	}, []string{"state"}), "ran_phy_channel_occupancy_seconds_total")
	if err != nil {
		return nil, err
	}

	bands, err := registerGauge(reg, prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "ran_operation_bands",
		Help: "Number of configured operation bands.",
	}), "ran_operation_bands")
	if err != nil {
		return nil, err
	}
	carriers, err := registerGauge(reg, prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "ran_component_carriers",
		Help: "Number of configured component carriers across all bands.",
	}), "ran_component_carriers")
	if err != nil {
		return nil, err
	}
	aggregated, err := registerGauge(reg, prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "ran_aggregated_bandwidth_hz",
		Help: "Sum of the active bandwidth part bandwidths.",
	}), "ran_aggregated_bandwidth_hz")
	if err != nil {
		return nil, err
	}

	return &PhyCollector{
		gatherer:            gatherer,
		StateTransitions:    transitions,
		Transmissions:       transmissions,
		TransportBlocks:     tbs,
		Sinr:                sinr,
		HarqFeedback:        harq,
		DroppedSignals:      dropped,
		ChannelBusy:         busy,
		OperationBands:      bands,
		ComponentCarriers:   carriers,
		AggregatedBandwidth: aggregated,
	}, nil
}

// Handler exposes a ready-to-use /metrics handler.
func (c *PhyCollector) Handler() http.Handler {
	gatherer := prometheus.DefaultGatherer
	if c != nil && c.gatherer != nil {
		gatherer = c.gatherer
	}
	return promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{})
}

// SetTopology publishes the size of the spectrum configuration.
func (c *PhyCollector) SetTopology(bands, carriers int, aggregatedHz float64) {
	if c == nil {
		return
	}
	if c.OperationBands != nil {
		c.OperationBands.Set(float64(bands))
	}
	if c.ComponentCarriers != nil {
		c.ComponentCarriers.Set(float64(carriers))
	}
	if c.AggregatedBandwidth != nil {
		c.AggregatedBandwidth.Set(aggregatedHz)
	}
}

func (c *PhyCollector) ObserveStateTransition(from, to string) {
	if c == nil || c.StateTransitions == nil {
		return
	}
	c.StateTransitions.WithLabelValues(from, to).Inc()
}

func (c *PhyCollector) ObserveTransmission(kind string, accepted bool) {
	if c == nil || c.Transmissions == nil {
		return
	}
	c.Transmissions.WithLabelValues(kind, result(accepted, "accepted", "rejected")).Inc()
}

func (c *PhyCollector) ObserveTransportBlock(downlink, corrupted bool, sinrDb float64) {
	if c == nil {
		return
	}
	dir := Direction(downlink)
	if c.TransportBlocks != nil {
		c.TransportBlocks.WithLabelValues(dir, result(corrupted, "corrupted", "ok")).Inc()
	}
	if c.Sinr != nil {
		c.Sinr.WithLabelValues(dir).Observe(sinrDb)
	}
}

func (c *PhyCollector) ObserveHarqFeedback(downlink, ack bool) {
	if c == nil || c.HarqFeedback == nil {
		return
	}
	c.HarqFeedback.WithLabelValues(Direction(downlink), result(ack, "ack", "nack")).Inc()
}

func (c *PhyCollector) ObserveDroppedSignal(state string) {
	if c == nil || c.DroppedSignals == nil {
		return
	}
	c.DroppedSignals.WithLabelValues(state).Inc()
}

func (c *PhyCollector) ObserveChannelOccupancy(state string, d time.Duration) {
	if c == nil || c.ChannelBusy == nil || d <= 0 {
		return
	}
	c.ChannelBusy.WithLabelValues(state).Add(d.Seconds())
}

// Direction maps a link direction to its label value.
func Direction(downlink bool) string {
	if downlink {
		return "dl"
	}
	return "ul"
}

func result(ok bool, yes, no string) string {
	if ok {
		return yes
	}
	return no
}

func registerCounterVec(reg prometheus.Registerer, vec *prometheus.CounterVec, name string) (*prometheus.CounterVec, error) {
	if err := reg.Register(vec); err != nil {
		if are, ok := err.(prometheus.AlreadyRegisteredError); ok {
			if existing, ok := are.ExistingCollector.(*prometheus.CounterVec); ok {
				return existing, nil
			}
			return nil, fmt.Errorf("collector %s already registered with incompatible type", name)
		}
		return nil, err
	}
	return vec, nil
}

func registerHistogramVec(reg prometheus.Registerer, vec *prometheus.HistogramVec, name string) (*prometheus.HistogramVec, error) {
	if err := reg.Register(vec); err != nil {
		if are, ok := err.(prometheus.AlreadyRegisteredError); ok {
			if existing, ok := are.ExistingCollector.(*prometheus.HistogramVec); ok {
				return existing, nil
			}
			return nil, fmt.Errorf("collector %s already registered with incompatible type", name)
		}
		return nil, err
	}
	return vec, nil
}

func registerGauge(reg prometheus.Registerer, gauge prometheus.Gauge, name string) (prometheus.Gauge, error) {
	if err := reg.Register(gauge); err != nil {
		if are, ok := err.(prometheus.AlreadyRegisteredError); ok {
			if existing, ok := are.ExistingCollector.(prometheus.Gauge); ok {
				return existing, nil
			}
			return nil, fmt.Errorf("collector %s already registered with incompatible type", name)
		}
		return nil, err
	}
	return gauge, nil
}
