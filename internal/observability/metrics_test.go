package observability

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	dto "github.com/prometheus/client_model/go"
)

func TestPhyCollectorRecordsTransportBlocks(t *testing.T) {
	reg := prometheus.NewRegistry()
	c, err := NewPhyCollector(reg)
	if err != nil {
		t.Fatalf("NewPhyCollector: %v", err)
	}

	c.ObserveTransportBlock(true, false, 12.5)
	c.ObserveTransportBlock(true, true, -3)
	c.ObserveTransportBlock(false, false, 20)
	c.ObserveHarqFeedback(true, true)
	c.ObserveHarqFeedback(true, false)

	if got := testutil.ToFloat64(c.TransportBlocks.WithLabelValues("dl", "ok")); got != 1 {
		t.Fatalf("dl ok blocks = %v, want 1", got)
	}
	if got := testutil.ToFloat64(c.TransportBlocks.WithLabelValues("dl", "corrupted")); got != 1 {
		t.Fatalf("dl corrupted blocks = %v, want 1", got)
	}
	if got := testutil.ToFloat64(c.HarqFeedback.WithLabelValues("dl", "nack")); got != 1 {
		t.Fatalf("dl nack = %v, want 1", got)
	}
	if count := histogramSampleCount(t, reg, "ran_phy_tb_sinr_db", map[string]string{"direction": "dl"}); count != 2 {
		t.Fatalf("dl sinr sample_count = %d, want 2", count)
	}
}

func TestPhyCollectorStateAndOccupancy(t *testing.T) {
	reg := prometheus.NewRegistry()
	c, err := NewPhyCollector(reg)
	if err != nil {
		t.Fatalf("NewPhyCollector: %v", err)
	}

	c.ObserveStateTransition("IDLE", "TX")
	c.ObserveStateTransition("IDLE", "TX")
	c.ObserveChannelOccupancy("TX", 250*time.Microsecond)
	c.ObserveChannelOccupancy("TX", 250*time.Microsecond)
	c.ObserveChannelOccupancy("TX", -time.Second)
	c.ObserveTransmission("data", false)
	c.ObserveDroppedSignal("RX_DL_CTRL")

	if got := testutil.ToFloat64(c.StateTransitions.WithLabelValues("IDLE", "TX")); got != 2 {
		t.Fatalf("transitions = %v, want 2", got)
	}
	if got := testutil.ToFloat64(c.ChannelBusy.WithLabelValues("TX")); got < 0.000499 || got > 0.000501 {
		t.Fatalf("occupancy = %v, want 0.0005", got)
	}
	if got := testutil.ToFloat64(c.Transmissions.WithLabelValues("data", "rejected")); got != 1 {
		t.Fatalf("rejected transmissions = %v, want 1", got)
	}
	if got := testutil.ToFloat64(c.DroppedSignals.WithLabelValues("RX_DL_CTRL")); got != 1 {
		t.Fatalf("dropped = %v, want 1", got)
	}
}

func TestCollectorsTolerateReRegistration(t *testing.T) {
	reg := prometheus.NewRegistry()
	first, err := NewPhyCollector(reg)
	if err != nil {
		t.Fatalf("NewPhyCollector: %v", err)
	}
	second, err := NewPhyCollector(reg)
	if err != nil {
		t.Fatalf("second NewPhyCollector: %v", err)
	}
	first.ObserveDroppedSignal("TX")
	if got := testutil.ToFloat64(second.DroppedSignals.WithLabelValues("TX")); got != 1 {
		t.Fatalf("shared counter = %v, want 1", got)
	}

	if _, err := NewMacCollector(reg); err != nil {
		t.Fatalf("NewMacCollector: %v", err)
	}
	if _, err := NewMacCollector(reg); err != nil {
		t.Fatalf("second NewMacCollector: %v", err)
	}
}

func TestNilCollectorsAreSafe(t *testing.T) {
	var p *PhyCollector
	p.ObserveStateTransition("IDLE", "TX")
	p.ObserveTransportBlock(true, true, 0)
	p.SetTopology(1, 2, 3)

	var m *MacCollector
	m.ObserveHarqOutcome("gnb", "acked")
	m.SetEventLoop(3, 1)
	if m.Gatherer() != nil {
		t.Fatalf("nil collector returned a gatherer")
	}
}

func TestMacCollector(t *testing.T) {
	reg := prometheus.NewRegistry()
	c, err := NewMacCollector(reg)
	if err != nil {
		t.Fatalf("NewMacCollector: %v", err)
	}

	c.ObserveHarqOutcome("gnb", "acked")
	c.ObserveHarqOutcome("gnb", "retransmit")
	c.ObserveHarqOutcome("gnb", "retransmit")
	c.ObserveAllocation("gnb", 66, 10)
	c.ObserveRejectedPacket("ue", "protocol")
	c.SetEventLoop(-1, 0.4)

	if got := testutil.ToFloat64(c.HarqOutcomes.WithLabelValues("gnb", "retransmit")); got != 2 {
		t.Fatalf("retransmit outcomes = %v, want 2", got)
	}
	if got := testutil.ToFloat64(c.Mcs.WithLabelValues("gnb")); got != 10 {
		t.Fatalf("mcs = %v, want 10", got)
	}
	if got := testutil.ToFloat64(c.PendingEvents); got != 0 {
		t.Fatalf("pending = %v, want clamped 0", got)
	}
	if got := testutil.ToFloat64(c.SimulatedTime); got != 0.4 {
		t.Fatalf("sim time = %v, want 0.4", got)
	}
	if count := histogramSampleCount(t, c.Gatherer(), "ran_mac_allocated_rbs", map[string]string{"role": "gnb"}); count != 1 {
		t.Fatalf("allocated rbs sample_count = %d, want 1", count)
	}
}

func TestMetricsHandlerExposesTopologyGauges(t *testing.T) {
	reg := prometheus.NewRegistry()
	c, err := NewPhyCollector(reg)
	if err != nil {
		t.Fatalf("NewPhyCollector: %v", err)
	}
	c.SetTopology(1, 2, 200e6)
	c.ObserveHarqFeedback(false, true)

	req := httptest.NewRequest(http.MethodGet, "/metrics", nil)
	rr := httptest.NewRecorder()
	c.Handler().ServeHTTP(rr, req)

	if rr.Code != http.StatusOK {
		t.Fatalf("/metrics status = %d, want 200", rr.Code)
	}
	body := rr.Body.String()
	for _, metric := range []string{
		"ran_operation_bands 1",
		"ran_component_carriers 2",
		"ran_aggregated_bandwidth_hz 2e+08",
		`ran_phy_harq_feedback_total{direction="ul",status="ack"} 1`,
	} {
		if !strings.Contains(body, metric) {
			t.Fatalf("expected %q in /metrics output:\n%s", metric, body)
		}
	}
}

func TestTracingDisabledStillProducesSpans(t *testing.T) {
	shutdown, err := InitTracing(context.Background(), TracingConfig{Enabled: false}, nil)
	if err != nil {
		t.Fatalf("InitTracing: %v", err)
	}
	defer ShutdownWithTimeout(context.Background(), shutdown, nil)

	ctx, span := StartSpan(context.Background(), "simulation.run")
	if ctx == nil || span == nil {
		t.Fatalf("StartSpan returned nil")
	}
	span.End()
}

func TestTracingRejectsUnknownExporter(t *testing.T) {
	_, err := InitTracing(context.Background(), TracingConfig{Enabled: true, Exporter: "zipkin", SampleRatio: 1}, nil)
	if err == nil {
		t.Fatalf("expected error for unsupported exporter")
	}
}

func TestTracingConfigFromEnv(t *testing.T) {
	t.Setenv("RAN_TRACING_ENABLED", "true")
	t.Setenv("RAN_TRACING_SAMPLE_RATIO", "0.25")
	t.Setenv("RAN_TRACING_SERVICE_NAME", "")

	cfg := TracingConfigFromEnv()
	if !cfg.Enabled || cfg.SampleRatio != 0.25 || cfg.ServiceName != "nr-ran-simulator" || cfg.Exporter != "stdout" {
		t.Fatalf("unexpected config: %+v", cfg)
	}
}

func histogramSampleCount(t *testing.T, gatherer prometheus.Gatherer, name string, labels map[string]string) uint64 {
	t.Helper()

	metrics, err := gatherer.Gather()
	if err != nil {
		t.Fatalf("gather metrics: %v", err)
	}
	for _, mf := range metrics {
		if mf.GetName() != name {
			continue
		}
		for _, m := range mf.Metric {
			if matchLabels(m.GetLabel(), labels) && m.GetHistogram() != nil {
				return m.GetHistogram().GetSampleCount()
			}
		}
	}
	return 0
}

func matchLabels(got []*dto.LabelPair, want map[string]string) bool {
	if len(got) < len(want) {
		return false
	}
	matched := 0
	for _, lp := range got {
		if val, ok := want[lp.GetName()]; ok && val == lp.GetValue() {
			matched++
		}
	}
	return matched == len(want)
}
