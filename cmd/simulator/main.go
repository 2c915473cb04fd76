package main

import (
	"context"
	"flag"
	"fmt"
	"io"
	"net/http"
	"os"
	"os/signal"
	"sort"
	"syscall"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/prometheus/client_golang/prometheus"
	"go.opentelemetry.io/otel/attribute"

	"github.com/signalsfoundry/nr-ran-simulator/core"
	"github.com/signalsfoundry/nr-ran-simulator/internal/config"
	"github.com/signalsfoundry/nr-ran-simulator/internal/device"
	"github.com/signalsfoundry/nr-ran-simulator/internal/logging"
	"github.com/signalsfoundry/nr-ran-simulator/internal/nrhelper"
	"github.com/signalsfoundry/nr-ran-simulator/internal/observability"
	"github.com/signalsfoundry/nr-ran-simulator/internal/phy"
	"github.com/signalsfoundry/nr-ran-simulator/internal/storage"
	"github.com/signalsfoundry/nr-ran-simulator/timectrl"
)

// repeatSpacing separates repeated packets so each lands in a new slot at
// every numerology.
const repeatSpacing = time.Millisecond

func main() {
	configPath := flag.String("config", "", "path to a YAML scenario; defaults to the two bandwidth part FDM scenario")
	duration := flag.Duration("duration", 0, "simulated duration, overrides the scenario when positive")
	metricsAddr := flag.String("metrics-addr", "", "HTTP address for Prometheus /metrics, disabled when empty")
	traceDB := flag.String("trace-db", "", "SQLite file receiving per transport block traces")
	realtime := flag.Bool("realtime", false, "pace simulated time against the wall clock")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "invalid configuration: %v\n", err)
		os.Exit(2)
	}
	if *duration > 0 {
		cfg.Simulation.Duration = config.Duration(*duration)
	}
	if *metricsAddr != "" {
		cfg.Metrics.Addr = *metricsAddr
	}
	if *traceDB != "" {
		cfg.Storage.TraceDB = *traceDB
	}
	if *realtime {
		cfg.Simulation.Realtime = true
	}
	if err := cfg.Validate(); err != nil {
		fmt.Fprintf(os.Stderr, "invalid configuration: %v\n", err)
		os.Exit(2)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	ctx, log := logging.WithRunLogger(ctx, logging.New(cfg.LoggerConfig()))

	shutdown, err := observability.InitTracing(ctx, cfg.TracerConfig(), log)
	if err != nil {
		log.Error(ctx, "failed to initialise tracing", logging.Err(err))
		os.Exit(1)
	}
	defer observability.ShutdownWithTimeout(context.Background(), shutdown, log)

	if _, err := run(ctx, cfg, log, os.Stdout); err != nil {
		log.Error(ctx, "simulation failed", logging.Err(err))
		if core.IsConfigError(err) {
			os.Exit(2)
		}
		os.Exit(1)
	}
}

// summary is what a run reports once simulated time runs out.
type summary struct {
	SimulatedTime       time.Duration
	AggregatedBandwidth float64
	Carriers            int
	DlDelivered         map[uint8]int
	UlDelivered         map[uint8]int
	Gnb                 device.Stats
	Ue                  device.Stats
	StoredTraces        int
}

func run(ctx context.Context, cfg *config.Config, log logging.Logger, out io.Writer) (*summary, error) {
	ctx, span := observability.StartSpan(ctx, "simulation.run",
		attribute.String("duration", cfg.Simulation.Duration.Std().String()),
		attribute.Bool("realtime", cfg.Simulation.Realtime))
	defer span.End()

	topo, err := config.BuildTopology(cfg.Spectrum)
	if err != nil {
		return nil, err
	}

	reg := prometheus.NewRegistry()
	phyMetrics, err := observability.NewPhyCollector(reg)
	if err != nil {
		return nil, err
	}
	macMetrics, err := observability.NewMacCollector(reg)
	if err != nil {
		return nil, err
	}
	phyMetrics.SetTopology(len(topo.Bands()), topo.NumCarriers(), topo.AggregatedBandwidth())

	if metricsSrv := serveMetrics(cfg.Metrics.Addr, phyMetrics, log); metricsSrv != nil {
		defer func() {
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			_ = metricsSrv.Shutdown(shutdownCtx)
		}()
	}

	epoch := time.Unix(0, 0).UTC()
	sched := timectrl.NewScheduler(epoch)
	opts := []nrhelper.Option{
		nrhelper.WithConfig(cfg.Helper()),
		nrhelper.WithLogger(log),
		nrhelper.WithMetrics(phyMetrics),
		nrhelper.WithMacMetrics(macMetrics),
	}

	var store *storage.TraceStore
	if cfg.Storage.TraceDB != "" {
		store, err = storage.NewTraceStore(cfg.Storage.TraceDB, log)
		if err != nil {
			return nil, err
		}
		defer func() { _ = store.Close() }()
		opts = append(opts, nrhelper.WithRxTraceSink(store))
	}

	h := nrhelper.New(sched, opts...)
	if err := h.SetSchedulerType(cfg.Radio.Scheduler); err != nil {
		return nil, err
	}
	if err := h.AddTopology(topo); err != nil {
		return nil, err
	}
	if err := h.Initialize(ctx); err != nil {
		return nil, err
	}
	for _, pos := range cfg.Nodes.Gnbs {
		if _, err := h.InstallGnbDevice(ctx, pos.Vec3()); err != nil {
			return nil, err
		}
	}
	for _, pos := range cfg.Nodes.Ues {
		ue, err := h.InstallUeDevice(ctx, pos.Vec3())
		if err != nil {
			return nil, err
		}
		if err := h.AttachToClosestGnb(ctx, ue, h.Gnbs()); err != nil {
			return nil, err
		}
	}

	sum := &summary{
		AggregatedBandwidth: topo.AggregatedBandwidth(),
		Carriers:            topo.NumCarriers(),
		DlDelivered:         make(map[uint8]int),
		UlDelivered:         make(map[uint8]int),
	}
	for _, ue := range h.Ues() {
		ue.SetReceiveCallback(func(cc uint8, _ *phy.Packet) { sum.DlDelivered[cc]++ })
	}
	for _, gnb := range h.Gnbs() {
		gnb.SetReceiveCallback(func(cc uint8, _ *phy.Packet) { sum.UlDelivered[cc]++ })
	}
	scheduleTraffic(sched, epoch, cfg.Simulation, h.Ues())

	mode := timectrl.Accelerated
	if cfg.Simulation.Realtime {
		mode = timectrl.RealTime
	}
	tc := timectrl.NewTimeController(epoch, cfg.Simulation.Tick.Std(), mode)
	tc.Attach(sched)
	tc.AddListener(func(t time.Time) {
		macMetrics.SetEventLoop(sched.Pending(), t.Sub(epoch).Seconds())
	})

	log.Info(ctx, "starting simulation",
		logging.Duration("duration", cfg.Simulation.Duration.Std()),
		logging.Int("gnbs", len(h.Gnbs())),
		logging.Int("ues", len(h.Ues())),
		logging.String("aggregated_bandwidth", humanize.SIWithDigits(sum.AggregatedBandwidth, 1, "Hz")))
	<-tc.Start(cfg.Simulation.Duration.Std(), ctx.Done())

	sum.SimulatedTime = tc.Now().Sub(epoch)
	for _, g := range h.Gnbs() {
		addStats(&sum.Gnb, g.Stats())
	}
	for _, u := range h.Ues() {
		addStats(&sum.Ue, u.Stats())
	}
	if store != nil {
		if sum.StoredTraces, err = store.Count(ctx); err != nil {
			return nil, err
		}
	}

	if ctx.Err() != nil {
		log.Warn(ctx, "simulation interrupted", logging.Duration("simulated", sum.SimulatedTime))
	}
	writeSummary(out, sum)
	return sum, nil
}

// scheduleTraffic queues Packets rounds of one downlink packet per UE and
// carrier, plus the uplink mirror when enabled.
func scheduleTraffic(sched *timectrl.Scheduler, epoch time.Time, sim config.SimulationConfig, ues []*device.UeDevice) {
	for i := 0; i < sim.Packets; i++ {
		at := epoch.Add(sim.PacketTime.Std() + time.Duration(i)*repeatSpacing)
		sched.Schedule(at, func() {
			for _, ue := range ues {
				gnb := ue.ServingGnb()
				if gnb == nil {
					continue
				}
				for _, cc := range gnb.Carriers() {
					gnb.SendOnCarrier(&phy.Packet{Rnti: ue.Rnti(), Size: sim.PacketSize}, device.Ipv4ProtocolNumber, cc.ID())
					if sim.Uplink {
						ue.SendOnCarrier(&phy.Packet{Size: sim.PacketSize}, device.Ipv4ProtocolNumber, cc.ID())
					}
				}
			}
		})
	}
}

func addStats(dst *device.Stats, s device.Stats) {
	dst.TxPackets += s.TxPackets
	dst.RxPackets += s.RxPackets
	dst.RxBytes += s.RxBytes
	dst.Rejected += s.Rejected
	dst.HarqAcks += s.HarqAcks
	dst.Retransmissions += s.Retransmissions
	dst.HarqDrops += s.HarqDrops
}

func writeSummary(w io.Writer, s *summary) {
	fmt.Fprintf(w, "Simulated %s over %d carriers, aggregated bandwidth %s\n",
		s.SimulatedTime, s.Carriers, humanize.SIWithDigits(s.AggregatedBandwidth, 1, "Hz"))
	seen := make(map[uint8]bool)
	var carriers []int
	for _, m := range []map[uint8]int{s.DlDelivered, s.UlDelivered} {
		for cc := range m {
			if !seen[cc] {
				seen[cc] = true
				carriers = append(carriers, int(cc))
			}
		}
	}
	sort.Ints(carriers)
	for _, cc := range carriers {
		fmt.Fprintf(w, "  carrier %d: %s downlink, %s uplink packets delivered\n", cc,
			humanize.Comma(int64(s.DlDelivered[uint8(cc)])), humanize.Comma(int64(s.UlDelivered[uint8(cc)])))
	}
	fmt.Fprintf(w, "  gnb: %s sent, %s received (%s), harq %d acked / %d retransmitted / %d dropped\n",
		humanize.Comma(int64(s.Gnb.TxPackets)), humanize.Comma(int64(s.Gnb.RxPackets)),
		humanize.Bytes(s.Gnb.RxBytes), s.Gnb.HarqAcks, s.Gnb.Retransmissions, s.Gnb.HarqDrops)
	fmt.Fprintf(w, "  ue: %s sent, %s received (%s), harq %d acked / %d retransmitted / %d dropped\n",
		humanize.Comma(int64(s.Ue.TxPackets)), humanize.Comma(int64(s.Ue.RxPackets)),
		humanize.Bytes(s.Ue.RxBytes), s.Ue.HarqAcks, s.Ue.Retransmissions, s.Ue.HarqDrops)
	if s.StoredTraces > 0 {
		fmt.Fprintf(w, "  %s rx traces stored\n", humanize.Comma(int64(s.StoredTraces)))
	}
}

func serveMetrics(addr string, collector *observability.PhyCollector, log logging.Logger) *http.Server {
	if addr == "" || collector == nil {
		return nil
	}
	mux := http.NewServeMux()
	mux.Handle("/metrics", collector.Handler())

	srv := &http.Server{
		Addr:              addr,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Warn(context.Background(), "metrics server exited", logging.Err(err))
		}
	}()

	log.Info(context.Background(), "serving Prometheus metrics", logging.String("addr", addr))
	return srv
}
