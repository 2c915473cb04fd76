package nrhelper

import (
	"context"
	"errors"
	"fmt"
	"math"
	"sort"
	"sync"
	"time"

	"github.com/dustin/go-humanize"

	"github.com/signalsfoundry/nr-ran-simulator/core"
	"github.com/signalsfoundry/nr-ran-simulator/internal/channel"
	"github.com/signalsfoundry/nr-ran-simulator/internal/device"
	"github.com/signalsfoundry/nr-ran-simulator/internal/logging"
	"github.com/signalsfoundry/nr-ran-simulator/internal/phy"
	"github.com/signalsfoundry/nr-ran-simulator/model"
	"github.com/signalsfoundry/nr-ran-simulator/timectrl"
)

var (
	ErrNotInitialized     = errors.New("helper not initialized")
	ErrAlreadyInitialized = errors.New("helper already initialized")
	ErrChannelMismatch    = errors.New("channel and propagation loss model must be provided together")
)

// BandwidthPartRepresentation is everything the helper keeps for one BWP:
// the partition data plus the shared channel its PHYs attach to.
type BandwidthPartRepresentation struct {
	CarrierID   uint8
	Bwp         model.BandwidthPartElement
	Primary     bool
	Channel     *channel.SpectrumChannel
	Propagation channel.PropagationLossModel
}

// Config holds the radio parameters applied to every installed device.
type Config struct {
	GnbTxPowerDBm     float64
	UeTxPowerDBm      float64
	GnbAntennaGainDBi float64
	UeAntennaGainDBi  float64
	NoiseFigureDB     float64

	PropagationModel string
	PropagationDelay bool

	Mcs                    uint8
	CcaThresholdDBm        float64
	HarqEnabled            bool
	DataErrorModelEnabled  bool
	EnableAllInterferences bool
	Seed                   int64
}

// DefaultConfig returns mmWave defaults.
func DefaultConfig() Config {
	return Config{
		GnbTxPowerDBm:         35,
		UeTxPowerDBm:          23,
		NoiseFigureDB:         5,
		PropagationModel:      "umi",
		PropagationDelay:      true,
		Mcs:                   device.DefaultMcs,
		CcaThresholdDBm:       phy.DefaultCcaThresholdDBm,
		HarqEnabled:           true,
		DataErrorModelEnabled: true,
		Seed:                  1,
	}
}

// Option customises a Helper.
type Option func(*Helper)

// WithConfig replaces the default radio parameters.
func WithConfig(cfg Config) Option {
	return func(h *Helper) { h.cfg = cfg }
}

// WithLogger sets the logger handed to every component.
func WithLogger(l logging.Logger) Option {
	return func(h *Helper) {
		if l != nil {
			h.log = l
		}
	}
}

// WithMetrics sets the recorder handed to every PHY.
func WithMetrics(m phy.MetricsRecorder) Option {
	return func(h *Helper) { h.metrics = m }
}

// WithMacMetrics sets the recorder handed to every device.
func WithMacMetrics(m device.MacMetricsRecorder) Option {
	return func(h *Helper) { h.macMetrics = m }
}

// WithRxTraceSink sets the per-TB trace sink handed to every PHY.
func WithRxTraceSink(s phy.RxTraceSink) Option {
	return func(h *Helper) { h.traceSink = s }
}

// Helper composes channels, PHYs and devices from a spectrum topology.
// Bandwidth parts are registered first, Initialize creates the channels,
// then devices are installed and attached.
type Helper struct {
	mu sync.Mutex

	sched timectrl.EventScheduler
	epoch time.Time
	cfg   Config

	log        logging.Logger
	metrics    phy.MetricsRecorder
	macMetrics device.MacMetricsRecorder
	traceSink  phy.RxTraceSink

	registry      *SchedulerRegistry
	schedulerType string

	topo        *core.Topology
	bwps        map[uint8]*BandwidthPartRepresentation
	initialized bool

	nextCellID uint16
	nextImsi   uint64
	phyCount   int64
	gnbs       []*device.GnbDevice
	ues        []*device.UeDevice
}

// New creates a helper on sched. Slot timing starts at sched.Now().
func New(sched timectrl.EventScheduler, opts ...Option) *Helper {
	h := &Helper{
		sched:         sched,
		epoch:         sched.Now(),
		cfg:           DefaultConfig(),
		log:           logging.Noop(),
		registry:      NewSchedulerRegistry(),
		schedulerType: FullBandSchedulerName,
		bwps:          make(map[uint8]*BandwidthPartRepresentation),
	}
	for _, opt := range opts {
		opt(h)
	}
	h.log = h.log.With(logging.String("component", "nrhelper"))
	return h
}

// Scheduler returns the event scheduler devices run on.
func (h *Helper) Scheduler() timectrl.EventScheduler { return h.sched }

// AddBandwidthPart registers a BWP under id. Ids must be unique.
func (h *Helper) AddBandwidthPart(id uint8, repr BandwidthPartRepresentation) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.addBandwidthPartLocked(id, repr)
}

func (h *Helper) addBandwidthPartLocked(id uint8, repr BandwidthPartRepresentation) error {
	if h.initialized {
		return core.NewConfigError("AddBandwidthPart", ErrAlreadyInitialized)
	}
	if _, dup := h.bwps[id]; dup {
		return core.NewConfigError("AddBandwidthPart", fmt.Errorf("%w: %d", core.ErrDuplicateBwpID, id))
	}
	r := repr
	h.bwps[id] = &r
	return nil
}

// AddTopology registers the active BWP of every carrier of topo, keyed by
// carrier id.
func (h *Helper) AddTopology(topo *core.Topology) error {
	active, err := topo.ActiveBwps()
	if err != nil {
		return err
	}

	h.mu.Lock()
	defer h.mu.Unlock()
	for _, cb := range active {
		err := h.addBandwidthPartLocked(cb.CarrierID, BandwidthPartRepresentation{
			CarrierID: cb.CarrierID,
			Bwp:       cb.Bwp,
			Primary:   cb.Role == model.Primary,
		})
		if err != nil {
			return err
		}
	}
	h.topo = topo
	return nil
}

// Initialize creates a channel and a propagation loss model for every BWP
// that has neither. A BWP that has only one of them is rejected.
func (h *Helper) Initialize(ctx context.Context) error {
	h.mu.Lock()
	defer h.mu.Unlock()

	if h.initialized {
		return core.NewConfigError("Initialize", ErrAlreadyInitialized)
	}
	if len(h.bwps) == 0 {
		return core.NewConfigError("Initialize", fmt.Errorf("%w: no bandwidth parts", core.ErrBwpCount))
	}

	for _, id := range h.bwpIDsLocked() {
		r := h.bwps[id]
		switch {
		case r.Channel != nil && r.Propagation != nil:
			continue
		case r.Channel != nil || r.Propagation != nil:
			return core.NewConfigError("Initialize", fmt.Errorf("%w: bwp %d", ErrChannelMismatch, id))
		}

		loss, ok := channel.LossModelByName(h.cfg.PropagationModel)
		if !ok {
			return core.NewConfigError("Initialize",
				fmt.Errorf("%w: propagation model %q", core.ErrNotFound, h.cfg.PropagationModel))
		}
		r.Propagation = loss
		r.Channel = channel.NewSpectrumChannel(
			fmt.Sprintf("bwp%d", id),
			r.Bwp.CentralFrequency,
			h.sched,
			channel.WithPropagationLoss(loss),
			channel.WithPropagationDelay(h.cfg.PropagationDelay),
			channel.WithLogger(h.log),
		)
		h.log.Info(ctx, "channel created",
			logging.Int("bwp", int(id)),
			logging.String("center", humanize.SIWithDigits(r.Bwp.CentralFrequency, 2, "Hz")),
			logging.String("bandwidth", humanize.SIWithDigits(r.Bwp.Bandwidth, 1, "Hz")),
			logging.Int("numerology", int(r.Bwp.Numerology)),
			logging.Int("rbs", r.Bwp.NumRbs()),
		)
	}
	h.initialized = true
	return nil
}

// RegisterScheduler adds a scheduler factory under name.
func (h *Helper) RegisterScheduler(name string, f SchedulerFactory) error {
	if err := h.registry.Register(name, f); err != nil {
		return core.NewConfigError("RegisterScheduler", err)
	}
	return nil
}

// SetSchedulerType selects the scheduler for devices installed afterwards.
func (h *Helper) SetSchedulerType(name string) error {
	if _, ok := h.registry.Get(name); !ok {
		return core.NewConfigError("SetSchedulerType",
			fmt.Errorf("%w: scheduler %q (known: %v)", core.ErrNotFound, name, h.registry.Names()))
	}
	h.mu.Lock()
	h.schedulerType = name
	h.mu.Unlock()
	return nil
}

// SchedulerType returns the selected scheduler name.
func (h *Helper) SchedulerType() string {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.schedulerType
}

// InstallGnbDevice creates a gNB at pos with one PHY per registered BWP.
// Each carrier gets its own cell id.
func (h *Helper) InstallGnbDevice(ctx context.Context, pos core.Vec3) (*device.GnbDevice, error) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if !h.initialized {
		return nil, core.NewConfigError("InstallGnbDevice", ErrNotInitialized)
	}
	name := fmt.Sprintf("gnb%d", len(h.gnbs))
	gnb := device.NewGnbDevice(name, pos, h.newSchedulerLocked(), h.log)
	gnb.SetMacMetrics(h.macMetrics)

	for _, id := range h.bwpIDsLocked() {
		if h.nextCellID == math.MaxUint16 {
			return nil, core.NewConfigError("InstallGnbDevice", errors.New("cell id space exhausted"))
		}
		h.nextCellID++
		cc, err := h.newCarrierLocked(ctx, name, model.GnbRole, h.nextCellID, id, pos)
		if err != nil {
			return nil, err
		}
		if err := gnb.AddCarrier(cc); err != nil {
			return nil, err
		}
	}
	if h.topo != nil {
		if err := gnb.CarrierManager().ValidateAgainst(h.topo); err != nil {
			return nil, err
		}
	}

	h.gnbs = append(h.gnbs, gnb)
	h.log.Info(ctx, "gnb installed",
		logging.String("device", name),
		logging.Int("cell_id", int(gnb.CellID())),
		logging.Int("carriers", len(gnb.Carriers())))
	return gnb, nil
}

// InstallUeDevice creates a detached UE at pos with one PHY per registered
// BWP.
func (h *Helper) InstallUeDevice(ctx context.Context, pos core.Vec3) (*device.UeDevice, error) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if !h.initialized {
		return nil, core.NewConfigError("InstallUeDevice", ErrNotInitialized)
	}
	if h.nextImsi == math.MaxUint64 {
		return nil, core.NewConfigError("InstallUeDevice", errors.New("imsi space exhausted"))
	}
	h.nextImsi++
	name := fmt.Sprintf("ue%d", len(h.ues))
	ue := device.NewUeDevice(name, h.nextImsi, pos, h.newSchedulerLocked(), h.log)
	ue.SetMacMetrics(h.macMetrics)

	for _, id := range h.bwpIDsLocked() {
		cc, err := h.newCarrierLocked(ctx, name, model.UeRole, 0, id, pos)
		if err != nil {
			return nil, err
		}
		if err := ue.AddCarrier(cc); err != nil {
			return nil, err
		}
	}

	h.ues = append(h.ues, ue)
	h.log.Info(ctx, "ue installed", logging.String("device", name), logging.Uint("imsi", ue.Imsi()))
	return ue, nil
}

// AttachToGnb attaches ue to gnb.
func (h *Helper) AttachToGnb(ctx context.Context, ue *device.UeDevice, gnb *device.GnbDevice) error {
	if err := ue.AttachTo(gnb); err != nil {
		return err
	}
	h.log.Info(ctx, "ue attached",
		logging.String("ue", ue.Name()),
		logging.String("gnb", gnb.Name()),
		logging.Int("rnti", int(ue.Rnti())),
		logging.Float64("distance_m", ue.Position().DistanceTo(gnb.Position())))
	return nil
}

// AttachToClosestGnb attaches ue to the nearest of gnbs.
func (h *Helper) AttachToClosestGnb(ctx context.Context, ue *device.UeDevice, gnbs []*device.GnbDevice) error {
	if len(gnbs) == 0 {
		return core.NewConfigError("AttachToClosestGnb", fmt.Errorf("%w: no gnb", core.ErrNotFound))
	}
	positions := make([]core.Vec3, len(gnbs))
	for i, g := range gnbs {
		positions[i] = g.Position()
	}
	return h.AttachToGnb(ctx, ue, gnbs[core.ClosestIndex(ue.Position(), positions)])
}

// Gnbs returns the installed gNBs.
func (h *Helper) Gnbs() []*device.GnbDevice {
	h.mu.Lock()
	defer h.mu.Unlock()
	return append([]*device.GnbDevice(nil), h.gnbs...)
}

// Ues returns the installed UEs.
func (h *Helper) Ues() []*device.UeDevice {
	h.mu.Lock()
	defer h.mu.Unlock()
	return append([]*device.UeDevice(nil), h.ues...)
}

// BandwidthPart returns the representation registered under id.
func (h *Helper) BandwidthPart(id uint8) (BandwidthPartRepresentation, bool) {
	h.mu.Lock()
	defer h.mu.Unlock()
	r, ok := h.bwps[id]
	if !ok {
		return BandwidthPartRepresentation{}, false
	}
	return *r, true
}

// BandwidthPartIDs returns the registered ids in order.
func (h *Helper) BandwidthPartIDs() []uint8 {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.bwpIDsLocked()
}

func (h *Helper) bwpIDsLocked() []uint8 {
	ids := make([]uint8, 0, len(h.bwps))
	for id := range h.bwps {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return ids
}

func (h *Helper) newSchedulerLocked() device.Scheduler {
	f, _ := h.registry.Get(h.schedulerType)
	return f(h.cfg.Mcs)
}

func (h *Helper) newCarrierLocked(ctx context.Context, devName string, role model.DeviceRole, cellID uint16, bwpID uint8, pos core.Vec3) (*device.ComponentCarrier, error) {
	r := h.bwps[bwpID]

	txPower, gain := h.cfg.GnbTxPowerDBm, h.cfg.GnbAntennaGainDBi
	if role == model.UeRole {
		txPower, gain = h.cfg.UeTxPowerDBm, h.cfg.UeAntennaGainDBi
	}

	h.phyCount++
	cfg := phy.Config{
		ID:                     fmt.Sprintf("%s-cc%d", devName, r.CarrierID),
		CellID:                 cellID,
		CarrierID:              r.CarrierID,
		Role:                   role,
		Position:               pos,
		AntennaGainDBi:         gain,
		NoiseFigureDB:          h.cfg.NoiseFigureDB,
		CcaThresholdDBm:        h.cfg.CcaThresholdDBm,
		HarqEnabled:            h.cfg.HarqEnabled,
		DataErrorModelEnabled:  h.cfg.DataErrorModelEnabled,
		EnableAllInterferences: h.cfg.EnableAllInterferences,
		Seed:                   h.cfg.Seed + h.phyCount,
	}
	p, err := phy.NewSpectrumPhy(cfg, r.Bwp, h.sched,
		phy.WithChannel(r.Channel),
		phy.WithLogger(h.log),
		phy.WithMetrics(h.metrics),
		phy.WithRxTraceSink(h.traceSink),
	)
	if err != nil {
		return nil, err
	}
	front := core.TransceiverModel{Name: cfg.ID, TxPowerDBm: txPower, AntennaGainDBi: gain}
	p.SetTxPowerSpectralDensity(front.TxPowerPerRbW(r.Bwp.NumRbs()))
	r.Channel.AddRx(p)

	cc := device.NewComponentCarrier(r.CarrierID, cellID, device.NewCarrierPhy(p, h.sched, h.epoch, h.log))
	cc.SetAsPrimary(r.Primary)
	cc.SetDlEarfcn(device.NrArfcn(r.Bwp.CentralFrequency))
	cc.SetUlEarfcn(device.NrArfcn(r.Bwp.CentralFrequency))

	h.log.Debug(ctx, "phy installed",
		logging.String("phy", cfg.ID),
		logging.String("center", humanize.SIWithDigits(r.Bwp.CentralFrequency, 2, "Hz")))
	return cc, nil
}
