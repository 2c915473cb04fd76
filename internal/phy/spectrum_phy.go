package phy

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"time"

	"github.com/signalsfoundry/nr-ran-simulator/core"
	"github.com/signalsfoundry/nr-ran-simulator/internal/logging"
	"github.com/signalsfoundry/nr-ran-simulator/model"
	"github.com/signalsfoundry/nr-ran-simulator/timectrl"
)

// ErrInvalidDuration rejects signals with a zero or negative duration.
var ErrInvalidDuration = errors.New("signal duration must be positive")

// DefaultCcaThresholdDBm is the energy detection threshold for CCA.
const DefaultCcaThresholdDBm = -62.0

// Config holds the per-instance settings of a SpectrumPhy.
type Config struct {
	ID        string
	CellID    uint16
	CarrierID uint8
	Role      model.DeviceRole
	// Rnti is only meaningful for UEs.
	Rnti uint16

	Position       core.Vec3
	AntennaGainDBi float64
	NoiseFigureDB  float64

	CcaThresholdDBm        float64
	HarqEnabled            bool
	DataErrorModelEnabled  bool
	EnableAllInterferences bool
	Seed                   int64
}

// DefaultConfig returns a config with HARQ and the error model enabled.
func DefaultConfig() Config {
	return Config{
		NoiseFigureDB:         5,
		CcaThresholdDBm:       DefaultCcaThresholdDBm,
		HarqEnabled:           true,
		DataErrorModelEnabled: true,
		Seed:                  1,
	}
}

// ApplyDefaults fills an empty ID. CcaThresholdDBm is used as given, so 0
// means 0 dBm; start from DefaultConfig for the standard threshold.
func (c *Config) ApplyDefaults() {
	if c.ID == "" {
		c.ID = fmt.Sprintf("%s-cell%d-cc%d", c.Role, c.CellID, c.CarrierID)
		if c.Role == model.UeRole {
			c.ID += fmt.Sprintf("-rnti%d", c.Rnti)
		}
	}
}

// Option customises a SpectrumPhy.
type Option func(*SpectrumPhy)

// WithLogger sets the logger.
func WithLogger(l logging.Logger) Option {
	return func(p *SpectrumPhy) {
		if l != nil {
			p.log = l
		}
	}
}

// WithMetrics sets the metrics recorder.
func WithMetrics(m MetricsRecorder) Option {
	return func(p *SpectrumPhy) { p.metrics = m }
}

// WithRxTraceSink sets the per-TB trace sink.
func WithRxTraceSink(s RxTraceSink) Option {
	return func(p *SpectrumPhy) { p.traceSink = s }
}

// WithErrorModel replaces the default ThresholdErrorModel.
func WithErrorModel(m ErrorModel) Option {
	return func(p *SpectrumPhy) {
		if m != nil {
			p.errorModel = m
		}
	}
}

// WithChannel attaches the shared channel used for transmissions.
func WithChannel(c Channel) Option {
	return func(p *SpectrumPhy) { p.channel = c }
}

// WithRand overrides the random source used for TB corruption draws.
func WithRand(r *rand.Rand) Option {
	return func(p *SpectrumPhy) {
		if r != nil {
			p.rng = r
		}
	}
}

type rxDataSignal struct {
	signal  *rxSignal
	packets []*Packet
}

// SpectrumPhy is the transmit/receive state machine of one BWP endpoint.
// It is driven entirely by scheduler callbacks and is not safe for
// concurrent use.
type SpectrumPhy struct {
	cfg   Config
	bwp   model.BandwidthPartElement
	sched timectrl.EventScheduler
	epoch time.Time

	channel    Channel
	log        logging.Logger
	metrics    MetricsRecorder
	traceSink  RxTraceSink
	errorModel ErrorModel
	rng        *rand.Rand

	state         State
	txPsd         []float64
	ccaThresholdW float64

	interference *Interference
	tbs          *TbTracker
	harq         *HarqHistory

	firstRxStart    time.Time
	firstRxDuration time.Duration
	rxData          []rxDataSignal
	rxCtrl          []ControlMessage

	checkIdleEvent string
	busyTimeEnds   time.Time

	rxDataCb func(*Packet)
	rxCtrlCb func([]ControlMessage)
	dlHarqCb func(DlHarqInfo)
	ulHarqCb func(UlHarqInfo)
}

// NewSpectrumPhy creates a PHY in IDLE state for bwp.
func NewSpectrumPhy(cfg Config, bwp model.BandwidthPartElement, sched timectrl.EventScheduler, opts ...Option) (*SpectrumPhy, error) {
	if sched == nil {
		return nil, core.NewConfigError("NewSpectrumPhy", errors.New("nil event scheduler"))
	}
	numRbs := bwp.NumRbs()
	if numRbs <= 0 {
		return nil, core.NewConfigError("NewSpectrumPhy",
			fmt.Errorf("%w: bwp %d has no resource blocks", core.ErrInvalidRbCount, bwp.ID))
	}
	cfg.ApplyDefaults()

	p := &SpectrumPhy{
		cfg:           cfg,
		bwp:           bwp,
		sched:         sched,
		epoch:         sched.Now(),
		log:           logging.Noop(),
		errorModel:    ThresholdErrorModel{},
		rng:           rand.New(rand.NewSource(cfg.Seed)),
		state:         Idle,
		ccaThresholdW: core.DbmToW(cfg.CcaThresholdDBm),
		interference:  NewInterference(numRbs, core.NoisePowerPerRbW(bwp.RbBandwidth(), cfg.NoiseFigureDB)),
		tbs:           NewTbTracker(),
		harq:          NewHarqHistory(),
	}
	for _, opt := range opts {
		opt(p)
	}
	p.log = p.log.With(
		logging.String("phy", cfg.ID),
		logging.Int("cell_id", int(cfg.CellID)),
		logging.Int("bwp", int(bwp.ID)),
	)
	return p, nil
}

// ID returns the configured identifier.
func (p *SpectrumPhy) ID() string { return p.cfg.ID }

// Config returns the effective configuration.
func (p *SpectrumPhy) Config() Config { return p.cfg }

// Bwp returns the bandwidth part this PHY operates on.
func (p *SpectrumPhy) Bwp() model.BandwidthPartElement { return p.bwp }

// State returns the current state.
func (p *SpectrumPhy) State() State { return p.state }

// Position implements the channel receiver contract.
func (p *SpectrumPhy) Position() core.Vec3 { return p.cfg.Position }

// AntennaGainDBi implements the channel receiver contract.
func (p *SpectrumPhy) AntennaGainDBi() float64 { return p.cfg.AntennaGainDBi }

// CellID returns the cell this PHY belongs to.
func (p *SpectrumPhy) CellID() uint16 { return p.cfg.CellID }

// SetCellID moves the PHY to another cell, typically on attachment.
func (p *SpectrumPhy) SetCellID(id uint16) { p.cfg.CellID = id }

// Rnti returns the RNTI of a UE PHY.
func (p *SpectrumPhy) Rnti() uint16 { return p.cfg.Rnti }

// SetRnti sets the RNTI assigned on attachment.
func (p *SpectrumPhy) SetRnti(rnti uint16) { p.cfg.Rnti = rnti }

// SetChannel attaches the shared channel.
func (p *SpectrumPhy) SetChannel(c Channel) { p.channel = c }

// SetTxPowerSpectralDensity sets the per-RB transmit power in watts.
func (p *SpectrumPhy) SetTxPowerSpectralDensity(psd []float64) {
	p.txPsd = append([]float64(nil), psd...)
}

// SetCcaThresholdDBm changes the energy detection threshold.
func (p *SpectrumPhy) SetCcaThresholdDBm(dbm float64) {
	p.cfg.CcaThresholdDBm = dbm
	p.ccaThresholdW = core.DbmToW(dbm)
}

// SetRxDataCallback registers the consumer of correctly decoded packets.
func (p *SpectrumPhy) SetRxDataCallback(cb func(*Packet)) { p.rxDataCb = cb }

// SetRxCtrlCallback registers the consumer of received control messages.
func (p *SpectrumPhy) SetRxCtrlCallback(cb func([]ControlMessage)) { p.rxCtrlCb = cb }

// SetDlHarqCallback registers the consumer of DL HARQ feedback.
func (p *SpectrumPhy) SetDlHarqCallback(cb func(DlHarqInfo)) { p.dlHarqCb = cb }

// SetUlHarqCallback registers the consumer of UL HARQ feedback.
func (p *SpectrumPhy) SetUlHarqCallback(cb func(UlHarqInfo)) { p.ulHarqCb = cb }

// Tracker exposes the transport block map for inspection.
func (p *SpectrumPhy) Tracker() *TbTracker { return p.tbs }

// BusyUntil returns when the current CCA busy period is expected to end.
func (p *SpectrumPhy) BusyUntil() time.Time { return p.busyTimeEnds }

// AddExpectedTb announces a transport block for rnti. A second call for the
// same rnti replaces the first.
func (p *SpectrumPhy) AddExpectedTb(rnti uint16, tb ExpectedTb) {
	if p.tbs.Add(rnti, tb) {
		p.log.Debug(context.Background(), "expected tb replaced",
			logging.Int("rnti", int(rnti)),
			logging.Int("harq_process", int(tb.HarqProcessID)),
			logging.Int("rv", int(tb.Rv)))
	}
}

// StartRx is called by the channel when a signal reaches this PHY.
func (p *SpectrumPhy) StartRx(params *SignalParams) error {
	if params == nil {
		return errors.New("nil signal params")
	}
	if params.Duration <= 0 {
		return fmt.Errorf("%w: %v", ErrInvalidDuration, params.Duration)
	}

	ctx := context.Background()
	nr := params.Kind != ForeignSignal
	sameRole := nr && params.SenderRole == p.cfg.Role
	if sameRole && !p.cfg.EnableAllInterferences {
		return nil
	}

	now := p.sched.Now()
	if !p.state.receiving() {
		p.interference.Prune(now)
	}
	psd := params.RxPsd
	if psd == nil {
		psd = params.TxPsd
	}
	sig := p.interference.Add(now, params.Duration, psd)

	if !nr || sameRole || params.CellID != p.cfg.CellID {
		if p.state == Idle || p.state == CcaBusy {
			p.MaybeCcaBusy()
		}
		return nil
	}

	switch params.Kind {
	case DataSignal:
		p.startRxData(ctx, params, sig)
	case DlCtrlSignal:
		p.startRxCtrl(ctx, params, RxDlCtrl)
	case UlCtrlSignal:
		p.startRxCtrl(ctx, params, RxUlCtrl)
	}
	return nil
}

func (p *SpectrumPhy) startRxData(ctx context.Context, params *SignalParams, sig *rxSignal) {
	switch p.state {
	case Tx, RxDlCtrl, RxUlCtrl:
		p.dropSignal(ctx, params)
		return
	}

	if p.state != RxData {
		p.beginRxWindow(params.Duration, p.EndRxData)
	} else if params.Duration != p.firstRxDuration || !p.sched.Now().Equal(p.firstRxStart) {
		p.log.Debug(ctx, "data signal outside the first signal window",
			logging.Duration("duration", params.Duration),
			logging.Duration("window", p.firstRxDuration))
	}

	p.rxData = append(p.rxData, rxDataSignal{signal: sig, packets: params.Packets})
	p.rxCtrl = append(p.rxCtrl, params.CtrlMessages...)
	p.changeState(RxData, params.Duration)
}

func (p *SpectrumPhy) startRxCtrl(ctx context.Context, params *SignalParams, target State) {
	wantRole := model.UeRole
	if target == RxUlCtrl {
		wantRole = model.GnbRole
	}
	if p.cfg.Role != wantRole {
		return
	}

	switch p.state {
	case Idle, CcaBusy:
		p.beginRxWindow(params.Duration, p.EndRxCtrl)
	case target:
	default:
		p.dropSignal(ctx, params)
		return
	}

	p.rxCtrl = append(p.rxCtrl, params.CtrlMessages...)
	p.changeState(target, params.Duration)
}

// beginRxWindow records the first signal of a reception and schedules its
// end. The busy-channel check is dropped since reception supersedes it.
func (p *SpectrumPhy) beginRxWindow(d time.Duration, end func()) {
	p.cancelCheckIdle()
	p.firstRxStart = p.sched.Now()
	p.firstRxDuration = d
	p.sched.Schedule(p.firstRxStart.Add(d), end)
}

func (p *SpectrumPhy) dropSignal(ctx context.Context, params *SignalParams) {
	p.log.Debug(ctx, "signal counted as interference only",
		logging.String("kind", params.Kind.String()),
		logging.String("state", p.state.String()))
	if p.metrics != nil {
		p.metrics.ObserveDroppedSignal(p.state.String())
	}
}

// EndRxData closes a data reception window: it decodes every expected
// transport block present in the window, delivers the packets that were
// not corrupted and emits HARQ feedback once per block.
func (p *SpectrumPhy) EndRxData() {
	ctx := context.Background()
	if p.state != RxData {
		p.log.Debug(ctx, "EndRxData outside RX_DATA", logging.String("state", p.state.String()))
		return
	}

	now := p.sched.Now()
	windowEnd := p.firstRxStart.Add(p.firstRxDuration)

	var decoded []uint16
	seen := make(map[uint16]bool)
	for _, rx := range p.rxData {
		for _, pkt := range rx.packets {
			if pkt == nil {
				continue
			}
			info, ok := p.tbs.Get(pkt.Rnti)
			if !ok {
				continue
			}
			if !seen[pkt.Rnti] {
				seen[pkt.Rnti] = true
				decoded = append(decoded, pkt.Rnti)
				p.decode(ctx, now, pkt.Rnti, info, p.interference.Sinr(rx.signal, p.firstRxStart, windowEnd))
			}
			if !info.Corrupted && p.rxDataCb != nil {
				p.rxDataCb(pkt)
			}
		}
	}

	for _, rnti := range decoded {
		info, _ := p.tbs.Get(rnti)
		p.sendHarqFeedback(rnti, info)
		p.tbs.Remove(rnti)
	}

	ctrl := p.rxCtrl
	p.resetRx(now)
	if len(ctrl) > 0 && p.rxCtrlCb != nil {
		p.rxCtrlCb(ctrl)
	}
	p.MaybeCcaBusy()
}

func (p *SpectrumPhy) decode(ctx context.Context, now time.Time, rnti uint16, info *TransportBlockInfo, sinr []float64) {
	exp := info.Expected
	info.SinrAvg, info.SinrMin = averageSinr(sinr, exp.RbBitmap)

	var history []ErrorModelOutput
	if exp.Ndi == 0 {
		history = p.harq.Get(rnti, exp.HarqProcessID)
	}
	out := p.errorModel.TbDecodingStats(sinr, exp.RbBitmap, exp.TbSize, exp.Mcs, exp.Rv, history)
	info.ErrorModelOutput = &out
	if p.cfg.DataErrorModelEnabled {
		info.Corrupted = p.rng.Float64() < out.Tbler
	}

	avgDb := core.LinearToDb(info.SinrAvg)
	p.log.Debug(ctx, "transport block decoded",
		logging.Int("rnti", int(rnti)),
		logging.Int("tb_size", int(exp.TbSize)),
		logging.Int("mcs", int(exp.Mcs)),
		logging.Int("rv", int(exp.Rv)),
		logging.Float64("sinr_avg_db", avgDb),
		logging.Float64("tbler", out.Tbler),
		logging.Bool("corrupted", info.Corrupted))

	if p.metrics != nil {
		p.metrics.ObserveTransportBlock(exp.IsDownlink, info.Corrupted, avgDb)
	}
	if p.traceSink != nil {
		numRbs := len(exp.RbBitmap)
		if numRbs == 0 {
			numRbs = p.bwp.NumRbs()
		}
		p.traceSink.RecordRx(RxPacketTrace{
			Time:          now,
			CellID:        p.cfg.CellID,
			CarrierID:     p.cfg.CarrierID,
			Rnti:          rnti,
			Downlink:      exp.IsDownlink,
			TbSize:        exp.TbSize,
			Mcs:           exp.Mcs,
			Rv:            exp.Rv,
			HarqProcessID: exp.HarqProcessID,
			SymStart:      exp.SymStart,
			NumSym:        exp.NumSym,
			NumRbs:        numRbs,
			SinrAvgDb:     avgDb,
			SinrMinDb:     core.LinearToDb(info.SinrMin),
			Tbler:         out.Tbler,
			Corrupted:     info.Corrupted,
		})
	}
}

func (p *SpectrumPhy) sendHarqFeedback(rnti uint16, info *TransportBlockInfo) {
	if !p.cfg.HarqEnabled || info.HarqFeedbackSent {
		return
	}
	info.HarqFeedbackSent = true

	exp := info.Expected
	status := Ack
	if info.Corrupted {
		status = Nack
		if info.ErrorModelOutput != nil {
			p.harq.Append(rnti, exp.HarqProcessID, *info.ErrorModelOutput)
		}
	} else {
		p.harq.Reset(rnti, exp.HarqProcessID)
	}
	if p.metrics != nil {
		p.metrics.ObserveHarqFeedback(exp.IsDownlink, status == Ack)
	}

	if exp.IsDownlink {
		if p.dlHarqCb != nil {
			p.dlHarqCb(DlHarqInfo{
				Rnti:          rnti,
				HarqProcessID: exp.HarqProcessID,
				NumRetx:       exp.Rv,
				CellID:        p.cfg.CellID,
				CarrierID:     p.cfg.CarrierID,
				Status:        status,
			})
		}
		return
	}
	if p.ulHarqCb != nil {
		p.ulHarqCb(UlHarqInfo{
			Rnti:          rnti,
			HarqProcessID: exp.HarqProcessID,
			NumRetx:       exp.Rv,
			CellID:        p.cfg.CellID,
			CarrierID:     p.cfg.CarrierID,
			Status:        status,
		})
	}
}

// EndRxCtrl closes a control reception window and delivers the messages.
func (p *SpectrumPhy) EndRxCtrl() {
	if p.state != RxDlCtrl && p.state != RxUlCtrl {
		p.log.Debug(context.Background(), "EndRxCtrl outside control reception",
			logging.String("state", p.state.String()))
		return
	}

	ctrl := p.rxCtrl
	p.resetRx(p.sched.Now())
	if len(ctrl) > 0 && p.rxCtrlCb != nil {
		p.rxCtrlCb(ctrl)
	}
	p.MaybeCcaBusy()
}

func (p *SpectrumPhy) resetRx(now time.Time) {
	p.rxData = nil
	p.rxCtrl = nil
	p.firstRxDuration = 0
	p.interference.Prune(now)
}

// MaybeCcaBusy measures the channel and moves to CCA_BUSY with a re-check
// at the expected end of the busy period, or to IDLE when the channel is
// clear. Any previously scheduled re-check is replaced.
func (p *SpectrumPhy) MaybeCcaBusy() {
	now := p.sched.Now()
	d := p.interference.EnergyDuration(p.ccaThresholdW, now)
	if d <= 0 {
		p.cancelCheckIdle()
		p.changeState(Idle, 0)
		return
	}

	p.changeState(CcaBusy, d)
	p.busyTimeEnds = now.Add(d)
	p.cancelCheckIdle()
	p.checkIdleEvent = p.sched.Schedule(p.busyTimeEnds, p.CheckIfStillBusy)
}

// CheckIfStillBusy runs at the expected end of a busy period. It does
// nothing once a reception or transmission has taken over.
func (p *SpectrumPhy) CheckIfStillBusy() {
	p.checkIdleEvent = ""
	if p.state != CcaBusy {
		return
	}
	p.MaybeCcaBusy()
}

func (p *SpectrumPhy) cancelCheckIdle() {
	if p.checkIdleEvent != "" {
		p.sched.Cancel(p.checkIdleEvent)
		p.checkIdleEvent = ""
	}
}

// StartTxDataFrames transmits packets and piggybacked control messages.
// It returns false when the PHY cannot transmit right now.
func (p *SpectrumPhy) StartTxDataFrames(packets []*Packet, ctrl []ControlMessage, duration time.Duration, slotIndex uint8) bool {
	return p.startTx(&SignalParams{
		Kind:         DataSignal,
		Duration:     duration,
		Packets:      packets,
		CtrlMessages: ctrl,
		SlotIndex:    slotIndex,
	})
}

// StartTxDlControlFrames transmits downlink control messages.
func (p *SpectrumPhy) StartTxDlControlFrames(ctrl []ControlMessage, duration time.Duration) bool {
	return p.startTx(&SignalParams{Kind: DlCtrlSignal, Duration: duration, CtrlMessages: ctrl})
}

// StartTxUlControlFrames transmits uplink control messages.
func (p *SpectrumPhy) StartTxUlControlFrames(ctrl []ControlMessage, duration time.Duration) bool {
	return p.startTx(&SignalParams{Kind: UlCtrlSignal, Duration: duration, CtrlMessages: ctrl})
}

func (p *SpectrumPhy) startTx(params *SignalParams) bool {
	ctx := context.Background()
	accepted := p.canStartTx(ctx, params)
	if p.metrics != nil {
		p.metrics.ObserveTransmission(params.Kind.String(), accepted)
	}
	if !accepted {
		return false
	}

	params.CellID = p.cfg.CellID
	params.SenderID = p.cfg.ID
	params.SenderRole = p.cfg.Role
	params.TxPosition = p.cfg.Position
	params.TxGainDBi = p.cfg.AntennaGainDBi
	params.TxPsd = append([]float64(nil), p.txPsd...)

	p.cancelCheckIdle()
	p.changeState(Tx, params.Duration)
	p.sched.Schedule(p.sched.Now().Add(params.Duration), p.EndTx)
	p.channel.StartTx(params)
	return true
}

func (p *SpectrumPhy) canStartTx(ctx context.Context, params *SignalParams) bool {
	switch {
	case params.Duration <= 0:
		p.log.Warn(ctx, "transmission rejected: non-positive duration",
			logging.Duration("duration", params.Duration))
		return false
	case p.channel == nil:
		p.log.Error(ctx, "transmission rejected: no channel attached")
		return false
	case !p.state.canTransmit():
		p.log.Debug(ctx, "transmission rejected: phy busy",
			logging.String("state", p.state.String()),
			logging.String("kind", params.Kind.String()))
		return false
	}
	return true
}

// EndTx finishes a transmission and returns to IDLE.
func (p *SpectrumPhy) EndTx() {
	if p.state != Tx {
		return
	}
	p.changeState(Idle, 0)
}

func (p *SpectrumPhy) changeState(next State, d time.Duration) {
	prev := p.state
	p.state = next
	if prev == next {
		return
	}
	p.log.Debug(context.Background(), "phy state change",
		logging.String("from", prev.String()),
		logging.String("to", next.String()),
		logging.SimTime("at", p.sched.Now(), p.epoch),
		logging.Duration("for", d))
	if p.metrics != nil {
		p.metrics.ObserveStateTransition(prev.String(), next.String())
		if next != Idle && d > 0 {
			p.metrics.ObserveChannelOccupancy(next.String(), d)
		}
	}
}
