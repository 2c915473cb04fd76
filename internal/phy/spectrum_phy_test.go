package phy

import (
	"errors"
	"testing"
	"time"

	"github.com/signalsfoundry/nr-ran-simulator/core"
	"github.com/signalsfoundry/nr-ran-simulator/model"
	"github.com/signalsfoundry/nr-ran-simulator/timectrl"
)

const testCell = 1

type recordingChannel struct {
	sent []*SignalParams
}

func (c *recordingChannel) StartTx(p *SignalParams) { c.sent = append(c.sent, p) }

type recordingSink struct {
	traces []RxPacketTrace
}

func (s *recordingSink) RecordRx(tr RxPacketTrace) { s.traces = append(s.traces, tr) }

func testBwp() model.BandwidthPartElement {
	return model.NewBandwidthPart(0, 2, 28.1e9, 100e6)
}

func newTestPhy(t *testing.T, role model.DeviceRole, opts ...Option) (*SpectrumPhy, *timectrl.Scheduler) {
	t.Helper()
	sched := timectrl.NewScheduler(time.Unix(0, 0))
	cfg := DefaultConfig()
	cfg.Role = role
	cfg.CellID = testCell
	cfg.Rnti = 1
	p, err := NewSpectrumPhy(cfg, testBwp(), sched, opts...)
	if err != nil {
		t.Fatalf("NewSpectrumPhy: %v", err)
	}
	return p, sched
}

// psdOn returns a per-RB power vector with w watts on the listed RBs.
func psdOn(w float64, rbs ...int) []float64 {
	psd := make([]float64, testBwp().NumRbs())
	for _, rb := range rbs {
		psd[rb] = w
	}
	return psd
}

func rbRange(from, to int) []int {
	var out []int
	for i := from; i < to; i++ {
		out = append(out, i)
	}
	return out
}

func dataFromGnb(rnti uint16, d time.Duration) *SignalParams {
	return &SignalParams{
		Kind:       DataSignal,
		CellID:     testCell,
		SenderRole: model.GnbRole,
		RxPsd:      psdOn(1e-9, rbRange(0, 10)...),
		Duration:   d,
		Packets:    []*Packet{{Rnti: rnti, Size: 100}},
	}
}

func TestNewSpectrumPhyRejectsEmptyBwp(t *testing.T) {
	sched := timectrl.NewScheduler(time.Unix(0, 0))
	_, err := NewSpectrumPhy(DefaultConfig(), model.NewBandwidthPart(0, 3, 28e9, 1e5), sched)
	if !core.IsConfigError(err) || !errors.Is(err, core.ErrInvalidRbCount) {
		t.Fatalf("err = %v, want ConfigError wrapping ErrInvalidRbCount", err)
	}
}

func TestStartRxRejectsNonPositiveDuration(t *testing.T) {
	p, _ := newTestPhy(t, model.UeRole)
	for _, d := range []time.Duration{0, -time.Millisecond} {
		err := p.StartRx(dataFromGnb(1, d))
		if !errors.Is(err, ErrInvalidDuration) {
			t.Fatalf("StartRx(duration=%v) err = %v, want ErrInvalidDuration", d, err)
		}
	}
	if p.State() != Idle {
		t.Fatalf("state = %v, want IDLE", p.State())
	}
}

func TestHarqFeedbackSentOnce(t *testing.T) {
	p, sched := newTestPhy(t, model.UeRole)

	var feedback []DlHarqInfo
	var delivered int
	p.SetDlHarqCallback(func(info DlHarqInfo) { feedback = append(feedback, info) })
	p.SetRxDataCallback(func(*Packet) { delivered++ })

	p.AddExpectedTb(1, ExpectedTb{Ndi: 1, TbSize: 100, Mcs: 0, RbBitmap: rbRange(0, 10), HarqProcessID: 3, IsDownlink: true})
	if err := p.StartRx(dataFromGnb(1, time.Millisecond)); err != nil {
		t.Fatalf("StartRx: %v", err)
	}
	if p.State() != RxData {
		t.Fatalf("state = %v, want RX_DATA", p.State())
	}

	sched.RunFor(time.Millisecond)
	p.EndRxData()

	if len(feedback) != 1 {
		t.Fatalf("feedback count = %d, want 1", len(feedback))
	}
	fb := feedback[0]
	if fb.Status != Ack || fb.HarqProcessID != 3 || fb.Rnti != 1 || fb.CellID != testCell {
		t.Fatalf("feedback = %+v", fb)
	}
	if delivered != 1 {
		t.Fatalf("delivered = %d, want 1", delivered)
	}
	if p.Tracker().Len() != 0 {
		t.Fatalf("tracker still holds %d blocks", p.Tracker().Len())
	}
	if p.State() != Idle {
		t.Fatalf("state = %v, want IDLE", p.State())
	}
}

func TestUnregisteredTransmissionIsDropped(t *testing.T) {
	p, sched := newTestPhy(t, model.UeRole)

	var calls int
	p.SetDlHarqCallback(func(DlHarqInfo) { calls++ })
	p.SetRxDataCallback(func(*Packet) { calls++ })

	if err := p.StartRx(dataFromGnb(42, time.Millisecond)); err != nil {
		t.Fatalf("StartRx: %v", err)
	}
	sched.RunFor(time.Millisecond)

	if calls != 0 {
		t.Fatalf("callbacks fired %d times for an unregistered block", calls)
	}
	if p.State() != Idle {
		t.Fatalf("state = %v, want IDLE", p.State())
	}
}

func TestCorruptedBlockIsNackedAndNotDelivered(t *testing.T) {
	p, sched := newTestPhy(t, model.GnbRole)

	var fb []UlHarqInfo
	var delivered int
	p.SetUlHarqCallback(func(info UlHarqInfo) { fb = append(fb, info) })
	p.SetRxDataCallback(func(*Packet) { delivered++ })

	p.AddExpectedTb(5, ExpectedTb{Ndi: 1, TbSize: 5000, Mcs: 28, RbBitmap: rbRange(0, 10), HarqProcessID: 1})
	err := p.StartRx(&SignalParams{
		Kind:       DataSignal,
		CellID:     testCell,
		SenderRole: model.UeRole,
		RxPsd:      psdOn(1e-17, rbRange(0, 10)...),
		Duration:   time.Millisecond,
		Packets:    []*Packet{{Rnti: 5}},
	})
	if err != nil {
		t.Fatalf("StartRx: %v", err)
	}
	sched.RunFor(time.Millisecond)

	if len(fb) != 1 || fb[0].Status != Nack {
		t.Fatalf("feedback = %+v, want one NACK", fb)
	}
	if delivered != 0 {
		t.Fatalf("delivered = %d, want 0", delivered)
	}
	if n := len(p.harq.Get(5, 1)); n != 1 {
		t.Fatalf("harq history len = %d, want 1", n)
	}
}

func TestSinrAveragedOverUsedRbs(t *testing.T) {
	sink := &recordingSink{}
	p, sched := newTestPhy(t, model.UeRole, WithRxTraceSink(sink))

	// Strong interferer from another cell on RBs the block does not use.
	if err := p.StartRx(&SignalParams{
		Kind:       DataSignal,
		CellID:     testCell + 1,
		SenderRole: model.GnbRole,
		RxPsd:      psdOn(1e-6, rbRange(50, 60)...),
		Duration:   time.Millisecond,
	}); err != nil {
		t.Fatalf("StartRx interferer: %v", err)
	}
	if p.State() != CcaBusy {
		t.Fatalf("state = %v, want CCA_BUSY", p.State())
	}

	p.AddExpectedTb(1, ExpectedTb{Ndi: 1, TbSize: 100, RbBitmap: rbRange(0, 10), IsDownlink: true})
	if err := p.StartRx(dataFromGnb(1, time.Millisecond)); err != nil {
		t.Fatalf("StartRx: %v", err)
	}
	sched.RunFor(time.Millisecond)

	if len(sink.traces) != 1 {
		t.Fatalf("traces = %d, want 1", len(sink.traces))
	}
	tr := sink.traces[0]
	if tr.SinrAvgDb < 40 || tr.SinrMinDb < 40 {
		t.Fatalf("sinr avg/min = %.1f/%.1f dB, want both above 40 dB", tr.SinrAvgDb, tr.SinrMinDb)
	}
	if tr.NumRbs != 10 || tr.Corrupted {
		t.Fatalf("trace = %+v", tr)
	}
}

func TestDataDuringControlReceptionIsInterferenceOnly(t *testing.T) {
	p, sched := newTestPhy(t, model.UeRole)

	var ctrl [][]ControlMessage
	p.SetRxCtrlCallback(func(msgs []ControlMessage) { ctrl = append(ctrl, msgs) })

	err := p.StartRx(&SignalParams{
		Kind:         DlCtrlSignal,
		CellID:       testCell,
		SenderRole:   model.GnbRole,
		RxPsd:        psdOn(1e-9, 0),
		Duration:     time.Millisecond,
		CtrlMessages: []ControlMessage{{Type: DciMessage, Rnti: 1}},
	})
	if err != nil {
		t.Fatalf("StartRx ctrl: %v", err)
	}
	if p.State() != RxDlCtrl {
		t.Fatalf("state = %v, want RX_DL_CTRL", p.State())
	}

	p.AddExpectedTb(1, ExpectedTb{Ndi: 1, TbSize: 100, IsDownlink: true})
	if err := p.StartRx(dataFromGnb(1, time.Millisecond)); err != nil {
		t.Fatalf("StartRx data: %v", err)
	}
	if p.State() != RxDlCtrl {
		t.Fatalf("state = %v, want RX_DL_CTRL", p.State())
	}

	sched.RunFor(time.Millisecond)
	if len(ctrl) != 1 || len(ctrl[0]) != 1 || ctrl[0][0].Rnti != 1 {
		t.Fatalf("ctrl = %+v", ctrl)
	}
	if p.Tracker().Len() != 1 {
		t.Fatalf("block consumed by a control window")
	}
}

func TestUlCtrlIgnoredByUe(t *testing.T) {
	p, _ := newTestPhy(t, model.UeRole)
	err := p.StartRx(&SignalParams{
		Kind:       UlCtrlSignal,
		CellID:     testCell,
		SenderRole: model.GnbRole,
		RxPsd:      psdOn(1e-15, 0),
		Duration:   time.Millisecond,
	})
	if err != nil {
		t.Fatalf("StartRx: %v", err)
	}
	if p.State() != Idle {
		t.Fatalf("state = %v, want IDLE", p.State())
	}
}

func TestSameRoleSignalsIgnoredUnlessAllInterferences(t *testing.T) {
	loud := &SignalParams{
		Kind:       DataSignal,
		CellID:     testCell + 1,
		SenderRole: model.UeRole,
		RxPsd:      psdOn(1e-3, 0),
		Duration:   time.Millisecond,
	}

	p, _ := newTestPhy(t, model.UeRole)
	if err := p.StartRx(loud); err != nil {
		t.Fatalf("StartRx: %v", err)
	}
	if p.State() != Idle {
		t.Fatalf("state = %v, want IDLE", p.State())
	}

	sched := timectrl.NewScheduler(time.Unix(0, 0))
	cfg := DefaultConfig()
	cfg.Role = model.UeRole
	cfg.CellID = testCell
	cfg.EnableAllInterferences = true
	all, err := NewSpectrumPhy(cfg, testBwp(), sched)
	if err != nil {
		t.Fatalf("NewSpectrumPhy: %v", err)
	}
	if err := all.StartRx(loud); err != nil {
		t.Fatalf("StartRx: %v", err)
	}
	if all.State() != CcaBusy {
		t.Fatalf("state = %v, want CCA_BUSY", all.State())
	}
}

func TestStartTxRespectsState(t *testing.T) {
	ch := &recordingChannel{}
	p, sched := newTestPhy(t, model.GnbRole, WithChannel(ch))
	p.SetTxPowerSpectralDensity(psdOn(1e-3, 0, 1))

	if !p.StartTxDataFrames([]*Packet{{Rnti: 1}}, nil, time.Millisecond, 0) {
		t.Fatalf("first transmission rejected")
	}
	if p.State() != Tx {
		t.Fatalf("state = %v, want TX", p.State())
	}
	if p.StartTxDlControlFrames(nil, time.Millisecond) {
		t.Fatalf("transmission accepted while in TX")
	}
	if len(ch.sent) != 1 {
		t.Fatalf("channel saw %d transmissions, want 1", len(ch.sent))
	}
	sent := ch.sent[0]
	if sent.CellID != testCell || sent.SenderRole != model.GnbRole || sent.TxPsd[0] != 1e-3 {
		t.Fatalf("sent params = %+v", sent)
	}

	sched.RunFor(time.Millisecond)
	if p.State() != Idle {
		t.Fatalf("state after EndTx = %v, want IDLE", p.State())
	}
	if p.StartTxDlControlFrames(nil, 0) {
		t.Fatalf("zero duration transmission accepted")
	}
	if !p.StartTxDlControlFrames(nil, time.Millisecond) {
		t.Fatalf("transmission rejected after returning to IDLE")
	}
}

func TestStartTxWithoutChannel(t *testing.T) {
	p, _ := newTestPhy(t, model.GnbRole)
	if p.StartTxUlControlFrames(nil, time.Millisecond) {
		t.Fatalf("transmission accepted with no channel")
	}
}

func TestCcaBusyRecheckIsRescheduled(t *testing.T) {
	p, sched := newTestPhy(t, model.GnbRole)
	start := sched.Now()

	foreign := func(d time.Duration) *SignalParams {
		return &SignalParams{Kind: ForeignSignal, RxPsd: psdOn(1e-6, 0), Duration: d}
	}

	if err := p.StartRx(foreign(2 * time.Millisecond)); err != nil {
		t.Fatalf("StartRx: %v", err)
	}
	if p.State() != CcaBusy {
		t.Fatalf("state = %v, want CCA_BUSY", p.State())
	}
	if got := p.BusyUntil(); !got.Equal(start.Add(2 * time.Millisecond)) {
		t.Fatalf("BusyUntil = %v, want +2ms", got.Sub(start))
	}

	sched.RunFor(time.Millisecond)
	if err := p.StartRx(foreign(3 * time.Millisecond)); err != nil {
		t.Fatalf("StartRx: %v", err)
	}
	if got := p.BusyUntil(); !got.Equal(start.Add(4 * time.Millisecond)) {
		t.Fatalf("BusyUntil = %v, want +4ms", got.Sub(start))
	}
	if n := sched.Pending(); n != 1 {
		t.Fatalf("pending events = %d, want a single re-check", n)
	}

	sched.RunFor(2 * time.Millisecond)
	if p.State() != CcaBusy {
		t.Fatalf("state at +3ms = %v, want CCA_BUSY", p.State())
	}
	sched.RunFor(time.Millisecond)
	if p.State() != Idle {
		t.Fatalf("state at +4ms = %v, want IDLE", p.State())
	}
}

func TestWeakForeignSignalKeepsIdle(t *testing.T) {
	p, _ := newTestPhy(t, model.GnbRole)
	err := p.StartRx(&SignalParams{Kind: ForeignSignal, RxPsd: psdOn(1e-15, 0), Duration: time.Millisecond})
	if err != nil {
		t.Fatalf("StartRx: %v", err)
	}
	if p.State() != Idle {
		t.Fatalf("state = %v, want IDLE", p.State())
	}
}

func TestCcaBusyCanTransmit(t *testing.T) {
	ch := &recordingChannel{}
	p, sched := newTestPhy(t, model.GnbRole, WithChannel(ch))
	if err := p.StartRx(&SignalParams{Kind: ForeignSignal, RxPsd: psdOn(1e-6, 0), Duration: 5 * time.Millisecond}); err != nil {
		t.Fatalf("StartRx: %v", err)
	}
	if !p.StartTxDlControlFrames(nil, time.Millisecond) {
		t.Fatalf("transmission rejected in CCA_BUSY")
	}
	if n := sched.Pending(); n != 1 {
		t.Fatalf("pending = %d, want only the EndTx event", n)
	}
}

type transition struct {
	from, to string
	at       time.Duration
}

// transitionLog records state changes with their offset from the epoch.
type transitionLog struct {
	sched *timectrl.Scheduler
	epoch time.Time
	log   []transition
}

func (l *transitionLog) ObserveStateTransition(from, to string) {
	l.log = append(l.log, transition{from: from, to: to, at: l.sched.Now().Sub(l.epoch)})
}
func (l *transitionLog) ObserveTransmission(string, bool)              {}
func (l *transitionLog) ObserveTransportBlock(bool, bool, float64)     {}
func (l *transitionLog) ObserveHarqFeedback(bool, bool)                {}
func (l *transitionLog) ObserveDroppedSignal(string)                   {}
func (l *transitionLog) ObserveChannelOccupancy(string, time.Duration) {}

// runMixedScript feeds a UE PHY control, data, overlapping data, foreign
// energy and a transmission, and returns the transitions it went through.
func runMixedScript(t *testing.T) []transition {
	t.Helper()
	epoch := time.Unix(0, 0)
	sched := timectrl.NewScheduler(epoch)
	rec := &transitionLog{sched: sched, epoch: epoch}
	cfg := DefaultConfig()
	cfg.Role = model.UeRole
	cfg.CellID = testCell
	cfg.Rnti = 1
	p, err := NewSpectrumPhy(cfg, testBwp(), sched, WithMetrics(rec), WithChannel(&recordingChannel{}))
	if err != nil {
		t.Fatalf("NewSpectrumPhy: %v", err)
	}
	p.SetTxPowerSpectralDensity(psdOn(1e-3, 0))

	at := func(d time.Duration, f func()) { sched.Schedule(epoch.Add(d), f) }
	rx := func(params *SignalParams) {
		if err := p.StartRx(params); err != nil {
			t.Errorf("StartRx(%s): %v", params.Kind, err)
		}
	}

	at(0, func() {
		rx(&SignalParams{
			Kind:         DlCtrlSignal,
			CellID:       testCell,
			SenderRole:   model.GnbRole,
			RxPsd:        psdOn(1e-9, 0),
			Duration:     100 * time.Microsecond,
			CtrlMessages: []ControlMessage{{Type: DciMessage, Rnti: 1}},
		})
	})
	at(200*time.Microsecond, func() {
		p.AddExpectedTb(1, ExpectedTb{Ndi: 1, TbSize: 100, RbBitmap: rbRange(0, 10), IsDownlink: true})
		rx(dataFromGnb(1, 500*time.Microsecond))
	})
	at(400*time.Microsecond, func() {
		late := dataFromGnb(2, 600*time.Microsecond)
		late.RxPsd = psdOn(1e-9, rbRange(20, 30)...)
		rx(late)
	})
	at(1200*time.Microsecond, func() {
		rx(&SignalParams{Kind: ForeignSignal, RxPsd: psdOn(1e-6, 0), Duration: 300 * time.Microsecond})
	})
	at(1300*time.Microsecond, func() {
		if !p.StartTxUlControlFrames(nil, 100*time.Microsecond) {
			t.Errorf("transmission rejected in %s", p.State())
		}
	})
	sched.Run()
	return rec.log
}

func TestStateMachineIsDeterministic(t *testing.T) {
	first := runMixedScript(t)
	second := runMixedScript(t)

	want := []transition{
		{"IDLE", "RX_DL_CTRL", 0},
		{"RX_DL_CTRL", "IDLE", 100 * time.Microsecond},
		{"IDLE", "RX_DATA", 200 * time.Microsecond},
		{"RX_DATA", "CCA_BUSY", 700 * time.Microsecond},
		{"CCA_BUSY", "IDLE", 1000 * time.Microsecond},
		{"IDLE", "CCA_BUSY", 1200 * time.Microsecond},
		{"CCA_BUSY", "TX", 1300 * time.Microsecond},
		{"TX", "IDLE", 1400 * time.Microsecond},
	}
	if len(first) != len(want) {
		t.Fatalf("transitions = %+v, want %+v", first, want)
	}
	for i := range want {
		if first[i] != want[i] {
			t.Fatalf("transition %d = %+v, want %+v", i, first[i], want[i])
		}
	}
	if len(second) != len(first) {
		t.Fatalf("second run has %d transitions, first %d", len(second), len(first))
	}
	for i := range first {
		if second[i] != first[i] {
			t.Fatalf("run differs at %d: %+v vs %+v", i, second[i], first[i])
		}
	}
}

func TestLateDataSignalKeepsFirstWindow(t *testing.T) {
	p, sched := newTestPhy(t, model.UeRole)
	start := sched.Now()

	var fbAt []time.Duration
	p.SetDlHarqCallback(func(DlHarqInfo) { fbAt = append(fbAt, sched.Now().Sub(start)) })

	p.AddExpectedTb(1, ExpectedTb{Ndi: 1, TbSize: 100, RbBitmap: rbRange(0, 10), IsDownlink: true})
	if err := p.StartRx(dataFromGnb(1, time.Millisecond)); err != nil {
		t.Fatalf("StartRx: %v", err)
	}

	sched.RunFor(500 * time.Microsecond)
	late := dataFromGnb(2, time.Millisecond)
	late.RxPsd = psdOn(1e-9, rbRange(20, 30)...)
	if err := p.StartRx(late); err != nil {
		t.Fatalf("StartRx late: %v", err)
	}
	if p.State() != RxData {
		t.Fatalf("state = %v, want RX_DATA", p.State())
	}

	sched.RunFor(500 * time.Microsecond)
	if len(fbAt) != 1 || fbAt[0] != time.Millisecond {
		t.Fatalf("feedback at %v, want once at 1ms", fbAt)
	}
	if p.State() != CcaBusy {
		t.Fatalf("state after window = %v, want CCA_BUSY", p.State())
	}
	if got := p.BusyUntil(); !got.Equal(start.Add(1500 * time.Microsecond)) {
		t.Fatalf("BusyUntil = %v, want +1.5ms", got.Sub(start))
	}

	sched.RunFor(500 * time.Microsecond)
	if p.State() != Idle {
		t.Fatalf("state at +1.5ms = %v, want IDLE", p.State())
	}
}

func TestZeroCcaThresholdIsKept(t *testing.T) {
	sched := timectrl.NewScheduler(time.Unix(0, 0))
	cfg := DefaultConfig()
	cfg.CcaThresholdDBm = 0
	p, err := NewSpectrumPhy(cfg, testBwp(), sched)
	if err != nil {
		t.Fatalf("NewSpectrumPhy: %v", err)
	}
	if got := p.Config().CcaThresholdDBm; got != 0 {
		t.Fatalf("CcaThresholdDBm = %v, want 0", got)
	}

	// 0.1 mW of foreign energy is below a 0 dBm threshold.
	if err := p.StartRx(&SignalParams{Kind: ForeignSignal, RxPsd: psdOn(1e-4, 0), Duration: time.Millisecond}); err != nil {
		t.Fatalf("StartRx: %v", err)
	}
	if p.State() != Idle {
		t.Fatalf("state = %v, want IDLE", p.State())
	}
}
