package device

import "github.com/signalsfoundry/nr-ran-simulator/internal/phy"

const (
	// MaxHarqRetx is the number of retransmissions after the first
	// attempt, one per redundancy version.
	MaxHarqRetx = 3

	numHarqProcesses = 16
)

// HarqOutcome is what the transmitting side does with a feedback.
type HarqOutcome int

const (
	HarqUnknown HarqOutcome = iota
	HarqAcked
	HarqRetransmit
	HarqDropped
)

func (o HarqOutcome) String() string {
	switch o {
	case HarqAcked:
		return "acked"
	case HarqRetransmit:
		return "retransmit"
	case HarqDropped:
		return "dropped"
	default:
		return "unknown"
	}
}

type harqKey struct {
	rnti    uint16
	process uint8
}

type txJob struct {
	rnti    uint16
	packets []*phy.Packet
	tb      phy.ExpectedTb
}

// HarqEntity is the transmit side of HARQ on one carrier: it hands out
// process ids and keeps every unacknowledged block for retransmission.
type HarqEntity struct {
	maxRetx uint8
	active  map[harqKey]*txJob
	next    map[uint16]uint8
}

// NewHarqEntity creates an entity allowing maxRetx retransmissions.
func NewHarqEntity(maxRetx uint8) *HarqEntity {
	return &HarqEntity{
		maxRetx: maxRetx,
		active:  make(map[harqKey]*txJob),
		next:    make(map[uint16]uint8),
	}
}

// Start assigns a free process to a new block. It returns false when every
// process of rnti is waiting for feedback.
func (h *HarqEntity) Start(rnti uint16, packets []*phy.Packet, tb phy.ExpectedTb) (txJob, bool) {
	first := h.next[rnti]
	for i := uint8(0); i < numHarqProcesses; i++ {
		proc := (first + i) % numHarqProcesses
		k := harqKey{rnti, proc}
		if _, busy := h.active[k]; busy {
			continue
		}
		tb.HarqProcessID = proc
		tb.Ndi = 1
		tb.Rv = 0
		job := &txJob{rnti: rnti, packets: packets, tb: tb}
		h.active[k] = job
		h.next[rnti] = (proc + 1) % numHarqProcesses
		return *job, true
	}
	return txJob{}, false
}

// OnFeedback applies feedback for a process. On HarqRetransmit the
// returned job carries the next redundancy version.
func (h *HarqEntity) OnFeedback(rnti uint16, process uint8, status phy.HarqStatus) (txJob, HarqOutcome) {
	k := harqKey{rnti, process}
	job, ok := h.active[k]
	if !ok {
		return txJob{}, HarqUnknown
	}
	if status == phy.Ack {
		delete(h.active, k)
		return *job, HarqAcked
	}
	if job.tb.Rv >= h.maxRetx {
		delete(h.active, k)
		return *job, HarqDropped
	}
	job.tb.Rv++
	job.tb.Ndi = 0
	return *job, HarqRetransmit
}

// Release frees a process without feedback. It is used when HARQ is
// disabled and no feedback will ever arrive.
func (h *HarqEntity) Release(rnti uint16, process uint8) bool {
	k := harqKey{rnti, process}
	if _, ok := h.active[k]; !ok {
		return false
	}
	delete(h.active, k)
	return true
}

// Active returns the number of processes waiting for feedback.
func (h *HarqEntity) Active() int { return len(h.active) }
