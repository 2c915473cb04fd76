package phy

import "sort"

// ExpectedTb is what the transmitter side announces before a transport
// block reaches the receiver.
type ExpectedTb struct {
	// Ndi is 1 for new data and 0 for a retransmission.
	Ndi           uint8
	TbSize        uint32
	Mcs           uint8
	RbBitmap      []int
	HarqProcessID uint8
	Rv            uint8
	IsDownlink    bool
	SymStart      uint8
	NumSym        uint8
}

// TransportBlockInfo is the receiver-side record of one expected block and
// the outcome of decoding it.
type TransportBlockInfo struct {
	Expected ExpectedTb

	Corrupted        bool
	HarqFeedbackSent bool
	ErrorModelOutput *ErrorModelOutput
	// Linear SINR over the RBs in Expected.RbBitmap.
	SinrAvg float64
	SinrMin float64
}

// TbTracker maps RNTIs to expected transport blocks. It belongs to exactly
// one SpectrumPhy and is not safe for concurrent use.
type TbTracker struct {
	tbs map[uint16]*TransportBlockInfo
}

// NewTbTracker creates an empty tracker.
func NewTbTracker() *TbTracker {
	return &TbTracker{tbs: make(map[uint16]*TransportBlockInfo)}
}

// Add registers a block for rnti, replacing any previous registration.
// It reports whether an entry was overwritten.
func (t *TbTracker) Add(rnti uint16, tb ExpectedTb) bool {
	_, existed := t.tbs[rnti]
	tb.RbBitmap = append([]int(nil), tb.RbBitmap...)
	t.tbs[rnti] = &TransportBlockInfo{Expected: tb}
	return existed
}

// Get returns the record for rnti.
func (t *TbTracker) Get(rnti uint16) (*TransportBlockInfo, bool) {
	info, ok := t.tbs[rnti]
	return info, ok
}

// Remove drops the record for rnti.
func (t *TbTracker) Remove(rnti uint16) {
	delete(t.tbs, rnti)
}

// Len returns the number of tracked blocks.
func (t *TbTracker) Len() int { return len(t.tbs) }

// Rntis returns the tracked RNTIs in ascending order.
func (t *TbTracker) Rntis() []uint16 {
	out := make([]uint16, 0, len(t.tbs))
	for rnti := range t.tbs {
		out = append(out, rnti)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}
