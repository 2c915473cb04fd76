package phy

// HarqStatus is the decoding outcome reported back to the transmitter.
type HarqStatus int

const (
	Ack HarqStatus = iota
	Nack
)

func (s HarqStatus) String() string {
	if s == Nack {
		return "NACK"
	}
	return "ACK"
}

// DlHarqInfo is produced by a UE for a downlink transport block.
type DlHarqInfo struct {
	Rnti          uint16
	HarqProcessID uint8
	// NumRetx is the redundancy version of the attempt being acknowledged.
	NumRetx   uint8
	CellID    uint16
	CarrierID uint8
	Status    HarqStatus
}

// UlHarqInfo is produced by a gNB for an uplink transport block.
type UlHarqInfo struct {
	Rnti          uint16
	HarqProcessID uint8
	NumRetx       uint8
	CellID        uint16
	CarrierID     uint8
	Status        HarqStatus
}

type harqKey struct {
	rnti    uint16
	process uint8
}

// HarqHistory keeps the error model outputs of failed attempts per HARQ
// process so retransmissions can be soft-combined.
type HarqHistory struct {
	entries map[harqKey][]ErrorModelOutput
}

// NewHarqHistory creates an empty history.
func NewHarqHistory() *HarqHistory {
	return &HarqHistory{entries: make(map[harqKey][]ErrorModelOutput)}
}

// Get returns the stored attempts for a process.
func (h *HarqHistory) Get(rnti uint16, process uint8) []ErrorModelOutput {
	return h.entries[harqKey{rnti, process}]
}

// Append records a failed attempt.
func (h *HarqHistory) Append(rnti uint16, process uint8, out ErrorModelOutput) {
	k := harqKey{rnti, process}
	h.entries[k] = append(h.entries[k], out)
}

// Reset forgets a process, typically after an ACK.
func (h *HarqHistory) Reset(rnti uint16, process uint8) {
	delete(h.entries, harqKey{rnti, process})
}
