package phy

import "time"

// RxPacketTrace describes the decoding of one transport block.
type RxPacketTrace struct {
	Time          time.Time
	CellID        uint16
	CarrierID     uint8
	Rnti          uint16
	Downlink      bool
	TbSize        uint32
	Mcs           uint8
	Rv            uint8
	HarqProcessID uint8
	SymStart      uint8
	NumSym        uint8
	NumRbs        int
	SinrAvgDb     float64
	SinrMinDb     float64
	Tbler         float64
	Corrupted     bool
}

// RxTraceSink consumes per transport block traces.
type RxTraceSink interface {
	RecordRx(trace RxPacketTrace)
}

// MetricsRecorder receives PHY events for export. Implementations must
// tolerate being called from the simulation loop without blocking.
type MetricsRecorder interface {
	ObserveStateTransition(from, to string)
	ObserveTransmission(kind string, accepted bool)
	ObserveTransportBlock(downlink, corrupted bool, sinrDb float64)
	ObserveHarqFeedback(downlink, ack bool)
	ObserveDroppedSignal(state string)
	ObserveChannelOccupancy(state string, d time.Duration)
}
