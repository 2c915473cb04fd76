package phy

import "fmt"

// State is the receive/transmit state of a SpectrumPhy.
type State int

const (
	Idle State = iota
	Tx
	RxData
	RxDlCtrl
	RxUlCtrl
	CcaBusy
)

func (s State) String() string {
	switch s {
	case Idle:
		return "IDLE"
	case Tx:
		return "TX"
	case RxData:
		return "RX_DATA"
	case RxDlCtrl:
		return "RX_DL_CTRL"
	case RxUlCtrl:
		return "RX_UL_CTRL"
	case CcaBusy:
		return "CCA_BUSY"
	default:
		return fmt.Sprintf("State(%d)", int(s))
	}
}

// canTransmit reports whether a new transmission may start from s.
func (s State) canTransmit() bool {
	return s == Idle || s == CcaBusy
}

func (s State) receiving() bool {
	return s == RxData || s == RxDlCtrl || s == RxUlCtrl
}
