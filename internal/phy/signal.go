package phy

import (
	"time"

	"github.com/signalsfoundry/nr-ran-simulator/core"
	"github.com/signalsfoundry/nr-ran-simulator/model"
)

// SignalKind classifies what a transmission carries.
type SignalKind int

const (
	DataSignal SignalKind = iota
	DlCtrlSignal
	UlCtrlSignal
	// ForeignSignal is energy from a non-NR source. It only ever counts as
	// interference.
	ForeignSignal
)

func (k SignalKind) String() string {
	switch k {
	case DataSignal:
		return "data"
	case DlCtrlSignal:
		return "dl_ctrl"
	case UlCtrlSignal:
		return "ul_ctrl"
	default:
		return "foreign"
	}
}

// Packet is a MAC PDU tagged with the RNTI of the UE it belongs to.
type Packet struct {
	Rnti     uint16
	Protocol uint16
	Size     uint32
	Payload  []byte
}

// ControlMessageType identifies a control message.
type ControlMessageType int

const (
	DciMessage ControlMessageType = iota
	DlHarqFeedbackMessage
	UlHarqFeedbackMessage
)

func (t ControlMessageType) String() string {
	switch t {
	case DlHarqFeedbackMessage:
		return "dl_harq_feedback"
	case UlHarqFeedbackMessage:
		return "ul_harq_feedback"
	default:
		return "dci"
	}
}

// ControlMessage is carried by control frames and, alongside data, by data
// frames. Control messages never have transport block semantics.
type ControlMessage struct {
	Type ControlMessageType
	Rnti uint16
	// Dci announces the transport block that follows in the same slot.
	Dci    *ExpectedTb
	DlHarq *DlHarqInfo
	UlHarq *UlHarqInfo
}

// SignalParams describes one transmission. The sender fills the Tx fields;
// the channel fills RxPsd per receiver.
type SignalParams struct {
	Kind       SignalKind
	CellID     uint16
	SenderID   string
	SenderRole model.DeviceRole

	TxPosition core.Vec3
	TxGainDBi  float64
	// TxPsd and RxPsd hold the power per resource block in watts.
	TxPsd []float64
	RxPsd []float64

	Duration     time.Duration
	Packets      []*Packet
	CtrlMessages []ControlMessage
	SlotIndex    uint8
}

// Clone copies the params for delivery to one receiver. Packets and
// messages are shared; power vectors are not.
func (p *SignalParams) Clone() *SignalParams {
	out := *p
	out.TxPsd = append([]float64(nil), p.TxPsd...)
	out.RxPsd = nil
	return &out
}

// Channel is the shared medium a SpectrumPhy transmits into.
type Channel interface {
	StartTx(params *SignalParams)
}
