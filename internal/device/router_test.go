package device

import (
	"errors"
	"testing"

	"github.com/signalsfoundry/nr-ran-simulator/core"
	"github.com/signalsfoundry/nr-ran-simulator/internal/phy"
	"github.com/signalsfoundry/nr-ran-simulator/model"
	"github.com/signalsfoundry/nr-ran-simulator/timectrl"
)

type bareDevice struct{}

func (bareDevice) CarrierManager() *BwpManager { return nil }

func twoCarrierUe(t *testing.T) *UeDevice {
	t.Helper()
	sched := timectrl.NewScheduler(epoch)
	ue := NewUeDevice("ue0", 1, core.Vec3{}, nil, nil)
	for i, f := range []float64{28.05e9, 28.15e9} {
		id := uint8(i)
		bwp := model.NewBandwidthPart(id, 2, f, 100e6)
		cc := newCarrier(t, sched, nil, model.UeRole, "ue0-cc"+string(rune('0'+i)), id, uint16(10+i), bwp, core.Vec3{}, 23)
		if err := ue.AddCarrier(cc); err != nil {
			t.Fatalf("AddCarrier: %v", err)
		}
	}
	return ue
}

func TestRouteFeedbackWithoutManager(t *testing.T) {
	fb := FromDl(phy.DlHarqInfo{Rnti: 1})
	for _, dev := range []MultiCarrierDevice{nil, bareDevice{}} {
		_, err := RouteFeedback(dev, fb)
		if !core.IsConfigError(err) || !errors.Is(err, ErrNoCarrierManager) {
			t.Fatalf("RouteFeedback(%T) err = %v, want ErrNoCarrierManager config error", dev, err)
		}
	}
}

func TestRouteFeedbackByCarrierID(t *testing.T) {
	ue := twoCarrierUe(t)

	idx, err := RouteFeedback(ue, FromDl(phy.DlHarqInfo{Rnti: 1, HarqProcessID: 2, CarrierID: 1, CellID: 10}))
	if err != nil {
		t.Fatalf("RouteFeedback: %v", err)
	}
	if idx != 1 {
		t.Fatalf("carrier index = %d, want 1", idx)
	}
	if n := ue.Carriers()[1].Phy().PendingFeedback(); n != 1 {
		t.Fatalf("pending feedback on carrier 1 = %d, want 1", n)
	}
	if n := ue.Carriers()[0].Phy().PendingFeedback(); n != 0 {
		t.Fatalf("pending feedback on carrier 0 = %d, want 0", n)
	}
}

func TestRouteFeedbackFallsBackToCell(t *testing.T) {
	ue := twoCarrierUe(t)

	idx, err := RouteFeedback(ue, FromDl(phy.DlHarqInfo{Rnti: 1, CarrierID: 9, CellID: 10}))
	if err != nil {
		t.Fatalf("RouteFeedback: %v", err)
	}
	if idx != 0 {
		t.Fatalf("carrier index = %d, want 0", idx)
	}

	_, err = RouteFeedback(ue, FromDl(phy.DlHarqInfo{Rnti: 1, CarrierID: 9, CellID: 99}))
	if !errors.Is(err, ErrUnknownCarrier) || core.IsConfigError(err) {
		t.Fatalf("err = %v, want runtime ErrUnknownCarrier", err)
	}
}

func TestRouteFeedbackDrivesHarqEntity(t *testing.T) {
	ue := twoCarrierUe(t)
	p := ue.Carriers()[0].Phy()
	if !p.Transmit(1, []*phy.Packet{{Rnti: 1}}, phy.ExpectedTb{TbSize: 10}) {
		t.Fatalf("Transmit rejected")
	}

	// UL feedback arriving at a UE comes from the gNB.
	if _, err := RouteFeedback(ue, FromUl(phy.UlHarqInfo{Rnti: 1, HarqProcessID: 0, CarrierID: 0, Status: phy.Ack})); err != nil {
		t.Fatalf("RouteFeedback: %v", err)
	}
	if p.Harq().Active() != 0 {
		t.Fatalf("process still active after ACK")
	}
	if ue.Stats().HarqAcks != 1 {
		t.Fatalf("HarqAcks = %d, want 1", ue.Stats().HarqAcks)
	}
}
