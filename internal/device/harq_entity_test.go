package device

import (
	"testing"

	"github.com/signalsfoundry/nr-ran-simulator/internal/phy"
)

func TestHarqEntityProcessAllocation(t *testing.T) {
	h := NewHarqEntity(MaxHarqRetx)
	for i := 0; i < numHarqProcesses; i++ {
		job, ok := h.Start(1, nil, phy.ExpectedTb{})
		if !ok {
			t.Fatalf("Start %d rejected", i)
		}
		if int(job.tb.HarqProcessID) != i || job.tb.Ndi != 1 || job.tb.Rv != 0 {
			t.Fatalf("job %d tb = %+v", i, job.tb)
		}
	}
	if _, ok := h.Start(1, nil, phy.ExpectedTb{}); ok {
		t.Fatalf("Start accepted with every process busy")
	}
	if _, ok := h.Start(2, nil, phy.ExpectedTb{}); !ok {
		t.Fatalf("other rnti rejected")
	}
}

func TestHarqEntityFeedback(t *testing.T) {
	h := NewHarqEntity(2)
	job, _ := h.Start(1, nil, phy.ExpectedTb{TbSize: 10})
	proc := job.tb.HarqProcessID

	if _, o := h.OnFeedback(1, proc+1, phy.Nack); o != HarqUnknown {
		t.Fatalf("unknown process outcome = %v", o)
	}
	for rv := uint8(1); rv <= 2; rv++ {
		retx, o := h.OnFeedback(1, proc, phy.Nack)
		if o != HarqRetransmit || retx.tb.Rv != rv || retx.tb.Ndi != 0 {
			t.Fatalf("nack %d: outcome=%v tb=%+v", rv, o, retx.tb)
		}
	}
	if _, o := h.OnFeedback(1, proc, phy.Nack); o != HarqDropped {
		t.Fatalf("outcome after max retx = %v, want dropped", o)
	}
	if h.Active() != 0 {
		t.Fatalf("Active = %d, want 0", h.Active())
	}

	job, _ = h.Start(1, nil, phy.ExpectedTb{})
	if _, o := h.OnFeedback(1, job.tb.HarqProcessID, phy.Ack); o != HarqAcked {
		t.Fatalf("ack outcome = %v", o)
	}
}

func TestHarqEntityRelease(t *testing.T) {
	h := NewHarqEntity(MaxHarqRetx)
	job, _ := h.Start(1, nil, phy.ExpectedTb{})
	if !h.Release(1, job.tb.HarqProcessID) {
		t.Fatalf("Release of an active process returned false")
	}
	if h.Release(1, job.tb.HarqProcessID) {
		t.Fatalf("second Release returned true")
	}
	if _, o := h.OnFeedback(1, job.tb.HarqProcessID, phy.Ack); o != HarqUnknown {
		t.Fatalf("feedback after release = %v, want unknown", o)
	}
}
