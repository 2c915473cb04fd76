package phy

import (
	"testing"
	"time"
)

func TestEnergyDuration(t *testing.T) {
	t0 := time.Unix(0, 0)
	in := NewInterference(1, 0)
	in.Add(t0, 2*time.Millisecond, []float64{2e-9})
	in.Add(t0, 5*time.Millisecond, []float64{2e-9})

	cases := []struct {
		threshold float64
		want      time.Duration
	}{
		{threshold: 1e-9, want: 5 * time.Millisecond},
		{threshold: 3e-9, want: 2 * time.Millisecond},
		{threshold: 5e-9, want: 0},
	}
	for _, tc := range cases {
		if got := in.EnergyDuration(tc.threshold, t0); got != tc.want {
			t.Fatalf("EnergyDuration(%v) = %v, want %v", tc.threshold, got, tc.want)
		}
	}

	if got := in.EnergyDuration(1e-9, t0.Add(3*time.Millisecond)); got != 2*time.Millisecond {
		t.Fatalf("EnergyDuration at 3ms = %v, want 2ms", got)
	}
}

func TestSinrExcludesTargetAndDisjointSignals(t *testing.T) {
	t0 := time.Unix(0, 0)
	in := NewInterference(2, 1e-12)
	target := in.Add(t0, time.Millisecond, []float64{1e-9, 1e-9})
	in.Add(t0, time.Millisecond, []float64{0, 1e-9})
	in.Add(t0.Add(2*time.Millisecond), time.Millisecond, []float64{1, 1})

	sinr := in.Sinr(target, t0, t0.Add(time.Millisecond))
	if sinr[0] < 999 || sinr[0] > 1001 {
		t.Fatalf("sinr[0] = %v, want ~1000", sinr[0])
	}
	if sinr[1] > 1 {
		t.Fatalf("sinr[1] = %v, want below 1", sinr[1])
	}
}

func TestPruneDropsEndedSignals(t *testing.T) {
	t0 := time.Unix(0, 0)
	in := NewInterference(1, 0)
	in.Add(t0, time.Millisecond, []float64{1})
	in.Add(t0, 3*time.Millisecond, []float64{1})

	in.Prune(t0.Add(time.Millisecond))
	if in.Len() != 1 {
		t.Fatalf("Len = %d, want 1", in.Len())
	}
	if p := in.ChannelPower(t0.Add(2 * time.Millisecond)); p != 1 {
		t.Fatalf("ChannelPower = %v, want 1", p)
	}
}
