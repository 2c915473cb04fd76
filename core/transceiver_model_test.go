package core

import (
	"math"
	"testing"
)

func TestTxPowerPerRbW(t *testing.T) {
	tm := TransceiverModel{TxPowerDBm: 30}
	psd := tm.TxPowerPerRbW(4)
	if len(psd) != 4 {
		t.Fatalf("len = %d, want 4", len(psd))
	}
	var total float64
	for _, p := range psd {
		total += p
	}
	if math.Abs(total-1) > 1e-12 {
		t.Fatalf("total power = %v W, want 1", total)
	}
	if tm.TxPowerPerRbW(0) != nil {
		t.Fatalf("expected nil for zero RBs")
	}
}

func TestUnitConversions(t *testing.T) {
	if got := DbmToW(30); math.Abs(got-1) > 1e-12 {
		t.Fatalf("DbmToW(30) = %v, want 1", got)
	}
	if got := WToDbm(0.001); math.Abs(got) > 1e-9 {
		t.Fatalf("WToDbm(1mW) = %v, want 0", got)
	}
	if got := DbToLinear(20); math.Abs(got-100) > 1e-9 {
		t.Fatalf("DbToLinear(20) = %v, want 100", got)
	}
	if !math.IsInf(LinearToDb(0), -1) {
		t.Fatalf("LinearToDb(0) should be -Inf")
	}

	// 180 kHz RB at 0 dB noise figure: -174 + 52.55 dBm.
	got := WToDbm(NoisePowerPerRbW(180e3, 0))
	if math.Abs(got-(-121.447)) > 0.01 {
		t.Fatalf("noise per RB = %v dBm, want about -121.45", got)
	}
}
