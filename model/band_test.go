package model

import (
	"errors"
	"testing"
	"time"
)

func TestBandwidthPartDerivedValues(t *testing.T) {
	bwp := NewBandwidthPart(1, 2, 28.1e9, 100e6)

	if bwp.LowerFrequency != 28.05e9 || bwp.HigherFrequency != 28.15e9 {
		t.Fatalf("bounds = [%g, %g], want [28.05e9, 28.15e9]", bwp.LowerFrequency, bwp.HigherFrequency)
	}
	if got := bwp.SubcarrierSpacing(); got != 60e3 {
		t.Fatalf("SubcarrierSpacing = %g, want 60e3", got)
	}
	if got := bwp.NumRbs(); got != 138 {
		t.Fatalf("NumRbs = %d, want 138", got)
	}
	if got := bwp.SlotDuration(); got != 250*time.Microsecond {
		t.Fatalf("SlotDuration = %v, want 250us", got)
	}
}

func TestComponentCarrierAddBwpLimit(t *testing.T) {
	cc := NewComponentCarrier(0, Primary, 28e9, 400e6)
	for i := 0; i < MaxBwpsPerCarrier; i++ {
		if err := cc.AddBwp(NewBandwidthPart(uint8(i), 0, 28e9, 10e6)); err != nil {
			t.Fatalf("AddBwp(%d): %v", i, err)
		}
	}
	if err := cc.AddBwp(NewBandwidthPart(9, 0, 28e9, 10e6)); !errors.Is(err, ErrTooManyBwps) {
		t.Fatalf("AddBwp error = %v, want %v", err, ErrTooManyBwps)
	}
}

func TestOperationBandCloneIsDeep(t *testing.T) {
	band := NewOperationBand(0, 28e9, 400e6)
	cc := NewComponentCarrier(0, Primary, 28e9, 400e6)
	_ = cc.AddBwp(NewBandwidthPart(0, 2, 28e9, 100e6))
	_ = band.AddCarrier(cc)

	clone := band.Clone()
	clone.Carriers[0].ActiveBwp = 3
	clone.Carriers[0].Bwps[0].Bandwidth = 1

	if band.Carriers[0].ActiveBwp != 0 || band.Carriers[0].Bwps[0].Bandwidth != 100e6 {
		t.Fatalf("Clone shares state with the original: %+v", band.Carriers[0])
	}
}
