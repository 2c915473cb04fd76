package model

import (
	"errors"
	"fmt"
	"math"
	"time"
)

// Policy limits for the spectrum partition.
const (
	MaxBwpsPerCarrier     = 4
	MaxCarriersPerBand    = 16
	MaxAggregatedCarriers = 16
	MaxBands              = 16

	// DefaultFrequencySeparationHz is the largest gap between two adjacent
	// carriers that still counts as contiguous.
	DefaultFrequencySeparationHz = 1.0

	// SubcarriersPerRb is the number of subcarriers in one resource block.
	SubcarriersPerRb = 12
	// BaseSubcarrierSpacingHz is the numerology-0 subcarrier spacing.
	BaseSubcarrierSpacingHz = 15e3
	// SymbolsPerSlot is the normal cyclic prefix symbol count.
	SymbolsPerSlot = 14
)

var (
	ErrTooManyBwps     = errors.New("too many bandwidth parts in carrier")
	ErrTooManyCarriers = errors.New("too many component carriers in band")
)

// ContiguousMode says whether the carriers of a band are adjacent in
// frequency.
type ContiguousMode int

const (
	Contiguous ContiguousMode = iota
	NonContiguous
)

func (m ContiguousMode) String() string {
	switch m {
	case Contiguous:
		return "contiguous"
	case NonContiguous:
		return "non-contiguous"
	default:
		return fmt.Sprintf("ContiguousMode(%d)", int(m))
	}
}

// CarrierRole marks the single primary carrier of a carrier aggregation
// setup.
type CarrierRole int

const (
	Secondary CarrierRole = iota
	Primary
)

func (r CarrierRole) String() string {
	if r == Primary {
		return "primary"
	}
	return "secondary"
}

// DeviceRole distinguishes base stations from user equipment.
type DeviceRole int

const (
	GnbRole DeviceRole = iota
	UeRole
)

func (r DeviceRole) String() string {
	if r == UeRole {
		return "ue"
	}
	return "gnb"
}

// BandwidthPartElement is a contiguous frequency range with its own
// numerology. Frequencies are in Hz.
type BandwidthPartElement struct {
	ID               uint8
	Numerology       uint8
	CentralFrequency float64
	LowerFrequency   float64
	HigherFrequency  float64
	Bandwidth        float64
}

// NewBandwidthPart builds a BWP centred on centralHz.
func NewBandwidthPart(id, numerology uint8, centralHz, bandwidthHz float64) BandwidthPartElement {
	return BandwidthPartElement{
		ID:               id,
		Numerology:       numerology,
		CentralFrequency: centralHz,
		LowerFrequency:   centralHz - bandwidthHz/2,
		HigherFrequency:  centralHz + bandwidthHz/2,
		Bandwidth:        bandwidthHz,
	}
}

// SubcarrierSpacing returns 15 kHz * 2^numerology.
func (b BandwidthPartElement) SubcarrierSpacing() float64 {
	return BaseSubcarrierSpacingHz * math.Pow(2, float64(b.Numerology))
}

// RbBandwidth returns the width of one resource block in Hz.
func (b BandwidthPartElement) RbBandwidth() float64 {
	return SubcarriersPerRb * b.SubcarrierSpacing()
}

// NumRbs returns how many whole resource blocks fit in the BWP.
func (b BandwidthPartElement) NumRbs() int {
	rb := b.RbBandwidth()
	if rb <= 0 {
		return 0
	}
	return int(math.Floor(b.Bandwidth / rb))
}

// SlotDuration returns 1 ms / 2^numerology.
func (b BandwidthPartElement) SlotDuration() time.Duration {
	return time.Millisecond >> b.Numerology
}

// SymbolDuration returns the length of one OFDM symbol.
func (b BandwidthPartElement) SymbolDuration() time.Duration {
	return b.SlotDuration() / SymbolsPerSlot
}

// Contains reports whether the BWP lies within [lower, higher].
func (b BandwidthPartElement) Contains(lower, higher float64) bool {
	return b.LowerFrequency >= lower && b.HigherFrequency <= higher
}

// ComponentCarrierInfo is one carrier with up to MaxBwpsPerCarrier BWPs.
type ComponentCarrierInfo struct {
	ID               uint8
	Role             CarrierRole
	CentralFrequency float64
	LowerFrequency   float64
	HigherFrequency  float64
	Bandwidth        float64
	ActiveBwp        uint8
	Bwps             []BandwidthPartElement
}

// NewComponentCarrier builds a carrier centred on centralHz with no BWPs.
func NewComponentCarrier(id uint8, role CarrierRole, centralHz, bandwidthHz float64) ComponentCarrierInfo {
	return ComponentCarrierInfo{
		ID:               id,
		Role:             role,
		CentralFrequency: centralHz,
		LowerFrequency:   centralHz - bandwidthHz/2,
		HigherFrequency:  centralHz + bandwidthHz/2,
		Bandwidth:        bandwidthHz,
	}
}

// AddBwp appends a BWP, refusing more than MaxBwpsPerCarrier.
func (cc *ComponentCarrierInfo) AddBwp(bwp BandwidthPartElement) error {
	if len(cc.Bwps) >= MaxBwpsPerCarrier {
		return fmt.Errorf("%w: carrier %d already holds %d", ErrTooManyBwps, cc.ID, len(cc.Bwps))
	}
	cc.Bwps = append(cc.Bwps, bwp)
	return nil
}

// ActiveBwpElement returns the BWP whose id equals ActiveBwp.
func (cc ComponentCarrierInfo) ActiveBwpElement() (BandwidthPartElement, bool) {
	for _, bwp := range cc.Bwps {
		if bwp.ID == cc.ActiveBwp {
			return bwp, true
		}
	}
	return BandwidthPartElement{}, false
}

// OperationBandInfo is a spectrum band made of one or more carriers.
type OperationBandInfo struct {
	ID               uint8
	CentralFrequency float64
	LowerFrequency   float64
	HigherFrequency  float64
	Bandwidth        float64
	Contiguity       ContiguousMode
	Carriers         []ComponentCarrierInfo
}

// NewOperationBand builds an empty band centred on centralHz.
func NewOperationBand(id uint8, centralHz, bandwidthHz float64) OperationBandInfo {
	return OperationBandInfo{
		ID:               id,
		CentralFrequency: centralHz,
		LowerFrequency:   centralHz - bandwidthHz/2,
		HigherFrequency:  centralHz + bandwidthHz/2,
		Bandwidth:        bandwidthHz,
	}
}

// AddCarrier appends a carrier, refusing more than MaxCarriersPerBand.
func (b *OperationBandInfo) AddCarrier(cc ComponentCarrierInfo) error {
	if len(b.Carriers) >= MaxCarriersPerBand {
		return fmt.Errorf("%w: band %d already holds %d", ErrTooManyCarriers, b.ID, len(b.Carriers))
	}
	b.Carriers = append(b.Carriers, cc)
	return nil
}

// Clone returns a deep copy of the band.
func (b OperationBandInfo) Clone() OperationBandInfo {
	out := b
	out.Carriers = make([]ComponentCarrierInfo, len(b.Carriers))
	for i, cc := range b.Carriers {
		cc.Bwps = append([]BandwidthPartElement(nil), cc.Bwps...)
		out.Carriers[i] = cc
	}
	return out
}
