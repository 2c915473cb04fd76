package core

import (
	"sort"

	"github.com/signalsfoundry/nr-ran-simulator/model"
)

// DetermineContiguity sorts carriers by central frequency in place and
// classifies the band. Any adjacent overlap is a configuration error; any
// gap wider than separationHz makes the whole band non-contiguous.
func DetermineContiguity(carriers []model.ComponentCarrierInfo, separationHz float64) (model.ContiguousMode, error) {
	sort.SliceStable(carriers, func(i, j int) bool {
		return carriers[i].CentralFrequency < carriers[j].CentralFrequency
	})

	mode := model.Contiguous
	for i := 0; i+1 < len(carriers); i++ {
		gap := carriers[i+1].LowerFrequency - carriers[i].HigherFrequency
		if gap < 0 {
			return mode, configErr("DetermineContiguity", ErrCarrierOverlap,
				"carrier %d [%g, %g] and carrier %d [%g, %g]",
				carriers[i].ID, carriers[i].LowerFrequency, carriers[i].HigherFrequency,
				carriers[i+1].ID, carriers[i+1].LowerFrequency, carriers[i+1].HigherFrequency)
		}
		if gap > separationHz {
			mode = model.NonContiguous
		}
	}
	return mode, nil
}

// ValidateBwpsInCarrier checks the BWP layout of one carrier.
func ValidateBwpsInCarrier(cc model.ComponentCarrierInfo) error {
	const op = "ValidateBwpsInCarrier"

	if n := len(cc.Bwps); n < 1 || n > model.MaxBwpsPerCarrier {
		return configErr(op, ErrBwpCount, "carrier %d has %d, want 1..%d", cc.ID, n, model.MaxBwpsPerCarrier)
	}

	var total float64
	for _, bwp := range cc.Bwps {
		if !bwp.Contains(cc.LowerFrequency, cc.HigherFrequency) {
			return configErr(op, ErrBwpOutOfCarrier, "bwp %d [%g, %g] in carrier %d [%g, %g]",
				bwp.ID, bwp.LowerFrequency, bwp.HigherFrequency, cc.ID, cc.LowerFrequency, cc.HigherFrequency)
		}
		total += bwp.Bandwidth
	}
	if total > cc.Bandwidth {
		return configErr(op, ErrBwpAggregateTooLarge, "carrier %d: %g > %g", cc.ID, total, cc.Bandwidth)
	}

	if _, ok := cc.ActiveBwpElement(); !ok {
		return configErr(op, ErrActiveBwpMissing, "carrier %d active bwp %d", cc.ID, cc.ActiveBwp)
	}

	sorted := append([]model.BandwidthPartElement(nil), cc.Bwps...)
	sort.SliceStable(sorted, func(i, j int) bool {
		return sorted[i].LowerFrequency < sorted[j].LowerFrequency
	})
	for i := 0; i+1 < len(sorted); i++ {
		if sorted[i].HigherFrequency > sorted[i+1].LowerFrequency {
			return configErr(op, ErrBwpOverlap, "carrier %d: bwp %d and bwp %d",
				cc.ID, sorted[i].ID, sorted[i+1].ID)
		}
	}

	seen := make(map[uint8]struct{}, len(cc.Bwps))
	for _, bwp := range cc.Bwps {
		if _, dup := seen[bwp.ID]; dup {
			return configErr(op, ErrDuplicateBwpID, "carrier %d: bwp %d", cc.ID, bwp.ID)
		}
		seen[bwp.ID] = struct{}{}
	}
	return nil
}

// ValidateBand re-derives the contiguity of the band and validates every
// carrier in it. The band itself is not modified.
func ValidateBand(band model.OperationBandInfo) error {
	const op = "ValidateBand"

	if len(band.Carriers) == 0 {
		return configErr(op, ErrEmptyBand, "band %d", band.ID)
	}
	if len(band.Carriers) > model.MaxCarriersPerBand {
		return configErr(op, ErrTooManyCarriers, "band %d has %d, max %d",
			band.ID, len(band.Carriers), model.MaxCarriersPerBand)
	}

	carriers := append([]model.ComponentCarrierInfo(nil), band.Carriers...)
	if _, err := DetermineContiguity(carriers, model.DefaultFrequencySeparationHz); err != nil {
		return err
	}

	for _, cc := range band.Carriers {
		if cc.LowerFrequency < band.LowerFrequency || cc.HigherFrequency > band.HigherFrequency {
			return configErr(op, ErrCarrierOutOfBand, "carrier %d in band %d", cc.ID, band.ID)
		}
		if err := ValidateBwpsInCarrier(cc); err != nil {
			return err
		}
	}
	return nil
}

// ValidateTopology validates a complete carrier aggregation setup.
func ValidateTopology(bands []model.OperationBandInfo) error {
	const op = "ValidateTopology"

	if len(bands) == 0 {
		return configErr(op, ErrEmptyBand, "no bands configured")
	}
	if len(bands) > model.MaxBands {
		return configErr(op, ErrTooManyBands, "%d bands, max %d", len(bands), model.MaxBands)
	}

	for _, band := range bands {
		if err := ValidateBand(band); err != nil {
			return err
		}
	}

	sorted := append([]model.OperationBandInfo(nil), bands...)
	sort.SliceStable(sorted, func(i, j int) bool {
		return sorted[i].LowerFrequency < sorted[j].LowerFrequency
	})
	for i := 0; i+1 < len(sorted); i++ {
		if sorted[i].HigherFrequency > sorted[i+1].LowerFrequency {
			return configErr(op, ErrBandOverlap, "band %d and band %d", sorted[i].ID, sorted[i+1].ID)
		}
	}

	var carriers, primaries int
	for _, band := range bands {
		carriers += len(band.Carriers)
		for _, cc := range band.Carriers {
			if cc.Role == model.Primary {
				primaries++
			}
		}
	}
	if carriers > model.MaxAggregatedCarriers {
		return configErr(op, ErrTooManyCarriers, "%d carriers, max %d", carriers, model.MaxAggregatedCarriers)
	}
	if primaries != 1 {
		return configErr(op, ErrPrimaryCount, "found %d", primaries)
	}
	return nil
}

// ComputeAggregatedBandwidth sums the active BWP bandwidth of every carrier.
// Inactive BWPs are alternatives and do not count.
func ComputeAggregatedBandwidth(bands []model.OperationBandInfo) float64 {
	var total float64
	for _, band := range bands {
		for _, cc := range band.Carriers {
			if bwp, ok := cc.ActiveBwpElement(); ok {
				total += bwp.Bandwidth
			}
		}
	}
	return total
}
