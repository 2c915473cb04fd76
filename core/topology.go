package core

import (
	"math"
	"sync"

	"github.com/signalsfoundry/nr-ran-simulator/model"
)

const (
	// Below this carrier frequency contiguous carriers use numerology 2.
	fr1UpperHz = 6e9

	maxCcBandwidthFr1 = 198e6
	maxCcBandwidthFr2 = 396e6

	minRbsPerCarrier = 24
	maxRbsPerCarrier = 275
)

// CarrierBwp ties an active BWP to the carrier and band that own it.
type CarrierBwp struct {
	BandIndex    int
	CarrierIndex int
	BandID       uint8
	CarrierID    uint8
	Role         model.CarrierRole
	Bwp          model.BandwidthPartElement
}

// Topology owns every band, carrier and BWP of a simulation by value.
// After construction the only permitted mutation is ChangeActiveBwp.
type Topology struct {
	mu sync.RWMutex

	bands []model.OperationBandInfo
	// Next free ids; kept wider than uint8 so exhaustion is detectable.
	nextBandID    int
	nextCarrierID int
}

// NewTopology creates an empty topology.
func NewTopology() *Topology {
	return &Topology{}
}

// AddOperationBand validates band and stores a copy of it.
func (t *Topology) AddOperationBand(band model.OperationBandInfo) error {
	if err := ValidateBand(band); err != nil {
		return err
	}

	t.mu.Lock()
	defer t.mu.Unlock()

	if len(t.bands) >= model.MaxBands {
		return configErr("AddOperationBand", ErrTooManyBands, "max %d", model.MaxBands)
	}
	t.bands = append(t.bands, band.Clone())
	t.nextBandID = max(t.nextBandID, int(band.ID)+1)
	for _, cc := range band.Carriers {
		t.nextCarrierID = max(t.nextCarrierID, int(cc.ID)+1)
	}
	return nil
}

// CreateOperationBand builds a band from explicit carriers. Carriers are
// sorted by frequency and the contiguity mode is derived from their gaps.
func (t *Topology) CreateOperationBand(centralHz, bandwidthHz float64, carriers []model.ComponentCarrierInfo) (model.OperationBandInfo, error) {
	if bandwidthHz <= 0 {
		return model.OperationBandInfo{}, configErr("CreateOperationBand", ErrInvalidBandwidth, "%g", bandwidthHz)
	}

	t.mu.RLock()
	bandID := t.nextBandID
	t.mu.RUnlock()
	if bandID > math.MaxUint8 {
		return model.OperationBandInfo{}, configErr("CreateOperationBand", ErrTooManyBands, "band ids exhausted")
	}
	band := model.NewOperationBand(uint8(bandID), centralHz, bandwidthHz)

	for _, cc := range carriers {
		if err := band.AddCarrier(cc); err != nil {
			return model.OperationBandInfo{}, NewConfigError("CreateOperationBand", err)
		}
	}

	mode, err := DetermineContiguity(band.Carriers, model.DefaultFrequencySeparationHz)
	if err != nil {
		return model.OperationBandInfo{}, err
	}
	band.Contiguity = mode

	if err := t.AddOperationBand(band); err != nil {
		return model.OperationBandInfo{}, err
	}
	return band, nil
}

// CreateOperationBandContiguousCc splits a band into numCCs equal adjacent
// carriers, each holding a single BWP that spans it. The first carrier is
// primary when the topology has no primary yet.
func (t *Topology) CreateOperationBandContiguousCc(centralHz, bandwidthHz float64, numCCs int) (model.OperationBandInfo, error) {
	const op = "CreateOperationBandContiguousCc"

	if numCCs < 1 || numCCs > model.MaxCarriersPerBand {
		return model.OperationBandInfo{}, configErr(op, ErrTooManyCarriers, "%d carriers requested", numCCs)
	}
	if bandwidthHz <= 0 {
		return model.OperationBandInfo{}, configErr(op, ErrInvalidBandwidth, "%g", bandwidthHz)
	}

	numerology := uint8(2)
	maxCcBw := maxCcBandwidthFr1
	if centralHz > fr1UpperHz {
		numerology = 3
		maxCcBw = maxCcBandwidthFr2
	}

	ccBw := math.Min(maxCcBw, bandwidthHz/float64(numCCs))
	sample := model.NewBandwidthPart(0, numerology, 0, ccBw)
	if rbs := sample.NumRbs(); rbs < minRbsPerCarrier || rbs > maxRbsPerCarrier {
		return model.OperationBandInfo{}, configErr(op, ErrInvalidRbCount, "%d rbs, want %d..%d",
			rbs, minRbsPerCarrier, maxRbsPerCarrier)
	}

	t.mu.RLock()
	bandID := t.nextBandID
	firstCarrierID := t.nextCarrierID
	hasPrimary := t.primaryCountLocked() > 0
	t.mu.RUnlock()

	if bandID > math.MaxUint8 {
		return model.OperationBandInfo{}, configErr(op, ErrTooManyBands, "band ids exhausted")
	}
	if last := firstCarrierID + numCCs - 1; last > math.MaxUint8 {
		return model.OperationBandInfo{}, configErr(op, ErrTooManyCarriers, "carrier id %d above %d", last, math.MaxUint8)
	}

	band := model.NewOperationBand(uint8(bandID), centralHz, bandwidthHz)
	band.Contiguity = model.Contiguous
	for c := 0; c < numCCs; c++ {
		lower := band.LowerFrequency + float64(c)*ccBw
		role := model.Secondary
		if c == 0 && !hasPrimary {
			role = model.Primary
		}
		id := uint8(firstCarrierID + c)
		cc := model.NewComponentCarrier(id, role, lower+ccBw/2, ccBw)
		cc.ActiveBwp = id
		if err := cc.AddBwp(model.NewBandwidthPart(id, numerology, cc.CentralFrequency, ccBw)); err != nil {
			return model.OperationBandInfo{}, NewConfigError(op, err)
		}
		if err := band.AddCarrier(cc); err != nil {
			return model.OperationBandInfo{}, NewConfigError(op, err)
		}
	}

	if err := t.AddOperationBand(band); err != nil {
		return model.OperationBandInfo{}, err
	}
	return band, nil
}

// Validate runs the whole-topology checks.
func (t *Topology) Validate() error {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return ValidateTopology(t.bands)
}

// Bands returns a deep copy of every band.
func (t *Topology) Bands() []model.OperationBandInfo {
	t.mu.RLock()
	defer t.mu.RUnlock()

	out := make([]model.OperationBandInfo, len(t.bands))
	for i, b := range t.bands {
		out[i] = b.Clone()
	}
	return out
}

// NumCarriers returns the carrier count across all bands.
func (t *Topology) NumCarriers() int {
	t.mu.RLock()
	defer t.mu.RUnlock()

	n := 0
	for _, b := range t.bands {
		n += len(b.Carriers)
	}
	return n
}

// ResolveActiveBwp returns the active BWP of the first primary carrier.
func (t *Topology) ResolveActiveBwp() (model.BandwidthPartElement, error) {
	t.mu.RLock()
	defer t.mu.RUnlock()

	for _, band := range t.bands {
		for _, cc := range band.Carriers {
			if cc.Role != model.Primary {
				continue
			}
			bwp, ok := cc.ActiveBwpElement()
			if !ok {
				return model.BandwidthPartElement{}, configErr("ResolveActiveBwp", ErrActiveBwpMissing,
					"primary carrier %d active bwp %d", cc.ID, cc.ActiveBwp)
			}
			return bwp, nil
		}
	}
	return model.BandwidthPartElement{}, configErr("ResolveActiveBwp", ErrPrimaryCount, "no primary carrier")
}

// ResolveActiveBwpAt returns the active BWP of the carrier at the given
// band and carrier indices.
func (t *Topology) ResolveActiveBwpAt(bandIndex, ccIndex int) (model.BandwidthPartElement, error) {
	t.mu.RLock()
	defer t.mu.RUnlock()

	cc, err := t.carrierLocked("ResolveActiveBwpAt", bandIndex, ccIndex)
	if err != nil {
		return model.BandwidthPartElement{}, err
	}
	bwp, ok := cc.ActiveBwpElement()
	if !ok {
		return model.BandwidthPartElement{}, configErr("ResolveActiveBwpAt", ErrActiveBwpMissing,
			"carrier %d active bwp %d", cc.ID, cc.ActiveBwp)
	}
	return bwp, nil
}

// ActiveBwps lists the active BWP of every carrier in band order.
func (t *Topology) ActiveBwps() ([]CarrierBwp, error) {
	t.mu.RLock()
	defer t.mu.RUnlock()

	var out []CarrierBwp
	for bi, band := range t.bands {
		for ci, cc := range band.Carriers {
			bwp, ok := cc.ActiveBwpElement()
			if !ok {
				return nil, configErr("ActiveBwps", ErrActiveBwpMissing, "carrier %d active bwp %d", cc.ID, cc.ActiveBwp)
			}
			out = append(out, CarrierBwp{
				BandIndex:    bi,
				CarrierIndex: ci,
				BandID:       band.ID,
				CarrierID:    cc.ID,
				Role:         cc.Role,
				Bwp:          bwp,
			})
		}
	}
	return out, nil
}

// AggregatedBandwidth sums the active BWP bandwidths of all carriers.
func (t *Topology) AggregatedBandwidth() float64 {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return ComputeAggregatedBandwidth(t.bands)
}

// ChangeActiveBwp switches the active BWP of a carrier, looked up by ids.
func (t *Topology) ChangeActiveBwp(bandID, carrierID, bwpID uint8) error {
	const op = "ChangeActiveBwp"

	t.mu.Lock()
	defer t.mu.Unlock()

	for bi := range t.bands {
		band := &t.bands[bi]
		if band.ID != bandID {
			continue
		}
		for ci := range band.Carriers {
			cc := &band.Carriers[ci]
			if cc.ID != carrierID {
				continue
			}
			for _, bwp := range cc.Bwps {
				if bwp.ID == bwpID {
					cc.ActiveBwp = bwpID
					return nil
				}
			}
			return configErr(op, ErrNotFound, "bwp %d in carrier %d", bwpID, carrierID)
		}
		return configErr(op, ErrNotFound, "carrier %d in band %d", carrierID, bandID)
	}
	return configErr(op, ErrNotFound, "band %d", bandID)
}

// ComponentCarrier returns a copy of the carrier at the given indices.
func (t *Topology) ComponentCarrier(bandIndex, ccIndex int) (model.ComponentCarrierInfo, error) {
	t.mu.RLock()
	defer t.mu.RUnlock()

	cc, err := t.carrierLocked("ComponentCarrier", bandIndex, ccIndex)
	if err != nil {
		return model.ComponentCarrierInfo{}, err
	}
	out := *cc
	out.Bwps = append([]model.BandwidthPartElement(nil), cc.Bwps...)
	return out, nil
}

// CarrierBandwidth returns the bandwidth in use on a carrier, which is the
// bandwidth of its active BWP.
func (t *Topology) CarrierBandwidth(bandIndex, ccIndex int) (float64, error) {
	bwp, err := t.ResolveActiveBwpAt(bandIndex, ccIndex)
	if err != nil {
		return 0, err
	}
	return bwp.Bandwidth, nil
}

func (t *Topology) carrierLocked(op string, bandIndex, ccIndex int) (*model.ComponentCarrierInfo, error) {
	if bandIndex < 0 || bandIndex >= len(t.bands) {
		return nil, configErr(op, ErrNotFound, "band index %d", bandIndex)
	}
	band := &t.bands[bandIndex]
	if ccIndex < 0 || ccIndex >= len(band.Carriers) {
		return nil, configErr(op, ErrNotFound, "carrier index %d in band %d", ccIndex, band.ID)
	}
	return &band.Carriers[ccIndex], nil
}

func (t *Topology) primaryCountLocked() int {
	n := 0
	for _, band := range t.bands {
		for _, cc := range band.Carriers {
			if cc.Role == model.Primary {
				n++
			}
		}
	}
	return n
}
