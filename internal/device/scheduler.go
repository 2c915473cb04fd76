package device

import "github.com/signalsfoundry/nr-ran-simulator/model"

// Allocation is the resource assignment of one transport block.
type Allocation struct {
	RbBitmap []int
	Mcs      uint8
}

// Scheduler chooses the resources of each transport block. Resource
// allocation policy is pluggable; devices only depend on this contract.
type Scheduler interface {
	Name() string
	Allocate(bwp model.BandwidthPartElement, rnti uint16, bytes uint32) Allocation
}

// FullBandScheduler gives every block all RBs of the BWP at a fixed MCS.
type FullBandScheduler struct {
	Mcs uint8
}

// DefaultMcs is used by FullBandScheduler when none is configured.
const DefaultMcs = 10

func (FullBandScheduler) Name() string { return "full-band" }

func (s FullBandScheduler) Allocate(bwp model.BandwidthPartElement, _ uint16, _ uint32) Allocation {
	n := bwp.NumRbs()
	rbs := make([]int, n)
	for i := range rbs {
		rbs[i] = i
	}
	return Allocation{RbBitmap: rbs, Mcs: s.Mcs}
}
