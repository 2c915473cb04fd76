package phy

import (
	"math"

	"github.com/signalsfoundry/nr-ran-simulator/core"
)

// ErrorModelOutput is what an error model returns for one decoding attempt.
type ErrorModelOutput struct {
	Tbler float64
	// EffectiveSinr is the linear effective SINR of this attempt alone,
	// kept so later retransmissions can combine with it.
	EffectiveSinr float64
}

// ErrorModel maps a per-RB SINR trace to a transport block error rate.
type ErrorModel interface {
	TbDecodingStats(sinr []float64, rbMap []int, tbSize uint32, mcs uint8, rv uint8, history []ErrorModelOutput) ErrorModelOutput
}

const (
	// maxCodeBlockBits is the LDPC base graph 1 code block size.
	maxCodeBlockBits = 8448

	defaultBlerSlope = 1.5
)

// ThresholdErrorModel computes the mean linear SINR over the used RBs,
// chase-combines it with earlier attempts of the same HARQ process and
// applies a logistic code block error curve centred on an MCS dependent
// SINR requirement. The TB fails when any code block fails.
type ThresholdErrorModel struct {
	// Slope of the logistic curve per dB. Zero means the default.
	Slope float64
}

var _ ErrorModel = ThresholdErrorModel{}

// RequiredSinrDb returns the SINR at which a code block at mcs fails half
// of the time.
func RequiredSinrDb(mcs uint8) float64 {
	return -5.0 + float64(mcs)
}

// TbDecodingStats implements ErrorModel.
func (m ThresholdErrorModel) TbDecodingStats(sinr []float64, rbMap []int, tbSize uint32, mcs uint8, rv uint8, history []ErrorModelOutput) ErrorModelOutput {
	eff, _ := averageSinr(sinr, rbMap)

	combined := eff
	for _, h := range history {
		combined += h.EffectiveSinr
	}

	slope := m.Slope
	if slope == 0 {
		slope = defaultBlerSlope
	}
	blerCb := 1 / (1 + math.Exp(slope*(core.LinearToDb(combined)-RequiredSinrDb(mcs))))

	numCb := math.Ceil(float64(tbSize) * 8 / maxCodeBlockBits)
	if numCb < 1 {
		numCb = 1
	}
	tbler := 1 - math.Pow(1-blerCb, numCb)

	return ErrorModelOutput{Tbler: tbler, EffectiveSinr: eff}
}

// averageSinr returns the mean and minimum linear SINR over rbMap, or over
// every RB when rbMap is empty. Out-of-range indices are ignored.
func averageSinr(sinr []float64, rbMap []int) (avg, min float64) {
	min = math.Inf(1)
	var sum float64
	var n int
	visit := func(v float64) {
		sum += v
		n++
		if v < min {
			min = v
		}
	}

	if len(rbMap) == 0 {
		for _, v := range sinr {
			visit(v)
		}
	} else {
		for _, rb := range rbMap {
			if rb >= 0 && rb < len(sinr) {
				visit(sinr[rb])
			}
		}
	}
	if n == 0 {
		return 0, 0
	}
	return sum / float64(n), min
}
