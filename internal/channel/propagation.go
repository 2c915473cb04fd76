package channel

import (
	"math"

	"github.com/signalsfoundry/nr-ran-simulator/core"
)

// SpeedOfLight in m/s.
const SpeedOfLight = 299792458.0

// PropagationLossModel returns the path loss in dB between two points at
// a carrier frequency in Hz.
type PropagationLossModel interface {
	LossDb(tx, rx core.Vec3, frequencyHz float64) float64
}

// FreeSpaceLoss is 92.45 + 20 log10(d_km) + 20 log10(f_GHz). Distances
// below MinDistanceM are clamped.
type FreeSpaceLoss struct {
	MinDistanceM float64
}

func (m FreeSpaceLoss) LossDb(tx, rx core.Vec3, frequencyHz float64) float64 {
	d := tx.DistanceTo(rx)
	minD := m.MinDistanceM
	if minD <= 0 {
		minD = 1
	}
	if d < minD {
		d = minD
	}
	return 92.45 + 20*math.Log10(d/1000) + 20*math.Log10(frequencyHz/1e9)
}

// ThreeGppUmiStreetCanyon is the line-of-sight urban micro model:
// 32.4 + 21 log10(d_3D) + 20 log10(f_GHz), with d in metres.
type ThreeGppUmiStreetCanyon struct{}

func (ThreeGppUmiStreetCanyon) LossDb(tx, rx core.Vec3, frequencyHz float64) float64 {
	d := tx.DistanceTo(rx)
	if d < 1 {
		d = 1
	}
	return 32.4 + 21*math.Log10(d) + 20*math.Log10(frequencyHz/1e9)
}

// LossModelByName resolves a configured model name. The empty string
// selects no loss.
func LossModelByName(name string) (PropagationLossModel, bool) {
	switch name {
	case "":
		return nil, true
	case "free-space", "fspl":
		return FreeSpaceLoss{}, true
	case "umi", "3gpp-umi-street-canyon":
		return ThreeGppUmiStreetCanyon{}, true
	default:
		return nil, false
	}
}

// PropagationDelay returns the line-of-sight delay between two points.
func PropagationDelay(tx, rx core.Vec3) float64 {
	return tx.DistanceTo(rx) / SpeedOfLight
}
