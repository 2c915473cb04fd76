package phy

import (
	"sort"
	"time"
)

// rxSignal is one signal as seen by a receiver.
type rxSignal struct {
	start time.Time
	end   time.Time
	power []float64
}

func (s *rxSignal) activeAt(t time.Time) bool {
	return !s.start.After(t) && s.end.After(t)
}

func (s *rxSignal) overlaps(from, to time.Time) bool {
	return s.start.Before(to) && s.end.After(from)
}

func (s *rxSignal) total() float64 {
	var sum float64
	for _, p := range s.power {
		sum += p
	}
	return sum
}

// Interference accumulates every signal a receiver hears. Signals stay
// until Prune removes the ones that have ended.
type Interference struct {
	numRbs     int
	noisePerRb float64
	signals    []*rxSignal
}

// NewInterference creates an accumulator for numRbs resource blocks with
// the given thermal noise per RB in watts.
func NewInterference(numRbs int, noisePerRb float64) *Interference {
	return &Interference{numRbs: numRbs, noisePerRb: noisePerRb}
}

// Add records a signal arriving at now. Power vectors shorter than the RB
// grid are zero-padded; longer ones are truncated.
func (in *Interference) Add(now time.Time, duration time.Duration, power []float64) *rxSignal {
	p := make([]float64, in.numRbs)
	copy(p, power)
	sig := &rxSignal{start: now, end: now.Add(duration), power: p}
	in.signals = append(in.signals, sig)
	return sig
}

// ChannelPower returns the total in-band power active at now.
func (in *Interference) ChannelPower(now time.Time) float64 {
	var sum float64
	for _, s := range in.signals {
		if s.activeAt(now) {
			sum += s.total()
		}
	}
	return sum
}

// EnergyDuration returns how long the channel power stays above
// thresholdW, based on the end times of the signals active at now. Zero
// means the channel is clear.
func (in *Interference) EnergyDuration(thresholdW float64, now time.Time) time.Duration {
	var active []*rxSignal
	var power float64
	for _, s := range in.signals {
		if s.activeAt(now) {
			active = append(active, s)
			power += s.total()
		}
	}
	if power <= thresholdW {
		return 0
	}

	sort.SliceStable(active, func(i, j int) bool { return active[i].end.Before(active[j].end) })
	for _, s := range active {
		power -= s.total()
		if power <= thresholdW {
			return s.end.Sub(now)
		}
	}
	return active[len(active)-1].end.Sub(now)
}

// Sinr returns the per-RB SINR of target against noise plus every other
// signal overlapping [from, to).
func (in *Interference) Sinr(target *rxSignal, from, to time.Time) []float64 {
	interf := make([]float64, in.numRbs)
	for _, s := range in.signals {
		if s == target || !s.overlaps(from, to) {
			continue
		}
		for rb, p := range s.power {
			interf[rb] += p
		}
	}

	sinr := make([]float64, in.numRbs)
	for rb := range sinr {
		sinr[rb] = target.power[rb] / (in.noisePerRb + interf[rb])
	}
	return sinr
}

// Prune forgets signals that ended at or before now.
func (in *Interference) Prune(now time.Time) {
	kept := in.signals[:0]
	for _, s := range in.signals {
		if s.end.After(now) {
			kept = append(kept, s)
		}
	}
	for i := len(kept); i < len(in.signals); i++ {
		in.signals[i] = nil
	}
	in.signals = kept
}

// Len returns the number of remembered signals.
func (in *Interference) Len() int { return len(in.signals) }
