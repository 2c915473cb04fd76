package timectrl

import (
	"sync"
	"time"
)

// SimClock is an interface for accessing simulation time.
type SimClock interface {
	// Now returns the current simulation time.
	Now() time.Time
}

// Mode describes how the TimeController advances simulation time.
type Mode int

const (
	// RealTime paces each tick against the wall clock.
	RealTime Mode = iota
	// Accelerated steps by Tick as quickly as the loop can run.
	Accelerated
)

// TimeController steps simulation time in fixed ticks, dispatching due
// events on an attached Scheduler and notifying registered listeners.
type TimeController struct {
	mu        sync.RWMutex
	StartTime time.Time
	Tick      time.Duration
	Mode      Mode

	currentTime time.Time
	scheduler   *Scheduler
	listeners   []func(time.Time)
}

// NewTimeController constructs a controller.
func NewTimeController(start time.Time, tick time.Duration, mode Mode) *TimeController {
	return &TimeController{
		StartTime:   start,
		Tick:        tick,
		Mode:        mode,
		currentTime: start,
	}
}

// Attach makes every tick advance s to the new simulation time.
func (tc *TimeController) Attach(s *Scheduler) {
	tc.mu.Lock()
	defer tc.mu.Unlock()
	tc.scheduler = s
}

// Now returns the current simulation time. Implements SimClock.
func (tc *TimeController) Now() time.Time {
	tc.mu.RLock()
	defer tc.mu.RUnlock()
	return tc.currentTime
}

// SetTime moves the controller clock without running events.
func (tc *TimeController) SetTime(t time.Time) {
	tc.mu.Lock()
	defer tc.mu.Unlock()
	tc.currentTime = t
}

// AddListener registers a callback invoked on every tick.
func (tc *TimeController) AddListener(fn func(time.Time)) {
	tc.mu.Lock()
	defer tc.mu.Unlock()
	tc.listeners = append(tc.listeners, fn)
}

// Start runs the controller for the specified duration in a separate
// goroutine. It returns a channel that is closed when the controller
// finishes. A non-positive duration runs until stop is closed.
func (tc *TimeController) Start(duration time.Duration, stop <-chan struct{}) <-chan struct{} {
	done := make(chan struct{})
	go func() {
		defer close(done)

		tc.mu.Lock()
		simTime := tc.StartTime
		tc.currentTime = simTime
		tc.mu.Unlock()

		var ticks <-chan time.Time
		if tc.Mode == RealTime {
			ticker := time.NewTicker(tc.Tick)
			defer ticker.Stop()
			ticks = ticker.C
		}

		elapsed := time.Duration(0)
		for {
			if duration > 0 && elapsed >= duration {
				return
			}
			if ticks != nil {
				select {
				case <-ticks:
				case <-stop:
					return
				}
			} else {
				select {
				case <-stop:
					return
				default:
				}
			}

			simTime = simTime.Add(tc.Tick)
			elapsed += tc.Tick
			tc.step(simTime)
		}
	}()
	return done
}

func (tc *TimeController) step(simTime time.Time) {
	tc.mu.Lock()
	tc.currentTime = simTime
	sched := tc.scheduler
	listeners := append([]func(time.Time){}, tc.listeners...)
	tc.mu.Unlock()

	if sched != nil {
		sched.AdvanceTo(simTime)
	}
	for _, fn := range listeners {
		fn(simTime)
	}
}
