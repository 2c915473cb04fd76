package timectrl

import (
	"fmt"
	"sort"
	"sync"
	"time"
)

// EventScheduler schedules callbacks at virtual simulation times. PHY
// state machines use it for end-of-transmission, end-of-reception and
// busy-channel re-check events.
type EventScheduler interface {
	// Schedule registers f to run at simulation time at and returns a
	// handle for Cancel.
	Schedule(at time.Time, f func()) (id string)

	// ScheduleAfter registers f to run d after Now().
	ScheduleAfter(d time.Duration, f func()) (id string)

	// Cancel invalidates a pending event. Unknown or already-run ids are
	// ignored.
	Cancel(id string)

	// IsPending reports whether id is scheduled and not yet run or
	// cancelled.
	IsPending(id string) bool

	// Now returns the current simulation time.
	Now() time.Time
}

type scheduledEvent struct {
	id        string
	when      time.Time
	f         func()
	cancelled bool
}

// Scheduler is a single-threaded discrete event scheduler with its own
// virtual clock. Events at the same timestamp run in the order they were
// scheduled. Callbacks may schedule or cancel further events.
type Scheduler struct {
	mu      sync.Mutex
	now     time.Time
	counter uint64

	// ordered by when, then insertion
	events []*scheduledEvent
	index  map[string]*scheduledEvent
}

var _ EventScheduler = (*Scheduler)(nil)

// NewScheduler creates a scheduler whose clock starts at start.
func NewScheduler(start time.Time) *Scheduler {
	return &Scheduler{
		now:   start,
		index: make(map[string]*scheduledEvent),
	}
}

// Now returns the current simulation time.
func (s *Scheduler) Now() time.Time {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.now
}

// Schedule registers a callback to run at the specified simulation time.
// Times in the past run at the next dispatch without moving the clock back.
func (s *Scheduler) Schedule(at time.Time, f func()) (id string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.counter++
	id = fmt.Sprintf("ev-%d", s.counter)

	ev := &scheduledEvent{
		id:   id,
		when: at,
		f:    f,
	}
	s.addEventLocked(ev)
	s.index[id] = ev
	return id
}

// ScheduleAfter registers a callback d after the current time.
func (s *Scheduler) ScheduleAfter(d time.Duration, f func()) string {
	return s.Schedule(s.Now().Add(d), f)
}

// addEventLocked inserts after every event with the same timestamp so ties
// keep insertion order. Caller must hold s.mu.
func (s *Scheduler) addEventLocked(ev *scheduledEvent) {
	idx := sort.Search(len(s.events), func(i int) bool {
		return s.events[i].when.After(ev.when)
	})

	s.events = append(s.events, nil)
	copy(s.events[idx+1:], s.events[idx:])
	s.events[idx] = ev
}

// Cancel attempts to cancel a previously scheduled event.
func (s *Scheduler) Cancel(id string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	ev, ok := s.index[id]
	if !ok {
		return
	}
	ev.cancelled = true
	delete(s.index, id)
	// Removal from s.events is lazy; dispatch skips cancelled events.
}

// IsPending reports whether the event is still waiting to run.
func (s *Scheduler) IsPending(id string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.index[id]
	return ok
}

// Pending returns the number of live events.
func (s *Scheduler) Pending() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.index)
}

// popUntilLocked removes and returns the next live event due at or before
// limit, advancing the clock to its timestamp. Caller must hold s.mu.
func (s *Scheduler) popUntilLocked(limit time.Time) *scheduledEvent {
	for len(s.events) > 0 {
		ev := s.events[0]
		if ev.cancelled {
			s.events = s.events[1:]
			continue
		}
		if ev.when.After(limit) {
			return nil
		}
		s.events = s.events[1:]
		delete(s.index, ev.id)
		if ev.when.After(s.now) {
			s.now = ev.when
		}
		return ev
	}
	return nil
}

// RunDue executes all events whose scheduled time is <= Now(). Events
// scheduled by callbacks for the current instant run in the same call.
func (s *Scheduler) RunDue() {
	s.AdvanceTo(s.Now())
}

// AdvanceTo runs every event up to and including t in time order, moving
// the clock to each event's timestamp before running it, and leaves the
// clock at t. Time never goes backwards.
func (s *Scheduler) AdvanceTo(t time.Time) {
	for {
		s.mu.Lock()
		ev := s.popUntilLocked(t)
		if ev == nil {
			if t.After(s.now) {
				s.now = t
			}
			s.mu.Unlock()
			return
		}
		f := ev.f
		s.mu.Unlock()

		// Run outside the lock so callbacks can schedule and cancel.
		if f != nil {
			f()
		}
	}
}

// Run drains the queue, returning the time of the last event executed.
func (s *Scheduler) Run() time.Time {
	for {
		s.mu.Lock()
		ev := s.popUntilLocked(maxTime)
		if ev == nil {
			now := s.now
			s.mu.Unlock()
			return now
		}
		f := ev.f
		s.mu.Unlock()

		if f != nil {
			f()
		}
	}
}

// RunFor advances the clock by d, executing everything due on the way.
func (s *Scheduler) RunFor(d time.Duration) {
	s.AdvanceTo(s.Now().Add(d))
}

var maxTime = time.Unix(1<<62, 0)
