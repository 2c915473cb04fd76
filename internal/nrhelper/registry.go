package nrhelper

import (
	"fmt"
	"sort"
	"sync"

	"github.com/signalsfoundry/nr-ran-simulator/internal/device"
)

// FullBandSchedulerName is the scheduler registered by default.
const FullBandSchedulerName = "full-band"

// SchedulerFactory builds a MAC scheduler for one device.
type SchedulerFactory func(mcs uint8) device.Scheduler

// SchedulerRegistry is a thread-safe registry of scheduler factories.
type SchedulerRegistry struct {
	mu        sync.RWMutex
	factories map[string]SchedulerFactory
}

// NewSchedulerRegistry returns a registry holding the full-band scheduler.
func NewSchedulerRegistry() *SchedulerRegistry {
	r := &SchedulerRegistry{factories: make(map[string]SchedulerFactory)}
	r.factories[FullBandSchedulerName] = func(mcs uint8) device.Scheduler {
		return device.FullBandScheduler{Mcs: mcs}
	}
	return r
}

// Register adds a factory. Names must be unique.
func (r *SchedulerRegistry) Register(name string, f SchedulerFactory) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if name == "" || f == nil {
		return fmt.Errorf("scheduler name and factory are required")
	}
	if _, exists := r.factories[name]; exists {
		return fmt.Errorf("scheduler %s already registered", name)
	}
	r.factories[name] = f
	return nil
}

// Get looks a factory up by name.
func (r *SchedulerRegistry) Get(name string) (SchedulerFactory, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	f, ok := r.factories[name]
	return f, ok
}

// Names returns the registered names in order.
func (r *SchedulerRegistry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]string, 0, len(r.factories))
	for name := range r.factories {
		out = append(out, name)
	}
	sort.Strings(out)
	return out
}
