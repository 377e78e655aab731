package sources

import (
	"sort"
	"sync"
	"time"
)

// Registry holds the configured adapters in priority order and tracks
// per-adapter outage state.
type Registry struct {
	mu       sync.RWMutex
	adapters map[string]Adapter
	order    []string
	health   map[string]*adapterHealth
}

func NewRegistry() *Registry {
	return &Registry{
		adapters: make(map[string]Adapter),
		order:    []string{},
		health:   make(map[string]*adapterHealth),
	}
}

func (r *Registry) Register(a Adapter) {
	r.mu.Lock()
	defer r.mu.Unlock()

	name := a.Name()
	r.adapters[name] = a
	r.order = append(r.order, name)
	r.health[name] = &adapterHealth{}

	sort.SliceStable(r.order, func(i, j int) bool {
		return r.adapters[r.order[i]].Priority() < r.adapters[r.order[j]].Priority()
	})
}

func (r *Registry) Get(name string) (Adapter, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	a, ok := r.adapters[name]

	return a, ok
}

// Len reports how many adapters are registered, available or not.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()

	return len(r.adapters)
}

// Available returns adapters that are configured and not suspended, in
// priority order.
func (r *Registry) Available() []Adapter {
	r.mu.RLock()
	defer r.mu.RUnlock()

	available := []Adapter{}

	for _, name := range r.order {
		a := r.adapters[name]
		if a.IsAvailable() && r.health[name].admits() {
			available = append(available, a)
		}
	}

	return available
}

// RecordOutcome feeds the adapter's outage tracker after a call.
func (r *Registry) RecordOutcome(name string, err error) {
	r.mu.RLock()
	h := r.health[name]
	r.mu.RUnlock()

	if h == nil {
		return
	}

	if err != nil {
		h.fail()
	} else {
		h.succeed()
	}
}

// Adapter outage policy: a run of failures suspends the adapter for a
// fixed window, and once the window lapses the adapter must succeed
// twice before its trial status clears.
const (
	tripAfterFailures = 3
	suspendFor        = 5 * time.Minute
	winsToRecover     = 2
)

// adapterHealth tracks one adapter's recent outcomes. Admission checks
// are non-consuming because discovery fans a keyword out to every
// admitted adapter concurrently; there is no single caller to hand a
// probe slot to. Instead a freshly readmitted adapter is on trial: one
// failure re-suspends it immediately.
type adapterHealth struct {
	mu       sync.Mutex
	failures int       // consecutive failures since the last success
	until    time.Time // suspension deadline, zero when not suspended
	trial    bool      // readmitted, recovery in progress
	wins     int       // successes during the trial
}

func (h *adapterHealth) admits() bool {
	h.mu.Lock()
	defer h.mu.Unlock()

	if h.until.IsZero() {
		return true
	}

	if time.Now().Before(h.until) {
		return false
	}

	// Suspension lapsed; traffic resumes on trial.
	h.until = time.Time{}
	h.trial = true
	h.wins = 0

	return true
}

func (h *adapterHealth) succeed() {
	h.mu.Lock()
	defer h.mu.Unlock()

	h.failures = 0

	if h.trial {
		h.wins++
		if h.wins >= winsToRecover {
			h.trial = false
		}
	}
}

func (h *adapterHealth) fail() {
	h.mu.Lock()
	defer h.mu.Unlock()

	h.failures++

	if h.failures >= tripAfterFailures || h.trial {
		h.until = time.Now().Add(suspendFor)
		h.trial = false
		h.wins = 0
		h.failures = 0
	}
}
