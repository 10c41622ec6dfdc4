// Package expiry implements the keyed, coalescing timer queue (spec §4.4,
// component C4) that drives TTL expiry and periodic refresh across the
// engine. Reinserting a key replaces its deadline and action; there is no
// deadline-ordered heap, since the engine ticks the wheel on every loop
// iteration and at least every ~5s (spec §4.4: "acceptable because
// wake-ups happen at most ≈5 seconds apart").
package expiry

import "sync"

// Entry is one scheduled action, keyed for coalescing (spec §3). Typical
// keys: a service's fqdn, "txt "+fqdn, host+" "+address, or a bare type
// string -- see the callers in internal/engine for the exact key shapes.
type Entry struct {
	Deadline int64 // monotonic milliseconds
	Action   func()
	Key      string
}

// Wheel is the live set of scheduled entries.
type Wheel struct {
	entries map[string]*Entry
	mu      sync.Mutex
}

// New returns an empty wheel.
func New() *Wheel {
	return &Wheel{entries: make(map[string]*Entry)}
}

// Schedule sets key's deadline to now + ttlSeconds*1000 and replaces
// whatever was previously scheduled under key, if anything (spec §4.4:
// "keys coalesce"). ttlSeconds == 0 schedules the action to run on the
// very next Tick.
func (w *Wheel) Schedule(key string, ttlSeconds uint32, now int64, action func()) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.entries[key] = &Entry{Key: key, Deadline: now + int64(ttlSeconds)*1000, Action: action}
}

// Cancel removes key's entry, if any, without running its action. Reports
// whether an entry was present.
func (w *Wheel) Cancel(key string) bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	if _, ok := w.entries[key]; !ok {
		return false
	}
	delete(w.entries, key)
	return true
}

// Pending reports whether key currently has a scheduled action.
func (w *Wheel) Pending(key string) bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	_, ok := w.entries[key]
	return ok
}

// Len reports the number of currently scheduled entries.
func (w *Wheel) Len() int {
	w.mu.Lock()
	defer w.mu.Unlock()
	return len(w.entries)
}

// Tick runs every entry whose deadline has passed as of now (spec §4.4:
// "iterate, drop entries whose deadline has passed, invoke their
// action"). Iteration order is unspecified -- acceptable per spec since
// expiry is not required to be ordered, only eventually run. Actions run
// outside the wheel's lock so they may themselves call Schedule/Cancel.
func (w *Wheel) Tick(now int64) {
	w.mu.Lock()
	var due []*Entry
	for key, e := range w.entries {
		if e.Deadline <= now {
			due = append(due, e)
			delete(w.entries, key)
		}
	}
	w.mu.Unlock()

	for _, e := range due {
		if e.Action != nil {
			e.Action()
		}
	}
}
