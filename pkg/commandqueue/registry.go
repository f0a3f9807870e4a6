package commandqueue

import "sync"

type namedTracker struct {
	name    string
	tracker Tracker
}

// registry maps namespaces to trackers. Entries are never removed.
type registry struct {
	mu       sync.RWMutex
	trackers map[string]Tracker
	order    []string
}

func newRegistry() *registry {
	return &registry{
		trackers: make(map[string]Tracker),
	}
}

func (r *registry) get(name string) (Tracker, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	t, ok := r.trackers[name]
	return t, ok
}

// put registers t under name. A taken name gets the new tracker but keeps
// its place in the fan-out order; replaced reports that case.
func (r *registry) put(name string, t Tracker) (replaced bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	_, replaced = r.trackers[name]
	r.trackers[name] = t
	if !replaced {
		r.order = append(r.order, name)
	}
	return replaced
}

// resolve returns the trackers for names in the order given, skipping
// unknown names. A nil or empty list resolves to every tracker in
// registration order.
func (r *registry) resolve(names []string) []namedTracker {
	r.mu.RLock()
	defer r.mu.RUnlock()

	if len(names) == 0 {
		resolved := make([]namedTracker, 0, len(r.order))
		for _, name := range r.order {
			resolved = append(resolved, namedTracker{name: name, tracker: r.trackers[name]})
		}
		return resolved
	}

	resolved := make([]namedTracker, 0, len(names))
	for _, name := range names {
		if t, ok := r.trackers[name]; ok {
			resolved = append(resolved, namedTracker{name: name, tracker: t})
		}
	}
	return resolved
}

func (r *registry) names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	return append([]string(nil), r.order...)
}

func (r *registry) len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()

	return len(r.order)
}
