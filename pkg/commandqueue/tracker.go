package commandqueue

import "context"

// Method is a tracker operation bound to its tracker.
type Method func(ctx context.Context, args ...interface{}) error

// Tracker is a live tracker instance the proxy forwards calls to.
//
// The collector setters are the operations the proxy calls by itself for
// legacy hosts. Every other operation is looked up through Method; an
// operation the tracker does not know fails with ErrUnknownOperation.
type Tracker interface {
	SetCollectorURL(rawURL string) error
	SetCollectorCf(distSubdomain string) error
	Method(name string) (Method, bool)
}

// MethodSet maps operation names to bound handlers. Trackers can embed it
// to satisfy the Method part of Tracker.
type MethodSet map[string]Method

// Method returns the handler registered under name.
func (s MethodSet) Method(name string) (Method, bool) {
	m, ok := s[name]
	if !ok || m == nil {
		return nil, false
	}
	return m, true
}

// Factory builds trackers. Every tracker of one proxy receives the same
// version and the same shared state handle.
type Factory interface {
	NewTracker(version string, state interface{}) (Tracker, error)
}

// FactoryFunc adapts a function to Factory.
type FactoryFunc func(version string, state interface{}) (Tracker, error)

// NewTracker calls f.
func (f FactoryFunc) NewTracker(version string, state interface{}) (Tracker, error) {
	return f(version, state)
}
