package commandqueue

import (
	"context"
	"errors"
	"fmt"
	"strings"
)

// Operations handled by the proxy itself instead of being forwarded.
const (
	OpNewTracker      = "newTracker"
	OpSetCollectorCf  = "setCollectorCf"
	OpSetCollectorURL = "setCollectorUrl"

	// DefaultNamespace receives legacy collector calls that name no tracker.
	DefaultNamespace = "default"
)

var (
	ErrMalformedCall    = errors.New("malformed call")
	ErrUnknownOperation = errors.New("unknown operation")
	ErrInvalidNamespace = errors.New("invalid namespace")
	ErrInvocationPanic  = errors.New("tracker invocation panicked")
)

// Call is one call descriptor: the operation first, its arguments after.
//
// The first element is one of:
//   - string: "op" or "op:ns1;ns2"
//   - Func or a func with the same signature
//   - Invocation or *Invocation
type Call []interface{}

// Func is invoked once per resolved tracker with that tracker as receiver.
type Func func(ctx context.Context, t Tracker, args ...interface{}) error

// Invocation is a Func restricted to the given namespaces.
// An empty Namespaces list targets every registered tracker.
type Invocation struct {
	Func       Func
	Namespaces []string
}

// TargetKind tells a named operation apart from a direct function.
type TargetKind int

const (
	TargetNamed TargetKind = iota
	TargetDirect
)

func (k TargetKind) String() string {
	switch k {
	case TargetNamed:
		return "named"
	case TargetDirect:
		return "direct"
	default:
		return fmt.Sprintf("TargetKind(%d)", int(k))
	}
}

// Target is the resolved first element of a Call.
type Target struct {
	Kind      TargetKind
	Operation string
	Func      Func
	// Namespaces is nil when every registered tracker is targeted.
	Namespaces []string
}

// Label names the target in logs and metrics.
func (t Target) Label() string {
	if t.Kind == TargetDirect {
		return "<func>"
	}
	return t.Operation
}

// Command is a Call split into its target and argument list.
type Command struct {
	Target Target
	Args   []interface{}
}

// ParseOperation splits "op:ns1;ns2" into the operation and its namespaces.
// Without a colon, or with nothing after it, namespaces is nil.
func ParseOperation(s string) (string, []string) {
	op, suffix, found := strings.Cut(s, ":")
	if !found || suffix == "" {
		return op, nil
	}
	return op, strings.Split(suffix, ";")
}

// ParseCall resolves the first element of c into a Target. The remaining
// elements are copied into Args; c itself is left untouched.
func ParseCall(c Call) (Command, error) {
	if len(c) == 0 {
		return Command{}, fmt.Errorf("%w: empty descriptor", ErrMalformedCall)
	}

	var args []interface{}
	if len(c) > 1 {
		args = append(args, c[1:]...)
	}

	var target Target
	switch head := c[0].(type) {
	case string:
		op, namespaces := ParseOperation(head)
		target = Target{Kind: TargetNamed, Operation: op, Namespaces: namespaces}
	case Func:
		target = Target{Kind: TargetDirect, Func: head}
	case func(context.Context, Tracker, ...interface{}) error:
		target = Target{Kind: TargetDirect, Func: head}
	case Invocation:
		target = Target{Kind: TargetDirect, Func: head.Func, Namespaces: nonEmpty(head.Namespaces)}
	case *Invocation:
		if head == nil {
			return Command{}, fmt.Errorf("%w: nil invocation", ErrMalformedCall)
		}
		target = Target{Kind: TargetDirect, Func: head.Func, Namespaces: nonEmpty(head.Namespaces)}
	default:
		return Command{}, fmt.Errorf("%w: unsupported operation type %T", ErrMalformedCall, c[0])
	}

	if target.Kind == TargetDirect && target.Func == nil {
		return Command{}, fmt.Errorf("%w: nil function", ErrMalformedCall)
	}

	return Command{Target: target, Args: args}, nil
}

func nonEmpty(names []string) []string {
	if len(names) == 0 {
		return nil
	}
	return names
}
