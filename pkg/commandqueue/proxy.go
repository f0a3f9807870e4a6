package commandqueue

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/harun/trackq/internal/metrics"
	"github.com/harun/trackq/internal/tracing"
	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

const tracerName = "trackq.commandqueue"

// Options configures a Proxy.
type Options struct {
	// Version is handed to the factory for every tracker.
	Version string
	// State is the shared handle every tracker receives. The proxy never
	// looks inside it.
	State   interface{}
	Factory Factory
	Logger  zerolog.Logger
	// Metrics may be nil.
	Metrics *metrics.Metrics
	// OnEvent receives every event, including those raised while the
	// pending buffer is drained inside New.
	OnEvent EventHandler
}

type queuedCall struct {
	ctx  context.Context
	call Call
}

// Proxy forwards queued calls to named trackers.
type Proxy struct {
	version  string
	state    interface{}
	factory  Factory
	logger   zerolog.Logger
	metrics  *metrics.Metrics
	registry *registry

	mu       sync.Mutex
	queue    []queuedCall
	draining bool

	onEvent       EventHandler
	eventHandlers map[string][]EventHandler
	eventMu       sync.RWMutex
}

// New creates a proxy and dispatches the pending calls, in order, before
// returning.
func New(opts Options, pending ...Call) (*Proxy, error) {
	if opts.Factory == nil {
		return nil, fmt.Errorf("tracker factory is required")
	}

	p := &Proxy{
		version:       opts.Version,
		state:         opts.State,
		factory:       opts.Factory,
		logger:        opts.Logger.With().Str("component", "commandqueue").Logger(),
		metrics:       opts.Metrics,
		registry:      newRegistry(),
		onEvent:       opts.OnEvent,
		eventHandlers: make(map[string][]EventHandler),
	}

	if len(pending) > 0 {
		p.logger.Debug().Int("pending", len(pending)).Msg("Replaying pending calls")
		p.PushContext(tracing.NewPushContext(context.Background(), "buffer"), pending...)
	}

	p.logger.Debug().
		Str("version", p.version).
		Int("trackers", p.registry.len()).
		Msg("Command queue proxy ready")

	return p, nil
}

// Push dispatches each call in order.
func (p *Proxy) Push(calls ...Call) {
	p.PushContext(context.Background(), calls...)
}

// PushContext dispatches each call in order, carrying ctx to the trackers.
//
// If another Push is already draining the queue (a tracker pushing from
// inside a handler, or a concurrent caller), the calls are appended behind
// the ones already queued and PushContext returns; the active drain
// dispatches them.
func (p *Proxy) PushContext(ctx context.Context, calls ...Call) {
	if len(calls) == 0 {
		return
	}
	if ctx == nil {
		ctx = context.Background()
	}

	ctx, span := tracing.StartSpan(ctx, tracerName, "commandqueue.push",
		attribute.Int("calls", len(calls)),
	)
	defer span.End()

	p.mu.Lock()
	for _, call := range calls {
		p.queue = append(p.queue, queuedCall{ctx: ctx, call: call})
	}
	depth := len(p.queue)
	if p.draining {
		p.mu.Unlock()
		p.metrics.SetQueueDepth(depth)
		return
	}
	p.draining = true
	p.mu.Unlock()

	p.drain()
}

func (p *Proxy) drain() {
	for {
		p.mu.Lock()
		if len(p.queue) == 0 {
			p.draining = false
			p.queue = nil
			p.mu.Unlock()
			p.metrics.SetQueueDepth(0)
			return
		}
		next := p.queue[0]
		p.queue[0] = queuedCall{}
		p.queue = p.queue[1:]
		depth := len(p.queue)
		p.mu.Unlock()

		p.metrics.SetQueueDepth(depth)
		p.dispatch(next.ctx, next.call)
	}
}

// dispatch runs one call. Nothing it does may escape to the caller.
func (p *Proxy) dispatch(ctx context.Context, call Call) {
	ctx = tracing.WithCallID(ctx, tracing.NewCallID())
	logger := tracing.LoggerFromContext(ctx, p.logger)

	defer func() {
		if r := recover(); r != nil {
			logger.Error().Interface("panic", r).Msg("Call dispatch panicked")
		}
	}()

	cmd, err := ParseCall(call)
	if err != nil {
		logger.Warn().Err(err).Msg("Dropping malformed call")
		p.metrics.RecordDropped("malformed")
		p.emit(Event{Type: EventDropped, Err: err})
		return
	}

	label := cmd.Target.Label()
	ctx, span := tracing.StartSpan(ctx, tracerName, "commandqueue.dispatch",
		attribute.String("operation", label),
		attribute.String("kind", cmd.Target.Kind.String()),
	)
	defer span.End()

	if cmd.Target.Kind == TargetNamed {
		switch cmd.Target.Operation {
		case OpNewTracker:
			p.metrics.RecordCall("create")
			p.handleNewTracker(logger, cmd.Args)
			return
		case OpSetCollectorCf, OpSetCollectorURL:
			p.metrics.RecordCall("legacy")
			p.handleLegacyCollector(logger, cmd.Target.Operation, cmd.Args)
			return
		}
	}

	p.metrics.RecordCall(cmd.Target.Kind.String())

	targets := p.registry.resolve(cmd.Target.Namespaces)
	if len(targets) == 0 {
		logger.Debug().
			Str("operation", label).
			Strs("namespaces", cmd.Target.Namespaces).
			Msg("Call matched no tracker")
		p.metrics.RecordDropped("no_trackers")
		p.emit(Event{Type: EventDropped, Operation: label})
		return
	}

	for _, target := range targets {
		p.invoke(ctx, logger, target, cmd)
	}
}

// invoke runs cmd against a single tracker and contains any failure.
func (p *Proxy) invoke(ctx context.Context, logger zerolog.Logger, target namedTracker, cmd Command) {
	label := cmd.Target.Label()
	args := append([]interface{}(nil), cmd.Args...)

	startTime := time.Now()
	err := guard(func() error {
		if cmd.Target.Kind == TargetDirect {
			return cmd.Target.Func(ctx, target.tracker, args...)
		}
		method, ok := target.tracker.Method(cmd.Target.Operation)
		if !ok {
			return fmt.Errorf("%w: %q", ErrUnknownOperation, cmd.Target.Operation)
		}
		return method(ctx, args...)
	})
	duration := time.Since(startTime)

	p.metrics.RecordInvocation(label, duration, err == nil)

	if err != nil {
		err = fmt.Errorf("tracker %q: %w", target.name, err)
		span := trace.SpanFromContext(ctx)
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		logger.Error().
			Err(err).
			Str("namespace", target.name).
			Str("operation", label).
			Msg("Tracker invocation failed")
		p.emit(Event{Type: EventFailed, Namespace: target.name, Operation: label, Err: err})
		return
	}

	logger.Debug().
		Str("namespace", target.name).
		Str("operation", label).
		Dur("duration", duration).
		Msg("Call dispatched")
	p.emit(Event{
		Type:      EventDispatched,
		Namespace: target.name,
		Operation: label,
		Data: map[string]interface{}{
			"duration": duration.Milliseconds(),
		},
	})
}

func (p *Proxy) handleNewTracker(logger zerolog.Logger, args []interface{}) {
	namespace, err := namespaceArg(args, 0)
	if err == nil && namespace == "" {
		err = fmt.Errorf("%w: newTracker requires a namespace", ErrInvalidNamespace)
	}
	if err != nil {
		logger.Error().Err(err).Msg("Cannot create tracker")
		p.metrics.RecordDropped("invalid_namespace")
		p.emit(Event{Type: EventDropped, Operation: OpNewTracker, Err: err})
		return
	}

	if _, err := p.createTracker(namespace); err != nil {
		logger.Error().Err(err).Str("namespace", namespace).Msg("Cannot create tracker")
		p.emit(Event{Type: EventFailed, Namespace: namespace, Operation: OpNewTracker, Err: err})
	}
}

// handleLegacyCollector serves setCollectorCf/setCollectorUrl(endpoint, namespace).
func (p *Proxy) handleLegacyCollector(logger zerolog.Logger, op string, args []interface{}) {
	namespace, err := namespaceArg(args, 1)
	if err != nil {
		logger.Error().Err(err).Str("operation", op).Msg("Cannot apply legacy collector call")
		p.metrics.RecordDropped("invalid_namespace")
		p.emit(Event{Type: EventDropped, Operation: op, Err: err})
		return
	}
	if namespace == "" {
		namespace = DefaultNamespace
	}

	endpoint, ok := stringArg(args, 0)
	if !ok {
		err := fmt.Errorf("%w: %s requires an endpoint string", ErrMalformedCall, op)
		logger.Error().Err(err).Str("namespace", namespace).Msg("Cannot apply legacy collector call")
		p.metrics.RecordDropped("malformed")
		p.emit(Event{Type: EventDropped, Namespace: namespace, Operation: op, Err: err})
		return
	}

	tracker, exists := p.registry.get(namespace)
	if !exists {
		tracker, err = p.createTracker(namespace)
		if err != nil {
			logger.Error().Err(err).Str("namespace", namespace).Msg("Cannot create tracker")
			p.emit(Event{Type: EventFailed, Namespace: namespace, Operation: op, Err: err})
			return
		}
	}

	err = guard(func() error {
		if op == OpSetCollectorCf {
			return tracker.SetCollectorCf(endpoint)
		}
		return tracker.SetCollectorURL(endpoint)
	})

	p.metrics.RecordDeprecated(op)
	logger.Warn().
		Str("operation", op).
		Str("namespace", namespace).
		Msg(op + " is deprecated, use newTracker")
	p.emit(Event{Type: EventDeprecated, Namespace: namespace, Operation: op})

	if err != nil {
		err = fmt.Errorf("tracker %q: %w", namespace, err)
		logger.Error().Err(err).Str("operation", op).Msg("Tracker invocation failed")
		p.emit(Event{Type: EventFailed, Namespace: namespace, Operation: op, Err: err})
	}
}

func (p *Proxy) createTracker(namespace string) (Tracker, error) {
	var tracker Tracker
	err := guard(func() error {
		var err error
		tracker, err = p.factory.NewTracker(p.version, p.state)
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("create tracker %q: %w", namespace, err)
	}
	if tracker == nil {
		return nil, fmt.Errorf("create tracker %q: factory returned no tracker", namespace)
	}

	replaced := p.registry.put(namespace, tracker)
	p.metrics.SetTrackers(p.registry.len())

	if replaced {
		p.logger.Warn().
			Str("namespace", namespace).
			Str("version", p.version).
			Msg("Tracker replaced")
	} else {
		p.logger.Info().
			Str("namespace", namespace).
			Str("version", p.version).
			Msg("Tracker created")
	}
	p.emit(Event{
		Type:      EventTrackerCreated,
		Namespace: namespace,
		Data: map[string]interface{}{
			"version":  p.version,
			"replaced": replaced,
		},
	})

	return tracker, nil
}

// Namespaces returns the registered namespaces in registration order.
func (p *Proxy) Namespaces() []string {
	return p.registry.names()
}

// Tracker returns the tracker registered under namespace.
func (p *Proxy) Tracker(namespace string) (Tracker, bool) {
	return p.registry.get(namespace)
}

// Version returns the version handed to every tracker.
func (p *Proxy) Version() string {
	return p.version
}

// Pending returns the number of calls waiting behind an active drain.
func (p *Proxy) Pending() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.queue)
}

// guard runs fn and turns a panic into ErrInvocationPanic.
func guard(fn func() error) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("%w: %v", ErrInvocationPanic, r)
		}
	}()
	return fn()
}

// namespaceArg reads an optional namespace argument. Missing or nil yields "".
func namespaceArg(args []interface{}, i int) (string, error) {
	if i >= len(args) || args[i] == nil {
		return "", nil
	}
	name, ok := args[i].(string)
	if !ok {
		return "", fmt.Errorf("%w: expected string, got %T", ErrInvalidNamespace, args[i])
	}
	return name, nil
}

func stringArg(args []interface{}, i int) (string, bool) {
	if i >= len(args) {
		return "", false
	}
	s, ok := args[i].(string)
	return s, ok
}
