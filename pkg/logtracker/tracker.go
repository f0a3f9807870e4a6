package logtracker

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/harun/trackq/internal/tracing"
	"github.com/harun/trackq/pkg/commandqueue"
	gonanoid "github.com/matoous/go-nanoid/v2"
	"github.com/rs/zerolog"
	"github.com/spf13/cast"
)

var (
	// ErrInvalidArgument is returned when a tracker method receives
	// arguments it cannot use.
	ErrInvalidArgument = errors.New("invalid argument")
	// ErrInvalidState is returned by the factory when the shared state is
	// not a *State.
	ErrInvalidState = errors.New("invalid tracker state")
)

// Factory builds trackers that log and record every event.
type Factory struct {
	Logger   zerolog.Logger
	Recorder Recorder
}

// NewTracker implements commandqueue.Factory.
func (f Factory) NewTracker(version string, state interface{}) (commandqueue.Tracker, error) {
	shared, ok := state.(*State)
	if !ok || shared == nil {
		return nil, fmt.Errorf("%w: expected *logtracker.State, got %T", ErrInvalidState, state)
	}
	return NewTracker(version, shared, f.Logger, f.Recorder), nil
}

// Tracker records events against a collector endpoint.
type Tracker struct {
	commandqueue.MethodSet

	version  string
	state    *State
	logger   zerolog.Logger
	recorder Recorder

	mu        sync.RWMutex
	collector string
	userID    string
	appID     string
	platform  string
	heartbeat time.Duration
	minVisit  time.Duration
}

// NewTracker creates a tracker. recorder may be nil.
func NewTracker(version string, state *State, logger zerolog.Logger, recorder Recorder) *Tracker {
	t := &Tracker{
		version:  version,
		state:    state,
		logger:   logger.With().Str("component", "logtracker").Str("tracker_version", version).Logger(),
		recorder: recorder,
		platform: "web",
	}

	t.MethodSet = commandqueue.MethodSet{
		"trackPageView":            t.trackPageView,
		"trackStructEvent":         t.trackStructEvent,
		"trackSelfDescribingEvent": t.trackSelfDescribingEvent,
		"trackUnstructEvent":       t.trackSelfDescribingEvent,
		"setUserId":                t.setUserID,
		"setAppId":                 t.setAppID,
		"setPlatform":              t.setPlatform,
		"enableActivityTracking":   t.enableActivityTracking,
	}

	return t
}

// SetCollectorURL points the tracker at https://<rawURL>/i.
func (t *Tracker) SetCollectorURL(rawURL string) error {
	host := strings.TrimSpace(rawURL)
	host = strings.TrimPrefix(strings.TrimPrefix(host, "https://"), "http://")
	host = strings.TrimSuffix(host, "/")
	if host == "" {
		return fmt.Errorf("%w: collector url is empty", ErrInvalidArgument)
	}

	endpoint := "https://" + host + "/i"
	if _, err := url.Parse(endpoint); err != nil {
		return fmt.Errorf("%w: collector url %q: %v", ErrInvalidArgument, rawURL, err)
	}

	t.setCollector(endpoint)
	return nil
}

// SetCollectorCf points the tracker at a CloudFront distribution.
func (t *Tracker) SetCollectorCf(distSubdomain string) error {
	sub := strings.TrimSpace(distSubdomain)
	if sub == "" || strings.ContainsAny(sub, "./:") {
		return fmt.Errorf("%w: cloudfront subdomain %q", ErrInvalidArgument, distSubdomain)
	}

	t.setCollector("https://" + sub + ".cloudfront.net/i")
	return nil
}

func (t *Tracker) setCollector(endpoint string) {
	t.mu.Lock()
	t.collector = endpoint
	t.mu.Unlock()

	t.logger.Info().Str("collector", endpoint).Msg("Collector configured")
}

// Collector returns the configured collector endpoint, or "".
func (t *Tracker) Collector() string {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.collector
}

// UserID returns the business user id set through setUserId.
func (t *Tracker) UserID() string {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.userID
}

// trackPageView(customTitle?, context?)
func (t *Tracker) trackPageView(ctx context.Context, args ...interface{}) error {
	fields := map[string]interface{}{}

	if len(args) > 0 && args[0] != nil {
		title, err := cast.ToStringE(args[0])
		if err != nil {
			return fmt.Errorf("%w: page title: %v", ErrInvalidArgument, err)
		}
		fields["title"] = title
	}
	if len(args) > 1 && args[1] != nil {
		fields["context"] = args[1]
	}

	pageViewID := t.state.pageViewFor(tracing.GetCallID(ctx))
	return t.emit(ctx, KindPageView, pageViewID, fields)
}

// trackStructEvent(category, action, label?, property?, value?)
func (t *Tracker) trackStructEvent(ctx context.Context, args ...interface{}) error {
	if len(args) < 2 {
		return fmt.Errorf("%w: trackStructEvent needs category and action, got %d args", ErrInvalidArgument, len(args))
	}

	category, err := requiredString(args[0], "category")
	if err != nil {
		return err
	}
	action, err := requiredString(args[1], "action")
	if err != nil {
		return err
	}

	fields := map[string]interface{}{
		"category": category,
		"action":   action,
	}
	for i, key := range []string{"label", "property"} {
		idx := i + 2
		if idx >= len(args) || args[idx] == nil {
			continue
		}
		s, err := cast.ToStringE(args[idx])
		if err != nil {
			return fmt.Errorf("%w: %s: %v", ErrInvalidArgument, key, err)
		}
		fields[key] = s
	}
	if len(args) > 4 && args[4] != nil {
		value, err := cast.ToFloat64E(args[4])
		if err != nil {
			return fmt.Errorf("%w: value: %v", ErrInvalidArgument, err)
		}
		fields["value"] = value
	}

	return t.emit(ctx, KindStructEvent, t.state.PageViewID(), fields)
}

// trackSelfDescribingEvent({schema, data})
func (t *Tracker) trackSelfDescribingEvent(ctx context.Context, args ...interface{}) error {
	if len(args) == 0 {
		return fmt.Errorf("%w: self-describing event is missing", ErrInvalidArgument)
	}

	event, err := cast.ToStringMapE(args[0])
	if err != nil {
		return fmt.Errorf("%w: self-describing event: %v", ErrInvalidArgument, err)
	}
	schema, _ := event["schema"].(string)
	if !strings.HasPrefix(schema, "iglu:") {
		return fmt.Errorf("%w: self-describing event schema %q", ErrInvalidArgument, schema)
	}
	data, ok := event["data"]
	if !ok {
		return fmt.Errorf("%w: self-describing event has no data", ErrInvalidArgument)
	}

	return t.emit(ctx, KindSelfDescribing, t.state.PageViewID(), map[string]interface{}{
		"schema": schema,
		"data":   data,
	})
}

func (t *Tracker) setUserID(ctx context.Context, args ...interface{}) error {
	return t.setString(args, "user id", &t.userID)
}

func (t *Tracker) setAppID(ctx context.Context, args ...interface{}) error {
	return t.setString(args, "app id", &t.appID)
}

func (t *Tracker) setPlatform(ctx context.Context, args ...interface{}) error {
	return t.setString(args, "platform", &t.platform)
}

// enableActivityTracking(minimumVisitLength, heartbeatDelay), both in seconds.
func (t *Tracker) enableActivityTracking(ctx context.Context, args ...interface{}) error {
	if len(args) < 2 {
		return fmt.Errorf("%w: enableActivityTracking needs minimum visit length and heartbeat", ErrInvalidArgument)
	}

	minVisit, err := cast.ToIntE(args[0])
	if err != nil || minVisit <= 0 {
		return fmt.Errorf("%w: minimum visit length %v", ErrInvalidArgument, args[0])
	}
	heartbeat, err := cast.ToIntE(args[1])
	if err != nil || heartbeat <= 0 {
		return fmt.Errorf("%w: heartbeat delay %v", ErrInvalidArgument, args[1])
	}

	t.mu.Lock()
	t.minVisit = time.Duration(minVisit) * time.Second
	t.heartbeat = time.Duration(heartbeat) * time.Second
	t.mu.Unlock()

	return t.emit(ctx, KindActivityTracking, t.state.PageViewID(), map[string]interface{}{
		"minimum_visit_length": minVisit,
		"heartbeat_delay":      heartbeat,
	})
}

func (t *Tracker) setString(args []interface{}, what string, dst *string) error {
	if len(args) == 0 {
		return fmt.Errorf("%w: %s is missing", ErrInvalidArgument, what)
	}
	value, err := cast.ToStringE(args[0])
	if err != nil {
		return fmt.Errorf("%w: %s: %v", ErrInvalidArgument, what, err)
	}

	t.mu.Lock()
	*dst = value
	t.mu.Unlock()
	return nil
}

func (t *Tracker) emit(ctx context.Context, kind, pageViewID string, fields map[string]interface{}) error {
	id, err := gonanoid.New()
	if err != nil {
		return fmt.Errorf("generate record id: %w", err)
	}

	t.mu.RLock()
	rec := Record{
		ID:             id,
		Kind:           kind,
		TrackerVersion: t.version,
		Collector:      t.collector,
		AppID:          t.appID,
		Platform:       t.platform,
		UserID:         t.userID,
		DomainUserID:   t.state.DomainUserID(),
		PageViewID:     pageViewID,
		Fields:         fields,
		Timestamp:      time.Now(),
	}
	t.mu.RUnlock()

	logger := tracing.LoggerFromContext(ctx, t.logger)
	if rec.Collector == "" {
		logger.Warn().Str("kind", kind).Msg("No collector configured, event recorded locally")
	}
	logger.Info().
		Str("record_id", rec.ID).
		Str("kind", kind).
		Str("collector", rec.Collector).
		Str("page_view_id", pageViewID).
		Interface("fields", fields).
		Msg("Event tracked")

	if t.recorder != nil {
		t.recorder.Record(rec)
	}
	return nil
}

func requiredString(v interface{}, what string) (string, error) {
	s, err := cast.ToStringE(v)
	if err != nil {
		return "", fmt.Errorf("%w: %s: %v", ErrInvalidArgument, what, err)
	}
	if s == "" {
		return "", fmt.Errorf("%w: %s is empty", ErrInvalidArgument, what)
	}
	return s, nil
}
