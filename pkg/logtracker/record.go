package logtracker

import (
	"encoding/json"
	"io"
	"sync"
	"time"

	"github.com/rs/zerolog"
)

// Event kinds carried by a Record.
const (
	KindPageView         = "page_view"
	KindStructEvent      = "struct"
	KindSelfDescribing   = "self_describing"
	KindActivityTracking = "activity_tracking"
)

// Record is one event as a tracker would send it to its collector.
type Record struct {
	ID             string                 `json:"id"`
	Kind           string                 `json:"kind"`
	TrackerVersion string                 `json:"tracker_version"`
	Collector      string                 `json:"collector,omitempty"`
	AppID          string                 `json:"app_id,omitempty"`
	Platform       string                 `json:"platform,omitempty"`
	UserID         string                 `json:"user_id,omitempty"`
	DomainUserID   string                 `json:"domain_user_id"`
	PageViewID     string                 `json:"page_view_id"`
	Fields         map[string]interface{} `json:"fields,omitempty"`
	Timestamp      time.Time              `json:"timestamp"`
}

// Recorder receives every record a tracker produces.
type Recorder interface {
	Record(rec Record)
}

// MemoryRecorder keeps records in memory.
type MemoryRecorder struct {
	mu      sync.Mutex
	records []Record
}

// Record appends rec.
func (m *MemoryRecorder) Record(rec Record) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.records = append(m.records, rec)
}

// Records returns a copy of everything recorded so far.
func (m *MemoryRecorder) Records() []Record {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]Record(nil), m.records...)
}

// Len returns the number of records.
func (m *MemoryRecorder) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.records)
}

// WriterRecorder writes each record to w as one JSON line.
type WriterRecorder struct {
	mu     sync.Mutex
	enc    *json.Encoder
	logger zerolog.Logger
}

// NewWriterRecorder creates a recorder over w. Write failures are logged,
// not returned, since trackers never see them.
func NewWriterRecorder(w io.Writer, logger zerolog.Logger) *WriterRecorder {
	return &WriterRecorder{
		enc:    json.NewEncoder(w),
		logger: logger,
	}
}

// Record encodes rec.
func (r *WriterRecorder) Record(rec Record) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if err := r.enc.Encode(rec); err != nil {
		r.logger.Error().Err(err).Str("record", rec.ID).Msg("Failed to write record")
	}
}
