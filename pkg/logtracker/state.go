package logtracker

import (
	"sync"
	"time"

	"github.com/google/uuid"
)

// State is the page-level state shared by every tracker built from the
// same factory call site. Trackers read the visitor identity from it and
// rotate the page view id on each page view. A page view fanned out to
// several trackers by one call counts once.
type State struct {
	mu           sync.RWMutex
	domainUserID string
	pageViewID   string
	pageViewCall string
	createdAt    time.Time
	pageViews    int
}

// NewState creates state with a fresh visitor identity.
func NewState() *State {
	return &State{
		domainUserID: uuid.New().String(),
		pageViewID:   uuid.New().String(),
		createdAt:    time.Now(),
	}
}

// DomainUserID returns the visitor id shared by all trackers.
func (s *State) DomainUserID() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.domainUserID
}

// PageViewID returns the id of the current page view.
func (s *State) PageViewID() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.pageViewID
}

// PageViews returns how many page views have been tracked against this state.
func (s *State) PageViews() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.pageViews
}

// CreatedAt returns when the visitor identity was created.
func (s *State) CreatedAt() time.Time {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.createdAt
}

// pageViewFor starts a new page view for callID and returns its id. Repeats
// of the same non-empty callID return the current id. The first page view
// keeps the id assigned at construction.
func (s *State) pageViewFor(callID string) string {
	s.mu.Lock()
	defer s.mu.Unlock()

	if callID != "" && callID == s.pageViewCall {
		return s.pageViewID
	}
	if s.pageViews > 0 {
		s.pageViewID = uuid.New().String()
	}
	s.pageViews++
	s.pageViewCall = callID
	return s.pageViewID
}
