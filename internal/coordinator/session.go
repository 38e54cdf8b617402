// File: internal/coordinator/session.go
package coordinator

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/webpilot-ai/webpilot/api/schemas"
	"github.com/webpilot-ai/webpilot/internal/browser"
)

// Session is the per-session state the coordinator threads through the
// perception, planning, and execution layers. All mutation goes through
// its methods; the coordinator is the only writer.
type Session struct {
	ID        string
	CreatedAt time.Time

	adapter browser.Adapter

	mu           sync.Mutex
	currentURL   string
	depth        schemas.PerceptionDepth
	history      []schemas.ActionOutcome
	historyLimit int
	lastElements int
	stopPump     context.CancelFunc
	pumpDone     chan struct{}
	destroyed    bool
}

func newSession(adapter browser.Adapter, depth schemas.PerceptionDepth, historyLimit int) *Session {
	return &Session{
		ID:           uuid.NewString(),
		CreatedAt:    time.Now(),
		adapter:      adapter,
		depth:        depth,
		historyLimit: historyLimit,
		pumpDone:     make(chan struct{}),
	}
}

// DepthPreference returns the session's default perception depth.
func (s *Session) DepthPreference() schemas.PerceptionDepth {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.depth
}

// CurrentURL returns the last URL observed for this session.
func (s *Session) CurrentURL() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.currentURL
}

func (s *Session) setURL(url string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.currentURL = url
}

// noteSnapshot records the element count of the latest snapshot; the
// adaptive depth heuristic reads it on the next analyze call.
func (s *Session) noteSnapshot(snap *schemas.PerceptionSnapshot) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.currentURL = snap.URL
	s.lastElements = len(snap.Elements)
}

// adaptiveDepth picks a depth from the last observed page complexity.
// Unseen pages get Standard; small pages answer faster at shallow tiers.
func (s *Session) adaptiveDepth() schemas.PerceptionDepth {
	s.mu.Lock()
	defer s.mu.Unlock()
	switch {
	case s.lastElements == 0:
		return schemas.DepthStandard
	case s.lastElements <= 8:
		return schemas.DepthLightning
	case s.lastElements <= 40:
		return schemas.DepthQuick
	default:
		return schemas.DepthStandard
	}
}

// appendHistory records outcomes into the bounded history ring.
func (s *Session) appendHistory(outcomes []schemas.ActionOutcome) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.history = append(s.history, outcomes...)
	if over := len(s.history) - s.historyLimit; over > 0 {
		s.history = append(s.history[:0:0], s.history[over:]...)
	}
}

// History returns a copy of the recorded outcomes, oldest first.
func (s *Session) History() []schemas.ActionOutcome {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]schemas.ActionOutcome(nil), s.history...)
}

// Health summarizes the session for the health API.
func (s *Session) Health() schemas.SessionHealth {
	s.mu.Lock()
	defer s.mu.Unlock()
	return schemas.SessionHealth{
		SessionID:       s.ID,
		URL:             s.currentURL,
		CreatedAt:       s.CreatedAt,
		AgeMs:           time.Since(s.CreatedAt).Milliseconds(),
		DepthPreference: s.depth,
		HistorySize:     len(s.history),
	}
}

func (s *Session) markDestroyed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.destroyed {
		return false
	}
	s.destroyed = true
	return true
}
