// File: internal/perception/engine.go
package perception

import (
	"context"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/singleflight"

	"github.com/webpilot-ai/webpilot/api/schemas"
	"github.com/webpilot-ai/webpilot/internal/browser"
	"github.com/webpilot-ai/webpilot/internal/config"
)

// budgetOverrunFactor is the absolute wall beyond a depth's latency budget.
// A capture that reaches it returns whatever has been assembled, flagged
// truncated, instead of failing.
const budgetOverrunFactor = 1.5

// Engine converts raw DOM payloads into PerceptionSnapshots at one of four
// depth tiers. One engine serves all sessions; per-session isolation lives
// in the cache keying, while identical concurrent captures of the same URL
// are deduplicated across sessions.
type Engine struct {
	cfg    config.PerceptionConfig
	cache  *Cache
	logger *zap.Logger
	group  singleflight.Group

	mu       sync.Mutex
	overruns map[string]schemas.PerceptionDepth // session -> shallowest depth that overran recently
}

// NewEngine wires a perception engine over the given cache.
func NewEngine(cfg config.PerceptionConfig, cache *Cache, logger *zap.Logger) *Engine {
	return &Engine{
		cfg:      cfg,
		cache:    cache,
		logger:   logger.Named("perception"),
		overruns: make(map[string]schemas.PerceptionDepth),
	}
}

// Cache exposes the snapshot cache for invalidation and telemetry.
func (e *Engine) Cache() *Cache { return e.cache }

// Perceive returns a snapshot of the adapter's current page at the
// requested depth, serving from cache when a still-valid entry exists.
// On budget overrun it returns the most complete truncated snapshot
// achieved rather than an error.
func (e *Engine) Perceive(ctx context.Context, sessionID string, adapter browser.Adapter, depth schemas.PerceptionDepth) (*schemas.PerceptionSnapshot, error) {
	if !depth.Valid() {
		return nil, fmt.Errorf("invalid perception depth %q", depth)
	}

	url, err := adapter.CurrentURL(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve current url: %w", err)
	}

	if cached := e.cache.Get(sessionID, url, depth); cached != nil {
		return cached, nil
	}

	// Concurrent identical captures of the same page collapse onto one
	// browser round trip regardless of which session triggered it.
	flightKey := url + "|" + string(depth)
	result, err, _ := e.group.Do(flightKey, func() (any, error) {
		return e.capture(ctx, adapter, depth, url)
	})
	if err != nil {
		return nil, err
	}
	snap := result.(*schemas.PerceptionSnapshot)
	e.cache.Put(sessionID, snap)
	e.noteDuration(sessionID, depth, snap)
	return snap, nil
}

// EffectiveDepth applies the session's recent budget history to a
// requested depth: when the same tier overran its budget on the previous
// capture, the request is downgraded one tier to stay responsive.
func (e *Engine) EffectiveDepth(sessionID string, requested schemas.PerceptionDepth) schemas.PerceptionDepth {
	e.mu.Lock()
	defer e.mu.Unlock()
	overran, ok := e.overruns[sessionID]
	if !ok || !requested.AtLeast(overran) {
		return requested
	}
	switch requested {
	case schemas.DepthDeep:
		return schemas.DepthStandard
	case schemas.DepthStandard:
		return schemas.DepthQuick
	case schemas.DepthQuick:
		return schemas.DepthLightning
	}
	return requested
}

func (e *Engine) noteDuration(sessionID string, depth schemas.PerceptionDepth, snap *schemas.PerceptionSnapshot) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if time.Duration(snap.DurationMs)*time.Millisecond > depth.Budget() {
		e.overruns[sessionID] = depth
	} else {
		delete(e.overruns, sessionID)
	}
}

// ForgetSession clears per-session adaptive state and cache entries.
func (e *Engine) ForgetSession(sessionID string) {
	e.cache.InvalidateSession(sessionID)
	e.mu.Lock()
	delete(e.overruns, sessionID)
	e.mu.Unlock()
}

// capture drives one full perception pass.
func (e *Engine) capture(ctx context.Context, adapter browser.Adapter, depth schemas.PerceptionDepth, url string) (*schemas.PerceptionSnapshot, error) {
	start := time.Now()
	budget := depth.Budget()
	deadline := start.Add(time.Duration(float64(budget) * budgetOverrunFactor))
	capCtx, cancel := context.WithDeadline(ctx, deadline)
	defer cancel()

	snap := &schemas.PerceptionSnapshot{
		Depth:      depth,
		URL:        url,
		CapturedAt: start,
		Status:     schemas.PageLoading,
		Elements:   []schemas.PerceivedElement{},
	}
	finish := func() *schemas.PerceptionSnapshot {
		elapsed := time.Since(start)
		snap.DurationMs = elapsed.Milliseconds()
		if elapsed > budget {
			snap.Truncated = true
		}
		if snap.Truncated {
			e.logger.Debug("Perception capture truncated.",
				zap.String("depth", string(depth)),
				zap.Duration("elapsed", elapsed),
				zap.Duration("budget", budget))
		}
		return snap
	}

	raw, err := adapter.SnapshotDOM(capCtx, depth)
	if err != nil {
		if browser.IsKind(err, browser.KindTimeout) || capCtx.Err() != nil {
			// A slow page still yields a (nearly empty) truncated snapshot.
			snap.Truncated = true
			return finish(), nil
		}
		return nil, fmt.Errorf("dom snapshot failed: %w", err)
	}
	snap.Title = raw.Title
	if raw.ReadyState == "complete" {
		snap.Status = schemas.PageReady
	}

	x, err := newExtractor(raw, extractConfig{maxTextLength: e.cfg.MaxTextLength})
	if err != nil {
		return nil, fmt.Errorf("failed to parse dom payload: %w", err)
	}

	stop := func() bool { return time.Now().After(deadline) }

	// Stage one runs for every depth: salient interactive elements plus
	// urgent signals, computed concurrently and composed in a fixed order.
	var (
		elements []schemas.PerceivedElement
		urgent   []schemas.UrgentSignal
		layout   schemas.LayoutHints
		forms    []schemas.FormDescriptor
	)
	g, _ := errgroup.WithContext(capCtx)
	g.Go(func() error {
		switch depth {
		case schemas.DepthLightning:
			elements = topSalient(x.interactiveElements(0, 0), e.cfg.LightningElementCap)
		case schemas.DepthQuick:
			elements = x.interactiveElements(e.cfg.QuickElementCap, 0)
		case schemas.DepthStandard:
			elements = x.fullInventory(0)
		case schemas.DepthDeep:
			elements = x.fullInventory(3)
		}
		return nil
	})
	g.Go(func() error {
		urgent = x.urgentSignals()
		return nil
	})
	if depth.AtLeast(schemas.DepthQuick) {
		g.Go(func() error {
			layout = x.layoutHints()
			return nil
		})
		g.Go(func() error {
			forms = x.forms()
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	snap.Elements = elements
	snap.Urgent = urgent
	snap.Layout = layout
	snap.Forms = forms
	if stop() {
		snap.Truncated = true
		return finish(), nil
	}

	if depth == schemas.DepthDeep {
		snap.Affordances = x.regionAffordances()
		if stop() {
			snap.Truncated = true
			return finish(), nil
		}
	}
	return finish(), nil
}
