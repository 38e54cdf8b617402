// File: internal/coordinator/coordinator.go

// Package coordinator owns sessions and exposes the inbound operational
// API. It threads a SessionContext through perception, planning, and
// execution, publishes lifecycle events on the bus, and wraps every
// result in the uniform response envelope.
package coordinator

import (
	"context"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/webpilot-ai/webpilot/api/schemas"
	"github.com/webpilot-ai/webpilot/internal/browser"
	"github.com/webpilot-ai/webpilot/internal/config"
	"github.com/webpilot-ai/webpilot/internal/executor"
	"github.com/webpilot-ai/webpilot/internal/learning"
	"github.com/webpilot-ai/webpilot/internal/perception"
	"github.com/webpilot-ai/webpilot/internal/planner"
)

// Coordinator is the process-wide entry point. Sessions are isolated from
// one another; the perception engine and learning store are shared.
type Coordinator struct {
	cfg      *config.Config
	factory  browser.Factory
	engine   *perception.Engine
	planner  *planner.Planner
	executor *executor.Executor
	store    *learning.Store
	bus      *Bus
	logger   *zap.Logger

	mu        sync.Mutex
	sessions  map[string]*Session
	reserved  int
	startedAt time.Time
}

// New wires the coordinator over its collaborators. store may be nil when
// learning is disabled.
func New(cfg *config.Config, factory browser.Factory, engine *perception.Engine, pl *planner.Planner, ex *executor.Executor, store *learning.Store, logger *zap.Logger) *Coordinator {
	return &Coordinator{
		cfg:       cfg,
		factory:   factory,
		engine:    engine,
		planner:   pl,
		executor:  ex,
		store:     store,
		bus:       NewBus(logger, cfg.Session.BusBuffer),
		logger:    logger.Named("coordinator"),
		sessions:  make(map[string]*Session),
		startedAt: time.Now(),
	}
}

// Bus exposes the event bus for external subscribers.
func (c *Coordinator) Bus() *Bus { return c.bus }

// CreateSession starts a browser session, optionally navigating to url
// first. The response data is the new session id.
func (c *Coordinator) CreateSession(ctx context.Context, url string, depthPreference string) *schemas.Response {
	start := time.Now()

	depth := schemas.PerceptionDepth(depthPreference)
	if depthPreference == "" {
		depth = schemas.PerceptionDepth(c.cfg.Session.DefaultDepth)
	}
	if !depth.Valid() {
		return c.fail("", start, fmt.Errorf("invalid depth preference %q", depthPreference))
	}

	// Reserve the slot before the factory runs so concurrent creates
	// cannot both pass the limit check.
	c.mu.Lock()
	if c.cfg.Session.MaxSessions > 0 && len(c.sessions)+c.reserved >= c.cfg.Session.MaxSessions {
		c.mu.Unlock()
		return c.fail("", start, fmt.Errorf("session limit reached (%d)", c.cfg.Session.MaxSessions))
	}
	c.reserved++
	c.mu.Unlock()

	release := func() {
		c.mu.Lock()
		c.reserved--
		c.mu.Unlock()
	}

	adapter, err := c.factory(ctx)
	if err != nil {
		release()
		return c.fail("", start, fmt.Errorf("starting browser: %w", err))
	}

	sess := newSession(adapter, depth, c.cfg.Session.HistoryLimit)
	pumpCtx, cancel := context.WithCancel(context.Background())
	sess.stopPump = cancel
	go c.pumpEvents(pumpCtx, sess)

	if url != "" {
		if err := adapter.Navigate(ctx, url, schemas.WaitLoad); err != nil {
			cancel()
			_ = adapter.Close(ctx)
			release()
			return c.fail("", start, fmt.Errorf("initial navigation: %w", err))
		}
		sess.setURL(url)
	}

	c.mu.Lock()
	c.reserved--
	c.sessions[sess.ID] = sess
	c.mu.Unlock()

	c.bus.Publish(EventSessionCreated, sess.ID, url)
	c.logger.Info("Session created.",
		zap.String("session_id", sess.ID),
		zap.String("url", url),
		zap.String("depth", string(depth)))
	return c.ok(sess.ID, start, map[string]string{"session_id": sess.ID})
}

// pumpEvents forwards adapter page events to the bus and keeps the
// session's view of the page current. Navigation invalidates the
// session's cached snapshots.
func (c *Coordinator) pumpEvents(ctx context.Context, sess *Session) {
	defer close(sess.pumpDone)
	events := sess.adapter.Events()
	for {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-events:
			if !ok {
				return
			}
			if ev.Type == schemas.EventNavigation {
				sess.setURL(ev.URL)
				c.engine.Cache().InvalidateSession(sess.ID)
				c.bus.Publish(EventNavigated, sess.ID, ev.URL)
			}
		}
	}
}

// Navigate loads url in the session and returns the landing URL, the load
// duration, and a Lightning snapshot of the new page.
func (c *Coordinator) Navigate(ctx context.Context, sessionID, url string, wait schemas.WaitUntil) *schemas.Response {
	start := time.Now()
	sess, err := c.session(sessionID)
	if err != nil {
		return c.fail(sessionID, start, err)
	}
	if wait == "" {
		wait = schemas.WaitLoad
	}

	before := c.cacheStats()
	navStart := time.Now()
	if err := sess.adapter.Navigate(ctx, url, wait); err != nil {
		return c.failWithMetrics(sessionID, start, before, err)
	}
	loadMs := time.Since(navStart).Milliseconds()
	sess.setURL(url)
	c.engine.Cache().InvalidateSession(sessionID)

	data := map[string]any{"url": url, "load_ms": loadMs}
	if snap, err := c.engine.Perceive(ctx, sessionID, sess.adapter, schemas.DepthLightning); err == nil {
		sess.noteSnapshot(snap)
		data["snapshot"] = snap
	}
	return c.okWithMetrics(sessionID, start, before, data)
}

// Analyze captures a perception snapshot. An empty depth selects
// adaptively from the last observed page complexity.
func (c *Coordinator) Analyze(ctx context.Context, sessionID string, depth schemas.PerceptionDepth) *schemas.Response {
	start := time.Now()
	sess, err := c.session(sessionID)
	if err != nil {
		return c.fail(sessionID, start, err)
	}
	if depth == "" {
		// Only adaptively chosen depths get downgraded after a budget
		// overrun; an explicit request keeps its depth contract.
		depth = c.engine.EffectiveDepth(sessionID, sess.adaptiveDepth())
	}
	if !depth.Valid() {
		return c.fail(sessionID, start, fmt.Errorf("invalid perception depth %q", depth))
	}

	before := c.cacheStats()
	snap, err := c.engine.Perceive(ctx, sessionID, sess.adapter, depth)
	if err != nil {
		return c.failWithMetrics(sessionID, start, before, err)
	}
	sess.noteSnapshot(snap)
	return c.okWithMetrics(sessionID, start, before, snap)
}

// Act turns the intent into a plan, executes it under the plan timeout,
// and appends the outcomes to the session history.
func (c *Coordinator) Act(ctx context.Context, sessionID, intent string) *schemas.Response {
	start := time.Now()
	sess, err := c.session(sessionID)
	if err != nil {
		return c.fail(sessionID, start, err)
	}
	before := c.cacheStats()

	planCtx, cancel := context.WithTimeout(ctx, c.cfg.Executor.PlanTimeout)
	defer cancel()

	snap, err := c.engine.Perceive(planCtx, sessionID, sess.adapter, schemas.DepthStandard)
	if err != nil {
		c.logger.Warn("Planning without a snapshot.",
			zap.String("session_id", sessionID), zap.Error(err))
	} else {
		sess.noteSnapshot(snap)
	}

	plan, err := c.planner.Plan(planCtx, intent, snap)
	if err != nil {
		return c.failWithMetrics(sessionID, start, before, fmt.Errorf("planning: %w", err))
	}

	result, err := c.executor.Execute(planCtx, sessionID, sess.adapter, plan)
	if err != nil {
		return c.failWithMetrics(sessionID, start, before, fmt.Errorf("executing: %w", err))
	}
	sess.appendHistory(result.Outcomes)
	c.bus.Publish(EventPlanExecuted, sessionID, result)

	resp := c.okWithMetrics(sessionID, start, before, result)
	resp.Success = result.Success
	if !result.Success {
		resp.Error = "plan finished with failed critical steps"
	}
	return resp
}

// ExecuteTool dispatches a named tool against the session's adapter.
func (c *Coordinator) ExecuteTool(ctx context.Context, sessionID, toolName string, params map[string]any) *schemas.Response {
	start := time.Now()
	sess, err := c.session(sessionID)
	if err != nil {
		return c.fail(sessionID, start, err)
	}
	tool, ok := c.tools()[toolName]
	if !ok {
		return c.fail(sessionID, start, fmt.Errorf("unknown tool %q", toolName))
	}
	before := c.cacheStats()
	data, err := tool(ctx, sess, params)
	if err != nil {
		return c.failWithMetrics(sessionID, start, before, err)
	}
	return c.okWithMetrics(sessionID, start, before, data)
}

// SessionHealth reports the health payload for one session.
func (c *Coordinator) SessionHealth(sessionID string) *schemas.Response {
	start := time.Now()
	sess, err := c.session(sessionID)
	if err != nil {
		return c.fail(sessionID, start, err)
	}
	return c.ok(sessionID, start, sess.Health())
}

// SystemHealth reports the process-wide health payload.
func (c *Coordinator) SystemHealth() *schemas.Response {
	start := time.Now()
	c.mu.Lock()
	sessions := len(c.sessions)
	c.mu.Unlock()

	health := schemas.SystemHealth{
		Sessions: sessions,
		UptimeMs: time.Since(c.startedAt).Milliseconds(),
		Cache:    c.cacheStats(),
	}
	if c.store != nil {
		health.Learning = c.store.Summary()
	}
	return c.ok("", start, health)
}

// DestroySession tears the session down. Destroying an unknown or already
// destroyed session succeeds as a no-op.
func (c *Coordinator) DestroySession(ctx context.Context, sessionID string) *schemas.Response {
	start := time.Now()

	c.mu.Lock()
	sess, ok := c.sessions[sessionID]
	if ok {
		delete(c.sessions, sessionID)
	}
	c.mu.Unlock()

	if !ok || !sess.markDestroyed() {
		return c.ok(sessionID, start, map[string]bool{"destroyed": false})
	}

	sess.stopPump()
	<-sess.pumpDone
	if err := sess.adapter.Close(ctx); err != nil {
		c.logger.Warn("Closing browser failed.",
			zap.String("session_id", sessionID), zap.Error(err))
	}
	c.engine.ForgetSession(sessionID)
	c.bus.Publish(EventSessionDestroyed, sessionID, nil)
	c.logger.Info("Session destroyed.", zap.String("session_id", sessionID))
	return c.ok(sessionID, start, map[string]bool{"destroyed": true})
}

// Close destroys every session and shuts the bus down.
func (c *Coordinator) Close(ctx context.Context) {
	c.mu.Lock()
	ids := make([]string, 0, len(c.sessions))
	for id := range c.sessions {
		ids = append(ids, id)
	}
	c.mu.Unlock()

	for _, id := range ids {
		c.DestroySession(ctx, id)
	}
	c.bus.Close()
}

func (c *Coordinator) session(id string) (*Session, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	sess, ok := c.sessions[id]
	if !ok {
		return nil, fmt.Errorf("unknown session %q", id)
	}
	return sess, nil
}

func (c *Coordinator) cacheStats() schemas.CacheStats {
	return c.engine.Cache().Stats()
}

func (c *Coordinator) ok(sessionID string, start time.Time, data any) *schemas.Response {
	return &schemas.Response{
		Success:   true,
		Data:      data,
		SessionID: sessionID,
		Metrics:   &schemas.Metrics{DurationMs: time.Since(start).Milliseconds()},
	}
}

func (c *Coordinator) okWithMetrics(sessionID string, start time.Time, before schemas.CacheStats, data any) *schemas.Response {
	resp := c.ok(sessionID, start, data)
	resp.Metrics = c.metricsSince(start, before)
	return resp
}

func (c *Coordinator) fail(sessionID string, start time.Time, err error) *schemas.Response {
	return &schemas.Response{
		Success:   false,
		Error:     err.Error(),
		SessionID: sessionID,
		Metrics:   &schemas.Metrics{DurationMs: time.Since(start).Milliseconds()},
	}
}

func (c *Coordinator) failWithMetrics(sessionID string, start time.Time, before schemas.CacheStats, err error) *schemas.Response {
	resp := c.fail(sessionID, start, err)
	resp.Metrics = c.metricsSince(start, before)
	return resp
}

func (c *Coordinator) metricsSince(start time.Time, before schemas.CacheStats) *schemas.Metrics {
	after := c.cacheStats()
	return &schemas.Metrics{
		DurationMs:  time.Since(start).Milliseconds(),
		CacheHits:   after.Hits - before.Hits,
		CacheMisses: after.Misses - before.Misses,
	}
}
