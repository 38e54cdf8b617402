// File: internal/learning/store.go
package learning

import (
	"context"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"github.com/webpilot-ai/webpilot/api/schemas"
	"github.com/webpilot-ai/webpilot/internal/config"
)

// recentWindowCap bounds the per-record ring of recent outcomes consulted
// by FailingPatterns.
const recentWindowCap = 32

// record holds one key's statistics. The stats pointer is swapped
// atomically on update so readers of a published map never observe a torn
// value; the recent ring is writer-only state under the store mutex.
type record struct {
	stats  atomic.Pointer[schemas.LearningStats]
	recent []bool
}

// Store is the process-wide learning store: single-writer updates under a
// mutex, lock-free reads against an atomically published map. Eviction is
// LRU by last-seen with the most recent record of every action kind
// exempt.
type Store struct {
	cfg    config.LearningConfig
	logger *zap.Logger

	mu    sync.Mutex
	byKey map[schemas.LearningKey]*record

	published atomic.Pointer[map[schemas.LearningKey]*record]
	version   atomic.Uint64

	sink     Sink
	stop     chan struct{}
	stopOnce sync.Once
	wg       sync.WaitGroup
}

var (
	_ schemas.LearningReader   = (*Store)(nil)
	_ schemas.LearningRecorder = (*Store)(nil)
)

// NewStore builds a learning store. A nil sink disables periodic dumps;
// background maintenance starts on the first call to Start.
func NewStore(cfg config.LearningConfig, sink Sink, logger *zap.Logger) *Store {
	s := &Store{
		cfg:    cfg,
		logger: logger.Named("learning"),
		byKey:  make(map[schemas.LearningKey]*record),
		sink:   sink,
		stop:   make(chan struct{}),
	}
	empty := make(map[schemas.LearningKey]*record)
	s.published.Store(&empty)
	return s
}

// Start launches the retention sweep and, when a sink is attached, the
// periodic dump loop.
func (s *Store) Start() {
	if s.cfg.SweepInterval > 0 {
		s.wg.Add(1)
		go s.sweepLoop()
	}
	if s.sink != nil && s.cfg.DumpInterval > 0 {
		s.wg.Add(1)
		go s.dumpLoop()
	}
}

// Close stops background maintenance and flushes a final dump. Idempotent.
func (s *Store) Close() {
	s.stopOnce.Do(func() {
		close(s.stop)
		s.wg.Wait()
		if s.sink != nil {
			ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			if err := s.sink.Dump(ctx, s.Export()); err != nil {
				s.logger.Warn("Final learning dump failed.", zap.Error(err))
			}
			if err := s.sink.Close(); err != nil {
				s.logger.Warn("Failed to close learning sink.", zap.Error(err))
			}
		}
	})
}

// Version increases on every write. Planner determinism is scoped to a
// fixed (utterance, snapshot, version) triple.
func (s *Store) Version() uint64 { return s.version.Load() }

// Record implements schemas.LearningRecorder. Success rate converges via
// an exponential moving average; the first observation seeds it directly.
func (s *Store) Record(signature uint64, kind schemas.ActionKind, success bool, duration time.Duration) {
	key := schemas.LearningKey{Signature: signature, Kind: kind}
	now := time.Now()
	durMs := float64(duration.Milliseconds())

	s.mu.Lock()
	defer s.mu.Unlock()

	rec, ok := s.byKey[key]
	if !ok {
		s.evictForInsertLocked(kind)
		rec = &record{}
		rec.stats.Store(&schemas.LearningStats{})
		s.byKey[key] = rec
		s.republishLocked()
	}

	old := rec.stats.Load()
	next := *old
	next.Attempts++
	outcome := 0.0
	if success {
		next.Successes++
		outcome = 1.0
	}
	if old.Attempts == 0 {
		next.SuccessRate = outcome
		next.MeanDurationMs = durMs
	} else {
		next.SuccessRate = old.SuccessRate + s.cfg.LearningRate*(outcome-old.SuccessRate)
		next.MeanDurationMs = old.MeanDurationMs + s.cfg.LearningRate*(durMs-old.MeanDurationMs)
	}
	next.LastSeen = now
	rec.stats.Store(&next)

	rec.recent = append(rec.recent, success)
	if len(rec.recent) > recentWindowCap {
		rec.recent = rec.recent[1:]
	}
	s.version.Add(1)
}

// Prior implements schemas.LearningReader without taking the store mutex.
func (s *Store) Prior(signature uint64, kind schemas.ActionKind) (schemas.LearningStats, bool) {
	m := *s.published.Load()
	rec, ok := m[schemas.LearningKey{Signature: signature, Kind: kind}]
	if !ok {
		return schemas.LearningStats{}, false
	}
	return *rec.stats.Load(), true
}

// FailingPatterns returns the signatures whose success rate over their
// last window observations is below one half. Output is sorted for
// deterministic reporting.
func (s *Store) FailingPatterns(window int) []uint64 {
	if window <= 0 || window > recentWindowCap {
		window = recentWindowCap
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	seen := make(map[uint64]bool)
	var out []uint64
	for key, rec := range s.byKey {
		recent := rec.recent
		if len(recent) == 0 {
			continue
		}
		if len(recent) > window {
			recent = recent[len(recent)-window:]
		}
		successes := 0
		for _, ok := range recent {
			if ok {
				successes++
			}
		}
		if float64(successes)/float64(len(recent)) < 0.5 && !seen[key.Signature] {
			seen[key.Signature] = true
			out = append(out, key.Signature)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

// Export snapshots every record for the sink.
func (s *Store) Export() []schemas.PatternStat {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]schemas.PatternStat, 0, len(s.byKey))
	for key, rec := range s.byKey {
		out = append(out, schemas.PatternStat{
			Signature: key.Signature,
			Kind:      key.Kind,
			Stats:     *rec.stats.Load(),
		})
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Signature != out[j].Signature {
			return out[i].Signature < out[j].Signature
		}
		return out[i].Kind < out[j].Kind
	})
	return out
}

// Import seeds the store from a previous dump. Existing keys are kept.
func (s *Store) Import(records []schemas.PatternStat) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, ps := range records {
		key := schemas.LearningKey{Signature: ps.Signature, Kind: ps.Kind}
		if _, ok := s.byKey[key]; ok {
			continue
		}
		rec := &record{}
		stats := ps.Stats
		rec.stats.Store(&stats)
		s.byKey[key] = rec
	}
	s.republishLocked()
	s.version.Add(1)
}

// Summary aggregates store-wide statistics for telemetry.
func (s *Store) Summary() schemas.LearningSummary {
	s.mu.Lock()
	defer s.mu.Unlock()

	var totalAttempts, totalSuccesses uint64
	stats := make([]schemas.PatternStat, 0, len(s.byKey))
	for key, rec := range s.byKey {
		st := *rec.stats.Load()
		totalAttempts += st.Attempts
		totalSuccesses += st.Successes
		stats = append(stats, schemas.PatternStat{Signature: key.Signature, Kind: key.Kind, Stats: st})
	}
	sort.Slice(stats, func(i, j int) bool {
		if stats[i].Stats.Attempts != stats[j].Stats.Attempts {
			return stats[i].Stats.Attempts > stats[j].Stats.Attempts
		}
		return stats[i].Signature < stats[j].Signature
	})
	if len(stats) > 5 {
		stats = stats[:5]
	}
	summary := schemas.LearningSummary{Records: len(s.byKey), TopPatterns: stats}
	if totalAttempts > 0 {
		summary.OverallSuccessRate = float64(totalSuccesses) / float64(totalAttempts)
	}
	return summary
}

// evictForInsertLocked makes room for one insertion when a ceiling is hit.
// The most recent record of every action kind is exempt from eviction.
func (s *Store) evictForInsertLocked(kind schemas.ActionKind) {
	overTotal := s.cfg.MaxRecords > 0 && len(s.byKey) >= s.cfg.MaxRecords
	overKind := s.cfg.MaxRecordsPerKind > 0 && s.countKindLocked(kind) >= s.cfg.MaxRecordsPerKind
	if !overTotal && !overKind {
		return
	}

	newest := s.newestPerKindLocked()
	var victim schemas.LearningKey
	var victimSeen time.Time
	found := false
	for key, rec := range s.byKey {
		if overKind && key.Kind != kind {
			continue
		}
		if newest[key.Kind] == key {
			continue
		}
		seen := rec.stats.Load().LastSeen
		if !found || seen.Before(victimSeen) {
			victim, victimSeen, found = key, seen, true
		}
	}
	if found {
		delete(s.byKey, victim)
		s.republishLocked()
	}
}

func (s *Store) countKindLocked(kind schemas.ActionKind) int {
	n := 0
	for key := range s.byKey {
		if key.Kind == kind {
			n++
		}
	}
	return n
}

func (s *Store) newestPerKindLocked() map[schemas.ActionKind]schemas.LearningKey {
	newest := make(map[schemas.ActionKind]schemas.LearningKey)
	newestSeen := make(map[schemas.ActionKind]time.Time)
	for key, rec := range s.byKey {
		seen := rec.stats.Load().LastSeen
		if prev, ok := newestSeen[key.Kind]; !ok || seen.After(prev) {
			newest[key.Kind] = key
			newestSeen[key.Kind] = seen
		}
	}
	return newest
}

// republishLocked swaps in a fresh copy of the key map for lock-free
// readers. Called only when the key set changes, not on stat updates.
func (s *Store) republishLocked() {
	next := make(map[schemas.LearningKey]*record, len(s.byKey))
	for key, rec := range s.byKey {
		next[key] = rec
	}
	s.published.Store(&next)
}

func (s *Store) sweepLoop() {
	defer s.wg.Done()
	ticker := time.NewTicker(s.cfg.SweepInterval)
	defer ticker.Stop()
	for {
		select {
		case now := <-ticker.C:
			if n := s.sweepExpired(now); n > 0 {
				s.logger.Debug("Aged out learning records.", zap.Int("count", n))
			}
		case <-s.stop:
			return
		}
	}
}

// sweepExpired removes records whose last observation predates the
// retention window.
func (s *Store) sweepExpired(now time.Time) int {
	if s.cfg.Retention <= 0 {
		return 0
	}
	cutoff := now.Add(-s.cfg.Retention)
	s.mu.Lock()
	defer s.mu.Unlock()
	removed := 0
	for key, rec := range s.byKey {
		if rec.stats.Load().LastSeen.Before(cutoff) {
			delete(s.byKey, key)
			removed++
		}
	}
	if removed > 0 {
		s.republishLocked()
		s.version.Add(1)
	}
	return removed
}

func (s *Store) dumpLoop() {
	defer s.wg.Done()
	ticker := time.NewTicker(s.cfg.DumpInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
			if err := s.sink.Dump(ctx, s.Export()); err != nil {
				s.logger.Warn("Periodic learning dump failed.", zap.Error(err))
			}
			cancel()
		case <-s.stop:
			return
		}
	}
}
