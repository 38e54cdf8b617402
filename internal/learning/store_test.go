// File: internal/learning/store_test.go
package learning

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
	"go.uber.org/zap"

	"github.com/webpilot-ai/webpilot/api/schemas"
	"github.com/webpilot-ai/webpilot/internal/config"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

func newTestStore(t *testing.T, mutate ...func(*config.LearningConfig)) *Store {
	t.Helper()
	cfg := config.NewDefaultConfig().Learning
	cfg.SweepInterval = 0 // maintenance driven manually in tests
	cfg.DumpInterval = 0
	for _, m := range mutate {
		m(&cfg)
	}
	s := NewStore(cfg, nil, zap.NewNop())
	t.Cleanup(s.Close)
	return s
}

func TestRecordEMA(t *testing.T) {
	s := newTestStore(t)
	sig := PhraseSignature([]string{"click", "login"})

	s.Record(sig, schemas.ActionClick, true, 100*time.Millisecond)
	stats, ok := s.Prior(sig, schemas.ActionClick)
	require.True(t, ok)
	assert.EqualValues(t, 1, stats.Attempts)
	assert.EqualValues(t, 1, stats.Successes)
	assert.Equal(t, 1.0, stats.SuccessRate, "first observation seeds the average")
	assert.Equal(t, 100.0, stats.MeanDurationMs)

	s.Record(sig, schemas.ActionClick, false, 300*time.Millisecond)
	stats, ok = s.Prior(sig, schemas.ActionClick)
	require.True(t, ok)
	assert.EqualValues(t, 2, stats.Attempts)
	assert.EqualValues(t, 1, stats.Successes)
	assert.InDelta(t, 0.9, stats.SuccessRate, 1e-9) // 1.0 + 0.1*(0-1.0)
	assert.InDelta(t, 120.0, stats.MeanDurationMs, 1e-9)
}

func TestStoreInvariants(t *testing.T) {
	s := newTestStore(t)
	sig := uint64(42)
	outcomes := []bool{true, false, false, true, false, true, true, false, false, false}
	for _, success := range outcomes {
		s.Record(sig, schemas.ActionType, success, 50*time.Millisecond)
		stats, ok := s.Prior(sig, schemas.ActionType)
		require.True(t, ok)
		assert.GreaterOrEqual(t, stats.SuccessRate, 0.0)
		assert.LessOrEqual(t, stats.SuccessRate, 1.0)
		assert.GreaterOrEqual(t, stats.Attempts, stats.Successes)
	}
}

func TestPriorMissing(t *testing.T) {
	s := newTestStore(t)
	_, ok := s.Prior(999, schemas.ActionClick)
	assert.False(t, ok)

	// Same signature under a different kind is a distinct key.
	s.Record(999, schemas.ActionClick, true, time.Millisecond)
	_, ok = s.Prior(999, schemas.ActionType)
	assert.False(t, ok)
}

func TestVersionAdvances(t *testing.T) {
	s := newTestStore(t)
	v0 := s.Version()
	s.Record(1, schemas.ActionClick, true, time.Millisecond)
	assert.Greater(t, s.Version(), v0)
}

func TestEvictionPreservesNewestPerKind(t *testing.T) {
	s := newTestStore(t, func(cfg *config.LearningConfig) {
		cfg.MaxRecords = 4
	})

	// One click record, then fill the remaining capacity with navigates.
	s.Record(1, schemas.ActionClick, true, time.Millisecond)
	for i := uint64(2); i <= 4; i++ {
		s.Record(i, schemas.ActionNavigate, true, time.Millisecond)
	}

	// At capacity: the next insert must evict exactly one LRU entry, and
	// the click record survives because it is the newest of its kind even
	// though it is globally least recently seen.
	s.Record(5, schemas.ActionNavigate, true, time.Millisecond)

	_, ok := s.Prior(1, schemas.ActionClick)
	assert.True(t, ok, "sole click record must survive eviction")
	_, ok = s.Prior(2, schemas.ActionNavigate)
	assert.False(t, ok, "oldest evictable navigate record evicted")
	assert.Equal(t, 4, s.Summary().Records)
}

func TestPerKindCeiling(t *testing.T) {
	s := newTestStore(t, func(cfg *config.LearningConfig) {
		cfg.MaxRecordsPerKind = 2
	})
	s.Record(1, schemas.ActionClick, true, time.Millisecond)
	s.Record(2, schemas.ActionClick, true, time.Millisecond)
	s.Record(3, schemas.ActionClick, true, time.Millisecond)

	_, ok := s.Prior(1, schemas.ActionClick)
	assert.False(t, ok)
	_, ok = s.Prior(3, schemas.ActionClick)
	assert.True(t, ok)
}

func TestFailingPatterns(t *testing.T) {
	s := newTestStore(t)

	for i := 0; i < 6; i++ {
		s.Record(10, schemas.ActionClick, i%3 == 0, time.Millisecond) // 2/6 success
		s.Record(20, schemas.ActionClick, true, time.Millisecond)     // always succeeds
		s.Record(30, schemas.ActionType, i%2 == 0, time.Millisecond)  // exactly half
	}

	failing := s.FailingPatterns(6)
	assert.Equal(t, []uint64{10}, failing)
}

func TestSweepExpired(t *testing.T) {
	s := newTestStore(t, func(cfg *config.LearningConfig) {
		cfg.Retention = time.Hour
	})
	s.Record(1, schemas.ActionClick, true, time.Millisecond)
	s.Record(2, schemas.ActionClick, true, time.Millisecond)

	assert.Equal(t, 0, s.sweepExpired(time.Now()))
	assert.Equal(t, 2, s.sweepExpired(time.Now().Add(2*time.Hour)))
	_, ok := s.Prior(1, schemas.ActionClick)
	assert.False(t, ok)
}

func TestExportImportRoundTrip(t *testing.T) {
	src := newTestStore(t)
	src.Record(7, schemas.ActionClick, true, 80*time.Millisecond)
	src.Record(8, schemas.ActionType, false, 40*time.Millisecond)

	dst := newTestStore(t)
	dst.Import(src.Export())

	stats, ok := dst.Prior(7, schemas.ActionClick)
	require.True(t, ok)
	assert.EqualValues(t, 1, stats.Attempts)
	assert.Equal(t, 1.0, stats.SuccessRate)

	summary := dst.Summary()
	assert.Equal(t, 2, summary.Records)
	assert.InDelta(t, 0.5, summary.OverallSuccessRate, 1e-9)
}

func TestConcurrentReadersAndWriter(t *testing.T) {
	s := newTestStore(t)
	var wg sync.WaitGroup

	wg.Add(1)
	go func() {
		defer wg.Done()
		for i := 0; i < 500; i++ {
			s.Record(uint64(i%10), schemas.ActionClick, i%2 == 0, time.Millisecond)
		}
	}()
	for r := 0; r < 4; r++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := 0; i < 500; i++ {
				if stats, ok := s.Prior(uint64(i%10), schemas.ActionClick); ok {
					assert.GreaterOrEqual(t, stats.Attempts, stats.Successes)
				}
			}
		}()
	}
	wg.Wait()
}

func TestSignatureStability(t *testing.T) {
	assert.Equal(t,
		PhraseSignature([]string{"Click", "LOGIN"}),
		PhraseSignature([]string{"click", "login"}),
		"phrase signatures are case-insensitive")
	assert.NotEqual(t,
		PhraseSignature([]string{"click", "login"}),
		PhraseSignature([]string{"login", "click"}),
		"token order is significant")

	attrs := map[string]string{"id": "a", "type": "submit"}
	sameShape := map[string]string{"type": "button", "id": "zzz"}
	assert.Equal(t,
		ElementSignature(schemas.RoleButton, attrs),
		ElementSignature(schemas.RoleButton, sameShape),
		"attribute values do not affect the skeleton")
	assert.NotEqual(t,
		ElementSignature(schemas.RoleButton, attrs),
		ElementSignature(schemas.RoleLink, attrs))

	// Map iteration order must not leak into the hash.
	for i := 0; i < 8; i++ {
		assert.Equal(t,
			ElementSignature(schemas.RoleButton, attrs),
			ElementSignature(schemas.RoleButton, map[string]string{"type": "submit", "id": "a"}))
	}
}
