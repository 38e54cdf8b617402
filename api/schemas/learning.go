// File: api/schemas/learning.go
package schemas

import "time"

// LearningKey identifies one (pattern signature, action kind) pair in the
// learning store.
type LearningKey struct {
	Signature uint64     `json:"signature"`
	Kind      ActionKind `json:"kind"`
}

// LearningStats are the rolling statistics kept per key.
type LearningStats struct {
	Attempts       uint64    `json:"attempts"`
	Successes      uint64    `json:"successes"`
	SuccessRate    float64   `json:"success_rate"`
	MeanDurationMs float64   `json:"mean_duration_ms"`
	LastSeen       time.Time `json:"last_seen"`
}

// LearningReader is the planner-facing read side of the learning store.
type LearningReader interface {
	Prior(signature uint64, kind ActionKind) (LearningStats, bool)
}

// LearningRecorder is the executor-facing write side of the learning store.
type LearningRecorder interface {
	Record(signature uint64, kind ActionKind, success bool, duration time.Duration)
}

// PatternStat pairs a signature with its stats for reporting.
type PatternStat struct {
	Signature uint64        `json:"signature"`
	Kind      ActionKind    `json:"kind"`
	Stats     LearningStats `json:"stats"`
}

// LearningSummary aggregates store-wide statistics for telemetry.
type LearningSummary struct {
	Records            int           `json:"records"`
	OverallSuccessRate float64       `json:"overall_success_rate"`
	TopPatterns        []PatternStat `json:"top_patterns,omitempty"`
}
