// File: api/schemas/envelope.go
package schemas

import "time"

// Metrics accompany every response envelope.
type Metrics struct {
	DurationMs  int64  `json:"duration_ms"`
	CacheHits   uint64 `json:"cache_hits"`
	CacheMisses uint64 `json:"cache_misses"`
}

// Response is the uniform envelope for every inbound operation.
type Response struct {
	Success   bool     `json:"success"`
	Data      any      `json:"data,omitempty"`
	Error     string   `json:"error,omitempty"`
	SessionID string   `json:"session_id,omitempty"`
	Metrics   *Metrics `json:"metrics,omitempty"`
}

// SessionHealth is the per-session health payload.
type SessionHealth struct {
	SessionID       string          `json:"session_id"`
	URL             string          `json:"url,omitempty"`
	CreatedAt       time.Time       `json:"created_at"`
	AgeMs           int64           `json:"age_ms"`
	DepthPreference PerceptionDepth `json:"depth_preference"`
	HistorySize     int             `json:"history_size"`
}

// CacheStats summarize the perception cache for telemetry.
type CacheStats struct {
	Hits      uint64 `json:"hits"`
	Misses    uint64 `json:"misses"`
	Entries   int    `json:"entries"`
	Bytes     int64  `json:"bytes"`
	Evictions uint64 `json:"evictions"`
}

// SystemHealth is the process-wide health payload.
type SystemHealth struct {
	Sessions int             `json:"sessions"`
	UptimeMs int64           `json:"uptime_ms"`
	Cache    CacheStats      `json:"cache"`
	Learning LearningSummary `json:"learning"`
}
