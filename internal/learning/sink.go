// File: internal/learning/sink.go
package learning

import (
	"context"

	"github.com/webpilot-ai/webpilot/api/schemas"
)

// Sink is a pluggable persistence target for learning dumps. The store is
// fully functional without one; absent a sink, state is in-memory only.
type Sink interface {
	// Dump replaces the sink's contents with the given records.
	Dump(ctx context.Context, records []schemas.PatternStat) error
	// Load returns every previously dumped record.
	Load(ctx context.Context) ([]schemas.PatternStat, error)
	Close() error
}
