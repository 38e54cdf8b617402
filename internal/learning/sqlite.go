// File: internal/learning/sqlite.go
package learning

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	_ "modernc.org/sqlite"

	"github.com/webpilot-ai/webpilot/api/schemas"
)

const learningSchema = `
CREATE TABLE IF NOT EXISTS learning_records (
	signature        TEXT    NOT NULL,
	kind             TEXT    NOT NULL,
	attempts         INTEGER NOT NULL,
	successes        INTEGER NOT NULL,
	success_rate     REAL    NOT NULL,
	mean_duration_ms REAL    NOT NULL,
	last_seen        INTEGER NOT NULL,
	PRIMARY KEY (signature, kind)
);`

// SQLiteSink persists learning dumps to a local sqlite database.
type SQLiteSink struct {
	db *sql.DB
}

var _ Sink = (*SQLiteSink)(nil)

// NewSQLiteSink opens (and migrates) the database at path.
func NewSQLiteSink(path string) (*SQLiteSink, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open learning database: %w", err)
	}
	// The sink is written by one dump loop; a single connection avoids
	// sqlite write contention entirely.
	db.SetMaxOpenConns(1)
	if _, err := db.Exec(learningSchema); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to migrate learning schema: %w", err)
	}
	return &SQLiteSink{db: db}, nil
}

// Dump implements Sink. The table is replaced wholesale inside one
// transaction so a crashed dump never leaves a partial mix of generations.
func (s *SQLiteSink) Dump(ctx context.Context, records []schemas.PatternStat) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin learning dump: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, `DELETE FROM learning_records`); err != nil {
		return fmt.Errorf("failed to clear learning records: %w", err)
	}
	stmt, err := tx.PrepareContext(ctx, `
		INSERT INTO learning_records
			(signature, kind, attempts, successes, success_rate, mean_duration_ms, last_seen)
		VALUES (?, ?, ?, ?, ?, ?, ?)`)
	if err != nil {
		return fmt.Errorf("failed to prepare learning insert: %w", err)
	}
	defer stmt.Close()

	for _, ps := range records {
		_, err := stmt.ExecContext(ctx,
			fmt.Sprintf("%016x", ps.Signature),
			string(ps.Kind),
			int64(ps.Stats.Attempts),
			int64(ps.Stats.Successes),
			ps.Stats.SuccessRate,
			ps.Stats.MeanDurationMs,
			ps.Stats.LastSeen.UnixMilli(),
		)
		if err != nil {
			return fmt.Errorf("failed to insert learning record: %w", err)
		}
	}
	return tx.Commit()
}

// Load implements Sink.
func (s *SQLiteSink) Load(ctx context.Context) ([]schemas.PatternStat, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT signature, kind, attempts, successes, success_rate, mean_duration_ms, last_seen
		FROM learning_records`)
	if err != nil {
		return nil, fmt.Errorf("failed to query learning records: %w", err)
	}
	defer rows.Close()

	var out []schemas.PatternStat
	for rows.Next() {
		var (
			sigHex             string
			kind               string
			attempts, succ     int64
			rate, meanDuration float64
			lastSeenMs         int64
		)
		if err := rows.Scan(&sigHex, &kind, &attempts, &succ, &rate, &meanDuration, &lastSeenMs); err != nil {
			return nil, fmt.Errorf("failed to scan learning record: %w", err)
		}
		var sig uint64
		if _, err := fmt.Sscanf(sigHex, "%016x", &sig); err != nil {
			continue
		}
		out = append(out, schemas.PatternStat{
			Signature: sig,
			Kind:      schemas.ActionKind(kind),
			Stats: schemas.LearningStats{
				Attempts:       uint64(attempts),
				Successes:      uint64(succ),
				SuccessRate:    rate,
				MeanDurationMs: meanDuration,
				LastSeen:       time.UnixMilli(lastSeenMs),
			},
		})
	}
	return out, rows.Err()
}

// Close implements Sink.
func (s *SQLiteSink) Close() error { return s.db.Close() }
