// Package store keeps a history of predictions in SQLite for later
// retrieval and aggregate statistics. The service runs without it.
package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	_ "modernc.org/sqlite"
)

// Record is one stored prediction.
type Record struct {
	ID                    int64     `json:"id"`
	RequestID             string    `json:"request_id"`
	Timestamp             time.Time `json:"timestamp"`
	Filename              string    `json:"filename"`
	Probability           float64   `json:"probability"`
	Label                 string    `json:"prediction"`
	Confidence            float64   `json:"confidence"`
	ProcessingTimeSeconds float64   `json:"processing_time_seconds"`
	ModelVersion          string    `json:"model_version"`
}

// Stats aggregates every stored prediction.
type Stats struct {
	Total          int     `json:"total_predictions"`
	Real           int     `json:"real_predictions"`
	Fake           int     `json:"fake_predictions"`
	RealPercentage float64 `json:"real_percentage"`
	FakePercentage float64 `json:"fake_percentage"`
}

// Options configures Open.
type Options struct {
	BusyTimeoutMS int
}

// Store manages prediction persistence backed by SQLite.
type Store struct {
	db   *sql.DB
	path string
}

const (
	sqliteBusyCode          = 5
	busyRetryAttempts       = 5
	busyRetryInitialBackoff = 10 * time.Millisecond
	busyRetryMaxBackoff     = 200 * time.Millisecond
)

const schema = `
CREATE TABLE IF NOT EXISTS predictions (
    id INTEGER PRIMARY KEY AUTOINCREMENT,
    request_id TEXT NOT NULL,
    timestamp TEXT NOT NULL,
    filename TEXT NOT NULL,
    probability REAL NOT NULL,
    label TEXT NOT NULL CHECK (label IN ('real', 'fake')),
    confidence REAL NOT NULL,
    processing_time_seconds REAL NOT NULL,
    model_version TEXT NOT NULL DEFAULT ''
);
CREATE INDEX IF NOT EXISTS idx_predictions_label ON predictions(label);
`

// Open creates or connects to the database at path and applies the schema.
func Open(ctx context.Context, path string, opts Options) (*Store, error) {
	if dir := filepath.Dir(path); dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("ensure store dir: %w", err)
		}
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open sqlite db: %w", err)
	}

	busy := opts.BusyTimeoutMS
	if busy <= 0 {
		busy = 5000
	}
	pragmas := []string{
		"PRAGMA journal_mode=WAL",
		fmt.Sprintf("PRAGMA busy_timeout = %d", busy),
	}
	for _, pragma := range pragmas {
		if _, execErr := db.ExecContext(ctx, pragma); execErr != nil {
			_ = db.Close()
			return nil, fmt.Errorf("apply pragma %q: %w", pragma, execErr)
		}
	}

	if _, err := db.ExecContext(ctx, schema); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("apply schema: %w", err)
	}

	return &Store{db: db, path: path}, nil
}

// Close closes the underlying database connection.
func (s *Store) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

// Ping reports whether the database is reachable.
func (s *Store) Ping(ctx context.Context) error {
	if s == nil || s.db == nil {
		return errors.New("store not open")
	}
	return s.db.PingContext(ctx)
}

// Record inserts r and returns its row ID. A zero Timestamp is set to now.
func (s *Store) Record(ctx context.Context, r Record) (int64, error) {
	if r.Timestamp.IsZero() {
		r.Timestamp = time.Now()
	}

	var res sql.Result
	err := retryOnBusy(ctx, func() error {
		var execErr error
		res, execErr = s.db.ExecContext(
			ctx,
			`INSERT INTO predictions (
                request_id, timestamp, filename, probability, label,
                confidence, processing_time_seconds, model_version
            ) VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
			r.RequestID,
			r.Timestamp.UTC().Format(time.RFC3339Nano),
			r.Filename,
			r.Probability,
			r.Label,
			r.Confidence,
			r.ProcessingTimeSeconds,
			r.ModelVersion,
		)
		return execErr
	})
	if err != nil {
		return 0, fmt.Errorf("insert prediction: %w", err)
	}

	id, err := res.LastInsertId()
	if err != nil {
		return 0, fmt.Errorf("last insert id: %w", err)
	}
	return id, nil
}

// Recent returns up to limit predictions, newest first.
func (s *Store) Recent(ctx context.Context, limit int) ([]Record, error) {
	if limit <= 0 {
		return []Record{}, nil
	}
	rows, err := s.db.QueryContext(
		ctx,
		`SELECT id, request_id, timestamp, filename, probability, label,
                confidence, processing_time_seconds, model_version
         FROM predictions ORDER BY id DESC LIMIT ?`,
		limit,
	)
	if err != nil {
		return nil, fmt.Errorf("query predictions: %w", err)
	}
	defer rows.Close()

	records := []Record{}
	for rows.Next() {
		var (
			r  Record
			ts string
		)
		if err := rows.Scan(&r.ID, &r.RequestID, &ts, &r.Filename, &r.Probability, &r.Label,
			&r.Confidence, &r.ProcessingTimeSeconds, &r.ModelVersion); err != nil {
			return nil, fmt.Errorf("scan prediction: %w", err)
		}
		if r.Timestamp, err = time.Parse(time.RFC3339Nano, ts); err != nil {
			return nil, fmt.Errorf("parse timestamp %q: %w", ts, err)
		}
		records = append(records, r)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate predictions: %w", err)
	}
	return records, nil
}

// Statistics counts real and fake predictions over the whole history.
func (s *Store) Statistics(ctx context.Context) (Stats, error) {
	var st Stats
	row := s.db.QueryRowContext(ctx, `
        SELECT COUNT(*),
               COALESCE(SUM(CASE WHEN label = 'real' THEN 1 ELSE 0 END), 0),
               COALESCE(SUM(CASE WHEN label = 'fake' THEN 1 ELSE 0 END), 0)
        FROM predictions`)
	if err := row.Scan(&st.Total, &st.Real, &st.Fake); err != nil {
		return Stats{}, fmt.Errorf("query statistics: %w", err)
	}
	if st.Total > 0 {
		st.RealPercentage = roundPercent(float64(st.Real) / float64(st.Total) * 100)
		st.FakePercentage = roundPercent(float64(st.Fake) / float64(st.Total) * 100)
	}
	return st, nil
}

func roundPercent(v float64) float64 {
	return float64(int64(v*100+0.5)) / 100
}

func isSQLiteBusy(err error) bool {
	if err == nil {
		return false
	}
	var coder interface{ Code() int }
	if errors.As(err, &coder) && coder.Code() == sqliteBusyCode {
		return true
	}
	msg := err.Error()
	return strings.Contains(msg, "SQLITE_BUSY") || strings.Contains(msg, "database is locked")
}

func retryOnBusy(ctx context.Context, op func() error) error {
	delay := busyRetryInitialBackoff
	var lastErr error
	for attempt := 0; attempt < busyRetryAttempts; attempt++ {
		lastErr = op()
		if lastErr == nil {
			return nil
		}
		if !isSQLiteBusy(lastErr) || attempt == busyRetryAttempts-1 {
			break
		}
		select {
		case <-time.After(delay):
		case <-ctx.Done():
			return ctx.Err()
		}
		if next := delay * 2; next <= busyRetryMaxBackoff {
			delay = next
		}
	}
	return lastErr
}
