package store

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/Aman-CERP/amanrecall/internal/bandit"
	"github.com/Aman-CERP/amanrecall/internal/feedback"
)

// Ledger is the durable idempotency record for feedback.
type Ledger struct {
	db *sql.DB
}

var _ feedback.Ledger = (*Ledger)(nil)

// Record inserts ev unless its query id is already present. It reports
// whether a row was inserted.
func (l *Ledger) Record(ctx context.Context, ev feedback.Event) (bool, error) {
	res, err := l.db.ExecContext(ctx,
		`INSERT OR IGNORE INTO feedback_events (query_id, arm_id, outcome, recorded_at)
		 VALUES (?, ?, ?, ?)`,
		ev.QueryID, ev.ArmID, string(ev.Outcome), ev.Timestamp.UTC().Format(time.RFC3339Nano))
	if err != nil {
		return false, fmt.Errorf("record feedback %s: %w", ev.QueryID, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n == 1, nil
}

// Count returns the number of recorded events.
func (l *Ledger) Count(ctx context.Context) (int, error) {
	var n int
	err := l.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM feedback_events`).Scan(&n)
	return n, err
}

// Recent returns up to limit events, newest first.
func (l *Ledger) Recent(ctx context.Context, limit int) ([]feedback.Event, error) {
	rows, err := l.db.QueryContext(ctx,
		`SELECT query_id, arm_id, outcome, recorded_at FROM feedback_events
		 ORDER BY recorded_at DESC, query_id LIMIT ?`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var events []feedback.Event
	for rows.Next() {
		var ev feedback.Event
		var outcome, recordedAt string
		if err := rows.Scan(&ev.QueryID, &ev.ArmID, &outcome, &recordedAt); err != nil {
			return nil, err
		}
		ev.Outcome = bandit.Outcome(outcome)
		ev.Timestamp, _ = time.Parse(time.RFC3339Nano, recordedAt)
		events = append(events, ev)
	}
	return events, rows.Err()
}
