package store

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/Aman-CERP/amanrecall/internal/telemetry"
)

// MaxZeroResultQueries is how many zero-result queries are retained.
const MaxZeroResultQueries = 100

// QueryHistory persists aggregated query history.
type QueryHistory struct {
	db *sql.DB
}

var _ telemetry.HistoryStore = (*QueryHistory)(nil)

// SaveDailyCounts adds counts to the date's totals for kind.
func (h *QueryHistory) SaveDailyCounts(ctx context.Context, date, kind string, counts map[string]int64) error {
	if len(counts) == 0 {
		return nil
	}
	return h.inTx(ctx, func(tx *sql.Tx) error {
		stmt, err := tx.PrepareContext(ctx, `
			INSERT INTO query_daily_stats (date, kind, name, count)
			VALUES (?, ?, ?, ?)
			ON CONFLICT(date, kind, name) DO UPDATE SET count = count + excluded.count`)
		if err != nil {
			return fmt.Errorf("prepare statement: %w", err)
		}
		defer stmt.Close()

		for name, count := range counts {
			if _, err := stmt.ExecContext(ctx, date, kind, name, count); err != nil {
				return fmt.Errorf("save %s count %s: %w", kind, name, err)
			}
		}
		return nil
	})
}

// DailyCounts sums kind's counts over the inclusive date range.
func (h *QueryHistory) DailyCounts(ctx context.Context, kind, from, to string) (map[string]int64, error) {
	rows, err := h.db.QueryContext(ctx, `
		SELECT name, SUM(count) FROM query_daily_stats
		WHERE kind = ? AND date >= ? AND date <= ?
		GROUP BY name`, kind, from, to)
	if err != nil {
		return nil, fmt.Errorf("query %s counts: %w", kind, err)
	}
	defer rows.Close()

	counts := make(map[string]int64)
	for rows.Next() {
		var name string
		var count int64
		if err := rows.Scan(&name, &count); err != nil {
			return nil, fmt.Errorf("scan row: %w", err)
		}
		counts[name] = count
	}
	return counts, rows.Err()
}

// UpsertTermCounts adds to each term's running count.
func (h *QueryHistory) UpsertTermCounts(ctx context.Context, terms map[string]int64) error {
	if len(terms) == 0 {
		return nil
	}
	now := time.Now().UTC().Format(time.RFC3339)
	return h.inTx(ctx, func(tx *sql.Tx) error {
		stmt, err := tx.PrepareContext(ctx, `
			INSERT INTO query_terms (term, count, last_seen)
			VALUES (?, ?, ?)
			ON CONFLICT(term) DO UPDATE SET
				count = count + excluded.count,
				last_seen = excluded.last_seen`)
		if err != nil {
			return fmt.Errorf("prepare statement: %w", err)
		}
		defer stmt.Close()

		for term, count := range terms {
			if _, err := stmt.ExecContext(ctx, term, count, now); err != nil {
				return fmt.Errorf("upsert term count: %w", err)
			}
		}
		return nil
	})
}

// TopTerms returns the limit most frequent terms.
func (h *QueryHistory) TopTerms(ctx context.Context, limit int) ([]telemetry.TermCount, error) {
	rows, err := h.db.QueryContext(ctx,
		`SELECT term, count FROM query_terms ORDER BY count DESC, term LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("query top terms: %w", err)
	}
	defer rows.Close()

	var terms []telemetry.TermCount
	for rows.Next() {
		var tc telemetry.TermCount
		if err := rows.Scan(&tc.Term, &tc.Count); err != nil {
			return nil, fmt.Errorf("scan row: %w", err)
		}
		terms = append(terms, tc)
	}
	return terms, rows.Err()
}

// AddZeroResultQueries appends queries and trims the table to the newest
// MaxZeroResultQueries.
func (h *QueryHistory) AddZeroResultQueries(ctx context.Context, queries []telemetry.ZeroResultQuery) error {
	if len(queries) == 0 {
		return nil
	}
	return h.inTx(ctx, func(tx *sql.Tx) error {
		for _, q := range queries {
			if _, err := tx.ExecContext(ctx,
				`INSERT INTO zero_result_queries (tenant_id, query, timestamp) VALUES (?, ?, ?)`,
				q.TenantID, q.Query, q.Timestamp.UTC().Format(time.RFC3339Nano)); err != nil {
				return fmt.Errorf("insert zero-result query: %w", err)
			}
		}
		if _, err := tx.ExecContext(ctx, `
			DELETE FROM zero_result_queries
			WHERE id NOT IN (SELECT id FROM zero_result_queries ORDER BY id DESC LIMIT ?)`,
			MaxZeroResultQueries); err != nil {
			return fmt.Errorf("trim zero-result queries: %w", err)
		}
		return nil
	})
}

// ZeroResultQueries returns up to limit zero-result queries, newest first.
func (h *QueryHistory) ZeroResultQueries(ctx context.Context, limit int) ([]telemetry.ZeroResultQuery, error) {
	rows, err := h.db.QueryContext(ctx,
		`SELECT tenant_id, query, timestamp FROM zero_result_queries ORDER BY id DESC LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("query zero-result queries: %w", err)
	}
	defer rows.Close()

	var queries []telemetry.ZeroResultQuery
	for rows.Next() {
		var q telemetry.ZeroResultQuery
		var ts string
		if err := rows.Scan(&q.TenantID, &q.Query, &ts); err != nil {
			return nil, fmt.Errorf("scan row: %w", err)
		}
		q.Timestamp, _ = time.Parse(time.RFC3339Nano, ts)
		queries = append(queries, q)
	}
	return queries, rows.Err()
}

func (h *QueryHistory) inTx(ctx context.Context, fn func(tx *sql.Tx) error) error {
	tx, err := h.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	if err := fn(tx); err != nil {
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit transaction: %w", err)
	}
	return nil
}
