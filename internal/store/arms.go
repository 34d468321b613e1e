package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/Aman-CERP/amanrecall/internal/bandit"
	amerrors "github.com/Aman-CERP/amanrecall/internal/errors"
)

// ArmStore persists bandit arms, one row per (tenant, project, arm).
type ArmStore struct {
	db *sql.DB
}

var (
	_ bandit.ArmStore   = (*ArmStore)(nil)
	_ bandit.SweepStore = (*ArmStore)(nil)
)

const decayTask = "bandit_decay"

// LoadArms returns the scope's arms ordered by id, or none.
func (s *ArmStore) LoadArms(ctx context.Context, scope bandit.Scope) ([]bandit.Arm, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT arm_id, weights_json, alpha, beta, updates, selections, updated_at
		 FROM bandit_arms WHERE tenant_id = ? AND project_id = ?
		 ORDER BY arm_id`,
		scope.TenantID, scope.ProjectID)
	if err != nil {
		return nil, fmt.Errorf("query arms: %w", err)
	}
	defer rows.Close()

	var arms []bandit.Arm
	for rows.Next() {
		var a bandit.Arm
		var weightsJSON, updatedAt string
		if err := rows.Scan(&a.ID, &weightsJSON, &a.Alpha, &a.Beta, &a.Updates, &a.Selections, &updatedAt); err != nil {
			return nil, fmt.Errorf("scan arm: %w", err)
		}
		if err := json.Unmarshal([]byte(weightsJSON), &a.Weights); err != nil {
			return nil, amerrors.New(amerrors.ErrCodeArmStateCorrupt,
				fmt.Sprintf("arm %s has unreadable weights", a.ID), err)
		}
		if a.UpdatedAt, err = time.Parse(time.RFC3339Nano, updatedAt); err != nil {
			return nil, amerrors.New(amerrors.ErrCodeArmStateCorrupt,
				fmt.Sprintf("arm %s has unreadable timestamp", a.ID), err)
		}
		arms = append(arms, a)
	}
	return arms, rows.Err()
}

// SaveArms replaces the scope's rows with arms in one transaction.
func (s *ArmStore) SaveArms(ctx context.Context, scope bandit.Scope, arms []bandit.Arm) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.ExecContext(ctx,
		`DELETE FROM bandit_arms WHERE tenant_id = ? AND project_id = ?`,
		scope.TenantID, scope.ProjectID); err != nil {
		return fmt.Errorf("clear arms: %w", err)
	}

	stmt, err := tx.PrepareContext(ctx,
		`INSERT INTO bandit_arms
		 (tenant_id, project_id, arm_id, weights_json, alpha, beta, updates, selections, updated_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`)
	if err != nil {
		return fmt.Errorf("prepare: %w", err)
	}
	defer stmt.Close()

	for _, a := range arms {
		weights, err := json.Marshal(a.Weights)
		if err != nil {
			return fmt.Errorf("encode weights for %s: %w", a.ID, err)
		}
		if _, err := stmt.ExecContext(ctx,
			scope.TenantID, scope.ProjectID, a.ID, string(weights),
			a.Alpha, a.Beta, a.Updates, a.Selections,
			a.UpdatedAt.UTC().Format(time.RFC3339Nano)); err != nil {
			return fmt.Errorf("insert arm %s: %w", a.ID, err)
		}
	}
	return tx.Commit()
}

// DeleteArms removes every row for the scope.
func (s *ArmStore) DeleteArms(ctx context.Context, scope bandit.Scope) error {
	_, err := s.db.ExecContext(ctx,
		`DELETE FROM bandit_arms WHERE tenant_id = ? AND project_id = ?`,
		scope.TenantID, scope.ProjectID)
	return err
}

// Scopes lists every scope with stored arms.
func (s *ArmStore) Scopes(ctx context.Context) ([]bandit.Scope, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT DISTINCT tenant_id, project_id FROM bandit_arms ORDER BY tenant_id, project_id`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var scopes []bandit.Scope
	for rows.Next() {
		var sc bandit.Scope
		if err := rows.Scan(&sc.TenantID, &sc.ProjectID); err != nil {
			return nil, err
		}
		scopes = append(scopes, sc)
	}
	return scopes, rows.Err()
}

// LastSweep returns when the last decay sweep ran, or the zero time.
func (s *ArmStore) LastSweep(ctx context.Context) (time.Time, error) {
	var ranAt string
	err := s.db.QueryRowContext(ctx,
		`SELECT ran_at FROM maintenance_runs WHERE task = ?`, decayTask).Scan(&ranAt)
	if errors.Is(err, sql.ErrNoRows) {
		return time.Time{}, nil
	}
	if err != nil {
		return time.Time{}, fmt.Errorf("query last sweep: %w", err)
	}
	return time.Parse(time.RFC3339Nano, ranAt)
}

// SetLastSweep records when a decay sweep ran.
func (s *ArmStore) SetLastSweep(ctx context.Context, at time.Time) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO maintenance_runs (task, ran_at) VALUES (?, ?)
		 ON CONFLICT(task) DO UPDATE SET ran_at = excluded.ran_at`,
		decayTask, at.UTC().Format(time.RFC3339Nano))
	return err
}
