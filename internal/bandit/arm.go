package bandit

import (
	"context"
	"fmt"
	"math"
	"regexp"
	"strings"
	"time"

	"github.com/Aman-CERP/amanrecall/internal/config"
	amerrors "github.com/Aman-CERP/amanrecall/internal/errors"
)

// Scope identifies whose arms are in play.
type Scope struct {
	TenantID  string `json:"tenant_id"`
	ProjectID string `json:"project_id"`
}

// Key returns a stable map key for the scope.
func (s Scope) Key() string {
	return s.TenantID + "\x00" + s.ProjectID
}

func (s Scope) String() string {
	if s.ProjectID == "" {
		return s.TenantID
	}
	return s.TenantID + "/" + s.ProjectID
}

var scopeIDPattern = regexp.MustCompile(`^[A-Za-z0-9][A-Za-z0-9._-]{0,127}$`)

// Validate checks tenant and project id format. Project id is optional.
func (s Scope) Validate() error {
	if strings.TrimSpace(s.TenantID) == "" {
		return amerrors.ValidationError(amerrors.ErrCodeMissingTenant, "tenant id is required")
	}
	if !scopeIDPattern.MatchString(s.TenantID) {
		return amerrors.ValidationError(amerrors.ErrCodeInvalidTenant,
			fmt.Sprintf("invalid tenant id %q", s.TenantID))
	}
	if s.ProjectID != "" && !scopeIDPattern.MatchString(s.ProjectID) {
		return amerrors.ValidationError(amerrors.ErrCodeInvalidTenant,
			fmt.Sprintf("invalid project id %q", s.ProjectID))
	}
	return nil
}

// Outcome is the caller's judgement of a query's results.
type Outcome string

const (
	OutcomeHit     Outcome = "hit"
	OutcomeMiss    Outcome = "miss"
	OutcomePartial Outcome = "partial"
)

// ParseOutcome converts s into an Outcome.
func ParseOutcome(s string) (Outcome, error) {
	o := Outcome(strings.ToLower(strings.TrimSpace(s)))
	if !o.Valid() {
		return "", amerrors.ValidationError(amerrors.ErrCodeInvalidOutcome,
			fmt.Sprintf("outcome must be hit, miss or partial, got %q", s))
	}
	return o, nil
}

// Valid reports whether o is one of the known outcomes.
func (o Outcome) Valid() bool {
	switch o {
	case OutcomeHit, OutcomeMiss, OutcomePartial:
		return true
	}
	return false
}

// credit returns the success and failure mass an outcome adds.
func (o Outcome) credit() (success, failure float64) {
	switch o {
	case OutcomeHit:
		return 1, 0
	case OutcomeMiss:
		return 0, 1
	case OutcomePartial:
		return 0.5, 0.5
	}
	return 0, 0
}

// Arm is one weight configuration and its Beta(Alpha, Beta) posterior.
// Alpha and Beta start at 1 (uniform prior).
type Arm struct {
	ID         string             `json:"id"`
	Weights    map[string]float64 `json:"weights"`
	Alpha      float64            `json:"alpha"`
	Beta       float64            `json:"beta"`
	Updates    int64              `json:"updates"`
	Selections int64              `json:"selections"`
	UpdatedAt  time.Time          `json:"updated_at"`
}

// Successes is the decayed success mass.
func (a Arm) Successes() float64 { return a.Alpha - 1 }

// Failures is the decayed failure mass.
func (a Arm) Failures() float64 { return a.Beta - 1 }

// Mean is the posterior mean.
func (a Arm) Mean() float64 { return a.Alpha / (a.Alpha + a.Beta) }

func (a Arm) clone() Arm {
	a.Weights = copyWeights(a.Weights)
	return a
}

// check rejects arms a store could not have written.
func (a Arm) check() error {
	if a.ID == "" {
		return fmt.Errorf("arm with empty id")
	}
	if invalidParam(a.Alpha) || invalidParam(a.Beta) {
		return fmt.Errorf("arm %s: posterior out of range (alpha=%v beta=%v)", a.ID, a.Alpha, a.Beta)
	}
	if a.Updates < 0 || a.Selections < 0 {
		return fmt.Errorf("arm %s: negative counters", a.ID)
	}
	for strategy, w := range a.Weights {
		if w < 0 || math.IsNaN(w) || math.IsInf(w, 0) {
			return fmt.Errorf("arm %s: invalid weight for %s", a.ID, strategy)
		}
	}
	return nil
}

func invalidParam(v float64) bool {
	return math.IsNaN(v) || math.IsInf(v, 0) || v < 1
}

func copyWeights(w map[string]float64) map[string]float64 {
	out := make(map[string]float64, len(w))
	for k, v := range w {
		out[k] = v
	}
	return out
}

// defaultArms builds fresh arms from configuration.
func defaultArms(cfgs []config.ArmConfig, now time.Time) []Arm {
	arms := make([]Arm, 0, len(cfgs))
	for _, c := range cfgs {
		arms = append(arms, Arm{
			ID:        c.ID,
			Weights:   copyWeights(c.Weights),
			Alpha:     1,
			Beta:      1,
			UpdatedAt: now,
		})
	}
	return arms
}

// Selection is the arm chosen for one query.
type Selection struct {
	ArmID     string             `json:"arm_id"`
	Weights   map[string]float64 `json:"weights"`
	ColdStart bool               `json:"cold_start"`
	// Samples holds each arm's posterior draw; nil on cold start.
	Samples map[string]float64 `json:"samples,omitempty"`
}

// ArmStore persists arm state per scope. LoadArms returns an empty slice,
// not an error, for a scope with no rows.
type ArmStore interface {
	LoadArms(ctx context.Context, scope Scope) ([]Arm, error)
	SaveArms(ctx context.Context, scope Scope, arms []Arm) error
	DeleteArms(ctx context.Context, scope Scope) error
}
