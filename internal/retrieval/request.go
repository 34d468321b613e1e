package retrieval

import (
	"strconv"
	"strings"
	"unicode/utf8"

	"github.com/Aman-CERP/amanrecall/internal/bandit"
	amerrors "github.com/Aman-CERP/amanrecall/internal/errors"
	"github.com/Aman-CERP/amanrecall/internal/strategy"
)

// MaxQueryLength bounds query text in bytes.
const MaxQueryLength = 8192

// Request is one retrieval query.
type Request struct {
	Text        string            `json:"text"`
	TenantID    string            `json:"tenant_id"`
	ProjectID   string            `json:"project_id"`
	K           int               `json:"k"` // 0 selects the configured default
	Constraints map[string]string `json:"constraints,omitempty"`
}

// Ranked is one returned document.
type Ranked struct {
	DocID      string   `json:"doc_id"`
	Score      float64  `json:"score"`
	Rank       int      `json:"rank"`
	Strategies []string `json:"strategies"`
}

// Response is the answer to a Request.
type Response struct {
	QueryID    string             `json:"query_id"`
	ArmID      string             `json:"arm_id"`
	ColdStart  bool               `json:"cold_start"`
	Weights    map[string]float64 `json:"weights"`
	Ranked     []Ranked           `json:"ranked"`
	Confidence float64            `json:"confidence"`
	Degraded   bool               `json:"degraded"`
	Trace      []State            `json:"trace"`
	Strategies []strategy.Outcome `json:"-"`
}

func (r Request) scope() bandit.Scope {
	return bandit.Scope{TenantID: r.TenantID, ProjectID: r.ProjectID}
}

// validate checks r and returns the effective k.
func (r Request) validate(defaultK, maxK int) (int, error) {
	text := strings.TrimSpace(r.Text)
	if text == "" {
		return 0, amerrors.ValidationError(amerrors.ErrCodeInvalidQuery, "query text is required")
	}
	if len(text) > MaxQueryLength {
		return 0, amerrors.ValidationError(amerrors.ErrCodeInvalidQuery, "query text is too long").
			WithDetail("max_bytes", strconv.Itoa(MaxQueryLength))
	}
	if !utf8.ValidString(text) {
		return 0, amerrors.ValidationError(amerrors.ErrCodeInvalidQuery, "query text is not valid UTF-8")
	}
	if err := r.scope().Validate(); err != nil {
		return 0, err
	}

	k := r.K
	if k == 0 {
		k = defaultK
	}
	if k < 1 || k > maxK {
		return 0, amerrors.ValidationError(amerrors.ErrCodeInvalidK, "k is out of range").
			WithDetail("k", strconv.Itoa(r.K)).
			WithDetail("max_k", strconv.Itoa(maxK))
	}
	return k, nil
}
