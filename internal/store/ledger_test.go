package store

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Aman-CERP/amanrecall/internal/bandit"
	"github.com/Aman-CERP/amanrecall/internal/config"
	"github.com/Aman-CERP/amanrecall/internal/feedback"
	"github.com/Aman-CERP/amanrecall/internal/logging"
)

func TestLedger_InsertOrIgnore(t *testing.T) {
	db := openTestDB(t)
	ctx := context.Background()
	ledger := db.Ledger()
	t0 := time.Date(2026, 5, 1, 9, 0, 0, 0, time.UTC)

	inserted, err := ledger.Record(ctx, feedback.Event{QueryID: "q1", ArmID: "oracle", Outcome: bandit.OutcomeHit, Timestamp: t0})
	require.NoError(t, err)
	assert.True(t, inserted)

	// Same query id, different payload: ignored
	inserted, err = ledger.Record(ctx, feedback.Event{QueryID: "q1", ArmID: "graph", Outcome: bandit.OutcomeMiss, Timestamp: t0.Add(time.Minute)})
	require.NoError(t, err)
	assert.False(t, inserted)

	inserted, err = ledger.Record(ctx, feedback.Event{QueryID: "q2", ArmID: "vector", Outcome: bandit.OutcomePartial, Timestamp: t0.Add(time.Hour)})
	require.NoError(t, err)
	assert.True(t, inserted)

	n, err := ledger.Count(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	recent, err := ledger.Recent(ctx, 10)
	require.NoError(t, err)
	require.Len(t, recent, 2)
	assert.Equal(t, "q2", recent[0].QueryID)
	assert.Equal(t, bandit.OutcomePartial, recent[0].Outcome)
	assert.Equal(t, "oracle", recent[1].ArmID, "first write wins")
}

func TestLedger_BacksRecorder(t *testing.T) {
	// Given: feedback for q1 was recorded by an earlier process
	db := openTestDB(t)
	ctx := context.Background()
	_, err := db.Ledger().Record(ctx, feedback.Event{QueryID: "q1", ArmID: "oracle", Outcome: bandit.OutcomeHit, Timestamp: time.Now()})
	require.NoError(t, err)

	c := bandit.New(config.NewConfig().Bandit, bandit.WithStore(db.Arms()), bandit.WithLogger(logging.Discard()))
	r := feedback.NewRecorder(c, feedback.DefaultConfig(),
		feedback.WithLedger(db.Ledger()), feedback.WithLogger(logging.Discard()))
	r.Start(ctx)
	defer func() { _ = r.Stop(ctx) }()

	// When: the same feedback is redelivered after a restart
	r.Expect(feedback.Token{QueryID: "q1", Scope: acme, ArmID: "oracle"})
	require.NoError(t, r.Submit("q1", "oracle", bandit.OutcomeHit))
	flushCtx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()
	require.NoError(t, r.Flush(flushCtx))

	// Then: the posterior is untouched
	assert.Equal(t, feedback.StateRecorded, r.State("q1"))
	arms, err := c.Snapshot(ctx, acme)
	require.NoError(t, err)
	for _, a := range arms {
		assert.Equal(t, int64(0), a.Updates)
	}
}
