package strategy

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Aman-CERP/amanrecall/internal/logging"
)

func fixed(ids ...string) Executor {
	return ExecutorFunc(func(context.Context, Query) ([]Hit, error) {
		hits := make([]Hit, len(ids))
		for i, id := range ids {
			hits[i] = Hit{DocID: id, Score: float64(len(ids) - i)}
		}
		return hits, nil
	})
}

// stubborn ignores ctx and blocks until release is closed.
func stubborn(t *testing.T) Executor {
	release := make(chan struct{})
	t.Cleanup(func() { close(release) })
	return ExecutorFunc(func(context.Context, Query) ([]Hit, error) {
		<-release
		return []Hit{{DocID: "late"}}, nil
	})
}

func newDispatcher(t *testing.T, reg *Registry, opts ...DispatcherOption) *Dispatcher {
	t.Helper()
	opts = append([]DispatcherOption{WithLogger(logging.Discard())}, opts...)
	return NewDispatcher(reg, opts...)
}

// =============================================================================
// Registry
// =============================================================================

func TestRegistry(t *testing.T) {
	reg := NewRegistry()

	require.NoError(t, reg.Register(Vector, fixed("a")))
	require.NoError(t, reg.Register(Lexical, fixed("b")))

	assert.Error(t, reg.Register(Lexical, fixed("c")), "duplicate id")
	assert.Error(t, reg.Register("", fixed("c")), "empty id")
	assert.Error(t, reg.Register(Graph, nil), "nil executor")

	assert.Equal(t, []string{Lexical, Vector}, reg.IDs())
	_, ok := reg.Get(Graph)
	assert.False(t, ok)
}

func TestToList_RanksAndTruncates(t *testing.T) {
	l := ToList(Lexical, []Hit{{DocID: "a", Score: 3}, {DocID: "b", Score: 2}, {DocID: "c", Score: 1}}, 2)

	require.Len(t, l.Candidates, 2)
	assert.Equal(t, Lexical, l.Strategy)
	assert.Equal(t, 2, l.Candidates[1].Rank)
	assert.Equal(t, "b", l.Candidates[1].DocID)
	assert.Equal(t, Lexical, l.Candidates[1].Strategy)
}

// =============================================================================
// Dispatcher
// =============================================================================

func TestDispatch_AllSucceed(t *testing.T) {
	reg := NewRegistry()
	require.NoError(t, reg.Register(Lexical, fixed("doc1", "doc2")))
	require.NoError(t, reg.Register(Vector, fixed("doc2")))

	lists, outcomes := newDispatcher(t, reg).Dispatch(context.Background(), Query{Text: "q"}, reg.IDs())

	require.Len(t, lists, 2)
	assert.Equal(t, Lexical, lists[0].Strategy)
	assert.Len(t, lists[0].Candidates, 2)
	assert.Equal(t, StatusOK, outcomes[0].Status)
	assert.Equal(t, StatusOK, outcomes[1].Status)
	assert.Equal(t, 1, outcomes[1].Hits)
}

func TestDispatch_TimedOutStrategyContributesNothing(t *testing.T) {
	// Given: vector never returns and the timeout is 30ms
	reg := NewRegistry()
	require.NoError(t, reg.Register(Lexical, fixed("doc1")))
	require.NoError(t, reg.Register(Vector, stubborn(t)))
	d := newDispatcher(t, reg, WithTimeout(30*time.Millisecond))

	// When: dispatching
	start := time.Now()
	lists, outcomes := d.Dispatch(context.Background(), Query{Text: "q"}, reg.IDs())
	elapsed := time.Since(start)

	// Then: the call returns near the timeout with lexical results only
	assert.Less(t, elapsed, time.Second)
	assert.Len(t, lists[0].Candidates, 1)
	assert.Empty(t, lists[1].Candidates)
	assert.Equal(t, Vector, lists[1].Strategy)
	assert.Equal(t, StatusTimeout, outcomes[1].Status)
	assert.ErrorIs(t, outcomes[1].Err, context.DeadlineExceeded)
}

func TestDispatch_ErrorIsEmptyContribution(t *testing.T) {
	reg := NewRegistry()
	require.NoError(t, reg.Register(Lexical, ExecutorFunc(func(context.Context, Query) ([]Hit, error) {
		return nil, errors.New("index closed")
	})))

	lists, outcomes := newDispatcher(t, reg).Dispatch(context.Background(), Query{}, []string{Lexical, "missing"})

	assert.Empty(t, lists[0].Candidates)
	assert.Equal(t, StatusError, outcomes[0].Status)
	assert.Equal(t, StatusUnknown, outcomes[1].Status)
}

func TestDispatch_CancellationPropagates(t *testing.T) {
	// Given: a cooperative executor that waits on ctx
	sawCancel := make(chan struct{})
	reg := NewRegistry()
	require.NoError(t, reg.Register(Graph, ExecutorFunc(func(ctx context.Context, _ Query) ([]Hit, error) {
		<-ctx.Done()
		close(sawCancel)
		return nil, ctx.Err()
	})))
	d := newDispatcher(t, reg, WithTimeout(time.Minute))

	ctx, cancel := context.WithCancel(context.Background())
	time.AfterFunc(20*time.Millisecond, cancel)

	// When: the caller goes away
	_, outcomes := d.Dispatch(ctx, Query{}, []string{Graph})

	// Then: the executor observed cancellation and the outcome says so
	select {
	case <-sawCancel:
	case <-time.After(time.Second):
		t.Fatal("executor never saw cancellation")
	}
	assert.Equal(t, StatusCancelled, outcomes[0].Status)
}

func TestDispatch_CircuitBreakerSkipsFailingStrategy(t *testing.T) {
	var calls atomic.Int32
	reg := NewRegistry()
	require.NoError(t, reg.Register(Vector, ExecutorFunc(func(context.Context, Query) ([]Hit, error) {
		calls.Add(1)
		return nil, errors.New("backend down")
	})))
	d := newDispatcher(t, reg, WithBreaker(2, time.Hour))

	var last []Outcome
	for i := 0; i < 4; i++ {
		_, last = d.Dispatch(context.Background(), Query{}, []string{Vector})
	}

	assert.Equal(t, int32(2), calls.Load())
	assert.Equal(t, StatusCircuitOpen, last[0].Status)
}

func TestDispatch_RespectsLimit(t *testing.T) {
	reg := NewRegistry()
	require.NoError(t, reg.Register(Lexical, fixed("a", "b", "c", "d")))

	lists, _ := newDispatcher(t, reg).Dispatch(context.Background(), Query{Limit: 2}, []string{Lexical})

	assert.Len(t, lists[0].Candidates, 2)
}
