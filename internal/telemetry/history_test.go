package telemetry

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// =============================================================================
// CircularBuffer Tests
// =============================================================================

func TestCircularBuffer_MaintainsCapacity(t *testing.T) {
	buf := NewCircularBuffer[string](3)

	buf.Add("query1")
	buf.Add("query2")
	buf.Add("query3")
	buf.Add("query4") // evicts query1
	buf.Add("query5") // evicts query2

	assert.Equal(t, 3, buf.Size())
	assert.Equal(t, []string{"query3", "query4", "query5"}, buf.Items())
}

func TestCircularBuffer_EmptyAndClear(t *testing.T) {
	buf := NewCircularBuffer[string](10)
	assert.NotNil(t, buf.Items())
	assert.Empty(t, buf.Items())

	buf.Add("a")
	buf.Add("b")
	buf.Clear()

	assert.Equal(t, 0, buf.Size())
	assert.Empty(t, buf.Items())
}

// =============================================================================
// LatencyBucket Tests
// =============================================================================

func TestLatencyToBucket(t *testing.T) {
	tests := []struct {
		latency  time.Duration
		expected LatencyBucket
	}{
		{5 * time.Millisecond, BucketP10},
		{10 * time.Millisecond, BucketP50},
		{49 * time.Millisecond, BucketP50},
		{50 * time.Millisecond, BucketP100},
		{100 * time.Millisecond, BucketP500},
		{499 * time.Millisecond, BucketP500},
		{500 * time.Millisecond, BucketP1000},
		{5 * time.Second, BucketP1000},
	}

	for _, tt := range tests {
		t.Run(tt.latency.String(), func(t *testing.T) {
			assert.Equal(t, tt.expected, LatencyToBucket(tt.latency))
		})
	}
}

func TestExtractTerms(t *testing.T) {
	tests := []struct {
		query string
		want  []string
	}{
		{"Billing retry policy", []string{"billing", "retry", "policy"}},
		{"who is on it?", []string{"who"}},
		{"(ERR_401), timeout!", []string{"err_401", "timeout"}},
		{"   ", nil},
	}

	for _, tt := range tests {
		t.Run(tt.query, func(t *testing.T) {
			assert.Equal(t, tt.want, ExtractTerms(tt.query))
		})
	}
}

// =============================================================================
// History Tests
// =============================================================================

type memHistoryStore struct {
	mu     sync.Mutex
	daily  map[string]map[string]int64 // "date/kind" -> counts
	terms  map[string]int64
	zero   []ZeroResultQuery
	failOn string
}

func newMemHistoryStore() *memHistoryStore {
	return &memHistoryStore{daily: make(map[string]map[string]int64), terms: make(map[string]int64)}
}

func (s *memHistoryStore) SaveDailyCounts(_ context.Context, date, kind string, counts map[string]int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.failOn == kind {
		return errors.New("disk full")
	}
	key := date + "/" + kind
	if s.daily[key] == nil {
		s.daily[key] = make(map[string]int64)
	}
	for k, v := range counts {
		s.daily[key][k] += v
	}
	return nil
}

func (s *memHistoryStore) UpsertTermCounts(_ context.Context, terms map[string]int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for k, v := range terms {
		s.terms[k] += v
	}
	return nil
}

func (s *memHistoryStore) AddZeroResultQueries(_ context.Context, queries []ZeroResultQuery) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.zero = append(s.zero, queries...)
	return nil
}

var day1 = time.Date(2026, 3, 1, 23, 59, 0, 0, time.UTC)

func TestHistory_RecordAggregates(t *testing.T) {
	// Given: a history collector
	h := NewHistory(nil, DefaultHistoryConfig())

	// When: recording a mix of answers
	h.Record(QueryEvent{TenantID: "acme", Query: "billing retry", Result: ResultConfident, ArmID: "oracle", ResultCount: 3, Latency: 5 * time.Millisecond, Timestamp: day1})
	h.Record(QueryEvent{TenantID: "acme", Query: "Billing retry", Result: ResultReFused, ArmID: "vector", ResultCount: 2, Latency: 60 * time.Millisecond, Timestamp: day1})
	h.Record(QueryEvent{TenantID: "globex", Query: "unknown thing", Result: ResultLowConfident, ArmID: "oracle", ResultCount: 0, Latency: 5 * time.Millisecond, Timestamp: day1})

	// Then: the snapshot reflects every dimension
	s := h.Snapshot()
	assert.Equal(t, int64(3), s.TotalQueries)
	assert.Equal(t, int64(1), s.ZeroResultCount)
	assert.Equal(t, int64(1), s.ExactRepeatCount, "case-insensitive repeat within a tenant")
	assert.Equal(t, map[string]int64{ResultConfident: 1, ResultReFused: 1, ResultLowConfident: 1}, s.ResultCounts)
	assert.Equal(t, map[string]int64{"oracle": 2, "vector": 1}, s.ArmCounts)
	assert.Equal(t, int64(2), s.LatencyDistribution[BucketP10])
	assert.Equal(t, int64(1), s.LatencyDistribution[BucketP100])
	require.NotEmpty(t, s.TopTerms)
	assert.Equal(t, TermCount{Term: "billing", Count: 2}, s.TopTerms[0])
	require.Len(t, s.ZeroResultQueries, 1)
	assert.Equal(t, "globex", s.ZeroResultQueries[0].TenantID)
	assert.InDelta(t, 33.33, s.ZeroResultPercentage(), 0.01)
}

func TestHistory_FlushWritesIncrementsOnce(t *testing.T) {
	// Given: events on two days
	store := newMemHistoryStore()
	h := NewHistory(store, DefaultHistoryConfig())
	h.Record(QueryEvent{Query: "billing", Result: ResultConfident, ArmID: "oracle", ResultCount: 1, Timestamp: day1})
	h.Record(QueryEvent{Query: "billing", Result: ResultDegraded, ArmID: "graph", ResultCount: 0, Timestamp: day1.Add(time.Minute)})

	// When: flushing twice
	require.NoError(t, h.Flush(context.Background()))
	require.NoError(t, h.Flush(context.Background()))

	// Then: each day was written once and the collector starts over
	assert.Equal(t, map[string]int64{ResultConfident: 1}, store.daily["2026-03-01/"+KindResult])
	assert.Equal(t, map[string]int64{ResultDegraded: 1}, store.daily["2026-03-02/"+KindResult])
	assert.Equal(t, map[string]int64{"graph": 1}, store.daily["2026-03-02/"+KindArm])
	assert.Equal(t, map[string]int64{VolumeQueries: 1, VolumeZeroResults: 1, VolumeRepeats: 1},
		store.daily["2026-03-02/"+KindVolume])
	assert.Equal(t, int64(2), store.terms["billing"])
	assert.Len(t, store.zero, 1)
	assert.Equal(t, int64(0), h.Snapshot().TotalQueries)
}

func TestHistory_FailedFlushKeepsUnwrittenCounts(t *testing.T) {
	// Given: a store that rejects latency counts
	store := newMemHistoryStore()
	store.failOn = KindLatency
	h := NewHistory(store, DefaultHistoryConfig())
	h.Record(QueryEvent{Query: "billing", Result: ResultConfident, ArmID: "oracle", ResultCount: 1, Timestamp: day1})

	// When: the flush fails and is retried after the store recovers
	require.Error(t, h.Flush(context.Background()))
	store.failOn = ""
	require.NoError(t, h.Flush(context.Background()))

	// Then: nothing was counted twice and nothing was lost
	assert.Equal(t, int64(1), store.daily["2026-03-01/"+KindResult][ResultConfident])
	assert.Equal(t, int64(1), store.daily["2026-03-01/"+KindArm]["oracle"])
	assert.Equal(t, int64(1), store.daily["2026-03-01/"+KindLatency][string(BucketP10)])
}

func TestHistory_CloseFlushesAndStops(t *testing.T) {
	store := newMemHistoryStore()
	h := NewHistory(store, DefaultHistoryConfig())
	h.Record(QueryEvent{Query: "billing", Result: ResultConfident, ResultCount: 1, Timestamp: day1})

	require.NoError(t, h.Close(context.Background()))
	h.Record(QueryEvent{Query: "ignored", Result: ResultConfident, ResultCount: 1, Timestamp: day1})

	assert.Equal(t, int64(1), store.daily["2026-03-01/"+KindResult][ResultConfident])
	assert.Equal(t, int64(0), h.Snapshot().TotalQueries)
	assert.NoError(t, h.Close(context.Background()))
}

func TestHistory_NilSafe(t *testing.T) {
	var h *History

	assert.NotPanics(t, func() {
		h.Record(QueryEvent{Query: "x"})
		_ = h.Snapshot()
	})
	assert.NoError(t, h.Flush(context.Background()))
	assert.NoError(t, h.Close(context.Background()))
}

func TestHistory_ConcurrentRecord(t *testing.T) {
	h := NewHistory(nil, DefaultHistoryConfig())

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 100; j++ {
				h.Record(QueryEvent{TenantID: "acme", Query: "billing", Result: ResultConfident, ResultCount: 1})
			}
		}()
	}
	wg.Wait()

	s := h.Snapshot()
	assert.Equal(t, int64(800), s.TotalQueries)
	assert.Equal(t, int64(799), s.ExactRepeatCount)
}
