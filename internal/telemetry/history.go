package telemetry

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"sort"
	"strings"
	"sync"
	"time"
	"unicode"

	lru "github.com/hashicorp/golang-lru/v2"
)

// =============================================================================
// Latency Buckets
// =============================================================================

// LatencyBucket is a coarse query latency bucket kept in the daily history.
type LatencyBucket string

const (
	BucketP10   LatencyBucket = "p10"   // <10ms
	BucketP50   LatencyBucket = "p50"   // 10-50ms
	BucketP100  LatencyBucket = "p100"  // 50-100ms
	BucketP500  LatencyBucket = "p500"  // 100-500ms
	BucketP1000 LatencyBucket = "p1000" // >=500ms
)

// LatencyBuckets lists the buckets in ascending order.
var LatencyBuckets = []LatencyBucket{BucketP10, BucketP50, BucketP100, BucketP500, BucketP1000}

// LatencyToBucket converts a duration to its bucket.
func LatencyToBucket(d time.Duration) LatencyBucket {
	ms := d.Milliseconds()
	switch {
	case ms < 10:
		return BucketP10
	case ms < 50:
		return BucketP50
	case ms < 100:
		return BucketP100
	case ms < 500:
		return BucketP500
	default:
		return BucketP1000
	}
}

// Kinds of daily counters persisted by a HistoryStore.
const (
	KindResult  = "result"
	KindArm     = "arm"
	KindLatency = "latency"
	KindVolume  = "volume"
)

// Names counted under KindVolume.
const (
	VolumeQueries     = "queries"
	VolumeZeroResults = "zero_results"
	VolumeRepeats     = "repeats"
)

// =============================================================================
// Events
// =============================================================================

// QueryEvent is one answered query.
type QueryEvent struct {
	TenantID    string
	Query       string
	Result      string
	ArmID       string
	ResultCount int
	Latency     time.Duration
	Timestamp   time.Time
}

// IsZeroResult reports whether the query returned nothing.
func (e QueryEvent) IsZeroResult() bool {
	return e.ResultCount == 0
}

// ZeroResultQuery is a remembered query that returned nothing.
type ZeroResultQuery struct {
	TenantID  string    `json:"tenant_id"`
	Query     string    `json:"query"`
	Timestamp time.Time `json:"timestamp"`
}

// TermCount is a query term and how often it was seen.
type TermCount struct {
	Term  string `json:"term"`
	Count int64  `json:"count"`
}

// ExtractTerms lowercases query and returns its words of three or more
// characters, punctuation trimmed.
func ExtractTerms(query string) []string {
	var terms []string
	for _, w := range strings.Fields(strings.ToLower(query)) {
		w = strings.TrimFunc(w, func(r rune) bool {
			return !unicode.IsLetter(r) && !unicode.IsDigit(r)
		})
		if len([]rune(w)) >= 3 {
			terms = append(terms, w)
		}
	}
	return terms
}

// =============================================================================
// Circular Buffer
// =============================================================================

// CircularBuffer is a fixed-capacity FIFO buffer.
type CircularBuffer[T any] struct {
	items    []T
	head     int // next write position
	size     int
	capacity int
	mu       sync.RWMutex
}

// NewCircularBuffer creates a buffer holding at most capacity items.
func NewCircularBuffer[T any](capacity int) *CircularBuffer[T] {
	if capacity <= 0 {
		capacity = 100
	}
	return &CircularBuffer[T]{
		items:    make([]T, capacity),
		capacity: capacity,
	}
}

// Add appends item, evicting the oldest when full.
func (b *CircularBuffer[T]) Add(item T) {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.items[b.head] = item
	b.head = (b.head + 1) % b.capacity
	if b.size < b.capacity {
		b.size++
	}
}

// Items returns the buffered items, oldest first.
func (b *CircularBuffer[T]) Items() []T {
	b.mu.RLock()
	defer b.mu.RUnlock()

	result := make([]T, b.size)
	if b.size < b.capacity {
		copy(result, b.items[:b.size])
	} else {
		copy(result, b.items[b.head:])
		copy(result[b.capacity-b.head:], b.items[:b.head])
	}
	return result
}

// Size returns the number of buffered items.
func (b *CircularBuffer[T]) Size() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.size
}

// Clear removes all items.
func (b *CircularBuffer[T]) Clear() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.head = 0
	b.size = 0
}

// =============================================================================
// History
// =============================================================================

// HistoryStore persists query history. Counts passed to the Save/Upsert
// methods are increments, not totals.
type HistoryStore interface {
	SaveDailyCounts(ctx context.Context, date, kind string, counts map[string]int64) error
	UpsertTermCounts(ctx context.Context, terms map[string]int64) error
	AddZeroResultQueries(ctx context.Context, queries []ZeroResultQuery) error
}

// HistoryConfig sizes the in-memory aggregates.
type HistoryConfig struct {
	TopTermsCapacity      int // distinct terms tracked between flushes (default: 100)
	ZeroResultsCapacity   int // zero-result queries kept between flushes (default: 100)
	RecentQueriesCapacity int // query hashes remembered for repeat detection (default: 500)
}

// DefaultHistoryConfig returns the default sizes.
func DefaultHistoryConfig() HistoryConfig {
	return HistoryConfig{
		TopTermsCapacity:      100,
		ZeroResultsCapacity:   100,
		RecentQueriesCapacity: 500,
	}
}

// HistorySnapshot summarises what a History recorded since its last flush.
type HistorySnapshot struct {
	TotalQueries        int64                   `json:"total_queries"`
	ZeroResultCount     int64                   `json:"zero_result_count"`
	ExactRepeatCount    int64                   `json:"exact_repeat_count"`
	ResultCounts        map[string]int64        `json:"result_counts"`
	ArmCounts           map[string]int64        `json:"arm_counts"`
	LatencyDistribution map[LatencyBucket]int64 `json:"latency_distribution"`
	TopTerms            []TermCount             `json:"top_terms"`
	ZeroResultQueries   []ZeroResultQuery       `json:"zero_result_queries"`
	Since               time.Time               `json:"since"`
}

// ZeroResultPercentage returns the share of queries that returned nothing.
func (s HistorySnapshot) ZeroResultPercentage() float64 {
	if s.TotalQueries == 0 {
		return 0
	}
	return float64(s.ZeroResultCount) / float64(s.TotalQueries) * 100
}

// dayCounts are the counters for one UTC day.
type dayCounts struct {
	results   map[string]int64
	arms      map[string]int64
	latencies map[string]int64
	volume    map[string]int64
}

func newDayCounts() *dayCounts {
	return &dayCounts{
		results:   make(map[string]int64),
		arms:      make(map[string]int64),
		latencies: make(map[string]int64),
		volume:    make(map[string]int64),
	}
}

// History aggregates query events in memory and flushes them to a
// HistoryStore. A nil *History ignores every call.
type History struct {
	mu sync.Mutex

	days        map[string]*dayCounts
	terms       *lru.Cache[string, int64]
	zeroResults *CircularBuffer[ZeroResultQuery]
	recent      *lru.Cache[string, struct{}]

	total     int64
	zeroCount int64
	repeats   int64
	since     time.Time
	closed    bool

	store HistoryStore
	now   func() time.Time
}

// NewHistory creates a collector. A nil store keeps history in memory only.
func NewHistory(store HistoryStore, cfg HistoryConfig) *History {
	def := DefaultHistoryConfig()
	if cfg.TopTermsCapacity <= 0 {
		cfg.TopTermsCapacity = def.TopTermsCapacity
	}
	if cfg.ZeroResultsCapacity <= 0 {
		cfg.ZeroResultsCapacity = def.ZeroResultsCapacity
	}
	if cfg.RecentQueriesCapacity <= 0 {
		cfg.RecentQueriesCapacity = def.RecentQueriesCapacity
	}

	terms, _ := lru.New[string, int64](cfg.TopTermsCapacity)
	recent, _ := lru.New[string, struct{}](cfg.RecentQueriesCapacity)

	h := &History{
		days:        make(map[string]*dayCounts),
		terms:       terms,
		zeroResults: NewCircularBuffer[ZeroResultQuery](cfg.ZeroResultsCapacity),
		recent:      recent,
		store:       store,
		now:         time.Now,
	}
	h.since = h.now()
	return h
}

// Day formats t as the date key used by the history tables.
func Day(t time.Time) string {
	return t.UTC().Format("2006-01-02")
}

// Record adds one query to the aggregates.
func (h *History) Record(ev QueryEvent) {
	if h == nil {
		return
	}
	if ev.Timestamp.IsZero() {
		ev.Timestamp = h.now()
	}

	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		return
	}

	day := Day(ev.Timestamp)
	dc, ok := h.days[day]
	if !ok {
		dc = newDayCounts()
		h.days[day] = dc
	}
	dc.results[ev.Result]++
	if ev.ArmID != "" {
		dc.arms[ev.ArmID]++
	}
	dc.latencies[string(LatencyToBucket(ev.Latency))]++
	h.total++
	dc.volume[VolumeQueries]++

	for _, term := range ExtractTerms(ev.Query) {
		count, _ := h.terms.Get(term)
		h.terms.Add(term, count+1)
	}

	if ev.IsZeroResult() {
		h.zeroCount++
		dc.volume[VolumeZeroResults]++
		h.zeroResults.Add(ZeroResultQuery{TenantID: ev.TenantID, Query: ev.Query, Timestamp: ev.Timestamp})
	}

	key := hashQuery(ev.TenantID, ev.Query)
	if _, seen := h.recent.Get(key); seen {
		h.repeats++
		dc.volume[VolumeRepeats]++
	}
	h.recent.Add(key, struct{}{})
}

// hashQuery normalises a query for repeat detection.
func hashQuery(tenant, query string) string {
	sum := sha256.Sum256([]byte(tenant + "\x00" + strings.ToLower(strings.TrimSpace(query))))
	return hex.EncodeToString(sum[:16])
}

// Snapshot returns the aggregates recorded since the last flush.
func (h *History) Snapshot() HistorySnapshot {
	if h == nil {
		return HistorySnapshot{}
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.snapshotLocked()
}

func (h *History) snapshotLocked() HistorySnapshot {
	s := HistorySnapshot{
		TotalQueries:        h.total,
		ZeroResultCount:     h.zeroCount,
		ExactRepeatCount:    h.repeats,
		ResultCounts:        make(map[string]int64),
		ArmCounts:           make(map[string]int64),
		LatencyDistribution: make(map[LatencyBucket]int64),
		ZeroResultQueries:   h.zeroResults.Items(),
		Since:               h.since,
	}
	for _, dc := range h.days {
		for k, v := range dc.results {
			s.ResultCounts[k] += v
		}
		for k, v := range dc.arms {
			s.ArmCounts[k] += v
		}
		for k, v := range dc.latencies {
			s.LatencyDistribution[LatencyBucket(k)] += v
		}
	}
	for _, term := range h.terms.Keys() {
		if count, ok := h.terms.Peek(term); ok {
			s.TopTerms = append(s.TopTerms, TermCount{Term: term, Count: count})
		}
	}
	sort.Slice(s.TopTerms, func(i, j int) bool {
		if s.TopTerms[i].Count != s.TopTerms[j].Count {
			return s.TopTerms[i].Count > s.TopTerms[j].Count
		}
		return s.TopTerms[i].Term < s.TopTerms[j].Term
	})
	return s
}

// Flush writes the aggregates to the store and starts a new interval. On
// error the aggregates are kept so a later flush can retry.
func (h *History) Flush(ctx context.Context) error {
	if h == nil || h.store == nil {
		return nil
	}
	h.mu.Lock()
	defer h.mu.Unlock()

	days := make([]string, 0, len(h.days))
	for day := range h.days {
		days = append(days, day)
	}
	sort.Strings(days)
	for _, day := range days {
		dc := h.days[day]
		for kind, counts := range map[string]map[string]int64{
			KindResult:  dc.results,
			KindArm:     dc.arms,
			KindLatency: dc.latencies,
			KindVolume:  dc.volume,
		} {
			if len(counts) == 0 {
				continue
			}
			if err := h.store.SaveDailyCounts(ctx, day, kind, counts); err != nil {
				return err
			}
			clear(counts)
		}
		delete(h.days, day)
	}

	snap := h.snapshotLocked()
	if len(snap.TopTerms) > 0 {
		terms := make(map[string]int64, len(snap.TopTerms))
		for _, tc := range snap.TopTerms {
			terms[tc.Term] = tc.Count
		}
		if err := h.store.UpsertTermCounts(ctx, terms); err != nil {
			return err
		}
		h.terms.Purge()
	}
	if len(snap.ZeroResultQueries) > 0 {
		if err := h.store.AddZeroResultQueries(ctx, snap.ZeroResultQueries); err != nil {
			return err
		}
		h.zeroResults.Clear()
	}

	h.total, h.zeroCount, h.repeats = 0, 0, 0
	h.since = h.now()
	return nil
}

// Close flushes and stops recording.
func (h *History) Close(ctx context.Context) error {
	if h == nil {
		return nil
	}
	h.mu.Lock()
	if h.closed {
		h.mu.Unlock()
		return nil
	}
	h.closed = true
	h.mu.Unlock()
	return h.Flush(ctx)
}
