package store

import (
	"bufio"
	"context"
	"encoding/gob"
	"fmt"
	"math"
	"os"
	"path/filepath"
	"sync"

	"github.com/coder/hnsw"
)

// VectorIndex is an HNSW nearest-neighbour index keyed by document id.
type VectorIndex struct {
	mu     sync.RWMutex
	graph  *hnsw.Graph[uint64]
	config VectorConfig

	// string ids map to the uint64 keys the graph stores
	idMap   map[string]uint64
	keyMap  map[uint64]string
	nextKey uint64

	closed bool
}

// vectorMetadata is saved next to the exported graph.
type vectorMetadata struct {
	IDMap   map[string]uint64
	NextKey uint64
	Config  VectorConfig
}

// NewVectorIndex creates an empty index.
func NewVectorIndex(cfg VectorConfig) *VectorIndex {
	def := DefaultVectorConfig(cfg.Dimensions)
	if cfg.Metric == "" {
		cfg.Metric = def.Metric
	}
	if cfg.M == 0 {
		cfg.M = def.M
	}
	if cfg.EfSearch == 0 {
		cfg.EfSearch = def.EfSearch
	}

	return &VectorIndex{
		graph:  newGraph(cfg),
		config: cfg,
		idMap:  make(map[string]uint64),
		keyMap: make(map[uint64]string),
	}
}

func newGraph(cfg VectorConfig) *hnsw.Graph[uint64] {
	g := hnsw.NewGraph[uint64]()
	if cfg.Metric == "l2" {
		g.Distance = hnsw.EuclideanDistance
	} else {
		g.Distance = hnsw.CosineDistance
	}
	g.M = cfg.M
	g.EfSearch = cfg.EfSearch
	g.Ml = 0.25
	return g
}

// Dimensions returns the configured vector size.
func (v *VectorIndex) Dimensions() int { return v.config.Dimensions }

// Add inserts vectors. Re-adding an id orphans its old node rather than
// deleting it from the graph.
func (v *VectorIndex) Add(ctx context.Context, ids []string, vectors [][]float32) error {
	if len(ids) != len(vectors) {
		return fmt.Errorf("ids and vectors length mismatch: %d vs %d", len(ids), len(vectors))
	}

	v.mu.Lock()
	defer v.mu.Unlock()
	if v.closed {
		return fmt.Errorf("index is closed")
	}

	for _, vec := range vectors {
		if len(vec) != v.config.Dimensions {
			return ErrDimensionMismatch{Expected: v.config.Dimensions, Got: len(vec)}
		}
	}

	for i, id := range ids {
		if err := ctx.Err(); err != nil {
			return err
		}
		if old, ok := v.idMap[id]; ok {
			delete(v.keyMap, old)
		}

		key := v.nextKey
		v.nextKey++

		vec := make([]float32, len(vectors[i]))
		copy(vec, vectors[i])
		if v.config.Metric == "cos" {
			normalizeVectorInPlace(vec)
		}
		v.graph.Add(hnsw.MakeNode(key, vec))

		v.idMap[id] = key
		v.keyMap[key] = id
	}
	return nil
}

// Search returns up to k nearest documents, closest first.
func (v *VectorIndex) Search(ctx context.Context, query []float32, k int) ([]VectorResult, error) {
	v.mu.RLock()
	defer v.mu.RUnlock()
	if v.closed {
		return nil, fmt.Errorf("index is closed")
	}
	if len(query) != v.config.Dimensions {
		return nil, ErrDimensionMismatch{Expected: v.config.Dimensions, Got: len(query)}
	}
	if v.graph.Len() == 0 || k <= 0 {
		return []VectorResult{}, nil
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	q := make([]float32, len(query))
	copy(q, query)
	if v.config.Metric == "cos" {
		normalizeVectorInPlace(q)
	}

	// Over-fetch to make room for orphaned nodes.
	nodes := v.graph.Search(q, k+v.graph.Len()-len(v.idMap))

	out := make([]VectorResult, 0, k)
	for _, node := range nodes {
		id, ok := v.keyMap[node.Key]
		if !ok {
			continue
		}
		d := v.graph.Distance(q, node.Value)
		out = append(out, VectorResult{ID: id, Distance: d, Score: distanceToScore(d, v.config.Metric)})
		if len(out) == k {
			break
		}
	}
	return out, nil
}

// Contains reports whether id is indexed.
func (v *VectorIndex) Contains(id string) bool {
	v.mu.RLock()
	defer v.mu.RUnlock()
	_, ok := v.idMap[id]
	return ok
}

// Count returns the number of live vectors.
func (v *VectorIndex) Count() int {
	v.mu.RLock()
	defer v.mu.RUnlock()
	return len(v.idMap)
}

// Save writes the graph to path and the id mapping to path.meta, each via
// a temp file and rename.
func (v *VectorIndex) Save(path string) error {
	v.mu.RLock()
	defer v.mu.RUnlock()
	if v.closed {
		return fmt.Errorf("index is closed")
	}

	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("failed to create directory: %w", err)
	}

	if err := writeAtomic(path, func(f *os.File) error { return v.graph.Export(f) }); err != nil {
		return fmt.Errorf("failed to export graph: %w", err)
	}

	meta := vectorMetadata{IDMap: v.idMap, NextKey: v.nextKey, Config: v.config}
	if err := writeAtomic(path+".meta", func(f *os.File) error { return gob.NewEncoder(f).Encode(meta) }); err != nil {
		return fmt.Errorf("failed to save metadata: %w", err)
	}
	return nil
}

// LoadVectorIndex reads an index written by Save.
func LoadVectorIndex(path string) (*VectorIndex, error) {
	mf, err := os.Open(path + ".meta")
	if err != nil {
		return nil, fmt.Errorf("open vector metadata: %w", err)
	}
	defer mf.Close()

	var meta vectorMetadata
	if err := gob.NewDecoder(mf).Decode(&meta); err != nil {
		return nil, fmt.Errorf("decode vector metadata: %w", err)
	}

	v := NewVectorIndex(meta.Config)
	v.idMap = meta.IDMap
	v.nextKey = meta.NextKey
	for id, key := range v.idMap {
		v.keyMap[key] = id
	}

	gf, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open vector index: %w", err)
	}
	defer gf.Close()

	// Import needs an io.ByteReader.
	if err := v.graph.Import(bufio.NewReader(gf)); err != nil {
		return nil, fmt.Errorf("import graph: %w", err)
	}
	return v, nil
}

// Close releases the graph.
func (v *VectorIndex) Close() error {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.closed = true
	v.graph = nil
	return nil
}

func writeAtomic(path string, write func(*os.File) error) error {
	tmp := path + ".tmp"
	f, err := os.Create(tmp)
	if err != nil {
		return err
	}
	if err := write(f); err != nil {
		_ = f.Close()
		_ = os.Remove(tmp)
		return err
	}
	if err := f.Close(); err != nil {
		_ = os.Remove(tmp)
		return err
	}
	return os.Rename(tmp, path)
}

func normalizeVectorInPlace(v []float32) {
	var sumSquares float64
	for _, val := range v {
		sumSquares += float64(val) * float64(val)
	}
	if sumSquares == 0 {
		return
	}
	inv := float32(1.0 / math.Sqrt(sumSquares))
	for i := range v {
		v[i] *= inv
	}
}

// distanceToScore maps cosine distance (0-2) or L2 distance (0-inf) onto a
// similarity in [0,1].
func distanceToScore(distance float32, metric string) float32 {
	if metric == "l2" {
		return 1.0 / (1.0 + distance)
	}
	return 1.0 - distance/2.0
}
