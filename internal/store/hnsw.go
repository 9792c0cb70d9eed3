package store

import (
	"bufio"
	"context"
	"encoding/gob"
	"fmt"
	"log/slog"
	"math"
	"os"
	"path/filepath"
	"sync"

	"github.com/coder/hnsw"
)

// HNSWVectorIndex implements VectorIndex using the coder/hnsw pure Go
// implementation. Each tenant owns an isolated graph, so a search is
// physically incapable of returning another tenant's chunks.
type HNSWVectorIndex struct {
	mu      sync.RWMutex
	tenants map[string]*tenantGraph
	config  VectorConfig
	closed  bool
}

// tenantGraph is one tenant's HNSW graph plus its ID mappings.
type tenantGraph struct {
	graph   *hnsw.Graph[uint64]
	idMap   map[string]uint64 // chunk ID -> internal key
	keyMap  map[uint64]string // internal key -> chunk ID
	nextKey uint64
}

// hnswManifest stores per-tenant ID mappings for persistence.
type hnswManifest struct {
	Tenants map[string]hnswTenantMeta
	Config  VectorConfig
}

type hnswTenantMeta struct {
	IDMap   map[string]uint64
	NextKey uint64
}

// NewHNSWVectorIndex creates a new HNSW-based vector index.
func NewHNSWVectorIndex(cfg VectorConfig) (*HNSWVectorIndex, error) {
	if cfg.Dimensions <= 0 {
		return nil, fmt.Errorf("vector index requires positive dimensions, got %d", cfg.Dimensions)
	}
	if cfg.Metric == "" {
		cfg.Metric = "cos"
	}
	if cfg.M == 0 {
		cfg.M = 16
	}
	if cfg.EfSearch == 0 {
		cfg.EfSearch = 20
	}

	return &HNSWVectorIndex{
		tenants: make(map[string]*tenantGraph),
		config:  cfg,
	}, nil
}

// newTenantGraph builds an empty graph with the configured parameters.
func (s *HNSWVectorIndex) newTenantGraph() *tenantGraph {
	graph := hnsw.NewGraph[uint64]()

	switch s.config.Metric {
	case "cos":
		graph.Distance = hnsw.CosineDistance
	case "l2":
		graph.Distance = hnsw.EuclideanDistance
	default:
		graph.Distance = hnsw.CosineDistance
	}

	graph.M = s.config.M
	graph.EfSearch = s.config.EfSearch
	graph.Ml = 0.25 // level generation factor, roughly 1/ln(M)

	return &tenantGraph{
		graph:  graph,
		idMap:  make(map[string]uint64),
		keyMap: make(map[uint64]string),
	}
}

// Add inserts vectors for a tenant. Existing IDs are updated.
func (s *HNSWVectorIndex) Add(ctx context.Context, tenantID string, ids []string, vectors [][]float32) error {
	if len(ids) == 0 {
		return nil
	}
	if len(ids) != len(vectors) {
		return fmt.Errorf("ids and vectors length mismatch: %d vs %d", len(ids), len(vectors))
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return fmt.Errorf("index is closed")
	}

	for _, v := range vectors {
		if len(v) != s.config.Dimensions {
			return ErrDimensionMismatch{
				Expected: s.config.Dimensions,
				Got:      len(v),
			}
		}
	}

	tg, ok := s.tenants[tenantID]
	if !ok {
		tg = s.newTenantGraph()
		s.tenants[tenantID] = tg
	}

	for i, id := range ids {
		// Updates use lazy deletion (orphan the old key) because
		// coder/hnsw can break the graph when the last node is removed.
		if existingKey, exists := tg.idMap[id]; exists {
			delete(tg.keyMap, existingKey)
			delete(tg.idMap, id)
		}

		key := tg.nextKey
		tg.nextKey++

		// Normalize for cosine similarity.
		vec := make([]float32, len(vectors[i]))
		copy(vec, vectors[i])
		if s.config.Metric == "cos" {
			normalizeVectorInPlace(vec)
		}

		node := hnsw.MakeNode(key, vec)
		tg.graph.Add(node)

		tg.idMap[id] = key
		tg.keyMap[key] = id
	}

	return nil
}

// Search finds the k nearest chunks to query within the tenant.
func (s *HNSWVectorIndex) Search(ctx context.Context, tenantID string, query []float32, k int) ([]*VectorResult, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.closed {
		return nil, fmt.Errorf("index is closed")
	}

	if len(query) != s.config.Dimensions {
		return nil, ErrDimensionMismatch{
			Expected: s.config.Dimensions,
			Got:      len(query),
		}
	}

	tg, ok := s.tenants[tenantID]
	if !ok || tg.graph.Len() == 0 {
		return []*VectorResult{}, nil
	}

	normalizedQuery := make([]float32, len(query))
	copy(normalizedQuery, query)
	if s.config.Metric == "cos" {
		normalizeVectorInPlace(normalizedQuery)
	}

	// Over-fetch to compensate for lazy-deleted nodes still in the graph.
	orphans := tg.graph.Len() - len(tg.idMap)
	nodes := tg.graph.Search(normalizedQuery, k+orphans)

	results := make([]*VectorResult, 0, k)
	for _, node := range nodes {
		id, exists := tg.keyMap[node.Key]
		if !exists {
			continue // lazy-deleted
		}

		distance := tg.graph.Distance(normalizedQuery, node.Value)
		results = append(results, &VectorResult{
			ChunkID:  id,
			Distance: distance,
			Score:    distanceToScore(distance, s.config.Metric),
		})
		if len(results) == k {
			break
		}
	}

	return results, nil
}

// Delete removes vectors by ID within the tenant. Lazy deletion: the
// node stays in the graph but can no longer appear in results.
func (s *HNSWVectorIndex) Delete(ctx context.Context, tenantID string, ids []string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return fmt.Errorf("index is closed")
	}

	tg, ok := s.tenants[tenantID]
	if !ok {
		return nil
	}

	for _, id := range ids {
		if key, exists := tg.idMap[id]; exists {
			delete(tg.keyMap, key)
			delete(tg.idMap, id)
		}
	}

	return nil
}

// Count returns the number of active vectors for a tenant.
func (s *HNSWVectorIndex) Count(tenantID string) int {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.closed {
		return 0
	}
	tg, ok := s.tenants[tenantID]
	if !ok {
		return 0
	}
	return len(tg.idMap)
}

// Save persists all tenant graphs under dir using atomic writes
// (temp file + rename). The manifest carries the ID mappings.
func (s *HNSWVectorIndex) Save(dir string) error {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.closed {
		return fmt.Errorf("index is closed")
	}

	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("failed to create directory: %w", err)
	}

	manifest := hnswManifest{
		Tenants: make(map[string]hnswTenantMeta, len(s.tenants)),
		Config:  s.config,
	}

	for tenantID, tg := range s.tenants {
		graphPath := filepath.Join(dir, tenantID+".hnsw")
		if err := exportGraphAtomic(tg.graph, graphPath); err != nil {
			return fmt.Errorf("failed to save graph for tenant %s: %w", tenantID, err)
		}
		manifest.Tenants[tenantID] = hnswTenantMeta{
			IDMap:   tg.idMap,
			NextKey: tg.nextKey,
		}
	}

	return saveManifest(filepath.Join(dir, "vectors.meta"), manifest)
}

func exportGraphAtomic(graph *hnsw.Graph[uint64], path string) error {
	tmpPath := path + ".tmp"
	file, err := os.Create(tmpPath)
	if err != nil {
		return fmt.Errorf("create graph file: %w", err)
	}

	if err := graph.Export(file); err != nil {
		file.Close()
		os.Remove(tmpPath)
		return fmt.Errorf("export graph: %w", err)
	}

	if err := file.Close(); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("close graph file: %w", err)
	}

	return os.Rename(tmpPath, path)
}

func saveManifest(path string, manifest hnswManifest) error {
	tmpPath := path + ".tmp"
	file, err := os.Create(tmpPath)
	if err != nil {
		return fmt.Errorf("create temp manifest file: %w", err)
	}

	encoder := gob.NewEncoder(file)
	if err := encoder.Encode(manifest); err != nil {
		if closeErr := file.Close(); closeErr != nil {
			slog.Warn("failed to close temp file during cleanup", slog.String("error", closeErr.Error()))
		}
		os.Remove(tmpPath)
		return fmt.Errorf("encode manifest: %w", err)
	}

	if err := file.Close(); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("close manifest file: %w", err)
	}

	return os.Rename(tmpPath, path)
}

// Load restores all tenant graphs from dir. A missing manifest means a
// fresh start and is not an error.
func (s *HNSWVectorIndex) Load(dir string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return fmt.Errorf("index is closed")
	}

	manifestPath := filepath.Join(dir, "vectors.meta")
	file, err := os.Open(manifestPath)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return fmt.Errorf("open manifest: %w", err)
	}
	defer func() {
		if err := file.Close(); err != nil {
			slog.Warn("failed to close manifest file", slog.String("error", err.Error()))
		}
	}()

	var manifest hnswManifest
	if err := gob.NewDecoder(file).Decode(&manifest); err != nil {
		return fmt.Errorf("decode manifest: %w", err)
	}

	if manifest.Config.Dimensions != s.config.Dimensions {
		return ErrDimensionMismatch{
			Expected: s.config.Dimensions,
			Got:      manifest.Config.Dimensions,
		}
	}

	tenants := make(map[string]*tenantGraph, len(manifest.Tenants))
	for tenantID, meta := range manifest.Tenants {
		tg := s.newTenantGraph()
		tg.idMap = meta.IDMap
		tg.nextKey = meta.NextKey
		for id, key := range tg.idMap {
			tg.keyMap[key] = id
		}

		graphFile, err := os.Open(filepath.Join(dir, tenantID+".hnsw"))
		if err != nil {
			return fmt.Errorf("open graph for tenant %s: %w", tenantID, err)
		}

		// bufio.Reader because coder/hnsw Import requires io.ByteReader.
		if err := tg.graph.Import(bufio.NewReader(graphFile)); err != nil {
			graphFile.Close()
			return fmt.Errorf("import graph for tenant %s: %w", tenantID, err)
		}
		graphFile.Close()

		tenants[tenantID] = tg
	}

	s.tenants = tenants
	return nil
}

// ReadVectorIndexDimensions reads the dimensions recorded in a saved
// index. Returns 0 if no manifest exists (fresh start).
func ReadVectorIndexDimensions(dir string) (int, error) {
	file, err := os.Open(filepath.Join(dir, "vectors.meta"))
	if err != nil {
		if os.IsNotExist(err) {
			return 0, nil
		}
		return 0, fmt.Errorf("failed to open vector manifest: %w", err)
	}
	defer func() {
		if err := file.Close(); err != nil {
			slog.Warn("failed to close vector manifest", slog.String("error", err.Error()))
		}
	}()

	var manifest hnswManifest
	if err := gob.NewDecoder(file).Decode(&manifest); err != nil {
		return 0, fmt.Errorf("failed to decode vector manifest: %w", err)
	}

	return manifest.Config.Dimensions, nil
}

// Close releases resources.
func (s *HNSWVectorIndex) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return nil
	}

	s.closed = true
	s.tenants = nil

	return nil
}

// Verify interface implementation
var _ VectorIndex = (*HNSWVectorIndex)(nil)

// normalizeVectorInPlace normalizes a vector to unit length in place.
func normalizeVectorInPlace(v []float32) {
	var sumSquares float64
	for _, val := range v {
		sumSquares += float64(val) * float64(val)
	}
	if sumSquares == 0 {
		return
	}
	invMagnitude := float32(1.0 / math.Sqrt(sumSquares))
	for i := range v {
		v[i] *= invMagnitude
	}
}

// distanceToScore converts a distance to a similarity score in [0, 1].
// Cosine distance ranges 0-2; L2 ranges 0 to infinity.
func distanceToScore(distance float32, metric string) float32 {
	switch metric {
	case "l2":
		return 1.0 / (1.0 + distance)
	default:
		return 1.0 - distance/2.0
	}
}
