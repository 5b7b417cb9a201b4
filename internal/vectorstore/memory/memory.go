// Package memory implements vectorstore.Store as an in-process brute-force
// cosine search. It exists for tests and offline/air-gapped use where no
// Qdrant instance is available; see DESIGN.md for why this is the one
// deliberately stdlib-only component in the project.
package memory

import (
	"context"
	"math"
	"sort"
	"sync"

	"github.com/dupescan/dupescan/internal/vectorstore"
)

// Store is a thread-safe, dependency-free vectorstore.Store.
type Store struct {
	mu          sync.RWMutex
	collections map[string]map[string]vectorstore.Point
}

// New returns an empty Store.
func New() *Store {
	return &Store{collections: make(map[string]map[string]vectorstore.Point)}
}

func (s *Store) Close() error { return nil }

func (s *Store) EnsureCollection(ctx context.Context, name string, dims int) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.collections[name]; !ok {
		s.collections[name] = make(map[string]vectorstore.Point)
	}
	return nil
}

func (s *Store) Upsert(ctx context.Context, collection string, points []vectorstore.Point) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	coll, ok := s.collections[collection]
	if !ok {
		coll = make(map[string]vectorstore.Point)
		s.collections[collection] = coll
	}
	for _, p := range points {
		coll[p.ID] = p
	}
	return nil
}

func (s *Store) Search(ctx context.Context, collection string, vector []float32, filter vectorstore.Filter, limit int) ([]vectorstore.ScoredPoint, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	coll := s.collections[collection]
	matches := make([]vectorstore.ScoredPoint, 0, len(coll))
	for _, p := range coll {
		if !matchesFilter(p, filter) {
			continue
		}
		matches = append(matches, vectorstore.ScoredPoint{
			Point: p,
			Score: cosineSimilarity(vector, p.Vector),
		})
	}
	sort.Slice(matches, func(i, j int) bool { return matches[i].Score > matches[j].Score })
	if limit > 0 && len(matches) > limit {
		matches = matches[:limit]
	}
	return matches, nil
}

func (s *Store) Get(ctx context.Context, collection string, id string) (*vectorstore.Point, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	coll, ok := s.collections[collection]
	if !ok {
		return nil, nil
	}
	p, ok := coll[id]
	if !ok {
		return nil, nil
	}
	cp := p
	return &cp, nil
}

func (s *Store) DeleteByFilter(ctx context.Context, collection string, filter vectorstore.Filter) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	coll, ok := s.collections[collection]
	if !ok {
		return nil
	}
	for id, p := range coll {
		if matchesFilter(p, filter) {
			delete(coll, id)
		}
	}
	return nil
}

func matchesFilter(p vectorstore.Point, filter vectorstore.Filter) bool {
	for k, want := range filter {
		got, ok := p.Payload[k]
		if !ok || got != want {
			return false
		}
	}
	return true
}

func cosineSimilarity(a, b []float32) float32 {
	if len(a) != len(b) || len(a) == 0 {
		return 0
	}
	var dot, magA, magB float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
		magA += float64(a[i]) * float64(a[i])
		magB += float64(b[i]) * float64(b[i])
	}
	if magA == 0 || magB == 0 {
		return 0
	}
	return float32(dot / (math.Sqrt(magA) * math.Sqrt(magB)))
}
