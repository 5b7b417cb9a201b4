// Package vectorstore defines the similarity-index abstraction used by the
// cluster phase, with Qdrant and in-memory backends in its qdrant and
// memory subpackages.
package vectorstore

import "context"

// Point is one embedded vector with an application-chosen ID and an opaque
// payload carried alongside it for filtering and display.
type Point struct {
	ID      string
	Vector  []float32
	Payload map[string]any
}

// ScoredPoint is a Point returned from Search, annotated with its similarity
// score against the query vector (cosine similarity, higher is closer).
type ScoredPoint struct {
	Point
	Score float32
}

// Filter restricts Search and DeleteByFilter to points whose payload
// matches every key/value pair. Match is exact equality; an empty Filter
// matches everything.
type Filter map[string]any

// Store is the similarity-index abstraction backing the cluster phase's
// vector-neighbor candidate search (§4.5).
type Store interface {
	// EnsureCollection creates the named collection if absent, sized for
	// vectors of the given dimensionality. Idempotent.
	EnsureCollection(ctx context.Context, name string, dims int) error

	// Upsert inserts or overwrites points by ID.
	Upsert(ctx context.Context, collection string, points []Point) error

	// Search returns up to limit points most similar to vector, restricted
	// to those matching filter, ordered by descending score.
	Search(ctx context.Context, collection string, vector []float32, filter Filter, limit int) ([]ScoredPoint, error)

	// Get fetches a single point by ID. Returns (nil, nil) if absent.
	Get(ctx context.Context, collection string, id string) (*Point, error)

	// DeleteByFilter removes every point matching filter.
	DeleteByFilter(ctx context.Context, collection string, filter Filter) error

	// Close releases any underlying connection.
	Close() error
}
