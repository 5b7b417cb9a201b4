// Package qdrant implements vectorstore.Store over a Qdrant server via
// github.com/qdrant/go-client.
package qdrant

import (
	"context"
	"fmt"
	"strings"

	"github.com/dupescan/dupescan/internal/vectorstore"
	"github.com/google/uuid"
	qc "github.com/qdrant/go-client/qdrant"
)

// Store wraps a qdrant.Client connection.
type Store struct {
	client *qc.Client
}

// New dials host:port. apiKey may be empty for an unauthenticated instance.
func New(host string, port int, apiKey string, useTLS bool) (*Store, error) {
	client, err := qc.NewClient(&qc.Config{
		Host:   host,
		Port:   port,
		APIKey: apiKey,
		UseTLS: useTLS,
	})
	if err != nil {
		return nil, fmt.Errorf("connecting to qdrant: %w", err)
	}
	return &Store{client: client}, nil
}

func (s *Store) Close() error {
	return s.client.Close()
}

func (s *Store) EnsureCollection(ctx context.Context, name string, dims int) error {
	exists, err := s.client.CollectionExists(ctx, name)
	if err != nil {
		return fmt.Errorf("checking collection %s: %w", name, err)
	}
	if exists {
		return nil
	}
	err = s.client.CreateCollection(ctx, &qc.CreateCollection{
		CollectionName: name,
		VectorsConfig: qc.NewVectorsConfig(&qc.VectorParams{
			Size:     uint64(dims),
			Distance: qc.Distance_Cosine,
		}),
	})
	if err != nil {
		return fmt.Errorf("creating collection %s: %w", name, err)
	}
	return nil
}

// pointID maps an application ID to a deterministic UUID, since Qdrant
// point IDs must be either a UUID or an unsigned integer.
func pointID(id string) string {
	return uuid.NewSHA1(uuid.NameSpaceOID, []byte(id)).String()
}

func (s *Store) Upsert(ctx context.Context, collection string, points []vectorstore.Point) error {
	qpoints := make([]*qc.PointStruct, len(points))
	for i, p := range points {
		payload := map[string]any{"dupescan_id": p.ID}
		for k, v := range p.Payload {
			payload[k] = v
		}
		qpoints[i] = &qc.PointStruct{
			Id:      qc.NewIDUUID(pointID(p.ID)),
			Vectors: qc.NewVectors(p.Vector...),
			Payload: qc.NewValueMap(payload),
		}
	}
	_, err := s.client.Upsert(ctx, &qc.UpsertPoints{
		CollectionName: collection,
		Points:         qpoints,
	})
	if err != nil {
		return fmt.Errorf("upserting into %s: %w", collection, err)
	}
	return nil
}

func (s *Store) Search(ctx context.Context, collection string, vector []float32, filter vectorstore.Filter, limit int) ([]vectorstore.ScoredPoint, error) {
	res, err := s.client.Query(ctx, &qc.QueryPoints{
		CollectionName: collection,
		Query:          qc.NewQuery(vector...),
		Filter:         toQdrantFilter(filter),
		Limit:          ptrUint64(uint64(limit)),
		WithPayload:    qc.NewWithPayload(true),
	})
	if err != nil {
		return nil, fmt.Errorf("searching %s: %w", collection, err)
	}

	out := make([]vectorstore.ScoredPoint, 0, len(res))
	for _, sp := range res {
		payload := fromQdrantPayload(sp.GetPayload())
		appID, _ := payload["dupescan_id"].(string)
		delete(payload, "dupescan_id")
		out = append(out, vectorstore.ScoredPoint{
			Point: vectorstore.Point{
				ID:      appID,
				Payload: payload,
			},
			Score: sp.GetScore(),
		})
	}
	return out, nil
}

func (s *Store) Get(ctx context.Context, collection string, id string) (*vectorstore.Point, error) {
	points, err := s.client.Get(ctx, &qc.GetPoints{
		CollectionName: collection,
		Ids:            []*qc.PointId{qc.NewIDUUID(pointID(id))},
		WithPayload:    qc.NewWithPayload(true),
		WithVectors:    qc.NewWithVectors(true),
	})
	if err != nil {
		return nil, fmt.Errorf("getting point from %s: %w", collection, err)
	}
	if len(points) == 0 {
		return nil, nil
	}
	payload := fromQdrantPayload(points[0].GetPayload())
	delete(payload, "dupescan_id")
	return &vectorstore.Point{
		ID:      id,
		Vector:  points[0].GetVectors().GetVector().GetData(),
		Payload: payload,
	}, nil
}

func (s *Store) DeleteByFilter(ctx context.Context, collection string, filter vectorstore.Filter) error {
	_, err := s.client.Delete(ctx, &qc.DeletePoints{
		CollectionName: collection,
		Points: &qc.PointsSelector{
			PointsSelectorOneOf: &qc.PointsSelector_Filter{
				Filter: toQdrantFilter(filter),
			},
		},
	})
	if err != nil {
		return fmt.Errorf("deleting from %s: %w", collection, err)
	}
	return nil
}

func toQdrantFilter(filter vectorstore.Filter) *qc.Filter {
	if len(filter) == 0 {
		return nil
	}
	conditions := make([]*qc.Condition, 0, len(filter))
	for k, v := range filter {
		switch val := v.(type) {
		case string:
			conditions = append(conditions, qc.NewMatch(k, val))
		case int:
			conditions = append(conditions, qc.NewMatchInt(k, int64(val)))
		case int64:
			conditions = append(conditions, qc.NewMatchInt(k, val))
		default:
			conditions = append(conditions, qc.NewMatch(k, fmt.Sprintf("%v", val)))
		}
	}
	return &qc.Filter{Must: conditions}
}

func fromQdrantPayload(m map[string]*qc.Value) map[string]any {
	out := make(map[string]any, len(m))
	for k, v := range m {
		switch kind := v.GetKind().(type) {
		case *qc.Value_StringValue:
			out[k] = kind.StringValue
		case *qc.Value_IntegerValue:
			out[k] = kind.IntegerValue
		case *qc.Value_DoubleValue:
			out[k] = kind.DoubleValue
		case *qc.Value_BoolValue:
			out[k] = kind.BoolValue
		default:
			out[k] = strings.TrimSpace(v.String())
		}
	}
	return out
}

func ptrUint64(v uint64) *uint64 { return &v }
