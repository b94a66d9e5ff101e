package memory

import (
	"context"
	"fmt"
	"sort"
	"sync/atomic"
	"time"

	"dynochat/internal/models"
)

// Store is the slice of the vector store the gateway needs. Satisfied by
// *ChromaClient; tests substitute fakes.
type Store interface {
	Add(ctx context.Context, ids, documents []string, metadatas []map[string]any) error
	Query(ctx context.Context, text string, n int) (*QueryResult, error)
	Count(ctx context.Context) (int, error)
	DeleteCollection(ctx context.Context) error
}

// StoreError wraps a failed persistence call. Callers log it and keep the
// in-memory session view; the turn never reopens over it.
type StoreError struct {
	Err error
}

func (e *StoreError) Error() string { return fmt.Sprintf("memory store: %v", e.Err) }
func (e *StoreError) Unwrap() error { return e.Err }

// QueryError wraps a failed retrieval. Callers fall back to an empty
// context rather than aborting the turn.
type QueryError struct {
	Err error
}

func (e *QueryError) Error() string { return fmt.Sprintf("memory query: %v", e.Err) }
func (e *QueryError) Unwrap() error { return e.Err }

// Gateway wraps the store's add/query operations with typed inputs and
// outputs and owns id/timestamp derivation for new records.
type Gateway struct {
	store Store
	now   func() time.Time
	seq   atomic.Int64
}

func NewGateway(store Store) *Gateway {
	return &Gateway{store: store, now: time.Now}
}

// StorePair persists one completed turn. The assistant timestamp is
// strictly greater than the user's so tie-breaking sorts preserve the
// user-before-assistant order, and every id carries a process-wide
// sequence so identical timestamps can never collide in the index.
func (g *Gateway) StorePair(ctx context.Context, userText, assistantText string, status models.MemoryStatus) error {
	if status == "" {
		status = models.StatusComplete
	}
	userTS := g.now().UTC()
	asstTS := userTS.Add(time.Second)

	userRec := g.newRecord(models.RoleUser, userText, userTS, models.StatusComplete)
	asstRec := g.newRecord(models.RoleAssistant, assistantText, asstTS, status)

	err := g.store.Add(ctx,
		[]string{userRec.ID, asstRec.ID},
		[]string{userRec.Content, asstRec.Content},
		[]map[string]any{recordMetadata(userRec), recordMetadata(asstRec)},
	)
	if err != nil {
		return &StoreError{Err: err}
	}
	return nil
}

func (g *Gateway) newRecord(role models.Role, content string, ts time.Time, status models.MemoryStatus) models.MemoryRecord {
	stamp := ts.Format(time.RFC3339Nano)
	return models.MemoryRecord{
		ID:        fmt.Sprintf("msg_%s_%s_%d", stamp, role, g.seq.Add(1)),
		Role:      role,
		Content:   content,
		Timestamp: stamp,
		Status:    status,
	}
}

func recordMetadata(rec models.MemoryRecord) map[string]any {
	return map[string]any{
		"role":      string(rec.Role),
		"timestamp": rec.Timestamp,
		"status":    string(rec.Status),
	}
}

// Query returns up to limit semantically nearest prior messages, sorted
// ascending by timestamp. The store gives no ordering guarantee, so the
// result is re-sorted here; ties fall back to the record id to keep the
// order deterministic. An empty index yields an empty slice, not an error.
func (g *Gateway) Query(ctx context.Context, text string, limit int) ([]models.MemoryRecord, error) {
	if limit <= 0 {
		return nil, &QueryError{Err: fmt.Errorf("limit must be positive, got %d", limit)}
	}
	res, err := g.store.Query(ctx, text, limit)
	if err != nil {
		return nil, &QueryError{Err: err}
	}
	if res == nil || len(res.Documents) == 0 || len(res.Documents[0]) == 0 {
		return []models.MemoryRecord{}, nil
	}

	docs := res.Documents[0]
	var metas []map[string]any
	if len(res.Metadatas) > 0 {
		metas = res.Metadatas[0]
	}
	var ids []string
	if len(res.IDs) > 0 {
		ids = res.IDs[0]
	}
	records := make([]models.MemoryRecord, 0, len(docs))
	for i, doc := range docs {
		rec := models.MemoryRecord{Role: models.RoleUser, Content: doc}
		if i < len(ids) {
			rec.ID = ids[i]
		}
		if i < len(metas) && metas[i] != nil {
			if role, ok := metas[i]["role"].(string); ok && role != "" {
				rec.Role = models.Role(role)
			}
			if ts, ok := metas[i]["timestamp"].(string); ok {
				rec.Timestamp = ts
			}
			if status, ok := metas[i]["status"].(string); ok {
				rec.Status = models.MemoryStatus(status)
			}
		}
		records = append(records, rec)
	}

	sort.SliceStable(records, func(i, j int) bool {
		if records[i].Timestamp != records[j].Timestamp {
			return records[i].Timestamp < records[j].Timestamp
		}
		return records[i].ID < records[j].ID
	})
	return records, nil
}

// Count reports the number of indexed messages.
func (g *Gateway) Count(ctx context.Context) (int, error) {
	n, err := g.store.Count(ctx)
	if err != nil {
		return 0, &QueryError{Err: err}
	}
	return n, nil
}

// Reset drops all stored memories.
func (g *Gateway) Reset(ctx context.Context) error {
	if err := g.store.DeleteCollection(ctx); err != nil {
		return &StoreError{Err: err}
	}
	return nil
}
