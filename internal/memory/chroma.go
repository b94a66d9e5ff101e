package memory

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"dynochat/internal/config"
)

// ChromaClient speaks the vector store's REST API. Each call is atomic
// from the caller's perspective; the store serializes writes per
// collection itself.
type ChromaClient struct {
	baseURL      string
	collection   string
	collectionID string
	http         *http.Client
}

const chromaRequestTimeout = 10 * time.Second

// NewChromaClient connects to the store and gets or creates the named
// collection.
func NewChromaClient(ctx context.Context, cfg config.MemoryConfig) (*ChromaClient, error) {
	c := &ChromaClient{
		baseURL:    strings.TrimRight(cfg.ChromaURL, "/"),
		collection: cfg.Collection,
		http:       &http.Client{Timeout: chromaRequestTimeout},
	}
	if err := c.ensureCollection(ctx); err != nil {
		return nil, err
	}
	return c, nil
}

// Collection returns the collection name the client is bound to.
func (c *ChromaClient) Collection() string {
	return c.collection
}

func (c *ChromaClient) ensureCollection(ctx context.Context) error {
	var out struct {
		ID   string `json:"id"`
		Name string `json:"name"`
	}
	err := c.do(ctx, http.MethodPost, "/api/v1/collections", map[string]any{
		"name":          c.collection,
		"get_or_create": true,
	}, &out)
	if err != nil {
		return fmt.Errorf("get or create collection %s: %w", c.collection, err)
	}
	if out.ID == "" {
		return fmt.Errorf("collection %s: store returned no id", c.collection)
	}
	c.collectionID = out.ID
	return nil
}

// Add indexes documents with their metadata under the given ids.
func (c *ChromaClient) Add(ctx context.Context, ids, documents []string, metadatas []map[string]any) error {
	if len(ids) != len(documents) || len(ids) != len(metadatas) {
		return fmt.Errorf("add: ids/documents/metadatas length mismatch (%d/%d/%d)", len(ids), len(documents), len(metadatas))
	}
	path := fmt.Sprintf("/api/v1/collections/%s/add", c.collectionID)
	if err := c.do(ctx, http.MethodPost, path, map[string]any{
		"ids":       ids,
		"documents": documents,
		"metadatas": metadatas,
	}, nil); err != nil {
		return fmt.Errorf("add %d documents: %w", len(ids), err)
	}
	return nil
}

// QueryResult mirrors the store's nested response shape: one inner list
// per query text. Ordering within a list is similarity, not time.
type QueryResult struct {
	IDs       [][]string         `json:"ids"`
	Documents [][]string         `json:"documents"`
	Metadatas [][]map[string]any `json:"metadatas"`
}

// Query returns up to n nearest documents for the query text.
func (c *ChromaClient) Query(ctx context.Context, text string, n int) (*QueryResult, error) {
	path := fmt.Sprintf("/api/v1/collections/%s/query", c.collectionID)
	var out QueryResult
	err := c.do(ctx, http.MethodPost, path, map[string]any{
		"query_texts": []string{text},
		"n_results":   n,
		"include":     []string{"documents", "metadatas"},
	}, &out)
	if err != nil {
		return nil, fmt.Errorf("query collection: %w", err)
	}
	return &out, nil
}

// Count returns the number of indexed documents.
func (c *ChromaClient) Count(ctx context.Context) (int, error) {
	path := fmt.Sprintf("/api/v1/collections/%s/count", c.collectionID)
	var count int
	if err := c.do(ctx, http.MethodGet, path, nil, &count); err != nil {
		return 0, fmt.Errorf("count collection: %w", err)
	}
	return count, nil
}

// DeleteCollection drops the whole collection and re-creates it empty.
func (c *ChromaClient) DeleteCollection(ctx context.Context) error {
	path := fmt.Sprintf("/api/v1/collections/%s", c.collection)
	if err := c.do(ctx, http.MethodDelete, path, nil, nil); err != nil {
		return fmt.Errorf("delete collection %s: %w", c.collection, err)
	}
	return c.ensureCollection(ctx)
}

func (c *ChromaClient) do(ctx context.Context, method, path string, body any, out any) error {
	var payload io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("encode request: %w", err)
		}
		payload = bytes.NewReader(data)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, payload)
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		data, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return fmt.Errorf("%s %s: status %d: %s", method, path, resp.StatusCode, strings.TrimSpace(string(data)))
	}
	if out != nil {
		if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
			return fmt.Errorf("decode response: %w", err)
		}
	}
	return nil
}
