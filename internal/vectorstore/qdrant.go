// Package vectorstore manages the news article collection in Qdrant over
// its REST API: collection bootstrap, point upserts, similarity search and
// best-effort stats.
package vectorstore

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log"
	"net/http"
	"strings"
	"time"

	"github.com/mohammad-safakhou/newsrag/config"
	"github.com/mohammad-safakhou/newsrag/models"
)

// Store is a client for one named Qdrant collection.
type Store struct {
	baseURL    string
	apiKey     string
	collection string
	vectorSize int
	httpClient *http.Client
	logger     *log.Logger
}

// New creates a Store from config.
func New(cfg config.QdrantConfig) *Store {
	timeout := cfg.Timeout
	if timeout == 0 {
		timeout = 15 * time.Second
	}
	return &Store{
		baseURL:    strings.TrimRight(cfg.URL, "/"),
		apiKey:     cfg.APIKey,
		collection: cfg.Collection,
		vectorSize: cfg.VectorSize,
		httpClient: &http.Client{Timeout: timeout},
		logger:     log.New(log.Writer(), "[QDRANT] ", log.LstdFlags),
	}
}

// EnsureCollection creates the collection if it does not exist yet.
// Safe to call on every startup.
func (s *Store) EnsureCollection(ctx context.Context) error {
	var listResp struct {
		Result struct {
			Collections []struct {
				Name string `json:"name"`
			} `json:"collections"`
		} `json:"result"`
	}
	if err := s.do(ctx, "GET", "/collections", nil, &listResp); err != nil {
		return fmt.Errorf("list collections: %w", err)
	}
	for _, c := range listResp.Result.Collections {
		if c.Name == s.collection {
			return nil
		}
	}

	createBody := map[string]interface{}{
		"vectors": map[string]interface{}{
			"size":     s.vectorSize,
			"distance": "Cosine",
		},
	}
	if err := s.do(ctx, "PUT", "/collections/"+s.collection, createBody, nil); err != nil {
		return fmt.Errorf("create collection %q: %w", s.collection, err)
	}
	s.logger.Printf("created collection %q (size=%d, distance=Cosine)", s.collection, s.vectorSize)
	return nil
}

// Upsert writes documents with caller-assigned ids. An existing id's vector
// and payload are replaced, not merged. Waits for acknowledgement.
func (s *Store) Upsert(ctx context.Context, docs []models.Document) error {
	if len(docs) == 0 {
		return nil
	}
	points := make([]map[string]interface{}, len(docs))
	for i, d := range docs {
		points[i] = map[string]interface{}{
			"id":      d.ID,
			"vector":  d.Vector,
			"payload": d.Payload,
		}
	}
	body := map[string]interface{}{"points": points}
	if err := s.do(ctx, "PUT", "/collections/"+s.collection+"/points?wait=true", body, nil); err != nil {
		return fmt.Errorf("upsert %d points: %w", len(points), err)
	}
	return nil
}

// Search returns at most topK hits with similarity >= threshold, highest
// first. Tie order between equal scores is undefined. An empty result is
// not an error.
func (s *Store) Search(ctx context.Context, vector []float32, topK int, threshold float32) ([]models.SearchResult, error) {
	body := map[string]interface{}{
		"vector":          vector,
		"limit":           topK,
		"score_threshold": threshold,
		"with_payload":    true,
	}
	var resp struct {
		Result []struct {
			ID      uint64         `json:"id"`
			Score   float32        `json:"score"`
			Payload models.Payload `json:"payload"`
		} `json:"result"`
	}
	if err := s.do(ctx, "POST", "/collections/"+s.collection+"/points/search", body, &resp); err != nil {
		return nil, fmt.Errorf("search: %w", err)
	}

	results := make([]models.SearchResult, 0, len(resp.Result))
	for _, r := range resp.Result {
		results = append(results, models.SearchResult{ID: r.ID, Score: r.Score, Payload: r.Payload})
	}
	return results, nil
}

// Clear deletes every point in the collection, keeping the schema.
func (s *Store) Clear(ctx context.Context) error {
	body := map[string]interface{}{
		"filter": map[string]interface{}{},
	}
	if err := s.do(ctx, "POST", "/collections/"+s.collection+"/points/delete?wait=true", body, nil); err != nil {
		return fmt.Errorf("clear collection %q: %w", s.collection, err)
	}
	return nil
}

// Count returns the number of points in the collection. A failed count is
// reported as (0, false) rather than an error: callers treat the stat as
// best effort.
func (s *Store) Count(ctx context.Context) (uint64, bool) {
	var resp struct {
		Result struct {
			Count uint64 `json:"count"`
		} `json:"result"`
	}
	if err := s.do(ctx, "POST", "/collections/"+s.collection+"/points/count", map[string]interface{}{"exact": true}, &resp); err != nil {
		s.logger.Printf("count unavailable: %v", err)
		return 0, false
	}
	return resp.Result.Count, true
}

func (s *Store) do(ctx context.Context, method, path string, body, out any) error {
	var bodyReader io.Reader
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			return err
		}
		bodyReader = bytes.NewBuffer(b)
	}

	req, err := http.NewRequestWithContext(ctx, method, s.baseURL+path, bodyReader)
	if err != nil {
		return err
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if s.apiKey != "" {
		req.Header.Set("api-key", s.apiKey)
	}

	resp, err := s.httpClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return fmt.Errorf("qdrant returned %d: %s", resp.StatusCode, strings.TrimSpace(string(msg)))
	}
	if out != nil {
		if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
			return fmt.Errorf("decode response: %w", err)
		}
	}
	return nil
}
