package ai

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"sort"
	"time"
)

// RerankResult scores the candidate at Index.
type RerankResult struct {
	Index int     `json:"index"`
	Score float64 `json:"score"`
}

type Reranker interface {
	Rerank(ctx context.Context, query string, texts []string) ([]RerankResult, error)
}

// HTTPReranker calls a cross-encoder server exposing POST /rerank with a
// {"query", "texts"} body (text-embeddings-inference compatible).
type HTTPReranker struct {
	endpoint   string
	httpClient *http.Client
}

func NewHTTPReranker(endpoint string) *HTTPReranker {
	return &HTTPReranker{
		endpoint:   endpoint,
		httpClient: &http.Client{Timeout: 30 * time.Second},
	}
}

// Rerank returns results sorted by descending score.
func (r *HTTPReranker) Rerank(ctx context.Context, query string, texts []string) ([]RerankResult, error) {
	if len(texts) == 0 {
		return nil, nil
	}
	body, err := json.Marshal(map[string]interface{}{
		"query": query,
		"texts": texts,
	})
	if err != nil {
		return nil, fmt.Errorf("marshal rerank request failed: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, r.endpoint, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("build rerank request failed: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := r.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("rerank request failed: %w", err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read rerank response failed: %w", err)
	}
	if resp.StatusCode >= 300 {
		return nil, fmt.Errorf("rerank response status %d: %s", resp.StatusCode, string(raw))
	}

	var results []RerankResult
	if err := json.Unmarshal(raw, &results); err != nil {
		return nil, fmt.Errorf("parse rerank json failed: %w", err)
	}
	valid := results[:0]
	for _, res := range results {
		if res.Index >= 0 && res.Index < len(texts) {
			valid = append(valid, res)
		}
	}
	sort.SliceStable(valid, func(i, j int) bool { return valid[i].Score > valid[j].Score })
	return valid, nil
}
