package ai

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
)

func TestHTTPRerankerSortsAndDropsBadIndexes(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var body struct {
			Query string   `json:"query"`
			Texts []string `json:"texts"`
		}
		if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
			t.Errorf("decode body: %v", err)
		}
		if body.Query != "capital of france" || len(body.Texts) != 2 {
			t.Errorf("unexpected body: %+v", body)
		}
		_, _ = w.Write([]byte(`[{"index":0,"score":0.1},{"index":7,"score":0.99},{"index":1,"score":0.8}]`))
	}))
	defer srv.Close()

	r := NewHTTPReranker(srv.URL)
	res, err := r.Rerank(context.Background(), "capital of france", []string{"a", "b"})
	if err != nil {
		t.Fatalf("rerank: %v", err)
	}
	if len(res) != 2 || res[0].Index != 1 || res[1].Index != 0 {
		t.Fatalf("unexpected order: %+v", res)
	}
}

func TestHTTPRerankerStatusError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "model loading", http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	if _, err := NewHTTPReranker(srv.URL).Rerank(context.Background(), "q", []string{"a"}); err == nil {
		t.Fatal("want error on 503")
	}
}
