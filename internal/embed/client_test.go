package embed

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/resolve-works/insight-worker/internal/domain"
)

func vec() []float32 {
	v := make([]float32, domain.EmbeddingDimension)
	v[0] = 1
	return v
}

func TestEmbedBatch(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req embedRequest
		json.NewDecoder(r.Body).Decode(&req)
		if len(req.Input) != 2 {
			t.Fatalf("expected 2 inputs, got %d", len(req.Input))
		}
		if len(req.Input[0]) == 0 {
			t.Fatalf("expected non-empty token array for input 0")
		}
		resp := embedResponse{Data: []embedResponseItem{{Embedding: vec()}, {Embedding: vec()}}}
		json.NewEncoder(w).Encode(resp)
	}))
	defer srv.Close()

	c := New(srv.URL, "sk-test", "text-embedding-3-small")
	out, err := c.EmbedBatch(context.Background(), []string{"hello", "world"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(out) != 2 {
		t.Fatalf("expected 2 embeddings, got %d", len(out))
	}
	if len(out[0]) != domain.EmbeddingDimension {
		t.Errorf("expected dimension %d, got %d", domain.EmbeddingDimension, len(out[0]))
	}
}

func TestEmbedBatchSendsTokenIDsNotStrings(t *testing.T) {
	var rawBody []byte
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		rawBody, _ = io.ReadAll(r.Body)
		resp := embedResponse{Data: []embedResponseItem{{Embedding: vec()}}}
		json.NewEncoder(w).Encode(resp)
	}))
	defer srv.Close()

	c := New(srv.URL, "sk-test", "text-embedding-3-small")
	_, err := c.EmbedBatch(context.Background(), []string{"hello world"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if strings.Contains(string(rawBody), "hello world") {
		t.Errorf("expected request body to carry token ids, not the raw string: %s", rawBody)
	}
}

func TestEmbedBatchDimensionMismatch(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		resp := embedResponse{Data: []embedResponseItem{{Embedding: []float32{0.1, 0.2}}}}
		json.NewEncoder(w).Encode(resp)
	}))
	defer srv.Close()

	c := New(srv.URL, "sk-test", "text-embedding-3-small")
	_, err := c.EmbedBatch(context.Background(), []string{"hello"})
	if err == nil {
		t.Fatal("expected dimension mismatch error")
	}
}

func TestCollapseWhitespace(t *testing.T) {
	got := collapseWhitespace("hello \n\n  world\t!")
	if got != "hello world !" {
		t.Errorf("got %q", got)
	}
}

func TestEncodeTruncatesToMaxTokens(t *testing.T) {
	c := New("http://example.invalid", "sk-test", "text-embedding-3-small")
	long := strings.Repeat("word ", MaxTokens*2)
	tok := c.encode(long)
	if len(tok) != MaxTokens {
		t.Errorf("expected %d tokens, got %d", MaxTokens, len(tok))
	}
}
