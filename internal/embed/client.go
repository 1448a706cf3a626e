// Package embed is the embedding client: a deterministic, batched mapping
// of page text to fixed-dimension vectors via an OpenAI-compatible HTTP API.
package embed

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/pkoukk/tiktoken-go"

	"github.com/resolve-works/insight-worker/internal/domain"
	"github.com/resolve-works/insight-worker/pkg/resilience"
)

// MaxTokens is the model's per-input token limit. Text is encoded and
// truncated to this many tokens before the request is sent.
const MaxTokens = 8192

// Encoding is the BPE encoding the embedding model was trained against.
const Encoding = "cl100k_base"

// BatchSize is the recommended number of pages to send per request.
const BatchSize = 64

// Client requests embeddings from an OpenAI-style endpoint.
type Client struct {
	httpClient *http.Client
	endpoint   string
	apiKey     string
	model      string
	breaker    *resilience.Breaker
	limiter    *resilience.Limiter
	enc        *tiktoken.Tiktoken
}

// defaultLimiterOpts keeps the client well under the embeddings endpoint's
// published per-minute request cap across a batch-heavy reindex.
var defaultLimiterOpts = resilience.LimiterOpts{Rate: 20, Burst: 5}

// New builds a Client. endpoint defaults to the public OpenAI embeddings
// endpoint if empty, so self-hosted-compatible servers can override it.
func New(endpoint, apiKey, model string) *Client {
	if endpoint == "" {
		endpoint = "https://api.openai.com/v1/embeddings"
	}
	enc, err := tiktoken.GetEncoding(Encoding)
	if err != nil {
		// cl100k_base is embedded in the tiktoken-go distribution; this can
		// only fail on a broken install.
		panic(fmt.Sprintf("load %s encoding: %v", Encoding, err))
	}
	return &Client{
		httpClient: &http.Client{Timeout: 30 * time.Second},
		endpoint:   endpoint,
		apiKey:     apiKey,
		model:      model,
		breaker:    resilience.NewBreaker(resilience.DefaultBreakerOpts),
		limiter:    resilience.NewLimiter(defaultLimiterOpts),
		enc:        enc,
	}
}

// embedRequest sends token id arrays rather than raw strings, so the
// request always carries exactly the tokens that will be embedded.
type embedRequest struct {
	Input [][]int `json:"input"`
	Model string  `json:"model"`
}

type embedResponseItem struct {
	Embedding []float32 `json:"embedding"`
}

type embedResponse struct {
	Data []embedResponseItem `json:"data"`
}

// EmbedBatch requests one vector per input text, in request order. Each
// text is whitespace-collapsed, BPE-encoded, and truncated to the model's
// token limit before being sent.
func (c *Client) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	tokens := make([][]int, len(texts))
	for i, t := range texts {
		tokens[i] = c.encode(collapseWhitespace(t))
	}

	var out [][]float32
	err := c.limiter.CallWait(ctx, func(ctx context.Context) error {
		return c.breaker.Call(ctx, func(ctx context.Context) error {
			resp, err := c.call(ctx, tokens)
			if err != nil {
				return err
			}
			out = resp
			return nil
		})
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// encode tokenizes s and truncates to MaxTokens, matching the embedding
// model's own input limit rather than an approximation of it.
func (c *Client) encode(s string) []int {
	tok := c.enc.Encode(s, nil, nil)
	if len(tok) > MaxTokens {
		tok = tok[:MaxTokens]
	}
	return tok
}

func (c *Client) call(ctx context.Context, tokens [][]int) ([][]float32, error) {
	body, err := json.Marshal(embedRequest{Input: tokens, Model: c.model})
	if err != nil {
		return nil, fmt.Errorf("marshal embed request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("build embed request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+c.apiKey)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("embed request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("embed request: unexpected status %d", resp.StatusCode)
	}

	var parsed embedResponse
	if err := json.NewDecoder(resp.Body).Decode(&parsed); err != nil {
		return nil, fmt.Errorf("decode embed response: %w", err)
	}
	if len(parsed.Data) != len(tokens) {
		return nil, fmt.Errorf("embed response count %d does not match request count %d", len(parsed.Data), len(tokens))
	}

	out := make([][]float32, len(parsed.Data))
	for i, item := range parsed.Data {
		if len(item.Embedding) != domain.EmbeddingDimension {
			return nil, fmt.Errorf("embedding %d has dimension %d, want %d", i, len(item.Embedding), domain.EmbeddingDimension)
		}
		out[i] = item.Embedding
	}
	return out, nil
}

func collapseWhitespace(s string) string {
	return strings.Join(strings.Fields(s), " ")
}
