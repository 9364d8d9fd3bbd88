package embedding

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"math"
	"net/http"

	"github.com/sandevgo/memctx/internal/config"
	"github.com/sandevgo/memctx/pkg/log"
	"github.com/sandevgo/memctx/pkg/retry"
)

// Client talks to the embedding HTTP service. It is the only true I/O
// suspension point in the engine: calls carry a bounded timeout and a
// small fixed-backoff retry budget, and callers must not hold cache
// locks across them.
type Client struct {
	httpClient *http.Client
	baseURL    string
	retrier    *retry.Retrier
}

func NewClient(cfg *config.EmbeddingConfig) *Client {
	rc := retry.NewEmbeddingConfig()
	rc.MaxRetries = cfg.MaxRetries

	return &Client{
		httpClient: &http.Client{Timeout: cfg.Timeout},
		baseURL:    cfg.BaseURL,
		retrier:    retry.NewRetrier(rc),
	}
}

type embedRequest struct {
	Texts []string `json:"texts"`
}

type embedResponse struct {
	Embeddings [][]float32 `json:"embeddings"`
}

// Embed returns one vector per input text. Vectors arrive
// L2-normalized from the service; a drifting magnitude is logged as a
// warning rather than rejected, since downstream dot products degrade
// smoothly.
func (c *Client) Embed(ctx context.Context, texts []string) ([][]float32, error) {
	if len(texts) == 0 {
		return nil, nil
	}

	var out embedResponse
	err := c.retrier.Do(ctx, func() error {
		return c.post(ctx, "/embed", embedRequest{Texts: texts}, &out)
	})
	if err != nil {
		return nil, fmt.Errorf("embedding service: %w", err)
	}

	if len(out.Embeddings) != len(texts) {
		return nil, fmt.Errorf("embedding service returned %d vectors for %d texts", len(out.Embeddings), len(texts))
	}

	logger := log.FromCtx(ctx)
	for i, vec := range out.Embeddings {
		if mag := magnitude(vec); math.Abs(mag-1.0) > 0.01 {
			logger.Warn().
				Int("index", i).
				Float64("magnitude", mag).
				Msg("embedding vector is not unit length")
		}
	}
	return out.Embeddings, nil
}

// Health checks GET {base}/ and expects {"status":"online"}.
func (c *Client) Health(ctx context.Context) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/", nil)
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("embedding service unreachable: %w", err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("read body: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("http %d: %s", resp.StatusCode, string(data))
	}

	var status struct {
		Status string `json:"status"`
	}
	if err := json.Unmarshal(data, &status); err != nil {
		return fmt.Errorf("decode health: %w", err)
	}
	if status.Status != "online" {
		return fmt.Errorf("embedding service status %q", status.Status)
	}
	return nil
}

func (c *Client) post(ctx context.Context, path string, body, out any) error {
	data, err := json.Marshal(body)
	if err != nil {
		return fmt.Errorf("marshal: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, bytes.NewReader(data))
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("request: %w", err)
	}
	defer resp.Body.Close()

	respData, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("read body: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("http %d: %s", resp.StatusCode, string(respData))
	}
	if err := json.Unmarshal(respData, out); err != nil {
		return fmt.Errorf("decode: %w", err)
	}
	return nil
}

func magnitude(vec []float32) float64 {
	var sum float64
	for _, v := range vec {
		sum += float64(v) * float64(v)
	}
	return math.Sqrt(sum)
}
