// Package embed turns searchable text into fixed-size vectors through a
// Vertex-style prediction endpoint.
package embed

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	"golang.org/x/time/rate"

	"github.com/shopassist-ai/engine/engine/domain"
	"github.com/shopassist-ai/engine/pkg/fn"
)

// Dims is the embedding width the vector collection is created with.
const Dims = 768

// batchSize caps instances per prediction request; the endpoint rejects
// larger payloads.
const batchSize = 10

// Embedder turns texts into one vector per input, in input order.
type Embedder interface {
	Embed(ctx context.Context, texts []string) ([][]float32, error)
}

// TokenSource supplies a bearer token for each request.
type TokenSource func(ctx context.Context) (string, error)

// HTTPClient implements Embedder against a Vertex AI prediction endpoint.
type HTTPClient struct {
	endpoint string
	token    TokenSource
	client   *http.Client
	limiter  *rate.Limiter
	retry    fn.RetryOpts
}

// Opts configures the embedding client.
type Opts struct {
	BaseURL  string // e.g. "https://us-central1-aiplatform.googleapis.com"
	Project  string
	Location string
	Model    string // e.g. "text-embedding-005"
	Token    TokenSource
	// RequestsPerSecond paces prediction calls. Zero means 2 rps.
	RequestsPerSecond float64
	// Retry overrides the default retry budget when MaxAttempts > 0.
	Retry fn.RetryOpts
}

// NewHTTPClient creates an embedding client.
func NewHTTPClient(opts Opts) *HTTPClient {
	rps := opts.RequestsPerSecond
	if rps <= 0 {
		rps = 2
	}
	retry := opts.Retry
	if retry.MaxAttempts <= 0 {
		retry = fn.DefaultRetry
	}
	endpoint := fmt.Sprintf("%s/v1/projects/%s/locations/%s/publishers/google/models/%s:predict",
		opts.BaseURL, opts.Project, opts.Location, opts.Model)
	return &HTTPClient{
		endpoint: endpoint,
		token:    opts.Token,
		client:   &http.Client{Timeout: 60 * time.Second},
		limiter:  rate.NewLimiter(rate.Limit(rps), 1),
		retry:    retry,
	}
}

type predictRequest struct {
	Instances []instance `json:"instances"`
}

type instance struct {
	Content string `json:"content"`
}

type predictResponse struct {
	Predictions []struct {
		Embeddings struct {
			Values []float32 `json:"values"`
		} `json:"embeddings"`
	} `json:"predictions"`
}

// Embed embeds texts in request batches, preserving input order. Any
// failure is infrastructural: the caller has no smaller unit to degrade to.
func (c *HTTPClient) Embed(ctx context.Context, texts []string) ([][]float32, error) {
	if len(texts) == 0 {
		return nil, nil
	}

	out := make([][]float32, 0, len(texts))
	for _, batch := range fn.Chunk(texts, batchSize) {
		retryable := func(err error) bool {
			return !errors.Is(err, domain.ErrInfrastructure)
		}
		result := fn.RetryIf(ctx, c.retry, retryable, func(ctx context.Context) fn.Result[[][]float32] {
			if err := c.limiter.Wait(ctx); err != nil {
				return fn.Err[[][]float32](err)
			}
			return c.predict(ctx, batch)
		})
		vectors, err := result.Unwrap()
		if err != nil {
			if errors.Is(err, domain.ErrInfrastructure) {
				return nil, err
			}
			return nil, fmt.Errorf("%w: embed batch: %w", domain.ErrInfrastructure, err)
		}
		out = append(out, vectors...)
	}
	return out, nil
}

func (c *HTTPClient) predict(ctx context.Context, texts []string) fn.Result[[][]float32] {
	instances := make([]instance, len(texts))
	for i, t := range texts {
		instances[i] = instance{Content: t}
	}
	body, _ := json.Marshal(predictRequest{Instances: instances})

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint, bytes.NewReader(body))
	if err != nil {
		return fn.Err[[][]float32](err)
	}
	req.Header.Set("Content-Type", "application/json")
	if c.token != nil {
		tok, err := c.token(ctx)
		if err != nil {
			return fn.Err[[][]float32](fmt.Errorf("%w: embed token: %w", domain.ErrInfrastructure, err))
		}
		req.Header.Set("Authorization", "Bearer "+tok)
	}

	resp, err := c.client.Do(req)
	if err != nil {
		return fn.Errf[[][]float32]("embed predict: %w", err)
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden:
		return fn.Err[[][]float32](fmt.Errorf("%w: embed auth rejected (%d)", domain.ErrInfrastructure, resp.StatusCode))
	case resp.StatusCode != http.StatusOK:
		return fn.Errf[[][]float32]("embed predict: status %d", resp.StatusCode)
	}

	var result predictResponse
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return fn.Errf[[][]float32]("embed predict decode: %w", err)
	}
	if len(result.Predictions) != len(texts) {
		return fn.Errf[[][]float32]("embed predict: %d predictions for %d texts", len(result.Predictions), len(texts))
	}

	vectors := make([][]float32, len(result.Predictions))
	for i, p := range result.Predictions {
		if len(p.Embeddings.Values) != Dims {
			return fn.Err[[][]float32](fmt.Errorf("%w: embedding [%d] has %d dims, want %d",
				domain.ErrInfrastructure, i, len(p.Embeddings.Values), Dims))
		}
		vectors[i] = p.Embeddings.Values
	}
	return fn.Ok(vectors)
}
