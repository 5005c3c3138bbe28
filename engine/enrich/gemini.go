package enrich

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"golang.org/x/time/rate"

	"github.com/shopassist-ai/engine/engine/domain"
	"github.com/shopassist-ai/engine/pkg/fn"
)

const annotationPrompt = `Analyze this image and respond with a single JSON object holding three string fields:
"description" - what the image shows, one or two sentences;
"style" - the visual style (e.g. minimalist, rustic, vibrant);
"mood" - the overall mood (e.g. cozy, festive, elegant).
Respond with the JSON object only, no markdown fences.`

// TokenSource supplies a bearer token for each request.
type TokenSource func(ctx context.Context) (string, error)

// GeminiClient implements Annotator against a Vertex AI generateContent
// endpoint.
type GeminiClient struct {
	endpoint string
	token    TokenSource
	client   *http.Client
	limiter  *rate.Limiter
	retry    fn.RetryOpts
}

// GeminiOpts configures the annotation client.
type GeminiOpts struct {
	BaseURL  string // e.g. "https://us-central1-aiplatform.googleapis.com"
	Project  string
	Location string
	Model    string // e.g. "gemini-2.0-flash"
	Token    TokenSource
	// RequestsPerSecond paces generation calls. Zero means 1 rps.
	RequestsPerSecond float64
	// Retry overrides the default retry budget when MaxAttempts > 0.
	Retry fn.RetryOpts
}

// NewGeminiClient creates an annotation client.
func NewGeminiClient(opts GeminiOpts) *GeminiClient {
	rps := opts.RequestsPerSecond
	if rps <= 0 {
		rps = 1
	}
	retry := opts.Retry
	if retry.MaxAttempts <= 0 {
		retry = fn.DefaultRetry
	}
	endpoint := fmt.Sprintf("%s/v1/projects/%s/locations/%s/publishers/google/models/%s:generateContent",
		opts.BaseURL, opts.Project, opts.Location, opts.Model)
	return &GeminiClient{
		endpoint: endpoint,
		token:    opts.Token,
		client:   &http.Client{Timeout: 60 * time.Second},
		limiter:  rate.NewLimiter(rate.Limit(rps), 1),
		retry:    retry,
	}
}

type generateRequest struct {
	Contents []content `json:"contents"`
}

type content struct {
	Role  string `json:"role"`
	Parts []part `json:"parts"`
}

type part struct {
	Text     string    `json:"text,omitempty"`
	FileData *fileData `json:"fileData,omitempty"`
}

type fileData struct {
	MimeType string `json:"mimeType"`
	FileURI  string `json:"fileUri"`
}

type generateResponse struct {
	Candidates []struct {
		Content struct {
			Parts []struct {
				Text string `json:"text"`
			} `json:"parts"`
		} `json:"content"`
	} `json:"candidates"`
}

// Annotate analyzes one image. Transient failures are retried; auth and
// quota rejections surface immediately as infrastructure errors. Any other
// terminal failure is an annotation error the caller records per post.
func (c *GeminiClient) Annotate(ctx context.Context, imageURL, caption string) (Annotation, error) {
	retryable := func(err error) bool {
		return !errors.Is(err, domain.ErrInfrastructure)
	}
	result := fn.RetryIf(ctx, c.retry, retryable, func(ctx context.Context) fn.Result[Annotation] {
		if err := c.limiter.Wait(ctx); err != nil {
			return fn.Err[Annotation](err)
		}
		return c.generate(ctx, imageURL, caption)
	})
	ann, err := result.Unwrap()
	if err != nil {
		if errors.Is(err, domain.ErrInfrastructure) {
			return Annotation{}, err
		}
		return Annotation{}, fmt.Errorf("%w: %w", domain.ErrAnnotation, err)
	}
	return ann, nil
}

func (c *GeminiClient) generate(ctx context.Context, imageURL, caption string) fn.Result[Annotation] {
	prompt := annotationPrompt
	if caption != "" {
		prompt += "\nThe post caption is: " + caption
	}
	body, _ := json.Marshal(generateRequest{
		Contents: []content{{
			Role: "user",
			Parts: []part{
				{FileData: &fileData{MimeType: "image/jpeg", FileURI: imageURL}},
				{Text: prompt},
			},
		}},
	})

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint, bytes.NewReader(body))
	if err != nil {
		return fn.Err[Annotation](err)
	}
	req.Header.Set("Content-Type", "application/json")
	if c.token != nil {
		tok, err := c.token(ctx)
		if err != nil {
			return fn.Err[Annotation](fmt.Errorf("%w: annotation token: %w", domain.ErrInfrastructure, err))
		}
		req.Header.Set("Authorization", "Bearer "+tok)
	}

	resp, err := c.client.Do(req)
	if err != nil {
		return fn.Errf[Annotation]("generate content: %w", err)
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden:
		return fn.Err[Annotation](fmt.Errorf("%w: annotation auth rejected (%d)", domain.ErrInfrastructure, resp.StatusCode))
	case resp.StatusCode != http.StatusOK:
		return fn.Errf[Annotation]("generate content: status %d", resp.StatusCode)
	}

	var result generateResponse
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return fn.Errf[Annotation]("generate content decode: %w", err)
	}
	if len(result.Candidates) == 0 || len(result.Candidates[0].Content.Parts) == 0 {
		return fn.Errf[Annotation]("generate content: empty response")
	}
	return parseAnnotation(result.Candidates[0].Content.Parts[0].Text)
}

// parseAnnotation extracts the JSON object from the model's reply. Models
// sometimes wrap it in markdown fences despite instructions.
func parseAnnotation(text string) fn.Result[Annotation] {
	text = strings.TrimSpace(text)
	text = strings.TrimPrefix(text, "```json")
	text = strings.TrimPrefix(text, "```")
	text = strings.TrimSuffix(text, "```")
	text = strings.TrimSpace(text)

	var ann Annotation
	if err := json.Unmarshal([]byte(text), &ann); err != nil {
		return fn.Errf[Annotation]("parse annotation: %w", err)
	}
	if ann.Description == "" {
		return fn.Errf[Annotation]("parse annotation: empty description")
	}
	return fn.Ok(ann)
}
