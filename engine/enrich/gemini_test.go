package enrich

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/shopassist-ai/engine/engine/domain"
	"github.com/shopassist-ai/engine/pkg/fn"
)

func newGemini(t *testing.T, handler http.HandlerFunc) *GeminiClient {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	return NewGeminiClient(GeminiOpts{
		BaseURL:           srv.URL,
		Project:           "p",
		Location:          "us-central1",
		Model:             "gemini-2.0-flash",
		Token:             func(context.Context) (string, error) { return "tok", nil },
		RequestsPerSecond: 1000,
		Retry:             fn.RetryOpts{MaxAttempts: 1, InitialWait: time.Millisecond, MaxWait: time.Millisecond},
	})
}

func TestGeminiAnnotate(t *testing.T) {
	c := newGemini(t, func(w http.ResponseWriter, r *http.Request) {
		var req generateRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			t.Fatal(err)
		}
		parts := req.Contents[0].Parts
		if parts[0].FileData == nil || parts[0].FileData.FileURI != "https://cdn.example.com/1.jpg" {
			t.Errorf("missing image part: %+v", parts)
		}

		var resp generateResponse
		resp.Candidates = make([]struct {
			Content struct {
				Parts []struct {
					Text string `json:"text"`
				} `json:"parts"`
			} `json:"content"`
		}, 1)
		resp.Candidates[0].Content.Parts = []struct {
			Text string `json:"text"`
		}{{Text: `{"description":"a chocolate cake","style":"rustic","mood":"cozy"}`}}
		json.NewEncoder(w).Encode(resp)
	})

	ann, err := c.Annotate(context.Background(), "https://cdn.example.com/1.jpg", "yum")
	if err != nil {
		t.Fatalf("annotate: %v", err)
	}
	if ann.Description != "a chocolate cake" || ann.Style != "rustic" || ann.Mood != "cozy" {
		t.Fatalf("wrong annotation: %+v", ann)
	}
}

func TestGeminiAuthFailureNotRetried(t *testing.T) {
	var requests int
	c := newGemini(t, func(w http.ResponseWriter, r *http.Request) {
		requests++
		w.WriteHeader(http.StatusUnauthorized)
	})
	_, err := c.Annotate(context.Background(), "u", "")
	if !errors.Is(err, domain.ErrInfrastructure) {
		t.Fatalf("expected infrastructure error, got %v", err)
	}
	if requests != 1 {
		t.Fatalf("auth failure retried %d times", requests)
	}
}

func TestGeminiEmptyResponseIsAnnotationError(t *testing.T) {
	c := newGemini(t, func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(generateResponse{})
	})
	_, err := c.Annotate(context.Background(), "u", "")
	if !errors.Is(err, domain.ErrAnnotation) {
		t.Fatalf("expected annotation error, got %v", err)
	}
}
