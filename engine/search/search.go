// Package search answers natural-language queries over a recipient's
// indexed posts: embed the query, run a filtered vector search, rank.
package search

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"time"

	"github.com/shopassist-ai/engine/engine/domain"
	"github.com/shopassist-ai/engine/engine/embed"
	"github.com/shopassist-ai/engine/engine/semantic"
	"github.com/shopassist-ai/engine/pkg/metrics"
)

// MaxTopK caps how many results a single query may request.
const MaxTopK = 20

// Searcher abstracts the filtered vector search.
type Searcher interface {
	SearchFiltered(ctx context.Context, embedding []float32, topK int, filters map[string]string) ([]semantic.Hit, error)
}

// Result is one ranked search hit.
type Result struct {
	PostID    string  `json:"post_id"`
	Username  string  `json:"username"`
	Content   string  `json:"content"`
	Caption   string  `json:"caption"`
	Score     float32 `json:"score"`
	Timestamp int64   `json:"timestamp"`
}

// Options configures the search service.
type Options struct {
	// SearchTimeout bounds the vector search call. Zero means 5s.
	SearchTimeout time.Duration
}

// Service runs tenant-scoped semantic search.
type Service struct {
	embedder embed.Embedder
	index    Searcher
	opts     Options
	logger   *slog.Logger
	queries  *metrics.Counter
	latency  *metrics.Histogram
}

// New creates a search Service. reg may be nil.
func New(embedder embed.Embedder, index Searcher, opts Options, logger *slog.Logger, reg *metrics.Registry) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	if reg == nil {
		reg = metrics.New()
	}
	if opts.SearchTimeout <= 0 {
		opts.SearchTimeout = 5 * time.Second
	}
	return &Service{
		embedder: embedder,
		index:    index,
		opts:     opts,
		logger:   logger,
		queries:  reg.Counter("search_queries_total", "Search queries served."),
		latency:  reg.Histogram("search_latency_seconds", "End-to-end search query latency.", nil),
	}
}

// Search returns up to topK posts of recipientID ranked by similarity to
// query. Ties in score break toward the more recent post. A recipient with
// nothing indexed gets an empty result, not an error.
func (s *Service) Search(ctx context.Context, query string, topK int, recipientID string) ([]Result, error) {
	if query == "" {
		return nil, fmt.Errorf("%w: query must not be empty", domain.ErrInvalidArgument)
	}
	if topK <= 0 {
		return nil, fmt.Errorf("%w: top_k must be positive", domain.ErrInvalidArgument)
	}
	if recipientID == "" {
		return nil, fmt.Errorf("%w: recipient_id must not be empty", domain.ErrInvalidArgument)
	}
	if topK > MaxTopK {
		topK = MaxTopK
	}
	s.queries.Inc()
	start := time.Now()
	defer func() { s.latency.Since(start) }()

	vectors, err := s.embedder.Embed(ctx, []string{query})
	if err != nil {
		return nil, fmt.Errorf("search: embed query: %w", err)
	}
	if len(vectors) != 1 {
		return nil, fmt.Errorf("%w: search: %d vectors for one query", domain.ErrInfrastructure, len(vectors))
	}

	searchCtx, cancel := context.WithTimeout(ctx, s.opts.SearchTimeout)
	defer cancel()

	hits, err := s.index.SearchFiltered(searchCtx, vectors[0], topK,
		map[string]string{semantic.FieldRecipientID: recipientID})
	if err != nil {
		return nil, fmt.Errorf("%w: search: %w", domain.ErrInfrastructure, err)
	}

	sort.SliceStable(hits, func(i, j int) bool {
		if hits[i].Score != hits[j].Score {
			return hits[i].Score > hits[j].Score
		}
		return hits[i].Timestamp > hits[j].Timestamp
	})

	results := make([]Result, len(hits))
	for i, h := range hits {
		results[i] = Result{
			PostID:    h.PostID,
			Username:  h.Username,
			Content:   h.Content,
			Caption:   h.Caption,
			Score:     h.Score,
			Timestamp: h.Timestamp,
		}
	}
	s.logger.Info("search done", "recipient_id", recipientID, "results", len(results))
	return results, nil
}
