// Package vsync keeps the vector index consistent with the metadata store:
// it diffs content fingerprints and re-embeds only what changed.
package vsync

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/shopassist-ai/engine/engine/domain"
	"github.com/shopassist-ai/engine/engine/embed"
	"github.com/shopassist-ai/engine/engine/semantic"
	"github.com/shopassist-ai/engine/engine/store"
	"github.com/shopassist-ai/engine/pkg/fn"
	"github.com/shopassist-ai/engine/pkg/metrics"
)

// VectorIndex is the slice of the vector store the sync engine needs.
type VectorIndex interface {
	Upsert(ctx context.Context, records []semantic.Record) error
	Fingerprints(ctx context.Context, ids []string) (map[string]string, error)
}

// Stats summarizes one profile sync.
type Stats struct {
	Eligible int `json:"eligible"` // analyzed posts considered
	Changed  int `json:"changed"`  // posts whose fingerprint differed
	Upserted int `json:"upserted"` // points written
}

// Engine runs fingerprint-diffed syncs. Syncs for the same profile are
// serialized; different profiles proceed concurrently.
type Engine struct {
	store    store.Store
	embedder embed.Embedder
	index    VectorIndex
	logger   *slog.Logger

	mu    sync.Mutex
	locks map[string]*sync.Mutex

	pointsUpserted *metrics.Counter
	syncsSkipped   *metrics.Counter
}

// NewEngine creates a sync engine. reg may be nil.
func NewEngine(st store.Store, embedder embed.Embedder, index VectorIndex, logger *slog.Logger, reg *metrics.Registry) *Engine {
	if logger == nil {
		logger = slog.Default()
	}
	if reg == nil {
		reg = metrics.New()
	}
	return &Engine{
		store:          st,
		embedder:       embedder,
		index:          index,
		logger:         logger,
		locks:          make(map[string]*sync.Mutex),
		pointsUpserted: reg.Counter("sync_points_upserted_total", "Vector points written during sync."),
		syncsSkipped:   reg.Counter("sync_noop_total", "Syncs that found nothing changed."),
	}
}

func (e *Engine) profileLock(username string) *sync.Mutex {
	e.mu.Lock()
	defer e.mu.Unlock()
	l, ok := e.locks[username]
	if !ok {
		l = &sync.Mutex{}
		e.locks[username] = l
	}
	return l
}

// item is one indexable post with its derived point identity.
type item struct {
	post        domain.Post
	pointID     string
	content     string
	fingerprint string
}

// plan carries the sync through the pipeline stages.
type plan struct {
	username    string
	recipientID string
	items       []item
	changed     []item
	vectors     [][]float32
}

// Sync reconciles one profile's vectors with its stored posts.
func (e *Engine) Sync(ctx context.Context, username string) (Stats, error) {
	if err := domain.ValidateUsername(username); err != nil {
		return Stats{}, err
	}

	l := e.profileLock(username)
	l.Lock()
	defer l.Unlock()

	pipeline := fn.Then(
		fn.Then(
			fn.TracedStage("vsync.collect", e.collect),
			fn.TracedStage("vsync.diff", e.diff),
		),
		fn.Then(
			fn.TracedStage("vsync.embed", e.embed),
			fn.TracedStage("vsync.upsert", e.upsert),
		),
	)

	stats, err := pipeline(ctx, username).Unwrap()
	if err != nil {
		e.logger.Error("sync failed", "username", username, "error", err)
		return Stats{}, err
	}
	e.logger.Info("sync done", "username", username,
		"eligible", stats.Eligible, "changed", stats.Changed, "upserted", stats.Upserted)
	return stats, nil
}

// collect loads the profile and its analyzed posts. Posts without a
// successful analysis (including error markers) are not indexable yet.
func (e *Engine) collect(ctx context.Context, username string) fn.Result[plan] {
	profile, err := e.store.GetProfile(ctx, username)
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			// A profile that was never scraped still syncs to nothing.
			profile = domain.Profile{Username: username, RecipientID: username}
		} else {
			return fn.Err[plan](fmt.Errorf("%w: load profile: %w", domain.ErrInfrastructure, err))
		}
	}

	posts, err := e.store.ListPosts(ctx, username)
	if err != nil {
		return fn.Err[plan](fmt.Errorf("%w: list posts: %w", domain.ErrInfrastructure, err))
	}

	p := plan{username: username, recipientID: profile.RecipientID}
	for _, post := range posts {
		if !post.Analyzed() {
			continue
		}
		p.items = append(p.items, item{
			post:        post,
			pointID:     PointID(username, post.ID),
			content:     Content(post),
			fingerprint: Fingerprint(post),
		})
	}
	return fn.Ok(p)
}

// diff fetches stored fingerprints and keeps only items that are new or
// whose content changed.
func (e *Engine) diff(ctx context.Context, p plan) fn.Result[plan] {
	if len(p.items) == 0 {
		return fn.Ok(p)
	}

	ids := make([]string, len(p.items))
	for i, it := range p.items {
		ids[i] = it.pointID
	}
	stored, err := e.index.Fingerprints(ctx, ids)
	if err != nil {
		return fn.Err[plan](fmt.Errorf("%w: read fingerprints: %w", domain.ErrInfrastructure, err))
	}

	for _, it := range p.items {
		if stored[it.pointID] == it.fingerprint {
			continue
		}
		p.changed = append(p.changed, it)
	}
	return fn.Ok(p)
}

func (e *Engine) embed(ctx context.Context, p plan) fn.Result[plan] {
	if len(p.changed) == 0 {
		return fn.Ok(p)
	}
	texts := make([]string, len(p.changed))
	for i, it := range p.changed {
		texts[i] = it.content
	}
	vectors, err := e.embedder.Embed(ctx, texts)
	if err != nil {
		return fn.Err[plan](err)
	}
	if len(vectors) != len(texts) {
		return fn.Err[plan](fmt.Errorf("%w: %d vectors for %d texts", domain.ErrInfrastructure, len(vectors), len(texts)))
	}
	p.vectors = vectors
	return fn.Ok(p)
}

func (e *Engine) upsert(ctx context.Context, p plan) fn.Result[Stats] {
	stats := Stats{Eligible: len(p.items), Changed: len(p.changed)}
	if len(p.changed) == 0 {
		e.syncsSkipped.Inc()
		e.logger.Info("sync found no changes", "username", p.username)
		return fn.Ok(stats)
	}

	records := make([]semantic.Record, len(p.changed))
	for i, it := range p.changed {
		records[i] = semantic.Record{
			ID:        it.pointID,
			Embedding: p.vectors[i],
			Payload: map[string]any{
				semantic.FieldRecipientID: p.recipientID,
				semantic.FieldUsername:    p.username,
				semantic.FieldPostID:      it.post.ID,
				semantic.FieldContent:     it.content,
				semantic.FieldCaption:     it.post.Caption,
				semantic.FieldTimestamp:   it.post.TakenAt.Unix(),
				semantic.FieldFingerprint: it.fingerprint,
			},
		}
	}
	if err := e.index.Upsert(ctx, records); err != nil {
		return fn.Err[Stats](fmt.Errorf("%w: %w", domain.ErrInfrastructure, err))
	}
	stats.Upserted = len(records)
	e.pointsUpserted.Add(int64(len(records)))

	// Points whose posts disappeared upstream are left in place for now.
	e.logger.Debug("deletion reconciliation skipped", "username", p.username)
	return fn.Ok(stats)
}

// SyncAll syncs every known profile, continuing past per-profile failures.
func (e *Engine) SyncAll(ctx context.Context) error {
	profiles, err := e.store.ListProfiles(ctx)
	if err != nil {
		return fmt.Errorf("%w: list profiles: %w", domain.ErrInfrastructure, err)
	}

	var errs []error
	for _, p := range profiles {
		if _, err := e.Sync(ctx, p.Username); err != nil {
			errs = append(errs, fmt.Errorf("sync %s: %w", p.Username, err))
		}
	}
	return errors.Join(errs...)
}
