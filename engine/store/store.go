// Package store defines the metadata store abstraction: durable keyed
// storage for per-profile post records and profile/tenant associations.
// The store is the single source of truth for post content; the vector
// index is a derived projection kept consistent by the sync engine.
package store

import (
	"context"

	"github.com/shopassist-ai/engine/engine/domain"
)

// Store is the capability handed to the scraper, enrichment processor, and
// sync engine. Implementations provide last-writer-wins semantics per post
// id; no cross-post transactions are required.
type Store interface {
	// UpsertPost writes the scrape-owned fields of a post (caption,
	// timestamp, media type, permalink, media URLs), keyed by
	// (username, post id). An existing AIAnalysis is preserved: a
	// re-scrape never clobbers enrichment output.
	UpsertPost(ctx context.Context, p domain.Post) error

	// SetAnalysis attaches an AIAnalysis to an existing post.
	SetAnalysis(ctx context.Context, username, postID string, a domain.AIAnalysis) error

	// GetPost returns a single post or domain.ErrNotFound.
	GetPost(ctx context.Context, username, postID string) (domain.Post, error)

	// ListPosts returns all posts for a profile ordered by most recent
	// first.
	ListPosts(ctx context.Context, username string) ([]domain.Post, error)

	// UpsertProfile records the profile/recipient association.
	UpsertProfile(ctx context.Context, p domain.Profile) error

	// GetProfile returns the profile record or domain.ErrNotFound.
	GetProfile(ctx context.Context, username string) (domain.Profile, error)

	// ListProfiles returns every known profile.
	ListProfiles(ctx context.Context) ([]domain.Profile, error)
}
