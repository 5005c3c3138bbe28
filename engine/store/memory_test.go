package store

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/shopassist-ai/engine/engine/domain"
)

func post(id, caption string, taken time.Time) domain.Post {
	return domain.Post{
		ID:        id,
		Username:  "demo_user",
		Caption:   caption,
		TakenAt:   taken,
		MediaType: domain.MediaImage,
		Permalink: "https://www.instagram.com/p/" + id + "/",
		MediaURLs: []string{"https://cdn.example.com/" + id + ".jpg"},
	}
}

func TestUpsertPostInPlace(t *testing.T) {
	ctx := context.Background()
	m := NewMemory()
	now := time.Now().UTC()

	require.NoError(t, m.UpsertPost(ctx, post("p1", "first caption", now)))
	require.NoError(t, m.UpsertPost(ctx, post("p1", "edited caption", now)))

	posts, err := m.ListPosts(ctx, "demo_user")
	require.NoError(t, err)
	require.Len(t, posts, 1, "same id must update in place, never duplicate")
	assert.Equal(t, "edited caption", posts[0].Caption)
}

func TestUpsertPostPreservesAnalysis(t *testing.T) {
	ctx := context.Background()
	m := NewMemory()
	now := time.Now().UTC()

	require.NoError(t, m.UpsertPost(ctx, post("p1", "cake", now)))
	require.NoError(t, m.SetAnalysis(ctx, "demo_user", "p1", domain.AIAnalysis{
		Description: "a chocolate cake",
		AnalyzedAt:  now,
	}))

	// Re-scrape with a changed caption.
	require.NoError(t, m.UpsertPost(ctx, post("p1", "cake (edited)", now)))

	got, err := m.GetPost(ctx, "demo_user", "p1")
	require.NoError(t, err)
	assert.Equal(t, "cake (edited)", got.Caption)
	require.NotNil(t, got.Analysis, "re-scrape must not clobber AIAnalysis")
	assert.Equal(t, "a chocolate cake", got.Analysis.Description)
}

func TestSetAnalysisMissingPost(t *testing.T) {
	ctx := context.Background()
	m := NewMemory()
	err := m.SetAnalysis(ctx, "demo_user", "nope", domain.AIAnalysis{Description: "x"})
	assert.ErrorIs(t, err, domain.ErrNotFound)
}

func TestListPostsOrder(t *testing.T) {
	ctx := context.Background()
	m := NewMemory()
	base := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)

	require.NoError(t, m.UpsertPost(ctx, post("old", "old", base)))
	require.NoError(t, m.UpsertPost(ctx, post("new", "new", base.Add(48*time.Hour))))
	require.NoError(t, m.UpsertPost(ctx, post("mid", "mid", base.Add(24*time.Hour))))

	posts, err := m.ListPosts(ctx, "demo_user")
	require.NoError(t, err)
	ids := []string{posts[0].ID, posts[1].ID, posts[2].ID}
	assert.Equal(t, []string{"new", "mid", "old"}, ids)
}

func TestProfiles(t *testing.T) {
	ctx := context.Background()
	m := NewMemory()

	_, err := m.GetProfile(ctx, "demo_user")
	assert.ErrorIs(t, err, domain.ErrNotFound)

	require.NoError(t, m.UpsertProfile(ctx, domain.Profile{Username: "demo_user", RecipientID: "r1"}))
	require.NoError(t, m.UpsertProfile(ctx, domain.Profile{Username: "bakery.cph", RecipientID: "r2"}))

	p, err := m.GetProfile(ctx, "demo_user")
	require.NoError(t, err)
	assert.Equal(t, "r1", p.RecipientID)

	all, err := m.ListProfiles(ctx)
	require.NoError(t, err)
	assert.Len(t, all, 2)
}
