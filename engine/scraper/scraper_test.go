package scraper

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/shopassist-ai/engine/engine/domain"
	"github.com/shopassist-ai/engine/engine/status"
	"github.com/shopassist-ai/engine/engine/store"
)

// stubClient serves a fixed sequence of pages keyed by pagination token.
type stubClient struct {
	pages map[string]*Page // token → page
	calls int
	err   error
}

func (c *stubClient) Posts(_ context.Context, _, token string) (*Page, error) {
	c.calls++
	if c.err != nil {
		return nil, c.err
	}
	page, ok := c.pages[token]
	if !ok {
		return &Page{}, nil
	}
	return page, nil
}

func pagesOfOne(n int) map[string]*Page {
	pages := make(map[string]*Page, n)
	token := ""
	for i := 0; i < n; i++ {
		next := ""
		if i < n-1 {
			next = fmt.Sprintf("tok%d", i+1)
		}
		pages[token] = &Page{
			Items: []Item{{
				ID:           fmt.Sprintf("post%d", i),
				Code:         fmt.Sprintf("C%d", i),
				Caption:      caption{Text: fmt.Sprintf("caption %d", i)},
				TakenAt:      1718000000 + int64(i),
				MediaName:    "post",
				ThumbnailURL: fmt.Sprintf("https://cdn.example.com/%d.jpg", i),
			}},
			PaginationToken: next,
		}
		token = next
	}
	return pages
}

func TestRunStopsAtMaxPosts(t *testing.T) {
	ctx := context.Background()
	st := store.NewMemory()
	tr := status.NewTracker()
	sc := New(&stubClient{pages: pagesOfOne(3)}, st, tr, nil, nil)

	if err := sc.Run(ctx, "demo_user", 2, ""); err != nil {
		t.Fatalf("run: %v", err)
	}

	snap := tr.Snapshot("demo_user").Scraping
	if snap.State != status.StateCompleted {
		t.Fatalf("expected completed, got %+v", snap)
	}
	if snap.Total != 2 || snap.Current != 2 {
		t.Fatalf("expected counts 2/2, got %d/%d", snap.Current, snap.Total)
	}

	posts, err := st.ListPosts(ctx, "demo_user")
	if err != nil {
		t.Fatal(err)
	}
	if len(posts) != 2 {
		t.Fatalf("expected exactly 2 posts in store, got %d", len(posts))
	}
}

func TestRunExhaustsSource(t *testing.T) {
	ctx := context.Background()
	st := store.NewMemory()
	tr := status.NewTracker()
	sc := New(&stubClient{pages: pagesOfOne(3)}, st, tr, nil, nil)

	if err := sc.Run(ctx, "demo_user", 50, ""); err != nil {
		t.Fatalf("run: %v", err)
	}
	posts, _ := st.ListPosts(ctx, "demo_user")
	if len(posts) != 3 {
		t.Fatalf("expected 3 posts, got %d", len(posts))
	}
	if snap := tr.Snapshot("demo_user").Scraping; snap.Total != 3 {
		t.Fatalf("expected settled total 3, got %d", snap.Total)
	}
}

func TestRunDuplicateAdmission(t *testing.T) {
	ctx := context.Background()
	st := store.NewMemory()
	tr := status.NewTracker()
	sc := New(&stubClient{pages: pagesOfOne(1)}, st, tr, nil, nil)

	if err := tr.Start("demo_user", status.PhaseScraping, ""); err != nil {
		t.Fatal(err)
	}
	err := sc.Run(ctx, "demo_user", 5, "")
	if !IsDuplicate(err) {
		t.Fatalf("expected duplicate condition, got %v", err)
	}
}

func TestRunUpstreamFailureRetainsPartialProgress(t *testing.T) {
	ctx := context.Background()
	st := store.NewMemory()
	tr := status.NewTracker()

	// First run writes one post.
	sc := New(&stubClient{pages: pagesOfOne(1)}, st, tr, nil, nil)
	if err := sc.Run(ctx, "demo_user", 5, ""); err != nil {
		t.Fatal(err)
	}

	// Second run fails on its first page.
	failing := &stubClient{err: fmt.Errorf("%w: http 500", domain.ErrUpstreamFetch)}
	sc = New(failing, st, tr, nil, nil)
	err := sc.Run(ctx, "demo_user", 5, "")
	if !errors.Is(err, domain.ErrUpstreamFetch) {
		t.Fatalf("expected upstream fetch error, got %v", err)
	}

	snap := tr.Snapshot("demo_user").Scraping
	if snap.State != status.StateFailed || snap.Error == "" {
		t.Fatalf("expected failed status with error, got %+v", snap)
	}
	posts, _ := st.ListPosts(ctx, "demo_user")
	if len(posts) != 1 {
		t.Fatalf("partial progress lost: %d posts", len(posts))
	}
}

func TestRunPreservesAnalysisOnRescrape(t *testing.T) {
	ctx := context.Background()
	st := store.NewMemory()
	tr := status.NewTracker()
	sc := New(&stubClient{pages: pagesOfOne(2)}, st, tr, nil, nil)

	if err := sc.Run(ctx, "demo_user", 5, ""); err != nil {
		t.Fatal(err)
	}
	if err := st.SetAnalysis(ctx, "demo_user", "post0", domain.AIAnalysis{Description: "a cake"}); err != nil {
		t.Fatal(err)
	}
	if err := sc.Run(ctx, "demo_user", 5, ""); err != nil {
		t.Fatal(err)
	}

	got, err := st.GetPost(ctx, "demo_user", "post0")
	if err != nil {
		t.Fatal(err)
	}
	if got.Analysis == nil || got.Analysis.Description != "a cake" {
		t.Fatalf("re-scrape clobbered analysis: %+v", got.Analysis)
	}
}

func TestRunRecordsRecipientAssociation(t *testing.T) {
	ctx := context.Background()
	st := store.NewMemory()
	tr := status.NewTracker()
	sc := New(&stubClient{pages: pagesOfOne(1)}, st, tr, nil, nil)

	if err := sc.Run(ctx, "demo_user", 5, "r42"); err != nil {
		t.Fatal(err)
	}
	p, err := st.GetProfile(ctx, "demo_user")
	if err != nil {
		t.Fatal(err)
	}
	if p.RecipientID != "r42" {
		t.Fatalf("expected recipient r42, got %q", p.RecipientID)
	}

	// Default recipient is the username itself.
	sc2 := New(&stubClient{pages: pagesOfOne(1)}, st, tr, nil, nil)
	if err := sc2.Run(ctx, "bakery.cph", 5, ""); err != nil {
		t.Fatal(err)
	}
	p, _ = st.GetProfile(ctx, "bakery.cph")
	if p.RecipientID != "bakery.cph" {
		t.Fatalf("expected default recipient, got %q", p.RecipientID)
	}
}

func TestRunInvalidArgs(t *testing.T) {
	sc := New(&stubClient{}, store.NewMemory(), status.NewTracker(), nil, nil)
	if err := sc.Run(context.Background(), "demo_user", 0, ""); !errors.Is(err, domain.ErrInvalidArgument) {
		t.Fatalf("expected ErrInvalidArgument, got %v", err)
	}
	if err := sc.Run(context.Background(), "", 5, ""); !errors.Is(err, domain.ErrInvalidArgument) {
		t.Fatalf("expected ErrInvalidArgument, got %v", err)
	}
}
