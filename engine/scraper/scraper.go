package scraper

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/shopassist-ai/engine/engine/domain"
	"github.com/shopassist-ai/engine/engine/status"
	"github.com/shopassist-ai/engine/engine/store"
	"github.com/shopassist-ai/engine/pkg/metrics"
)

// Scraper runs scrape jobs: paginate, normalize, upsert, report progress.
type Scraper struct {
	client  Client
	store   store.Store
	tracker *status.Tracker
	logger  *slog.Logger

	pagesFetched *metrics.Counter
	postsUpserts *metrics.Counter
}

// New creates a Scraper. reg may be nil.
func New(client Client, st store.Store, tracker *status.Tracker, logger *slog.Logger, reg *metrics.Registry) *Scraper {
	if logger == nil {
		logger = slog.Default()
	}
	if reg == nil {
		reg = metrics.New()
	}
	return &Scraper{
		client:       client,
		store:        st,
		tracker:      tracker,
		logger:       logger,
		pagesFetched: reg.Counter("scrape_pages_fetched_total", "Pages fetched from the upstream content API."),
		postsUpserts: reg.Counter("scrape_posts_upserted_total", "Posts written to the metadata store."),
	}
}

// Run executes one scrape job for username, fetching up to maxPosts posts.
// It returns domain.ErrAlreadyRunning when a scrape for this profile is in
// flight (a duplicate-request condition, not a hard failure). Any other
// error has already been recorded as a failed job status. Partial progress
// is never rolled back.
func (s *Scraper) Run(ctx context.Context, username string, maxPosts int, recipientID string) error {
	if err := domain.ValidateUsername(username); err != nil {
		return err
	}
	if maxPosts <= 0 {
		return fmt.Errorf("%w: max_posts must be positive", domain.ErrInvalidArgument)
	}
	if recipientID == "" {
		recipientID = username
	}

	if err := s.tracker.Start(username, status.PhaseScraping, "Starting scrape process..."); err != nil {
		return err
	}

	if err := s.store.UpsertProfile(ctx, domain.Profile{Username: username, RecipientID: recipientID}); err != nil {
		s.fail(username, err)
		return err
	}

	fetched := 0
	token := ""
	for fetched < maxPosts {
		page, err := s.client.Posts(ctx, username, token)
		if err != nil {
			s.fail(username, err)
			return err
		}
		s.pagesFetched.Inc()
		if len(page.Items) == 0 {
			break
		}

		for _, item := range page.Items {
			if fetched >= maxPosts {
				break
			}
			post := Normalize(username, item)
			if err := s.store.UpsertPost(ctx, post); err != nil {
				// A store failure is unrecoverable; posts written so
				// far stay put.
				s.fail(username, err)
				return err
			}
			s.postsUpserts.Inc()
			fetched++
		}

		s.tracker.Advance(username, status.PhaseScraping, fetched, maxPosts,
			fmt.Sprintf("Fetched %d posts", fetched))
		s.logger.Info("scrape page done", "username", username, "fetched", fetched)

		token = page.PaginationToken
		if token == "" {
			break
		}
	}

	// Settle the final totals: on early exhaustion fewer posts exist than
	// were requested.
	s.tracker.Advance(username, status.PhaseScraping, fetched, fetched, "")
	s.tracker.Complete(username, status.PhaseScraping,
		fmt.Sprintf("Successfully processed %d posts", fetched))
	return nil
}

func (s *Scraper) fail(username string, err error) {
	s.logger.Error("scrape failed", "username", username, "error", err)
	s.tracker.Fail(username, status.PhaseScraping, err)
}

// IsDuplicate reports whether err is the duplicate-admission condition.
func IsDuplicate(err error) bool {
	return errors.Is(err, domain.ErrAlreadyRunning)
}
