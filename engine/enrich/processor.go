package enrich

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/shopassist-ai/engine/engine/domain"
	"github.com/shopassist-ai/engine/engine/status"
	"github.com/shopassist-ai/engine/engine/store"
	"github.com/shopassist-ai/engine/pkg/metrics"
	"github.com/shopassist-ai/engine/pkg/resilience"
)

// VideoPlaceholder is stored as the description of video posts, which are
// not analyzed but still participate in search.
const VideoPlaceholder = "This is a video post. Video content analysis is not supported yet."

// Mode selects which posts an analysis job touches.
type Mode string

const (
	// ModeUpdateAll re-annotates every post, overwriting prior results.
	ModeUpdateAll Mode = "update_all"
	// ModeUpdateRemaining annotates only posts without a successful analysis.
	ModeUpdateRemaining Mode = "update_remaining"
	// ModeSkip annotates nothing; the job completes immediately.
	ModeSkip Mode = "skip"
)

// ParseMode validates a mode string. Empty defaults to update_remaining.
func ParseMode(s string) (Mode, error) {
	switch Mode(s) {
	case "":
		return ModeUpdateRemaining, nil
	case ModeUpdateAll, ModeUpdateRemaining, ModeSkip:
		return Mode(s), nil
	default:
		return "", fmt.Errorf("%w: unknown processing mode %q", domain.ErrInvalidArgument, s)
	}
}

// Processor runs AI analysis jobs over stored posts.
type Processor struct {
	store     store.Store
	annotator Annotator
	tracker   *status.Tracker
	breaker   *resilience.Breaker
	logger    *slog.Logger
	now       func() time.Time

	annotated  *metrics.Counter
	itemErrors *metrics.Counter
}

// NewProcessor creates a Processor. reg may be nil.
func NewProcessor(st store.Store, annotator Annotator, tracker *status.Tracker, logger *slog.Logger, reg *metrics.Registry) *Processor {
	if logger == nil {
		logger = slog.Default()
	}
	if reg == nil {
		reg = metrics.New()
	}
	return &Processor{
		store:      st,
		annotator:  annotator,
		tracker:    tracker,
		breaker:    resilience.NewBreaker(resilience.DefaultBreakerOpts),
		logger:     logger,
		now:        time.Now,
		annotated:  reg.Counter("ai_posts_annotated_total", "Posts annotated successfully."),
		itemErrors: reg.Counter("ai_annotation_errors_total", "Posts whose annotation failed and was recorded as an error marker."),
	}
}

// Run executes one analysis job for username. Per-post annotation failures
// are recorded on the post and do not fail the job; infrastructure failures
// (auth, quota, open breaker, store errors) fail it immediately. Partial
// results are never rolled back.
func (p *Processor) Run(ctx context.Context, username string, mode Mode) error {
	if err := domain.ValidateUsername(username); err != nil {
		return err
	}
	if _, err := ParseMode(string(mode)); err != nil {
		return err
	}
	if mode == "" {
		mode = ModeUpdateRemaining
	}

	if err := p.tracker.Start(username, status.PhaseAI, "Starting AI analysis..."); err != nil {
		return err
	}

	if mode == ModeSkip {
		p.tracker.Complete(username, status.PhaseAI, "AI analysis skipped")
		return nil
	}

	posts, err := p.store.ListPosts(ctx, username)
	if err != nil {
		p.fail(username, err)
		return err
	}

	var targets []domain.Post
	for _, post := range posts {
		if mode == ModeUpdateRemaining && post.Analyzed() {
			continue
		}
		targets = append(targets, post)
	}

	total := len(targets)
	p.tracker.Advance(username, status.PhaseAI, 0, total, fmt.Sprintf("Analyzing %d posts", total))

	done := 0
	for _, post := range targets {
		analysis, err := p.analyze(ctx, post)
		if err != nil {
			if isInfrastructure(err) {
				p.fail(username, err)
				return err
			}
			// Per-post failure: record the marker and keep going.
			p.itemErrors.Inc()
			p.logger.Warn("annotation failed", "username", username, "post_id", post.ID, "error", err)
			analysis = domain.AIAnalysis{Error: err.Error(), AnalyzedAt: p.now()}
		} else {
			p.annotated.Inc()
		}

		if err := p.store.SetAnalysis(ctx, username, post.ID, analysis); err != nil {
			p.fail(username, err)
			return err
		}
		done++
		p.tracker.Advance(username, status.PhaseAI, done, total,
			fmt.Sprintf("Analyzed %d/%d posts", done, total))
	}

	p.tracker.Complete(username, status.PhaseAI,
		fmt.Sprintf("AI analysis completed for %d posts", done))
	return nil
}

// analyze produces the analysis for one post according to its media type.
func (p *Processor) analyze(ctx context.Context, post domain.Post) (domain.AIAnalysis, error) {
	if post.MediaType == domain.MediaVideo {
		return domain.AIAnalysis{Description: VideoPlaceholder, AnalyzedAt: p.now()}, nil
	}

	if len(post.MediaURLs) == 0 {
		return domain.AIAnalysis{}, fmt.Errorf("%w: post has no media", domain.ErrAnnotation)
	}

	if post.MediaType == domain.MediaAlbum {
		return p.analyzeAlbum(ctx, post)
	}

	ann, err := p.annotate(ctx, post.MediaURLs[0], post.Caption)
	if err != nil {
		return domain.AIAnalysis{}, err
	}
	return domain.AIAnalysis{
		Description: ann.Description,
		Style:       ann.Style,
		Mood:        ann.Mood,
		AnalyzedAt:  p.now(),
	}, nil
}

// analyzeAlbum annotates each child image and joins the descriptions in
// child order. Style and mood come from the first child.
func (p *Processor) analyzeAlbum(ctx context.Context, post domain.Post) (domain.AIAnalysis, error) {
	descriptions := make([]string, 0, len(post.MediaURLs))
	var style, mood string
	for i, url := range post.MediaURLs {
		ann, err := p.annotate(ctx, url, post.Caption)
		if err != nil {
			return domain.AIAnalysis{}, fmt.Errorf("album child %d: %w", i, err)
		}
		descriptions = append(descriptions, ann.Description)
		if i == 0 {
			style, mood = ann.Style, ann.Mood
		}
	}
	return domain.AIAnalysis{
		Description: strings.Join(descriptions, " | "),
		Style:       style,
		Mood:        mood,
		AnalyzedAt:  p.now(),
	}, nil
}

func (p *Processor) annotate(ctx context.Context, url, caption string) (Annotation, error) {
	var ann Annotation
	err := p.breaker.Call(ctx, func(ctx context.Context) error {
		var err error
		ann, err = p.annotator.Annotate(ctx, url, caption)
		return err
	})
	return ann, err
}

func (p *Processor) fail(username string, err error) {
	p.logger.Error("analysis failed", "username", username, "error", err)
	p.tracker.Fail(username, status.PhaseAI, err)
}

func isInfrastructure(err error) bool {
	return errors.Is(err, domain.ErrInfrastructure) || errors.Is(err, resilience.ErrCircuitOpen)
}
