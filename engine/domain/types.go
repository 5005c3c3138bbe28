// Package domain holds the core value types shared by the scraping,
// enrichment, sync, and search pipelines, plus the error taxonomy they
// report through.
package domain

import "time"

// MediaType classifies a post's media.
type MediaType string

const (
	MediaImage MediaType = "image"
	MediaVideo MediaType = "video"
	MediaAlbum MediaType = "album"
)

// Post is one content item belonging to a profile. The post id is assigned
// by the upstream platform and is unique within its profile; re-scraping the
// same id updates the record in place.
type Post struct {
	ID        string     `json:"id" bson:"post_id"`
	Username  string     `json:"username" bson:"username"`
	Caption   string     `json:"caption" bson:"caption"`
	TakenAt   time.Time  `json:"taken_at" bson:"taken_at"`
	MediaType MediaType  `json:"media_type" bson:"media_type"`
	Permalink string     `json:"permalink" bson:"permalink"`
	MediaURLs []string   `json:"media_urls" bson:"media_urls"`
	Analysis  *AIAnalysis `json:"ai_analysis,omitempty" bson:"ai_analysis,omitempty"`
}

// AIAnalysis is the AI-generated annotation attached to a post after
// enrichment. Error marks a per-item annotation failure; such records still
// count as unanalyzed for selection purposes.
type AIAnalysis struct {
	Description string    `json:"description" bson:"description"`
	Style       string    `json:"style" bson:"style"`
	Mood        string    `json:"mood" bson:"mood"`
	Error       string    `json:"error,omitempty" bson:"error,omitempty"`
	AnalyzedAt  time.Time `json:"analyzed_at" bson:"analyzed_at"`
}

// Empty reports whether the analysis carries no content at all.
func (a *AIAnalysis) Empty() bool {
	return a == nil || (a.Description == "" && a.Style == "" && a.Mood == "" && a.Error == "")
}

// Analyzed reports whether the post has a usable (non-error) analysis.
// An analysis that recorded only an error marker does not count.
func (p Post) Analyzed() bool {
	return p.Analysis != nil && p.Analysis.Description != "" && p.Analysis.Error == ""
}

// Profile associates a scraped account with the tenant that owns its
// indexed vectors. RecipientID scopes search; it is recorded when a scrape
// is admitted and read back at sync time.
type Profile struct {
	Username    string `json:"username" bson:"username"`
	RecipientID string `json:"recipient_id" bson:"recipient_id"`
}
