// Package scraper fetches paginated posts for a profile from the upstream
// content API, normalizes them, and persists them through the metadata
// store while reporting progress to the status tracker.
package scraper

import (
	"time"

	"github.com/shopassist-ai/engine/engine/domain"
)

// Page is one page of upstream results. An empty PaginationToken means the
// source is exhausted.
type Page struct {
	Items           []Item
	PaginationToken string
}

// Item mirrors the upstream post payload.
type Item struct {
	ID            string         `json:"id"`
	Code          string         `json:"code"`
	Caption       caption        `json:"caption"`
	TakenAt       int64          `json:"taken_at"`
	MediaName     string         `json:"media_name"`
	ThumbnailURL  string         `json:"thumbnail_url"`
	VideoURL      string         `json:"video_url"`
	CarouselMedia []CarouselItem `json:"carousel_media"`
}

// CarouselItem is one child of an album post.
type CarouselItem struct {
	ThumbnailURL string `json:"thumbnail_url"`
}

type caption struct {
	Text string `json:"text"`
}

// Normalize converts an upstream item into a Post. Albums expand into one
// media URL per child in child order; a video URL wins over a thumbnail;
// everything else is a single image.
func Normalize(username string, it Item) domain.Post {
	p := domain.Post{
		ID:        it.ID,
		Username:  username,
		Caption:   it.Caption.Text,
		TakenAt:   time.Unix(it.TakenAt, 0).UTC(),
		Permalink: permalink(it.Code),
	}

	switch {
	case it.MediaName == "album" && len(it.CarouselMedia) > 0:
		p.MediaType = domain.MediaAlbum
		p.MediaURLs = make([]string, 0, len(it.CarouselMedia))
		for _, child := range it.CarouselMedia {
			p.MediaURLs = append(p.MediaURLs, child.ThumbnailURL)
		}
	case it.VideoURL != "":
		p.MediaType = domain.MediaVideo
		p.MediaURLs = []string{it.VideoURL}
	default:
		p.MediaType = domain.MediaImage
		p.MediaURLs = []string{it.ThumbnailURL}
	}
	return p
}

func permalink(code string) string {
	if code == "" {
		return ""
	}
	return "https://www.instagram.com/p/" + code + "/"
}
