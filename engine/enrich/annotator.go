// Package enrich runs AI analysis jobs: it annotates stored posts with a
// generated description, style, and mood, and writes the results back to
// the metadata store.
package enrich

import "context"

// Annotation is the generated analysis for a single image.
type Annotation struct {
	Description string `json:"description"`
	Style       string `json:"style"`
	Mood        string `json:"mood"`
}

// Annotator produces an Annotation for one image. The caption gives the
// model context; it may be empty.
type Annotator interface {
	Annotate(ctx context.Context, imageURL, caption string) (Annotation, error)
}
