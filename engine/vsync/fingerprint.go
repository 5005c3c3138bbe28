package vsync

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"strconv"
	"strings"

	"github.com/google/uuid"

	"github.com/shopassist-ai/engine/engine/domain"
)

// PointID derives the deterministic vector point ID for a post. The same
// post always maps to the same point, which is what makes sync idempotent.
func PointID(username, postID string) string {
	return uuid.NewSHA1(uuid.NameSpaceURL, []byte(username+"/"+postID)).String()
}

// Content builds the text that gets embedded for a post. A post without an
// analysis contributes empty analysis fields rather than failing.
func Content(p domain.Post) string {
	a := analysisOrZero(p)
	var b strings.Builder
	fmt.Fprintf(&b, "content: %s", a.Description)
	if a.Style != "" {
		fmt.Fprintf(&b, " style: %s", a.Style)
	}
	if a.Mood != "" {
		fmt.Fprintf(&b, " mood: %s", a.Mood)
	}
	if p.Caption != "" {
		fmt.Fprintf(&b, " caption: %s", p.Caption)
	}
	return b.String()
}

// Fingerprint hashes the fields that feed the embedding. A post whose
// fingerprint matches the stored one needs no re-embedding. The separator
// keeps adjacent fields from colliding.
func Fingerprint(p domain.Post) string {
	a := analysisOrZero(p)
	h := sha256.New()
	fields := []string{
		p.Caption,
		a.Description,
		a.Style,
		a.Mood,
		strconv.FormatInt(p.TakenAt.Unix(), 10),
	}
	h.Write([]byte(strings.Join(fields, "\x1f")))
	return hex.EncodeToString(h.Sum(nil))
}

func analysisOrZero(p domain.Post) domain.AIAnalysis {
	if p.Analysis == nil {
		return domain.AIAnalysis{}
	}
	return *p.Analysis
}
