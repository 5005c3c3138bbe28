package domain

import (
	"fmt"
	"strings"
)

const maxUsernameLen = 30

// ValidateUsername checks that a profile handle is plausible: non-empty,
// at most 30 characters, limited to the handle charset.
func ValidateUsername(username string) error {
	if username == "" {
		return fmt.Errorf("%w: username is required", ErrInvalidArgument)
	}
	if len(username) > maxUsernameLen {
		return fmt.Errorf("%w: username %q exceeds %d characters", ErrInvalidArgument, username, maxUsernameLen)
	}
	for _, r := range username {
		if !isHandleRune(r) {
			return fmt.Errorf("%w: username %q contains invalid character %q", ErrInvalidArgument, username, r)
		}
	}
	return nil
}

func isHandleRune(r rune) bool {
	switch {
	case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9':
		return true
	case r == '.' || r == '_':
		return true
	}
	return false
}

// ValidatePost checks the invariants a normalized post must satisfy before
// it is written to the metadata store.
func ValidatePost(p Post) error {
	if strings.TrimSpace(p.ID) == "" {
		return fmt.Errorf("%w: post id is required", ErrInvalidArgument)
	}
	if err := ValidateUsername(p.Username); err != nil {
		return err
	}
	switch p.MediaType {
	case MediaImage, MediaVideo, MediaAlbum:
	default:
		return fmt.Errorf("%w: unknown media type %q", ErrInvalidArgument, p.MediaType)
	}
	return nil
}
