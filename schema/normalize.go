package schema

import (
	"path"
	"strings"
	"unicode"
)

// ValidateUserID ensures a user id matches [a-z0-9._-] with no normalization.
func ValidateUserID(userID UserID) error {
	raw := string(userID)
	if raw == "" {
		return ErrInvalidUser
	}
	if strings.TrimSpace(raw) != raw {
		return ErrInvalidUser
	}
	for _, r := range raw {
		if r >= 'a' && r <= 'z' {
			continue
		}
		if r >= '0' && r <= '9' {
			continue
		}
		if r == '.' || r == '_' || r == '-' {
			continue
		}
		return ErrInvalidUser
	}
	return nil
}

// ValidateSessionID ensures a session id is non-empty printable ASCII without spaces.
func ValidateSessionID(sessionID SessionID) error {
	raw := string(sessionID)
	if raw == "" || len(raw) > 128 {
		return ErrInvalidSession
	}
	for _, r := range raw {
		if r <= ' ' || r > '~' {
			return ErrInvalidSession
		}
	}
	return nil
}

// NormalizePath validates and cleans a route path.
// Query strings and fragments are dropped; the result always starts with '/'.
func NormalizePath(raw string) (Path, error) {
	trimmed := strings.TrimSpace(raw)
	if i := strings.IndexAny(trimmed, "?#"); i >= 0 {
		trimmed = trimmed[:i]
	}
	if trimmed == "" || !strings.HasPrefix(trimmed, "/") {
		return "", ErrInvalidPath
	}
	for _, r := range trimmed {
		if unicode.IsSpace(r) || unicode.IsControl(r) {
			return "", ErrInvalidPath
		}
	}
	return Path(path.Clean(trimmed)), nil
}
