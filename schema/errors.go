package schema

import "errors"

var (
	// ErrInvalidRequest indicates a malformed request payload.
	ErrInvalidRequest = errors.New("invalid request")
	// ErrInvalidUser indicates an invalid user identifier.
	ErrInvalidUser = errors.New("invalid user")
	// ErrInvalidSession indicates an invalid session identifier.
	ErrInvalidSession = errors.New("invalid session")
	// ErrSessionNotFound indicates no workspace exists for the session.
	ErrSessionNotFound = errors.New("session not found")
	// ErrSessionExists indicates a workspace is already open for the session.
	ErrSessionExists = errors.New("session already open")
	// ErrInvalidPath indicates a malformed route path.
	ErrInvalidPath = errors.New("invalid path")
	// ErrSourceUnavailable indicates the module source is not configured.
	ErrSourceUnavailable = errors.New("module source not configured")
)
