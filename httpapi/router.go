package httpapi

import (
	"sync"

	"pkt.systems/crmdesk/schema"
)

// clientRouter is the nav.Router of a browser session. Navigations are
// published as "navigate" stream events; the browser reports where it
// landed through POST /api/location.
type clientRouter struct {
	hub       *Hub
	userID    schema.UserID
	sessionID schema.SessionID

	mu       sync.Mutex
	location schema.Path
}

func (r *clientRouter) Navigate(path schema.Path) {
	r.mu.Lock()
	r.location = path
	r.mu.Unlock()
	r.hub.OnNavEvent(schema.NavEvent{
		UserID:    r.userID,
		SessionID: r.sessionID,
		Type:      schema.NavEventNavigate,
		Path:      path,
	})
}

// Location returns the last requested path. The browser's own location is
// only known through reports.
func (r *clientRouter) Location() schema.Path {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.location
}

// Subscribe is a no-op: reports reach the workspace through the service.
func (r *clientRouter) Subscribe(func(schema.Path)) func() {
	return func() {}
}
