package nav

import "pkt.systems/crmdesk/schema"

// EventSink receives workspace navigation events from the service.
type EventSink interface {
	OnNavEvent(event schema.NavEvent)
}

// RouterProvider supplies the host router for a new session workspace.
type RouterProvider interface {
	RouterFor(userID schema.UserID, sessionID schema.SessionID) Router
}
