package httpapi

import (
	"context"
	"sync"
	"time"

	"pkt.systems/crmdesk/internal/logx"
	"pkt.systems/crmdesk/nav"
	"pkt.systems/crmdesk/schema"
)

// StreamEvent is sent to SSE clients.
type StreamEvent struct {
	Seq        uint64                    `json:"seq"`
	Type       string                    `json:"type"`
	Path       schema.Path               `json:"path,omitempty"`
	Tab        *schema.Tab               `json:"tab,omitempty"`
	Tabs       []schema.Tab              `json:"tabs,omitempty"`
	ActivePath schema.Path               `json:"active,omitempty"`
	Menu       []schema.MenuEntry        `json:"menu,omitempty"`
	MenuStatus schema.MenuStatus         `json:"menu_status,omitempty"`
	MenuError  string                    `json:"menu_error,omitempty"`
	Snapshot   *schema.WorkspaceSnapshot `json:"snapshot,omitempty"`
	Timestamp  time.Time                 `json:"timestamp"`
}

// Hub broadcasts workspace events per login session.
type Hub struct {
	mu          sync.Mutex
	sessions    map[schema.SessionID]*sessionHub
	historySize int
}

// NewHub constructs a hub with the given history size.
func NewHub(historySize int) *Hub {
	if historySize <= 0 {
		historySize = 256
	}
	return &Hub{
		sessions:    make(map[schema.SessionID]*sessionHub),
		historySize: historySize,
	}
}

// OnNavEvent implements nav.EventSink.
func (h *Hub) OnNavEvent(event schema.NavEvent) {
	log := logx.WithUserSession(context.Background(), event.UserID, event.SessionID)
	log.Trace("hub nav event", "type", event.Type, "path", event.Path, "active", event.ActivePath)
	out := StreamEvent{
		Type:       string(event.Type),
		Path:       event.Path,
		Tabs:       event.Tabs,
		ActivePath: event.ActivePath,
		Timestamp:  time.Now(),
	}
	if event.Tab.Path != "" {
		tab := event.Tab
		out.Tab = &tab
	}
	if event.Type == schema.NavEventMenu {
		out.Menu = event.Menu
		if out.Menu == nil {
			out.Menu = []schema.MenuEntry{}
		}
		out.MenuStatus = event.MenuStatus
		out.MenuError = event.MenuError
	}
	h.publish(event.SessionID, out)
}

// RouterFor implements nav.RouterProvider. The returned router forwards
// navigations to the session's stream subscribers.
func (h *Hub) RouterFor(userID schema.UserID, sessionID schema.SessionID) nav.Router {
	return &clientRouter{hub: h, userID: userID, sessionID: sessionID}
}

// Subscribe registers a subscriber for a session.
func (h *Hub) Subscribe(userID schema.UserID, sessionID schema.SessionID) (<-chan StreamEvent, func()) {
	h.mu.Lock()
	defer h.mu.Unlock()
	sh := h.getOrCreateLocked(sessionID)
	ch := make(chan StreamEvent, 256)
	sh.subs[ch] = struct{}{}
	log := logx.WithUserSession(context.Background(), userID, sessionID)
	log.Info("hub subscribe", "subs", len(sh.subs), "history", len(sh.history))
	var once sync.Once
	unsub := func() {
		once.Do(func() {
			h.mu.Lock()
			if _, ok := sh.subs[ch]; ok {
				delete(sh.subs, ch)
				close(ch)
			}
			remaining := len(sh.subs)
			h.mu.Unlock()
			log.Info("hub unsubscribe", "subs", remaining)
		})
	}
	return ch, unsub
}

// Seq returns the last sequence number published for a session.
func (h *Hub) Seq(sessionID schema.SessionID) uint64 {
	h.mu.Lock()
	defer h.mu.Unlock()
	if sh := h.sessions[sessionID]; sh != nil {
		return sh.seq
	}
	return 0
}

// Replay returns events after the provided seq. ok is false when the
// history no longer reaches back to after.
func (h *Hub) Replay(sessionID schema.SessionID, after uint64) (events []StreamEvent, ok bool) {
	h.mu.Lock()
	defer h.mu.Unlock()
	sh := h.sessions[sessionID]
	if sh == nil {
		return nil, false
	}
	if after > sh.seq {
		return nil, false
	}
	if len(sh.history) > 0 && sh.history[0].Seq > after+1 {
		return nil, false
	}
	events = make([]StreamEvent, 0, len(sh.history))
	for _, event := range sh.history {
		if event.Seq > after {
			events = append(events, event)
		}
	}
	return events, true
}

// Drop closes every subscriber of a session and forgets its history.
func (h *Hub) Drop(sessionID schema.SessionID) {
	h.mu.Lock()
	sh := h.sessions[sessionID]
	delete(h.sessions, sessionID)
	if sh != nil {
		for ch := range sh.subs {
			delete(sh.subs, ch)
			close(ch)
		}
	}
	h.mu.Unlock()
}

func (h *Hub) publish(sessionID schema.SessionID, event StreamEvent) {
	h.mu.Lock()
	sh := h.getOrCreateLocked(sessionID)
	sh.seq++
	event.Seq = sh.seq
	sh.history = append(sh.history, event)
	if len(sh.history) > h.historySize {
		sh.history = sh.history[len(sh.history)-h.historySize:]
	}
	dropped := 0
	for sub := range sh.subs {
		select {
		case sub <- event:
		default:
			dropped++
		}
	}
	h.mu.Unlock()

	if dropped > 0 {
		logx.Ctx(context.Background()).Warn("hub event dropped", "session", sessionID, "type", event.Type, "dropped", dropped)
	}
}

func (h *Hub) getOrCreateLocked(sessionID schema.SessionID) *sessionHub {
	sh := h.sessions[sessionID]
	if sh == nil {
		sh = &sessionHub{
			subs: make(map[chan StreamEvent]struct{}),
		}
		h.sessions[sessionID] = sh
	}
	return sh
}

type sessionHub struct {
	seq     uint64
	history []StreamEvent
	subs    map[chan StreamEvent]struct{}
}
