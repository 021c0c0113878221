package nav

import (
	"sync"

	"pkt.systems/crmdesk/schema"
)

// Router is the host capability the workspace navigates through.
type Router interface {
	// Navigate asks the host to move to path. Implementations may report the
	// resulting location synchronously through subscribers.
	Navigate(path schema.Path)
	// Location returns the host's current location.
	Location() schema.Path
	// Subscribe registers fn for location changes and returns a func that
	// removes it.
	Subscribe(fn func(schema.Path)) (unsubscribe func())
}

// Bridge connects a workspace to its host router. Forward pushes are made
// without holding workspace state so routers may call back synchronously.
type Bridge struct {
	router Router

	mu          sync.Mutex
	unsubscribe func()
}

func newBridge(router Router, onLocation func(schema.Path)) *Bridge {
	b := &Bridge{router: router}
	if onLocation != nil {
		b.unsubscribe = router.Subscribe(onLocation)
	}
	return b
}

// Push forwards an active path change to the host.
func (b *Bridge) Push(path schema.Path) {
	if b == nil || path == "" {
		return
	}
	b.router.Navigate(path)
}

// Location returns the host's current location.
func (b *Bridge) Location() schema.Path {
	if b == nil {
		return ""
	}
	return b.router.Location()
}

// Close detaches from the router. It is safe to call more than once.
func (b *Bridge) Close() {
	if b == nil {
		return
	}
	b.mu.Lock()
	unsubscribe := b.unsubscribe
	b.unsubscribe = nil
	b.mu.Unlock()
	if unsubscribe != nil {
		unsubscribe()
	}
}

// MemoryRouter is an in-process history stack. Navigate and the history
// moves notify subscribers synchronously on the calling goroutine.
type MemoryRouter struct {
	mu      sync.Mutex
	history []schema.Path
	index   int
	subs    map[int]func(schema.Path)
	nextSub int
}

// NewMemoryRouter returns a router positioned at initial. An empty initial
// location means the host has not reported one yet.
func NewMemoryRouter(initial schema.Path) *MemoryRouter {
	return &MemoryRouter{
		history: []schema.Path{initial},
		subs:    make(map[int]func(schema.Path)),
	}
}

// Navigate pushes path onto the history, dropping any forward entries.
func (r *MemoryRouter) Navigate(path schema.Path) {
	r.mu.Lock()
	r.history = append(r.history[:r.index+1], path)
	r.index = len(r.history) - 1
	subs := r.subscribersLocked()
	r.mu.Unlock()
	notify(subs, path)
}

// Back moves one entry back in history. It reports whether a move happened.
func (r *MemoryRouter) Back() bool {
	return r.move(-1)
}

// Forward moves one entry forward in history. It reports whether a move happened.
func (r *MemoryRouter) Forward() bool {
	return r.move(1)
}

// Location returns the current history entry.
func (r *MemoryRouter) Location() schema.Path {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.history[r.index]
}

// History returns a copy of the history stack.
func (r *MemoryRouter) History() []schema.Path {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]schema.Path, len(r.history))
	copy(out, r.history)
	return out
}

// Subscribe registers fn for location changes.
func (r *MemoryRouter) Subscribe(fn func(schema.Path)) func() {
	r.mu.Lock()
	id := r.nextSub
	r.nextSub++
	r.subs[id] = fn
	r.mu.Unlock()
	return func() {
		r.mu.Lock()
		delete(r.subs, id)
		r.mu.Unlock()
	}
}

func (r *MemoryRouter) move(delta int) bool {
	r.mu.Lock()
	next := r.index + delta
	if next < 0 || next >= len(r.history) {
		r.mu.Unlock()
		return false
	}
	r.index = next
	path := r.history[next]
	subs := r.subscribersLocked()
	r.mu.Unlock()
	notify(subs, path)
	return true
}

func (r *MemoryRouter) subscribersLocked() []func(schema.Path) {
	subs := make([]func(schema.Path), 0, len(r.subs))
	for _, fn := range r.subs {
		subs = append(subs, fn)
	}
	return subs
}

func notify(subs []func(schema.Path), path schema.Path) {
	for _, fn := range subs {
		fn(path)
	}
}
