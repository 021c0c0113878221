package nav

import (
	"testing"

	"github.com/google/go-cmp/cmp"

	"pkt.systems/crmdesk/schema"
)

func TestMemoryRouterHistory(t *testing.T) {
	r := NewMemoryRouter("/a")
	var seen []schema.Path
	unsubscribe := r.Subscribe(func(p schema.Path) { seen = append(seen, p) })

	r.Navigate("/b")
	r.Navigate("/c")
	if !r.Back() || r.Location() != "/b" {
		t.Fatalf("expected back to /b, got %q", r.Location())
	}
	r.Navigate("/d")
	if r.Forward() {
		t.Fatalf("expected forward history to be dropped after navigate")
	}
	if diff := cmp.Diff([]schema.Path{"/a", "/b", "/d"}, r.History()); diff != "" {
		t.Fatalf("history mismatch (-want +got):\n%s", diff)
	}

	unsubscribe()
	r.Back()
	if diff := cmp.Diff([]schema.Path{"/b", "/c", "/b", "/d"}, seen); diff != "" {
		t.Fatalf("notifications mismatch (-want +got):\n%s", diff)
	}
}

func TestMemoryRouterBackAtStart(t *testing.T) {
	r := NewMemoryRouter("")
	if r.Back() {
		t.Fatalf("expected no back move at the start of history")
	}
}

func TestBridgeCloseUnsubscribes(t *testing.T) {
	r := NewMemoryRouter("")
	calls := 0
	b := newBridge(r, func(schema.Path) { calls++ })
	b.Push("/a")
	b.Close()
	b.Close()
	r.Navigate("/b")
	if calls != 1 {
		t.Fatalf("expected one notification before close, got %d", calls)
	}
}

func TestBridgePushIgnoresEmptyPath(t *testing.T) {
	r := NewMemoryRouter("/a")
	b := newBridge(r, nil)
	b.Push("")
	if got := len(r.History()); got != 1 {
		t.Fatalf("expected no navigation, got history of %d", got)
	}
}
