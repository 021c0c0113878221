package nav

import (
	"testing"

	"pkt.systems/crmdesk/schema"
)

func TestTrackerSkipsRedundantNavigation(t *testing.T) {
	tr := NewTracker("/leaddashboard")
	if tr.SetActive("/leaddashboard") {
		t.Fatalf("expected no navigation when the path matches the location")
	}
	if tr.State() != TrackerSynced {
		t.Fatalf("expected synced, got %s", tr.State())
	}
	if tr.Current() != "/leaddashboard" {
		t.Fatalf("expected active path to be recorded, got %q", tr.Current())
	}
}

func TestTrackerNavigatesThenConfirms(t *testing.T) {
	tr := NewTracker("/leaddashboard")
	if !tr.SetActive("/reports") {
		t.Fatalf("expected navigation request")
	}
	if tr.State() != TrackerNavigating || tr.Pending() != "/reports" {
		t.Fatalf("expected navigating to /reports, got %s pending %q", tr.State(), tr.Pending())
	}
	if got := tr.Observe("/reports"); got != ObserveConfirmed {
		t.Fatalf("expected confirmed, got %s", got)
	}
	if tr.State() != TrackerSynced || tr.Location() != "/reports" {
		t.Fatalf("expected synced at /reports, got %s at %q", tr.State(), tr.Location())
	}
}

func TestTrackerRapidRequestsRetarget(t *testing.T) {
	tr := NewTracker("/a")
	if !tr.SetActive("/b") {
		t.Fatalf("expected navigation to /b")
	}
	if tr.SetActive("/b") {
		t.Fatalf("expected repeat request for the pending target to be absorbed")
	}
	if !tr.SetActive("/c") {
		t.Fatalf("expected retarget to /c")
	}
	if got := tr.Observe("/b"); got != ObserveIgnored {
		t.Fatalf("expected intermediate location to be ignored, got %s", got)
	}
	if tr.Current() != "/c" {
		t.Fatalf("expected active to stay /c, got %q", tr.Current())
	}
	if got := tr.Observe("/c"); got != ObserveConfirmed {
		t.Fatalf("expected confirmation at /c, got %s", got)
	}
}

func TestTrackerInOrderReportsDoNotFlicker(t *testing.T) {
	tr := NewTracker("")
	tr.SetActive("/a")
	tr.SetActive("/b")
	tr.SetActive("/a")
	for _, loc := range []schema.Path{"/a", "/b"} {
		if got := tr.Observe(loc); got != ObserveIgnored {
			t.Fatalf("report %s: expected ignored, got %s", loc, got)
		}
		if tr.State() != TrackerNavigating {
			t.Fatalf("report %s: expected to keep navigating", loc)
		}
	}
	if got := tr.Observe("/a"); got != ObserveConfirmed {
		t.Fatalf("expected final report to confirm, got %s", got)
	}
	if tr.Current() != "/a" {
		t.Fatalf("expected active /a, got %q", tr.Current())
	}
}

func TestTrackerUnknownLocationWhileNavigatingIsExternal(t *testing.T) {
	tr := NewTracker("/a")
	tr.SetActive("/b")
	if got := tr.Observe("/elsewhere"); got != ObserveExternal {
		t.Fatalf("expected external, got %s", got)
	}
	if tr.State() != TrackerSynced || tr.Pending() != "" {
		t.Fatalf("expected in-flight navigation to be dropped, got %s pending %q", tr.State(), tr.Pending())
	}
	if tr.Location() != "/elsewhere" {
		t.Fatalf("expected location to be recorded, got %q", tr.Location())
	}
	if !tr.SetActive("/b") {
		t.Fatalf("expected /b to navigate again after the host moved away")
	}
}

func TestTrackerStaleLocationWhileNavigating(t *testing.T) {
	tr := NewTracker("/a")
	tr.SetActive("/b")
	if got := tr.Observe("/a"); got != ObserveIgnored {
		t.Fatalf("expected stale report to be ignored, got %s", got)
	}
	if tr.State() != TrackerNavigating || tr.Pending() != "/b" {
		t.Fatalf("expected /b to remain pending, got %s pending %q", tr.State(), tr.Pending())
	}
	if !tr.SetActive("/b") {
		t.Fatalf("expected repeat request to re-issue the navigation")
	}
	if tr.SetActive("/b") {
		t.Fatalf("expected second repeat without a new report to be absorbed")
	}
	if got := tr.Observe("/b"); got != ObserveConfirmed {
		t.Fatalf("expected confirmation at /b, got %s", got)
	}
}

func TestTrackerReturnToLocationWhileNavigating(t *testing.T) {
	tr := NewTracker("/a")
	tr.SetActive("/b")
	if !tr.SetActive("/a") {
		t.Fatalf("expected navigation back to /a while /b is pending")
	}
	if tr.Pending() != "/a" {
		t.Fatalf("expected pending /a, got %q", tr.Pending())
	}
}

func TestTrackerExternalChange(t *testing.T) {
	tr := NewTracker("/a")
	if got := tr.Observe("/a"); got != ObserveUnchanged {
		t.Fatalf("expected unchanged, got %s", got)
	}
	if got := tr.Observe("/b"); got != ObserveExternal {
		t.Fatalf("expected external, got %s", got)
	}
	if tr.Location() != "/b" {
		t.Fatalf("expected location /b, got %q", tr.Location())
	}
}

func TestTrackerClearActive(t *testing.T) {
	tr := NewTracker("/a")
	tr.SetActive("/a")
	if tr.SetActive("") {
		t.Fatalf("expected clearing the active path not to navigate")
	}
	if tr.Current() != "" {
		t.Fatalf("expected empty active path, got %q", tr.Current())
	}
}
