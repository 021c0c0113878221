package nav

import (
	"slices"

	"pkt.systems/crmdesk/schema"
)

// TrackerState is the sync state between the active path and the host location.
type TrackerState int

const (
	// TrackerSynced means the host location matches the last requested navigation.
	TrackerSynced TrackerState = iota
	// TrackerNavigating means a navigation was requested but not yet observed.
	TrackerNavigating
)

func (s TrackerState) String() string {
	switch s {
	case TrackerSynced:
		return "synced"
	case TrackerNavigating:
		return "navigating"
	default:
		return "unknown"
	}
}

// ObserveResult classifies a location reported by the host.
type ObserveResult int

const (
	// ObserveUnchanged is a repeat of the known location.
	ObserveUnchanged ObserveResult = iota
	// ObserveConfirmed completes the pending navigation.
	ObserveConfirmed
	// ObserveIgnored is an intermediate or stale location seen while navigating.
	ObserveIgnored
	// ObserveExternal is a change the host made on its own (back/forward, typed URL).
	// While navigating it also abandons the in-flight requests.
	ObserveExternal
)

func (r ObserveResult) String() string {
	switch r {
	case ObserveUnchanged:
		return "unchanged"
	case ObserveConfirmed:
		return "confirmed"
	case ObserveIgnored:
		return "ignored"
	case ObserveExternal:
		return "external"
	default:
		return "unknown"
	}
}

// Tracker holds the single active path and the last known host location.
//
// Tracker is not safe for concurrent use; Workspace serializes access.
type Tracker struct {
	state    TrackerState
	active   schema.Path
	location schema.Path
	// inflight holds requested navigations the host has not reported yet,
	// oldest first. Hosts apply navigations in order.
	inflight []schema.Path
	// stale is set when the host reported its previous location after the
	// last navigation request was issued.
	stale bool
}

// NewTracker returns a synced tracker at the given host location.
func NewTracker(location schema.Path) *Tracker {
	return &Tracker{location: location}
}

// SetActive records path as the active path and reports whether the host
// must navigate. While a navigation is in flight the pending target, not the
// stale location, is the reference; a repeat request for the same target is
// absorbed and a different one retargets the navigation. A repeat request
// after the host reported its old location again re-issues the navigation.
// An empty path clears the active path without navigating.
func (t *Tracker) SetActive(path schema.Path) bool {
	t.active = path
	if path == "" {
		return false
	}
	if path == t.effectiveLocation() {
		if t.state == TrackerNavigating && t.stale {
			t.stale = false
			return true
		}
		return false
	}
	t.inflight = append(t.inflight, path)
	t.state = TrackerNavigating
	t.stale = false
	return true
}

// Observe records a location reported by the host. While navigating, each
// report settles the in-flight requests up to the first one it matches; only
// the report for the final target returns to Synced. A repeat of the old
// location is ignored. Any other location means the host moved elsewhere:
// the in-flight requests are dropped and the change is external.
func (t *Tracker) Observe(location schema.Path) ObserveResult {
	if t.state == TrackerNavigating {
		i := slices.Index(t.inflight, location)
		if i < 0 {
			if location == t.location {
				t.stale = true
				return ObserveIgnored
			}
			t.settle()
			t.location = location
			return ObserveExternal
		}
		t.location = location
		t.inflight = t.inflight[i+1:]
		if len(t.inflight) > 0 {
			return ObserveIgnored
		}
		t.settle()
		return ObserveConfirmed
	}
	if location == t.location {
		return ObserveUnchanged
	}
	t.location = location
	return ObserveExternal
}

// Current returns the active path.
func (t *Tracker) Current() schema.Path {
	return t.active
}

// Location returns the last location the host reported.
func (t *Tracker) Location() schema.Path {
	return t.location
}

// Pending returns the final in-flight navigation target, if any.
func (t *Tracker) Pending() schema.Path {
	if len(t.inflight) == 0 {
		return ""
	}
	return t.inflight[len(t.inflight)-1]
}

// State returns the current sync state.
func (t *Tracker) State() TrackerState {
	return t.state
}

func (t *Tracker) settle() {
	t.inflight = nil
	t.stale = false
	t.state = TrackerSynced
}

func (t *Tracker) effectiveLocation() schema.Path {
	if t.state == TrackerNavigating {
		return t.Pending()
	}
	return t.location
}
