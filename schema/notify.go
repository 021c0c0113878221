package schema

// NavEventType describes workspace navigation changes.
type NavEventType string

const (
	// NavEventOpened indicates a tab was added.
	NavEventOpened NavEventType = "opened"
	// NavEventClosed indicates a tab was removed.
	NavEventClosed NavEventType = "closed"
	// NavEventActivated indicates the active path changed.
	NavEventActivated NavEventType = "activated"
	// NavEventNavigate asks the host router to move to Path.
	NavEventNavigate NavEventType = "navigate"
	// NavEventLocation indicates the host reported a location change.
	NavEventLocation NavEventType = "location"
	// NavEventMenu indicates the resolved menu or its status changed.
	NavEventMenu NavEventType = "menu"
)

// NavEvent represents a change to a session workspace.
type NavEvent struct {
	UserID     UserID
	SessionID  SessionID
	Type       NavEventType
	Path       Path
	Tab        Tab
	Tabs       []Tab
	ActivePath Path
	Menu       []MenuEntry
	MenuStatus MenuStatus
	MenuError  string
}
