package schema

// Session lifecycle.

// OpenSessionRequest describes a request to open a workspace.
type OpenSessionRequest struct {
	UserID    UserID         `json:"user"`
	SessionID SessionID      `json:"session"`
	Profile   SessionProfile `json:"profile"`
}

// OpenSessionResponse reports the initial workspace state.
type OpenSessionResponse struct {
	Workspace WorkspaceSnapshot `json:"workspace"`
}

// CloseSessionRequest describes a request to tear down a workspace.
type CloseSessionRequest struct {
	UserID    UserID    `json:"user"`
	SessionID SessionID `json:"session"`
}

// CloseSessionResponse reports the closed workspace.
type CloseSessionResponse struct {
	Closed bool `json:"closed"`
}

// Tab operations.

// OpenTabRequest describes a request to open (or focus) a tab.
type OpenTabRequest struct {
	UserID    UserID    `json:"user"`
	SessionID SessionID `json:"session"`
	Path      Path      `json:"path"`
	Label     string    `json:"label"`
}

// OpenTabResponse reports the result of an open.
type OpenTabResponse struct {
	Tab        Tab  `json:"tab"`
	Added      bool `json:"added"`
	ActivePath Path `json:"active"`
}

// CloseTabRequest describes a request to close a tab.
type CloseTabRequest struct {
	UserID    UserID    `json:"user"`
	SessionID SessionID `json:"session"`
	Path      Path      `json:"path"`
}

// CloseTabResponse reports the result of a close.
type CloseTabResponse struct {
	Removed    bool `json:"removed"`
	ActivePath Path `json:"active"`
}

// ActivateTabRequest describes a request to focus an open tab.
type ActivateTabRequest struct {
	UserID    UserID    `json:"user"`
	SessionID SessionID `json:"session"`
	Path      Path      `json:"path"`
}

// ActivateTabResponse reports the active path after activation.
type ActivateTabResponse struct {
	ActivePath Path `json:"active"`
	Changed    bool `json:"changed"`
}

// ListTabsRequest describes a request to list tabs.
type ListTabsRequest struct {
	UserID    UserID    `json:"user"`
	SessionID SessionID `json:"session"`
}

// ListTabsResponse reports tabs and the active path.
type ListTabsResponse struct {
	Tabs       []Tab `json:"tabs"`
	ActivePath Path  `json:"active"`
	HomePath   Path  `json:"home"`
}

// Location sync.

// ReportLocationRequest reports a location observed by the host router.
type ReportLocationRequest struct {
	UserID    UserID    `json:"user"`
	SessionID SessionID `json:"session"`
	Path      Path      `json:"path"`
}

// ReportLocationResponse reports how the location was reconciled.
type ReportLocationResponse struct {
	ActivePath Path `json:"active"`
	Matched    bool `json:"matched"`
}

// Menu.

// GetMenuRequest describes a request for the resolved menu.
type GetMenuRequest struct {
	UserID    UserID    `json:"user"`
	SessionID SessionID `json:"session"`
}

// GetMenuResponse reports the resolved menu and its load status.
type GetMenuResponse struct {
	Entries []MenuEntry `json:"entries"`
	Status  MenuStatus  `json:"status"`
	Error   string      `json:"error,omitempty"`
}

// RefreshMenuRequest describes a request to reload module data.
type RefreshMenuRequest struct {
	UserID    UserID    `json:"user"`
	SessionID SessionID `json:"session"`
	// Profile replaces the cached session profile when set.
	Profile *SessionProfile `json:"profile,omitempty"`
}

// RefreshMenuResponse reports the menu status after the refresh started.
type RefreshMenuResponse struct {
	Status MenuStatus `json:"status"`
}

// Views.

// GetViewRequest describes a request for the active view.
type GetViewRequest struct {
	UserID    UserID    `json:"user"`
	SessionID SessionID `json:"session"`
}

// GetViewResponse reports the view for the active path.
type GetViewResponse struct {
	View View `json:"view"`
}

// GetWorkspaceRequest describes a request for the full workspace state.
type GetWorkspaceRequest struct {
	UserID    UserID    `json:"user"`
	SessionID SessionID `json:"session"`
}

// GetWorkspaceResponse reports the full workspace state.
type GetWorkspaceResponse struct {
	Workspace WorkspaceSnapshot `json:"workspace"`
}
