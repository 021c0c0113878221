package schema

// UserID identifies a user in the system.
type UserID string

// SessionID identifies an authenticated browser session.
type SessionID string

// Path is a route path. It identifies both a view and a tab slot.
type Path string

// ModuleID identifies an externally defined module.
type ModuleID int64

// CompanyID identifies the company a user belongs to.
type CompanyID int64

// Tab is an open workspace view keyed by its path.
type Tab struct {
	Path  Path   `json:"path"`
	Label string `json:"label"`
}

// Module is one record of the upstream module list.
type Module struct {
	ID   ModuleID `json:"module_id" yaml:"module_id"`
	Name string   `json:"module_name" yaml:"module_name"`
}

// PermissionAttribute gates a module for a user.
type PermissionAttribute struct {
	ModuleID       ModuleID `json:"module_id" yaml:"module_id" mapstructure:"module_id"`
	Active         bool     `json:"active" yaml:"active" mapstructure:"active"`
	AttributeKey   string   `json:"attribute_key,omitempty" yaml:"attribute_key,omitempty" mapstructure:"attribute_key"`
	AttributeValue string   `json:"attribute_value,omitempty" yaml:"attribute_value,omitempty" mapstructure:"attribute_value"`
}

// SessionProfile is the cached per-session identity used for menu resolution.
type SessionProfile struct {
	UserID      UserID                `json:"user"`
	CompanyID   CompanyID             `json:"company_id"`
	Permissions []PermissionAttribute `json:"permissions"`
}

// MenuEntry is a navigable sidebar item derived from permitted modules.
type MenuEntry struct {
	ID    ModuleID `json:"id"`
	Label string   `json:"label"`
	Route Path     `json:"route"`
	Icon  string   `json:"icon"`
}

// MenuStatus describes the load state of a workspace menu.
type MenuStatus string

const (
	// MenuIdle indicates no load has been started.
	MenuIdle MenuStatus = "idle"
	// MenuLoading indicates module or profile data is in flight.
	MenuLoading MenuStatus = "loading"
	// MenuReady indicates the menu was resolved from fresh data.
	MenuReady MenuStatus = "ready"
	// MenuFailed indicates the last load failed.
	MenuFailed MenuStatus = "failed"
)

// ViewKind tags the view rendered for the active path.
type ViewKind string

const (
	// ViewRoute is a registered view for the active path.
	ViewRoute ViewKind = "route"
	// ViewNotFound is rendered when the active path has no registered view.
	ViewNotFound ViewKind = "not_found"
	// ViewPlaceholder is rendered when no tab is active.
	ViewPlaceholder ViewKind = "placeholder"
)

// View describes what the content area renders.
type View struct {
	Kind  ViewKind `json:"kind"`
	Name  string   `json:"name"`
	Path  Path     `json:"path,omitempty"`
	Title string   `json:"title"`
}

// WorkspaceSnapshot is a read-only view of a workspace for transports.
type WorkspaceSnapshot struct {
	Tabs       []Tab       `json:"tabs"`
	ActivePath Path        `json:"active"`
	HomePath   Path        `json:"home"`
	Menu       []MenuEntry `json:"menu"`
	MenuStatus MenuStatus  `json:"menu_status"`
	MenuError  string      `json:"menu_error,omitempty"`
}
