package nav

import (
	"sync"

	"pkt.systems/crmdesk/schema"
)

// ViewFactory builds the view rendered for a registered path.
type ViewFactory func(path schema.Path) schema.View

// StaticView returns a factory for a fixed named view.
func StaticView(name, title string) ViewFactory {
	return func(path schema.Path) schema.View {
		return schema.View{Kind: schema.ViewRoute, Name: name, Path: path, Title: title}
	}
}

// ViewTable maps route paths to view factories.
type ViewTable struct {
	mu    sync.RWMutex
	views map[schema.Path]ViewFactory
}

// NewViewTable returns an empty table.
func NewViewTable() *ViewTable {
	return &ViewTable{views: make(map[schema.Path]ViewFactory)}
}

// DefaultViewTable returns the table of built-in CRM views.
func DefaultViewTable() *ViewTable {
	t := NewViewTable()
	t.Register("/leaddashboard", StaticView("dashboard", "Dashboard"))
	t.Register("/leadcardview", StaticView("leads", "Leads"))
	t.Register("/xcodefix_leadcardview", StaticView("my_leads", "My Leads"))
	t.Register("/companyview", StaticView("companies", "Companies"))
	t.Register("/customerview", StaticView("customers", "Customers"))
	t.Register("/reminder", StaticView("reminders", "Reminders"))
	t.Register("/tasks", StaticView("tasks", "Tasks"))
	t.Register("/reports", StaticView("reports", "Reports"))
	t.Register("/calculator", StaticView("calculator", "Calculator"))
	t.Register("/poster", StaticView("poster", "Poster"))
	t.Register("/distance", StaticView("distance_map", "Distance to Client"))
	t.Register("/chatbot", StaticView("chatbot", "Chatbot"))
	return t
}

// Register binds path to factory, replacing any previous binding.
func (t *ViewTable) Register(path schema.Path, factory ViewFactory) {
	if path == "" || factory == nil {
		return
	}
	t.mu.Lock()
	t.views[path] = factory
	t.mu.Unlock()
}

// Resolve returns the view for the active path. An empty path yields the
// placeholder view and an unregistered path yields the not-found view.
func (t *ViewTable) Resolve(active schema.Path) schema.View {
	if active == "" {
		return schema.View{Kind: schema.ViewPlaceholder, Name: "placeholder", Title: "Select a tab"}
	}
	t.mu.RLock()
	factory := t.views[active]
	t.mu.RUnlock()
	if factory == nil {
		return schema.View{Kind: schema.ViewNotFound, Name: "not_found", Path: active, Title: "Page not found"}
	}
	return factory(active)
}
