package nav

import (
	"cmp"
	"math"
	"slices"
	"strings"

	"pkt.systems/crmdesk/schema"
)

// MenuInput is the latest snapshot of the data a menu is derived from.
// A nil Modules or Permissions slice means the data is not available yet.
type MenuInput struct {
	Modules     []schema.Module
	Permissions []schema.PermissionAttribute
	CompanyID   schema.CompanyID
}

// MenuResolver derives ordered sidebar entries from modules and permissions.
// It is immutable after construction and safe for concurrent use.
type MenuResolver struct {
	routes        map[string]schema.ModuleRoute
	lead          schema.LeadOverride
	leadModule    string
	leadCompanies map[schema.CompanyID]struct{}
	defaultLabel  string
}

// NewMenuResolver builds a resolver from a normalized navigation config.
func NewMenuResolver(cfg schema.NavConfig) *MenuResolver {
	r := &MenuResolver{
		routes:        make(map[string]schema.ModuleRoute, len(cfg.Modules)),
		lead:          cfg.LeadOverride,
		leadModule:    schema.CanonicalModuleName(cfg.LeadOverride.Module),
		leadCompanies: make(map[schema.CompanyID]struct{}, len(cfg.LeadOverride.CompanyIDs)),
		defaultLabel:  cfg.DefaultLabel,
	}
	for _, m := range cfg.Modules {
		r.routes[schema.CanonicalModuleName(m.Name)] = m
	}
	if !cfg.LeadOverride.IsEnabled() {
		r.leadModule = ""
	}
	for _, id := range cfg.LeadOverride.CompanyIDs {
		r.leadCompanies[id] = struct{}{}
	}
	return r
}

// Resolve returns the menu for in. Missing data yields an empty menu.
func (r *MenuResolver) Resolve(in MenuInput) []schema.MenuEntry {
	entries := []schema.MenuEntry{}
	if in.Modules == nil || in.Permissions == nil {
		return entries
	}

	allowed := make(map[schema.ModuleID]struct{}, len(in.Permissions))
	for _, perm := range in.Permissions {
		if perm.Active {
			allowed[perm.ModuleID] = struct{}{}
		}
	}

	modules := make([]schema.Module, 0, len(in.Modules))
	for _, m := range in.Modules {
		if _, ok := allowed[m.ID]; ok {
			modules = append(modules, m)
		}
	}

	slices.SortStableFunc(modules, func(a, b schema.Module) int {
		return cmp.Compare(r.priority(a.Name), r.priority(b.Name))
	})

	ownLeads := r.ownLeads(in)
	for _, m := range modules {
		key := schema.CanonicalModuleName(m.Name)
		route := r.routes[key]
		entry := schema.MenuEntry{
			ID:    m.ID,
			Label: strings.TrimSpace(m.Name),
			Route: route.Route,
			Icon:  route.Icon,
		}
		if route.Label != "" {
			entry.Label = route.Label
		}
		if ownLeads && key == r.leadModule {
			entry.Label = r.lead.Label
			entry.Route = r.lead.Route
		}
		if entry.Route == "" || entry.Icon == "" {
			continue
		}
		entries = append(entries, entry)
	}
	return entries
}

// DefaultEntry returns the entry whose label matches the configured default.
func (r *MenuResolver) DefaultEntry(entries []schema.MenuEntry) (schema.MenuEntry, bool) {
	for _, entry := range entries {
		if strings.EqualFold(entry.Label, r.defaultLabel) {
			return entry, true
		}
	}
	return schema.MenuEntry{}, false
}

func (r *MenuResolver) priority(name string) int {
	route, ok := r.routes[schema.CanonicalModuleName(name)]
	if !ok {
		return math.MaxInt
	}
	return route.Priority
}

func (r *MenuResolver) ownLeads(in MenuInput) bool {
	if r.leadModule == "" || r.lead.Route == "" {
		return false
	}
	if _, ok := r.leadCompanies[in.CompanyID]; ok {
		return true
	}
	if r.lead.AttributeKey == "" {
		return false
	}
	for _, perm := range in.Permissions {
		if perm.AttributeKey == r.lead.AttributeKey && perm.AttributeValue == r.lead.AttributeValue {
			return true
		}
	}
	return false
}
