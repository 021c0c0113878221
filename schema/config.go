package schema

import (
	"fmt"
	"strings"
)

// ModuleRoute maps a canonical module name to its menu presentation.
type ModuleRoute struct {
	// Name is the module name as published upstream. Matching is
	// case-insensitive and ignores surrounding whitespace.
	Name string `mapstructure:"name" yaml:"name"`
	// Priority orders the menu, lowest first. Zero means table position.
	Priority int    `mapstructure:"priority" yaml:"priority"`
	Route    Path   `mapstructure:"route" yaml:"route"`
	Icon     string `mapstructure:"icon" yaml:"icon"`
	// Label overrides the module name when set.
	Label string `mapstructure:"label" yaml:"label,omitempty"`
}

// LeadOverride relabels one module for selected companies or users.
type LeadOverride struct {
	// Enabled switches the rule off when set to false. Unset means enabled.
	Enabled        *bool       `mapstructure:"enabled" yaml:"enabled,omitempty"`
	Module         string      `mapstructure:"module" yaml:"module"`
	CompanyIDs     []CompanyID `mapstructure:"company_ids" yaml:"company_ids"`
	AttributeKey   string      `mapstructure:"attribute_key" yaml:"attribute_key"`
	AttributeValue string      `mapstructure:"attribute_value" yaml:"attribute_value"`
	Label          string      `mapstructure:"label" yaml:"label"`
	Route          Path        `mapstructure:"route" yaml:"route"`
}

// IsEnabled reports whether the rule applies.
func (o LeadOverride) IsEnabled() bool {
	return o.Enabled == nil || *o.Enabled
}

// NavConfig configures menu resolution and the workspace home tab.
type NavConfig struct {
	// HomePath is the permanent tab. Defaults to the route of DefaultLabel.
	HomePath Path `mapstructure:"home_path" yaml:"home_path,omitempty"`
	// DefaultLabel names the menu entry auto-opened into an empty workspace.
	DefaultLabel string        `mapstructure:"default_label" yaml:"default_label"`
	Modules      []ModuleRoute `mapstructure:"modules" yaml:"modules"`
	LeadOverride LeadOverride  `mapstructure:"lead_override" yaml:"lead_override"`
}

const (
	// DefaultMenuLabel is the menu entry opened into a fresh workspace.
	DefaultMenuLabel = "Dashboard"
	// DefaultLeadCompanyID is the company that sees its own lead board.
	DefaultLeadCompanyID CompanyID = 101
)

// DefaultModuleRoutes returns the built-in module table in priority order.
func DefaultModuleRoutes() []ModuleRoute {
	return []ModuleRoute{
		{Name: "Home", Priority: 1, Route: "/leaddashboard", Icon: "/assets/icons/dashboard.svg", Label: "Dashboard"},
		{Name: "Lead", Priority: 2, Route: "/leadcardview", Icon: "/assets/icons/lead.svg"},
		{Name: "Company", Priority: 3, Route: "/companyview", Icon: "/assets/icons/company.svg"},
		{Name: "Customer", Priority: 4, Route: "/customerview", Icon: "/assets/icons/customer.svg"},
		{Name: "Reminder", Priority: 5, Route: "/reminder", Icon: "/assets/icons/reminder.svg"},
		{Name: "Task", Priority: 6, Route: "/tasks", Icon: "/assets/icons/task.svg", Label: "Tasks"},
		{Name: "Reports", Priority: 7, Route: "/reports", Icon: "/assets/icons/reports.svg"},
		{Name: "Calculator", Priority: 8, Route: "/calculator", Icon: "/assets/icons/calculator.svg"},
		{Name: "Poster", Priority: 9, Route: "/poster", Icon: "/assets/icons/poster.svg"},
		{Name: "Map", Priority: 10, Route: "/distance", Icon: "/assets/icons/map.svg", Label: "Distance to Client"},
		{Name: "Chatbot", Priority: 11, Route: "/chatbot", Icon: "/assets/icons/chatbot.svg"},
	}
}

// DefaultLeadOverride returns the built-in "my leads" rule.
func DefaultLeadOverride() LeadOverride {
	return LeadOverride{
		Module:         "Lead",
		CompanyIDs:     []CompanyID{DefaultLeadCompanyID},
		AttributeKey:   "lead_scope",
		AttributeValue: "own",
		Label:          "My Leads",
		Route:          "/xcodefix_leadcardview",
	}
}

// DefaultNavConfig returns the built-in navigation config.
func DefaultNavConfig() NavConfig {
	return NavConfig{
		DefaultLabel: DefaultMenuLabel,
		Modules:      DefaultModuleRoutes(),
		LeadOverride: DefaultLeadOverride(),
	}
}

// NormalizeNavConfig applies defaults and validates the config.
func NormalizeNavConfig(cfg NavConfig) (NavConfig, error) {
	if strings.TrimSpace(cfg.DefaultLabel) == "" {
		cfg.DefaultLabel = DefaultMenuLabel
	}
	if len(cfg.Modules) == 0 {
		cfg.Modules = DefaultModuleRoutes()
	}
	if !cfg.LeadOverride.IsEnabled() {
		cfg.LeadOverride = LeadOverride{Enabled: cfg.LeadOverride.Enabled}
	} else if cfg.LeadOverride.Module == "" && cfg.LeadOverride.Route == "" {
		enabled := cfg.LeadOverride.Enabled
		cfg.LeadOverride = DefaultLeadOverride()
		cfg.LeadOverride.Enabled = enabled
	}

	seen := make(map[string]struct{}, len(cfg.Modules))
	modules := make([]ModuleRoute, 0, len(cfg.Modules))
	for i, m := range cfg.Modules {
		key := CanonicalModuleName(m.Name)
		if key == "" {
			return NavConfig{}, fmt.Errorf("navigation module name is required")
		}
		if _, ok := seen[key]; ok {
			return NavConfig{}, fmt.Errorf("navigation module %q is listed twice", m.Name)
		}
		seen[key] = struct{}{}
		if m.Route != "" {
			route, err := NormalizePath(string(m.Route))
			if err != nil {
				return NavConfig{}, fmt.Errorf("navigation module %q route: %w", m.Name, err)
			}
			m.Route = route
		}
		if m.Priority == 0 {
			m.Priority = i + 1
		}
		m.Name = strings.TrimSpace(m.Name)
		m.Icon = strings.TrimSpace(m.Icon)
		m.Label = strings.TrimSpace(m.Label)
		modules = append(modules, m)
	}
	cfg.Modules = modules

	lead := cfg.LeadOverride
	if lead.Route != "" {
		route, err := NormalizePath(string(lead.Route))
		if err != nil {
			return NavConfig{}, fmt.Errorf("navigation lead_override route: %w", err)
		}
		lead.Route = route
	}
	if lead.IsEnabled() && lead.Label == "" {
		lead.Label = "My Leads"
	}
	cfg.LeadOverride = lead

	if cfg.HomePath == "" {
		for _, m := range cfg.Modules {
			if strings.EqualFold(m.displayLabel(), cfg.DefaultLabel) && m.Route != "" {
				cfg.HomePath = m.Route
				break
			}
		}
	} else {
		home, err := NormalizePath(string(cfg.HomePath))
		if err != nil {
			return NavConfig{}, fmt.Errorf("navigation home_path: %w", err)
		}
		cfg.HomePath = home
	}
	return cfg, nil
}

// CanonicalModuleName folds a module name for table lookups.
func CanonicalModuleName(name string) string {
	return strings.ToLower(strings.TrimSpace(name))
}

func (m ModuleRoute) displayLabel() string {
	if m.Label != "" {
		return m.Label
	}
	return m.Name
}
