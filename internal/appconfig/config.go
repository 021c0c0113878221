package appconfig

import (
	"os"
	"path/filepath"

	"pkt.systems/crmdesk/schema"
)

// Config is the top-level application configuration.
type Config struct {
	ConfigVersion int              `mapstructure:"config_version" yaml:"config_version"`
	StateDir      string           `mapstructure:"state_dir" yaml:"state_dir"`
	HTTP          HTTPConfig       `mapstructure:"http" yaml:"http"`
	Auth          AuthConfig       `mapstructure:"auth" yaml:"auth"`
	Modules       ModulesConfig    `mapstructure:"modules" yaml:"modules"`
	Navigation    schema.NavConfig `mapstructure:"navigation" yaml:"navigation"`
	Logging       LoggingConfig    `mapstructure:"logging" yaml:"logging"`
}

// CurrentConfigVersion marks the supported config version.
const CurrentConfigVersion = 1

// Module source kinds.
const (
	ModuleSourceHTTP = "http"
	ModuleSourceFile = "file"
)

// HTTPConfig configures the HTTP server.
type HTTPConfig struct {
	Addr            string `mapstructure:"addr" yaml:"addr"`
	SessionCookie   string `mapstructure:"session_cookie" yaml:"session_cookie"`
	SessionTTLHours int    `mapstructure:"session_ttl_hours" yaml:"session_ttl_hours"`
	BaseURL         string `mapstructure:"base_url" yaml:"base_url"`
	BasePath        string `mapstructure:"base_path" yaml:"base_path"`
}

// AuthConfig configures auth storage and seed users.
type AuthConfig struct {
	UserFile  string     `mapstructure:"user_file" yaml:"user_file"`
	SeedUsers []SeedUser `mapstructure:"seed_users" yaml:"seed_users"`
}

// ModulesConfig selects where the module list comes from.
type ModulesConfig struct {
	// Source is "http" or "file".
	Source         string `mapstructure:"source" yaml:"source"`
	BaseURL        string `mapstructure:"base_url" yaml:"base_url"`
	Token          string `mapstructure:"token" yaml:"token"`
	TimeoutSeconds int    `mapstructure:"timeout_seconds" yaml:"timeout_seconds"`
	File           string `mapstructure:"file" yaml:"file"`
	// Watch reloads every open menu when File changes.
	Watch bool `mapstructure:"watch" yaml:"watch"`
}

// LoggingConfig controls audit logging behavior.
type LoggingConfig struct {
	DisableAuditTrails bool `mapstructure:"disable_audit_trails" yaml:"disable_audit_trails"`
}

// SeedUser seeds a user record in the auth store.
type SeedUser struct {
	Username     string                       `mapstructure:"username" yaml:"username"`
	PasswordHash string                       `mapstructure:"password_hash" yaml:"password_hash"`
	TOTPSecret   string                       `mapstructure:"totp_secret" yaml:"totp_secret"`
	CompanyID    schema.CompanyID             `mapstructure:"company_id" yaml:"company_id"`
	Permissions  []schema.PermissionAttribute `mapstructure:"permissions" yaml:"permissions"`
}

// DefaultConfig returns a config with sensible defaults.
func DefaultConfig() (Config, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return Config{}, err
	}
	return Config{
		ConfigVersion: CurrentConfigVersion,
		StateDir:      filepath.Join(home, ".crmdesk", "state"),
		HTTP: HTTPConfig{
			Addr:            ":27580",
			SessionCookie:   "crmdesk_session",
			SessionTTLHours: 12,
			BaseURL:         "",
			BasePath:        "",
		},
		Auth: AuthConfig{
			UserFile: filepath.Join(home, ".crmdesk", "users.json"),
			SeedUsers: []SeedUser{
				{
					Username:     "admin",
					PasswordHash: "$2a$12$PyjGUD8qnJie1MULQVHJdu9zuS/juh5W5RtDUVHv5HFb.62gNnY/q",
					TOTPSecret:   "JBSWY3DPEHPK3PXP",
					CompanyID:    1,
					Permissions: []schema.PermissionAttribute{
						{ModuleID: 1, Active: true},
						{ModuleID: 2, Active: true},
					},
				},
			},
		},
		Modules: ModulesConfig{
			Source:         ModuleSourceFile,
			BaseURL:        "",
			Token:          "",
			TimeoutSeconds: 10,
			File:           filepath.Join(home, ".crmdesk", "modules.yaml"),
			Watch:          true,
		},
		Navigation: schema.DefaultNavConfig(),
		Logging: LoggingConfig{
			DisableAuditTrails: false,
		},
	}, nil
}

// DefaultConfigPath returns the standard config path.
func DefaultConfigPath() (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(home, ".crmdesk", "config.yaml"), nil
}
