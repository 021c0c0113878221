package appconfig

import (
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"

	"pkt.systems/crmdesk/schema"
)

// Load reads configuration from the provided path. If path is empty, uses DefaultConfigPath.
func Load(path string) (Config, error) {
	if path == "" {
		defaultPath, err := DefaultConfigPath()
		if err != nil {
			return Config{}, err
		}
		path = defaultPath
	}

	cfg, err := DefaultConfig()
	if err != nil {
		return Config{}, err
	}

	v := viper.New()
	v.SetConfigFile(path)
	v.SetConfigType("yaml")
	v.SetEnvPrefix("CRMDESK")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	v.SetDefault("config_version", cfg.ConfigVersion)
	v.SetDefault("state_dir", cfg.StateDir)
	v.SetDefault("http.addr", cfg.HTTP.Addr)
	v.SetDefault("http.session_cookie", cfg.HTTP.SessionCookie)
	v.SetDefault("http.session_ttl_hours", cfg.HTTP.SessionTTLHours)
	v.SetDefault("http.base_url", cfg.HTTP.BaseURL)
	v.SetDefault("http.base_path", cfg.HTTP.BasePath)
	v.SetDefault("auth.user_file", cfg.Auth.UserFile)
	v.SetDefault("auth.seed_users", cfg.Auth.SeedUsers)
	v.SetDefault("modules.source", cfg.Modules.Source)
	v.SetDefault("modules.base_url", cfg.Modules.BaseURL)
	v.SetDefault("modules.token", cfg.Modules.Token)
	v.SetDefault("modules.timeout_seconds", cfg.Modules.TimeoutSeconds)
	v.SetDefault("modules.file", cfg.Modules.File)
	v.SetDefault("modules.watch", cfg.Modules.Watch)
	v.SetDefault("navigation.home_path", cfg.Navigation.HomePath)
	v.SetDefault("navigation.default_label", cfg.Navigation.DefaultLabel)
	v.SetDefault("navigation.modules", cfg.Navigation.Modules)
	v.SetDefault("navigation.lead_override", cfg.Navigation.LeadOverride)
	v.SetDefault("logging.disable_audit_trails", cfg.Logging.DisableAuditTrails)

	configLoaded := false
	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok && !os.IsNotExist(err) {
			return Config{}, err
		}
	} else {
		configLoaded = true
	}

	if configLoaded {
		if !v.IsSet("config_version") {
			return Config{}, fmt.Errorf("config_version is required; expected %d", CurrentConfigVersion)
		}
		if v.GetInt("config_version") != CurrentConfigVersion {
			return Config{}, fmt.Errorf("unsupported config_version %d; expected %d", v.GetInt("config_version"), CurrentConfigVersion)
		}
	}

	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, err
	}
	expandConfigEnv(&cfg)
	if err := validateHTTPConfig(cfg.HTTP); err != nil {
		return Config{}, err
	}
	if err := validateModulesConfig(cfg.Modules); err != nil {
		return Config{}, err
	}
	nav, err := schema.NormalizeNavConfig(cfg.Navigation)
	if err != nil {
		return Config{}, fmt.Errorf("navigation: %w", err)
	}
	cfg.Navigation = nav
	return cfg, nil
}

func validateHTTPConfig(cfg HTTPConfig) error {
	baseURL := strings.TrimSpace(cfg.BaseURL)
	if baseURL != "" {
		parsed, err := url.Parse(baseURL)
		if err != nil || parsed.Scheme == "" || parsed.Host == "" {
			return fmt.Errorf("http.base_url must include scheme and host (e.g. https://example.com)")
		}
	}
	basePath := strings.TrimSpace(cfg.BasePath)
	if basePath != "" {
		if strings.Contains(basePath, "://") {
			return fmt.Errorf("http.base_path must be a path prefix, not a URL")
		}
		if strings.ContainsAny(basePath, "?#") {
			return fmt.Errorf("http.base_path must not include query or fragment")
		}
	}
	if cfg.SessionTTLHours < 0 {
		return fmt.Errorf("http.session_ttl_hours must not be negative")
	}
	return nil
}

func validateModulesConfig(cfg ModulesConfig) error {
	switch strings.ToLower(strings.TrimSpace(cfg.Source)) {
	case ModuleSourceHTTP:
		baseURL := strings.TrimSpace(cfg.BaseURL)
		if baseURL == "" {
			return fmt.Errorf("modules.base_url is required for the http source")
		}
		parsed, err := url.Parse(baseURL)
		if err != nil || parsed.Scheme == "" || parsed.Host == "" {
			return fmt.Errorf("modules.base_url must include scheme and host")
		}
	case ModuleSourceFile:
		if strings.TrimSpace(cfg.File) == "" {
			return fmt.Errorf("modules.file is required for the file source")
		}
	default:
		return fmt.Errorf("unsupported modules.source %q", cfg.Source)
	}
	if cfg.TimeoutSeconds < 0 {
		return fmt.Errorf("modules.timeout_seconds must not be negative")
	}
	return nil
}

func expandConfigEnv(cfg *Config) {
	if cfg == nil {
		return
	}
	cfg.StateDir = expandEnv(cfg.StateDir)
	cfg.Auth.UserFile = expandEnv(cfg.Auth.UserFile)
	cfg.Modules.File = expandEnv(cfg.Modules.File)
	cfg.Modules.BaseURL = expandEnv(cfg.Modules.BaseURL)
	cfg.Modules.Token = expandEnv(cfg.Modules.Token)
}

func expandEnv(value string) string {
	if value == "" {
		return value
	}
	return os.Expand(value, func(key string) string {
		if key == "" {
			return ""
		}
		if val, ok := lookupEnv(key); ok {
			return val
		}
		return "$" + key
	})
}

func lookupEnv(key string) (string, bool) {
	if val, ok := os.LookupEnv(key); ok {
		return val, true
	}
	switch key {
	case "UID":
		return fmt.Sprintf("%d", os.Getuid()), true
	case "GID":
		return fmt.Sprintf("%d", os.Getgid()), true
	}
	return "", false
}

// WriteDefault writes the default config to the target path.
func WriteDefault(path string, overwrite bool) (string, error) {
	cfg, err := DefaultConfig()
	if err != nil {
		return "", err
	}
	return Write(path, cfg, overwrite)
}

// Write writes cfg as YAML to the target path. If path is empty, uses
// DefaultConfigPath.
func Write(path string, cfg Config, overwrite bool) (string, error) {
	if path == "" {
		defaultPath, err := DefaultConfigPath()
		if err != nil {
			return "", err
		}
		path = defaultPath
	}

	if !overwrite {
		if _, err := os.Stat(path); err == nil {
			return "", fmt.Errorf("config already exists at %s", path)
		}
	}

	data, err := yaml.Marshal(cfg)
	if err != nil {
		return "", err
	}

	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", err
	}
	if err := os.WriteFile(path, data, 0o600); err != nil {
		return "", err
	}
	return path, nil
}
