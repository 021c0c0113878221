package appconfig

import (
	"testing"

	"pkt.systems/crmdesk/schema"
)

func TestDefaultConfigModulesSource(t *testing.T) {
	cfg, err := DefaultConfig()
	if err != nil {
		t.Fatalf("default config: %v", err)
	}
	if cfg.Modules.Source != ModuleSourceFile {
		t.Fatalf("expected file source by default, got %q", cfg.Modules.Source)
	}
	if cfg.Navigation.DefaultLabel != schema.DefaultMenuLabel {
		t.Fatalf("expected default label %q, got %q", schema.DefaultMenuLabel, cfg.Navigation.DefaultLabel)
	}
	if len(cfg.Navigation.Modules) != len(schema.DefaultModuleRoutes()) {
		t.Fatalf("expected default module table, got %d entries", len(cfg.Navigation.Modules))
	}
}
