package main

import (
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"pkt.systems/crmdesk/internal/appconfig"
	"pkt.systems/crmdesk/internal/modules"
	"pkt.systems/pslog"
)

func newBootstrapCmd() *cobra.Command {
	var outputDir string
	var overwrite bool
	cmd := &cobra.Command{
		Use:   "bootstrap",
		Short: "Generate default config and module list",
		RunE: func(cmd *cobra.Command, args []string) error {
			logger := pslog.Ctx(cmd.Context())
			out := outputDir
			if out == "" {
				home, err := os.UserHomeDir()
				if err != nil {
					return err
				}
				out = filepath.Join(home, ".crmdesk")
			}
			cfg, err := bootstrapConfig(out)
			if err != nil {
				return err
			}
			configPath, err := appconfig.Write(filepath.Join(out, "config.yaml"), cfg, overwrite)
			if err != nil {
				return err
			}
			logger.Info("bootstrap wrote", "path", configPath, "name", "config.yaml")
			if err := modules.WriteFile(cfg.Modules.File, modules.DefaultModules(), overwrite); err != nil {
				return err
			}
			logger.Info("bootstrap wrote", "path", cfg.Modules.File, "name", "modules.yaml")
			return nil
		},
	}
	cmd.Flags().StringVarP(&outputDir, "output", "o", "", "output directory")
	cmd.Flags().BoolVar(&overwrite, "force", false, "overwrite existing files")
	return cmd
}

// bootstrapConfig returns the default config with every file rooted in dir.
func bootstrapConfig(dir string) (appconfig.Config, error) {
	cfg, err := appconfig.DefaultConfig()
	if err != nil {
		return appconfig.Config{}, err
	}
	cfg.StateDir = filepath.Join(dir, "state")
	cfg.Auth.UserFile = filepath.Join(dir, "users.json")
	cfg.Modules.Source = appconfig.ModuleSourceFile
	cfg.Modules.File = filepath.Join(dir, "modules.yaml")
	return cfg, nil
}
