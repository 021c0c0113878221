package main

import (
	"context"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"pkt.systems/crmdesk"
	"pkt.systems/crmdesk/httpapi"
	"pkt.systems/crmdesk/internal/appconfig"
	"pkt.systems/crmdesk/internal/version"
	"pkt.systems/pslog"
)

const (
	hubHistory  = 256
	stopTimeout = 10 * time.Second
)

func newServeCmd() *cobra.Command {
	var cfgPath string
	var addr string
	var noWatch bool
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start the crmdesk web server",
		RunE: func(cmd *cobra.Command, args []string) error {
			logger := pslog.Ctx(cmd.Context())
			cfg, err := appconfig.Load(cfgPath)
			if err != nil {
				return err
			}
			if strings.TrimSpace(addr) != "" {
				cfg.HTTP.Addr = addr
			}
			if noWatch {
				cfg.Modules.Watch = false
			}
			serverCfg := toServerConfig(cfg)
			opts := []crmdesk.ServerOption{crmdesk.WithHTTP()}
			if cfg.Modules.Watch {
				opts = append(opts, crmdesk.WithModuleWatch())
			}
			server, err := crmdesk.New(serverCfg, crmdesk.ServerDeps{Logger: logger}, opts...)
			if err != nil {
				return err
			}

			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()
			go func() {
				<-ctx.Done()
				stopCtx, cancel := context.WithTimeout(context.Background(), stopTimeout)
				defer cancel()
				if err := server.Stop(stopCtx); err != nil {
					logger.Warn("server stop failed", "err", err)
				}
			}()
			logger.Info("crmdesk starting", "version", version.String(), "modules", cfg.Modules.Source)
			if err := server.Start(ctx); err != nil {
				return err
			}
			return server.Wait()
		},
	}
	cmd.Flags().StringVarP(&cfgPath, "config", "c", "", "path to config file")
	cmd.Flags().StringVar(&addr, "addr", "", "override http.addr")
	cmd.Flags().BoolVar(&noWatch, "no-watch", false, "do not reload menus when the module file changes")
	return cmd
}

func toServerConfig(cfg appconfig.Config) crmdesk.ServerConfig {
	return crmdesk.ServerConfig{
		Navigation: cfg.Navigation,
		HTTP:       toHTTPConfig(cfg),
		Auth:       toAuthConfig(cfg.Auth),
		Modules:    toModulesConfig(cfg.Modules),
		HubHistory: hubHistory,
	}
}

func toHTTPConfig(cfg appconfig.Config) httpapi.Config {
	sessionFile := ""
	if strings.TrimSpace(cfg.StateDir) != "" {
		sessionFile = filepath.Join(cfg.StateDir, "sessions.json")
	}
	return httpapi.Config{
		Addr:            cfg.HTTP.Addr,
		SessionCookie:   cfg.HTTP.SessionCookie,
		SessionTTLHours: cfg.HTTP.SessionTTLHours,
		BaseURL:         cfg.HTTP.BaseURL,
		BasePath:        cfg.HTTP.BasePath,
		SessionFile:     sessionFile,
		HistorySize:     hubHistory,
	}
}

func toAuthConfig(cfg appconfig.AuthConfig) crmdesk.AuthConfig {
	seeds := make([]crmdesk.SeedUser, 0, len(cfg.SeedUsers))
	for _, seed := range cfg.SeedUsers {
		seeds = append(seeds, crmdesk.SeedUser{
			Username:     seed.Username,
			PasswordHash: seed.PasswordHash,
			TOTPSecret:   seed.TOTPSecret,
			CompanyID:    seed.CompanyID,
			Permissions:  seed.Permissions,
		})
	}
	return crmdesk.AuthConfig{
		UserFile:  cfg.UserFile,
		SeedUsers: seeds,
	}
}

func toModulesConfig(cfg appconfig.ModulesConfig) crmdesk.ModulesConfig {
	return crmdesk.ModulesConfig{
		Source:  cfg.Source,
		BaseURL: cfg.BaseURL,
		Token:   cfg.Token,
		Timeout: time.Duration(cfg.TimeoutSeconds) * time.Second,
		File:    cfg.File,
	}
}
