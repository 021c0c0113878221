package main

import (
	"context"
	"fmt"
	"sync"

	"github.com/spf13/cobra"

	"pkt.systems/crmdesk"
	"pkt.systems/crmdesk/internal/appconfig"
	"pkt.systems/crmdesk/nav"
	"pkt.systems/crmdesk/schema"
	"pkt.systems/pslog"
)

func newMenuCmd() *cobra.Command {
	var cfgPath string
	cmd := &cobra.Command{
		Use:   "menu <username>",
		Short: "Print the sidebar menu a user would see",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			username := args[0]
			if err := validateUsername(username); err != nil {
				return err
			}
			cfg, err := appconfig.Load(cfgPath)
			if err != nil {
				return err
			}
			store, err := openUserStore(cmd, cfgPath)
			if err != nil {
				return err
			}
			profile, err := store.Profile(cmd.Context(), schema.UserID(username))
			if err != nil {
				return err
			}
			source, err := crmdesk.NewModuleSource(toModulesConfig(cfg.Modules))
			if err != nil {
				return err
			}
			entries, landing, err := resolveMenu(cmd.Context(), cfg.Navigation, source, profile)
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			if len(entries) == 0 {
				_, _ = fmt.Fprintln(out, "no permitted modules")
				return nil
			}
			for _, entry := range entries {
				marker := " "
				if landing != "" && entry.Route == landing {
					marker = "*"
				}
				_, _ = fmt.Fprintf(out, "%s %-20s %-16s %s\n", marker, entry.Label, entry.Route, entry.Icon)
			}
			return nil
		},
	}
	cmd.Flags().StringVarP(&cfgPath, "config", "c", "", "path to config file")
	return cmd
}

// resolveMenu loads the menu through a workspace bound to an in-memory router
// and reports where the first navigation of a fresh session lands.
func resolveMenu(ctx context.Context, cfg schema.NavConfig, source nav.ModuleSource, profile schema.SessionProfile) ([]schema.MenuEntry, schema.Path, error) {
	if ctx == nil {
		ctx = context.Background()
	}
	router := nav.NewMemoryRouter("")
	done := make(chan struct{})
	var once sync.Once
	ws, err := nav.NewWorkspace(nav.WorkspaceConfig{
		UserID:    profile.UserID,
		SessionID: "cli",
		Nav:       cfg,
		Profile:   profile,
	}, nav.WorkspaceDeps{
		Router:  router,
		Modules: source,
		Logger:  pslog.Ctx(ctx),
		Notify: func(event schema.NavEvent) {
			if event.Type != schema.NavEventMenu {
				return
			}
			if event.MenuStatus == schema.MenuReady || event.MenuStatus == schema.MenuFailed {
				once.Do(func() { close(done) })
			}
		},
	})
	if err != nil {
		return nil, "", err
	}
	ws.Start(ctx)
	select {
	case <-done:
	case <-ctx.Done():
	}
	ws.Shutdown()

	menu := ws.Menu()
	switch menu.Status {
	case schema.MenuReady:
		return menu.Entries, router.Location(), nil
	case schema.MenuFailed:
		return nil, "", fmt.Errorf("load menu: %s", menu.Err)
	default:
		return nil, "", fmt.Errorf("load menu: %w", context.Cause(ctx))
	}
}
