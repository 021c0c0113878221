package nav

import (
	"context"
	"fmt"

	"golang.org/x/sync/errgroup"

	"pkt.systems/crmdesk/schema"
)

// ModuleSource fetches the upstream module list.
type ModuleSource interface {
	Modules(ctx context.Context) ([]schema.Module, error)
}

// ProfileSource fetches the cached session profile for a user.
type ProfileSource interface {
	Profile(ctx context.Context, userID schema.UserID) (schema.SessionProfile, error)
}

// ModuleSourceFunc adapts a function to ModuleSource.
type ModuleSourceFunc func(ctx context.Context) ([]schema.Module, error)

// Modules calls f(ctx).
func (f ModuleSourceFunc) Modules(ctx context.Context) ([]schema.Module, error) {
	return f(ctx)
}

// ProfileSourceFunc adapts a function to ProfileSource.
type ProfileSourceFunc func(ctx context.Context, userID schema.UserID) (schema.SessionProfile, error)

// Profile calls f(ctx, userID).
func (f ProfileSourceFunc) Profile(ctx context.Context, userID schema.UserID) (schema.SessionProfile, error) {
	return f(ctx, userID)
}

type menuData struct {
	modules []schema.Module
	profile schema.SessionProfile
}

// fetchMenuData loads modules and, when a profile source is set, the profile
// concurrently. The first failure cancels the other fetch.
func fetchMenuData(ctx context.Context, modules ModuleSource, profiles ProfileSource, cached schema.SessionProfile) (menuData, error) {
	if modules == nil {
		return menuData{}, schema.ErrSourceUnavailable
	}
	data := menuData{profile: cached}
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		list, err := modules.Modules(gctx)
		if err != nil {
			return fmt.Errorf("fetch modules: %w", err)
		}
		if list == nil {
			list = []schema.Module{}
		}
		data.modules = list
		return nil
	})
	if profiles != nil {
		g.Go(func() error {
			profile, err := profiles.Profile(gctx, cached.UserID)
			if err != nil {
				return fmt.Errorf("fetch profile: %w", err)
			}
			if profile.UserID == "" {
				profile.UserID = cached.UserID
			}
			data.profile = profile
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return menuData{}, err
	}
	if err := ctx.Err(); err != nil {
		return menuData{}, err
	}
	if data.profile.Permissions == nil {
		data.profile.Permissions = []schema.PermissionAttribute{}
	}
	return data, nil
}
