package nav

import (
	"context"

	"pkt.systems/crmdesk/schema"
)

// Service is the transport-agnostic API for session workspaces.
type Service interface {
	OpenSession(ctx context.Context, req schema.OpenSessionRequest) (schema.OpenSessionResponse, error)
	CloseSession(ctx context.Context, req schema.CloseSessionRequest) (schema.CloseSessionResponse, error)
	OpenTab(ctx context.Context, req schema.OpenTabRequest) (schema.OpenTabResponse, error)
	CloseTab(ctx context.Context, req schema.CloseTabRequest) (schema.CloseTabResponse, error)
	ActivateTab(ctx context.Context, req schema.ActivateTabRequest) (schema.ActivateTabResponse, error)
	ListTabs(ctx context.Context, req schema.ListTabsRequest) (schema.ListTabsResponse, error)
	ReportLocation(ctx context.Context, req schema.ReportLocationRequest) (schema.ReportLocationResponse, error)
	GetMenu(ctx context.Context, req schema.GetMenuRequest) (schema.GetMenuResponse, error)
	RefreshMenu(ctx context.Context, req schema.RefreshMenuRequest) (schema.RefreshMenuResponse, error)
	GetView(ctx context.Context, req schema.GetViewRequest) (schema.GetViewResponse, error)
	GetWorkspace(ctx context.Context, req schema.GetWorkspaceRequest) (schema.GetWorkspaceResponse, error)
	// RefreshAll restarts the menu load of every open workspace and returns
	// how many were refreshed.
	RefreshAll(ctx context.Context) int
	// CloseAll tears down every open workspace.
	CloseAll(ctx context.Context)
}
