package nav

import (
	"context"
	"errors"
	"strings"
	"sync"

	"pkt.systems/crmdesk/internal/logx"
	"pkt.systems/crmdesk/schema"
	"pkt.systems/pslog"
)

// service implements the navigation service behavior.
type service struct {
	cfg      schema.NavConfig
	modules  ModuleSource
	profiles ProfileSource
	routers  RouterProvider
	views    *ViewTable
	sink     EventSink
	logger   pslog.Logger
	mu       sync.Mutex
	sessions map[schema.SessionID]*sessionState
}

type sessionState struct {
	userID    schema.UserID
	workspace *Workspace
	stopWatch func() bool
}

// NewService constructs the navigation service implementation.
func NewService(cfg schema.NavConfig, deps ServiceDeps) (Service, error) {
	normalized, err := schema.NormalizeNavConfig(cfg)
	if err != nil {
		return nil, err
	}
	views := deps.Views
	if views == nil {
		views = DefaultViewTable()
	}
	logger := deps.Logger
	if logger == nil {
		logger = pslog.Ctx(context.Background())
	}
	return &service{
		cfg:      normalized,
		modules:  deps.Modules,
		profiles: deps.Profiles,
		routers:  deps.Routers,
		views:    views,
		sink:     deps.EventSink,
		logger:   logger,
		sessions: make(map[schema.SessionID]*sessionState),
	}, nil
}

// OpenSession creates the session workspace and starts its menu load. ctx
// bounds the workspace lifetime: when it is done the workspace is closed.
func (s *service) OpenSession(ctx context.Context, req schema.OpenSessionRequest) (schema.OpenSessionResponse, error) {
	if ctx == nil {
		return schema.OpenSessionResponse{}, errors.New("missing context")
	}
	userID, sessionID, err := normalizeIDs(req.UserID, req.SessionID)
	if err != nil {
		return schema.OpenSessionResponse{}, err
	}
	log := logx.WithUserSession(ctx, userID, sessionID)

	s.mu.Lock()
	if _, ok := s.sessions[sessionID]; ok {
		s.mu.Unlock()
		log.Warn("service session open failed", "err", schema.ErrSessionExists)
		return schema.OpenSessionResponse{}, schema.ErrSessionExists
	}
	var router Router
	if s.routers != nil {
		router = s.routers.RouterFor(userID, sessionID)
	}
	profile := req.Profile
	profile.UserID = userID
	ws, err := NewWorkspace(WorkspaceConfig{
		UserID:    userID,
		SessionID: sessionID,
		Nav:       s.cfg,
		Profile:   profile,
	}, WorkspaceDeps{
		Router:   router,
		Modules:  s.modules,
		Profiles: s.profiles,
		Views:    s.views,
		Notify:   s.emitNavEvent,
		Logger:   s.logger,
	})
	if err != nil {
		s.mu.Unlock()
		log.Warn("service session open failed", "err", err)
		return schema.OpenSessionResponse{}, err
	}
	state := &sessionState{userID: userID, workspace: ws}
	state.stopWatch = context.AfterFunc(ctx, func() {
		_, _ = s.CloseSession(context.Background(), schema.CloseSessionRequest{UserID: userID, SessionID: sessionID})
	})
	s.sessions[sessionID] = state
	s.mu.Unlock()

	ws.Start(ctx)
	log.Info("service session opened", "company_id", profile.CompanyID, "permissions", len(profile.Permissions))
	return schema.OpenSessionResponse{Workspace: ws.Snapshot()}, nil
}

func (s *service) CloseSession(ctx context.Context, req schema.CloseSessionRequest) (schema.CloseSessionResponse, error) {
	if ctx == nil {
		ctx = context.Background()
	}
	userID, sessionID, err := normalizeIDs(req.UserID, req.SessionID)
	if err != nil {
		return schema.CloseSessionResponse{}, err
	}
	log := logx.WithUserSession(ctx, userID, sessionID)

	s.mu.Lock()
	state := s.sessions[sessionID]
	if state == nil || state.userID != userID {
		s.mu.Unlock()
		log.Debug("service session close skipped", "err", schema.ErrSessionNotFound)
		return schema.CloseSessionResponse{}, nil
	}
	delete(s.sessions, sessionID)
	s.mu.Unlock()

	if state.stopWatch != nil {
		state.stopWatch()
	}
	state.workspace.Shutdown()
	log.Info("service session closed")
	return schema.CloseSessionResponse{Closed: true}, nil
}

func (s *service) CloseAll(ctx context.Context) {
	if ctx == nil {
		ctx = context.Background()
	}
	s.mu.Lock()
	states := make([]*sessionState, 0, len(s.sessions))
	for id, state := range s.sessions {
		states = append(states, state)
		delete(s.sessions, id)
	}
	s.mu.Unlock()

	for _, state := range states {
		if state.stopWatch != nil {
			state.stopWatch()
		}
		state.workspace.Shutdown()
	}
	if len(states) > 0 {
		pslog.Ctx(ctx).Info("service sessions closed", "count", len(states))
	}
}

func (s *service) RefreshAll(ctx context.Context) int {
	if ctx == nil {
		ctx = context.Background()
	}
	s.mu.Lock()
	workspaces := make([]*Workspace, 0, len(s.sessions))
	for _, state := range s.sessions {
		workspaces = append(workspaces, state.workspace)
	}
	s.mu.Unlock()

	for _, ws := range workspaces {
		ws.Refresh()
	}
	pslog.Ctx(ctx).Info("service menus refreshed", "count", len(workspaces))
	return len(workspaces)
}

func (s *service) OpenTab(ctx context.Context, req schema.OpenTabRequest) (schema.OpenTabResponse, error) {
	ws, log, err := s.workspaceFor(ctx, req.UserID, req.SessionID)
	if err != nil {
		return schema.OpenTabResponse{}, err
	}
	path, err := schema.NormalizePath(string(req.Path))
	if err != nil {
		log.Warn("service tab open failed", "path", req.Path, "err", err)
		return schema.OpenTabResponse{}, err
	}
	result := ws.Open(path, strings.TrimSpace(req.Label))
	log.Trace("service tab open", "path", path, "added", result.Added)
	return schema.OpenTabResponse{Tab: result.Tab, Added: result.Added, ActivePath: result.Active}, nil
}

func (s *service) CloseTab(ctx context.Context, req schema.CloseTabRequest) (schema.CloseTabResponse, error) {
	ws, log, err := s.workspaceFor(ctx, req.UserID, req.SessionID)
	if err != nil {
		return schema.CloseTabResponse{}, err
	}
	path, err := schema.NormalizePath(string(req.Path))
	if err != nil {
		log.Warn("service tab close failed", "path", req.Path, "err", err)
		return schema.CloseTabResponse{}, err
	}
	result := ws.Close(path)
	log.Trace("service tab close", "path", path, "removed", result.Removed)
	return schema.CloseTabResponse{Removed: result.Removed, ActivePath: result.Active}, nil
}

func (s *service) ActivateTab(ctx context.Context, req schema.ActivateTabRequest) (schema.ActivateTabResponse, error) {
	ws, log, err := s.workspaceFor(ctx, req.UserID, req.SessionID)
	if err != nil {
		return schema.ActivateTabResponse{}, err
	}
	path, err := schema.NormalizePath(string(req.Path))
	if err != nil {
		log.Warn("service tab activate failed", "path", req.Path, "err", err)
		return schema.ActivateTabResponse{}, err
	}
	result := ws.Activate(path)
	return schema.ActivateTabResponse{ActivePath: result.Active, Changed: result.Changed}, nil
}

func (s *service) ListTabs(ctx context.Context, req schema.ListTabsRequest) (schema.ListTabsResponse, error) {
	ws, log, err := s.workspaceFor(ctx, req.UserID, req.SessionID)
	if err != nil {
		return schema.ListTabsResponse{}, err
	}
	tabs, active := ws.Tabs()
	log.Trace("service tabs listed", "count", len(tabs), "active", active)
	return schema.ListTabsResponse{Tabs: tabs, ActivePath: active, HomePath: ws.Home()}, nil
}

func (s *service) ReportLocation(ctx context.Context, req schema.ReportLocationRequest) (schema.ReportLocationResponse, error) {
	ws, log, err := s.workspaceFor(ctx, req.UserID, req.SessionID)
	if err != nil {
		return schema.ReportLocationResponse{}, err
	}
	path, err := schema.NormalizePath(string(req.Path))
	if err != nil {
		log.Warn("service location report failed", "path", req.Path, "err", err)
		return schema.ReportLocationResponse{}, err
	}
	result := ws.Reconcile(path)
	return schema.ReportLocationResponse{ActivePath: result.Active, Matched: result.Matched}, nil
}

func (s *service) GetMenu(ctx context.Context, req schema.GetMenuRequest) (schema.GetMenuResponse, error) {
	ws, _, err := s.workspaceFor(ctx, req.UserID, req.SessionID)
	if err != nil {
		return schema.GetMenuResponse{}, err
	}
	menu := ws.Menu()
	return schema.GetMenuResponse{Entries: menu.Entries, Status: menu.Status, Error: menu.Err}, nil
}

func (s *service) RefreshMenu(ctx context.Context, req schema.RefreshMenuRequest) (schema.RefreshMenuResponse, error) {
	ws, log, err := s.workspaceFor(ctx, req.UserID, req.SessionID)
	if err != nil {
		return schema.RefreshMenuResponse{}, err
	}
	var status schema.MenuStatus
	if req.Profile != nil {
		status = ws.RefreshWithProfile(*req.Profile)
	} else {
		status = ws.Refresh()
	}
	log.Info("service menu refresh", "status", status)
	return schema.RefreshMenuResponse{Status: status}, nil
}

func (s *service) GetView(ctx context.Context, req schema.GetViewRequest) (schema.GetViewResponse, error) {
	ws, _, err := s.workspaceFor(ctx, req.UserID, req.SessionID)
	if err != nil {
		return schema.GetViewResponse{}, err
	}
	return schema.GetViewResponse{View: ws.View()}, nil
}

func (s *service) GetWorkspace(ctx context.Context, req schema.GetWorkspaceRequest) (schema.GetWorkspaceResponse, error) {
	ws, _, err := s.workspaceFor(ctx, req.UserID, req.SessionID)
	if err != nil {
		return schema.GetWorkspaceResponse{}, err
	}
	return schema.GetWorkspaceResponse{Workspace: ws.Snapshot()}, nil
}

func (s *service) workspaceFor(ctx context.Context, userID schema.UserID, sessionID schema.SessionID) (*Workspace, pslog.Logger, error) {
	if ctx == nil {
		ctx = context.Background()
	}
	userID, sessionID, err := normalizeIDs(userID, sessionID)
	if err != nil {
		return nil, nil, err
	}
	log := logx.WithUserSession(ctx, userID, sessionID)
	s.mu.Lock()
	state := s.sessions[sessionID]
	s.mu.Unlock()
	if state == nil || state.userID != userID {
		log.Debug("service session lookup failed", "err", schema.ErrSessionNotFound)
		return nil, nil, schema.ErrSessionNotFound
	}
	return state.workspace, log, nil
}

func (s *service) emitNavEvent(event schema.NavEvent) {
	if s.sink == nil {
		return
	}
	s.sink.OnNavEvent(event)
}

func normalizeIDs(userID schema.UserID, sessionID schema.SessionID) (schema.UserID, schema.SessionID, error) {
	if err := schema.ValidateUserID(userID); err != nil {
		return "", "", schema.ErrInvalidUser
	}
	if err := schema.ValidateSessionID(sessionID); err != nil {
		return "", "", schema.ErrInvalidSession
	}
	return userID, sessionID, nil
}
