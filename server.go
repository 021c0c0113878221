package crmdesk

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"pkt.systems/crmdesk/httpapi"
	"pkt.systems/crmdesk/internal/appconfig"
	"pkt.systems/crmdesk/internal/auth"
	"pkt.systems/crmdesk/internal/modules"
	"pkt.systems/crmdesk/nav"
	"pkt.systems/crmdesk/schema"
	"pkt.systems/pslog"
)

// Server composes the HTTP UI and the module file watcher around one
// navigation service.
type Server interface {
	Start(ctx context.Context) error
	Wait() error
	Stop(ctx context.Context) error
	// Service returns the navigation service backing the server.
	Service() nav.Service
}

// ServerConfig configures the compositor.
type ServerConfig struct {
	Navigation schema.NavConfig
	HTTP       httpapi.Config
	Auth       AuthConfig
	Modules    ModulesConfig
	HubHistory int
}

// AuthConfig defines authentication storage settings.
type AuthConfig struct {
	UserFile  string
	SeedUsers []SeedUser
}

// SeedUser seeds an initial user record.
type SeedUser struct {
	Username     string
	PasswordHash string
	TOTPSecret   string
	CompanyID    schema.CompanyID
	Permissions  []schema.PermissionAttribute
}

// ModulesConfig selects the module list source.
type ModulesConfig struct {
	// Source is appconfig.ModuleSourceHTTP or appconfig.ModuleSourceFile.
	Source  string
	BaseURL string
	Token   string
	Timeout time.Duration
	File    string
}

// ServerDeps captures optional dependencies. Unset fields are built from
// the config.
type ServerDeps struct {
	Modules   nav.ModuleSource
	Profiles  nav.ProfileSource
	EventSink nav.EventSink
	Logger    pslog.Logger
}

// ServerOption toggles compositor components.
type ServerOption func(*serverOptions)

type serverOptions struct {
	enableHTTP  bool
	enableWatch bool
}

// WithHTTP enables the HTTP API/UI server.
func WithHTTP() ServerOption {
	return func(o *serverOptions) { o.enableHTTP = true }
}

// WithModuleWatch reloads every open menu when the module file changes.
// It only applies to the file source.
func WithModuleWatch() ServerOption {
	return func(o *serverOptions) { o.enableWatch = true }
}

// New constructs a composable crmdesk server.
func New(cfg ServerConfig, deps ServerDeps, opts ...ServerOption) (Server, error) {
	options := serverOptions{}
	for _, opt := range opts {
		opt(&options)
	}
	if !options.enableHTTP {
		return nil, errors.New("no services enabled")
	}
	normalized, err := schema.NormalizeNavConfig(cfg.Navigation)
	if err != nil {
		return nil, err
	}
	cfg.Navigation = normalized

	logger := deps.Logger
	store, err := auth.NewStoreWithLogger(cfg.Auth.UserFile, toSeedUsers(cfg.Auth.SeedUsers), logger)
	if err != nil {
		return nil, err
	}

	source := deps.Modules
	if source == nil {
		source, err = NewModuleSource(cfg.Modules)
		if err != nil {
			return nil, err
		}
	}
	profiles := deps.Profiles
	if profiles == nil {
		profiles = store
	}

	hub := httpapi.NewHub(cfg.HubHistory)
	var sink nav.EventSink = hub
	if deps.EventSink != nil && deps.EventSink != nav.EventSink(hub) {
		sink = eventFanout{sinks: []nav.EventSink{deps.EventSink, hub}}
	}

	service, err := nav.NewService(cfg.Navigation, nav.ServiceDeps{
		Modules:   source,
		Profiles:  profiles,
		Routers:   hub,
		EventSink: sink,
		Logger:    logger,
	})
	if err != nil {
		return nil, err
	}

	var watcher *modules.FileSource
	if options.enableWatch {
		if file, ok := source.(*modules.FileSource); ok {
			watcher = file
		}
	}

	return &compositeServer{
		cfg:     cfg,
		options: options,
		service: service,
		httpSrv: httpapi.NewServer(cfg.HTTP, service, store, hub),
		watcher: watcher,
	}, nil
}

// NewModuleSource builds the module list source selected by cfg.
func NewModuleSource(cfg ModulesConfig) (nav.ModuleSource, error) {
	switch strings.ToLower(strings.TrimSpace(cfg.Source)) {
	case appconfig.ModuleSourceHTTP:
		return modules.NewHTTPSource(modules.HTTPConfig{
			BaseURL: cfg.BaseURL,
			Token:   cfg.Token,
			Timeout: cfg.Timeout,
		})
	case appconfig.ModuleSourceFile, "":
		return modules.NewFileSource(cfg.File)
	default:
		return nil, fmt.Errorf("unsupported module source %q", cfg.Source)
	}
}

type compositeServer struct {
	cfg     ServerConfig
	options serverOptions
	service nav.Service
	httpSrv *httpapi.Server
	watcher *modules.FileSource
	logger  pslog.Logger

	mu      sync.Mutex
	ctx     context.Context
	cancel  context.CancelFunc
	errCh   chan error
	started bool
}

func (s *compositeServer) Service() nav.Service {
	return s.service
}

func (s *compositeServer) Start(ctx context.Context) error {
	if ctx == nil {
		ctx = context.Background()
	}
	s.mu.Lock()
	if s.started {
		s.mu.Unlock()
		pslog.Ctx(ctx).Warn("server start rejected", "reason", "already started")
		return errors.New("server already started")
	}
	s.ctx, s.cancel = context.WithCancel(ctx)
	s.errCh = make(chan error, 2)
	s.started = true
	s.logger = pslog.Ctx(s.ctx)
	s.mu.Unlock()

	log := s.logger
	log.Info(
		"server start",
		"http", s.options.enableHTTP,
		"module_watch", s.watcher != nil,
		"module_source", s.cfg.Modules.Source,
		"http_addr", s.cfg.HTTP.Addr,
		"http_base_url", s.cfg.HTTP.BaseURL,
		"http_base_path", s.cfg.HTTP.BasePath,
	)
	if s.watcher != nil {
		err := s.watcher.Watch(s.ctx, func() {
			n := s.service.RefreshAll(s.ctx)
			log.Info("server menus reloaded", "workspaces", n)
		})
		if err != nil {
			log.Warn("module watch failed", "err", err)
		}
	}
	if s.options.enableHTTP && s.httpSrv != nil {
		s.httpSrv.SetBaseContext(s.ctx)
		go func() {
			if err := httpapi.ListenAndServe(s.ctx, s.cfg.HTTP.Addr, s.httpSrv.Handler()); err != nil {
				log.Error("http server failed", "err", err)
				s.errCh <- err
			}
		}()
	}
	return nil
}

func (s *compositeServer) Wait() error {
	s.mu.Lock()
	ctx := s.ctx
	errCh := s.errCh
	started := s.started
	s.mu.Unlock()
	if !started {
		return errors.New("server not started")
	}

	select {
	case <-ctx.Done():
		return nil
	case err := <-errCh:
		if err != nil {
			pslog.Ctx(ctx).Error("server stopped", "err", err)
			_ = s.Stop(context.Background())
			return err
		}
		return nil
	}
}

func (s *compositeServer) Stop(ctx context.Context) error {
	s.mu.Lock()
	cancel := s.cancel
	started := s.started
	log := s.logger
	s.mu.Unlock()
	if !started {
		return nil
	}
	if log == nil {
		log = pslog.Ctx(context.Background())
	}
	log.Info("server stop requested")
	if cancel != nil {
		cancel()
	}
	if s.service != nil {
		s.service.CloseAll(context.Background())
		log.Info("server workspaces closed")
	}
	if ctx == nil {
		log.Info("server stop completed")
		return nil
	}
	select {
	case <-ctx.Done():
		log.Warn("server stop timed out", "err", ctx.Err())
		return ctx.Err()
	case <-s.ctx.Done():
		log.Info("server stopped")
		return nil
	}
}

func toSeedUsers(users []SeedUser) []appconfig.SeedUser {
	if len(users) == 0 {
		return nil
	}
	out := make([]appconfig.SeedUser, 0, len(users))
	for _, user := range users {
		out = append(out, appconfig.SeedUser{
			Username:     user.Username,
			PasswordHash: user.PasswordHash,
			TOTPSecret:   user.TOTPSecret,
			CompanyID:    user.CompanyID,
			Permissions:  user.Permissions,
		})
	}
	return out
}
