package nav

import (
	"context"
	"errors"
	"slices"
	"sync"

	"pkt.systems/crmdesk/schema"
	"pkt.systems/pslog"
)

// WorkspaceConfig identifies a workspace and configures its navigation.
type WorkspaceConfig struct {
	UserID    schema.UserID
	SessionID schema.SessionID
	Nav       schema.NavConfig
	Profile   schema.SessionProfile
}

// WorkspaceDeps captures collaborators of a workspace. Only Modules is
// required for a menu to load; a nil Router is replaced by a MemoryRouter.
type WorkspaceDeps struct {
	Router   Router
	Modules  ModuleSource
	Profiles ProfileSource
	Views    *ViewTable
	Notify   func(schema.NavEvent)
	Logger   pslog.Logger
}

// OpenResult reports the outcome of Workspace.Open.
type OpenResult struct {
	Tab    schema.Tab
	Added  bool
	Active schema.Path
}

// CloseResult reports the outcome of Workspace.Close.
type CloseResult struct {
	Removed bool
	Active  schema.Path
}

// ActivateResult reports the outcome of Workspace.Activate.
type ActivateResult struct {
	Active  schema.Path
	Changed bool
}

// ReconcileResult reports how a host location was applied.
type ReconcileResult struct {
	Active  schema.Path
	Matched bool
	Changed bool
	Outcome ObserveResult
}

// MenuState is the resolved menu and its load status.
type MenuState struct {
	Entries []schema.MenuEntry
	Status  schema.MenuStatus
	Err     string
}

// Workspace is the navigation context of one authenticated session. It owns
// the tab registry, the active tab tracker, the router bridge and the menu.
// All methods are safe for concurrent use. Router calls are made without
// holding the workspace lock.
type Workspace struct {
	userID    schema.UserID
	sessionID schema.SessionID
	resolver  *MenuResolver
	views     *ViewTable
	source    ModuleSource
	profiles  ProfileSource
	notify    func(schema.NavEvent)
	log       pslog.Logger
	bridge    *Bridge

	mu         sync.Mutex
	registry   *Registry
	tracker    *Tracker
	profile    schema.SessionProfile
	modules    []schema.Module
	menu       []schema.MenuEntry
	status     schema.MenuStatus
	menuErr    string
	resolved   bool
	ctx        context.Context
	stop       context.CancelFunc
	loadGen    uint64
	cancelLoad context.CancelFunc
	loads      sync.WaitGroup
	closed     bool
}

// NewWorkspace builds a workspace. Call Start to begin loading the menu.
func NewWorkspace(cfg WorkspaceConfig, deps WorkspaceDeps) (*Workspace, error) {
	navCfg, err := schema.NormalizeNavConfig(cfg.Nav)
	if err != nil {
		return nil, err
	}
	router := deps.Router
	if router == nil {
		router = NewMemoryRouter("")
	}
	views := deps.Views
	if views == nil {
		views = DefaultViewTable()
	}
	logger := deps.Logger
	if logger == nil {
		logger = pslog.Ctx(context.Background())
	}
	if cfg.UserID != "" {
		logger = logger.With("user", cfg.UserID)
	}
	if cfg.SessionID != "" {
		logger = logger.With("session", cfg.SessionID)
	}
	profile := cfg.Profile
	if profile.UserID == "" {
		profile.UserID = cfg.UserID
	}
	w := &Workspace{
		userID:    cfg.UserID,
		sessionID: cfg.SessionID,
		resolver:  NewMenuResolver(navCfg),
		views:     views,
		source:    deps.Modules,
		profiles:  deps.Profiles,
		notify:    deps.Notify,
		log:       logger,
		registry:  NewRegistry(navCfg.HomePath),
		tracker:   NewTracker(router.Location()),
		profile:   profile,
		status:    schema.MenuIdle,
	}
	w.bridge = newBridge(router, func(location schema.Path) {
		w.Reconcile(location)
	})
	return w, nil
}

// Start binds the workspace lifetime to ctx and starts the first menu load.
// Cancelling ctx aborts in-flight loads; Shutdown still has to be called to
// detach from the router.
func (w *Workspace) Start(ctx context.Context) schema.MenuStatus {
	if ctx == nil {
		ctx = context.Background()
	}
	w.mu.Lock()
	if w.closed || w.ctx != nil {
		status := w.status
		w.mu.Unlock()
		return status
	}
	w.ctx, w.stop = context.WithCancel(ctx)
	w.mu.Unlock()
	return w.Refresh()
}

// Refresh starts a new menu load, cancelling any load still in flight.
func (w *Workspace) Refresh() schema.MenuStatus {
	return w.refresh(nil)
}

// RefreshWithProfile replaces the cached session profile and reloads the
// module list. The profile source is not consulted for this load; a later
// Refresh fetches the profile again.
func (w *Workspace) RefreshWithProfile(profile schema.SessionProfile) schema.MenuStatus {
	return w.refresh(&profile)
}

func (w *Workspace) refresh(override *schema.SessionProfile) schema.MenuStatus {
	w.mu.Lock()
	if w.closed {
		status := w.status
		w.mu.Unlock()
		return status
	}
	profiles := w.profiles
	if override != nil {
		w.profile = *override
		if w.profile.UserID == "" {
			w.profile.UserID = w.userID
		}
		profiles = nil
	}
	if w.ctx == nil {
		w.ctx, w.stop = context.WithCancel(context.Background())
	}
	if w.cancelLoad != nil {
		w.cancelLoad()
	}
	loadCtx, cancel := context.WithCancel(w.ctx)
	w.loadGen++
	gen := w.loadGen
	w.cancelLoad = cancel
	w.status = schema.MenuLoading
	w.menuErr = ""
	w.menu = nil
	profile := w.profile
	event := w.menuEventLocked()
	w.loads.Add(1)
	w.mu.Unlock()

	w.emit(event)
	w.log.Debug("nav menu load start", "generation", gen)
	go func() {
		defer w.loads.Done()
		defer cancel()
		data, err := fetchMenuData(loadCtx, w.source, profiles, profile)
		w.applyLoad(gen, data, err)
	}()
	return schema.MenuLoading
}

func (w *Workspace) applyLoad(gen uint64, data menuData, err error) {
	w.mu.Lock()
	if w.closed || gen != w.loadGen {
		w.mu.Unlock()
		w.log.Debug("nav menu load discarded", "generation", gen)
		return
	}
	w.cancelLoad = nil
	if err != nil {
		w.status = schema.MenuFailed
		w.menuErr = err.Error()
		w.menu = []schema.MenuEntry{}
		event := w.menuEventLocked()
		w.mu.Unlock()
		if errors.Is(err, context.Canceled) {
			w.log.Info("nav menu load canceled")
		} else {
			w.log.Warn("nav menu load failed", "err", err)
		}
		w.emit(event)
		return
	}
	w.modules = data.modules
	w.profile = data.profile
	w.status = schema.MenuReady
	events, navigate := w.resolveLocked()
	count := len(w.menu)
	w.mu.Unlock()

	w.log.Info("nav menu loaded", "modules", len(data.modules), "entries", count)
	w.emit(events...)
	w.bridge.Push(navigate)
}

// resolveLocked recomputes the menu and, on the first successful resolution
// of an empty workspace, opens the default entry.
func (w *Workspace) resolveLocked() ([]schema.NavEvent, schema.Path) {
	w.menu = w.resolver.Resolve(MenuInput{
		Modules:     w.modules,
		Permissions: w.profile.Permissions,
		CompanyID:   w.profile.CompanyID,
	})
	events := []schema.NavEvent{w.menuEventLocked()}
	if w.resolved || w.status != schema.MenuReady {
		return events, ""
	}
	w.resolved = true
	if w.registry.Len() > 0 {
		return events, ""
	}
	entry, ok := w.resolver.DefaultEntry(w.menu)
	if !ok {
		w.log.Info("nav default tab unavailable")
		return events, ""
	}
	var navigate schema.Path
	if w.registry.Open(entry.Route, entry.Label) {
		events = append(events, w.tabEventLocked(schema.NavEventOpened, entry.Route))
	}
	if w.tracker.SetActive(entry.Route) {
		navigate = entry.Route
	}
	events = append(events, w.tabEventLocked(schema.NavEventActivated, entry.Route))
	w.log.Info("nav default tab opened", "path", entry.Route)
	return events, navigate
}

// SetProfile replaces the cached session profile and re-derives the menu from
// the last module list without refetching.
func (w *Workspace) SetProfile(profile schema.SessionProfile) {
	w.mu.Lock()
	if profile.UserID == "" {
		profile.UserID = w.userID
	}
	w.profile = profile
	if w.closed || w.status != schema.MenuReady {
		w.mu.Unlock()
		return
	}
	events, navigate := w.resolveLocked()
	w.mu.Unlock()
	w.emit(events...)
	w.bridge.Push(navigate)
}

// Open adds a tab for path unless one exists and makes it active.
func (w *Workspace) Open(path schema.Path, label string) OpenResult {
	w.mu.Lock()
	if w.closed || path == "" {
		active := w.tracker.Current()
		w.mu.Unlock()
		return OpenResult{Active: active}
	}
	added := w.registry.Open(path, label)
	tab, _ := w.registry.Get(path)
	prev := w.tracker.Current()
	var events []schema.NavEvent
	if added {
		events = append(events, w.tabEventLocked(schema.NavEventOpened, path))
	}
	navigate := w.tracker.SetActive(path)
	if prev != path {
		events = append(events, w.tabEventLocked(schema.NavEventActivated, path))
	}
	w.mu.Unlock()

	if added {
		w.log.Info("nav tab opened", "path", path, "label", tab.Label)
	}
	w.emit(events...)
	if navigate {
		w.bridge.Push(path)
	}
	return OpenResult{Tab: tab, Added: added, Active: path}
}

// Close removes the tab for path. Closing the active tab activates the last
// remaining tab; an empty registry leaves no active path.
func (w *Workspace) Close(path schema.Path) CloseResult {
	w.mu.Lock()
	if w.closed || !w.registry.Close(path) {
		active := w.tracker.Current()
		closed := w.closed
		w.mu.Unlock()
		if !closed && path == w.registry.Home() {
			w.log.Debug("nav home tab close refused", "path", path)
		}
		return CloseResult{Active: active}
	}
	events := []schema.NavEvent{w.tabEventLocked(schema.NavEventClosed, path)}
	var navigate schema.Path
	if w.tracker.Current() == path {
		next := schema.Path("")
		if last, ok := w.registry.Last(); ok {
			next = last.Path
		}
		if w.tracker.SetActive(next) {
			navigate = next
		}
		events = append(events, w.tabEventLocked(schema.NavEventActivated, next))
	}
	active := w.tracker.Current()
	w.mu.Unlock()

	w.log.Info("nav tab closed", "path", path, "active", active)
	w.emit(events...)
	w.bridge.Push(navigate)
	return CloseResult{Removed: true, Active: active}
}

// Activate focuses an open tab. Unknown paths leave the active path unchanged.
func (w *Workspace) Activate(path schema.Path) ActivateResult {
	w.mu.Lock()
	active := w.tracker.Current()
	if w.closed || !w.registry.Has(path) {
		w.mu.Unlock()
		return ActivateResult{Active: active}
	}
	navigate := w.tracker.SetActive(path)
	changed := active != path
	var events []schema.NavEvent
	if changed {
		events = append(events, w.tabEventLocked(schema.NavEventActivated, path))
	}
	w.mu.Unlock()

	if changed {
		w.log.Info("nav tab activated", "path", path)
	}
	w.emit(events...)
	if navigate {
		w.bridge.Push(path)
	}
	return ActivateResult{Active: path, Changed: changed}
}

// Reconcile applies a location reported by the host. A location with an
// open tab becomes active; any other location leaves the active path as is
// and never opens a tab.
func (w *Workspace) Reconcile(location schema.Path) ReconcileResult {
	w.mu.Lock()
	if w.closed {
		active := w.tracker.Current()
		w.mu.Unlock()
		return ReconcileResult{Active: active, Outcome: ObserveIgnored}
	}
	outcome := w.tracker.Observe(location)
	matched := w.registry.Has(location)
	prev := w.tracker.Current()
	events := []schema.NavEvent{w.tabEventLocked(schema.NavEventLocation, location)}
	if outcome == ObserveExternal && matched {
		w.tracker.SetActive(location)
	}
	active := w.tracker.Current()
	changed := active != prev
	if changed {
		events = append(events, w.tabEventLocked(schema.NavEventActivated, active))
	}
	w.mu.Unlock()

	w.log.Debug("nav location reconciled", "path", location, "outcome", outcome, "matched", matched, "active", active)
	w.emit(events...)
	return ReconcileResult{Active: active, Matched: matched, Changed: changed, Outcome: outcome}
}

// Tabs returns the open tabs and the active path.
func (w *Workspace) Tabs() ([]schema.Tab, schema.Path) {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.registry.List(), w.tracker.Current()
}

// Active returns the active path.
func (w *Workspace) Active() schema.Path {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.tracker.Current()
}

// Home returns the permanent home path.
func (w *Workspace) Home() schema.Path {
	return w.registry.Home()
}

// TrackerState returns the sync state of the active tab tracker.
func (w *Workspace) TrackerState() TrackerState {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.tracker.State()
}

// Menu returns the resolved menu and its load status.
func (w *Workspace) Menu() MenuState {
	w.mu.Lock()
	defer w.mu.Unlock()
	return MenuState{Entries: w.menuCopyLocked(), Status: w.status, Err: w.menuErr}
}

// View returns the view for the active path. If the active path is not an
// open tab the last open tab is rendered instead.
func (w *Workspace) View() schema.View {
	w.mu.Lock()
	active := w.tracker.Current()
	if active != "" && !w.registry.Has(active) {
		active = ""
		if last, ok := w.registry.Last(); ok {
			active = last.Path
		}
	}
	w.mu.Unlock()
	return w.views.Resolve(active)
}

// Snapshot returns the full workspace state.
func (w *Workspace) Snapshot() schema.WorkspaceSnapshot {
	w.mu.Lock()
	defer w.mu.Unlock()
	return schema.WorkspaceSnapshot{
		Tabs:       w.registry.List(),
		ActivePath: w.tracker.Current(),
		HomePath:   w.registry.Home(),
		Menu:       w.menuCopyLocked(),
		MenuStatus: w.status,
		MenuError:  w.menuErr,
	}
}

// Shutdown cancels in-flight loads, waits for them to exit and detaches from
// the router. Results of cancelled loads are discarded. Subsequent mutations
// are no-ops.
func (w *Workspace) Shutdown() {
	w.mu.Lock()
	if w.closed {
		w.mu.Unlock()
		return
	}
	w.closed = true
	stop := w.stop
	cancelLoad := w.cancelLoad
	w.cancelLoad = nil
	w.mu.Unlock()

	if cancelLoad != nil {
		cancelLoad()
	}
	if stop != nil {
		stop()
	}
	w.loads.Wait()
	w.bridge.Close()
	w.log.Info("nav workspace shutdown")
}

func (w *Workspace) emit(events ...schema.NavEvent) {
	if w.notify == nil {
		return
	}
	for _, event := range events {
		w.notify(event)
	}
}

func (w *Workspace) tabEventLocked(typ schema.NavEventType, path schema.Path) schema.NavEvent {
	tab, _ := w.registry.Get(path)
	if tab.Path == "" {
		tab.Path = path
	}
	return schema.NavEvent{
		UserID:     w.userID,
		SessionID:  w.sessionID,
		Type:       typ,
		Path:       path,
		Tab:        tab,
		Tabs:       w.registry.List(),
		ActivePath: w.tracker.Current(),
	}
}

func (w *Workspace) menuEventLocked() schema.NavEvent {
	return schema.NavEvent{
		UserID:     w.userID,
		SessionID:  w.sessionID,
		Type:       schema.NavEventMenu,
		Tabs:       w.registry.List(),
		ActivePath: w.tracker.Current(),
		Menu:       w.menuCopyLocked(),
		MenuStatus: w.status,
		MenuError:  w.menuErr,
	}
}

func (w *Workspace) menuCopyLocked() []schema.MenuEntry {
	if w.menu == nil {
		return []schema.MenuEntry{}
	}
	return slices.Clone(w.menu)
}
