package httpapi

import (
	"bytes"
	"context"
	"embed"
	"encoding/json"
	"errors"
	"fmt"
	"html"
	"io"
	"io/fs"
	"net/http"
	"path"
	"strconv"
	"strings"
	"time"

	"pkt.systems/crmdesk/internal/auth"
	"pkt.systems/crmdesk/internal/logx"
	"pkt.systems/crmdesk/internal/sessioninfo"
	"pkt.systems/crmdesk/nav"
	"pkt.systems/crmdesk/schema"
	"pkt.systems/pslog"
)

const (
	defaultSessionTTL = 12 * time.Hour
	sweepInterval     = time.Minute
	keepaliveInterval = 25 * time.Second
	maxBodyBytes      = 64 << 10
)

// Authenticator verifies username, password, and totp.
type Authenticator interface {
	Authenticate(username, password, totp string) error
	ChangePassword(username, currentPassword, totp, newPassword string) error
}

// Server serves the HTTP API and UI.
type Server struct {
	cfg       Config
	service   nav.Service
	authStore Authenticator
	sessions  *sessionStore
	hub       *Hub
	basePath  string
	baseHref  string
}

// NewServer constructs an HTTP server.
func NewServer(cfg Config, service nav.Service, authStore Authenticator, hub *Hub) *Server {
	ttl := time.Duration(cfg.SessionTTLHours) * time.Hour
	if ttl <= 0 {
		ttl = defaultSessionTTL
	}
	if hub == nil {
		hub = NewHub(cfg.HistorySize)
	}
	s := &Server{
		cfg:       cfg,
		service:   service,
		authStore: authStore,
		sessions:  newSessionStore(ttl, cfg.SessionFile),
		hub:       hub,
	}
	s.basePath, s.baseHref = basePaths(cfg.BaseURL, cfg.BasePath)
	s.sessions.setOnClose(s.sessionClosed)
	return s
}

// SetBaseContext sets the parent context for session lifetimes and starts
// expiring idle sessions until ctx is done.
func (s *Server) SetBaseContext(ctx context.Context) {
	if s == nil || ctx == nil {
		return
	}
	s.sessions.setBaseContext(ctx)
	go s.sessions.sweepLoop(ctx, sweepInterval)
}

// Handler returns an http.Handler for the server.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /", s.handleIndex)
	mux.Handle("GET /assets/", http.StripPrefix("/assets/", http.FileServer(http.FS(shellAssets))))

	mux.HandleFunc("POST /api/login", s.handleLogin)
	mux.HandleFunc("POST /api/logout", s.handleLogout)
	mux.HandleFunc("POST /api/chpasswd", s.requireSession(s.handleChangePassword))
	mux.HandleFunc("GET /api/me", s.requireSession(s.handleMe))
	mux.HandleFunc("GET /api/workspace", s.requireSession(s.handleWorkspace))
	mux.HandleFunc("GET /api/tabs", s.requireSession(s.handleListTabs))
	mux.HandleFunc("POST /api/tabs", s.requireSession(s.handleOpenTab))
	mux.HandleFunc("POST /api/tabs/activate", s.requireSession(s.handleActivateTab))
	mux.HandleFunc("POST /api/tabs/close", s.requireSession(s.handleCloseTab))
	mux.HandleFunc("POST /api/location", s.requireSession(s.handleLocation))
	mux.HandleFunc("GET /api/menu", s.requireSession(s.handleMenu))
	mux.HandleFunc("POST /api/menu/refresh", s.requireSession(s.handleMenuRefresh))
	mux.HandleFunc("GET /api/view", s.requireSession(s.handleView))
	mux.HandleFunc("GET /api/stream", s.requireSession(s.handleStream))

	handler := withRequestLogging(mux)
	if s.basePath == "" {
		return handler
	}
	prefix := s.basePath
	root := http.NewServeMux()
	root.Handle(prefix+"/", http.StripPrefix(prefix, handler))
	root.HandleFunc(prefix, func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != prefix {
			http.NotFound(w, r)
			return
		}
		http.Redirect(w, r, prefix+"/", http.StatusTemporaryRedirect)
	})
	return root
}

// handleIndex serves the shell for "/" and for any client-side route, so a
// reload on /leadcardview still boots the app.
func (s *Server) handleIndex(w http.ResponseWriter, r *http.Request) {
	if strings.HasPrefix(r.URL.Path, "/api/") || path.Ext(r.URL.Path) != "" {
		http.NotFound(w, r)
		return
	}
	data, err := fs.ReadFile(shellAssets, "index.html")
	if err != nil {
		http.Error(w, "index not found", http.StatusInternalServerError)
		return
	}
	stat, err := fs.Stat(shellAssets, "index.html")
	if err != nil {
		http.Error(w, "index not found", http.StatusInternalServerError)
		return
	}
	// Client routes are nested paths, so relative asset and api URLs always
	// need an explicit base.
	baseHref := s.baseHref
	if baseHref == "" {
		baseHref = "/"
	}
	data = applyBaseHref(data, baseHref)
	w.Header().Set("Cache-Control", "no-cache")
	http.ServeContent(w, r, "index.html", stat.ModTime(), bytes.NewReader(data))
}

const baseHrefPlaceholder = "<!-- BASE_HREF -->"

func applyBaseHref(data []byte, baseHref string) []byte {
	replacement := ""
	if strings.TrimSpace(baseHref) != "" {
		replacement = fmt.Sprintf(`<base href="%s" />`, html.EscapeString(baseHref))
	}
	return bytes.ReplaceAll(data, []byte(baseHrefPlaceholder), []byte(replacement))
}

func (s *Server) handleLogin(w http.ResponseWriter, r *http.Request) {
	log := logx.Ctx(r.Context())
	var payload struct {
		Username string `json:"username"`
		Password string `json:"password"`
		TOTP     string `json:"totp"`
	}
	if err := decodeJSON(r.Body, &payload); err != nil {
		log.Warn("http login decode failed", "err", err)
		writeError(w, http.StatusBadRequest, err)
		return
	}
	log = log.With("user", payload.Username)
	if err := s.authStore.Authenticate(payload.Username, payload.Password, payload.TOTP); err != nil {
		log.Warn("http login failed", "err", err)
		writeError(w, http.StatusUnauthorized, errors.New("invalid credentials"))
		return
	}
	userID := schema.UserID(payload.Username)
	token, sess := s.sessions.create(userID)
	if err := s.ensureWorkspace(r.Context(), token, sess); err != nil {
		s.sessions.delete(token)
		log.Warn("http login workspace failed", "err", err)
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	http.SetCookie(w, &http.Cookie{
		Name:     s.cfg.SessionCookie,
		Value:    token,
		Path:     s.cookiePath(),
		HttpOnly: true,
		SameSite: http.SameSiteLaxMode,
		Expires:  sess.expiresAt,
	})
	writeJSON(w, http.StatusOK, map[string]any{"username": payload.Username, "session": sess.id})
	log.Info("http login ok", "session", sess.id)
}

func (s *Server) handleLogout(w http.ResponseWriter, r *http.Request) {
	token := s.sessionToken(r)
	log := logx.Ctx(r.Context())
	if token != "" {
		if entry, ok := s.sessions.get(token); ok {
			log = log.With("user", entry.userID, "session", entry.id)
		}
		s.sessions.delete(token)
	}
	http.SetCookie(w, &http.Cookie{
		Name:     s.cfg.SessionCookie,
		Value:    "",
		Path:     s.cookiePath(),
		HttpOnly: true,
		MaxAge:   -1,
	})
	writeJSON(w, http.StatusOK, map[string]any{"ok": true})
	log.Info("http logout")
}

func (s *Server) handleChangePassword(w http.ResponseWriter, r *http.Request, sess session) {
	log := logx.Ctx(r.Context())
	var payload struct {
		CurrentPassword string `json:"current_password"`
		TOTP            string `json:"totp"`
		NewPassword     string `json:"new_password"`
		ConfirmPassword string `json:"confirm_password"`
	}
	if err := decodeJSON(r.Body, &payload); err != nil {
		log.Warn("http chpasswd decode failed", "err", err)
		writeError(w, http.StatusBadRequest, err)
		return
	}
	switch {
	case strings.TrimSpace(payload.CurrentPassword) == "":
		writeError(w, http.StatusBadRequest, errors.New("current password is required"))
		return
	case strings.TrimSpace(payload.NewPassword) == "":
		writeError(w, http.StatusBadRequest, errors.New("new password is required"))
		return
	case payload.NewPassword != payload.ConfirmPassword:
		writeError(w, http.StatusBadRequest, errors.New("passwords do not match"))
		return
	case strings.TrimSpace(payload.TOTP) == "":
		writeError(w, http.StatusBadRequest, errors.New("totp is required"))
		return
	}
	if err := s.authStore.ChangePassword(string(sess.userID), payload.CurrentPassword, payload.TOTP, payload.NewPassword); err != nil {
		log.Warn("http chpasswd failed", "err", err)
		status := http.StatusInternalServerError
		if errors.Is(err, auth.ErrInvalidCredentials) || errors.Is(err, auth.ErrInvalidTOTP) {
			status = http.StatusUnauthorized
		}
		writeError(w, status, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"ok": true})
	log.Info("http chpasswd ok")
}

func (s *Server) handleMe(w http.ResponseWriter, r *http.Request, sess session) {
	writeJSON(w, http.StatusOK, map[string]any{
		"username": sess.userID,
		"session":  sess.id,
		"expires":  sess.expiresAt,
	})
}

func (s *Server) handleWorkspace(w http.ResponseWriter, r *http.Request, sess session) {
	resp, err := s.service.GetWorkspace(sessionContext(r.Context()), schema.GetWorkspaceRequest{UserID: sess.userID, SessionID: sess.id})
	if err != nil {
		s.fail(w, r, "workspace", err)
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handleListTabs(w http.ResponseWriter, r *http.Request, sess session) {
	resp, err := s.service.ListTabs(sessionContext(r.Context()), schema.ListTabsRequest{UserID: sess.userID, SessionID: sess.id})
	if err != nil {
		s.fail(w, r, "tabs list", err)
		return
	}
	writeJSON(w, http.StatusOK, resp)
	logx.Ctx(r.Context()).Debug("http tabs list ok", "count", len(resp.Tabs))
}

type pathPayload struct {
	Path  string `json:"path"`
	Label string `json:"label,omitempty"`
}

func (s *Server) handleOpenTab(w http.ResponseWriter, r *http.Request, sess session) {
	var payload pathPayload
	if err := decodeJSON(r.Body, &payload); err != nil {
		s.fail(w, r, "tabs open decode", badRequest(err))
		return
	}
	resp, err := s.service.OpenTab(sessionContext(r.Context()), schema.OpenTabRequest{
		UserID:    sess.userID,
		SessionID: sess.id,
		Path:      schema.Path(payload.Path),
		Label:     payload.Label,
	})
	if err != nil {
		s.fail(w, r, "tabs open", err)
		return
	}
	writeJSON(w, http.StatusOK, resp)
	logx.Ctx(r.Context()).Info("http tabs open ok", "path", resp.Tab.Path, "added", resp.Added)
}

func (s *Server) handleActivateTab(w http.ResponseWriter, r *http.Request, sess session) {
	var payload pathPayload
	if err := decodeJSON(r.Body, &payload); err != nil {
		s.fail(w, r, "tabs activate decode", badRequest(err))
		return
	}
	resp, err := s.service.ActivateTab(sessionContext(r.Context()), schema.ActivateTabRequest{
		UserID:    sess.userID,
		SessionID: sess.id,
		Path:      schema.Path(payload.Path),
	})
	if err != nil {
		s.fail(w, r, "tabs activate", err)
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handleCloseTab(w http.ResponseWriter, r *http.Request, sess session) {
	var payload pathPayload
	if err := decodeJSON(r.Body, &payload); err != nil {
		s.fail(w, r, "tabs close decode", badRequest(err))
		return
	}
	resp, err := s.service.CloseTab(sessionContext(r.Context()), schema.CloseTabRequest{
		UserID:    sess.userID,
		SessionID: sess.id,
		Path:      schema.Path(payload.Path),
	})
	if err != nil {
		s.fail(w, r, "tabs close", err)
		return
	}
	writeJSON(w, http.StatusOK, resp)
	logx.Ctx(r.Context()).Info("http tabs close ok", "path", payload.Path, "removed", resp.Removed)
}

func (s *Server) handleLocation(w http.ResponseWriter, r *http.Request, sess session) {
	var payload pathPayload
	if err := decodeJSON(r.Body, &payload); err != nil {
		s.fail(w, r, "location decode", badRequest(err))
		return
	}
	resp, err := s.service.ReportLocation(sessionContext(r.Context()), schema.ReportLocationRequest{
		UserID:    sess.userID,
		SessionID: sess.id,
		Path:      schema.Path(payload.Path),
	})
	if err != nil {
		s.fail(w, r, "location", err)
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handleMenu(w http.ResponseWriter, r *http.Request, sess session) {
	resp, err := s.service.GetMenu(sessionContext(r.Context()), schema.GetMenuRequest{UserID: sess.userID, SessionID: sess.id})
	if err != nil {
		s.fail(w, r, "menu", err)
		return
	}
	if resp.Entries == nil {
		resp.Entries = []schema.MenuEntry{}
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handleMenuRefresh(w http.ResponseWriter, r *http.Request, sess session) {
	resp, err := s.service.RefreshMenu(sessionContext(r.Context()), schema.RefreshMenuRequest{UserID: sess.userID, SessionID: sess.id})
	if err != nil {
		s.fail(w, r, "menu refresh", err)
		return
	}
	writeJSON(w, http.StatusAccepted, resp)
}

func (s *Server) handleView(w http.ResponseWriter, r *http.Request, sess session) {
	resp, err := s.service.GetView(sessionContext(r.Context()), schema.GetViewRequest{UserID: sess.userID, SessionID: sess.id})
	if err != nil {
		s.fail(w, r, "view", err)
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handleStream(w http.ResponseWriter, r *http.Request, sess session) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		writeError(w, http.StatusInternalServerError, errors.New("stream unsupported"))
		return
	}
	log := logx.Ctx(r.Context())
	ctx := sessionContext(r.Context())

	// Subscribe before the snapshot so nothing published in between is lost.
	ch, unsubscribe := s.hub.Subscribe(sess.userID, sess.id)
	defer unsubscribe()

	lastID := parseUint(r.Header.Get("Last-Event-ID"))
	seq := s.hub.Seq(sess.id)
	var replay []StreamEvent
	resumed := false
	if lastID > 0 {
		replay, resumed = s.hub.Replay(sess.id, lastID)
	}
	var snapshot *schema.WorkspaceSnapshot
	if !resumed {
		resp, err := s.service.GetWorkspace(ctx, schema.GetWorkspaceRequest{UserID: sess.userID, SessionID: sess.id})
		if err != nil {
			s.fail(w, r, "stream", err)
			return
		}
		snapshot = &resp.Workspace
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)

	replayCount := 0
	if snapshot != nil {
		_ = writeSSEvent(w, StreamEvent{
			Seq:       seq,
			Type:      "snapshot",
			Snapshot:  snapshot,
			Timestamp: time.Now(),
		})
	} else {
		for _, event := range replay {
			if event.Seq > seq {
				break
			}
			_ = writeSSEvent(w, event)
			replayCount++
		}
	}
	flusher.Flush()

	keepalive := time.NewTicker(keepaliveInterval)
	defer keepalive.Stop()
	log.Info("http stream opened", "last_id", lastID, "resumed", resumed, "replay", replayCount)
	for {
		select {
		case <-r.Context().Done():
			log.Info("http stream closed")
			return
		case <-keepalive.C:
			_, _ = io.WriteString(w, ": keepalive\n\n")
			flusher.Flush()
		case event, ok := <-ch:
			if !ok {
				log.Info("http stream ended", "reason", "session closed")
				return
			}
			if event.Seq <= seq {
				continue
			}
			_ = writeSSEvent(w, event)
			flusher.Flush()
		}
	}
}

// ensureWorkspace opens the navigation workspace of a session the first time
// it is used.
func (s *Server) ensureWorkspace(ctx context.Context, token string, sess session) error {
	if !s.sessions.claimOpen(token) {
		return nil
	}
	log := logx.WithUserSession(ctx, sess.userID, sess.id)
	wsCtx := pslog.ContextWithLogger(sess.ctx, log)
	_, err := s.service.OpenSession(wsCtx, schema.OpenSessionRequest{
		UserID:    sess.userID,
		SessionID: sess.id,
	})
	if errors.Is(err, schema.ErrSessionExists) {
		return nil
	}
	if err != nil {
		s.sessions.releaseOpen(token)
		return err
	}
	return nil
}

func (s *Server) sessionClosed(sess session) {
	if s.service != nil {
		_, _ = s.service.CloseSession(context.Background(), schema.CloseSessionRequest{UserID: sess.userID, SessionID: sess.id})
	}
	s.hub.Drop(sess.id)
}

func (s *Server) requireSession(next func(http.ResponseWriter, *http.Request, session)) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		log := logx.Ctx(r.Context())
		token := s.sessionToken(r)
		if token == "" {
			log.Debug("http session missing")
			writeError(w, http.StatusUnauthorized, errors.New("missing session"))
			return
		}
		entry, ok := s.sessions.get(token)
		if !ok {
			log.Warn("http session invalid")
			writeError(w, http.StatusUnauthorized, errors.New("invalid session"))
			return
		}
		if info := sessioninfo.FromContext(r.Context()); info != nil {
			info.UserID = entry.userID
			info.SessionID = entry.id
		}
		log = log.With("user", entry.userID, "session", entry.id)
		ctx := logx.ContextWithUserSessionLogger(r.Context(), log, entry.userID, entry.id)
		if err := s.ensureWorkspace(ctx, token, entry); err != nil {
			log.Warn("http workspace open failed", "err", err)
			writeError(w, http.StatusInternalServerError, err)
			return
		}
		ctx = withSessionContext(ctx, entry)
		next(w, r.WithContext(ctx), entry)
	}
}

type sessionContextKey struct{}

func withSessionContext(ctx context.Context, sess session) context.Context {
	if ctx == nil {
		return ctx
	}
	return context.WithValue(ctx, sessionContextKey{}, sess)
}

// sessionContext returns the session lifetime context carrying the request
// logger, so work started by a request outlives the request but not the
// session.
func sessionContext(ctx context.Context) context.Context {
	if ctx == nil {
		return nil
	}
	sess, ok := ctx.Value(sessionContextKey{}).(session)
	if !ok || sess.ctx == nil {
		return ctx
	}
	logger := pslog.Ctx(ctx)
	return logx.CopyContextFields(pslog.ContextWithLogger(sess.ctx, logger), ctx)
}

func (s *Server) sessionToken(r *http.Request) string {
	cookie, err := r.Cookie(s.cfg.SessionCookie)
	if err != nil {
		return ""
	}
	return cookie.Value
}

//go:embed assets
var embeddedAssets embed.FS

// shellAssets is the web client rooted at the assets directory.
var shellAssets = func() fs.FS {
	sub, err := fs.Sub(embeddedAssets, "assets")
	if err != nil {
		panic(err)
	}
	return sub
}()

// basePaths returns the mount prefix ("" or "/crmdesk") and the shell's
// <base href>, which is empty when neither a public URL nor a prefix is set.
func basePaths(baseURL, basePath string) (prefix, href string) {
	prefix = strings.TrimRight(strings.TrimSpace(basePath), "/")
	if prefix != "" && !strings.HasPrefix(prefix, "/") {
		prefix = "/" + prefix
	}
	origin := strings.TrimRight(strings.TrimSpace(baseURL), "/")
	if origin == "" && prefix == "" {
		return "", ""
	}
	return prefix, origin + prefix + "/"
}

func (s *Server) cookiePath() string {
	if s.basePath == "" {
		return "/"
	}
	return s.basePath + "/"
}

func (s *Server) fail(w http.ResponseWriter, r *http.Request, op string, err error) {
	status := statusFor(err)
	log := logx.Ctx(r.Context())
	if status >= http.StatusInternalServerError {
		log.Warn("http "+op+" failed", "err", err)
	} else {
		log.Debug("http "+op+" rejected", "err", err, "status", status)
	}
	writeError(w, status, err)
}

type requestError struct {
	err error
}

func (e requestError) Error() string { return e.err.Error() }
func (e requestError) Unwrap() error { return e.err }

func badRequest(err error) error {
	return requestError{err: err}
}

func statusFor(err error) int {
	var reqErr requestError
	switch {
	case errors.As(err, &reqErr):
		return http.StatusBadRequest
	case errors.Is(err, schema.ErrInvalidPath),
		errors.Is(err, schema.ErrInvalidRequest),
		errors.Is(err, schema.ErrInvalidUser),
		errors.Is(err, schema.ErrInvalidSession):
		return http.StatusBadRequest
	case errors.Is(err, schema.ErrSessionNotFound):
		return http.StatusNotFound
	case errors.Is(err, context.Canceled):
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

func decodeJSON(body io.Reader, target any) error {
	decoder := json.NewDecoder(io.LimitReader(body, maxBodyBytes))
	decoder.DisallowUnknownFields()
	return decoder.Decode(target)
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	data, _ := json.Marshal(payload)
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_, _ = w.Write(data)
}

func writeError(w http.ResponseWriter, status int, err error) {
	writeJSON(w, status, map[string]any{"error": err.Error()})
}

func writeSSEvent(w io.Writer, event StreamEvent) error {
	data, err := json.Marshal(event)
	if err != nil {
		return err
	}
	if event.Seq > 0 {
		_, _ = fmt.Fprintf(w, "id: %d\n", event.Seq)
	}
	_, err = fmt.Fprintf(w, "data: %s\n\n", data)
	return err
}

func parseUint(value string) uint64 {
	if value == "" {
		return 0
	}
	parsed, err := strconv.ParseUint(value, 10, 64)
	if err != nil {
		return 0
	}
	return parsed
}
