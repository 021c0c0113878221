package httpapi

import (
	"context"
	"crypto/rand"
	"encoding/base64"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"pkt.systems/crmdesk/internal/logx"
	"pkt.systems/crmdesk/schema"
)

type session struct {
	id        schema.SessionID
	userID    schema.UserID
	expiresAt time.Time
	ctx       context.Context
	cancel    context.CancelFunc
	// opened is set once a workspace has been requested for the session.
	opened bool
}

type sessionStore struct {
	mu      sync.Mutex
	ttl     time.Duration
	baseCtx context.Context
	items   map[string]session
	path    string
	onClose func(session)
}

func newSessionStore(ttl time.Duration, path string) *sessionStore {
	store := &sessionStore{
		ttl:     ttl,
		baseCtx: context.TODO(),
		items:   make(map[string]session),
		path:    strings.TrimSpace(path),
	}
	if store.path != "" {
		if err := store.load(); err != nil {
			logx.Ctx(context.Background()).Warn("session store load failed", "err", err)
		}
	}
	return store
}

func (s *sessionStore) create(userID schema.UserID) (string, session) {
	token := randomToken(32)
	entry := s.newSession(userID, time.Now().Add(s.ttl), "")
	s.mu.Lock()
	s.items[token] = entry
	s.mu.Unlock()
	s.persist()
	logx.WithUserSession(context.Background(), userID, entry.id).Info("session created", "expires", entry.expiresAt.Format(time.RFC3339))
	return token, entry
}

func (s *sessionStore) get(token string) (session, bool) {
	s.mu.Lock()
	entry, ok := s.items[token]
	if !ok {
		s.mu.Unlock()
		return session{}, false
	}
	if time.Now().After(entry.expiresAt) {
		delete(s.items, token)
		s.mu.Unlock()
		s.closed(entry, "session expired")
		s.persist()
		return session{}, false
	}
	s.mu.Unlock()
	return entry, true
}

// claimOpen reports whether the caller should open the session workspace.
// Only the first caller per session gets true.
func (s *sessionStore) claimOpen(token string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	entry, ok := s.items[token]
	if !ok || entry.opened {
		return false
	}
	entry.opened = true
	s.items[token] = entry
	return true
}

func (s *sessionStore) releaseOpen(token string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if entry, ok := s.items[token]; ok {
		entry.opened = false
		s.items[token] = entry
	}
}

func (s *sessionStore) delete(token string) {
	s.mu.Lock()
	entry, ok := s.items[token]
	if ok {
		delete(s.items, token)
	}
	s.mu.Unlock()
	if ok {
		s.closed(entry, "session deleted")
		s.persist()
	}
}

// sweep drops expired sessions and returns how many were removed.
func (s *sessionStore) sweep(now time.Time) int {
	s.mu.Lock()
	var expired []session
	for token, entry := range s.items {
		if now.After(entry.expiresAt) {
			delete(s.items, token)
			expired = append(expired, entry)
		}
	}
	s.mu.Unlock()
	for _, entry := range expired {
		s.closed(entry, "session expired")
	}
	if len(expired) > 0 {
		s.persist()
	}
	return len(expired)
}

func (s *sessionStore) sweepLoop(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case now := <-ticker.C:
			if n := s.sweep(now); n > 0 {
				logx.Ctx(ctx).Debug("session sweep", "expired", n)
			}
		}
	}
}

func (s *sessionStore) closed(entry session, msg string) {
	if entry.cancel != nil {
		entry.cancel()
	}
	logx.WithUserSession(context.Background(), entry.userID, entry.id).Info(msg)
	s.mu.Lock()
	onClose := s.onClose
	s.mu.Unlock()
	if onClose != nil {
		onClose(entry)
	}
}

func (s *sessionStore) setOnClose(fn func(session)) {
	s.mu.Lock()
	s.onClose = fn
	s.mu.Unlock()
}

func (s *sessionStore) setBaseContext(ctx context.Context) {
	if ctx == nil {
		return
	}
	s.mu.Lock()
	s.baseCtx = ctx
	for token, entry := range s.items {
		if entry.cancel != nil {
			entry.cancel()
		}
		entry.ctx, entry.cancel = context.WithCancel(ctx)
		entry.opened = false
		s.items[token] = entry
	}
	s.mu.Unlock()
	logx.Ctx(context.Background()).Debug("session base context set")
}

func (s *sessionStore) baseContext() context.Context {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.baseCtx != nil {
		return s.baseCtx
	}
	return context.TODO()
}

func randomToken(size int) string {
	buf := make([]byte, size)
	if _, err := rand.Read(buf); err != nil {
		return ""
	}
	return base64.RawURLEncoding.EncodeToString(buf)
}

type sessionRecord struct {
	Token     string    `json:"token"`
	SessionID string    `json:"session_id"`
	UserID    string    `json:"user_id"`
	ExpiresAt time.Time `json:"expires_at"`
}

type sessionFile struct {
	Version  int             `json:"version"`
	Sessions []sessionRecord `json:"sessions"`
}

func (s *sessionStore) newSession(userID schema.UserID, expiresAt time.Time, sessionID schema.SessionID) session {
	if schema.ValidateSessionID(sessionID) != nil {
		sessionID = schema.SessionID(uuid.NewString())
	}
	ctx, cancel := context.WithCancel(s.baseContext())
	return session{
		id:        sessionID,
		userID:    userID,
		expiresAt: expiresAt,
		ctx:       ctx,
		cancel:    cancel,
	}
}

func (s *sessionStore) load() error {
	data, err := os.ReadFile(s.path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return err
	}
	var file sessionFile
	if err := json.Unmarshal(data, &file); err != nil {
		return err
	}
	now := time.Now()
	entries := make(map[string]session)
	for _, record := range file.Sessions {
		if strings.TrimSpace(record.Token) == "" {
			continue
		}
		if schema.ValidateUserID(schema.UserID(record.UserID)) != nil {
			continue
		}
		if now.After(record.ExpiresAt) {
			continue
		}
		entries[record.Token] = s.newSession(schema.UserID(record.UserID), record.ExpiresAt, schema.SessionID(record.SessionID))
	}
	s.mu.Lock()
	s.items = entries
	s.mu.Unlock()
	if len(file.Sessions) != len(entries) {
		s.persist()
	}
	logx.Ctx(context.Background()).Info("session store loaded", "sessions", len(entries))
	return nil
}

func (s *sessionStore) persist() {
	if s.path == "" {
		return
	}
	if err := writeSessionFile(s.path, s.snapshot()); err != nil {
		logx.Ctx(context.Background()).Warn("session store save failed", "err", err)
	}
}

func (s *sessionStore) snapshot() []sessionRecord {
	s.mu.Lock()
	defer s.mu.Unlock()
	records := make([]sessionRecord, 0, len(s.items))
	for token, entry := range s.items {
		records = append(records, sessionRecord{
			Token:     token,
			SessionID: string(entry.id),
			UserID:    string(entry.userID),
			ExpiresAt: entry.expiresAt,
		})
	}
	return records
}

func writeSessionFile(path string, records []sessionRecord) error {
	data, err := json.MarshalIndent(sessionFile{Version: 1, Sessions: records}, "", "  ")
	if err != nil {
		return err
	}
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return err
	}
	tmp, err := os.CreateTemp(dir, "sessions-*.json")
	if err != nil {
		return err
	}
	if _, err := tmp.Write(data); err != nil {
		_ = tmp.Close()
		_ = os.Remove(tmp.Name())
		return err
	}
	if err := tmp.Chmod(0o600); err != nil {
		_ = tmp.Close()
		_ = os.Remove(tmp.Name())
		return err
	}
	if err := tmp.Close(); err != nil {
		_ = os.Remove(tmp.Name())
		return err
	}
	return os.Rename(tmp.Name(), path)
}
