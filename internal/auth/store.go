package auth

import (
	"context"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"slices"
	"sort"
	"strings"
	"sync"
	"syscall"
	"time"

	"github.com/pquerna/otp/totp"
	"golang.org/x/crypto/bcrypt"

	"pkt.systems/crmdesk/internal/appconfig"
	"pkt.systems/crmdesk/schema"
	"pkt.systems/pslog"
)

var (
	// ErrInvalidCredentials reports a bad username or password.
	ErrInvalidCredentials = errors.New("invalid credentials")
	// ErrInvalidTOTP reports a bad one-time code.
	ErrInvalidTOTP = errors.New("invalid totp")
	// ErrUserNotFound reports an unknown user.
	ErrUserNotFound = errors.New("user not found")
)

// User represents a stored user account.
type User struct {
	Username     string                       `json:"username"`
	PasswordHash string                       `json:"password_hash"`
	TOTPSecret   string                       `json:"totp_secret"`
	CompanyID    schema.CompanyID             `json:"company_id,omitempty"`
	Permissions  []schema.PermissionAttribute `json:"permissions,omitempty"`
}

// Store manages users stored on disk.
type Store struct {
	path      string
	mu        sync.RWMutex
	users     map[string]User
	fileState fileState
	log       pslog.Logger
}

// NewStore loads or seeds the user store.
func NewStore(path string, seeds []appconfig.SeedUser) (*Store, error) {
	return NewStoreWithLogger(path, seeds, nil)
}

// NewStoreWithLogger loads or seeds the user store with logging.
func NewStoreWithLogger(path string, seeds []appconfig.SeedUser, logger pslog.Logger) (*Store, error) {
	if path == "" {
		return nil, errors.New("user file path is required")
	}
	if logger != nil {
		logger = logger.With("user_file", path)
	}
	store := &Store{
		path:  path,
		users: make(map[string]User),
		log:   logger,
	}
	if err := store.ensureFile(seeds); err != nil {
		return nil, err
	}
	if err := store.loadFromDisk(); err != nil {
		return nil, err
	}
	return store, nil
}

// Authenticate verifies username, password, and totp.
func (s *Store) Authenticate(username, password, totpCode string) error {
	user, err := s.lookup(username)
	if err != nil {
		if errors.Is(err, ErrUserNotFound) {
			return ErrInvalidCredentials
		}
		return err
	}
	if err := bcrypt.CompareHashAndPassword([]byte(user.PasswordHash), []byte(password)); err != nil {
		return ErrInvalidCredentials
	}
	if !totp.Validate(totpCode, user.TOTPSecret) {
		return ErrInvalidTOTP
	}
	return nil
}

// ChangePassword verifies credentials and replaces the stored password hash.
func (s *Store) ChangePassword(username, currentPassword, totpCode, newPassword string) error {
	if strings.TrimSpace(newPassword) == "" {
		return errors.New("new password is required")
	}
	if err := s.Authenticate(username, currentPassword, totpCode); err != nil {
		return err
	}
	hash, err := bcrypt.GenerateFromPassword([]byte(newPassword), bcrypt.DefaultCost)
	if err != nil {
		return err
	}
	return s.UpdatePassword(username, string(hash))
}

// ValidateTOTP verifies the stored TOTP secret for a user.
func (s *Store) ValidateTOTP(username string, totpCode string) error {
	user, err := s.lookup(username)
	if err != nil {
		if errors.Is(err, ErrUserNotFound) {
			return ErrInvalidCredentials
		}
		return err
	}
	if !totp.Validate(totpCode, user.TOTPSecret) {
		return ErrInvalidTOTP
	}
	return nil
}

// Profile returns the company and permission set used to resolve the
// user's menu.
func (s *Store) Profile(ctx context.Context, userID schema.UserID) (schema.SessionProfile, error) {
	if err := ctx.Err(); err != nil {
		return schema.SessionProfile{}, err
	}
	user, err := s.lookup(string(userID))
	if err != nil {
		return schema.SessionProfile{}, err
	}
	perms := slices.Clone(user.Permissions)
	if perms == nil {
		perms = []schema.PermissionAttribute{}
	}
	return schema.SessionProfile{
		UserID:      schema.UserID(user.Username),
		CompanyID:   user.CompanyID,
		Permissions: perms,
	}, nil
}

// LoadUsers returns a snapshot of users.
func (s *Store) LoadUsers() []User {
	if err := s.refreshIfNeeded(); err != nil {
		if s.log != nil {
			s.log.Warn("auth store refresh failed", "err", err)
		}
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	users := make([]User, 0, len(s.users))
	for _, user := range s.users {
		user.Permissions = slices.Clone(user.Permissions)
		users = append(users, user)
	}
	return users
}

// AddUser inserts a new user and persists the store.
func (s *Store) AddUser(user User) error {
	if err := s.refreshIfNeeded(); err != nil {
		return err
	}
	username, err := validateUsername(user.Username)
	if err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.users[username]; ok {
		return errors.New("user already exists")
	}
	user.Username = username
	user.Permissions = normalizePermissions(user.Permissions)
	s.users[username] = user
	if err := s.saveLocked(); err != nil {
		delete(s.users, username)
		if s.log != nil {
			s.log.Warn("auth user add failed", "user", username, "err", err)
		}
		return err
	}
	if s.log != nil {
		s.log.Info("auth user added", "user", username, "company_id", user.CompanyID)
	}
	return nil
}

// UpdatePassword replaces the stored password hash.
func (s *Store) UpdatePassword(username, passwordHash string) error {
	if strings.TrimSpace(passwordHash) == "" {
		return errors.New("password hash is required")
	}
	return s.update(username, "password", func(user *User) error {
		user.PasswordHash = passwordHash
		return nil
	})
}

// UpdateTOTP replaces the stored TOTP secret.
func (s *Store) UpdateTOTP(username, secret string) error {
	if strings.TrimSpace(secret) == "" {
		return errors.New("totp secret is required")
	}
	return s.update(username, "totp", func(user *User) error {
		user.TOTPSecret = secret
		return nil
	})
}

// SetCompany moves the user to another company.
func (s *Store) SetCompany(username string, companyID schema.CompanyID) error {
	if companyID < 0 {
		return errors.New("company id must not be negative")
	}
	return s.update(username, "company", func(user *User) error {
		user.CompanyID = companyID
		return nil
	})
}

// SetPermission adds or replaces the permission for perm.ModuleID.
func (s *Store) SetPermission(username string, perm schema.PermissionAttribute) error {
	if perm.ModuleID <= 0 {
		return errors.New("module id must be positive")
	}
	perm.AttributeKey = strings.TrimSpace(perm.AttributeKey)
	perm.AttributeValue = strings.TrimSpace(perm.AttributeValue)
	return s.update(username, "permission", func(user *User) error {
		idx := slices.IndexFunc(user.Permissions, func(p schema.PermissionAttribute) bool {
			return p.ModuleID == perm.ModuleID
		})
		if idx >= 0 {
			user.Permissions[idx] = perm
		} else {
			user.Permissions = append(user.Permissions, perm)
		}
		user.Permissions = normalizePermissions(user.Permissions)
		return nil
	})
}

// RemovePermission drops the permission for moduleID.
func (s *Store) RemovePermission(username string, moduleID schema.ModuleID) error {
	return s.update(username, "permission", func(user *User) error {
		idx := slices.IndexFunc(user.Permissions, func(p schema.PermissionAttribute) bool {
			return p.ModuleID == moduleID
		})
		if idx < 0 {
			return errors.New("permission not found")
		}
		user.Permissions = slices.Delete(user.Permissions, idx, idx+1)
		return nil
	})
}

// DeleteUser removes a user.
func (s *Store) DeleteUser(username string) error {
	if err := s.refreshIfNeeded(); err != nil {
		return err
	}
	normalized, err := validateUsername(username)
	if err != nil {
		return err
	}
	username = normalized
	s.mu.Lock()
	defer s.mu.Unlock()
	user, ok := s.users[username]
	if !ok {
		return ErrUserNotFound
	}
	delete(s.users, username)
	if err := s.saveLocked(); err != nil {
		s.users[username] = user
		if s.log != nil {
			s.log.Warn("auth user delete failed", "user", username, "err", err)
		}
		return err
	}
	if s.log != nil {
		s.log.Info("auth user deleted", "user", username)
	}
	return nil
}

func (s *Store) lookup(username string) (User, error) {
	if err := s.refreshIfNeeded(); err != nil {
		return User{}, err
	}
	normalized, err := validateUsername(username)
	if err != nil {
		return User{}, err
	}
	s.mu.RLock()
	user, ok := s.users[normalized]
	s.mu.RUnlock()
	if !ok {
		return User{}, ErrUserNotFound
	}
	return user, nil
}

// update applies fn to a copy of the user and persists the result.
func (s *Store) update(username, what string, fn func(*User) error) error {
	if err := s.refreshIfNeeded(); err != nil {
		return err
	}
	normalized, err := validateUsername(username)
	if err != nil {
		return err
	}
	username = normalized
	s.mu.Lock()
	defer s.mu.Unlock()
	prev, ok := s.users[username]
	if !ok {
		return ErrUserNotFound
	}
	next := prev
	next.Permissions = slices.Clone(prev.Permissions)
	if err := fn(&next); err != nil {
		return err
	}
	s.users[username] = next
	if err := s.saveLocked(); err != nil {
		s.users[username] = prev
		if s.log != nil {
			s.log.Warn("auth "+what+" update failed", "user", username, "err", err)
		}
		return err
	}
	if s.log != nil {
		s.log.Info("auth "+what+" updated", "user", username)
	}
	return nil
}

func normalizePermissions(perms []schema.PermissionAttribute) []schema.PermissionAttribute {
	if len(perms) == 0 {
		return nil
	}
	out := slices.Clone(perms)
	slices.SortStableFunc(out, func(a, b schema.PermissionAttribute) int {
		switch {
		case a.ModuleID < b.ModuleID:
			return -1
		case a.ModuleID > b.ModuleID:
			return 1
		default:
			return 0
		}
	})
	return out
}

func (s *Store) ensureFile(seeds []appconfig.SeedUser) error {
	if _, statErr := os.Stat(s.path); statErr == nil {
		return nil
	} else if !os.IsNotExist(statErr) {
		if s.log != nil {
			s.log.Warn("auth store init failed", "err", statErr)
		}
		return statErr
	}
	if err := os.MkdirAll(filepath.Dir(s.path), 0o755); err != nil {
		if s.log != nil {
			s.log.Warn("auth store init failed", "err", err)
		}
		return err
	}
	users := make([]User, 0, len(seeds))
	for _, seed := range seeds {
		if _, err := validateUsername(seed.Username); err != nil {
			return err
		}
		users = append(users, User{
			Username:     seed.Username,
			PasswordHash: seed.PasswordHash,
			TOTPSecret:   seed.TOTPSecret,
			CompanyID:    seed.CompanyID,
			Permissions:  normalizePermissions(seed.Permissions),
		})
	}
	data, err := json.MarshalIndent(users, "", "  ")
	if err != nil {
		if s.log != nil {
			s.log.Warn("auth store init failed", "err", err)
		}
		return err
	}
	if err := os.WriteFile(s.path, data, 0o600); err != nil {
		if s.log != nil {
			s.log.Warn("auth store init failed", "err", err)
		}
		return err
	}
	if s.log != nil {
		s.log.Info("auth store initialized", "users", len(users))
	}
	return nil
}

func validateUsername(username string) (string, error) {
	if err := schema.ValidateUserID(schema.UserID(username)); err != nil {
		return "", errors.New("invalid username")
	}
	return username, nil
}

func (s *Store) saveLocked() error {
	keys := make([]string, 0, len(s.users))
	for key := range s.users {
		keys = append(keys, key)
	}
	sort.Strings(keys)
	users := make([]User, 0, len(keys))
	for _, key := range keys {
		users = append(users, s.users[key])
	}
	data, err := json.MarshalIndent(users, "", "  ")
	if err != nil {
		return s.saveFailed(err)
	}
	dir := filepath.Dir(s.path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return s.saveFailed(err)
	}
	tmp, err := os.CreateTemp(dir, "users-*.json")
	if err != nil {
		return s.saveFailed(err)
	}
	cleanup := func(err error) error {
		_ = tmp.Close()
		_ = os.Remove(tmp.Name())
		return s.saveFailed(err)
	}
	if _, err := tmp.Write(data); err != nil {
		return cleanup(err)
	}
	if err := tmp.Sync(); err != nil {
		return cleanup(err)
	}
	if err := tmp.Chmod(0o600); err != nil {
		return cleanup(err)
	}
	if err := tmp.Close(); err != nil {
		_ = os.Remove(tmp.Name())
		return s.saveFailed(err)
	}
	if err := os.Rename(tmp.Name(), s.path); err != nil {
		_ = os.Remove(tmp.Name())
		return s.saveFailed(err)
	}
	if info, err := os.Stat(s.path); err == nil {
		s.fileState = fileStateFromInfo(info)
	} else if s.log != nil {
		s.log.Warn("auth store save failed to stat", "err", err)
	}
	if s.log != nil {
		s.log.Debug("auth store save ok", "users", len(users))
	}
	return nil
}

func (s *Store) saveFailed(err error) error {
	if s.log != nil {
		s.log.Warn("auth store save failed", "err", err)
	}
	return err
}

type fileState struct {
	modTime time.Time
	size    int64
	inode   uint64
	dev     uint64
}

func fileStateFromInfo(info os.FileInfo) fileState {
	state := fileState{
		modTime: info.ModTime(),
		size:    info.Size(),
	}
	if stat, ok := info.Sys().(*syscall.Stat_t); ok {
		state.inode = stat.Ino
		state.dev = uint64(stat.Dev)
	}
	return state
}

func (s fileState) equal(other fileState) bool {
	return s.size == other.size &&
		s.modTime.Equal(other.modTime) &&
		s.inode == other.inode &&
		s.dev == other.dev
}

// refreshIfNeeded reloads the file when another process replaced it.
func (s *Store) refreshIfNeeded() error {
	info, err := os.Stat(s.path)
	if err != nil {
		if s.log != nil {
			s.log.Warn("auth store stat failed", "err", err)
		}
		return err
	}
	latest := fileStateFromInfo(info)
	s.mu.RLock()
	current := s.fileState
	s.mu.RUnlock()
	if current.equal(latest) {
		return nil
	}
	return s.loadFromDisk()
}

func (s *Store) loadFromDisk() error {
	data, err := os.ReadFile(s.path)
	if err != nil {
		return s.loadFailed(err)
	}
	var users []User
	if err := json.Unmarshal(data, &users); err != nil {
		return s.loadFailed(err)
	}
	info, err := os.Stat(s.path)
	if err != nil {
		return s.loadFailed(err)
	}
	next := make(map[string]User, len(users))
	for _, user := range users {
		if _, err := validateUsername(user.Username); err != nil {
			return s.loadFailed(err)
		}
		next[user.Username] = user
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.users = next
	s.fileState = fileStateFromInfo(info)
	if s.log != nil {
		s.log.Debug("auth store load ok", "users", len(users))
	}
	return nil
}

func (s *Store) loadFailed(err error) error {
	if s.log != nil {
		s.log.Warn("auth store load failed", "err", err)
	}
	return err
}
