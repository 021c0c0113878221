package main

import (
	"bytes"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/google/go-cmp/cmp"
	"gopkg.in/yaml.v3"

	"pkt.systems/crmdesk/internal/appconfig"
	"pkt.systems/crmdesk/internal/auth"
	"pkt.systems/crmdesk/internal/modules"
	"pkt.systems/crmdesk/schema"
)

func TestUsersAddRejectsInvalidUsername(t *testing.T) {
	cfgPath := writeTestConfig(t)

	cmd := newUsersCmd()
	cmd.SetArgs([]string{"-c", cfgPath, "add", "BadUser", "--auto-password"})
	cmd.SetOut(&bytes.Buffer{})
	cmd.SetErr(&bytes.Buffer{})

	if err := cmd.Execute(); err == nil {
		t.Fatalf("expected error for invalid username")
	}
}

func TestUsersAddAndDeleteValidUsername(t *testing.T) {
	cfgPath := writeTestConfig(t)
	cfg := loadConfigFromPath(t, cfgPath)

	out := &bytes.Buffer{}
	cmd := newUsersCmd()
	cmd.SetArgs([]string{"-c", cfgPath, "add", "alice.dev", "--auto-password", "--company", "101", "--grant", "1,2"})
	cmd.SetOut(out)
	cmd.SetErr(&bytes.Buffer{})
	if err := cmd.Execute(); err != nil {
		t.Fatalf("add user: %v", err)
	}
	for _, want := range []string{"username: alice.dev", "password: ", "totp_secret: ", "otpauth_url: otpauth://totp/"} {
		if !strings.Contains(out.String(), want) {
			t.Fatalf("expected %q in enrollment output, got %q", want, out.String())
		}
	}

	store, err := auth.NewStoreWithLogger(cfg.Auth.UserFile, nil, nil)
	if err != nil {
		t.Fatalf("load store: %v", err)
	}
	user := findUser(store.LoadUsers(), "alice.dev")
	if user == nil {
		t.Fatalf("expected alice.dev in store, got %+v", store.LoadUsers())
	}
	if user.CompanyID != 101 {
		t.Fatalf("expected company 101, got %d", user.CompanyID)
	}
	want := []schema.PermissionAttribute{{ModuleID: 1, Active: true}, {ModuleID: 2, Active: true}}
	if diff := cmp.Diff(want, user.Permissions); diff != "" {
		t.Fatalf("permissions mismatch (-want +got):\n%s", diff)
	}

	cmd = newUsersCmd()
	cmd.SetArgs([]string{"-c", cfgPath, "delete", "alice.dev"})
	cmd.SetOut(&bytes.Buffer{})
	cmd.SetErr(&bytes.Buffer{})
	if err := cmd.Execute(); err != nil {
		t.Fatalf("delete user: %v", err)
	}

	store, err = auth.NewStoreWithLogger(cfg.Auth.UserFile, nil, nil)
	if err != nil {
		t.Fatalf("reload store: %v", err)
	}
	if hasUser(store.LoadUsers(), "alice.dev") {
		t.Fatalf("expected alice.dev to be removed")
	}
}

func TestUsersAddRejectsDuplicate(t *testing.T) {
	cfgPath := writeTestConfig(t)

	cmd := newUsersCmd()
	cmd.SetArgs([]string{"-c", cfgPath, "add", "admin", "--auto-password"})
	cmd.SetOut(&bytes.Buffer{})
	cmd.SetErr(&bytes.Buffer{})
	if err := cmd.Execute(); err == nil {
		t.Fatalf("expected error for existing user")
	}
}

func TestUsersAddPasswordFromStdin(t *testing.T) {
	cfgPath := writeTestConfig(t)

	out := &bytes.Buffer{}
	cmd := newUsersCmd()
	cmd.SetArgs([]string{"-c", cfgPath, "add", "dave", "--password-from-stdin"})
	cmd.SetIn(strings.NewReader("hunter22\n"))
	cmd.SetOut(out)
	cmd.SetErr(&bytes.Buffer{})
	if err := cmd.Execute(); err != nil {
		t.Fatalf("add user: %v", err)
	}
	if strings.Contains(out.String(), "hunter22") {
		t.Fatalf("expected supplied password to stay out of the output")
	}

	cmd = newUsersCmd()
	cmd.SetArgs([]string{"-c", cfgPath, "add", "erin", "--password-from-stdin", "--auto-password"})
	cmd.SetOut(&bytes.Buffer{})
	cmd.SetErr(&bytes.Buffer{})
	if err := cmd.Execute(); err == nil {
		t.Fatalf("expected error when combining password flags")
	}
}

func TestUsersRotateTOTP(t *testing.T) {
	cfgPath := writeTestConfig(t)
	cfg := loadConfigFromPath(t, cfgPath)

	cmd := newUsersCmd()
	cmd.SetArgs([]string{"-c", cfgPath, "add", "bob", "--auto-password"})
	cmd.SetOut(&bytes.Buffer{})
	cmd.SetErr(&bytes.Buffer{})
	if err := cmd.Execute(); err != nil {
		t.Fatalf("add user: %v", err)
	}

	store, err := auth.NewStoreWithLogger(cfg.Auth.UserFile, nil, nil)
	if err != nil {
		t.Fatalf("load store: %v", err)
	}
	orig := findUser(store.LoadUsers(), "bob")
	if orig == nil {
		t.Fatalf("expected bob user")
	}

	cmd = newUsersCmd()
	cmd.SetArgs([]string{"-c", cfgPath, "rotate-totp", "bob"})
	cmd.SetOut(&bytes.Buffer{})
	cmd.SetErr(&bytes.Buffer{})
	if err := cmd.Execute(); err != nil {
		t.Fatalf("rotate totp: %v", err)
	}

	store, err = auth.NewStoreWithLogger(cfg.Auth.UserFile, nil, nil)
	if err != nil {
		t.Fatalf("reload store: %v", err)
	}
	updated := findUser(store.LoadUsers(), "bob")
	if updated == nil {
		t.Fatalf("expected bob user after rotate")
	}
	if updated.TOTPSecret == orig.TOTPSecret {
		t.Fatalf("expected totp secret to change")
	}
}

func TestUsersChpasswd(t *testing.T) {
	cfgPath := writeTestConfig(t)
	cfg := loadConfigFromPath(t, cfgPath)

	cmd := newUsersCmd()
	cmd.SetArgs([]string{"-c", cfgPath, "add", "carol", "--auto-password"})
	cmd.SetOut(&bytes.Buffer{})
	cmd.SetErr(&bytes.Buffer{})
	if err := cmd.Execute(); err != nil {
		t.Fatalf("add user: %v", err)
	}

	store, err := auth.NewStoreWithLogger(cfg.Auth.UserFile, nil, nil)
	if err != nil {
		t.Fatalf("load store: %v", err)
	}
	orig := findUser(store.LoadUsers(), "carol")
	if orig == nil {
		t.Fatalf("expected carol user")
	}

	cmd = newUsersCmd()
	cmd.SetArgs([]string{"-c", cfgPath, "chpasswd", "carol", "--auto-password"})
	cmd.SetOut(&bytes.Buffer{})
	cmd.SetErr(&bytes.Buffer{})
	if err := cmd.Execute(); err != nil {
		t.Fatalf("chpasswd: %v", err)
	}

	store, err = auth.NewStoreWithLogger(cfg.Auth.UserFile, nil, nil)
	if err != nil {
		t.Fatalf("reload store: %v", err)
	}
	updated := findUser(store.LoadUsers(), "carol")
	if updated == nil {
		t.Fatalf("expected carol user after chpasswd")
	}
	if updated.PasswordHash == orig.PasswordHash {
		t.Fatalf("expected password hash to change")
	}
}

func TestUsersCompanyAndPermissions(t *testing.T) {
	cfgPath := writeTestConfig(t)
	cfg := loadConfigFromPath(t, cfgPath)

	steps := [][]string{
		{"set-company", "admin", "101"},
		{"grant", "admin", "3", "--attribute", "lead_scope=own"},
		{"grant", "admin", "4", "--inactive"},
		{"revoke", "admin", "1"},
	}
	for _, step := range steps {
		cmd := newUsersCmd()
		cmd.SetArgs(append([]string{"-c", cfgPath}, step...))
		cmd.SetOut(&bytes.Buffer{})
		cmd.SetErr(&bytes.Buffer{})
		if err := cmd.Execute(); err != nil {
			t.Fatalf("%v: %v", step, err)
		}
	}

	store, err := auth.NewStoreWithLogger(cfg.Auth.UserFile, nil, nil)
	if err != nil {
		t.Fatalf("load store: %v", err)
	}
	user := findUser(store.LoadUsers(), "admin")
	if user == nil {
		t.Fatalf("expected admin user")
	}
	if user.CompanyID != 101 {
		t.Fatalf("expected company 101, got %d", user.CompanyID)
	}
	want := []schema.PermissionAttribute{
		{ModuleID: 2, Active: true},
		{ModuleID: 3, Active: true, AttributeKey: "lead_scope", AttributeValue: "own"},
		{ModuleID: 4, Active: false},
	}
	if diff := cmp.Diff(want, user.Permissions); diff != "" {
		t.Fatalf("permissions mismatch (-want +got):\n%s", diff)
	}

	out := &bytes.Buffer{}
	cmd := newUsersCmd()
	cmd.SetArgs([]string{"-c", cfgPath, "show", "admin"})
	cmd.SetOut(out)
	cmd.SetErr(&bytes.Buffer{})
	if err := cmd.Execute(); err != nil {
		t.Fatalf("show: %v", err)
	}
	for _, want := range []string{"company_id: 101", "module 3 active=true lead_scope=own", "module 4 active=false"} {
		if !strings.Contains(out.String(), want) {
			t.Fatalf("expected %q in show output, got %q", want, out.String())
		}
	}

	out.Reset()
	cmd = newUsersCmd()
	cmd.SetArgs([]string{"-c", cfgPath, "list"})
	cmd.SetOut(out)
	cmd.SetErr(&bytes.Buffer{})
	if err := cmd.Execute(); err != nil {
		t.Fatalf("list: %v", err)
	}
	if got, want := out.String(), "admin\tcompany=101\tmodules=2,3\n"; got != want {
		t.Fatalf("list output = %q, want %q", got, want)
	}
}

func TestUsersRejectsBadArguments(t *testing.T) {
	cfgPath := writeTestConfig(t)
	tests := []struct {
		name string
		args []string
	}{
		{name: "negative company", args: []string{"set-company", "admin", "-1"}},
		{name: "company not a number", args: []string{"set-company", "admin", "acme"}},
		{name: "zero module", args: []string{"grant", "admin", "0"}},
		{name: "malformed attribute", args: []string{"grant", "admin", "3", "--attribute", "scope"}},
		{name: "revoke missing", args: []string{"revoke", "admin", "9"}},
		{name: "unknown user", args: []string{"grant", "nobody", "1"}},
	}
	for _, tc := range tests {
		cmd := newUsersCmd()
		cmd.SetArgs(append([]string{"-c", cfgPath}, tc.args...))
		cmd.SetOut(&bytes.Buffer{})
		cmd.SetErr(&bytes.Buffer{})
		if err := cmd.Execute(); err == nil {
			t.Fatalf("%s: expected error", tc.name)
		}
	}
}

func TestGeneratePassword(t *testing.T) {
	pass, err := generatePassword(0)
	if err != nil {
		t.Fatalf("generate password: %v", err)
	}
	if len(pass) != defaultPasswordLength {
		t.Fatalf("expected %d characters, got %d", defaultPasswordLength, len(pass))
	}
	other, err := generatePassword(8)
	if err != nil {
		t.Fatalf("generate password: %v", err)
	}
	if len(other) != 8 {
		t.Fatalf("expected 8 characters, got %d", len(other))
	}
}

func writeTestConfig(t *testing.T) string {
	t.Helper()
	cfg, err := appconfig.DefaultConfig()
	if err != nil {
		t.Fatalf("default config: %v", err)
	}
	dir := t.TempDir()
	cfg.StateDir = filepath.Join(dir, "state")
	cfg.Auth.UserFile = filepath.Join(dir, "users.json")
	cfg.Modules.Source = appconfig.ModuleSourceFile
	cfg.Modules.File = filepath.Join(dir, "modules.yaml")
	if err := modules.WriteFile(cfg.Modules.File, modules.DefaultModules(), false); err != nil {
		t.Fatalf("write modules: %v", err)
	}
	path := filepath.Join(dir, "config.yaml")
	data, err := yaml.Marshal(cfg)
	if err != nil {
		t.Fatalf("marshal config: %v", err)
	}
	if err := os.WriteFile(path, data, 0o600); err != nil {
		t.Fatalf("write config: %v", err)
	}
	return path
}

func loadConfigFromPath(t *testing.T, path string) appconfig.Config {
	t.Helper()
	cfg, err := appconfig.Load(path)
	if err != nil {
		t.Fatalf("load config: %v", err)
	}
	return cfg
}

func hasUser(users []auth.User, username string) bool {
	return findUser(users, username) != nil
}

func findUser(users []auth.User, username string) *auth.User {
	for i := range users {
		if users[i].Username == username {
			return &users[i]
		}
	}
	return nil
}
