package integration_test

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/cookiejar"
	"net/http/httptest"
	"os/exec"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/pquerna/otp/totp"
	"golang.org/x/crypto/bcrypt"

	"pkt.systems/crmdesk/httpapi"
	"pkt.systems/crmdesk/internal/appconfig"
	"pkt.systems/crmdesk/internal/auth"
	"pkt.systems/crmdesk/internal/modules"
	"pkt.systems/crmdesk/nav"
	"pkt.systems/crmdesk/schema"
)

type testServer struct {
	service    nav.Service
	httpSrv    *httpapi.Server
	authStore  *auth.Store
	hub        *httpapi.Hub
	url        string
	moduleFile string
	user       string
	password   string
	totp       string
}

func newTestServer(t *testing.T) *testServer {
	return newTestServerWithProfile(t, 7, []schema.PermissionAttribute{
		{ModuleID: 1, Active: true},
		{ModuleID: 2, Active: true},
		{ModuleID: 7, Active: true},
	})
}

func newTestServerWithProfile(t *testing.T, companyID schema.CompanyID, perms []schema.PermissionAttribute) *testServer {
	t.Helper()
	dir := t.TempDir()
	userFile := filepath.Join(dir, "users.json")
	moduleFile := filepath.Join(dir, "modules.yaml")

	password := "test-password"
	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		t.Fatal(err)
	}
	secret, err := totp.Generate(totp.GenerateOpts{Issuer: "crmdesk", AccountName: "tester"})
	if err != nil {
		t.Fatal(err)
	}
	seed := appconfig.SeedUser{
		Username:     "tester",
		PasswordHash: string(hash),
		TOTPSecret:   secret.Secret(),
		CompanyID:    companyID,
		Permissions:  perms,
	}

	authStore, err := auth.NewStoreWithLogger(userFile, []appconfig.SeedUser{seed}, nil)
	if err != nil {
		t.Fatal(err)
	}
	if err := modules.WriteFile(moduleFile, modules.DefaultModules(), false); err != nil {
		t.Fatal(err)
	}
	source, err := modules.NewFileSource(moduleFile)
	if err != nil {
		t.Fatal(err)
	}

	hub := httpapi.NewHub(1000)
	service, err := nav.NewService(schema.DefaultNavConfig(), nav.ServiceDeps{
		Modules:   source,
		Profiles:  authStore,
		Routers:   hub,
		EventSink: hub,
	})
	if err != nil {
		t.Fatal(err)
	}

	httpSrv := httpapi.NewServer(httpapi.Config{
		Addr:            "127.0.0.1:0",
		SessionCookie:   "crmdesk_session",
		SessionTTLHours: 1,
		SessionFile:     filepath.Join(dir, "state", "sessions.json"),
	}, service, authStore, hub)
	ctx, cancel := context.WithCancel(context.Background())
	httpSrv.SetBaseContext(ctx)
	server := httptest.NewServer(httpSrv.Handler())
	t.Cleanup(func() {
		cancel()
		server.Close()
		service.CloseAll(context.Background())
	})

	return &testServer{
		service:    service,
		httpSrv:    httpSrv,
		authStore:  authStore,
		hub:        hub,
		url:        server.URL,
		moduleFile: moduleFile,
		user:       seed.Username,
		password:   password,
		totp:       seed.TOTPSecret,
	}
}

func (ts *testServer) login(t *testing.T) *http.Client {
	t.Helper()
	jar, err := cookiejar.New(nil)
	if err != nil {
		t.Fatal(err)
	}
	client := &http.Client{Jar: jar, Timeout: 10 * time.Second}
	payload := map[string]string{
		"username": ts.user,
		"password": ts.password,
		"totp":     currentTOTP(ts.totp),
	}
	resp := writeJSON(t, client, ts.url+"/api/login", payload)
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(resp.Body)
		t.Fatalf("login failed: %s", strings.TrimSpace(string(body)))
	}
	return client
}

func writeJSON(t *testing.T, client *http.Client, url string, payload any) *http.Response {
	t.Helper()
	data, err := json.Marshal(payload)
	if err != nil {
		t.Fatal(err)
	}
	resp, err := client.Post(url, "application/json", bytes.NewReader(data))
	if err != nil {
		t.Fatal(err)
	}
	return resp
}

func readJSON(t *testing.T, resp *http.Response, target any) {
	t.Helper()
	defer resp.Body.Close()
	data, err := io.ReadAll(resp.Body)
	if err != nil {
		t.Fatal(err)
	}
	if resp.StatusCode >= 300 {
		t.Fatalf("unexpected status %d: %s", resp.StatusCode, strings.TrimSpace(string(data)))
	}
	if err := json.Unmarshal(data, target); err != nil {
		t.Fatal(err)
	}
}

func getJSON(t *testing.T, client *http.Client, url string, target any) {
	t.Helper()
	resp, err := client.Get(url)
	if err != nil {
		t.Fatal(err)
	}
	readJSON(t, resp, target)
}

func waitForCondition(t *testing.T, what string, timeout time.Duration, fn func() bool) {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if fn() {
			return
		}
		time.Sleep(20 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s", what)
}

func requireLong(t *testing.T) {
	t.Helper()
	if testing.Short() {
		t.Skip("skipping integration test in short mode")
	}
}

func requireBrowser(t *testing.T) {
	t.Helper()
	for _, name := range []string{"google-chrome", "google-chrome-stable", "chromium", "chromium-browser", "headless-shell"} {
		if _, err := exec.LookPath(name); err == nil {
			return
		}
	}
	t.Skip("no chrome or chromium binary available")
}

func currentTOTP(secret string) string {
	code, err := totp.GenerateCode(secret, time.Now())
	if err != nil {
		return ""
	}
	return code
}
