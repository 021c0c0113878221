package httpapi

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/cookiejar"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"

	"pkt.systems/crmdesk/internal/auth"
	"pkt.systems/crmdesk/nav"
	"pkt.systems/crmdesk/schema"
)

type fakeAuth struct {
	password string
}

func (f fakeAuth) Authenticate(username, password, totp string) error {
	if password != f.password || totp != "123456" {
		return auth.ErrInvalidCredentials
	}
	return nil
}

func (f fakeAuth) ChangePassword(username, currentPassword, totp, newPassword string) error {
	if currentPassword != f.password {
		return auth.ErrInvalidCredentials
	}
	return nil
}

type testClient struct {
	t      *testing.T
	base   string
	client *http.Client
}

func newTestServer(t *testing.T) *testClient {
	t.Helper()
	hub := NewHub(64)
	modules := nav.ModuleSourceFunc(func(context.Context) ([]schema.Module, error) {
		return []schema.Module{{ID: 1, Name: "Home"}, {ID: 2, Name: "Lead"}, {ID: 3, Name: "Reports"}}, nil
	})
	profiles := nav.ProfileSourceFunc(func(_ context.Context, userID schema.UserID) (schema.SessionProfile, error) {
		return schema.SessionProfile{
			UserID:    userID,
			CompanyID: 7,
			Permissions: []schema.PermissionAttribute{
				{ModuleID: 1, Active: true},
				{ModuleID: 2, Active: true},
				{ModuleID: 3, Active: true},
			},
		}, nil
	})
	service, err := nav.NewService(schema.DefaultNavConfig(), nav.ServiceDeps{
		Modules:   modules,
		Profiles:  profiles,
		Routers:   hub,
		EventSink: hub,
	})
	if err != nil {
		t.Fatalf("new service: %v", err)
	}
	server := NewServer(Config{SessionCookie: "crmdesk_session", SessionTTLHours: 1}, service, fakeAuth{password: "secret"}, hub)
	ctx, cancel := context.WithCancel(context.Background())
	server.SetBaseContext(ctx)
	httpServer := httptest.NewServer(server.Handler())
	t.Cleanup(func() {
		cancel()
		httpServer.Close()
		service.CloseAll(context.Background())
	})
	jar, err := cookiejar.New(nil)
	if err != nil {
		t.Fatalf("cookie jar: %v", err)
	}
	return &testClient{t: t, base: httpServer.URL, client: &http.Client{Jar: jar, Timeout: 5 * time.Second}}
}

func (c *testClient) do(method, path string, body any, out any) int {
	c.t.Helper()
	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			c.t.Fatalf("marshal: %v", err)
		}
		reader = bytes.NewReader(data)
	}
	req, err := http.NewRequest(method, c.base+path, reader)
	if err != nil {
		c.t.Fatalf("new request: %v", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	resp, err := c.client.Do(req)
	if err != nil {
		c.t.Fatalf("%s %s: %v", method, path, err)
	}
	defer resp.Body.Close()
	if out != nil && resp.StatusCode < 300 {
		if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
			c.t.Fatalf("decode %s: %v", path, err)
		}
	}
	return resp.StatusCode
}

func (c *testClient) login() {
	c.t.Helper()
	var resp struct {
		Username string `json:"username"`
		Session  string `json:"session"`
	}
	status := c.do(http.MethodPost, "/api/login", map[string]string{"username": "alice", "password": "secret", "totp": "123456"}, &resp)
	if status != http.StatusOK {
		c.t.Fatalf("login status %d", status)
	}
	if resp.Username != "alice" || resp.Session == "" {
		c.t.Fatalf("unexpected login response: %+v", resp)
	}
}

func (c *testClient) tabs() schema.ListTabsResponse {
	c.t.Helper()
	var resp schema.ListTabsResponse
	if status := c.do(http.MethodGet, "/api/tabs", nil, &resp); status != http.StatusOK {
		c.t.Fatalf("tabs status %d", status)
	}
	return resp
}

func (c *testClient) location(path schema.Path) schema.ReportLocationResponse {
	c.t.Helper()
	var resp schema.ReportLocationResponse
	if status := c.do(http.MethodPost, "/api/location", map[string]string{"path": string(path)}, &resp); status != http.StatusOK {
		c.t.Fatalf("location status %d", status)
	}
	return resp
}

func waitFor(t *testing.T, what string, fn func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if fn() {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s", what)
}

func tabPaths(tabs []schema.Tab) []schema.Path {
	out := make([]schema.Path, 0, len(tabs))
	for _, tab := range tabs {
		out = append(out, tab.Path)
	}
	return out
}

func TestServerRejectsUnauthenticated(t *testing.T) {
	c := newTestServer(t)
	if status := c.do(http.MethodGet, "/api/tabs", nil, nil); status != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %d", status)
	}
	status := c.do(http.MethodPost, "/api/login", map[string]string{"username": "alice", "password": "wrong", "totp": "123456"}, nil)
	if status != http.StatusUnauthorized {
		t.Fatalf("expected 401 for bad credentials, got %d", status)
	}
}

func TestServerWorkspaceFlow(t *testing.T) {
	c := newTestServer(t)
	c.login()

	waitFor(t, "default tab", func() bool {
		return c.tabs().ActivePath == "/leaddashboard"
	})
	if got := c.location("/leaddashboard"); got.ActivePath != "/leaddashboard" || !got.Matched {
		t.Fatalf("unexpected settle response: %+v", got)
	}

	var opened schema.OpenTabResponse
	if status := c.do(http.MethodPost, "/api/tabs", map[string]string{"path": "/leadcardview", "label": "Lead"}, &opened); status != http.StatusOK {
		t.Fatalf("open status %d", status)
	}
	if !opened.Added || opened.ActivePath != "/leadcardview" {
		t.Fatalf("unexpected open response: %+v", opened)
	}
	c.location("/leadcardview")

	// Browser back to the dashboard activates its open tab.
	back := c.location("/leaddashboard")
	if back.ActivePath != "/leaddashboard" || !back.Changed {
		t.Fatalf("expected back navigation to activate dashboard, got %+v", back)
	}

	// A location without a tab never opens one.
	external := c.location("/reports")
	if external.Matched || external.ActivePath != "/leaddashboard" {
		t.Fatalf("unexpected external response: %+v", external)
	}
	tabs := c.tabs()
	if diff := cmp.Diff([]schema.Path{"/leaddashboard", "/leadcardview"}, tabPaths(tabs.Tabs)); diff != "" {
		t.Fatalf("tabs mismatch (-want +got):\n%s", diff)
	}
	if tabs.HomePath != "/leaddashboard" {
		t.Fatalf("unexpected home %q", tabs.HomePath)
	}

	var view schema.GetViewResponse
	if status := c.do(http.MethodGet, "/api/view", nil, &view); status != http.StatusOK {
		t.Fatalf("view status %d", status)
	}
	if view.View.Kind != schema.ViewRoute || view.View.Name != "dashboard" {
		t.Fatalf("unexpected view: %+v", view.View)
	}

	var closed schema.CloseTabResponse
	c.do(http.MethodPost, "/api/tabs/close", map[string]string{"path": "/leaddashboard"}, &closed)
	if closed.Removed {
		t.Fatalf("expected home tab to stay open")
	}
	c.do(http.MethodPost, "/api/tabs/close", map[string]string{"path": "/leadcardview"}, &closed)
	if !closed.Removed {
		t.Fatalf("expected lead tab to close")
	}

	var menu schema.GetMenuResponse
	if status := c.do(http.MethodGet, "/api/menu", nil, &menu); status != http.StatusOK {
		t.Fatalf("menu status %d", status)
	}
	if menu.Status != schema.MenuReady || len(menu.Entries) != 3 {
		t.Fatalf("unexpected menu: %+v", menu)
	}
	if status := c.do(http.MethodPost, "/api/menu/refresh", nil, nil); status != http.StatusAccepted {
		t.Fatalf("expected 202 for refresh, got %d", status)
	}

	if status := c.do(http.MethodPost, "/api/logout", nil, nil); status != http.StatusOK {
		t.Fatalf("logout status %d", status)
	}
	if status := c.do(http.MethodGet, "/api/tabs", nil, nil); status != http.StatusUnauthorized {
		t.Fatalf("expected 401 after logout, got %d", status)
	}
}

func TestServerRejectsInvalidPath(t *testing.T) {
	c := newTestServer(t)
	c.login()
	if status := c.do(http.MethodPost, "/api/tabs", map[string]string{"path": "leadcardview"}, nil); status != http.StatusBadRequest {
		t.Fatalf("expected 400 for relative path, got %d", status)
	}
	if status := c.do(http.MethodPost, "/api/tabs", map[string]any{"path": "/x", "bogus": true}, nil); status != http.StatusBadRequest {
		t.Fatalf("expected 400 for unknown field, got %d", status)
	}
}

func TestServerStreamSnapshotThenEvents(t *testing.T) {
	c := newTestServer(t)
	c.login()
	waitFor(t, "default tab", func() bool {
		return c.tabs().ActivePath == "/leaddashboard"
	})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.base+"/api/stream", nil)
	if err != nil {
		t.Fatalf("new request: %v", err)
	}
	stream := &http.Client{Jar: c.client.Jar}
	resp, err := stream.Do(req)
	if err != nil {
		t.Fatalf("stream: %v", err)
	}
	defer resp.Body.Close()
	if ct := resp.Header.Get("Content-Type"); ct != "text/event-stream" {
		t.Fatalf("unexpected content type %q", ct)
	}
	events := make(chan StreamEvent, 16)
	go func() {
		defer close(events)
		scanner := bufio.NewScanner(resp.Body)
		scanner.Buffer(make([]byte, 64<<10), 1<<20)
		for scanner.Scan() {
			line := scanner.Text()
			if !strings.HasPrefix(line, "data: ") {
				continue
			}
			var event StreamEvent
			if err := json.Unmarshal([]byte(strings.TrimPrefix(line, "data: ")), &event); err != nil {
				return
			}
			events <- event
		}
	}()
	next := func() StreamEvent {
		t.Helper()
		select {
		case event, ok := <-events:
			if !ok {
				t.Fatalf("stream ended")
			}
			return event
		case <-time.After(2 * time.Second):
			t.Fatalf("timed out waiting for stream event")
		}
		return StreamEvent{}
	}

	first := next()
	if first.Type != "snapshot" || first.Snapshot == nil {
		t.Fatalf("expected snapshot first, got %+v", first)
	}
	if first.Snapshot.ActivePath != "/leaddashboard" || first.Snapshot.MenuStatus != schema.MenuReady {
		t.Fatalf("unexpected snapshot: %+v", first.Snapshot)
	}

	c.do(http.MethodPost, "/api/tabs", map[string]string{"path": "/leadcardview", "label": "Lead"}, nil)
	var seen []string
	for len(seen) < 3 {
		event := next()
		if event.Seq <= first.Seq {
			t.Fatalf("expected events after the snapshot, got seq %d <= %d", event.Seq, first.Seq)
		}
		seen = append(seen, event.Type)
	}
	if diff := cmp.Diff([]string{"opened", "activated", "navigate"}, seen); diff != "" {
		t.Fatalf("event order mismatch (-want +got):\n%s", diff)
	}
}

func TestServerServesShellForClientRoutes(t *testing.T) {
	c := newTestServer(t)
	for _, path := range []string{"/", "/leadcardview"} {
		resp, err := c.client.Get(c.base + path)
		if err != nil {
			t.Fatalf("get %s: %v", path, err)
		}
		body, _ := io.ReadAll(resp.Body)
		resp.Body.Close()
		if resp.StatusCode != http.StatusOK {
			t.Fatalf("get %s: status %d", path, resp.StatusCode)
		}
		if !bytes.Contains(body, []byte(`<base href="/" />`)) {
			t.Fatalf("expected base href in shell for %s", path)
		}
	}
	resp, err := c.client.Get(c.base + "/api/unknown")
	if err != nil {
		t.Fatalf("get api: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusNotFound {
		t.Fatalf("expected 404 for unknown api path, got %d", resp.StatusCode)
	}
}

func TestStatusFor(t *testing.T) {
	cases := []struct {
		err  error
		want int
	}{
		{badRequest(errors.New("bad json")), http.StatusBadRequest},
		{schema.ErrInvalidPath, http.StatusBadRequest},
		{schema.ErrSessionNotFound, http.StatusNotFound},
		{context.Canceled, http.StatusServiceUnavailable},
		{errors.New("boom"), http.StatusInternalServerError},
	}
	for _, tc := range cases {
		if got := statusFor(tc.err); got != tc.want {
			t.Fatalf("statusFor(%v) = %d, want %d", tc.err, got, tc.want)
		}
	}
}

func TestBasePaths(t *testing.T) {
	cases := []struct {
		baseURL    string
		basePath   string
		wantPrefix string
		wantHref   string
	}{
		{"", "", "", ""},
		{"", "/", "", ""},
		{"", "crmdesk", "/crmdesk", "/crmdesk/"},
		{"", "/crmdesk/", "/crmdesk", "/crmdesk/"},
		{"https://example.com", "", "", "https://example.com/"},
		{"https://example.com/", "crmdesk", "/crmdesk", "https://example.com/crmdesk/"},
		{"https://example.com/base", "/x", "/x", "https://example.com/base/x/"},
	}
	for _, tc := range cases {
		prefix, href := basePaths(tc.baseURL, tc.basePath)
		if prefix != tc.wantPrefix || href != tc.wantHref {
			t.Fatalf("basePaths(%q, %q) = %q, %q; want %q, %q", tc.baseURL, tc.basePath, prefix, href, tc.wantPrefix, tc.wantHref)
		}
	}
}
