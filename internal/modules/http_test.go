package modules

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"

	"pkt.systems/crmdesk/schema"
)

func TestHTTPSourceFetchesModules(t *testing.T) {
	var gotPath, gotAuth string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		gotAuth = r.Header.Get("Authorization")
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`[{"module_id":1,"module_name":"Home"},{"module_id":2,"module_name":" Lead "},{"module_id":3,"module_name":""}]`))
	}))
	t.Cleanup(srv.Close)

	src, err := NewHTTPSource(HTTPConfig{BaseURL: srv.URL + "/api/v1", Token: "secret"})
	if err != nil {
		t.Fatalf("new source: %v", err)
	}
	modules, err := src.Modules(context.Background())
	if err != nil {
		t.Fatalf("modules: %v", err)
	}
	want := []schema.Module{{ID: 1, Name: "Home"}, {ID: 2, Name: "Lead"}}
	if diff := cmp.Diff(want, modules); diff != "" {
		t.Fatalf("modules mismatch (-want +got):\n%s", diff)
	}
	if gotPath != "/api/v1/modules" {
		t.Fatalf("expected /api/v1/modules, got %q", gotPath)
	}
	if gotAuth != "Bearer secret" {
		t.Fatalf("expected bearer token, got %q", gotAuth)
	}
}

func TestHTTPSourceAcceptsWrappedPayload(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("Authorization") != "" {
			t.Errorf("expected no authorization header without token")
		}
		_, _ = w.Write([]byte(`{"data":[{"module_id":4,"module_name":"Task"}]}`))
	}))
	t.Cleanup(srv.Close)

	src, err := NewHTTPSource(HTTPConfig{BaseURL: srv.URL})
	if err != nil {
		t.Fatalf("new source: %v", err)
	}
	modules, err := src.Modules(context.Background())
	if err != nil {
		t.Fatalf("modules: %v", err)
	}
	if len(modules) != 1 || modules[0].Name != "Task" {
		t.Fatalf("unexpected modules: %+v", modules)
	}
}

func TestHTTPSourceReportsStatus(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "token expired", http.StatusUnauthorized)
	}))
	t.Cleanup(srv.Close)

	src, err := NewHTTPSource(HTTPConfig{BaseURL: srv.URL})
	if err != nil {
		t.Fatalf("new source: %v", err)
	}
	_, err = src.Modules(context.Background())
	if err == nil || !strings.Contains(err.Error(), "401") || !strings.Contains(err.Error(), "token expired") {
		t.Fatalf("expected status error, got %v", err)
	}
}

func TestHTTPSourceHonoursTimeout(t *testing.T) {
	release := make(chan struct{})
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-release:
		case <-r.Context().Done():
		}
	}))
	t.Cleanup(func() {
		close(release)
		srv.Close()
	})

	src, err := NewHTTPSource(HTTPConfig{BaseURL: srv.URL, Timeout: 50 * time.Millisecond})
	if err != nil {
		t.Fatalf("new source: %v", err)
	}
	start := time.Now()
	if _, err := src.Modules(context.Background()); err == nil {
		t.Fatalf("expected timeout error")
	}
	if elapsed := time.Since(start); elapsed > 5*time.Second {
		t.Fatalf("timeout not honoured, took %s", elapsed)
	}
}

func TestNewHTTPSourceValidatesURL(t *testing.T) {
	for _, raw := range []string{"", "example.com", "://bad"} {
		if _, err := NewHTTPSource(HTTPConfig{BaseURL: raw}); err == nil {
			t.Fatalf("expected error for %q", raw)
		}
	}
}
