package schema

import (
	"errors"
	"testing"
)

func TestValidateUserID(t *testing.T) {
	cases := []struct {
		name  string
		user  UserID
		valid bool
	}{
		{"simple", "alice", true},
		{"with-dots", "alice.dev", true},
		{"with-underscore", "alice_dev", true},
		{"with-dash", "alice-dev", true},
		{"with-digits", "alice123", true},
		{"empty", "", false},
		{"uppercase", "Alice", false},
		{"space", "alice dev", false},
		{"leading-space", " alice", false},
		{"trailing-space", "alice ", false},
		{"unicode", "Ã¥lice", false},
		{"symbol", "alice@", false},
	}

	for _, tc := range cases {
		err := ValidateUserID(tc.user)
		if tc.valid && err != nil {
			t.Fatalf("case %q expected valid, got error: %v", tc.name, err)
		}
		if !tc.valid && err == nil {
			t.Fatalf("case %q expected error, got nil", tc.name)
		}
	}
}

func TestValidateSessionID(t *testing.T) {
	if err := ValidateSessionID("3f0c9a2e-7f5b-4c1e-9c1b-1f2d3e4a5b6c"); err != nil {
		t.Fatalf("expected valid session id, got %v", err)
	}
	for _, bad := range []SessionID{"", "has space", "tab\tinside"} {
		if err := ValidateSessionID(bad); !errors.Is(err, ErrInvalidSession) {
			t.Fatalf("session %q: expected ErrInvalidSession, got %v", bad, err)
		}
	}
}

func TestNormalizePath(t *testing.T) {
	cases := []struct {
		raw  string
		want Path
		ok   bool
	}{
		{"/leaddashboard", "/leaddashboard", true},
		{"  /leadcardview ", "/leadcardview", true},
		{"/reports/", "/reports", true},
		{"/reports?range=week", "/reports", true},
		{"/tasks#today", "/tasks", true},
		{"/a/../b", "/b", true},
		{"/", "/", true},
		{"", "", false},
		{"leads", "", false},
		{"/with space", "", false},
		{"?only=query", "", false},
	}
	for _, tc := range cases {
		got, err := NormalizePath(tc.raw)
		if tc.ok {
			if err != nil {
				t.Fatalf("NormalizePath(%q): unexpected error %v", tc.raw, err)
			}
			if got != tc.want {
				t.Fatalf("NormalizePath(%q) = %q, want %q", tc.raw, got, tc.want)
			}
			continue
		}
		if !errors.Is(err, ErrInvalidPath) {
			t.Fatalf("NormalizePath(%q): expected ErrInvalidPath, got %v", tc.raw, err)
		}
	}
}
