package server

import (
	"net/http"
	"net/http/httptest"
	"testing"
)

func TestCheckOrigin(t *testing.T) {
	cfg := DefaultConfig()
	cfg.AuthKey = []byte("unit-test-signing-secret-0123456789")
	cfg.Origins = []string{"app.example:443", "*:8080", "staging.example:*"}
	srv, err := New(cfg)
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	cases := []struct {
		name    string
		origin  string
		allowed bool
	}{
		{"exact match", "https://app.example:443", true},
		{"wildcard port", "http://anything.example:8080", true},
		{"wildcard host", "http://staging.example:9090", true},
		{"no match", "https://evil.example:1234", false},
		{"default port 80", "http://app.example", false},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			r := httptest.NewRequest(http.MethodGet, "/socketcluster/", nil)
			r.Header.Set("Origin", tc.origin)
			err := srv.checkOrigin(r)
			if tc.allowed && err != nil {
				t.Fatalf("expected origin %q to be allowed, got %v", tc.origin, err)
			}
			if !tc.allowed && err == nil {
				t.Fatalf("expected origin %q to be rejected", tc.origin)
			}
		})
	}
}

func TestCheckOrigin_AllowAny(t *testing.T) {
	cfg := DefaultConfig()
	cfg.AuthKey = []byte("unit-test-signing-secret-0123456789")
	srv, err := New(cfg)
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	r := httptest.NewRequest(http.MethodGet, "/socketcluster/", nil)
	r.Header.Set("Origin", "https://anything.example:1")
	if err := srv.checkOrigin(r); err != nil {
		t.Fatalf("expected default Origins to allow any origin, got %v", err)
	}
}
