package upgrade

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
)

func TestNewerVersion(t *testing.T) {
	tests := []struct {
		latest, current string
		want            bool
	}{
		{"v1.2.3", "v1.2.2", true},
		{"v1.2.3", "v1.2.3", false},
		{"v1.2.3", "v1.3.0", false},
		{"v2.0.0", "v1.9.9", true},
		{"v1.10.0", "v1.9.0", true},
		{"v1.2", "v1.1.9", true},
		{"v1.2.3", "dev", false},
		{"nightly", "v1.0.0", false},
		{"v1.2.3-rc1", "v1.2.2", true},
	}
	for _, tt := range tests {
		if got := newerVersion(tt.latest, tt.current); got != tt.want {
			t.Errorf("newerVersion(%q, %q) = %v, want %v", tt.latest, tt.current, got, tt.want)
		}
	}
}

func TestCheckerCheck(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.Write([]byte(`{"tag_name":"v9.9.9","name":"big one","html_url":"https://example.com/r"}`))
	}))
	defer srv.Close()

	c := NewChecker(srv.URL)
	c.version = "v1.0.0"
	rel, newer, err := c.Check(context.Background())
	if err != nil {
		t.Fatalf("Check: %v", err)
	}
	if !newer {
		t.Error("expected newer release")
	}
	if rel.Tag != "v9.9.9" || rel.URL != "https://example.com/r" {
		t.Errorf("release = %+v", rel)
	}
}

func TestCheckerCheckDevBuild(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.Write([]byte(`{"tag_name":"v9.9.9"}`))
	}))
	defer srv.Close()

	c := NewChecker(srv.URL)
	c.version = "dev"
	_, newer, err := c.Check(context.Background())
	if err != nil {
		t.Fatalf("Check: %v", err)
	}
	if newer {
		t.Error("dev build must not report updates")
	}
}

func TestCheckerBadStatus(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusForbidden)
	}))
	defer srv.Close()

	if _, _, err := NewChecker(srv.URL).Check(context.Background()); err == nil {
		t.Fatal("expected error on non-200 status")
	}
}
