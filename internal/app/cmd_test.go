package app

import (
	"bytes"
	"net"
	"net/http"
	"net/http/httptest"
	"testing"
)

func TestNewRootCommand_Subcommands(t *testing.T) {
	root := NewRootCommand(&bytes.Buffer{})

	if root.Use != "trackergate" {
		t.Errorf("Use = %q, want %q", root.Use, "trackergate")
	}

	for _, name := range []Command{CommandServe, CommandProxy, CommandHealthcheck} {
		cmd, _, err := root.Find([]string{string(name)})
		if err != nil {
			t.Errorf("Find(%q) error = %v", name, err)
			continue
		}
		if cmd.Name() != string(name) {
			t.Errorf("Find(%q) = %q", name, cmd.Name())
		}
	}
}

func TestCommandString(t *testing.T) {
	tests := []struct {
		cmd  Command
		want string
	}{
		{CommandServe, "serve"},
		{CommandProxy, "proxy"},
		{CommandHealthcheck, "healthcheck"},
	}

	for _, tt := range tests {
		if got := string(tt.cmd); got != tt.want {
			t.Errorf("string(%v) = %q, want %q", tt.cmd, got, tt.want)
		}
	}
}

func TestRun_UnknownCommand_ReturnsError(t *testing.T) {
	var buf bytes.Buffer
	if err := Run(&buf, []string{"worker"}); err == nil {
		t.Fatal("Run with unknown command should return error")
	}
}

func TestRun_InvalidConfig_ReturnsError(t *testing.T) {
	t.Setenv("RATE_LIMIT_PROVISION", "0")

	var buf bytes.Buffer
	err := Run(&buf, []string{"serve"})
	if err == nil {
		t.Fatal("Run with invalid config should return error")
	}
}

func TestPortFromEnv(t *testing.T) {
	t.Setenv("PORT", "")
	if got := portFromEnv(); got != "3000" {
		t.Errorf("portFromEnv() = %q, want %q", got, "3000")
	}

	t.Setenv("PORT", "9090")
	if got := portFromEnv(); got != "9090" {
		t.Errorf("portFromEnv() = %q, want %q", got, "9090")
	}
}

func TestCheckHealth(t *testing.T) {
	healthy := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/health" {
			w.WriteHeader(http.StatusNotFound)
			return
		}
		w.WriteHeader(http.StatusOK)
	}))
	defer healthy.Close()

	if err := checkHealth(healthy.URL + "/health"); err != nil {
		t.Errorf("checkHealth() error = %v, want nil", err)
	}

	unhealthy := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer unhealthy.Close()

	if err := checkHealth(unhealthy.URL + "/health"); err == nil {
		t.Error("checkHealth() should fail for a 503 response")
	}
}

func TestRun_Healthcheck_NoServer_ReturnsError(t *testing.T) {
	// 未使用のポートを確保してから閉じる
	srv := httptest.NewServer(http.NotFoundHandler())
	addr := srv.Listener.Addr().String()
	srv.Close()

	_, port, err := net.SplitHostPort(addr)
	if err != nil {
		t.Fatalf("SplitHostPort(%q) error = %v", addr, err)
	}

	var buf bytes.Buffer
	if err := Run(&buf, []string{"healthcheck", "--port", port}); err == nil {
		t.Fatal("healthcheck without a server should return error")
	}
}
