package main

import (
	"bytes"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"syscall"
	"testing"
	"time"

	"github.com/gofiber/fiber/v2"

	u "botwave-web/internal/utils"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	p := filepath.Join(t.TempDir(), "cfg.yaml")
	if err := os.WriteFile(p, []byte(body), 0o644); err != nil {
		t.Fatalf("write cfg: %v", err)
	}
	return p
}

func TestStartServer_GracefulShutdownOnSignal(t *testing.T) {
	srv := fiber.New(fiber.Config{DisableStartupMessage: true})
	cfg := u.DefaultConfig()
	cfg.Server.Host = "127.0.0.1"
	cfg.Server.Port = ":0"

	idleConnsClosed := make(chan struct{})
	go startServer(srv, cfg, idleConnsClosed)

	time.Sleep(100 * time.Millisecond)
	if err := syscall.Kill(syscall.Getpid(), syscall.SIGTERM); err != nil {
		t.Fatalf("failed to send SIGTERM: %v", err)
	}

	select {
	case <-idleConnsClosed:
	case <-time.After(3 * time.Second):
		t.Fatalf("timed out waiting for graceful shutdown")
	}
}

func TestServe_UsesConfigAndShutsDown(t *testing.T) {
	cfgPath := writeConfig(t, `
server:
  host: "127.0.0.1"
  port: ":0"
logger:
  file: "`+filepath.Join(t.TempDir(), "botwave-web.log")+`"
  level: "info"
  max_size_mb: 1
  max_backups: 1
  max_age_days: 1
upstream:
  timeout: 1s
`)

	done := make(chan error, 1)
	go func() {
		done <- newCLI().Run([]string{"botwave-web", "--config", cfgPath, "serve"})
	}()

	time.Sleep(200 * time.Millisecond)
	if err := syscall.Kill(syscall.Getpid(), syscall.SIGTERM); err != nil {
		t.Fatalf("signal serve: %v", err)
	}

	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("serve returned error: %v", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatalf("timed out waiting for serve to exit")
	}
}

func newVersionUpstream(t *testing.T, body string, status int) string {
	t.Helper()
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("User-Agent") != "botwavephp" {
			w.WriteHeader(http.StatusForbidden)
			return
		}
		w.WriteHeader(status)
		_, _ = io.WriteString(w, body)
	}))
	t.Cleanup(ts.Close)
	return ts.URL
}

func runLatestCLI(t *testing.T, args ...string) (string, error) {
	t.Helper()
	var out bytes.Buffer
	cliApp := newCLI()
	cliApp.Writer = &out
	err := cliApp.Run(append([]string{"botwave-web"}, args...))
	return out.String(), err
}

func TestLatest_ReportsUpdate(t *testing.T) {
	url := newVersionUpstream(t, "2.3.1\n", http.StatusOK)
	cfgPath := writeConfig(t, "upstream:\n  version_url: \""+url+"\"\n")

	out, err := runLatestCLI(t, "--config", cfgPath, "latest", "--current", "2.2.0")
	if err != nil {
		t.Fatalf("latest failed: %v", err)
	}
	if !strings.HasPrefix(out, "2.3.1\n") {
		t.Fatalf("expected remote version first, got %q", out)
	}
	if !strings.Contains(out, "update available: 2.2.0 -> 2.3.1") {
		t.Fatalf("expected update notice, got %q", out)
	}
	if !strings.Contains(out, "protocol mismatch") {
		t.Fatalf("expected protocol mismatch notice, got %q", out)
	}
}

func TestLatest_UpToDate(t *testing.T) {
	url := newVersionUpstream(t, "2.3.1", http.StatusOK)
	cfgPath := writeConfig(t, "upstream:\n  version_url: \""+url+"\"\n")

	out, err := runLatestCLI(t, "--config", cfgPath, "latest", "--current", "2.3.1")
	if err != nil {
		t.Fatalf("latest failed: %v", err)
	}
	if !strings.Contains(out, "up to date (2.3.1)") || strings.Contains(out, "protocol mismatch") {
		t.Fatalf("unexpected output %q", out)
	}
}

func TestLatest_UpstreamErrorFails(t *testing.T) {
	url := newVersionUpstream(t, "not here", http.StatusNotFound)
	cfgPath := writeConfig(t, "upstream:\n  version_url: \""+url+"\"\n")

	out, err := runLatestCLI(t, "--config", cfgPath, "latest")
	if err == nil {
		t.Fatalf("expected error, got output %q", out)
	}
	if out != "" {
		t.Fatalf("expected no output on failure, got %q", out)
	}
}
