package config

import (
	"context"
	"io"
	"log/slog"
	"os"
	"sync/atomic"
	"testing"
	"time"
)

const managerYAML = `
server:
  port: 8080
backends:
  - id: openai
    type: openai
`

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestManagerStatus(t *testing.T) {
	path := writeConfigFile(t, managerYAML)
	mgr, err := NewManager(path, discardLogger())
	if err != nil {
		t.Fatalf("NewManager() error = %v", err)
	}

	status := mgr.Status()
	if status.Path != path {
		t.Fatalf("Status().Path = %q, want %q", status.Path, path)
	}
	if len(status.Checksum) != 64 {
		t.Fatalf("Status().Checksum = %q, want sha256 hex", status.Checksum)
	}
	if status.LoadedAt.IsZero() {
		t.Fatal("Status().LoadedAt is zero")
	}
	if status.ReloadCount != 1 {
		t.Fatalf("Status().ReloadCount = %d, want 1", status.ReloadCount)
	}
}

func TestManagerReloadUpdatesChecksum(t *testing.T) {
	path := writeConfigFile(t, managerYAML)
	mgr, err := NewManager(path, discardLogger())
	if err != nil {
		t.Fatalf("NewManager() error = %v", err)
	}

	var oldPort, newPort int
	mgr.OnChange(func(old, updated *Config) {
		oldPort, newPort = old.Server.Port, updated.Server.Port
	})

	before := mgr.Status()
	if err := os.WriteFile(path, []byte(`
server:
  port: 9090
backends:
  - id: openai
    type: openai
`), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}

	if err := mgr.Reload(); err != nil {
		t.Fatalf("Reload() error = %v", err)
	}

	after := mgr.Status()
	if after.Checksum == before.Checksum {
		t.Fatal("expected checksum to change after reload")
	}
	if after.ReloadCount != before.ReloadCount+1 {
		t.Fatalf("expected reload count %d, got %d", before.ReloadCount+1, after.ReloadCount)
	}
	if mgr.Get().Server.Port != 9090 {
		t.Fatalf("expected server port 9090, got %d", mgr.Get().Server.Port)
	}
	if oldPort != 8080 || newPort != 9090 {
		t.Fatalf("OnChange got old=%d new=%d", oldPort, newPort)
	}
}

func TestManagerReloadKeepsCurrentOnError(t *testing.T) {
	path := writeConfigFile(t, managerYAML)
	mgr, err := NewManager(path, discardLogger())
	if err != nil {
		t.Fatalf("NewManager() error = %v", err)
	}

	var called atomic.Bool
	mgr.OnChange(func(*Config, *Config) { called.Store(true) })

	if err := os.WriteFile(path, []byte("server:\n  port: 8080\n"), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}
	if err := mgr.Reload(); err == nil {
		t.Fatal("expected reload error for config without backends")
	}
	if len(mgr.Get().Backends) != 1 {
		t.Fatal("expected previous config to stay active")
	}
	if mgr.Status().ReloadCount != 1 {
		t.Fatalf("failed reload must not bump the count, got %d", mgr.Status().ReloadCount)
	}
	if called.Load() {
		t.Fatal("OnChange must not fire on failed reload")
	}
}

func TestManagerWatch(t *testing.T) {
	path := writeConfigFile(t, managerYAML)
	mgr, err := NewManager(path, discardLogger())
	if err != nil {
		t.Fatalf("NewManager() error = %v", err)
	}
	defer mgr.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	changed := make(chan int, 1)
	mgr.OnChange(func(_, updated *Config) {
		select {
		case changed <- updated.Server.Port:
		default:
		}
	})

	if err := mgr.Watch(ctx); err != nil {
		t.Fatalf("Watch() error = %v", err)
	}

	if err := os.WriteFile(path, []byte(`
server:
  port: 7070
backends:
  - id: openai
    type: openai
`), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}

	select {
	case port := <-changed:
		if port != 7070 {
			t.Fatalf("reloaded port = %d, want 7070", port)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("timed out waiting for hot reload")
	}
}

func TestNewManager_MissingFile(t *testing.T) {
	if _, err := NewManager("/nonexistent/config.yaml", nil); err == nil {
		t.Fatal("expected error for missing file")
	}
}
