package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/DanShaders/wsl-fs-notify/pkg/logging"
)

func TestLoadMissingFileYieldsZeroValue(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "does-not-exist.yaml"))
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.LogLevel != "" || cfg.MaxFailCount != 0 || cfg.GuestCommand != "" {
		t.Fatalf("expected zero-value Configuration, got %+v", cfg)
	}
}

func TestLoadParsesYAML(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	contents := "logLevel: debug\nmaxFailCount: 3\nguestCommand: wsl-fs-notify-dev\n"
	if err := os.WriteFile(path, []byte(contents), 0o644); err != nil {
		t.Fatalf("unable to write test config: %v", err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.LogLevel != "debug" {
		t.Fatalf("LogLevel: got %q, want %q", cfg.LogLevel, "debug")
	}
	if cfg.MaxFailCount != 3 {
		t.Fatalf("MaxFailCount: got %d, want 3", cfg.MaxFailCount)
	}
	if cfg.GuestCommand != "wsl-fs-notify-dev" {
		t.Fatalf("GuestCommand: got %q, want %q", cfg.GuestCommand, "wsl-fs-notify-dev")
	}
}

func TestLoadRejectsMalformedYAML(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(path, []byte("logLevel: [unterminated"), 0o644); err != nil {
		t.Fatalf("unable to write test config: %v", err)
	}
	if _, err := Load(path); err == nil {
		t.Fatal("expected an error parsing malformed YAML, got nil")
	}
}

func TestResolveLogLevel(t *testing.T) {
	var nilConfig *Configuration
	if got := nilConfig.ResolveLogLevel(logging.LevelWarn); got != logging.LevelWarn {
		t.Fatalf("nil config: got %v, want %v", got, logging.LevelWarn)
	}

	empty := &Configuration{}
	if got := empty.ResolveLogLevel(logging.LevelInfo); got != logging.LevelInfo {
		t.Fatalf("empty config: got %v, want %v", got, logging.LevelInfo)
	}

	unrecognized := &Configuration{LogLevel: "not-a-level"}
	if got := unrecognized.ResolveLogLevel(logging.LevelInfo); got != logging.LevelInfo {
		t.Fatalf("unrecognized level: got %v, want fallback %v", got, logging.LevelInfo)
	}

	valid := &Configuration{LogLevel: "debug"}
	if got := valid.ResolveLogLevel(logging.LevelInfo); got != logging.LevelDebug {
		t.Fatalf("valid level: got %v, want %v", got, logging.LevelDebug)
	}
}

func TestResolveMaxFailCount(t *testing.T) {
	var nilConfig *Configuration
	if got := nilConfig.ResolveMaxFailCount(); got != defaultMaxFailCount {
		t.Fatalf("nil config: got %d, want default %d", got, defaultMaxFailCount)
	}

	zero := &Configuration{}
	if got := zero.ResolveMaxFailCount(); got != defaultMaxFailCount {
		t.Fatalf("zero config: got %d, want default %d", got, defaultMaxFailCount)
	}

	overridden := &Configuration{MaxFailCount: 2}
	if got := overridden.ResolveMaxFailCount(); got != 2 {
		t.Fatalf("overridden: got %d, want 2", got)
	}
}

func TestResolveGuestCommand(t *testing.T) {
	var nilConfig *Configuration
	if got := nilConfig.ResolveGuestCommand(); got != defaultGuestCommand {
		t.Fatalf("nil config: got %q, want default %q", got, defaultGuestCommand)
	}

	overridden := &Configuration{GuestCommand: "custom-guest"}
	if got := overridden.ResolveGuestCommand(); got != "custom-guest" {
		t.Fatalf("overridden: got %q, want %q", got, "custom-guest")
	}
}
