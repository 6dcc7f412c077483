package config

import (
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/devicelab-dev/browser-runner/pkg/core"
)

func writeConfig(t *testing.T, dir, name, content string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestLoad_ValidConfig(t *testing.T) {
	path := writeConfig(t, t.TempDir(), "config.yaml", `
browser: firefox
backend: playwright
webdriverUrl: http://grid:4444
baseUrl: https://www.facebook.com/
headless: true
clickStrategy: script
timeouts:
  long: 30s
  short: 500ms
flows:
  - "flows/**"
includeTags:
  - smoke
excludeTags:
  - wip
env:
  USER: test
  PASS: secret
artifacts:
  captureOnFailure: true
  screenshot: true
  pageSource: true
log:
  level: info
  maxSizeMB: 5
`)

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if cfg.Browser != "firefox" || cfg.Backend != "playwright" {
		t.Errorf("browser/backend = %q/%q", cfg.Browser, cfg.Backend)
	}
	if cfg.WebDriverURL != "http://grid:4444" || cfg.BaseURL != "https://www.facebook.com/" {
		t.Errorf("urls = %q, %q", cfg.WebDriverURL, cfg.BaseURL)
	}
	if !cfg.Headless || cfg.ClickStrategy != "script" {
		t.Errorf("headless=%v clickStrategy=%q", cfg.Headless, cfg.ClickStrategy)
	}
	if cfg.Timeouts.Long != 30*time.Second || cfg.Timeouts.Short != 500*time.Millisecond {
		t.Errorf("timeouts = %+v", cfg.Timeouts)
	}
	if len(cfg.Flows) != 1 || cfg.Flows[0] != "flows/**" {
		t.Errorf("expected flows [flows/**], got %v", cfg.Flows)
	}
	if len(cfg.IncludeTags) != 1 || cfg.IncludeTags[0] != "smoke" {
		t.Errorf("expected includeTags [smoke], got %v", cfg.IncludeTags)
	}
	if len(cfg.ExcludeTags) != 1 || cfg.ExcludeTags[0] != "wip" {
		t.Errorf("expected excludeTags [wip], got %v", cfg.ExcludeTags)
	}
	if cfg.Env["USER"] != "test" || cfg.Env["PASS"] != "secret" {
		t.Errorf("expected env {USER:test, PASS:secret}, got %v", cfg.Env)
	}
	if a := cfg.ArtifactConfig(); !a.PageSource || !a.Screenshot || a.CaptureOnSuccess {
		t.Errorf("artifacts = %+v", a)
	}
	if cfg.Log.Level != "info" || cfg.Log.MaxSizeMB != 5 {
		t.Errorf("log = %+v", cfg.Log)
	}
}

func TestLoad_NonExistentFile(t *testing.T) {
	_, err := Load("/nonexistent/config.yaml")
	if err == nil {
		t.Error("expected error for nonexistent file")
	}
}

func TestLoad_InvalidYAML(t *testing.T) {
	path := writeConfig(t, t.TempDir(), "config.yaml", `flows: [invalid yaml`)

	_, err := Load(path)
	if err == nil {
		t.Error("expected error for invalid YAML")
	}
}

func TestLoad_InvalidValues(t *testing.T) {
	tests := []struct {
		name    string
		content string
	}{
		{"click strategy", "clickStrategy: telepathy\n"},
		{"negative timeout", "timeouts:\n  long: -1s\n"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			path := writeConfig(t, t.TempDir(), "config.yaml", tt.content)
			_, err := Load(path)
			if !errors.Is(err, core.ErrInvalidConfig) {
				t.Errorf("Load() error = %v, want ErrInvalidConfig", err)
			}
		})
	}
}

func TestLoad_EmptyConfig(t *testing.T) {
	path := writeConfig(t, t.TempDir(), "config.yaml", ``)

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if len(cfg.Flows) != 0 {
		t.Errorf("expected empty flows, got %v", cfg.Flows)
	}
	if cfg.ArtifactConfig() != core.DefaultArtifactConfig() {
		t.Errorf("artifacts = %+v, want defaults", cfg.ArtifactConfig())
	}
}

func TestLoadFromDir(t *testing.T) {
	t.Run("config.yaml", func(t *testing.T) {
		dir := t.TempDir()
		writeConfig(t, dir, "config.yaml", `browser: edge`)

		cfg, err := LoadFromDir(dir)
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if cfg.Browser != "edge" {
			t.Errorf("expected browser edge, got %s", cfg.Browser)
		}
	})

	t.Run("config.yml", func(t *testing.T) {
		dir := t.TempDir()
		writeConfig(t, dir, "config.yml", `browser: firefox`)

		cfg, err := LoadFromDir(dir)
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if cfg.Browser != "firefox" {
			t.Errorf("expected browser firefox, got %s", cfg.Browser)
		}
	})

	t.Run("prefers yaml over yml", func(t *testing.T) {
		dir := t.TempDir()
		writeConfig(t, dir, "config.yaml", `browser: chrome`)
		writeConfig(t, dir, "config.yml", `browser: firefox`)

		cfg, err := LoadFromDir(dir)
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if cfg.Browser != "chrome" {
			t.Errorf("expected browser chrome (from config.yaml), got %s", cfg.Browser)
		}
	})

	t.Run("no config", func(t *testing.T) {
		cfg, err := LoadFromDir(t.TempDir())
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if cfg.Browser != "" || len(cfg.Flows) != 0 {
			t.Errorf("expected empty config, got %+v", cfg)
		}
	})
}

func TestLogConfig_Options(t *testing.T) {
	ResetHome()
	t.Setenv("BROWSER_RUNNER_HOME", "/test/home")
	defer ResetHome()

	opts := LogConfig{Level: "warn", MaxBackups: 3}.Options(true)
	if opts.File != filepath.Join("/test/home", "logs", "browser-runner.log") {
		t.Errorf("File = %q", opts.File)
	}
	if !opts.Verbose || opts.Level != "warn" || opts.MaxBackups != 3 {
		t.Errorf("options = %+v", opts)
	}

	opts = LogConfig{File: "/tmp/run.log"}.Options(false)
	if opts.File != "/tmp/run.log" || opts.Verbose {
		t.Errorf("explicit file options = %+v", opts)
	}
}
