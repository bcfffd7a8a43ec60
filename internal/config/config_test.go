package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "relaychat.json")
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("writing config: %v", err)
	}
	return path
}

func TestDefaults(t *testing.T) {
	cfg := Default()
	if cfg.Polling.Interval() != 1200*time.Millisecond {
		t.Fatalf("unexpected base interval %s", cfg.Polling.Interval())
	}
	if cfg.Polling.ActiveThreshold() != 12*time.Second {
		t.Fatalf("unexpected active threshold %s", cfg.Polling.ActiveThreshold())
	}
	if cfg.Polling.InactiveInterval() != 6*time.Second {
		t.Fatalf("unexpected inactive interval %s", cfg.Polling.InactiveInterval())
	}
	if cfg.Polling.MaxConcurrentPolls != 1 {
		t.Fatalf("unexpected concurrency bound %d", cfg.Polling.MaxConcurrentPolls)
	}
}

func TestLoadLayersOverDefaults(t *testing.T) {
	path := writeConfig(t, `{
		// served from the staging cluster
		"server": "https://chat.example.com",
		"polling": {
			"base_interval": 500
		}
	}`)

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	want := Default()
	want.Server = "https://chat.example.com"
	want.Polling.BaseInterval = 500
	if diff := cmp.Diff(want, cfg); diff != "" {
		t.Fatalf("unexpected config (-want +got):\n%s", diff)
	}
}

func TestLoadAcceptsBlockComments(t *testing.T) {
	path := writeConfig(t, `{
		/* token lives outside the repo checkout */
		"token_file": "/var/lib/relaychat/token"
	}`)

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if cfg.TokenFile != "/var/lib/relaychat/token" {
		t.Fatalf("unexpected token file %q", cfg.TokenFile)
	}
}

func TestLoadRejectsUnknownKeys(t *testing.T) {
	path := writeConfig(t, `{"serverr": "typo"}`)
	if _, err := Load(path); err == nil {
		t.Fatalf("expected a validation error for an unknown key")
	}
}

func TestLoadRejectsOutOfRangeValues(t *testing.T) {
	path := writeConfig(t, `{"polling": {"max_concurrent_polls": 0}}`)
	if _, err := Load(path); err == nil {
		t.Fatalf("expected a validation error for a zero concurrency bound")
	}
}

func TestLoadReportsSyntaxErrorPosition(t *testing.T) {
	path := writeConfig(t, "{\n  \"server\": \n}")
	_, err := Load(path)
	if err == nil {
		t.Fatalf("expected a syntax error")
	}
	if !strings.Contains(err.Error(), "syntax error at") {
		t.Fatalf("error lacks position info: %v", err)
	}
}

func TestLoadMissingFile(t *testing.T) {
	if _, err := Load(filepath.Join(t.TempDir(), "nope.json")); !os.IsNotExist(err) {
		t.Fatalf("expected a not-exist error, got %v", err)
	}
}

func TestWatchDeliversReloads(t *testing.T) {
	path := writeConfig(t, `{"polling": {"base_interval": 1000}}`)

	reloads := make(chan *Config, 4)
	w, err := Watch(path, func(cfg *Config) { reloads <- cfg }, nil)
	if err != nil {
		t.Fatalf("Watch failed: %v", err)
	}
	defer w.Close()

	if err := os.WriteFile(path, []byte(`{"polling": {"base_interval": 250}}`), 0o644); err != nil {
		t.Fatalf("rewriting config: %v", err)
	}

	select {
	case cfg := <-reloads:
		if cfg.Polling.BaseInterval != 250 {
			t.Fatalf("unexpected reloaded interval %d", cfg.Polling.BaseInterval)
		}
	case <-time.After(5 * time.Second):
		t.Fatalf("reload was not delivered")
	}
}

func TestWatchSkipsInvalidIntermediateState(t *testing.T) {
	path := writeConfig(t, `{"polling": {"base_interval": 1000}}`)

	reloads := make(chan *Config, 4)
	w, err := Watch(path, func(cfg *Config) { reloads <- cfg }, nil)
	if err != nil {
		t.Fatalf("Watch failed: %v", err)
	}
	defer w.Close()

	// A half-written file must not reach the callback.
	if err := os.WriteFile(path, []byte(`{"polling": {`), 0o644); err != nil {
		t.Fatalf("rewriting config: %v", err)
	}
	if err := os.WriteFile(path, []byte(`{"polling": {"base_interval": 300}}`), 0o644); err != nil {
		t.Fatalf("rewriting config: %v", err)
	}

	deadline := time.After(5 * time.Second)
	for {
		select {
		case cfg := <-reloads:
			if cfg.Polling.BaseInterval == 300 {
				return
			}
			t.Fatalf("invalid intermediate config was delivered: %+v", cfg)
		case <-deadline:
			t.Fatalf("valid rewrite was not delivered")
		}
	}
}
