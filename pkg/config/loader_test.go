package config

import (
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func newTestLoader(t *testing.T) *Loader {
	t.Helper()
	l, err := NewLoader()
	if err != nil {
		t.Fatalf("failed to create loader: %v", err)
	}
	return l
}

func TestDefaults(t *testing.T) {
	c, err := newTestLoader(t).Defaults()
	if err != nil {
		t.Fatalf("defaults should load: %v", err)
	}

	if c.RepoURL != "http://munki/managedmac" {
		t.Errorf("unexpected repo url %q", c.RepoURL)
	}
	if c.DataDir != "/Library/ManagedMac" {
		t.Errorf("unexpected data dir %q", c.DataDir)
	}
	if c.StateBackend != "document" {
		t.Errorf("unexpected backend %q", c.StateBackend)
	}
	if !c.SSH.StrictHostKeyChecking {
		t.Error("host keys should be checked by default")
	}
	if c.Logging.MaxSizeBytes != 1000000 || c.Logging.Backups != 6 {
		t.Errorf("unexpected rotation %d/%d", c.Logging.MaxSizeBytes, c.Logging.Backups)
	}

	limits := c.Limits()
	if limits.IdleThreshold != 120*time.Second || limits.MaxPendingJobs != 2 ||
		limits.DrainTimeout != 30*time.Second || limits.PollInterval != 5*time.Second {
		t.Errorf("unexpected limits %+v", limits)
	}
}

func TestParseOverrides(t *testing.T) {
	src := `
repo_url: "sftp://repo.example.com/srv/managedmac"
client_identifier: "lab-12"
data_dir: "/var/lib/managedmac"
state_backend: "sqlite"
printers: max_pending_jobs: 4
ssh: {
	user: "deploy"
	key_path: "/etc/managedmac/id_ed25519"
}
tracing: {
	enabled: true
	exporter: "otlp"
	endpoint: "collector:4317"
	sampling_rate: 0.5
}
`
	c, err := newTestLoader(t).Parse("managedmac.cue", []byte(src))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if c.ClientIdentifier != "lab-12" || c.StateBackend != "sqlite" {
		t.Errorf("overrides not applied: %+v", c)
	}
	if c.Printers.MaxPendingJobs != 4 || c.Printers.IdleThresholdSeconds != 120 {
		t.Errorf("printer section not merged with defaults: %+v", c.Printers)
	}

	if got := c.StatusFile(); got != "/var/lib/managedmac/PrinterStatus.plist" {
		t.Errorf("unexpected status file %q", got)
	}
	if got := c.UserPrintersDir(); got != "/var/lib/managedmac/ManagedPrinters/UserPrinters" {
		t.Errorf("unexpected user printers dir %q", got)
	}
	if got := c.StorePaths().Database; got != "/var/lib/managedmac/state.db" {
		t.Errorf("unexpected database path %q", got)
	}

	tmpl := c.SSHTemplate()
	if tmpl.User != "deploy" || tmpl.KeyPath != "/etc/managedmac/id_ed25519" || tmpl.Port != 22 {
		t.Errorf("unexpected ssh template %+v", tmpl)
	}

	tel := c.Telemetry("1.2.3")
	if err := tel.Validate(); err != nil {
		t.Errorf("telemetry config should be valid: %v", err)
	}
	if tel.Logging.Output != "/var/lib/managedmac/Logs/ManagedMac.log" {
		t.Errorf("unexpected log output %q", tel.Logging.Output)
	}
	if tel.Tracing.SamplingRate != 0.5 || tel.ServiceVersion != "1.2.3" {
		t.Errorf("tracing not converted: %+v", tel.Tracing)
	}
}

func TestParseErrors(t *testing.T) {
	tests := []struct {
		name    string
		src     string
		wantMsg string
	}{
		{"syntax", "repo_url: \"x\n", ""},
		{"unknown field", `repo_ur: "http://x"`, "repo_ur"},
		{"bad backend", `state_backend: "mysql"`, "state_backend"},
		{"negative threshold", `printers: max_pending_jobs: -1`, "max_pending_jobs"},
		{"invalid url", `repo_url: "not a url"`, "RepoURL"},
		{"otlp without endpoint", `tracing: exporter: "otlp"`, "Endpoint"},
	}

	l := newTestLoader(t)
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := l.Parse("managedmac.cue", []byte(tt.src))
			if err == nil {
				t.Fatal("expected an error")
			}
			var loadErr *LoadError
			if !errors.As(err, &loadErr) || len(loadErr.Errors) == 0 {
				t.Fatalf("expected a LoadError, got %T: %v", err, err)
			}
			if tt.wantMsg != "" && !strings.Contains(err.Error(), tt.wantMsg) {
				t.Errorf("expected %q in %v", tt.wantMsg, err)
			}
		})
	}
}

func TestSyntaxErrorPosition(t *testing.T) {
	_, err := newTestLoader(t).Parse("prefs.cue", []byte("repo_url: \"http://x\"\nprinters: {\n"))
	var loadErr *LoadError
	if !errors.As(err, &loadErr) {
		t.Fatalf("expected a LoadError, got %v", err)
	}
	first := loadErr.Errors[0]
	if first.File != "prefs.cue" || first.Line == 0 {
		t.Errorf("expected a position in prefs.cue, got %+v", first)
	}
}

func TestLoad(t *testing.T) {
	l := newTestLoader(t)

	path := filepath.Join(t.TempDir(), "managedmac.cue")
	if err := os.WriteFile(path, []byte(`watch: interval_seconds: 600`), 0o644); err != nil {
		t.Fatal(err)
	}
	c, err := l.Load(path)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if c.WatchInterval() != 10*time.Minute {
		t.Errorf("unexpected watch interval %v", c.WatchInterval())
	}

	if _, err := l.Load(filepath.Join(t.TempDir(), "missing.cue")); err == nil {
		t.Error("an explicit missing file should fail")
	}
}
