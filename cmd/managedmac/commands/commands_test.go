package commands

import (
	"bytes"
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/openfroyo/managedmac/pkg/document"
	"github.com/openfroyo/managedmac/pkg/engine"
	"github.com/openfroyo/managedmac/pkg/stores"
)

func execute(t *testing.T, args ...string) (string, error) {
	t.Helper()
	configPath, repoURL, identifier, verbose, jsonOutput = "", "", "", false, false

	root := newRootCommand("test", "none", "today")
	var out bytes.Buffer
	root.SetOut(&out)
	root.SetErr(&out)
	root.SetArgs(args)
	err := root.ExecuteContext(context.Background())
	return out.String(), err
}

func writeConfig(t *testing.T, dataDir string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "managedmac.cue")
	src := "data_dir: \"" + dataDir + "\"\nrepo_url: \"file:///srv/repo\"\n"
	if err := os.WriteFile(path, []byte(src), 0o644); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestConfigCommand(t *testing.T) {
	path := writeConfig(t, t.TempDir())

	out, err := execute(t, "config", "--config", path, "--identifier", "lab-12", "--verbose")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	var cfg map[string]interface{}
	if err := json.Unmarshal([]byte(out), &cfg); err != nil {
		t.Fatalf("output is not JSON: %v\n%s", err, out)
	}
	if cfg["repo_url"] != "file:///srv/repo" || cfg["client_identifier"] != "lab-12" {
		t.Errorf("flags not applied: %v", cfg)
	}
	if logging, _ := cfg["logging"].(map[string]interface{}); logging["level"] != "debug" {
		t.Errorf("verbose should select debug logging, got %v", logging)
	}
}

func TestConfigCommandRejectsInvalidFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "bad.cue")
	if err := os.WriteFile(path, []byte(`state_backend: "mysql"`), 0o644); err != nil {
		t.Fatal(err)
	}
	if _, err := execute(t, "config", "--config", path); err == nil {
		t.Error("expected an error")
	}
}

func TestStatusCommand(t *testing.T) {
	ctx := context.Background()
	dataDir := t.TempDir()
	path := writeConfig(t, dataDir)

	state := stores.NewDocumentStore(document.NewFileStore(),
		filepath.Join(dataDir, "PrinterStatus.plist"), filepath.Join(dataDir, "ManagedPrinters.plist"))
	if err := state.SetLastUpdate(ctx, "hp1", 3); err != nil {
		t.Fatal(err)
	}
	if err := state.SetLastUpdate(ctx, "lab", 7); err != nil {
		t.Fatal(err)
	}
	if err := state.Add(ctx, "lab"); err != nil {
		t.Fatal(err)
	}

	out, err := execute(t, "status", "--config", path, "--json")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	var rows []printerStatus
	if err := json.Unmarshal([]byte(out), &rows); err != nil {
		t.Fatalf("output is not JSON: %v\n%s", err, out)
	}
	want := []printerStatus{{ID: "hp1", LastUpdate: 3}, {ID: "lab", LastUpdate: 7, User: true}}
	if len(rows) != len(want) || rows[0] != want[0] || rows[1] != want[1] {
		t.Errorf("expected %v, got %v", want, rows)
	}

	out, err = execute(t, "status", "--config", path, "missing")
	if err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(out, "missing") || !strings.Contains(out, "-1") {
		t.Errorf("unknown printers should show the -1 stamp:\n%s", out)
	}
}

func TestPrintSummary(t *testing.T) {
	start := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)
	s := &engine.RunSummary{
		RunID:       "r1",
		Identifier:  "site_default",
		StartedAt:   start,
		CompletedAt: start.Add(1500 * time.Millisecond),
		Warnings:    []string{"catalog unavailable"},
	}
	s.Add(engine.ItemResult{ID: "hp1", Scope: engine.ScopeSystem, Action: engine.ActionInstall, Outcome: engine.OutcomeInstalled})
	s.Add(engine.ItemResult{ID: "lab", Scope: engine.ScopeUser, Action: engine.ActionInstall, Outcome: engine.OutcomeDeferred})

	var buf bytes.Buffer
	printSummary(&buf, s)
	out := buf.String()

	for _, want := range []string{`Run r1 (partial) using manifest "site_default": 2 items in 1.5s`, "hp1", "deferred", "warning: catalog unavailable"} {
		if !strings.Contains(out, want) {
			t.Errorf("summary missing %q:\n%s", want, out)
		}
	}
}
