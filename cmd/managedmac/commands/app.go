package commands

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/openfroyo/managedmac/pkg/actions"
	"github.com/openfroyo/managedmac/pkg/command"
	"github.com/openfroyo/managedmac/pkg/config"
	"github.com/openfroyo/managedmac/pkg/document"
	"github.com/openfroyo/managedmac/pkg/fetch"
	"github.com/openfroyo/managedmac/pkg/identity"
	"github.com/openfroyo/managedmac/pkg/policy"
	"github.com/openfroyo/managedmac/pkg/printers/cups"
	"github.com/openfroyo/managedmac/pkg/stores"
	"github.com/openfroyo/managedmac/pkg/telemetry"
)

// loadConfig reads the preferences file and applies the global flags.
func loadConfig() (*config.Client, error) {
	loader, err := config.NewLoader()
	if err != nil {
		return nil, err
	}
	cfg, err := loader.Load(configPath)
	if err != nil {
		return nil, err
	}

	if repoURL != "" {
		cfg.RepoURL = repoURL
	}
	if identifier != "" {
		cfg.ClientIdentifier = identifier
	}
	if verbose {
		cfg.Logging.Level = "debug"
	}
	return cfg, nil
}

// app is the wired client used by the commands that touch the repository
// or the print system.
type app struct {
	cfg   *config.Client
	tel   *telemetry.Telemetry
	state stores.State
	env   *actions.Env
}

func newApp(ctx context.Context, version string) (*app, error) {
	cfg, err := loadConfig()
	if err != nil {
		return nil, err
	}
	if err := prepareDirs(cfg); err != nil {
		return nil, err
	}

	tel, err := telemetry.NewTelemetry(cfg.Telemetry(version))
	if err != nil {
		return nil, fmt.Errorf("failed to initialize telemetry: %w", err)
	}
	logger := tel.Logger.Zerolog()

	runner := &command.ExecRunner{}
	probe := identity.NewSystemProbe(runner)
	resolver := identity.NewResolver(cfg.ClientIdentifier, probe, logger)
	docs := document.NewFileStore()

	state, err := stores.Open(ctx, stores.Backend(cfg.StateBackend), cfg.StorePaths(), docs)
	if err != nil {
		_ = tel.Shutdown(ctx)
		return nil, err
	}

	gate, err := policy.NewEngine(logger, resolver.Facts())
	if err == nil && cfg.PolicyFile != "" {
		err = gate.LoadPolicies(ctx, []string{cfg.PolicyFile})
	}
	if err != nil {
		_ = state.Close()
		_ = tel.Shutdown(ctx)
		return nil, err
	}

	return &app{
		cfg:   cfg,
		tel:   tel,
		state: state,
		env: &actions.Env{
			Config:    cfg,
			Fetcher:   newFetcher(cfg),
			Docs:      docs,
			State:     state,
			Adapter:   cups.NewAdapter(runner, cups.DefaultTools(), logger),
			Idle:      probe,
			Identity:  resolver,
			Gate:      gate,
			Telemetry: tel,
			Logger:    logger,
		},
	}, nil
}

// Close releases the state backend and flushes telemetry.
func (a *app) Close(ctx context.Context) error {
	return errors.Join(a.state.Close(), a.tel.Shutdown(context.WithoutCancel(ctx)))
}

// newFetcher registers a fetcher for every supported repository scheme.
func newFetcher(cfg *config.Client) *fetch.Mux {
	httpFetcher := fetch.NewHTTPFetcher(cfg.HTTPTimeout())
	return fetch.NewMux().
		Handle("http", httpFetcher).
		Handle("https", httpFetcher).
		Handle("file", fetch.FileFetcher{}).
		Handle("sftp", fetch.NewSFTPFetcher(cfg.SSHTemplate()))
}

// prepareDirs creates the data directory layout.
func prepareDirs(cfg *config.Client) error {
	for _, dir := range []string{
		cfg.DataDir,
		filepath.Dir(cfg.LogFile()),
		filepath.Dir(cfg.ClientManifestPath()),
		filepath.Dir(cfg.ClientCatalogPath()),
	} {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("could not create %s: %w", dir, err)
		}
	}
	return nil
}

func printJSON(w io.Writer, v interface{}) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
