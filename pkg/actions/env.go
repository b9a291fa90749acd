// Package actions runs the client actions of managedmac: the
// ManagedPrinters pass and the repository update.
//
// Each call builds its own manifest cache, so a run sees one snapshot of
// the repository and the next run starts from scratch.
package actions

import (
	"time"

	"github.com/rs/zerolog"

	"github.com/openfroyo/managedmac/pkg/config"
	"github.com/openfroyo/managedmac/pkg/document"
	"github.com/openfroyo/managedmac/pkg/fetch"
	"github.com/openfroyo/managedmac/pkg/identity"
	"github.com/openfroyo/managedmac/pkg/manifest"
	"github.com/openfroyo/managedmac/pkg/printers"
	"github.com/openfroyo/managedmac/pkg/stores"
	"github.com/openfroyo/managedmac/pkg/telemetry"
)

// Identity supplies client identifiers and the facts used by manifest
// conditions. identity.Resolver implements it.
type Identity interface {
	manifest.IdentifierSource
	Facts() map[string]any
}

// Env holds the collaborators shared by every run. Gate and Telemetry are
// optional.
type Env struct {
	Config    *config.Client
	Fetcher   fetch.Fetcher
	Docs      document.Store
	State     stores.State
	Adapter   printers.Adapter
	Idle      identity.IdleProbe
	Identity  Identity
	Gate      printers.Gate
	Telemetry *telemetry.Telemetry
	Logger    zerolog.Logger
}

func (e *Env) telemetry() *telemetry.Telemetry {
	if e.Telemetry == nil {
		e.Telemetry = telemetry.NewNop()
	}
	return e.Telemetry
}

// newCache creates a run-scoped cache reporting fetches to the metrics.
func (e *Env) newCache(logger zerolog.Logger) *manifest.Cache {
	metrics := e.telemetry().Metrics
	cache := manifest.NewCache(e.Config.RepoURL, e.Fetcher, logger)
	cache.OnFetch(func(kind manifest.Kind, _ string, status manifest.Status, elapsed time.Duration) {
		metrics.RecordFetch(string(kind), status.String(), elapsed)
	})
	return cache
}

// newWalker creates a walker over cache that keeps the local manifest copy
// and evaluates conditional items against the host facts.
func (e *Env) newWalker(cache *manifest.Cache, logger zerolog.Logger) *manifest.Walker {
	return manifest.NewWalker(cache, e.Identity,
		manifest.WithLocalCopy(e.Docs, e.Config.ClientManifestPath()),
		manifest.WithConditions(manifest.NewConditions(e.Identity.Facts())),
		manifest.WithLogger(logger),
	)
}
