package actions

import (
	"context"
	"fmt"

	"github.com/openfroyo/managedmac/pkg/engine"
	"github.com/openfroyo/managedmac/pkg/manifest"
	"github.com/openfroyo/managedmac/pkg/telemetry"
)

// UpdateResult reports what UpdateRepo saved.
type UpdateResult struct {
	Identifier   string `json:"identifier"`
	ManifestPath string `json:"manifest_path"`
	Catalog      string `json:"catalog,omitempty"`
	CatalogPath  string `json:"catalog_path,omitempty"`
}

// UpdateRepo downloads the client manifest, trying each identifier in
// order, and the first catalog it names. Both are saved as local copies.
// A catalog that cannot be downloaded is logged and leaves the previous
// catalog copy in place.
func UpdateRepo(ctx context.Context, env *Env) (result *UpdateResult, err error) {
	op := telemetry.StartOperation(env.telemetry().WithContext(ctx), "repo.update")
	defer func() { op.End(err) }()

	logger := env.Logger.With().Str("component", "update").Logger()
	cache := env.newCache(logger)

	for _, id := range env.Identity.Identifiers() {
		r := cache.Manifest(op.Ctx, id)
		if !r.OK() {
			continue
		}

		result = &UpdateResult{Identifier: id, ManifestPath: env.Config.ClientManifestPath()}
		if err := env.Docs.Write(r.Doc, result.ManifestPath); err != nil {
			return nil, engine.NewPersistenceFailure("failed to save client manifest", err).
				WithResource(result.ManifestPath)
		}
		logger.Info().Str("identifier", id).Str("path", result.ManifestPath).Msg("Client manifest saved")

		catalogs := manifest.EffectiveCatalogs(r.Doc, nil)
		if len(catalogs) == 0 {
			return result, nil
		}
		c := cache.Catalog(op.Ctx, catalogs[0])
		if !c.OK() {
			logger.Warn().Err(c.Err).Str("catalog", catalogs[0]).Msg("Catalog download failed")
			return result, nil
		}
		path := env.Config.ClientCatalogPath()
		if err := env.Docs.Write(c.Doc, path); err != nil {
			return nil, engine.NewPersistenceFailure("failed to save client catalog", err).WithResource(path)
		}
		result.Catalog = catalogs[0]
		result.CatalogPath = path
		logger.Info().Str("catalog", catalogs[0]).Str("path", path).Msg("Client catalog saved")
		return result, nil
	}

	return nil, engine.NewNotFound(
		fmt.Sprintf("no client manifest found for identifiers %v", env.Identity.Identifiers()), nil).
		WithOperation("update")
}
