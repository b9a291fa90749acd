package manifest

import (
	"context"
	"fmt"

	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/openfroyo/managedmac/pkg/document"
	"github.com/openfroyo/managedmac/pkg/engine"
)

// Well-known manifest keys.
const (
	KeyCatalogs          = "catalogs"
	KeyIncludedManifests = "included_manifests"
	KeyConditionalItems  = "conditional_items"
	KeyCondition         = "condition"
)

// Handler is invoked once per desired item with the effective catalog list
// of the manifest that declared it.
type Handler func(ctx context.Context, item string, catalogs []string, info *engine.RunInfo) error

// IdentifierSource supplies the ordered client identifiers to try when no
// manifest name is given.
type IdentifierSource interface {
	Identifiers() []string
}

// Option configures a Walker.
type Option func(*Walker)

// WithLocalCopy keeps a copy of the client manifest at path. The copy is
// refreshed whenever the client manifest is fetched and is used when no
// identifier can be fetched.
func WithLocalCopy(store document.Store, path string) Option {
	return func(w *Walker) {
		w.store = store
		w.localPath = path
	}
}

// WithConditions enables conditional_items evaluation.
func WithConditions(c *Conditions) Option {
	return func(w *Walker) {
		w.conditions = c
	}
}

// WithLogger sets the walker's logger.
func WithLogger(logger zerolog.Logger) Option {
	return func(w *Walker) {
		w.logger = logger.With().Str("component", "manifest_walker").Logger()
	}
}

// Walker walks the manifest inclusion tree.
type Walker struct {
	cache      *Cache
	ids        IdentifierSource
	store      document.Store
	localPath  string
	conditions *Conditions
	logger     zerolog.Logger
	tracer     trace.Tracer

	client *clientManifest
}

type clientManifest struct {
	name string
	doc  document.Node
	err  error
}

// NewWalker creates a Walker backed by cache.
func NewWalker(cache *Cache, ids IdentifierSource, opts ...Option) *Walker {
	w := &Walker{
		cache:  cache,
		ids:    ids,
		logger: zerolog.Nop(),
		tracer: otel.Tracer("managedmac/manifest"),
	}
	for _, opt := range opts {
		opt(w)
	}
	return w
}

// ClientManifest resolves the manifest of this client by trying each
// identifier in order. When none can be fetched the last local copy is
// used. The outcome is remembered for the life of the Walker.
func (w *Walker) ClientManifest(ctx context.Context) (string, document.Node, error) {
	if w.client == nil {
		w.client = w.resolveClient(ctx)
	}
	return w.client.name, w.client.doc, w.client.err
}

func (w *Walker) resolveClient(ctx context.Context) *clientManifest {
	for _, id := range w.ids.Identifiers() {
		r := w.cache.Manifest(ctx, id)
		if !r.OK() {
			continue
		}

		w.logger.Info().Str("identifier", id).Msg("client manifest resolved")
		if w.store != nil && w.localPath != "" {
			if err := w.store.Write(r.Doc, w.localPath); err != nil {
				w.logger.Warn().Err(err).Str("path", w.localPath).Msg("failed to save local manifest copy")
			}
		}
		return &clientManifest{name: id, doc: r.Doc}
	}

	if w.store != nil && w.localPath != "" {
		doc, err := w.store.Read(w.localPath)
		switch {
		case err != nil:
			w.logger.Warn().Err(err).Str("path", w.localPath).Msg("local manifest copy unreadable")
		case doc.Kind() == document.KindMapping:
			w.logger.Warn().Str("path", w.localPath).Msg("repository unavailable, using local manifest copy")
			name := "client_manifest"
			w.cache.Put(KindManifest, name, doc)
			return &clientManifest{name: name, doc: doc}
		}
	}

	return &clientManifest{
		err: engine.NewNotFound("no client manifest found for any identifier", nil).WithOperation("client_manifest"),
	}
}

// Resolve walks the manifest called name, or the client manifest when name
// is empty. Included manifests are walked first, depth first and in
// document order; then handler is called for each item at keypath. An
// empty keypath only walks the tree, which warms the cache.
//
// Each manifest is visited at most once per call. Failures below the
// top-level manifest are logged and skip only the affected branch; the
// returned error reports only a failure to resolve the top-level manifest.
func (w *Walker) Resolve(ctx context.Context, name, keypath string, handler Handler, parentCatalogs []string, info *engine.RunInfo) error {
	if info == nil {
		info = engine.NewRunInfo()
	}

	var doc document.Node
	if name == "" {
		var err error
		name, doc, err = w.ClientManifest(ctx)
		if err != nil {
			return err
		}
	} else {
		r := w.cache.Manifest(ctx, name)
		if !r.OK() {
			return r.Err
		}
		doc = r.Doc
	}

	visited := map[string]struct{}{name: {}}
	w.walk(ctx, name, doc, keypath, handler, parentCatalogs, info, visited)
	return nil
}

func (w *Walker) walk(ctx context.Context, name string, doc document.Node, keypath string, handler Handler,
	parentCatalogs []string, info *engine.RunInfo, visited map[string]struct{}) {

	ctx, span := w.tracer.Start(ctx, "manifest.walk", trace.WithAttributes(
		attribute.String("manifest.name", name),
		attribute.String("manifest.keypath", keypath),
	))
	defer span.End()

	catalogs := EffectiveCatalogs(doc, parentCatalogs)
	span.SetAttributes(attribute.StringSlice("manifest.catalogs", catalogs))
	w.logger.Debug().Str("manifest", Describe(name, doc)).Msg("walking manifest")

	for _, c := range catalogs {
		if r := w.cache.Catalog(ctx, c); !r.OK() {
			w.logger.Warn().Err(r.Err).Str("manifest", name).Str("catalog", c).Msg("catalog unavailable, skipping")
		}
	}

	includes, _ := doc.Lookup(KeyIncludedManifests)
	for _, include := range includes.Strings() {
		if _, seen := visited[include]; seen {
			w.logger.Debug().Str("manifest", name).Str("include", include).Msg("manifest already visited")
			continue
		}
		visited[include] = struct{}{}

		r := w.cache.Manifest(ctx, include)
		if !r.OK() {
			w.logger.Warn().Err(r.Err).Str("manifest", name).Str("include", include).Msg("included manifest unavailable, skipping")
			span.AddEvent("include.skipped", trace.WithAttributes(attribute.String("manifest.include", include)))
			continue
		}
		w.walk(ctx, include, r.Doc, keypath, handler, catalogs, info, visited)
	}

	if keypath == "" || handler == nil {
		return
	}

	for _, item := range w.items(name, doc, keypath) {
		if err := handler(ctx, item, append([]string(nil), catalogs...), info); err != nil {
			w.logger.Error().Err(err).Str("manifest", name).Str("item", item).Msg("item handler failed")
			span.SetStatus(codes.Error, err.Error())
		}
	}
}

// items returns the names listed at keypath, followed by those of every
// conditional_items entry whose condition holds.
func (w *Walker) items(name string, doc document.Node, keypath string) []string {
	var out []string
	if v, ok := doc.Lookup(keypath); ok {
		out = append(out, itemNames(v)...)
	}

	conditional, ok := doc.Lookup(KeyConditionalItems)
	if !ok || w.conditions == nil {
		return out
	}

	for i, entry := range conditional.Items() {
		cond, _ := entry.Get(KeyCondition)
		expr, ok := cond.String()
		if !ok {
			w.logger.Warn().Str("manifest", name).Int("index", i).Msg("conditional item without condition")
			continue
		}
		matched, err := w.conditions.Evaluate(expr)
		if err != nil {
			w.logger.Warn().Err(err).Str("manifest", name).Msg("condition evaluation failed")
			continue
		}
		if !matched {
			continue
		}
		if v, ok := entry.Lookup(keypath); ok {
			out = append(out, itemNames(v)...)
		}
	}
	return out
}

func itemNames(v document.Node) []string {
	switch v.Kind() {
	case document.KindList:
		return v.Strings()
	case document.KindScalar:
		if s, ok := v.String(); ok {
			return []string{s}
		}
	}
	return nil
}

// EffectiveCatalogs returns the manifest's own catalog list when it is
// non-empty, else parent.
func EffectiveCatalogs(doc document.Node, parent []string) []string {
	if own, ok := doc.Lookup(KeyCatalogs); ok {
		if list := own.Strings(); len(list) > 0 {
			return list
		}
	}
	return append([]string(nil), parent...)
}

// Describe renders a one-line summary of a manifest for diagnostics.
func Describe(name string, doc document.Node) string {
	includes, _ := doc.Lookup(KeyIncludedManifests)
	return fmt.Sprintf("%s catalogs=%v includes=%v", name, EffectiveCatalogs(doc, nil), includes.Strings())
}
