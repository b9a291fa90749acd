// Package manifest resolves the manifest inclusion tree of a client and
// looks up item descriptors in its catalogs.
//
// Documents are fetched from the repository at <repo>/manifests/<name> and
// <repo>/catalogs/<name> and cached for the lifetime of a Cache, which is
// one client run. Failures are cached too, so a run sees one consistent
// snapshot of the repository.
package manifest

import (
	"context"
	"time"

	"github.com/rs/zerolog"

	"github.com/openfroyo/managedmac/pkg/document"
	"github.com/openfroyo/managedmac/pkg/engine"
	"github.com/openfroyo/managedmac/pkg/fetch"
)

// Kind selects the repository directory a document lives in.
type Kind string

const (
	KindManifest Kind = "manifests"
	KindCatalog  Kind = "catalogs"
)

// Status is the outcome of resolving a named document.
type Status int

const (
	StatusSuccess Status = iota
	StatusNotFound
	StatusFetchFailure
)

func (s Status) String() string {
	switch s {
	case StatusSuccess:
		return "success"
	case StatusNotFound:
		return "not_found"
	default:
		return "fetch_failure"
	}
}

// Result is a resolved document or the reason it is unavailable.
type Result struct {
	Status Status
	Doc    document.Node
	Err    error
}

// OK reports whether the document is available.
func (r Result) OK() bool { return r.Status == StatusSuccess }

// FetchHook observes every repository fetch made by a Cache.
type FetchHook func(kind Kind, name string, status Status, elapsed time.Duration)

// Cache fetches manifests and catalogs on first use and remembers the result.
// It is not safe for concurrent use; a run is single-threaded.
type Cache struct {
	repoURL string
	fetcher fetch.Fetcher
	logger  zerolog.Logger
	onFetch FetchHook

	docs map[Kind]map[string]Result
}

// NewCache creates an empty Cache reading from repoURL.
func NewCache(repoURL string, fetcher fetch.Fetcher, logger zerolog.Logger) *Cache {
	return &Cache{
		repoURL: repoURL,
		fetcher: fetcher,
		logger:  logger.With().Str("component", "manifest_cache").Logger(),
		docs: map[Kind]map[string]Result{
			KindManifest: {},
			KindCatalog:  {},
		},
	}
}

// OnFetch installs a hook called after each repository fetch.
func (c *Cache) OnFetch(hook FetchHook) {
	c.onFetch = hook
}

// Manifest returns the named manifest.
func (c *Cache) Manifest(ctx context.Context, name string) Result {
	return c.get(ctx, KindManifest, name)
}

// Catalog returns the named catalog.
func (c *Cache) Catalog(ctx context.Context, name string) Result {
	return c.get(ctx, KindCatalog, name)
}

// Put seeds the cache with an already available document.
func (c *Cache) Put(kind Kind, name string, doc document.Node) {
	c.docs[kind][name] = Result{Status: StatusSuccess, Doc: doc}
}

// Cached reports whether name has been resolved, successfully or not.
func (c *Cache) Cached(kind Kind, name string) bool {
	_, ok := c.docs[kind][name]
	return ok
}

// URL returns the repository URL of a document.
func (c *Cache) URL(kind Kind, name string) string {
	return fetch.JoinURL(c.repoURL, string(kind), name)
}

func (c *Cache) get(ctx context.Context, kind Kind, name string) Result {
	if r, ok := c.docs[kind][name]; ok {
		return r
	}

	url := c.URL(kind, name)
	c.logger.Info().Str("url", url).Msgf("Downloading %s", kind)

	start := time.Now()
	r := c.fetch(ctx, kind, name, url)
	if c.onFetch != nil {
		c.onFetch(kind, name, r.Status, time.Since(start))
	}
	if !r.OK() {
		c.logger.Warn().Err(r.Err).Str("url", url).Msg("Download failed")
	}

	c.docs[kind][name] = r
	return r
}

func (c *Cache) fetch(ctx context.Context, kind Kind, name, url string) Result {
	data, err := c.fetcher.Fetch(ctx, url)
	if err != nil {
		if engine.IsNotFound(err) {
			return Result{Status: StatusNotFound, Err: err}
		}
		return Result{Status: StatusFetchFailure, Err: err}
	}

	doc, err := document.Decode(data)
	if err != nil {
		return Result{
			Status: StatusFetchFailure,
			Err:    engine.NewFetchFailure("invalid document", err).WithResource(name).WithOperation(string(kind)),
		}
	}
	if doc.Kind() != document.KindMapping {
		return Result{
			Status: StatusFetchFailure,
			Err:    engine.NewFetchFailure("document is not a mapping", nil).WithResource(name).WithOperation(string(kind)),
		}
	}
	return Result{Status: StatusSuccess, Doc: doc}
}

// FirstMatch looks keypath up in the named catalogs, in order, and returns
// the first value found. Catalogs that cannot be fetched are skipped.
func (c *Cache) FirstMatch(ctx context.Context, catalogs []string, keypath string) (document.Node, bool) {
	docs := make([]document.Node, 0, len(catalogs))
	for _, name := range catalogs {
		r := c.Catalog(ctx, name)
		if !r.OK() {
			continue
		}
		docs = append(docs, r.Doc)
	}
	return FirstMatch(docs, keypath)
}

// FirstMatch returns the value of keypath in the first document that
// defines it. Later definitions are shadowed, never merged.
func FirstMatch(docs []document.Node, keypath string) (document.Node, bool) {
	for _, doc := range docs {
		if v, ok := doc.Lookup(keypath); ok {
			return v, true
		}
	}
	return document.Null(), false
}
