// Package fetch retrieves repository documents and payloads by URL.
//
// Every fetcher returns classified engine errors: a missing document is
// NotFound, anything else that prevents retrieval is a FetchFailure.
package fetch

import (
	"context"
	"fmt"
	"net/url"
	"os"
	"sort"
	"strings"

	"github.com/rs/zerolog/log"

	"github.com/openfroyo/managedmac/pkg/engine"
)

// Fetcher retrieves the bytes behind a URL.
type Fetcher interface {
	Fetch(ctx context.Context, rawURL string) ([]byte, error)
}

// FetcherFunc adapts a function to the Fetcher interface.
type FetcherFunc func(ctx context.Context, rawURL string) ([]byte, error)

// Fetch calls f.
func (f FetcherFunc) Fetch(ctx context.Context, rawURL string) ([]byte, error) {
	return f(ctx, rawURL)
}

// Mux dispatches fetches by URL scheme.
type Mux struct {
	schemes map[string]Fetcher
}

// NewMux creates an empty Mux.
func NewMux() *Mux {
	return &Mux{schemes: make(map[string]Fetcher)}
}

// Handle registers f for scheme. A later registration replaces an earlier one.
func (m *Mux) Handle(scheme string, f Fetcher) *Mux {
	m.schemes[strings.ToLower(scheme)] = f
	return m
}

// Schemes returns the registered schemes in sorted order.
func (m *Mux) Schemes() []string {
	out := make([]string, 0, len(m.schemes))
	for s := range m.schemes {
		out = append(out, s)
	}
	sort.Strings(out)
	return out
}

// Fetch implements Fetcher.
func (m *Mux) Fetch(ctx context.Context, rawURL string) ([]byte, error) {
	u, err := url.Parse(rawURL)
	if err != nil {
		return nil, engine.NewPermanentError("invalid url", err).
			WithResource(rawURL).WithCode(engine.ErrCodeValidation)
	}

	f, ok := m.schemes[strings.ToLower(u.Scheme)]
	if !ok {
		return nil, engine.NewPermanentError(fmt.Sprintf("unsupported url scheme %q (supported: %s)",
			u.Scheme, strings.Join(m.Schemes(), ", ")), nil).
			WithResource(rawURL).WithCode(engine.ErrCodeValidation)
	}

	return f.Fetch(ctx, rawURL)
}

// Download fetches rawURL into a new temporary file and returns its path.
// The caller owns the file and must remove it.
func Download(ctx context.Context, f Fetcher, rawURL string) (string, error) {
	data, err := f.Fetch(ctx, rawURL)
	if err != nil {
		return "", err
	}

	tmp, err := os.CreateTemp("", "managedmac-payload-*")
	if err != nil {
		return "", engine.NewFetchFailure("failed to create temporary file", err).WithResource(rawURL)
	}
	path := tmp.Name()

	if _, err := tmp.Write(data); err != nil {
		_ = tmp.Close()
		_ = os.Remove(path)
		return "", engine.NewFetchFailure("failed to write temporary file", err).WithResource(rawURL)
	}
	if err := tmp.Close(); err != nil {
		_ = os.Remove(path)
		return "", engine.NewFetchFailure("failed to close temporary file", err).WithResource(rawURL)
	}

	log.Debug().Str("url", rawURL).Str("path", path).Int("bytes", len(data)).Msg("payload downloaded")
	return path, nil
}

// JoinURL appends path segments to base, escaping each path element.
// A segment may itself contain slashes, as in "groups/lab".
func JoinURL(base string, segments ...string) string {
	out := strings.TrimRight(base, "/")
	for _, s := range segments {
		for _, part := range strings.Split(strings.Trim(s, "/"), "/") {
			out += "/" + url.PathEscape(part)
		}
	}
	return out
}
