package fetch

import (
	"context"
	"errors"
	"io/fs"
	"net/url"
	"os"

	"github.com/openfroyo/managedmac/pkg/engine"
)

// FileFetcher retrieves file:// URLs. It is mostly useful for repositories
// mounted locally and for tests.
type FileFetcher struct{}

// Fetch implements Fetcher.
func (FileFetcher) Fetch(ctx context.Context, rawURL string) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, engine.NewFetchFailure("fetch cancelled", err).WithResource(rawURL)
	}

	u, err := url.Parse(rawURL)
	if err != nil {
		return nil, engine.NewPermanentError("invalid url", err).WithResource(rawURL)
	}

	data, err := os.ReadFile(u.Path)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, engine.NewNotFound("no such file", err).
			WithResource(rawURL).WithCode(engine.ErrCodeNotFound)
	}
	if err != nil {
		return nil, engine.NewFetchFailure("failed to read file", err).
			WithResource(rawURL).WithCode(engine.ErrCodeFetchFailed)
	}
	return data, nil
}
