package fetch

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/openfroyo/managedmac/pkg/engine"
)

// DefaultUserAgent is sent with every HTTP request.
const DefaultUserAgent = "managedmac"

// HTTPFetcher retrieves http and https URLs.
type HTTPFetcher struct {
	Client    *http.Client
	UserAgent string
}

// NewHTTPFetcher creates an HTTPFetcher with the given request timeout.
func NewHTTPFetcher(timeout time.Duration) *HTTPFetcher {
	return &HTTPFetcher{
		Client:    &http.Client{Timeout: timeout},
		UserAgent: DefaultUserAgent,
	}
}

// Fetch implements Fetcher. Status 404 and 410 map to NotFound; any other
// non-200 status is a FetchFailure.
func (h *HTTPFetcher) Fetch(ctx context.Context, rawURL string) ([]byte, error) {
	startTime := time.Now()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return nil, engine.NewPermanentError("failed to build request", err).WithResource(rawURL)
	}
	if h.UserAgent != "" {
		req.Header.Set("User-Agent", h.UserAgent)
	}

	client := h.Client
	if client == nil {
		client = http.DefaultClient
	}

	resp, err := client.Do(req)
	if err != nil {
		return nil, engine.NewFetchFailure("request failed", err).
			WithResource(rawURL).WithCode(engine.ErrCodeFetchFailed)
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusNotFound || resp.StatusCode == http.StatusGone:
		return nil, engine.NewNotFound(fmt.Sprintf("invalid response received: %d", resp.StatusCode), nil).
			WithResource(rawURL).WithCode(engine.ErrCodeNotFound)
	case resp.StatusCode != http.StatusOK:
		return nil, engine.NewFetchFailure(fmt.Sprintf("invalid response received: %d", resp.StatusCode), nil).
			WithResource(rawURL).WithCode(engine.ErrCodeFetchFailed)
	}

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, engine.NewFetchFailure("failed to read response body", err).
			WithResource(rawURL).WithCode(engine.ErrCodeFetchFailed)
	}

	log.Debug().
		Str("url", rawURL).
		Int("bytes", len(data)).
		Dur("duration", time.Since(startTime)).
		Msg("fetched")

	return data, nil
}
