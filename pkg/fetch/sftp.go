package fetch

import (
	"context"
	"errors"
	"io/fs"
	"net/url"
	"strconv"

	"github.com/openfroyo/managedmac/pkg/engine"
	"github.com/openfroyo/managedmac/pkg/transports/ssh"
)

// remoteReader is the part of ssh.Client used by SFTPFetcher.
type remoteReader interface {
	ReadFile(ctx context.Context, remotePath string) ([]byte, error)
	Close() error
}

// SFTPFetcher retrieves sftp://[user@]host[:port]/path URLs.
// Each fetch opens its own session; repositories are read a handful of
// times per run.
type SFTPFetcher struct {
	// Template supplies authentication and host key settings. Host, port
	// and (when present) user are taken from the URL.
	Template ssh.Config

	dial func(ctx context.Context, cfg *ssh.Config) (remoteReader, error)
}

// NewSFTPFetcher creates an SFTPFetcher using template for credentials.
func NewSFTPFetcher(template ssh.Config) *SFTPFetcher {
	return &SFTPFetcher{
		Template: template,
		dial: func(ctx context.Context, cfg *ssh.Config) (remoteReader, error) {
			client, err := ssh.Dial(ctx, cfg)
			if err != nil {
				return nil, err
			}
			return client, nil
		},
	}
}

// Fetch implements Fetcher.
func (s *SFTPFetcher) Fetch(ctx context.Context, rawURL string) ([]byte, error) {
	cfg, remotePath, err := s.configFor(rawURL)
	if err != nil {
		return nil, engine.NewPermanentError("invalid sftp url", err).
			WithResource(rawURL).WithCode(engine.ErrCodeValidation)
	}

	client, err := s.dial(ctx, cfg)
	if err != nil {
		return nil, engine.NewFetchFailure("sftp connect failed", err).
			WithResource(rawURL).WithCode(engine.ErrCodeFetchFailed)
	}
	defer client.Close()

	data, err := client.ReadFile(ctx, remotePath)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, engine.NewNotFound("no such remote file", err).
			WithResource(rawURL).WithCode(engine.ErrCodeNotFound)
	}
	if err != nil {
		return nil, engine.NewFetchFailure("sftp read failed", err).
			WithResource(rawURL).WithCode(engine.ErrCodeFetchFailed)
	}
	return data, nil
}

func (s *SFTPFetcher) configFor(rawURL string) (*ssh.Config, string, error) {
	u, err := url.Parse(rawURL)
	if err != nil {
		return nil, "", err
	}
	if u.Hostname() == "" {
		return nil, "", errors.New("missing host")
	}
	if u.Path == "" {
		return nil, "", errors.New("missing path")
	}

	cfg := s.Template
	cfg.Host = u.Hostname()
	if cfg.Port == 0 {
		cfg.Port = 22
	}
	if p := u.Port(); p != "" {
		port, err := strconv.Atoi(p)
		if err != nil {
			return nil, "", err
		}
		cfg.Port = port
	}
	if u.User != nil && u.User.Username() != "" {
		cfg.User = u.User.Username()
	}
	return &cfg, u.Path, nil
}
