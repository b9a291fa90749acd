package ssh

import (
	"context"
	"fmt"
	"io"
	"time"

	"github.com/pkg/sftp"
	"github.com/rs/zerolog/log"
	"golang.org/x/crypto/ssh"
)

// TransportError represents an error from the transport layer.
type TransportError struct {
	// Op is the operation that failed (e.g., "connect", "open", "read")
	Op string

	// Err is the underlying error
	Err error

	// IsTemporary indicates if the error is temporary and can be retried
	IsTemporary bool

	// IsAuthError indicates if the error is related to authentication
	IsAuthError bool
}

func (e *TransportError) Error() string {
	return e.Op + ": " + e.Err.Error()
}

func (e *TransportError) Unwrap() error {
	return e.Err
}

func (e *TransportError) Temporary() bool {
	return e.IsTemporary
}

// Client is a single SFTP session over an SSH connection.
type Client struct {
	config *Config
	conn   *ssh.Client
	sftp   *sftp.Client
}

// Dial connects to the configured host and opens an SFTP session.
func Dial(ctx context.Context, config *Config) (*Client, error) {
	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	sshConfig, err := config.clientConfig()
	if err != nil {
		return nil, &TransportError{Op: "connect", Err: err, IsAuthError: true}
	}

	address := config.Address()
	log.Debug().Str("address", address).Msg("establishing SSH connection")

	connChan := make(chan *ssh.Client, 1)
	errChan := make(chan error, 1)

	go func() {
		conn, err := ssh.Dial("tcp", address, sshConfig)
		if err != nil {
			errChan <- err
			return
		}
		connChan <- conn
	}()

	var conn *ssh.Client
	select {
	case <-ctx.Done():
		// The dial goroutine may still succeed; close whatever it produces.
		go func() {
			select {
			case c := <-connChan:
				_ = c.Close()
			case <-errChan:
			}
		}()
		return nil, &TransportError{Op: "connect", Err: ctx.Err(), IsTemporary: true}
	case err := <-errChan:
		return nil, &TransportError{Op: "connect", Err: err, IsTemporary: true}
	case conn = <-connChan:
	}

	sftpClient, err := sftp.NewClient(conn)
	if err != nil {
		_ = conn.Close()
		return nil, &TransportError{
			Op:          "sftp-init",
			Err:         fmt.Errorf("failed to create SFTP client: %w", err),
			IsTemporary: true,
		}
	}

	return &Client{config: config, conn: conn, sftp: sftpClient}, nil
}

// ReadFile downloads a remote file into memory.
func (c *Client) ReadFile(ctx context.Context, remotePath string) ([]byte, error) {
	startTime := time.Now()

	remoteFile, err := c.sftp.Open(remotePath)
	if err != nil {
		return nil, &TransportError{
			Op:          "open",
			Err:         fmt.Errorf("failed to open remote file: %w", err),
			IsTemporary: true,
		}
	}
	defer remoteFile.Close()

	data, err := readAllWithContext(ctx, remoteFile)
	if err != nil {
		return nil, &TransportError{
			Op:          "read",
			Err:         fmt.Errorf("failed to read remote file: %w", err),
			IsTemporary: true,
		}
	}

	log.Debug().
		Str("host", c.config.Host).
		Str("remote", remotePath).
		Int("bytes", len(data)).
		Dur("duration", time.Since(startTime)).
		Msg("file downloaded")

	return data, nil
}

// Close ends the SFTP session and the SSH connection.
func (c *Client) Close() error {
	sftpErr := c.sftp.Close()
	connErr := c.conn.Close()
	if sftpErr != nil {
		return sftpErr
	}
	return connErr
}

// readAllWithContext reads src to EOF, checking ctx between chunks.
func readAllWithContext(ctx context.Context, src io.Reader) ([]byte, error) {
	buf := make([]byte, 32*1024)
	var out []byte

	for {
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		default:
		}

		n, err := src.Read(buf)
		if n > 0 {
			out = append(out, buf[:n]...)
		}
		if err == io.EOF {
			return out, nil
		}
		if err != nil {
			return nil, err
		}
	}
}
