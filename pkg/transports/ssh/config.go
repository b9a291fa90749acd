// Package ssh retrieves repository documents and payloads over SFTP.
package ssh

import (
	"errors"
	"fmt"
	"net"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"golang.org/x/crypto/ssh"
	"golang.org/x/crypto/ssh/knownhosts"
)

// Config describes one SFTP repository connection. Only public key
// authentication is supported; clients run unattended.
type Config struct {
	Host string
	Port int
	User string

	// KeyPath is the private key. When empty the usual keys under
	// $HOME/.ssh are tried.
	KeyPath string

	KnownHostsPath string

	// StrictHostKeyChecking rejects hosts missing from KnownHostsPath.
	// When false any host key is accepted.
	StrictHostKeyChecking bool

	Timeout time.Duration
}

// DefaultConfig returns a Config for host and user on port 22 with strict
// host key checking against the user's known_hosts.
func DefaultConfig(host, user string) *Config {
	return &Config{
		Host:                  host,
		Port:                  22,
		User:                  user,
		KnownHostsPath:        filepath.Join(os.Getenv("HOME"), ".ssh", "known_hosts"),
		StrictHostKeyChecking: true,
		Timeout:               30 * time.Second,
	}
}

// Validate checks the connection settings and resolves the default key.
func (c *Config) Validate() error {
	switch {
	case c.Host == "":
		return errors.New("host is required")
	case c.Port <= 0 || c.Port > 65535:
		return fmt.Errorf("invalid port: %d", c.Port)
	case c.User == "":
		return errors.New("user is required")
	case c.Timeout <= 0:
		return errors.New("timeout must be positive")
	}

	if c.KeyPath == "" {
		c.KeyPath = defaultKey()
		if c.KeyPath == "" {
			return errors.New("no private key configured and none found in ~/.ssh")
		}
	}
	if _, err := os.Stat(c.KeyPath); err != nil {
		return fmt.Errorf("private key not readable: %w", err)
	}
	return nil
}

func defaultKey() string {
	home := os.Getenv("HOME")
	for _, name := range []string{"id_ed25519", "id_ecdsa", "id_rsa"} {
		p := filepath.Join(home, ".ssh", name)
		if _, err := os.Stat(p); err == nil {
			return p
		}
	}
	return ""
}

// clientConfig builds the x/crypto/ssh configuration.
func (c *Config) clientConfig() (*ssh.ClientConfig, error) {
	key, err := os.ReadFile(c.KeyPath)
	if err != nil {
		return nil, fmt.Errorf("failed to read private key: %w", err)
	}
	signer, err := ssh.ParsePrivateKey(key)
	if err != nil {
		return nil, fmt.Errorf("failed to parse private key: %w", err)
	}

	hostKeys := ssh.InsecureIgnoreHostKey()
	if c.StrictHostKeyChecking {
		if hostKeys, err = knownhosts.New(c.KnownHostsPath); err != nil {
			return nil, fmt.Errorf("failed to load known_hosts: %w", err)
		}
	}

	return &ssh.ClientConfig{
		User:            c.User,
		Auth:            []ssh.AuthMethod{ssh.PublicKeys(signer)},
		HostKeyCallback: hostKeys,
		Timeout:         c.Timeout,
	}, nil
}

// Address returns host:port.
func (c *Config) Address() string {
	return net.JoinHostPort(c.Host, strconv.Itoa(c.Port))
}
