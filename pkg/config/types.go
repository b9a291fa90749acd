package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/openfroyo/managedmac/pkg/printers"
	"github.com/openfroyo/managedmac/pkg/stores"
	"github.com/openfroyo/managedmac/pkg/telemetry"
	"github.com/openfroyo/managedmac/pkg/transports/ssh"
)

// DefaultPath is read when no --config flag is given. A missing file at
// this path is not an error.
const DefaultPath = "/Library/ManagedMac/managedmac.cue"

// Client holds the preferences of one managedmac installation.
type Client struct {
	// RepoURL is the base URL of the repository (http, https, file or sftp).
	RepoURL string `json:"repo_url" validate:"required,url"`

	// ClientIdentifier overrides identifier probing when set.
	ClientIdentifier string `json:"client_identifier"`

	// DataDir holds logs, local manifest copies and printer state.
	DataDir string `json:"data_dir" validate:"required"`

	// StateBackend selects where printer status is persisted.
	StateBackend string `json:"state_backend" validate:"oneof=document sqlite"`

	// PolicyFile is an optional rego file or directory of install policies.
	PolicyFile string `json:"policy_file"`

	SSH      SSHConfig     `json:"ssh"`
	HTTP     HTTPConfig    `json:"http"`
	Printers PrinterConfig `json:"printers"`
	Logging  LoggingConfig `json:"logging"`
	Metrics  MetricsConfig `json:"metrics"`
	Tracing  TracingConfig `json:"tracing"`
	Watch    WatchConfig   `json:"watch"`
}

// SSHConfig supplies credentials for sftp:// repositories.
type SSHConfig struct {
	User                  string `json:"user"`
	KeyPath               string `json:"key_path"`
	KnownHosts            string `json:"known_hosts"`
	StrictHostKeyChecking bool   `json:"strict_host_key_checking"`
	TimeoutSeconds        int    `json:"timeout_seconds" validate:"gt=0"`
}

// HTTPConfig tunes http and https repositories.
type HTTPConfig struct {
	TimeoutSeconds int `json:"timeout_seconds" validate:"gt=0"`
}

// PrinterConfig holds the queue draining thresholds.
type PrinterConfig struct {
	IdleThresholdSeconds int `json:"idle_threshold_seconds" validate:"gte=0"`
	MaxPendingJobs       int `json:"max_pending_jobs" validate:"gte=0"`
	DrainTimeoutSeconds  int `json:"drain_timeout_seconds" validate:"gte=0"`
	PollIntervalSeconds  int `json:"poll_interval_seconds" validate:"gt=0"`
}

// LoggingConfig configures the log file. An empty Output writes to
// Logs/ManagedMac.log under the data directory.
type LoggingConfig struct {
	Level        string `json:"level" validate:"oneof=trace debug info warn error"`
	Format       string `json:"format" validate:"oneof=console json"`
	Output       string `json:"output"`
	MaxSizeBytes int64  `json:"max_size_bytes" validate:"gte=0"`
	Backups      int    `json:"backups" validate:"gte=0"`
}

// MetricsConfig configures the Prometheus textfile and listener.
type MetricsConfig struct {
	Enabled       bool   `json:"enabled"`
	Textfile      string `json:"textfile"`
	ListenAddress string `json:"listen_address" validate:"omitempty,hostname_port"`
}

// TracingConfig configures span export.
type TracingConfig struct {
	Enabled      bool    `json:"enabled"`
	Exporter     string  `json:"exporter" validate:"oneof=none otlp stdout"`
	Endpoint     string  `json:"endpoint" validate:"required_if=Exporter otlp"`
	SamplingRate float64 `json:"sampling_rate" validate:"gte=0,lte=1"`
}

// WatchConfig configures the watch command.
type WatchConfig struct {
	IntervalSeconds int `json:"interval_seconds" validate:"gt=0"`
}

// LogFile returns the log path.
func (c *Client) LogFile() string {
	if c.Logging.Output != "" {
		return c.Logging.Output
	}
	return filepath.Join(c.DataDir, "Logs", "ManagedMac.log")
}

// ClientManifestPath is the local copy of the last fetched client manifest.
func (c *Client) ClientManifestPath() string {
	return filepath.Join(c.DataDir, "manifests", "client_manifest.plist")
}

// ClientCatalogPath is the local copy written by the update command.
func (c *Client) ClientCatalogPath() string {
	return filepath.Join(c.DataDir, "catalogs", "client_catalog.plist")
}

// StatusFile holds the LastUpdate stamp of every installed printer.
func (c *Client) StatusFile() string {
	return filepath.Join(c.DataDir, "PrinterStatus.plist")
}

// KnownPrintersFile holds the list of printers installed for users.
func (c *Client) KnownPrintersFile() string {
	return filepath.Join(c.DataDir, "ManagedPrinters.plist")
}

// UserPrintersDir contains one entry per printer a user asked for.
func (c *Client) UserPrintersDir() string {
	return filepath.Join(c.DataDir, "ManagedPrinters", "UserPrinters")
}

// DatabasePath is used by the sqlite state backend.
func (c *Client) DatabasePath() string {
	return filepath.Join(c.DataDir, "state.db")
}

// StorePaths returns the state locations for stores.Open.
func (c *Client) StorePaths() stores.Paths {
	return stores.Paths{
		StatusFile: c.StatusFile(),
		KnownFile:  c.KnownPrintersFile(),
		Database:   c.DatabasePath(),
	}
}

// Limits converts the printer thresholds.
func (c *Client) Limits() printers.Limits {
	return printers.Limits{
		IdleThreshold:  seconds(c.Printers.IdleThresholdSeconds),
		MaxPendingJobs: c.Printers.MaxPendingJobs,
		DrainTimeout:   seconds(c.Printers.DrainTimeoutSeconds),
		PollInterval:   seconds(c.Printers.PollIntervalSeconds),
	}
}

// HTTPTimeout is the per-request timeout of http repositories.
func (c *Client) HTTPTimeout() time.Duration {
	return seconds(c.HTTP.TimeoutSeconds)
}

// WatchInterval is the period between runs of the watch command.
func (c *Client) WatchInterval() time.Duration {
	return seconds(c.Watch.IntervalSeconds)
}

// SSHTemplate returns the credentials used by the sftp fetcher. Host and
// port come from each URL.
func (c *Client) SSHTemplate() ssh.Config {
	user := c.SSH.User
	if user == "" {
		user = os.Getenv("USER")
	}
	tmpl := ssh.DefaultConfig("", user)
	tmpl.KeyPath = c.SSH.KeyPath
	if c.SSH.KnownHosts != "" {
		tmpl.KnownHostsPath = c.SSH.KnownHosts
	}
	tmpl.StrictHostKeyChecking = c.SSH.StrictHostKeyChecking
	tmpl.Timeout = seconds(c.SSH.TimeoutSeconds)
	return *tmpl
}

// Telemetry converts the logging, metrics and tracing sections.
func (c *Client) Telemetry(version string) *telemetry.Config {
	cfg := telemetry.DefaultConfig()
	cfg.ServiceVersion = version
	cfg.Logging.Level = c.Logging.Level
	cfg.Logging.Format = c.Logging.Format
	cfg.Logging.Output = c.LogFile()
	cfg.Logging.MaxSizeBytes = c.Logging.MaxSizeBytes
	cfg.Logging.Backups = c.Logging.Backups

	cfg.Metrics.Enabled = c.Metrics.Enabled
	cfg.Metrics.Textfile = c.Metrics.Textfile
	cfg.Metrics.ListenAddress = c.Metrics.ListenAddress

	cfg.Tracing.Enabled = c.Tracing.Enabled
	cfg.Tracing.Exporter = c.Tracing.Exporter
	cfg.Tracing.Endpoint = c.Tracing.Endpoint
	cfg.Tracing.SamplingRate = c.Tracing.SamplingRate
	return cfg
}

func seconds(n int) time.Duration {
	return time.Duration(n) * time.Second
}

// ValidationError is a configuration problem with its source position.
type ValidationError struct {
	File    string `json:"file,omitempty"`
	Line    int    `json:"line,omitempty"`
	Column  int    `json:"column,omitempty"`
	Path    string `json:"path,omitempty"`
	Message string `json:"message"`
}

func (e ValidationError) Error() string {
	var b strings.Builder
	if e.File != "" {
		b.WriteString(e.File)
		if e.Line > 0 {
			fmt.Fprintf(&b, ":%d:%d", e.Line, e.Column)
		}
		b.WriteString(": ")
	}
	if e.Path != "" {
		b.WriteString(e.Path)
		b.WriteString(": ")
	}
	b.WriteString(e.Message)
	return b.String()
}

// LoadError collects every problem found in a preferences file.
type LoadError struct {
	Errors []ValidationError
}

func (e *LoadError) Error() string {
	msgs := make([]string, len(e.Errors))
	for i, ve := range e.Errors {
		msgs[i] = ve.Error()
	}
	return "invalid configuration: " + strings.Join(msgs, "; ")
}
