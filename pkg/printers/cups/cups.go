// Package cups implements printers.Adapter with the CUPS command line tools.
package cups

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strings"

	"github.com/rs/zerolog"

	"github.com/openfroyo/managedmac/pkg/command"
	"github.com/openfroyo/managedmac/pkg/engine"
	"github.com/openfroyo/managedmac/pkg/printers"
)

// Tools locates the CUPS binaries and the installed PPD directory.
type Tools struct {
	LPAdmin    string
	LPStat     string
	CUPSAccept string
	CUPSReject string
	PPDDir     string
}

// DefaultTools returns the standard macOS locations.
func DefaultTools() Tools {
	return Tools{
		LPAdmin:    "/usr/sbin/lpadmin",
		LPStat:     "/usr/bin/lpstat",
		CUPSAccept: "/usr/sbin/cupsaccept",
		CUPSReject: "/usr/sbin/cupsreject",
		PPDDir:     "/etc/cups/ppd",
	}
}

var deviceLine = regexp.MustCompile(`[^:]*:[ \t]+(.*)`)

// Adapter drives CUPS through lpadmin, lpstat, cupsaccept and cupsreject.
type Adapter struct {
	runner   command.Runner
	tools    Tools
	logger   zerolog.Logger
	readFile func(string) ([]byte, error)
}

var _ printers.Adapter = (*Adapter)(nil)

// NewAdapter creates a CUPS adapter.
func NewAdapter(runner command.Runner, tools Tools, logger zerolog.Logger) *Adapter {
	return &Adapter{
		runner:   runner,
		tools:    tools,
		logger:   logger.With().Str("component", "cups").Logger(),
		readFile: os.ReadFile,
	}
}

// run executes a tool and turns a non-zero exit status into an error.
func (a *Adapter) run(ctx context.Context, op, name string, args ...string) (*command.Result, error) {
	res, err := a.runner.Run(ctx, name, args...)
	if err != nil {
		return nil, engine.NewResourceOperationFailure(fmt.Sprintf("%s failed", op), err).WithOperation(op)
	}
	if !res.Success() {
		msg := strings.TrimSpace(res.Stderr)
		if msg == "" {
			msg = strings.TrimSpace(res.Stdout)
		}
		return res, engine.NewResourceOperationFailure(
			fmt.Sprintf("%s exited with status %d: %s", filepath.Base(name), res.ExitCode, msg), nil,
		).WithOperation(op)
	}
	return res, nil
}

// Exists reports whether lpstat knows the queue.
func (a *Adapter) Exists(ctx context.Context, name string) (bool, error) {
	res, err := a.runner.Run(ctx, a.tools.LPStat, "-a", name)
	if err != nil {
		return false, engine.NewResourceOperationFailure("lpstat failed", err).WithResource(name).WithOperation("exists")
	}
	return res.Success(), nil
}

// Create adds or replaces a queue and enables it. Driver references are
// passed as a model (-m), anything else as a PPD file (-P).
func (a *Adapter) Create(ctx context.Context, req printers.CreateRequest) error {
	args := []string{"-p", req.Name, "-v", req.DeviceURI}
	if strings.HasPrefix(req.PPD, printers.DriverPrefix) {
		args = append(args, "-m", req.PPD)
	} else {
		args = append(args, "-P", req.PPD)
	}
	args = append(args, "-L", req.Location, "-D", req.Description, "-E")

	if _, err := a.run(ctx, "create", a.tools.LPAdmin, args...); err != nil {
		return err
	}
	a.logger.Debug().Str("printer", req.Name).Str("uri", req.DeviceURI).Msg("queue created")
	return nil
}

// ApplyOptions sets PPD options on a queue, in key order.
func (a *Adapter) ApplyOptions(ctx context.Context, name string, options map[string]string) error {
	if len(options) == 0 {
		return nil
	}
	keys := make([]string, 0, len(options))
	for k := range options {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	args := []string{"-p", name}
	for _, k := range keys {
		args = append(args, "-o", k+"="+options[k])
	}
	_, err := a.run(ctx, "apply_options", a.tools.LPAdmin, args...)
	return err
}

// Delete removes a queue.
func (a *Adapter) Delete(ctx context.Context, name string) error {
	_, err := a.run(ctx, "delete", a.tools.LPAdmin, "-x", name)
	return err
}

// PendingJobs counts the jobs lpstat lists for the queue.
func (a *Adapter) PendingJobs(ctx context.Context, name string) (int, error) {
	res, err := a.run(ctx, "pending_jobs", a.tools.LPStat, "-o", name)
	if err != nil {
		return 0, err
	}
	n := 0
	for _, line := range strings.Split(res.Stdout, "\n") {
		if strings.TrimSpace(line) != "" {
			n++
		}
	}
	return n, nil
}

// RejectJobs stops the queue from accepting new jobs.
func (a *Adapter) RejectJobs(ctx context.Context, name string) error {
	_, err := a.run(ctx, "reject_jobs", a.tools.CUPSReject, name)
	return err
}

// AcceptJobs lets the queue accept new jobs again.
func (a *Adapter) AcceptJobs(ctx context.Context, name string) error {
	_, err := a.run(ctx, "accept_jobs", a.tools.CUPSAccept, name)
	return err
}

// DeviceURI returns the device URI reported by lpstat -v.
func (a *Adapter) DeviceURI(ctx context.Context, name string) (string, error) {
	res, err := a.run(ctx, "device_uri", a.tools.LPStat, "-v", name)
	if err != nil {
		return "", err
	}
	return ParseDeviceURI(res.Stdout), nil
}

// Introspect reads the PPD CUPS installed for the queue.
func (a *Adapter) Introspect(ctx context.Context, name string) (printers.PPDInfo, error) {
	path := filepath.Join(a.tools.PPDDir, name+".ppd")
	data, err := a.readFile(path)
	if errors.Is(err, fs.ErrNotExist) {
		return printers.PPDInfo{}, engine.NewNotFound("no installed PPD", err).WithResource(name)
	}
	if err != nil {
		return printers.PPDInfo{}, fmt.Errorf("failed to read %s: %w", path, err)
	}
	return printers.ParsePPD(data), nil
}

// ParseDeviceURI extracts the URI from "device for NAME: URI".
func ParseDeviceURI(lpstatOutput string) string {
	m := deviceLine.FindStringSubmatch(lpstatOutput)
	if m == nil {
		return ""
	}
	return strings.TrimSpace(m[1])
}
