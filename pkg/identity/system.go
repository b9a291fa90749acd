package identity

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"regexp"
	"runtime"
	"strconv"
	"strings"
	"time"

	"github.com/openfroyo/managedmac/pkg/command"
)

var (
	serialPattern = regexp.MustCompile(`"IOPlatformSerialNumber"\s*=\s*"([^"]*)"`)
	idlePattern   = regexp.MustCompile(`"HIDIdleTime"\s*=\s*(\d+)`)
)

// DMISerialPath is where Linux exposes the board serial number.
const DMISerialPath = "/sys/class/dmi/id/product_serial"

// SystemProbe reads host facts from the operating system.
type SystemProbe struct {
	runner  command.Runner
	goos    string
	timeout time.Duration

	hostname   func() (string, error)
	readSerial func(path string) ([]byte, error)
}

// NewSystemProbe creates a SystemProbe that shells out through runner.
func NewSystemProbe(runner command.Runner) *SystemProbe {
	return &SystemProbe{
		runner:     runner,
		goos:       runtime.GOOS,
		timeout:    10 * time.Second,
		hostname:   os.Hostname,
		readSerial: os.ReadFile,
	}
}

// Hostname implements Probe.
func (p *SystemProbe) Hostname() (string, error) {
	return p.hostname()
}

// HardwareSerial implements Probe. On macOS the serial is parsed from
// ioreg; elsewhere it is read from DMI, which usually requires root.
func (p *SystemProbe) HardwareSerial() (string, error) {
	if p.goos != "darwin" {
		data, err := p.readSerial(DMISerialPath)
		if errors.Is(err, fs.ErrNotExist) {
			return "", nil
		}
		if err != nil {
			return "", fmt.Errorf("failed to read %s: %w", DMISerialPath, err)
		}
		return strings.TrimSpace(string(data)), nil
	}

	out, err := p.ioreg("IOPlatformExpertDevice")
	if err != nil {
		return "", err
	}
	return ParseSerial(out), nil
}

// IdleSeconds implements IdleProbe. Only macOS reports console idle time;
// other systems always report 0.
func (p *SystemProbe) IdleSeconds() (int64, error) {
	if p.goos != "darwin" {
		return 0, nil
	}

	out, err := p.ioreg("IOHIDSystem")
	if err != nil {
		return 0, err
	}
	return ParseIdleSeconds(out)
}

func (p *SystemProbe) ioreg(class string) (string, error) {
	ctx, cancel := context.WithTimeout(context.Background(), p.timeout)
	defer cancel()

	res, err := p.runner.Run(ctx, "ioreg", "-c", class)
	if err != nil {
		return "", err
	}
	if !res.Success() {
		return "", fmt.Errorf("ioreg -c %s exited with status %d", class, res.ExitCode)
	}
	return res.Stdout, nil
}

// ParseSerial extracts IOPlatformSerialNumber from ioreg output.
func ParseSerial(ioregOutput string) string {
	m := serialPattern.FindStringSubmatch(ioregOutput)
	if m == nil {
		return ""
	}
	return m[1]
}

// ParseIdleSeconds extracts HIDIdleTime (nanoseconds) from ioreg output
// and converts it to whole seconds.
func ParseIdleSeconds(ioregOutput string) (int64, error) {
	m := idlePattern.FindStringSubmatch(ioregOutput)
	if m == nil {
		return 0, fmt.Errorf("HIDIdleTime not found in ioreg output")
	}
	ns, err := strconv.ParseInt(m[1], 10, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid HIDIdleTime %q: %w", m[1], err)
	}
	return ns / int64(time.Second), nil
}
