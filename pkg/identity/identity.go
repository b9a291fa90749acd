// Package identity computes the ordered list of client identifiers used to
// locate this device's manifest, and probes the host for the facts that
// feed it.
package identity

import (
	"runtime"
	"strings"

	"github.com/rs/zerolog"
)

// SiteDefault is the identifier of last resort.
const SiteDefault = "site_default"

// Probe reports host facts.
type Probe interface {
	// Hostname returns the network name of the host.
	Hostname() (string, error)

	// HardwareSerial returns the hardware serial number, or "" when unknown.
	HardwareSerial() (string, error)
}

// IdleProbe reports how long the console user has been idle.
type IdleProbe interface {
	IdleSeconds() (int64, error)
}

// Resolver produces candidate client identifiers.
type Resolver struct {
	explicit string
	probe    Probe
	logger   zerolog.Logger
}

// NewResolver creates a Resolver. A non-empty explicit identifier
// short-circuits probing.
func NewResolver(explicit string, probe Probe, logger zerolog.Logger) *Resolver {
	return &Resolver{
		explicit: strings.TrimSpace(explicit),
		probe:    probe,
		logger:   logger.With().Str("component", "identity").Logger(),
	}
}

// Identifiers returns the ordered candidate list:
// [hostname, short hostname if dotted, serial, "site_default"], or just the
// explicit identifier when one is configured. Probe failures drop the
// affected candidate.
func (r *Resolver) Identifiers() []string {
	if r.explicit != "" {
		return []string{r.explicit}
	}

	var ids []string
	add := func(id string) {
		if id == "" {
			return
		}
		for _, existing := range ids {
			if existing == id {
				return
			}
		}
		ids = append(ids, id)
	}

	if hostname, err := r.probe.Hostname(); err != nil {
		r.logger.Warn().Err(err).Msg("could not determine hostname")
	} else {
		add(hostname)
		if short, _, dotted := strings.Cut(hostname, "."); dotted {
			add(short)
		}
	}

	if serial, err := r.probe.HardwareSerial(); err != nil {
		r.logger.Warn().Err(err).Msg("could not determine hardware serial")
	} else {
		add(serial)
	}

	add(SiteDefault)
	return ids
}

// Facts returns the host facts used to evaluate manifest conditions.
func (r *Resolver) Facts() map[string]any {
	facts := map[string]any{
		"client_identifier": r.explicit,
		"os":                runtime.GOOS,
		"arch":              runtime.GOARCH,
	}
	if hostname, err := r.probe.Hostname(); err == nil {
		facts["hostname"] = hostname
		short, _, _ := strings.Cut(hostname, ".")
		facts["short_hostname"] = short
	}
	if serial, err := r.probe.HardwareSerial(); err == nil {
		facts["serial_number"] = serial
	}
	return facts
}
