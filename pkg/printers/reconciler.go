package printers

import (
	"context"
	"os"
	"time"

	"github.com/rs/zerolog"

	"github.com/openfroyo/managedmac/pkg/engine"
	"github.com/openfroyo/managedmac/pkg/fetch"
	"github.com/openfroyo/managedmac/pkg/identity"
)

// UnknownStamp is the LastUpdate of a printer with no recorded status.
const UnknownStamp int64 = -1

// Limits bounds how long an update may wait on a busy queue.
type Limits struct {
	// IdleThreshold defers updates when the console has been idle longer
	// than this, since queued jobs are likely long-running or unattended.
	IdleThreshold time.Duration

	// MaxPendingJobs defers updates when more jobs than this are queued.
	MaxPendingJobs int

	// DrainTimeout is how long to wait for queued jobs to finish.
	DrainTimeout time.Duration

	// PollInterval is the queue polling period while draining.
	PollInterval time.Duration
}

// DefaultLimits returns the standard thresholds.
func DefaultLimits() Limits {
	return Limits{
		IdleThreshold:  120 * time.Second,
		MaxPendingJobs: 2,
		DrainTimeout:   30 * time.Second,
		PollInterval:   5 * time.Second,
	}
}

// Deps are the collaborators of a Reconciler. Known and Gate are optional.
type Deps struct {
	Adapter  Adapter
	Catalogs CatalogLookup
	Status   StatusStore
	Known    KnownPrinters
	Idle     identity.IdleProbe
	Fetcher  fetch.Fetcher
	Gate     Gate
}

// Option configures a Reconciler.
type Option func(*Reconciler)

// WithLimits overrides DefaultLimits.
func WithLimits(l Limits) Option {
	return func(r *Reconciler) { r.limits = l }
}

// WithLogger sets the reconciler's logger.
func WithLogger(logger zerolog.Logger) Option {
	return func(r *Reconciler) {
		r.logger = logger.With().Str("component", "printers").Logger()
	}
}

// WithClock replaces the wall clock and sleep used while draining.
func WithClock(now func() time.Time, sleep func(ctx context.Context, d time.Duration) error) Option {
	return func(r *Reconciler) {
		r.now = now
		r.sleep = sleep
	}
}

// Reconciler installs, updates and removes print queues.
type Reconciler struct {
	Deps
	limits Limits
	logger zerolog.Logger
	now    func() time.Time
	sleep  func(ctx context.Context, d time.Duration) error
}

// NewReconciler creates a Reconciler.
func NewReconciler(deps Deps, opts ...Option) *Reconciler {
	r := &Reconciler{
		Deps:   deps,
		limits: DefaultLimits(),
		logger: zerolog.Nop(),
		now:    time.Now,
		sleep:  sleepContext,
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Install converges the named printer to its catalog descriptor.
//
// Failures of the print system or the PPD download are logged and reported
// as OutcomeFailed; a busy queue yields OutcomeDeferred. The returned error
// is non-nil only when persisting state fails after the queue was changed.
// Whenever a pre-existing queue was switched to reject jobs it is switched
// back before Install returns, and a downloaded PPD is always removed.
func (r *Reconciler) Install(ctx context.Context, name string, catalogs []string, scope engine.Scope, info *engine.RunInfo) (engine.Outcome, error) {
	if !info.MarkSeen(name) {
		return engine.OutcomeSkipped, nil
	}
	logger := r.logger.With().Str("printer", name).Str("scope", string(scope)).Logger()
	logger.Info().Msg("Printer has been marked for install")

	entry, ok := r.Catalogs.FirstMatch(ctx, catalogs, CatalogKeyPath(name))
	if !ok {
		logger.Info().Strs("catalogs", catalogs).Msg("Printer does not exist in any catalog, ignoring")
		return engine.OutcomeSkipped, nil
	}
	desired, err := DescriptorFromNode(name, entry)
	if err != nil {
		logger.Error().Err(err).Msg("Invalid printer descriptor")
		return engine.OutcomeFailed, nil
	}

	if r.Gate != nil {
		allowed, reason, err := r.Gate.AllowInstall(ctx, desired, scope)
		if err != nil {
			logger.Error().Err(err).Msg("Install policy evaluation failed")
			return engine.OutcomeFailed, nil
		}
		if !allowed {
			logger.Warn().Str("reason", reason).Msg("Printer install denied by policy")
			return engine.OutcomeSkipped, nil
		}
	}

	exists, err := r.Adapter.Exists(ctx, name)
	if err != nil {
		logger.Error().Err(err).Msg("Could not determine whether printer exists")
		return engine.OutcomeFailed, nil
	}

	if exists && r.upToDate(ctx, logger, desired) {
		logger.Info().Msg("Printer is already installed and up to date")
		return engine.OutcomeSatisfied, nil
	}

	logger.Info().Msg("Printer will be installed")

	if exists {
		if outcome, ready := r.quiesce(ctx, logger, name); !ready {
			return outcome, nil
		}
		defer func() {
			// the request context may already be cancelled; the queue must not stay paused
			if err := r.Adapter.AcceptJobs(context.WithoutCancel(ctx), name); err != nil {
				logger.Error().Err(err).Msg("Failed to resume accepting jobs")
			}
		}()
	}

	return r.apply(ctx, logger, desired, scope)
}

// upToDate reports whether an existing queue already matches desired.
func (r *Reconciler) upToDate(ctx context.Context, logger zerolog.Logger, desired *Descriptor) bool {
	uri, err := r.Adapter.DeviceURI(ctx, desired.Name)
	if err != nil {
		logger.Warn().Err(err).Msg("Could not read printer device URI")
		return false
	}
	stamp, err := r.Status.LastUpdate(ctx, desired.Name)
	if err != nil {
		logger.Warn().Err(err).Msg("Could not read printer status")
		stamp = UnknownStamp
	}
	if uri != desired.DeviceURI || stamp != desired.LastUpdate {
		return false
	}

	ppd, err := r.Adapter.Introspect(ctx, desired.Name)
	if err != nil {
		logger.Warn().Err(err).Msg("Could not read installed PPD")
		return false
	}
	return ppd.Matches(desired.Model)
}

// quiesce waits for the queue to drain and switches it to reject new jobs.
// When it returns ready=false the queue accepts jobs and outcome says why
// the update was abandoned.
func (r *Reconciler) quiesce(ctx context.Context, logger zerolog.Logger, name string) (engine.Outcome, bool) {
	pending, err := r.Adapter.PendingJobs(ctx, name)
	if err != nil {
		logger.Warn().Err(err).Msg("Could not count queued jobs, printer will be updated later")
		return engine.OutcomeDeferred, false
	}

	if pending > 0 {
		idle, err := r.Idle.IdleSeconds()
		if err != nil {
			logger.Warn().Err(err).Msg("Could not read system idle time")
			idle = 0
		}
		if time.Duration(idle)*time.Second > r.limits.IdleThreshold || pending > r.limits.MaxPendingJobs {
			logger.Info().Int("jobs", pending).Int64("idle_seconds", idle).Msg("Printer is in use and will be updated later")
			return engine.OutcomeDeferred, false
		}

		logger.Info().Int("jobs", pending).Msg("Waiting for printer to become idle")
		if !r.drain(ctx, name) {
			logger.Info().Msg("Printer is still in use and will be updated later")
			return engine.OutcomeDeferred, false
		}
	}

	if err := r.Adapter.RejectJobs(ctx, name); err != nil {
		logger.Error().Err(err).Msg("Failed to pause printer")
		r.resume(ctx, logger, name)
		return engine.OutcomeFailed, false
	}

	if n, err := r.Adapter.PendingJobs(ctx, name); err != nil || n > 0 {
		logger.Info().Int("jobs", n).Msg("Failed to pause printer, printer will be updated later")
		r.resume(ctx, logger, name)
		return engine.OutcomeDeferred, false
	}
	return "", true
}

func (r *Reconciler) resume(ctx context.Context, logger zerolog.Logger, name string) {
	if err := r.Adapter.AcceptJobs(context.WithoutCancel(ctx), name); err != nil {
		logger.Error().Err(err).Msg("Failed to resume accepting jobs")
	}
}

// drain polls until the queue is empty, the drain timeout passes, or ctx
// is cancelled. It reports whether the queue drained.
func (r *Reconciler) drain(ctx context.Context, name string) bool {
	deadline := r.now().Add(r.limits.DrainTimeout)
	for {
		if n, err := r.Adapter.PendingJobs(ctx, name); err == nil && n == 0 {
			return true
		}
		if !r.now().Before(deadline) {
			return false
		}
		if err := r.sleep(ctx, r.limits.PollInterval); err != nil {
			return false
		}
	}
}

// apply acquires the PPD, creates the queue, applies options and records
// the new stamp.
func (r *Reconciler) apply(ctx context.Context, logger zerolog.Logger, desired *Descriptor, scope engine.Scope) (engine.Outcome, error) {
	ppd := desired.PPDURL
	if !desired.IsDriverReference() {
		logger.Info().Str("url", desired.PPDURL).Msg("Downloading PPD")
		path, err := fetch.Download(ctx, r.Fetcher, desired.PPDURL)
		if err != nil {
			logger.Error().Err(err).Msg("Encountered an error trying to install printer")
			return engine.OutcomeFailed, nil
		}
		defer func() {
			if err := os.Remove(path); err != nil {
				logger.Warn().Err(err).Str("path", path).Msg("Failed to remove downloaded PPD")
			}
		}()
		ppd = path
	}

	err := r.Adapter.Create(ctx, CreateRequest{
		Name:        desired.Name,
		DeviceURI:   desired.DeviceURI,
		PPD:         ppd,
		Location:    desired.Location,
		Description: desired.Description,
	})
	if err != nil {
		logger.Error().Err(err).Msg("Encountered an error trying to install printer")
		return engine.OutcomeFailed, nil
	}

	if len(desired.PPDOptions) > 0 {
		if err := r.Adapter.ApplyOptions(ctx, desired.Name, desired.PPDOptions); err != nil {
			logger.Error().Err(err).Msg("Failed to set options for printer")
			return engine.OutcomeFailed, nil
		}
	}

	if err := r.Status.SetLastUpdate(ctx, desired.Name, desired.LastUpdate); err != nil {
		return engine.OutcomeFailed, engine.NewPersistenceFailure("failed to record printer stamp", err).
			WithResource(desired.Name).WithOperation("set_last_update")
	}
	logger.Info().Int64("last_update", desired.LastUpdate).Msg("Printer has been installed")

	if scope == engine.ScopeUser && r.Known != nil {
		if err := r.Known.Add(ctx, desired.Name); err != nil {
			return engine.OutcomeInstalled, engine.NewPersistenceFailure("failed to record user printer", err).
				WithResource(desired.Name).WithOperation("known_printers_add")
		}
	}
	return engine.OutcomeInstalled, nil
}

// Uninstall removes the named printer if it exists. A user-scoped printer
// is also dropped from the known printers list once it is gone, including
// when the queue was already absent, so a queue deleted by hand is forgotten.
func (r *Reconciler) Uninstall(ctx context.Context, name string, scope engine.Scope, info *engine.RunInfo) (engine.Outcome, error) {
	if !info.MarkSeen(name) {
		return engine.OutcomeSkipped, nil
	}
	logger := r.logger.With().Str("printer", name).Str("scope", string(scope)).Logger()

	exists, err := r.Adapter.Exists(ctx, name)
	if err != nil {
		logger.Error().Err(err).Msg("Error trying to remove printer")
		return engine.OutcomeFailed, nil
	}

	outcome := engine.OutcomeAbsent
	if exists {
		logger.Info().Msg("Printer has been marked for uninstall")
		if err := r.Adapter.Delete(ctx, name); err != nil {
			logger.Error().Err(err).Msg("Error trying to remove printer")
			return engine.OutcomeFailed, nil
		}
		logger.Info().Msg("Printer removed")
		outcome = engine.OutcomeRemoved
	}

	if scope == engine.ScopeUser && r.Known != nil {
		if err := r.Known.Remove(ctx, name); err != nil {
			return outcome, engine.NewPersistenceFailure("failed to update user printers", err).
				WithResource(name).WithOperation("known_printers_remove")
		}
	}
	return outcome, nil
}

func sleepContext(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
