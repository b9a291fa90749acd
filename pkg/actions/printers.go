package actions

import (
	"context"
	"errors"
	"os"
	"sort"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/openfroyo/managedmac/pkg/engine"
	"github.com/openfroyo/managedmac/pkg/manifest"
	"github.com/openfroyo/managedmac/pkg/printers"
	"github.com/openfroyo/managedmac/pkg/telemetry"
)

// Manifest keypaths of the system mandated printers.
const (
	KeyPathInstall   = "ManagedPrinters.Install"
	KeyPathUninstall = "ManagedPrinters.Uninstall"
)

// ManagedPrinters converges the print queues of this host.
type ManagedPrinters struct {
	env *Env
}

// NewManagedPrinters creates the printers action.
func NewManagedPrinters(env *Env) *ManagedPrinters {
	return &ManagedPrinters{env: env}
}

// printerRun is the state of one pass.
type printerRun struct {
	env        *Env
	tel        *telemetry.Telemetry
	logger     zerolog.Logger
	walker     *manifest.Walker
	reconciler *printers.Reconciler
	summary    *engine.RunSummary
	persistErr []error
}

// Run processes, in order: the printers selected by users, the known user
// printers no longer selected, the system uninstall list and the system
// install list. Installs and uninstalls each share one RunInfo, so a
// printer reached twice in the same direction is handled once.
//
// Item failures are recorded in the summary. The returned error joins the
// state persistence failures of the run.
func (p *ManagedPrinters) Run(ctx context.Context) (*engine.RunSummary, error) {
	env := p.env
	tel := env.telemetry()
	runID := uuid.New().String()
	logger := env.Logger.With().Str("run_id", runID).Logger()

	ctx, span := tel.Tracer.StartRunSpan(ctx, runID, env.Config.ClientIdentifier)
	defer span.End()
	if traceID := telemetry.TraceID(ctx); traceID != "" {
		logger = logger.With().Str("trace_id", traceID).Logger()
	}

	cache := env.newCache(logger)
	r := &printerRun{
		env:    env,
		tel:    tel,
		logger: logger,
		walker: env.newWalker(cache, logger),
		reconciler: printers.NewReconciler(printers.Deps{
			Adapter:  env.Adapter,
			Catalogs: cache,
			Status:   env.State,
			Known:    env.State,
			Idle:     env.Idle,
			Fetcher:  env.Fetcher,
			Gate:     env.Gate,
		}, printers.WithLimits(env.Config.Limits()), printers.WithLogger(logger)),
		summary: &engine.RunSummary{
			RunID:     runID,
			StartedAt: time.Now(),
		},
	}

	logger.Info().Msg("ManagedPrinters run started")

	installInfo := engine.NewRunInfo()
	uninstallInfo := engine.NewRunInfo()

	r.userPrinters(ctx, installInfo, uninstallInfo)

	if err := r.walker.Resolve(ctx, "", KeyPathUninstall, r.uninstallHandler(engine.ScopeSystem), nil, uninstallInfo); err != nil {
		r.warn(err, "Could not resolve client manifest")
	}
	if err := r.walker.Resolve(ctx, "", KeyPathInstall, r.installHandler(engine.ScopeSystem), nil, installInfo); err != nil {
		logger.Debug().Err(err).Msg("install pass skipped")
	}

	if name, _, err := r.walker.ClientManifest(ctx); err == nil {
		r.summary.Identifier = name
	}
	if known, err := env.State.List(ctx); err == nil {
		tel.Metrics.SetKnownPrinters(len(known))
	}

	r.summary.CompletedAt = time.Now()
	status := r.summary.Status()
	tel.Metrics.RecordRunCompleted(status, r.summary.Duration())
	if err := tel.Metrics.WriteTextfile(); err != nil {
		logger.Warn().Err(err).Msg("Failed to write metrics textfile")
	}

	span.SetAttributes(telemetry.AttrRunStatus.String(status))
	err := errors.Join(r.persistErr...)
	if err != nil {
		telemetry.RecordError(span, err)
	} else {
		telemetry.RecordSuccess(span)
	}

	logger.Info().
		Str("status", status).
		Int("installed", r.summary.Count(engine.OutcomeInstalled)).
		Int("removed", r.summary.Count(engine.OutcomeRemoved)).
		Int("deferred", r.summary.Count(engine.OutcomeDeferred)).
		Int("failed", r.summary.Count(engine.OutcomeFailed)).
		Dur("duration", r.summary.Duration()).
		Msg("ManagedPrinters run completed")

	return r.summary, err
}

// userPrinters installs every printer selected in the user printers
// directory and uninstalls the known user printers no longer selected.
// User selections are looked up in the catalogs of the client manifest.
func (r *printerRun) userPrinters(ctx context.Context, installInfo, uninstallInfo *engine.RunInfo) {
	selected, err := listSelections(r.env.Config.UserPrintersDir())
	if err != nil {
		r.logger.Warn().Err(err).Msg("Could not read user printer selections")
	}

	known, err := r.env.State.List(ctx)
	if err != nil {
		r.warn(err, "Could not read known user printers")
	}
	if len(selected) == 0 && len(known) == 0 {
		return
	}

	var catalogs []string
	if _, doc, err := r.walker.ClientManifest(ctx); err != nil {
		r.logger.Warn().Err(err).Msg("No client manifest, user printers cannot be looked up")
	} else {
		catalogs = manifest.EffectiveCatalogs(doc, nil)
	}

	install := r.installHandler(engine.ScopeUser)
	for _, name := range selected {
		_ = install(ctx, name, catalogs, installInfo)
	}

	isSelected := make(map[string]struct{}, len(selected))
	for _, name := range selected {
		isSelected[name] = struct{}{}
	}
	uninstall := r.uninstallHandler(engine.ScopeUser)
	for _, name := range known {
		if _, ok := isSelected[name]; ok {
			continue
		}
		_ = uninstall(ctx, name, catalogs, uninstallInfo)
	}
}

func (r *printerRun) installHandler(scope engine.Scope) manifest.Handler {
	return func(ctx context.Context, item string, catalogs []string, info *engine.RunInfo) error {
		return r.item(ctx, engine.ActionInstall, scope, item, func(ctx context.Context) (engine.Outcome, error) {
			return r.reconciler.Install(ctx, item, catalogs, scope, info)
		})
	}
}

func (r *printerRun) uninstallHandler(scope engine.Scope) manifest.Handler {
	return func(ctx context.Context, item string, _ []string, info *engine.RunInfo) error {
		return r.item(ctx, engine.ActionUninstall, scope, item, func(ctx context.Context) (engine.Outcome, error) {
			return r.reconciler.Uninstall(ctx, item, scope, info)
		})
	}
}

// item runs one reconciliation inside a span and records its outcome.
// Duplicates are dropped from the summary.
func (r *printerRun) item(ctx context.Context, action engine.Action, scope engine.Scope, id string,
	fn func(ctx context.Context) (engine.Outcome, error)) error {

	ctx, span := r.tel.Tracer.StartItemSpan(ctx, string(action), string(scope), id)
	defer span.End()

	timer := telemetry.NewTimer()
	outcome, err := fn(ctx)
	elapsed := timer.Duration()

	span.SetAttributes(telemetry.AttrOutcome.String(string(outcome)))
	if err != nil {
		span.SetAttributes(telemetry.AttrErrorClass.String(string(engine.ClassOf(err))))
		telemetry.RecordError(span, err)
		r.tel.Metrics.RecordError(string(engine.ClassOf(err)))
		if engine.IsPersistence(err) {
			r.persistErr = append(r.persistErr, err)
		}
	}

	if outcome == engine.OutcomeSkipped && r.hasResult(id, action) {
		return err
	}

	result := engine.ItemResult{
		ID:       id,
		Scope:    scope,
		Action:   action,
		Outcome:  outcome,
		Duration: elapsed,
	}
	if err != nil {
		result.Error = err.Error()
	}
	r.summary.Add(result)
	r.tel.Metrics.RecordItem(string(action), string(scope), string(outcome), elapsed)
	return err
}

// hasResult reports whether id already has a result for action.
func (r *printerRun) hasResult(id string, action engine.Action) bool {
	for _, res := range r.summary.Results {
		if res.ID == id && res.Action == action {
			return true
		}
	}
	return false
}

func (r *printerRun) warn(err error, msg string) {
	r.logger.Warn().Err(err).Msg(msg)
	r.summary.Warnings = append(r.summary.Warnings, msg+": "+err.Error())
	r.tel.Metrics.RecordError(string(engine.ClassOf(err)))
}

// listSelections returns the sorted names of the regular files in dir.
// A missing directory means no selections.
func listSelections(dir string) ([]string, error) {
	entries, err := os.ReadDir(dir)
	if errors.Is(err, os.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}

	var names []string
	for _, e := range entries {
		if e.Type().IsRegular() {
			names = append(names, e.Name())
		}
	}
	sort.Strings(names)
	return names, nil
}
