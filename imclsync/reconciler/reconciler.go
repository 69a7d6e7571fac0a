package reconciler

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/steelcutops/imclsync/imclsync/clock"
	cm "github.com/steelcutops/imclsync/imclsync/commandmanager"
	"github.com/steelcutops/imclsync/imclsync/filemanager"
	pm "github.com/steelcutops/imclsync/imclsync/packagemanager"
	"github.com/steelcutops/imclsync/logger"
)

const (
	DefaultQueryTimeout  = 2 * time.Minute
	DefaultActionTimeout = 2 * time.Hour
)

// Metrics receives one observation per Reconcile call.
type Metrics interface {
	ObserveReconcile(state, action string, changed, failed bool, elapsed time.Duration)
	InventoryUnavailable()
}

// Reconciler converges one package at a time towards a desired state. It
// keeps no state between calls; every call re-queries the inventory.
type Reconciler struct {
	CommandManager cm.CommandManager
	// Inventory overrides the imcl listInstalledPackages query.
	Inventory pm.Inventory
	// Probe, when set, checks that the tool exists before anything runs.
	Probe   filemanager.Probe
	Clock   clock.Clock
	Logger  logger.Logger
	Metrics Metrics

	Match         pm.MatchMode
	QueryTimeout  time.Duration
	ActionTimeout time.Duration
	Sudo          bool
	NewRunID      func() string
}

type Option func(*Reconciler)

func WithInventory(inventory pm.Inventory) Option {
	return func(r *Reconciler) { r.Inventory = inventory }
}

func WithProbe(probe filemanager.Probe) Option {
	return func(r *Reconciler) { r.Probe = probe }
}

func WithClock(c clock.Clock) Option {
	return func(r *Reconciler) { r.Clock = c }
}

func WithLogger(l logger.Logger) Option {
	return func(r *Reconciler) { r.Logger = l }
}

func WithMetrics(m Metrics) Option {
	return func(r *Reconciler) { r.Metrics = m }
}

func WithMatch(mode pm.MatchMode) Option {
	return func(r *Reconciler) { r.Match = mode }
}

func WithQueryTimeout(d time.Duration) Option {
	return func(r *Reconciler) { r.QueryTimeout = d }
}

func WithActionTimeout(d time.Duration) Option {
	return func(r *Reconciler) { r.ActionTimeout = d }
}

func WithSudo(sudo bool) Option {
	return func(r *Reconciler) { r.Sudo = sudo }
}

func WithRunID(f func() string) Option {
	return func(r *Reconciler) { r.NewRunID = f }
}

func New(commandManager cm.CommandManager, opts ...Option) *Reconciler {
	r := &Reconciler{
		CommandManager: commandManager,
		Clock:          clock.RealClock{},
		Logger:         logger.Discard(),
		QueryTimeout:   DefaultQueryTimeout,
		ActionTimeout:  DefaultActionTimeout,
		NewRunID:       uuid.NewString,
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Reconcile brings spec.Name to desired. With dryRun set it reports the
// action without running any mutating command. It always returns a complete
// Result; failures are reported through Failed, ErrorKind and Err.
//
// ctx bounds the inventory query. Once a mutating command has started it
// runs to completion or ActionTimeout, whichever comes first.
func (r *Reconciler) Reconcile(ctx context.Context, spec InstallSpec, desired DesiredState, dryRun bool) Result {
	start := r.now()
	log := r.log().With("package", spec.Name, "state", string(desired), "dry_run", dryRun)

	res := Result{
		Package: spec.Name,
		State:   desired,
		DryRun:  dryRun,
		Action:  ActionNoOp,
	}

	res = r.reconcile(ctx, log, spec, desired, dryRun, res)

	if r.Metrics != nil {
		r.Metrics.ObserveReconcile(string(desired), string(res.Action), res.Changed, res.Failed, r.now().Sub(start))
	}
	if res.Failed {
		log.Error(res.Message, "action", string(res.Action), "error_kind", res.ErrorKind.String())
	} else {
		log.Info(res.Message, "action", string(res.Action), "changed", res.Changed)
	}
	return res
}

func (r *Reconciler) reconcile(ctx context.Context, log logger.Logger, spec InstallSpec, desired DesiredState, dryRun bool, res Result) Result {
	if err := spec.Validate(desired); err != nil {
		return fail(res, KindConfiguration, "validate", err,
			fmt.Sprintf("Invalid parameters for package %s with state %s: %v", spec.Name, desired, err))
	}
	if spec.ResponseFile != "" {
		log.Warn("Response files are not supported, building the command from explicit parameters", "response_file", spec.ResponseFile)
	}

	// a dry-run rollback makes no external call at all
	if !(dryRun && desired == StateRolledBack) {
		var ok bool
		if res, ok = r.preflight(ctx, spec, res); !ok {
			return res
		}
	}

	action := ActionRolledBack
	if desired != StateRolledBack {
		installed, err := r.isInstalled(ctx, log, spec)
		if err != nil {
			if r.Metrics != nil {
				r.Metrics.InventoryUnavailable()
			}
			var unavailable *pm.UnavailableError
			if errors.As(err, &unavailable) {
				res.Stdout = unavailable.Stdout
				res.Stderr = unavailable.Stderr
				res.Command = unavailable.Command
			}
			return fail(res, KindInventoryUnavailable, "query", err,
				fmt.Sprintf("Could not list installed packages, state of package %s is unknown: %v", spec.Name, err))
		}
		action = decide(desired, installed)
	}

	if action == ActionNoOp {
		res.Message = noopMessage(desired, spec)
		return res
	}
	res.Action = action

	logPath := LogPath(spec.LogDirectory, action, r.now(), r.runID())
	config, err := BuildCommand(spec, action, logPath)
	if err != nil {
		return fail(res, KindConfiguration, action.verb(), err,
			fmt.Sprintf("Cannot build a command for package %s: %v", spec.Name, err))
	}
	config.Sudo = r.Sudo
	res.Command = config.String()

	if dryRun {
		res.Changed = true
		res.Message = plannedMessage(action, spec)
		return res
	}

	if err := ctx.Err(); err != nil {
		return fail(res, KindActionFailed, action.verb(), err,
			fmt.Sprintf("Not starting %s of package %s: %v", action.verb(), spec.Name, err))
	}

	// vendor installers are not safe to interrupt; only the timeout stops them
	actx := context.WithoutCancel(ctx)
	if r.ActionTimeout > 0 {
		var cancel context.CancelFunc
		actx, cancel = context.WithTimeout(actx, r.ActionTimeout)
		defer cancel()
	}

	log.Info("Running package command", "action", string(action), "command", res.Command, "log", logPath)
	result, err := r.CommandManager.Run(actx, config)
	res.Stdout = result.STDOUT
	res.Stderr = result.STDERR

	if err != nil {
		return fail(res, KindActionFailed, action.verb(), err, failureMessage(action, spec, logPath))
	}
	if result.ExitCode != 0 {
		err := fmt.Errorf("%w: exit status %d", ErrNonZeroExit, result.ExitCode)
		return fail(res, KindActionFailed, action.verb(), err, failureMessage(action, spec, logPath))
	}

	res.Changed = true
	res.Message = successMessage(action, spec, logPath)
	return res
}

func (r *Reconciler) preflight(ctx context.Context, spec InstallSpec, res Result) (Result, bool) {
	if r.Probe == nil {
		return res, true
	}

	qctx, cancel := r.queryContext(ctx)
	defer cancel()

	ok, err := r.Probe.Exists(qctx, spec.ToolPath)
	if err != nil {
		return fail(res, KindInventoryUnavailable, "preflight", err,
			fmt.Sprintf("Could not check for %s: %v", spec.ToolPath, err)), false
	}
	if !ok {
		err := fmt.Errorf("%s does not exist", spec.ToolPath)
		return fail(res, KindConfiguration, "preflight", err,
			fmt.Sprintf("Package tool %s was not found on the host", spec.ToolPath)), false
	}
	return res, true
}

func (r *Reconciler) isInstalled(ctx context.Context, log logger.Logger, spec InstallSpec) (bool, error) {
	inventory := r.Inventory
	if inventory == nil {
		inventory = &pm.IMCLInventory{
			CommandManager: r.CommandManager,
			ToolPath:       spec.ToolPath,
			Sudo:           r.Sudo,
			Match:          r.Match,
		}
	}

	qctx, cancel := r.queryContext(ctx)
	defer cancel()

	log.Debug("Querying installed packages")
	installed, err := inventory.IsInstalled(qctx, spec.Name)
	if err != nil {
		return false, err
	}
	log.Debug("Queried installed packages", "installed", installed)
	return installed, nil
}

func (r *Reconciler) queryContext(ctx context.Context) (context.Context, context.CancelFunc) {
	if r.QueryTimeout > 0 {
		return context.WithTimeout(ctx, r.QueryTimeout)
	}
	return context.WithCancel(ctx)
}

// decide is the transition table for every state except rollback.
func decide(desired DesiredState, installed bool) Action {
	switch desired {
	case StatePresent:
		if !installed {
			return ActionInstalled
		}
	case StateUpdated:
		if !installed {
			return ActionUpdated
		}
	case StateAbsent:
		if installed {
			return ActionUninstalled
		}
	case StateRolledBack:
		return ActionRolledBack
	}
	return ActionNoOp
}

func fail(res Result, kind ErrorKind, op string, err error, msg string) Result {
	res.Changed = false
	res.Failed = true
	res.ErrorKind = kind
	res.Message = msg
	res.Err = &Error{Kind: kind, Package: res.Package, Op: op, Err: err}
	return res
}

func (r *Reconciler) now() time.Time {
	if r.Clock == nil {
		return time.Now()
	}
	return r.Clock.Now()
}

func (r *Reconciler) log() logger.Logger {
	if r.Logger == nil {
		return logger.Discard()
	}
	return r.Logger
}

func (r *Reconciler) runID() string {
	if r.NewRunID == nil {
		return uuid.NewString()
	}
	return r.NewRunID()
}

func noopMessage(desired DesiredState, spec InstallSpec) string {
	if desired == StateAbsent {
		return fmt.Sprintf("Package %s is not installed. Nothing to remove.", spec.Name)
	}
	return fmt.Sprintf("Package %s is already present.", spec.Name)
}

func plannedMessage(action Action, spec InstallSpec) string {
	switch action {
	case ActionInstalled:
		return fmt.Sprintf("Package %s will be installed to location %s", spec.Name, spec.InstallationDirectory)
	case ActionUpdated:
		return fmt.Sprintf("Package %s will be updated", spec.Name)
	case ActionUninstalled:
		return fmt.Sprintf("Package %s will be removed", spec.Name)
	default:
		return fmt.Sprintf("Package %s will be rolled back", spec.Name)
	}
}

func successMessage(action Action, spec InstallSpec, logPath string) string {
	switch action {
	case ActionInstalled:
		return fmt.Sprintf("Successfully installed package %s to location %s. Installation log: %s", spec.Name, spec.InstallationDirectory, logPath)
	case ActionUpdated:
		return fmt.Sprintf("Successfully updated package %s. Installation log: %s", spec.Name, logPath)
	case ActionUninstalled:
		return fmt.Sprintf("Successfully removed package %s. Installation log: %s", spec.Name, logPath)
	default:
		return fmt.Sprintf("Successfully rolled back package %s", spec.Name)
	}
}

func failureMessage(action Action, spec InstallSpec, logPath string) string {
	if action == ActionRolledBack {
		return fmt.Sprintf("Failed to roll back package %s", spec.Name)
	}
	return fmt.Sprintf("Failed to %s package %s. See %s for details.", action.verb(), spec.Name, logPath)
}
