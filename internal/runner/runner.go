package runner

import (
	"context"
	"errors"
	"sort"
	"sync"
	"time"

	"github.com/nholik/deckhand/internal/compose"
	"github.com/nholik/deckhand/internal/healthcheck"
	"github.com/nholik/deckhand/internal/lifecycle"
	"github.com/nholik/deckhand/internal/notify"
	"github.com/nholik/deckhand/internal/service"
	"github.com/nholik/deckhand/internal/state"
	"github.com/nholik/deckhand/internal/target"
	"github.com/nholik/deckhand/internal/transaction"
	"github.com/nholik/deckhand/internal/transition"
	"github.com/rs/zerolog"
)

// Ticker is the minimal interface needed for driving the runner loop.
type Ticker interface {
	C() <-chan time.Time
	Stop()
}

type timeTicker struct {
	ticker *time.Ticker
}

func (t timeTicker) C() <-chan time.Time {
	return t.ticker.C
}

func (t timeTicker) Stop() {
	t.ticker.Stop()
}

// Executor runs a batch of lifecycle operations.
type Executor interface {
	Run(ctx context.Context, ops []transaction.Operation) ([]transaction.Result, error)
}

// ServiceFactory builds the deployable service for a definition.
type ServiceFactory func(def service.Definition, action service.Action) (lifecycle.Deployable, error)

// Metrics receives cycle level measurements.
type Metrics interface {
	SetReleasesTotal(environment string, status string, value int)
	IncComposeFetchErrors()
	SetLastSuccessfulCycleTimestamp(t time.Time)
}

// Runner reconciles one environment against its compose source.
type Runner struct {
	logger         zerolog.Logger
	pollInterval   time.Duration
	tickerFactory  func(time.Duration) Ticker
	runOnce        func(context.Context) error
	composeFetcher compose.Fetcher
	environment    string
	target         target.Target
	services       ServiceFactory
	executor       Executor
	notifier       notify.Notifier
	metrics        Metrics
	tracker        *healthcheck.Tracker
	composeETag    string
	composeHash    string
	lastCounts     map[state.ReleaseStatus]int
	memory         state.State
	stateStore     state.Store
	stateMu        *sync.Mutex
}

// Option customizes runner behavior.
type Option func(*Runner)

// WithTickerFactory overrides how tickers are created.
func WithTickerFactory(factory func(time.Duration) Ticker) Option {
	return func(r *Runner) {
		r.tickerFactory = factory
	}
}

// WithRunOnce overrides the single-cycle execution step.
func WithRunOnce(runOnce func(context.Context) error) Option {
	return func(r *Runner) {
		r.runOnce = runOnce
	}
}

// WithComposeFetcher sets the compose fetcher used by the default RunOnce.
func WithComposeFetcher(fetcher compose.Fetcher) Option {
	return func(r *Runner) {
		r.composeFetcher = fetcher
	}
}

// WithEnvironment names the environment and the target its releases are deployed to.
func WithEnvironment(name string, tgt target.Target) Option {
	return func(r *Runner) {
		r.environment = name
		r.target = tgt
	}
}

// WithServiceFactory sets how definitions become deployable services.
func WithServiceFactory(factory ServiceFactory) Option {
	return func(r *Runner) {
		r.services = factory
	}
}

// WithExecutor sets the executor that runs planned operations.
func WithExecutor(executor Executor) Option {
	return func(r *Runner) {
		r.executor = executor
	}
}

// WithStateStore enables state persistence for release records.
func WithStateStore(store state.Store, lock *sync.Mutex) Option {
	return func(r *Runner) {
		r.stateStore = store
		r.stateMu = lock
	}
}

// WithNotifier sets the notifier used for release transitions.
func WithNotifier(notifier notify.Notifier) Option {
	return func(r *Runner) {
		if notifier != nil {
			r.notifier = notifier
		}
	}
}

// WithMetrics sets the cycle metrics sink.
func WithMetrics(m Metrics) Option {
	return func(r *Runner) {
		if m != nil {
			r.metrics = m
		}
	}
}

// WithTracker records each cycle for the health endpoints.
func WithTracker(tracker *healthcheck.Tracker) Option {
	return func(r *Runner) {
		r.tracker = tracker
	}
}

// New constructs a Runner with the given logger and poll interval.
func New(logger zerolog.Logger, pollInterval time.Duration, opts ...Option) *Runner {
	r := &Runner{
		logger:       logger,
		pollInterval: pollInterval,
		tickerFactory: func(d time.Duration) Ticker {
			return timeTicker{ticker: time.NewTicker(d)}
		},
	}
	r.runOnce = r.defaultRunOnce

	for _, opt := range opts {
		opt(r)
	}
	if r.stateStore != nil && r.stateMu == nil {
		r.stateMu = &sync.Mutex{}
	}

	return r
}

// Run starts the main loop and blocks until the context is canceled.
func (r *Runner) Run(ctx context.Context) error {
	if r.pollInterval <= 0 {
		return errors.New("poll interval must be greater than zero")
	}

	// Run immediately on startup
	if err := r.RunOnce(ctx); err != nil {
		r.logCycleError(err, "initial run cycle failed")
	}

	ticker := r.tickerFactory(r.pollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			r.logger.Info().Msg("runner stopped")
			return nil
		case <-ticker.C():
			if err := r.RunOnce(ctx); err != nil {
				r.logCycleError(err, "run cycle failed")
			}
		}
	}
}

func (r *Runner) logCycleError(err error, msg string) {
	event := r.logger.Error().Err(err)
	var cycleErr *CycleError
	if errors.As(err, &cycleErr) {
		event = event.Str("stage", string(cycleErr.Stage)).Bool("partial", cycleErr.Partial())
	}
	event.Msg(msg)
}

// RunOnce executes a single cycle of the runner.
func (r *Runner) RunOnce(ctx context.Context) error {
	return r.runOnce(ctx)
}

func (r *Runner) defaultRunOnce(ctx context.Context) error {
	if r.composeFetcher == nil || r.executor == nil || r.services == nil || r.target == nil {
		return errors.New("runner requires a compose fetcher, an executor, a service factory and a target")
	}

	started := time.Now()
	err := r.reconcile(ctx)
	if r.tracker != nil {
		r.tracker.RecordEnvironment(r.environment, time.Since(started),
			r.lastCounts[state.StatusDeployed], r.lastCounts[state.StatusFailed], err)
	}
	if err == nil && r.metrics != nil {
		r.metrics.SetLastSuccessfulCycleTimestamp(time.Now())
	}
	return err
}

// releaseDetail is what a definition contributes to its release record beyond the operation result.
type releaseDetail struct {
	image string
	hash  string
}

func (r *Runner) reconcile(ctx context.Context) error {
	result, err := r.composeFetcher.Fetch(ctx, r.composeETag)
	if err != nil {
		if r.metrics != nil {
			r.metrics.IncComposeFetchErrors()
		}
		return r.fail(StageFetch, err)
	}
	if result.NotModified {
		r.logger.Debug().Msg("compose unchanged")
		return nil
	}

	fingerprint, err := compose.Fingerprint(result.Body)
	if err != nil {
		return r.fail(StageFingerprint, err)
	}
	if fingerprint == r.composeHash {
		r.markApplied(fingerprint, result.ETag)
		r.logger.Debug().Msg("compose fingerprint unchanged")
		return nil
	}

	previous, err := r.loadSnapshot(ctx)
	if err != nil {
		return r.fail(StageLoadState, err)
	}
	if previous.SourceFingerprint == fingerprint {
		r.markApplied(fingerprint, result.ETag)
		r.updateCounts(previous)
		r.logger.Info().Str("fingerprint", fingerprint).Msg("compose already applied")
		return nil
	}

	r.logger.Info().
		Int("bytes", len(result.Body)).
		Str("etag", result.ETag).
		Str("last_modified", result.LastModified).
		Str("fingerprint", fingerprint).
		Msg("compose fetched")

	defs, err := compose.ParseServices(ctx, result.Body)
	if err != nil {
		return r.fail(StageParse, err)
	}
	r.logger.Info().Int("services", len(defs)).Msg("parsed service definitions")

	ops, details, err := r.plan(previous, defs)
	if err != nil {
		return r.fail(StagePlan, err)
	}

	next := previous.Clone()
	var runErr error
	if len(ops) == 0 {
		r.logger.Info().Msg("environment up to date")
	} else {
		var results []transaction.Result
		results, runErr = r.executor.Run(ctx, ops)
		for _, res := range results {
			detail := details[res.Release]
			next.RecordResult(res, detail.image, detail.hash)
		}
	}
	if runErr == nil {
		next.SourceFingerprint = fingerprint
	}
	next.UpdatedAt = time.Now().UTC()

	r.notifyTransitions(ctx, &previous, &next)

	if err := r.saveSnapshot(ctx, next); err != nil {
		return r.fail(StageSaveState, err)
	}

	if runErr == nil {
		r.markApplied(fingerprint, result.ETag)
	}
	r.updateCounts(next)
	return r.fail(StageApply, runErr)
}

// plan compares the desired definitions with the recorded releases. Missing, failed, deleted and
// changed releases are created; paused releases stay paused while their definition is unchanged.
// Recorded releases that left the compose source are deleted.
func (r *Runner) plan(previous state.EnvironmentSnapshot, defs []service.Definition) ([]transaction.Operation, map[string]releaseDetail, error) {
	var ops []transaction.Operation
	details := make(map[string]releaseDetail, len(defs))

	for _, def := range defs {
		hash, err := compose.DefinitionFingerprint(def)
		if err != nil {
			return nil, nil, err
		}
		svc, err := r.services(def, service.ActionCreate)
		if err != nil {
			return nil, nil, err
		}
		release := svc.ReleaseName()
		details[release] = releaseDetail{image: def.Image.Reference(), hash: hash}

		rec, ok := previous.Releases[release]
		if !needsCreate(rec, ok, def, hash) {
			continue
		}
		ops = append(ops, r.operation(svc, service.ActionCreate))
	}

	releases := make([]string, 0, len(previous.Releases))
	for release := range previous.Releases {
		releases = append(releases, release)
	}
	sort.Strings(releases)

	for _, release := range releases {
		rec := previous.Releases[release]
		if _, desired := details[release]; desired || rec.Status == state.StatusDeleted {
			continue
		}
		svc, err := r.services(rec.Definition(), service.ActionDelete)
		if err != nil {
			return nil, nil, err
		}
		ops = append(ops, r.operation(svc, service.ActionDelete))
	}

	return ops, details, nil
}

func (r *Runner) operation(svc lifecycle.Deployable, action service.Action) transaction.Operation {
	return transaction.Operation{
		Environment: r.environment,
		Service:     svc,
		Action:      action,
		Target:      r.target,
	}
}

func needsCreate(rec state.ReleaseRecord, exists bool, def service.Definition, hash string) bool {
	if !exists {
		return true
	}
	if rec.Status == state.StatusPaused && rec.DefinitionHash == hash {
		return false
	}
	if rec.Status != state.StatusDeployed {
		return true
	}
	return rec.Version != def.Image.CommitID || rec.DefinitionHash != hash
}

func (r *Runner) notifyTransitions(ctx context.Context, previous, next *state.EnvironmentSnapshot) {
	transitions := transition.DetectReleaseTransitions(previous, *next)
	for _, change := range transitions {
		event := r.logger.Info()
		if change.CurrentStatus == state.StatusFailed {
			event = r.logger.Error()
		}
		event.
			Str("release", change.Release).
			Str("previous_status", string(change.PreviousStatus)).
			Str("current_status", string(change.CurrentStatus)).
			Str("error", change.Error).
			Msg("release transition detected")
	}
	if len(transitions) == 0 || r.notifier == nil {
		return
	}

	if err := r.notifier.Notify(ctx, r.environment, transitions); err != nil {
		r.logger.Warn().Err(err).Int("transitions", len(transitions)).Msg("failed to deliver notifications")
		return
	}
	for _, change := range transitions {
		rec := next.Releases[change.Release]
		rec.LastNotifiedStatus = change.CurrentStatus
		next.Releases[change.Release] = rec
	}
}

func (r *Runner) loadSnapshot(ctx context.Context) (state.EnvironmentSnapshot, error) {
	if r.stateStore == nil {
		return r.memory.Environment(r.environment), nil
	}
	var snapshot state.EnvironmentSnapshot
	err := r.withStateLock(func() error {
		loaded, err := r.stateStore.Load(ctx)
		if err != nil {
			return err
		}
		snapshot = loaded.Environment(r.environment)
		return nil
	})
	return snapshot, err
}

// markApplied remembers a source whose releases all reached their desired state. Until then the
// ETag is not sent, so failed operations are retried on the next cycle.
func (r *Runner) markApplied(fingerprint, etag string) {
	r.composeHash = fingerprint
	if etag != "" {
		r.composeETag = etag
	}
}

func (r *Runner) saveSnapshot(ctx context.Context, snapshot state.EnvironmentSnapshot) error {
	if r.stateStore == nil {
		r.memory.Put(r.environment, snapshot)
		return nil
	}
	return r.withStateLock(func() error {
		loaded, err := r.stateStore.Load(ctx)
		if err != nil {
			return err
		}
		loaded.Put(r.environment, snapshot)
		return r.stateStore.Save(ctx, loaded)
	})
}

func (r *Runner) updateCounts(snapshot state.EnvironmentSnapshot) {
	r.lastCounts = snapshot.Counts()
	if r.metrics == nil {
		return
	}
	for status, count := range r.lastCounts {
		r.metrics.SetReleasesTotal(r.environment, string(status), count)
	}
}

func (r *Runner) withStateLock(fn func() error) error {
	if r.stateMu == nil {
		return fn()
	}
	r.stateMu.Lock()
	defer r.stateMu.Unlock()
	return fn()
}
