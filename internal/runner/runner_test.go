package runner

import (
	"context"
	"errors"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/nholik/deckhand/internal/compose"
	"github.com/nholik/deckhand/internal/healthcheck"
	"github.com/nholik/deckhand/internal/lifecycle"
	"github.com/nholik/deckhand/internal/service"
	"github.com/nholik/deckhand/internal/services"
	"github.com/nholik/deckhand/internal/state"
	"github.com/nholik/deckhand/internal/target"
	"github.com/nholik/deckhand/internal/transaction"
	"github.com/nholik/deckhand/internal/transition"
	"github.com/rs/zerolog"
)

type fakeTicker struct {
	ch      chan time.Time
	stopped bool
	mu      sync.Mutex
}

func (t *fakeTicker) C() <-chan time.Time {
	return t.ch
}

func (t *fakeTicker) Stop() {
	t.mu.Lock()
	t.stopped = true
	t.mu.Unlock()
}

func (t *fakeTicker) Stopped() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.stopped
}

func TestRunner_Run_TriggersRunOnceOnTicks(t *testing.T) {
	ticker := &fakeTicker{ch: make(chan time.Time, 2)}
	runCalls := make(chan struct{}, 2)

	r := New(zerolog.Nop(), time.Second,
		WithTickerFactory(func(time.Duration) Ticker {
			return ticker
		}),
		WithRunOnce(func(context.Context) error {
			runCalls <- struct{}{}
			return nil
		}),
	)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})

	go func() {
		_ = r.Run(ctx)
		close(done)
	}()

	ticker.ch <- time.Now()
	ticker.ch <- time.Now()

	if !waitForCalls(runCalls, 2, time.Second) {
		t.Fatalf("expected two run calls")
	}

	cancel()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatalf("runner did not stop after cancel")
	}

	if !ticker.Stopped() {
		t.Fatalf("expected ticker to be stopped")
	}
}

func TestRunner_Run_StopsOnContextCancel(t *testing.T) {
	ticker := &fakeTicker{ch: make(chan time.Time, 1)}

	r := New(zerolog.Nop(), time.Second,
		WithTickerFactory(func(time.Duration) Ticker {
			return ticker
		}),
	)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})

	go func() {
		_ = r.Run(ctx)
		close(done)
	}()

	cancel()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatalf("runner did not stop after cancel")
	}

	if !ticker.Stopped() {
		t.Fatalf("expected ticker to be stopped")
	}
}

func TestRunner_Run_RejectsZeroPollInterval(t *testing.T) {
	r := New(zerolog.Nop(), 0)

	err := r.Run(context.Background())
	if err == nil {
		t.Fatalf("expected error for zero poll interval")
	}
}

func TestRunner_Run_ImmediateFirstRun(t *testing.T) {
	ticker := &fakeTicker{ch: make(chan time.Time, 1)}
	runCalls := make(chan struct{}, 2)

	r := New(zerolog.Nop(), time.Second,
		WithTickerFactory(func(time.Duration) Ticker {
			return ticker
		}),
		WithRunOnce(func(context.Context) error {
			runCalls <- struct{}{}
			return nil
		}),
	)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})

	go func() {
		_ = r.Run(ctx)
		close(done)
	}()

	// Should receive immediate first run without any tick
	if !waitForCalls(runCalls, 1, time.Second) {
		t.Fatalf("expected immediate first run")
	}

	cancel()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatalf("runner did not stop after cancel")
	}
}

func waitForCalls(ch <-chan struct{}, count int, timeout time.Duration) bool {
	deadline := time.After(timeout)
	for i := 0; i < count; i++ {
		select {
		case <-ch:
		case <-deadline:
			return false
		}
	}
	return true
}

const (
	apiRelease    = "application-api-api"
	workerRelease = "external-service-worker-worker"
)

const composeBoth = `
services:
  api:
    image: registry.example.com/team/api:1.2.3
    labels:
      deckhand.kind: application
      deckhand.commit: abcdef1234
  worker:
    image: worker:2.0.0
    labels:
      deckhand.commit: 1234567abc
`

const composeWorkerUpgrade = `
services:
  api:
    image: registry.example.com/team/api:1.2.3
    labels:
      deckhand.kind: application
      deckhand.commit: abcdef1234
  worker:
    image: worker:2.1.0
    labels:
      deckhand.commit: 7654321abc
`

const composeAPIOnly = `
services:
  api:
    image: registry.example.com/team/api:1.2.3
    labels:
      deckhand.kind: application
      deckhand.commit: abcdef1234
`

type fakeFetcher struct {
	bodies []string
	calls  int
	err    error
}

func (f *fakeFetcher) Fetch(context.Context, string) (compose.FetchResult, error) {
	f.calls++
	if f.err != nil {
		return compose.FetchResult{}, f.err
	}
	body := f.bodies[min(f.calls, len(f.bodies))-1]
	return compose.FetchResult{Body: []byte(body)}, nil
}

type fakeExecutor struct {
	batches [][]transaction.Operation
	fail    map[string]bool
}

func (e *fakeExecutor) Run(_ context.Context, ops []transaction.Operation) ([]transaction.Result, error) {
	e.batches = append(e.batches, ops)
	results := make([]transaction.Result, len(ops))
	var errs []error
	for i, op := range ops {
		res := transaction.Result{
			ExecutionID: "exec-1",
			Environment: op.Environment,
			ServiceID:   op.Service.ID(),
			ServiceName: op.Service.Name(),
			Kind:        op.Service.Kind(),
			Release:     op.Service.ReleaseName(),
			Action:      op.Action,
			Version:     op.Service.Version(),
			StartedAt:   time.Now(),
		}
		if e.fail[res.Release] {
			res.Err = errors.New("boom")
			errs = append(errs, res.Err)
		}
		results[i] = res
	}
	return results, errors.Join(errs...)
}

type recordingNotifier struct {
	calls [][]transition.ReleaseTransition
}

func (n *recordingNotifier) Notify(_ context.Context, _ string, transitions []transition.ReleaseTransition) error {
	n.calls = append(n.calls, transitions)
	return nil
}

type fakeMetrics struct {
	releases    map[string]int
	fetchErrors int
	lastSuccess time.Time
}

func (m *fakeMetrics) SetReleasesTotal(_ string, status string, value int) {
	if m.releases == nil {
		m.releases = map[string]int{}
	}
	m.releases[status] = value
}

func (m *fakeMetrics) IncComposeFetchErrors() {
	m.fetchErrors++
}

func (m *fakeMetrics) SetLastSuccessfulCycleTimestamp(t time.Time) {
	m.lastSuccess = t
}

func serviceFactory(def service.Definition, action service.Action) (lifecycle.Deployable, error) {
	return services.New(def, action, services.Deps{Logger: zerolog.Nop()})
}

func newReconcilingRunner(fetcher compose.Fetcher, executor Executor, store state.Store, opts ...Option) *Runner {
	tgt := target.New(target.ModeManaged, target.StaticCluster{ClusterID: "cluster-1"}, target.Environment{
		ID:        "env-1",
		Name:      "staging",
		Namespace: "staging",
	})
	base := []Option{
		WithComposeFetcher(fetcher),
		WithEnvironment("staging", tgt),
		WithServiceFactory(serviceFactory),
		WithExecutor(executor),
		WithStateStore(store, nil),
	}
	return New(zerolog.Nop(), time.Second, append(base, opts...)...)
}

func loadEnvironment(t *testing.T, store state.Store) state.EnvironmentSnapshot {
	t.Helper()
	loaded, err := store.Load(context.Background())
	if err != nil {
		t.Fatalf("load state: %v", err)
	}
	return loaded.Environment("staging")
}

func newStore(t *testing.T) *state.FileStore {
	t.Helper()
	return state.NewFileStore(filepath.Join(t.TempDir(), "state.json"), zerolog.Nop())
}

func TestRunOnce_CreatesReleasesAndPersistsState(t *testing.T) {
	store := newStore(t)
	executor := &fakeExecutor{}
	notifier := &recordingNotifier{}
	metrics := &fakeMetrics{}
	tracker := healthcheck.NewTracker()

	r := newReconcilingRunner(&fakeFetcher{bodies: []string{composeBoth}}, executor, store,
		WithNotifier(notifier), WithMetrics(metrics), WithTracker(tracker))

	if err := r.RunOnce(context.Background()); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if len(executor.batches) != 1 || len(executor.batches[0]) != 2 {
		t.Fatalf("expected one batch with two operations, got %v", executor.batches)
	}
	for _, op := range executor.batches[0] {
		if op.Action != service.ActionCreate {
			t.Fatalf("expected create, got %q", op.Action)
		}
		if op.Environment != "staging" {
			t.Fatalf("unexpected environment %q", op.Environment)
		}
	}

	snapshot := loadEnvironment(t, store)
	if snapshot.SourceFingerprint == "" {
		t.Fatalf("expected source fingerprint to be stored")
	}
	api := snapshot.Releases[apiRelease]
	if api.Status != state.StatusDeployed || api.Image != "registry.example.com/team/api:1.2.3" || api.Version != "abcdef1234" {
		t.Fatalf("unexpected api record: %+v", api)
	}
	if api.DefinitionHash == "" {
		t.Fatalf("expected definition hash on api record")
	}
	if api.LastNotifiedStatus != state.StatusDeployed {
		t.Fatalf("expected api to be marked notified, got %q", api.LastNotifiedStatus)
	}
	worker := snapshot.Releases[workerRelease]
	if worker.Status != state.StatusDeployed || worker.Image != "worker:2.0.0" || worker.Kind != service.KindExternalService {
		t.Fatalf("unexpected worker record: %+v", worker)
	}

	if len(notifier.calls) != 1 || len(notifier.calls[0]) != 2 {
		t.Fatalf("expected one notification with two transitions, got %v", notifier.calls)
	}
	if metrics.releases[string(state.StatusDeployed)] != 2 {
		t.Fatalf("expected deployed gauge of 2, got %v", metrics.releases)
	}
	if metrics.lastSuccess.IsZero() {
		t.Fatalf("expected last successful cycle to be recorded")
	}
	status := tracker.Snapshot().Environments["staging"]
	if status.ActiveReleases != 2 || status.FailedReleases != 0 || status.LastError != "" {
		t.Fatalf("unexpected tracker status: %+v", status)
	}
}

func TestRunOnce_SkipsUnchangedCompose(t *testing.T) {
	store := newStore(t)
	executor := &fakeExecutor{}
	notifier := &recordingNotifier{}
	fetcher := &fakeFetcher{bodies: []string{composeBoth}}

	r := newReconcilingRunner(fetcher, executor, store, WithNotifier(notifier))
	for i := 0; i < 2; i++ {
		if err := r.RunOnce(context.Background()); err != nil {
			t.Fatalf("run %d: unexpected error: %v", i, err)
		}
	}

	if fetcher.calls != 2 {
		t.Fatalf("expected two fetches, got %d", fetcher.calls)
	}
	if len(executor.batches) != 1 {
		t.Fatalf("expected a single batch, got %d", len(executor.batches))
	}
	if len(notifier.calls) != 1 {
		t.Fatalf("expected a single notification, got %d", len(notifier.calls))
	}
}

func TestRunOnce_SkipsSourceAppliedBeforeRestart(t *testing.T) {
	store := newStore(t)

	first := newReconcilingRunner(&fakeFetcher{bodies: []string{composeBoth}}, &fakeExecutor{}, store)
	if err := first.RunOnce(context.Background()); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	executor := &fakeExecutor{}
	second := newReconcilingRunner(&fakeFetcher{bodies: []string{composeBoth}}, executor, store)
	if err := second.RunOnce(context.Background()); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(executor.batches) != 0 {
		t.Fatalf("expected no operations after restart, got %v", executor.batches)
	}
}

func TestRunOnce_DeletesRemovedServices(t *testing.T) {
	store := newStore(t)
	executor := &fakeExecutor{}
	notifier := &recordingNotifier{}

	r := newReconcilingRunner(&fakeFetcher{bodies: []string{composeBoth, composeAPIOnly}}, executor, store,
		WithNotifier(notifier))
	for i := 0; i < 2; i++ {
		if err := r.RunOnce(context.Background()); err != nil {
			t.Fatalf("run %d: unexpected error: %v", i, err)
		}
	}

	if len(executor.batches) != 2 {
		t.Fatalf("expected two batches, got %d", len(executor.batches))
	}
	ops := executor.batches[1]
	if len(ops) != 1 {
		t.Fatalf("expected one operation, got %d", len(ops))
	}
	if ops[0].Action != service.ActionDelete || ops[0].Service.ReleaseName() != workerRelease {
		t.Fatalf("expected worker delete, got %s %s", ops[0].Action, ops[0].Service.ReleaseName())
	}

	snapshot := loadEnvironment(t, store)
	if snapshot.Releases[workerRelease].Status != state.StatusDeleted {
		t.Fatalf("expected worker to be deleted, got %q", snapshot.Releases[workerRelease].Status)
	}
	if snapshot.Releases[apiRelease].Status != state.StatusDeployed {
		t.Fatalf("expected api to stay deployed")
	}

	last := notifier.calls[len(notifier.calls)-1]
	if len(last) != 1 || last[0].Release != workerRelease || last[0].CurrentStatus != state.StatusDeleted {
		t.Fatalf("unexpected transitions: %+v", last)
	}
}

func TestRunOnce_RetriesFailedReleases(t *testing.T) {
	store := newStore(t)
	executor := &fakeExecutor{fail: map[string]bool{workerRelease: true}}
	tracker := healthcheck.NewTracker()

	r := newReconcilingRunner(&fakeFetcher{bodies: []string{composeBoth}}, executor, store, WithTracker(tracker))

	err := r.RunOnce(context.Background())
	var cycleErr *CycleError
	if !errors.As(err, &cycleErr) {
		t.Fatalf("expected cycle error, got %v", err)
	}
	if cycleErr.Stage != StageApply || !cycleErr.Partial() {
		t.Fatalf("unexpected stage %q", cycleErr.Stage)
	}

	snapshot := loadEnvironment(t, store)
	if snapshot.SourceFingerprint != "" {
		t.Fatalf("expected fingerprint to stay unset after a failure")
	}
	worker := snapshot.Releases[workerRelease]
	if worker.Status != state.StatusFailed || worker.Error != "boom" {
		t.Fatalf("unexpected worker record: %+v", worker)
	}
	status := tracker.Snapshot().Environments["staging"]
	if status.FailedReleases != 1 || status.LastError == "" {
		t.Fatalf("unexpected tracker status: %+v", status)
	}

	executor.fail = nil
	if err := r.RunOnce(context.Background()); err != nil {
		t.Fatalf("unexpected error on retry: %v", err)
	}
	ops := executor.batches[1]
	if len(ops) != 1 || ops[0].Service.ReleaseName() != workerRelease || ops[0].Action != service.ActionCreate {
		t.Fatalf("expected worker create retry, got %v", ops)
	}
	if loadEnvironment(t, store).SourceFingerprint == "" {
		t.Fatalf("expected fingerprint after successful retry")
	}
}

func TestRunOnce_KeepsPausedReleases(t *testing.T) {
	store := newStore(t)
	executor := &fakeExecutor{}

	r := newReconcilingRunner(&fakeFetcher{bodies: []string{composeBoth, composeWorkerUpgrade}}, executor, store)
	if err := r.RunOnce(context.Background()); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	loaded, err := store.Load(context.Background())
	if err != nil {
		t.Fatalf("load state: %v", err)
	}
	snapshot := loaded.Environment("staging")
	api := snapshot.Releases[apiRelease]
	api.Status = state.StatusPaused
	snapshot.Releases[apiRelease] = api
	loaded.Put("staging", snapshot)
	if err := store.Save(context.Background(), loaded); err != nil {
		t.Fatalf("save state: %v", err)
	}

	if err := r.RunOnce(context.Background()); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	ops := executor.batches[1]
	if len(ops) != 1 || ops[0].Service.ReleaseName() != workerRelease {
		t.Fatalf("expected only the worker upgrade, got %v", ops)
	}
	if ops[0].Service.Version() != "7654321abc" {
		t.Fatalf("unexpected worker version %q", ops[0].Service.Version())
	}
	if loadEnvironment(t, store).Releases[apiRelease].Status != state.StatusPaused {
		t.Fatalf("expected api to stay paused")
	}
}

func TestRunOnce_FetchErrorIsCycleError(t *testing.T) {
	metrics := &fakeMetrics{}
	r := newReconcilingRunner(&fakeFetcher{err: errors.New("connection refused")}, &fakeExecutor{}, newStore(t),
		WithMetrics(metrics))

	err := r.RunOnce(context.Background())
	var cycleErr *CycleError
	if !errors.As(err, &cycleErr) || cycleErr.Stage != StageFetch || cycleErr.Partial() {
		t.Fatalf("expected fetch cycle error, got %v", err)
	}
	if cycleErr.Environment != "staging" {
		t.Fatalf("unexpected environment %q", cycleErr.Environment)
	}
	if metrics.fetchErrors != 1 {
		t.Fatalf("expected one fetch error, got %d", metrics.fetchErrors)
	}
	if !metrics.lastSuccess.IsZero() {
		t.Fatalf("expected no successful cycle")
	}
}

func TestRunOnce_RequiresDependencies(t *testing.T) {
	r := New(zerolog.Nop(), time.Second)
	if err := r.RunOnce(context.Background()); err == nil {
		t.Fatalf("expected error without dependencies")
	}
}
