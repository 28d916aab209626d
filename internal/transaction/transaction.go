// Package transaction runs batches of lifecycle operations and guarantees cleanup of failed ones.
package transaction

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/nholik/deckhand/internal/engineerr"
	"github.com/nholik/deckhand/internal/lifecycle"
	"github.com/nholik/deckhand/internal/service"
	"github.com/nholik/deckhand/internal/target"
	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"
)

const (
	defaultConcurrency    = 4
	defaultCleanupTimeout = 5 * time.Minute
)

// Operation is one service action against one target.
type Operation struct {
	Environment string
	Service     lifecycle.Deployable
	Action      service.Action
	Target      target.Target
}

// Result is the outcome of one operation.
type Result struct {
	ExecutionID string
	Environment string
	ServiceID   string
	ServiceName string
	Kind        service.Kind
	Release     string
	Action      service.Action
	Version     string
	StartedAt   time.Time
	Duration    time.Duration
	// Err is the error that failed the operation.
	Err error
	// HookErr is the error returned by the cleanup hook, reported separately from Err.
	HookErr error
}

// Succeeded reports whether the operation completed without error.
func (r Result) Succeeded() bool {
	return r.Err == nil
}

// OperationError wraps a failed operation. Unwrap returns the original error so its cause and scope
// stay reachable even when cleanup failed as well.
type OperationError struct {
	Release string
	Action  service.Action
	Err     error
	HookErr error
}

func (e *OperationError) Error() string {
	msg := fmt.Sprintf("%s %s: %v", e.Action, e.Release, e.Err)
	if e.HookErr != nil {
		msg += fmt.Sprintf(" (cleanup failed: %v)", e.HookErr)
	}
	return msg
}

func (e *OperationError) Unwrap() error {
	return e.Err
}

// Observer receives every finished operation.
type Observer interface {
	Observe(ctx context.Context, result Result)
}

// ObserverFunc adapts a function to Observer.
type ObserverFunc func(ctx context.Context, result Result)

// Observe implements Observer.
func (f ObserverFunc) Observe(ctx context.Context, result Result) {
	f(ctx, result)
}

// NamespaceDeleter removes an environment namespace.
type NamespaceDeleter interface {
	DeleteNamespace(ctx context.Context, t target.Target) error
}

// Option configures a Transaction.
type Option func(*Transaction)

// WithConcurrency bounds how many operations of a batch run at once.
func WithConcurrency(n int) Option {
	return func(t *Transaction) {
		if n > 0 {
			t.concurrency = n
		}
	}
}

// WithCleanupTimeout bounds each error hook.
func WithCleanupTimeout(d time.Duration) Option {
	return func(t *Transaction) {
		if d > 0 {
			t.cleanupTimeout = d
		}
	}
}

// WithObserver registers an observer for finished operations.
func WithObserver(o Observer) Option {
	return func(t *Transaction) {
		if o != nil {
			t.observers = append(t.observers, o)
		}
	}
}

// WithLocks shares release locks with other transactions.
func WithLocks(l *Locks) Option {
	return func(t *Transaction) {
		if l != nil {
			t.locks = l
		}
	}
}

// WithIDGenerator overrides execution id generation.
func WithIDGenerator(fn func() string) Option {
	return func(t *Transaction) {
		if fn != nil {
			t.newID = fn
		}
	}
}

// Transaction runs batches of operations.
type Transaction struct {
	logger         zerolog.Logger
	concurrency    int
	cleanupTimeout time.Duration
	observers      []Observer
	locks          *Locks
	newID          func() string
	now            func() time.Time
}

// New constructs a Transaction.
func New(logger zerolog.Logger, opts ...Option) *Transaction {
	t := &Transaction{
		logger:         logger,
		concurrency:    defaultConcurrency,
		cleanupTimeout: defaultCleanupTimeout,
		locks:          NewLocks(),
		newID:          uuid.NewString,
		now:            time.Now,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(t)
		}
	}
	return t
}

// Run executes ops concurrently and returns one result per operation, in input order. The returned
// error joins every OperationError of the batch.
func (t *Transaction) Run(ctx context.Context, ops []Operation) ([]Result, error) {
	executionID := t.newID()
	logger := t.logger.With().Str("execution_id", executionID).Logger()
	logger.Info().Int("operations", len(ops)).Msg("transaction started")

	results := make([]Result, len(ops))
	var g errgroup.Group
	g.SetLimit(t.concurrency)
	for i, op := range ops {
		g.Go(func() error {
			results[i] = t.runOne(ctx, logger, executionID, op)
			return nil
		})
	}
	_ = g.Wait()

	var errs []error
	failed := 0
	for _, res := range results {
		if res.Err == nil {
			continue
		}
		failed++
		errs = append(errs, &OperationError{Release: res.Release, Action: res.Action, Err: res.Err, HookErr: res.HookErr})
	}
	logger.Info().Int("operations", len(ops)).Int("failed", failed).Msg("transaction finished")
	return results, errors.Join(errs...)
}

// DeleteNamespace tears down the namespace of t after every release in it was deleted.
func (t *Transaction) DeleteNamespace(ctx context.Context, deleter NamespaceDeleter, tgt target.Target) error {
	executionID := t.newID()
	res := target.Resolve(tgt)
	unlock := t.locks.Lock("namespace/" + res.Environment.Namespace)
	defer unlock()

	if err := deleter.DeleteNamespace(ctx, tgt); err != nil {
		return tagExecution(err, executionID)
	}
	t.logger.Info().Str("execution_id", executionID).Str("namespace", res.Environment.Namespace).Msg("namespace purged")
	return nil
}

func (t *Transaction) runOne(ctx context.Context, logger zerolog.Logger, executionID string, op Operation) Result {
	svc := op.Service
	res := Result{
		ExecutionID: executionID,
		Environment: op.Environment,
		ServiceID:   svc.ID(),
		ServiceName: svc.Name(),
		Kind:        svc.Kind(),
		Release:     svc.ReleaseName(),
		Action:      op.Action,
		Version:     svc.Version(),
		StartedAt:   t.now(),
	}
	opLogger := logger.With().
		Str("environment", op.Environment).
		Str("release", res.Release).
		Str("action", string(op.Action)).
		Logger()

	unlock := t.locks.Lock(res.Release)
	defer unlock()

	hooks, err := hooksFor(svc, op.Action)
	if err != nil {
		res.Err = err
		res.Duration = t.now().Sub(res.StartedAt)
		t.observe(ctx, res)
		return res
	}

	if err := hooks.check(ctx); err != nil {
		res.Err = tagExecution(err, executionID)
		opLogger.Warn().Err(err).Msg("precondition check failed")
	} else if err := hooks.action(ctx, op.Target); err != nil {
		res.Err = tagExecution(err, executionID)
		opLogger.Error().Err(err).Str("cause", causeLabel(err)).Msg("operation failed, running cleanup")

		cleanupCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), t.cleanupTimeout)
		if hookErr := hooks.onError(cleanupCtx, op.Target); hookErr != nil {
			res.HookErr = tagExecution(hookErr, executionID)
			opLogger.Error().Err(hookErr).Msg("cleanup failed")
		}
		cancel()
	} else {
		opLogger.Info().Msg("operation succeeded")
	}

	res.Duration = t.now().Sub(res.StartedAt)
	t.observe(ctx, res)
	return res
}

func (t *Transaction) observe(ctx context.Context, res Result) {
	for _, o := range t.observers {
		o.Observe(ctx, res)
	}
}

type hookSet struct {
	check   func(ctx context.Context) error
	action  func(ctx context.Context, t target.Target) error
	onError func(ctx context.Context, t target.Target) error
}

func hooksFor(svc lifecycle.Deployable, action service.Action) (hookSet, error) {
	switch action {
	case service.ActionCreate:
		return hookSet{check: svc.OnCreateCheck, action: svc.OnCreate, onError: svc.OnCreateError}, nil
	case service.ActionPause:
		return hookSet{check: svc.OnPauseCheck, action: svc.OnPause, onError: svc.OnPauseError}, nil
	case service.ActionDelete:
		return hookSet{check: svc.OnDeleteCheck, action: svc.OnDelete, onError: svc.OnDeleteError}, nil
	default:
		return hookSet{}, fmt.Errorf("unsupported action %q", action)
	}
}

// tagExecution stamps the execution id on the EngineError in err's chain. Wrapping context added
// around that error is kept.
func tagExecution(err error, executionID string) error {
	engineErr, ok := engineerr.As(err)
	if !ok || engineErr.ExecutionID != "" {
		return err
	}
	tagged := engineErr.WithExecutionID(executionID)
	if err == error(engineErr) {
		return tagged
	}
	return &executionError{err: err, tagged: tagged}
}

// executionError reports err unchanged but resolves to its execution-tagged EngineError.
type executionError struct {
	err    error
	tagged *engineerr.EngineError
}

func (e *executionError) Error() string { return e.err.Error() }

func (e *executionError) Unwrap() error { return e.err }

func (e *executionError) As(target any) bool {
	if ptr, ok := target.(**engineerr.EngineError); ok {
		*ptr = e.tagged
		return true
	}
	return false
}

func causeLabel(err error) string {
	cause, _ := engineerr.CauseOf(err)
	return cause.String()
}

// Locks serializes operations on the same release.
type Locks struct {
	mu    sync.Mutex
	locks map[string]*sync.Mutex
}

// NewLocks constructs an empty lock set.
func NewLocks() *Locks {
	return &Locks{locks: make(map[string]*sync.Mutex)}
}

// Lock acquires the lock for key and returns its release function.
func (l *Locks) Lock(key string) func() {
	key = strings.TrimSpace(key)
	l.mu.Lock()
	m, ok := l.locks[key]
	if !ok {
		m = &sync.Mutex{}
		l.locks[key] = m
	}
	l.mu.Unlock()

	m.Lock()
	return m.Unlock
}
