package coordinator

import (
	"context"
	"sync"

	"github.com/nholik/deckhand/internal/compose"
	"github.com/nholik/deckhand/internal/config"
	"github.com/nholik/deckhand/internal/healthcheck"
	"github.com/nholik/deckhand/internal/notify"
	"github.com/nholik/deckhand/internal/runner"
	"github.com/nholik/deckhand/internal/state"
	"github.com/rs/zerolog"
)

// Deps are shared by every runner.
type Deps struct {
	Services   runner.ServiceFactory
	Executor   runner.Executor
	StateStore state.Store
	StateLock  *sync.Mutex
	Notifier   notify.Notifier
	Metrics    runner.Metrics
	Tracker    *healthcheck.Tracker
}

// Coordinator manages multiple Runner instances, one per environment.
// It spawns runners in parallel and waits for context cancellation.
type Coordinator struct {
	logger       zerolog.Logger
	cfg          config.Config
	environments []config.EnvironmentSpec
	deps         Deps
	runners      map[string]*runner.Runner
	runnerErrors map[string]error
	mu           sync.RWMutex
}

// New constructs a Coordinator for the given environments.
func New(logger zerolog.Logger, cfg config.Config, environments []config.EnvironmentSpec, deps Deps) *Coordinator {
	if deps.StateStore != nil && deps.StateLock == nil {
		deps.StateLock = &sync.Mutex{}
	}
	return &Coordinator{
		logger:       logger,
		cfg:          cfg,
		environments: environments,
		deps:         deps,
		runners:      make(map[string]*runner.Runner),
		runnerErrors: make(map[string]error),
	}
}

// Run starts all runners in parallel and blocks until context is canceled.
// Returns nil on clean shutdown; logs any per-runner errors internally.
func (c *Coordinator) Run(ctx context.Context) error {
	c.logger.Info().
		Int("environments", len(c.environments)).
		Msg("starting coordinator")

	watched := make([]config.EnvironmentSpec, 0, len(c.environments))
	names := make([]string, 0, len(c.environments))
	for _, env := range c.environments {
		if env.ComposeURL == "" {
			c.logger.Warn().Str("environment", env.Name).Msg("environment has no compose_url, not watching")
			continue
		}
		watched = append(watched, env)
		names = append(names, env.Name)
	}
	c.deps.Tracker.Expect(names...)

	var wg sync.WaitGroup
	for _, env := range watched {
		wg.Add(1)
		go c.spawnRunner(ctx, &wg, env)
	}

	wg.Wait()
	c.logger.Info().Msg("all runners stopped")

	c.mu.RLock()
	defer c.mu.RUnlock()
	for environment, err := range c.runnerErrors {
		if err != nil {
			c.logger.Error().Err(err).Str("environment", environment).Msg("runner error")
		}
	}

	return nil
}

// spawnRunner creates and runs a single Runner for env.
func (c *Coordinator) spawnRunner(ctx context.Context, wg *sync.WaitGroup, env config.EnvironmentSpec) {
	defer wg.Done()

	envLogger := c.logger.With().Str("environment", env.Name).Logger()

	// Per-environment override or global default
	timeout := c.cfg.ComposeTimeout
	if env.Timeout > 0 {
		timeout = env.Timeout
	}

	fetcher, err := compose.NewFetcher(env.ComposeURL, timeout)
	if err != nil {
		envLogger.Error().Err(err).Msg("failed to initialize compose fetcher")
		c.recordError(env.Name, err)
		c.deps.Tracker.RecordEnvironment(env.Name, 0, 0, 0, err)
		return
	}

	tgt, err := env.Target()
	if err != nil {
		envLogger.Error().Err(err).Msg("failed to resolve deployment target")
		c.recordError(env.Name, err)
		c.deps.Tracker.RecordEnvironment(env.Name, 0, 0, 0, err)
		return
	}

	r := runner.New(
		envLogger,
		c.cfg.PollInterval,
		runner.WithComposeFetcher(fetcher),
		runner.WithEnvironment(env.Name, tgt),
		runner.WithServiceFactory(c.deps.Services),
		runner.WithExecutor(c.deps.Executor),
		runner.WithStateStore(c.deps.StateStore, c.deps.StateLock),
		runner.WithNotifier(c.deps.Notifier),
		runner.WithMetrics(c.deps.Metrics),
		runner.WithTracker(c.deps.Tracker),
	)

	c.mu.Lock()
	c.runners[env.Name] = r
	c.mu.Unlock()

	envLogger.Info().Str("compose_url", env.ComposeURL).Msg("runner started")

	if err := r.Run(ctx); err != nil {
		envLogger.Error().Err(err).Msg("runner exited with error")
		c.recordError(env.Name, err)
	} else {
		envLogger.Info().Msg("runner exited cleanly")
	}
}

// recordError records a per-environment error for later reporting.
func (c *Coordinator) recordError(environment string, err error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.runnerErrors[environment] = err
}

// Errors returns a copy of the per-environment errors.
func (c *Coordinator) Errors() map[string]error {
	c.mu.RLock()
	defer c.mu.RUnlock()

	result := make(map[string]error, len(c.runnerErrors))
	for k, v := range c.runnerErrors {
		result[k] = v
	}
	return result
}

// GetRunners returns a copy of the runners map for testing.
func (c *Coordinator) GetRunners() map[string]*runner.Runner {
	c.mu.RLock()
	defer c.mu.RUnlock()

	result := make(map[string]*runner.Runner, len(c.runners))
	for k, v := range c.runners {
		result[k] = v
	}
	return result
}
