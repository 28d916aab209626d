package cli

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/nholik/deckhand/internal/command"
	"github.com/nholik/deckhand/internal/compose"
	"github.com/nholik/deckhand/internal/config"
	"github.com/nholik/deckhand/internal/healthcheck"
	"github.com/nholik/deckhand/internal/helm"
	"github.com/nholik/deckhand/internal/imagecheck"
	"github.com/nholik/deckhand/internal/kube"
	"github.com/nholik/deckhand/internal/lifecycle"
	"github.com/nholik/deckhand/internal/logging"
	"github.com/nholik/deckhand/internal/metrics"
	"github.com/nholik/deckhand/internal/notify"
	"github.com/nholik/deckhand/internal/readiness"
	"github.com/nholik/deckhand/internal/render"
	"github.com/nholik/deckhand/internal/service"
	"github.com/nholik/deckhand/internal/services"
	"github.com/nholik/deckhand/internal/state"
	"github.com/nholik/deckhand/internal/transaction"
	"github.com/nholik/deckhand/internal/transition"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"
)

// app holds everything a command needs, wired from configuration.
type app struct {
	cfg      config.Config
	envs     []config.EnvironmentSpec
	logger   zerolog.Logger
	engine   *lifecycle.Engine
	tx       *transaction.Transaction
	store    state.Store
	stateMu  *sync.Mutex
	metrics  *metrics.Metrics
	tracker  *healthcheck.Tracker
	notifier notify.Notifier
	checker  *imagecheck.Checker
}

// releaseDetail is what a definition contributes to its release record beyond the operation result.
type releaseDetail struct {
	image string
	hash  string
}

func loadApp(cmd *cobra.Command, opts *Options) (*app, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, err
	}
	level := cfg.LogLevel
	if opts.LogLevel != "" {
		level = opts.LogLevel
	}
	logger := logging.NewWithWriter(cmd.ErrOrStderr(), level)
	return newApp(cfg, logger)
}

func newApp(cfg config.Config, logger zerolog.Logger) (*app, error) {
	envs, err := config.LoadEnvironmentsFile(cfg.EnvironmentsFile)
	if err != nil {
		return nil, err
	}

	runner := command.NewExecRunner(logger)
	charts := helm.New(runner, logger, helm.WithBinary(cfg.HelmBinary))

	var cluster kube.Client
	switch cfg.ClusterClient {
	case config.ClusterClientClientGo:
		cluster = kube.NewClientset(logger)
	default:
		cluster = kube.NewKubectl(runner, logger, kube.WithKubectlBinary(cfg.KubectlBinary))
	}

	poller := readiness.NewPoller(
		readiness.ExponentialPolicy(cfg.ReadinessMaxAttempts, cfg.ReadinessInitialInterval, cfg.ReadinessMaxInterval),
		logger,
	)
	engine := lifecycle.New(logger, render.New(logger), charts, cluster, poller,
		lifecycle.WithLibRoot(cfg.LibRoot),
		lifecycle.WithWorkspaceRoot(cfg.WorkspaceRoot),
		lifecycle.WithKeepWorkspaces(cfg.KeepWorkspaces),
	)

	collector := metrics.New()
	tx := transaction.New(logger,
		transaction.WithConcurrency(cfg.Concurrency),
		transaction.WithCleanupTimeout(cfg.CleanupTimeout),
		transaction.WithObserver(collector),
	)

	notifier, err := buildNotifier(cfg, logger)
	if err != nil {
		return nil, err
	}

	a := &app{
		cfg:      cfg,
		envs:     envs,
		logger:   logger,
		engine:   engine,
		tx:       tx,
		store:    state.NewFileStore(cfg.StatePath, logger),
		stateMu:  &sync.Mutex{},
		metrics:  collector,
		tracker:  healthcheck.NewTracker(),
		notifier: notifier,
	}

	if cfg.DockerHost != "" {
		checker, err := imagecheck.New(cfg.DockerHost, 0, logger)
		if err != nil {
			return nil, fmt.Errorf("init image checker: %w", err)
		}
		a.checker = checker
	}

	return a, nil
}

// buildNotifier fans out to every configured channel. Dry-run mode logs instead of delivering.
func buildNotifier(cfg config.Config, logger zerolog.Logger) (notify.Notifier, error) {
	var notifiers []notify.Notifier
	if cfg.SlackWebhookURL != "" {
		notifiers = append(notifiers, notify.NewSlackNotifier(logger, cfg.SlackWebhookURL))
	}
	if cfg.WebhookURL != "" {
		webhook, err := notify.NewWebhookNotifier(logger, cfg.WebhookURL, cfg.WebhookTemplate)
		if err != nil {
			return nil, err
		}
		notifiers = append(notifiers, webhook)
	}
	if len(notifiers) == 0 {
		return notify.NewNoop(logger, "no notification channel configured"), nil
	}

	var notifier notify.Notifier = notify.NewMultiNotifier(notifiers...)
	if cfg.NotifyDryRun {
		notifier = notify.NewDryRunNotifier(logger, notifier)
	}
	return notifier, nil
}

func (a *app) Close() {
	if a.checker != nil {
		if err := a.checker.Close(); err != nil {
			a.logger.Warn().Err(err).Msg("failed to close image checker")
		}
	}
}

// newService builds the deployable for def with the shared engine and image checker.
func (a *app) newService(def service.Definition, action service.Action) (lifecycle.Deployable, error) {
	deps := services.Deps{
		Engine:       a.engine,
		Logger:       a.logger,
		StartTimeout: helm.FromDuration(a.cfg.HelmTimeout),
	}
	if a.checker != nil {
		deps.Checker = a.checker
	}
	return services.New(def, action, deps)
}

func (a *app) environment(name string) (config.EnvironmentSpec, error) {
	if name == "" {
		if len(a.envs) == 1 {
			return a.envs[0], nil
		}
		return config.EnvironmentSpec{}, errors.New("several environments are defined, pass --environment")
	}
	return config.FindEnvironment(a.envs, name)
}

// definitions fetches and parses the compose source of env. A non-empty override replaces the
// environment compose_url.
func (a *app) definitions(ctx context.Context, env config.EnvironmentSpec, override string) ([]service.Definition, error) {
	source := env.ComposeURL
	if override != "" {
		source = override
	}
	if source == "" {
		return nil, fmt.Errorf("environment %q has no compose_url, pass --compose", env.Name)
	}

	timeout := a.cfg.ComposeTimeout
	if env.Timeout > 0 {
		timeout = env.Timeout
	}
	fetcher, err := compose.NewFetcher(source, timeout)
	if err != nil {
		return nil, err
	}
	result, err := fetcher.Fetch(ctx, "")
	if err != nil {
		return nil, err
	}
	return compose.ParseServices(ctx, result.Body)
}

// apply runs action on defs in env and records the outcome. Definitions rebuilt from release
// records keep the image and hash already stored.
func (a *app) apply(ctx context.Context, env config.EnvironmentSpec, action service.Action, defs []service.Definition, fromRecords bool) ([]transaction.Result, error) {
	tgt, err := env.Target()
	if err != nil {
		return nil, err
	}

	ops := make([]transaction.Operation, 0, len(defs))
	details := make(map[string]releaseDetail, len(defs))
	for _, def := range defs {
		svc, err := a.newService(def, action)
		if err != nil {
			return nil, err
		}
		if !fromRecords {
			hash, err := compose.DefinitionFingerprint(def)
			if err != nil {
				return nil, err
			}
			details[svc.ReleaseName()] = releaseDetail{image: def.Image.Reference(), hash: hash}
		}
		ops = append(ops, transaction.Operation{
			Environment: env.Name,
			Service:     svc,
			Action:      action,
			Target:      tgt,
		})
	}

	results, runErr := a.tx.Run(ctx, ops)
	if err := a.record(ctx, env.Name, results, details); err != nil {
		return results, errors.Join(runErr, fmt.Errorf("record releases: %w", err))
	}
	return results, runErr
}

// record stores results in the environment snapshot and notifies release transitions.
func (a *app) record(ctx context.Context, environment string, results []transaction.Result, details map[string]releaseDetail) error {
	a.stateMu.Lock()
	defer a.stateMu.Unlock()

	loaded, err := a.store.Load(ctx)
	if err != nil {
		return err
	}
	previous := loaded.Environment(environment)
	next := previous.Clone()
	for _, res := range results {
		detail := details[res.Release]
		next.RecordResult(res, detail.image, detail.hash)
	}
	next.UpdatedAt = time.Now().UTC()

	transitions := transition.DetectReleaseTransitions(&previous, next)
	if len(transitions) > 0 {
		if err := a.notifier.Notify(ctx, environment, transitions); err != nil {
			a.logger.Warn().Err(err).Int("transitions", len(transitions)).Msg("failed to deliver notifications")
		} else {
			for _, change := range transitions {
				rec := next.Releases[change.Release]
				rec.LastNotifiedStatus = change.CurrentStatus
				next.Releases[change.Release] = rec
			}
		}
	}

	loaded.Put(environment, next)
	return a.store.Save(ctx, loaded)
}
