package lifecycle

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"github.com/nholik/deckhand/internal/engineerr"
	"github.com/nholik/deckhand/internal/helm"
	"github.com/nholik/deckhand/internal/kube"
	"github.com/nholik/deckhand/internal/readiness"
	"github.com/nholik/deckhand/internal/render"
	"github.com/nholik/deckhand/internal/target"
	"github.com/rs/zerolog"
)

// ChartManager installs, inspects and removes chart releases.
type ChartManager interface {
	UpgradeWithHistory(ctx context.Context, req helm.UpgradeRequest) (*helm.HistoryRecord, error)
	History(ctx context.Context, loc helm.Location, releaseName string, limit int) ([]helm.HistoryRecord, error)
	Uninstall(ctx context.Context, loc helm.Location, releaseName string) error
}

// Poller waits for a readiness check to succeed.
type Poller interface {
	Poll(ctx context.Context, check readiness.Check) (readiness.Outcome, error)
}

// Option configures an Engine.
type Option func(*Engine)

// WithLibRoot sets the directory holding template bundles.
func WithLibRoot(dir string) Option {
	return func(e *Engine) {
		if dir != "" {
			e.libRoot = dir
		}
	}
}

// WithWorkspaceRoot sets the parent directory of rendered workspaces.
func WithWorkspaceRoot(dir string) Option {
	return func(e *Engine) {
		e.workspaceRoot = dir
	}
}

// WithKeepWorkspaces leaves rendered workspaces on disk after each operation.
func WithKeepWorkspaces(keep bool) Option {
	return func(e *Engine) {
		e.keepWorkspaces = keep
	}
}

// Engine runs the generic stateless deploy and delete flows.
type Engine struct {
	logger         zerolog.Logger
	renderer       render.Renderer
	charts         ChartManager
	cluster        kube.Client
	poller         Poller
	libRoot        string
	workspaceRoot  string
	keepWorkspaces bool
}

// New constructs an Engine.
func New(logger zerolog.Logger, renderer render.Renderer, charts ChartManager, cluster kube.Client, poller Poller, opts ...Option) *Engine {
	e := &Engine{
		logger:   logger,
		renderer: renderer,
		charts:   charts,
		cluster:  cluster,
		poller:   poller,
		libRoot:  "lib",
	}
	for _, opt := range opts {
		if opt != nil {
			opt(e)
		}
	}
	return e
}

// BundleDir returns the template bundle directory for a bundle name.
func (e *Engine) BundleDir(bundle string) string {
	return filepath.Join(e.libRoot, "common", "services", bundle)
}

// DeployStateless renders, applies and verifies svc on t.
func (e *Engine) DeployStateless(ctx context.Context, t target.Target, svc StatelessService, check ReadinessCheck) error {
	res := target.Resolve(t)
	scope := svc.Scope()
	label := Label(svc.Kind())
	logger := e.operationLogger(svc, res)

	tmplCtx, err := svc.TemplateContext(res, logger)
	if err != nil {
		return engineerr.Internal(scope, fmt.Sprintf("%s %s with id %s has an invalid deployment context", label, svc.Name(), svc.ID()), err)
	}

	kubeconfig, err := res.Cluster.ConfigFilePath(ctx)
	if err != nil {
		return engineerr.Internal(scope, fmt.Sprintf("cannot retrieve kubeconfig of cluster %s", res.Cluster.ID()), err)
	}
	creds := res.Cluster.CredentialsEnvironmentVariables()

	workspace, cleanup, err := e.workspace(svc)
	if err != nil {
		return engineerr.Internal(scope, "cannot create workspace", err)
	}
	defer cleanup()

	if err := e.renderer.Render(ctx, e.BundleDir(svc.TemplateBundle()), workspace, tmplCtx); err != nil {
		return engineerr.Internal(scope, fmt.Sprintf("cannot render templates of %s %s", label, svc.Name()), err)
	}

	kt := kube.Target{KubeconfigPath: kubeconfig, Namespace: res.Environment.Namespace, Credentials: creds}
	if err := e.cluster.CreateNamespace(ctx, kt); err != nil {
		return engineerr.Internal(scope, fmt.Sprintf("cannot create namespace %s", res.Environment.Namespace), err)
	}

	record, err := e.charts.UpgradeWithHistory(ctx, helm.UpgradeRequest{
		Location:    helm.Location{KubeconfigPath: kubeconfig, Namespace: res.Environment.Namespace, Envs: creds.Environ()},
		ReleaseName: svc.ReleaseName(),
		ChartDir:    workspace,
		Timeout:     svc.StartTimeout(),
	})
	if err != nil || record == nil || !record.IsSuccessfullyDeployed() {
		startErr := engineerr.User(scope, FailureHint(svc.Kind()), fmt.Sprintf("%s %s (%s) has failed to start", label, svc.Name(), svc.ID()))
		event := logger.Warn()
		if err != nil {
			startErr = startErr.WithCause(err)
			event = event.Err(err)
		}
		if record != nil {
			event = event.Int("revision", record.Revision).Str("status", record.Status.String())
		}
		event.Msg("chart release did not deploy")
		return startErr
	}
	logger.Info().Int("revision", record.Revision).Msg("chart release deployed")

	if check != nil {
		outcome, err := e.poller.Poll(ctx, func(ctx context.Context) (bool, error) {
			return check(ctx, e.cluster, kt)
		})
		if err != nil {
			logger.Warn().Err(err).Int("attempts", outcome.Attempts).Msg("workload did not become ready")
			return engineerr.Internal(scope, fmt.Sprintf("%s %s with id %s failed to start after several retries", label, svc.Name(), svc.ID()), err)
		}
		logger.Info().Int("attempts", outcome.Attempts).Msg("workload ready")
	}
	return nil
}

// DeleteStateless uninstalls the release of svc. A release that does not exist counts as deleted.
// When isError is set the latest release revision is logged first.
func (e *Engine) DeleteStateless(ctx context.Context, t target.Target, svc StatelessService, isError bool) error {
	res := target.Resolve(t)
	scope := svc.Scope()
	logger := e.operationLogger(svc, res)

	kubeconfig, err := res.Cluster.ConfigFilePath(ctx)
	if err != nil {
		return engineerr.Internal(scope, fmt.Sprintf("cannot retrieve kubeconfig of cluster %s", res.Cluster.ID()), err)
	}
	loc := helm.Location{
		KubeconfigPath: kubeconfig,
		Namespace:      res.Environment.Namespace,
		Envs:           res.Cluster.CredentialsEnvironmentVariables().Environ(),
	}

	if isError {
		e.logDiagnostics(ctx, logger, loc, svc.ReleaseName())
	}

	if err := e.charts.Uninstall(ctx, loc, svc.ReleaseName()); err != nil {
		return engineerr.Internal(scope, fmt.Sprintf("%s %s with id %s could not be deleted", Label(svc.Kind()), svc.Name(), svc.ID()), err)
	}
	logger.Info().Bool("after_error", isError).Msg("chart release deleted")
	return nil
}

// DeployStatelessError cleans up after a failed create.
func (e *Engine) DeployStatelessError(ctx context.Context, t target.Target, svc StatelessService) error {
	return e.DeleteStateless(ctx, t, svc, true)
}

// DeleteNamespace removes the environment namespace of t with everything left in it.
func (e *Engine) DeleteNamespace(ctx context.Context, t target.Target) error {
	res := target.Resolve(t)
	scope := engineerr.Scope{Kind: engineerr.EntityEnvironment, ID: res.Environment.ID, Name: res.Environment.Name}

	kubeconfig, err := res.Cluster.ConfigFilePath(ctx)
	if err != nil {
		return engineerr.Internal(scope, fmt.Sprintf("cannot retrieve kubeconfig of cluster %s", res.Cluster.ID()), err)
	}
	kt := kube.Target{KubeconfigPath: kubeconfig, Namespace: res.Environment.Namespace, Credentials: res.Cluster.CredentialsEnvironmentVariables()}
	if err := e.cluster.DeleteNamespace(ctx, kt); err != nil {
		return engineerr.Internal(scope, fmt.Sprintf("cannot delete namespace %s", res.Environment.Namespace), err)
	}
	e.logger.Info().Str("namespace", res.Environment.Namespace).Msg("namespace deleted")
	return nil
}

func (e *Engine) logDiagnostics(ctx context.Context, logger zerolog.Logger, loc helm.Location, releaseName string) {
	records, err := e.charts.History(ctx, loc, releaseName, 1)
	if err != nil {
		logger.Warn().Err(err).Msg("cannot read release history")
		return
	}
	if len(records) == 0 {
		logger.Warn().Msg("release has no history")
		return
	}
	last := records[len(records)-1]
	logger.Warn().
		Int("revision", last.Revision).
		Str("status", last.Status.String()).
		Str("description", last.Description).
		Msg("latest release revision before cleanup")
}

func (e *Engine) operationLogger(svc StatelessService, res target.Resolution) zerolog.Logger {
	return e.logger.With().
		Str("release", svc.ReleaseName()).
		Str("service_id", svc.ID()).
		Str("kind", string(svc.Kind())).
		Str("action", string(svc.Action())).
		Str("namespace", res.Environment.Namespace).
		Logger()
}

func (e *Engine) workspace(svc StatelessService) (string, func(), error) {
	if e.workspaceRoot != "" {
		if err := os.MkdirAll(e.workspaceRoot, 0o755); err != nil {
			return "", nil, err
		}
	}
	dir, err := os.MkdirTemp(e.workspaceRoot, fmt.Sprintf("%s-%s-", svc.Kind(), svc.ID()))
	if err != nil {
		return "", nil, err
	}
	cleanup := func() {
		if e.keepWorkspaces {
			e.logger.Debug().Str("workspace", dir).Msg("keeping workspace")
			return
		}
		if err := os.RemoveAll(dir); err != nil {
			e.logger.Warn().Err(err).Str("workspace", dir).Msg("failed to remove workspace")
		}
	}
	return dir, cleanup, nil
}
