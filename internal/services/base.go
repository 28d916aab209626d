// Package services implements the deployable service kinds on top of the lifecycle engine.
package services

import (
	"context"
	"errors"
	"fmt"

	"github.com/nholik/deckhand/internal/deploycontext"
	"github.com/nholik/deckhand/internal/engineerr"
	"github.com/nholik/deckhand/internal/helm"
	"github.com/nholik/deckhand/internal/imagecheck"
	"github.com/nholik/deckhand/internal/lifecycle"
	"github.com/nholik/deckhand/internal/service"
	"github.com/nholik/deckhand/internal/target"
	"github.com/rs/zerolog"
)

// Engine runs the stateless lifecycle flows.
type Engine interface {
	DeployStateless(ctx context.Context, t target.Target, svc lifecycle.StatelessService, check lifecycle.ReadinessCheck) error
	DeleteStateless(ctx context.Context, t target.Target, svc lifecycle.StatelessService, isError bool) error
	DeployStatelessError(ctx context.Context, t target.Target, svc lifecycle.StatelessService) error
}

// ImageChecker verifies that an image reference can be pulled.
type ImageChecker interface {
	Check(ctx context.Context, ref string) error
}

// Deps are the collaborators shared by every service kind.
type Deps struct {
	Engine  Engine
	Checker ImageChecker
	Logger  zerolog.Logger
	// StartTimeout overrides the chart manager wait budget when set.
	StartTimeout helm.Timeout
}

// New builds the service kind named by def.Kind.
func New(def service.Definition, action service.Action, deps Deps) (lifecycle.Deployable, error) {
	if err := def.Validate(); err != nil {
		return nil, err
	}
	switch def.Kind {
	case service.KindExternalService, "":
		return NewExternalService(def, action, deps), nil
	case service.KindApplication:
		return NewApplication(def, action, deps), nil
	default:
		return nil, fmt.Errorf("unsupported service kind %q", def.Kind)
	}
}

// stateless holds what every stateless kind shares. Concrete kinds embed it and supply their kind,
// bundle and readiness check.
type stateless struct {
	def     service.Definition
	action  service.Action
	deps    Deps
	logger  zerolog.Logger
	kind    service.Kind
	bundle  string
	timeout helm.Timeout
}

func newStateless(def service.Definition, action service.Action, deps Deps, kind service.Kind, bundle string) stateless {
	def.Kind = kind
	return stateless{
		def:     def,
		action:  action,
		deps:    deps,
		kind:    kind,
		bundle:  bundle,
		timeout: deps.StartTimeout,
		logger: deps.Logger.With().
			Str("service", def.Name).
			Str("service_id", def.ID).
			Str("kind", string(kind)).
			Logger(),
	}
}

func (s *stateless) ID() string             { return s.def.ID }
func (s *stateless) Name() string           { return s.def.Name }
func (s *stateless) Kind() service.Kind     { return s.kind }
func (s *stateless) Action() service.Action { return s.action }
func (s *stateless) Version() string        { return s.def.Image.CommitID }
func (s *stateless) TotalCPUs() string      { return s.def.TotalCPUs }
func (s *stateless) TotalRAMInMiB() uint32  { return s.def.TotalRAMInMiB }
func (s *stateless) PrivatePort() *uint16   { return s.def.PrivatePort }
func (s *stateless) TemplateBundle() string { return s.bundle }
func (s *stateless) StartTimeout() helm.Timeout {
	return s.timeout
}

// Image returns the image the service runs.
func (s *stateless) Image() service.Image { return s.def.Image }

// EnvironmentVariables returns the ordered environment.
func (s *stateless) EnvironmentVariables() []service.EnvironmentVariable {
	return s.def.EnvironmentVariables
}

func (s *stateless) ReleaseName() string {
	return service.ReleaseName(string(s.kind), s.def.Name, s.def.ID)
}

func (s *stateless) Scope() engineerr.Scope {
	kind := engineerr.EntityExternalService
	if s.kind == service.KindApplication {
		kind = engineerr.EntityApplication
	}
	return engineerr.Scope{Kind: kind, ID: s.def.ID, Name: s.def.Name}
}

func (s *stateless) templateContext(res target.Resolution, logger zerolog.Logger, instances uint16) (deploycontext.Context, error) {
	return deploycontext.NewBuilder(res, logger).
		WithService(deploycontext.ServiceInfo{
			ID:             s.def.ID,
			Name:           s.def.Name,
			TotalCPUs:      s.def.TotalCPUs,
			TotalRAMInMiB:  s.def.TotalRAMInMiB,
			TotalInstances: instances,
			PrivatePort:    s.def.PrivatePort,
			ReleaseName:    s.ReleaseName(),
		}).
		WithVersion(s.def.Image.CommitID).
		WithImage(s.def.Image).
		WithEnvironmentVariables(s.def.EnvironmentVariables).
		Build()
}

// checkImage verifies the image when a checker is configured. A missing image is the user's to fix.
func (s *stateless) checkImage(ctx context.Context) error {
	if s.deps.Checker == nil {
		return nil
	}
	ref := s.def.Image.RegistryURL
	if ref == "" {
		ref = s.def.Image.NameWithTag()
	}
	if err := s.deps.Checker.Check(ctx, ref); err != nil {
		label := lifecycle.Label(s.kind)
		if errors.Is(err, imagecheck.ErrImageNotFound) {
			return engineerr.User(s.Scope(),
				fmt.Sprintf("Make sure the image %s was pushed and is readable with your registry credentials", ref),
				fmt.Sprintf("%s %s (%s) references an image that cannot be found", label, s.def.Name, s.def.ID)).
				WithCause(err)
		}
		return engineerr.Internal(s.Scope(), fmt.Sprintf("cannot verify image of %s %s", label, s.def.Name), err)
	}
	return nil
}

func (s *stateless) noCheck(context.Context) error { return nil }
