package services

import (
	"context"

	"github.com/nholik/deckhand/internal/deploycontext"
	"github.com/nholik/deckhand/internal/lifecycle"
	"github.com/nholik/deckhand/internal/service"
	"github.com/nholik/deckhand/internal/target"
	"github.com/rs/zerolog"
)

// ApplicationBundle is the template bundle applications render.
const ApplicationBundle = "q-application"

// Application is a long-running deployment.
type Application struct {
	stateless
}

var _ lifecycle.Deployable = (*Application)(nil)
var _ lifecycle.StatelessService = (*Application)(nil)

// NewApplication constructs an Application.
func NewApplication(def service.Definition, action service.Action, deps Deps) *Application {
	return &Application{stateless: newStateless(def, action, deps, service.KindApplication, ApplicationBundle)}
}

// TotalInstances is the desired replica count, at least one.
func (a *Application) TotalInstances() uint16 {
	if a.def.TotalInstances == 0 {
		return 1
	}
	return a.def.TotalInstances
}

// TemplateContext implements lifecycle.StatelessService.
func (a *Application) TemplateContext(res target.Resolution, logger zerolog.Logger) (deploycontext.Context, error) {
	return a.templateContext(res, logger, a.TotalInstances())
}

// OnCreate deploys the application and waits until every replica is available.
func (a *Application) OnCreate(ctx context.Context, t target.Target) error {
	a.logger.Info().Msg("application create")
	return a.deps.Engine.DeployStateless(ctx, t, a, lifecycle.DeploymentAvailable(a.Name()))
}

// OnCreateCheck verifies the image when an image checker is configured.
func (a *Application) OnCreateCheck(ctx context.Context) error {
	return a.checkImage(ctx)
}

// OnCreateError removes what a failed create left behind.
func (a *Application) OnCreateError(ctx context.Context, t target.Target) error {
	a.logger.Warn().Msg("application create error cleanup")
	return a.deps.Engine.DeployStatelessError(ctx, t, a)
}

// OnPause scales the application away by removing its release.
func (a *Application) OnPause(ctx context.Context, t target.Target) error {
	a.logger.Info().Msg("application pause")
	return a.deps.Engine.DeleteStateless(ctx, t, a, false)
}

// OnPauseCheck always succeeds.
func (a *Application) OnPauseCheck(ctx context.Context) error { return a.noCheck(ctx) }

// OnPauseError removes the release after a failed pause.
func (a *Application) OnPauseError(ctx context.Context, t target.Target) error {
	a.logger.Warn().Msg("application pause error cleanup")
	return a.deps.Engine.DeleteStateless(ctx, t, a, true)
}

// OnDelete removes the release.
func (a *Application) OnDelete(ctx context.Context, t target.Target) error {
	a.logger.Info().Msg("application delete")
	return a.deps.Engine.DeleteStateless(ctx, t, a, false)
}

// OnDeleteCheck always succeeds.
func (a *Application) OnDeleteCheck(ctx context.Context) error { return a.noCheck(ctx) }

// OnDeleteError removes the release after a failed delete.
func (a *Application) OnDeleteError(ctx context.Context, t target.Target) error {
	a.logger.Warn().Msg("application delete error cleanup")
	return a.deps.Engine.DeleteStateless(ctx, t, a, true)
}
