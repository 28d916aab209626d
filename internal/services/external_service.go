package services

import (
	"context"

	"github.com/nholik/deckhand/internal/deploycontext"
	"github.com/nholik/deckhand/internal/lifecycle"
	"github.com/nholik/deckhand/internal/service"
	"github.com/nholik/deckhand/internal/target"
	"github.com/rs/zerolog"
)

// ExternalServiceBundle is the template bundle external services render.
const ExternalServiceBundle = "q-job"

// ExternalService is a run-to-completion job.
type ExternalService struct {
	stateless
}

var _ lifecycle.Deployable = (*ExternalService)(nil)
var _ lifecycle.StatelessService = (*ExternalService)(nil)

// NewExternalService constructs an ExternalService.
func NewExternalService(def service.Definition, action service.Action, deps Deps) *ExternalService {
	return &ExternalService{stateless: newStateless(def, action, deps, service.KindExternalService, ExternalServiceBundle)}
}

// TotalInstances is always one: a job runs once.
func (e *ExternalService) TotalInstances() uint16 { return 1 }

// TemplateContext implements lifecycle.StatelessService.
func (e *ExternalService) TemplateContext(res target.Resolution, logger zerolog.Logger) (deploycontext.Context, error) {
	return e.templateContext(res, logger, e.TotalInstances())
}

// OnCreate deploys the job and waits for it to complete.
func (e *ExternalService) OnCreate(ctx context.Context, t target.Target) error {
	e.logger.Info().Msg("external service create")
	return e.deps.Engine.DeployStateless(ctx, t, e, lifecycle.JobCompleted(e.Name()))
}

// OnCreateCheck verifies the image when an image checker is configured.
func (e *ExternalService) OnCreateCheck(ctx context.Context) error {
	return e.checkImage(ctx)
}

// OnCreateError removes what a failed create left behind.
func (e *ExternalService) OnCreateError(ctx context.Context, t target.Target) error {
	e.logger.Warn().Msg("external service create error cleanup")
	return e.deps.Engine.DeployStatelessError(ctx, t, e)
}

// OnPause removes the release.
func (e *ExternalService) OnPause(ctx context.Context, t target.Target) error {
	e.logger.Info().Msg("external service pause")
	return e.deps.Engine.DeleteStateless(ctx, t, e, false)
}

// OnPauseCheck always succeeds.
func (e *ExternalService) OnPauseCheck(ctx context.Context) error { return e.noCheck(ctx) }

// OnPauseError removes the release after a failed pause.
func (e *ExternalService) OnPauseError(ctx context.Context, t target.Target) error {
	e.logger.Warn().Msg("external service pause error cleanup")
	return e.deps.Engine.DeleteStateless(ctx, t, e, true)
}

// OnDelete removes the release.
func (e *ExternalService) OnDelete(ctx context.Context, t target.Target) error {
	e.logger.Info().Msg("external service delete")
	return e.deps.Engine.DeleteStateless(ctx, t, e, false)
}

// OnDeleteCheck always succeeds.
func (e *ExternalService) OnDeleteCheck(ctx context.Context) error { return e.noCheck(ctx) }

// OnDeleteError removes the release after a failed delete.
func (e *ExternalService) OnDeleteError(ctx context.Context, t target.Target) error {
	e.logger.Warn().Msg("external service delete error cleanup")
	return e.deps.Engine.DeleteStateless(ctx, t, e, true)
}
