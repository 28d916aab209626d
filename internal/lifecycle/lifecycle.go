// Package lifecycle drives create, pause and delete operations for deployable services.
//
// Service kinds opt into operations by implementing the capability interfaces below. Stateless kinds
// delegate the actual work to Engine, which renders the kind's chart bundle, applies it through the
// chart manager, verifies the deployment history and polls the workload until it is ready.
package lifecycle

import (
	"context"

	"github.com/nholik/deckhand/internal/deploycontext"
	"github.com/nholik/deckhand/internal/engineerr"
	"github.com/nholik/deckhand/internal/helm"
	"github.com/nholik/deckhand/internal/kube"
	"github.com/nholik/deckhand/internal/service"
	"github.com/nholik/deckhand/internal/target"
	"github.com/rs/zerolog"
)

// Service is the identity and sizing every deployable kind exposes.
type Service interface {
	ID() string
	Name() string
	Kind() service.Kind
	Action() service.Action
	Version() string
	TotalCPUs() string
	TotalRAMInMiB() uint32
	TotalInstances() uint16
	PrivatePort() *uint16
	Scope() engineerr.Scope
}

// ReleaseNamed services own a chart release.
type ReleaseNamed interface {
	ReleaseName() string
}

// Createable services can be created.
type Createable interface {
	OnCreate(ctx context.Context, t target.Target) error
	OnCreateCheck(ctx context.Context) error
	OnCreateError(ctx context.Context, t target.Target) error
}

// Pausable services can be paused.
type Pausable interface {
	OnPause(ctx context.Context, t target.Target) error
	OnPauseCheck(ctx context.Context) error
	OnPauseError(ctx context.Context, t target.Target) error
}

// Deletable services can be deleted.
type Deletable interface {
	OnDelete(ctx context.Context, t target.Target) error
	OnDeleteCheck(ctx context.Context) error
	OnDeleteError(ctx context.Context, t target.Target) error
}

// Deployable services support every operation.
type Deployable interface {
	Service
	ReleaseNamed
	Createable
	Pausable
	Deletable
}

// StatelessService is a kind whose whole state lives in its chart release.
type StatelessService interface {
	Service
	ReleaseNamed
	// TemplateContext builds the render context. Errors are treated as failed preconditions.
	TemplateContext(res target.Resolution, logger zerolog.Logger) (deploycontext.Context, error)
	// TemplateBundle names the bundle directory under <libRoot>/common/services.
	TemplateBundle() string
	StartTimeout() helm.Timeout
}

// ReadinessCheck asks the cluster whether a deployed workload is ready.
type ReadinessCheck func(ctx context.Context, cluster kube.Client, t kube.Target) (bool, error)

// JobCompleted waits for the named job to complete.
func JobCompleted(name string) ReadinessCheck {
	return func(ctx context.Context, cluster kube.Client, t kube.Target) (bool, error) {
		return cluster.JobReady(ctx, t, name)
	}
}

// DeploymentAvailable waits for the named deployment to be fully available.
func DeploymentAvailable(name string) ReadinessCheck {
	return func(ctx context.Context, cluster kube.Client, t kube.Target) (bool, error) {
		return cluster.DeploymentReady(ctx, t, name)
	}
}

// Label is the human readable name of a kind used in error messages.
func Label(kind service.Kind) string {
	switch kind {
	case service.KindExternalService:
		return "External Service"
	case service.KindApplication:
		return "Application"
	default:
		return string(kind)
	}
}

// FailureHint suggests how a user can diagnose a service that did not start.
func FailureHint(kind service.Kind) string {
	label := Label(kind)
	return "Your " + label + " didn't start for some reason. Are you sure your " + label +
		" is correctly running? You can give it a try by running it locally with `docker run`. " +
		"You can also check the " + label + " logs with `deckhand logs`"
}
