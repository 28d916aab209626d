// Package kube talks to Kubernetes clusters, either through the kubectl binary or through client-go.
package kube

import (
	"context"
	"fmt"

	"github.com/nholik/deckhand/internal/cloud"
	appsv1 "k8s.io/api/apps/v1"
	batchv1 "k8s.io/api/batch/v1"
	corev1 "k8s.io/api/core/v1"
)

// Target identifies a namespace in a cluster and the credentials that reach it.
type Target struct {
	KubeconfigPath string
	Namespace      string
	Credentials    cloud.Credentials
}

// Client is the cluster client used by the lifecycle engine.
type Client interface {
	// CreateNamespace creates the target namespace. An existing namespace is not an error.
	CreateNamespace(ctx context.Context, t Target) error
	// DeleteNamespace removes the target namespace. A missing namespace is not an error.
	DeleteNamespace(ctx context.Context, t Target) error
	// JobReady reports whether the named job completed. A failed job returns a terminal error.
	JobReady(ctx context.Context, t Target, name string) (bool, error)
	// DeploymentReady reports whether the named deployment is fully available.
	DeploymentReady(ctx context.Context, t Target, name string) (bool, error)
}

// JobFailedError reports a job whose Failed condition is set.
type JobFailedError struct {
	Name    string
	Reason  string
	Message string
}

func (e *JobFailedError) Error() string {
	return fmt.Sprintf("job %s failed: %s %s", e.Name, e.Reason, e.Message)
}

// EvaluateJob reports whether job completed successfully.
func EvaluateJob(job *batchv1.Job) (bool, error) {
	if job == nil {
		return false, nil
	}
	for _, cond := range job.Status.Conditions {
		if cond.Status != corev1.ConditionTrue {
			continue
		}
		switch cond.Type {
		case batchv1.JobComplete:
			return true, nil
		case batchv1.JobFailed:
			return false, &JobFailedError{Name: job.Name, Reason: cond.Reason, Message: cond.Message}
		}
	}
	completions := int32(1)
	if job.Spec.Completions != nil {
		completions = *job.Spec.Completions
	}
	return job.Status.Succeeded >= completions, nil
}

// EvaluateDeployment reports whether every desired replica of deployment is available and the
// controller has observed the latest spec.
func EvaluateDeployment(deployment *appsv1.Deployment) bool {
	if deployment == nil {
		return false
	}
	if deployment.Status.ObservedGeneration < deployment.Generation {
		return false
	}
	desired := int32(1)
	if deployment.Spec.Replicas != nil {
		desired = *deployment.Spec.Replicas
	}
	return deployment.Status.UpdatedReplicas >= desired && deployment.Status.AvailableReplicas >= desired
}
