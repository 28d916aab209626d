package kube

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"

	"github.com/nholik/deckhand/internal/command"
	"github.com/nholik/deckhand/internal/readiness"
	"github.com/rs/zerolog"
	appsv1 "k8s.io/api/apps/v1"
	batchv1 "k8s.io/api/batch/v1"
)

// KubectlOption configures a Kubectl client.
type KubectlOption func(*Kubectl)

// WithKubectlBinary overrides the kubectl executable.
func WithKubectlBinary(path string) KubectlOption {
	return func(k *Kubectl) {
		if path != "" {
			k.binary = path
		}
	}
}

// Kubectl implements Client by running kubectl.
type Kubectl struct {
	runner command.Runner
	binary string
	logger zerolog.Logger
}

// NewKubectl constructs a kubectl-backed client.
func NewKubectl(runner command.Runner, logger zerolog.Logger, opts ...KubectlOption) *Kubectl {
	k := &Kubectl{runner: runner, binary: "kubectl", logger: logger}
	for _, opt := range opts {
		if opt != nil {
			opt(k)
		}
	}
	return k
}

// CreateNamespace implements Client.
func (k *Kubectl) CreateNamespace(ctx context.Context, t Target) error {
	_, err := k.run(ctx, t, "create", "namespace", t.Namespace)
	if err != nil {
		if command.StderrContains(err, "AlreadyExists") {
			return nil
		}
		return fmt.Errorf("create namespace %s: %w", t.Namespace, err)
	}
	k.logger.Info().Str("namespace", t.Namespace).Msg("namespace created")
	return nil
}

// DeleteNamespace implements Client.
func (k *Kubectl) DeleteNamespace(ctx context.Context, t Target) error {
	if _, err := k.run(ctx, t, "delete", "namespace", t.Namespace, "--ignore-not-found"); err != nil {
		return fmt.Errorf("delete namespace %s: %w", t.Namespace, err)
	}
	return nil
}

// JobReady implements Client.
func (k *Kubectl) JobReady(ctx context.Context, t Target, name string) (bool, error) {
	var job batchv1.Job
	found, err := k.get(ctx, t, "job", name, &job)
	if err != nil || !found {
		return false, err
	}
	ready, err := EvaluateJob(&job)
	if err != nil {
		return false, readiness.Terminal(err)
	}
	return ready, nil
}

// DeploymentReady implements Client.
func (k *Kubectl) DeploymentReady(ctx context.Context, t Target, name string) (bool, error) {
	var deployment appsv1.Deployment
	found, err := k.get(ctx, t, "deployment", name, &deployment)
	if err != nil || !found {
		return false, err
	}
	return EvaluateDeployment(&deployment), nil
}

// Logs returns the last tail lines of every container of the workload resource/name.
func (k *Kubectl) Logs(ctx context.Context, t Target, resource, name string, tail int) ([]byte, error) {
	args := []string{"logs", resource + "/" + name, "--namespace", t.Namespace, "--all-containers", "--prefix"}
	if tail > 0 {
		args = append(args, "--tail", strconv.Itoa(tail))
	}
	res, err := k.run(ctx, t, args...)
	if err != nil {
		if command.StderrContains(err, "NotFound") {
			return nil, fmt.Errorf("%s %s not found in namespace %s", resource, name, t.Namespace)
		}
		return nil, fmt.Errorf("logs %s %s: %w", resource, name, err)
	}
	return res.Stdout, nil
}

func (k *Kubectl) get(ctx context.Context, t Target, resource, name string, into any) (bool, error) {
	res, err := k.run(ctx, t, "get", resource, name, "--namespace", t.Namespace, "-o", "json")
	if err != nil {
		if command.StderrContains(err, "NotFound") {
			return false, nil
		}
		return false, fmt.Errorf("get %s %s: %w", resource, name, err)
	}
	if err := json.Unmarshal(res.Stdout, into); err != nil {
		return false, fmt.Errorf("decode %s %s: %w", resource, name, err)
	}
	return true, nil
}

func (k *Kubectl) run(ctx context.Context, t Target, args ...string) (command.Result, error) {
	env := append([]string{"KUBECONFIG=" + t.KubeconfigPath}, t.Credentials.Environ()...)
	return k.runner.Run(ctx, command.Request{Binary: k.binary, Args: args, Env: env})
}
