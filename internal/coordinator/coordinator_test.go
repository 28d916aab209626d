package coordinator

import (
	"context"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/nholik/deckhand/internal/config"
	"github.com/nholik/deckhand/internal/lifecycle"
	"github.com/nholik/deckhand/internal/service"
	"github.com/nholik/deckhand/internal/services"
	"github.com/nholik/deckhand/internal/state"
	"github.com/nholik/deckhand/internal/transaction"
	"github.com/rs/zerolog"
)

const composeBody = `
services:
  worker:
    image: worker:2.0.0
    labels:
      deckhand.commit: 1234567abc
`

type recordingExecutor struct {
	mu           sync.Mutex
	environments map[string]int
}

func (e *recordingExecutor) Run(_ context.Context, ops []transaction.Operation) ([]transaction.Result, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.environments == nil {
		e.environments = map[string]int{}
	}
	results := make([]transaction.Result, len(ops))
	for i, op := range ops {
		e.environments[op.Environment]++
		results[i] = transaction.Result{
			Environment: op.Environment,
			ServiceID:   op.Service.ID(),
			ServiceName: op.Service.Name(),
			Kind:        op.Service.Kind(),
			Release:     op.Service.ReleaseName(),
			Action:      op.Action,
			Version:     op.Service.Version(),
			StartedAt:   time.Now(),
		}
	}
	return results, nil
}

func (e *recordingExecutor) count(environment string) int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.environments[environment]
}

func serviceFactory(def service.Definition, action service.Action) (lifecycle.Deployable, error) {
	return services.New(def, action, services.Deps{Logger: zerolog.Nop()})
}

func writeCompose(t *testing.T) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "compose.yml")
	if err := os.WriteFile(path, []byte(composeBody), 0o600); err != nil {
		t.Fatalf("write compose: %v", err)
	}
	return path
}

func environment(name, composeURL string) config.EnvironmentSpec {
	return config.EnvironmentSpec{
		Name:       name,
		ID:         name + "-id",
		Namespace:  name,
		ComposeURL: composeURL,
		Cluster: config.ClusterSpec{
			ID:         "cluster-1",
			Provider:   "aws",
			Kubeconfig: "/tmp/kubeconfig",
		},
	}
}

func testConfig() config.Config {
	return config.Config{
		PollInterval:   100 * time.Millisecond,
		ComposeTimeout: 1 * time.Second,
	}
}

func TestCoordinator_SingleEnvironment(t *testing.T) {
	executor := &recordingExecutor{}
	store := state.NewFileStore(filepath.Join(t.TempDir(), "state.json"), zerolog.Nop())

	coord := New(zerolog.Nop(), testConfig(),
		[]config.EnvironmentSpec{environment("staging", writeCompose(t))},
		Deps{Services: serviceFactory, Executor: executor, StateStore: store},
	)

	ctx, cancel := context.WithTimeout(context.Background(), 200*time.Millisecond)
	defer cancel()

	if err := coord.Run(ctx); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if _, ok := coord.GetRunners()["staging"]; !ok {
		t.Fatal("expected staging runner")
	}
	if executor.count("staging") != 1 {
		t.Fatalf("expected one operation for staging, got %d", executor.count("staging"))
	}

	loaded, err := store.Load(context.Background())
	if err != nil {
		t.Fatalf("load state: %v", err)
	}
	if _, ok := loaded.Environment("staging").Releases["external-service-worker-worker"]; !ok {
		t.Fatalf("expected worker release to be recorded")
	}
}

func TestCoordinator_MultipleEnvironments(t *testing.T) {
	executor := &recordingExecutor{}
	path := writeCompose(t)
	envs := []config.EnvironmentSpec{
		environment("env-1", path),
		environment("env-2", "file://"+path),
		environment("env-3", path),
	}
	envs[2].Timeout = 5 * time.Second

	coord := New(zerolog.Nop(), testConfig(), envs, Deps{
		Services:   serviceFactory,
		Executor:   executor,
		StateStore: state.NewFileStore(filepath.Join(t.TempDir(), "state.json"), zerolog.Nop()),
	})

	ctx, cancel := context.WithTimeout(context.Background(), 200*time.Millisecond)
	defer cancel()

	if err := coord.Run(ctx); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	runners := coord.GetRunners()
	if len(runners) != 3 {
		t.Fatalf("expected 3 runners, got %d", len(runners))
	}
	for _, env := range envs {
		if _, ok := runners[env.Name]; !ok {
			t.Fatalf("expected %s runner", env.Name)
		}
		if executor.count(env.Name) != 1 {
			t.Fatalf("expected one operation for %s, got %d", env.Name, executor.count(env.Name))
		}
	}
}

func TestCoordinator_SkipsEnvironmentsWithoutCompose(t *testing.T) {
	coord := New(zerolog.Nop(), testConfig(),
		[]config.EnvironmentSpec{environment("manual", "")},
		Deps{Services: serviceFactory, Executor: &recordingExecutor{}},
	)

	ctx, cancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
	defer cancel()

	if err := coord.Run(ctx); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(coord.GetRunners()) != 0 {
		t.Fatalf("expected no runners")
	}
}

func TestCoordinator_GracefulShutdown(t *testing.T) {
	path := writeCompose(t)
	coord := New(zerolog.Nop(), testConfig(),
		[]config.EnvironmentSpec{environment("env-a", path), environment("env-b", path)},
		Deps{Services: serviceFactory, Executor: &recordingExecutor{}},
	)

	ctx, cancel := context.WithCancel(context.Background())

	done := make(chan error, 1)
	go func() {
		done <- coord.Run(ctx)
	}()

	// Let runners start
	time.Sleep(150 * time.Millisecond)

	cancel()

	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
	case <-time.After(1 * time.Second):
		t.Fatal("coordinator did not stop after context cancellation")
	}
}

func TestCoordinator_InvalidTargetRecordsError(t *testing.T) {
	env := environment("broken", writeCompose(t))
	env.Cluster.Credentials = []string{"DECKHAND_TEST_MISSING_CREDENTIAL"}

	coord := New(zerolog.Nop(), testConfig(),
		[]config.EnvironmentSpec{env},
		Deps{Services: serviceFactory, Executor: &recordingExecutor{}},
	)

	ctx, cancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
	defer cancel()

	if err := coord.Run(ctx); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if coord.Errors()["broken"] == nil {
		t.Fatalf("expected error to be recorded for broken environment")
	}
	if len(coord.GetRunners()) != 0 {
		t.Fatalf("expected no runners")
	}
}
