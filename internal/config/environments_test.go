package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/nholik/deckhand/internal/cloud"
	"github.com/nholik/deckhand/internal/target"
)

func writeEnvironments(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "environments.yaml")
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatalf("write yaml: %v", err)
	}
	return path
}

func TestLoadEnvironmentsFile_Valid(t *testing.T) {
	path := writeEnvironments(t, `environments:
  - name: staging
    id: env-1
    project_id: proj-1
    compose_url: https://example.com/staging/compose.yml
    timeout: 20s
    cluster:
      id: cluster-1
      provider: aws
      region: eu-west-3
      kubeconfig: /etc/deckhand/kubeconfig
  - name: onprem
    id: env-2
    namespace: customer-a
    target: self-hosted
    compose_url: ./compose.yml
    cluster:
      provider: on-premise
      kubeconfig: /etc/deckhand/onprem
`)

	envs, err := LoadEnvironmentsFile(path)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(envs) != 2 {
		t.Fatalf("expected 2 environments, got %d", len(envs))
	}
	if envs[0].Namespace != "staging" {
		t.Fatalf("expected namespace to default to the name, got %q", envs[0].Namespace)
	}
	if envs[0].Timeout != 20*time.Second {
		t.Fatalf("unexpected staging timeout: %s", envs[0].Timeout)
	}
	if envs[1].Namespace != "customer-a" {
		t.Fatalf("unexpected onprem namespace: %q", envs[1].Namespace)
	}
	if envs[1].Mode != string(target.ModeSelfHosted) {
		t.Fatalf("expected target key to set the mode, got %q", envs[1].Mode)
	}
	tgt, err := envs[1].Target()
	if err != nil {
		t.Fatalf("unexpected target error: %v", err)
	}
	if _, ok := tgt.(target.SelfHosted); !ok {
		t.Fatalf("expected self-hosted target, got %T", tgt)
	}

	found, err := FindEnvironment(envs, "onprem")
	if err != nil || found.ID != "env-2" {
		t.Fatalf("unexpected lookup result: %+v, %v", found, err)
	}
	if _, err := FindEnvironment(envs, "prod"); err == nil {
		t.Fatalf("expected error for unknown environment")
	}
}

func TestLoadEnvironmentsFile_Errors(t *testing.T) {
	cases := map[string]struct {
		content string
		want    string
	}{
		"invalid yaml": {content: "environments: [", want: "parse environments file"},
		"empty":        {content: "environments: []", want: "no environments"},
		"missing name": {
			content: "environments:\n  - id: env-1\n    cluster: {provider: aws, kubeconfig: /k}\n",
			want:    "name is required",
		},
		"duplicate": {
			content: "environments:\n  - {name: a, id: '1', cluster: {provider: aws, kubeconfig: /k}}\n  - {name: a, id: '2', cluster: {provider: aws, kubeconfig: /k}}\n",
			want:    `environment "a": duplicate name`,
		},
		"unknown target": {
			content: "environments:\n  - {name: a, id: '1', target: hybrid, cluster: {provider: aws, kubeconfig: /k}}\n",
			want:    "unknown deployment target",
		},
		"unknown provider": {
			content: "environments:\n  - {name: a, id: '1', cluster: {provider: azure, kubeconfig: /k}}\n",
			want:    "unknown cloud provider",
		},
		"missing kubeconfig": {
			content: "environments:\n  - {name: a, id: '1', cluster: {provider: aws}}\n",
			want:    "kubeconfig is required",
		},
		"invalid compose url": {
			content: "environments:\n  - {name: a, id: '1', compose_url: 'ht!tp://invalid', cluster: {provider: aws, kubeconfig: /k}}\n",
			want:    "compose_url",
		},
		"negative timeout": {
			content: "environments:\n  - {name: a, id: '1', timeout: -5s, cluster: {provider: aws, kubeconfig: /k}}\n",
			want:    "timeout cannot be negative",
		},
	}

	for name, tc := range cases {
		tc := tc
		t.Run(name, func(t *testing.T) {
			_, err := LoadEnvironmentsFile(writeEnvironments(t, tc.content))
			if err == nil || !strings.Contains(err.Error(), tc.want) {
				t.Fatalf("expected error containing %q, got %v", tc.want, err)
			}
		})
	}
}

func TestLoadEnvironmentsFile_FileNotFound(t *testing.T) {
	if _, err := LoadEnvironmentsFile("/nonexistent/path/environments.yaml"); err == nil {
		t.Fatal("expected error for missing file")
	}
	if _, err := LoadEnvironmentsFile(""); err == nil {
		t.Fatal("expected error for empty path")
	}
}

func TestEnvironmentSpec_Target(t *testing.T) {
	t.Setenv("DECKHAND_TEST_TOKEN", "secret")

	spec := EnvironmentSpec{
		Name:      "onprem",
		ID:        "env-2",
		Namespace: "customer-a",
		Mode:      string(target.ModeSelfHosted),
		Cluster: ClusterSpec{
			ID:          "cluster-9",
			Provider:    "scw",
			Kubeconfig:  "/etc/deckhand/onprem",
			Credentials: []string{"DECKHAND_TEST_TOKEN"},
		},
	}

	tgt, err := spec.Target()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if _, ok := tgt.(target.SelfHosted); !ok {
		t.Fatalf("expected self-hosted target, got %T", tgt)
	}

	res := target.Resolve(tgt)
	if res.Environment.Namespace != "customer-a" || res.Cluster.Provider() != cloud.ProviderScaleway {
		t.Fatalf("unexpected resolution: %+v", res)
	}
	if got := res.Cluster.CredentialsEnvironmentVariables().Map()["DECKHAND_TEST_TOKEN"]; got != "secret" {
		t.Fatalf("expected credential value from environment, got %q", got)
	}

	spec.Cluster.Credentials = []string{"DECKHAND_TEST_MISSING"}
	if _, err := spec.Target(); err == nil {
		t.Fatalf("expected error for missing credential")
	}
}
