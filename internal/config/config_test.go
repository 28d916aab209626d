package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func defaultConfig(environmentsFile string) Config {
	return Config{
		EnvironmentsFile:         environmentsFile,
		LibRoot:                  defaultLibRoot,
		HelmBinary:               defaultHelmBinary,
		KubectlBinary:            defaultKubectlBinary,
		ClusterClient:            ClusterClientKubectl,
		HelmTimeout:              defaultHelmTimeout,
		ReadinessMaxAttempts:     defaultReadinessMaxAttempts,
		ReadinessInitialInterval: defaultReadinessInitialInterval,
		ReadinessMaxInterval:     defaultReadinessMaxInterval,
		Concurrency:              defaultConcurrency,
		CleanupTimeout:           defaultCleanupTimeout,
		StatePath:                defaultStatePath,
		PollInterval:             defaultPollInterval,
		ComposeTimeout:           defaultComposeTimeout,
		LogLevel:                 defaultLogLevel,
	}
}

func TestLoad_ValidationAndDefaults(t *testing.T) {
	custom := defaultConfig("envs.yaml")
	custom.ClusterClient = ClusterClientClientGo
	custom.HelmTimeout = 5 * time.Minute
	custom.Concurrency = 8
	custom.KeepWorkspaces = true
	custom.MetricsPort = 9090
	custom.SlackWebhookURL = "https://hooks.slack.com/services/T00/B00/XXX"

	cases := []struct {
		name    string
		env     map[string]string
		wantErr bool
		want    Config
	}{
		{
			name:    "missing environments file",
			env:     map[string]string{},
			wantErr: true,
		},
		{
			name: "defaults applied",
			env: map[string]string{
				envEnvironmentsFile: "envs.yaml",
			},
			want: defaultConfig("envs.yaml"),
		},
		{
			name: "invalid poll interval",
			env: map[string]string{
				envEnvironmentsFile: "envs.yaml",
				envPollInterval:     "nope",
			},
			wantErr: true,
		},
		{
			name: "zero helm timeout",
			env: map[string]string{
				envEnvironmentsFile: "envs.yaml",
				envHelmTimeout:      "0s",
			},
			wantErr: true,
		},
		{
			name: "negative cleanup timeout",
			env: map[string]string{
				envEnvironmentsFile: "envs.yaml",
				envCleanupTimeout:   "-5s",
			},
			wantErr: true,
		},
		{
			name: "zero readiness attempts",
			env: map[string]string{
				envEnvironmentsFile:     "envs.yaml",
				envReadinessMaxAttempts: "0",
			},
			wantErr: true,
		},
		{
			name: "max interval below initial interval",
			env: map[string]string{
				envEnvironmentsFile:         "envs.yaml",
				envReadinessInitialInterval: "10s",
				envReadinessMaxInterval:     "5s",
			},
			wantErr: true,
		},
		{
			name: "unknown cluster client",
			env: map[string]string{
				envEnvironmentsFile: "envs.yaml",
				envClusterClient:    "ssh",
			},
			wantErr: true,
		},
		{
			name: "port out of range",
			env: map[string]string{
				envEnvironmentsFile: "envs.yaml",
				envHealthPort:       "70000",
			},
			wantErr: true,
		},
		{
			name: "invalid boolean",
			env: map[string]string{
				envEnvironmentsFile: "envs.yaml",
				envKeepWorkspaces:   "maybe",
			},
			wantErr: true,
		},
		{
			name: "invalid slack webhook url",
			env: map[string]string{
				envEnvironmentsFile: "envs.yaml",
				envSlackWebhookURL:  "not-a-url",
			},
			wantErr: true,
		},
		{
			name: "invalid webhook scheme",
			env: map[string]string{
				envEnvironmentsFile: "envs.yaml",
				envWebhookURL:       "ftp://example.com/hook",
			},
			wantErr: true,
		},
		{
			name: "custom values",
			env: map[string]string{
				envEnvironmentsFile: "envs.yaml",
				envClusterClient:    ClusterClientClientGo,
				envHelmTimeout:      "5m",
				envConcurrency:      "8",
				envKeepWorkspaces:   "true",
				envMetricsPort:      "9090",
				envSlackWebhookURL:  "https://hooks.slack.com/services/T00/B00/XXX",
			},
			want: custom,
		},
	}

	for _, tc := range cases {
		tc := tc
		t.Run(tc.name, func(t *testing.T) {
			tmpDir := t.TempDir()
			restoreDir := mustChdir(t, tmpDir)
			defer restoreDir()

			for key, value := range tc.env {
				t.Setenv(key, value)
			}

			got, err := Load()
			if tc.wantErr {
				if err == nil {
					t.Fatalf("expected error")
				}
				return
			}
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}

			if got != tc.want {
				t.Fatalf("unexpected config: %+v", got)
			}
		})
	}
}

func TestLoad_DotEnvAndEnvOverride(t *testing.T) {
	tmpDir := t.TempDir()
	restoreDir := mustChdir(t, tmpDir)
	defer restoreDir()

	dotenv := []byte(`
# example .env
DECKHAND_ENVIRONMENTS_FILE=/etc/deckhand/from-dotenv.yaml
DECKHAND_SLACK_WEBHOOK_URL=https://hooks.slack.com/services/test
DECKHAND_HELM_BINARY=/opt/dotenv/helm
`)

	if err := os.WriteFile(filepath.Join(tmpDir, ".env"), dotenv, 0o600); err != nil {
		t.Fatalf("write .env: %v", err)
	}

	t.Cleanup(func() { _ = os.Unsetenv(envSlackWebhookURL) })
	t.Setenv(envEnvironmentsFile, "/etc/deckhand/from-env.yaml")
	t.Setenv(envHelmBinary, "/usr/local/bin/helm")

	got, err := Load()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if got.EnvironmentsFile != "/etc/deckhand/from-env.yaml" {
		t.Fatalf("environments file did not prefer env: %s", got.EnvironmentsFile)
	}
	if got.HelmBinary != "/usr/local/bin/helm" {
		t.Fatalf("helm binary did not prefer env: %s", got.HelmBinary)
	}
	if got.SlackWebhookURL != "https://hooks.slack.com/services/test" {
		t.Fatalf("slack webhook url not loaded from .env: %s", got.SlackWebhookURL)
	}
	if got.PollInterval != defaultPollInterval {
		t.Fatalf("unexpected poll interval: %s", got.PollInterval)
	}
}

func mustChdir(t *testing.T, dir string) func() {
	t.Helper()
	original, err := os.Getwd()
	if err != nil {
		t.Fatalf("getwd: %v", err)
	}
	if err := os.Chdir(dir); err != nil {
		t.Fatalf("chdir: %v", err)
	}
	return func() {
		if err := os.Chdir(original); err != nil {
			t.Fatalf("restore dir: %v", err)
		}
	}
}
