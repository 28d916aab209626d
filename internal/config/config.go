package config

import (
	"errors"
	"fmt"
	"net/url"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

const (
	envEnvironmentsFile         = "DECKHAND_ENVIRONMENTS_FILE"
	envLibRoot                  = "DECKHAND_LIB_ROOT"
	envWorkspaceRoot            = "DECKHAND_WORKSPACE_ROOT"
	envKeepWorkspaces           = "DECKHAND_KEEP_WORKSPACES"
	envHelmBinary               = "DECKHAND_HELM_BINARY"
	envKubectlBinary            = "DECKHAND_KUBECTL_BINARY"
	envClusterClient            = "DECKHAND_CLUSTER_CLIENT"
	envHelmTimeout              = "DECKHAND_HELM_TIMEOUT"
	envReadinessMaxAttempts     = "DECKHAND_READINESS_MAX_ATTEMPTS"
	envReadinessInitialInterval = "DECKHAND_READINESS_INITIAL_INTERVAL"
	envReadinessMaxInterval     = "DECKHAND_READINESS_MAX_INTERVAL"
	envConcurrency              = "DECKHAND_CONCURRENCY"
	envCleanupTimeout           = "DECKHAND_CLEANUP_TIMEOUT"
	envStatePath                = "DECKHAND_STATE_PATH"
	envPollInterval             = "DECKHAND_POLL_INTERVAL"
	envComposeTimeout           = "DECKHAND_COMPOSE_TIMEOUT"
	envSlackWebhookURL          = "DECKHAND_SLACK_WEBHOOK_URL"
	envWebhookURL               = "DECKHAND_WEBHOOK_URL"
	envWebhookTemplate          = "DECKHAND_WEBHOOK_TEMPLATE"
	envNotifyDryRun             = "DECKHAND_NOTIFY_DRY_RUN"
	envHealthPort               = "DECKHAND_HEALTH_PORT"
	envMetricsPort              = "DECKHAND_METRICS_PORT"
	envDockerHost               = "DECKHAND_DOCKER_HOST"
	envLogLevel                 = "DECKHAND_LOG_LEVEL"
)

// Cluster client implementations.
const (
	ClusterClientKubectl  = "kubectl"
	ClusterClientClientGo = "client-go"
)

const (
	defaultLibRoot                  = "./lib"
	defaultHelmBinary               = "helm"
	defaultKubectlBinary            = "kubectl"
	defaultHelmTimeout              = 600 * time.Second
	defaultReadinessMaxAttempts     = 10
	defaultReadinessInitialInterval = 2 * time.Second
	defaultReadinessMaxInterval     = 30 * time.Second
	defaultConcurrency              = 4
	defaultCleanupTimeout           = 5 * time.Minute
	defaultStatePath                = "./deckhand-state.json"
	defaultPollInterval             = 60 * time.Second
	defaultComposeTimeout           = 10 * time.Second
	defaultLogLevel                 = "info"
)

// Config describes runtime configuration loaded from the environment.
type Config struct {
	EnvironmentsFile string
	LibRoot          string
	WorkspaceRoot    string
	KeepWorkspaces   bool

	HelmBinary    string
	KubectlBinary string
	ClusterClient string
	HelmTimeout   time.Duration

	ReadinessMaxAttempts     int
	ReadinessInitialInterval time.Duration
	ReadinessMaxInterval     time.Duration

	Concurrency    int
	CleanupTimeout time.Duration
	StatePath      string
	PollInterval   time.Duration
	ComposeTimeout time.Duration

	SlackWebhookURL string
	WebhookURL      string
	WebhookTemplate string
	NotifyDryRun    bool

	HealthPort  int
	MetricsPort int
	DockerHost  string
	LogLevel    string
}

// Load reads configuration from environment variables and a local .env file if present.
// Existing environment variables take precedence over values in .env.
func Load() (Config, error) {
	if err := loadDotEnvIfPresent(".env"); err != nil {
		return Config{}, err
	}

	cfg := Config{
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

	stringVars := map[string]*string{
		envEnvironmentsFile: &cfg.EnvironmentsFile,
		envLibRoot:          &cfg.LibRoot,
		envWorkspaceRoot:    &cfg.WorkspaceRoot,
		envHelmBinary:       &cfg.HelmBinary,
		envKubectlBinary:    &cfg.KubectlBinary,
		envClusterClient:    &cfg.ClusterClient,
		envStatePath:        &cfg.StatePath,
		envSlackWebhookURL:  &cfg.SlackWebhookURL,
		envWebhookURL:       &cfg.WebhookURL,
		envWebhookTemplate:  &cfg.WebhookTemplate,
		envDockerHost:       &cfg.DockerHost,
		envLogLevel:         &cfg.LogLevel,
	}
	for key, target := range stringVars {
		if value, ok := lookupTrimmed(key); ok && value != "" {
			*target = value
		}
	}

	durationVars := map[string]*time.Duration{
		envHelmTimeout:              &cfg.HelmTimeout,
		envReadinessInitialInterval: &cfg.ReadinessInitialInterval,
		envReadinessMaxInterval:     &cfg.ReadinessMaxInterval,
		envCleanupTimeout:           &cfg.CleanupTimeout,
		envPollInterval:             &cfg.PollInterval,
		envComposeTimeout:           &cfg.ComposeTimeout,
	}
	for key, target := range durationVars {
		if err := parsePositiveDuration(key, target); err != nil {
			return Config{}, err
		}
	}

	intVars := map[string]*int{
		envReadinessMaxAttempts: &cfg.ReadinessMaxAttempts,
		envConcurrency:          &cfg.Concurrency,
	}
	for key, target := range intVars {
		if err := parsePositiveInt(key, target); err != nil {
			return Config{}, err
		}
	}

	for key, target := range map[string]*int{envHealthPort: &cfg.HealthPort, envMetricsPort: &cfg.MetricsPort} {
		if err := parsePort(key, target); err != nil {
			return Config{}, err
		}
	}

	for key, target := range map[string]*bool{envKeepWorkspaces: &cfg.KeepWorkspaces, envNotifyDryRun: &cfg.NotifyDryRun} {
		if err := parseBool(key, target); err != nil {
			return Config{}, err
		}
	}

	if cfg.EnvironmentsFile == "" {
		return Config{}, fmt.Errorf("%s is required", envEnvironmentsFile)
	}
	if cfg.ClusterClient != ClusterClientKubectl && cfg.ClusterClient != ClusterClientClientGo {
		return Config{}, fmt.Errorf("invalid %s: %q (expected %s or %s)", envClusterClient, cfg.ClusterClient, ClusterClientKubectl, ClusterClientClientGo)
	}
	if cfg.ReadinessMaxInterval < cfg.ReadinessInitialInterval {
		return Config{}, fmt.Errorf("%s must not be lower than %s", envReadinessMaxInterval, envReadinessInitialInterval)
	}
	if cfg.SlackWebhookURL != "" {
		if err := validateHTTPURL(cfg.SlackWebhookURL, envSlackWebhookURL); err != nil {
			return Config{}, err
		}
	}
	if cfg.WebhookURL != "" {
		if err := validateHTTPURL(cfg.WebhookURL, envWebhookURL); err != nil {
			return Config{}, err
		}
	}

	return cfg, nil
}

func lookupTrimmed(key string) (string, bool) {
	value, ok := os.LookupEnv(key)
	if !ok {
		return "", false
	}
	return strings.TrimSpace(value), true
}

func parsePositiveDuration(key string, target *time.Duration) error {
	value, ok := lookupTrimmed(key)
	if !ok || value == "" {
		return nil
	}
	parsed, err := time.ParseDuration(value)
	if err != nil {
		return fmt.Errorf("invalid %s: %w", key, err)
	}
	if parsed <= 0 {
		return fmt.Errorf("%s must be greater than zero", key)
	}
	*target = parsed
	return nil
}

func parsePositiveInt(key string, target *int) error {
	value, ok := lookupTrimmed(key)
	if !ok || value == "" {
		return nil
	}
	parsed, err := strconv.Atoi(value)
	if err != nil {
		return fmt.Errorf("invalid %s: %w", key, err)
	}
	if parsed <= 0 {
		return fmt.Errorf("%s must be greater than zero", key)
	}
	*target = parsed
	return nil
}

func parsePort(key string, target *int) error {
	value, ok := lookupTrimmed(key)
	if !ok || value == "" {
		return nil
	}
	parsed, err := strconv.Atoi(value)
	if err != nil {
		return fmt.Errorf("invalid %s: %w", key, err)
	}
	if parsed < 0 || parsed > 65535 {
		return fmt.Errorf("%s must be between 0 and 65535", key)
	}
	*target = parsed
	return nil
}

func parseBool(key string, target *bool) error {
	value, ok := lookupTrimmed(key)
	if !ok || value == "" {
		return nil
	}
	parsed, err := strconv.ParseBool(value)
	if err != nil {
		return fmt.Errorf("invalid %s: %w", key, err)
	}
	*target = parsed
	return nil
}

func loadDotEnvIfPresent(path string) error {
	err := godotenv.Load(path)
	if err == nil {
		return nil
	}

	var pathErr *os.PathError
	if errors.As(err, &pathErr) && errors.Is(pathErr.Err, os.ErrNotExist) {
		return nil
	}

	return err
}

func validateURL(value, name string) error {
	parsed, err := url.Parse(value)
	if err != nil {
		return fmt.Errorf("invalid %s: %w", name, err)
	}
	if parsed.Scheme == "" || parsed.Host == "" {
		return fmt.Errorf("invalid %s: must include scheme and host", name)
	}
	return nil
}

func validateHTTPURL(value, name string) error {
	if err := validateURL(value, name); err != nil {
		return err
	}
	parsed, _ := url.Parse(value)
	if parsed.Scheme != "http" && parsed.Scheme != "https" {
		return fmt.Errorf("invalid %s: scheme must be http or https", name)
	}
	return nil
}
