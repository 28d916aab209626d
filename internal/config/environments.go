package config

import (
	"fmt"
	"net/url"
	"os"
	"strings"
	"time"

	"github.com/nholik/deckhand/internal/cloud"
	"github.com/nholik/deckhand/internal/target"
	"gopkg.in/yaml.v3"
)

// ClusterSpec describes the cluster an environment deploys onto.
type ClusterSpec struct {
	ID           string   `yaml:"id"`
	Name         string   `yaml:"name"`
	Provider     string   `yaml:"provider"`
	Region       string   `yaml:"region"`
	Kubeconfig   string   `yaml:"kubeconfig"`
	StorageClass string   `yaml:"storage_class,omitempty"`
	Credentials  []string `yaml:"credentials,omitempty"`
}

// EnvironmentSpec is one entry of the environments file.
type EnvironmentSpec struct {
	Name           string        `yaml:"name"`
	ID             string        `yaml:"id"`
	ProjectID      string        `yaml:"project_id"`
	OwnerID        string        `yaml:"owner_id"`
	OrganizationID string        `yaml:"organization_id"`
	Namespace      string        `yaml:"namespace,omitempty"`
	Mode           string        `yaml:"target,omitempty"`
	ComposeURL     string        `yaml:"compose_url,omitempty"`
	Timeout        time.Duration `yaml:"timeout,omitempty"`
	Cluster        ClusterSpec   `yaml:"cluster"`
}

// EnvironmentsFile is the parsed YAML structure of the environments file:
// environments: [{name, id, namespace, target, compose_url, timeout, cluster}]
type EnvironmentsFile struct {
	Environments []EnvironmentSpec `yaml:"environments"`
}

// LoadEnvironmentsFile parses and validates the environments file at path.
func LoadEnvironmentsFile(path string) ([]EnvironmentSpec, error) {
	if path == "" {
		return nil, fmt.Errorf("environments file path is empty")
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read environments file: %w", err)
	}

	var file EnvironmentsFile
	if err := yaml.Unmarshal(data, &file); err != nil {
		return nil, fmt.Errorf("parse environments file: %w", err)
	}

	for i := range file.Environments {
		if file.Environments[i].Namespace == "" {
			file.Environments[i].Namespace = file.Environments[i].Name
		}
	}

	if err := validateEnvironments(file.Environments); err != nil {
		return nil, err
	}

	return file.Environments, nil
}

// FindEnvironment returns the environment called name.
func FindEnvironment(envs []EnvironmentSpec, name string) (EnvironmentSpec, error) {
	for _, env := range envs {
		if env.Name == name {
			return env, nil
		}
	}
	return EnvironmentSpec{}, fmt.Errorf("environment %q is not defined", name)
}

// Target builds the deployment target of the environment. Credential values are read from the
// process environment.
func (e EnvironmentSpec) Target() (target.Target, error) {
	mode, err := target.ParseMode(e.Mode)
	if err != nil {
		return nil, fmt.Errorf("environment %q: %w", e.Name, err)
	}
	provider, err := cloud.ParseProvider(e.Cluster.Provider)
	if err != nil {
		return nil, fmt.Errorf("environment %q: %w", e.Name, err)
	}
	creds, err := cloud.CredentialsFromEnv(e.Cluster.Credentials)
	if err != nil {
		return nil, fmt.Errorf("environment %q: %w", e.Name, err)
	}

	cluster := target.StaticCluster{
		ClusterID:      e.Cluster.ID,
		ClusterName:    e.Cluster.Name,
		CloudProvider:  provider,
		ClusterRegion:  e.Cluster.Region,
		Storage:        e.Cluster.StorageClass,
		KubeconfigPath: e.Cluster.Kubeconfig,
		Credentials:    creds,
	}
	env := target.Environment{
		ID:             e.ID,
		Name:           e.Name,
		ProjectID:      e.ProjectID,
		OwnerID:        e.OwnerID,
		OrganizationID: e.OrganizationID,
		Namespace:      e.Namespace,
	}
	return target.New(mode, cluster, env), nil
}

// validateEnvironments ensures all environments are valid.
func validateEnvironments(envs []EnvironmentSpec) error {
	if len(envs) == 0 {
		return fmt.Errorf("environments file contains no environments")
	}

	seen := make(map[string]bool)

	for i, e := range envs {
		if e.Name == "" {
			return fmt.Errorf("environment %d: name is required", i)
		}
		if seen[e.Name] {
			return fmt.Errorf("environment %q: duplicate name", e.Name)
		}
		seen[e.Name] = true

		if e.ID == "" {
			return fmt.Errorf("environment %q: id is required", e.Name)
		}
		if _, err := target.ParseMode(e.Mode); err != nil {
			return fmt.Errorf("environment %q: %w", e.Name, err)
		}
		if _, err := cloud.ParseProvider(e.Cluster.Provider); err != nil {
			return fmt.Errorf("environment %q: %w", e.Name, err)
		}
		if e.Cluster.Kubeconfig == "" {
			return fmt.Errorf("environment %q: cluster.kubeconfig is required", e.Name)
		}
		if e.ComposeURL != "" {
			if err := validateComposeSource(e.ComposeURL); err != nil {
				return fmt.Errorf("environment %q: %w", e.Name, err)
			}
		}
		if e.Timeout < 0 {
			return fmt.Errorf("environment %q: timeout cannot be negative", e.Name)
		}
	}

	return nil
}

// validateComposeSource accepts http(s) URLs, file:// URLs and plain paths.
func validateComposeSource(source string) error {
	if !strings.Contains(source, "://") {
		return nil
	}
	parsed, err := url.Parse(source)
	if err != nil {
		return fmt.Errorf("invalid compose_url: %w", err)
	}
	switch parsed.Scheme {
	case "file":
		return nil
	case "http", "https":
		return validateHTTPURL(source, "compose_url")
	default:
		return fmt.Errorf("invalid compose_url: unsupported scheme %q", parsed.Scheme)
	}
}
