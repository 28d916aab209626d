// Package target resolves where and how a service is deployed.
package target

import (
	"context"
	"errors"
	"fmt"
	"os"

	"github.com/nholik/deckhand/internal/cloud"
)

// Mode is the deployment strategy derived from a target.
type Mode string

const (
	ModeManaged    Mode = "managed"
	ModeSelfHosted Mode = "self-hosted"
)

// ParseMode converts text into a Mode.
func ParseMode(value string) (Mode, error) {
	switch Mode(value) {
	case ModeManaged, "":
		return ModeManaged, nil
	case ModeSelfHosted:
		return ModeSelfHosted, nil
	default:
		return "", fmt.Errorf("unknown deployment target %q", value)
	}
}

// Cluster is the Kubernetes cluster a service is deployed onto.
type Cluster interface {
	ID() string
	Name() string
	Provider() cloud.Provider
	Region() string
	StorageClass() string
	// ConfigFilePath returns a kubeconfig path usable by the chart manager and cluster client.
	ConfigFilePath(ctx context.Context) (string, error)
	CredentialsEnvironmentVariables() cloud.Credentials
}

// Environment is the logical environment services belong to.
type Environment struct {
	ID             string
	Name           string
	ProjectID      string
	OwnerID        string
	OrganizationID string
	Namespace      string
}

// Target is a deployment target. The set of implementations is closed: ManagedServices and SelfHosted.
type Target interface {
	target()
}

// ManagedServices deploys onto infrastructure operated by the platform.
type ManagedServices struct {
	Cluster     Cluster
	Environment Environment
}

func (ManagedServices) target() {}

// SelfHosted deploys onto infrastructure operated by the environment owner.
type SelfHosted struct {
	Cluster     Cluster
	Environment Environment
}

func (SelfHosted) target() {}

// New builds the target variant for mode.
func New(mode Mode, cluster Cluster, env Environment) Target {
	if mode == ModeSelfHosted {
		return SelfHosted{Cluster: cluster, Environment: env}
	}
	return ManagedServices{Cluster: cluster, Environment: env}
}

// Resolution is the cluster and environment a target points at.
type Resolution struct {
	Cluster     Cluster
	Environment Environment
	Mode        Mode
}

// Resolve extracts the cluster and environment from t. It never fails for the two value variants;
// a nil target or a pointer to a variant is a programming error and panics.
func Resolve(t Target) Resolution {
	switch v := t.(type) {
	case ManagedServices:
		return Resolution{Cluster: v.Cluster, Environment: v.Environment, Mode: ModeManaged}
	case SelfHosted:
		return Resolution{Cluster: v.Cluster, Environment: v.Environment, Mode: ModeSelfHosted}
	default:
		panic(fmt.Sprintf("target: unsupported variant %T", t))
	}
}

// IsManaged reports whether the resolution uses the managed strategy.
func (r Resolution) IsManaged() bool {
	return r.Mode == ModeManaged
}

// StorageClass returns the storage class charts should use. Managed targets fall back to the
// provider default; self-hosted targets use the cluster value verbatim.
func (r Resolution) StorageClass() string {
	if r.Cluster == nil {
		return ""
	}
	configured := r.Cluster.StorageClass()
	if r.IsManaged() && configured == "" {
		return r.Cluster.Provider().DefaultStorageClass()
	}
	return configured
}

// StaticCluster is a Cluster described entirely by configuration.
type StaticCluster struct {
	ClusterID      string
	ClusterName    string
	CloudProvider  cloud.Provider
	ClusterRegion  string
	Storage        string
	KubeconfigPath string
	Credentials    cloud.Credentials
}

// ID implements Cluster.
func (c StaticCluster) ID() string { return c.ClusterID }

// Name implements Cluster.
func (c StaticCluster) Name() string { return c.ClusterName }

// Provider implements Cluster.
func (c StaticCluster) Provider() cloud.Provider { return c.CloudProvider }

// Region implements Cluster.
func (c StaticCluster) Region() string { return c.ClusterRegion }

// StorageClass implements Cluster.
func (c StaticCluster) StorageClass() string { return c.Storage }

// CredentialsEnvironmentVariables implements Cluster.
func (c StaticCluster) CredentialsEnvironmentVariables() cloud.Credentials { return c.Credentials }

// ConfigFilePath returns the configured kubeconfig after checking it exists.
func (c StaticCluster) ConfigFilePath(ctx context.Context) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	if c.KubeconfigPath == "" {
		return "", errors.New("kubeconfig path is not configured")
	}
	info, err := os.Stat(c.KubeconfigPath)
	if err != nil {
		return "", fmt.Errorf("stat kubeconfig: %w", err)
	}
	if info.IsDir() {
		return "", fmt.Errorf("kubeconfig %s is a directory", c.KubeconfigPath)
	}
	return c.KubeconfigPath, nil
}
