// Package deploycontext assembles the key/value context templates are rendered with.
package deploycontext

import (
	"errors"
	"fmt"
	"maps"

	"github.com/nholik/deckhand/internal/service"
	"github.com/nholik/deckhand/internal/target"
	"github.com/rs/zerolog"
)

// AppVersionLength is the number of commit characters used as the chart app version.
const AppVersionLength = 7

// ErrShortCommit is returned when a commit id is too short to derive an app version from.
var ErrShortCommit = errors.New("commit id is shorter than 7 characters")

// Context keys.
const (
	KeyClusterID            = "cluster_id"
	KeyClusterName          = "cluster_name"
	KeyCloudProvider        = "cloud_provider"
	KeyRegion               = "region"
	KeyNamespace            = "namespace"
	KeyEnvironmentID        = "environment_id"
	KeyProjectID            = "project_id"
	KeyOwnerID              = "owner_id"
	KeyOrganizationID       = "organization_id"
	KeyDeploymentMode       = "deployment_mode"
	KeyIsManagedServices    = "is_managed_services"
	KeyStorageClass         = "storage_class"
	KeyID                   = "id"
	KeyName                 = "name"
	KeyTotalCPUs            = "total_cpus"
	KeyTotalRAMInMiB        = "total_ram_in_mib"
	KeyTotalInstances       = "total_instances"
	KeyPrivatePort          = "private_port"
	KeyHelmReleaseName      = "helm_release_name"
	KeyHelmAppVersion       = "helm_app_version"
	KeyImageNameWithTag     = "image_name_with_tag"
	KeyEnvironmentVariables = "environment_variables"
)

// Context is the flat mapping handed to the render step.
type Context map[string]any

// String returns the value under key as a string, or "" when absent.
func (c Context) String(key string) string {
	v, ok := c[key]
	if !ok {
		return ""
	}
	if s, ok := v.(string); ok {
		return s
	}
	return fmt.Sprint(v)
}

// Defaults seeds a context with cluster and environment identity.
func Defaults(res target.Resolution) Context {
	ctx := Context{
		KeyNamespace:         res.Environment.Namespace,
		KeyEnvironmentID:     res.Environment.ID,
		KeyProjectID:         res.Environment.ProjectID,
		KeyOwnerID:           res.Environment.OwnerID,
		KeyOrganizationID:    res.Environment.OrganizationID,
		KeyDeploymentMode:    string(res.Mode),
		KeyIsManagedServices: res.IsManaged(),
		KeyStorageClass:      res.StorageClass(),
	}
	if res.Cluster != nil {
		ctx[KeyClusterID] = res.Cluster.ID()
		ctx[KeyClusterName] = res.Cluster.Name()
		ctx[KeyCloudProvider] = string(res.Cluster.Provider())
		ctx[KeyRegion] = res.Cluster.Region()
	}
	return ctx
}

// ServiceInfo is the identity and sizing a service contributes to its context.
type ServiceInfo struct {
	ID             string
	Name           string
	TotalCPUs      string
	TotalRAMInMiB  uint32
	TotalInstances uint16
	PrivatePort    *uint16
	ReleaseName    string
}

// Builder extends a default context with service-specific keys.
type Builder struct {
	ctx    Context
	logger zerolog.Logger
	err    error
}

// NewBuilder starts from the defaults for res.
func NewBuilder(res target.Resolution, logger zerolog.Logger) *Builder {
	return &Builder{ctx: Defaults(res), logger: logger}
}

// WithService adds service identity, sizing and release name.
func (b *Builder) WithService(info ServiceInfo) *Builder {
	b.ctx[KeyID] = info.ID
	b.ctx[KeyName] = info.Name
	b.ctx[KeyTotalCPUs] = info.TotalCPUs
	b.ctx[KeyTotalRAMInMiB] = info.TotalRAMInMiB
	b.ctx[KeyTotalInstances] = info.TotalInstances
	b.ctx[KeyHelmReleaseName] = info.ReleaseName
	if info.PrivatePort != nil {
		b.ctx[KeyPrivatePort] = *info.PrivatePort
	}
	return b
}

// WithVersion sets the chart app version from the first characters of commitID.
func (b *Builder) WithVersion(commitID string) *Builder {
	version, err := AppVersion(commitID)
	if err != nil {
		b.setErr(err)
		return b
	}
	b.ctx[KeyHelmAppVersion] = version
	return b
}

// WithImage sets the image reference. A missing registry URL falls back to "name:tag" on the
// default registry and is logged as a warning.
func (b *Builder) WithImage(image service.Image) *Builder {
	if image.RegistryURL != "" {
		b.ctx[KeyImageNameWithTag] = image.RegistryURL
		return b
	}
	ref := image.NameWithTag()
	b.logger.Warn().
		Str("image", ref).
		Msg("no registry url, using image name with tag on the default container registry")
	b.ctx[KeyImageNameWithTag] = ref
	return b
}

// WithEnvironmentVariables sets the ordered environment variable list.
func (b *Builder) WithEnvironmentVariables(vars []service.EnvironmentVariable) *Builder {
	b.ctx[KeyEnvironmentVariables] = append([]service.EnvironmentVariable{}, vars...)
	return b
}

// Build returns a copy of the assembled context, or the first error recorded by a With call.
func (b *Builder) Build() (Context, error) {
	if b.err != nil {
		return nil, b.err
	}
	return maps.Clone(b.ctx), nil
}

func (b *Builder) setErr(err error) {
	if b.err == nil {
		b.err = err
	}
}

// AppVersion returns the first AppVersionLength characters of commitID.
func AppVersion(commitID string) (string, error) {
	runes := []rune(commitID)
	if len(runes) < AppVersionLength {
		return "", fmt.Errorf("%w: %q", ErrShortCommit, commitID)
	}
	return string(runes[:AppVersionLength]), nil
}
