// Package imagecheck verifies that service images exist in their registry before a deploy starts.
package imagecheck

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/distribution/reference"
	dockertypes "github.com/docker/docker/api/types"
	"github.com/docker/docker/api/types/registry"
	"github.com/docker/docker/client"
	"github.com/docker/docker/errdefs"
	"github.com/rs/zerolog"
)

const defaultAPITimeout = 10 * time.Second

// ErrImageNotFound is returned when the registry does not serve the image.
var ErrImageNotFound = errors.New("image not found in registry")

// dockerAPI is the subset of the Docker client the checker uses.
type dockerAPI interface {
	Ping(ctx context.Context) (dockertypes.Ping, error)
	DistributionInspect(ctx context.Context, image, encodedRegistryAuth string) (registry.DistributionInspect, error)
	Close() error
}

var _ dockerAPI = (*client.Client)(nil)

// Checker asks a Docker daemon to resolve image manifests from their registry.
type Checker struct {
	api     dockerAPI
	timeout time.Duration
	logger  zerolog.Logger
}

// New initializes a Checker for the given Docker API host. An empty host uses the environment.
func New(host string, timeout time.Duration, logger zerolog.Logger) (*Checker, error) {
	if timeout <= 0 {
		timeout = defaultAPITimeout
	}

	opts := []client.Opt{
		client.WithAPIVersionNegotiation(),
		client.WithTimeout(timeout),
	}
	if host != "" {
		opts = append(opts, client.WithHost(host))
	} else {
		opts = append(opts, client.FromEnv)
	}

	api, err := client.NewClientWithOpts(opts...)
	if err != nil {
		return nil, err
	}
	return &Checker{api: api, timeout: timeout, logger: logger}, nil
}

// Ping validates connectivity to the Docker daemon.
func (c *Checker) Ping(ctx context.Context) error {
	if c == nil || c.api == nil {
		return errors.New("docker client is not initialized")
	}
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	_, err := c.api.Ping(ctx)
	return err
}

// Check resolves ref in its registry. A reference the registry does not know, or refuses to
// serve, is reported as ErrImageNotFound.
func (c *Checker) Check(ctx context.Context, ref string) error {
	if c == nil || c.api == nil {
		return errors.New("docker client is not initialized")
	}
	named, err := reference.ParseNormalizedNamed(ref)
	if err != nil {
		return fmt.Errorf("parse image reference %q: %w", ref, err)
	}
	named = reference.TagNameOnly(named)

	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	inspect, err := c.api.DistributionInspect(ctx, named.String(), "")
	if err != nil {
		if isMissing(err) {
			return fmt.Errorf("%w: %s: %v", ErrImageNotFound, named.String(), err)
		}
		return fmt.Errorf("inspect %s: %w", named.String(), err)
	}
	c.logger.Debug().
		Str("image", named.String()).
		Str("digest", inspect.Descriptor.Digest.String()).
		Msg("image resolved")
	return nil
}

// Close releases the Docker client.
func (c *Checker) Close() error {
	if c == nil || c.api == nil {
		return nil
	}
	return c.api.Close()
}

func isMissing(err error) bool {
	if errdefs.IsNotFound(err) || errdefs.IsUnauthorized(err) {
		return true
	}
	msg := strings.ToLower(err.Error())
	return strings.Contains(msg, "manifest unknown") || strings.Contains(msg, "not found")
}
