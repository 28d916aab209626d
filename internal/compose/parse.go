package compose

import (
	"context"
	"errors"
	"fmt"
	"math"
	"sort"
	"strconv"
	"strings"

	"github.com/compose-spec/compose-go/v2/loader"
	"github.com/compose-spec/compose-go/v2/types"
	"github.com/distribution/reference"
	"github.com/nholik/deckhand/internal/service"
)

// Labels read from compose services.
const (
	LabelID     = "deckhand.id"
	LabelKind   = "deckhand.kind"
	LabelCommit = "deckhand.commit"
)

const (
	defaultServiceScale = 1
	defaultCPUs         = "500m"
	defaultRAMInMiB     = 512
	mebibyte            = 1 << 20
)

// ParseServices parses compose content into service definitions, sorted by name.
func ParseServices(ctx context.Context, body []byte) ([]service.Definition, error) {
	if len(body) == 0 {
		return nil, errors.New("compose body is empty")
	}

	details := types.ConfigDetails{
		WorkingDir: ".",
		ConfigFiles: []types.ConfigFile{
			{
				Filename: "compose.yml",
				Content:  body,
			},
		},
		Environment: types.Mapping{},
	}

	project, err := loader.LoadWithContext(ctx, details, func(opts *loader.Options) {
		opts.SetProjectName("deckhand", false)
	})
	if err != nil {
		return nil, fmt.Errorf("load compose: %w", err)
	}
	if len(project.Services) == 0 {
		return nil, errors.New("compose has no services")
	}

	defs := make([]service.Definition, 0, len(project.Services))
	seenIDs := make(map[string]string, len(project.Services))
	for name, svc := range project.Services {
		def, err := toDefinition(name, svc)
		if err != nil {
			return nil, err
		}
		if other, ok := seenIDs[def.ID]; ok {
			return nil, fmt.Errorf("services %q and %q share id %q", other, name, def.ID)
		}
		seenIDs[def.ID] = name
		defs = append(defs, def)
	}

	sort.Slice(defs, func(i, j int) bool {
		return defs[i].Name < defs[j].Name
	})
	return defs, nil
}

func toDefinition(name string, svc types.ServiceConfig) (service.Definition, error) {
	if svc.Image == "" {
		return service.Definition{}, fmt.Errorf("service %q missing image", name)
	}

	kind, err := service.ParseKind(svc.Labels[LabelKind])
	if err != nil {
		return service.Definition{}, fmt.Errorf("service %q: %w", name, err)
	}

	image, err := parseImage(svc.Image)
	if err != nil {
		return service.Definition{}, fmt.Errorf("service %q: %w", name, err)
	}
	image.CommitID = svc.Labels[LabelCommit]
	if image.CommitID == "" {
		image.CommitID = image.Tag
	}

	port, err := privatePort(svc)
	if err != nil {
		return service.Definition{}, fmt.Errorf("service %q: %w", name, err)
	}

	id := strings.TrimSpace(svc.Labels[LabelID])
	if id == "" {
		id = name
	}

	cpus, ramMiB := resources(svc)
	def := service.Definition{
		ID:                   id,
		Name:                 name,
		Kind:                 kind,
		TotalCPUs:            cpus,
		TotalRAMInMiB:        ramMiB,
		TotalInstances:       replicas(svc),
		PrivatePort:          port,
		Image:                image,
		EnvironmentVariables: environment(svc.Environment),
	}
	if err := def.Validate(); err != nil {
		return service.Definition{}, err
	}
	return def, nil
}

// parseImage splits a compose image reference. Images on Docker Hub keep only their familiar name
// so the deploy context falls back to the default registry; anything else carries the full reference.
func parseImage(raw string) (service.Image, error) {
	named, err := reference.ParseNormalizedNamed(raw)
	if err != nil {
		return service.Image{}, fmt.Errorf("parse image %q: %w", raw, err)
	}
	tagged := reference.TagNameOnly(named)

	image := service.Image{Name: reference.FamiliarName(named), Tag: "latest"}
	if t, ok := tagged.(reference.Tagged); ok {
		image.Tag = t.Tag()
	}
	if reference.Domain(named) != "docker.io" {
		image.RegistryURL = tagged.String()
	}
	return image, nil
}

func resources(svc types.ServiceConfig) (string, uint32) {
	cpus := float64(svc.CPUS)
	memory := int64(svc.MemLimit)
	if svc.Deploy != nil && svc.Deploy.Resources.Limits != nil {
		limits := svc.Deploy.Resources.Limits
		if limits.NanoCPUs > 0 {
			cpus = float64(limits.NanoCPUs)
		}
		if limits.MemoryBytes > 0 {
			memory = int64(limits.MemoryBytes)
		}
	}

	cpuValue := defaultCPUs
	if cpus > 0 {
		cpuValue = strconv.Itoa(int(math.Round(cpus*1000))) + "m"
	}
	ramMiB := uint32(defaultRAMInMiB)
	if memory > 0 {
		ramMiB = uint32((memory + mebibyte - 1) / mebibyte)
	}
	return cpuValue, ramMiB
}

func replicas(svc types.ServiceConfig) uint16 {
	count := defaultServiceScale
	if svc.Deploy != nil && svc.Deploy.Replicas != nil {
		count = *svc.Deploy.Replicas
	} else if svc.Scale != nil {
		count = *svc.Scale
	}
	if count < 1 {
		count = 1
	}
	if count > math.MaxUint16 {
		count = math.MaxUint16
	}
	return uint16(count)
}

func privatePort(svc types.ServiceConfig) (*uint16, error) {
	var raw string
	switch {
	case len(svc.Ports) > 0:
		raw = strconv.FormatUint(uint64(svc.Ports[0].Target), 10)
	case len(svc.Expose) > 0:
		raw = strings.SplitN(svc.Expose[0], "/", 2)[0]
	default:
		return nil, nil
	}
	value, err := strconv.ParseUint(raw, 10, 16)
	if err != nil || value == 0 {
		return nil, fmt.Errorf("invalid port %q", raw)
	}
	port := uint16(value)
	return &port, nil
}

// environment keeps the variables that carry a value, ordered by key.
func environment(mapping types.MappingWithEquals) []service.EnvironmentVariable {
	keys := make([]string, 0, len(mapping))
	for key, value := range mapping {
		if value != nil {
			keys = append(keys, key)
		}
	}
	sort.Strings(keys)

	vars := make([]service.EnvironmentVariable, 0, len(keys))
	for _, key := range keys {
		vars = append(vars, service.EnvironmentVariable{Key: key, Value: *mapping[key]})
	}
	return vars
}
