// Package service holds the data model shared by every deployable service kind.
package service

import (
	"errors"
	"fmt"
	"strings"
)

// MaxReleaseNameLength bounds chart release names.
const MaxReleaseNameLength = 50

// Action is the lifecycle operation requested for a service.
type Action string

const (
	ActionCreate Action = "create"
	ActionPause  Action = "pause"
	ActionDelete Action = "delete"
)

// ParseAction converts text into an Action.
func ParseAction(value string) (Action, error) {
	switch Action(strings.ToLower(strings.TrimSpace(value))) {
	case ActionCreate:
		return ActionCreate, nil
	case ActionPause:
		return ActionPause, nil
	case ActionDelete:
		return ActionDelete, nil
	default:
		return "", fmt.Errorf("unknown action %q", value)
	}
}

// Kind identifies a service implementation.
type Kind string

const (
	KindExternalService Kind = "external-service"
	KindApplication     Kind = "application"
)

// ParseKind converts text into a Kind. Empty input defaults to an external service.
func ParseKind(value string) (Kind, error) {
	switch Kind(strings.ToLower(strings.TrimSpace(value))) {
	case "", KindExternalService:
		return KindExternalService, nil
	case KindApplication:
		return KindApplication, nil
	default:
		return "", fmt.Errorf("unknown service kind %q", value)
	}
}

// Image references the versioned artifact a service runs.
type Image struct {
	Name        string `json:"name"`
	Tag         string `json:"tag"`
	CommitID    string `json:"commit_id"`
	RegistryURL string `json:"registry_url,omitempty"`
}

// NameWithTag composes the local "name:tag" reference.
func (i Image) NameWithTag() string {
	return fmt.Sprintf("%s:%s", i.Name, i.Tag)
}

// Reference is the pullable reference of the image: the registry URL when set, else "name:tag".
func (i Image) Reference() string {
	if i.RegistryURL != "" {
		return i.RegistryURL
	}
	return i.NameWithTag()
}

// EnvironmentVariable is a single key/value pair injected into a workload.
type EnvironmentVariable struct {
	Key   string `json:"key"`
	Value string `json:"value"`
}

// ValidateEnvironment rejects empty or duplicate keys.
func ValidateEnvironment(vars []EnvironmentVariable) error {
	seen := make(map[string]struct{}, len(vars))
	for i, v := range vars {
		if strings.TrimSpace(v.Key) == "" {
			return fmt.Errorf("environment variable %d: key is required", i)
		}
		if _, ok := seen[v.Key]; ok {
			return fmt.Errorf("environment variable %q: duplicate key", v.Key)
		}
		seen[v.Key] = struct{}{}
	}
	return nil
}

// ReleaseName derives the chart release name for a service instance. The result is cut to
// MaxReleaseNameLength characters so it stays compatible with releases created earlier.
func ReleaseName(prefix, name, id string) string {
	return Cut(fmt.Sprintf("%s-%s-%s", prefix, name, id), MaxReleaseNameLength)
}

// Cut truncates s to at most n characters.
func Cut(s string, n int) string {
	if n <= 0 {
		return ""
	}
	runes := []rune(s)
	if len(runes) <= n {
		return s
	}
	return string(runes[:n])
}

// Definition is the declarative description of one service, as read from a compose source.
type Definition struct {
	ID                   string
	Name                 string
	Kind                 Kind
	TotalCPUs            string
	TotalRAMInMiB        uint32
	TotalInstances       uint16
	PrivatePort          *uint16
	Image                Image
	EnvironmentVariables []EnvironmentVariable
}

// Validate checks that a definition carries the identity every lifecycle operation needs.
func (d Definition) Validate() error {
	if strings.TrimSpace(d.ID) == "" {
		return errors.New("service id is required")
	}
	if strings.TrimSpace(d.Name) == "" {
		return fmt.Errorf("service %s: name is required", d.ID)
	}
	if d.Image.Name == "" && d.Image.RegistryURL == "" {
		return fmt.Errorf("service %q: image is required", d.Name)
	}
	return ValidateEnvironment(d.EnvironmentVariables)
}
