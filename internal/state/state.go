package state

import (
	"context"
	"time"

	"github.com/nholik/deckhand/internal/service"
)

// ReleaseStatus is the last known state of a release.
type ReleaseStatus string

const (
	StatusDeployed ReleaseStatus = "deployed"
	StatusPaused   ReleaseStatus = "paused"
	StatusDeleted  ReleaseStatus = "deleted"
	StatusFailed   ReleaseStatus = "failed"
)

// StatusFor maps the outcome of an action to the status it leaves the release in.
func StatusFor(action service.Action, err error) ReleaseStatus {
	if err != nil {
		return StatusFailed
	}
	switch action {
	case service.ActionPause:
		return StatusPaused
	case service.ActionDelete:
		return StatusDeleted
	default:
		return StatusDeployed
	}
}

// ReleaseRecord is the persisted outcome of the last operation on a release.
type ReleaseRecord struct {
	ServiceID          string         `json:"service_id"`
	Name               string         `json:"name"`
	Kind               service.Kind   `json:"kind"`
	Release            string         `json:"release"`
	Version            string         `json:"version"`
	Image              string         `json:"image,omitempty"`
	DefinitionHash     string         `json:"definition_hash,omitempty"`
	Action             service.Action `json:"action"`
	Status             ReleaseStatus  `json:"status"`
	Error              string         `json:"error,omitempty"`
	ExecutionID        string         `json:"execution_id,omitempty"`
	UpdatedAt          time.Time      `json:"updated_at"`
	LastNotifiedStatus ReleaseStatus  `json:"last_notified_status,omitempty"`
}

// Active reports whether the release is expected to exist on the cluster.
func (r ReleaseRecord) Active() bool {
	return r.Status == StatusDeployed || r.Status == StatusFailed
}

// Definition rebuilds enough of a service definition to pause or delete the recorded release.
func (r ReleaseRecord) Definition() service.Definition {
	image := r.Image
	if image == "" {
		image = r.Name
	}
	return service.Definition{
		ID:    r.ServiceID,
		Name:  r.Name,
		Kind:  r.Kind,
		Image: service.Image{Name: image, CommitID: r.Version},
	}
}

// EnvironmentSnapshot captures the releases of one environment.
type EnvironmentSnapshot struct {
	SourceFingerprint string                   `json:"source_fingerprint,omitempty"`
	Releases          map[string]ReleaseRecord `json:"releases"`
	UpdatedAt         time.Time                `json:"updated_at"`
}

// Clone returns a deep copy of the snapshot.
func (s EnvironmentSnapshot) Clone() EnvironmentSnapshot {
	out := s
	out.Releases = make(map[string]ReleaseRecord, len(s.Releases))
	for name, rec := range s.Releases {
		out.Releases[name] = rec
	}
	return out
}

// State stores snapshots for all environments.
type State struct {
	Version      int                            `json:"version"`
	Environments map[string]EnvironmentSnapshot `json:"environments"`
}

// Environment returns the snapshot of name, or an empty one.
func (s State) Environment(name string) EnvironmentSnapshot {
	snapshot, ok := s.Environments[name]
	if !ok || snapshot.Releases == nil {
		snapshot.Releases = map[string]ReleaseRecord{}
	}
	return snapshot
}

// Put replaces the snapshot of name.
func (s *State) Put(name string, snapshot EnvironmentSnapshot) {
	if s.Environments == nil {
		s.Environments = map[string]EnvironmentSnapshot{}
	}
	s.Environments[name] = snapshot
}

// Store defines the interface for persisting state.
type Store interface {
	Load(ctx context.Context) (State, error)
	Save(ctx context.Context, state State) error
}
