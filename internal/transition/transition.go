package transition

import (
	"sort"

	"github.com/nholik/deckhand/internal/service"
	"github.com/nholik/deckhand/internal/state"
)

// VersionChange captures the version a release moved from and to.
type VersionChange struct {
	Previous string `json:"previous"`
	Current  string `json:"current"`
}

// ReleaseTransition captures a status or version change of one release.
type ReleaseTransition struct {
	Release        string              `json:"release"`
	Name           string              `json:"name"`
	Kind           service.Kind        `json:"kind"`
	PreviousStatus state.ReleaseStatus `json:"previous_status"`
	CurrentStatus  state.ReleaseStatus `json:"current_status"`
	Error          string              `json:"error,omitempty"`
	ExecutionID    string              `json:"execution_id,omitempty"`
	VersionChange  *VersionChange      `json:"version_change,omitempty"`
}

// DetectReleaseTransitions compares a previous snapshot with the current one and emits transitions.
func DetectReleaseTransitions(prev *state.EnvironmentSnapshot, current state.EnvironmentSnapshot) []ReleaseTransition {
	prevReleases := map[string]state.ReleaseRecord{}
	if prev != nil && prev.Releases != nil {
		prevReleases = prev.Releases
	}

	transitions := make([]ReleaseTransition, 0)
	for name, rec := range current.Releases {
		prevRec, hadPrev := prevReleases[name]
		prevStatus := prevRec.Status
		if prevRec.LastNotifiedStatus != "" {
			prevStatus = prevRec.LastNotifiedStatus
		}

		versionChange := buildVersionChange(prevRec, rec, hadPrev)
		if hadPrev && prevStatus == rec.Status && versionChange == nil {
			continue
		}
		// A release that never existed and is gone again is not news.
		if !hadPrev && rec.Status == state.StatusDeleted {
			continue
		}

		transitions = append(transitions, ReleaseTransition{
			Release:        name,
			Name:           rec.Name,
			Kind:           rec.Kind,
			PreviousStatus: prevStatus,
			CurrentStatus:  rec.Status,
			Error:          rec.Error,
			ExecutionID:    rec.ExecutionID,
			VersionChange:  versionChange,
		})
	}

	sort.Slice(transitions, func(i, j int) bool {
		return transitions[i].Release < transitions[j].Release
	})

	return transitions
}

func buildVersionChange(prev state.ReleaseRecord, current state.ReleaseRecord, hadPrev bool) *VersionChange {
	if !hadPrev || current.Status != state.StatusDeployed || prev.Version == current.Version {
		return nil
	}
	return &VersionChange{Previous: prev.Version, Current: current.Version}
}
