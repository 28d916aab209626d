package state

import "github.com/nholik/deckhand/internal/transaction"

// RecordResult stores the outcome of res in the snapshot and returns the new record. The image and
// definition hash of the previous record are kept when the caller passes none.
func (s *EnvironmentSnapshot) RecordResult(res transaction.Result, image, definitionHash string) ReleaseRecord {
	prev := s.Releases[res.Release]
	rec := ReleaseRecord{
		ServiceID:          res.ServiceID,
		Name:               res.ServiceName,
		Kind:               res.Kind,
		Release:            res.Release,
		Version:            res.Version,
		Image:              image,
		DefinitionHash:     definitionHash,
		Action:             res.Action,
		Status:             StatusFor(res.Action, res.Err),
		ExecutionID:        res.ExecutionID,
		UpdatedAt:          res.StartedAt.Add(res.Duration).UTC(),
		LastNotifiedStatus: prev.LastNotifiedStatus,
	}
	if rec.Image == "" {
		rec.Image = prev.Image
	}
	if rec.DefinitionHash == "" {
		rec.DefinitionHash = prev.DefinitionHash
	}
	if res.Err != nil {
		rec.Error = res.Err.Error()
	}

	if s.Releases == nil {
		s.Releases = map[string]ReleaseRecord{}
	}
	s.Releases[res.Release] = rec
	return rec
}

// Counts returns the number of releases per status.
func (s EnvironmentSnapshot) Counts() map[ReleaseStatus]int {
	counts := map[ReleaseStatus]int{
		StatusDeployed: 0,
		StatusPaused:   0,
		StatusDeleted:  0,
		StatusFailed:   0,
	}
	for _, rec := range s.Releases {
		counts[rec.Status]++
	}
	return counts
}
