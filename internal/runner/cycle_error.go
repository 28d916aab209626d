package runner

import "fmt"

// Stage names the reconcile step a cycle stopped at.
type Stage string

const (
	StageFetch       Stage = "fetch compose"
	StageFingerprint Stage = "fingerprint compose"
	StageLoadState   Stage = "load state"
	StageParse       Stage = "parse compose"
	StagePlan        Stage = "plan operations"
	StageApply       Stage = "apply releases"
	StageSaveState   Stage = "save state"
)

// CycleError reports the environment and stage where a reconcile cycle failed. The loop logs it
// and polls again on the next tick.
type CycleError struct {
	Environment string
	Stage       Stage
	Err         error
}

func (e *CycleError) Error() string {
	if e.Environment == "" {
		return fmt.Sprintf("%s: %v", e.Stage, e.Err)
	}
	return fmt.Sprintf("environment %s: %s: %v", e.Environment, e.Stage, e.Err)
}

func (e *CycleError) Unwrap() error {
	return e.Err
}

// Partial reports whether some releases may have been applied before the failure.
func (e *CycleError) Partial() bool {
	return e.Stage == StageApply || e.Stage == StageSaveState
}

func (r *Runner) fail(stage Stage, err error) error {
	if err == nil {
		return nil
	}
	return &CycleError{Environment: r.environment, Stage: stage, Err: err}
}
