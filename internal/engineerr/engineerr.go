// Package engineerr defines the failure envelope returned by lifecycle operations.
//
// Every failure that leaves the lifecycle engine carries a Cause, telling operators whether the
// deployed workload (User) or the orchestration layer (Internal) is at fault, and a Scope naming
// the entity that failed.
package engineerr

import (
	"errors"
	"fmt"
	"strings"
)

// Cause classifies who can act on a failure.
type Cause int

const (
	// CauseInternal means the orchestration layer failed to reach a decision.
	CauseInternal Cause = iota
	// CauseUser means the deployed workload itself failed or never became healthy.
	CauseUser
)

func (c Cause) String() string {
	switch c {
	case CauseUser:
		return "user"
	default:
		return "internal"
	}
}

// EntityKind identifies the kind of entity an error is attributed to.
type EntityKind string

const (
	EntityEngine          EntityKind = "Engine"
	EntityExternalService EntityKind = "ExternalService"
	EntityApplication     EntityKind = "Application"
	EntityDatabase        EntityKind = "Database"
	EntityEnvironment     EntityKind = "Environment"
)

// Scope names the entity that failed.
type Scope struct {
	Kind EntityKind
	ID   string
	Name string
}

func (s Scope) String() string {
	if s.ID == "" && s.Name == "" {
		return string(s.Kind)
	}
	return fmt.Sprintf("%s(%s, %s)", s.Kind, s.ID, s.Name)
}

// EngineError is the typed failure returned by lifecycle operations. It is never mutated after
// construction; the With* helpers return copies.
type EngineError struct {
	Scope       Scope
	Cause       Cause
	Hint        string
	Message     string
	ExecutionID string
	Err         error
}

// User builds a user-caused error. The hint suggests concrete diagnostic steps.
func User(scope Scope, hint, message string) *EngineError {
	return &EngineError{Scope: scope, Cause: CauseUser, Hint: hint, Message: message}
}

// Internal builds an infrastructure-caused error wrapping err.
func Internal(scope Scope, message string, err error) *EngineError {
	return &EngineError{Scope: scope, Cause: CauseInternal, Message: message, Err: err}
}

// Error implements error.
func (e *EngineError) Error() string {
	var b strings.Builder
	b.WriteString(e.Message)
	if e.Err != nil {
		b.WriteString(": ")
		b.WriteString(e.Err.Error())
	}
	if e.Hint != "" {
		b.WriteString(" (")
		b.WriteString(e.Hint)
		b.WriteString(")")
	}
	return b.String()
}

// Unwrap returns the underlying tool or precondition error, if any.
func (e *EngineError) Unwrap() error {
	return e.Err
}

// WithCause returns a copy of e wrapping err.
func (e *EngineError) WithCause(err error) *EngineError {
	clone := *e
	clone.Err = err
	return &clone
}

// WithExecutionID returns a copy of e tagged with the execution that produced it.
func (e *EngineError) WithExecutionID(id string) *EngineError {
	clone := *e
	clone.ExecutionID = id
	return &clone
}

// As extracts the first EngineError in err's chain.
func As(err error) (*EngineError, bool) {
	var engineErr *EngineError
	if errors.As(err, &engineErr) {
		return engineErr, true
	}
	return nil, false
}

// CauseOf reports the cause of err. Untyped errors are reported as internal with ok=false.
func CauseOf(err error) (Cause, bool) {
	engineErr, ok := As(err)
	if !ok {
		return CauseInternal, false
	}
	return engineErr.Cause, true
}
