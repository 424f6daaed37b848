package unit

import (
	"errors"
	"fmt"
	"regexp"

	"github.com/g960059/brigadeboard/internal/gateway"
)

var (
	ErrUnitBusy  = errors.New("unit is already assigned to an incident")
	ErrNotAdmin  = errors.New("operation requires an administrator")
	ErrCancelled = errors.New("cancelled by operator")
)

// ValidationError is a client-side precondition failure. It never reaches
// the network.
type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	if e == nil {
		return ""
	}
	if e.Field == "" {
		return "validation: " + e.Message
	}
	return fmt.Sprintf("validation: %s: %s", e.Field, e.Message)
}

func invalid(field, format string, args ...any) error {
	return &ValidationError{Field: field, Message: fmt.Sprintf(format, args...)}
}

// PartialFailureError reports a multi-step flow that stopped after an
// earlier step already changed backend state. Nothing is rolled back.
type PartialFailureError struct {
	IncidentID int64
	Step       string
	Completed  []string
	Err        error
}

func (e *PartialFailureError) Error() string {
	if e == nil {
		return ""
	}
	return fmt.Sprintf("incident %d created but %s failed: %v", e.IncidentID, e.Step, e.Err)
}

func (e *PartialFailureError) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.Err
}

var blockingPrecondition = regexp.MustCompile(`(?i)required|disposition|hold|reason|last unit`)

// isBlockingPrecondition reports whether err is a backend rejection that
// asks the operator for more input rather than refusing outright.
func isBlockingPrecondition(err error) (*gateway.RejectedError, bool) {
	rej, ok := gateway.IsRejected(err)
	if !ok {
		return nil, false
	}
	return rej, blockingPrecondition.MatchString(rej.Message)
}

// IsUserFacing reports whether err should be shown to the operator as-is
// rather than logged as an internal failure.
func IsUserFacing(err error) bool {
	if _, ok := gateway.IsRejected(err); ok {
		return true
	}
	var verr *ValidationError
	var perr *PartialFailureError
	return errors.As(err, &verr) || errors.As(err, &perr) ||
		errors.Is(err, ErrUnitBusy) || errors.Is(err, ErrNotAdmin) ||
		errors.Is(err, ErrCancelled) || errors.Is(err, ErrIllegalTransition)
}
