package payroll

import (
	"errors"
	"fmt"
)

var (
	ErrRunNotFound            = errors.New("payroll run not found")
	ErrPayslipNotFound        = errors.New("payslip not found")
	ErrConcurrentModification = errors.New("payroll run was modified concurrently")
	ErrUnauthorized           = errors.New("actor role does not permit this action")
)

// InvalidTransitionError names the state/event/role combination that was
// rejected. Status is never mutated when this is returned.
type InvalidTransitionError struct {
	RunID  string
	Status string
	Event  string
	Role   string
}

func (e *InvalidTransitionError) Error() string {
	return fmt.Sprintf("invalid transition: run %s in status %q does not accept %q for role %q", e.RunID, e.Status, e.Event, e.Role)
}

// PreconditionError reports a gate that blocked an otherwise legal transition,
// such as outstanding anomalies at publish or approval time.
type PreconditionError struct {
	RunID      string
	Event      string
	EmployeeID string
	Reason     string
}

func (e *PreconditionError) Error() string {
	if e.EmployeeID != "" {
		return fmt.Sprintf("precondition not met for %q on run %s (employee %s): %s", e.Event, e.RunID, e.EmployeeID, e.Reason)
	}
	return fmt.Sprintf("precondition not met for %q on run %s: %s", e.Event, e.RunID, e.Reason)
}

// InvalidJustificationError rejects a justification or rejection reason below
// the minimum length.
type InvalidJustificationError struct {
	EmployeeID string
	Length     int
	Minimum    int
}

func (e *InvalidJustificationError) Error() string {
	if e.EmployeeID != "" {
		return fmt.Sprintf("justification for employee %s is %d characters, minimum is %d", e.EmployeeID, e.Length, e.Minimum)
	}
	return fmt.Sprintf("justification is %d characters, minimum is %d", e.Length, e.Minimum)
}

// IncompatibleActionError rejects a resolution action that cannot address the
// employee's anomaly set, e.g. a payment-method override on negative net pay.
type IncompatibleActionError struct {
	EmployeeID  string
	Action      string
	AnomalyType string
}

func (e *IncompatibleActionError) Error() string {
	return fmt.Sprintf("action %q is not allowed for employee %s while anomaly %q is present", e.Action, e.EmployeeID, e.AnomalyType)
}

// ValidationError is a caller error on the request itself.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid %s: %s", e.Field, e.Reason)
}

// UpstreamError wraps a calculation, persistence or distribution failure.
// Upstream failures are retryable; nothing was committed.
type UpstreamError struct {
	Op  string
	Err error
}

func (e *UpstreamError) Error() string {
	return fmt.Sprintf("%s failed: %v", e.Op, e.Err)
}

func (e *UpstreamError) Unwrap() error {
	return e.Err
}
