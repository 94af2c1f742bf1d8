package payroll

import (
	"strings"

	"payrun/internal/domain/auth"
)

// TransitionRequest carries one requested lifecycle event. Role must come
// from the identity store, never from caller input.
type TransitionRequest struct {
	Event  string
	Role   string
	Reason string
}

type transitionRule struct {
	to    string
	roles []string
	check func(run *Run, req TransitionRequest) error
}

// transitions is the single source of truth for the run lifecycle. Every
// mutating operation goes through Apply; status is never assigned directly.
var transitions = map[string]map[string]transitionRule{
	StatusDraft: {
		EventCalculate: {to: StatusCalculated, roles: []string{auth.RoleSpecialist}, check: checkEmployeesFetched},
	},
	StatusCalculated: {
		EventPublish:        {to: StatusUnderReview, roles: []string{auth.RoleSpecialist}, check: checkNoCriticalAnomalies},
		EventManagerApprove: {to: StatusPendingFinanceApproval, roles: []string{auth.RoleManager}, check: checkNoAnomalies},
	},
	StatusUnderReview: {
		EventPublish:        {to: StatusUnderReview, roles: []string{auth.RoleSpecialist}, check: checkNoCriticalAnomalies},
		EventManagerApprove: {to: StatusPendingFinanceApproval, roles: []string{auth.RoleManager}, check: checkNoAnomalies},
		EventManagerReject:  {to: StatusDraft, roles: []string{auth.RoleManager}, check: checkRejectionReason},
		EventFinanceReject:  {to: StatusDraft, roles: []string{auth.RoleFinance}, check: checkRejectionReason},
	},
	StatusPendingFinanceApproval: {
		EventFinanceApprove: {to: StatusApproved, roles: []string{auth.RoleFinance}},
		EventManagerReject:  {to: StatusDraft, roles: []string{auth.RoleManager}, check: checkRejectionReason},
		EventFinanceReject:  {to: StatusDraft, roles: []string{auth.RoleFinance}, check: checkRejectionReason},
	},
	StatusApproved: {
		EventLock: {to: StatusLocked, roles: []string{auth.RoleManager}},
	},
	StatusLocked: {
		EventUnfreeze: {to: StatusUnderReview, roles: []string{auth.RoleManager}, check: checkUnfreezeJustification},
		EventExecute:  {to: StatusPaid, roles: []string{auth.RoleSpecialist}},
	},
	// StatusPaid is terminal.
}

// Apply validates the requested transition against the run's current status
// and the actor's role, runs the precondition gate, and advances the status.
// On any error the run is left untouched.
func Apply(run *Run, req TransitionRequest) error {
	rule, ok := transitions[run.Status][req.Event]
	if !ok || !roleAllowed(rule.roles, req.Role) {
		return &InvalidTransitionError{RunID: run.ID, Status: run.Status, Event: req.Event, Role: req.Role}
	}
	if rule.check != nil {
		if err := rule.check(run, req); err != nil {
			return err
		}
	}
	run.Status = rule.to
	return nil
}

// CanApply reports whether a transition would be accepted, without mutating
// the run. Display surfaces use it to offer only legal actions.
func CanApply(run *Run, req TransitionRequest) bool {
	clone := *run
	return Apply(&clone, req) == nil
}

func roleAllowed(allowed []string, role string) bool {
	for _, candidate := range allowed {
		if candidate == role {
			return true
		}
	}
	return false
}

func checkEmployeesFetched(run *Run, req TransitionRequest) error {
	if len(run.Employees) == 0 {
		return &PreconditionError{RunID: run.ID, Event: req.Event, Reason: "no employee records fetched for this run"}
	}
	return nil
}

func checkNoCriticalAnomalies(run *Run, req TransitionRequest) error {
	for i := range run.Employees {
		for _, a := range Detect(run.Employees[i]) {
			if a.Severity == SeverityCritical {
				return &PreconditionError{
					RunID:      run.ID,
					Event:      req.Event,
					EmployeeID: run.Employees[i].EmployeeID,
					Reason:     "critical anomaly " + a.Type + " is unresolved",
				}
			}
		}
	}
	return nil
}

func checkNoAnomalies(run *Run, req TransitionRequest) error {
	for i := range run.Employees {
		if anomalies := Detect(run.Employees[i]); len(anomalies) > 0 {
			return &PreconditionError{
				RunID:      run.ID,
				Event:      req.Event,
				EmployeeID: run.Employees[i].EmployeeID,
				Reason:     "anomaly " + anomalies[0].Type + " is unresolved",
			}
		}
	}
	return nil
}

func checkRejectionReason(run *Run, req TransitionRequest) error {
	if len(strings.TrimSpace(req.Reason)) < MinRejectionReason {
		return &InvalidJustificationError{Length: len(strings.TrimSpace(req.Reason)), Minimum: MinRejectionReason}
	}
	return nil
}

func checkUnfreezeJustification(run *Run, req TransitionRequest) error {
	if len(strings.TrimSpace(req.Reason)) < MinJustification {
		return &InvalidJustificationError{Length: len(strings.TrimSpace(req.Reason)), Minimum: MinJustification}
	}
	return nil
}
