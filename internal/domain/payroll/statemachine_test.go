package payroll

import (
	"errors"
	"testing"

	"payrun/internal/domain/auth"
)

func testRun(status string) *Run {
	return &Run{
		ID:        "run-1",
		Period:    "2026-08",
		Entity:    "acme-nl",
		Status:    status,
		Version:   3,
		Employees: []RunRecord{cleanRecord()},
	}
}

func TestApplyHappyPath(t *testing.T) {
	steps := []struct {
		event string
		role  string
		want  string
	}{
		{EventCalculate, auth.RoleSpecialist, StatusCalculated},
		{EventPublish, auth.RoleSpecialist, StatusUnderReview},
		{EventManagerApprove, auth.RoleManager, StatusPendingFinanceApproval},
		{EventFinanceApprove, auth.RoleFinance, StatusApproved},
		{EventLock, auth.RoleManager, StatusLocked},
		{EventExecute, auth.RoleSpecialist, StatusPaid},
	}

	run := testRun(StatusDraft)
	for _, step := range steps {
		if err := Apply(run, TransitionRequest{Event: step.event, Role: step.role}); err != nil {
			t.Fatalf("%s as %s: %v", step.event, step.role, err)
		}
		if run.Status != step.want {
			t.Fatalf("after %s expected %s, got %s", step.event, step.want, run.Status)
		}
	}
}

func TestApplyRejectsUnknownCombination(t *testing.T) {
	cases := []struct {
		status string
		event  string
		role   string
	}{
		{StatusDraft, EventPublish, auth.RoleSpecialist},
		{StatusDraft, EventExecute, auth.RoleSpecialist},
		{StatusCalculated, EventLock, auth.RoleManager},
		{StatusUnderReview, EventFinanceApprove, auth.RoleFinance},
		{StatusLocked, EventManagerApprove, auth.RoleManager},
		{StatusPaid, EventUnfreeze, auth.RoleManager},
		{StatusPaid, EventCalculate, auth.RoleSpecialist},
		// right event, wrong role
		{StatusDraft, EventCalculate, auth.RoleManager},
		{StatusUnderReview, EventManagerApprove, auth.RoleSpecialist},
		{StatusApproved, EventLock, auth.RoleFinance},
		{StatusLocked, EventExecute, auth.RoleAdmin},
	}

	for _, tc := range cases {
		run := testRun(tc.status)
		err := Apply(run, TransitionRequest{Event: tc.event, Role: tc.role, Reason: "a sufficiently long justification"})
		var invalid *InvalidTransitionError
		if !errors.As(err, &invalid) {
			t.Fatalf("%s/%s/%s: expected InvalidTransitionError, got %v", tc.status, tc.event, tc.role, err)
		}
		if run.Status != tc.status {
			t.Fatalf("%s/%s: status mutated to %s on rejected transition", tc.status, tc.event, run.Status)
		}
		if invalid.Status != tc.status || invalid.Event != tc.event || invalid.Role != tc.role {
			t.Fatalf("error must name state/event/role, got %+v", invalid)
		}
	}
}

func TestApplyCalculateRequiresEmployees(t *testing.T) {
	run := testRun(StatusDraft)
	run.Employees = nil

	err := Apply(run, TransitionRequest{Event: EventCalculate, Role: auth.RoleSpecialist})
	var precondition *PreconditionError
	if !errors.As(err, &precondition) {
		t.Fatalf("expected PreconditionError, got %v", err)
	}
	if run.Status != StatusDraft {
		t.Fatalf("status mutated on failed precondition: %s", run.Status)
	}
}

func TestApplyPublishBlockedByCriticalAnomaly(t *testing.T) {
	run := testRun(StatusCalculated)
	run.Employees[0].NetPay = -50

	err := Apply(run, TransitionRequest{Event: EventPublish, Role: auth.RoleSpecialist})
	var precondition *PreconditionError
	if !errors.As(err, &precondition) {
		t.Fatalf("expected PreconditionError, got %v", err)
	}
	if precondition.EmployeeID != "emp-1" {
		t.Fatalf("error must name offending employee, got %+v", precondition)
	}
	if run.Status != StatusCalculated {
		t.Fatalf("status mutated: %s", run.Status)
	}
}

func TestApplyPublishAllowsWarnings(t *testing.T) {
	run := testRun(StatusCalculated)
	run.Employees[0].TaxLines = nil // warning only

	if err := Apply(run, TransitionRequest{Event: EventPublish, Role: auth.RoleSpecialist}); err != nil {
		t.Fatalf("warnings must not block publish: %v", err)
	}
	if run.Status != StatusUnderReview {
		t.Fatalf("expected under_review, got %s", run.Status)
	}
}

func TestApplyManagerApproveBlockedByWarning(t *testing.T) {
	run := testRun(StatusUnderReview)
	run.Employees[0].TaxLines = nil

	err := Apply(run, TransitionRequest{Event: EventManagerApprove, Role: auth.RoleManager})
	var precondition *PreconditionError
	if !errors.As(err, &precondition) {
		t.Fatalf("expected PreconditionError, got %v", err)
	}
	if run.Status != StatusUnderReview {
		t.Fatalf("status mutated: %s", run.Status)
	}
}

func TestApplyRejectionReasonBoundary(t *testing.T) {
	run := testRun(StatusUnderReview)

	err := Apply(run, TransitionRequest{Event: EventManagerReject, Role: auth.RoleManager, Reason: "too short"})
	var invalidReason *InvalidJustificationError
	if !errors.As(err, &invalidReason) {
		t.Fatalf("expected InvalidJustificationError, got %v", err)
	}
	if run.Status != StatusUnderReview {
		t.Fatalf("status mutated: %s", run.Status)
	}

	if err := Apply(run, TransitionRequest{Event: EventManagerReject, Role: auth.RoleManager, Reason: "1234567890"}); err != nil {
		t.Fatalf("10-character reason must pass: %v", err)
	}
	if run.Status != StatusDraft {
		t.Fatalf("expected draft after rejection, got %s", run.Status)
	}
}

func TestApplyFinanceRejectFromPendingApproval(t *testing.T) {
	run := testRun(StatusPendingFinanceApproval)
	if err := Apply(run, TransitionRequest{Event: EventFinanceReject, Role: auth.RoleFinance, Reason: "totals disagree with GL"}); err != nil {
		t.Fatalf("finance reject: %v", err)
	}
	if run.Status != StatusDraft {
		t.Fatalf("expected draft, got %s", run.Status)
	}
}

func TestApplyUnfreezeJustificationBoundary(t *testing.T) {
	run := testRun(StatusLocked)

	err := Apply(run, TransitionRequest{Event: EventUnfreeze, Role: auth.RoleManager, Reason: "1234567890123456789"})
	var invalidReason *InvalidJustificationError
	if !errors.As(err, &invalidReason) {
		t.Fatalf("19 characters must fail, got %v", err)
	}
	if invalidReason.Minimum != MinJustification {
		t.Fatalf("expected minimum %d, got %d", MinJustification, invalidReason.Minimum)
	}
	if run.Status != StatusLocked {
		t.Fatalf("status mutated: %s", run.Status)
	}

	if err := Apply(run, TransitionRequest{Event: EventUnfreeze, Role: auth.RoleManager, Reason: "12345678901234567890"}); err != nil {
		t.Fatalf("20 characters must pass: %v", err)
	}
	if run.Status != StatusUnderReview {
		t.Fatalf("expected under_review after unfreeze, got %s", run.Status)
	}
}

func TestCanApplyDoesNotMutate(t *testing.T) {
	run := testRun(StatusApproved)
	if !CanApply(run, TransitionRequest{Event: EventLock, Role: auth.RoleManager}) {
		t.Fatal("lock from approved must be legal")
	}
	if run.Status != StatusApproved {
		t.Fatalf("CanApply mutated status to %s", run.Status)
	}
	if CanApply(run, TransitionRequest{Event: EventExecute, Role: auth.RoleSpecialist}) {
		t.Fatal("execute from approved must be illegal")
	}
}
