package payroll

import (
	"context"
	"errors"
	"testing"

	"payrun/internal/domain/auth"
)

type stubCalculator struct {
	records []RunRecord
	err     error
	calls   int
}

func (c *stubCalculator) ComputePayroll(ctx context.Context, runID string) ([]RunRecord, error) {
	c.calls++
	if c.err != nil {
		return nil, c.err
	}
	return c.records, nil
}

func reviewRun(records ...RunRecord) *Run {
	return &Run{
		ID:        "run-1",
		Period:    "2026-08",
		Entity:    "acme-nl",
		Status:    StatusUnderReview,
		Version:   2,
		Employees: records,
	}
}

const goodJustification = "employee confirmed details over the phone"

func TestResolveRequiresManagerRole(t *testing.T) {
	processor := NewProcessor(&stubCalculator{})
	run := reviewRun(cleanRecord())

	for _, role := range []string{auth.RoleSpecialist, auth.RoleFinance, auth.RoleAdmin} {
		_, err := processor.Resolve(context.Background(), run, []Resolution{
			{EmployeeID: "emp-1", Action: ActionDeferToNextRun, Justification: goodJustification},
		}, role)
		if !errors.Is(err, ErrUnauthorized) {
			t.Fatalf("%s: expected ErrUnauthorized, got %v", role, err)
		}
	}
}

func TestResolveJustificationBoundary(t *testing.T) {
	processor := NewProcessor(&stubCalculator{})
	run := reviewRun(cleanRecord())

	_, err := processor.Resolve(context.Background(), run, []Resolution{
		{EmployeeID: "emp-1", Action: ActionDeferToNextRun, Justification: "1234567890123456789"},
	}, auth.RoleManager)
	var invalid *InvalidJustificationError
	if !errors.As(err, &invalid) {
		t.Fatalf("19 characters must fail, got %v", err)
	}
	if invalid.EmployeeID != "emp-1" || invalid.Minimum != MinJustification {
		t.Fatalf("unexpected error detail: %+v", invalid)
	}

	outcome, err := processor.Resolve(context.Background(), run, []Resolution{
		{EmployeeID: "emp-1", Action: ActionDeferToNextRun, Justification: "12345678901234567890"},
	}, auth.RoleManager)
	if err != nil {
		t.Fatalf("20 characters must pass: %v", err)
	}
	if len(outcome.Applied) != 1 {
		t.Fatalf("expected one applied resolution, got %+v", outcome)
	}
}

func TestResolveValidatesWholeBatchBeforeApplying(t *testing.T) {
	processor := NewProcessor(&stubCalculator{})
	run := reviewRun(cleanRecord())

	_, err := processor.Resolve(context.Background(), run, []Resolution{
		{EmployeeID: "emp-1", Action: ActionDeferToNextRun, Justification: goodJustification},
		{EmployeeID: "emp-1", Action: ActionDeferToNextRun, Justification: "short"},
	}, auth.RoleManager)
	var invalid *InvalidJustificationError
	if !errors.As(err, &invalid) {
		t.Fatalf("expected InvalidJustificationError, got %v", err)
	}
	if run.Employees[0].Deferred {
		t.Fatal("no mutation may land when a later resolution fails validation")
	}
}

func TestResolveDefer(t *testing.T) {
	processor := NewProcessor(&stubCalculator{})
	record := cleanRecord()
	record.BankAccountNumber = ""
	run := reviewRun(record)

	outcome, err := processor.Resolve(context.Background(), run, []Resolution{
		{EmployeeID: "emp-1", Action: ActionDeferToNextRun, Justification: goodJustification},
	}, auth.RoleManager)
	if err != nil {
		t.Fatalf("defer: %v", err)
	}
	got := run.Record("emp-1")
	if !got.Deferred || got.ResolutionMarker != MarkerDeferred {
		t.Fatalf("record not marked deferred: %+v", got)
	}
	if len(got.Anomalies) != 0 {
		t.Fatalf("deferred record must carry no anomalies, got %+v", got.Anomalies)
	}
	if len(outcome.Applied) != 1 || outcome.Rejected || outcome.Recalculated {
		t.Fatalf("unexpected outcome: %+v", outcome)
	}
}

func TestResolveSnapshotsAnomaliesServerSide(t *testing.T) {
	processor := NewProcessor(&stubCalculator{})
	record := cleanRecord()
	record.BankAccountNumber = ""
	run := reviewRun(record)

	outcome, err := processor.Resolve(context.Background(), run, []Resolution{
		{
			EmployeeID:    "emp-1",
			Action:        ActionDeferToNextRun,
			Justification: goodJustification,
			Anomalies:     []Anomaly{{Type: "fabricated_by_caller", Severity: SeverityCritical}},
		},
	}, auth.RoleManager)
	if err != nil {
		t.Fatalf("defer: %v", err)
	}
	snapshot := outcome.Applied[0].Anomalies
	if len(snapshot) != 1 || snapshot[0].Type != AnomalyMissingBankInfo {
		t.Fatalf("audit snapshot must be recomputed from the record, got %+v", snapshot)
	}
}

func TestResolveRejectSnapshotsOutstandingAnomalies(t *testing.T) {
	processor := NewProcessor(&stubCalculator{})
	record := cleanRecord()
	record.NetPay = -75
	run := reviewRun(record)

	outcome, err := processor.Resolve(context.Background(), run, []Resolution{
		{EmployeeID: "emp-1", Action: ActionRejectPayroll, Justification: "figures disagree with the source system"},
	}, auth.RoleManager)
	if err != nil {
		t.Fatalf("reject: %v", err)
	}
	snapshot := outcome.Applied[0].Anomalies
	if len(snapshot) != 1 || snapshot[0].Type != AnomalyNegativeNetPay {
		t.Fatalf("reject must snapshot the run's outstanding anomalies, got %+v", snapshot)
	}
}

func TestResolveOverridePaymentMethod(t *testing.T) {
	processor := NewProcessor(&stubCalculator{})
	record := cleanRecord()
	record.BankAccountNumber = ""
	run := reviewRun(record)

	_, err := processor.Resolve(context.Background(), run, []Resolution{
		{EmployeeID: "emp-1", Action: ActionOverridePaymentMethod, OverridePaymentMethod: PaymentCheque, Justification: goodJustification},
	}, auth.RoleManager)
	if err != nil {
		t.Fatalf("override: %v", err)
	}
	got := run.Record("emp-1")
	if got.PaymentMethod != PaymentCheque || !got.ManagerOverride || got.ResolutionMarker != MarkerOverride {
		t.Fatalf("override not applied: %+v", got)
	}
	if len(Detect(*got)) != 0 {
		t.Fatalf("missing bank info must be cleared after override, got %+v", Detect(*got))
	}
}

func TestResolveOverrideRejectsInvalidMethod(t *testing.T) {
	processor := NewProcessor(&stubCalculator{})
	run := reviewRun(cleanRecord())

	_, err := processor.Resolve(context.Background(), run, []Resolution{
		{EmployeeID: "emp-1", Action: ActionOverridePaymentMethod, OverridePaymentMethod: PaymentElectronic, Justification: goodJustification},
	}, auth.RoleManager)
	var invalid *ValidationError
	if !errors.As(err, &invalid) {
		t.Fatalf("expected ValidationError, got %v", err)
	}
}

func TestResolveOverrideIncompatibleWithNegativeNet(t *testing.T) {
	processor := NewProcessor(&stubCalculator{})
	record := cleanRecord()
	record.NetPay = -25
	run := reviewRun(record)

	_, err := processor.Resolve(context.Background(), run, []Resolution{
		{EmployeeID: "emp-1", Action: ActionOverridePaymentMethod, OverridePaymentMethod: PaymentCash, Justification: goodJustification},
	}, auth.RoleManager)
	var incompatible *IncompatibleActionError
	if !errors.As(err, &incompatible) {
		t.Fatalf("expected IncompatibleActionError, got %v", err)
	}
	if incompatible.AnomalyType != AnomalyNegativeNetPay {
		t.Fatalf("error must name the anomaly, got %+v", incompatible)
	}
	got := run.Record("emp-1")
	if got.ManagerOverride || got.PaymentMethod != PaymentElectronic {
		t.Fatalf("failed batch must leave record untouched: %+v", got)
	}
}

func TestResolveOverrideIncompatibleWithMissingTax(t *testing.T) {
	processor := NewProcessor(&stubCalculator{})
	record := cleanRecord()
	record.TaxLines = nil
	run := reviewRun(record)

	_, err := processor.Resolve(context.Background(), run, []Resolution{
		{EmployeeID: "emp-1", Action: ActionOverridePaymentMethod, OverridePaymentMethod: PaymentCash, Justification: goodJustification},
	}, auth.RoleManager)
	var incompatible *IncompatibleActionError
	if !errors.As(err, &incompatible) {
		t.Fatalf("expected IncompatibleActionError, got %v", err)
	}
}

func TestResolveUnknownEmployee(t *testing.T) {
	processor := NewProcessor(&stubCalculator{})
	run := reviewRun(cleanRecord())

	_, err := processor.Resolve(context.Background(), run, []Resolution{
		{EmployeeID: "emp-404", Action: ActionDeferToNextRun, Justification: goodJustification},
	}, auth.RoleManager)
	var invalid *ValidationError
	if !errors.As(err, &invalid) {
		t.Fatalf("expected ValidationError, got %v", err)
	}
}

func TestResolveRejectShortCircuits(t *testing.T) {
	processor := NewProcessor(&stubCalculator{})
	first := cleanRecord()
	first.BankAccountNumber = ""
	second := cleanRecord()
	second.EmployeeID = "emp-2"
	run := reviewRun(first, second)

	outcome, err := processor.Resolve(context.Background(), run, []Resolution{
		{EmployeeID: "emp-1", Action: ActionDeferToNextRun, Justification: goodJustification},
		{EmployeeID: "emp-2", Action: ActionRejectPayroll, Justification: "figures disagree with the source system"},
		{EmployeeID: "emp-2", Action: ActionDeferToNextRun, Justification: goodJustification},
	}, auth.RoleManager)
	if err != nil {
		t.Fatalf("reject batch: %v", err)
	}
	if !outcome.Rejected {
		t.Fatalf("expected rejected outcome, got %+v", outcome)
	}
	if run.Status != StatusDraft {
		t.Fatalf("reject must drive run to draft, got %s", run.Status)
	}
	if !run.Record("emp-1").Deferred {
		t.Fatal("resolutions before the reject must stay applied")
	}
	if run.Record("emp-2").Deferred {
		t.Fatal("resolutions after the reject must not be applied")
	}
	if len(outcome.Applied) != 2 {
		t.Fatalf("expected two applied resolutions, got %+v", outcome.Applied)
	}
}

func TestResolveRecalculateMergesFreshRecords(t *testing.T) {
	fresh := cleanRecord()
	fresh.GrossSalary = 3200
	fresh.NetPay = 2620
	deferredFresh := cleanRecord()
	deferredFresh.EmployeeID = "emp-2"
	deferredFresh.GrossSalary = 9999

	calc := &stubCalculator{records: []RunRecord{fresh, deferredFresh}}
	processor := NewProcessor(calc)

	deferred := cleanRecord()
	deferred.EmployeeID = "emp-2"
	deferred.Deferred = true
	deferred.ResolutionMarker = MarkerDeferred
	run := reviewRun(cleanRecord(), deferred)

	outcome, err := processor.Resolve(context.Background(), run, []Resolution{
		{EmployeeID: "emp-1", Action: ActionRecalculate, Justification: goodJustification},
	}, auth.RoleManager)
	if err != nil {
		t.Fatalf("recalculate: %v", err)
	}
	if !outcome.Recalculated || calc.calls != 1 {
		t.Fatalf("expected one recalculation, got %+v calls=%d", outcome, calc.calls)
	}
	if got := run.Record("emp-1"); got.GrossSalary != 3200 {
		t.Fatalf("fresh figures not adopted: %+v", got)
	}
	if got := run.Record("emp-2"); got.GrossSalary != 3000 || !got.Deferred {
		t.Fatalf("deferred record must keep its prior figures: %+v", got)
	}
}

func TestResolveRecalculateBatchedOnce(t *testing.T) {
	calc := &stubCalculator{records: []RunRecord{cleanRecord()}}
	processor := NewProcessor(calc)
	run := reviewRun(cleanRecord())

	_, err := processor.Resolve(context.Background(), run, []Resolution{
		{EmployeeID: "emp-1", Action: ActionRecalculate, Justification: goodJustification},
		{EmployeeID: "emp-1", Action: ActionRecalculate, Justification: goodJustification},
	}, auth.RoleManager)
	if err != nil {
		t.Fatalf("recalculate: %v", err)
	}
	if calc.calls != 1 {
		t.Fatalf("multiple recalculate resolutions must trigger one recalculation, got %d", calc.calls)
	}
}

func TestResolveRecalculateFailureLeavesRunUntouched(t *testing.T) {
	calc := &stubCalculator{err: errors.New("calculation engine offline")}
	processor := NewProcessor(calc)
	record := cleanRecord()
	record.BankAccountNumber = ""
	run := reviewRun(record)

	_, err := processor.Resolve(context.Background(), run, []Resolution{
		{EmployeeID: "emp-1", Action: ActionDeferToNextRun, Justification: goodJustification},
		{EmployeeID: "emp-1", Action: ActionRecalculate, Justification: goodJustification},
	}, auth.RoleManager)
	var upstream *UpstreamError
	if !errors.As(err, &upstream) {
		t.Fatalf("expected UpstreamError, got %v", err)
	}
	if run.Record("emp-1").Deferred {
		t.Fatal("failed recalculation must roll back the whole batch")
	}
}

func TestResolvePreservesOverrideThroughRecalculation(t *testing.T) {
	fresh := cleanRecord()
	fresh.BankAccountNumber = ""
	calc := &stubCalculator{records: []RunRecord{fresh}}
	processor := NewProcessor(calc)

	overridden := cleanRecord()
	overridden.BankAccountNumber = ""
	overridden.PaymentMethod = PaymentCheque
	overridden.ManagerOverride = true
	overridden.ResolutionMarker = MarkerOverride
	run := reviewRun(overridden)

	_, err := processor.Resolve(context.Background(), run, []Resolution{
		{EmployeeID: "emp-1", Action: ActionRecalculate, Justification: goodJustification},
	}, auth.RoleManager)
	if err != nil {
		t.Fatalf("recalculate: %v", err)
	}
	got := run.Record("emp-1")
	if !got.ManagerOverride || got.PaymentMethod != PaymentCheque || got.ResolutionMarker != MarkerOverride {
		t.Fatalf("override state lost across recalculation: %+v", got)
	}
}
