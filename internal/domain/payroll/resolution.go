package payroll

import (
	"context"
	"strings"

	"payrun/internal/domain/auth"
)

// Calculator recomputes every record for a run from source data. It must be
// idempotent: it backs both the initial calculate and re-calculation during
// resolution processing.
type Calculator interface {
	ComputePayroll(ctx context.Context, runID string) ([]RunRecord, error)
}

// Processor applies a batch of manager resolutions to a run. The batch is
// all-or-nothing: mutations are staged on a copy and only adopted when every
// resolution (and any requested recalculation) succeeded.
type Processor struct {
	calc Calculator
}

func NewProcessor(calc Calculator) *Processor {
	return &Processor{calc: calc}
}

// Outcome reports what a resolution batch did to the run.
type Outcome struct {
	Applied      []Resolution
	Recalculated bool
	Rejected     bool
}

// Resolve validates and applies the batch. A REJECT_PAYROLL resolution
// short-circuits the batch and drives the run back to draft through the
// rejection path. RE_CALCULATE resolutions are deferred to the end and
// trigger one recalculation for the whole run. The anomaly snapshot on each
// applied resolution is recomputed from the record at apply time;
// caller-supplied anomaly lists are discarded.
func (p *Processor) Resolve(ctx context.Context, run *Run, resolutions []Resolution, role string) (Outcome, error) {
	var outcome Outcome

	if role != auth.RoleManager {
		return outcome, ErrUnauthorized
	}
	for _, res := range resolutions {
		if len(strings.TrimSpace(res.Justification)) < MinJustification {
			return outcome, &InvalidJustificationError{
				EmployeeID: res.EmployeeID,
				Length:     len(strings.TrimSpace(res.Justification)),
				Minimum:    MinJustification,
			}
		}
	}

	staged := run.Clone()
	var recalcs []Resolution

	for _, res := range resolutions {
		switch res.Action {
		case ActionRecalculate:
			if record := staged.Record(res.EmployeeID); record != nil {
				res.Anomalies = Detect(*record)
			}
			recalcs = append(recalcs, res)
			continue
		case ActionDeferToNextRun:
			record := staged.Record(res.EmployeeID)
			if record == nil {
				return Outcome{}, &ValidationError{Field: "employeeId", Reason: "employee " + res.EmployeeID + " is not part of this run"}
			}
			res.Anomalies = Detect(*record)
			record.Deferred = true
			record.ResolutionMarker = MarkerDeferred
		case ActionOverridePaymentMethod:
			record := staged.Record(res.EmployeeID)
			if record == nil {
				return Outcome{}, &ValidationError{Field: "employeeId", Reason: "employee " + res.EmployeeID + " is not part of this run"}
			}
			res.Anomalies = Detect(*record)
			if err := applyPaymentOverride(record, res); err != nil {
				return Outcome{}, err
			}
		case ActionRejectPayroll:
			// Rejection stops processing of the remaining resolutions; the
			// ones already applied in this batch are kept.
			res.Anomalies = outstandingAnomalies(staged)
			if err := Apply(staged, TransitionRequest{Event: EventManagerReject, Role: role, Reason: res.Justification}); err != nil {
				return Outcome{}, err
			}
			run.Status = staged.Status
			run.Employees = staged.Employees
			outcome.Applied = append(outcome.Applied, res)
			outcome.Rejected = true
			run.RefreshAnomalies()
			return outcome, nil
		default:
			return Outcome{}, &ValidationError{Field: "action", Reason: "unknown resolution action " + res.Action}
		}
		outcome.Applied = append(outcome.Applied, res)
	}

	if len(recalcs) > 0 {
		fresh, err := p.calc.ComputePayroll(ctx, run.ID)
		if err != nil {
			return Outcome{}, &UpstreamError{Op: "recalculation", Err: err}
		}
		staged.Employees = mergeRecords(staged.Employees, fresh)
		outcome.Recalculated = true
		outcome.Applied = append(outcome.Applied, recalcs...)
	}

	run.Employees = staged.Employees
	run.RefreshAnomalies()
	return outcome, nil
}

// outstandingAnomalies flattens the derived anomaly set across the run for
// the audit snapshot of a run-level resolution.
func outstandingAnomalies(run *Run) []Anomaly {
	var out []Anomaly
	for i := range run.Employees {
		out = append(out, Detect(run.Employees[i])...)
	}
	return out
}

func applyPaymentOverride(record *RunRecord, res Resolution) error {
	switch res.OverridePaymentMethod {
	case PaymentCheque, PaymentCash, PaymentWireTransfer:
	default:
		return &ValidationError{Field: "overridePaymentMethod", Reason: "must be one of cheque, cash, wire_transfer"}
	}
	for _, a := range Detect(*record) {
		if a.Type == AnomalyNegativeNetPay || a.Type == AnomalyMissingTaxInfo {
			return &IncompatibleActionError{EmployeeID: record.EmployeeID, Action: res.Action, AnomalyType: a.Type}
		}
	}
	record.PaymentMethod = res.OverridePaymentMethod
	record.ManagerOverride = true
	record.ResolutionMarker = MarkerOverride
	return nil
}

// mergeRecords adopts freshly calculated figures while preserving the
// resolution state (deferral, override, payment method) already applied to
// the run. Deferred employees keep their prior record untouched; the
// calculator does not recompute them.
func mergeRecords(current, fresh []RunRecord) []RunRecord {
	prior := make(map[string]RunRecord, len(current))
	for _, record := range current {
		prior[record.EmployeeID] = record
	}
	out := make([]RunRecord, 0, len(fresh))
	for _, record := range fresh {
		if old, ok := prior[record.EmployeeID]; ok {
			if old.Deferred {
				out = append(out, old)
				continue
			}
			record.Deferred = old.Deferred
			record.ManagerOverride = old.ManagerOverride
			record.ResolutionMarker = old.ResolutionMarker
			if old.ManagerOverride && old.PaymentMethod != "" {
				record.PaymentMethod = old.PaymentMethod
			}
		}
		out = append(out, record)
	}
	return out
}
