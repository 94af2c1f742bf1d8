package payroll

import (
	"context"
	"log/slog"
	"strings"
	"time"
)

// RunStore is the persistence contract. SaveRun must reject a stale
// expectedVersion with ErrConcurrentModification so two concurrent
// transitions against the same run cannot both succeed.
type RunStore interface {
	LoadRun(ctx context.Context, runID string) (*Run, error)
	SaveRun(ctx context.Context, run *Run, expectedVersion int) error
}

// RoleDirectory resolves an authenticated actor to a role. The orchestrator
// never trusts a caller-supplied role string.
type RoleDirectory interface {
	ActorRole(ctx context.Context, actorID string) (string, error)
}

// Distributor executes payment distribution and payslip generation for a
// paid run, returning the number of records distributed.
type Distributor interface {
	DistributeAndGeneratePayslips(ctx context.Context, runID string) (int, error)
}

// AuditEntry is recorded for every transition and every resolution.
type AuditEntry struct {
	Action        string
	ActorID       string
	RunID         string
	EmployeeID    string
	Justification string
	Details       any
	At            time.Time
}

// AuditLog receives audit entries. Writes are best effort: a failed audit
// write is logged and never fails the primary operation.
type AuditLog interface {
	Record(ctx context.Context, entry AuditEntry) error
}

// Notifier is fire-and-forget from the orchestrator's perspective.
type Notifier interface {
	RunEvent(ctx context.Context, runID, event, actorID string)
}

// Orchestrator is the façade the API layer talks to: it loads a run,
// dispatches one lifecycle operation through the state machine, and persists
// the result under the run's version token.
type Orchestrator struct {
	store     RunStore
	roles     RoleDirectory
	calc      Calculator
	dist      Distributor
	processor *Processor
	audit     AuditLog
	notifier  Notifier
}

func NewOrchestrator(store RunStore, roles RoleDirectory, calc Calculator, dist Distributor, audit AuditLog, notifier Notifier) *Orchestrator {
	return &Orchestrator{
		store:     store,
		roles:     roles,
		calc:      calc,
		dist:      dist,
		processor: NewProcessor(calc),
		audit:     audit,
		notifier:  notifier,
	}
}

// GetRun loads a run with the derived anomaly set populated.
func (o *Orchestrator) GetRun(ctx context.Context, runID string) (*Run, error) {
	run, err := o.store.LoadRun(ctx, runID)
	if err != nil {
		return nil, err
	}
	run.RefreshAnomalies()
	return run, nil
}

// Calculate fetches computed records for the run and moves it to calculated.
func (o *Orchestrator) Calculate(ctx context.Context, runID, actorID string) (*Run, error) {
	role, err := o.actorRole(ctx, actorID)
	if err != nil {
		return nil, err
	}
	run, err := o.store.LoadRun(ctx, runID)
	if err != nil {
		return nil, err
	}

	records, err := o.calc.ComputePayroll(ctx, runID)
	if err != nil {
		return nil, &UpstreamError{Op: "payroll calculation", Err: err}
	}
	expected := run.Version
	run.Employees = mergeRecords(run.Employees, records)
	if err := Apply(run, TransitionRequest{Event: EventCalculate, Role: role}); err != nil {
		return nil, err
	}
	return o.commit(ctx, run, expected, AuditEntry{Action: "payroll.run.calculate", ActorID: actorID, RunID: runID}, EventCalculate, actorID)
}

// Publish makes the calculated run visible for manager review. Rejected
// outright while any critical anomaly remains.
func (o *Orchestrator) Publish(ctx context.Context, runID, actorID string) (*Run, error) {
	return o.transition(ctx, runID, actorID, EventPublish, "", "payroll.run.publish")
}

// ManagerReview approves toward finance or rejects back to draft.
func (o *Orchestrator) ManagerReview(ctx context.Context, runID, actorID, decision, comment string) (*Run, error) {
	switch strings.ToLower(strings.TrimSpace(decision)) {
	case "approve":
		return o.transition(ctx, runID, actorID, EventManagerApprove, comment, "payroll.run.manager_approve")
	case "reject":
		return o.transition(ctx, runID, actorID, EventManagerReject, comment, "payroll.run.manager_reject")
	default:
		return nil, &ValidationError{Field: "decision", Reason: "must be approve or reject"}
	}
}

// FinanceReview approves toward lock or rejects back to draft.
func (o *Orchestrator) FinanceReview(ctx context.Context, runID, actorID, decision, comment string) (*Run, error) {
	switch strings.ToLower(strings.TrimSpace(decision)) {
	case "approve":
		return o.transition(ctx, runID, actorID, EventFinanceApprove, comment, "payroll.run.finance_approve")
	case "reject":
		return o.transition(ctx, runID, actorID, EventFinanceReject, comment, "payroll.run.finance_reject")
	default:
		return nil, &ValidationError{Field: "decision", Reason: "must be approve or reject"}
	}
}

// Lock freezes the approved run ahead of execution.
func (o *Orchestrator) Lock(ctx context.Context, runID, actorID string) (*Run, error) {
	return o.transition(ctx, runID, actorID, EventLock, "", "payroll.run.lock")
}

// Unfreeze is the exceptional reversal of a locked run back to review. It
// always writes an exceptional-action audit entry carrying the justification.
func (o *Orchestrator) Unfreeze(ctx context.Context, runID, actorID, justification string) (*Run, error) {
	return o.transition(ctx, runID, actorID, EventUnfreeze, justification, "payroll.run.unfreeze")
}

// ResolveAnomalies applies a manager resolution batch, persisting the result
// atomically under the run's version token and auditing every resolution.
func (o *Orchestrator) ResolveAnomalies(ctx context.Context, runID, actorID string, resolutions []Resolution) (*Run, error) {
	role, err := o.actorRole(ctx, actorID)
	if err != nil {
		return nil, err
	}
	run, err := o.store.LoadRun(ctx, runID)
	if err != nil {
		return nil, err
	}
	expected := run.Version

	outcome, err := o.processor.Resolve(ctx, run, resolutions, role)
	if err != nil {
		return nil, err
	}
	if err := o.store.SaveRun(ctx, run, expected); err != nil {
		return nil, err
	}

	for _, res := range outcome.Applied {
		o.record(ctx, AuditEntry{
			Action:        "payroll.resolution." + res.Action,
			ActorID:       actorID,
			RunID:         runID,
			EmployeeID:    res.EmployeeID,
			Justification: res.Justification,
			Details:       res.Anomalies,
		})
	}
	if outcome.Rejected {
		o.notify(ctx, runID, EventManagerReject, actorID)
	}
	run.RefreshAnomalies()
	return run, nil
}

// Execute distributes payments and payslips and moves the run to paid. The
// run is claimed under its version token before the payment backend is
// touched, so the loser of a concurrent Execute fails the claim instead of
// distributing twice. A distribution failure leaves the run locked at the
// claimed version and surfaces as a retryable upstream error.
func (o *Orchestrator) Execute(ctx context.Context, runID, actorID string) (*Run, int, error) {
	role, err := o.actorRole(ctx, actorID)
	if err != nil {
		return nil, 0, err
	}
	run, err := o.store.LoadRun(ctx, runID)
	if err != nil {
		return nil, 0, err
	}
	expected := run.Version
	if err := Apply(run, TransitionRequest{Event: EventExecute, Role: role}); err != nil {
		return nil, 0, err
	}

	claim := run.Clone()
	claim.Status = StatusLocked
	if err := o.store.SaveRun(ctx, claim, expected); err != nil {
		return nil, 0, err
	}

	count, err := o.dist.DistributeAndGeneratePayslips(ctx, runID)
	if err != nil {
		return nil, 0, &UpstreamError{Op: "payment distribution", Err: err}
	}
	run, err = o.commit(ctx, run, claim.Version, AuditEntry{
		Action:  "payroll.run.execute",
		ActorID: actorID,
		RunID:   runID,
		Details: map[string]int{"distributed": count},
	}, EventExecute, actorID)
	if err != nil {
		return nil, 0, err
	}
	return run, count, nil
}

func (o *Orchestrator) transition(ctx context.Context, runID, actorID, event, reason, action string) (*Run, error) {
	role, err := o.actorRole(ctx, actorID)
	if err != nil {
		return nil, err
	}
	run, err := o.store.LoadRun(ctx, runID)
	if err != nil {
		return nil, err
	}
	expected := run.Version
	if err := Apply(run, TransitionRequest{Event: event, Role: role, Reason: reason}); err != nil {
		return nil, err
	}
	return o.commit(ctx, run, expected, AuditEntry{Action: action, ActorID: actorID, RunID: runID, Justification: reason}, event, actorID)
}

func (o *Orchestrator) commit(ctx context.Context, run *Run, expectedVersion int, entry AuditEntry, event, actorID string) (*Run, error) {
	if err := o.store.SaveRun(ctx, run, expectedVersion); err != nil {
		return nil, err
	}
	o.record(ctx, entry)
	o.notify(ctx, run.ID, event, actorID)
	run.RefreshAnomalies()
	return run, nil
}

func (o *Orchestrator) actorRole(ctx context.Context, actorID string) (string, error) {
	role, err := o.roles.ActorRole(ctx, actorID)
	if err != nil {
		return "", &UpstreamError{Op: "actor role lookup", Err: err}
	}
	return role, nil
}

func (o *Orchestrator) record(ctx context.Context, entry AuditEntry) {
	if o.audit == nil {
		return
	}
	if entry.At.IsZero() {
		entry.At = time.Now().UTC()
	}
	if err := o.audit.Record(ctx, entry); err != nil {
		slog.Warn("audit record failed", "action", entry.Action, "run", entry.RunID, "err", err)
	}
}

func (o *Orchestrator) notify(ctx context.Context, runID, event, actorID string) {
	if o.notifier == nil {
		return
	}
	o.notifier.RunEvent(ctx, runID, event, actorID)
}
