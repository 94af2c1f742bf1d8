package payrollhandler

import (
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"payrun/internal/domain/payroll"
	"payrun/internal/transport/http/api"
)

func decodeEnvelope(t *testing.T, rec *httptest.ResponseRecorder) api.Envelope {
	t.Helper()
	var envelope api.Envelope
	if err := json.NewDecoder(rec.Body).Decode(&envelope); err != nil {
		t.Fatalf("decode envelope: %v", err)
	}
	return envelope
}

func TestFailDomainStatusMapping(t *testing.T) {
	cases := []struct {
		name   string
		err    error
		status int
		code   string
	}{
		{"validation", &payroll.ValidationError{Field: "decision", Reason: "must be approve or reject"}, http.StatusBadRequest, "validation_error"},
		{"justification", &payroll.InvalidJustificationError{Length: 5, Minimum: payroll.MinJustification}, http.StatusBadRequest, "invalid_justification"},
		{"precondition", &payroll.PreconditionError{RunID: "r1", Event: payroll.EventPublish, Reason: "critical anomalies present"}, http.StatusUnprocessableEntity, "precondition_failed"},
		{"incompatible", &payroll.IncompatibleActionError{EmployeeID: "emp-1", Action: payroll.ActionOverridePaymentMethod, AnomalyType: payroll.AnomalyNegativeNetPay}, http.StatusUnprocessableEntity, "incompatible_action"},
		{"transition", &payroll.InvalidTransitionError{RunID: "r1", Status: payroll.StatusPaid, Event: payroll.EventPublish, Role: "specialist"}, http.StatusConflict, "invalid_transition"},
		{"concurrent", payroll.ErrConcurrentModification, http.StatusConflict, "concurrent_modification"},
		{"unauthorized", payroll.ErrUnauthorized, http.StatusForbidden, "forbidden"},
		{"run not found", payroll.ErrRunNotFound, http.StatusNotFound, "not_found"},
		{"payslip not found", payroll.ErrPayslipNotFound, http.StatusNotFound, "not_found"},
		{"upstream", &payroll.UpstreamError{Op: "payroll calculation", Err: errors.New("boom")}, http.StatusBadGateway, "upstream_failed"},
		{"unknown", errors.New("boom"), http.StatusInternalServerError, "internal_error"},
	}

	h := &Handler{}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			rec := httptest.NewRecorder()
			req := httptest.NewRequest(http.MethodPost, "/payroll/runs/r1/publish", nil)
			h.failDomain(rec, req, tc.err)

			if rec.Code != tc.status {
				t.Fatalf("expected status %d, got %d", tc.status, rec.Code)
			}
			envelope := decodeEnvelope(t, rec)
			if envelope.Success {
				t.Fatal("expected failure envelope")
			}
			if envelope.Error == nil || envelope.Error.Code != tc.code {
				t.Fatalf("expected error code %q, got %+v", tc.code, envelope.Error)
			}
		})
	}
}

func TestFailDomainTransitionDetails(t *testing.T) {
	h := &Handler{}
	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost, "/payroll/runs/r1/lock", nil)
	h.failDomain(rec, req, &payroll.InvalidTransitionError{
		RunID:  "r1",
		Status: payroll.StatusDraft,
		Event:  payroll.EventLock,
		Role:   "finance",
	})

	envelope := decodeEnvelope(t, rec)
	details, ok := envelope.Error.Details.(map[string]any)
	if !ok {
		t.Fatalf("expected details map, got %T", envelope.Error.Details)
	}
	if details["status"] != payroll.StatusDraft || details["event"] != payroll.EventLock {
		t.Fatalf("unexpected details: %+v", details)
	}
}
