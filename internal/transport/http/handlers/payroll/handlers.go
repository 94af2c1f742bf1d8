package payrollhandler

import (
	"encoding/csv"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"strings"

	"github.com/go-chi/chi/v5"

	"payrun/internal/domain/audit"
	"payrun/internal/domain/auth"
	"payrun/internal/domain/payroll"
	"payrun/internal/transport/http/api"
	"payrun/internal/transport/http/middleware"
	"payrun/internal/transport/http/shared"
)

type Handler struct {
	Store *payroll.Store
	Orch  *payroll.Orchestrator
	Audit *audit.Service
	Perms middleware.PermissionStore
	Idem  *middleware.IdempotencyStore
}

func NewHandler(store *payroll.Store, orch *payroll.Orchestrator, auditSvc *audit.Service, perms middleware.PermissionStore, idem *middleware.IdempotencyStore) *Handler {
	return &Handler{Store: store, Orch: orch, Audit: auditSvc, Perms: perms, Idem: idem}
}

type createRunPayload struct {
	Period string `json:"period"`
	Entity string `json:"entity"`
}

type reviewPayload struct {
	Decision string `json:"decision"`
	Comment  string `json:"comment"`
}

type unfreezePayload struct {
	Justification string `json:"justification"`
}

type resolutionsPayload struct {
	Resolutions []payroll.Resolution `json:"resolutions"`
}

type inputPayload struct {
	Entity     string  `json:"entity"`
	Period     string  `json:"period"`
	EmployeeID string  `json:"employeeId"`
	InputType  string  `json:"inputType"`
	Amount     float64 `json:"amount"`
}

func (h *Handler) RegisterRoutes(r chi.Router) {
	r.Route("/payroll", func(r chi.Router) {
		r.With(middleware.RequirePermission(auth.PermRunsWrite, h.Perms)).Post("/runs", h.handleCreateRun)
		r.With(middleware.RequirePermission(auth.PermRunsRead, h.Perms)).Get("/runs", h.handleListRuns)
		r.With(middleware.RequirePermission(auth.PermRunsRead, h.Perms)).Get("/runs/{runID}", h.handleGetRun)
		r.With(middleware.RequirePermission(auth.PermRunsCalculate, h.Perms)).Post("/runs/{runID}/calculate", h.handleCalculate)
		r.With(middleware.RequirePermission(auth.PermRunsWrite, h.Perms)).Post("/runs/{runID}/publish", h.handlePublish)
		r.With(middleware.RequirePermission(auth.PermRunsReview, h.Perms)).Post("/runs/{runID}/manager-review", h.handleManagerReview)
		r.With(middleware.RequirePermission(auth.PermRunsReview, h.Perms)).Post("/runs/{runID}/resolutions", h.handleResolutions)
		r.With(middleware.RequirePermission(auth.PermRunsFinanceReview, h.Perms)).Post("/runs/{runID}/finance-review", h.handleFinanceReview)
		r.With(middleware.RequirePermission(auth.PermRunsReview, h.Perms)).Post("/runs/{runID}/lock", h.handleLock)
		r.With(middleware.RequirePermission(auth.PermRunsReview, h.Perms)).Post("/runs/{runID}/unfreeze", h.handleUnfreeze)
		r.With(middleware.RequirePermission(auth.PermRunsExecute, h.Perms)).Post("/runs/{runID}/execute", h.handleExecute)
		r.With(middleware.RequirePermission(auth.PermRunsRead, h.Perms)).Get("/runs/{runID}/register", h.handleExportRegister)
		r.With(middleware.RequirePermission(auth.PermRunsRead, h.Perms)).Get("/runs/{runID}/payslips", h.handleListPayslips)
		r.With(middleware.RequirePermission(auth.PermRunsRead, h.Perms)).Get("/payslips/{payslipID}/download", h.handleDownloadPayslip)
		r.With(middleware.RequirePermission(auth.PermRunsWrite, h.Perms)).Post("/inputs", h.handleCreateInput)
	})
}

func (h *Handler) handleCreateRun(w http.ResponseWriter, r *http.Request) {
	user, ok := middleware.GetUser(r.Context())
	if !ok {
		api.Fail(w, http.StatusUnauthorized, "unauthorized", "authentication required", middleware.GetRequestID(r.Context()))
		return
	}

	var payload createRunPayload
	if err := json.NewDecoder(r.Body).Decode(&payload); err != nil {
		api.Fail(w, http.StatusBadRequest, "invalid_payload", "invalid request payload", middleware.GetRequestID(r.Context()))
		return
	}

	v := shared.NewValidator()
	v.Required("period", payload.Period, "period is required")
	v.Required("entity", payload.Entity, "entity is required")
	if v.Reject(w, middleware.GetRequestID(r.Context())) {
		return
	}

	run, err := h.Store.CreateRun(r.Context(), strings.TrimSpace(payload.Period), strings.TrimSpace(payload.Entity))
	if err != nil {
		api.Fail(w, http.StatusInternalServerError, "run_create_failed", "failed to create payroll run", middleware.GetRequestID(r.Context()))
		return
	}

	h.record(r, user.UserID, "payroll.run.create", run.ID, "", "", payload)
	api.Created(w, run, middleware.GetRequestID(r.Context()))
}

func (h *Handler) handleListRuns(w http.ResponseWriter, r *http.Request) {
	entity := strings.TrimSpace(r.URL.Query().Get("entity"))
	page := shared.ParsePagination(r, 20, 100)

	total, err := h.Store.CountRuns(r.Context(), entity)
	if err != nil {
		api.Fail(w, http.StatusInternalServerError, "run_list_failed", "failed to list payroll runs", middleware.GetRequestID(r.Context()))
		return
	}
	runs, err := h.Store.ListRuns(r.Context(), entity, page.Limit, page.Offset)
	if err != nil {
		api.Fail(w, http.StatusInternalServerError, "run_list_failed", "failed to list payroll runs", middleware.GetRequestID(r.Context()))
		return
	}
	if runs == nil {
		runs = []payroll.Run{}
	}

	api.Success(w, map[string]any{
		"runs":   runs,
		"total":  total,
		"limit":  page.Limit,
		"offset": page.Offset,
	}, middleware.GetRequestID(r.Context()))
}

func (h *Handler) handleGetRun(w http.ResponseWriter, r *http.Request) {
	run, err := h.Orch.GetRun(r.Context(), chi.URLParam(r, "runID"))
	if err != nil {
		h.failDomain(w, r, err)
		return
	}
	api.Success(w, run, middleware.GetRequestID(r.Context()))
}

func (h *Handler) handleCalculate(w http.ResponseWriter, r *http.Request) {
	user, ok := middleware.GetUser(r.Context())
	if !ok {
		api.Fail(w, http.StatusUnauthorized, "unauthorized", "authentication required", middleware.GetRequestID(r.Context()))
		return
	}
	run, err := h.Orch.Calculate(r.Context(), chi.URLParam(r, "runID"), user.UserID)
	if err != nil {
		h.failDomain(w, r, err)
		return
	}
	api.Success(w, run, middleware.GetRequestID(r.Context()))
}

func (h *Handler) handlePublish(w http.ResponseWriter, r *http.Request) {
	user, ok := middleware.GetUser(r.Context())
	if !ok {
		api.Fail(w, http.StatusUnauthorized, "unauthorized", "authentication required", middleware.GetRequestID(r.Context()))
		return
	}
	run, err := h.Orch.Publish(r.Context(), chi.URLParam(r, "runID"), user.UserID)
	if err != nil {
		h.failDomain(w, r, err)
		return
	}
	api.Success(w, run, middleware.GetRequestID(r.Context()))
}

func (h *Handler) handleManagerReview(w http.ResponseWriter, r *http.Request) {
	user, ok := middleware.GetUser(r.Context())
	if !ok {
		api.Fail(w, http.StatusUnauthorized, "unauthorized", "authentication required", middleware.GetRequestID(r.Context()))
		return
	}
	var payload reviewPayload
	if err := json.NewDecoder(r.Body).Decode(&payload); err != nil {
		api.Fail(w, http.StatusBadRequest, "invalid_payload", "invalid request payload", middleware.GetRequestID(r.Context()))
		return
	}
	run, err := h.Orch.ManagerReview(r.Context(), chi.URLParam(r, "runID"), user.UserID, payload.Decision, payload.Comment)
	if err != nil {
		h.failDomain(w, r, err)
		return
	}
	api.Success(w, run, middleware.GetRequestID(r.Context()))
}

func (h *Handler) handleFinanceReview(w http.ResponseWriter, r *http.Request) {
	user, ok := middleware.GetUser(r.Context())
	if !ok {
		api.Fail(w, http.StatusUnauthorized, "unauthorized", "authentication required", middleware.GetRequestID(r.Context()))
		return
	}
	var payload reviewPayload
	if err := json.NewDecoder(r.Body).Decode(&payload); err != nil {
		api.Fail(w, http.StatusBadRequest, "invalid_payload", "invalid request payload", middleware.GetRequestID(r.Context()))
		return
	}
	run, err := h.Orch.FinanceReview(r.Context(), chi.URLParam(r, "runID"), user.UserID, payload.Decision, payload.Comment)
	if err != nil {
		h.failDomain(w, r, err)
		return
	}
	api.Success(w, run, middleware.GetRequestID(r.Context()))
}

func (h *Handler) handleLock(w http.ResponseWriter, r *http.Request) {
	user, ok := middleware.GetUser(r.Context())
	if !ok {
		api.Fail(w, http.StatusUnauthorized, "unauthorized", "authentication required", middleware.GetRequestID(r.Context()))
		return
	}
	run, err := h.Orch.Lock(r.Context(), chi.URLParam(r, "runID"), user.UserID)
	if err != nil {
		h.failDomain(w, r, err)
		return
	}
	api.Success(w, run, middleware.GetRequestID(r.Context()))
}

func (h *Handler) handleUnfreeze(w http.ResponseWriter, r *http.Request) {
	user, ok := middleware.GetUser(r.Context())
	if !ok {
		api.Fail(w, http.StatusUnauthorized, "unauthorized", "authentication required", middleware.GetRequestID(r.Context()))
		return
	}
	var payload unfreezePayload
	if err := json.NewDecoder(r.Body).Decode(&payload); err != nil {
		api.Fail(w, http.StatusBadRequest, "invalid_payload", "invalid request payload", middleware.GetRequestID(r.Context()))
		return
	}
	run, err := h.Orch.Unfreeze(r.Context(), chi.URLParam(r, "runID"), user.UserID, payload.Justification)
	if err != nil {
		h.failDomain(w, r, err)
		return
	}
	api.Success(w, run, middleware.GetRequestID(r.Context()))
}

func (h *Handler) handleResolutions(w http.ResponseWriter, r *http.Request) {
	user, ok := middleware.GetUser(r.Context())
	if !ok {
		api.Fail(w, http.StatusUnauthorized, "unauthorized", "authentication required", middleware.GetRequestID(r.Context()))
		return
	}
	var payload resolutionsPayload
	if err := json.NewDecoder(r.Body).Decode(&payload); err != nil {
		api.Fail(w, http.StatusBadRequest, "invalid_payload", "invalid request payload", middleware.GetRequestID(r.Context()))
		return
	}
	if len(payload.Resolutions) == 0 {
		api.Fail(w, http.StatusBadRequest, "invalid_payload", "at least one resolution is required", middleware.GetRequestID(r.Context()))
		return
	}
	run, err := h.Orch.ResolveAnomalies(r.Context(), chi.URLParam(r, "runID"), user.UserID, payload.Resolutions)
	if err != nil {
		h.failDomain(w, r, err)
		return
	}
	api.Success(w, run, middleware.GetRequestID(r.Context()))
}

func (h *Handler) handleExecute(w http.ResponseWriter, r *http.Request) {
	user, ok := middleware.GetUser(r.Context())
	if !ok {
		api.Fail(w, http.StatusUnauthorized, "unauthorized", "authentication required", middleware.GetRequestID(r.Context()))
		return
	}

	runID := chi.URLParam(r, "runID")
	idempotencyKey := strings.TrimSpace(r.Header.Get("Idempotency-Key"))
	requestHash := middleware.RequestHash([]byte(runID))
	if idempotencyKey != "" {
		stored, found, err := h.Idem.Check(r.Context(), user.UserID, "payroll.execute", idempotencyKey, requestHash)
		if errors.Is(err, middleware.ErrIdempotencyConflict) {
			api.Fail(w, http.StatusConflict, "idempotency_conflict", "idempotency key already used for a different request", middleware.GetRequestID(r.Context()))
			return
		}
		if err != nil {
			slog.Warn("idempotency check failed", "err", err)
		}
		if found {
			api.Success(w, json.RawMessage(stored), middleware.GetRequestID(r.Context()))
			return
		}
	}

	run, distributed, err := h.Orch.Execute(r.Context(), runID, user.UserID)
	if err != nil {
		h.failDomain(w, r, err)
		return
	}

	response := map[string]any{"run": run, "distributed": distributed}
	if idempotencyKey != "" {
		encoded, err := json.Marshal(response)
		if err != nil {
			slog.Warn("execute response marshal failed", "err", err)
		} else if err := h.Idem.Save(r.Context(), user.UserID, "payroll.execute", idempotencyKey, requestHash, encoded); err != nil {
			slog.Warn("idempotency save failed", "err", err)
		}
	}
	api.Success(w, response, middleware.GetRequestID(r.Context()))
}

func (h *Handler) handleCreateInput(w http.ResponseWriter, r *http.Request) {
	user, ok := middleware.GetUser(r.Context())
	if !ok {
		api.Fail(w, http.StatusUnauthorized, "unauthorized", "authentication required", middleware.GetRequestID(r.Context()))
		return
	}
	var payload inputPayload
	if err := json.NewDecoder(r.Body).Decode(&payload); err != nil {
		api.Fail(w, http.StatusBadRequest, "invalid_payload", "invalid request payload", middleware.GetRequestID(r.Context()))
		return
	}

	v := shared.NewValidator()
	v.Required("entity", payload.Entity, "entity is required")
	v.Required("period", payload.Period, "period is required")
	v.Required("employeeId", payload.EmployeeID, "employee id is required")
	v.Enum("inputType", payload.InputType, []string{payroll.InputOvertime, payroll.InputBonus, payroll.InputPenalty}, "must be overtime, bonus or penalty")
	v.Required("inputType", payload.InputType, "input type is required")
	if payload.Amount < 0 {
		v.Add("amount", "must not be negative")
	}
	if v.Reject(w, middleware.GetRequestID(r.Context())) {
		return
	}

	if err := h.Store.CreateInput(r.Context(), payload.Entity, payload.Period, payload.EmployeeID, strings.ToLower(strings.TrimSpace(payload.InputType)), payload.Amount); err != nil {
		api.Fail(w, http.StatusInternalServerError, "input_create_failed", "failed to record payroll input", middleware.GetRequestID(r.Context()))
		return
	}

	h.record(r, user.UserID, "payroll.input.create", "", payload.EmployeeID, "", payload)
	api.Created(w, map[string]string{"status": "input_added"}, middleware.GetRequestID(r.Context()))
}

func (h *Handler) handleExportRegister(w http.ResponseWriter, r *http.Request) {
	runID := chi.URLParam(r, "runID")
	if _, err := h.Store.LoadRun(r.Context(), runID); err != nil {
		h.failDomain(w, r, err)
		return
	}
	rows, err := h.Store.RegisterRows(r.Context(), runID)
	if err != nil {
		api.Fail(w, http.StatusInternalServerError, "export_failed", "failed to export register", middleware.GetRequestID(r.Context()))
		return
	}

	w.Header().Set("Content-Type", "text/csv")
	w.Header().Set("Content-Disposition", "attachment; filename=payroll-register.csv")
	writer := csv.NewWriter(w)
	if err := writer.Write([]string{"employee_id", "first_name", "last_name", "gross", "deductions", "net", "payment_method", "deferred"}); err != nil {
		slog.Warn("export register header write failed", "err", err)
	}
	for _, row := range rows {
		record := []string{
			row.EmployeeID, row.FirstName, row.LastName,
			fmt.Sprintf("%.2f", row.Gross), fmt.Sprintf("%.2f", row.Deductions), fmt.Sprintf("%.2f", row.Net),
			row.PaymentMethod, fmt.Sprintf("%t", row.Deferred),
		}
		if err := writer.Write(record); err != nil {
			slog.Warn("export register row write failed", "err", err)
		}
	}
	writer.Flush()
	if err := writer.Error(); err != nil {
		slog.Warn("export register flush failed", "err", err)
	}
}

func (h *Handler) handleListPayslips(w http.ResponseWriter, r *http.Request) {
	runID := chi.URLParam(r, "runID")
	if _, err := h.Store.LoadRun(r.Context(), runID); err != nil {
		h.failDomain(w, r, err)
		return
	}
	slips, err := h.Store.ListPayslips(r.Context(), runID)
	if err != nil {
		api.Fail(w, http.StatusInternalServerError, "payslip_list_failed", "failed to list payslips", middleware.GetRequestID(r.Context()))
		return
	}
	if slips == nil {
		slips = []payroll.Payslip{}
	}
	api.Success(w, slips, middleware.GetRequestID(r.Context()))
}

func (h *Handler) handleDownloadPayslip(w http.ResponseWriter, r *http.Request) {
	payslipID := chi.URLParam(r, "payslipID")
	_, filePath, err := h.Store.PayslipInfo(r.Context(), payslipID)
	if err != nil {
		h.failDomain(w, r, err)
		return
	}
	if filePath == "" {
		api.Fail(w, http.StatusInternalServerError, "payslip_missing", "payslip not available", middleware.GetRequestID(r.Context()))
		return
	}

	if strings.HasSuffix(filePath, ".enc") && h.Store.Crypto != nil && h.Store.Crypto.Configured() {
		data, err := os.ReadFile(filePath)
		if err != nil {
			api.Fail(w, http.StatusInternalServerError, "payslip_missing", "payslip not available", middleware.GetRequestID(r.Context()))
			return
		}
		decrypted, err := h.Store.Crypto.Decrypt(data)
		if err != nil {
			api.Fail(w, http.StatusInternalServerError, "payslip_missing", "payslip not available", middleware.GetRequestID(r.Context()))
			return
		}
		w.Header().Set("Content-Type", "application/pdf")
		w.Header().Set("Content-Disposition", "attachment; filename="+payslipID+".pdf")
		if _, err := w.Write(decrypted); err != nil {
			slog.Warn("payslip write failed", "payslipId", payslipID, "err", err)
		}
		return
	}

	http.ServeFile(w, r, filePath)
}

func (h *Handler) record(r *http.Request, actorID, action, runID, employeeID, justification string, details any) {
	if h.Audit == nil {
		return
	}
	var raw json.RawMessage
	if details != nil {
		encoded, err := json.Marshal(details)
		if err != nil {
			slog.Warn("audit details marshal failed", "action", action, "err", err)
		} else {
			raw = encoded
		}
	}
	if err := h.Audit.Record(r.Context(), actorID, action, runID, employeeID, justification, middleware.GetRequestID(r.Context()), shared.ClientIP(r), raw); err != nil {
		slog.Warn("audit record failed", "action", action, "err", err)
	}
}

func (h *Handler) failDomain(w http.ResponseWriter, r *http.Request, err error) {
	requestID := middleware.GetRequestID(r.Context())

	var validation *payroll.ValidationError
	var justification *payroll.InvalidJustificationError
	var precondition *payroll.PreconditionError
	var incompatible *payroll.IncompatibleActionError
	var transition *payroll.InvalidTransitionError
	var upstream *payroll.UpstreamError

	switch {
	case errors.As(err, &validation):
		api.FailWithDetails(w, http.StatusBadRequest, "validation_error", validation.Error(),
			map[string]string{"field": validation.Field}, requestID)
	case errors.As(err, &justification):
		api.FailWithDetails(w, http.StatusBadRequest, "invalid_justification", justification.Error(),
			map[string]int{"length": justification.Length, "minimum": justification.Minimum}, requestID)
	case errors.As(err, &precondition):
		api.FailWithDetails(w, http.StatusUnprocessableEntity, "precondition_failed", precondition.Error(),
			map[string]string{"event": precondition.Event, "employeeId": precondition.EmployeeID}, requestID)
	case errors.As(err, &incompatible):
		api.FailWithDetails(w, http.StatusUnprocessableEntity, "incompatible_action", incompatible.Error(),
			map[string]string{"action": incompatible.Action, "anomaly": incompatible.AnomalyType}, requestID)
	case errors.As(err, &transition):
		api.FailWithDetails(w, http.StatusConflict, "invalid_transition", transition.Error(),
			map[string]string{"status": transition.Status, "event": transition.Event, "role": transition.Role}, requestID)
	case errors.Is(err, payroll.ErrConcurrentModification):
		api.Fail(w, http.StatusConflict, "concurrent_modification", "payroll run was modified concurrently, retry", requestID)
	case errors.Is(err, payroll.ErrUnauthorized):
		api.Fail(w, http.StatusForbidden, "forbidden", "actor role does not permit this action", requestID)
	case errors.Is(err, payroll.ErrRunNotFound):
		api.Fail(w, http.StatusNotFound, "not_found", "payroll run not found", requestID)
	case errors.Is(err, payroll.ErrPayslipNotFound):
		api.Fail(w, http.StatusNotFound, "not_found", "payslip not found", requestID)
	case errors.As(err, &upstream):
		api.Fail(w, http.StatusBadGateway, "upstream_failed", upstream.Error(), requestID)
	default:
		slog.Error("payroll operation failed", "err", err, "requestId", requestID)
		api.Fail(w, http.StatusInternalServerError, "internal_error", "internal server error", requestID)
	}
}
