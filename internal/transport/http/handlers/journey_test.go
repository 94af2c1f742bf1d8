package handlers_test

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"strings"
	"testing"
	"time"

	"payrun/internal/app/server"
	"payrun/internal/domain/payroll"
	"payrun/internal/platform/config"
	cryptoutil "payrun/internal/platform/crypto"
)

type envelope struct {
	Data  json.RawMessage `json:"data"`
	Error any             `json:"error"`
}

func testConfig(t *testing.T, dbURL string) config.Config {
	t.Helper()
	return config.Config{
		DatabaseURL:        dbURL,
		JWTSecret:          "test-secret",
		DataEncryptionKey:  strings.Repeat("0123456789abcdef", 4),
		Environment:        "test",
		SeedEntity:         "acme",
		SeedPassword:       "ChangeMe123!",
		EmailFrom:          "no-reply@test.local",
		RunMigrations:      true,
		MigrationsDir:      "../../../../migrations",
		RunSeed:            true,
		MaxBodyBytes:       1048576,
		RateLimitPerMinute: 1000,
		AccessTokenTTL:     15 * time.Minute,
		RefreshTokenTTL:    7 * 24 * time.Hour,
		PayslipDir:         t.TempDir(),
	}
}

func TestRunLifecycleJourney(t *testing.T) {
	dbURL := os.Getenv("TEST_DATABASE_URL")
	if dbURL == "" {
		t.Skip("TEST_DATABASE_URL not set")
	}

	cfg := testConfig(t, dbURL)
	app, err := server.New(context.Background(), cfg)
	if err != nil {
		t.Fatalf("failed to start app: %v", err)
	}
	defer app.Close()

	ts := httptest.NewServer(app.Router)
	defer ts.Close()
	client := ts.Client()

	specialist := login(t, client, ts.URL, "specialist@acme.example.com", cfg.SeedPassword)
	manager := login(t, client, ts.URL, "manager@acme.example.com", cfg.SeedPassword)
	finance := login(t, client, ts.URL, "finance@acme.example.com", cfg.SeedPassword)

	entity := fmt.Sprintf("journey%d", time.Now().UnixNano())
	period := "2026-08"
	employeeID := seedEmployee(t, app, cfg, entity)

	runID := createRun(t, client, ts.URL, specialist, period, entity)

	postJSON(t, client, ts.URL+"/api/v1/payroll/inputs", specialist, map[string]any{
		"entity":     entity,
		"period":     period,
		"employeeId": employeeID,
		"inputType":  "bonus",
		"amount":     250,
	})

	run := postJSON(t, client, ts.URL+"/api/v1/payroll/runs/"+runID+"/calculate", specialist, map[string]any{})
	if status := runStatus(t, run); status != "calculated" {
		t.Fatalf("expected status calculated, got %s", status)
	}

	run = postJSON(t, client, ts.URL+"/api/v1/payroll/runs/"+runID+"/publish", specialist, map[string]any{})
	if status := runStatus(t, run); status != "under_review" {
		t.Fatalf("expected status under_review, got %s", status)
	}

	run = postJSON(t, client, ts.URL+"/api/v1/payroll/runs/"+runID+"/manager-review", manager, map[string]any{
		"decision": "approve",
	})
	if status := runStatus(t, run); status != "pending_finance_approval" {
		t.Fatalf("expected status pending_finance_approval, got %s", status)
	}

	run = postJSON(t, client, ts.URL+"/api/v1/payroll/runs/"+runID+"/finance-review", finance, map[string]any{
		"decision": "approve",
	})
	if status := runStatus(t, run); status != "approved" {
		t.Fatalf("expected status approved, got %s", status)
	}

	run = postJSON(t, client, ts.URL+"/api/v1/payroll/runs/"+runID+"/lock", manager, map[string]any{})
	if status := runStatus(t, run); status != "locked" {
		t.Fatalf("expected status locked, got %s", status)
	}

	idempotencyKey := fmt.Sprintf("exec-%d", time.Now().UnixNano())
	first := executeRun(t, client, ts.URL, specialist, runID, idempotencyKey)
	if first.status != "paid" {
		t.Fatalf("expected status paid after execute, got %s", first.status)
	}
	if first.distributed < 1 {
		t.Fatalf("expected at least one distribution, got %d", first.distributed)
	}

	replay := executeRun(t, client, ts.URL, specialist, runID, idempotencyKey)
	if replay.status != "paid" || replay.distributed != first.distributed {
		t.Fatalf("expected idempotent replay of execute, got status %s distributed %d", replay.status, replay.distributed)
	}

	run = getJSON(t, client, ts.URL+"/api/v1/payroll/runs/"+runID, specialist)
	if status := runStatus(t, run); status != "paid" {
		t.Fatalf("expected final status paid, got %s", status)
	}

	payslips := getJSON(t, client, ts.URL+"/api/v1/payroll/runs/"+runID+"/payslips", specialist)
	var slips []map[string]any
	if err := json.Unmarshal(payslips.Data, &slips); err != nil {
		t.Fatalf("failed to decode payslips: %v", err)
	}
	if len(slips) == 0 {
		t.Fatal("expected payslips to be generated")
	}

	register := getRaw(t, client, ts.URL+"/api/v1/payroll/runs/"+runID+"/register", specialist)
	if !strings.Contains(register, employeeID) {
		t.Fatalf("expected register CSV to contain %s", employeeID)
	}

	events := getJSON(t, client, ts.URL+"/api/v1/audit/events?runId="+runID, manager)
	var auditRows []map[string]any
	if err := json.Unmarshal(events.Data, &auditRows); err != nil {
		t.Fatalf("failed to decode audit events: %v", err)
	}
	if len(auditRows) == 0 {
		t.Fatal("expected audit events for the run")
	}
}

func TestSpecialistCannotApprove(t *testing.T) {
	dbURL := os.Getenv("TEST_DATABASE_URL")
	if dbURL == "" {
		t.Skip("TEST_DATABASE_URL not set")
	}

	cfg := testConfig(t, dbURL)
	app, err := server.New(context.Background(), cfg)
	if err != nil {
		t.Fatalf("failed to start app: %v", err)
	}
	defer app.Close()

	ts := httptest.NewServer(app.Router)
	defer ts.Close()
	client := ts.Client()

	specialist := login(t, client, ts.URL, "specialist@acme.example.com", cfg.SeedPassword)
	runID := createRun(t, client, ts.URL, specialist, "2026-09", fmt.Sprintf("forbid%d", time.Now().UnixNano()))

	postJSONStatus(t, client, ts.URL+"/api/v1/payroll/runs/"+runID+"/manager-review", specialist, map[string]any{
		"decision": "approve",
	}, http.StatusForbidden)
}

func TestStoreSaveRunVersionConflict(t *testing.T) {
	dbURL := os.Getenv("TEST_DATABASE_URL")
	if dbURL == "" {
		t.Skip("TEST_DATABASE_URL not set")
	}

	cfg := testConfig(t, dbURL)
	app, err := server.New(context.Background(), cfg)
	if err != nil {
		t.Fatalf("failed to start app: %v", err)
	}
	defer app.Close()

	ts := httptest.NewServer(app.Router)
	defer ts.Close()

	specialist := login(t, ts.Client(), ts.URL, "specialist@acme.example.com", cfg.SeedPassword)
	runID := createRun(t, ts.Client(), ts.URL, specialist, "2026-10", fmt.Sprintf("cas%d", time.Now().UnixNano()))

	cryptoSvc, err := cryptoutil.New(cfg.DataEncryptionKey)
	if err != nil {
		t.Fatalf("failed to build crypto service: %v", err)
	}
	store := payroll.NewStore(app.DB, cryptoSvc)
	ctx := context.Background()

	first, err := store.LoadRun(ctx, runID)
	if err != nil {
		t.Fatalf("first load: %v", err)
	}
	second, err := store.LoadRun(ctx, runID)
	if err != nil {
		t.Fatalf("second load: %v", err)
	}

	if err := store.SaveRun(ctx, first, first.Version); err != nil {
		t.Fatalf("first save must win: %v", err)
	}
	if err := store.SaveRun(ctx, second, second.Version); !errors.Is(err, payroll.ErrConcurrentModification) {
		t.Fatalf("second save with a stale version must lose, got %v", err)
	}

	reloaded, err := store.LoadRun(ctx, runID)
	if err != nil {
		t.Fatalf("reload: %v", err)
	}
	if reloaded.Version != first.Version {
		t.Fatalf("losing save must leave the run at the winner's version %d, got %d", first.Version, reloaded.Version)
	}
}

func seedEmployee(t *testing.T, app *server.App, cfg config.Config, entity string) string {
	t.Helper()
	cryptoSvc, err := cryptoutil.New(cfg.DataEncryptionKey)
	if err != nil {
		t.Fatalf("failed to build crypto service: %v", err)
	}
	bankEnc, err := cryptoSvc.EncryptString("NL91ABNA0417164300")
	if err != nil {
		t.Fatalf("failed to encrypt bank account: %v", err)
	}

	employeeID := fmt.Sprintf("emp-%d", time.Now().UnixNano())
	_, err = app.DB.Exec(context.Background(), `
    INSERT INTO employees (id, entity, first_name, last_name, email, base_salary, tax_code, bank_account_enc, bank_status, payment_method, active)
    VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,true)
  `, employeeID, entity, "Journey", "Tester", employeeID+"@example.com", 3000.0, "T1", bankEnc, "verified", "electronic_transfer")
	if err != nil {
		t.Fatalf("failed to seed employee: %v", err)
	}
	return employeeID
}

func createRun(t *testing.T, client *http.Client, baseURL, token, period, entity string) string {
	t.Helper()
	resp := postJSON(t, client, baseURL+"/api/v1/payroll/runs", token, map[string]any{
		"period": period,
		"entity": entity,
	})
	var payload map[string]any
	if err := json.Unmarshal(resp.Data, &payload); err != nil {
		t.Fatalf("failed to decode run response: %v", err)
	}
	id, _ := payload["id"].(string)
	if id == "" {
		t.Fatal("expected run id")
	}
	status, _ := payload["status"].(string)
	if status != "draft" {
		t.Fatalf("expected new run in draft, got %s", status)
	}
	return id
}

type executeResult struct {
	status      string
	distributed int
}

func executeRun(t *testing.T, client *http.Client, baseURL, token, runID, idempotencyKey string) executeResult {
	t.Helper()
	req, err := http.NewRequest(http.MethodPost, baseURL+"/api/v1/payroll/runs/"+runID+"/execute", bytes.NewBufferString("{}"))
	if err != nil {
		t.Fatalf("failed to create request: %v", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+token)
	req.Header.Set("Idempotency-Key", idempotencyKey)
	resp, err := client.Do(req)
	if err != nil {
		t.Fatalf("request failed: %v", err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		t.Fatalf("failed to read response: %v", err)
	}
	if resp.StatusCode >= 400 {
		t.Fatalf("unexpected status %d: %s", resp.StatusCode, string(raw))
	}
	var env envelope
	if err := json.Unmarshal(raw, &env); err != nil {
		t.Fatalf("failed to decode response: %v", err)
	}

	var payload struct {
		Run struct {
			Status string `json:"status"`
		} `json:"run"`
		Distributed int `json:"distributed"`
	}
	if err := json.Unmarshal(env.Data, &payload); err != nil {
		t.Fatalf("failed to decode execute response: %v", err)
	}
	return executeResult{status: payload.Run.Status, distributed: payload.Distributed}
}

func login(t *testing.T, client *http.Client, baseURL, email, password string) string {
	t.Helper()
	resp := postJSON(t, client, baseURL+"/api/v1/auth/login", "", map[string]any{
		"email":    email,
		"password": password,
	})
	var payload map[string]any
	if err := json.Unmarshal(resp.Data, &payload); err != nil {
		t.Fatalf("failed to decode login response: %v", err)
	}
	token, _ := payload["token"].(string)
	if token == "" {
		t.Fatal("expected token")
	}
	return token
}

func runStatus(t *testing.T, env envelope) string {
	t.Helper()
	var payload map[string]any
	if err := json.Unmarshal(env.Data, &payload); err != nil {
		t.Fatalf("failed to decode run payload: %v", err)
	}
	status, _ := payload["status"].(string)
	return status
}

func postJSON(t *testing.T, client *http.Client, url, token string, body any) envelope {
	t.Helper()
	return postJSONStatus(t, client, url, token, body, 0)
}

func postJSONStatus(t *testing.T, client *http.Client, url, token string, body any, want int) envelope {
	t.Helper()
	var reader io.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		if err != nil {
			t.Fatalf("failed to marshal body: %v", err)
		}
		reader = bytes.NewBuffer(raw)
	}
	req, err := http.NewRequest(http.MethodPost, url, reader)
	if err != nil {
		t.Fatalf("failed to create request: %v", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	resp, err := client.Do(req)
	if err != nil {
		t.Fatalf("request failed: %v", err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		t.Fatalf("failed to read response: %v", err)
	}
	if want != 0 {
		if resp.StatusCode != want {
			t.Fatalf("expected status %d, got %d: %s", want, resp.StatusCode, string(raw))
		}
	} else if resp.StatusCode >= 400 {
		t.Fatalf("unexpected status %d: %s", resp.StatusCode, string(raw))
	}
	var env envelope
	if err := json.Unmarshal(raw, &env); err != nil {
		t.Fatalf("failed to decode response: %v", err)
	}
	return env
}

func getJSON(t *testing.T, client *http.Client, url, token string) envelope {
	t.Helper()
	raw := getRaw(t, client, url, token)
	var env envelope
	if err := json.Unmarshal([]byte(raw), &env); err != nil {
		t.Fatalf("failed to decode response: %v", err)
	}
	return env
}

func getRaw(t *testing.T, client *http.Client, url, token string) string {
	t.Helper()
	req, err := http.NewRequest(http.MethodGet, url, nil)
	if err != nil {
		t.Fatalf("failed to create request: %v", err)
	}
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	resp, err := client.Do(req)
	if err != nil {
		t.Fatalf("request failed: %v", err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		t.Fatalf("failed to read response: %v", err)
	}
	if resp.StatusCode >= 400 {
		t.Fatalf("unexpected status %d: %s", resp.StatusCode, string(raw))
	}
	return string(raw)
}
