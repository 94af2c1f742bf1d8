package payroll

import (
	"context"
	"errors"
	"strconv"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
)

func (s *Store) CreateRun(ctx context.Context, period, entity string) (*Run, error) {
	run := &Run{
		ID:      uuid.NewString(),
		Period:  period,
		Entity:  entity,
		Status:  StatusDraft,
		Version: 1,
	}
	err := s.DB.QueryRow(ctx, `
    INSERT INTO payroll_runs (id, period, entity, status, version)
    VALUES ($1,$2,$3,$4,$5)
    RETURNING created_at, updated_at
  `, run.ID, run.Period, run.Entity, run.Status, run.Version).Scan(&run.CreatedAt, &run.UpdatedAt)
	if err != nil {
		return nil, err
	}
	return run, nil
}

func (s *Store) CountRuns(ctx context.Context, entity string) (int, error) {
	query := "SELECT COUNT(1) FROM payroll_runs"
	args := []any{}
	if entity != "" {
		query += " WHERE entity = $1"
		args = append(args, entity)
	}
	var total int
	if err := s.DB.QueryRow(ctx, query, args...).Scan(&total); err != nil {
		return 0, err
	}
	return total, nil
}

// ListRuns returns run headers only; records and anomalies are loaded per run.
func (s *Store) ListRuns(ctx context.Context, entity string, limit, offset int) ([]Run, error) {
	query := `
    SELECT id, period, entity, status, version, created_at, updated_at
    FROM payroll_runs
  `
	args := []any{}
	if entity != "" {
		query += " WHERE entity = $1"
		args = append(args, entity)
	}
	query += " ORDER BY created_at DESC LIMIT $" + itoa(len(args)+1) + " OFFSET $" + itoa(len(args)+2)
	args = append(args, limit, offset)

	rows, err := s.DB.Query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var runs []Run
	for rows.Next() {
		var run Run
		if err := rows.Scan(&run.ID, &run.Period, &run.Entity, &run.Status, &run.Version, &run.CreatedAt, &run.UpdatedAt); err != nil {
			return nil, err
		}
		runs = append(runs, run)
	}
	return runs, rows.Err()
}

// CreateInput records one overtime, bonus or penalty amount for an employee
// in a period. Inputs feed the next calculation of any run for that period.
func (s *Store) CreateInput(ctx context.Context, entity, period, employeeID, inputType string, amount float64) error {
	_, err := s.DB.Exec(ctx, `
    INSERT INTO payroll_inputs (entity, period, employee_id, input_type, amount)
    VALUES ($1,$2,$3,$4,$5)
  `, entity, period, employeeID, inputType, amount)
	return err
}

func (s *Store) CreatePayslip(ctx context.Context, runID, employeeID, filePath string) (string, error) {
	id := uuid.NewString()
	_, err := s.DB.Exec(ctx, `
    INSERT INTO payslips (id, run_id, employee_id, file_path)
    VALUES ($1,$2,$3,$4)
    ON CONFLICT (run_id, employee_id)
    DO UPDATE SET file_path = EXCLUDED.file_path
  `, id, runID, employeeID, filePath)
	if err != nil {
		return "", err
	}
	return id, nil
}

func (s *Store) ListPayslips(ctx context.Context, runID string) ([]Payslip, error) {
	rows, err := s.DB.Query(ctx, `
    SELECT p.id, p.run_id, p.employee_id, r.gross_salary, r.total_deductions, r.net_pay,
           COALESCE(p.file_path, ''), p.created_at
    FROM payslips p
    JOIN payroll_run_records r ON p.run_id = r.run_id AND p.employee_id = r.employee_id
    WHERE p.run_id = $1
    ORDER BY p.employee_id
  `, runID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var slips []Payslip
	for rows.Next() {
		var slip Payslip
		if err := rows.Scan(&slip.ID, &slip.RunID, &slip.EmployeeID, &slip.Gross, &slip.Deductions, &slip.Net, &slip.FilePath, &slip.CreatedAt); err != nil {
			return nil, err
		}
		slips = append(slips, slip)
	}
	return slips, rows.Err()
}

func (s *Store) PayslipInfo(ctx context.Context, payslipID string) (string, string, error) {
	var employeeID, filePath string
	err := s.DB.QueryRow(ctx, `
    SELECT employee_id, COALESCE(file_path, '')
    FROM payslips
    WHERE id = $1
  `, payslipID).Scan(&employeeID, &filePath)
	if errors.Is(err, pgx.ErrNoRows) {
		return "", "", ErrPayslipNotFound
	}
	if err != nil {
		return "", "", err
	}
	return employeeID, filePath, nil
}

// RegisterRows backs the payroll register export for a run.
func (s *Store) RegisterRows(ctx context.Context, runID string) ([]RegisterRow, error) {
	rows, err := s.DB.Query(ctx, `
    SELECT r.employee_id, e.first_name, e.last_name, r.gross_salary,
           r.total_deductions, r.net_pay, r.payment_method, r.deferred
    FROM payroll_run_records r
    JOIN employees e ON r.employee_id = e.id
    WHERE r.run_id = $1
    ORDER BY e.last_name, e.first_name
  `, runID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []RegisterRow
	for rows.Next() {
		var row RegisterRow
		if err := rows.Scan(&row.EmployeeID, &row.FirstName, &row.LastName, &row.Gross, &row.Deductions, &row.Net, &row.PaymentMethod, &row.Deferred); err != nil {
			return nil, err
		}
		out = append(out, row)
	}
	return out, rows.Err()
}

// LatestPaidGross returns the employee's gross from the most recent paid run,
// or zero when the employee has never been paid.
func (s *Store) LatestPaidGross(ctx context.Context, entity, employeeID string) (float64, error) {
	var gross float64
	err := s.DB.QueryRow(ctx, `
    SELECT r.gross_salary
    FROM payroll_run_records r
    JOIN payroll_runs pr ON r.run_id = pr.id
    WHERE pr.entity = $1 AND pr.status = $2 AND r.employee_id = $3
    ORDER BY pr.updated_at DESC
    LIMIT 1
  `, entity, StatusPaid, employeeID).Scan(&gross)
	if errors.Is(err, pgx.ErrNoRows) {
		return 0, nil
	}
	if err != nil {
		return 0, err
	}
	return gross, nil
}

func itoa(value int) string {
	return strconv.Itoa(value)
}
