package payroll

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	cryptoutil "payrun/internal/platform/crypto"
)

// Store persists runs and their records in Postgres. Bank account numbers are
// encrypted at rest when a data encryption key is configured.
type Store struct {
	DB     *pgxpool.Pool
	Crypto *cryptoutil.Service
}

func NewStore(db *pgxpool.Pool, crypto *cryptoutil.Service) *Store {
	return &Store{DB: db, Crypto: crypto}
}

func (s *Store) LoadRun(ctx context.Context, runID string) (*Run, error) {
	var run Run
	err := s.DB.QueryRow(ctx, `
    SELECT id, period, entity, status, version, created_at, updated_at
    FROM payroll_runs
    WHERE id = $1
  `, runID).Scan(&run.ID, &run.Period, &run.Entity, &run.Status, &run.Version, &run.CreatedAt, &run.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrRunNotFound
		}
		return nil, err
	}

	rows, err := s.DB.Query(ctx, `
    SELECT employee_id, base_salary, gross_salary, overtime_pay, bonuses, penalties,
           tax_lines_json, insurance_employee, insurance_employer,
           total_deductions, net_pay, bank_account_enc, COALESCE(bank_status, ''),
           payment_method, manager_override, deferred, historical_salary,
           COALESCE(exception_note, ''), COALESCE(resolution_marker, '')
    FROM payroll_run_records
    WHERE run_id = $1
    ORDER BY employee_id
  `, runID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	for rows.Next() {
		var record RunRecord
		var taxLinesJSON []byte
		var bankEnc []byte
		if err := rows.Scan(
			&record.EmployeeID, &record.BaseSalary, &record.GrossSalary, &record.OvertimePay,
			&record.Bonuses, &record.Penalties, &taxLinesJSON,
			&record.Insurance.EmployeeAmount, &record.Insurance.EmployerAmount,
			&record.TotalDeductions, &record.NetPay, &bankEnc, &record.BankStatus,
			&record.PaymentMethod, &record.ManagerOverride, &record.Deferred,
			&record.HistoricalSalary, &record.Exceptions, &record.ResolutionMarker,
		); err != nil {
			return nil, err
		}
		if len(taxLinesJSON) > 0 {
			if err := json.Unmarshal(taxLinesJSON, &record.TaxLines); err != nil {
				record.TaxLines = nil
			}
		}
		bank, err := s.Crypto.DecryptString(bankEnc)
		if err != nil {
			return nil, err
		}
		record.BankAccountNumber = bank
		run.Employees = append(run.Employees, record)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	run.RefreshAnomalies()
	return &run, nil
}

// SaveRun writes the run and its records atomically, guarded by the version
// the caller loaded. A stale expectedVersion leaves the database untouched
// and returns ErrConcurrentModification.
func (s *Store) SaveRun(ctx context.Context, run *Run, expectedVersion int) error {
	tx, err := s.DB.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return err
	}
	defer tx.Rollback(ctx)

	tag, err := tx.Exec(ctx, `
    UPDATE payroll_runs
    SET status = $1, version = version + 1, updated_at = now()
    WHERE id = $2 AND version = $3
  `, run.Status, run.ID, expectedVersion)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		var exists bool
		if err := tx.QueryRow(ctx, "SELECT EXISTS (SELECT 1 FROM payroll_runs WHERE id = $1)", run.ID).Scan(&exists); err != nil {
			return err
		}
		if !exists {
			return ErrRunNotFound
		}
		return ErrConcurrentModification
	}

	if _, err := tx.Exec(ctx, "DELETE FROM payroll_run_records WHERE run_id = $1", run.ID); err != nil {
		return err
	}
	for i := range run.Employees {
		record := run.Employees[i]
		taxLinesJSON, err := json.Marshal(record.TaxLines)
		if err != nil {
			return err
		}
		bankEnc, err := s.Crypto.EncryptString(record.BankAccountNumber)
		if err != nil {
			return err
		}
		if _, err := tx.Exec(ctx, `
      INSERT INTO payroll_run_records
        (run_id, employee_id, base_salary, gross_salary, overtime_pay, bonuses, penalties,
         tax_lines_json, insurance_employee, insurance_employer, total_deductions, net_pay,
         bank_account_enc, bank_status, payment_method, manager_override, deferred,
         historical_salary, exception_note, resolution_marker)
      VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15,$16,$17,$18,$19,$20)
    `, run.ID, record.EmployeeID, record.BaseSalary, record.GrossSalary, record.OvertimePay,
			record.Bonuses, record.Penalties, taxLinesJSON,
			record.Insurance.EmployeeAmount, record.Insurance.EmployerAmount,
			record.TotalDeductions, record.NetPay, bankEnc, record.BankStatus,
			record.PaymentMethod, record.ManagerOverride, record.Deferred,
			record.HistoricalSalary, record.Exceptions, record.ResolutionMarker,
		); err != nil {
			return err
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return err
	}
	run.Version = expectedVersion + 1
	run.UpdatedAt = time.Now().UTC()
	return nil
}
