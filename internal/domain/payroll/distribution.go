package payroll

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"github.com/jung-kurt/gofpdf"
)

// PaymentDistributor distributes payments for a run and generates one payslip
// PDF per paid record. Deferred records are skipped and carry over to the
// next run.
type PaymentDistributor struct {
	store      *Store
	storageDir string
}

func NewPaymentDistributor(store *Store, storageDir string) *PaymentDistributor {
	if storageDir == "" {
		storageDir = "storage/payslips"
	}
	return &PaymentDistributor{store: store, storageDir: storageDir}
}

func (d *PaymentDistributor) DistributeAndGeneratePayslips(ctx context.Context, runID string) (int, error) {
	run, err := d.store.LoadRun(ctx, runID)
	if err != nil {
		return 0, err
	}
	if err := os.MkdirAll(d.storageDir, 0o755); err != nil {
		return 0, err
	}

	count := 0
	for i := range run.Employees {
		record := run.Employees[i]
		if record.Deferred {
			continue
		}
		name, email, err := d.employeeContact(ctx, record.EmployeeID)
		if err != nil {
			return count, err
		}
		filePath, err := d.writePayslipPDF(run, record, name, email)
		if err != nil {
			return count, err
		}
		if _, err := d.store.CreatePayslip(ctx, run.ID, record.EmployeeID, filePath); err != nil {
			return count, err
		}
		count++
	}
	return count, nil
}

func (d *PaymentDistributor) employeeContact(ctx context.Context, employeeID string) (string, string, error) {
	var firstName, lastName, email string
	err := d.store.DB.QueryRow(ctx, `
    SELECT first_name, last_name, email
    FROM employees
    WHERE id = $1
  `, employeeID).Scan(&firstName, &lastName, &email)
	if err != nil {
		return "", "", err
	}
	return firstName + " " + lastName, email, nil
}

func (d *PaymentDistributor) writePayslipPDF(run *Run, record RunRecord, name, email string) (string, error) {
	filePath := filepath.Join(d.storageDir, run.ID+"-"+record.EmployeeID+".pdf")

	pdf := gofpdf.New("P", "mm", "A4", "")
	pdf.AddPage()
	pdf.SetFont("Helvetica", "B", 16)
	pdf.Cell(40, 10, "Payslip")
	pdf.Ln(12)
	pdf.SetFont("Helvetica", "", 12)
	pdf.Cell(0, 8, fmt.Sprintf("Employee: %s", name))
	pdf.Ln(7)
	pdf.Cell(0, 8, fmt.Sprintf("Email: %s", email))
	pdf.Ln(7)
	pdf.Cell(0, 8, fmt.Sprintf("Period: %s", run.Period))
	pdf.Ln(10)
	pdf.Cell(0, 8, fmt.Sprintf("Gross: %.2f", record.GrossSalary))
	pdf.Ln(7)
	for _, line := range record.TaxLines {
		pdf.Cell(0, 8, fmt.Sprintf("Tax (%s, %.0f%%): %.2f", line.Bracket, line.Rate, line.Amount))
		pdf.Ln(7)
	}
	pdf.Cell(0, 8, fmt.Sprintf("Insurance: %.2f", record.Insurance.EmployeeAmount))
	pdf.Ln(7)
	if record.Penalties > 0 {
		pdf.Cell(0, 8, fmt.Sprintf("Penalties: %.2f", record.Penalties))
		pdf.Ln(7)
	}
	pdf.Cell(0, 8, fmt.Sprintf("Total deductions: %.2f", record.TotalDeductions))
	pdf.Ln(7)
	pdf.Cell(0, 8, fmt.Sprintf("Net: %.2f", record.NetPay))
	pdf.Ln(10)
	pdf.Cell(0, 8, fmt.Sprintf("Payment method: %s", record.PaymentMethod))

	if err := pdf.OutputFileAndClose(filePath); err != nil {
		return "", err
	}

	if d.store.Crypto != nil && d.store.Crypto.Configured() {
		data, err := os.ReadFile(filePath)
		if err != nil {
			return "", err
		}
		encrypted, err := d.store.Crypto.Encrypt(data)
		if err != nil {
			return "", err
		}
		encryptedPath := filePath + ".enc"
		if err := os.WriteFile(encryptedPath, encrypted, 0o600); err != nil {
			return "", err
		}
		if err := os.Remove(filePath); err != nil {
			return "", err
		}
		return encryptedPath, nil
	}

	return filePath, nil
}
