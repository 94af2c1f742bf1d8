package payroll

import (
	"context"
	"math"
)

// CalcInput is everything the calculation needs for one employee.
type CalcInput struct {
	EmployeeID        string
	BaseSalary        float64
	OvertimePay       float64
	Bonuses           float64
	Penalties         float64
	TaxCode           string
	BankAccountNumber string
	BankStatus        string
	PaymentMethod     string
	HistoricalSalary  float64
	ExceptionNote     string
}

type taxBracket struct {
	name string
	upTo float64
	rate float64
}

// Progressive monthly brackets. Each bracket taxes only the slice of gross
// that falls inside it.
var taxBrackets = []taxBracket{
	{name: "exempt", upTo: 1000, rate: 0},
	{name: "basic", upTo: 3000, rate: 10},
	{name: "middle", upTo: 6000, rate: 20},
	{name: "upper", upTo: math.MaxFloat64, rate: 30},
}

const (
	insuranceEmployeePct = 8.0
	insuranceEmployerPct = 17.5
)

// ComputeRecord produces one run record from calculation inputs. An employee
// without a tax code gets no tax lines; detection flags that downstream.
func ComputeRecord(input CalcInput) RunRecord {
	record := RunRecord{
		EmployeeID:        input.EmployeeID,
		BaseSalary:        input.BaseSalary,
		OvertimePay:       input.OvertimePay,
		Bonuses:           input.Bonuses,
		Penalties:         input.Penalties,
		BankAccountNumber: input.BankAccountNumber,
		BankStatus:        input.BankStatus,
		PaymentMethod:     input.PaymentMethod,
		HistoricalSalary:  input.HistoricalSalary,
		Exceptions:        input.ExceptionNote,
	}
	if record.PaymentMethod == "" {
		record.PaymentMethod = PaymentElectronic
	}

	record.GrossSalary = round2(input.BaseSalary + input.OvertimePay + input.Bonuses)

	var totalTax float64
	if input.TaxCode != "" {
		record.TaxLines, totalTax = computeTax(record.GrossSalary)
	}

	record.Insurance = Insurance{
		EmployeeAmount: round2(record.GrossSalary * insuranceEmployeePct / 100),
		EmployerAmount: round2(record.GrossSalary * insuranceEmployerPct / 100),
	}

	record.TotalDeductions = round2(totalTax + record.Insurance.EmployeeAmount + input.Penalties)
	record.NetPay = round2(record.GrossSalary - record.TotalDeductions)
	return record
}

func computeTax(gross float64) ([]TaxLine, float64) {
	var lines []TaxLine
	var total float64
	lower := 0.0
	for _, bracket := range taxBrackets {
		if gross <= lower {
			break
		}
		slice := math.Min(gross, bracket.upTo) - lower
		amount := round2(slice * bracket.rate / 100)
		lines = append(lines, TaxLine{Bracket: bracket.name, Rate: bracket.rate, Amount: amount})
		total += amount
		lower = bracket.upTo
	}
	return lines, round2(total)
}

func round2(value float64) float64 {
	return math.Round(value*100) / 100
}

// DBCalculator computes run records from employee master data and period
// inputs. It satisfies Calculator for both initial calculation and
// recalculation during resolution processing.
type DBCalculator struct {
	store *Store
}

func NewDBCalculator(store *Store) *DBCalculator {
	return &DBCalculator{store: store}
}

func (c *DBCalculator) ComputePayroll(ctx context.Context, runID string) ([]RunRecord, error) {
	run, err := c.store.LoadRun(ctx, runID)
	if err != nil {
		return nil, err
	}

	inputs, err := c.loadEmployeeInputs(ctx, run.Entity, run.Period)
	if err != nil {
		return nil, err
	}

	records := make([]RunRecord, 0, len(inputs))
	for _, input := range inputs {
		historical, err := c.store.LatestPaidGross(ctx, run.Entity, input.EmployeeID)
		if err != nil {
			return nil, err
		}
		input.HistoricalSalary = historical
		records = append(records, ComputeRecord(input))
	}
	return records, nil
}

func (c *DBCalculator) loadEmployeeInputs(ctx context.Context, entity, period string) ([]CalcInput, error) {
	rows, err := c.store.DB.Query(ctx, `
    SELECT e.id, e.base_salary, COALESCE(e.tax_code, ''), e.bank_account_enc,
           COALESCE(e.bank_status, ''), COALESCE(e.payment_method, ''),
           COALESCE(e.exception_note, ''),
           COALESCE(SUM(pi.amount) FILTER (WHERE pi.input_type = 'overtime'), 0),
           COALESCE(SUM(pi.amount) FILTER (WHERE pi.input_type = 'bonus'), 0),
           COALESCE(SUM(pi.amount) FILTER (WHERE pi.input_type = 'penalty'), 0)
    FROM employees e
    LEFT JOIN payroll_inputs pi
      ON pi.employee_id = e.id AND pi.entity = e.entity AND pi.period = $2
    WHERE e.entity = $1 AND e.active = true
    GROUP BY e.id
    ORDER BY e.id
  `, entity, period)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var inputs []CalcInput
	for rows.Next() {
		var input CalcInput
		var bankEnc []byte
		if err := rows.Scan(
			&input.EmployeeID, &input.BaseSalary, &input.TaxCode, &bankEnc,
			&input.BankStatus, &input.PaymentMethod, &input.ExceptionNote,
			&input.OvertimePay, &input.Bonuses, &input.Penalties,
		); err != nil {
			return nil, err
		}
		bank, err := c.store.Crypto.DecryptString(bankEnc)
		if err != nil {
			return nil, err
		}
		input.BankAccountNumber = bank
		inputs = append(inputs, input)
	}
	return inputs, rows.Err()
}
