package payroll

import "time"

type Run struct {
	ID        string      `json:"id"`
	Period    string      `json:"period"`
	Entity    string      `json:"entity"`
	Status    string      `json:"status"`
	Version   int         `json:"version"`
	Employees []RunRecord `json:"employees"`
	CreatedAt time.Time   `json:"createdAt"`
	UpdatedAt time.Time   `json:"updatedAt"`
}

type TaxLine struct {
	Bracket string  `json:"bracket"`
	Rate    float64 `json:"rate"`
	Amount  float64 `json:"amount"`
}

type Insurance struct {
	EmployeeAmount float64 `json:"employeeAmount"`
	EmployerAmount float64 `json:"employerAmount"`
}

type RunRecord struct {
	EmployeeID        string    `json:"employeeId"`
	BaseSalary        float64   `json:"baseSalary"`
	GrossSalary       float64   `json:"grossSalary"`
	TaxLines          []TaxLine `json:"taxBreakdown"`
	Insurance         Insurance `json:"insurance"`
	Penalties         float64   `json:"penalties"`
	OvertimePay       float64   `json:"overtimePay"`
	Bonuses           float64   `json:"bonuses"`
	TotalDeductions   float64   `json:"totalDeductions"`
	NetPay            float64   `json:"netPay"`
	BankAccountNumber string    `json:"bankAccountNumber,omitempty"`
	BankStatus        string    `json:"bankStatus,omitempty"`
	PaymentMethod     string    `json:"paymentMethod"`
	ManagerOverride   bool      `json:"managerOverride"`
	Deferred          bool      `json:"deferred"`
	HistoricalSalary  float64   `json:"historicalSalary,omitempty"`
	Exceptions        string    `json:"exceptions,omitempty"`
	ResolutionMarker  string    `json:"resolutionMarker,omitempty"`

	// Anomalies is derived by Detect on read; it is never the source of truth.
	Anomalies []Anomaly `json:"anomalies"`
}

type Anomaly struct {
	Type      string  `json:"type"`
	Severity  string  `json:"severity"`
	Message   string  `json:"message"`
	Value     float64 `json:"value,omitempty"`
	Threshold float64 `json:"threshold,omitempty"`
}

type Payslip struct {
	ID         string    `json:"id"`
	RunID      string    `json:"runId"`
	EmployeeID string    `json:"employeeId"`
	Gross      float64   `json:"gross"`
	Deductions float64   `json:"deductions"`
	Net        float64   `json:"net"`
	FilePath   string    `json:"-"`
	CreatedAt  time.Time `json:"createdAt"`
}

type RegisterRow struct {
	EmployeeID    string
	FirstName     string
	LastName      string
	Gross         float64
	Deductions    float64
	Net           float64
	PaymentMethod string
	Deferred      bool
}

type Resolution struct {
	EmployeeID            string    `json:"employeeId"`
	Action                string    `json:"action"`
	Justification         string    `json:"justification"`
	OverridePaymentMethod string    `json:"overridePaymentMethod,omitempty"`
	Anomalies             []Anomaly `json:"anomalies,omitempty"`
}

// RefreshAnomalies recomputes the derived anomaly set for every record.
func (r *Run) RefreshAnomalies() {
	for i := range r.Employees {
		r.Employees[i].Anomalies = Detect(r.Employees[i])
	}
}

// HasCriticalAnomalies reports whether any record carries a critical anomaly.
func (r *Run) HasCriticalAnomalies() bool {
	for i := range r.Employees {
		for _, a := range Detect(r.Employees[i]) {
			if a.Severity == SeverityCritical {
				return true
			}
		}
	}
	return false
}

// HasAnomalies reports whether any record carries an anomaly of any severity.
func (r *Run) HasAnomalies() bool {
	for i := range r.Employees {
		if len(Detect(r.Employees[i])) > 0 {
			return true
		}
	}
	return false
}

func (r *Run) Record(employeeID string) *RunRecord {
	for i := range r.Employees {
		if r.Employees[i].EmployeeID == employeeID {
			return &r.Employees[i]
		}
	}
	return nil
}

// Clone returns a deep copy so resolution batches can be applied
// all-or-nothing.
func (r *Run) Clone() *Run {
	out := *r
	out.Employees = make([]RunRecord, len(r.Employees))
	copy(out.Employees, r.Employees)
	for i := range out.Employees {
		if lines := r.Employees[i].TaxLines; lines != nil {
			out.Employees[i].TaxLines = make([]TaxLine, len(lines))
			copy(out.Employees[i].TaxLines, lines)
		}
		if anomalies := r.Employees[i].Anomalies; anomalies != nil {
			out.Employees[i].Anomalies = make([]Anomaly, len(anomalies))
			copy(out.Employees[i].Anomalies, anomalies)
		}
	}
	return &out
}
