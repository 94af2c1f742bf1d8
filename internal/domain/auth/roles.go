package auth

const (
	RoleSpecialist = "specialist"
	RoleManager    = "manager"
	RoleFinance    = "finance"
	RoleAdmin      = "admin"
)

const UserStatusActive = "active"

const (
	PermRunsRead          = "payroll.runs.read"
	PermRunsWrite         = "payroll.runs.write"
	PermRunsCalculate     = "payroll.runs.calculate"
	PermRunsReview        = "payroll.runs.review"
	PermRunsFinanceReview = "payroll.runs.finance_review"
	PermRunsExecute       = "payroll.runs.execute"
	PermAuditRead         = "audit.read"
	PermMetricsRead       = "admin.metrics"
)

var DefaultPermissions = []string{
	PermRunsRead,
	PermRunsWrite,
	PermRunsCalculate,
	PermRunsReview,
	PermRunsFinanceReview,
	PermRunsExecute,
	PermAuditRead,
	PermMetricsRead,
}

var RolePermissions = map[string][]string{
	RoleSpecialist: {
		PermRunsRead,
		PermRunsWrite,
		PermRunsCalculate,
		PermRunsExecute,
	},
	RoleManager: {
		PermRunsRead,
		PermRunsReview,
		PermAuditRead,
	},
	RoleFinance: {
		PermRunsRead,
		PermRunsFinanceReview,
		PermAuditRead,
	},
	RoleAdmin: {
		PermRunsRead,
		PermAuditRead,
		PermMetricsRead,
	},
}
