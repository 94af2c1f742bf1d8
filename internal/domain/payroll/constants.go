package payroll

const (
	StatusDraft                  = "draft"
	StatusCalculated             = "calculated"
	StatusUnderReview            = "under_review"
	StatusPendingFinanceApproval = "pending_finance_approval"
	StatusApproved               = "approved"
	StatusLocked                 = "locked"
	StatusPaid                   = "paid"

	EventCalculate      = "calculate"
	EventPublish        = "publish"
	EventManagerApprove = "manager_approve"
	EventManagerReject  = "manager_reject"
	EventFinanceApprove = "finance_approve"
	EventFinanceReject  = "finance_reject"
	EventLock           = "lock"
	EventUnfreeze       = "unfreeze"
	EventExecute        = "execute"

	AnomalyNegativeNetPay   = "negative_net_pay"
	AnomalyMissingBankInfo  = "missing_bank_info"
	AnomalySalarySpike      = "salary_spike"
	AnomalyMissingTaxInfo   = "missing_tax_info"
	AnomalyBackendException = "backend_exception"

	SeverityCritical = "critical"
	SeverityWarning  = "warning"

	ActionDeferToNextRun        = "defer_to_next_run"
	ActionOverridePaymentMethod = "override_payment_method"
	ActionRejectPayroll         = "reject_payroll"
	ActionRecalculate           = "re_calculate"

	PaymentElectronic   = "electronic_transfer"
	PaymentCheque       = "cheque"
	PaymentCash         = "cash"
	PaymentWireTransfer = "wire_transfer"

	MarkerOverride = "override"
	MarkerDeferred = "deferred"

	InputOvertime = "overtime"
	InputBonus    = "bonus"
	InputPenalty  = "penalty"

	BankStatusMissing = "missing"
)

const (
	// MinJustification applies to resolutions and unfreeze.
	MinJustification = 20
	// MinRejectionReason applies to manager and finance rejections.
	MinRejectionReason = 10
	// SalarySpikeThresholdPct is the gross increase over historical salary
	// that flags a spike.
	SalarySpikeThresholdPct = 20.0
)
