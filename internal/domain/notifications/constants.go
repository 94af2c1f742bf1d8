package notifications

const (
	TypeRunPublished = "run_published"
	TypeRunApproved  = "run_approved"
	TypeRunRejected  = "run_rejected"
	TypeRunLocked    = "run_locked"
	TypeRunUnfrozen  = "run_unfrozen"
	TypeRunPaid      = "run_paid"

	TypePasswordReset = "password_reset"
)
