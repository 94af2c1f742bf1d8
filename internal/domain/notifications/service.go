package notifications

import (
	"context"
	"fmt"
	"log/slog"

	"payrun/internal/domain/auth"
)

type Mailer interface {
	Send(ctx context.Context, from, to, subject, body string) error
}

type Service struct {
	store       StoreAPI
	Mailer      Mailer
	DefaultFrom string
}

func New(store StoreAPI, mailer Mailer) *Service {
	return &Service{store: store, Mailer: mailer, DefaultFrom: "no-reply@example.com"}
}

func (s *Service) Create(ctx context.Context, userID, ntype, title, body string) error {
	if err := s.store.CreateNotification(ctx, userID, ntype, title, body); err != nil {
		return err
	}

	if s.Mailer == nil {
		return nil
	}

	enabled, from := s.getEmailSettings(ctx)
	if !enabled {
		return nil
	}
	if from == "" {
		from = s.DefaultFrom
	}

	email, err := s.store.UserEmail(ctx, userID)
	if err != nil {
		slog.Warn("notification email lookup failed", "err", err)
		return nil
	}
	if email == "" {
		return nil
	}
	if err := s.Mailer.Send(ctx, from, email, title, body); err != nil {
		slog.Warn("notification email send failed", "err", err)
	}
	return nil
}

// runEventFanout maps a lifecycle event to the notification type and the
// roles whose work it unblocks.
var runEventFanout = map[string]struct {
	ntype string
	title string
	roles []string
}{
	"publish":         {TypeRunPublished, "Payroll run ready for review", []string{auth.RoleManager}},
	"manager_approve": {TypeRunApproved, "Payroll run awaiting finance approval", []string{auth.RoleFinance}},
	"manager_reject":  {TypeRunRejected, "Payroll run rejected by manager", []string{auth.RoleSpecialist}},
	"finance_approve": {TypeRunApproved, "Payroll run approved by finance", []string{auth.RoleManager, auth.RoleSpecialist}},
	"finance_reject":  {TypeRunRejected, "Payroll run rejected by finance", []string{auth.RoleSpecialist}},
	"lock":            {TypeRunLocked, "Payroll run locked for execution", []string{auth.RoleSpecialist}},
	"unfreeze":        {TypeRunUnfrozen, "Locked payroll run reopened", []string{auth.RoleSpecialist, auth.RoleFinance}},
	"execute":         {TypeRunPaid, "Payroll run paid", []string{auth.RoleManager, auth.RoleFinance}},
}

// NotifyRunEvent fans a run lifecycle event out to the roles that act on it.
// Failures are logged and swallowed; notifications never fail the transition.
func (s *Service) NotifyRunEvent(ctx context.Context, runID, event, actorID string) {
	fanout, ok := runEventFanout[event]
	if !ok {
		return
	}
	userIDs, err := s.store.UserIDsByRoles(ctx, fanout.roles)
	if err != nil {
		slog.Warn("notification recipient lookup failed", "event", event, "err", err)
		return
	}
	body := fmt.Sprintf("Run %s: %s.", runID, fanout.title)
	for _, userID := range userIDs {
		if userID == actorID {
			continue
		}
		if err := s.Create(ctx, userID, fanout.ntype, fanout.title, body); err != nil {
			slog.Warn("notification create failed", "event", event, "user", userID, "err", err)
		}
	}
}

func (s *Service) List(ctx context.Context, userID string, limit, offset int) ([]map[string]any, error) {
	return s.store.ListNotifications(ctx, userID, limit, offset)
}

func (s *Service) Count(ctx context.Context, userID string) (int, error) {
	return s.store.CountNotifications(ctx, userID)
}

func (s *Service) MarkRead(ctx context.Context, userID, notificationID string) error {
	return s.store.MarkRead(ctx, userID, notificationID)
}

func (s *Service) getEmailSettings(ctx context.Context) (bool, string) {
	enabled, from, err := s.store.EmailSettings(ctx)
	if err != nil {
		return false, ""
	}
	return enabled, from
}

func (s *Service) GetSettings(ctx context.Context) (bool, string, error) {
	return s.store.EmailSettings(ctx)
}

func (s *Service) UpdateSettings(ctx context.Context, enabled bool, from string) error {
	return s.store.UpdateSettings(ctx, enabled, from)
}
