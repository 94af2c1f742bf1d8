package notifications

import "context"

type StoreAPI interface {
	CreateNotification(ctx context.Context, userID, ntype, title, body string) error
	UserEmail(ctx context.Context, userID string) (string, error)
	UserIDsByRoles(ctx context.Context, roles []string) ([]string, error)
	ListNotifications(ctx context.Context, userID string, limit, offset int) ([]map[string]any, error)
	CountNotifications(ctx context.Context, userID string) (int, error)
	MarkRead(ctx context.Context, userID, notificationID string) error
	EmailSettings(ctx context.Context) (bool, string, error)
	UpdateSettings(ctx context.Context, enabled bool, from string) error
}
