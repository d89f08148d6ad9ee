package auditlog

import "context"

// Repository persists audit entries. Save appends; entries are never updated.
type Repository interface {
	Save(ctx context.Context, e *Entry) error
	ListByOrder(ctx context.Context, orderID string) ([]Entry, error)
}
