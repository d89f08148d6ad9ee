package ports

import (
	"sort"
	"time"

	"github.com/jcmexdev/storefront-payments/internal/order-service/domain"
)

// Match reports whether o satisfies every constraint set on f. Stores that
// cannot push the filter down to a query use it together with SortNewestFirst.
func (f ListFilter) Match(o *domain.Order) bool {
	if f.OrderID != "" && o.ID != f.OrderID {
		return false
	}
	if !f.Date.IsZero() {
		start := DayStart(f.Date)
		created := o.CreatedAt.UTC()
		if created.Before(start) || !created.Before(start.AddDate(0, 0, 1)) {
			return false
		}
	}
	if f.Status != "" && o.PaymentStatus != f.Status {
		return false
	}
	if f.Method != "" && o.PaymentMethod != f.Method {
		return false
	}
	if !f.CreatedBefore.IsZero() && !o.CreatedAt.Before(f.CreatedBefore) {
		return false
	}
	if f.EmailPending && (o.EmailSent || o.PaymentStatus != domain.StatusPaid) {
		return false
	}
	return true
}

// DayStart truncates t to midnight UTC.
func DayStart(t time.Time) time.Time {
	y, m, d := t.UTC().Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

// SortNewestFirst orders by CreatedAt descending, then ID for stability, and
// applies the filter's limit.
func SortNewestFirst(orders []domain.Order, limit int) []domain.Order {
	sort.SliceStable(orders, func(i, j int) bool {
		if orders[i].CreatedAt.Equal(orders[j].CreatedAt) {
			return orders[i].ID > orders[j].ID
		}
		return orders[i].CreatedAt.After(orders[j].CreatedAt)
	})
	if limit > 0 && len(orders) > limit {
		orders = orders[:limit]
	}
	return orders
}

// Clone returns a deep copy of o so callers cannot alias a store's state.
func Clone(o *domain.Order) *domain.Order {
	if o == nil {
		return nil
	}
	c := *o
	c.Items = append([]domain.OrderItem(nil), o.Items...)
	return &c
}
