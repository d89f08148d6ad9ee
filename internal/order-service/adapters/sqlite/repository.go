// Package sqlite provides a SQLite-backed implementation of ports.Repository.
//
// Status changes are single UPDATE statements guarded by
// "payment_status = 'PENDING'", so two confirmations racing for the same order
// cannot both win: the second UPDATE affects zero rows.
package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"github.com/jcmexdev/storefront-payments/internal/order-service/domain"
	"github.com/jcmexdev/storefront-payments/internal/order-service/ports"

	// Pure-Go driver, no CGO.
	_ "modernc.org/sqlite"
)

const schema = `
CREATE TABLE IF NOT EXISTS orders (
    order_id            TEXT PRIMARY KEY,
    idempotency_key     TEXT NOT NULL DEFAULT '',
    customer            TEXT NOT NULL,
    shipping_address    TEXT NOT NULL,
    items               TEXT NOT NULL,
    shipping_method     TEXT NOT NULL,
    shipping_cost       TEXT NOT NULL,
    coupon_code         TEXT NOT NULL DEFAULT '',
    discount            TEXT NOT NULL,
    total               TEXT NOT NULL,
    currency            TEXT NOT NULL,
    payment_method      TEXT NOT NULL,
    payment_status      TEXT NOT NULL,
    provider            TEXT NOT NULL DEFAULT '',
    gateway_order_ref   TEXT NOT NULL DEFAULT '',
    gateway_action_url  TEXT NOT NULL DEFAULT '',
    gateway_payment_ref TEXT NOT NULL DEFAULT '',
    failure_reason      TEXT NOT NULL DEFAULT '',
    email_sent          INTEGER NOT NULL DEFAULT 0,
    created_at          TEXT NOT NULL,
    updated_at          TEXT NOT NULL
);

-- Callbacks resolve orders by the provider's reference.
CREATE UNIQUE INDEX IF NOT EXISTS idx_orders_gateway_ref
    ON orders(provider, gateway_order_ref) WHERE gateway_order_ref <> '';

CREATE INDEX IF NOT EXISTS idx_orders_created_at ON orders(created_at);
CREATE INDEX IF NOT EXISTS idx_orders_status ON orders(payment_status, created_at);
`

const columns = `order_id, idempotency_key, customer, shipping_address, items, shipping_method,
	shipping_cost, coupon_code, discount, total, currency, payment_method, payment_status,
	provider, gateway_order_ref, gateway_action_url, gateway_payment_ref, failure_reason,
	email_sent, created_at, updated_at`

var _ ports.Repository = (*Repository)(nil)

type Repository struct {
	db *sql.DB
}

// Open opens (or creates) the database at path and applies the schema.
func Open(path string) (*Repository, error) {
	dsn := fmt.Sprintf("file:%s?_pragma=journal_mode(WAL)&_pragma=foreign_keys(on)&_pragma=busy_timeout(5000)", path)

	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("sqlite: open %q: %w", path, err)
	}

	// One writer connection; conditional UPDATEs are serialised by SQLite anyway.
	db.SetMaxOpenConns(1)

	if _, err := db.Exec(schema); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("sqlite: apply schema: %w", err)
	}

	return &Repository{db: db}, nil
}

func (r *Repository) Close() error {
	return r.db.Close()
}

func (r *Repository) Ping(ctx context.Context) error {
	return r.db.PingContext(ctx)
}

func (r *Repository) Create(ctx context.Context, o *domain.Order) (*domain.Order, bool, error) {
	row, err := toRow(o)
	if err != nil {
		return nil, false, err
	}

	q := `INSERT INTO orders (` + columns + `)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(order_id) DO NOTHING`

	res, err := r.db.ExecContext(ctx, q, row.args()...)
	if err != nil {
		return nil, false, fmt.Errorf("sqlite: insert order %q: %w", o.ID, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return nil, false, fmt.Errorf("sqlite: insert order %q: %w", o.ID, err)
	}

	stored, err := r.Get(ctx, o.ID)
	if err != nil {
		return nil, false, err
	}
	if n == 1 {
		return stored, true, nil
	}
	if o.IdempotencyKey != "" && stored.IdempotencyKey == o.IdempotencyKey {
		return stored, false, nil
	}
	return nil, false, domain.ErrDuplicateOrder
}

func (r *Repository) Get(ctx context.Context, id string) (*domain.Order, error) {
	row := r.db.QueryRowContext(ctx, `SELECT `+columns+` FROM orders WHERE order_id = ?`, id)
	o, err := scanOrder(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, domain.ErrOrderNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("sqlite: get order %q: %w", id, err)
	}
	return o, nil
}

func (r *Repository) GetByGatewayRef(ctx context.Context, provider domain.Provider, ref string) (*domain.Order, error) {
	if ref == "" {
		return nil, domain.ErrOrderNotFound
	}
	row := r.db.QueryRowContext(ctx,
		`SELECT `+columns+` FROM orders WHERE provider = ? AND gateway_order_ref = ?`,
		string(provider), ref)
	o, err := scanOrder(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, domain.ErrOrderNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("sqlite: get order by ref %q: %w", ref, err)
	}
	return o, nil
}

func (r *Repository) AttachGatewayRef(ctx context.Context, id string, ref ports.GatewayRef) (*domain.Order, bool, error) {
	const q = `
		UPDATE orders
		SET    provider = ?, gateway_order_ref = ?, gateway_action_url = ?, updated_at = ?
		WHERE  order_id = ? AND gateway_order_ref = '' AND payment_status = 'PENDING'`

	res, err := r.db.ExecContext(ctx, q, string(ref.Provider), ref.OrderRef, ref.ActionURL, formatTime(ref.At), id)
	if err != nil {
		if strings.Contains(err.Error(), "UNIQUE") {
			return nil, false, domain.ErrDuplicateOrder
		}
		return nil, false, fmt.Errorf("sqlite: attach gateway ref to %q: %w", id, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return nil, false, fmt.Errorf("sqlite: attach gateway ref to %q: %w", id, err)
	}

	o, err := r.Get(ctx, id)
	if err != nil {
		return nil, false, err
	}
	return o, n == 1, nil
}

func (r *Repository) Transition(ctx context.Context, id string, t ports.Transition) (*domain.Order, bool, error) {
	const q = `
		UPDATE orders
		SET    payment_status = ?,
		       gateway_payment_ref = CASE WHEN gateway_payment_ref = '' THEN ? ELSE gateway_payment_ref END,
		       failure_reason = ?,
		       updated_at = ?
		WHERE  order_id = ? AND payment_status = 'PENDING'`

	res, err := r.db.ExecContext(ctx, q, string(t.To), t.PaymentRef, t.Reason, formatTime(t.At), id)
	if err != nil {
		return nil, false, fmt.Errorf("sqlite: transition %q to %s: %w", id, t.To, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return nil, false, fmt.Errorf("sqlite: transition %q to %s: %w", id, t.To, err)
	}

	o, err := r.Get(ctx, id)
	if err != nil {
		return nil, false, err
	}
	return o, n == 1, nil
}

func (r *Repository) MarkEmailSent(ctx context.Context, id string) (bool, error) {
	res, err := r.db.ExecContext(ctx, `UPDATE orders SET email_sent = 1 WHERE order_id = ? AND email_sent = 0`, id)
	if err != nil {
		return false, fmt.Errorf("sqlite: mark email sent for %q: %w", id, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("sqlite: mark email sent for %q: %w", id, err)
	}
	if n == 0 {
		if _, err := r.Get(ctx, id); err != nil {
			return false, err
		}
	}
	return n == 1, nil
}

func (r *Repository) List(ctx context.Context, f ports.ListFilter) ([]domain.Order, error) {
	var (
		where []string
		args  []any
	)
	if f.OrderID != "" {
		where = append(where, "order_id = ?")
		args = append(args, f.OrderID)
	}
	if !f.Date.IsZero() {
		start := ports.DayStart(f.Date)
		where = append(where, "created_at >= ? AND created_at < ?")
		args = append(args, formatTime(start), formatTime(start.AddDate(0, 0, 1)))
	}
	if f.Status != "" {
		where = append(where, "payment_status = ?")
		args = append(args, string(f.Status))
	}
	if f.Method != "" {
		where = append(where, "payment_method = ?")
		args = append(args, string(f.Method))
	}
	if !f.CreatedBefore.IsZero() {
		where = append(where, "created_at < ?")
		args = append(args, formatTime(f.CreatedBefore))
	}
	if f.EmailPending {
		where = append(where, "payment_status = 'PAID' AND email_sent = 0")
	}

	q := `SELECT ` + columns + ` FROM orders`
	if len(where) > 0 {
		q += ` WHERE ` + strings.Join(where, " AND ")
	}
	q += ` ORDER BY created_at DESC, order_id DESC`
	if f.Limit > 0 {
		q += fmt.Sprintf(` LIMIT %d`, f.Limit)
	}

	rows, err := r.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, fmt.Errorf("sqlite: list orders: %w", err)
	}
	defer rows.Close()

	out := make([]domain.Order, 0)
	for rows.Next() {
		o, err := scanOrder(rows)
		if err != nil {
			return nil, fmt.Errorf("sqlite: scan order: %w", err)
		}
		out = append(out, *o)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("sqlite: list orders: %w", err)
	}
	return out, nil
}

func (r *Repository) PurgeBefore(ctx context.Context, cutoff time.Time, statuses ...domain.PaymentStatus) (int, error) {
	if len(statuses) == 0 {
		return 0, nil
	}
	placeholders := strings.TrimSuffix(strings.Repeat("?,", len(statuses)), ",")
	args := []any{formatTime(cutoff)}
	for _, s := range statuses {
		args = append(args, string(s))
	}

	res, err := r.db.ExecContext(ctx,
		`DELETE FROM orders WHERE created_at < ? AND payment_status IN (`+placeholders+`)`, args...)
	if err != nil {
		return 0, fmt.Errorf("sqlite: purge orders: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("sqlite: purge orders: %w", err)
	}
	return int(n), nil
}

// orderRow is the flattened column form of a domain.Order.
type orderRow struct {
	id, idempotencyKey, customer, address, items              string
	shippingMethod, shippingCost, coupon, discount, total     string
	currency, method, status, provider, gatewayRef, actionURL string
	paymentRef, failureReason                                 string
	emailSent                                                 int
	createdAt, updatedAt                                      string
}

func (r orderRow) args() []any {
	return []any{
		r.id, r.idempotencyKey, r.customer, r.address, r.items, r.shippingMethod,
		r.shippingCost, r.coupon, r.discount, r.total, r.currency, r.method, r.status,
		r.provider, r.gatewayRef, r.actionURL, r.paymentRef, r.failureReason,
		r.emailSent, r.createdAt, r.updatedAt,
	}
}

type itemJSON struct {
	ProductID string          `json:"product_id"`
	Name      string          `json:"name,omitempty"`
	Quantity  int             `json:"quantity"`
	UnitPrice decimal.Decimal `json:"unit_price"`
}

func toRow(o *domain.Order) (orderRow, error) {
	customer, err := json.Marshal(o.Customer)
	if err != nil {
		return orderRow{}, fmt.Errorf("sqlite: encode customer: %w", err)
	}
	address, err := json.Marshal(o.ShippingAddress)
	if err != nil {
		return orderRow{}, fmt.Errorf("sqlite: encode address: %w", err)
	}
	its := make([]itemJSON, len(o.Items))
	for i, it := range o.Items {
		its[i] = itemJSON{ProductID: it.ProductID, Name: it.Name, Quantity: it.Quantity, UnitPrice: it.UnitPrice}
	}
	items, err := json.Marshal(its)
	if err != nil {
		return orderRow{}, fmt.Errorf("sqlite: encode items: %w", err)
	}

	emailSent := 0
	if o.EmailSent {
		emailSent = 1
	}

	return orderRow{
		id:             o.ID,
		idempotencyKey: o.IdempotencyKey,
		customer:       string(customer),
		address:        string(address),
		items:          string(items),
		shippingMethod: o.ShippingMethod,
		shippingCost:   o.ShippingCost.String(),
		coupon:         o.CouponCode,
		discount:       o.Discount.String(),
		total:          o.Total.String(),
		currency:       o.Currency,
		method:         string(o.PaymentMethod),
		status:         string(o.PaymentStatus),
		provider:       string(o.Provider),
		gatewayRef:     o.GatewayOrderRef,
		actionURL:      o.GatewayActionURL,
		paymentRef:     o.GatewayPaymentRef,
		failureReason:  o.FailureReason,
		emailSent:      emailSent,
		createdAt:      formatTime(o.CreatedAt),
		updatedAt:      formatTime(o.UpdatedAt),
	}, nil
}

type scanner interface {
	Scan(dest ...any) error
}

func scanOrder(s scanner) (*domain.Order, error) {
	var r orderRow
	err := s.Scan(
		&r.id, &r.idempotencyKey, &r.customer, &r.address, &r.items, &r.shippingMethod,
		&r.shippingCost, &r.coupon, &r.discount, &r.total, &r.currency, &r.method, &r.status,
		&r.provider, &r.gatewayRef, &r.actionURL, &r.paymentRef, &r.failureReason,
		&r.emailSent, &r.createdAt, &r.updatedAt,
	)
	if err != nil {
		return nil, err
	}
	return fromRow(r)
}

func fromRow(r orderRow) (*domain.Order, error) {
	o := &domain.Order{
		ID:                r.id,
		IdempotencyKey:    r.idempotencyKey,
		ShippingMethod:    r.shippingMethod,
		CouponCode:        r.coupon,
		Currency:          r.currency,
		PaymentMethod:     domain.PaymentMethod(r.method),
		PaymentStatus:     domain.PaymentStatus(r.status),
		Provider:          domain.Provider(r.provider),
		GatewayOrderRef:   r.gatewayRef,
		GatewayActionURL:  r.actionURL,
		GatewayPaymentRef: r.paymentRef,
		FailureReason:     r.failureReason,
		EmailSent:         r.emailSent == 1,
	}

	if err := json.Unmarshal([]byte(r.customer), &o.Customer); err != nil {
		return nil, fmt.Errorf("sqlite: decode customer: %w", err)
	}
	if err := json.Unmarshal([]byte(r.address), &o.ShippingAddress); err != nil {
		return nil, fmt.Errorf("sqlite: decode address: %w", err)
	}
	var its []itemJSON
	if err := json.Unmarshal([]byte(r.items), &its); err != nil {
		return nil, fmt.Errorf("sqlite: decode items: %w", err)
	}
	o.Items = make([]domain.OrderItem, len(its))
	for i, it := range its {
		o.Items[i] = domain.OrderItem{ProductID: it.ProductID, Name: it.Name, Quantity: it.Quantity, UnitPrice: it.UnitPrice}
	}

	var err error
	if o.ShippingCost, err = decimal.NewFromString(r.shippingCost); err != nil {
		return nil, fmt.Errorf("sqlite: decode shipping cost: %w", err)
	}
	if o.Discount, err = decimal.NewFromString(r.discount); err != nil {
		return nil, fmt.Errorf("sqlite: decode discount: %w", err)
	}
	if o.Total, err = decimal.NewFromString(r.total); err != nil {
		return nil, fmt.Errorf("sqlite: decode total: %w", err)
	}
	if o.CreatedAt, err = parseTime(r.createdAt); err != nil {
		return nil, err
	}
	if o.UpdatedAt, err = parseTime(r.updatedAt); err != nil {
		return nil, err
	}
	return o, nil
}
