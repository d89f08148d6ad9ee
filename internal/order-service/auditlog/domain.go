// Package auditlog is the durable, append-only trail of every payment event
// the reconciliation service observes: accepted confirmations, rejected
// signatures, amount mismatches, expiries, overrides and side-effect results.
//
// Each entry carries the trace and span IDs active when it was written, so a
// row can be followed to the full request trace.
package auditlog

import "time"

// Kind names what happened to the order.
type Kind string

const (
	KindCreated           Kind = "CREATED"
	KindInitiated         Kind = "INITIATED"
	KindConfirmed         Kind = "CONFIRMED"
	KindDeclined          Kind = "DECLINED"
	KindDuplicate         Kind = "DUPLICATE_REPORT"
	KindRejectedSignature Kind = "REJECTED_SIGNATURE"
	KindAmountMismatch    Kind = "AMOUNT_MISMATCH"
	KindReferenceMismatch Kind = "REFERENCE_MISMATCH"
	KindExpired           Kind = "EXPIRED"
	KindPurged            Kind = "PURGED"
	KindOverride          Kind = "OVERRIDE"
	KindEmailSent         Kind = "EMAIL_SENT"
	KindEmailFailed       Kind = "EMAIL_FAILED"
	KindCapturedOnFailed  Kind = "CAPTURED_ON_FAILED" // money taken after the order failed; refund or override
)

// Entry is one row in the payment_events table.
type Entry struct {
	OrderID   string
	Kind      Kind
	Provider  string
	Reference string
	Detail    string
	Actor     string
	TraceID   string
	SpanID    string
	CreatedAt time.Time
}
