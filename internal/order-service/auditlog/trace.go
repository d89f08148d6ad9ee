package auditlog

import (
	"context"
	"time"

	"go.opentelemetry.io/otel/trace"
)

// TraceInfo holds the OTel identifiers extracted from a context.
type TraceInfo struct {
	TraceID string
	SpanID  string
}

// ExtractTraceInfo returns the active span's IDs as hex strings, or empty
// strings when ctx carries no valid span (tests, background sweeps).
func ExtractTraceInfo(ctx context.Context) TraceInfo {
	sc := trace.SpanFromContext(ctx).SpanContext()
	if !sc.IsValid() {
		return TraceInfo{}
	}
	return TraceInfo{
		TraceID: sc.TraceID().String(),
		SpanID:  sc.SpanID().String(),
	}
}

// NewEntry builds an Entry stamped with the trace info found in ctx.
//
//	entry := auditlog.NewEntry(ctx, order.ID, auditlog.KindConfirmed, "razorpay", "pay_29QQoUBi66xm2f", "")
//	_ = repo.Save(ctx, entry)
func NewEntry(ctx context.Context, orderID string, kind Kind, provider, reference, detail string) *Entry {
	ti := ExtractTraceInfo(ctx)
	return &Entry{
		OrderID:   orderID,
		Kind:      kind,
		Provider:  provider,
		Reference: reference,
		Detail:    detail,
		TraceID:   ti.TraceID,
		SpanID:    ti.SpanID,
		CreatedAt: time.Now().UTC(),
	}
}
