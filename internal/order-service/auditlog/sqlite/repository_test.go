package sqlite_test

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"

	"github.com/jcmexdev/storefront-payments/internal/order-service/auditlog"
	"github.com/jcmexdev/storefront-payments/internal/order-service/auditlog/sqlite"
)

func TestSaveAndListByOrder(t *testing.T) {
	repo, err := sqlite.Open(filepath.Join(t.TempDir(), "audit.db"))
	require.NoError(t, err)
	t.Cleanup(func() { repo.Close() })

	ctx := context.Background()
	require.NoError(t, repo.Save(ctx, auditlog.NewEntry(ctx, "o-1", auditlog.KindInitiated, "razorpay", "order_A", "")))
	require.NoError(t, repo.Save(ctx, auditlog.NewEntry(ctx, "o-2", auditlog.KindCreated, "", "", "")))
	require.NoError(t, repo.Save(ctx, auditlog.NewEntry(ctx, "o-1", auditlog.KindConfirmed, "razorpay", "pay_1", "webhook")))

	entries, err := repo.ListByOrder(ctx, "o-1")
	require.NoError(t, err)
	require.Len(t, entries, 2)
	assert.Equal(t, auditlog.KindInitiated, entries[0].Kind)
	assert.Equal(t, auditlog.KindConfirmed, entries[1].Kind)
	assert.Equal(t, "pay_1", entries[1].Reference)
	assert.Empty(t, entries[1].TraceID, "no span in context")

	none, err := repo.ListByOrder(ctx, "missing")
	require.NoError(t, err)
	assert.Empty(t, none)
}

func TestNewEntryCapturesActiveSpan(t *testing.T) {
	tp := sdktrace.NewTracerProvider()
	t.Cleanup(func() { _ = tp.Shutdown(context.Background()) })

	ctx, span := tp.Tracer("test").Start(context.Background(), "confirm")
	defer span.End()

	e := auditlog.NewEntry(ctx, "o-1", auditlog.KindConfirmed, "phonepe", "T123", "")
	assert.Equal(t, span.SpanContext().TraceID().String(), e.TraceID)
	assert.Equal(t, span.SpanContext().SpanID().String(), e.SpanID)
	assert.Len(t, e.TraceID, 32)
}
