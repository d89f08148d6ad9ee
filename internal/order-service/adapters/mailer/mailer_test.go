package mailer

import (
	"context"
	"errors"
	"net"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/wneessen/go-mail"

	"github.com/jcmexdev/storefront-payments/internal/order-service/domain"
)

func testOrder() *domain.Order {
	return &domain.Order{
		ID:             "o-1",
		Customer:       domain.Customer{Name: "Asha", Email: "asha@example.com"},
		Items:          []domain.OrderItem{{ProductID: "p-1", Name: "Tea", Quantity: 2, UnitPrice: decimal.RequireFromString("425")}},
		ShippingMethod: "standard",
		ShippingCost:   decimal.RequireFromString("80"),
		Total:          decimal.RequireFromString("930"),
		Currency:       "INR",
		PaymentMethod:  domain.MethodGateway,
	}
}

func TestRender(t *testing.T) {
	subject, body, err := Render(testOrder())
	require.NoError(t, err)
	assert.Equal(t, "Order confirmed: o-1", subject)
	assert.Contains(t, body, "Hello Asha")
	assert.Contains(t, body, "2 x Tea @ 425.00")
	assert.Contains(t, body, "Total: INR 930.00")
	assert.Contains(t, body, "paid online")
	assert.NotContains(t, body, "Discount")
}

func TestSMTPSends(t *testing.T) {
	var got *mail.Msg
	m := NewSMTP(SMTPConfig{Host: "smtp.example", Port: 587, From: "shop@example.com"})
	m.send = func(_ context.Context, msg *mail.Msg) error {
		got = msg
		return nil
	}

	require.NoError(t, m.OrderConfirmed(context.Background(), testOrder()))
	require.NotNil(t, got)
	rcpts, err := got.GetRecipients()
	require.NoError(t, err)
	assert.Equal(t, []string{"asha@example.com"}, rcpts)
	assert.Equal(t, []string{"Order confirmed: o-1"}, got.GetGenHeader(mail.HeaderSubject))
}

func TestSMTPErrors(t *testing.T) {
	m := NewSMTP(SMTPConfig{Host: "smtp.example", Port: 587, From: "shop@example.com", Timeout: 10 * time.Millisecond})
	m.send = func(context.Context, *mail.Msg) error { return errors.New("421 try later") }
	assert.ErrorContains(t, m.OrderConfirmed(context.Background(), testOrder()), "421")

	m.send = func(ctx context.Context, _ *mail.Msg) error {
		<-ctx.Done()
		return ctx.Err()
	}
	assert.ErrorIs(t, m.OrderConfirmed(context.Background(), testOrder()), context.DeadlineExceeded)

	noEmail := testOrder()
	noEmail.Customer.Email = ""
	assert.Error(t, m.OrderConfirmed(context.Background(), noEmail))
}

func TestSMTPGivesUpOnSilentServer(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)

	// Accept connections but never send the SMTP greeting.
	conns := make(chan net.Conn, 8)
	go func() {
		for {
			conn, err := ln.Accept()
			if err != nil {
				return
			}
			conns <- conn
		}
	}()
	t.Cleanup(func() {
		ln.Close()
		for {
			select {
			case c := <-conns:
				c.Close()
			default:
				return
			}
		}
	})

	addr := ln.Addr().(*net.TCPAddr)
	m := NewSMTP(SMTPConfig{Host: "127.0.0.1", Port: addr.Port, From: "shop@example.com", Timeout: 200 * time.Millisecond})

	start := time.Now()
	err = m.OrderConfirmed(context.Background(), testOrder())
	assert.Error(t, err)
	assert.Less(t, time.Since(start), 5*time.Second)
}
