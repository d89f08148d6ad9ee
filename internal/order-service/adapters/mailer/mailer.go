// Package mailer delivers order confirmation emails.
package mailer

import (
	"bytes"
	"context"
	"fmt"
	"log/slog"
	"text/template"
	"time"

	"github.com/wneessen/go-mail"

	"github.com/jcmexdev/storefront-payments/internal/order-service/domain"
	"github.com/jcmexdev/storefront-payments/internal/order-service/ports"
)

var confirmation = template.Must(template.New("confirmation").Parse(`Hello {{.Customer.Name}},

Thank you for your order {{.ID}}.

{{range .Items}}  {{.Quantity}} x {{.Name}} @ {{.UnitPrice.StringFixed 2}}
{{end}}
Shipping ({{.ShippingMethod}}): {{.ShippingCost.StringFixed 2}}
{{- if .CouponCode}}
Discount ({{.CouponCode}}): -{{.Discount.StringFixed 2}}
{{- end}}
Total: {{.Currency}} {{.Total.StringFixed 2}}
Payment: {{if eq .PaymentMethod "COD"}}cash on delivery{{else}}paid online{{end}}

We will let you know when it ships.
`))

// Render returns the subject and plain-text body of the confirmation email.
func Render(o *domain.Order) (string, string, error) {
	var buf bytes.Buffer
	if err := confirmation.Execute(&buf, o); err != nil {
		return "", "", fmt.Errorf("mailer: render %s: %w", o.ID, err)
	}
	return "Order confirmed: " + o.ID, buf.String(), nil
}

type SMTPConfig struct {
	Host     string
	Port     int
	Username string
	Password string
	From     string
	Timeout  time.Duration
}

var _ ports.Notifier = (*SMTP)(nil)

type SMTP struct {
	cfg  SMTPConfig
	send func(ctx context.Context, msg *mail.Msg) error
}

func NewSMTP(cfg SMTPConfig) *SMTP {
	m := &SMTP{cfg: cfg}
	m.send = m.dialAndSend
	return m
}

// OrderConfirmed sends the confirmation, bounded by ctx and the configured
// timeout.
func (m *SMTP) OrderConfirmed(ctx context.Context, o *domain.Order) error {
	if o.Customer.Email == "" {
		return fmt.Errorf("mailer: order %s has no customer email", o.ID)
	}
	subject, body, err := Render(o)
	if err != nil {
		return err
	}

	msg := mail.NewMsg()
	if err := msg.From(m.cfg.From); err != nil {
		return fmt.Errorf("mailer: from %q: %w", m.cfg.From, err)
	}
	if err := msg.To(o.Customer.Email); err != nil {
		return fmt.Errorf("mailer: order %s recipient: %w", o.ID, err)
	}
	msg.Subject(subject)
	msg.SetBodyString(mail.TypeTextPlain, body)

	if m.cfg.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, m.cfg.Timeout)
		defer cancel()
	}
	if err := m.send(ctx, msg); err != nil {
		return fmt.Errorf("mailer: send %s: %w", o.ID, err)
	}
	return nil
}

func (m *SMTP) dialAndSend(ctx context.Context, msg *mail.Msg) error {
	opts := []mail.Option{
		mail.WithPort(m.cfg.Port),
		mail.WithTLSPolicy(mail.TLSOpportunistic),
	}
	if m.cfg.Timeout > 0 {
		opts = append(opts, mail.WithTimeout(m.cfg.Timeout))
	}
	if m.cfg.Username != "" {
		opts = append(opts,
			mail.WithSMTPAuth(mail.SMTPAuthPlain),
			mail.WithUsername(m.cfg.Username),
			mail.WithPassword(m.cfg.Password),
		)
	}
	client, err := mail.NewClient(m.cfg.Host, opts...)
	if err != nil {
		return err
	}
	return client.DialAndSendWithContext(ctx, msg)
}

// Log writes confirmations to the structured log. Used when no SMTP host is
// configured.
type Log struct{}

func (Log) OrderConfirmed(ctx context.Context, o *domain.Order) error {
	subject, _, err := Render(o)
	if err != nil {
		return err
	}
	slog.InfoContext(ctx, "confirmation email", "order_id", o.ID, "to", o.Customer.Email, "subject", subject)
	return nil
}
