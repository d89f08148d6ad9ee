package domain

// Outcome is a gateway's verdict on a payment attempt.
type Outcome string

const (
	OutcomeSucceeded Outcome = "SUCCEEDED"
	OutcomeFailed    Outcome = "FAILED"
	OutcomePending   Outcome = "PENDING"
)

// ReportKind identifies how a payment report reached the service.
type ReportKind string

const (
	ReportWebhook  ReportKind = "webhook"
	ReportRedirect ReportKind = "redirect"
	ReportClient   ReportKind = "client"
	ReportPoll     ReportKind = "poll"
)

// Envelope is an unauthenticated payment report as received: the raw body,
// the signature the sender attached, and any form fields the provider's
// client SDK submits alongside it.
type Envelope struct {
	Provider  Provider
	Kind      ReportKind
	Body      []byte
	Signature string
	Fields    map[string]string
}

// StatusReport is an authenticated statement from a gateway about one
// payment. AmountMinor is only meaningful when AmountKnown is set; client
// signature bundles prove authenticity but carry no amount.
type StatusReport struct {
	Provider    Provider
	Kind        ReportKind
	OrderRef    string
	PaymentRef  string
	Outcome     Outcome
	Code        string
	AmountMinor int64
	AmountKnown bool
}
