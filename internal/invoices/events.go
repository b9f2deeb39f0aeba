package invoices

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/shopspring/decimal"

	"github.com/imrishuroy/go-invoice-service/internal/aws"
)

// Lifecycle event types.
const (
	EventCreated = "invoice.created"
	EventUpdated = "invoice.updated"
	EventDeleted = "invoice.deleted"
)

// Event is the message published after every successful mutation.
type Event struct {
	EventID       string          `json:"event_id"`
	Type          string          `json:"type"`
	InvoiceID     string          `json:"invoice_id"`
	InvoiceNumber int             `json:"invoice_number"`
	TotalAmount   decimal.Decimal `json:"total_amount"`
	OccurredAt    time.Time       `json:"occurred_at"`
	CorrelationID string          `json:"correlation_id,omitempty"`
}

func (ev Event) MarshalJSON() ([]byte, error) {
	type plain Event
	return json.Marshal(struct {
		plain
		TotalAmount json.Number `json:"total_amount"`
	}{plain(ev), jsonNumber(ev.TotalAmount)})
}

// EventPublisher delivers lifecycle events.
type EventPublisher interface {
	Publish(ctx context.Context, ev Event) error
}

// NopPublisher drops events. Used when no queue is configured.
type NopPublisher struct{}

func (NopPublisher) Publish(context.Context, Event) error { return nil }

// SQSPublisher sends events as JSON messages through an aws.Publisher.
type SQSPublisher struct {
	publisher *aws.Publisher
}

func NewSQSPublisher(p *aws.Publisher) *SQSPublisher {
	return &SQSPublisher{publisher: p}
}

func (p *SQSPublisher) Publish(ctx context.Context, ev Event) error {
	body, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("marshal event: %w", err)
	}
	attrs := map[string]string{
		"event_type":     ev.Type,
		"invoice_id":     ev.InvoiceID,
		"correlation_id": ev.CorrelationID,
	}
	if _, err := p.publisher.SendMessage(ctx, string(body), attrs); err != nil {
		return fmt.Errorf("publish %s: %w", ev.Type, err)
	}
	return nil
}

type correlationKey struct{}

// WithCorrelationID attaches a request correlation id to ctx; events
// published under ctx carry it.
func WithCorrelationID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, correlationKey{}, id)
}

// CorrelationID returns the id set by WithCorrelationID, or "".
func CorrelationID(ctx context.Context) string {
	id, _ := ctx.Value(correlationKey{}).(string)
	return id
}
