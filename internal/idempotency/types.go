package idempotency

import "time"

// Status values for processed-event entries
const (
	StatusInProgress = "IN_PROGRESS"
	StatusDone       = "DONE"
	StatusFailed     = "FAILED"
)

// Record is the shape persisted in the idempotency table, one per event id.
type Record struct {
	Key       string    `dynamodbav:"idempotency_key"` // PK, the event id
	Status    string    `dynamodbav:"status"`
	InvoiceID string    `dynamodbav:"invoice_id,omitempty"`
	EventType string    `dynamodbav:"event_type,omitempty"`
	Attempts  int       `dynamodbav:"attempts"`
	CreatedAt time.Time `dynamodbav:"created_at"`
	UpdatedAt time.Time `dynamodbav:"updated_at"`
	ExpiresAt int64     `dynamodbav:"expires_at"` // TTL epoch seconds
	Note      string    `dynamodbav:"note,omitempty"`
}
