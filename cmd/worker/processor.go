package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/aws/aws-lambda-go/events"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/imrishuroy/go-invoice-service/internal/idempotency"
	"github.com/imrishuroy/go-invoice-service/internal/invoices"
)

// errSkip marks a message that must not be processed again.
var errSkip = errors.New("already handled")

// dedupeStore is the part of idempotency.Store the processor uses.
type dedupeStore interface {
	CreateIfNotExists(ctx context.Context, key, invoiceID, eventType string) (bool, error)
	Get(ctx context.Context, key string) (*idempotency.Record, error)
	Reclaim(ctx context.Context, key string, attempts int) (bool, error)
	ReclaimStale(ctx context.Context, key string, attempts int, seen time.Time) (bool, error)
	MarkDone(ctx context.Context, key string) error
	MarkFailed(ctx context.Context, key, note string) error
}

type eventRecorder interface {
	RecordInvoiceEvent(ctx context.Context, eventType string, amount decimal.Decimal, withAmount bool) error
}

// defaultLease is how long an IN_PROGRESS record is honoured before a
// redelivery may take it over. Longer than the Lambda timeout.
const defaultLease = 15 * time.Minute

// Processor consumes invoice lifecycle events from SQS. Each event id is
// handled at most once; redeliveries of finished events are acknowledged
// without side effects.
type Processor struct {
	dedupe  dedupeStore
	metrics eventRecorder
	logger  *zap.Logger
	lease   time.Duration
	nowFunc func() time.Time
}

func NewProcessor(dedupe dedupeStore, metrics eventRecorder, logger *zap.Logger) *Processor {
	return &Processor{
		dedupe:  dedupe,
		metrics: metrics,
		logger:  logger,
		lease:   defaultLease,
		nowFunc: time.Now,
	}
}

// Handle processes a batch and reports failed messages individually so
// that only those are redelivered.
func (p *Processor) Handle(ctx context.Context, ev events.SQSEvent) (events.SQSEventResponse, error) {
	var resp events.SQSEventResponse
	for _, rec := range ev.Records {
		if err := p.processMessage(ctx, rec); err != nil {
			p.logger.Error("worker error",
				zap.String("message_id", rec.MessageId),
				zap.Error(err))
			resp.BatchItemFailures = append(resp.BatchItemFailures, events.SQSBatchItemFailure{
				ItemIdentifier: rec.MessageId,
			})
		}
	}
	return resp, nil
}

func (p *Processor) processMessage(ctx context.Context, rec events.SQSMessage) error {
	var ev invoices.Event
	if err := json.Unmarshal([]byte(rec.Body), &ev); err != nil {
		return fmt.Errorf("invalid message body: %w", err)
	}
	if ev.EventID == "" {
		return fmt.Errorf("message %s has no event_id", rec.MessageId)
	}

	log := p.logger.With(
		zap.String("event_id", ev.EventID),
		zap.String("event_type", ev.Type),
		zap.String("invoice_id", ev.InvoiceID),
		zap.String("correlation_id", ev.CorrelationID),
	)

	err := p.claim(ctx, ev)
	if errors.Is(err, errSkip) {
		log.Info("duplicate delivery skipped")
		return nil
	}
	if err != nil {
		return err
	}

	withAmount := ev.Type == invoices.EventCreated
	if err := p.metrics.RecordInvoiceEvent(ctx, ev.Type, ev.TotalAmount, withAmount); err != nil {
		if mErr := p.dedupe.MarkFailed(ctx, ev.EventID, err.Error()); mErr != nil {
			log.Warn("failed to mark event failed", zap.Error(mErr))
		}
		return fmt.Errorf("record metrics: %w", err)
	}

	if err := p.dedupe.MarkDone(ctx, ev.EventID); err != nil {
		return fmt.Errorf("mark done: %w", err)
	}

	log.Info("invoice event processed", zap.Int("invoice_number", ev.InvoiceNumber))
	return nil
}

// claim takes ownership of ev or returns errSkip when it is done or being
// handled by another consumer. An IN_PROGRESS record older than the lease
// was left by a consumer that died and is taken over.
func (p *Processor) claim(ctx context.Context, ev invoices.Event) error {
	created, err := p.dedupe.CreateIfNotExists(ctx, ev.EventID, ev.InvoiceID, ev.Type)
	if err != nil {
		return fmt.Errorf("create idempotency record: %w", err)
	}
	if created {
		return nil
	}

	existing, err := p.dedupe.Get(ctx, ev.EventID)
	if err != nil {
		return fmt.Errorf("get idempotency record: %w", err)
	}
	if existing == nil {
		// expired between the two calls
		return fmt.Errorf("idempotency record for %s vanished", ev.EventID)
	}

	switch existing.Status {
	case idempotency.StatusDone:
		return errSkip
	case idempotency.StatusInProgress:
		if p.nowFunc().Sub(existing.UpdatedAt) < p.lease {
			return errSkip
		}
		ok, err := p.dedupe.ReclaimStale(ctx, ev.EventID, existing.Attempts+1, existing.UpdatedAt)
		if err != nil {
			return fmt.Errorf("take over stale idempotency record: %w", err)
		}
		if !ok {
			return errSkip
		}
		p.logger.Warn("took over abandoned event",
			zap.String("event_id", ev.EventID),
			zap.Time("last_update", existing.UpdatedAt))
		return nil
	case idempotency.StatusFailed:
		ok, err := p.dedupe.Reclaim(ctx, ev.EventID, existing.Attempts+1)
		if err != nil {
			return fmt.Errorf("reclaim idempotency record: %w", err)
		}
		if !ok {
			return errSkip
		}
		return nil
	default:
		return fmt.Errorf("unexpected idempotency status %q", existing.Status)
	}
}
