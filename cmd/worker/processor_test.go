package main

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/aws/aws-lambda-go/events"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/imrishuroy/go-invoice-service/internal/aws/awstest"
	"github.com/imrishuroy/go-invoice-service/internal/idempotency"
	"github.com/imrishuroy/go-invoice-service/internal/invoices"
	"github.com/imrishuroy/go-invoice-service/internal/metrics"
)

const testTable = "processed-events"

type fixture struct {
	db    *awstest.DynamoDB
	cw    *awstest.CloudWatch
	store *idempotency.Store
	p     *Processor
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	db := awstest.NewDynamoDB()
	db.AddTable(testTable, "idempotency_key")
	cw := &awstest.CloudWatch{}
	store := idempotency.NewStore(db, testTable, time.Hour)
	return &fixture{
		db:    db,
		cw:    cw,
		store: store,
		p:     NewProcessor(store, metrics.NewRecorder(cw, "InvoiceService"), zaptest.NewLogger(t)),
	}
}

func message(t *testing.T, id string, ev invoices.Event) events.SQSMessage {
	t.Helper()
	body, err := json.Marshal(ev)
	require.NoError(t, err)
	return events.SQSMessage{MessageId: id, Body: string(body)}
}

func createdEvent(eventID string) invoices.Event {
	return invoices.Event{
		EventID:       eventID,
		Type:          invoices.EventCreated,
		InvoiceID:     "inv-1",
		InvoiceNumber: 1,
		TotalAmount:   decimal.RequireFromString("13"),
		OccurredAt:    time.Now().UTC(),
	}
}

func TestProcessor_RecordsMetricsAndMarksDone(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	resp, err := f.p.Handle(ctx, events.SQSEvent{Records: []events.SQSMessage{message(t, "m1", createdEvent("ev-1"))}})
	require.NoError(t, err)
	assert.Empty(t, resp.BatchItemFailures)

	require.Len(t, f.cw.Inputs(), 1)
	assert.Len(t, f.cw.Inputs()[0].MetricData, 2)

	rec, err := f.store.Get(ctx, "ev-1")
	require.NoError(t, err)
	require.NotNil(t, rec)
	assert.Equal(t, idempotency.StatusDone, rec.Status)
	assert.Equal(t, "inv-1", rec.InvoiceID)
}

func TestProcessor_SkipsDuplicateDelivery(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	msg := message(t, "m1", createdEvent("ev-1"))

	_, err := f.p.Handle(ctx, events.SQSEvent{Records: []events.SQSMessage{msg}})
	require.NoError(t, err)

	redelivered := msg
	redelivered.MessageId = "m2"
	resp, err := f.p.Handle(ctx, events.SQSEvent{Records: []events.SQSMessage{redelivered}})
	require.NoError(t, err)
	assert.Empty(t, resp.BatchItemFailures)

	assert.Len(t, f.cw.Inputs(), 1)
}

func TestProcessor_SkipsInProgress(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	created, err := f.store.CreateIfNotExists(ctx, "ev-1", "inv-1", invoices.EventCreated)
	require.NoError(t, err)
	require.True(t, created)

	resp, err := f.p.Handle(ctx, events.SQSEvent{Records: []events.SQSMessage{message(t, "m1", createdEvent("ev-1"))}})
	require.NoError(t, err)
	assert.Empty(t, resp.BatchItemFailures)
	assert.Empty(t, f.cw.Inputs())
}

func TestProcessor_TakesOverAbandonedRecord(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	// a consumer claimed the event and crashed before finishing
	created, err := f.store.CreateIfNotExists(ctx, "ev-1", "inv-1", invoices.EventCreated)
	require.NoError(t, err)
	require.True(t, created)

	f.p.nowFunc = func() time.Time { return time.Now().Add(defaultLease + time.Minute) }
	resp, err := f.p.Handle(ctx, events.SQSEvent{Records: []events.SQSMessage{message(t, "m1", createdEvent("ev-1"))}})
	require.NoError(t, err)
	assert.Empty(t, resp.BatchItemFailures)
	assert.Len(t, f.cw.Inputs(), 1)

	rec, err := f.store.Get(ctx, "ev-1")
	require.NoError(t, err)
	assert.Equal(t, idempotency.StatusDone, rec.Status)
	assert.Equal(t, 2, rec.Attempts)
}

func TestProcessor_MetricsFailureMarksFailedThenRetries(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	msg := message(t, "m1", createdEvent("ev-1"))

	f.cw.Err = errors.New("throttled")
	resp, err := f.p.Handle(ctx, events.SQSEvent{Records: []events.SQSMessage{msg}})
	require.NoError(t, err)
	require.Len(t, resp.BatchItemFailures, 1)
	assert.Equal(t, "m1", resp.BatchItemFailures[0].ItemIdentifier)

	rec, err := f.store.Get(ctx, "ev-1")
	require.NoError(t, err)
	assert.Equal(t, idempotency.StatusFailed, rec.Status)
	assert.Equal(t, "put metric data: throttled", rec.Note)

	// redelivery reclaims the failed record
	f.cw.Err = nil
	resp, err = f.p.Handle(ctx, events.SQSEvent{Records: []events.SQSMessage{msg}})
	require.NoError(t, err)
	assert.Empty(t, resp.BatchItemFailures)

	rec, err = f.store.Get(ctx, "ev-1")
	require.NoError(t, err)
	assert.Equal(t, idempotency.StatusDone, rec.Status)
	assert.Equal(t, 2, rec.Attempts)
	assert.Len(t, f.cw.Inputs(), 1)
}

func TestProcessor_PartialBatchFailure(t *testing.T) {
	f := newFixture(t)
	deleted := createdEvent("ev-2")
	deleted.Type = invoices.EventDeleted

	resp, err := f.p.Handle(context.Background(), events.SQSEvent{Records: []events.SQSMessage{
		{MessageId: "bad", Body: "not json"},
		{MessageId: "no-id", Body: `{"type":"invoice.created"}`},
		message(t, "good", deleted),
	}})
	require.NoError(t, err)

	var failed []string
	for _, item := range resp.BatchItemFailures {
		failed = append(failed, item.ItemIdentifier)
	}
	assert.Equal(t, []string{"bad", "no-id"}, failed)

	require.Len(t, f.cw.Inputs(), 1)
	assert.Len(t, f.cw.Inputs()[0].MetricData, 1)
}

func TestProcessor_DedupeStoreError(t *testing.T) {
	f := newFixture(t)
	f.db.FailNext("PutItem", errors.New("dynamodb down"))

	resp, err := f.p.Handle(context.Background(), events.SQSEvent{Records: []events.SQSMessage{message(t, "m1", createdEvent("ev-1"))}})
	require.NoError(t, err)
	require.Len(t, resp.BatchItemFailures, 1)
	assert.Empty(t, f.cw.Inputs())
}
