package invoices

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/imrishuroy/go-invoice-service/internal/validation"
)

var testNow = time.Date(2026, time.October, 16, 15, 4, 5, 0, time.Local)

type recordingPublisher struct {
	mu     sync.Mutex
	events []Event
	err    error
}

func (p *recordingPublisher) Publish(_ context.Context, ev Event) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.err != nil {
		return p.err
	}
	p.events = append(p.events, ev)
	return nil
}

func (p *recordingPublisher) types() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]string, 0, len(p.events))
	for _, ev := range p.events {
		out = append(out, ev.Type)
	}
	return out
}

// staleNumbers reports a stale last number for the first n calls, as a
// concurrent writer would see it.
type staleNumbers struct {
	Repository
	stale int
	calls int
}

func (s *staleNumbers) LastInvoiceNumber(ctx context.Context) (int, error) {
	s.calls++
	if s.calls <= s.stale {
		return 0, nil
	}
	return s.Repository.LastInvoiceNumber(ctx)
}

func newTestService(t *testing.T, store Repository) (*Service, *recordingPublisher) {
	t.Helper()
	pub := &recordingPublisher{}
	svc := NewService(store, pub, zaptest.NewLogger(t))
	svc.nowFunc = func() time.Time { return testNow }
	n := 0
	svc.newID = func() string {
		n++
		return fmt.Sprintf("id-%d", n)
	}
	svc.retry = retryPolicy{maxAttempts: 3, baseDelay: time.Millisecond}
	return svc, pub
}

func dec(s string) decimal.Decimal {
	return decimal.RequireFromString(s)
}

func nullDec(s string) decimal.NullDecimal {
	return decimal.NewNullDecimal(dec(s))
}

func validRequest() validation.InvoiceRequest {
	return validation.InvoiceRequest{
		Date:            "2026-10-16",
		CustomerName:    "Acme Traders",
		BillingAddress:  "12 Market Road",
		ShippingAddress: "Dock 4",
		GSTIN:           "29ABCDE1234F1Z5",
		Items: []validation.ItemRequest{
			{ItemName: "Widget", Quantity: 2, Price: dec("5"), Amount: dec("10")},
		},
		BillSundrys: []validation.SundryRequest{
			{BillSundryName: "Freight", Amount: nullDec("3")},
		},
		TotalAmount: nullDec("13"),
	}
}

func TestService_CreateAssignsSequentialNumbers(t *testing.T) {
	_, store := newTestDynamo()
	svc, pub := newTestService(t, store)
	ctx := context.Background()

	for want := 1; want <= 3; want++ {
		inv, err := svc.Create(ctx, validRequest())
		require.NoError(t, err)
		assert.Equal(t, want, inv.InvoiceNumber)
		assert.Equal(t, testNow.UTC(), inv.CreatedAt)
		assert.Equal(t, inv.CreatedAt, inv.UpdatedAt)
	}
	assert.Equal(t, []string{EventCreated, EventCreated, EventCreated}, pub.types())
}

func TestService_CreateNumbersAfterGap(t *testing.T) {
	_, store := newTestDynamo()
	svc, _ := newTestService(t, store)
	ctx := context.Background()

	first, err := svc.Create(ctx, validRequest())
	require.NoError(t, err)
	second, err := svc.Create(ctx, validRequest())
	require.NoError(t, err)
	require.NoError(t, svc.Delete(ctx, first.ID))

	third, err := svc.Create(ctx, validRequest())
	require.NoError(t, err)
	assert.Equal(t, second.InvoiceNumber+1, third.InvoiceNumber)
}

func TestService_CreateRetriesTakenNumber(t *testing.T) {
	_, dynamo := newTestDynamo()
	require.NoError(t, dynamo.Create(context.Background(), sampleInvoice("existing", 1, testNow.UTC())))

	store := &staleNumbers{Repository: dynamo, stale: 1}
	svc, _ := newTestService(t, store)

	inv, err := svc.Create(context.Background(), validRequest())
	require.NoError(t, err)
	assert.Equal(t, 2, inv.InvoiceNumber)
	assert.Equal(t, 2, store.calls)
}

func TestService_CreateGivesUpAfterRetries(t *testing.T) {
	_, dynamo := newTestDynamo()
	require.NoError(t, dynamo.Create(context.Background(), sampleInvoice("existing", 1, testNow.UTC())))

	store := &staleNumbers{Repository: dynamo, stale: 100}
	svc, pub := newTestService(t, store)

	_, err := svc.Create(context.Background(), validRequest())
	assert.ErrorIs(t, err, ErrNumberTaken)
	assert.Equal(t, 3, store.calls)
	assert.Empty(t, pub.types())
}

func TestService_CreateValidationErrors(t *testing.T) {
	db, store := newTestDynamo()
	svc, pub := newTestService(t, store)

	req := validRequest()
	req.Date = "2026-10-15"
	req.TotalAmount = nullDec("99")

	_, err := svc.Create(context.Background(), req)
	var verr *validation.ValidationError
	require.ErrorAs(t, err, &verr)
	assert.Equal(t, []string{
		"Date must be today or a future date.",
		"totalAmount (99) ≠ items+sundry (13)",
	}, verr.Errors)

	assert.Equal(t, 0, db.Calls["TransactWriteItems"])
	assert.Equal(t, 0, db.Calls["Scan"])
	assert.Empty(t, pub.types())
}

func TestService_CreateSchemaError(t *testing.T) {
	_, store := newTestDynamo()
	svc, _ := newTestService(t, store)

	req := validRequest()
	req.CustomerName = ""

	_, err := svc.Create(context.Background(), req)
	var serr *validation.SchemaError
	require.ErrorAs(t, err, &serr)
	assert.Contains(t, serr.Message, "customerName is required")
}

func TestService_CreateKeepsClientIDs(t *testing.T) {
	_, store := newTestDynamo()
	svc, _ := newTestService(t, store)

	req := validRequest()
	req.Items = []validation.ItemRequest{
		{ID: "keep-me", ItemName: "A", Quantity: 1, Price: dec("5"), Amount: dec("5")},
		{LegacyID: "keep-me", ItemName: "B", Quantity: 1, Price: dec("5"), Amount: dec("5")},
		{LegacyID: "legacy", ItemName: "C", Quantity: 1, Price: dec("0.01"), Amount: dec("0.01")},
	}
	req.TotalAmount = nullDec("13.01")

	inv, err := svc.Create(context.Background(), req)
	require.NoError(t, err)
	require.Len(t, inv.Items, 3)
	assert.Equal(t, "keep-me", inv.Items[0].ID)
	assert.NotEqual(t, "keep-me", inv.Items[1].ID)
	assert.NotEmpty(t, inv.Items[1].ID)
	assert.Equal(t, "legacy", inv.Items[2].ID)
}

func TestService_CreateNormalizesDate(t *testing.T) {
	_, store := newTestDynamo()
	svc, _ := newTestService(t, store)

	req := validRequest()
	req.Date = "2026-10-20T00:00:00Z"

	inv, err := svc.Create(context.Background(), req)
	require.NoError(t, err)
	assert.Equal(t, "2026-10-20", inv.Date)
}

func TestService_UpdatePreservesIdentity(t *testing.T) {
	_, store := newTestDynamo()
	svc, pub := newTestService(t, store)
	ctx := context.Background()

	created, err := svc.Create(ctx, validRequest())
	require.NoError(t, err)

	later := testNow.Add(time.Hour)
	svc.nowFunc = func() time.Time { return later }

	req := validRequest()
	req.CustomerName = "Globex"
	updated, err := svc.Update(ctx, created.ID, req)
	require.NoError(t, err)

	assert.Equal(t, created.ID, updated.ID)
	assert.Equal(t, created.InvoiceNumber, updated.InvoiceNumber)
	assert.True(t, created.CreatedAt.Equal(updated.CreatedAt))
	assert.True(t, updated.UpdatedAt.Equal(later.UTC()))
	assert.Equal(t, "Globex", updated.CustomerName)
	assert.Equal(t, []string{EventCreated, EventUpdated}, pub.types())
}

func TestService_UpdateMissing(t *testing.T) {
	_, store := newTestDynamo()
	svc, _ := newTestService(t, store)

	_, err := svc.Update(context.Background(), "ghost", validRequest())
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestService_UpdateValidatesBeforeLookup(t *testing.T) {
	db, store := newTestDynamo()
	svc, _ := newTestService(t, store)

	req := validRequest()
	req.Items = nil

	_, err := svc.Update(context.Background(), "ghost", req)
	var verr *validation.ValidationError
	require.ErrorAs(t, err, &verr)
	assert.Equal(t, 0, db.Calls["GetItem"])
}

func TestService_GetAndList(t *testing.T) {
	_, store := newTestDynamo()
	svc, _ := newTestService(t, store)
	ctx := context.Background()

	_, err := svc.Get(ctx, "ghost")
	assert.ErrorIs(t, err, ErrNotFound)

	req := validRequest()
	req.Items = append(req.Items, validation.ItemRequest{ID: "client-item", ItemName: "Gadget", Quantity: 1, Price: dec("3"), Amount: dec("3")})
	req.BillSundrys[0].LegacyID = "client-sundry"
	req.TotalAmount = nullDec("16")

	created, err := svc.Create(ctx, req)
	require.NoError(t, err)

	first, err := svc.Get(ctx, created.ID)
	require.NoError(t, err)
	second, err := svc.Get(ctx, created.ID)
	require.NoError(t, err)
	assert.Equal(t, first, second)

	assert.Equal(t, created.ID, first.ID)
	assert.Equal(t, created.InvoiceNumber, first.InvoiceNumber)
	assert.True(t, created.CreatedAt.Equal(first.CreatedAt))
	assert.True(t, created.TotalAmount.Equal(first.TotalAmount))

	require.Len(t, first.Items, 2)
	for i := range created.Items {
		assert.Equal(t, created.Items[i].ID, first.Items[i].ID)
	}
	assert.NotEmpty(t, first.Items[0].ID)
	assert.Equal(t, "client-item", first.Items[1].ID)

	require.Len(t, first.BillSundrys, 1)
	assert.Equal(t, "client-sundry", first.BillSundrys[0].ID)

	list, err := svc.List(ctx)
	require.NoError(t, err)
	require.Len(t, list, 1)
	assert.Equal(t, *first, list[0])
}

func TestService_ConcurrentCreatesGetDistinctNumbers(t *testing.T) {
	const workers = 20

	_, store := newTestDynamo()
	svc, pub := newTestService(t, store)
	svc.newID = uuid.NewString
	// every lost claim means another writer won, so workers attempts always suffice
	svc.retry = retryPolicy{maxAttempts: workers, baseDelay: 100 * time.Microsecond, jitterFactor: 1}

	var (
		wg      sync.WaitGroup
		mu      sync.Mutex
		numbers []int
		errs    []error
	)
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			inv, err := svc.Create(context.Background(), validRequest())
			mu.Lock()
			defer mu.Unlock()
			if err != nil {
				errs = append(errs, err)
				return
			}
			numbers = append(numbers, inv.InvoiceNumber)
		}()
	}
	wg.Wait()

	require.Empty(t, errs)
	sort.Ints(numbers)
	want := make([]int, workers)
	for i := range want {
		want[i] = i + 1
	}
	assert.Equal(t, want, numbers)
	assert.Len(t, pub.types(), workers)
}

func TestService_CreateRejectsUnstorableAmount(t *testing.T) {
	db, store := newTestDynamo()
	svc, _ := newTestService(t, store)

	// 37 significant digits reconcile exactly but exceed Decimal128
	price := "0.1234567890123456789012345678901234567"
	req := validRequest()
	req.Items = []validation.ItemRequest{
		{ItemName: "Widget", Quantity: 1, Price: dec(price), Amount: dec("1")},
	}
	req.BillSundrys = nil
	req.TotalAmount = nullDec(price)

	_, err := svc.Create(context.Background(), req)
	var serr *validation.SchemaError
	require.ErrorAs(t, err, &serr)
	assert.Contains(t, serr.Message, "items[0].price")
	assert.Contains(t, serr.Message, "totalAmount")
	assert.Equal(t, 0, db.Calls["TransactWriteItems"])
}

func TestService_TimestampsKeepMilliseconds(t *testing.T) {
	_, store := newTestDynamo()
	svc, _ := newTestService(t, store)
	ctx := context.Background()

	svc.nowFunc = func() time.Time { return testNow.Add(123456789 * time.Nanosecond) }
	created, err := svc.Create(ctx, validRequest())
	require.NoError(t, err)

	want := testNow.Add(123 * time.Millisecond).UTC()
	assert.Equal(t, want, created.CreatedAt)
	assert.Equal(t, want, created.UpdatedAt)

	got, err := svc.Get(ctx, created.ID)
	require.NoError(t, err)
	assert.True(t, got.CreatedAt.Equal(created.CreatedAt))

	svc.nowFunc = func() time.Time { return testNow.Add(time.Hour + 999999*time.Nanosecond) }
	updated, err := svc.Update(ctx, created.ID, validRequest())
	require.NoError(t, err)
	assert.True(t, updated.UpdatedAt.Equal(testNow.Add(time.Hour)))
}

func TestService_DeleteMissing(t *testing.T) {
	_, store := newTestDynamo()
	svc, pub := newTestService(t, store)

	assert.ErrorIs(t, svc.Delete(context.Background(), "ghost"), ErrNotFound)
	assert.Empty(t, pub.types())
}

func TestService_PublishFailureDoesNotFailRequest(t *testing.T) {
	_, store := newTestDynamo()
	svc, pub := newTestService(t, store)
	pub.err = errors.New("queue down")

	inv, err := svc.Create(context.Background(), validRequest())
	require.NoError(t, err)
	assert.Equal(t, 1, inv.InvoiceNumber)
}

func TestService_EventCarriesCorrelationID(t *testing.T) {
	_, store := newTestDynamo()
	svc, pub := newTestService(t, store)
	ctx := WithCorrelationID(context.Background(), "req-42")

	inv, err := svc.Create(ctx, validRequest())
	require.NoError(t, err)
	require.NoError(t, svc.Delete(ctx, inv.ID))

	require.Len(t, pub.events, 2)
	del := pub.events[1]
	assert.Equal(t, EventDeleted, del.Type)
	assert.Equal(t, inv.ID, del.InvoiceID)
	assert.Equal(t, inv.InvoiceNumber, del.InvoiceNumber)
	assert.Equal(t, "req-42", del.CorrelationID)
	assert.NotEqual(t, pub.events[0].EventID, del.EventID)
}
