package invoices

import (
	"context"
	"fmt"
	"time"

	validatorv10 "github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/imrishuroy/go-invoice-service/internal/validation"
)

// Service orchestrates validation, invoice numbering and persistence.
type Service struct {
	store   Repository
	events  EventPublisher
	schema  *validatorv10.Validate
	logger  *zap.Logger
	retry   retryPolicy
	nowFunc func() time.Time
	newID   func() string
}

// NewService wires a Service. A nil publisher disables events.
func NewService(store Repository, events EventPublisher, logger *zap.Logger) *Service {
	if events == nil {
		events = NopPublisher{}
	}
	return &Service{
		store:   store,
		events:  events,
		schema:  validation.New(),
		logger:  logger,
		retry:   defaultRetryPolicy(),
		nowFunc: time.Now,
		newID:   uuid.NewString,
	}
}

// check runs the business rules first and the storage schema second, so a
// request failing both reports the business errors.
func (s *Service) check(req validation.InvoiceRequest) error {
	if errs := validation.Validate(req, s.nowFunc()); len(errs) > 0 {
		return &validation.ValidationError{Errors: errs}
	}
	return validation.CheckSchema(s.schema, req)
}

// Create validates req, assigns the next invoice number and stores the invoice.
func (s *Service) Create(ctx context.Context, req validation.InvoiceRequest) (*Invoice, error) {
	if err := s.check(req); err != nil {
		return nil, err
	}

	now := s.now()
	inv := &Invoice{
		ID:        s.newID(),
		CreatedAt: now,
		UpdatedAt: now,
	}
	s.apply(inv, req)

	err := s.retry.do(ctx, func(ctx context.Context) error {
		last, err := s.store.LastInvoiceNumber(ctx)
		if err != nil {
			return err
		}
		inv.InvoiceNumber = last + 1
		err = s.store.Create(ctx, inv)
		if err == ErrNumberTaken {
			s.logger.Info("invoice number taken, retrying",
				zap.Int("invoice_number", inv.InvoiceNumber))
		}
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("create invoice: %w", err)
	}

	s.logger.Info("invoice created",
		zap.String("invoice_id", inv.ID),
		zap.Int("invoice_number", inv.InvoiceNumber))
	s.publish(ctx, EventCreated, inv)
	return inv, nil
}

// Update replaces every mutable field of an existing invoice. id,
// invoiceNumber and createdAt are preserved.
func (s *Service) Update(ctx context.Context, id string, req validation.InvoiceRequest) (*Invoice, error) {
	if err := s.check(req); err != nil {
		return nil, err
	}

	existing, err := s.store.Get(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("load invoice: %w", err)
	}
	if existing == nil {
		return nil, ErrNotFound
	}

	updated := *existing
	s.apply(&updated, req)
	updated.UpdatedAt = s.now()

	if err := s.store.Replace(ctx, &updated); err != nil {
		if err == ErrNotFound {
			return nil, err
		}
		return nil, fmt.Errorf("replace invoice: %w", err)
	}

	reloaded, err := s.store.Get(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("reload invoice: %w", err)
	}
	if reloaded == nil {
		return nil, ErrNotFound
	}

	s.logger.Info("invoice updated", zap.String("invoice_id", id))
	s.publish(ctx, EventUpdated, reloaded)
	return reloaded, nil
}

// Get returns the invoice or ErrNotFound.
func (s *Service) Get(ctx context.Context, id string) (*Invoice, error) {
	inv, err := s.store.Get(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("get invoice: %w", err)
	}
	if inv == nil {
		return nil, ErrNotFound
	}
	return inv, nil
}

// List returns all invoices, newest first.
func (s *Service) List(ctx context.Context) ([]Invoice, error) {
	invs, err := s.store.List(ctx)
	if err != nil {
		return nil, fmt.Errorf("list invoices: %w", err)
	}
	return invs, nil
}

// Delete removes the invoice or returns ErrNotFound.
func (s *Service) Delete(ctx context.Context, id string) error {
	inv, err := s.store.Delete(ctx, id)
	if err != nil {
		if err == ErrNotFound {
			return err
		}
		return fmt.Errorf("delete invoice: %w", err)
	}

	s.logger.Info("invoice deleted",
		zap.String("invoice_id", id),
		zap.Int("invoice_number", inv.InvoiceNumber))
	s.publish(ctx, EventDeleted, inv)
	return nil
}

// now is the timestamp stored on invoices. BSON keeps milliseconds, so
// finer precision would differ between a write response and a later read.
func (s *Service) now() time.Time {
	return s.nowFunc().UTC().Truncate(time.Millisecond)
}

// apply copies the client-owned fields of req onto inv. req must have
// passed validation.
func (s *Service) apply(inv *Invoice, req validation.InvoiceRequest) {
	inv.Date, _ = validation.NormalizeDate(req.Date)
	inv.CustomerName = req.CustomerName
	inv.BillingAddress = req.BillingAddress
	inv.ShippingAddress = req.ShippingAddress
	inv.GSTIN = req.GSTIN
	inv.TotalAmount = req.TotalAmount.Decimal

	seen := map[string]bool{}
	inv.Items = make([]Item, 0, len(req.Items))
	for _, it := range req.Items {
		inv.Items = append(inv.Items, Item{
			ID:       s.ownID(seen, it.ClientID()),
			ItemName: it.ItemName,
			Quantity: it.Quantity,
			Price:    it.Price,
			Amount:   it.Amount,
		})
	}

	seen = map[string]bool{}
	inv.BillSundrys = make([]Sundry, 0, len(req.BillSundrys))
	for _, b := range req.BillSundrys {
		inv.BillSundrys = append(inv.BillSundrys, Sundry{
			ID:             s.ownID(seen, b.ClientID()),
			BillSundryName: b.BillSundryName,
			Amount:         b.Amount.Decimal,
		})
	}
}

// ownID keeps a client id unless it is empty or already used in this list.
func (s *Service) ownID(seen map[string]bool, id string) string {
	if id == "" || seen[id] {
		id = s.newID()
	}
	seen[id] = true
	return id
}

// publish is best effort: the mutation is already durable, so a failed
// publish is logged and the request still succeeds.
func (s *Service) publish(ctx context.Context, typ string, inv *Invoice) {
	ev := Event{
		EventID:       s.newID(),
		Type:          typ,
		InvoiceID:     inv.ID,
		InvoiceNumber: inv.InvoiceNumber,
		TotalAmount:   inv.TotalAmount,
		OccurredAt:    s.nowFunc().UTC(),
		CorrelationID: CorrelationID(ctx),
	}
	if err := s.events.Publish(ctx, ev); err != nil {
		s.logger.Warn("failed to publish invoice event",
			zap.String("event_type", typ),
			zap.String("invoice_id", inv.ID),
			zap.Error(err))
	}
}
