package invoices

import (
	"context"
	"errors"
)

var (
	// ErrNotFound is returned when no invoice exists for an id.
	ErrNotFound = errors.New("invoice not found")

	// ErrNumberTaken is returned by Repository.Create when another invoice
	// already holds the requested invoice number.
	ErrNumberTaken = errors.New("invoice number already taken")
)

// Repository is the persistence boundary for invoices.
type Repository interface {
	// Create stores a new invoice and claims its number atomically.
	Create(ctx context.Context, inv *Invoice) error
	// Get returns (nil, nil) if the invoice does not exist.
	Get(ctx context.Context, id string) (*Invoice, error)
	// List returns every invoice, newest createdAt first.
	List(ctx context.Context) ([]Invoice, error)
	// Replace overwrites an existing invoice; ErrNotFound if it is gone.
	Replace(ctx context.Context, inv *Invoice) error
	// Delete removes the invoice and releases its number.
	Delete(ctx context.Context, id string) (*Invoice, error)
	// LastInvoiceNumber returns the highest number in use, 0 when empty.
	LastInvoiceNumber(ctx context.Context) (int, error)
}
