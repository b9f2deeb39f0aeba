package validation

import "github.com/shopspring/decimal"

// ItemRequest is a billed line as sent by clients. The id may arrive as
// either "id" or "_id"; see ClientID.
type ItemRequest struct {
	ID       string          `json:"id"`
	LegacyID string          `json:"_id"`
	ItemName string          `json:"itemName" validate:"required"`
	Quantity int             `json:"quantity" validate:"min=1"`
	Price    decimal.Decimal `json:"price" validate:"gte=0.01"`
	Amount   decimal.Decimal `json:"amount" validate:"gte=0.01"` // display value, not reconciled
}

// ClientID returns the id supplied by the client, preferring "id".
func (it ItemRequest) ClientID() string {
	if it.ID != "" {
		return it.ID
	}
	return it.LegacyID
}

// SundryRequest is an extra charge or credit line.
type SundryRequest struct {
	ID             string              `json:"id"`
	LegacyID       string              `json:"_id"`
	BillSundryName string              `json:"billSundryName" validate:"required"`
	Amount         decimal.NullDecimal `json:"amount" validate:"required"` // may be negative
}

// ClientID returns the id supplied by the client, preferring "id".
func (s SundryRequest) ClientID() string {
	if s.ID != "" {
		return s.ID
	}
	return s.LegacyID
}

// InvoiceRequest is the payload for POST /api/invoices/ and PUT /api/invoices/{id}.
// Server-owned fields (id, invoiceNumber, createdAt, updatedAt) are not part
// of the schema and are ignored when present.
type InvoiceRequest struct {
	Date            string              `json:"date" validate:"required"` // YYYY-MM-DD
	CustomerName    string              `json:"customerName" validate:"required"`
	BillingAddress  string              `json:"billingAddress" validate:"required"`
	ShippingAddress string              `json:"shippingAddress" validate:"required"`
	GSTIN           string              `json:"GSTIN" validate:"required"`
	Items           []ItemRequest       `json:"items" validate:"required,min=1,dive"`
	BillSundrys     []SundryRequest     `json:"billSundrys" validate:"dive"`
	TotalAmount     decimal.NullDecimal `json:"totalAmount" validate:"required"`
}
