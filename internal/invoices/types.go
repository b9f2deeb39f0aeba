package invoices

import (
	"encoding/json"
	"time"

	"github.com/shopspring/decimal"
)

// Invoice is the root billing document. Items and sundries are owned by
// value and always written together with their invoice.
type Invoice struct {
	ID              string          `json:"id"`
	Date            string          `json:"date"` // YYYY-MM-DD
	InvoiceNumber   int             `json:"invoiceNumber"`
	CustomerName    string          `json:"customerName"`
	BillingAddress  string          `json:"billingAddress"`
	ShippingAddress string          `json:"shippingAddress"`
	GSTIN           string          `json:"GSTIN"`
	Items           []Item          `json:"items"`
	BillSundrys     []Sundry        `json:"billSundrys"`
	TotalAmount     decimal.Decimal `json:"totalAmount"`
	CreatedAt       time.Time       `json:"createdAt"`
	UpdatedAt       time.Time       `json:"updatedAt"`
}

// Item is a billed product or service line.
type Item struct {
	ID       string          `json:"id"`
	ItemName string          `json:"itemName"`
	Quantity int             `json:"quantity"`
	Price    decimal.Decimal `json:"price"`
	Amount   decimal.Decimal `json:"amount"`
}

// Sundry is a charge or credit not tied to an item.
type Sundry struct {
	ID             string          `json:"id"`
	BillSundryName string          `json:"billSundryName"`
	Amount         decimal.Decimal `json:"amount"`
}

// jsonNumber writes money as a bare JSON number instead of the quoted string
// decimal.Decimal produces by default. In the MarshalJSON methods below the
// outer field shadows the embedded one of the same name.
func jsonNumber(d decimal.Decimal) json.Number {
	return json.Number(d.String())
}

func (inv Invoice) MarshalJSON() ([]byte, error) {
	type plain Invoice
	return json.Marshal(struct {
		plain
		TotalAmount json.Number `json:"totalAmount"`
	}{plain(inv), jsonNumber(inv.TotalAmount)})
}

func (it Item) MarshalJSON() ([]byte, error) {
	type plain Item
	return json.Marshal(struct {
		plain
		Price  json.Number `json:"price"`
		Amount json.Number `json:"amount"`
	}{plain(it), jsonNumber(it.Price), jsonNumber(it.Amount)})
}

func (s Sundry) MarshalJSON() ([]byte, error) {
	type plain Sundry
	return json.Marshal(struct {
		plain
		Amount json.Number `json:"amount"`
	}{plain(s), jsonNumber(s.Amount)})
}
