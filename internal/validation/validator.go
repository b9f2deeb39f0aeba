package validation

import (
	"fmt"
	"time"

	"github.com/shopspring/decimal"
)

const (
	msgDate        = "Date must be today or a future date."
	msgItemsNeeded = "At least one item is required."
)

// Validate applies the invoice business rules and returns every violation
// as a human-readable message. An empty result means the request is valid.
// now supplies the server's calendar day for the date rule.
func Validate(req InvoiceRequest, now time.Time) []string {
	errs := []string{}

	date, ok := ParseDate(req.Date)
	if !ok || !notBefore(date, now) {
		errs = append(errs, msgDate)
	}

	if len(req.Items) == 0 {
		errs = append(errs, msgItemsNeeded)
	}
	for i, it := range req.Items {
		if !it.Price.IsPositive() {
			errs = append(errs, fmt.Sprintf("Item %d: price must be > 0", i+1))
		}
		if it.Quantity <= 0 {
			errs = append(errs, fmt.Sprintf("Item %d: quantity must be > 0", i+1))
		}
	}

	itemsTotal, sundryTotal := Totals(req)
	calc := itemsTotal.Add(sundryTotal)
	if !req.TotalAmount.Valid || !req.TotalAmount.Decimal.Equal(calc) {
		errs = append(errs, fmt.Sprintf("totalAmount (%s) ≠ items+sundry (%s)", submitted(req.TotalAmount), calc.String()))
	}

	return errs
}

// Totals returns Σ quantity*price over the items and Σ amount over the
// sundries. Item amounts are not consulted.
func Totals(req InvoiceRequest) (itemsTotal, sundryTotal decimal.Decimal) {
	for _, it := range req.Items {
		itemsTotal = itemsTotal.Add(decimal.NewFromInt(int64(it.Quantity)).Mul(it.Price))
	}
	for _, s := range req.BillSundrys {
		sundryTotal = sundryTotal.Add(s.Amount.Decimal)
	}
	return itemsTotal, sundryTotal
}

func submitted(v decimal.NullDecimal) string {
	if !v.Valid {
		return "null"
	}
	return v.Decimal.String()
}
