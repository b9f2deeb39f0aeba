package validation

import (
	"errors"
	"fmt"
	"math/big"
	"reflect"
	"strings"

	validatorv10 "github.com/go-playground/validator/v10"
	"github.com/shopspring/decimal"
)

// New returns a validator configured for the invoice schema: messages use
// JSON field names and decimal fields are checked by value.
func New() *validatorv10.Validate {
	v := validatorv10.New()

	v.RegisterTagNameFunc(func(fld reflect.StructField) string {
		name := strings.SplitN(fld.Tag.Get("json"), ",", 2)[0]
		if name == "-" {
			return ""
		}
		return name
	})

	// decimals compare as numbers; a null NullDecimal fails "required"
	v.RegisterCustomTypeFunc(decimalValue, decimal.Decimal{}, decimal.NullDecimal{})
	v.RegisterStructValidation(moneyLimits, InvoiceRequest{})

	return v
}

// Limits shared by the stores: Decimal128 holds 34 significant digits and a
// DynamoDB number spans 1e-130 to 9.99e125.
const (
	maxMoneyDigits   = 34
	maxMoneyExponent = 125
	minMoneyExponent = -130
)

// storable reports whether d can be written to any backend without rounding.
func storable(d decimal.Decimal) bool {
	if d.IsZero() {
		return true
	}
	coef := new(big.Int).Abs(d.Coefficient()).String()
	adjusted := int(d.Exponent()) + len(coef) - 1
	if adjusted > maxMoneyExponent || adjusted < minMoneyExponent {
		return false
	}
	return len(strings.TrimRight(coef, "0")) <= maxMoneyDigits
}

// moneyLimits reports every money field of an InvoiceRequest that no store
// can hold.
func moneyLimits(sl validatorv10.StructLevel) {
	req := sl.Current().Interface().(InvoiceRequest)

	check := func(d decimal.Decimal, field, structField string) {
		if !storable(d) {
			sl.ReportError(d.String(), field, structField, "money", "")
		}
	}
	if req.TotalAmount.Valid {
		check(req.TotalAmount.Decimal, "totalAmount", "TotalAmount")
	}
	for i, it := range req.Items {
		check(it.Price, fmt.Sprintf("items[%d].price", i), fmt.Sprintf("Items[%d].Price", i))
		check(it.Amount, fmt.Sprintf("items[%d].amount", i), fmt.Sprintf("Items[%d].Amount", i))
	}
	for i, b := range req.BillSundrys {
		if b.Amount.Valid {
			check(b.Amount.Decimal, fmt.Sprintf("billSundrys[%d].amount", i), fmt.Sprintf("BillSundrys[%d].Amount", i))
		}
	}
}

func decimalValue(field reflect.Value) interface{} {
	switch d := field.Interface().(type) {
	case decimal.Decimal:
		return d.InexactFloat64()
	case decimal.NullDecimal:
		if !d.Valid {
			return nil
		}
		return d.Decimal.String()
	}
	return nil
}

// CheckSchema runs the struct-tag rules of InvoiceRequest and folds any
// violations into a single *SchemaError.
func CheckSchema(v *validatorv10.Validate, req InvoiceRequest) error {
	err := v.Struct(req)
	if err == nil {
		return nil
	}

	var ve validatorv10.ValidationErrors
	if !errors.As(err, &ve) {
		return &SchemaError{Message: err.Error()}
	}
	msgs := make([]string, 0, len(ve))
	for _, fe := range ve {
		msgs = append(msgs, describe(fe))
	}
	return &SchemaError{Message: "Invoice validation failed: " + strings.Join(msgs, ", ")}
}

func describe(fe validatorv10.FieldError) string {
	field := fe.Namespace()
	// drop the root struct name
	if i := strings.Index(field, "."); i >= 0 {
		field = field[i+1:]
	}
	switch fe.Tag() {
	case "required":
		return field + " is required"
	case "min", "gte":
		if fe.Kind() == reflect.Slice {
			return fmt.Sprintf("%s must contain at least %s entries", field, fe.Param())
		}
		return fmt.Sprintf("%s must be >= %s", field, fe.Param())
	case "money":
		return fmt.Sprintf("%s (%v) exceeds the supported precision or range", field, fe.Value())
	default:
		return fmt.Sprintf("%s failed on the '%s' rule", field, fe.Tag())
	}
}
