package validation

import (
	"bytes"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCheckSchema_Valid(t *testing.T) {
	require.NoError(t, CheckSchema(New(), validRequest()))
}

func TestCheckSchema_NegativeSundryAllowed(t *testing.T) {
	req := validRequest()
	req.BillSundrys[0].Amount = nullDec("-7.5")

	require.NoError(t, CheckSchema(New(), req))
}

func TestCheckSchema_Violations(t *testing.T) {
	req := validRequest()
	req.CustomerName = ""
	req.Items[0].Amount = dec("0")
	req.BillSundrys[0].Amount = decimal.NullDecimal{}

	err := CheckSchema(New(), req)
	require.Error(t, err)

	var se *SchemaError
	require.True(t, errors.As(err, &se))
	assert.Contains(t, se.Message, "Invoice validation failed: ")
	assert.Contains(t, se.Message, "customerName is required")
	assert.Contains(t, se.Message, "items[0].amount must be >= 0.01")
	assert.Contains(t, se.Message, "billSundrys[0].amount is required")
}

func TestCheckSchema_PriceBelowMinimum(t *testing.T) {
	req := validRequest()
	req.Items[0].Price = dec("0.001")

	err := CheckSchema(New(), req)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "items[0].price must be >= 0.01")
}

func TestCheckSchema_MoneyOutOfRange(t *testing.T) {
	req := validRequest()
	req.TotalAmount = nullDec("1.234567890123456789012345678901234567891")
	req.Items[0].Price = dec("1e126")
	req.BillSundrys[0].Amount = nullDec("-1e-131")

	err := CheckSchema(New(), req)
	require.Error(t, err)

	var se *SchemaError
	require.True(t, errors.As(err, &se))
	assert.Contains(t, se.Message, "totalAmount (1.234567890123456789012345678901234567891) exceeds the supported precision or range")
	assert.Contains(t, se.Message, "items[0].price (")
	assert.Contains(t, se.Message, "billSundrys[0].amount (")
	assert.NotContains(t, se.Message, "items[0].amount")
}

func TestStorable(t *testing.T) {
	tests := []struct {
		in   string
		want bool
	}{
		{"0", true},
		{"0.01", true},
		{"-7.5", true},
		{"1234567890123456789012345678901234", true},  // 34 digits
		{"12345678901234567890123456789012345", false}, // 35 digits
		{"1.5000000000000000000000000000000000000000", true},
		{"9.99e125", true},
		{"1e126", false},
		{"1e-130", true},
		{"1e-131", false},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			assert.Equal(t, tt.want, storable(dec(tt.in)))
		})
	}
}

func TestBindJSON(t *testing.T) {
	gin.SetMode(gin.TestMode)

	bind := func(body string) (InvoiceRequest, error) {
		w := httptest.NewRecorder()
		c, _ := gin.CreateTestContext(w)
		c.Request = httptest.NewRequest(http.MethodPost, "/", bytes.NewBufferString(body))
		c.Request.Header.Set("Content-Type", "application/json")
		var req InvoiceRequest
		err := BindJSON(c, &req)
		return req, err
	}

	req, err := bind(`{"date":"2026-10-16","items":[{"_id":"legacy","itemName":"x","quantity":2,"price":5.25,"amount":10.5}],"billSundrys":[{"id":"s1","billSundryName":"Tax","amount":-1}],"totalAmount":9.5,"invoiceNumber":42}`)
	require.NoError(t, err)
	require.Len(t, req.Items, 1)
	assert.Equal(t, "legacy", req.Items[0].ClientID())
	assert.True(t, req.Items[0].Price.Equal(dec("5.25")))
	assert.Equal(t, "s1", req.BillSundrys[0].ClientID())
	assert.True(t, req.TotalAmount.Valid)

	_, err = bind(`{"date":`)
	var se *SchemaError
	require.True(t, errors.As(err, &se))
	assert.Contains(t, se.Message, "invalid request body")

	_, err = bind(``)
	require.True(t, errors.As(err, &se))
	assert.Equal(t, "request body is required", se.Message)
}
