// Package render produces printable documents for stored invoices.
package render

import (
	"fmt"
	"io"
	"strconv"

	"github.com/jung-kurt/gofpdf"
	"github.com/shopspring/decimal"

	"github.com/imrishuroy/go-invoice-service/internal/invoices"
)

const (
	pageMargin = 15.0
	lineHeight = 7.0
)

var itemColumns = []struct {
	title string
	width float64
	align string
}{
	{"#", 10, "C"},
	{"Item", 80, "L"},
	{"Qty", 20, "R"},
	{"Price", 35, "R"},
	{"Line total", 35, "R"},
}

// PDF writes inv to w as a single A4 document.
func PDF(w io.Writer, inv *invoices.Invoice) error {
	pdf := gofpdf.New("P", "mm", "A4", "")
	pdf.SetMargins(pageMargin, pageMargin, pageMargin)
	pdf.SetAutoPageBreak(true, pageMargin)
	tr := pdf.UnicodeTranslatorFromDescriptor("")
	pdf.AddPage()

	pdf.SetFont("Arial", "B", 18)
	pdf.CellFormat(0, 10, fmt.Sprintf("Invoice #%d", inv.InvoiceNumber), "", 1, "L", false, 0, "")

	pdf.SetFont("Arial", "", 10)
	pdf.CellFormat(0, lineHeight, "Date: "+inv.Date, "", 1, "L", false, 0, "")
	pdf.CellFormat(0, lineHeight, "GSTIN: "+tr(inv.GSTIN), "", 1, "L", false, 0, "")
	pdf.Ln(3)

	half := (210 - 2*pageMargin) / 2
	pdf.SetFont("Arial", "B", 11)
	pdf.CellFormat(half, lineHeight, "Bill to", "", 0, "L", false, 0, "")
	pdf.CellFormat(half, lineHeight, "Ship to", "", 1, "L", false, 0, "")
	pdf.SetFont("Arial", "", 10)
	y := pdf.GetY()
	pdf.MultiCell(half, 5, tr(inv.CustomerName+"\n"+inv.BillingAddress), "", "L", false)
	billEnd := pdf.GetY()
	pdf.SetXY(pageMargin+half, y)
	pdf.MultiCell(half, 5, tr(inv.ShippingAddress), "", "L", false)
	if pdf.GetY() < billEnd {
		pdf.SetY(billEnd)
	}
	pdf.Ln(5)

	pdf.SetFont("Arial", "B", 10)
	pdf.SetFillColor(230, 230, 230)
	for _, col := range itemColumns {
		pdf.CellFormat(col.width, lineHeight, col.title, "1", 0, col.align, true, 0, "")
	}
	pdf.Ln(-1)

	pdf.SetFont("Arial", "", 10)
	for i, it := range inv.Items {
		line := decimal.NewFromInt(int64(it.Quantity)).Mul(it.Price)
		cells := []string{
			strconv.Itoa(i + 1),
			tr(it.ItemName),
			strconv.Itoa(it.Quantity),
			money(it.Price),
			money(line),
		}
		for j, col := range itemColumns {
			pdf.CellFormat(col.width, lineHeight, cells[j], "1", 0, col.align, false, 0, "")
		}
		pdf.Ln(-1)
	}

	labelWidth := itemColumns[0].width + itemColumns[1].width + itemColumns[2].width + itemColumns[3].width
	amountWidth := itemColumns[4].width
	for _, s := range inv.BillSundrys {
		pdf.CellFormat(labelWidth, lineHeight, tr(s.BillSundryName), "1", 0, "R", false, 0, "")
		pdf.CellFormat(amountWidth, lineHeight, money(s.Amount), "1", 1, "R", false, 0, "")
	}

	pdf.SetFont("Arial", "B", 11)
	pdf.CellFormat(labelWidth, lineHeight, "Total", "1", 0, "R", true, 0, "")
	pdf.CellFormat(amountWidth, lineHeight, money(inv.TotalAmount), "1", 1, "R", true, 0, "")

	if err := pdf.Output(w); err != nil {
		return fmt.Errorf("render invoice pdf: %w", err)
	}
	return nil
}

func money(d decimal.Decimal) string {
	return d.StringFixed(2)
}
