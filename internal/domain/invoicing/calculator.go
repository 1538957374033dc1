package invoicing

import (
	"github.com/shopspring/decimal"
)

// moneyPlaces is the rounding precision for monetary line values. Rounding
// happens at the line, not at the aggregate, so invoice totals always equal
// the sum of the amounts printed on the lines.
const moneyPlaces = 2

var hundred = decimal.NewFromInt(100)

// ComputeLine returns a copy of line with Subtotal, Tax and Total populated
// from Quantity, UnitPrice and Taxable. taxRate is a percentage (13 means
// 13%). The computation is pure and idempotent.
func ComputeLine(line Line, taxRate decimal.Decimal) Line {
	line.Subtotal = line.Quantity.Mul(line.UnitPrice).Round(moneyPlaces)
	if line.Taxable {
		line.Tax = line.Subtotal.Mul(taxRate).Div(hundred).Round(moneyPlaces)
	} else {
		line.Tax = decimal.Zero
	}
	line.Total = line.Subtotal.Add(line.Tax)
	return line
}

// Renumber reassigns LineNumber = index+1 in current list order. The input
// slice is not modified.
func Renumber(lines []Line) []Line {
	out := make([]Line, len(lines))
	copy(out, lines)
	for i := range out {
		out[i].LineNumber = i + 1
	}
	return out
}

// Totals holds invoice-level monetary aggregates.
type Totals struct {
	TaxableSubtotal decimal.Decimal `json:"taxable_subtotal"` // gravado
	ExemptSubtotal  decimal.Decimal `json:"exempt_subtotal"`  // exento
	TaxTotal        decimal.Decimal `json:"tax_total"`
	GrandTotal      decimal.Decimal `json:"grand_total"`
}

// Aggregate sums already-computed lines into invoice-level totals. Taxable
// subtotals accumulate as gravado, non-taxable as exento. An empty list
// yields all-zero totals.
func Aggregate(lines []Line) Totals {
	t := Totals{
		TaxableSubtotal: decimal.Zero,
		ExemptSubtotal:  decimal.Zero,
		TaxTotal:        decimal.Zero,
		GrandTotal:      decimal.Zero,
	}
	for _, line := range lines {
		if line.Taxable {
			t.TaxableSubtotal = t.TaxableSubtotal.Add(line.Subtotal)
		} else {
			t.ExemptSubtotal = t.ExemptSubtotal.Add(line.Subtotal)
		}
		t.TaxTotal = t.TaxTotal.Add(line.Tax)
		t.GrandTotal = t.GrandTotal.Add(line.Total)
	}
	return t
}
