package invoicing

import (
	"github.com/cargoflow/backoffice/internal/domain/shared"
	"github.com/cargoflow/backoffice/internal/domain/shared/valueobject"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// SalesInvoice is the editable in-memory view of a sales invoice's lines.
// Every mutation recomputes derived line fields synchronously and keeps line
// numbers sequential with no gaps, so lines are never observable in an
// inconsistent state.
type SalesInvoice struct {
	ID            uuid.UUID             `json:"id"`
	InvoiceNumber string                `json:"invoice_number"`
	ClientName    string                `json:"client_name"`
	Currency      valueobject.Currency  `json:"currency"`
	TaxRate       decimal.Decimal       `json:"tax_rate"` // percentage, e.g. 13 means 13%
	Lines         []Line                `json:"lines"`
}

// NewSalesInvoice creates an empty sales invoice
func NewSalesInvoice(invoiceNumber, clientName string, currency valueobject.Currency, taxRate decimal.Decimal) (*SalesInvoice, error) {
	if invoiceNumber == "" {
		return nil, shared.NewDomainError("INVALID_INVOICE_NUMBER", "Invoice number cannot be empty")
	}
	if currency == "" {
		currency = valueobject.DefaultCurrency
	}
	if taxRate.IsNegative() {
		return nil, shared.NewValidationError("tax_rate", "tax rate cannot be negative")
	}
	return &SalesInvoice{
		ID:            uuid.New(),
		InvoiceNumber: invoiceNumber,
		ClientName:    clientName,
		Currency:      currency,
		TaxRate:       taxRate,
		Lines:         []Line{},
	}, nil
}

// AddLine appends a new line with a temporary client id, computes its
// derived fields and renumbers.
func (inv *SalesInvoice) AddLine(description string, concept Concept, quantity, unitPrice decimal.Decimal, taxable bool) (Line, error) {
	line, err := NewLine(description, concept, quantity, unitPrice, taxable)
	if err != nil {
		return Line{}, err
	}
	line = ComputeLine(line, inv.TaxRate)
	inv.Lines = Renumber(append(inv.Lines, line))
	return inv.Lines[len(inv.Lines)-1], nil
}

// LineEdit describes a field-level edit; nil fields are left untouched.
type LineEdit struct {
	Description *string
	Concept     *Concept
	Quantity    *decimal.Decimal
	UnitPrice   *decimal.Decimal
	Taxable     *bool
}

// UpdateLine applies an edit to the line with the given id and recomputes
// its derived fields in the same step.
func (inv *SalesInvoice) UpdateLine(lineID uuid.UUID, edit LineEdit) (Line, error) {
	idx := inv.indexOf(lineID)
	if idx < 0 {
		return Line{}, shared.ErrNotFound
	}

	updated := inv.Lines[idx]
	if edit.Description != nil {
		updated.Description = *edit.Description
	}
	if edit.Concept != nil {
		updated.Concept = *edit.Concept
	}
	if edit.Quantity != nil {
		updated.Quantity = *edit.Quantity
	}
	if edit.UnitPrice != nil {
		updated.UnitPrice = *edit.UnitPrice
	}
	if edit.Taxable != nil {
		updated.Taxable = *edit.Taxable
	}
	if err := updated.Validate(); err != nil {
		return Line{}, err
	}

	inv.Lines[idx] = ComputeLine(updated, inv.TaxRate)
	return inv.Lines[idx], nil
}

// RemoveLine deletes the line with the given id and renumbers the remainder
// so line numbers stay 1..N with no gaps.
func (inv *SalesInvoice) RemoveLine(lineID uuid.UUID) error {
	idx := inv.indexOf(lineID)
	if idx < 0 {
		return shared.ErrNotFound
	}
	inv.Lines = Renumber(append(inv.Lines[:idx], inv.Lines[idx+1:]...))
	return nil
}

// Totals returns the invoice-level aggregates over the current lines
func (inv *SalesInvoice) Totals() Totals {
	return Aggregate(inv.Lines)
}

// GrandTotalMoney returns the invoice grand total as Money in the invoice currency
func (inv *SalesInvoice) GrandTotalMoney() valueobject.Money {
	m, _ := valueobject.NewMoney(inv.Totals().GrandTotal, inv.Currency)
	return m
}

func (inv *SalesInvoice) indexOf(lineID uuid.UUID) int {
	for i := range inv.Lines {
		if inv.Lines[i].ID == lineID {
			return i
		}
	}
	return -1
}
