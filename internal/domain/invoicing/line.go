package invoicing

import (
	"github.com/cargoflow/backoffice/internal/domain/shared"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// Line represents one line item of a sales invoice.
//
// Subtotal, Tax and Total are derived: they are always recomputed from
// Quantity, UnitPrice and Taxable via ComputeLine and must never be set
// independently. A Line whose derived fields have not been computed yet
// carries zeros there.
type Line struct {
	ID          uuid.UUID       `json:"id"` // temporary client id until the server persists the line
	LineNumber  int             `json:"line_number"`
	Description string          `json:"description"`
	Concept     Concept         `json:"concept"`
	Quantity    decimal.Decimal `json:"quantity"`
	UnitPrice   decimal.Decimal `json:"unit_price"`
	Taxable     bool            `json:"taxable"`
	Subtotal    decimal.Decimal `json:"subtotal"`
	Tax         decimal.Decimal `json:"tax"`
	Total       decimal.Decimal `json:"total"`
}

// NewLine creates a line with a temporary client-generated id. Derived
// fields are left at zero until the caller runs ComputeLine.
func NewLine(description string, concept Concept, quantity, unitPrice decimal.Decimal, taxable bool) (Line, error) {
	line := Line{
		ID:          uuid.New(),
		Description: description,
		Concept:     concept,
		Quantity:    quantity,
		UnitPrice:   unitPrice,
		Taxable:     taxable,
	}
	if err := line.Validate(); err != nil {
		return Line{}, err
	}
	return line, nil
}

// Validate checks the input fields. Computation itself is total and does not
// validate; rejecting bad input is the caller's responsibility, done here.
func (l Line) Validate() error {
	if !l.Concept.IsValid() {
		return shared.NewDomainError("INVALID_CONCEPT", "Concept must be one of the fixed service categories")
	}
	if l.Quantity.IsNegative() {
		return shared.NewValidationError("quantity", "quantity cannot be negative")
	}
	if l.UnitPrice.IsNegative() {
		return shared.NewValidationError("unit_price", "unit price cannot be negative")
	}
	return nil
}
