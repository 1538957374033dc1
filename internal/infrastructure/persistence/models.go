package persistence

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/cargoflow/backoffice/internal/domain/invoicing"
	"github.com/cargoflow/backoffice/internal/domain/reconciliation"
)

// SalesInvoiceModel maps a sales invoice aggregate to its table. Line items
// are stored separately in SalesLineModel; TotalAmount is the computed grand
// total and is rewritten whenever the lines change.
type SalesInvoiceModel struct {
	ID            uuid.UUID       `gorm:"type:uuid;primary_key"`
	InvoiceNumber string          `gorm:"size:64;uniqueIndex;not null"`
	ClientName    string          `gorm:"size:255;not null"`
	Currency      string          `gorm:"size:3;not null"`
	TaxRate       decimal.Decimal `gorm:"type:decimal(8,4);not null"`
	TotalAmount   decimal.Decimal `gorm:"type:decimal(18,4);not null"`
	CreatedAt     time.Time       `gorm:"not null"`
	UpdatedAt     time.Time       `gorm:"not null"`
}

// SalesLineModel maps one invoice line. Computed columns (subtotal, tax,
// total) are stored as the calculator produced them.
type SalesLineModel struct {
	ID             uuid.UUID       `gorm:"type:uuid;primary_key"`
	SalesInvoiceID uuid.UUID       `gorm:"type:uuid;not null;index"`
	LineNumber     int             `gorm:"not null"`
	Description    string          `gorm:"size:500;not null"`
	Concept        string          `gorm:"size:40;not null"`
	Quantity       decimal.Decimal `gorm:"type:decimal(18,4);not null"`
	UnitPrice      decimal.Decimal `gorm:"type:decimal(18,4);not null"`
	Taxable        bool            `gorm:"not null"`
	Subtotal       decimal.Decimal `gorm:"type:decimal(18,4);not null"`
	Tax            decimal.Decimal `gorm:"type:decimal(18,4);not null"`
	Total          decimal.Decimal `gorm:"type:decimal(18,4);not null"`
	CreatedAt      time.Time       `gorm:"not null"`
	UpdatedAt      time.Time       `gorm:"not null"`
}

// CostInvoiceModel maps a supplier (cost) invoice. ApplicableAmount is the
// ceiling for the sum of all its mapping allocations.
type CostInvoiceModel struct {
	ID               uuid.UUID       `gorm:"type:uuid;primary_key"`
	InvoiceNumber    string          `gorm:"size:64;uniqueIndex;not null"`
	SupplierName     string          `gorm:"size:255;not null"`
	CostType         string          `gorm:"size:40;not null"`
	ApplicableAmount decimal.Decimal `gorm:"type:decimal(18,4);not null"`
	CreatedAt        time.Time       `gorm:"not null"`
	UpdatedAt        time.Time       `gorm:"not null"`
}

// CostMappingModel maps one allocation of a cost invoice against a sales
// invoice. Mappings are immutable; changes are modeled as delete + create.
type CostMappingModel struct {
	ID             uuid.UUID       `gorm:"type:uuid;primary_key"`
	SalesInvoiceID uuid.UUID       `gorm:"type:uuid;not null;index"`
	CostInvoiceID  uuid.UUID       `gorm:"type:uuid;not null;index"`
	AssignedAmount decimal.Decimal `gorm:"type:decimal(18,4);not null"`
	Notes          string          `gorm:"size:500"`
	CreatedAt      time.Time       `gorm:"not null"`
}

// ToDomainLine converts a line model to the invoicing domain type
func (m *SalesLineModel) ToDomainLine() invoicing.Line {
	return invoicing.Line{
		ID:          m.ID,
		LineNumber:  m.LineNumber,
		Description: m.Description,
		Concept:     invoicing.Concept(m.Concept),
		Quantity:    m.Quantity,
		UnitPrice:   m.UnitPrice,
		Taxable:     m.Taxable,
		Subtotal:    m.Subtotal,
		Tax:         m.Tax,
		Total:       m.Total,
	}
}

// LineModelFromDomain converts an invoicing line to its persistence model
func LineModelFromDomain(salesInvoiceID uuid.UUID, line invoicing.Line) SalesLineModel {
	return SalesLineModel{
		ID:             line.ID,
		SalesInvoiceID: salesInvoiceID,
		LineNumber:     line.LineNumber,
		Description:    line.Description,
		Concept:        string(line.Concept),
		Quantity:       line.Quantity,
		UnitPrice:      line.UnitPrice,
		Taxable:        line.Taxable,
		Subtotal:       line.Subtotal,
		Tax:            line.Tax,
		Total:          line.Total,
	}
}

// ToAvailable converts a cost invoice model to the wire view given the amount
// already assigned across all sales invoices.
func (m *CostInvoiceModel) ToAvailable(assigned decimal.Decimal) reconciliation.AvailableCostInvoice {
	return reconciliation.AvailableCostInvoice{
		ID:               m.ID,
		InvoiceNumber:    m.InvoiceNumber,
		SupplierName:     m.SupplierName,
		CostTypeDisplay:  invoicing.Concept(m.CostType).Display(),
		ApplicableAmount: m.ApplicableAmount,
		AvailableAmount:  m.ApplicableAmount.Sub(assigned),
	}
}

// ToDomainMapping converts a mapping model plus its cost invoice to the wire view
func (m *CostMappingModel) ToDomainMapping(cost *CostInvoiceModel) reconciliation.CostMapping {
	mapping := reconciliation.CostMapping{
		ID:             m.ID,
		SalesInvoiceID: m.SalesInvoiceID,
		CostInvoiceID:  m.CostInvoiceID,
		AssignedAmount: m.AssignedAmount,
		Notes:          m.Notes,
	}
	if cost != nil {
		mapping.CostInvoiceNumber = cost.InvoiceNumber
		mapping.SupplierName = cost.SupplierName
		mapping.CostTypeDisplay = invoicing.Concept(cost.CostType).Display()
		if cost.ApplicableAmount.IsPositive() {
			mapping.MarkupPercent = m.AssignedAmount.
				Mul(decimal.NewFromInt(100)).
				Div(cost.ApplicableAmount).
				Round(2)
		}
	}
	return mapping
}
