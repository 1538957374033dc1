package reconciliation

import (
	"github.com/cargoflow/backoffice/internal/domain/shared/valueobject"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// CostMapping is an association between one sales invoice and one cost
// (supplier) invoice with an assigned amount. Mappings are never edited in
// place; a changed allocation is modeled as remove + add.
type CostMapping struct {
	ID                uuid.UUID       `json:"id"`
	SalesInvoiceID    uuid.UUID       `json:"sales_invoice_id"`
	CostInvoiceID     uuid.UUID       `json:"cost_invoice_id"`
	CostInvoiceNumber string          `json:"cost_invoice_numero"`
	SupplierName      string          `json:"proveedor_nombre"`
	CostTypeDisplay   string          `json:"tipo_costo_display"`
	AssignedAmount    decimal.Decimal `json:"monto_asignado"`
	MarkupPercent     decimal.Decimal `json:"porcentaje_markup"` // informational, server-computed
	Notes             string          `json:"notas"`
}

// AssignedMoney returns the assigned amount as Money in the default currency
func (m CostMapping) AssignedMoney() valueobject.Money {
	return valueobject.NewMoneyCRC(m.AssignedAmount)
}

// AvailableCostInvoice is a cost invoice that still has unallocated amount
// left and can therefore be associated to a sales invoice.
type AvailableCostInvoice struct {
	ID               uuid.UUID       `json:"id"`
	InvoiceNumber    string          `json:"numero_factura"`
	SupplierName     string          `json:"proveedor_nombre"`
	CostTypeDisplay  string          `json:"tipo_costo_display"`
	ApplicableAmount decimal.Decimal `json:"monto_aplicable"`
	AvailableAmount  decimal.Decimal `json:"monto_disponible"`
}

// AvailableMoney returns the available amount as Money in the default currency
func (a AvailableCostInvoice) AvailableMoney() valueobject.Money {
	return valueobject.NewMoneyCRC(a.AvailableAmount)
}

// MarginSnapshot is the margin view for one sales invoice. GrossMargin and
// MarginPercent mirror the server's last response verbatim; the client never
// derives them for persistence.
type MarginSnapshot struct {
	TotalSalesAmount   decimal.Decimal `json:"total_sales_amount"`
	TotalAssignedCosts decimal.Decimal `json:"total_assigned_costs"`
	GrossMargin        decimal.Decimal `json:"gross_margin"`
	MarginPercent      decimal.Decimal `json:"margin_percent"`
}

// UpdatedMargins is the margin pair the server returns after every mapping
// mutation.
type UpdatedMargins struct {
	GrossMargin   decimal.Decimal `json:"margen_bruto"`
	MarginPercent decimal.Decimal `json:"porcentaje_margen"`
}

// NewMapping is a request to associate one cost invoice with the sales
// invoice at a given amount.
type NewMapping struct {
	CostInvoiceID  uuid.UUID       `json:"cost_invoice_id"`
	AssignedAmount decimal.Decimal `json:"monto_asignado"`
	Notes          string          `json:"notas,omitempty"`
}

// MappingList is the server's full mapping view for a sales invoice.
type MappingList struct {
	Mappings           []CostMapping   `json:"cost_mappings"`
	TotalAssignedCosts decimal.Decimal `json:"total_costos_asignados"`
	GrossMargin        decimal.Decimal `json:"margen_actual"`
	MarginPercent      decimal.Decimal `json:"porcentaje_margen"`
}

// AddResult is the server response to a mapping creation.
type AddResult struct {
	Mapping CostMapping
	Margins UpdatedMargins
}

// Topic names a cached view that a mutation invalidated. The ledger returns
// topics explicitly instead of reaching into any cache itself; the caller
// decides what to re-fetch.
type Topic string

const (
	TopicMappings       Topic = "cost-mappings"
	TopicAvailableCosts Topic = "available-costs"
	TopicSalesInvoice   Topic = "sales-invoice"
)
