package persistence

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"

	"github.com/cargoflow/backoffice/internal/domain/reconciliation"
	"github.com/cargoflow/backoffice/internal/domain/shared"
)

// ReconciliationRepository persists sales invoices, cost invoices, and the
// mappings between them. It owns the authoritative availability check: a
// mapping is only created inside a transaction that re-validates the cost
// invoice's remaining amount at write time.
type ReconciliationRepository struct {
	db *gorm.DB
}

// NewReconciliationRepository creates a new reconciliation repository
func NewReconciliationRepository(db *gorm.DB) *ReconciliationRepository {
	return &ReconciliationRepository{db: db}
}

// CreateSalesInvoice stores a sales invoice together with its lines
func (r *ReconciliationRepository) CreateSalesInvoice(ctx context.Context, invoice *SalesInvoiceModel, lines []SalesLineModel) error {
	return r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Create(invoice).Error; err != nil {
			if errors.Is(err, gorm.ErrDuplicatedKey) {
				return shared.NewDomainError(shared.ErrAlreadyExists.Code, "sales invoice number already exists")
			}
			return err
		}
		if len(lines) > 0 {
			if err := tx.Create(&lines).Error; err != nil {
				return err
			}
		}
		return nil
	})
}

// GetSalesInvoice loads one sales invoice by id
func (r *ReconciliationRepository) GetSalesInvoice(ctx context.Context, id uuid.UUID) (*SalesInvoiceModel, error) {
	var invoice SalesInvoiceModel
	err := r.db.WithContext(ctx).First(&invoice, "id = ?", id).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, shared.NewDomainError(shared.ErrNotFound.Code, "sales invoice not found")
	}
	if err != nil {
		return nil, err
	}
	return &invoice, nil
}

// GetSalesLines loads the lines of one sales invoice ordered by line number
func (r *ReconciliationRepository) GetSalesLines(ctx context.Context, salesInvoiceID uuid.UUID) ([]SalesLineModel, error) {
	var lines []SalesLineModel
	err := r.db.WithContext(ctx).
		Where("sales_invoice_id = ?", salesInvoiceID).
		Order("line_number").
		Find(&lines).Error
	return lines, err
}

// CreateCostInvoice stores a supplier cost invoice
func (r *ReconciliationRepository) CreateCostInvoice(ctx context.Context, invoice *CostInvoiceModel) error {
	err := r.db.WithContext(ctx).Create(invoice).Error
	if errors.Is(err, gorm.ErrDuplicatedKey) {
		return shared.NewDomainError(shared.ErrAlreadyExists.Code, "cost invoice number already exists")
	}
	return err
}

// ListMappings returns the mapping view of a sales invoice with
// server-computed margin figures.
func (r *ReconciliationRepository) ListMappings(ctx context.Context, salesInvoiceID uuid.UUID) (*reconciliation.MappingList, error) {
	invoice, err := r.GetSalesInvoice(ctx, salesInvoiceID)
	if err != nil {
		return nil, err
	}

	var mappings []CostMappingModel
	if err := r.db.WithContext(ctx).
		Where("sales_invoice_id = ?", salesInvoiceID).
		Order("created_at").
		Find(&mappings).Error; err != nil {
		return nil, err
	}

	costByID, err := r.costInvoicesFor(ctx, mappings)
	if err != nil {
		return nil, err
	}

	list := &reconciliation.MappingList{
		Mappings:           make([]reconciliation.CostMapping, 0, len(mappings)),
		TotalAssignedCosts: decimal.Zero,
	}
	for i := range mappings {
		list.Mappings = append(list.Mappings, mappings[i].ToDomainMapping(costByID[mappings[i].CostInvoiceID]))
		list.TotalAssignedCosts = list.TotalAssignedCosts.Add(mappings[i].AssignedAmount)
	}
	list.GrossMargin, list.MarginPercent = computeMargins(invoice.TotalAmount, list.TotalAssignedCosts)
	return list, nil
}

// ListAvailableCosts returns every cost invoice that still has unallocated
// amount. Availability is computed across all sales invoices, not just the
// one being reconciled.
func (r *ReconciliationRepository) ListAvailableCosts(ctx context.Context, salesInvoiceID uuid.UUID) ([]reconciliation.AvailableCostInvoice, error) {
	if _, err := r.GetSalesInvoice(ctx, salesInvoiceID); err != nil {
		return nil, err
	}

	var costs []CostInvoiceModel
	if err := r.db.WithContext(ctx).Order("invoice_number").Find(&costs).Error; err != nil {
		return nil, err
	}

	available := make([]reconciliation.AvailableCostInvoice, 0, len(costs))
	for i := range costs {
		assigned, err := r.assignedTotal(r.db.WithContext(ctx), costs[i].ID)
		if err != nil {
			return nil, err
		}
		if costs[i].ApplicableAmount.Sub(assigned).IsPositive() {
			available = append(available, costs[i].ToAvailable(assigned))
		}
	}
	return available, nil
}

// CreateMapping creates one allocation after re-validating availability
// inside the transaction. Returns the created mapping and the margins the
// sales invoice has after the write.
func (r *ReconciliationRepository) CreateMapping(ctx context.Context, salesInvoiceID, costInvoiceID uuid.UUID, amount decimal.Decimal, notes string) (*reconciliation.AddResult, error) {
	if !amount.IsPositive() {
		return nil, shared.NewValidationError("monto_asignado", "amount must be greater than zero")
	}

	var result reconciliation.AddResult
	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var invoice SalesInvoiceModel
		if err := tx.First(&invoice, "id = ?", salesInvoiceID).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return shared.NewDomainError(shared.ErrNotFound.Code, "sales invoice not found")
			}
			return err
		}

		var cost CostInvoiceModel
		if err := tx.First(&cost, "id = ?", costInvoiceID).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return shared.NewDomainError(shared.ErrNotFound.Code, "cost invoice not found")
			}
			return err
		}

		assigned, err := r.assignedTotal(tx, costInvoiceID)
		if err != nil {
			return err
		}
		if amount.GreaterThan(cost.ApplicableAmount.Sub(assigned)) {
			return shared.NewValidationError("monto_asignado", "amount exceeds the cost invoice's available amount")
		}

		mapping := CostMappingModel{
			ID:             uuid.New(),
			SalesInvoiceID: salesInvoiceID,
			CostInvoiceID:  costInvoiceID,
			AssignedAmount: amount,
			Notes:          notes,
			CreatedAt:      time.Now(),
		}
		if err := tx.Create(&mapping).Error; err != nil {
			return err
		}

		totalAssigned, err := r.salesAssignedTotal(tx, salesInvoiceID)
		if err != nil {
			return err
		}
		gross, percent := computeMargins(invoice.TotalAmount, totalAssigned)
		result = reconciliation.AddResult{
			Mapping: mapping.ToDomainMapping(&cost),
			Margins: reconciliation.UpdatedMargins{GrossMargin: gross, MarginPercent: percent},
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return &result, nil
}

// DeleteMapping removes one allocation and returns the margins the sales
// invoice has after the removal.
func (r *ReconciliationRepository) DeleteMapping(ctx context.Context, salesInvoiceID, mappingID uuid.UUID) (*reconciliation.UpdatedMargins, error) {
	var margins reconciliation.UpdatedMargins
	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var invoice SalesInvoiceModel
		if err := tx.First(&invoice, "id = ?", salesInvoiceID).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return shared.NewDomainError(shared.ErrNotFound.Code, "sales invoice not found")
			}
			return err
		}

		res := tx.Where("id = ? AND sales_invoice_id = ?", mappingID, salesInvoiceID).
			Delete(&CostMappingModel{})
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected == 0 {
			return shared.NewDomainError(shared.ErrNotFound.Code, "cost mapping not found")
		}

		totalAssigned, err := r.salesAssignedTotal(tx, salesInvoiceID)
		if err != nil {
			return err
		}
		gross, percent := computeMargins(invoice.TotalAmount, totalAssigned)
		margins = reconciliation.UpdatedMargins{GrossMargin: gross, MarginPercent: percent}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return &margins, nil
}

// assignedTotal sums every allocation against one cost invoice
func (r *ReconciliationRepository) assignedTotal(tx *gorm.DB, costInvoiceID uuid.UUID) (decimal.Decimal, error) {
	var mappings []CostMappingModel
	if err := tx.Where("cost_invoice_id = ?", costInvoiceID).Find(&mappings).Error; err != nil {
		return decimal.Zero, err
	}
	sum := decimal.Zero
	for i := range mappings {
		sum = sum.Add(mappings[i].AssignedAmount)
	}
	return sum, nil
}

// salesAssignedTotal sums every allocation against one sales invoice
func (r *ReconciliationRepository) salesAssignedTotal(tx *gorm.DB, salesInvoiceID uuid.UUID) (decimal.Decimal, error) {
	var mappings []CostMappingModel
	if err := tx.Where("sales_invoice_id = ?", salesInvoiceID).Find(&mappings).Error; err != nil {
		return decimal.Zero, err
	}
	sum := decimal.Zero
	for i := range mappings {
		sum = sum.Add(mappings[i].AssignedAmount)
	}
	return sum, nil
}

// costInvoicesFor loads the cost invoices referenced by a mapping set
func (r *ReconciliationRepository) costInvoicesFor(ctx context.Context, mappings []CostMappingModel) (map[uuid.UUID]*CostInvoiceModel, error) {
	if len(mappings) == 0 {
		return map[uuid.UUID]*CostInvoiceModel{}, nil
	}
	ids := make([]uuid.UUID, 0, len(mappings))
	for i := range mappings {
		ids = append(ids, mappings[i].CostInvoiceID)
	}
	var costs []CostInvoiceModel
	if err := r.db.WithContext(ctx).Where("id IN ?", ids).Find(&costs).Error; err != nil {
		return nil, err
	}
	byID := make(map[uuid.UUID]*CostInvoiceModel, len(costs))
	for i := range costs {
		byID[costs[i].ID] = &costs[i]
	}
	return byID, nil
}

// computeMargins derives the margin pair from the invoice total and the sum
// of its allocations. Percent is rounded to two places; a zero sales total
// yields zero percent rather than a division error.
func computeMargins(salesTotal, assigned decimal.Decimal) (gross, percent decimal.Decimal) {
	gross = salesTotal.Sub(assigned)
	if salesTotal.IsPositive() {
		percent = gross.Mul(decimal.NewFromInt(100)).Div(salesTotal).Round(2)
	} else {
		percent = decimal.Zero
	}
	return gross, percent
}
