package persistence

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cargoflow/backoffice/internal/domain/shared"
	"github.com/cargoflow/backoffice/internal/infrastructure/config"
)

func setupTestDB(t *testing.T) *Database {
	t.Helper()
	db, err := NewDatabase(&config.DatabaseConfig{
		Driver:       "sqlite",
		Path:         ":memory:",
		MaxOpenConns: 1,
	})
	require.NoError(t, err)
	require.NoError(t, db.AutoMigrate())
	t.Cleanup(func() { _ = db.Close() })
	return db
}

func d(t *testing.T, s string) decimal.Decimal {
	t.Helper()
	v, err := decimal.NewFromString(s)
	require.NoError(t, err)
	return v
}

func seedSalesInvoice(t *testing.T, repo *ReconciliationRepository, total string) *SalesInvoiceModel {
	t.Helper()
	invoice := &SalesInvoiceModel{
		ID:            uuid.New(),
		InvoiceNumber: "FV-" + uuid.New().String()[:8],
		ClientName:    "Naviera del Sur",
		Currency:      "CRC",
		TaxRate:       d(t, "13"),
		TotalAmount:   d(t, total),
		CreatedAt:     time.Now(),
		UpdatedAt:     time.Now(),
	}
	require.NoError(t, repo.CreateSalesInvoice(context.Background(), invoice, nil))
	return invoice
}

func seedCostInvoice(t *testing.T, repo *ReconciliationRepository, applicable string) *CostInvoiceModel {
	t.Helper()
	invoice := &CostInvoiceModel{
		ID:               uuid.New(),
		InvoiceNumber:    "FC-" + uuid.New().String()[:8],
		SupplierName:     "Transportes Unidos",
		CostType:         "FLETE_INTERNACIONAL",
		ApplicableAmount: d(t, applicable),
		CreatedAt:        time.Now(),
		UpdatedAt:        time.Now(),
	}
	require.NoError(t, repo.CreateCostInvoice(context.Background(), invoice))
	return invoice
}

func TestReconciliationRepository_DuplicateInvoiceNumbers(t *testing.T) {
	ctx := context.Background()

	t.Run("duplicate sales invoice number", func(t *testing.T) {
		repo := NewReconciliationRepository(setupTestDB(t).DB)
		first := seedSalesInvoice(t, repo, "500.00")

		dup := &SalesInvoiceModel{
			ID:            uuid.New(),
			InvoiceNumber: first.InvoiceNumber,
			ClientName:    "Otro Cliente",
			Currency:      "CRC",
			TaxRate:       d(t, "13"),
			TotalAmount:   d(t, "100.00"),
			CreatedAt:     time.Now(),
			UpdatedAt:     time.Now(),
		}
		err := repo.CreateSalesInvoice(ctx, dup, nil)
		require.Error(t, err)
		assert.ErrorIs(t, err, shared.ErrAlreadyExists)
	})

	t.Run("duplicate cost invoice number", func(t *testing.T) {
		repo := NewReconciliationRepository(setupTestDB(t).DB)
		first := seedCostInvoice(t, repo, "400.00")

		dup := &CostInvoiceModel{
			ID:               uuid.New(),
			InvoiceNumber:    first.InvoiceNumber,
			SupplierName:     "Otro Proveedor",
			CostType:         "ALMACENAJE",
			ApplicableAmount: d(t, "50.00"),
			CreatedAt:        time.Now(),
			UpdatedAt:        time.Now(),
		}
		err := repo.CreateCostInvoice(ctx, dup)
		require.Error(t, err)
		assert.ErrorIs(t, err, shared.ErrAlreadyExists)
	})
}

func TestReconciliationRepository_CreateMapping(t *testing.T) {
	ctx := context.Background()

	t.Run("creates mapping and returns updated margins", func(t *testing.T) {
		repo := NewReconciliationRepository(setupTestDB(t).DB)
		sales := seedSalesInvoice(t, repo, "500.00")
		cost := seedCostInvoice(t, repo, "400.00")

		res, err := repo.CreateMapping(ctx, sales.ID, cost.ID, d(t, "200.00"), "flete maritimo")
		require.NoError(t, err)
		assert.Equal(t, cost.ID, res.Mapping.CostInvoiceID)
		assert.Equal(t, cost.InvoiceNumber, res.Mapping.CostInvoiceNumber)
		assert.Equal(t, "300.00", res.Margins.GrossMargin.StringFixed(2))
		assert.Equal(t, "60.00", res.Margins.MarginPercent.StringFixed(2))
	})

	t.Run("rejects allocation beyond the available amount", func(t *testing.T) {
		repo := NewReconciliationRepository(setupTestDB(t).DB)
		sales := seedSalesInvoice(t, repo, "1000.00")
		cost := seedCostInvoice(t, repo, "300.00")

		_, err := repo.CreateMapping(ctx, sales.ID, cost.ID, d(t, "250.00"), "")
		require.NoError(t, err)

		_, err = repo.CreateMapping(ctx, sales.ID, cost.ID, d(t, "100.00"), "")
		require.Error(t, err)
		assert.True(t, shared.IsValidation(err))

		// The rejected write left no row behind.
		list, err := repo.ListMappings(ctx, sales.ID)
		require.NoError(t, err)
		require.Len(t, list.Mappings, 1)
		assert.Equal(t, "250.00", list.TotalAssignedCosts.StringFixed(2))
	})

	t.Run("availability spans all sales invoices", func(t *testing.T) {
		repo := NewReconciliationRepository(setupTestDB(t).DB)
		first := seedSalesInvoice(t, repo, "1000.00")
		second := seedSalesInvoice(t, repo, "1000.00")
		cost := seedCostInvoice(t, repo, "300.00")

		_, err := repo.CreateMapping(ctx, first.ID, cost.ID, d(t, "200.00"), "")
		require.NoError(t, err)

		_, err = repo.CreateMapping(ctx, second.ID, cost.ID, d(t, "150.00"), "")
		require.Error(t, err)
		assert.True(t, shared.IsValidation(err))

		_, err = repo.CreateMapping(ctx, second.ID, cost.ID, d(t, "100.00"), "")
		require.NoError(t, err)
	})

	t.Run("rejects non-positive amounts", func(t *testing.T) {
		repo := NewReconciliationRepository(setupTestDB(t).DB)
		sales := seedSalesInvoice(t, repo, "100.00")
		cost := seedCostInvoice(t, repo, "100.00")

		_, err := repo.CreateMapping(ctx, sales.ID, cost.ID, decimal.Zero, "")
		assert.True(t, shared.IsValidation(err))
	})

	t.Run("unknown invoices yield not found", func(t *testing.T) {
		repo := NewReconciliationRepository(setupTestDB(t).DB)
		sales := seedSalesInvoice(t, repo, "100.00")

		_, err := repo.CreateMapping(ctx, uuid.New(), uuid.New(), d(t, "10"), "")
		assert.True(t, shared.IsNotFound(err))

		_, err = repo.CreateMapping(ctx, sales.ID, uuid.New(), d(t, "10"), "")
		assert.True(t, shared.IsNotFound(err))
	})
}

func TestReconciliationRepository_ListAvailableCosts(t *testing.T) {
	ctx := context.Background()
	repo := NewReconciliationRepository(setupTestDB(t).DB)
	sales := seedSalesInvoice(t, repo, "1000.00")
	open := seedCostInvoice(t, repo, "300.00")
	exhausted := seedCostInvoice(t, repo, "150.00")

	_, err := repo.CreateMapping(ctx, sales.ID, open.ID, d(t, "100.00"), "")
	require.NoError(t, err)
	_, err = repo.CreateMapping(ctx, sales.ID, exhausted.ID, d(t, "150.00"), "")
	require.NoError(t, err)

	available, err := repo.ListAvailableCosts(ctx, sales.ID)
	require.NoError(t, err)
	require.Len(t, available, 1, "fully allocated invoices are excluded")
	assert.Equal(t, open.ID, available[0].ID)
	assert.Equal(t, "200.00", available[0].AvailableAmount.StringFixed(2))
	assert.Equal(t, "300.00", available[0].ApplicableAmount.StringFixed(2))
	assert.Equal(t, "Flete Internacional", available[0].CostTypeDisplay)
}

func TestReconciliationRepository_DeleteMapping(t *testing.T) {
	ctx := context.Background()

	t.Run("removes mapping and restores availability", func(t *testing.T) {
		repo := NewReconciliationRepository(setupTestDB(t).DB)
		sales := seedSalesInvoice(t, repo, "500.00")
		cost := seedCostInvoice(t, repo, "400.00")

		res, err := repo.CreateMapping(ctx, sales.ID, cost.ID, d(t, "400.00"), "")
		require.NoError(t, err)

		margins, err := repo.DeleteMapping(ctx, sales.ID, res.Mapping.ID)
		require.NoError(t, err)
		assert.Equal(t, "500.00", margins.GrossMargin.StringFixed(2))
		assert.Equal(t, "100.00", margins.MarginPercent.StringFixed(2))

		available, err := repo.ListAvailableCosts(ctx, sales.ID)
		require.NoError(t, err)
		require.Len(t, available, 1)
		assert.Equal(t, "400.00", available[0].AvailableAmount.StringFixed(2))
	})

	t.Run("unknown mapping yields not found", func(t *testing.T) {
		repo := NewReconciliationRepository(setupTestDB(t).DB)
		sales := seedSalesInvoice(t, repo, "500.00")

		_, err := repo.DeleteMapping(ctx, sales.ID, uuid.New())
		assert.True(t, shared.IsNotFound(err))
	})

	t.Run("mapping scoped to its sales invoice", func(t *testing.T) {
		repo := NewReconciliationRepository(setupTestDB(t).DB)
		first := seedSalesInvoice(t, repo, "500.00")
		second := seedSalesInvoice(t, repo, "500.00")
		cost := seedCostInvoice(t, repo, "100.00")

		res, err := repo.CreateMapping(ctx, first.ID, cost.ID, d(t, "50.00"), "")
		require.NoError(t, err)

		_, err = repo.DeleteMapping(ctx, second.ID, res.Mapping.ID)
		assert.True(t, shared.IsNotFound(err))
	})
}

func TestReconciliationRepository_ListMappings(t *testing.T) {
	ctx := context.Background()
	repo := NewReconciliationRepository(setupTestDB(t).DB)
	sales := seedSalesInvoice(t, repo, "500.00")
	a := seedCostInvoice(t, repo, "400.00")
	b := seedCostInvoice(t, repo, "400.00")

	_, err := repo.CreateMapping(ctx, sales.ID, a.ID, d(t, "200.00"), "")
	require.NoError(t, err)
	_, err = repo.CreateMapping(ctx, sales.ID, b.ID, d(t, "150.00"), "")
	require.NoError(t, err)

	list, err := repo.ListMappings(ctx, sales.ID)
	require.NoError(t, err)
	require.Len(t, list.Mappings, 2)
	assert.Equal(t, "350.00", list.TotalAssignedCosts.StringFixed(2))
	assert.Equal(t, "150.00", list.GrossMargin.StringFixed(2))
	assert.Equal(t, "30.00", list.MarginPercent.StringFixed(2))
	assert.Equal(t, "Transportes Unidos", list.Mappings[0].SupplierName)

	_, err = repo.ListMappings(ctx, uuid.New())
	assert.True(t, shared.IsNotFound(err))
}
