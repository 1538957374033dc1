package reconciliation

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"github.com/cargoflow/backoffice/internal/domain/shared"
	"github.com/cargoflow/backoffice/internal/domain/shared/valueobject"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func d(s string) decimal.Decimal {
	v, err := decimal.NewFromString(s)
	if err != nil {
		panic(err)
	}
	return v
}

func crc(s string) valueobject.Money {
	m, err := valueobject.NewMoneyCRCFromString(s)
	if err != nil {
		panic(err)
	}
	return m
}

// fakeGateway lets each test script the server's behavior per operation.
type fakeGateway struct {
	listMappings   func(ctx context.Context, salesInvoiceID uuid.UUID) (*MappingList, error)
	listAvailable  func(ctx context.Context, salesInvoiceID uuid.UUID) ([]AvailableCostInvoice, error)
	addMapping     func(ctx context.Context, salesInvoiceID uuid.UUID, req NewMapping) (*AddResult, error)
	removeMapping  func(ctx context.Context, salesInvoiceID, mappingID uuid.UUID) (*UpdatedMargins, error)
	addCalls       atomic.Int32
	removeCalls    atomic.Int32
	listCalls      atomic.Int32
	availableCalls atomic.Int32
}

func (f *fakeGateway) ListMappings(ctx context.Context, salesInvoiceID uuid.UUID) (*MappingList, error) {
	f.listCalls.Add(1)
	if f.listMappings == nil {
		return &MappingList{}, nil
	}
	return f.listMappings(ctx, salesInvoiceID)
}

func (f *fakeGateway) ListAvailableCosts(ctx context.Context, salesInvoiceID uuid.UUID) ([]AvailableCostInvoice, error) {
	f.availableCalls.Add(1)
	if f.listAvailable == nil {
		return nil, nil
	}
	return f.listAvailable(ctx, salesInvoiceID)
}

func (f *fakeGateway) AddCostMapping(ctx context.Context, salesInvoiceID uuid.UUID, req NewMapping) (*AddResult, error) {
	f.addCalls.Add(1)
	if f.addMapping == nil {
		return &AddResult{}, nil
	}
	return f.addMapping(ctx, salesInvoiceID, req)
}

func (f *fakeGateway) RemoveCostMapping(ctx context.Context, salesInvoiceID, mappingID uuid.UUID) (*UpdatedMargins, error) {
	f.removeCalls.Add(1)
	if f.removeMapping == nil {
		return &UpdatedMargins{}, nil
	}
	return f.removeMapping(ctx, salesInvoiceID, mappingID)
}

func availableInvoice(amount string) AvailableCostInvoice {
	return AvailableCostInvoice{
		ID:               uuid.New(),
		InvoiceNumber:    "FC-100",
		SupplierName:     "Transportes Unidos",
		CostTypeDisplay:  "Flete",
		ApplicableAmount: d(amount),
		AvailableAmount:  d(amount),
	}
}

// newLoadedLedger builds a ledger whose available list is already populated.
func newLoadedLedger(t *testing.T, gw *fakeGateway, salesTotal string, available ...AvailableCostInvoice) *Ledger {
	t.Helper()
	ledger := NewLedger(uuid.New(), crc(salesTotal), gw, nil)

	prevList, prevAvail := gw.listMappings, gw.listAvailable
	gw.listAvailable = func(ctx context.Context, _ uuid.UUID) ([]AvailableCostInvoice, error) {
		return available, nil
	}
	require.NoError(t, ledger.Refresh(context.Background()))
	gw.listMappings, gw.listAvailable = prevList, prevAvail
	if gw.listAvailable == nil {
		gw.listAvailable = func(ctx context.Context, _ uuid.UUID) ([]AvailableCostInvoice, error) {
			return available, nil
		}
	}
	return ledger
}

func TestLedger_Select(t *testing.T) {
	t.Run("over-allocation fails before any network call", func(t *testing.T) {
		gw := &fakeGateway{}
		inv := availableInvoice("500.00")
		ledger := newLoadedLedger(t, gw, "1000.00", inv)
		callsBefore := gw.addCalls.Load()

		err := ledger.Select(inv.ID, crc("600.00"), "")

		require.Error(t, err)
		assert.True(t, shared.IsValidation(err))
		var ve *shared.ValidationError
		require.ErrorAs(t, err, &ve)
		assert.Equal(t, "amount", ve.Field)
		assert.Empty(t, ledger.Staged())
		assert.Equal(t, callsBefore, gw.addCalls.Load())
	})

	t.Run("cumulative staged amounts respect the bound", func(t *testing.T) {
		gw := &fakeGateway{}
		inv := availableInvoice("500.00")
		ledger := newLoadedLedger(t, gw, "1000.00", inv)

		require.NoError(t, ledger.Select(inv.ID, crc("300.00"), ""))
		require.NoError(t, ledger.Select(inv.ID, crc("200.00"), ""))

		err := ledger.Select(inv.ID, crc("0.01"), "")
		assert.True(t, shared.IsValidation(err))
		assert.Len(t, ledger.Staged(), 2)
	})

	t.Run("zero or negative amounts rejected", func(t *testing.T) {
		gw := &fakeGateway{}
		inv := availableInvoice("500.00")
		ledger := newLoadedLedger(t, gw, "1000.00", inv)

		assert.True(t, shared.IsValidation(ledger.Select(inv.ID, valueobject.ZeroCRC(), "")))
		assert.True(t, shared.IsValidation(ledger.Select(inv.ID, crc("-5"), "")))
	})

	t.Run("unknown cost invoice", func(t *testing.T) {
		gw := &fakeGateway{}
		ledger := newLoadedLedger(t, gw, "1000.00", availableInvoice("500.00"))
		assert.True(t, shared.IsNotFound(ledger.Select(uuid.New(), crc("10"), "")))
	})
}

func TestLedger_SelectAllDeselect(t *testing.T) {
	gw := &fakeGateway{}
	a := availableInvoice("100.00")
	b := availableInvoice("250.00")
	ledger := newLoadedLedger(t, gw, "1000.00", a, b)

	t.Run("select all stages full remaining amounts", func(t *testing.T) {
		added := ledger.SelectAll(nil)
		assert.Equal(t, 2, added)
		staged := ledger.Staged()
		require.Len(t, staged, 2)
		assert.True(t, staged[0].Amount.Equal(d("100.00")))
		assert.True(t, staged[1].Amount.Equal(d("250.00")))
	})

	t.Run("already staged invoices are skipped", func(t *testing.T) {
		assert.Equal(t, 0, ledger.SelectAll(nil))
	})

	t.Run("deselect drops only the targeted invoice", func(t *testing.T) {
		ledger.Deselect(a.ID)
		staged := ledger.Staged()
		require.Len(t, staged, 1)
		assert.Equal(t, b.ID, staged[0].CostInvoiceID)
	})

	t.Run("deselect all clears the set", func(t *testing.T) {
		ledger.DeselectAll()
		assert.Empty(t, ledger.Staged())
	})

	t.Run("filter controls visibility", func(t *testing.T) {
		added := ledger.SelectAll(func(inv AvailableCostInvoice) bool {
			return inv.ID == b.ID
		})
		assert.Equal(t, 1, added)
		require.Len(t, ledger.Staged(), 1)
		ledger.DeselectAll()
	})
}

func TestLedger_CommitSelections(t *testing.T) {
	t.Run("margin mirrors the server's updated margins exactly", func(t *testing.T) {
		gw := &fakeGateway{}
		a := availableInvoice("500.00")
		b := availableInvoice("500.00")
		salesInvoiceID := uuid.New()

		gw.addMapping = func(_ context.Context, _ uuid.UUID, req NewMapping) (*AddResult, error) {
			// Server recomputes margins after each write; the final write
			// against 500.00 of sales leaves gross 150.00 / 30%.
			margins := UpdatedMargins{GrossMargin: d("300.00"), MarginPercent: d("60")}
			if req.AssignedAmount.Equal(d("150.00")) {
				margins = UpdatedMargins{GrossMargin: d("150.00"), MarginPercent: d("30")}
			}
			return &AddResult{
				Mapping: CostMapping{
					ID:             uuid.New(),
					SalesInvoiceID: salesInvoiceID,
					CostInvoiceID:  req.CostInvoiceID,
					AssignedAmount: req.AssignedAmount,
				},
				Margins: margins,
			}, nil
		}
		gw.listMappings = func(context.Context, uuid.UUID) (*MappingList, error) {
			return &MappingList{TotalAssignedCosts: d("350.00"), GrossMargin: d("150.00"), MarginPercent: d("30")}, nil
		}

		ledger := newLoadedLedger(t, gw, "500.00", a, b)
		require.NoError(t, ledger.Select(a.ID, crc("200.00"), ""))
		require.NoError(t, ledger.Select(b.ID, crc("150.00"), ""))

		report, err := ledger.CommitSelections(context.Background())
		require.NoError(t, err)
		require.Len(t, report.Committed, 2)
		assert.Empty(t, report.Failed)
		assert.NoError(t, report.RefreshErr)

		margin := ledger.Margin()
		assert.Equal(t, "150.00", margin.GrossMargin.StringFixed(2))
		assert.Equal(t, "30.00", margin.MarginPercent.StringFixed(2))
		assert.Equal(t, "350.00", margin.TotalAssignedCosts.StringFixed(2))
		assert.Equal(t, "500.00", margin.TotalSalesAmount.StringFixed(2))

		assert.Empty(t, ledger.Staged())
		assert.ElementsMatch(t, []Topic{TopicMappings, TopicAvailableCosts, TopicSalesInvoice}, report.Invalidates)
	})

	t.Run("partial failure keeps failed items staged", func(t *testing.T) {
		gw := &fakeGateway{}
		a := availableInvoice("500.00")
		b := availableInvoice("500.00")

		gw.addMapping = func(_ context.Context, _ uuid.UUID, req NewMapping) (*AddResult, error) {
			if req.CostInvoiceID == b.ID {
				// Concurrent user consumed the availability.
				return nil, shared.NewValidationError("monto_asignado", "exceeds available amount")
			}
			return &AddResult{
				Mapping: CostMapping{ID: uuid.New(), CostInvoiceID: req.CostInvoiceID, AssignedAmount: req.AssignedAmount},
				Margins: UpdatedMargins{GrossMargin: d("800.00"), MarginPercent: d("80")},
			}, nil
		}

		ledger := newLoadedLedger(t, gw, "1000.00", a, b)
		require.NoError(t, ledger.Select(a.ID, crc("200.00"), ""))
		require.NoError(t, ledger.Select(b.ID, crc("100.00"), ""))

		report, err := ledger.CommitSelections(context.Background())
		require.NoError(t, err)
		require.Len(t, report.Committed, 1)
		require.Len(t, report.Failed, 1)
		assert.Equal(t, b.ID, report.Failed[0].Selection.CostInvoiceID)
		assert.True(t, shared.IsValidation(report.Failed[0].Err))

		staged := ledger.Staged()
		require.Len(t, staged, 1)
		assert.Equal(t, b.ID, staged[0].CostInvoiceID)

		// The confirmed item is not rolled back and margins mirror the
		// last successful response.
		assert.Equal(t, "800.00", ledger.Margin().GrossMargin.StringFixed(2))
	})

	t.Run("nothing staged", func(t *testing.T) {
		gw := &fakeGateway{}
		ledger := newLoadedLedger(t, gw, "1000.00", availableInvoice("500.00"))
		_, err := ledger.CommitSelections(context.Background())
		require.Error(t, err)
	})

	t.Run("rejects re-entrant commit while one is outstanding", func(t *testing.T) {
		gw := &fakeGateway{}
		inv := availableInvoice("500.00")
		entered := make(chan struct{})
		release := make(chan struct{})
		gw.addMapping = func(context.Context, uuid.UUID, NewMapping) (*AddResult, error) {
			close(entered)
			<-release
			return &AddResult{Mapping: CostMapping{ID: uuid.New(), CostInvoiceID: inv.ID, AssignedAmount: d("100.00")}}, nil
		}

		ledger := newLoadedLedger(t, gw, "1000.00", inv)
		require.NoError(t, ledger.Select(inv.ID, crc("100.00"), ""))

		done := make(chan error, 1)
		go func() {
			_, err := ledger.CommitSelections(context.Background())
			done <- err
		}()

		<-entered
		assert.True(t, ledger.Busy())
		_, err := ledger.CommitSelections(context.Background())
		assert.ErrorIs(t, err, shared.ErrOperationInFlight)
		assert.ErrorIs(t, ledger.Select(inv.ID, crc("1"), ""), shared.ErrOperationInFlight)

		close(release)
		require.NoError(t, <-done)
		assert.False(t, ledger.Busy())
	})
}

func TestLedger_RemovalFlow(t *testing.T) {
	newLedgerWithMapping := func(t *testing.T, gw *fakeGateway) (*Ledger, CostMapping) {
		t.Helper()
		mapping := CostMapping{
			ID:             uuid.New(),
			CostInvoiceID:  uuid.New(),
			AssignedAmount: d("200.00"),
			SupplierName:   "Aduanas del Caribe",
		}
		gw.listMappings = func(context.Context, uuid.UUID) (*MappingList, error) {
			return &MappingList{
				Mappings:           []CostMapping{mapping},
				TotalAssignedCosts: d("200.00"),
				GrossMargin:        d("800.00"),
				MarginPercent:      d("80"),
			}, nil
		}
		ledger := NewLedger(uuid.New(), crc("1000.00"), gw, nil)
		require.NoError(t, ledger.Refresh(context.Background()))
		return ledger, mapping
	}

	t.Run("request then confirm", func(t *testing.T) {
		gw := &fakeGateway{}
		gw.removeMapping = func(context.Context, uuid.UUID, uuid.UUID) (*UpdatedMargins, error) {
			return &UpdatedMargins{GrossMargin: d("1000.00"), MarginPercent: d("100")}, nil
		}
		ledger, mapping := newLedgerWithMapping(t, gw)

		staged, err := ledger.RequestRemoval(mapping.ID)
		require.NoError(t, err)
		assert.Equal(t, mapping.ID, staged.ID)
		require.NotNil(t, ledger.PendingRemoval())
		assert.Zero(t, gw.removeCalls.Load(), "no network call before confirmation")

		result, err := ledger.ConfirmRemoval(context.Background())
		require.NoError(t, err)
		assert.Equal(t, mapping.ID, result.Removed.ID)
		assert.Equal(t, "1000.00", result.Margin.GrossMargin.StringFixed(2))
		assert.Equal(t, "0.00", result.Margin.TotalAssignedCosts.StringFixed(2))
		assert.Empty(t, ledger.Mappings())
		assert.Nil(t, ledger.PendingRemoval())
		assert.Equal(t, int32(1), gw.removeCalls.Load())
	})

	t.Run("cancel issues no request", func(t *testing.T) {
		gw := &fakeGateway{}
		ledger, mapping := newLedgerWithMapping(t, gw)

		_, err := ledger.RequestRemoval(mapping.ID)
		require.NoError(t, err)
		ledger.CancelRemoval()
		assert.Nil(t, ledger.PendingRemoval())

		_, err = ledger.ConfirmRemoval(context.Background())
		require.Error(t, err)
		assert.Zero(t, gw.removeCalls.Load())
	})

	t.Run("server not-found surfaces and clears the pending removal", func(t *testing.T) {
		gw := &fakeGateway{}
		gw.removeMapping = func(context.Context, uuid.UUID, uuid.UUID) (*UpdatedMargins, error) {
			return nil, shared.NewDomainError("NOT_FOUND", "mapping already removed")
		}
		ledger, mapping := newLedgerWithMapping(t, gw)
		marginBefore := ledger.Margin()

		_, err := ledger.RequestRemoval(mapping.ID)
		require.NoError(t, err)
		_, err = ledger.ConfirmRemoval(context.Background())
		assert.True(t, shared.IsNotFound(err))
		assert.Nil(t, ledger.PendingRemoval())
		// Local margin untouched on failure.
		assert.Equal(t, marginBefore, ledger.Margin())
	})

	t.Run("unknown mapping id", func(t *testing.T) {
		gw := &fakeGateway{}
		ledger, _ := newLedgerWithMapping(t, gw)
		_, err := ledger.RequestRemoval(uuid.New())
		assert.True(t, shared.IsNotFound(err))
	})
}

func TestLedger_TentativeMargin(t *testing.T) {
	gw := &fakeGateway{}
	inv := availableInvoice("500.00")
	gw.listMappings = func(context.Context, uuid.UUID) (*MappingList, error) {
		return &MappingList{TotalAssignedCosts: d("100.00"), GrossMargin: d("900.00"), MarginPercent: d("90")}, nil
	}
	ledger := newLoadedLedger(t, gw, "1000.00", inv)
	require.NoError(t, ledger.Refresh(context.Background()))

	require.NoError(t, ledger.Select(inv.ID, crc("400.00"), ""))

	tentative := ledger.TentativeMargin()
	assert.Equal(t, "500.00", tentative.TotalAssignedCosts.StringFixed(2))
	assert.Equal(t, "500.00", tentative.GrossMargin.StringFixed(2))
	assert.Equal(t, "50.00", tentative.MarginPercent.StringFixed(2))

	// The authoritative mirror is not replaced by the prediction.
	mirror := ledger.Margin()
	assert.Equal(t, "900.00", mirror.GrossMargin.StringFixed(2))
	assert.Equal(t, "100.00", mirror.TotalAssignedCosts.StringFixed(2))
}

func TestLedger_Refresh_Staleness(t *testing.T) {
	gw := &fakeGateway{}
	inv := availableInvoice("500.00")
	salesTotal := "1000.00"

	staleEntered := make(chan struct{})
	releaseStale := make(chan struct{})
	gw.listAvailable = func(context.Context, uuid.UUID) ([]AvailableCostInvoice, error) {
		return []AvailableCostInvoice{inv}, nil
	}
	gw.addMapping = func(_ context.Context, _ uuid.UUID, req NewMapping) (*AddResult, error) {
		return &AddResult{
			Mapping: CostMapping{ID: uuid.New(), CostInvoiceID: req.CostInvoiceID, AssignedAmount: req.AssignedAmount},
			Margins: UpdatedMargins{GrossMargin: d("900.00"), MarginPercent: d("90")},
		}, nil
	}
	gw.listMappings = func(context.Context, uuid.UUID) (*MappingList, error) {
		switch gw.listCalls.Load() {
		case 1: // initial load
			return &MappingList{}, nil
		case 2: // the refresh that will become stale
			close(staleEntered)
			<-releaseStale
			return &MappingList{TotalAssignedCosts: d("0.00"), GrossMargin: d("1000.00"), MarginPercent: d("100")}, nil
		default: // commit's follow-up fetch
			return &MappingList{TotalAssignedCosts: d("100.00"), GrossMargin: d("900.00"), MarginPercent: d("90")}, nil
		}
	}

	ledger := NewLedger(uuid.New(), crc(salesTotal), gw, nil)
	require.NoError(t, ledger.Refresh(context.Background()))

	refreshDone := make(chan error, 1)
	go func() {
		refreshDone <- ledger.Refresh(context.Background())
	}()
	<-staleEntered

	require.NoError(t, ledger.Select(inv.ID, crc("100.00"), ""))
	report, err := ledger.CommitSelections(context.Background())
	require.NoError(t, err)
	require.Len(t, report.Committed, 1)

	close(releaseStale)
	select {
	case err := <-refreshDone:
		assert.ErrorIs(t, err, shared.ErrStaleResponse)
	case <-time.After(2 * time.Second):
		t.Fatal("stale refresh never resolved")
	}

	// The slower refresh did not clobber the post-commit state.
	margin := ledger.Margin()
	assert.Equal(t, "900.00", margin.GrossMargin.StringFixed(2))
	assert.Equal(t, "100.00", margin.TotalAssignedCosts.StringFixed(2))
}

func TestLedger_Refresh_PropagatesGatewayErrors(t *testing.T) {
	gw := &fakeGateway{}
	transport := shared.NewTransportError("list mappings", context.DeadlineExceeded)
	gw.listMappings = func(context.Context, uuid.UUID) (*MappingList, error) {
		return nil, transport
	}
	ledger := NewLedger(uuid.New(), crc("100.00"), gw, nil)

	err := ledger.Refresh(context.Background())
	assert.True(t, shared.IsTransport(err))
}
