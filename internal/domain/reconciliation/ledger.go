package reconciliation

import (
	"context"
	"sync"

	"github.com/cargoflow/backoffice/internal/domain/shared"
	"github.com/cargoflow/backoffice/internal/domain/shared/valueobject"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

// Selection is a staged association that has not been committed yet.
type Selection struct {
	CostInvoiceID uuid.UUID       `json:"cost_invoice_id"`
	Amount        decimal.Decimal `json:"amount"`
	Notes         string          `json:"notes,omitempty"`
}

// CommittedItem records one selection that the server accepted.
type CommittedItem struct {
	Selection Selection
	Mapping   CostMapping
}

// FailedItem records one selection the server rejected, with the reason.
// The selection stays staged so the user can correct and resubmit it.
type FailedItem struct {
	Selection Selection
	Err       error
}

// CommitReport is the aggregate outcome of CommitSelections. Outcomes are
// reported per item, never collapsed into a single pass/fail.
type CommitReport struct {
	Committed   []CommittedItem
	Failed      []FailedItem
	Margin      MarginSnapshot
	Invalidates []Topic
	// RefreshErr is set when the follow-up re-fetch after the commits
	// failed; the committed state on the server is unaffected.
	RefreshErr error
}

// RemovalResult is the outcome of a confirmed association removal.
type RemovalResult struct {
	Removed     CostMapping
	Margin      MarginSnapshot
	Invalidates []Topic
	RefreshErr  error
}

// Ledger owns the client-side view of one sales invoice's cost associations
// and margin. It validates mutations locally before they reach the network
// (fast-fail UX) but the server stays authoritative and may still reject.
//
// The ledger belongs to a single UI session. Mutating operations are
// rejected with ErrOperationInFlight while another mutation is outstanding;
// refreshes are allowed concurrently and carry a monotonic sequence number
// so that a response that resolves after newer state has been applied is
// discarded instead of clobbering it.
type Ledger struct {
	mu             sync.Mutex
	salesInvoiceID uuid.UUID
	gateway        Gateway
	log            *zap.Logger

	mappings  []CostMapping
	available []AvailableCostInvoice
	margin    MarginSnapshot
	staged    []Selection

	pendingRemoval *CostMapping

	busy    bool
	seq     uint64 // last issued request sequence number
	applied uint64 // sequence number of the newest applied response
}

// NewLedger creates a ledger for one sales invoice. salesTotal is the
// invoice grand total (the margin base) computed by the invoicing package.
func NewLedger(salesInvoiceID uuid.UUID, salesTotal valueobject.Money, gateway Gateway, log *zap.Logger) *Ledger {
	if log == nil {
		log = zap.NewNop()
	}
	return &Ledger{
		salesInvoiceID: salesInvoiceID,
		gateway:        gateway,
		log:            log.With(zap.String("sales_invoice_id", salesInvoiceID.String())),
		margin: MarginSnapshot{
			TotalSalesAmount:   salesTotal.Amount(),
			TotalAssignedCosts: decimal.Zero,
			GrossMargin:        decimal.Zero,
			MarginPercent:      decimal.Zero,
		},
	}
}

// SalesInvoiceID returns the sales invoice this ledger belongs to
func (l *Ledger) SalesInvoiceID() uuid.UUID {
	return l.salesInvoiceID
}

// Busy reports whether a mutating operation is in flight
func (l *Ledger) Busy() bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.busy
}

// Mappings returns a copy of the committed associations
func (l *Ledger) Mappings() []CostMapping {
	l.mu.Lock()
	defer l.mu.Unlock()
	out := make([]CostMapping, len(l.mappings))
	copy(out, l.mappings)
	return out
}

// AvailableCosts returns a copy of the available cost invoice list
func (l *Ledger) AvailableCosts() []AvailableCostInvoice {
	l.mu.Lock()
	defer l.mu.Unlock()
	out := make([]AvailableCostInvoice, len(l.available))
	copy(out, l.available)
	return out
}

// Staged returns a copy of the staged selections
func (l *Ledger) Staged() []Selection {
	l.mu.Lock()
	defer l.mu.Unlock()
	out := make([]Selection, len(l.staged))
	copy(out, l.staged)
	return out
}

// Margin returns the authoritative margin view: a verbatim mirror of the
// server's last response.
func (l *Ledger) Margin() MarginSnapshot {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.margin
}

// TentativeMargin projects the margin as it would look if the currently
// staged selections were committed. It is a local, unconfirmed prediction
// for immediate UI feedback and is never persisted or mirrored back into
// Margin.
func (l *Ledger) TentativeMargin() MarginSnapshot {
	l.mu.Lock()
	defer l.mu.Unlock()

	stagedSum := decimal.Zero
	for _, sel := range l.staged {
		stagedSum = stagedSum.Add(sel.Amount)
	}
	assigned := l.margin.TotalAssignedCosts.Add(stagedSum)
	gross := l.margin.TotalSalesAmount.Sub(assigned)
	percent := decimal.Zero
	if l.margin.TotalSalesAmount.IsPositive() {
		percent = gross.Mul(decimal.NewFromInt(100)).Div(l.margin.TotalSalesAmount).Round(2)
	}
	return MarginSnapshot{
		TotalSalesAmount:   l.margin.TotalSalesAmount,
		TotalAssignedCosts: assigned,
		GrossMargin:        gross,
		MarginPercent:      percent,
	}
}

// Select stages an association of amount against the given cost invoice.
// The amount must be positive and must not push the cumulative staged amount
// for that cost invoice past its available amount as last known to the
// client. This is a pre-flight check only; the server re-validates at
// commit time and can still reject on race.
func (l *Ledger) Select(costInvoiceID uuid.UUID, amount valueobject.Money, notes string) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.busy {
		return shared.ErrOperationInFlight
	}

	inv := l.findAvailable(costInvoiceID)
	if inv == nil {
		return shared.ErrNotFound
	}
	if !amount.IsPositive() {
		return shared.NewValidationError("amount", "amount must be greater than zero")
	}

	remaining := inv.AvailableAmount.Sub(l.stagedFor(costInvoiceID))
	if amount.Amount().GreaterThan(remaining) {
		l.log.Warn("selection exceeds available amount",
			zap.String("cost_invoice_id", costInvoiceID.String()),
			zap.String("amount", amount.StringFixed(2)),
			zap.String("remaining", remaining.StringFixed(2)))
		return shared.NewValidationError("amount", "amount exceeds the cost invoice's available amount")
	}

	l.staged = append(l.staged, Selection{
		CostInvoiceID: costInvoiceID,
		Amount:        amount.Amount(),
		Notes:         notes,
	})
	return nil
}

// SelectAll stages every visible available cost invoice at its full
// remaining available amount. filter decides visibility; nil means all.
// Invoices that already have a staged selection are skipped.
func (l *Ledger) SelectAll(filter func(AvailableCostInvoice) bool) int {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.busy {
		return 0
	}

	added := 0
	for _, inv := range l.available {
		if filter != nil && !filter(inv) {
			continue
		}
		remaining := inv.AvailableAmount.Sub(l.stagedFor(inv.ID))
		if !remaining.IsPositive() {
			continue
		}
		l.staged = append(l.staged, Selection{
			CostInvoiceID: inv.ID,
			Amount:        remaining,
		})
		added++
	}
	return added
}

// Deselect drops all staged selections for one cost invoice
func (l *Ledger) Deselect(costInvoiceID uuid.UUID) {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.busy {
		return
	}
	kept := l.staged[:0]
	for _, sel := range l.staged {
		if sel.CostInvoiceID != costInvoiceID {
			kept = append(kept, sel)
		}
	}
	l.staged = kept
}

// DeselectAll clears the staged selection set
func (l *Ledger) DeselectAll() {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.busy {
		return
	}
	l.staged = nil
}

// CommitSelections submits every staged selection as one independent
// creation request. A failure on one item does not roll back items already
// confirmed; the report lists both sets. Successful selections are cleared,
// failed ones stay staged. GrossMargin and MarginPercent mirror the
// updated_margins of the last accepted creation.
func (l *Ledger) CommitSelections(ctx context.Context) (*CommitReport, error) {
	l.mu.Lock()
	if l.busy {
		l.mu.Unlock()
		return nil, shared.ErrOperationInFlight
	}
	if len(l.staged) == 0 {
		l.mu.Unlock()
		return nil, shared.NewDomainError("NO_SELECTIONS", "No selections staged for commit")
	}
	l.busy = true
	token := l.nextSeqLocked()
	selections := make([]Selection, len(l.staged))
	copy(selections, l.staged)
	l.mu.Unlock()

	report := &CommitReport{}
	var lastMargins *UpdatedMargins
	for _, sel := range selections {
		res, err := l.gateway.AddCostMapping(ctx, l.salesInvoiceID, NewMapping{
			CostInvoiceID:  sel.CostInvoiceID,
			AssignedAmount: sel.Amount,
			Notes:          sel.Notes,
		})
		if err != nil {
			l.log.Warn("cost association rejected",
				zap.String("cost_invoice_id", sel.CostInvoiceID.String()),
				zap.String("amount", sel.Amount.StringFixed(2)),
				zap.Error(err))
			report.Failed = append(report.Failed, FailedItem{Selection: sel, Err: err})
			continue
		}
		l.log.Info("cost association committed",
			zap.String("mapping_id", res.Mapping.ID.String()),
			zap.String("amount", sel.Amount.StringFixed(2)))
		report.Committed = append(report.Committed, CommittedItem{Selection: sel, Mapping: res.Mapping})
		lastMargins = &res.Margins
	}

	// Follow-up re-fetch so the mapping and availability views reflect the
	// writes that just happened.
	list, listErr := l.gateway.ListMappings(ctx, l.salesInvoiceID)
	avail, availErr := l.gateway.ListAvailableCosts(ctx, l.salesInvoiceID)
	if listErr != nil {
		report.RefreshErr = listErr
	} else if availErr != nil {
		report.RefreshErr = availErr
	}

	l.mu.Lock()
	l.busy = false
	if token > l.applied {
		l.applied = token
	}
	l.staged = remainingAfterCommit(l.staged, report.Committed)
	if listErr == nil {
		l.mappings = list.Mappings
		l.margin.TotalAssignedCosts = list.TotalAssignedCosts
	}
	if availErr == nil {
		l.available = avail
	}
	if lastMargins != nil {
		l.margin.GrossMargin = lastMargins.GrossMargin
		l.margin.MarginPercent = lastMargins.MarginPercent
	}
	report.Margin = l.margin
	l.mu.Unlock()

	report.Invalidates = []Topic{TopicMappings, TopicAvailableCosts, TopicSalesInvoice}
	return report, nil
}

// RequestRemoval stages the removal of one committed association and returns
// it for the confirmation prompt. Nothing is sent until ConfirmRemoval.
func (l *Ledger) RequestRemoval(mappingID uuid.UUID) (CostMapping, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.busy {
		return CostMapping{}, shared.ErrOperationInFlight
	}
	for i := range l.mappings {
		if l.mappings[i].ID == mappingID {
			m := l.mappings[i]
			l.pendingRemoval = &m
			return m, nil
		}
	}
	return CostMapping{}, shared.ErrNotFound
}

// CancelRemoval drops the pending removal without a network call
func (l *Ledger) CancelRemoval() {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.pendingRemoval = nil
}

// PendingRemoval returns the mapping awaiting confirmation, if any
func (l *Ledger) PendingRemoval() *CostMapping {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.pendingRemoval == nil {
		return nil
	}
	m := *l.pendingRemoval
	return &m
}

// ConfirmRemoval issues the delete for the pending removal. On success the
// margins mirror the server's updated_margins. On any error the pending
// removal is cleared and the error is surfaced; NotFound or Conflict should
// prompt the caller to Refresh.
func (l *Ledger) ConfirmRemoval(ctx context.Context) (*RemovalResult, error) {
	l.mu.Lock()
	if l.busy {
		l.mu.Unlock()
		return nil, shared.ErrOperationInFlight
	}
	if l.pendingRemoval == nil {
		l.mu.Unlock()
		return nil, shared.NewDomainError("NO_PENDING_REMOVAL", "No removal awaiting confirmation")
	}
	l.busy = true
	token := l.nextSeqLocked()
	removed := *l.pendingRemoval
	l.mu.Unlock()

	margins, err := l.gateway.RemoveCostMapping(ctx, l.salesInvoiceID, removed.ID)

	avail, availErr := l.gateway.ListAvailableCosts(ctx, l.salesInvoiceID)

	l.mu.Lock()
	l.busy = false
	l.pendingRemoval = nil
	if err != nil {
		l.mu.Unlock()
		l.log.Warn("cost association removal rejected",
			zap.String("mapping_id", removed.ID.String()),
			zap.Error(err))
		return nil, err
	}
	if token > l.applied {
		l.applied = token
	}
	kept := l.mappings[:0]
	for _, m := range l.mappings {
		if m.ID != removed.ID {
			kept = append(kept, m)
		}
	}
	l.mappings = kept
	l.margin.TotalAssignedCosts = l.margin.TotalAssignedCosts.Sub(removed.AssignedAmount)
	l.margin.GrossMargin = margins.GrossMargin
	l.margin.MarginPercent = margins.MarginPercent
	if availErr == nil {
		l.available = avail
	}
	result := &RemovalResult{
		Removed:     removed,
		Margin:      l.margin,
		Invalidates: []Topic{TopicMappings, TopicAvailableCosts, TopicSalesInvoice},
		RefreshErr:  availErr,
	}
	l.mu.Unlock()

	l.log.Info("cost association removed",
		zap.String("mapping_id", removed.ID.String()),
		zap.String("amount", removed.AssignedAmount.StringFixed(2)))
	return result, nil
}

// Refresh re-fetches the mapping list and the available cost invoices and
// replaces the local view, including the margin mirror. A refresh whose
// responses arrive after newer state has already been applied is discarded
// and reported as ErrStaleResponse.
func (l *Ledger) Refresh(ctx context.Context) error {
	l.mu.Lock()
	token := l.nextSeqLocked()
	l.mu.Unlock()

	list, err := l.gateway.ListMappings(ctx, l.salesInvoiceID)
	if err != nil {
		return err
	}
	avail, err := l.gateway.ListAvailableCosts(ctx, l.salesInvoiceID)
	if err != nil {
		return err
	}

	l.mu.Lock()
	defer l.mu.Unlock()
	if token < l.applied {
		return shared.ErrStaleResponse
	}
	l.applied = token
	l.mappings = list.Mappings
	l.available = avail
	l.margin.TotalAssignedCosts = list.TotalAssignedCosts
	l.margin.GrossMargin = list.GrossMargin
	l.margin.MarginPercent = list.MarginPercent
	return nil
}

func (l *Ledger) findAvailable(costInvoiceID uuid.UUID) *AvailableCostInvoice {
	for i := range l.available {
		if l.available[i].ID == costInvoiceID {
			return &l.available[i]
		}
	}
	return nil
}

// stagedFor sums the staged amounts against one cost invoice. Caller holds l.mu.
func (l *Ledger) stagedFor(costInvoiceID uuid.UUID) decimal.Decimal {
	sum := decimal.Zero
	for _, sel := range l.staged {
		if sel.CostInvoiceID == costInvoiceID {
			sum = sum.Add(sel.Amount)
		}
	}
	return sum
}

func (l *Ledger) nextSeqLocked() uint64 {
	l.seq++
	return l.seq
}

// remainingAfterCommit keeps the selections that did not commit, preserving
// order. Matching is positional per (cost invoice, amount) pair because the
// same invoice may legitimately appear in several staged selections.
func remainingAfterCommit(staged []Selection, committed []CommittedItem) []Selection {
	used := make([]bool, len(staged))
	for _, item := range committed {
		for i, sel := range staged {
			if used[i] {
				continue
			}
			if sel.CostInvoiceID == item.Selection.CostInvoiceID && sel.Amount.Equal(item.Selection.Amount) {
				used[i] = true
				break
			}
		}
	}
	var remaining []Selection
	for i, sel := range staged {
		if !used[i] {
			remaining = append(remaining, sel)
		}
	}
	return remaining
}
