package reconciliation

import (
	"context"

	"github.com/google/uuid"
)

// Gateway is the only component allowed to perform network I/O for the
// reconciliation core. Every call maps 1:1 to one request; implementations
// must not retry or coalesce.
//
// Failure taxonomy surfaced to the ledger:
//   - *shared.ValidationError for server-side amount/field rejections
//   - shared.ErrNotFound (by code) when the referenced resource is gone
//   - shared.ErrConcurrencyConflict (by code) on concurrent-modification rejections
//   - *shared.TransportError for network/timeout/decoding failures
type Gateway interface {
	// ListMappings fetches the current cost associations of a sales invoice
	// together with the server-computed margin figures.
	ListMappings(ctx context.Context, salesInvoiceID uuid.UUID) (*MappingList, error)

	// ListAvailableCosts fetches the cost invoices that still have
	// unallocated amount available for association.
	ListAvailableCosts(ctx context.Context, salesInvoiceID uuid.UUID) ([]AvailableCostInvoice, error)

	// AddCostMapping creates one association. The server re-validates
	// availability at write time and returns the authoritative margins.
	AddCostMapping(ctx context.Context, salesInvoiceID uuid.UUID, req NewMapping) (*AddResult, error)

	// RemoveCostMapping deletes one association and returns the
	// authoritative margins after removal.
	RemoveCostMapping(ctx context.Context, salesInvoiceID, mappingID uuid.UUID) (*UpdatedMargins, error)
}
