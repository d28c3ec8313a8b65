package core

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// StockService is the narrow API consumed by order-confirmation and
// receiving workflows. All stock changes flow through the append-only
// ledger; balances are derived, never hand-edited.
type StockService interface {
	// Receive records a goods receipt (stock-in from purchasing).
	Receive(ctx context.Context, productID, warehouseID int, qty, unitCost decimal.Decimal,
		doc *DocumentRef, actor string) (int64, error)

	// Reserve commits available stock to a sales order line. Fails with
	// ErrInsufficientStock when qty exceeds balance minus active
	// reservations; on failure nothing is recorded.
	Reserve(ctx context.Context, productID, warehouseID int, qty decimal.Decimal, actor string) (uuid.UUID, error)

	// Fulfill converts an active reservation into an out ledger entry.
	// Both effects (reservation deactivated, entry appended) are atomic.
	Fulfill(ctx context.Context, reservationID uuid.UUID, doc *DocumentRef) (int64, error)

	// Release cancels an active reservation with no ledger effect.
	Release(ctx context.Context, reservationID uuid.UUID) error

	// Transfer moves stock between warehouses, appending a paired
	// transfer_out/transfer_in entry. Availability is checked at the
	// source warehouse.
	Transfer(ctx context.Context, productID, fromWarehouseID, toWarehouseID int,
		qty decimal.Decimal, actor string) (outEntryID, inEntryID int64, err error)

	// SubmitAdjustment proposes a stock correction (state pending).
	SubmitAdjustment(ctx context.Context, productID, warehouseID int, delta decimal.Decimal,
		reason AdjustmentReason, note, submitter string) (*AdjustmentRequest, error)

	// ApproveAdjustment applies a pending adjustment, appending an
	// adjustment ledger entry. Fails with ErrSelfApproval when approver
	// equals the submitter and ErrAlreadyDecided for non-pending requests.
	ApproveAdjustment(ctx context.Context, requestID uuid.UUID, approver string) (int64, error)

	// RejectAdjustment terminates a pending adjustment with no ledger effect.
	RejectAdjustment(ctx context.Context, requestID uuid.UUID, approver, note string) error

	// GetAdjustment fetches one adjustment request.
	GetAdjustment(ctx context.Context, requestID uuid.UUID) (*AdjustmentRequest, error)

	// Balance returns current on-hand quantity. A nil warehouseID sums
	// across all warehouses for the product.
	Balance(ctx context.Context, productID int, warehouseID *int) (decimal.Decimal, error)

	// Available returns balance minus active reservations for one cell.
	Available(ctx context.Context, productID, warehouseID int) (decimal.Decimal, error)

	// History returns ledger entries ordered by occurrence time then
	// insertion sequence. asOf, when non-nil, cuts the sequence at that
	// timestamp for point-in-time reconstruction.
	History(ctx context.Context, productID int, warehouseID *int, asOf *time.Time) ([]LedgerEntry, error)

	// VerifyBalance folds the ledger from scratch and compares it with
	// the maintained projection. On drift the projection is rewritten
	// from the ledger (source of truth) and the repaired value returned.
	VerifyBalance(ctx context.Context, productID, warehouseID int) (decimal.Decimal, error)
}

// FoldBalance recomputes on-hand quantity from scratch by summing the
// signed deltas of the given entries. This is the reference balance
// computation; incremental projections must agree with it.
func FoldBalance(entries []LedgerEntry) decimal.Decimal {
	total := decimal.Zero
	for _, e := range entries {
		total = total.Add(e.Quantity)
	}
	return total
}

// validateAppend checks the shape of a would-be ledger entry. qty is the
// signed delta as it will be written.
func validateAppend(productID, warehouseID int, qty decimal.Decimal, actor string) error {
	if productID <= 0 {
		return fmt.Errorf("%w: missing product reference", ErrInvalidEntry)
	}
	if warehouseID <= 0 {
		return fmt.Errorf("%w: missing warehouse reference", ErrInvalidEntry)
	}
	if qty.IsZero() {
		return fmt.Errorf("%w: zero quantity", ErrInvalidEntry)
	}
	if actor == "" {
		return fmt.Errorf("%w: missing actor", ErrInvalidEntry)
	}
	return nil
}
