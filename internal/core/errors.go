package core

import "errors"

// Error taxonomy for the stock ledger. Callers branch on these with
// errors.Is; services wrap them with fmt.Errorf("...: %w", ...) context.
var (
	// ErrInsufficientStock means a reservation or issue would drive
	// available quantity negative. Recoverable: retry with a lower
	// quantity or after more stock arrives.
	ErrInsufficientStock = errors.New("insufficient stock")

	// ErrContention means a per-(product, warehouse) lock could not be
	// acquired within the bounded wait. Recoverable: retry the whole
	// operation.
	ErrContention = errors.New("stock cell contention, retry")

	// ErrSelfApproval means an adjustment approver matched the submitter.
	ErrSelfApproval = errors.New("self-approval not allowed")

	// ErrAlreadyDecided means an adjustment request was already approved
	// or rejected; terminal states are immutable.
	ErrAlreadyDecided = errors.New("adjustment request already decided")

	// ErrInvalidEntry means a malformed append request (missing product,
	// warehouse or actor, zero quantity, bad reason code). Caller error,
	// not retryable.
	ErrInvalidEntry = errors.New("invalid ledger entry")

	// ErrNotFound is returned for missing products, warehouses,
	// reservations, or adjustment requests.
	ErrNotFound = errors.New("not found")
)
