package core

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// MovementKind classifies a stock ledger entry.
type MovementKind string

const (
	MovementIn          MovementKind = "in"
	MovementOut         MovementKind = "out"
	MovementTransferOut MovementKind = "transfer_out"
	MovementTransferIn  MovementKind = "transfer_in"
	MovementAdjustment  MovementKind = "adjustment"
)

// AdjustmentReason is the justification code attached to a stock correction.
type AdjustmentReason string

const (
	ReasonDamage     AdjustmentReason = "damage"
	ReasonLoss       AdjustmentReason = "loss"
	ReasonFound      AdjustmentReason = "found"
	ReasonCorrection AdjustmentReason = "correction"
	ReasonReturn     AdjustmentReason = "return"
)

// ValidReason reports whether r is one of the recognised adjustment reason codes.
func ValidReason(r AdjustmentReason) bool {
	switch r {
	case ReasonDamage, ReasonLoss, ReasonFound, ReasonCorrection, ReasonReturn:
		return true
	}
	return false
}

// Product is a catalog record. Stock quantities are never stored here;
// they are derived from the ledger (see StockService.Balance).
type Product struct {
	ID           int             `json:"id"`
	Code         string          `json:"code"`
	Name         string          `json:"name"`
	Unit         string          `json:"unit"`
	CostPrice    decimal.Decimal `json:"cost_price"`
	ReorderPoint decimal.Decimal `json:"reorder_point"`
	MinimumStock decimal.Decimal `json:"minimum_stock"`
	MaximumStock decimal.Decimal `json:"maximum_stock"`
	IsActive     bool            `json:"is_active"`
	IsDeleted    bool            `json:"-"`
	CreatedAt    time.Time       `json:"created_at"`
}

// IsLowStock reports whether the given on-hand balance has fallen to or
// below the product's reorder point.
func (p Product) IsLowStock(balance decimal.Decimal) bool {
	return balance.LessThanOrEqual(p.ReorderPoint)
}

// StockValue returns the on-hand balance valued at the product's cost price.
func (p Product) StockValue(balance decimal.Decimal) decimal.Decimal {
	return balance.Mul(p.CostPrice)
}

// Warehouse is a location dimension for stock.
type Warehouse struct {
	ID        int       `json:"id"`
	Code      string    `json:"code"`
	Name      string    `json:"name"`
	IsActive  bool      `json:"is_active"`
	IsDeleted bool      `json:"-"`
	CreatedAt time.Time `json:"created_at"`
}

// DocumentRef links a ledger entry back to the document that caused it
// (purchase order, sales order, adjustment request, ...).
type DocumentRef struct {
	Type string    `json:"type"`
	ID   uuid.UUID `json:"id"`
}

// LedgerEntry is one immutable stock movement. Entries are never updated
// or deleted; corrections are new entries. For a (product, warehouse)
// pair entries are ordered by OccurredAt, ties broken by ID.
type LedgerEntry struct {
	ID          int64           `json:"id"`
	ProductID   int             `json:"product_id"`
	WarehouseID int             `json:"warehouse_id"`
	Kind        MovementKind    `json:"kind"`
	Quantity    decimal.Decimal `json:"quantity"` // signed delta
	UnitCost    decimal.Decimal `json:"unit_cost"`
	Document    *DocumentRef    `json:"document,omitempty"`
	Actor       string          `json:"actor"`
	OccurredAt  time.Time       `json:"occurred_at"`
}

// ReservationStatus is the lifecycle state of a stock reservation.
type ReservationStatus string

const (
	ReservationActive    ReservationStatus = "active"
	ReservationReleased  ReservationStatus = "released"
	ReservationFulfilled ReservationStatus = "fulfilled"
)

// Reservation is a commitment against future balance. Only active
// reservations count against available quantity; released and fulfilled
// rows are kept for audit.
type Reservation struct {
	ID          uuid.UUID         `json:"id"`
	ProductID   int               `json:"product_id"`
	WarehouseID int               `json:"warehouse_id"`
	Quantity    decimal.Decimal   `json:"quantity"`
	Status      ReservationStatus `json:"status"`
	Actor       string            `json:"actor"`
	CreatedAt   time.Time         `json:"created_at"`
	DecidedAt   *time.Time        `json:"decided_at,omitempty"`
}

// AdjustmentStatus is the lifecycle state of an adjustment request:
// pending -> approved | rejected, no transitions out of terminal states.
type AdjustmentStatus string

const (
	AdjustmentPending  AdjustmentStatus = "pending"
	AdjustmentApproved AdjustmentStatus = "approved"
	AdjustmentRejected AdjustmentStatus = "rejected"
)

// AdjustmentRequest is a proposed stock correction under dual control:
// the approver must differ from the submitter.
type AdjustmentRequest struct {
	ID          uuid.UUID        `json:"id"`
	ProductID   int              `json:"product_id"`
	WarehouseID int              `json:"warehouse_id"`
	Delta       decimal.Decimal  `json:"delta"`
	Reason      AdjustmentReason `json:"reason"`
	Note        string           `json:"note,omitempty"`
	Status      AdjustmentStatus `json:"status"`
	SubmittedBy string           `json:"submitted_by"`
	DecidedBy   string           `json:"decided_by,omitempty"`
	EntryID     *int64           `json:"entry_id,omitempty"` // ledger entry produced on approval
	CreatedAt   time.Time        `json:"created_at"`
	DecidedAt   *time.Time       `json:"decided_at,omitempty"`
}

// StockLevel is a read view of one (product, warehouse) cell.
type StockLevel struct {
	ProductID     int             `json:"product_id"`
	ProductCode   string          `json:"product_code"`
	ProductName   string          `json:"product_name"`
	WarehouseID   int             `json:"warehouse_id"`
	WarehouseCode string          `json:"warehouse_code"`
	OnHand        decimal.Decimal `json:"on_hand"`
	Reserved      decimal.Decimal `json:"reserved"`
	Available     decimal.Decimal `json:"available"` // = OnHand - Reserved
	StockValue    decimal.Decimal `json:"stock_value"`
	LowStock      bool            `json:"low_stock"`
}
