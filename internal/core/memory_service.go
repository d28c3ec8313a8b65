package core

import (
	"context"
	"fmt"
	"log"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

type cellKey struct {
	productID   int
	warehouseID int
}

// memoryCell is one (product, warehouse) stock cell. The sem channel is
// a size-1 semaphore serializing check-then-act sequences on the cell;
// unrelated cells proceed independently.
type memoryCell struct {
	sem      chan struct{}
	onHand   decimal.Decimal
	unitCost decimal.Decimal
	entries  []LedgerEntry
}

// MemoryStockService is an embeddable in-memory implementation of
// StockService with the same semantics as the Postgres engine. Used by
// unit tests and callers that do not need durability.
type MemoryStockService struct {
	mu           sync.RWMutex
	cells        map[cellKey]*memoryCell
	reservations map[uuid.UUID]*Reservation
	adjustments  map[uuid.UUID]*AdjustmentRequest
	nextEntryID  int64
	lockWait     time.Duration
}

func NewMemoryStockService() *MemoryStockService {
	return &MemoryStockService{
		cells:        make(map[cellKey]*memoryCell),
		reservations: make(map[uuid.UUID]*Reservation),
		adjustments:  make(map[uuid.UUID]*AdjustmentRequest),
		lockWait:     2 * time.Second,
	}
}

var _ StockService = (*MemoryStockService)(nil)

func (s *MemoryStockService) cell(key cellKey) *memoryCell {
	s.mu.Lock()
	defer s.mu.Unlock()
	c, ok := s.cells[key]
	if !ok {
		c = &memoryCell{sem: make(chan struct{}, 1), onHand: decimal.Zero, unitCost: decimal.Zero}
		s.cells[key] = c
	}
	return c
}

// lockCell acquires the cell semaphore with a bounded wait.
func (s *MemoryStockService) lockCell(ctx context.Context, key cellKey) (*memoryCell, func(), error) {
	c := s.cell(key)
	select {
	case c.sem <- struct{}{}:
		return c, func() { <-c.sem }, nil
	case <-ctx.Done():
		return nil, nil, ctx.Err()
	case <-time.After(s.lockWait):
		return nil, nil, fmt.Errorf("stock cell %d/%d busy: %w", key.productID, key.warehouseID, ErrContention)
	}
}

// append writes one entry and bumps the running total. Caller must hold
// both the cell semaphore and s.mu.
func (s *MemoryStockService) append(c *memoryCell, key cellKey, kind MovementKind,
	qty, unitCost decimal.Decimal, doc *DocumentRef, actor string) int64 {

	s.nextEntryID++
	c.entries = append(c.entries, LedgerEntry{
		ID:          s.nextEntryID,
		ProductID:   key.productID,
		WarehouseID: key.warehouseID,
		Kind:        kind,
		Quantity:    qty,
		UnitCost:    unitCost,
		Document:    doc,
		Actor:       actor,
		OccurredAt:  time.Now(),
	})
	c.onHand = c.onHand.Add(qty)
	return s.nextEntryID
}

// reservedLocked sums active reservations for a cell. Caller holds s.mu.
func (s *MemoryStockService) reservedLocked(key cellKey) decimal.Decimal {
	total := decimal.Zero
	for _, r := range s.reservations {
		if r.ProductID == key.productID && r.WarehouseID == key.warehouseID && r.Status == ReservationActive {
			total = total.Add(r.Quantity)
		}
	}
	return total
}

func (s *MemoryStockService) Receive(ctx context.Context, productID, warehouseID int, qty, unitCost decimal.Decimal,
	doc *DocumentRef, actor string) (int64, error) {

	if err := validateAppend(productID, warehouseID, qty, actor); err != nil {
		return 0, err
	}
	if qty.IsNegative() {
		return 0, fmt.Errorf("%w: receive quantity must be positive, got %s", ErrInvalidEntry, qty)
	}
	if unitCost.IsNegative() {
		return 0, fmt.Errorf("%w: unit cost cannot be negative, got %s", ErrInvalidEntry, unitCost)
	}

	key := cellKey{productID, warehouseID}
	c, unlock, err := s.lockCell(ctx, key)
	if err != nil {
		return 0, err
	}
	defer unlock()

	s.mu.Lock()
	defer s.mu.Unlock()

	newQty := c.onHand.Add(qty)
	newCost := unitCost
	if !newQty.IsZero() {
		newCost = c.onHand.Mul(c.unitCost).Add(qty.Mul(unitCost)).Div(newQty)
	}
	id := s.append(c, key, MovementIn, qty, unitCost, doc, actor)
	c.unitCost = newCost
	return id, nil
}

func (s *MemoryStockService) Reserve(ctx context.Context, productID, warehouseID int, qty decimal.Decimal, actor string) (uuid.UUID, error) {
	if err := validateAppend(productID, warehouseID, qty, actor); err != nil {
		return uuid.Nil, err
	}
	if qty.IsNegative() {
		return uuid.Nil, fmt.Errorf("%w: reserve quantity must be positive, got %s", ErrInvalidEntry, qty)
	}

	key := cellKey{productID, warehouseID}
	c, unlock, err := s.lockCell(ctx, key)
	if err != nil {
		return uuid.Nil, err
	}
	defer unlock()

	s.mu.Lock()
	defer s.mu.Unlock()

	available := c.onHand.Sub(s.reservedLocked(key))
	if qty.GreaterThan(available) {
		return uuid.Nil, fmt.Errorf("product %d warehouse %d: available %s, requested %s: %w",
			productID, warehouseID, available.String(), qty.String(), ErrInsufficientStock)
	}

	r := &Reservation{
		ID:          uuid.New(),
		ProductID:   productID,
		WarehouseID: warehouseID,
		Quantity:    qty,
		Status:      ReservationActive,
		Actor:       actor,
		CreatedAt:   time.Now(),
	}
	s.reservations[r.ID] = r
	return r.ID, nil
}

func (s *MemoryStockService) Fulfill(ctx context.Context, reservationID uuid.UUID, doc *DocumentRef) (int64, error) {
	s.mu.RLock()
	r, ok := s.reservations[reservationID]
	s.mu.RUnlock()
	if !ok {
		return 0, fmt.Errorf("reservation %s: %w", reservationID, ErrNotFound)
	}

	key := cellKey{r.ProductID, r.WarehouseID}
	c, unlock, err := s.lockCell(ctx, key)
	if err != nil {
		return 0, err
	}
	defer unlock()

	// One critical section flips the reservation and appends the out
	// entry, so no reader observes one effect without the other.
	s.mu.Lock()
	defer s.mu.Unlock()

	if r.Status != ReservationActive {
		return 0, fmt.Errorf("reservation %s is %s, not active: %w", reservationID, r.Status, ErrNotFound)
	}
	now := time.Now()
	r.Status = ReservationFulfilled
	r.DecidedAt = &now
	return s.append(c, key, MovementOut, r.Quantity.Neg(), c.unitCost, doc, r.Actor), nil
}

func (s *MemoryStockService) Release(ctx context.Context, reservationID uuid.UUID) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	r, ok := s.reservations[reservationID]
	if !ok || r.Status != ReservationActive {
		return fmt.Errorf("active reservation %s: %w", reservationID, ErrNotFound)
	}
	now := time.Now()
	r.Status = ReservationReleased
	r.DecidedAt = &now
	return nil
}

func (s *MemoryStockService) Transfer(ctx context.Context, productID, fromWarehouseID, toWarehouseID int,
	qty decimal.Decimal, actor string) (int64, int64, error) {

	if err := validateAppend(productID, fromWarehouseID, qty, actor); err != nil {
		return 0, 0, err
	}
	if toWarehouseID <= 0 {
		return 0, 0, fmt.Errorf("%w: missing destination warehouse reference", ErrInvalidEntry)
	}
	if fromWarehouseID == toWarehouseID {
		return 0, 0, fmt.Errorf("%w: transfer source and destination are the same warehouse", ErrInvalidEntry)
	}
	if qty.IsNegative() {
		return 0, 0, fmt.Errorf("%w: transfer quantity must be positive, got %s", ErrInvalidEntry, qty)
	}

	srcKey := cellKey{productID, fromWarehouseID}
	dstKey := cellKey{productID, toWarehouseID}

	// Acquire the two cell semaphores in warehouse-id order to avoid
	// deadlock with an opposite concurrent transfer.
	firstKey, secondKey := srcKey, dstKey
	if dstKey.warehouseID < srcKey.warehouseID {
		firstKey, secondKey = dstKey, srcKey
	}
	_, unlockFirst, err := s.lockCell(ctx, firstKey)
	if err != nil {
		return 0, 0, err
	}
	defer unlockFirst()
	_, unlockSecond, err := s.lockCell(ctx, secondKey)
	if err != nil {
		return 0, 0, err
	}
	defer unlockSecond()

	s.mu.Lock()
	defer s.mu.Unlock()

	src := s.cells[srcKey]
	dst := s.cells[dstKey]
	available := src.onHand.Sub(s.reservedLocked(srcKey))
	if qty.GreaterThan(available) {
		return 0, 0, fmt.Errorf("transfer of %s from warehouse %d: available %s: %w",
			qty.String(), fromWarehouseID, available.String(), ErrInsufficientStock)
	}

	doc := &DocumentRef{Type: "transfer", ID: uuid.New()}
	cost := src.unitCost
	outID := s.append(src, srcKey, MovementTransferOut, qty.Neg(), cost, doc, actor)
	inID := s.append(dst, dstKey, MovementTransferIn, qty, cost, doc, actor)
	return outID, inID, nil
}

func (s *MemoryStockService) SubmitAdjustment(ctx context.Context, productID, warehouseID int, delta decimal.Decimal,
	reason AdjustmentReason, note, submitter string) (*AdjustmentRequest, error) {

	if err := validateAppend(productID, warehouseID, delta, submitter); err != nil {
		return nil, err
	}
	if !ValidReason(reason) {
		return nil, fmt.Errorf("%w: unknown adjustment reason %q", ErrInvalidEntry, reason)
	}

	req := &AdjustmentRequest{
		ID:          uuid.New(),
		ProductID:   productID,
		WarehouseID: warehouseID,
		Delta:       delta,
		Reason:      reason,
		Note:        note,
		Status:      AdjustmentPending,
		SubmittedBy: submitter,
		CreatedAt:   time.Now(),
	}
	s.mu.Lock()
	s.adjustments[req.ID] = req
	s.mu.Unlock()

	out := *req
	return &out, nil
}

func (s *MemoryStockService) ApproveAdjustment(ctx context.Context, requestID uuid.UUID, approver string) (int64, error) {
	if approver == "" {
		return 0, fmt.Errorf("%w: missing approver", ErrInvalidEntry)
	}

	s.mu.RLock()
	req, ok := s.adjustments[requestID]
	s.mu.RUnlock()
	if !ok {
		return 0, fmt.Errorf("adjustment %s: %w", requestID, ErrNotFound)
	}

	key := cellKey{req.ProductID, req.WarehouseID}
	c, unlock, err := s.lockCell(ctx, key)
	if err != nil {
		return 0, err
	}
	defer unlock()

	s.mu.Lock()
	defer s.mu.Unlock()

	if req.Status != AdjustmentPending {
		return 0, fmt.Errorf("adjustment %s is %s: %w", requestID, req.Status, ErrAlreadyDecided)
	}
	if req.SubmittedBy == approver {
		return 0, fmt.Errorf("adjustment %s submitted by %s: %w", requestID, approver, ErrSelfApproval)
	}

	doc := &DocumentRef{Type: "adjustment", ID: requestID}
	entryID := s.append(c, key, MovementAdjustment, req.Delta, c.unitCost, doc, approver)

	now := time.Now()
	req.Status = AdjustmentApproved
	req.DecidedBy = approver
	req.EntryID = &entryID
	req.DecidedAt = &now
	return entryID, nil
}

func (s *MemoryStockService) RejectAdjustment(ctx context.Context, requestID uuid.UUID, approver, note string) error {
	if approver == "" {
		return fmt.Errorf("%w: missing approver", ErrInvalidEntry)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	req, ok := s.adjustments[requestID]
	if !ok {
		return fmt.Errorf("adjustment %s: %w", requestID, ErrNotFound)
	}
	if req.Status != AdjustmentPending {
		return fmt.Errorf("adjustment %s is %s: %w", requestID, req.Status, ErrAlreadyDecided)
	}

	now := time.Now()
	req.Status = AdjustmentRejected
	req.DecidedBy = approver
	if note != "" {
		req.Note = note
	}
	req.DecidedAt = &now
	return nil
}

func (s *MemoryStockService) GetAdjustment(ctx context.Context, requestID uuid.UUID) (*AdjustmentRequest, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	req, ok := s.adjustments[requestID]
	if !ok {
		return nil, fmt.Errorf("adjustment %s: %w", requestID, ErrNotFound)
	}
	out := *req
	return &out, nil
}

func (s *MemoryStockService) Balance(ctx context.Context, productID int, warehouseID *int) (decimal.Decimal, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	total := decimal.Zero
	for key, c := range s.cells {
		if key.productID != productID {
			continue
		}
		if warehouseID != nil && key.warehouseID != *warehouseID {
			continue
		}
		total = total.Add(c.onHand)
	}
	return total, nil
}

func (s *MemoryStockService) Available(ctx context.Context, productID, warehouseID int) (decimal.Decimal, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	key := cellKey{productID, warehouseID}
	onHand := decimal.Zero
	if c, ok := s.cells[key]; ok {
		onHand = c.onHand
	}
	return onHand.Sub(s.reservedLocked(key)), nil
}

func (s *MemoryStockService) History(ctx context.Context, productID int, warehouseID *int, asOf *time.Time) ([]LedgerEntry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var entries []LedgerEntry
	for key, c := range s.cells {
		if key.productID != productID {
			continue
		}
		if warehouseID != nil && key.warehouseID != *warehouseID {
			continue
		}
		for _, e := range c.entries {
			if asOf != nil && e.OccurredAt.After(*asOf) {
				continue
			}
			entries = append(entries, e)
		}
	}
	sort.Slice(entries, func(i, j int) bool {
		if !entries[i].OccurredAt.Equal(entries[j].OccurredAt) {
			return entries[i].OccurredAt.Before(entries[j].OccurredAt)
		}
		return entries[i].ID < entries[j].ID
	})
	return entries, nil
}

func (s *MemoryStockService) VerifyBalance(ctx context.Context, productID, warehouseID int) (decimal.Decimal, error) {
	key := cellKey{productID, warehouseID}
	c, unlock, err := s.lockCell(ctx, key)
	if err != nil {
		return decimal.Zero, err
	}
	defer unlock()

	s.mu.Lock()
	defer s.mu.Unlock()

	folded := FoldBalance(c.entries)
	if !c.onHand.Equal(folded) {
		log.Printf("integrity alert: stock balance drift for product %d warehouse %d: cached %s, ledger %s — rederiving",
			productID, warehouseID, c.onHand.String(), folded.String())
		c.onHand = folded
	}
	return folded, nil
}

// corruptBalance deliberately skews the running total of one cell.
// Test hook for the defensive re-derivation path.
func (s *MemoryStockService) corruptBalance(productID, warehouseID int, skew decimal.Decimal) {
	c := s.cell(cellKey{productID, warehouseID})
	s.mu.Lock()
	c.onHand = c.onHand.Add(skew)
	s.mu.Unlock()
}
