package core

import (
	"context"
	"errors"
	"fmt"
	"log"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"
)

// lockWait bounds how long a transaction waits for a stock cell lock
// before failing with ErrContention.
const lockWait = "2s"

type stockService struct {
	pool *pgxpool.Pool
}

// NewStockService returns the Postgres-backed stock ledger engine.
// Mutual exclusion is scoped per (product, warehouse): every write path
// locks that cell's stock_balances row FOR UPDATE inside one
// transaction, so unrelated products proceed independently.
func NewStockService(pool *pgxpool.Pool) StockService {
	return &stockService{pool: pool}
}

// begin opens a transaction with a bounded lock wait. SQLSTATE 55P03
// (lock_not_available) from any statement in it maps to ErrContention.
func (s *stockService) begin(ctx context.Context) (pgx.Tx, error) {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to begin transaction: %w", err)
	}
	if _, err := tx.Exec(ctx, fmt.Sprintf("SET LOCAL lock_timeout = '%s'", lockWait)); err != nil {
		_ = tx.Rollback(ctx)
		return nil, fmt.Errorf("failed to set lock timeout: %w", err)
	}
	return tx, nil
}

func isLockTimeout(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == "55P03"
}

func isForeignKeyViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == "23503"
}

// lockCell upserts and row-locks the projection row for one
// (product, warehouse) cell, returning its current quantity and
// weighted-average unit cost.
func (s *stockService) lockCell(ctx context.Context, tx pgx.Tx, productID, warehouseID int) (onHand, unitCost decimal.Decimal, err error) {
	_, err = tx.Exec(ctx, `
		INSERT INTO stock_balances (product_id, warehouse_id, quantity, unit_cost)
		VALUES ($1, $2, 0, 0)
		ON CONFLICT (product_id, warehouse_id) DO NOTHING
	`, productID, warehouseID)
	if err != nil {
		if isForeignKeyViolation(err) {
			return onHand, unitCost, fmt.Errorf("product %d or warehouse %d: %w", productID, warehouseID, ErrNotFound)
		}
		return onHand, unitCost, fmt.Errorf("failed to upsert stock balance: %w", err)
	}

	err = tx.QueryRow(ctx, `
		SELECT quantity, unit_cost FROM stock_balances
		WHERE product_id = $1 AND warehouse_id = $2
		FOR UPDATE
	`, productID, warehouseID).Scan(&onHand, &unitCost)
	if err != nil {
		if isLockTimeout(err) {
			return onHand, unitCost, fmt.Errorf("stock cell %d/%d busy: %w", productID, warehouseID, ErrContention)
		}
		return onHand, unitCost, fmt.Errorf("failed to lock stock cell %d/%d: %w", productID, warehouseID, err)
	}
	return onHand, unitCost, nil
}

// appendEntry writes one immutable ledger row and bumps the projection.
// Must run inside a transaction that holds the cell lock.
func (s *stockService) appendEntry(ctx context.Context, tx pgx.Tx, productID, warehouseID int,
	kind MovementKind, qty, unitCost decimal.Decimal, doc *DocumentRef, actor string) (int64, error) {

	var docType *string
	var docID *uuid.UUID
	if doc != nil {
		docType, docID = &doc.Type, &doc.ID
	}

	var entryID int64
	err := tx.QueryRow(ctx, `
		INSERT INTO stock_entries (product_id, warehouse_id, kind, quantity, unit_cost, doc_type, doc_id, actor, occurred_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, NOW())
		RETURNING id
	`, productID, warehouseID, string(kind), qty, unitCost, docType, docID, actor).Scan(&entryID)
	if err != nil {
		if isForeignKeyViolation(err) {
			return 0, fmt.Errorf("product %d or warehouse %d: %w", productID, warehouseID, ErrNotFound)
		}
		return 0, fmt.Errorf("failed to append ledger entry: %w", err)
	}

	_, err = tx.Exec(ctx, `
		UPDATE stock_balances
		SET quantity = quantity + $1, updated_at = NOW()
		WHERE product_id = $2 AND warehouse_id = $3
	`, qty, productID, warehouseID)
	if err != nil {
		return 0, fmt.Errorf("failed to update stock balance: %w", err)
	}
	return entryID, nil
}

// activeReserved sums active reservations for one cell. Caller must hold
// the cell lock so the sum cannot move under the admission check.
func activeReserved(ctx context.Context, tx pgx.Tx, productID, warehouseID int) (decimal.Decimal, error) {
	var reserved decimal.Decimal
	err := tx.QueryRow(ctx, `
		SELECT COALESCE(SUM(quantity), 0) FROM reservations
		WHERE product_id = $1 AND warehouse_id = $2 AND status = 'active'
	`, productID, warehouseID).Scan(&reserved)
	if err != nil {
		return decimal.Zero, fmt.Errorf("failed to sum active reservations: %w", err)
	}
	return reserved, nil
}

func (s *stockService) Receive(ctx context.Context, productID, warehouseID int, qty, unitCost decimal.Decimal,
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

	tx, err := s.begin(ctx)
	if err != nil {
		return 0, err
	}
	defer tx.Rollback(ctx)

	oldQty, oldCost, err := s.lockCell(ctx, tx, productID, warehouseID)
	if err != nil {
		return 0, err
	}

	entryID, err := s.appendEntry(ctx, tx, productID, warehouseID, MovementIn, qty, unitCost, doc, actor)
	if err != nil {
		return 0, err
	}

	// Weighted average cost, as on goods receipt:
	// new_cost = (old_qty*old_cost + qty*unit_cost) / (old_qty + qty)
	newQty := oldQty.Add(qty)
	newCost := unitCost
	if !newQty.IsZero() {
		newCost = oldQty.Mul(oldCost).Add(qty.Mul(unitCost)).Div(newQty)
	}
	_, err = tx.Exec(ctx, `
		UPDATE stock_balances SET unit_cost = $1, updated_at = NOW()
		WHERE product_id = $2 AND warehouse_id = $3
	`, newCost, productID, warehouseID)
	if err != nil {
		return 0, fmt.Errorf("failed to update average cost: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return 0, fmt.Errorf("failed to commit goods receipt: %w", err)
	}
	return entryID, nil
}

func (s *stockService) Reserve(ctx context.Context, productID, warehouseID int, qty decimal.Decimal, actor string) (uuid.UUID, error) {
	if err := validateAppend(productID, warehouseID, qty, actor); err != nil {
		return uuid.Nil, err
	}
	if qty.IsNegative() {
		return uuid.Nil, fmt.Errorf("%w: reserve quantity must be positive, got %s", ErrInvalidEntry, qty)
	}

	tx, err := s.begin(ctx)
	if err != nil {
		return uuid.Nil, err
	}
	defer tx.Rollback(ctx)

	onHand, _, err := s.lockCell(ctx, tx, productID, warehouseID)
	if err != nil {
		return uuid.Nil, err
	}
	reserved, err := activeReserved(ctx, tx, productID, warehouseID)
	if err != nil {
		return uuid.Nil, err
	}

	available := onHand.Sub(reserved)
	if qty.GreaterThan(available) {
		return uuid.Nil, fmt.Errorf("product %d warehouse %d: available %s, requested %s: %w",
			productID, warehouseID, available.String(), qty.String(), ErrInsufficientStock)
	}

	id := uuid.New()
	_, err = tx.Exec(ctx, `
		INSERT INTO reservations (id, product_id, warehouse_id, quantity, status, actor, created_at)
		VALUES ($1, $2, $3, $4, 'active', $5, NOW())
	`, id, productID, warehouseID, qty, actor)
	if err != nil {
		return uuid.Nil, fmt.Errorf("failed to insert reservation: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return uuid.Nil, fmt.Errorf("failed to commit reservation: %w", err)
	}
	return id, nil
}

func (s *stockService) Fulfill(ctx context.Context, reservationID uuid.UUID, doc *DocumentRef) (int64, error) {
	tx, err := s.begin(ctx)
	if err != nil {
		return 0, err
	}
	defer tx.Rollback(ctx)

	var r Reservation
	var status string
	err = tx.QueryRow(ctx, `
		SELECT product_id, warehouse_id, quantity, status, actor FROM reservations
		WHERE id = $1
		FOR UPDATE
	`, reservationID).Scan(&r.ProductID, &r.WarehouseID, &r.Quantity, &status, &r.Actor)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return 0, fmt.Errorf("reservation %s: %w", reservationID, ErrNotFound)
		}
		if isLockTimeout(err) {
			return 0, fmt.Errorf("reservation %s busy: %w", reservationID, ErrContention)
		}
		return 0, fmt.Errorf("failed to lock reservation %s: %w", reservationID, err)
	}
	if status != string(ReservationActive) {
		return 0, fmt.Errorf("reservation %s is %s, not active: %w", reservationID, status, ErrNotFound)
	}

	_, unitCost, err := s.lockCell(ctx, tx, r.ProductID, r.WarehouseID)
	if err != nil {
		return 0, err
	}

	// Both effects land in this one transaction: the reservation flips to
	// fulfilled and the out entry is appended, or neither happens.
	_, err = tx.Exec(ctx, `
		UPDATE reservations SET status = 'fulfilled', decided_at = NOW() WHERE id = $1
	`, reservationID)
	if err != nil {
		return 0, fmt.Errorf("failed to fulfill reservation %s: %w", reservationID, err)
	}

	entryID, err := s.appendEntry(ctx, tx, r.ProductID, r.WarehouseID, MovementOut,
		r.Quantity.Neg(), unitCost, doc, r.Actor)
	if err != nil {
		return 0, err
	}

	if err := tx.Commit(ctx); err != nil {
		return 0, fmt.Errorf("failed to commit fulfillment: %w", err)
	}
	return entryID, nil
}

func (s *stockService) Release(ctx context.Context, reservationID uuid.UUID) error {
	tag, err := s.pool.Exec(ctx, `
		UPDATE reservations SET status = 'released', decided_at = NOW()
		WHERE id = $1 AND status = 'active'
	`, reservationID)
	if err != nil {
		return fmt.Errorf("failed to release reservation %s: %w", reservationID, err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("active reservation %s: %w", reservationID, ErrNotFound)
	}
	return nil
}

func (s *stockService) Transfer(ctx context.Context, productID, fromWarehouseID, toWarehouseID int,
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

	tx, err := s.begin(ctx)
	if err != nil {
		return 0, 0, err
	}
	defer tx.Rollback(ctx)

	// Lock both cells in warehouse-id order so concurrent opposite
	// transfers cannot deadlock.
	first, second := fromWarehouseID, toWarehouseID
	if second < first {
		first, second = second, first
	}
	if _, _, err := s.lockCell(ctx, tx, productID, first); err != nil {
		return 0, 0, err
	}
	if _, _, err := s.lockCell(ctx, tx, productID, second); err != nil {
		return 0, 0, err
	}

	var onHand, unitCost decimal.Decimal
	err = tx.QueryRow(ctx, `
		SELECT quantity, unit_cost FROM stock_balances
		WHERE product_id = $1 AND warehouse_id = $2
	`, productID, fromWarehouseID).Scan(&onHand, &unitCost)
	if err != nil {
		return 0, 0, fmt.Errorf("failed to read source cell: %w", err)
	}
	reserved, err := activeReserved(ctx, tx, productID, fromWarehouseID)
	if err != nil {
		return 0, 0, err
	}
	if qty.GreaterThan(onHand.Sub(reserved)) {
		return 0, 0, fmt.Errorf("transfer of %s from warehouse %d: available %s: %w",
			qty.String(), fromWarehouseID, onHand.Sub(reserved).String(), ErrInsufficientStock)
	}

	doc := &DocumentRef{Type: "transfer", ID: uuid.New()}
	outID, err := s.appendEntry(ctx, tx, productID, fromWarehouseID, MovementTransferOut, qty.Neg(), unitCost, doc, actor)
	if err != nil {
		return 0, 0, err
	}
	inID, err := s.appendEntry(ctx, tx, productID, toWarehouseID, MovementTransferIn, qty, unitCost, doc, actor)
	if err != nil {
		return 0, 0, err
	}

	if err := tx.Commit(ctx); err != nil {
		return 0, 0, fmt.Errorf("failed to commit transfer: %w", err)
	}
	return outID, inID, nil
}

func (s *stockService) SubmitAdjustment(ctx context.Context, productID, warehouseID int, delta decimal.Decimal,
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
	}
	err := s.pool.QueryRow(ctx, `
		INSERT INTO stock_adjustments (id, product_id, warehouse_id, delta, reason, note, status, submitted_by, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, 'pending', $7, NOW())
		RETURNING created_at
	`, req.ID, productID, warehouseID, delta, string(reason), note, submitter).Scan(&req.CreatedAt)
	if err != nil {
		if isForeignKeyViolation(err) {
			return nil, fmt.Errorf("product %d or warehouse %d: %w", productID, warehouseID, ErrNotFound)
		}
		return nil, fmt.Errorf("failed to submit adjustment: %w", err)
	}
	return req, nil
}

func (s *stockService) ApproveAdjustment(ctx context.Context, requestID uuid.UUID, approver string) (int64, error) {
	if approver == "" {
		return 0, fmt.Errorf("%w: missing approver", ErrInvalidEntry)
	}

	tx, err := s.begin(ctx)
	if err != nil {
		return 0, err
	}
	defer tx.Rollback(ctx)

	var req AdjustmentRequest
	var status, reason string
	err = tx.QueryRow(ctx, `
		SELECT product_id, warehouse_id, delta, reason, status, submitted_by FROM stock_adjustments
		WHERE id = $1
		FOR UPDATE
	`, requestID).Scan(&req.ProductID, &req.WarehouseID, &req.Delta, &reason, &status, &req.SubmittedBy)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return 0, fmt.Errorf("adjustment %s: %w", requestID, ErrNotFound)
		}
		if isLockTimeout(err) {
			return 0, fmt.Errorf("adjustment %s busy: %w", requestID, ErrContention)
		}
		return 0, fmt.Errorf("failed to lock adjustment %s: %w", requestID, err)
	}
	if status != string(AdjustmentPending) {
		return 0, fmt.Errorf("adjustment %s is %s: %w", requestID, status, ErrAlreadyDecided)
	}
	if req.SubmittedBy == approver {
		return 0, fmt.Errorf("adjustment %s submitted by %s: %w", requestID, approver, ErrSelfApproval)
	}

	_, unitCost, err := s.lockCell(ctx, tx, req.ProductID, req.WarehouseID)
	if err != nil {
		return 0, err
	}

	doc := &DocumentRef{Type: "adjustment", ID: requestID}
	entryID, err := s.appendEntry(ctx, tx, req.ProductID, req.WarehouseID, MovementAdjustment,
		req.Delta, unitCost, doc, approver)
	if err != nil {
		return 0, err
	}

	_, err = tx.Exec(ctx, `
		UPDATE stock_adjustments
		SET status = 'approved', decided_by = $1, entry_id = $2, decided_at = NOW()
		WHERE id = $3
	`, approver, entryID, requestID)
	if err != nil {
		return 0, fmt.Errorf("failed to mark adjustment approved: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return 0, fmt.Errorf("failed to commit adjustment approval: %w", err)
	}
	return entryID, nil
}

func (s *stockService) RejectAdjustment(ctx context.Context, requestID uuid.UUID, approver, note string) error {
	if approver == "" {
		return fmt.Errorf("%w: missing approver", ErrInvalidEntry)
	}

	tx, err := s.begin(ctx)
	if err != nil {
		return err
	}
	defer tx.Rollback(ctx)

	var status string
	err = tx.QueryRow(ctx, `
		SELECT status FROM stock_adjustments WHERE id = $1 FOR UPDATE
	`, requestID).Scan(&status)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return fmt.Errorf("adjustment %s: %w", requestID, ErrNotFound)
		}
		return fmt.Errorf("failed to lock adjustment %s: %w", requestID, err)
	}
	if status != string(AdjustmentPending) {
		return fmt.Errorf("adjustment %s is %s: %w", requestID, status, ErrAlreadyDecided)
	}

	_, err = tx.Exec(ctx, `
		UPDATE stock_adjustments
		SET status = 'rejected', decided_by = $1, note = CASE WHEN $2 <> '' THEN $2 ELSE note END, decided_at = NOW()
		WHERE id = $3
	`, approver, note, requestID)
	if err != nil {
		return fmt.Errorf("failed to mark adjustment rejected: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("failed to commit adjustment rejection: %w", err)
	}
	return nil
}

func (s *stockService) GetAdjustment(ctx context.Context, requestID uuid.UUID) (*AdjustmentRequest, error) {
	var req AdjustmentRequest
	var reason, status string
	var decidedBy *string
	err := s.pool.QueryRow(ctx, `
		SELECT id, product_id, warehouse_id, delta, reason, note, status, submitted_by, decided_by, entry_id, created_at, decided_at
		FROM stock_adjustments WHERE id = $1
	`, requestID).Scan(&req.ID, &req.ProductID, &req.WarehouseID, &req.Delta, &reason, &req.Note,
		&status, &req.SubmittedBy, &decidedBy, &req.EntryID, &req.CreatedAt, &req.DecidedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, fmt.Errorf("adjustment %s: %w", requestID, ErrNotFound)
		}
		return nil, fmt.Errorf("failed to fetch adjustment %s: %w", requestID, err)
	}
	req.Reason = AdjustmentReason(reason)
	req.Status = AdjustmentStatus(status)
	if decidedBy != nil {
		req.DecidedBy = *decidedBy
	}
	return &req, nil
}

func (s *stockService) Balance(ctx context.Context, productID int, warehouseID *int) (decimal.Decimal, error) {
	var balance decimal.Decimal
	var err error
	if warehouseID != nil {
		err = s.pool.QueryRow(ctx, `
			SELECT COALESCE(SUM(quantity), 0) FROM stock_balances
			WHERE product_id = $1 AND warehouse_id = $2
		`, productID, *warehouseID).Scan(&balance)
	} else {
		err = s.pool.QueryRow(ctx, `
			SELECT COALESCE(SUM(quantity), 0) FROM stock_balances
			WHERE product_id = $1
		`, productID).Scan(&balance)
	}
	if err != nil {
		return decimal.Zero, fmt.Errorf("failed to read balance for product %d: %w", productID, err)
	}
	return balance, nil
}

func (s *stockService) Available(ctx context.Context, productID, warehouseID int) (decimal.Decimal, error) {
	var available decimal.Decimal
	err := s.pool.QueryRow(ctx, `
		SELECT COALESCE((SELECT quantity FROM stock_balances WHERE product_id = $1 AND warehouse_id = $2), 0)
		     - COALESCE((SELECT SUM(quantity) FROM reservations WHERE product_id = $1 AND warehouse_id = $2 AND status = 'active'), 0)
	`, productID, warehouseID).Scan(&available)
	if err != nil {
		return decimal.Zero, fmt.Errorf("failed to read availability for product %d: %w", productID, err)
	}
	return available, nil
}

func (s *stockService) History(ctx context.Context, productID int, warehouseID *int, asOf *time.Time) ([]LedgerEntry, error) {
	query := `
		SELECT id, product_id, warehouse_id, kind, quantity, unit_cost, doc_type, doc_id, actor, occurred_at
		FROM stock_entries
		WHERE product_id = $1`
	args := []any{productID}
	if warehouseID != nil {
		args = append(args, *warehouseID)
		query += fmt.Sprintf(" AND warehouse_id = $%d", len(args))
	}
	if asOf != nil {
		args = append(args, *asOf)
		query += fmt.Sprintf(" AND occurred_at <= $%d", len(args))
	}
	query += " ORDER BY occurred_at, id"

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query ledger entries: %w", err)
	}
	defer rows.Close()

	var entries []LedgerEntry
	for rows.Next() {
		var e LedgerEntry
		var kind string
		var docType *string
		var docID *uuid.UUID
		if err := rows.Scan(&e.ID, &e.ProductID, &e.WarehouseID, &kind, &e.Quantity, &e.UnitCost,
			&docType, &docID, &e.Actor, &e.OccurredAt); err != nil {
			return nil, fmt.Errorf("failed to scan ledger entry: %w", err)
		}
		e.Kind = MovementKind(kind)
		if docType != nil && docID != nil {
			e.Document = &DocumentRef{Type: *docType, ID: *docID}
		}
		entries = append(entries, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating ledger entries: %w", err)
	}
	return entries, nil
}

// VerifyBalance recomputes the cell's balance by folding the ledger and
// repairs the projection when it disagrees. The ledger is the source of
// truth; the projection is only ever an optimization.
func (s *stockService) VerifyBalance(ctx context.Context, productID, warehouseID int) (decimal.Decimal, error) {
	tx, err := s.begin(ctx)
	if err != nil {
		return decimal.Zero, err
	}
	defer tx.Rollback(ctx)

	cached, _, err := s.lockCell(ctx, tx, productID, warehouseID)
	if err != nil {
		return decimal.Zero, err
	}

	var folded decimal.Decimal
	err = tx.QueryRow(ctx, `
		SELECT COALESCE(SUM(quantity), 0) FROM stock_entries
		WHERE product_id = $1 AND warehouse_id = $2
	`, productID, warehouseID).Scan(&folded)
	if err != nil {
		return decimal.Zero, fmt.Errorf("failed to fold ledger for product %d warehouse %d: %w", productID, warehouseID, err)
	}

	if !cached.Equal(folded) {
		log.Printf("integrity alert: stock balance drift for product %d warehouse %d: cached %s, ledger %s — rederiving",
			productID, warehouseID, cached.String(), folded.String())
		_, err = tx.Exec(ctx, `
			UPDATE stock_balances SET quantity = $1, updated_at = NOW()
			WHERE product_id = $2 AND warehouse_id = $3
		`, folded, productID, warehouseID)
		if err != nil {
			return decimal.Zero, fmt.Errorf("failed to rederive stock balance: %w", err)
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return decimal.Zero, fmt.Errorf("failed to commit balance verification: %w", err)
	}
	return folded, nil
}
