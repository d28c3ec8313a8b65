package core

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const (
	productP  = 1
	mainWH    = 1
	backupWH  = 2
	userAlice = "alice"
	userBob   = "bob"
)

func receiveUnits(t *testing.T, svc *MemoryStockService, productID, warehouseID int, qty, cost int64) int64 {
	t.Helper()
	id, err := svc.Receive(context.Background(), productID, warehouseID,
		decimal.NewFromInt(qty), decimal.NewFromInt(cost), nil, userAlice)
	require.NoError(t, err)
	return id
}

func cellBalance(t *testing.T, svc *MemoryStockService, productID, warehouseID int) decimal.Decimal {
	t.Helper()
	wh := warehouseID
	b, err := svc.Balance(context.Background(), productID, &wh)
	require.NoError(t, err)
	return b
}

func TestReceive_IncreasesBalance(t *testing.T) {
	svc := NewMemoryStockService()
	ctx := context.Background()

	doc := &DocumentRef{Type: "purchase_order", ID: uuid.New()}
	entryID, err := svc.Receive(ctx, productP, mainWH, decimal.NewFromInt(100), decimal.NewFromInt(5), doc, userAlice)
	require.NoError(t, err)
	assert.Positive(t, entryID)

	assert.True(t, cellBalance(t, svc, productP, mainWH).Equal(decimal.NewFromInt(100)))

	entries, err := svc.History(ctx, productP, nil, nil)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, MovementIn, entries[0].Kind)
	assert.Equal(t, userAlice, entries[0].Actor)
	assert.False(t, entries[0].OccurredAt.IsZero())
	require.NotNil(t, entries[0].Document)
	assert.Equal(t, "purchase_order", entries[0].Document.Type)
}

func TestReceive_RejectsInvalidEntries(t *testing.T) {
	svc := NewMemoryStockService()
	ctx := context.Background()

	_, err := svc.Receive(ctx, 0, mainWH, decimal.NewFromInt(10), decimal.Zero, nil, userAlice)
	assert.ErrorIs(t, err, ErrInvalidEntry)

	_, err = svc.Receive(ctx, productP, 0, decimal.NewFromInt(10), decimal.Zero, nil, userAlice)
	assert.ErrorIs(t, err, ErrInvalidEntry)

	_, err = svc.Receive(ctx, productP, mainWH, decimal.Zero, decimal.Zero, nil, userAlice)
	assert.ErrorIs(t, err, ErrInvalidEntry)

	_, err = svc.Receive(ctx, productP, mainWH, decimal.NewFromInt(-5), decimal.Zero, nil, userAlice)
	assert.ErrorIs(t, err, ErrInvalidEntry)

	_, err = svc.Receive(ctx, productP, mainWH, decimal.NewFromInt(5), decimal.NewFromInt(-1), nil, userAlice)
	assert.ErrorIs(t, err, ErrInvalidEntry)

	_, err = svc.Receive(ctx, productP, mainWH, decimal.NewFromInt(5), decimal.Zero, nil, "")
	assert.ErrorIs(t, err, ErrInvalidEntry)

	// Nothing landed in the ledger.
	entries, err := svc.History(ctx, productP, nil, nil)
	require.NoError(t, err)
	assert.Empty(t, entries)
}

func TestReserve_AdmissionCheck(t *testing.T) {
	svc := NewMemoryStockService()
	ctx := context.Background()
	receiveUnits(t, svc, productP, mainWH, 100, 5)

	// 100 available: 30 fits.
	_, err := svc.Reserve(ctx, productP, mainWH, decimal.NewFromInt(30), userAlice)
	require.NoError(t, err)

	// Only 70 left: 80 must be rejected with no side effects.
	_, err = svc.Reserve(ctx, productP, mainWH, decimal.NewFromInt(80), userAlice)
	assert.ErrorIs(t, err, ErrInsufficientStock)

	available, err := svc.Available(ctx, productP, mainWH)
	require.NoError(t, err)
	assert.True(t, available.Equal(decimal.NewFromInt(70)))

	// Exactly the remainder fits.
	_, err = svc.Reserve(ctx, productP, mainWH, decimal.NewFromInt(70), userAlice)
	require.NoError(t, err)

	available, err = svc.Available(ctx, productP, mainWH)
	require.NoError(t, err)
	assert.True(t, available.IsZero())

	// Reservations never touch the ledger balance.
	assert.True(t, cellBalance(t, svc, productP, mainWH).Equal(decimal.NewFromInt(100)))
}

func TestFulfill_ConvertsReservationToOutEntry(t *testing.T) {
	svc := NewMemoryStockService()
	ctx := context.Background()
	receiveUnits(t, svc, productP, mainWH, 100, 5)

	resID, err := svc.Reserve(ctx, productP, mainWH, decimal.NewFromInt(30), userAlice)
	require.NoError(t, err)

	entryID, err := svc.Fulfill(ctx, resID, nil)
	require.NoError(t, err)
	assert.Positive(t, entryID)

	assert.True(t, cellBalance(t, svc, productP, mainWH).Equal(decimal.NewFromInt(70)))

	// The reservation is no longer active.
	available, err := svc.Available(ctx, productP, mainWH)
	require.NoError(t, err)
	assert.True(t, available.Equal(decimal.NewFromInt(70)))

	// Re-fulfilling a consumed reservation fails.
	_, err = svc.Fulfill(ctx, resID, nil)
	assert.ErrorIs(t, err, ErrNotFound)

	entries, err := svc.History(ctx, productP, nil, nil)
	require.NoError(t, err)
	require.Len(t, entries, 2)
	assert.Equal(t, MovementOut, entries[1].Kind)
	assert.True(t, entries[1].Quantity.Equal(decimal.NewFromInt(-30)))
}

func TestRelease_ReturnsAvailability(t *testing.T) {
	svc := NewMemoryStockService()
	ctx := context.Background()
	receiveUnits(t, svc, productP, mainWH, 50, 5)

	resID, err := svc.Reserve(ctx, productP, mainWH, decimal.NewFromInt(50), userAlice)
	require.NoError(t, err)

	available, err := svc.Available(ctx, productP, mainWH)
	require.NoError(t, err)
	assert.True(t, available.IsZero())

	require.NoError(t, svc.Release(ctx, resID))

	available, err = svc.Available(ctx, productP, mainWH)
	require.NoError(t, err)
	assert.True(t, available.Equal(decimal.NewFromInt(50)))

	// Cancellation leaves no ledger trace.
	assert.True(t, cellBalance(t, svc, productP, mainWH).Equal(decimal.NewFromInt(50)))

	// A released reservation cannot be released or fulfilled again.
	assert.ErrorIs(t, svc.Release(ctx, resID), ErrNotFound)
	_, err = svc.Fulfill(ctx, resID, nil)
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestRelease_UnknownReservation(t *testing.T) {
	svc := NewMemoryStockService()
	assert.ErrorIs(t, svc.Release(context.Background(), uuid.New()), ErrNotFound)
}

func TestTransfer_MovesStockBetweenWarehouses(t *testing.T) {
	svc := NewMemoryStockService()
	ctx := context.Background()
	receiveUnits(t, svc, productP, mainWH, 100, 5)

	outID, inID, err := svc.Transfer(ctx, productP, mainWH, backupWH, decimal.NewFromInt(40), userAlice)
	require.NoError(t, err)
	assert.NotEqual(t, outID, inID)

	assert.True(t, cellBalance(t, svc, productP, mainWH).Equal(decimal.NewFromInt(60)))
	assert.True(t, cellBalance(t, svc, productP, backupWH).Equal(decimal.NewFromInt(40)))

	// Product total is unchanged.
	total, err := svc.Balance(ctx, productP, nil)
	require.NoError(t, err)
	assert.True(t, total.Equal(decimal.NewFromInt(100)))

	// Both legs share one document reference.
	entries, err := svc.History(ctx, productP, nil, nil)
	require.NoError(t, err)
	require.Len(t, entries, 3)
	assert.Equal(t, MovementTransferOut, entries[1].Kind)
	assert.Equal(t, MovementTransferIn, entries[2].Kind)
	require.NotNil(t, entries[1].Document)
	require.NotNil(t, entries[2].Document)
	assert.Equal(t, entries[1].Document.ID, entries[2].Document.ID)
}

func TestTransfer_RespectsReservations(t *testing.T) {
	svc := NewMemoryStockService()
	ctx := context.Background()
	receiveUnits(t, svc, productP, mainWH, 100, 5)

	_, err := svc.Reserve(ctx, productP, mainWH, decimal.NewFromInt(70), userAlice)
	require.NoError(t, err)

	// Only 30 unreserved: moving 40 would strand the reservation.
	_, _, err = svc.Transfer(ctx, productP, mainWH, backupWH, decimal.NewFromInt(40), userAlice)
	assert.ErrorIs(t, err, ErrInsufficientStock)

	_, _, err = svc.Transfer(ctx, productP, mainWH, backupWH, decimal.NewFromInt(30), userAlice)
	require.NoError(t, err)
}

func TestTransfer_SameWarehouse(t *testing.T) {
	svc := NewMemoryStockService()
	receiveUnits(t, svc, productP, mainWH, 10, 5)
	_, _, err := svc.Transfer(context.Background(), productP, mainWH, mainWH, decimal.NewFromInt(5), userAlice)
	assert.ErrorIs(t, err, ErrInvalidEntry)
}

func TestHistory_AsOfCutsTheSequence(t *testing.T) {
	svc := NewMemoryStockService()
	ctx := context.Background()

	receiveUnits(t, svc, productP, mainWH, 100, 5)
	cut := time.Now()
	time.Sleep(5 * time.Millisecond)
	receiveUnits(t, svc, productP, mainWH, 50, 5)

	all, err := svc.History(ctx, productP, nil, nil)
	require.NoError(t, err)
	require.Len(t, all, 2)

	upTo, err := svc.History(ctx, productP, nil, &cut)
	require.NoError(t, err)
	require.Len(t, upTo, 1)

	// Point-in-time balance reconstruction from the cut sequence.
	assert.True(t, FoldBalance(upTo).Equal(decimal.NewFromInt(100)))
	assert.True(t, FoldBalance(all).Equal(decimal.NewFromInt(150)))
}

func TestVerifyBalance_RepairsDrift(t *testing.T) {
	svc := NewMemoryStockService()
	ctx := context.Background()
	receiveUnits(t, svc, productP, mainWH, 100, 5)

	svc.corruptBalance(productP, mainWH, decimal.NewFromInt(7))
	assert.True(t, cellBalance(t, svc, productP, mainWH).Equal(decimal.NewFromInt(107)))

	repaired, err := svc.VerifyBalance(ctx, productP, mainWH)
	require.NoError(t, err)
	assert.True(t, repaired.Equal(decimal.NewFromInt(100)))
	assert.True(t, cellBalance(t, svc, productP, mainWH).Equal(decimal.NewFromInt(100)))
}

func TestEndToEnd_ReceiveReserveFulfillAdjust(t *testing.T) {
	svc := NewMemoryStockService()
	ctx := context.Background()

	// Receive 100 @ 5 against a purchase order.
	po := &DocumentRef{Type: "purchase_order", ID: uuid.New()}
	_, err := svc.Receive(ctx, productP, mainWH, decimal.NewFromInt(100), decimal.NewFromInt(5), po, userAlice)
	require.NoError(t, err)
	assert.True(t, cellBalance(t, svc, productP, mainWH).Equal(decimal.NewFromInt(100)))

	// Reserve 30, fail 80, reserve 70.
	res30, err := svc.Reserve(ctx, productP, mainWH, decimal.NewFromInt(30), userAlice)
	require.NoError(t, err)
	_, err = svc.Reserve(ctx, productP, mainWH, decimal.NewFromInt(80), userAlice)
	require.ErrorIs(t, err, ErrInsufficientStock)
	_, err = svc.Reserve(ctx, productP, mainWH, decimal.NewFromInt(70), userAlice)
	require.NoError(t, err)

	// Fulfill the 30.
	_, err = svc.Fulfill(ctx, res30, nil)
	require.NoError(t, err)
	assert.True(t, cellBalance(t, svc, productP, mainWH).Equal(decimal.NewFromInt(70)))

	// Damage write-off of 5 under dual control.
	adj, err := svc.SubmitAdjustment(ctx, productP, mainWH, decimal.NewFromInt(-5), ReasonDamage, "dropped pallet", userAlice)
	require.NoError(t, err)

	_, err = svc.ApproveAdjustment(ctx, adj.ID, userAlice)
	require.ErrorIs(t, err, ErrSelfApproval)

	_, err = svc.ApproveAdjustment(ctx, adj.ID, userBob)
	require.NoError(t, err)
	assert.True(t, cellBalance(t, svc, productP, mainWH).Equal(decimal.NewFromInt(65)))

	// The projection agrees with the fold.
	entries, err := svc.History(ctx, productP, nil, nil)
	require.NoError(t, err)
	assert.True(t, FoldBalance(entries).Equal(decimal.NewFromInt(65)))
}
