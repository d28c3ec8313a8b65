package core

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// Two reservations racing for more stock than exists: exactly one wins.
func TestReserve_ConcurrentAdmission(t *testing.T) {
	svc := NewMemoryStockService()
	ctx := context.Background()
	receiveUnits(t, svc, productP, mainWH, 65, 5)

	results := make(chan error, 2)
	var start sync.WaitGroup
	start.Add(1)
	for i := 0; i < 2; i++ {
		go func() {
			start.Wait()
			_, err := svc.Reserve(ctx, productP, mainWH, decimal.NewFromInt(60), userAlice)
			results <- err
		}()
	}
	start.Done()

	var won, lost int
	for i := 0; i < 2; i++ {
		err := <-results
		if err == nil {
			won++
		} else if errors.Is(err, ErrInsufficientStock) {
			lost++
		} else {
			t.Fatalf("unexpected error: %v", err)
		}
	}
	assert.Equal(t, 1, won)
	assert.Equal(t, 1, lost)

	// Available never went negative.
	available, err := svc.Available(ctx, productP, mainWH)
	require.NoError(t, err)
	assert.True(t, available.Equal(decimal.NewFromInt(5)))
}

// Hammer one cell with concurrent receives and reserve/fulfill cycles,
// then check the projection still equals the fold of the ledger and no
// reservation was ever admitted beyond the balance.
func TestStock_ConcurrentMixedLoad(t *testing.T) {
	svc := NewMemoryStockService()
	ctx := context.Background()
	receiveUnits(t, svc, productP, mainWH, 1000, 2)

	const workers = 8
	const rounds = 50

	var wg sync.WaitGroup
	for w := 0; w < workers; w++ {
		wg.Add(1)
		go func(w int) {
			defer wg.Done()
			for i := 0; i < rounds; i++ {
				switch i % 3 {
				case 0:
					_, err := svc.Receive(ctx, productP, mainWH, decimal.NewFromInt(3), decimal.NewFromInt(2), nil, userAlice)
					if err != nil && !errors.Is(err, ErrContention) {
						t.Errorf("receive: %v", err)
					}
				case 1:
					id, err := svc.Reserve(ctx, productP, mainWH, decimal.NewFromInt(5), userBob)
					if err != nil {
						if !errors.Is(err, ErrInsufficientStock) && !errors.Is(err, ErrContention) {
							t.Errorf("reserve: %v", err)
						}
						continue
					}
					if _, err := svc.Fulfill(ctx, id, nil); err != nil && !errors.Is(err, ErrContention) {
						t.Errorf("fulfill: %v", err)
					}
				case 2:
					id, err := svc.Reserve(ctx, productP, mainWH, decimal.NewFromInt(2), userBob)
					if err != nil {
						continue
					}
					if err := svc.Release(ctx, id); err != nil {
						t.Errorf("release: %v", err)
					}
				}
			}
		}(w)
	}
	wg.Wait()

	entries, err := svc.History(ctx, productP, nil, nil)
	require.NoError(t, err)
	balance, err := svc.Balance(ctx, productP, nil)
	require.NoError(t, err)
	assert.True(t, balance.Equal(FoldBalance(entries)),
		"projection %s diverged from ledger fold %s", balance, FoldBalance(entries))

	verified, err := svc.VerifyBalance(ctx, productP, mainWH)
	require.NoError(t, err)
	assert.True(t, verified.Equal(balance))

	available, err := svc.Available(ctx, productP, mainWH)
	require.NoError(t, err)
	assert.False(t, available.IsNegative(), "available went negative: %s", available)
}

// A held cell lock forces concurrent writers into the bounded wait and
// out with ErrContention instead of blocking forever.
func TestLockCell_BoundedWait(t *testing.T) {
	svc := NewMemoryStockService()
	svc.lockWait = 10 * time.Millisecond
	ctx := context.Background()

	key := cellKey{productP, mainWH}
	_, unlock, err := svc.lockCell(ctx, key)
	require.NoError(t, err)
	defer unlock()

	_, err = svc.Receive(ctx, productP, mainWH, decimal.NewFromInt(1), decimal.Zero, nil, userAlice)
	assert.ErrorIs(t, err, ErrContention)

	_, err = svc.Reserve(ctx, productP, mainWH, decimal.NewFromInt(1), userAlice)
	assert.ErrorIs(t, err, ErrContention)

	// Other cells are unaffected while this one is held.
	_, err = svc.Receive(ctx, productP, backupWH, decimal.NewFromInt(1), decimal.Zero, nil, userAlice)
	require.NoError(t, err)
}

// Fulfillment is all-or-nothing: a fulfill that loses the race observes
// either both effects of the winner or neither, never a half state.
func TestFulfill_AtomicEffects(t *testing.T) {
	svc := NewMemoryStockService()
	ctx := context.Background()
	receiveUnits(t, svc, productP, mainWH, 10, 1)

	resID, err := svc.Reserve(ctx, productP, mainWH, decimal.NewFromInt(10), userAlice)
	require.NoError(t, err)

	results := make(chan error, 2)
	for i := 0; i < 2; i++ {
		go func() {
			_, err := svc.Fulfill(ctx, resID, nil)
			results <- err
		}()
	}
	var ok, notFound int
	for i := 0; i < 2; i++ {
		switch err := <-results; {
		case err == nil:
			ok++
		case errors.Is(err, ErrNotFound):
			notFound++
		default:
			t.Fatalf("unexpected error: %v", err)
		}
	}
	assert.Equal(t, 1, ok, "exactly one fulfill must win")
	assert.Equal(t, 1, notFound)

	// One out entry, balance decremented once, reservation consumed.
	entries, err := svc.History(ctx, productP, nil, nil)
	require.NoError(t, err)
	assert.Len(t, entries, 2)
	assert.True(t, cellBalance(t, svc, productP, mainWH).Equal(decimal.Zero))

	available, err := svc.Available(ctx, productP, mainWH)
	require.NoError(t, err)
	assert.True(t, available.IsZero())
}
