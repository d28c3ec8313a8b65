//go:build property
// +build property

package core

import (
	"context"
	"testing"

	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"
	"github.com/shopspring/decimal"
)

// The primary correctness property of the projector: for any sequence
// of ledger-producing operations, the incrementally maintained balance
// equals the balance recomputed by folding the full entry sequence.
func TestProjection_IncrementalEqualsFold(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 200
	properties := gopter.NewProperties(parameters)

	properties.Property("incremental balance equals ledger fold", prop.ForAll(
		func(deltas []int) bool {
			svc := NewMemoryStockService()
			ctx := context.Background()

			for i, d := range deltas {
				switch {
				case d > 0:
					if _, err := svc.Receive(ctx, productP, mainWH,
						decimal.NewFromInt(int64(d)), decimal.NewFromInt(1), nil, userAlice); err != nil {
						return false
					}
				case d < 0:
					qty := decimal.NewFromInt(int64(-d))
					available, err := svc.Available(ctx, productP, mainWH)
					if err != nil {
						return false
					}
					if i%2 == 0 && qty.LessThanOrEqual(available) {
						// Route through the reservation gate.
						id, err := svc.Reserve(ctx, productP, mainWH, qty, userAlice)
						if err != nil {
							return false
						}
						if _, err := svc.Fulfill(ctx, id, nil); err != nil {
							return false
						}
					} else {
						// Route through the adjustment workflow; negative
						// balances are legal for corrections.
						adj, err := svc.SubmitAdjustment(ctx, productP, mainWH,
							qty.Neg(), ReasonCorrection, "", userAlice)
						if err != nil {
							return false
						}
						if _, err := svc.ApproveAdjustment(ctx, adj.ID, userBob); err != nil {
							return false
						}
					}
				}
			}

			entries, err := svc.History(ctx, productP, nil, nil)
			if err != nil {
				return false
			}
			incremental, err := svc.Balance(ctx, productP, nil)
			if err != nil {
				return false
			}
			folded, err := svc.VerifyBalance(ctx, productP, mainWH)
			if err != nil {
				return false
			}
			return incremental.Equal(FoldBalance(entries)) && incremental.Equal(folded)
		},
		gen.SliceOf(gen.IntRange(-30, 60)),
	))

	properties.TestingRun(t)
}
