package shelfwise

import (
	"context"
	"sync"
	"testing"

	"github.com/shelfwise/shelfwise/internal/apierror"
	"github.com/shelfwise/shelfwise/model"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestApplyTransaction_Validation(t *testing.T) {
	env := newTestEnv(t, nil)
	ctx := context.Background()

	tests := []struct {
		name string
		req  model.TransactionRequest
	}{
		{"missing product", model.TransactionRequest{LocationID: "loc-1", QtyChange: 1, Type: model.TransactionReceive, ReferenceType: model.ReferenceManual}},
		{"missing location", model.TransactionRequest{ProductID: "p-1", QtyChange: 1, Type: model.TransactionReceive, ReferenceType: model.ReferenceManual}},
		{"unknown type", model.TransactionRequest{ProductID: "p-1", LocationID: "loc-1", QtyChange: 1, Type: "teleport", ReferenceType: model.ReferenceManual}},
		{"unknown reference", model.TransactionRequest{ProductID: "p-1", LocationID: "loc-1", QtyChange: 1, Type: model.TransactionReceive, ReferenceType: "carrier_pigeon"}},
		{"no change", model.TransactionRequest{ProductID: "p-1", LocationID: "loc-1", Type: model.TransactionAdjust, ReferenceType: model.ReferenceManual}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := env.s.ApplyTransaction(ctx, tt.req)
			assert.True(t, apierror.HasCode(err, apierror.ErrInvalidInput), "got %v", err)
		})
	}
}

func TestApplyTransaction_RejectionLeavesStateUnchanged(t *testing.T) {
	env := newTestEnv(t, nil)
	ctx := context.Background()
	seedStock(t, env.s, "p-1", "loc-1", 5)

	_, err := env.s.ApplyTransaction(ctx, model.TransactionRequest{
		ProductID: "p-1", LocationID: "loc-1", QtyChange: -6,
		Type: model.TransactionShip, ReferenceType: model.ReferenceOutboundOrder,
	})
	require.Error(t, err)
	assert.True(t, apierror.HasCode(err, apierror.ErrInsufficientQuantity))

	_, err = env.s.ApplyTransaction(ctx, model.TransactionRequest{
		ProductID: "p-1", LocationID: "loc-1", ReservedChange: 6,
		Type: model.TransactionReserve, ReferenceType: model.ReferenceOutboundOrder,
	})
	assert.True(t, apierror.HasCode(err, apierror.ErrInvalidReservation))

	r := record(t, env.s, "p-1", "loc-1")
	assert.Equal(t, int64(5), r.QtyOnHand)
	assert.Equal(t, int64(0), r.QtyReserved)

	entries, err := env.s.ListLedgerEntries(ctx, "p-1", "loc-1", 10, 0)
	require.NoError(t, err)
	assert.Len(t, entries, 1)

	assert.Equal(t, float64(1), counterValue(t, env.registry, "shelfwise_ledger_rejections_total",
		map[string]string{"type": "ship"}))
}

func TestApplyTransaction_LedgerEntryArithmetic(t *testing.T) {
	env := newTestEnv(t, nil)
	ctx := context.Background()
	seedStock(t, env.s, "p-1", "loc-1", 10)

	entry, err := env.s.ApplyTransaction(ctx, model.TransactionRequest{
		ProductID: "p-1", LocationID: "loc-1", QtyChange: -2, ReservedChange: 3,
		Type: model.TransactionAdjust, ReferenceType: model.ReferenceManual, Reason: "recount",
	})
	require.NoError(t, err)
	assert.Equal(t, int64(10), entry.QtyBefore)
	assert.Equal(t, int64(8), entry.QtyAfter)
	assert.Equal(t, int64(0), entry.ReservedBefore)
	assert.Equal(t, int64(3), entry.ReservedAfter)
	assert.Equal(t, entry.QtyBefore+entry.QtyChange, entry.QtyAfter)
	assert.Equal(t, entry.ReservedBefore+entry.ReservedChange, entry.ReservedAfter)
}

func TestApplyTransaction_ConcurrentWritesSerialize(t *testing.T) {
	env := newTestEnv(t, nil)
	ctx := context.Background()
	seedStock(t, env.s, "p-1", "loc-1", 50)

	var wg sync.WaitGroup
	var mu sync.Mutex
	failures := 0
	for i := 0; i < 80; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := env.s.ApplyTransaction(ctx, model.TransactionRequest{
				ProductID: "p-1", LocationID: "loc-1", QtyChange: -1,
				Type: model.TransactionPick, ReferenceType: model.ReferenceWarehouseTask,
			})
			if err != nil {
				mu.Lock()
				failures++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, 30, failures)
	assert.Equal(t, int64(0), record(t, env.s, "p-1", "loc-1").QtyOnHand)
}

func TestReceive(t *testing.T) {
	env := newTestEnv(t, nil)
	entry, err := env.s.Receive(context.Background(), StockMovement{ProductID: "p-1", LocationID: "loc-1", Qty: 12, PerformedBy: "dock"})
	require.NoError(t, err)
	assert.Equal(t, model.TransactionReceive, entry.Type)
	assert.Equal(t, model.ReferenceInboundOrder, entry.ReferenceType)
	assert.Equal(t, int64(12), entry.QtyAfter)

	_, err = env.s.Receive(context.Background(), StockMovement{ProductID: "p-1", LocationID: "loc-1", Qty: 0})
	assert.True(t, apierror.HasCode(err, apierror.ErrInvalidInput))
}

func TestAdjust(t *testing.T) {
	env := newTestEnv(t, nil)
	ctx := context.Background()
	seedStock(t, env.s, "p-1", "loc-1", 4)

	_, err := env.s.Adjust(ctx, StockMovement{ProductID: "p-1", LocationID: "loc-1", Qty: -2})
	assert.True(t, apierror.HasCode(err, apierror.ErrInvalidInput), "reason is required")

	_, err = env.s.Adjust(ctx, StockMovement{ProductID: "p-1", LocationID: "loc-1", Reason: "found", Qty: 0})
	assert.True(t, apierror.HasCode(err, apierror.ErrInvalidInput))

	_, err = env.s.Adjust(ctx, StockMovement{ProductID: "p-1", LocationID: "loc-1", Reason: "shrinkage", Qty: -5})
	require.Error(t, err)
	var apiErr apierror.APIError
	require.ErrorAs(t, err, &apiErr)
	assert.Equal(t, apierror.ErrInsufficientQuantity, apiErr.Code)
	assert.Equal(t, "Adjustment would result in negative inventory", apiErr.Message)

	entry, err := env.s.Adjust(ctx, StockMovement{ProductID: "p-1", LocationID: "loc-1", Reason: "shrinkage", Qty: -3})
	require.NoError(t, err)
	assert.Equal(t, int64(1), entry.QtyAfter)
	assert.Equal(t, "shrinkage", entry.Reason)
}

func TestCycleCount(t *testing.T) {
	env := newTestEnv(t, nil)
	ctx := context.Background()
	seedStock(t, env.s, "p-1", "loc-1", 10)
	_, err := env.s.Reserve(ctx, ReservationRequest{ProductID: "p-1", LocationID: "loc-1", Qty: 4})
	require.NoError(t, err)

	entry, err := env.s.CycleCount(ctx, StockMovement{ProductID: "p-1", LocationID: "loc-1", Qty: 10})
	require.NoError(t, err)
	assert.Nil(t, entry, "matching count writes nothing")

	entry, err = env.s.CycleCount(ctx, StockMovement{ProductID: "p-1", LocationID: "loc-1", Qty: 7})
	require.NoError(t, err)
	assert.Equal(t, int64(-3), entry.QtyChange)
	assert.Equal(t, model.TransactionCycleCount, entry.Type)

	_, err = env.s.CycleCount(ctx, StockMovement{ProductID: "p-1", LocationID: "loc-1", Qty: 3})
	assert.True(t, apierror.HasCode(err, apierror.ErrInvalidReservation))
	assert.Equal(t, int64(7), record(t, env.s, "p-1", "loc-1").QtyOnHand)
}

func TestWriteOffDamage(t *testing.T) {
	env := newTestEnv(t, nil)
	seedStock(t, env.s, "p-1", "loc-1", 3)

	entry, err := env.s.WriteOffDamage(context.Background(), StockMovement{ProductID: "p-1", LocationID: "loc-1", Qty: 2, Reason: "crushed"})
	require.NoError(t, err)
	assert.Equal(t, int64(-2), entry.QtyChange)
	assert.Equal(t, model.TransactionDamageWriteoff, entry.Type)
	assert.Equal(t, int64(1), record(t, env.s, "p-1", "loc-1").QtyOnHand)
}
