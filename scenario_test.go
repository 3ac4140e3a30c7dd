package shelfwise

import (
	"context"
	"errors"
	"testing"

	"github.com/brianvoe/gofakeit/v6"
	"github.com/shelfwise/shelfwise/model"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestScenario_ReserveThenCancel(t *testing.T) {
	env := newTestEnv(t, nil)
	ctx := context.Background()
	integration := seedIntegration(t, env, "owner-1", "L", "P")
	seedStock(t, env.s, "prod-P", "L", 50)

	po := platformOrder(t, 10, map[string]int64{"P": 10}, nil)
	require.NoError(t, env.s.OnOrderCreated(ctx, integration, po))
	assert.Equal(t, int64(10), record(t, env.s, "prod-P", "L").QtyReserved)

	require.NoError(t, env.s.OnOrderCancelled(ctx, integration, po))
	r := record(t, env.s, "prod-P", "L")
	assert.Equal(t, int64(0), r.QtyReserved)
	assert.Equal(t, int64(50), r.QtyOnHand)
}

func TestScenario_TransferHappyPath(t *testing.T) {
	env := newTestEnv(t, nil)
	ctx := context.Background()
	seedStock(t, env.s, "P", "L1", 20)
	seedStock(t, env.s, "P", "L2", 3)

	transfer, err := env.s.CreateTransfer(ctx, CreateTransferRequest{
		FromLocationID: "L1", ToLocationID: "L2",
		Items: []TransferItemRequest{{ProductID: "P", QtyRequested: 5}},
	})
	require.NoError(t, err)
	completed, err := env.s.CompleteTransfer(ctx, transfer.ID, "operator")
	require.NoError(t, err)

	assert.Equal(t, int64(15), record(t, env.s, "P", "L1").QtyOnHand)
	assert.Equal(t, int64(8), record(t, env.s, "P", "L2").QtyOnHand)
	assert.Equal(t, int64(5), completed.Items[0].QtyTransferred)
}

func TestScenario_TransferCompensation(t *testing.T) {
	env, flaky := newFlakyEnv(t, nil)
	ctx := context.Background()
	seedStock(t, env.s, "P", "L1", 20)
	seedStock(t, env.s, "P", "L2", 3)

	transfer, err := env.s.CreateTransfer(ctx, CreateTransferRequest{
		FromLocationID: "L1", ToLocationID: "L2",
		Items: []TransferItemRequest{{ProductID: "P", QtyRequested: 5}},
	})
	require.NoError(t, err)

	failures := 1
	flaky.failApply = func(req model.TransactionRequest) error {
		if req.LocationID == "L2" && failures > 0 {
			failures--
			return errors.New("i/o timeout")
		}
		return nil
	}
	_, err = env.s.CompleteTransfer(ctx, transfer.ID, "operator")
	require.Error(t, err)

	assert.Equal(t, int64(20), record(t, env.s, "P", "L1").QtyOnHand)
	assert.Equal(t, int64(3), record(t, env.s, "P", "L2").QtyOnHand)
	stored, err := env.s.GetTransfer(ctx, transfer.ID)
	require.NoError(t, err)
	assert.Equal(t, int64(0), stored.Items[0].QtyTransferred)
}

func TestScenario_DuplicateWebhook(t *testing.T) {
	env := newTestEnv(t, nil)
	ctx := context.Background()
	integration := seedIntegration(t, env, "owner-1", "L", "P")
	seedStock(t, env.s, "prod-P", "L", 50)

	req := signedRequest(integration, TopicOrderCreated, orderPayload(t, 11, map[string]int64{"P": 4}, nil))
	require.Equal(t, 200, env.s.Ingest(ctx, req).Status)
	before, err := env.s.ListLedgerEntries(ctx, "prod-P", "L", 100, 0)
	require.NoError(t, err)

	second := env.s.Ingest(ctx, req)
	assert.Equal(t, 200, second.Status)
	after, err := env.s.ListLedgerEntries(ctx, "prod-P", "L", 100, 0)
	require.NoError(t, err)
	assert.Equal(t, len(before), len(after))

	events, err := env.s.ListWebhookEvents(ctx, "", 10, 0)
	require.NoError(t, err)
	assert.Len(t, events, 1)
}

func TestProperty_TransfersConserveStock(t *testing.T) {
	env := newTestEnv(t, nil)
	ctx := context.Background()
	products := []string{"P1", "P2", "P3"}
	for _, p := range products {
		seedStock(t, env.s, p, "L1", int64(gofakeit.Number(5, 30)))
		seedStock(t, env.s, p, "L2", int64(gofakeit.Number(5, 30)))
	}
	total := func(p string) int64 {
		return record(t, env.s, p, "L1").QtyOnHand + record(t, env.s, p, "L2").QtyOnHand
	}
	before := map[string]int64{}
	for _, p := range products {
		before[p] = total(p)
	}

	for i := 0; i < 20; i++ {
		from, to := "L1", "L2"
		if gofakeit.Bool() {
			from, to = to, from
		}
		transfer, err := env.s.CreateTransfer(ctx, CreateTransferRequest{
			FromLocationID: from, ToLocationID: to,
			Items: []TransferItemRequest{
				{ProductID: products[gofakeit.Number(0, 2)], QtyRequested: int64(gofakeit.Number(1, 12))},
			},
		})
		require.NoError(t, err)
		_, _ = env.s.CompleteTransfer(ctx, transfer.ID, "operator")
	}

	for _, p := range products {
		assert.Equal(t, before[p], total(p), p)
	}
}

func TestProperty_LedgerNeverViolatesInvariants(t *testing.T) {
	env := newTestEnv(t, nil)
	ctx := context.Background()
	types := []model.TransactionType{model.TransactionReceive, model.TransactionShip, model.TransactionReserve, model.TransactionRelease, model.TransactionAdjust}

	for i := 0; i < 200; i++ {
		req := model.TransactionRequest{
			ProductID:     "P",
			LocationID:    "L",
			Type:          types[gofakeit.Number(0, len(types)-1)],
			ReferenceType: model.ReferenceManual,
		}
		req.QtyChange = int64(gofakeit.Number(-10, 10))
		req.ReservedChange = int64(gofakeit.Number(-10, 10))
		if req.QtyChange == 0 && req.ReservedChange == 0 {
			continue
		}

		prev := record(t, env.s, "P", "L")
		_, err := env.s.ApplyTransaction(ctx, req)
		r := record(t, env.s, "P", "L")
		if err != nil {
			assert.Equal(t, prev.QtyOnHand, r.QtyOnHand)
			assert.Equal(t, prev.QtyReserved, r.QtyReserved)
		}
		require.GreaterOrEqual(t, r.QtyOnHand, int64(0))
		require.GreaterOrEqual(t, r.QtyReserved, int64(0))
		require.LessOrEqual(t, r.QtyReserved, r.QtyOnHand)
	}

	entries, err := env.s.ListLedgerEntries(ctx, "P", "L", 500, 0)
	require.NoError(t, err)
	var onHand, reserved int64
	for i := len(entries) - 1; i >= 0; i-- {
		e := entries[i]
		assert.Equal(t, onHand, e.QtyBefore)
		assert.Equal(t, reserved, e.ReservedBefore)
		onHand, reserved = e.QtyAfter, e.ReservedAfter
	}
	r := record(t, env.s, "P", "L")
	assert.Equal(t, r.QtyOnHand, onHand)
	assert.Equal(t, r.QtyReserved, reserved)
}
