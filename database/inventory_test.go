package database

import (
	"context"
	"errors"
	"regexp"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/shelfwise/shelfwise/internal/apierror"
	"github.com/shelfwise/shelfwise/model"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var lockRecordQuery = regexp.QuoteMeta(`SELECT qty_on_hand, qty_reserved, updated_at FROM shelfwise.inventory_records WHERE product_id = $1 AND location_id = $2 FOR UPDATE`)

func TestApplyTransaction_Success(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	ds := Datasource{Conn: db}

	mock.ExpectBegin()
	mock.ExpectExec("INSERT INTO shelfwise.inventory_records").
		WithArgs("prod-1", "loc-1", sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectQuery(lockRecordQuery).
		WithArgs("prod-1", "loc-1").
		WillReturnRows(sqlmock.NewRows([]string{"qty_on_hand", "qty_reserved", "updated_at"}).AddRow(10, 2, time.Now()))
	mock.ExpectExec("INSERT INTO shelfwise.ledger_entries").
		WillReturnResult(sqlmock.NewResult(1, 1))
	mock.ExpectExec("UPDATE shelfwise.inventory_records").
		WithArgs("prod-1", "loc-1", int64(15), int64(2), sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	entry, err := ds.ApplyTransaction(context.Background(), model.TransactionRequest{
		ProductID:     "prod-1",
		LocationID:    "loc-1",
		QtyChange:     5,
		Type:          model.TransactionReceive,
		ReferenceType: model.ReferenceInboundOrder,
		ReferenceID:   "po-7",
	})
	require.NoError(t, err)
	assert.Equal(t, int64(10), entry.QtyBefore)
	assert.Equal(t, int64(15), entry.QtyAfter)
	assert.Equal(t, int64(2), entry.ReservedAfter)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestApplyTransaction_InsufficientQuantity(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	ds := Datasource{Conn: db}

	mock.ExpectBegin()
	mock.ExpectExec("INSERT INTO shelfwise.inventory_records").
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectQuery(lockRecordQuery).
		WillReturnRows(sqlmock.NewRows([]string{"qty_on_hand", "qty_reserved", "updated_at"}).AddRow(3, 0, time.Now()))
	mock.ExpectRollback()

	_, err = ds.ApplyTransaction(context.Background(), model.TransactionRequest{
		ProductID:  "prod-1",
		LocationID: "loc-1",
		QtyChange:  -4,
		Type:       model.TransactionAdjust,
	})
	require.Error(t, err)
	assert.True(t, apierror.HasCode(err, apierror.ErrInsufficientQuantity))
	assert.True(t, errors.Is(err, model.ErrInsufficientQuantity))

	var apiErr apierror.APIError
	require.True(t, errors.As(err, &apiErr))
	details, ok := apiErr.Details.(*model.InvariantError)
	require.True(t, ok)
	assert.Equal(t, "qty_on_hand", details.Field)
	assert.Equal(t, int64(-1), details.After)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestApplyTransaction_InvalidReservation(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	ds := Datasource{Conn: db}

	mock.ExpectBegin()
	mock.ExpectExec("INSERT INTO shelfwise.inventory_records").
		WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectQuery(lockRecordQuery).
		WillReturnRows(sqlmock.NewRows([]string{"qty_on_hand", "qty_reserved", "updated_at"}).AddRow(5, 4, time.Now()))
	mock.ExpectRollback()

	_, err = ds.ApplyTransaction(context.Background(), model.TransactionRequest{
		ProductID:      "prod-1",
		LocationID:     "loc-1",
		ReservedChange: 2,
		Type:           model.TransactionReserve,
	})
	assert.True(t, apierror.HasCode(err, apierror.ErrInvalidReservation))
	assert.Equal(t, 422, apierror.MapErrorToHTTPStatus(err))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestGetInventoryRecord_Missing(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	ds := Datasource{Conn: db}

	mock.ExpectQuery("SELECT qty_on_hand, qty_reserved, updated_at FROM shelfwise.inventory_records").
		WithArgs("prod-9", "loc-9").
		WillReturnRows(sqlmock.NewRows([]string{"qty_on_hand", "qty_reserved", "updated_at"}))

	record, err := ds.GetInventoryRecord(context.Background(), "prod-9", "loc-9")
	require.NoError(t, err)
	assert.Equal(t, int64(0), record.QtyOnHand)
	assert.Equal(t, int64(0), record.QtyReserved)
	assert.Equal(t, "prod-9", record.ProductID)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestGetLedgerEntries(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	ds := Datasource{Conn: db}

	cols := []string{"entry_id", "product_id", "location_id", "transaction_type", "qty_before", "qty_change", "qty_after",
		"reserved_before", "reserved_change", "reserved_after", "reference_type", "reference_id", "lot_id", "reason",
		"notes", "performed_by", "created_at"}
	mock.ExpectQuery("FROM shelfwise.ledger_entries").
		WithArgs("prod-1", "loc-1", defaultPageSize, 0).
		WillReturnRows(sqlmock.NewRows(cols).
			AddRow("led_2", "prod-1", "loc-1", "reserve", 10, 0, 10, 0, 3, 3, "outbound_order", "ord-1", nil, "", "", "system", time.Now()).
			AddRow("led_1", "prod-1", "loc-1", "receive", 0, 10, 10, 0, 0, 0, "inbound_order", "po-1", "lot-4", "", "", "alice", time.Now()))

	entries, err := ds.GetLedgerEntries(context.Background(), "prod-1", "loc-1", 0, -3)
	require.NoError(t, err)
	require.Len(t, entries, 2)
	assert.Equal(t, model.TransactionReserve, entries[0].Type)
	assert.Nil(t, entries[0].LotID)
	require.NotNil(t, entries[1].LotID)
	assert.Equal(t, "lot-4", *entries[1].LotID)
	assert.NoError(t, mock.ExpectationsWereMet())
}
