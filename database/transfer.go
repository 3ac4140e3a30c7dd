package database

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/shelfwise/shelfwise/internal/apierror"
	"github.com/shelfwise/shelfwise/model"
	"go.opentelemetry.io/otel"
)

// CreateTransfer stores the transfer header and its items in one transaction.
func (d Datasource) CreateTransfer(ctx context.Context, transfer *model.StockTransfer) error {
	ctx, span := otel.Tracer("Stock transfer").Start(ctx, "Saving stock transfer to db")
	defer span.End()

	tx, err := d.Conn.BeginTx(ctx, nil)
	if err != nil {
		return apierror.NewAPIError(apierror.ErrInternalServer, "Failed to begin transaction", err)
	}
	defer func(tx *sql.Tx) {
		_ = tx.Rollback()
	}(tx)

	_, err = tx.ExecContext(ctx, `
		INSERT INTO shelfwise.stock_transfers (transfer_id, transfer_number, from_location_id, to_location_id, status, created_by, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
	`, transfer.ID, transfer.TransferNumber, transfer.FromLocationID, transfer.ToLocationID, transfer.Status, transfer.CreatedBy, transfer.CreatedAt)
	if err != nil {
		if isUniqueViolation(err) {
			return apierror.NewAPIError(apierror.ErrConflict, fmt.Sprintf("Transfer number '%s' already exists", transfer.TransferNumber), err)
		}
		return apierror.NewAPIError(apierror.ErrInternalServer, "Failed to create stock transfer", err)
	}

	for _, item := range transfer.Items {
		_, err = tx.ExecContext(ctx, `
			INSERT INTO shelfwise.stock_transfer_items (item_id, transfer_id, product_id, qty_requested, qty_transferred)
			VALUES ($1, $2, $3, $4, $5)
		`, item.ID, transfer.ID, item.ProductID, item.QtyRequested, item.QtyTransferred)
		if err != nil {
			if isUniqueViolation(err) {
				return apierror.NewAPIError(apierror.ErrConflict, fmt.Sprintf("Product '%s' appears more than once in transfer", item.ProductID), err)
			}
			return apierror.NewAPIError(apierror.ErrInternalServer, "Failed to create stock transfer item", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return apierror.NewAPIError(apierror.ErrInternalServer, "Failed to commit transaction", err)
	}
	return nil
}

func (d Datasource) GetTransfer(ctx context.Context, id string) (*model.StockTransfer, error) {
	ctx, span := otel.Tracer("Stock transfer").Start(ctx, "Fetching stock transfer from db")
	defer span.End()

	transfer := &model.StockTransfer{}
	var createdBy, completedBy sql.NullString
	var completedAt sql.NullTime
	err := d.Conn.QueryRowContext(ctx, `
		SELECT transfer_id, transfer_number, from_location_id, to_location_id, status, created_by, created_at, completed_at, completed_by
		FROM shelfwise.stock_transfers
		WHERE transfer_id = $1
	`, id).Scan(
		&transfer.ID, &transfer.TransferNumber, &transfer.FromLocationID, &transfer.ToLocationID,
		&transfer.Status, &createdBy, &transfer.CreatedAt, &completedAt, &completedBy,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, notFound("Transfer", id)
		}
		return nil, apierror.NewAPIError(apierror.ErrInternalServer, "Failed to retrieve stock transfer", err)
	}
	transfer.CreatedBy = createdBy.String
	transfer.CompletedBy = completedBy.String
	if completedAt.Valid {
		transfer.CompletedAt = &completedAt.Time
	}

	rows, err := d.Conn.QueryContext(ctx, `
		SELECT item_id, transfer_id, product_id, qty_requested, qty_transferred
		FROM shelfwise.stock_transfer_items
		WHERE transfer_id = $1
		ORDER BY id ASC
	`, id)
	if err != nil {
		return nil, apierror.NewAPIError(apierror.ErrInternalServer, "Failed to retrieve stock transfer items", err)
	}
	defer rows.Close()

	for rows.Next() {
		var item model.StockTransferItem
		if err := rows.Scan(&item.ID, &item.TransferID, &item.ProductID, &item.QtyRequested, &item.QtyTransferred); err != nil {
			return nil, apierror.NewAPIError(apierror.ErrInternalServer, "Failed to scan stock transfer item", err)
		}
		transfer.Items = append(transfer.Items, item)
	}
	if err := rows.Err(); err != nil {
		return nil, apierror.NewAPIError(apierror.ErrInternalServer, "Error iterating stock transfer items", err)
	}
	return transfer, nil
}

func (d Datasource) UpdateTransferItem(ctx context.Context, itemID string, qtyTransferred int64) error {
	ctx, span := otel.Tracer("Stock transfer").Start(ctx, "Updating stock transfer item")
	defer span.End()

	result, err := d.Conn.ExecContext(ctx, `
		UPDATE shelfwise.stock_transfer_items SET qty_transferred = $2 WHERE item_id = $1
	`, itemID, qtyTransferred)
	if err != nil {
		return apierror.NewAPIError(apierror.ErrInternalServer, "Failed to update stock transfer item", err)
	}
	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return apierror.NewAPIError(apierror.ErrInternalServer, "Failed to get rows affected", err)
	}
	if rowsAffected == 0 {
		return notFound("Transfer item", itemID)
	}
	return nil
}

func (d Datasource) UpdateTransferStatus(ctx context.Context, id string, from, to model.TransferStatus, by string, at time.Time) error {
	ctx, span := otel.Tracer("Stock transfer").Start(ctx, "Updating stock transfer status")
	defer span.End()

	var completedAt sql.NullTime
	var completedBy sql.NullString
	if to == model.TransferCompleted {
		completedAt = sql.NullTime{Time: at, Valid: true}
		completedBy = sql.NullString{String: by, Valid: by != ""}
	}

	result, err := d.Conn.ExecContext(ctx, `
		UPDATE shelfwise.stock_transfers
		SET status = $3, completed_at = $4, completed_by = $5
		WHERE transfer_id = $1 AND status = $2
	`, id, from, to, completedAt, completedBy)
	if err != nil {
		return apierror.NewAPIError(apierror.ErrInternalServer, "Failed to update stock transfer status", err)
	}
	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return apierror.NewAPIError(apierror.ErrInternalServer, "Failed to get rows affected", err)
	}
	if rowsAffected == 0 {
		return apierror.NewAPIError(apierror.ErrConflict, fmt.Sprintf("Transfer '%s' is not %s", id, from), nil)
	}
	return nil
}

func (d Datasource) CountPendingTransfersForLocation(ctx context.Context, locationID string) (int, error) {
	var count int
	err := d.Conn.QueryRowContext(ctx, `
		SELECT COUNT(*) FROM shelfwise.stock_transfers
		WHERE status = 'pending' AND (from_location_id = $1 OR to_location_id = $1)
	`, locationID).Scan(&count)
	if err != nil {
		return 0, apierror.NewAPIError(apierror.ErrInternalServer, "Failed to count pending transfers", err)
	}
	return count, nil
}
