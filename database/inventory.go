/*
Copyright 2024 Shelfwise Authors.

Licensed under the Apache License, Version 2.0 (the "License");
you may not use this file except in compliance with the License.
You may obtain a copy of the License at

	http://www.apache.org/licenses/LICENSE-2.0

Unless required by applicable law or agreed to in writing, software
distributed under the License is distributed on an "AS IS" BASIS,
WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
See the License for the specific language governing permissions and
limitations under the License.
*/

package database

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/shelfwise/shelfwise/internal/apierror"
	"github.com/shelfwise/shelfwise/model"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
)

// ApplyTransaction locks the (product, location) row for the duration of one SQL
// transaction, so concurrent writers to the same key are serialized by Postgres and
// writers to different keys never contend.
func (d Datasource) ApplyTransaction(ctx context.Context, req model.TransactionRequest) (*model.LedgerEntry, error) {
	ctx, span := otel.Tracer("Inventory ledger").Start(ctx, "Applying inventory transaction")
	defer span.End()
	span.SetAttributes(
		attribute.String("product_id", req.ProductID),
		attribute.String("location_id", req.LocationID),
		attribute.String("transaction_type", string(req.Type)),
	)

	tx, err := d.Conn.BeginTx(ctx, &sql.TxOptions{Isolation: sql.LevelReadCommitted})
	if err != nil {
		return nil, apierror.NewAPIError(apierror.ErrInternalServer, "Failed to begin transaction", err)
	}
	defer func(tx *sql.Tx) {
		_ = tx.Rollback()
	}(tx)

	now := time.Now().UTC()

	_, err = tx.ExecContext(ctx, `
		INSERT INTO shelfwise.inventory_records (product_id, location_id, qty_on_hand, qty_reserved, updated_at)
		VALUES ($1, $2, 0, 0, $3)
		ON CONFLICT (product_id, location_id) DO NOTHING
	`, req.ProductID, req.LocationID, now)
	if err != nil {
		return nil, apierror.NewAPIError(apierror.ErrInternalServer, "Failed to initialise inventory record", err)
	}

	current := model.InventoryRecord{ProductID: req.ProductID, LocationID: req.LocationID}
	err = tx.QueryRowContext(ctx, `
		SELECT qty_on_hand, qty_reserved, updated_at
		FROM shelfwise.inventory_records
		WHERE product_id = $1 AND location_id = $2
		FOR UPDATE
	`, req.ProductID, req.LocationID).Scan(&current.QtyOnHand, &current.QtyReserved, &current.UpdatedAt)
	if err != nil {
		return nil, apierror.NewAPIError(apierror.ErrInternalServer, "Failed to lock inventory record", err)
	}

	entry, next, err := model.ComputeLedgerEntry(current, req, now)
	if err != nil {
		span.RecordError(err)
		return nil, InvariantViolation(err)
	}

	_, err = tx.ExecContext(ctx, `
		INSERT INTO shelfwise.ledger_entries (
			entry_id, product_id, location_id, transaction_type,
			qty_before, qty_change, qty_after,
			reserved_before, reserved_change, reserved_after,
			reference_type, reference_id, lot_id, reason, notes, performed_by, created_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17)
	`,
		entry.ID, entry.ProductID, entry.LocationID, entry.Type,
		entry.QtyBefore, entry.QtyChange, entry.QtyAfter,
		entry.ReservedBefore, entry.ReservedChange, entry.ReservedAfter,
		entry.ReferenceType, entry.ReferenceID, entry.LotID, entry.Reason, entry.Notes, entry.PerformedBy, entry.CreatedAt,
	)
	if err != nil {
		return nil, apierror.NewAPIError(apierror.ErrInternalServer, "Failed to record ledger entry", err)
	}

	_, err = tx.ExecContext(ctx, `
		UPDATE shelfwise.inventory_records
		SET qty_on_hand = $3, qty_reserved = $4, updated_at = $5
		WHERE product_id = $1 AND location_id = $2
	`, next.ProductID, next.LocationID, next.QtyOnHand, next.QtyReserved, next.UpdatedAt)
	if err != nil {
		return nil, apierror.NewAPIError(apierror.ErrInternalServer, "Failed to update inventory record", err)
	}

	if err := tx.Commit(); err != nil {
		return nil, apierror.NewAPIError(apierror.ErrInternalServer, "Failed to commit transaction", err)
	}

	return &entry, nil
}

// GetInventoryRecord returns a zero record when the pair has never been written.
func (d Datasource) GetInventoryRecord(ctx context.Context, productID, locationID string) (*model.InventoryRecord, error) {
	ctx, span := otel.Tracer("Inventory ledger").Start(ctx, "Fetching inventory record")
	defer span.End()

	record := &model.InventoryRecord{ProductID: productID, LocationID: locationID}
	err := d.Conn.QueryRowContext(ctx, `
		SELECT qty_on_hand, qty_reserved, updated_at
		FROM shelfwise.inventory_records
		WHERE product_id = $1 AND location_id = $2
	`, productID, locationID).Scan(&record.QtyOnHand, &record.QtyReserved, &record.UpdatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return record, nil
		}
		return nil, apierror.NewAPIError(apierror.ErrInternalServer, "Failed to retrieve inventory record", err)
	}
	return record, nil
}

func (d Datasource) GetLedgerEntries(ctx context.Context, productID, locationID string, limit, offset int) ([]model.LedgerEntry, error) {
	ctx, span := otel.Tracer("Inventory ledger").Start(ctx, "Fetching ledger entries")
	defer span.End()

	limit, offset = pageBounds(limit, offset)
	rows, err := d.Conn.QueryContext(ctx, `
		SELECT entry_id, product_id, location_id, transaction_type,
			qty_before, qty_change, qty_after,
			reserved_before, reserved_change, reserved_after,
			reference_type, reference_id, lot_id, reason, notes, performed_by, created_at
		FROM shelfwise.ledger_entries
		WHERE product_id = $1 AND location_id = $2
		ORDER BY id DESC
		LIMIT $3 OFFSET $4
	`, productID, locationID, limit, offset)
	if err != nil {
		return nil, apierror.NewAPIError(apierror.ErrInternalServer, "Failed to retrieve ledger entries", err)
	}
	defer rows.Close()

	entries := []model.LedgerEntry{}
	for rows.Next() {
		var entry model.LedgerEntry
		var refType, refID, lotID, reason, notes, performedBy sql.NullString
		err := rows.Scan(
			&entry.ID, &entry.ProductID, &entry.LocationID, &entry.Type,
			&entry.QtyBefore, &entry.QtyChange, &entry.QtyAfter,
			&entry.ReservedBefore, &entry.ReservedChange, &entry.ReservedAfter,
			&refType, &refID, &lotID, &reason, &notes, &performedBy, &entry.CreatedAt,
		)
		if err != nil {
			return nil, apierror.NewAPIError(apierror.ErrInternalServer, "Failed to scan ledger entry", err)
		}
		entry.ReferenceType = model.ReferenceType(refType.String)
		entry.ReferenceID = refID.String
		entry.Reason = reason.String
		entry.Notes = notes.String
		entry.PerformedBy = performedBy.String
		if lotID.Valid {
			lot := lotID.String
			entry.LotID = &lot
		}
		entries = append(entries, entry)
	}
	if err := rows.Err(); err != nil {
		return nil, apierror.NewAPIError(apierror.ErrInternalServer, "Error iterating ledger entries", err)
	}
	return entries, nil
}
