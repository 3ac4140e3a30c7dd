package database

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/shelfwise/shelfwise/internal/apierror"
	"github.com/shelfwise/shelfwise/model"
	"go.opentelemetry.io/otel"
)

// CreateOrder fails with a conflict when the platform order was already imported.
func (d Datasource) CreateOrder(ctx context.Context, order *model.Order) error {
	ctx, span := otel.Tracer("Orders").Start(ctx, "Saving order to db")
	defer span.End()

	linesJSON, notesJSON, err := marshalOrderDetails(order)
	if err != nil {
		return err
	}

	_, err = d.Conn.ExecContext(ctx, `
		INSERT INTO shelfwise.orders (order_id, integration_id, external_id, order_number, status, location_id, lines, notes, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
	`, order.ID, order.IntegrationID, order.ExternalID, order.OrderNumber, order.Status, order.LocationID,
		linesJSON, notesJSON, order.CreatedAt, order.UpdatedAt)
	if err != nil {
		if isUniqueViolation(err) {
			return apierror.NewAPIError(apierror.ErrConflict, fmt.Sprintf("Order '%s' already imported", order.ExternalID), err)
		}
		return apierror.NewAPIError(apierror.ErrInternalServer, "Failed to create order", err)
	}
	return nil
}

func (d Datasource) GetOrderByExternalID(ctx context.Context, integrationID, externalID string) (*model.Order, error) {
	ctx, span := otel.Tracer("Orders").Start(ctx, "Fetching order by external id")
	defer span.End()

	order := &model.Order{}
	var orderNumber, locationID sql.NullString
	var linesJSON, notesJSON []byte
	err := d.Conn.QueryRowContext(ctx, `
		SELECT order_id, integration_id, external_id, order_number, status, location_id, lines, notes, created_at, updated_at
		FROM shelfwise.orders
		WHERE integration_id = $1 AND external_id = $2
	`, integrationID, externalID).Scan(
		&order.ID, &order.IntegrationID, &order.ExternalID, &orderNumber, &order.Status, &locationID,
		&linesJSON, &notesJSON, &order.CreatedAt, &order.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, notFound("Order", externalID)
		}
		return nil, apierror.NewAPIError(apierror.ErrInternalServer, "Failed to retrieve order", err)
	}
	order.OrderNumber = orderNumber.String
	order.LocationID = locationID.String

	if err := json.Unmarshal(linesJSON, &order.Lines); err != nil {
		return nil, apierror.NewAPIError(apierror.ErrInternalServer, "Failed to unmarshal order lines", err)
	}
	if err := json.Unmarshal(notesJSON, &order.Notes); err != nil {
		return nil, apierror.NewAPIError(apierror.ErrInternalServer, "Failed to unmarshal order notes", err)
	}
	return order, nil
}

func (d Datasource) UpdateOrder(ctx context.Context, order *model.Order) error {
	ctx, span := otel.Tracer("Orders").Start(ctx, "Updating order")
	defer span.End()

	linesJSON, notesJSON, err := marshalOrderDetails(order)
	if err != nil {
		return err
	}

	result, err := d.Conn.ExecContext(ctx, `
		UPDATE shelfwise.orders
		SET status = $2, location_id = $3, lines = $4, notes = $5, updated_at = $6
		WHERE order_id = $1
	`, order.ID, order.Status, order.LocationID, linesJSON, notesJSON, order.UpdatedAt)
	if err != nil {
		return apierror.NewAPIError(apierror.ErrInternalServer, "Failed to update order", err)
	}
	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return apierror.NewAPIError(apierror.ErrInternalServer, "Failed to get rows affected", err)
	}
	if rowsAffected == 0 {
		return notFound("Order", order.ID)
	}
	return nil
}

func marshalOrderDetails(order *model.Order) ([]byte, []byte, error) {
	lines := order.Lines
	if lines == nil {
		lines = []model.OrderLine{}
	}
	notes := order.Notes
	if notes == nil {
		notes = []string{}
	}
	linesJSON, err := json.Marshal(lines)
	if err != nil {
		return nil, nil, apierror.NewAPIError(apierror.ErrInternalServer, "Failed to marshal order lines", err)
	}
	notesJSON, err := json.Marshal(notes)
	if err != nil {
		return nil, nil, apierror.NewAPIError(apierror.ErrInternalServer, "Failed to marshal order notes", err)
	}
	return linesJSON, notesJSON, nil
}
