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

// RecordWebhookEvent inserts the event; a second insert of the same event id is a conflict.
func (d Datasource) RecordWebhookEvent(ctx context.Context, event *model.WebhookEvent) error {
	ctx, span := otel.Tracer("Webhook events").Start(ctx, "Recording webhook event")
	defer span.End()

	payload := []byte(event.Payload)
	if len(payload) == 0 {
		payload = nil
	}
	_, err := d.Conn.ExecContext(ctx, `
		INSERT INTO shelfwise.webhook_events (event_id, integration_id, platform, event_type, payload, status, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
	`, event.EventID, event.IntegrationID, event.Platform, event.EventType, payload, event.Status, event.CreatedAt, event.UpdatedAt)
	if err != nil {
		if isUniqueViolation(err) {
			return apierror.NewAPIError(apierror.ErrConflict, fmt.Sprintf("Webhook event '%s' already recorded", event.EventID), err)
		}
		return apierror.NewAPIError(apierror.ErrInternalServer, "Failed to record webhook event", err)
	}
	return nil
}

func (d Datasource) WebhookEventExists(ctx context.Context, eventID string) (bool, error) {
	var exists bool
	err := d.Conn.QueryRowContext(ctx, `
		SELECT EXISTS(SELECT 1 FROM shelfwise.webhook_events WHERE event_id = $1)
	`, eventID).Scan(&exists)
	if err != nil {
		return false, apierror.NewAPIError(apierror.ErrInternalServer, "Failed to check webhook event", err)
	}
	return exists, nil
}

func (d Datasource) GetWebhookEvent(ctx context.Context, eventID string) (*model.WebhookEvent, error) {
	row := d.Conn.QueryRowContext(ctx, `
		SELECT event_id, integration_id, platform, event_type, payload, status, error_message, created_at, updated_at, processed_at
		FROM shelfwise.webhook_events
		WHERE event_id = $1
	`, eventID)
	event, err := scanWebhookEvent(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, notFound("Webhook event", eventID)
		}
		return nil, apierror.NewAPIError(apierror.ErrInternalServer, "Failed to retrieve webhook event", err)
	}
	return event, nil
}

func (d Datasource) UpdateWebhookEventStatus(ctx context.Context, eventID string, status model.WebhookStatus, errorMessage string) error {
	ctx, span := otel.Tracer("Webhook events").Start(ctx, "Updating webhook event status")
	defer span.End()

	now := time.Now().UTC()
	var processedAt sql.NullTime
	if status != model.WebhookProcessing {
		processedAt = sql.NullTime{Time: now, Valid: true}
	}
	var errMsg sql.NullString
	if errorMessage != "" {
		errMsg = sql.NullString{String: errorMessage, Valid: true}
	}

	result, err := d.Conn.ExecContext(ctx, `
		UPDATE shelfwise.webhook_events
		SET status = $2, error_message = $3, updated_at = $4, processed_at = $5
		WHERE event_id = $1
	`, eventID, status, errMsg, now, processedAt)
	if err != nil {
		return apierror.NewAPIError(apierror.ErrInternalServer, "Failed to update webhook event", err)
	}
	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return apierror.NewAPIError(apierror.ErrInternalServer, "Failed to get rows affected", err)
	}
	if rowsAffected == 0 {
		return notFound("Webhook event", eventID)
	}
	return nil
}

// ListWebhookEvents returns newest first. An empty status lists every event.
func (d Datasource) ListWebhookEvents(ctx context.Context, status model.WebhookStatus, limit, offset int) ([]model.WebhookEvent, error) {
	limit, offset = pageBounds(limit, offset)
	rows, err := d.Conn.QueryContext(ctx, `
		SELECT event_id, integration_id, platform, event_type, payload, status, error_message, created_at, updated_at, processed_at
		FROM shelfwise.webhook_events
		WHERE ($1::text = '' OR status = $1::text)
		ORDER BY created_at DESC
		LIMIT $2 OFFSET $3
	`, string(status), limit, offset)
	if err != nil {
		return nil, apierror.NewAPIError(apierror.ErrInternalServer, "Failed to list webhook events", err)
	}
	defer rows.Close()

	events := []model.WebhookEvent{}
	for rows.Next() {
		event, err := scanWebhookEvent(rows)
		if err != nil {
			return nil, apierror.NewAPIError(apierror.ErrInternalServer, "Failed to scan webhook event", err)
		}
		events = append(events, *event)
	}
	if err := rows.Err(); err != nil {
		return nil, apierror.NewAPIError(apierror.ErrInternalServer, "Error iterating webhook events", err)
	}
	return events, nil
}

type scanner interface {
	Scan(dest ...interface{}) error
}

func scanWebhookEvent(row scanner) (*model.WebhookEvent, error) {
	event := &model.WebhookEvent{}
	var payload []byte
	var errMsg sql.NullString
	var processedAt sql.NullTime
	err := row.Scan(
		&event.EventID, &event.IntegrationID, &event.Platform, &event.EventType, &payload,
		&event.Status, &errMsg, &event.CreatedAt, &event.UpdatedAt, &processedAt,
	)
	if err != nil {
		return nil, err
	}
	event.Payload = payload
	event.ErrorMessage = errMsg.String
	if processedAt.Valid {
		event.ProcessedAt = &processedAt.Time
	}
	return event, nil
}
