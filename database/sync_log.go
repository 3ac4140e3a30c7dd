package database

import (
	"context"
	"database/sql"
	"encoding/json"
	"time"

	"github.com/shelfwise/shelfwise/internal/apierror"
	"github.com/shelfwise/shelfwise/model"
)

func (d Datasource) RecordSyncLog(ctx context.Context, log *model.IntegrationSyncLog) error {
	details, err := json.Marshal(log.ErrorDetails)
	if err != nil {
		return apierror.NewAPIError(apierror.ErrInternalServer, "Failed to marshal sync error details", err)
	}
	_, err = d.Conn.ExecContext(ctx, `
		INSERT INTO shelfwise.integration_sync_logs (log_id, integration_id, sync_type, direction, status, items_processed, items_failed, error_details, duration_ms, triggered_by, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
	`, log.ID, log.IntegrationID, log.SyncType, log.Direction, log.Status, log.ItemsProcessed, log.ItemsFailed,
		details, log.DurationMs, log.TriggeredBy, log.CreatedAt)
	if err != nil {
		return apierror.NewAPIError(apierror.ErrInternalServer, "Failed to record sync log", err)
	}
	return nil
}

func (d Datasource) GetSyncLogs(ctx context.Context, integrationID string, limit, offset int) ([]model.IntegrationSyncLog, error) {
	limit, offset = pageBounds(limit, offset)
	rows, err := d.Conn.QueryContext(ctx, `
		SELECT log_id, integration_id, sync_type, direction, status, items_processed, items_failed, error_details, duration_ms, triggered_by, created_at
		FROM shelfwise.integration_sync_logs
		WHERE integration_id = $1
		ORDER BY created_at DESC
		LIMIT $2 OFFSET $3
	`, integrationID, limit, offset)
	if err != nil {
		return nil, apierror.NewAPIError(apierror.ErrInternalServer, "Failed to retrieve sync logs", err)
	}
	defer rows.Close()

	logs := []model.IntegrationSyncLog{}
	for rows.Next() {
		var l model.IntegrationSyncLog
		var details []byte
		var triggeredBy sql.NullString
		err := rows.Scan(&l.ID, &l.IntegrationID, &l.SyncType, &l.Direction, &l.Status, &l.ItemsProcessed,
			&l.ItemsFailed, &details, &l.DurationMs, &triggeredBy, &l.CreatedAt)
		if err != nil {
			return nil, apierror.NewAPIError(apierror.ErrInternalServer, "Failed to scan sync log", err)
		}
		if len(details) > 0 {
			if err := json.Unmarshal(details, &l.ErrorDetails); err != nil {
				return nil, apierror.NewAPIError(apierror.ErrInternalServer, "Failed to unmarshal sync error details", err)
			}
		}
		l.TriggeredBy = triggeredBy.String
		logs = append(logs, l)
	}
	if err := rows.Err(); err != nil {
		return nil, apierror.NewAPIError(apierror.ErrInternalServer, "Error iterating sync logs", err)
	}
	return logs, nil
}

// DeleteSyncLogsBefore removes audit rows older than cutoff and reports how many went.
func (d Datasource) DeleteSyncLogsBefore(ctx context.Context, cutoff time.Time) (int64, error) {
	result, err := d.Conn.ExecContext(ctx, `
		DELETE FROM shelfwise.integration_sync_logs WHERE created_at < $1
	`, cutoff)
	if err != nil {
		return 0, apierror.NewAPIError(apierror.ErrInternalServer, "Failed to prune sync logs", err)
	}
	n, err := result.RowsAffected()
	if err != nil {
		return 0, apierror.NewAPIError(apierror.ErrInternalServer, "Failed to get rows affected", err)
	}
	return n, nil
}
