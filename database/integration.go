package database

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/shelfwise/shelfwise/internal/apierror"
	"github.com/shelfwise/shelfwise/model"
	"go.opentelemetry.io/otel"
)

// UpsertIntegration creates the connection for (platform, shop) or refreshes the
// credentials of an existing one, reactivating it.
func (d Datasource) UpsertIntegration(ctx context.Context, integration *model.Integration) (*model.Integration, error) {
	ctx, span := otel.Tracer("Integrations").Start(ctx, "Upserting integration")
	defer span.End()

	err := d.Conn.QueryRowContext(ctx, `
		INSERT INTO shelfwise.integrations (integration_id, owner_id, platform, shop_domain, access_token, scopes, default_location_id, active, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, TRUE, $8)
		ON CONFLICT (platform, shop_domain) DO UPDATE
		SET access_token = EXCLUDED.access_token,
			scopes = EXCLUDED.scopes,
			owner_id = EXCLUDED.owner_id,
			active = TRUE
		RETURNING integration_id, default_location_id, created_at
	`, integration.ID, integration.OwnerID, integration.Platform, integration.ShopDomain, integration.AccessToken,
		integration.Scopes, integration.DefaultLocationID, integration.CreatedAt,
	).Scan(&integration.ID, &integration.DefaultLocationID, &integration.CreatedAt)
	if err != nil {
		return nil, apierror.NewAPIError(apierror.ErrInternalServer, "Failed to save integration", err)
	}
	integration.Active = true
	return integration, nil
}

func (d Datasource) GetIntegration(ctx context.Context, id string) (*model.Integration, error) {
	ctx, span := otel.Tracer("Integrations").Start(ctx, "Fetching integration")
	defer span.End()

	integration := &model.Integration{}
	var scopes, defaultLocation sql.NullString
	var lastSynced sql.NullTime
	err := d.Conn.QueryRowContext(ctx, `
		SELECT integration_id, owner_id, platform, shop_domain, access_token, scopes, default_location_id, active, last_synced_at, created_at
		FROM shelfwise.integrations
		WHERE integration_id = $1
	`, id).Scan(
		&integration.ID, &integration.OwnerID, &integration.Platform, &integration.ShopDomain, &integration.AccessToken,
		&scopes, &defaultLocation, &integration.Active, &lastSynced, &integration.CreatedAt,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, notFound("Integration", id)
		}
		return nil, apierror.NewAPIError(apierror.ErrInternalServer, "Failed to retrieve integration", err)
	}
	integration.Scopes = scopes.String
	integration.DefaultLocationID = defaultLocation.String
	if lastSynced.Valid {
		integration.LastSyncedAt = &lastSynced.Time
	}
	return integration, nil
}

// ListActiveIntegrations returns active integrations without their access tokens.
func (d Datasource) ListActiveIntegrations(ctx context.Context) ([]model.Integration, error) {
	ctx, span := otel.Tracer("Integrations").Start(ctx, "Listing active integrations")
	defer span.End()

	rows, err := d.Conn.QueryContext(ctx, `
		SELECT integration_id, owner_id, platform, shop_domain, default_location_id, last_synced_at, created_at
		FROM shelfwise.integrations
		WHERE active = TRUE
		ORDER BY created_at ASC
	`)
	if err != nil {
		return nil, apierror.NewAPIError(apierror.ErrInternalServer, "Failed to list integrations", err)
	}
	defer rows.Close()

	var integrations []model.Integration
	for rows.Next() {
		var i model.Integration
		var defaultLocation sql.NullString
		var lastSynced sql.NullTime
		if err := rows.Scan(&i.ID, &i.OwnerID, &i.Platform, &i.ShopDomain, &defaultLocation, &lastSynced, &i.CreatedAt); err != nil {
			return nil, apierror.NewAPIError(apierror.ErrInternalServer, "Failed to scan integration", err)
		}
		i.DefaultLocationID = defaultLocation.String
		if lastSynced.Valid {
			i.LastSyncedAt = &lastSynced.Time
		}
		i.Active = true
		integrations = append(integrations, i)
	}
	if err := rows.Err(); err != nil {
		return nil, apierror.NewAPIError(apierror.ErrInternalServer, "Failed to list integrations", err)
	}
	return integrations, nil
}

func (d Datasource) SetIntegrationActive(ctx context.Context, id string, active bool) error {
	result, err := d.Conn.ExecContext(ctx, `
		UPDATE shelfwise.integrations SET active = $2 WHERE integration_id = $1
	`, id, active)
	if err != nil {
		return apierror.NewAPIError(apierror.ErrInternalServer, "Failed to update integration", err)
	}
	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return apierror.NewAPIError(apierror.ErrInternalServer, "Failed to get rows affected", err)
	}
	if rowsAffected == 0 {
		return notFound("Integration", id)
	}
	return nil
}

func (d Datasource) TouchIntegrationSync(ctx context.Context, id string, at time.Time) error {
	_, err := d.Conn.ExecContext(ctx, `
		UPDATE shelfwise.integrations SET last_synced_at = $2 WHERE integration_id = $1
	`, id, at)
	if err != nil {
		return apierror.NewAPIError(apierror.ErrInternalServer, "Failed to update integration sync time", err)
	}
	return nil
}

func (d Datasource) GetProductMapping(ctx context.Context, integrationID, sku string) (*model.ProductMapping, error) {
	mapping := &model.ProductMapping{}
	err := d.Conn.QueryRowContext(ctx, `
		SELECT integration_id, sku, product_id
		FROM shelfwise.product_mappings
		WHERE integration_id = $1 AND sku = $2
	`, integrationID, sku).Scan(&mapping.IntegrationID, &mapping.SKU, &mapping.ProductID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, notFound("Product mapping", sku)
		}
		return nil, apierror.NewAPIError(apierror.ErrInternalServer, "Failed to retrieve product mapping", err)
	}
	return mapping, nil
}

func (d Datasource) GetProductMappings(ctx context.Context, integrationID string) ([]model.ProductMapping, error) {
	rows, err := d.Conn.QueryContext(ctx, `
		SELECT integration_id, sku, product_id
		FROM shelfwise.product_mappings
		WHERE integration_id = $1
		ORDER BY sku ASC
	`, integrationID)
	if err != nil {
		return nil, apierror.NewAPIError(apierror.ErrInternalServer, "Failed to retrieve product mappings", err)
	}
	defer rows.Close()

	mappings := []model.ProductMapping{}
	for rows.Next() {
		var m model.ProductMapping
		if err := rows.Scan(&m.IntegrationID, &m.SKU, &m.ProductID); err != nil {
			return nil, apierror.NewAPIError(apierror.ErrInternalServer, "Failed to scan product mapping", err)
		}
		mappings = append(mappings, m)
	}
	return mappings, rows.Err()
}
