package shelfwise

import (
	"context"
	"crypto/subtle"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/shelfwise/shelfwise/internal/apierror"
	"github.com/shelfwise/shelfwise/internal/notification"
	"github.com/shelfwise/shelfwise/internal/platform"
	"github.com/shelfwise/shelfwise/internal/tokenization"
	"github.com/shelfwise/shelfwise/model"
	"github.com/sirupsen/logrus"
	"go.opentelemetry.io/otel"
)

const (
	SyncTypeOrders    = "orders"
	SyncTypeInventory = "inventory"

	defaultSyncLookback = 24 * time.Hour
)

// OAuthState is the caller context carried through the platform redirect, base64 JSON
// encoded after the nonce in the state parameter.
type OAuthState struct {
	OwnerID           string `json:"owner_id,omitempty"`
	DefaultLocationID string `json:"default_location_id,omitempty"`
	ReturnTo          string `json:"return_to,omitempty"`
}

type OAuthStart struct {
	RedirectURL string
	Nonce       string
}

// BeginOAuth builds the platform authorize URL. The returned nonce must be stored
// client side (a short lived cookie) and presented again to CompleteOAuth.
func (s *Shelfwise) BeginOAuth(platformName, shop, state string) (*OAuthStart, error) {
	api, err := s.platform(platformName)
	if err != nil {
		return nil, err
	}
	shop, err = platform.NormalizeShopDomain(shop)
	if err != nil {
		return nil, apierror.NewAPIError(apierror.ErrInvalidInput, "shop must be a bare shop domain", err)
	}
	if state != "" {
		if _, err := decodeOAuthState(state); err != nil {
			return nil, apierror.NewAPIError(apierror.ErrInvalidInput, "state must be base64 encoded JSON", err)
		}
	}

	nonce := strings.ReplaceAll(uuid.NewString(), "-", "")
	fullState := nonce
	if state != "" {
		fullState = nonce + "." + state
	}
	return &OAuthStart{RedirectURL: api.AuthorizeURL(shop, fullState), Nonce: nonce}, nil
}

func decodeOAuthState(raw string) (OAuthState, error) {
	var st OAuthState
	decoded, err := base64.URLEncoding.DecodeString(raw)
	if err != nil {
		if decoded, err = base64.RawURLEncoding.DecodeString(raw); err != nil {
			return st, err
		}
	}
	err = json.Unmarshal(decoded, &st)
	return st, err
}

// CompleteOAuth handles the platform callback: it checks the query signature and the
// nonce, exchanges the code for an access token and stores the integration with the
// token encrypted.
func (s *Shelfwise) CompleteOAuth(ctx context.Context, platformName string, query url.Values, cookieNonce, ownerID string) (*model.Integration, error) {
	ctx, span := otel.Tracer("shelfwise.integration").Start(ctx, "CompleteOAuth")
	defer span.End()

	platformName = normalizePlatform(platformName)
	api, err := s.platform(platformName)
	if err != nil {
		return nil, err
	}
	ic, _ := s.conf.Integration(platformName)
	if !tokenization.VerifyQuerySignature(ic.ClientSecret, query) {
		return nil, apierror.NewAPIError(apierror.ErrUnauthorized, "OAuth callback signature is invalid", nil)
	}

	nonce, rawState, _ := strings.Cut(query.Get("state"), ".")
	if nonce == "" || cookieNonce == "" || subtle.ConstantTimeCompare([]byte(nonce), []byte(cookieNonce)) != 1 {
		return nil, apierror.NewAPIError(apierror.ErrUnauthorized, "OAuth state does not match", nil)
	}

	shop, err := platform.NormalizeShopDomain(query.Get("shop"))
	if err != nil {
		return nil, apierror.NewAPIError(apierror.ErrInvalidInput, "shop must be a bare shop domain", err)
	}
	code := query.Get("code")
	if code == "" {
		return nil, apierror.NewAPIError(apierror.ErrInvalidInput, "code is required", nil)
	}

	var state OAuthState
	if rawState != "" {
		if state, err = decodeOAuthState(rawState); err != nil {
			return nil, apierror.NewAPIError(apierror.ErrInvalidInput, "state must be base64 encoded JSON", err)
		}
	}
	if ownerID == "" {
		ownerID = state.OwnerID
	}

	if s.vault == nil {
		return nil, apierror.NewAPIError(apierror.ErrInternalServer, "Encryption key is not configured", nil)
	}

	token, err := api.ExchangeCode(ctx, shop, code)
	if err != nil {
		span.RecordError(err)
		return nil, apierror.NewAPIError(apierror.ErrBadRequest, "Failed to exchange authorization code", err)
	}
	sealed, err := s.vault.Encrypt(token.Token)
	if err != nil {
		return nil, apierror.NewAPIError(apierror.ErrInternalServer, "Failed to encrypt access token", err)
	}

	integration, err := s.datasource.UpsertIntegration(ctx, &model.Integration{
		ID:                model.GenerateUUIDWithSuffix("int"),
		OwnerID:           ownerID,
		Platform:          platformName,
		ShopDomain:        shop,
		AccessToken:       sealed,
		Scopes:            token.Scope,
		DefaultLocationID: state.DefaultLocationID,
		Active:            true,
		CreatedAt:         s.now().UTC(),
	})
	if err != nil {
		return nil, err
	}
	s.invalidateIntegration(ctx, integration.ID)

	s.logger.WithFields(logrus.Fields{
		"integration_id": integration.ID,
		"platform":       platformName,
		"shop_domain":    shop,
		"token":          tokenization.Mask(token.Token),
	}).Info("integration connected")
	return integration, nil
}

// ownedIntegration loads an integration and checks the caller owns it. An empty
// callerID is used by the scheduler and skips the check.
func (s *Shelfwise) ownedIntegration(ctx context.Context, integrationID, callerID string) (*model.Integration, error) {
	integration, err := s.datasource.GetIntegration(ctx, integrationID)
	if err != nil {
		return nil, err
	}
	if callerID != "" && integration.OwnerID != callerID {
		return nil, apierror.NewAPIError(apierror.ErrForbidden, "You do not have access to this integration", nil)
	}
	return integration, nil
}

func (s *Shelfwise) activeSession(ctx context.Context, integrationID, callerID string) (*model.Integration, platform.API, string, error) {
	integration, err := s.ownedIntegration(ctx, integrationID, callerID)
	if err != nil {
		return nil, nil, "", err
	}
	if !integration.Active {
		return nil, nil, "", apierror.NewAPIError(apierror.ErrConflict, fmt.Sprintf("Integration '%s' is inactive", integrationID), nil)
	}
	api, err := s.platform(integration.Platform)
	if err != nil {
		return nil, nil, "", err
	}
	if s.vault == nil {
		return nil, nil, "", apierror.NewAPIError(apierror.ErrInternalServer, "Encryption key is not configured", nil)
	}
	token, err := s.vault.Decrypt(integration.AccessToken)
	if err != nil {
		return nil, nil, "", apierror.NewAPIError(apierror.ErrInternalServer, "Failed to decrypt access token", err)
	}
	return integration, api, token, nil
}

type syncRun struct {
	s           *Shelfwise
	integration *model.Integration
	log         *model.IntegrationSyncLog
	started     time.Time
}

func (s *Shelfwise) startSync(integration *model.Integration, syncType, direction, triggeredBy string) *syncRun {
	return &syncRun{
		s:           s,
		integration: integration,
		started:     s.now(),
		log: &model.IntegrationSyncLog{
			ID:            model.GenerateUUIDWithSuffix("syn"),
			IntegrationID: integration.ID,
			SyncType:      syncType,
			Direction:     direction,
			TriggeredBy:   triggeredBy,
			ErrorDetails:  []string{},
		},
	}
}

func (r *syncRun) fail(detail string) {
	r.log.ItemsFailed++
	r.log.ErrorDetails = append(r.log.ErrorDetails, detail)
}

// finish records the sync log. A non-nil batchErr marks the whole run failed
// regardless of item counts.
func (r *syncRun) finish(ctx context.Context, batchErr error) *model.IntegrationSyncLog {
	s := r.s
	r.log.Status = model.DeriveSyncStatus(r.log.ItemsProcessed, r.log.ItemsFailed)
	if batchErr != nil {
		r.log.Status = model.SyncFailed
		r.log.ErrorDetails = append(r.log.ErrorDetails, batchErr.Error())
	}
	end := s.now()
	r.log.DurationMs = end.Sub(r.started).Milliseconds()
	r.log.CreatedAt = end.UTC()

	ctx = context.WithoutCancel(ctx)
	if err := s.datasource.RecordSyncLog(ctx, r.log); err != nil {
		s.logger.WithError(err).WithField("integration_id", r.integration.ID).Error("failed to record sync log")
	}
	s.metrics.SyncRun(r.log.SyncType, string(r.log.Status))

	fields := logrus.Fields{
		"integration_id":  r.integration.ID,
		"sync_type":       r.log.SyncType,
		"status":          r.log.Status,
		"items_processed": r.log.ItemsProcessed,
		"items_failed":    r.log.ItemsFailed,
		"duration_ms":     r.log.DurationMs,
	}
	if r.log.Status == model.SyncFailed {
		s.logger.WithFields(fields).Error("sync failed")
		s.notifier.Notify(notification.EventSyncFailed, map[string]interface{}{
			"integration_id": r.integration.ID,
			"sync_type":      r.log.SyncType,
			"errors":         strings.Join(r.log.ErrorDetails, "; "),
		})
	} else {
		s.logger.WithFields(fields).Info("sync finished")
	}
	return r.log
}

// SyncOrders pulls orders updated since the given time (default: the last sync, or a
// day back) and feeds each through the reconciler. Platform errors are recorded in the
// sync log and returned; nothing is retried automatically.
func (s *Shelfwise) SyncOrders(ctx context.Context, integrationID, callerID string, since time.Time, triggeredBy string) (*model.IntegrationSyncLog, error) {
	ctx, span := otel.Tracer("shelfwise.integration").Start(ctx, "SyncOrders")
	defer span.End()

	integration, api, token, err := s.activeSession(ctx, integrationID, callerID)
	if err != nil {
		return nil, err
	}
	if since.IsZero() {
		since = s.now().Add(-defaultSyncLookback)
		if integration.LastSyncedAt != nil {
			since = *integration.LastSyncedAt
		}
	}

	run := s.startSync(integration, SyncTypeOrders, "inbound", triggeredBy)
	orders, err := api.FetchOrders(ctx, integration.ShopDomain, token, since)
	if err != nil {
		span.RecordError(err)
		log := run.finish(ctx, err)
		if errors.Is(err, platform.ErrUnauthorized) {
			return log, apierror.NewAPIError(apierror.ErrUnauthorized, "Platform rejected the integration's access token", err)
		}
		return log, apierror.NewAPIError(apierror.ErrBadRequest, "Platform order fetch failed", err)
	}

	for i := range orders {
		po := &orders[i]
		var err error
		if po.CancelledAt != nil {
			err = s.OnOrderCancelled(ctx, integration, po)
		} else {
			err = s.OnOrderCreated(ctx, integration, po)
		}
		if err != nil {
			run.fail(fmt.Sprintf("order %s: %s", po.ID.String(), err.Error()))
			continue
		}
		run.log.ItemsProcessed++
	}

	if run.log.ItemsProcessed > 0 || run.log.ItemsFailed == 0 {
		if err := s.datasource.TouchIntegrationSync(ctx, integration.ID, run.started.UTC()); err != nil {
			s.logger.WithError(err).WithField("integration_id", integration.ID).Warn("failed to update last synced time")
		}
	}
	return run.finish(ctx, nil), nil
}

// SyncInventory pushes available quantity at the integration's default location for
// every mapped product.
func (s *Shelfwise) SyncInventory(ctx context.Context, integrationID, callerID, triggeredBy string) (*model.IntegrationSyncLog, error) {
	ctx, span := otel.Tracer("shelfwise.integration").Start(ctx, "SyncInventory")
	defer span.End()

	integration, api, token, err := s.activeSession(ctx, integrationID, callerID)
	if err != nil {
		return nil, err
	}
	if integration.DefaultLocationID == "" {
		return nil, apierror.NewAPIError(apierror.ErrBadRequest, fmt.Sprintf("Integration '%s' has no default location", integration.ID), nil)
	}
	mappings, err := s.datasource.GetProductMappings(ctx, integration.ID)
	if err != nil {
		return nil, err
	}

	run := s.startSync(integration, SyncTypeInventory, "outbound", triggeredBy)
	levels := make([]platform.InventoryLevel, 0, len(mappings))
	for _, m := range mappings {
		record, err := s.datasource.GetInventoryRecord(ctx, m.ProductID, integration.DefaultLocationID)
		if err != nil {
			run.fail(fmt.Sprintf("sku %s: %s", m.SKU, err.Error()))
			continue
		}
		levels = append(levels, platform.InventoryLevel{SKU: m.SKU, Available: max(record.Available(), 0)})
	}

	pushed, err := api.PushInventory(ctx, integration.ShopDomain, token, levels)
	pushed = min(max(pushed, 0), len(levels))
	run.log.ItemsProcessed += pushed
	if err != nil {
		span.RecordError(err)
		for _, level := range levels[pushed:] {
			run.fail(fmt.Sprintf("sku %s: not pushed", level.SKU))
		}
		run.log.ErrorDetails = append(run.log.ErrorDetails, err.Error())
		return run.finish(ctx, nil), apierror.NewAPIError(apierror.ErrBadRequest, "Platform inventory push failed", err)
	}
	return run.finish(ctx, nil), nil
}

func (s *Shelfwise) ListSyncLogs(ctx context.Context, integrationID, callerID string, limit, offset int) ([]model.IntegrationSyncLog, error) {
	if _, err := s.ownedIntegration(ctx, integrationID, callerID); err != nil {
		return nil, err
	}
	return s.datasource.GetSyncLogs(ctx, integrationID, limit, offset)
}

// PruneSyncLogs deletes sync logs older than olderThan, or the configured retention
// when olderThan is not positive. Ledger entries are never pruned.
func (s *Shelfwise) PruneSyncLogs(ctx context.Context, olderThan time.Duration) (int64, error) {
	if olderThan <= 0 {
		olderThan = time.Duration(s.conf.Retention.SyncLogDays) * 24 * time.Hour
	}
	cutoff := s.now().Add(-olderThan).UTC()
	n, err := s.datasource.DeleteSyncLogsBefore(ctx, cutoff)
	if err != nil {
		return 0, err
	}
	s.metrics.SyncLogsPruned(n)
	s.logger.WithFields(logrus.Fields{"deleted": n, "cutoff": cutoff}).Info("pruned sync logs")
	return n, nil
}
