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

package shelfwise

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/shelfwise/shelfwise/internal/apierror"
	"github.com/shelfwise/shelfwise/internal/cache"
	"github.com/shelfwise/shelfwise/internal/notification"
	"github.com/shelfwise/shelfwise/internal/platform"
	"github.com/shelfwise/shelfwise/internal/tokenization"
	"github.com/shelfwise/shelfwise/model"
	"github.com/sirupsen/logrus"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
)

const integrationCacheTTL = 5 * time.Minute

// Webhook topics the reconciler understands.
const (
	TopicOrderCreated   = "orders/create"
	TopicOrderUpdated   = "orders/updated"
	TopicOrderCancelled = "orders/cancelled"
	TopicOrderFulfilled = "orders/fulfilled"
	TopicAppUninstalled = "app/uninstalled"
)

var errUnsupportedTopic = errors.New("unsupported topic")

type IngestRequest struct {
	Platform      string
	IntegrationID string
	RawBody       []byte
	Signature     string
	Topic         string
	ShopDomain    string
	ClientIP      string
}

// IngestResult is the coarse outcome returned to the sender. Internal failures never
// show up here; they are recorded on the event instead.
type IngestResult struct {
	Status     int    `json:"-"`
	RetryAfter int    `json:"-"`
	EventID    string `json:"event_id,omitempty"`
	Duplicate  bool   `json:"duplicate,omitempty"`
}

func normalizePlatform(name string) string {
	return strings.ToLower(strings.TrimSpace(name))
}

// integrationRef is the cached view of an integration. The access token is left out
// so it never leaves the database.
type integrationRef struct {
	ID                string
	OwnerID           string
	Platform          string
	ShopDomain        string
	DefaultLocationID string
	Active            bool
}

func integrationCacheKey(id string) string {
	return "integration:" + id
}

func (s *Shelfwise) resolveIntegration(ctx context.Context, id string) (*model.Integration, error) {
	var ref integrationRef
	err := s.cache.Get(ctx, integrationCacheKey(id), &ref)
	if err == nil {
		return &model.Integration{
			ID:                ref.ID,
			OwnerID:           ref.OwnerID,
			Platform:          ref.Platform,
			ShopDomain:        ref.ShopDomain,
			DefaultLocationID: ref.DefaultLocationID,
			Active:            ref.Active,
		}, nil
	}
	if !errors.Is(err, cache.ErrMiss) {
		s.logger.WithError(err).Warn("integration cache read failed")
	}

	integration, err := s.datasource.GetIntegration(ctx, id)
	if err != nil {
		return nil, err
	}
	ref = integrationRef{
		ID:                integration.ID,
		OwnerID:           integration.OwnerID,
		Platform:          integration.Platform,
		ShopDomain:        integration.ShopDomain,
		DefaultLocationID: integration.DefaultLocationID,
		Active:            integration.Active,
	}
	if err := s.cache.Set(ctx, integrationCacheKey(id), ref, integrationCacheTTL); err != nil {
		s.logger.WithError(err).Warn("integration cache write failed")
	}
	return integration, nil
}

func (s *Shelfwise) invalidateIntegration(ctx context.Context, id string) {
	if err := s.cache.Delete(ctx, integrationCacheKey(id)); err != nil {
		s.logger.WithError(err).WithField("integration_id", id).Warn("integration cache delete failed")
	}
}

type webhookEntity struct {
	ID        json.Number `json:"id"`
	UpdatedAt string      `json:"updated_at"`
}

// webhookEventID derives the dedup key. Update topics repeat for the same entity, so
// they carry updated_at as a version. Payloads without an id fall back to a body hash.
func webhookEventID(shopDomain, topic string, body []byte) string {
	var entity webhookEntity
	_ = json.Unmarshal(body, &entity)

	entityID := entity.ID.String()
	if entityID == "" {
		sum := sha256.Sum256(body)
		entityID = "body:" + hex.EncodeToString(sum[:])
	}
	version := ""
	if strings.HasSuffix(topic, "/updated") {
		version = entity.UpdatedAt
	}
	return model.DeriveEventID(shopDomain, topic, entityID, version)
}

// Ingest runs an inbound webhook through admission control, signature verification,
// integration resolution and deduplication, records it, then dispatches it. Once the
// event is recorded the sender always gets 200.
func (s *Shelfwise) Ingest(ctx context.Context, req IngestRequest) IngestResult {
	ctx, span := otel.Tracer("shelfwise.webhooks").Start(ctx, "Ingest")
	defer span.End()

	platformName := normalizePlatform(req.Platform)
	topic := strings.ToLower(strings.TrimSpace(req.Topic))
	span.SetAttributes(
		attribute.String("platform", platformName),
		attribute.String("integration_id", req.IntegrationID),
		attribute.String("topic", topic),
	)
	logger := s.logger.WithFields(logrus.Fields{
		"platform":       platformName,
		"integration_id": req.IntegrationID,
		"topic":          topic,
	})

	res, err := s.limiter.Allow(ctx, "webhook:"+req.IntegrationID, s.policies.Webhook)
	if err != nil {
		logger.WithError(err).Error("rate limiter unavailable, admitting webhook")
	} else if !res.Allowed {
		s.metrics.WebhookOutcome(platformName, "rate_limited")
		return IngestResult{Status: http.StatusTooManyRequests, RetryAfter: res.RetryAfterSeconds()}
	}

	ic, ok := s.conf.Integration(platformName)
	if !ok {
		s.metrics.WebhookOutcome(platformName, "unknown_platform")
		return IngestResult{Status: http.StatusNotFound}
	}
	if !tokenization.VerifyWebhookSignature(ic.ClientSecret, req.RawBody, req.Signature) {
		logger.WithField("client_ip", req.ClientIP).Warn("webhook signature rejected")
		s.metrics.WebhookOutcome(platformName, "unauthorized")
		return IngestResult{Status: http.StatusUnauthorized}
	}

	integration, err := s.resolveIntegration(ctx, req.IntegrationID)
	if err != nil || !integration.Active || integration.Platform != platformName {
		if err != nil && !apierror.HasCode(err, apierror.ErrNotFound) {
			logger.WithError(err).Error("integration lookup failed")
		}
		s.metrics.WebhookOutcome(platformName, "not_found")
		return IngestResult{Status: http.StatusNotFound}
	}
	shop := integration.ShopDomain
	if req.ShopDomain != "" && !strings.EqualFold(req.ShopDomain, shop) {
		logger.WithField("shop_domain", req.ShopDomain).Warn("webhook shop does not match integration")
		s.metrics.WebhookOutcome(platformName, "not_found")
		return IngestResult{Status: http.StatusNotFound}
	}

	// past authentication the sender cannot cancel processing
	ctx = context.WithoutCancel(ctx)

	eventID := webhookEventID(shop, topic, req.RawBody)
	logger = logger.WithField("event_id", eventID)

	exists, err := s.datasource.WebhookEventExists(ctx, eventID)
	if err != nil {
		logger.WithError(err).Error("webhook dedup lookup failed")
	}
	if exists {
		s.metrics.WebhookOutcome(platformName, "duplicate")
		return IngestResult{Status: http.StatusOK, EventID: eventID, Duplicate: true}
	}

	now := s.now().UTC()
	event := &model.WebhookEvent{
		EventID:       eventID,
		IntegrationID: integration.ID,
		Platform:      platformName,
		EventType:     topic,
		Payload:       payloadOrNull(req.RawBody),
		Status:        model.WebhookProcessing,
		CreatedAt:     now,
		UpdatedAt:     now,
	}
	if err := s.datasource.RecordWebhookEvent(ctx, event); err != nil {
		if apierror.HasCode(err, apierror.ErrConflict) {
			s.metrics.WebhookOutcome(platformName, "duplicate")
			return IngestResult{Status: http.StatusOK, EventID: eventID, Duplicate: true}
		}
		// without a durable record we cannot promise processing; let the sender retry
		logger.WithError(err).Error("failed to record webhook event")
		return IngestResult{Status: http.StatusInternalServerError}
	}

	s.processEvent(ctx, integration, event, logger)
	return IngestResult{Status: http.StatusOK, EventID: eventID}
}

func payloadOrNull(body []byte) json.RawMessage {
	if json.Valid(body) {
		return json.RawMessage(body)
	}
	quoted, _ := json.Marshal(string(body))
	return quoted
}

func (s *Shelfwise) processEvent(ctx context.Context, integration *model.Integration, event *model.WebhookEvent, logger *logrus.Entry) {
	err := s.dispatchWebhook(ctx, integration, event.EventType, event.Payload)
	switch {
	case errors.Is(err, errUnsupportedTopic):
		s.finishEvent(ctx, event, model.WebhookProcessed, "ignored", logger)
		s.metrics.WebhookOutcome(event.Platform, "ignored")
	case err != nil:
		logger.WithError(err).Error("webhook processing failed")
		s.finishEvent(ctx, event, model.WebhookFailed, err.Error(), logger)
		s.metrics.WebhookOutcome(event.Platform, "failed")
		s.notifier.Notify(notification.EventWebhookFailed, map[string]interface{}{
			"event_id":       event.EventID,
			"integration_id": event.IntegrationID,
			"topic":          event.EventType,
			"error":          err.Error(),
		})
	default:
		s.finishEvent(ctx, event, model.WebhookProcessed, "", logger)
		s.metrics.WebhookOutcome(event.Platform, "processed")
	}
}

func (s *Shelfwise) finishEvent(ctx context.Context, event *model.WebhookEvent, status model.WebhookStatus, message string, logger *logrus.Entry) {
	if err := s.datasource.UpdateWebhookEventStatus(ctx, event.EventID, status, message); err != nil {
		logger.WithError(err).WithField("status", status).Error("failed to update webhook event status")
	}
}

func (s *Shelfwise) dispatchWebhook(ctx context.Context, integration *model.Integration, topic string, payload []byte) error {
	if topic == TopicAppUninstalled {
		return s.OnAppUninstalled(ctx, integration)
	}

	var handler func(context.Context, *model.Integration, *platform.Order) error
	switch topic {
	case TopicOrderCreated:
		handler = s.OnOrderCreated
	case TopicOrderUpdated:
		handler = s.OnOrderUpdated
	case TopicOrderCancelled:
		handler = s.OnOrderCancelled
	case TopicOrderFulfilled:
		handler = s.OnOrderFulfilled
	default:
		return fmt.Errorf("%w: %s", errUnsupportedTopic, topic)
	}

	order, err := platform.ParseOrder(payload)
	if err != nil {
		return apierror.NewAPIError(apierror.ErrBadRequest, "order payload is not valid JSON", err)
	}
	return handler(ctx, integration, order)
}

// ReplayWebhookEvent re-dispatches a failed event after the operator fixed its cause.
func (s *Shelfwise) ReplayWebhookEvent(ctx context.Context, eventID string) (*model.WebhookEvent, error) {
	event, err := s.datasource.GetWebhookEvent(ctx, eventID)
	if err != nil {
		return nil, err
	}
	if event.Status != model.WebhookFailed {
		return nil, apierror.NewAPIError(apierror.ErrConflict, fmt.Sprintf("Webhook event '%s' is %s, only failed events can be replayed", eventID, event.Status), nil)
	}
	integration, err := s.datasource.GetIntegration(ctx, event.IntegrationID)
	if err != nil {
		return nil, err
	}
	if !integration.Active {
		return nil, apierror.NewAPIError(apierror.ErrConflict, fmt.Sprintf("Integration '%s' is inactive", integration.ID), nil)
	}

	s.finishEvent(ctx, event, model.WebhookProcessing, "", s.logger)
	s.processEvent(ctx, integration, event, s.logger.WithField("event_id", eventID))
	return s.datasource.GetWebhookEvent(ctx, eventID)
}

// ListWebhookEvents is the operator view of recorded deliveries, newest first. An
// empty status lists all.
func (s *Shelfwise) ListWebhookEvents(ctx context.Context, status model.WebhookStatus, limit, offset int) ([]model.WebhookEvent, error) {
	switch status {
	case "", model.WebhookProcessing, model.WebhookProcessed, model.WebhookFailed:
	default:
		return nil, apierror.NewAPIError(apierror.ErrInvalidInput, fmt.Sprintf("unknown webhook status '%s'", status), nil)
	}
	return s.datasource.ListWebhookEvents(ctx, status, limit, offset)
}
