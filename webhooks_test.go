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
	"errors"
	"net/http"
	"sync"
	"testing"

	"github.com/shelfwise/shelfwise/config"
	"github.com/shelfwise/shelfwise/database/memory"
	"github.com/shelfwise/shelfwise/database/mocks"
	"github.com/shelfwise/shelfwise/internal/tokenization"
	"github.com/shelfwise/shelfwise/model"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

func signedRequest(integration *model.Integration, topic string, body []byte) IngestRequest {
	return IngestRequest{
		Platform:      "shopify",
		IntegrationID: integration.ID,
		RawBody:       body,
		Signature:     tokenization.SignWebhook(testClientSecret, body),
		Topic:         topic,
		ShopDomain:    integration.ShopDomain,
		ClientIP:      "203.0.113.7",
	}
}

func TestIngest_ProcessesOrderCreated(t *testing.T) {
	env := newTestEnv(t, nil)
	ctx := context.Background()
	integration := seedIntegration(t, env, "owner-1", "loc-1", "SKU-A")
	seedStock(t, env.s, "prod-SKU-A", "loc-1", 5)

	body := orderPayload(t, 5001, map[string]int64{"SKU-A": 2}, nil)
	res := env.s.Ingest(ctx, signedRequest(integration, TopicOrderCreated, body))
	require.Equal(t, http.StatusOK, res.Status)
	assert.False(t, res.Duplicate)
	assert.Equal(t, model.DeriveEventID(integration.ShopDomain, TopicOrderCreated, "5001", ""), res.EventID)

	event, err := env.ds.GetWebhookEvent(ctx, res.EventID)
	require.NoError(t, err)
	assert.Equal(t, model.WebhookProcessed, event.Status)
	assert.Equal(t, int64(2), record(t, env.s, "prod-SKU-A", "loc-1").QtyReserved)
	assert.Equal(t, float64(1), counterValue(t, env.registry, "shelfwise_webhook_outcomes_total",
		map[string]string{"platform": "shopify", "outcome": "processed"}))
}

func TestIngest_DuplicateDeliveryIsProcessedOnce(t *testing.T) {
	env := newTestEnv(t, nil)
	ctx := context.Background()
	integration := seedIntegration(t, env, "owner-1", "loc-1", "SKU-A")
	seedStock(t, env.s, "prod-SKU-A", "loc-1", 5)

	req := signedRequest(integration, TopicOrderCreated, orderPayload(t, 5002, map[string]int64{"SKU-A": 1}, nil))
	first := env.s.Ingest(ctx, req)
	second := env.s.Ingest(ctx, req)

	assert.Equal(t, http.StatusOK, first.Status)
	assert.Equal(t, http.StatusOK, second.Status)
	assert.True(t, second.Duplicate)
	assert.Equal(t, first.EventID, second.EventID)
	assert.Equal(t, int64(1), record(t, env.s, "prod-SKU-A", "loc-1").QtyReserved)
}

func TestIngest_ConcurrentDuplicatesReserveOnce(t *testing.T) {
	env := newTestEnv(t, nil)
	ctx := context.Background()
	integration := seedIntegration(t, env, "owner-1", "loc-1", "SKU-A")
	seedStock(t, env.s, "prod-SKU-A", "loc-1", 50)

	req := signedRequest(integration, TopicOrderCreated, orderPayload(t, 5003, map[string]int64{"SKU-A": 3}, nil))
	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			res := env.s.Ingest(ctx, req)
			assert.Equal(t, http.StatusOK, res.Status)
		}()
	}
	wg.Wait()
	assert.Equal(t, int64(3), record(t, env.s, "prod-SKU-A", "loc-1").QtyReserved)
}

func TestIngest_UpdatesWithNewVersionAreNotDuplicates(t *testing.T) {
	env := newTestEnv(t, nil)
	ctx := context.Background()
	integration := seedIntegration(t, env, "owner-1", "loc-1", "SKU-A")
	seedStock(t, env.s, "prod-SKU-A", "loc-1", 5)

	v1 := orderPayload(t, 5004, map[string]int64{"SKU-A": 1}, nil)
	v2 := orderPayload(t, 5004, map[string]int64{"SKU-A": 1}, func(body map[string]interface{}) {
		body["updated_at"] = "2024-06-01T11:00:00Z"
		body["confirmed"] = true
	})
	first := env.s.Ingest(ctx, signedRequest(integration, TopicOrderUpdated, v1))
	second := env.s.Ingest(ctx, signedRequest(integration, TopicOrderUpdated, v2))
	assert.NotEqual(t, first.EventID, second.EventID)
	assert.False(t, second.Duplicate)

	order, err := env.ds.GetOrderByExternalID(ctx, integration.ID, "5004")
	require.NoError(t, err)
	assert.Equal(t, model.OrderConfirmed, order.Status)
}

func TestIngest_BadSignatureRecordsNothing(t *testing.T) {
	env := newTestEnv(t, nil)
	ctx := context.Background()
	integration := seedIntegration(t, env, "owner-1", "loc-1", "SKU-A")

	req := signedRequest(integration, TopicOrderCreated, orderPayload(t, 5005, map[string]int64{"SKU-A": 1}, nil))
	req.Signature = tokenization.SignWebhook("wrong-secret", req.RawBody)
	assert.Equal(t, http.StatusUnauthorized, env.s.Ingest(ctx, req).Status)

	req.Signature = ""
	assert.Equal(t, http.StatusUnauthorized, env.s.Ingest(ctx, req).Status)

	events, err := env.s.ListWebhookEvents(ctx, "", 10, 0)
	require.NoError(t, err)
	assert.Empty(t, events)
}

func TestIngest_NotFound(t *testing.T) {
	env := newTestEnv(t, nil)
	ctx := context.Background()
	integration := seedIntegration(t, env, "owner-1", "loc-1")
	body := orderPayload(t, 5006, nil, nil)

	unknownPlatform := signedRequest(integration, TopicOrderCreated, body)
	unknownPlatform.Platform = "bigcommerce"
	assert.Equal(t, http.StatusNotFound, env.s.Ingest(ctx, unknownPlatform).Status)

	unknownIntegration := signedRequest(integration, TopicOrderCreated, body)
	unknownIntegration.IntegrationID = "int_missing"
	assert.Equal(t, http.StatusNotFound, env.s.Ingest(ctx, unknownIntegration).Status)

	wrongShop := signedRequest(integration, TopicOrderCreated, body)
	wrongShop.ShopDomain = "someone-else.myshopify.com"
	assert.Equal(t, http.StatusNotFound, env.s.Ingest(ctx, wrongShop).Status)

	require.NoError(t, env.s.OnAppUninstalled(ctx, integration))
	assert.Equal(t, http.StatusNotFound, env.s.Ingest(ctx, signedRequest(integration, TopicOrderCreated, body)).Status)
}

func TestIngest_RateLimited(t *testing.T) {
	env := newTestEnv(t, func(c *config.Configuration) {
		c.RateLimit.Webhook = config.Policy{Limit: 2, WindowSeconds: 60}
	})
	ctx := context.Background()
	integration := seedIntegration(t, env, "owner-1", "loc-1")

	for i := int64(0); i < 2; i++ {
		res := env.s.Ingest(ctx, signedRequest(integration, "shop/update", orderPayload(t, 6000+i, nil, nil)))
		assert.Equal(t, http.StatusOK, res.Status)
	}
	res := env.s.Ingest(ctx, signedRequest(integration, "shop/update", orderPayload(t, 6003, nil, nil)))
	assert.Equal(t, http.StatusTooManyRequests, res.Status)
	assert.Greater(t, res.RetryAfter, 0)
}

func TestIngest_ProcessingFailureStillAcknowledged(t *testing.T) {
	env := newTestEnv(t, nil)
	ctx := context.Background()
	integration := seedIntegration(t, env, "owner-1", "loc-1", "SKU-A")
	seedStock(t, env.s, "prod-SKU-A", "loc-1", 1)

	res := env.s.Ingest(ctx, signedRequest(integration, TopicOrderCreated, orderPayload(t, 5007, map[string]int64{"SKU-A": 4}, nil)))
	require.Equal(t, http.StatusOK, res.Status)

	failed, err := env.s.ListWebhookEvents(ctx, model.WebhookFailed, 10, 0)
	require.NoError(t, err)
	require.Len(t, failed, 1)
	assert.Equal(t, res.EventID, failed[0].EventID)
	assert.NotEmpty(t, failed[0].ErrorMessage)

	// stock arrives and the operator replays the event; the stored order gets its reservation
	seedStock(t, env.s, "prod-SKU-A", "loc-1", 10)
	replayed, err := env.s.ReplayWebhookEvent(ctx, res.EventID)
	require.NoError(t, err)
	assert.Equal(t, model.WebhookProcessed, replayed.Status)
	assert.Equal(t, int64(4), record(t, env.s, "prod-SKU-A", "loc-1").QtyReserved)

	failed, err = env.s.ListWebhookEvents(ctx, model.WebhookFailed, 10, 0)
	require.NoError(t, err)
	assert.Empty(t, failed)

	_, err = env.s.ReplayWebhookEvent(ctx, res.EventID)
	assert.Error(t, err, "only failed events can be replayed")
}

func TestIngest_UnknownTopicIsIgnored(t *testing.T) {
	env := newTestEnv(t, nil)
	ctx := context.Background()
	integration := seedIntegration(t, env, "owner-1", "loc-1")

	res := env.s.Ingest(ctx, signedRequest(integration, "customers/create", []byte(`{"id": 77}`)))
	require.Equal(t, http.StatusOK, res.Status)

	event, err := env.ds.GetWebhookEvent(ctx, res.EventID)
	require.NoError(t, err)
	assert.Equal(t, model.WebhookProcessed, event.Status)
	assert.Equal(t, "ignored", event.ErrorMessage)
}

func TestIngest_AppUninstalled(t *testing.T) {
	env := newTestEnv(t, nil)
	ctx := context.Background()
	integration := seedIntegration(t, env, "owner-1", "loc-1")

	res := env.s.Ingest(ctx, signedRequest(integration, TopicAppUninstalled, []byte(`{"id": 1, "domain": "x"}`)))
	require.Equal(t, http.StatusOK, res.Status)

	stored, err := env.ds.GetIntegration(ctx, integration.ID)
	require.NoError(t, err)
	assert.False(t, stored.Active)
}

func TestListWebhookEvents_RejectsUnknownStatus(t *testing.T) {
	env := newTestEnv(t, nil)
	_, err := env.s.ListWebhookEvents(context.Background(), "lost", 10, 0)
	assert.Error(t, err)
}

func TestWebhookEventID(t *testing.T) {
	shop := "demo.myshopify.com"
	a := webhookEventID(shop, TopicOrderCreated, []byte(`{"id": 1, "updated_at": "x"}`))
	b := webhookEventID(shop, TopicOrderCreated, []byte(`{"id": 1, "updated_at": "y"}`))
	assert.Equal(t, a, b, "create topics ignore updated_at")

	c := webhookEventID(shop, TopicOrderUpdated, []byte(`{"id": 1, "updated_at": "x"}`))
	d := webhookEventID(shop, TopicOrderUpdated, []byte(`{"id": 1, "updated_at": "y"}`))
	assert.NotEqual(t, c, d)

	e := webhookEventID(shop, "shop/update", []byte(`not json`))
	f := webhookEventID(shop, "shop/update", []byte(`not json`))
	assert.Equal(t, e, f)
	assert.Len(t, e, 64)
}

func TestIngest_RecordFailureAsksForRetry(t *testing.T) {
	ds := new(mocks.MockDataSource)
	env := newTestEnvWithDatasource(t, memory.New(), ds, nil)
	integration := &model.Integration{
		ID:         "int_record_fail",
		OwnerID:    "owner-1",
		Platform:   "shopify",
		ShopDomain: "record-fail.myshopify.com",
		Active:     true,
	}
	ds.On("GetIntegration", mock.Anything, integration.ID).Return(integration, nil)
	ds.On("WebhookEventExists", mock.Anything, mock.AnythingOfType("string")).Return(false, nil)
	ds.On("RecordWebhookEvent", mock.Anything, mock.AnythingOfType("*model.WebhookEvent")).Return(errors.New("connection reset"))

	body := orderPayload(t, 6001, map[string]int64{"SKU-A": 1}, nil)
	res := env.s.Ingest(context.Background(), signedRequest(integration, TopicOrderCreated, body))

	assert.Equal(t, http.StatusInternalServerError, res.Status)
	assert.Empty(t, res.EventID)
	ds.AssertExpectations(t)
	ds.AssertNotCalled(t, "ApplyTransaction", mock.Anything, mock.Anything)
}
