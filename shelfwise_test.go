package shelfwise

import (
	"context"
	"encoding/json"
	"fmt"
	"net/url"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/brianvoe/gofakeit/v6"
	"github.com/hibiken/asynq"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/shelfwise/shelfwise/config"
	"github.com/shelfwise/shelfwise/database"
	"github.com/shelfwise/shelfwise/database/memory"
	"github.com/shelfwise/shelfwise/internal/metrics"
	"github.com/shelfwise/shelfwise/internal/platform"
	"github.com/shelfwise/shelfwise/model"
	"github.com/stretchr/testify/require"
)

const (
	testClientSecret  = "hush-client-secret"
	testEncryptionKey = "0123456789abcdef0123456789abcdef"
)

type testEnv struct {
	s        *Shelfwise
	ds       *memory.Datasource
	redis    *miniredis.Miniredis
	registry *prometheus.Registry
	platform *fakePlatform
	enqueuer *fakeEnqueuer
}

func testConfig(redisAddr string) *config.Configuration {
	return &config.Configuration{
		ProjectName: "Shelfwise",
		DataSource:  config.DataSourceConfig{Dns: "postgres://unused"},
		Redis:       config.RedisConfig{Dns: redisAddr},
		Integrations: map[string]config.IntegrationConfig{
			"shopify": {
				ClientID:     "client-id",
				ClientSecret: testClientSecret,
				AuthorizeURL: "https://{shop}/admin/oauth/authorize",
				APIBaseURL:   "https://{shop}",
				APIVersion:   "2024-07",
			},
		},
		Security: config.SecurityConfig{EncryptionKey: testEncryptionKey},
		Queue: config.QueueConfig{
			HousekeepingQueue: "housekeeping",
			SyncQueue:         "integration_sync",
			SyncSchedule:      "@every 15m",
			PruneSchedule:     "@daily",
		},
		Retention: config.RetentionConfig{SyncLogDays: 30},
		Lock: config.LockConfig{
			TransferTimeout: 5 * time.Second,
			OrderTimeout:    5 * time.Second,
			WaitTimeout:     2 * time.Second,
		},
	}
}

// newTestEnv builds a service over the in-memory datasource and a miniredis server.
// mutate may adjust the configuration before the service is created.
func newTestEnv(t *testing.T, mutate func(*config.Configuration)) *testEnv {
	t.Helper()
	ds := memory.New()
	return newTestEnvWithDatasource(t, ds, ds, mutate)
}

func newTestEnvWithDatasource(t *testing.T, ds *memory.Datasource, source database.IDataSource, mutate func(*config.Configuration)) *testEnv {
	t.Helper()
	mr := miniredis.RunT(t)
	conf := testConfig(mr.Addr())
	if mutate != nil {
		mutate(conf)
	}
	config.MockConfig(conf)

	registry := prometheus.NewRegistry()
	fp := &fakePlatform{token: "shpat_" + gofakeit.LetterN(16)}
	fe := &fakeEnqueuer{}

	s, err := NewShelfwise(source,
		WithMetrics(metrics.NewWithRegisterer(registry)),
		WithPlatform("shopify", fp),
		WithQueue(&Queue{client: fe, conf: conf}),
	)
	require.NoError(t, err)
	return &testEnv{s: s, ds: ds, redis: mr, registry: registry, platform: fp, enqueuer: fe}
}

// flakyDatasource fails selected calls so partial failures can be exercised.
type flakyDatasource struct {
	*memory.Datasource
	failApply       func(req model.TransactionRequest) error
	failItemUpdate  error
	failOrderUpdate error
}

func (f *flakyDatasource) ApplyTransaction(ctx context.Context, req model.TransactionRequest) (*model.LedgerEntry, error) {
	if f.failApply != nil {
		if err := f.failApply(req); err != nil {
			return nil, err
		}
	}
	return f.Datasource.ApplyTransaction(ctx, req)
}

func (f *flakyDatasource) UpdateTransferItem(ctx context.Context, itemID string, qty int64) error {
	if f.failItemUpdate != nil && qty > 0 {
		return f.failItemUpdate
	}
	return f.Datasource.UpdateTransferItem(ctx, itemID, qty)
}

func (f *flakyDatasource) UpdateOrder(ctx context.Context, order *model.Order) error {
	if f.failOrderUpdate != nil {
		return f.failOrderUpdate
	}
	return f.Datasource.UpdateOrder(ctx, order)
}

func counterValue(t *testing.T, reg *prometheus.Registry, name string, labels map[string]string) float64 {
	t.Helper()
	families, err := reg.Gather()
	require.NoError(t, err)
	for _, family := range families {
		if family.GetName() != name {
			continue
		}
	metricLoop:
		for _, m := range family.GetMetric() {
			for _, lp := range m.GetLabel() {
				if want, ok := labels[lp.GetName()]; ok && want != lp.GetValue() {
					continue metricLoop
				}
			}
			return m.GetCounter().GetValue()
		}
	}
	return 0
}

func seedStock(t *testing.T, s *Shelfwise, productID, locationID string, qty int64) {
	t.Helper()
	_, err := s.Receive(context.Background(), StockMovement{
		ProductID: productID, LocationID: locationID, Qty: qty, PerformedBy: "seed",
	})
	require.NoError(t, err)
}

func record(t *testing.T, s *Shelfwise, productID, locationID string) model.InventoryRecord {
	t.Helper()
	r, err := s.GetInventoryRecord(context.Background(), productID, locationID)
	require.NoError(t, err)
	return *r
}

type fakePlatform struct {
	mu          sync.Mutex
	token       string
	exchangeErr error
	orders      []platform.Order
	fetchErr    error
	fetchedWith []string
	pushed      []platform.InventoryLevel
	pushLimit   int
	pushErr     error
}

func (f *fakePlatform) AuthorizeURL(shop, nonce string) string {
	return "https://" + shop + "/admin/oauth/authorize?state=" + url.QueryEscape(nonce)
}

func (f *fakePlatform) ExchangeCode(_ context.Context, _, _ string) (*platform.AccessToken, error) {
	if f.exchangeErr != nil {
		return nil, f.exchangeErr
	}
	return &platform.AccessToken{Token: f.token, Scope: "read_orders,write_inventory"}, nil
}

func (f *fakePlatform) FetchOrders(_ context.Context, _, token string, _ time.Time) ([]platform.Order, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.fetchedWith = append(f.fetchedWith, token)
	return f.orders, f.fetchErr
}

func (f *fakePlatform) PushInventory(_ context.Context, _, _ string, levels []platform.InventoryLevel) (int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	// pushLimit is reported as is, even when it overstates what was sent
	if f.pushErr != nil {
		f.pushed = append(f.pushed, levels[:min(f.pushLimit, len(levels))]...)
		return f.pushLimit, f.pushErr
	}
	f.pushed = append(f.pushed, levels...)
	return len(levels), nil
}

type fakeEnqueuer struct {
	mu       sync.Mutex
	tasks    []*asynq.Task
	conflict map[string]bool
}

func (f *fakeEnqueuer) EnqueueContext(_ context.Context, task *asynq.Task, _ ...asynq.Option) (*asynq.TaskInfo, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var payload SyncOrdersPayload
	_ = json.Unmarshal(task.Payload(), &payload)
	if f.conflict[payload.IntegrationID] {
		return nil, asynq.ErrTaskIDConflict
	}
	f.tasks = append(f.tasks, task)
	return &asynq.TaskInfo{Type: task.Type()}, nil
}

// seedIntegration stores an active shopify integration with an encrypted token and
// maps each sku to the product of the same name with a "prod-" prefix.
func seedIntegration(t *testing.T, env *testEnv, ownerID, locationID string, skus ...string) *model.Integration {
	t.Helper()
	token, err := env.s.vault.Encrypt(env.platform.token)
	require.NoError(t, err)
	integration, err := env.ds.UpsertIntegration(context.Background(), &model.Integration{
		ID:                model.GenerateUUIDWithSuffix("int"),
		OwnerID:           ownerID,
		Platform:          "shopify",
		ShopDomain:        strings.ToLower(gofakeit.LetterN(10)) + ".myshopify.com",
		AccessToken:       token,
		DefaultLocationID: locationID,
		CreatedAt:         time.Now().UTC(),
	})
	require.NoError(t, err)
	for _, sku := range skus {
		env.ds.AddProductMapping(model.ProductMapping{IntegrationID: integration.ID, SKU: sku, ProductID: "prod-" + sku})
	}
	return integration
}

func orderPayload(t *testing.T, id int64, lines map[string]int64, mutate func(map[string]interface{})) []byte {
	t.Helper()
	items := make([]map[string]interface{}, 0, len(lines))
	n := int64(1)
	for sku, qty := range lines {
		items = append(items, map[string]interface{}{"id": id*100 + n, "sku": sku, "quantity": qty})
		n++
	}
	body := map[string]interface{}{
		"id":         id,
		"name":       fmt.Sprintf("#%d", id),
		"updated_at": "2024-06-01T10:00:00Z",
		"line_items": items,
	}
	if mutate != nil {
		mutate(body)
	}
	data, err := json.Marshal(body)
	require.NoError(t, err)
	return data
}

func platformOrder(t *testing.T, id int64, lines map[string]int64, mutate func(map[string]interface{})) *platform.Order {
	t.Helper()
	po, err := platform.ParseOrder(orderPayload(t, id, lines, mutate))
	require.NoError(t, err)
	return po
}
