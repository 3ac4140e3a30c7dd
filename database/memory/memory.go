// Package memory is an in-process IDataSource used for local development and
// service-level tests. Every method is safe for concurrent use.
package memory

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/shelfwise/shelfwise/database"
	"github.com/shelfwise/shelfwise/internal/apierror"
	"github.com/shelfwise/shelfwise/model"
)

var _ database.IDataSource = (*Datasource)(nil)

type Datasource struct {
	mu sync.RWMutex

	keyLocks map[string]*sync.Mutex
	records  map[string]model.InventoryRecord
	entries  []model.LedgerEntry

	transfers       map[string]model.StockTransfer
	transferNumbers map[string]struct{}

	events       map[string]model.WebhookEvent
	integrations map[string]model.Integration
	mappings     map[string]map[string]model.ProductMapping
	orders       map[string]model.Order
	orderKeys    map[string]string
	syncLogs     []model.IntegrationSyncLog
}

func New() *Datasource {
	return &Datasource{
		keyLocks:        make(map[string]*sync.Mutex),
		records:         make(map[string]model.InventoryRecord),
		transfers:       make(map[string]model.StockTransfer),
		transferNumbers: make(map[string]struct{}),
		events:          make(map[string]model.WebhookEvent),
		integrations:    make(map[string]model.Integration),
		mappings:        make(map[string]map[string]model.ProductMapping),
		orders:          make(map[string]model.Order),
		orderKeys:       make(map[string]string),
	}
}

func recordKey(productID, locationID string) string {
	return productID + "|" + locationID
}

func notFound(kind, id string) error {
	return apierror.NewAPIError(apierror.ErrNotFound, fmt.Sprintf("%s with ID '%s' not found", kind, id), nil)
}

func page[T any](items []T, limit, offset int) []T {
	if limit <= 0 {
		limit = 50
	}
	if offset < 0 {
		offset = 0
	}
	if offset >= len(items) {
		return []T{}
	}
	end := offset + limit
	if end > len(items) {
		end = len(items)
	}
	return items[offset:end]
}

func (d *Datasource) keyLock(key string) *sync.Mutex {
	d.mu.Lock()
	defer d.mu.Unlock()
	l, ok := d.keyLocks[key]
	if !ok {
		l = &sync.Mutex{}
		d.keyLocks[key] = l
	}
	return l
}

// ApplyTransaction serializes writers of one (product, location) pair with a
// per-key mutex; different pairs proceed in parallel.
func (d *Datasource) ApplyTransaction(_ context.Context, req model.TransactionRequest) (*model.LedgerEntry, error) {
	key := recordKey(req.ProductID, req.LocationID)
	l := d.keyLock(key)
	l.Lock()
	defer l.Unlock()

	d.mu.RLock()
	current, ok := d.records[key]
	d.mu.RUnlock()
	if !ok {
		current = model.InventoryRecord{ProductID: req.ProductID, LocationID: req.LocationID}
	}

	entry, next, err := model.ComputeLedgerEntry(current, req, time.Now().UTC())
	if err != nil {
		return nil, database.InvariantViolation(err)
	}

	d.mu.Lock()
	d.records[key] = next
	d.entries = append(d.entries, entry)
	d.mu.Unlock()

	return &entry, nil
}

func (d *Datasource) GetInventoryRecord(_ context.Context, productID, locationID string) (*model.InventoryRecord, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	record, ok := d.records[recordKey(productID, locationID)]
	if !ok {
		record = model.InventoryRecord{ProductID: productID, LocationID: locationID}
	}
	return &record, nil
}

// GetLedgerEntries returns newest first, like the postgres datasource.
func (d *Datasource) GetLedgerEntries(_ context.Context, productID, locationID string, limit, offset int) ([]model.LedgerEntry, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()

	result := []model.LedgerEntry{}
	for i := len(d.entries) - 1; i >= 0; i-- {
		e := d.entries[i]
		if e.ProductID == productID && e.LocationID == locationID {
			result = append(result, e)
		}
	}
	return page(result, limit, offset), nil
}

func copyTransfer(t model.StockTransfer) model.StockTransfer {
	t.Items = append([]model.StockTransferItem(nil), t.Items...)
	return t
}

func (d *Datasource) CreateTransfer(_ context.Context, transfer *model.StockTransfer) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	if _, exists := d.transferNumbers[transfer.TransferNumber]; exists {
		return apierror.NewAPIError(apierror.ErrConflict, fmt.Sprintf("Transfer number '%s' already exists", transfer.TransferNumber), nil)
	}
	if _, exists := d.transfers[transfer.ID]; exists {
		return apierror.NewAPIError(apierror.ErrConflict, fmt.Sprintf("Transfer '%s' already exists", transfer.ID), nil)
	}
	seen := make(map[string]struct{}, len(transfer.Items))
	for _, item := range transfer.Items {
		if _, dup := seen[item.ProductID]; dup {
			return apierror.NewAPIError(apierror.ErrConflict, fmt.Sprintf("Product '%s' appears more than once in transfer", item.ProductID), nil)
		}
		seen[item.ProductID] = struct{}{}
	}
	d.transfers[transfer.ID] = copyTransfer(*transfer)
	d.transferNumbers[transfer.TransferNumber] = struct{}{}
	return nil
}

func (d *Datasource) GetTransfer(_ context.Context, id string) (*model.StockTransfer, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	t, ok := d.transfers[id]
	if !ok {
		return nil, notFound("Transfer", id)
	}
	t = copyTransfer(t)
	return &t, nil
}

func (d *Datasource) UpdateTransferItem(_ context.Context, itemID string, qtyTransferred int64) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	for id, t := range d.transfers {
		for i := range t.Items {
			if t.Items[i].ID == itemID {
				t = copyTransfer(t)
				t.Items[i].QtyTransferred = qtyTransferred
				d.transfers[id] = t
				return nil
			}
		}
	}
	return notFound("Transfer item", itemID)
}

func (d *Datasource) UpdateTransferStatus(_ context.Context, id string, from, to model.TransferStatus, by string, at time.Time) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	t, ok := d.transfers[id]
	if !ok {
		return notFound("Transfer", id)
	}
	if t.Status != from {
		return apierror.NewAPIError(apierror.ErrConflict, fmt.Sprintf("Transfer '%s' is not %s", id, from), nil)
	}
	t.Status = to
	if to == model.TransferCompleted {
		completedAt := at
		t.CompletedAt = &completedAt
		t.CompletedBy = by
	}
	d.transfers[id] = t
	return nil
}

func (d *Datasource) CountPendingTransfersForLocation(_ context.Context, locationID string) (int, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	count := 0
	for _, t := range d.transfers {
		if t.Status == model.TransferPending && (t.FromLocationID == locationID || t.ToLocationID == locationID) {
			count++
		}
	}
	return count, nil
}

func (d *Datasource) RecordWebhookEvent(_ context.Context, event *model.WebhookEvent) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if _, exists := d.events[event.EventID]; exists {
		return apierror.NewAPIError(apierror.ErrConflict, fmt.Sprintf("Webhook event '%s' already recorded", event.EventID), nil)
	}
	d.events[event.EventID] = *event
	return nil
}

func (d *Datasource) WebhookEventExists(_ context.Context, eventID string) (bool, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	_, ok := d.events[eventID]
	return ok, nil
}

func (d *Datasource) GetWebhookEvent(_ context.Context, eventID string) (*model.WebhookEvent, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	e, ok := d.events[eventID]
	if !ok {
		return nil, notFound("Webhook event", eventID)
	}
	return &e, nil
}

func (d *Datasource) UpdateWebhookEventStatus(_ context.Context, eventID string, status model.WebhookStatus, errorMessage string) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	e, ok := d.events[eventID]
	if !ok {
		return notFound("Webhook event", eventID)
	}
	now := time.Now().UTC()
	e.Status = status
	e.ErrorMessage = errorMessage
	e.UpdatedAt = now
	if status != model.WebhookProcessing {
		e.ProcessedAt = &now
	}
	d.events[eventID] = e
	return nil
}

func (d *Datasource) ListWebhookEvents(_ context.Context, status model.WebhookStatus, limit, offset int) ([]model.WebhookEvent, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	result := make([]model.WebhookEvent, 0, len(d.events))
	for _, e := range d.events {
		if status == "" || e.Status == status {
			result = append(result, e)
		}
	}
	sort.Slice(result, func(i, j int) bool {
		if !result[i].CreatedAt.Equal(result[j].CreatedAt) {
			return result[i].CreatedAt.After(result[j].CreatedAt)
		}
		return result[i].EventID > result[j].EventID
	})
	return page(result, limit, offset), nil
}

func (d *Datasource) UpsertIntegration(_ context.Context, integration *model.Integration) (*model.Integration, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	for id, existing := range d.integrations {
		if existing.Platform == integration.Platform && strings.EqualFold(existing.ShopDomain, integration.ShopDomain) {
			existing.AccessToken = integration.AccessToken
			existing.Scopes = integration.Scopes
			existing.OwnerID = integration.OwnerID
			existing.Active = true
			d.integrations[id] = existing
			out := existing
			return &out, nil
		}
	}
	stored := *integration
	stored.Active = true
	d.integrations[stored.ID] = stored
	return &stored, nil
}

func (d *Datasource) GetIntegration(_ context.Context, id string) (*model.Integration, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	i, ok := d.integrations[id]
	if !ok {
		return nil, notFound("Integration", id)
	}
	return &i, nil
}

func (d *Datasource) ListActiveIntegrations(_ context.Context) ([]model.Integration, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	result := make([]model.Integration, 0, len(d.integrations))
	for _, i := range d.integrations {
		if i.Active {
			i.AccessToken = ""
			result = append(result, i)
		}
	}
	sort.Slice(result, func(a, b int) bool { return result[a].ID < result[b].ID })
	return result, nil
}

func (d *Datasource) SetIntegrationActive(_ context.Context, id string, active bool) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	i, ok := d.integrations[id]
	if !ok {
		return notFound("Integration", id)
	}
	i.Active = active
	d.integrations[id] = i
	return nil
}

func (d *Datasource) TouchIntegrationSync(_ context.Context, id string, at time.Time) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	i, ok := d.integrations[id]
	if !ok {
		return notFound("Integration", id)
	}
	i.LastSyncedAt = &at
	d.integrations[id] = i
	return nil
}

// AddProductMapping seeds the SKU catalogue that the master-data service owns in production.
func (d *Datasource) AddProductMapping(m model.ProductMapping) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.mappings[m.IntegrationID] == nil {
		d.mappings[m.IntegrationID] = make(map[string]model.ProductMapping)
	}
	d.mappings[m.IntegrationID][m.SKU] = m
}

func (d *Datasource) GetProductMapping(_ context.Context, integrationID, sku string) (*model.ProductMapping, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	m, ok := d.mappings[integrationID][sku]
	if !ok {
		return nil, notFound("Product mapping", sku)
	}
	return &m, nil
}

func (d *Datasource) GetProductMappings(_ context.Context, integrationID string) ([]model.ProductMapping, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	result := make([]model.ProductMapping, 0, len(d.mappings[integrationID]))
	for _, m := range d.mappings[integrationID] {
		result = append(result, m)
	}
	sort.Slice(result, func(i, j int) bool { return result[i].SKU < result[j].SKU })
	return result, nil
}

func copyOrder(o model.Order) model.Order {
	o.Lines = append([]model.OrderLine(nil), o.Lines...)
	o.Notes = append([]string(nil), o.Notes...)
	return o
}

func orderKey(integrationID, externalID string) string {
	return integrationID + "|" + externalID
}

func (d *Datasource) CreateOrder(_ context.Context, order *model.Order) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	key := orderKey(order.IntegrationID, order.ExternalID)
	if _, exists := d.orders[key]; exists {
		return apierror.NewAPIError(apierror.ErrConflict, fmt.Sprintf("Order '%s' already imported", order.ExternalID), nil)
	}
	d.orders[key] = copyOrder(*order)
	d.orderKeys[order.ID] = key
	return nil
}

func (d *Datasource) GetOrderByExternalID(_ context.Context, integrationID, externalID string) (*model.Order, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	o, ok := d.orders[orderKey(integrationID, externalID)]
	if !ok {
		return nil, notFound("Order", externalID)
	}
	o = copyOrder(o)
	return &o, nil
}

func (d *Datasource) UpdateOrder(_ context.Context, order *model.Order) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	key, ok := d.orderKeys[order.ID]
	if !ok {
		return notFound("Order", order.ID)
	}
	d.orders[key] = copyOrder(*order)
	return nil
}

func (d *Datasource) RecordSyncLog(_ context.Context, log *model.IntegrationSyncLog) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.syncLogs = append(d.syncLogs, *log)
	return nil
}

func (d *Datasource) GetSyncLogs(_ context.Context, integrationID string, limit, offset int) ([]model.IntegrationSyncLog, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	result := []model.IntegrationSyncLog{}
	for i := len(d.syncLogs) - 1; i >= 0; i-- {
		if d.syncLogs[i].IntegrationID == integrationID {
			result = append(result, d.syncLogs[i])
		}
	}
	return page(result, limit, offset), nil
}

func (d *Datasource) DeleteSyncLogsBefore(_ context.Context, cutoff time.Time) (int64, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	kept := d.syncLogs[:0]
	var removed int64
	for _, l := range d.syncLogs {
		if l.CreatedAt.Before(cutoff) {
			removed++
			continue
		}
		kept = append(kept, l)
	}
	d.syncLogs = kept
	return removed, nil
}
