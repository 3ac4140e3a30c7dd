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
	"time"

	"github.com/shelfwise/shelfwise/model"
)

type IDataSource interface {
	inventory    // Ledger writes and quantity reads
	transfer     // Stock transfer documents
	webhookEvent // Inbound webhook delivery records
	integration  // Commerce platform connections and SKU mappings
	order        // Orders mirrored from connected platforms
	syncLog      // Manual and scheduled sync audit trail
}

type inventory interface {
	// ApplyTransaction is the only writer of inventory records. It appends one ledger
	// entry and updates the record atomically, or changes nothing.
	ApplyTransaction(ctx context.Context, req model.TransactionRequest) (*model.LedgerEntry, error)
	GetInventoryRecord(ctx context.Context, productID, locationID string) (*model.InventoryRecord, error)
	GetLedgerEntries(ctx context.Context, productID, locationID string, limit, offset int) ([]model.LedgerEntry, error)
}

type transfer interface {
	CreateTransfer(ctx context.Context, transfer *model.StockTransfer) error
	GetTransfer(ctx context.Context, id string) (*model.StockTransfer, error)
	UpdateTransferItem(ctx context.Context, itemID string, qtyTransferred int64) error
	// UpdateTransferStatus moves a transfer from one status to another and fails with a
	// conflict if the stored status is not `from`.
	UpdateTransferStatus(ctx context.Context, id string, from, to model.TransferStatus, by string, at time.Time) error
	CountPendingTransfersForLocation(ctx context.Context, locationID string) (int, error)
}

type webhookEvent interface {
	RecordWebhookEvent(ctx context.Context, event *model.WebhookEvent) error
	WebhookEventExists(ctx context.Context, eventID string) (bool, error)
	GetWebhookEvent(ctx context.Context, eventID string) (*model.WebhookEvent, error)
	UpdateWebhookEventStatus(ctx context.Context, eventID string, status model.WebhookStatus, errorMessage string) error
	ListWebhookEvents(ctx context.Context, status model.WebhookStatus, limit, offset int) ([]model.WebhookEvent, error)
}

type integration interface {
	UpsertIntegration(ctx context.Context, integration *model.Integration) (*model.Integration, error)
	GetIntegration(ctx context.Context, id string) (*model.Integration, error)
	ListActiveIntegrations(ctx context.Context) ([]model.Integration, error)
	SetIntegrationActive(ctx context.Context, id string, active bool) error
	TouchIntegrationSync(ctx context.Context, id string, at time.Time) error
	GetProductMapping(ctx context.Context, integrationID, sku string) (*model.ProductMapping, error)
	GetProductMappings(ctx context.Context, integrationID string) ([]model.ProductMapping, error)
}

type order interface {
	CreateOrder(ctx context.Context, order *model.Order) error
	GetOrderByExternalID(ctx context.Context, integrationID, externalID string) (*model.Order, error)
	UpdateOrder(ctx context.Context, order *model.Order) error
}

type syncLog interface {
	RecordSyncLog(ctx context.Context, log *model.IntegrationSyncLog) error
	GetSyncLogs(ctx context.Context, integrationID string, limit, offset int) ([]model.IntegrationSyncLog, error)
	DeleteSyncLogsBefore(ctx context.Context, cutoff time.Time) (int64, error)
}
