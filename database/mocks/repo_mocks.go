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

package mocks

import (
	"context"
	"time"

	"github.com/shelfwise/shelfwise/model"
	"github.com/stretchr/testify/mock"
)

// MockDataSource is a mock implementation of the IDataSource interface
type MockDataSource struct {
	mock.Mock
}

// Inventory methods

func (m *MockDataSource) ApplyTransaction(ctx context.Context, req model.TransactionRequest) (*model.LedgerEntry, error) {
	args := m.Called(ctx, req)
	entry, _ := args.Get(0).(*model.LedgerEntry)
	return entry, args.Error(1)
}

func (m *MockDataSource) GetInventoryRecord(ctx context.Context, productID, locationID string) (*model.InventoryRecord, error) {
	args := m.Called(ctx, productID, locationID)
	record, _ := args.Get(0).(*model.InventoryRecord)
	return record, args.Error(1)
}

func (m *MockDataSource) GetLedgerEntries(ctx context.Context, productID, locationID string, limit, offset int) ([]model.LedgerEntry, error) {
	args := m.Called(ctx, productID, locationID, limit, offset)
	return args.Get(0).([]model.LedgerEntry), args.Error(1)
}

// Transfer methods

func (m *MockDataSource) CreateTransfer(ctx context.Context, transfer *model.StockTransfer) error {
	args := m.Called(ctx, transfer)
	return args.Error(0)
}

func (m *MockDataSource) GetTransfer(ctx context.Context, id string) (*model.StockTransfer, error) {
	args := m.Called(ctx, id)
	transfer, _ := args.Get(0).(*model.StockTransfer)
	return transfer, args.Error(1)
}

func (m *MockDataSource) UpdateTransferItem(ctx context.Context, itemID string, qtyTransferred int64) error {
	args := m.Called(ctx, itemID, qtyTransferred)
	return args.Error(0)
}

func (m *MockDataSource) UpdateTransferStatus(ctx context.Context, id string, from, to model.TransferStatus, by string, at time.Time) error {
	args := m.Called(ctx, id, from, to, by, at)
	return args.Error(0)
}

func (m *MockDataSource) CountPendingTransfersForLocation(ctx context.Context, locationID string) (int, error) {
	args := m.Called(ctx, locationID)
	return args.Int(0), args.Error(1)
}

// Webhook event methods

func (m *MockDataSource) RecordWebhookEvent(ctx context.Context, event *model.WebhookEvent) error {
	args := m.Called(ctx, event)
	return args.Error(0)
}

func (m *MockDataSource) WebhookEventExists(ctx context.Context, eventID string) (bool, error) {
	args := m.Called(ctx, eventID)
	return args.Bool(0), args.Error(1)
}

func (m *MockDataSource) GetWebhookEvent(ctx context.Context, eventID string) (*model.WebhookEvent, error) {
	args := m.Called(ctx, eventID)
	event, _ := args.Get(0).(*model.WebhookEvent)
	return event, args.Error(1)
}

func (m *MockDataSource) UpdateWebhookEventStatus(ctx context.Context, eventID string, status model.WebhookStatus, errorMessage string) error {
	args := m.Called(ctx, eventID, status, errorMessage)
	return args.Error(0)
}

func (m *MockDataSource) ListWebhookEvents(ctx context.Context, status model.WebhookStatus, limit, offset int) ([]model.WebhookEvent, error) {
	args := m.Called(ctx, status, limit, offset)
	return args.Get(0).([]model.WebhookEvent), args.Error(1)
}

// Integration methods

func (m *MockDataSource) UpsertIntegration(ctx context.Context, integration *model.Integration) (*model.Integration, error) {
	args := m.Called(ctx, integration)
	out, _ := args.Get(0).(*model.Integration)
	return out, args.Error(1)
}

func (m *MockDataSource) GetIntegration(ctx context.Context, id string) (*model.Integration, error) {
	args := m.Called(ctx, id)
	out, _ := args.Get(0).(*model.Integration)
	return out, args.Error(1)
}

func (m *MockDataSource) ListActiveIntegrations(ctx context.Context) ([]model.Integration, error) {
	args := m.Called(ctx)
	out, _ := args.Get(0).([]model.Integration)
	return out, args.Error(1)
}

func (m *MockDataSource) SetIntegrationActive(ctx context.Context, id string, active bool) error {
	args := m.Called(ctx, id, active)
	return args.Error(0)
}

func (m *MockDataSource) TouchIntegrationSync(ctx context.Context, id string, at time.Time) error {
	args := m.Called(ctx, id, at)
	return args.Error(0)
}

func (m *MockDataSource) GetProductMapping(ctx context.Context, integrationID, sku string) (*model.ProductMapping, error) {
	args := m.Called(ctx, integrationID, sku)
	out, _ := args.Get(0).(*model.ProductMapping)
	return out, args.Error(1)
}

func (m *MockDataSource) GetProductMappings(ctx context.Context, integrationID string) ([]model.ProductMapping, error) {
	args := m.Called(ctx, integrationID)
	return args.Get(0).([]model.ProductMapping), args.Error(1)
}

// Order methods

func (m *MockDataSource) CreateOrder(ctx context.Context, order *model.Order) error {
	args := m.Called(ctx, order)
	return args.Error(0)
}

func (m *MockDataSource) GetOrderByExternalID(ctx context.Context, integrationID, externalID string) (*model.Order, error) {
	args := m.Called(ctx, integrationID, externalID)
	out, _ := args.Get(0).(*model.Order)
	return out, args.Error(1)
}

func (m *MockDataSource) UpdateOrder(ctx context.Context, order *model.Order) error {
	args := m.Called(ctx, order)
	return args.Error(0)
}

// Sync log methods

func (m *MockDataSource) RecordSyncLog(ctx context.Context, log *model.IntegrationSyncLog) error {
	args := m.Called(ctx, log)
	return args.Error(0)
}

func (m *MockDataSource) GetSyncLogs(ctx context.Context, integrationID string, limit, offset int) ([]model.IntegrationSyncLog, error) {
	args := m.Called(ctx, integrationID, limit, offset)
	return args.Get(0).([]model.IntegrationSyncLog), args.Error(1)
}

func (m *MockDataSource) DeleteSyncLogsBefore(ctx context.Context, cutoff time.Time) (int64, error) {
	args := m.Called(ctx, cutoff)
	return args.Get(0).(int64), args.Error(1)
}
