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

package model

import "time"

type Integration struct {
	ID                string     `json:"id"`
	OwnerID           string     `json:"owner_id"`
	Platform          string     `json:"platform"`
	ShopDomain        string     `json:"shop_domain"`
	AccessToken       string     `json:"-"` // encrypted at rest
	Scopes            string     `json:"scopes"`
	DefaultLocationID string     `json:"default_location_id"`
	Active            bool       `json:"active"`
	LastSyncedAt      *time.Time `json:"last_synced_at,omitempty"`
	CreatedAt         time.Time  `json:"created_at"`
}

// ProductMapping links a platform SKU to an internal product. Maintained by the
// product master-data service; read-only here.
type ProductMapping struct {
	IntegrationID string `json:"integration_id"`
	SKU           string `json:"sku"`
	ProductID     string `json:"product_id"`
}

type SyncStatus string

const (
	SyncSuccess SyncStatus = "success"
	SyncPartial SyncStatus = "partial"
	SyncFailed  SyncStatus = "failed"
)

// DeriveSyncStatus reports a batch as failed only when nothing succeeded.
func DeriveSyncStatus(processed, failed int) SyncStatus {
	switch {
	case failed == 0:
		return SyncSuccess
	case processed > 0:
		return SyncPartial
	default:
		return SyncFailed
	}
}

type IntegrationSyncLog struct {
	ID             string     `json:"id"`
	IntegrationID  string     `json:"integration_id"`
	SyncType       string     `json:"sync_type"`
	Direction      string     `json:"direction"`
	Status         SyncStatus `json:"status"`
	ItemsProcessed int        `json:"items_processed"`
	ItemsFailed    int        `json:"items_failed"`
	ErrorDetails   []string   `json:"error_details,omitempty"`
	DurationMs     int64      `json:"duration_ms"`
	TriggeredBy    string     `json:"triggered_by"`
	CreatedAt      time.Time  `json:"created_at"`
}
