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

type TransferStatus string

const (
	TransferPending   TransferStatus = "pending"
	TransferCompleted TransferStatus = "completed"
	TransferCancelled TransferStatus = "cancelled"
)

type StockTransfer struct {
	ID             string              `json:"id"`
	TransferNumber string              `json:"transfer_number"`
	FromLocationID string              `json:"from_location_id"`
	ToLocationID   string              `json:"to_location_id"`
	Status         TransferStatus      `json:"status"`
	Items          []StockTransferItem `json:"items"`
	CreatedBy      string              `json:"created_by"`
	CreatedAt      time.Time           `json:"created_at"`
	CompletedAt    *time.Time          `json:"completed_at,omitempty"`
	CompletedBy    string              `json:"completed_by,omitempty"`
}

type StockTransferItem struct {
	ID             string `json:"id"`
	TransferID     string `json:"transfer_id"`
	ProductID      string `json:"product_id"`
	QtyRequested   int64  `json:"qty_requested"`
	QtyTransferred int64  `json:"qty_transferred"`
}

func (i StockTransferItem) Moved() bool {
	return i.QtyTransferred == i.QtyRequested
}

// AnyMoved reports whether at least one item has had both legs applied.
func (t *StockTransfer) AnyMoved() bool {
	for _, item := range t.Items {
		if item.QtyTransferred > 0 {
			return true
		}
	}
	return false
}
