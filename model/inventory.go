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

import (
	"errors"
	"fmt"
	"time"
)

type TransactionType string

const (
	TransactionReceive        TransactionType = "receive"
	TransactionPutaway        TransactionType = "putaway"
	TransactionPick           TransactionType = "pick"
	TransactionPack           TransactionType = "pack"
	TransactionShip           TransactionType = "ship"
	TransactionAdjust         TransactionType = "adjust"
	TransactionTransfer       TransactionType = "transfer"
	TransactionReturnRestock  TransactionType = "return_restock"
	TransactionDamageWriteoff TransactionType = "damage_writeoff"
	TransactionCycleCount     TransactionType = "cycle_count"
	TransactionReserve        TransactionType = "reserve"
	TransactionRelease        TransactionType = "release"
	TransactionExpire         TransactionType = "expire"
	TransactionQuarantine     TransactionType = "quarantine"
)

var transactionTypes = map[TransactionType]struct{}{
	TransactionReceive: {}, TransactionPutaway: {}, TransactionPick: {}, TransactionPack: {},
	TransactionShip: {}, TransactionAdjust: {}, TransactionTransfer: {}, TransactionReturnRestock: {},
	TransactionDamageWriteoff: {}, TransactionCycleCount: {}, TransactionReserve: {},
	TransactionRelease: {}, TransactionExpire: {}, TransactionQuarantine: {},
}

func (t TransactionType) Valid() bool {
	_, ok := transactionTypes[t]
	return ok
}

type ReferenceType string

const (
	ReferenceInboundOrder  ReferenceType = "inbound_order"
	ReferenceOutboundOrder ReferenceType = "outbound_order"
	ReferenceReturn        ReferenceType = "return"
	ReferenceStockTransfer ReferenceType = "stock_transfer"
	ReferenceCycleCount    ReferenceType = "cycle_count"
	ReferenceManual        ReferenceType = "manual"
	ReferenceLPN           ReferenceType = "lpn"
	ReferenceWarehouseTask ReferenceType = "warehouse_task"
)

func (r ReferenceType) Valid() bool {
	switch r {
	case ReferenceInboundOrder, ReferenceOutboundOrder, ReferenceReturn, ReferenceStockTransfer,
		ReferenceCycleCount, ReferenceManual, ReferenceLPN, ReferenceWarehouseTask:
		return true
	}
	return false
}

var (
	ErrInsufficientQuantity = errors.New("insufficient quantity")
	ErrInvalidReservation   = errors.New("invalid reservation state")
)

// InvariantError describes which quantity would have been driven out of range.
type InvariantError struct {
	Field  string `json:"field"`
	Before int64  `json:"before"`
	Change int64  `json:"change"`
	After  int64  `json:"after"`
	Err    error  `json:"-"`
}

func (e *InvariantError) Error() string {
	return fmt.Sprintf("%s: %s (before=%d change=%d after=%d)", e.Err, e.Field, e.Before, e.Change, e.After)
}

func (e *InvariantError) Unwrap() error { return e.Err }

// InventoryRecord is the current (on hand, reserved) state of one product at one location.
// It is a projection of the ledger and is only ever written by ApplyTransaction.
type InventoryRecord struct {
	ProductID   string    `json:"product_id"`
	LocationID  string    `json:"location_id"`
	QtyOnHand   int64     `json:"qty_on_hand"`
	QtyReserved int64     `json:"qty_reserved"`
	UpdatedAt   time.Time `json:"updated_at"`
}

func (r InventoryRecord) Available() int64 {
	return r.QtyOnHand - r.QtyReserved
}

// TransactionRequest is the input to the ledger's single write operation.
type TransactionRequest struct {
	ProductID      string          `json:"product_id"`
	LocationID     string          `json:"location_id"`
	QtyChange      int64           `json:"qty_change"`
	ReservedChange int64           `json:"reserved_change"`
	Type           TransactionType `json:"transaction_type"`
	ReferenceType  ReferenceType   `json:"reference_type"`
	ReferenceID    string          `json:"reference_id"`
	LotID          *string         `json:"lot_id,omitempty"`
	Reason         string          `json:"reason"`
	Notes          string          `json:"notes"`
	PerformedBy    string          `json:"performed_by"`
}

type LedgerEntry struct {
	ID             string          `json:"id"`
	ProductID      string          `json:"product_id"`
	LocationID     string          `json:"location_id"`
	Type           TransactionType `json:"transaction_type"`
	QtyBefore      int64           `json:"qty_before"`
	QtyChange      int64           `json:"qty_change"`
	QtyAfter       int64           `json:"qty_after"`
	ReservedBefore int64           `json:"reserved_before"`
	ReservedChange int64           `json:"reserved_change"`
	ReservedAfter  int64           `json:"reserved_after"`
	ReferenceType  ReferenceType   `json:"reference_type"`
	ReferenceID    string          `json:"reference_id"`
	LotID          *string         `json:"lot_id,omitempty"`
	Reason         string          `json:"reason"`
	Notes          string          `json:"notes"`
	PerformedBy    string          `json:"performed_by"`
	CreatedAt      time.Time       `json:"created_at"`
}

// ComputeLedgerEntry derives the entry that applying req to current would produce,
// rejecting any result that breaks 0 <= reserved <= on_hand.
// The returned record is the state after the entry is applied.
func ComputeLedgerEntry(current InventoryRecord, req TransactionRequest, now time.Time) (LedgerEntry, InventoryRecord, error) {
	qtyAfter := current.QtyOnHand + req.QtyChange
	reservedAfter := current.QtyReserved + req.ReservedChange

	if qtyAfter < 0 {
		return LedgerEntry{}, current, &InvariantError{
			Field: "qty_on_hand", Before: current.QtyOnHand, Change: req.QtyChange, After: qtyAfter,
			Err: ErrInsufficientQuantity,
		}
	}
	if reservedAfter < 0 || reservedAfter > qtyAfter {
		return LedgerEntry{}, current, &InvariantError{
			Field: "qty_reserved", Before: current.QtyReserved, Change: req.ReservedChange, After: reservedAfter,
			Err: ErrInvalidReservation,
		}
	}

	entry := LedgerEntry{
		ID:             GenerateUUIDWithSuffix("led"),
		ProductID:      req.ProductID,
		LocationID:     req.LocationID,
		Type:           req.Type,
		QtyBefore:      current.QtyOnHand,
		QtyChange:      req.QtyChange,
		QtyAfter:       qtyAfter,
		ReservedBefore: current.QtyReserved,
		ReservedChange: req.ReservedChange,
		ReservedAfter:  reservedAfter,
		ReferenceType:  req.ReferenceType,
		ReferenceID:    req.ReferenceID,
		LotID:          req.LotID,
		Reason:         req.Reason,
		Notes:          req.Notes,
		PerformedBy:    req.PerformedBy,
		CreatedAt:      now,
	}
	next := InventoryRecord{
		ProductID:   req.ProductID,
		LocationID:  req.LocationID,
		QtyOnHand:   qtyAfter,
		QtyReserved: reservedAfter,
		UpdatedAt:   now,
	}
	return entry, next, nil
}
