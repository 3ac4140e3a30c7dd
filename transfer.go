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
	"fmt"
	"strings"

	"github.com/google/uuid"
	"github.com/shelfwise/shelfwise/internal/apierror"
	"github.com/shelfwise/shelfwise/internal/notification"
	"github.com/shelfwise/shelfwise/model"
	"github.com/sirupsen/logrus"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

const transferNumberAttempts = 3

type TransferItemRequest struct {
	ProductID    string `json:"product_id"`
	QtyRequested int64  `json:"qty_requested"`
}

type CreateTransferRequest struct {
	FromLocationID string                `json:"from_location_id"`
	ToLocationID   string                `json:"to_location_id"`
	Items          []TransferItemRequest `json:"items"`
	CreatedBy      string                `json:"created_by"`
}

func (r CreateTransferRequest) validate() error {
	if strings.TrimSpace(r.FromLocationID) == "" || strings.TrimSpace(r.ToLocationID) == "" {
		return apierror.NewAPIError(apierror.ErrInvalidInput, "source and destination locations are required", nil)
	}
	if r.FromLocationID == r.ToLocationID {
		return apierror.NewAPIError(apierror.ErrConflict, "Source and destination locations must be different", nil)
	}
	if len(r.Items) == 0 {
		return apierror.NewAPIError(apierror.ErrInvalidInput, "a transfer needs at least one item", nil)
	}
	seen := make(map[string]struct{}, len(r.Items))
	for _, item := range r.Items {
		if strings.TrimSpace(item.ProductID) == "" {
			return apierror.NewAPIError(apierror.ErrInvalidInput, "product_id is required for every item", nil)
		}
		if item.QtyRequested <= 0 {
			return apierror.NewAPIError(apierror.ErrInvalidInput, fmt.Sprintf("quantity for product '%s' must be greater than zero", item.ProductID), nil)
		}
		if _, dup := seen[item.ProductID]; dup {
			return apierror.NewAPIError(apierror.ErrConflict, fmt.Sprintf("Product '%s' appears more than once in transfer", item.ProductID), nil)
		}
		seen[item.ProductID] = struct{}{}
	}
	return nil
}

func (s *Shelfwise) newTransferNumber() string {
	suffix := strings.ToUpper(strings.ReplaceAll(uuid.NewString(), "-", "")[:6])
	return fmt.Sprintf("TRF-%s-%s", s.now().UTC().Format("20060102"), suffix)
}

// CreateTransfer validates and stores a pending transfer. No inventory moves until
// CompleteTransfer.
func (s *Shelfwise) CreateTransfer(ctx context.Context, req CreateTransferRequest) (*model.StockTransfer, error) {
	ctx, span := otel.Tracer("shelfwise.transfer").Start(ctx, "CreateTransfer")
	defer span.End()

	if err := req.validate(); err != nil {
		return nil, err
	}

	transfer := &model.StockTransfer{
		ID:             model.GenerateUUIDWithSuffix("trf"),
		FromLocationID: req.FromLocationID,
		ToLocationID:   req.ToLocationID,
		Status:         model.TransferPending,
		CreatedBy:      req.CreatedBy,
		CreatedAt:      s.now().UTC(),
	}
	for _, item := range req.Items {
		transfer.Items = append(transfer.Items, model.StockTransferItem{
			ID:           model.GenerateUUIDWithSuffix("tri"),
			TransferID:   transfer.ID,
			ProductID:    item.ProductID,
			QtyRequested: item.QtyRequested,
		})
	}

	var err error
	for attempt := 0; attempt < transferNumberAttempts; attempt++ {
		transfer.TransferNumber = s.newTransferNumber()
		err = s.datasource.CreateTransfer(ctx, transfer)
		if !apierror.HasCode(err, apierror.ErrConflict) {
			break
		}
	}
	if err != nil {
		span.RecordError(err)
		return nil, err
	}
	return transfer, nil
}

func (s *Shelfwise) GetTransfer(ctx context.Context, id string) (*model.StockTransfer, error) {
	return s.datasource.GetTransfer(ctx, id)
}

// CompleteTransfer moves every outstanding item, debiting the source before crediting
// the destination. A failed credit is compensated by re-crediting the source, so an
// item is either fully moved or untouched. Items moved before a failure stay moved and
// the transfer stays pending, so calling CompleteTransfer again resumes with the
// remaining items. With Transfer.AllOrNothing the earlier items are reversed as well.
func (s *Shelfwise) CompleteTransfer(ctx context.Context, id, completedBy string) (*model.StockTransfer, error) {
	ctx, span := otel.Tracer("shelfwise.transfer").Start(ctx, "CompleteTransfer",
		trace.WithAttributes(attribute.String("transfer_id", id)))
	defer span.End()

	var completed *model.StockTransfer
	err := s.withLock(ctx, "transfer:"+id, s.conf.Lock.TransferTimeout, func(ctx context.Context) error {
		transfer, err := s.datasource.GetTransfer(ctx, id)
		if err != nil {
			return err
		}
		if transfer.Status != model.TransferPending {
			return apierror.NewAPIError(apierror.ErrConflict, fmt.Sprintf("Transfer '%s' is already %s", transfer.TransferNumber, transfer.Status), nil)
		}

		var movedNow []model.StockTransferItem
		for i, item := range transfer.Items {
			if item.Moved() {
				continue
			}
			if err := s.moveItem(ctx, transfer, item, completedBy); err != nil {
				if s.conf.Transfer.AllOrNothing {
					s.rollbackItems(ctx, transfer, movedNow, completedBy)
				}
				return err
			}
			transfer.Items[i].QtyTransferred = item.QtyRequested
			movedNow = append(movedNow, transfer.Items[i])
		}

		now := s.now().UTC()
		if err := s.datasource.UpdateTransferStatus(ctx, id, model.TransferPending, model.TransferCompleted, completedBy, now); err != nil {
			return err
		}
		transfer.Status = model.TransferCompleted
		transfer.CompletedAt = &now
		transfer.CompletedBy = completedBy
		completed = transfer
		return nil
	})
	if err != nil {
		span.RecordError(err)
		return nil, err
	}

	s.logger.WithFields(logrus.Fields{
		"transfer_id":     completed.ID,
		"transfer_number": completed.TransferNumber,
		"items":           len(completed.Items),
	}).Info("transfer completed")
	return completed, nil
}

func (s *Shelfwise) transferLeg(t *model.StockTransfer, item model.StockTransferItem, locationID string, qty int64, by, notes string) model.TransactionRequest {
	return model.TransactionRequest{
		ProductID:     item.ProductID,
		LocationID:    locationID,
		QtyChange:     qty,
		Type:          model.TransactionTransfer,
		ReferenceType: model.ReferenceStockTransfer,
		ReferenceID:   t.ID,
		Reason:        t.TransferNumber,
		Notes:         notes,
		PerformedBy:   by,
	}
}

func (s *Shelfwise) moveItem(ctx context.Context, t *model.StockTransfer, item model.StockTransferItem, by string) error {
	qty := item.QtyRequested
	debit := s.transferLeg(t, item, t.FromLocationID, -qty, by, fmt.Sprintf("transfer to %s", t.ToLocationID))
	if _, err := s.ApplyTransaction(ctx, debit); err != nil {
		return fmt.Errorf("debit %s at %s: %w", item.ProductID, t.FromLocationID, err)
	}

	credit := s.transferLeg(t, item, t.ToLocationID, qty, by, fmt.Sprintf("transfer from %s", t.FromLocationID))
	if _, err := s.ApplyTransaction(ctx, credit); err != nil {
		s.compensate(ctx, t, item, by, err, s.transferLeg(t, item, t.FromLocationID, qty, by, "compensation"))
		return fmt.Errorf("credit %s at %s failed and the debit was compensated: %w", item.ProductID, t.ToLocationID, err)
	}

	if err := s.datasource.UpdateTransferItem(ctx, item.ID, qty); err != nil {
		// both legs applied but the item could not be marked, so undo them to keep
		// a retry from moving the stock twice
		s.compensate(ctx, t, item, by, err,
			s.transferLeg(t, item, t.ToLocationID, -qty, by, "compensation"),
			s.transferLeg(t, item, t.FromLocationID, qty, by, "compensation"))
		return fmt.Errorf("record transfer of %s: %w", item.ProductID, err)
	}
	return nil
}

// compensate applies reversing legs in order. A failed reversal leaves stock out of
// balance, which is escalated to the operator channel.
func (s *Shelfwise) compensate(ctx context.Context, t *model.StockTransfer, item model.StockTransferItem, by string, cause error, legs ...model.TransactionRequest) {
	ctx = context.WithoutCancel(ctx)
	for _, leg := range legs {
		if _, err := s.ApplyTransaction(ctx, leg); err != nil {
			s.metrics.TransferCompensation("failed")
			details := map[string]interface{}{
				"transfer_id":     t.ID,
				"transfer_number": t.TransferNumber,
				"product_id":      item.ProductID,
				"location_id":     leg.LocationID,
				"qty_change":      leg.QtyChange,
				"cause":           cause.Error(),
				"error":           err.Error(),
			}
			s.logger.WithFields(logrus.Fields(details)).Error("transfer compensation failed")
			s.notifier.Notify(notification.EventCompensationFailed, details)
			return
		}
	}
	s.metrics.TransferCompensation("compensated")
	s.logger.WithFields(logrus.Fields{
		"transfer_id": t.ID,
		"product_id":  item.ProductID,
		"cause":       cause.Error(),
	}).Warn("transfer leg compensated")
}

// rollbackItems reverses items moved earlier in the same completion attempt, newest
// first, and clears their transferred quantity.
func (s *Shelfwise) rollbackItems(ctx context.Context, t *model.StockTransfer, items []model.StockTransferItem, by string) {
	ctx = context.WithoutCancel(ctx)
	for i := len(items) - 1; i >= 0; i-- {
		item := items[i]
		qty := item.QtyTransferred
		s.compensate(ctx, t, item, by, errors.New("transfer rolled back"),
			s.transferLeg(t, item, t.ToLocationID, -qty, by, "rollback"),
			s.transferLeg(t, item, t.FromLocationID, qty, by, "rollback"))
		if err := s.datasource.UpdateTransferItem(ctx, item.ID, 0); err != nil {
			s.logger.WithError(err).WithField("item_id", item.ID).Error("failed to reset transferred quantity")
		}
	}
}

// CancelTransfer closes a pending transfer that has not moved any stock.
func (s *Shelfwise) CancelTransfer(ctx context.Context, id, cancelledBy string) (*model.StockTransfer, error) {
	var cancelled *model.StockTransfer
	err := s.withLock(ctx, "transfer:"+id, s.conf.Lock.TransferTimeout, func(ctx context.Context) error {
		transfer, err := s.datasource.GetTransfer(ctx, id)
		if err != nil {
			return err
		}
		if transfer.Status != model.TransferPending {
			return apierror.NewAPIError(apierror.ErrConflict, fmt.Sprintf("Transfer '%s' is already %s", transfer.TransferNumber, transfer.Status), nil)
		}
		if transfer.AnyMoved() {
			return apierror.NewAPIError(apierror.ErrConflict, fmt.Sprintf("Transfer '%s' has items already moved and cannot be cancelled", transfer.TransferNumber), nil)
		}
		if err := s.datasource.UpdateTransferStatus(ctx, id, model.TransferPending, model.TransferCancelled, cancelledBy, s.now().UTC()); err != nil {
			return err
		}
		transfer.Status = model.TransferCancelled
		cancelled = transfer
		return nil
	})
	if err != nil {
		return nil, err
	}
	return cancelled, nil
}

// HasPendingTransfersForLocation backs the location-deletion guard.
func (s *Shelfwise) HasPendingTransfersForLocation(ctx context.Context, locationID string) (bool, error) {
	n, err := s.datasource.CountPendingTransfersForLocation(ctx, locationID)
	if err != nil {
		return false, err
	}
	return n > 0, nil
}
