package shelfwise

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/shelfwise/shelfwise/internal/apierror"
	"github.com/shelfwise/shelfwise/internal/notification"
	"github.com/shelfwise/shelfwise/internal/platform"
	"github.com/shelfwise/shelfwise/model"
	"github.com/sirupsen/logrus"
	"go.opentelemetry.io/otel"
)

func orderLockKey(integrationID, externalID string) string {
	return fmt.Sprintf("order:%s:%s", integrationID, externalID)
}

func (s *Shelfwise) orderLogger(integration *model.Integration, externalID string) *logrus.Entry {
	return s.logger.WithFields(logrus.Fields{
		"integration_id": integration.ID,
		"platform":       integration.Platform,
		"external_id":    externalID,
	})
}

// lookupOrder returns nil, nil when the order has not been imported.
func (s *Shelfwise) lookupOrder(ctx context.Context, integrationID, externalID string) (*model.Order, error) {
	order, err := s.datasource.GetOrderByExternalID(ctx, integrationID, externalID)
	if apierror.HasCode(err, apierror.ErrNotFound) {
		return nil, nil
	}
	return order, err
}

func (s *Shelfwise) withOrderLock(ctx context.Context, integration *model.Integration, po *platform.Order, fn func(ctx context.Context, externalID string) error) error {
	externalID := po.ID.String()
	if externalID == "" {
		return apierror.NewAPIError(apierror.ErrInvalidInput, "order payload has no id", nil)
	}
	return s.withLock(ctx, orderLockKey(integration.ID, externalID), s.conf.Lock.OrderTimeout, func(ctx context.Context) error {
		return fn(ctx, externalID)
	})
}

// OnOrderCreated imports a platform order and reserves its lines at the integration's
// default location. Importing an order again only retries the lines an earlier import
// could not reserve, and only while the order is pending or confirmed. Reservation
// failures are noted on the order, which stays pending, and returned.
func (s *Shelfwise) OnOrderCreated(ctx context.Context, integration *model.Integration, po *platform.Order) error {
	ctx, span := otel.Tracer("shelfwise.reconciler").Start(ctx, "OnOrderCreated")
	defer span.End()

	return s.withOrderLock(ctx, integration, po, func(ctx context.Context, externalID string) error {
		return s.importOrder(ctx, integration, po, externalID)
	})
}

func (s *Shelfwise) importOrder(ctx context.Context, integration *model.Integration, po *platform.Order, externalID string) error {
	logger := s.orderLogger(integration, externalID)

	existing, err := s.lookupOrder(ctx, integration.ID, externalID)
	if err != nil {
		return err
	}
	if existing != nil {
		if !existing.Status.IsEarlyStage() || !existing.HasUnreservedLines() {
			logger.Debug("order already imported")
			return nil
		}
		// an earlier import stored the order but could not reserve every line
		if existing.LocationID == "" {
			existing.LocationID = integration.DefaultLocationID
		}
		return s.reserveOrderLines(ctx, integration, existing, logger)
	}

	now := s.now().UTC()
	order := &model.Order{
		ID:            model.GenerateUUIDWithSuffix("ord"),
		IntegrationID: integration.ID,
		ExternalID:    externalID,
		OrderNumber:   po.Name,
		Status:        model.OrderPending,
		LocationID:    integration.DefaultLocationID,
		CreatedAt:     now,
		UpdatedAt:     now,
	}
	if po.Confirmed {
		order.Status = model.OrderConfirmed
	}
	if note := strings.TrimSpace(po.Note); note != "" {
		order.AddNote("platform note: " + note)
	}

	for _, item := range po.LineItems {
		if item.Quantity <= 0 {
			continue
		}
		mapping, err := s.datasource.GetProductMapping(ctx, integration.ID, item.SKU)
		if apierror.HasCode(err, apierror.ErrNotFound) {
			order.AddNote(fmt.Sprintf("sku '%s' is not mapped to a product; line skipped", item.SKU))
			continue
		}
		if err != nil {
			return err
		}
		order.Lines = append(order.Lines, model.OrderLine{
			ProductID:    mapping.ProductID,
			SKU:          item.SKU,
			QtyRequested: item.Quantity,
		})
	}

	if err := s.datasource.CreateOrder(ctx, order); err != nil {
		if apierror.HasCode(err, apierror.ErrConflict) {
			logger.Debug("order imported concurrently")
			return nil
		}
		return err
	}

	return s.reserveOrderLines(ctx, integration, order, logger)
}

// reserveOrderLines reserves every line not yet reserved and stores the order after
// each success, so the Reserved flags always match the ledger. A line whose flag cannot
// be stored is released again. Reservation failures are noted and returned.
func (s *Shelfwise) reserveOrderLines(ctx context.Context, integration *model.Integration, order *model.Order, logger *logrus.Entry) error {
	if order.LocationID == "" {
		order.AddNote("integration has no default location; nothing reserved")
		if err := s.datasource.UpdateOrder(ctx, order); err != nil {
			return err
		}
		return apierror.NewAPIError(apierror.ErrBadRequest, fmt.Sprintf("Integration '%s' has no default location", integration.ID), nil)
	}

	performedBy := "integration:" + integration.Platform
	var reserveErrs []error
	for i, line := range order.Lines {
		if line.Reserved {
			continue
		}
		_, err := s.Reserve(ctx, ReservationRequest{
			ProductID:     line.ProductID,
			LocationID:    order.LocationID,
			Qty:           line.QtyRequested,
			ReferenceType: model.ReferenceOutboundOrder,
			ReferenceID:   order.ID,
			PerformedBy:   performedBy,
		})
		if err != nil {
			order.AddNote(fmt.Sprintf("reservation of %d x %s failed: %s", line.QtyRequested, line.SKU, err.Error()))
			reserveErrs = append(reserveErrs, fmt.Errorf("reserve %s: %w", line.SKU, err))
			continue
		}

		order.Lines[i].Reserved = true
		order.UpdatedAt = s.now().UTC()
		if err := s.datasource.UpdateOrder(ctx, order); err != nil {
			order.Lines[i].Reserved = false
			s.releaseUnrecorded(ctx, order, line, performedBy, logger)
			return errors.Join(append(reserveErrs, fmt.Errorf("record reservation of %s: %w", line.SKU, err))...)
		}
	}

	order.UpdatedAt = s.now().UTC()
	if err := s.datasource.UpdateOrder(ctx, order); err != nil {
		return err
	}
	logger.WithFields(logrus.Fields{"order_id": order.ID, "lines": len(order.Lines)}).Info("order reserved")
	return errors.Join(reserveErrs...)
}

// releaseUnrecorded undoes a reservation whose line flag could not be stored, so a later
// cancellation does not miss it.
func (s *Shelfwise) releaseUnrecorded(ctx context.Context, order *model.Order, line model.OrderLine, performedBy string, logger *logrus.Entry) {
	_, err := s.Release(context.WithoutCancel(ctx), ReleaseRequest{
		ReservationRequest: ReservationRequest{
			ProductID:     line.ProductID,
			LocationID:    order.LocationID,
			Qty:           line.QtyRequested,
			ReferenceType: model.ReferenceOutboundOrder,
			ReferenceID:   order.ID,
			Notes:         "compensation",
			PerformedBy:   performedBy,
		},
	})
	if err != nil {
		details := map[string]interface{}{
			"order_id":    order.ID,
			"product_id":  line.ProductID,
			"location_id": order.LocationID,
			"qty":         line.QtyRequested,
			"error":       err.Error(),
		}
		logger.WithFields(logrus.Fields(details)).Error("failed to release unrecorded reservation")
		s.notifier.Notify(notification.EventCompensationFailed, details)
	}
}

// OnOrderUpdated applies platform edits only while the order is pending or confirmed.
// Once fulfillment has started the update is logged and dropped. Line quantities are
// never changed after reservation.
func (s *Shelfwise) OnOrderUpdated(ctx context.Context, integration *model.Integration, po *platform.Order) error {
	ctx, span := otel.Tracer("shelfwise.reconciler").Start(ctx, "OnOrderUpdated")
	defer span.End()

	return s.withOrderLock(ctx, integration, po, func(ctx context.Context, externalID string) error {
		logger := s.orderLogger(integration, externalID)
		order, err := s.lookupOrder(ctx, integration.ID, externalID)
		if err != nil {
			return err
		}
		if order == nil {
			logger.Info("update for unknown order, importing")
			return s.importOrder(ctx, integration, po, externalID)
		}
		if !order.Status.IsEarlyStage() {
			logger.WithField("status", order.Status).Info("order update ignored, fulfillment in progress")
			return nil
		}

		changed := false
		if po.Confirmed && order.Status == model.OrderPending {
			order.Status = model.OrderConfirmed
			changed = true
		}
		if note := strings.TrimSpace(po.Note); note != "" {
			formatted := "platform note: " + note
			if !containsNote(order.Notes, formatted) {
				order.AddNote(formatted)
				changed = true
			}
		}
		if !changed {
			return nil
		}
		order.UpdatedAt = s.now().UTC()
		return s.datasource.UpdateOrder(ctx, order)
	})
}

func containsNote(notes []string, note string) bool {
	for _, n := range notes {
		if n == note {
			return true
		}
	}
	return false
}

// OnOrderCancelled cancels an order that has not shipped and releases what is still
// reserved for each line.
func (s *Shelfwise) OnOrderCancelled(ctx context.Context, integration *model.Integration, po *platform.Order) error {
	ctx, span := otel.Tracer("shelfwise.reconciler").Start(ctx, "OnOrderCancelled")
	defer span.End()

	return s.withOrderLock(ctx, integration, po, func(ctx context.Context, externalID string) error {
		logger := s.orderLogger(integration, externalID)
		order, err := s.lookupOrder(ctx, integration.ID, externalID)
		if err != nil {
			return err
		}
		switch {
		case order == nil:
			logger.Info("cancellation for unknown order ignored")
			return nil
		case order.Status == model.OrderCancelled:
			return nil
		case !order.Status.IsCancelable():
			logger.WithField("status", order.Status).Info("cancellation ignored, order already past cancelable stage")
			return nil
		}

		var releaseErrs []error
		for _, line := range order.Lines {
			remaining := line.Outstanding()
			if remaining == 0 {
				continue
			}
			if !line.Reserved {
				logger.WithField("sku", line.SKU).Debug("line was never reserved, nothing to release")
				continue
			}
			_, err := s.Release(ctx, ReleaseRequest{ReservationRequest: ReservationRequest{
				ProductID:     line.ProductID,
				LocationID:    order.LocationID,
				Qty:           remaining,
				ReferenceType: model.ReferenceOutboundOrder,
				ReferenceID:   order.ID,
				Notes:         "order cancelled",
				PerformedBy:   "integration:" + integration.Platform,
			}})
			if err != nil {
				order.AddNote(fmt.Sprintf("release of %d x %s failed: %s", remaining, line.SKU, err.Error()))
				releaseErrs = append(releaseErrs, fmt.Errorf("release %s: %w", line.SKU, err))
			}
		}

		previous := order.Status
		order.Status = model.OrderCancelled
		order.AddNote(fmt.Sprintf("cancelled by %s while %s", integration.Platform, previous))
		order.UpdatedAt = s.now().UTC()
		if err := s.datasource.UpdateOrder(ctx, order); err != nil {
			return err
		}
		logger.WithField("order_id", order.ID).Info("order cancelled")
		return errors.Join(releaseErrs...)
	})
}

// OnOrderFulfilled marks a packed order shipped. Any other status is left alone.
func (s *Shelfwise) OnOrderFulfilled(ctx context.Context, integration *model.Integration, po *platform.Order) error {
	ctx, span := otel.Tracer("shelfwise.reconciler").Start(ctx, "OnOrderFulfilled")
	defer span.End()

	return s.withOrderLock(ctx, integration, po, func(ctx context.Context, externalID string) error {
		logger := s.orderLogger(integration, externalID)
		order, err := s.lookupOrder(ctx, integration.ID, externalID)
		if err != nil {
			return err
		}
		if order == nil {
			logger.Info("fulfillment for unknown order ignored")
			return nil
		}
		if order.Status != model.OrderPacked {
			logger.WithField("status", order.Status).Info("fulfillment ignored, order is not packed")
			return nil
		}
		order.Status = model.OrderShipped
		order.AddNote(fmt.Sprintf("marked shipped by %s fulfillment", integration.Platform))
		order.UpdatedAt = s.now().UTC()
		return s.datasource.UpdateOrder(ctx, order)
	})
}

// OnAppUninstalled deactivates the integration so later deliveries are rejected.
func (s *Shelfwise) OnAppUninstalled(ctx context.Context, integration *model.Integration) error {
	if err := s.datasource.SetIntegrationActive(ctx, integration.ID, false); err != nil {
		return err
	}
	s.invalidateIntegration(ctx, integration.ID)
	s.notifier.Notify(notification.EventIntegrationDisabled, map[string]interface{}{
		"integration_id": integration.ID,
		"platform":       integration.Platform,
		"shop_domain":    integration.ShopDomain,
	})
	return nil
}
