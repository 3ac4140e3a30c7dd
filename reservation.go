package shelfwise

import (
	"context"
	"fmt"

	"github.com/shelfwise/shelfwise/internal/apierror"
	"github.com/shelfwise/shelfwise/internal/notification"
	"github.com/shelfwise/shelfwise/model"
	"github.com/sirupsen/logrus"
	"go.opentelemetry.io/otel"
)

type ReservationRequest struct {
	ProductID     string              `json:"product_id"`
	LocationID    string              `json:"location_id"`
	Qty           int64               `json:"qty"`
	ReferenceType model.ReferenceType `json:"reference_type"`
	ReferenceID   string              `json:"reference_id"`
	Notes         string              `json:"notes"`
	PerformedBy   string              `json:"performed_by"`
}

type ReleaseRequest struct {
	ReservationRequest
	// AlsoDeduct removes the units from on-hand as well, for fulfillment.
	AlsoDeduct bool `json:"also_deduct"`
	// DeductType is ship (default) or pick. Ignored unless AlsoDeduct is set.
	DeductType model.TransactionType `json:"deduct_type"`
}

// ReleaseResult reports what was actually released. Requested differs from Released
// when the release was clamped to the reserved quantity.
type ReleaseResult struct {
	Entry     *model.LedgerEntry `json:"entry,omitempty"`
	Requested int64              `json:"requested"`
	Released  int64              `json:"released"`
	Clamped   bool               `json:"clamped"`
}

func (r ReservationRequest) referenceType() model.ReferenceType {
	if r.ReferenceType == "" {
		return model.ReferenceOutboundOrder
	}
	return r.ReferenceType
}

// Reserve earmarks qty units of on-hand stock.
func (s *Shelfwise) Reserve(ctx context.Context, req ReservationRequest) (*model.LedgerEntry, error) {
	ctx, span := otel.Tracer("shelfwise.reservation").Start(ctx, "Reserve")
	defer span.End()

	if err := requirePositive(req.Qty); err != nil {
		return nil, err
	}
	return s.ApplyTransaction(ctx, model.TransactionRequest{
		ProductID:      req.ProductID,
		LocationID:     req.LocationID,
		ReservedChange: req.Qty,
		Type:           model.TransactionReserve,
		ReferenceType:  req.referenceType(),
		ReferenceID:    req.ReferenceID,
		Notes:          req.Notes,
		PerformedBy:    req.PerformedBy,
	})
}

// Release un-reserves up to qty units. Releasing more than is reserved is clamped to
// the reserved amount; the clamp is logged, noted on the entry, counted and reported
// to the operator channel. With AlsoDeduct the full qty also leaves on-hand.
func (s *Shelfwise) Release(ctx context.Context, req ReleaseRequest) (*ReleaseResult, error) {
	ctx, span := otel.Tracer("shelfwise.reservation").Start(ctx, "Release")
	defer span.End()

	if err := requirePositive(req.Qty); err != nil {
		return nil, err
	}
	txType := model.TransactionRelease
	if req.AlsoDeduct {
		txType = req.DeductType
		if txType == "" {
			txType = model.TransactionShip
		}
		if txType != model.TransactionShip && txType != model.TransactionPick {
			return nil, apierror.NewAPIError(apierror.ErrInvalidInput, "deduct type must be ship or pick", nil)
		}
	}

	result, err := s.release(ctx, req, txType)
	if apierror.HasCode(err, apierror.ErrInvalidReservation) {
		// reserved moved between the read and the write; clamp again from fresh state
		s.logger.WithFields(logrus.Fields{
			"product_id":  req.ProductID,
			"location_id": req.LocationID,
		}).Info("reserved quantity changed during release, retrying")
		result, err = s.release(ctx, req, txType)
	}
	if err != nil {
		span.RecordError(err)
		return nil, err
	}
	return result, nil
}

func (s *Shelfwise) release(ctx context.Context, req ReleaseRequest, txType model.TransactionType) (*ReleaseResult, error) {
	record, err := s.datasource.GetInventoryRecord(ctx, req.ProductID, req.LocationID)
	if err != nil {
		return nil, err
	}

	result := &ReleaseResult{Requested: req.Qty, Released: min(req.Qty, record.QtyReserved)}
	result.Clamped = result.Released < req.Qty

	notes := req.Notes
	if result.Clamped {
		clampNote := fmt.Sprintf("release clamped from %d to %d", req.Qty, result.Released)
		if notes != "" {
			notes = notes + "; " + clampNote
		} else {
			notes = clampNote
		}
	}

	qtyChange := int64(0)
	if req.AlsoDeduct {
		qtyChange = -req.Qty
	}
	if qtyChange == 0 && result.Released == 0 {
		s.reportClamp(req, result)
		return result, nil
	}

	entry, err := s.ApplyTransaction(ctx, model.TransactionRequest{
		ProductID:      req.ProductID,
		LocationID:     req.LocationID,
		QtyChange:      qtyChange,
		ReservedChange: -result.Released,
		Type:           txType,
		ReferenceType:  req.referenceType(),
		ReferenceID:    req.ReferenceID,
		Notes:          notes,
		PerformedBy:    req.PerformedBy,
	})
	if err != nil {
		return nil, err
	}
	result.Entry = entry
	if result.Clamped {
		s.reportClamp(req, result)
	}
	return result, nil
}

func (s *Shelfwise) reportClamp(req ReleaseRequest, result *ReleaseResult) {
	if !result.Clamped {
		return
	}
	fields := map[string]interface{}{
		"product_id":   req.ProductID,
		"location_id":  req.LocationID,
		"reference_id": req.ReferenceID,
		"requested":    result.Requested,
		"released":     result.Released,
	}
	s.logger.WithFields(logrus.Fields(fields)).Warn("release clamped to reserved quantity")
	s.metrics.ReleaseClamped()
	s.notifier.Notify(notification.EventReleaseClamped, fields)
}
