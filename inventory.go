package shelfwise

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/shelfwise/shelfwise/internal/apierror"
	"github.com/shelfwise/shelfwise/model"
	"github.com/sirupsen/logrus"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
)

func validateTransactionRequest(req model.TransactionRequest) error {
	switch {
	case strings.TrimSpace(req.ProductID) == "":
		return apierror.NewAPIError(apierror.ErrInvalidInput, "product_id is required", nil)
	case strings.TrimSpace(req.LocationID) == "":
		return apierror.NewAPIError(apierror.ErrInvalidInput, "location_id is required", nil)
	case !req.Type.Valid():
		return apierror.NewAPIError(apierror.ErrInvalidInput, fmt.Sprintf("unknown transaction type '%s'", req.Type), nil)
	case req.ReferenceType != "" && !req.ReferenceType.Valid():
		return apierror.NewAPIError(apierror.ErrInvalidInput, fmt.Sprintf("unknown reference type '%s'", req.ReferenceType), nil)
	case req.QtyChange == 0 && req.ReservedChange == 0:
		return apierror.NewAPIError(apierror.ErrInvalidInput, "transaction changes neither on hand nor reserved quantity", nil)
	}
	return nil
}

// ApplyTransaction is the only path that changes on-hand or reserved quantities. The
// datasource performs the read, validation, ledger append and record update atomically
// per (product, location).
func (s *Shelfwise) ApplyTransaction(ctx context.Context, req model.TransactionRequest) (*model.LedgerEntry, error) {
	ctx, span := otel.Tracer("shelfwise.inventory").Start(ctx, "ApplyTransaction")
	defer span.End()
	span.SetAttributes(
		attribute.String("product_id", req.ProductID),
		attribute.String("location_id", req.LocationID),
		attribute.String("transaction_type", string(req.Type)),
	)

	if err := validateTransactionRequest(req); err != nil {
		return nil, err
	}

	entry, err := s.datasource.ApplyTransaction(ctx, req)
	if err != nil {
		span.RecordError(err)
		var apiErr apierror.APIError
		code := string(apierror.ErrInternalServer)
		if errors.As(err, &apiErr) {
			code = string(apiErr.Code)
		}
		s.metrics.LedgerRejected(string(req.Type), code)
		return nil, err
	}

	s.metrics.LedgerWrite(string(req.Type))
	s.logger.WithFields(logrus.Fields{
		"ledger_id":       entry.ID,
		"product_id":      entry.ProductID,
		"location_id":     entry.LocationID,
		"type":            entry.Type,
		"qty_change":      entry.QtyChange,
		"reserved_change": entry.ReservedChange,
	}).Debug("ledger entry applied")
	return entry, nil
}

// StockMovement is an operator action on one (product, location).
type StockMovement struct {
	ProductID     string              `json:"product_id"`
	LocationID    string              `json:"location_id"`
	Qty           int64               `json:"qty"`
	ReferenceType model.ReferenceType `json:"reference_type"`
	ReferenceID   string              `json:"reference_id"`
	LotID         *string             `json:"lot_id,omitempty"`
	Reason        string              `json:"reason"`
	Notes         string              `json:"notes"`
	PerformedBy   string              `json:"performed_by"`
}

func (m StockMovement) request(qtyChange int64, txType model.TransactionType, defaultRef model.ReferenceType) model.TransactionRequest {
	ref := m.ReferenceType
	if ref == "" {
		ref = defaultRef
	}
	return model.TransactionRequest{
		ProductID:     m.ProductID,
		LocationID:    m.LocationID,
		QtyChange:     qtyChange,
		Type:          txType,
		ReferenceType: ref,
		ReferenceID:   m.ReferenceID,
		LotID:         m.LotID,
		Reason:        m.Reason,
		Notes:         m.Notes,
		PerformedBy:   m.PerformedBy,
	}
}

func requirePositive(qty int64) error {
	if qty <= 0 {
		return apierror.NewAPIError(apierror.ErrInvalidInput, "quantity must be greater than zero", nil)
	}
	return nil
}

// Receive books inbound stock.
func (s *Shelfwise) Receive(ctx context.Context, m StockMovement) (*model.LedgerEntry, error) {
	if err := requirePositive(m.Qty); err != nil {
		return nil, err
	}
	return s.ApplyTransaction(ctx, m.request(m.Qty, model.TransactionReceive, model.ReferenceInboundOrder))
}

// Adjust applies a signed correction. Qty may be negative but not zero.
func (s *Shelfwise) Adjust(ctx context.Context, m StockMovement) (*model.LedgerEntry, error) {
	if m.Qty == 0 {
		return nil, apierror.NewAPIError(apierror.ErrInvalidInput, "adjustment quantity cannot be zero", nil)
	}
	if strings.TrimSpace(m.Reason) == "" {
		return nil, apierror.NewAPIError(apierror.ErrInvalidInput, "a reason is required for adjustments", nil)
	}
	entry, err := s.ApplyTransaction(ctx, m.request(m.Qty, model.TransactionAdjust, model.ReferenceManual))
	if apierror.HasCode(err, apierror.ErrInsufficientQuantity) {
		return nil, apierror.NewAPIError(apierror.ErrInsufficientQuantity, "Adjustment would result in negative inventory", errorDetails(err))
	}
	return entry, err
}

// CycleCount sets on-hand to the counted quantity by booking the difference. A count
// that matches the record writes nothing and returns a nil entry.
func (s *Shelfwise) CycleCount(ctx context.Context, m StockMovement) (*model.LedgerEntry, error) {
	if m.Qty < 0 {
		return nil, apierror.NewAPIError(apierror.ErrInvalidInput, "counted quantity cannot be negative", nil)
	}
	record, err := s.datasource.GetInventoryRecord(ctx, m.ProductID, m.LocationID)
	if err != nil {
		return nil, err
	}
	delta := m.Qty - record.QtyOnHand
	if delta == 0 {
		return nil, nil
	}
	entry, err := s.ApplyTransaction(ctx, m.request(delta, model.TransactionCycleCount, model.ReferenceCycleCount))
	if apierror.HasCode(err, apierror.ErrInvalidReservation) {
		return nil, apierror.NewAPIError(apierror.ErrInvalidReservation,
			fmt.Sprintf("Counted quantity %d is below the %d units currently reserved", m.Qty, record.QtyReserved), errorDetails(err))
	}
	return entry, err
}

func (s *Shelfwise) WriteOffDamage(ctx context.Context, m StockMovement) (*model.LedgerEntry, error) {
	if err := requirePositive(m.Qty); err != nil {
		return nil, err
	}
	return s.ApplyTransaction(ctx, m.request(-m.Qty, model.TransactionDamageWriteoff, model.ReferenceManual))
}

func (s *Shelfwise) GetInventoryRecord(ctx context.Context, productID, locationID string) (*model.InventoryRecord, error) {
	return s.datasource.GetInventoryRecord(ctx, productID, locationID)
}

// ListLedgerEntries returns the audit trail for one key, newest first.
func (s *Shelfwise) ListLedgerEntries(ctx context.Context, productID, locationID string, limit, offset int) ([]model.LedgerEntry, error) {
	return s.datasource.GetLedgerEntries(ctx, productID, locationID, limit, offset)
}

func errorDetails(err error) interface{} {
	var apiErr apierror.APIError
	if errors.As(err, &apiErr) {
		return apiErr.Details
	}
	return nil
}
