package model

import (
	"github.com/shelfwise/shelfwise"
	"github.com/shelfwise/shelfwise/model"
)

type StockMovement struct {
	ProductID     string  `json:"product_id"`
	LocationID    string  `json:"location_id"`
	Qty           int64   `json:"qty"`
	ReferenceType string  `json:"reference_type"`
	ReferenceID   string  `json:"reference_id"`
	LotID         *string `json:"lot_id,omitempty"`
	Reason        string  `json:"reason"`
	Notes         string  `json:"notes"`
}

func (m *StockMovement) ToStockMovement(performedBy string) shelfwise.StockMovement {
	return shelfwise.StockMovement{
		ProductID:     m.ProductID,
		LocationID:    m.LocationID,
		Qty:           m.Qty,
		ReferenceType: model.ReferenceType(m.ReferenceType),
		ReferenceID:   m.ReferenceID,
		LotID:         m.LotID,
		Reason:        m.Reason,
		Notes:         m.Notes,
		PerformedBy:   performedBy,
	}
}

type Reservation struct {
	ProductID     string `json:"product_id"`
	LocationID    string `json:"location_id"`
	Qty           int64  `json:"qty"`
	ReferenceType string `json:"reference_type"`
	ReferenceID   string `json:"reference_id"`
	Notes         string `json:"notes"`
}

func (r *Reservation) ToReservationRequest(performedBy string) shelfwise.ReservationRequest {
	return shelfwise.ReservationRequest{
		ProductID:     r.ProductID,
		LocationID:    r.LocationID,
		Qty:           r.Qty,
		ReferenceType: model.ReferenceType(r.ReferenceType),
		ReferenceID:   r.ReferenceID,
		Notes:         r.Notes,
		PerformedBy:   performedBy,
	}
}

type Release struct {
	Reservation
	AlsoDeduct bool   `json:"also_deduct"`
	DeductType string `json:"deduct_type"`
}

func (r *Release) ToReleaseRequest(performedBy string) shelfwise.ReleaseRequest {
	return shelfwise.ReleaseRequest{
		ReservationRequest: r.Reservation.ToReservationRequest(performedBy),
		AlsoDeduct:         r.AlsoDeduct,
		DeductType:         model.TransactionType(r.DeductType),
	}
}
