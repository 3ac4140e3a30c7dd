package model

import "time"

type OrderStatus string

const (
	OrderPending   OrderStatus = "pending"
	OrderConfirmed OrderStatus = "confirmed"
	OrderPicking   OrderStatus = "picking"
	OrderPacking   OrderStatus = "packing"
	OrderPacked    OrderStatus = "packed"
	OrderShipped   OrderStatus = "shipped"
	OrderDelivered OrderStatus = "delivered"
	OrderCancelled OrderStatus = "cancelled"
)

// IsEarlyStage reports whether external updates may still modify the order.
func (s OrderStatus) IsEarlyStage() bool {
	return s == OrderPending || s == OrderConfirmed
}

// IsCancelable covers pending through packed.
func (s OrderStatus) IsCancelable() bool {
	switch s {
	case OrderPending, OrderConfirmed, OrderPicking, OrderPacking, OrderPacked:
		return true
	}
	return false
}

type Order struct {
	ID            string      `json:"id"`
	IntegrationID string      `json:"integration_id"`
	ExternalID    string      `json:"external_id"`
	OrderNumber   string      `json:"order_number"`
	Status        OrderStatus `json:"status"`
	LocationID    string      `json:"location_id"`
	Lines         []OrderLine `json:"lines"`
	Notes         []string    `json:"notes"`
	CreatedAt     time.Time   `json:"created_at"`
	UpdatedAt     time.Time   `json:"updated_at"`
}

type OrderLine struct {
	ProductID    string `json:"product_id"`
	SKU          string `json:"sku"`
	QtyRequested int64  `json:"qty_requested"`
	QtyShipped   int64  `json:"qty_shipped"`
	// Reserved is set once the line's reservation was applied to the ledger.
	Reserved bool `json:"reserved"`
}

// HasUnreservedLines reports whether any line still waits for its reservation.
func (o *Order) HasUnreservedLines() bool {
	for _, line := range o.Lines {
		if !line.Reserved {
			return true
		}
	}
	return false
}

// Outstanding is what is still reserved for the line.
func (l OrderLine) Outstanding() int64 {
	if l.QtyShipped >= l.QtyRequested {
		return 0
	}
	return l.QtyRequested - l.QtyShipped
}

func (o *Order) AddNote(note string) {
	o.Notes = append(o.Notes, note)
}
