package platform

import (
	"encoding/json"
	"time"
)

type AccessToken struct {
	Token string `json:"access_token"`
	Scope string `json:"scope"`
}

// Order is the subset of a platform order payload the reconciler consumes. The same
// shape arrives in order webhooks and in order listings.
type Order struct {
	ID                json.Number `json:"id"`
	Name              string      `json:"name"`
	Note              string      `json:"note"`
	Confirmed         bool        `json:"confirmed"`
	UpdatedAt         string      `json:"updated_at"`
	CancelledAt       *string     `json:"cancelled_at"`
	FulfillmentStatus *string     `json:"fulfillment_status"`
	LineItems         []LineItem  `json:"line_items"`
}

type LineItem struct {
	ID       json.Number `json:"id"`
	SKU      string      `json:"sku"`
	Quantity int64       `json:"quantity"`
}

// InventoryLevel is the available quantity pushed for one SKU.
type InventoryLevel struct {
	SKU       string `json:"sku"`
	Available int64  `json:"available"`
}

type ordersPage struct {
	Orders []Order `json:"orders"`
}

// ParseOrder decodes an order payload.
func ParseOrder(payload []byte) (*Order, error) {
	var o Order
	if err := json.Unmarshal(payload, &o); err != nil {
		return nil, err
	}
	return &o, nil
}

// UpdatedAtTime parses UpdatedAt, returning the zero time when absent or malformed.
func (o *Order) UpdatedAtTime() time.Time {
	t, err := time.Parse(time.RFC3339, o.UpdatedAt)
	if err != nil {
		return time.Time{}
	}
	return t
}
