package model

import "github.com/shelfwise/shelfwise"

type TransferItem struct {
	ProductID    string `json:"product_id"`
	QtyRequested int64  `json:"qty_requested"`
}

type CreateTransfer struct {
	FromLocationID string         `json:"from_location_id"`
	ToLocationID   string         `json:"to_location_id"`
	Items          []TransferItem `json:"items"`
}

func (t *CreateTransfer) ToCreateTransferRequest(createdBy string) shelfwise.CreateTransferRequest {
	req := shelfwise.CreateTransferRequest{
		FromLocationID: t.FromLocationID,
		ToLocationID:   t.ToLocationID,
		CreatedBy:      createdBy,
	}
	for _, item := range t.Items {
		req.Items = append(req.Items, shelfwise.TransferItemRequest{
			ProductID:    item.ProductID,
			QtyRequested: item.QtyRequested,
		})
	}
	return req
}
