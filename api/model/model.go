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

	validation "github.com/go-ozzo/ozzo-validation/v4"
	"github.com/shelfwise/shelfwise/model"
)

func referenceTypeRule(value interface{}) error {
	s, _ := value.(string)
	if s == "" || model.ReferenceType(s).Valid() {
		return nil
	}
	return fmt.Errorf("unknown reference type '%s'", s)
}

func positive(value interface{}) error {
	if n, _ := value.(int64); n <= 0 {
		return errors.New("must be greater than zero")
	}
	return nil
}

func (m *StockMovement) validateKey() []*validation.FieldRules {
	return []*validation.FieldRules{
		validation.Field(&m.ProductID, validation.Required),
		validation.Field(&m.LocationID, validation.Required),
		validation.Field(&m.ReferenceType, validation.By(referenceTypeRule)),
	}
}

// ValidateReceive also serves damage write-offs: both take a positive quantity.
func (m *StockMovement) ValidateReceive() error {
	rules := append(m.validateKey(), validation.Field(&m.Qty, validation.By(positive)))
	return validation.ValidateStruct(m, rules...)
}

func (m *StockMovement) ValidateAdjust() error {
	rules := append(m.validateKey(),
		validation.Field(&m.Qty, validation.Required.Error("cannot be zero")),
		validation.Field(&m.Reason, validation.Required),
	)
	return validation.ValidateStruct(m, rules...)
}

func (m *StockMovement) ValidateCycleCount() error {
	rules := append(m.validateKey(), validation.Field(&m.Qty, validation.Min(int64(0))))
	return validation.ValidateStruct(m, rules...)
}

func (r *Reservation) ValidateReservation() error {
	return validation.ValidateStruct(r,
		validation.Field(&r.ProductID, validation.Required),
		validation.Field(&r.LocationID, validation.Required),
		validation.Field(&r.Qty, validation.By(positive)),
		validation.Field(&r.ReferenceType, validation.By(referenceTypeRule)),
	)
}

func (r *Release) ValidateRelease() error {
	if err := r.Reservation.ValidateReservation(); err != nil {
		return err
	}
	return validation.ValidateStruct(r,
		validation.Field(&r.DeductType, validation.In(string(model.TransactionShip), string(model.TransactionPick))),
	)
}

func (t *CreateTransfer) ValidateCreateTransfer() error {
	return validation.ValidateStruct(t,
		validation.Field(&t.FromLocationID, validation.Required),
		validation.Field(&t.ToLocationID, validation.Required),
		validation.Field(&t.Items, validation.Required, validation.Each(validation.By(func(value interface{}) error {
			item, ok := value.(TransferItem)
			if !ok {
				return errors.New("invalid item")
			}
			return validation.ValidateStruct(&item,
				validation.Field(&item.ProductID, validation.Required),
				validation.Field(&item.QtyRequested, validation.By(positive)),
			)
		}))),
	)
}

func (s *SyncTrigger) ValidateSyncTrigger() error {
	return validation.ValidateStruct(s,
		validation.Field(&s.Since, validation.By(func(value interface{}) error {
			v, _ := value.(string)
			if v == "" {
				return nil
			}
			if _, err := time.Parse(time.RFC3339, v); err != nil {
				return errors.New("please format since as RFC 3339 (e.g., 2024-04-22T15:28:03Z)")
			}
			return nil
		})),
	)
}
