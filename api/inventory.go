package api

import (
	"context"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/shelfwise/shelfwise"
	"github.com/shelfwise/shelfwise/api/middleware"
	apimodel "github.com/shelfwise/shelfwise/api/model"
	"github.com/shelfwise/shelfwise/model"
)

type movementFunc func(context.Context, shelfwise.StockMovement) (*model.LedgerEntry, error)

// movement binds and validates a stock movement body, then applies it with fn.
func (a Api) movement(c *gin.Context, validate func(*apimodel.StockMovement) error, fn movementFunc) {
	var newMovement apimodel.StockMovement
	if err := c.ShouldBindJSON(&newMovement); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	if err := validate(&newMovement); err != nil {
		validationError(c, err)
		return
	}

	entry, err := fn(c.Request.Context(), newMovement.ToStockMovement(middleware.Caller(c)))
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusCreated, entry)
}

func (a Api) Receive(c *gin.Context) {
	a.movement(c, (*apimodel.StockMovement).ValidateReceive, a.shelfwise.Receive)
}

func (a Api) Adjust(c *gin.Context) {
	a.movement(c, (*apimodel.StockMovement).ValidateAdjust, a.shelfwise.Adjust)
}

func (a Api) CycleCount(c *gin.Context) {
	a.movement(c, (*apimodel.StockMovement).ValidateCycleCount, a.shelfwise.CycleCount)
}

func (a Api) WriteOffDamage(c *gin.Context) {
	a.movement(c, (*apimodel.StockMovement).ValidateReceive, a.shelfwise.WriteOffDamage)
}

func (a Api) Reserve(c *gin.Context) {
	var newReservation apimodel.Reservation
	if err := c.ShouldBindJSON(&newReservation); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	if err := newReservation.ValidateReservation(); err != nil {
		validationError(c, err)
		return
	}

	entry, err := a.shelfwise.Reserve(c.Request.Context(), newReservation.ToReservationRequest(middleware.Caller(c)))
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusCreated, entry)
}

// Release answers 200 even when nothing was reserved; the result says how much moved.
func (a Api) Release(c *gin.Context) {
	var newRelease apimodel.Release
	if err := c.ShouldBindJSON(&newRelease); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	if err := newRelease.ValidateRelease(); err != nil {
		validationError(c, err)
		return
	}

	result, err := a.shelfwise.Release(c.Request.Context(), newRelease.ToReleaseRequest(middleware.Caller(c)))
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, result)
}

func (a Api) GetInventoryRecord(c *gin.Context) {
	record, err := a.shelfwise.GetInventoryRecord(c.Request.Context(), c.Param("productId"), c.Param("locationId"))
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, record)
}

func (a Api) GetLedgerEntries(c *gin.Context) {
	limit, offset := pagination(c)
	entries, err := a.shelfwise.ListLedgerEntries(c.Request.Context(), c.Param("productId"), c.Param("locationId"), limit, offset)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, entries)
}
