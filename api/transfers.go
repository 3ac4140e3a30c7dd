package api

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/shelfwise/shelfwise/api/middleware"
	apimodel "github.com/shelfwise/shelfwise/api/model"
)

func (a Api) CreateTransfer(c *gin.Context) {
	var newTransfer apimodel.CreateTransfer
	if err := c.ShouldBindJSON(&newTransfer); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	if err := newTransfer.ValidateCreateTransfer(); err != nil {
		validationError(c, err)
		return
	}

	transfer, err := a.shelfwise.CreateTransfer(c.Request.Context(), newTransfer.ToCreateTransferRequest(middleware.Caller(c)))
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusCreated, transfer)
}

func (a Api) GetTransfer(c *gin.Context) {
	transfer, err := a.shelfwise.GetTransfer(c.Request.Context(), c.Param("id"))
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, transfer)
}

// CompleteTransfer reports the first failing item. Items moved before it stay moved
// unless Transfer.AllOrNothing is set, and a retry resumes from there.
func (a Api) CompleteTransfer(c *gin.Context) {
	transfer, err := a.shelfwise.CompleteTransfer(c.Request.Context(), c.Param("id"), middleware.Caller(c))
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, transfer)
}

func (a Api) CancelTransfer(c *gin.Context) {
	transfer, err := a.shelfwise.CancelTransfer(c.Request.Context(), c.Param("id"), middleware.Caller(c))
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, transfer)
}

func (a Api) GetPendingTransfers(c *gin.Context) {
	pending, err := a.shelfwise.HasPendingTransfersForLocation(c.Request.Context(), c.Param("id"))
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"location_id": c.Param("id"), "has_pending_transfers": pending})
}
