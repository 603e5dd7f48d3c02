package handlers

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/dealhub/escrow-backend/internal/http/handlers/common"
	"github.com/dealhub/escrow-backend/internal/service"
)

type NegotiationHandler struct {
	negotiations *service.NegotiationService
}

func NewNegotiationHandler(negotiations *service.NegotiationService) *NegotiationHandler {
	return &NegotiationHandler{negotiations: negotiations}
}

// Create POST /negotiations
func (h *NegotiationHandler) Create(c *gin.Context) {
	userID, err := common.CurrentUserID(c)
	if err != nil {
		common.RespondUnauthorized(c, err.Error())
		return
	}

	var req struct {
		ProviderID  uuid.UUID       `json:"provider_id" binding:"required"`
		Title       string          `json:"title" binding:"required"`
		Description string          `json:"description"`
		Value       decimal.Decimal `json:"value" binding:"required"`
		ExpiresAt   *time.Time      `json:"expires_at"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		common.RespondBadRequest(c, err.Error())
		return
	}

	negotiation, err := h.negotiations.Create(c.Request.Context(), userID, req.ProviderID, req.Title, req.Description, req.Value, req.ExpiresAt)
	if err != nil {
		common.RespondAppError(c, err)
		return
	}

	c.JSON(http.StatusCreated, negotiation)
}

// Get GET /negotiations/:id
func (h *NegotiationHandler) Get(c *gin.Context) {
	userID, err := common.CurrentUserID(c)
	if err != nil {
		common.RespondUnauthorized(c, err.Error())
		return
	}
	negotiationID, err := common.ParseUUIDParam(c, "id")
	if err != nil {
		common.RespondBadRequest(c, err.Error())
		return
	}

	negotiation, err := h.negotiations.Get(c.Request.Context(), negotiationID, userID)
	if err != nil {
		common.RespondAppError(c, err)
		return
	}

	c.JSON(http.StatusOK, negotiation)
}

// Decline POST /negotiations/:id/decline
func (h *NegotiationHandler) Decline(c *gin.Context) {
	userID, err := common.CurrentUserID(c)
	if err != nil {
		common.RespondUnauthorized(c, err.Error())
		return
	}
	negotiationID, err := common.ParseUUIDParam(c, "id")
	if err != nil {
		common.RespondBadRequest(c, err.Error())
		return
	}

	negotiation, err := h.negotiations.Decline(c.Request.Context(), negotiationID, userID)
	if err != nil {
		common.RespondAppError(c, err)
		return
	}

	c.JSON(http.StatusOK, negotiation)
}
