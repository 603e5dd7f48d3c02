package handlers

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/shopspring/decimal"

	"github.com/dealhub/escrow-backend/internal/http/handlers/common"
	"github.com/dealhub/escrow-backend/internal/models"
	"github.com/dealhub/escrow-backend/internal/service"
)

type FeeHandler struct {
	fees *service.FeeService
}

func NewFeeHandler(fees *service.FeeService) *FeeHandler {
	return &FeeHandler{fees: fees}
}

// Get GET /admin/fees
func (h *FeeHandler) Get(c *gin.Context) {
	settings, err := h.fees.Snapshot(c.Request.Context())
	if err != nil {
		common.RespondAppError(c, err)
		return
	}

	c.JSON(http.StatusOK, settings)
}

// Update PUT /admin/fees
// Меняет глобальные ставки. Снимки в существующих заказах не затрагиваются.
func (h *FeeHandler) Update(c *gin.Context) {
	var req struct {
		PlatformFeePercentage     decimal.Decimal `json:"platform_fee_percentage"`
		ContestationFee           decimal.Decimal `json:"contestation_fee"`
		CancellationFeePercentage decimal.Decimal `json:"cancellation_fee_percentage"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		common.RespondBadRequest(c, err.Error())
		return
	}

	settings := &models.FeeSettings{
		PlatformFeePercentage:     req.PlatformFeePercentage,
		ContestationFee:           req.ContestationFee,
		CancellationFeePercentage: req.CancellationFeePercentage,
		UpdatedAt:                 time.Now(),
	}
	if err := h.fees.UpdateSettings(c.Request.Context(), settings); err != nil {
		common.RespondAppError(c, err)
		return
	}

	c.JSON(http.StatusOK, settings)
}
