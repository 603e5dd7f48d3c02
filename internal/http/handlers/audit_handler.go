package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/dealhub/escrow-backend/internal/http/handlers/common"
	"github.com/dealhub/escrow-backend/internal/repository"
)

// AuditHandler отдаёт администратору журнал аудита по заказу.
type AuditHandler struct {
	audit *repository.AuditRepository
}

func NewAuditHandler(audit *repository.AuditRepository) *AuditHandler {
	return &AuditHandler{audit: audit}
}

// ListByOrder GET /admin/orders/:id/audit
func (h *AuditHandler) ListByOrder(c *gin.Context) {
	orderID, err := common.ParseUUIDParam(c, "id")
	if err != nil {
		common.RespondBadRequest(c, err.Error())
		return
	}

	entries, err := h.audit.ListByOrder(c.Request.Context(), orderID)
	if err != nil {
		common.RespondAppError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"entries": entries})
}
