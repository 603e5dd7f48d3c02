package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/dealhub/escrow-backend/internal/http/handlers/common"
	"github.com/dealhub/escrow-backend/internal/models"
	"github.com/dealhub/escrow-backend/internal/service"
)

type DisputeHandler struct {
	disputes *service.DisputeService
}

func NewDisputeHandler(disputes *service.DisputeService) *DisputeHandler {
	return &DisputeHandler{disputes: disputes}
}

// evidenceRequest - дескриптор вложения, полученный от внешнего файлового
// хранилища. Сервис сохраняет только метаданные.
type evidenceRequest struct {
	FileName    string `json:"file_name" binding:"required"`
	StorageURL  string `json:"storage_url" binding:"required"`
	SizeBytes   int64  `json:"size_bytes"`
	ContentType string `json:"content_type"`
}

func toEvidence(items []evidenceRequest) []models.DisputeEvidence {
	evidence := make([]models.DisputeEvidence, 0, len(items))
	for _, item := range items {
		evidence = append(evidence, models.DisputeEvidence{
			FileName:    item.FileName,
			StorageURL:  item.StorageURL,
			SizeBytes:   item.SizeBytes,
			ContentType: item.ContentType,
		})
	}
	return evidence
}

// Open POST /orders/:id/dispute
func (h *DisputeHandler) Open(c *gin.Context) {
	userID, err := common.CurrentUserID(c)
	if err != nil {
		common.RespondUnauthorized(c, err.Error())
		return
	}
	orderID, err := common.ParseUUIDParam(c, "id")
	if err != nil {
		common.RespondBadRequest(c, err.Error())
		return
	}

	var req struct {
		Reason   string            `json:"reason" binding:"required"`
		Evidence []evidenceRequest `json:"evidence"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		common.RespondBadRequest(c, "причина спора обязательна")
		return
	}

	order, err := h.disputes.OpenDispute(c.Request.Context(), orderID, userID, req.Reason, toEvidence(req.Evidence))
	if err != nil {
		common.RespondAppError(c, err)
		return
	}

	c.JSON(http.StatusOK, order)
}

// Respond POST /orders/:id/dispute/response
func (h *DisputeHandler) Respond(c *gin.Context) {
	userID, err := common.CurrentUserID(c)
	if err != nil {
		common.RespondUnauthorized(c, err.Error())
		return
	}
	orderID, err := common.ParseUUIDParam(c, "id")
	if err != nil {
		common.RespondBadRequest(c, err.Error())
		return
	}

	var req struct {
		Response string            `json:"response" binding:"required"`
		Evidence []evidenceRequest `json:"evidence"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		common.RespondBadRequest(c, "текст возражения обязателен")
		return
	}

	order, err := h.disputes.ProviderRespond(c.Request.Context(), orderID, userID, req.Response, toEvidence(req.Evidence))
	if err != nil {
		common.RespondAppError(c, err)
		return
	}

	c.JSON(http.StatusOK, order)
}

// Resolve POST /orders/:id/dispute/resolve
// Доступно только администратору.
func (h *DisputeHandler) Resolve(c *gin.Context) {
	adminID, err := common.CurrentUserID(c)
	if err != nil {
		common.RespondUnauthorized(c, err.Error())
		return
	}
	orderID, err := common.ParseUUIDParam(c, "id")
	if err != nil {
		common.RespondBadRequest(c, err.Error())
		return
	}

	var req struct {
		Winner string `json:"winner" binding:"required"`
		Notes  string `json:"notes"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		common.RespondBadRequest(c, "требуется winner")
		return
	}

	winner, ok := models.ParseDisputeWinner(req.Winner)
	if !ok {
		common.RespondBadRequest(c, "winner должен быть requester или provider")
		return
	}

	result, err := h.disputes.ResolveDispute(c.Request.Context(), orderID, adminID, winner, req.Notes)
	if err != nil {
		common.RespondAppError(c, err)
		return
	}

	c.JSON(http.StatusOK, result)
}

// ListEvidence GET /orders/:id/dispute/evidence
func (h *DisputeHandler) ListEvidence(c *gin.Context) {
	userID, err := common.CurrentUserID(c)
	if err != nil {
		common.RespondUnauthorized(c, err.Error())
		return
	}
	orderID, err := common.ParseUUIDParam(c, "id")
	if err != nil {
		common.RespondBadRequest(c, err.Error())
		return
	}

	evidence, err := h.disputes.ListEvidence(c.Request.Context(), orderID, userID)
	if err != nil {
		common.RespondAppError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"evidence": evidence})
}
