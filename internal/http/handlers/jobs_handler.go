package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/dealhub/escrow-backend/internal/scheduler"
)

// JobsHandler позволяет администратору запустить фоновую задачу вручную,
// не дожидаясь тика планировщика.
type JobsHandler struct {
	scheduler *scheduler.Scheduler
}

func NewJobsHandler(s *scheduler.Scheduler) *JobsHandler {
	return &JobsHandler{scheduler: s}
}

// RunAutoConfirm POST /admin/jobs/auto-confirm
func (h *JobsHandler) RunAutoConfirm(c *gin.Context) {
	result := h.scheduler.RunAutoConfirm(c.Request.Context())
	c.JSON(http.StatusOK, result)
}

// RunExpiration POST /admin/jobs/expiration
func (h *JobsHandler) RunExpiration(c *gin.Context) {
	result := h.scheduler.RunExpiration(c.Request.Context())
	c.JSON(http.StatusOK, result)
}
