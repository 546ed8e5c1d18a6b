package server

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/ifuryst/autopost/internal/service"
)

type reconcileRequest struct {
	OlderThan string `json:"older_than"`
	Target    string `json:"target"`
}

func (s *Server) handleSchedulerStatus(c *gin.Context) {
	ok(c, http.StatusOK, "", s.Scheduler.Status())
}

// handleTriggerTick runs a tick right away. It is safe alongside the timer.
func (s *Server) handleTriggerTick(c *gin.Context) {
	summary, err := s.Scheduler.RunTick(c.Request.Context())
	if err != nil {
		s.respondError(c, "Server error while running scheduler", err)
		return
	}
	ok(c, http.StatusOK, "Scheduler triggered successfully", summary)
}

func (s *Server) handleReconcile(c *gin.Context) {
	var req reconcileRequest
	if c.Request.ContentLength != 0 {
		if err := c.ShouldBindJSON(&req); err != nil {
			badRequest(c, "Invalid request body: "+err.Error())
			return
		}
	}

	olderThan := s.Config.Scheduler.StaleAfterDuration()
	if req.OlderThan != "" {
		d, err := time.ParseDuration(req.OlderThan)
		if err != nil || d < 0 {
			badRequest(c, "older_than must be a duration such as 15m")
			return
		}
		olderThan = d
	}

	target, err := service.ParseReconcileTarget(req.Target)
	if err != nil {
		s.respondError(c, "Server error while reconciling", err)
		return
	}

	result, err := s.Scheduler.Reconcile(c.Request.Context(), olderThan, target)
	if err != nil {
		s.respondError(c, "Server error while reconciling", err)
		return
	}
	ok(c, http.StatusOK, "Reconciliation completed", result)
}
