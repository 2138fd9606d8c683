package handlers

import (
	"context"
	"errors"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"steward/internal/bundles"
	"steward/internal/replenish"
	"steward/pkg/logging"
	"steward/pkg/middleware"
)

var validStatuses = map[string]bool{
	replenish.StatusProcessing:     true,
	replenish.StatusSucceeded:      true,
	replenish.StatusFailed:         true,
	replenish.StatusRequiresAction: true,
}

// HandleListAttempts lists attempts, newest first.
func (h *Handlers) HandleListAttempts(c *gin.Context) {
	f := replenish.AttemptFilter{
		WorkspaceID: c.Query("workspace_id"),
		Type:        bundles.Type(c.Query("type")),
		Status:      c.Query("status"),
	}
	if f.Type != "" && !f.Type.Valid() {
		c.JSON(http.StatusBadRequest, gin.H{"error": "type must be sms or minutes"})
		return
	}
	if f.Status != "" && !validStatuses[f.Status] {
		c.JSON(http.StatusBadRequest, gin.H{"error": "unknown status"})
		return
	}
	if raw := c.Query("limit"); raw != "" {
		limit, err := strconv.Atoi(raw)
		if err != nil || limit <= 0 {
			c.JSON(http.StatusBadRequest, gin.H{"error": "limit must be a positive integer"})
			return
		}
		f.Limit = limit
	}

	attempts, err := h.service.ListAttempts(c.Request.Context(), f)
	if err != nil {
		middleware.GetContextLogger(c, h.logger).WithError(err).Error("Failed to list replenish attempts")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to list attempts"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"attempts": attempts, "count": len(attempts)})
}

// HandleReconciliation reports uncredited charges plus processing and
// requires_action attempts older than the stale window.
func (h *Handlers) HandleReconciliation(c *gin.Context) {
	report, err := h.service.Reconcile(c.Request.Context())
	if err != nil {
		middleware.GetContextLogger(c, h.logger).WithError(err).Error("Failed to build reconciliation report")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to build reconciliation report"})
		return
	}
	c.JSON(http.StatusOK, report)
}

// HandleApplyCredit credits a succeeded attempt that was never credited.
func (h *Handlers) HandleApplyCredit(c *gin.Context) {
	h.transition(c, "apply_credit", h.service.ApplyCredit)
}

// HandleRelease fails a stale processing attempt.
func (h *Handlers) HandleRelease(c *gin.Context) {
	h.transition(c, "release", h.service.Release)
}

func (h *Handlers) transition(c *gin.Context, action string, fn func(context.Context, string) (*replenish.Attempt, error)) {
	id := c.Param("id")
	if _, err := uuid.Parse(id); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid attempt id"})
		return
	}

	attempt, err := fn(c.Request.Context(), id)
	switch {
	case errors.Is(err, replenish.ErrAttemptNotFound):
		c.JSON(http.StatusNotFound, gin.H{"error": "attempt not found"})
		return
	case errors.Is(err, replenish.ErrInvalidTransition):
		c.JSON(http.StatusConflict, gin.H{"error": err.Error()})
		return
	case err != nil:
		middleware.GetContextLogger(c, h.logger).WithFields(logging.Fields{
			"attempt_id": id,
			"action":     action,
			"error":      err,
		}).Error("Replenish attempt action failed")
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}

	middleware.GetContextLogger(c, h.logger).WithFields(logging.Fields{
		"attempt_id":   id,
		"action":       action,
		"workspace_id": attempt.WorkspaceID,
	}).Info("Replenish attempt action applied")
	c.JSON(http.StatusOK, gin.H{"attempt": attempt})
}
