package handlers

import (
	"context"
	"net/http"

	"github.com/gin-gonic/gin"

	"steward/internal/replenish"
	"steward/pkg/middleware"
)

type runResponse struct {
	*replenish.Summary
	Error string `json:"error,omitempty"`
}

// HandleAutoReplenish runs one pass and returns the summary. The run is
// detached from the request context so a dropped connection does not cut a
// batch short.
func (h *Handlers) HandleAutoReplenish(c *gin.Context) {
	log := middleware.GetContextLogger(c, h.logger)
	ctx := context.WithoutCancel(c.Request.Context())

	summary, err := h.service.Run(ctx)
	if summary == nil {
		summary = &replenish.Summary{Details: []replenish.Detail{}}
	}
	if err != nil {
		log.WithError(err).Error("Auto-replenish run failed")
		c.JSON(http.StatusInternalServerError, runResponse{Summary: summary, Error: err.Error()})
		return
	}

	c.JSON(http.StatusOK, runResponse{Summary: summary})
}
