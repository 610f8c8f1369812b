package api

import (
	"encoding/json"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/vibesuite/orchestrator/internal/common/errors"
	"github.com/vibesuite/orchestrator/internal/events"
)

// AppendEventRequest is the body for manually injecting an event.
type AppendEventRequest struct {
	Kind    string          `json:"type" binding:"required"`
	Source  string          `json:"source"`
	Payload json.RawMessage `json:"payload"`
}

// ListEvents returns pending and processed events merged, oldest first.
// GET /events?limit=N
func (h *Handler) ListEvents(c *gin.Context) {
	evs, err := h.spool.ListAll(queryInt(c, "limit", defaultListLimit))
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"events": evs, "total": len(evs)})
}

// AppendEvent injects an event onto the spool.
// POST /events
func (h *Handler) AppendEvent(c *gin.Context) {
	var req AppendEventRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		h.respondError(c, errors.ValidationError("request", err.Error()))
		return
	}
	if !events.KnownKind(req.Kind) {
		h.respondError(c, errors.ValidationError("type", "unknown event kind"))
		return
	}
	source := req.Source
	if source == "" {
		source = "api"
	}

	ev, err := h.spool.Append(req.Kind, source, req.Payload)
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusCreated, ev)
}

// ListPendingEvents returns unprocessed events, oldest first.
// GET /events/pending
func (h *Handler) ListPendingEvents(c *gin.Context) {
	evs, err := h.spool.ListPending()
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"events": evs, "total": len(evs)})
}

// ListProcessedEvents returns handled events, oldest first.
// GET /events/processed?limit=N
func (h *Handler) ListProcessedEvents(c *gin.Context) {
	evs, err := h.spool.ListProcessed(queryInt(c, "limit", defaultListLimit))
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"events": evs, "total": len(evs)})
}

// GetEvent returns one event by ID or unambiguous ID prefix.
// GET /events/:id
func (h *Handler) GetEvent(c *gin.Context) {
	ev, err := h.spool.Get(c.Param("id"))
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, ev)
}

// MarkEventProcessed moves a pending event to the processed set.
// POST /events/:id/processed
func (h *Handler) MarkEventProcessed(c *gin.Context) {
	id := c.Param("id")
	if err := h.spool.MarkProcessed(id); err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"id": id, "status": "processed"})
}
