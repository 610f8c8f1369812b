package api

import (
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"github.com/vibesuite/orchestrator/internal/common/errors"
	"github.com/vibesuite/orchestrator/internal/store"
)

// UpdateQueueSettingsRequest carries a partial settings update; absent
// fields are left unchanged.
type UpdateQueueSettingsRequest struct {
	Paused        *bool `json:"paused"`
	StopOnFailure *bool `json:"stopOnFailure"`
	MaxConcurrent *int  `json:"maxConcurrent"`
}

// GetQueue returns all queue entries ordered by position.
// GET /queue
func (h *Handler) GetQueue(c *gin.Context) {
	entries, err := h.store.ListQueue(c.Request.Context())
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"entries": entries, "total": len(entries)})
}

// GetQueueSettings returns the decoded queue settings.
// GET /queue/settings
func (h *Handler) GetQueueSettings(c *gin.Context) {
	settings, err := h.store.GetQueueSettings(c.Request.Context())
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, settings)
}

// UpdateQueueSettings applies a partial settings update and returns the
// resulting settings.
// POST /queue/settings
func (h *Handler) UpdateQueueSettings(c *gin.Context) {
	var req UpdateQueueSettingsRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		h.respondError(c, errors.ValidationError("request", err.Error()))
		return
	}
	if req.MaxConcurrent != nil && *req.MaxConcurrent <= 0 {
		h.respondError(c, errors.ValidationError("maxConcurrent", "must be positive"))
		return
	}

	ctx := c.Request.Context()
	if req.Paused != nil {
		if err := h.store.SetQueueSetting(ctx, store.SettingPaused, strconv.FormatBool(*req.Paused)); err != nil {
			h.respondError(c, err)
			return
		}
	}
	if req.StopOnFailure != nil {
		if err := h.store.SetQueueSetting(ctx, store.SettingStopOnFailure, strconv.FormatBool(*req.StopOnFailure)); err != nil {
			h.respondError(c, err)
			return
		}
	}
	if req.MaxConcurrent != nil {
		if err := h.store.SetQueueSetting(ctx, store.SettingMaxConcurrent, strconv.Itoa(*req.MaxConcurrent)); err != nil {
			h.respondError(c, err)
			return
		}
	}

	settings, err := h.store.GetQueueSettings(ctx)
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, settings)
}

// AddToQueue appends a task to the end of the queue.
// POST /queue/add/:taskId
func (h *Handler) AddToQueue(c *gin.Context) {
	entry, err := h.store.AddQueueEntry(c.Request.Context(), c.Param("taskId"), 0)
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusCreated, entry)
}

// RemoveFromQueue deletes a task's queue entry.
// DELETE /queue/:taskId
func (h *Handler) RemoveFromQueue(c *gin.Context) {
	taskID := c.Param("taskId")
	if err := h.store.DeleteQueueEntry(c.Request.Context(), taskID); err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"taskId": taskID, "status": "removed"})
}

// ClearQueue removes all non-terminal entries and resets their tasks.
// POST /queue/clear
func (h *Handler) ClearQueue(c *gin.Context) {
	removed, err := h.store.ClearQueue(c.Request.Context())
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"removed": removed})
}
