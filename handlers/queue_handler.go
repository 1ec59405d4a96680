package handlers

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/url"

	"interview-system/models"
	"interview-system/monitoring"
	"interview-system/services"
	"interview-system/status"

	"github.com/labstack/echo/v5"
)

type QueueHandler struct {
	admission *services.AdmissionService
	store     *services.QueueStore
	monitor   *monitoring.Monitor
}

func NewQueueHandler(admission *services.AdmissionService, store *services.QueueStore, monitor *monitoring.Monitor) *QueueHandler {
	return &QueueHandler{
		admission: admission,
		store:     store,
		monitor:   monitor,
	}
}

// JoinQueue is the admission entry point: START_NOW or ENQUEUE with a
// queue id.
func (h *QueueHandler) JoinQueue(c echo.Context) error {
	var req struct {
		UserID string `json:"user_id"`
	}
	if err := c.Bind(&req); err != nil {
		return c.JSON(http.StatusBadRequest, map[string]any{"error": "Invalid request"})
	}
	if req.UserID == "" {
		return c.JSON(http.StatusBadRequest, map[string]any{"error": "user_id is required"})
	}

	decision, err := h.admission.JoinQueueOrStart(c.Request().Context(), req.UserID)
	if err != nil {
		switch {
		case errors.Is(err, status.ErrInsufficientCredits):
			return c.JSON(http.StatusPaymentRequired, map[string]any{"error": "No interview credits remaining"})
		case errors.Is(err, status.ErrCapacityQuery):
			return c.JSON(http.StatusServiceUnavailable, map[string]any{"error": "Capacity check failed. Please try again."})
		default:
			return c.JSON(http.StatusInternalServerError, map[string]any{"error": "Failed to join queue"})
		}
	}

	return c.JSON(http.StatusOK, decision)
}

// LeaveQueue releases a queue slot immediately. The body arrives either as
// JSON {"queueId": ...} or urlencoded queueId=... — the latter is what the
// browser's unload beacon sends. Unknown ids succeed: leave is idempotent.
func (h *QueueHandler) LeaveQueue(c echo.Context) error {
	rawBody, err := io.ReadAll(c.Request().Body)
	if err != nil || len(rawBody) == 0 {
		return c.JSON(http.StatusBadRequest, map[string]any{"error": "Empty"})
	}

	queueID := parseLeaveBody(rawBody)
	if queueID == "" {
		return c.JSON(http.StatusBadRequest, map[string]any{"error": "Invalid ID"})
	}

	if err := h.store.Delete(c.Request().Context(), queueID); err != nil {
		return c.JSON(http.StatusInternalServerError, map[string]any{"error": err.Error()})
	}
	h.monitor.TrackLeave()

	return c.JSON(http.StatusOK, map[string]any{"success": true})
}

func parseLeaveBody(rawBody []byte) string {
	var body struct {
		QueueID string `json:"queueId"`
	}
	if err := json.Unmarshal(rawBody, &body); err == nil && body.QueueID != "" {
		return body.QueueID
	}

	// Fallback: urlencoded beacon payload
	if params, err := url.ParseQuery(string(rawBody)); err == nil {
		return params.Get("queueId")
	}
	return ""
}

// GetQueueStatus is the polling fallback for the waiting room: entry status
// plus the 1-based position among waiting entries. A missing entry reports
// expired, matching how the change feed treats deletion.
func (h *QueueHandler) GetQueueStatus(c echo.Context) error {
	queueID := c.QueryParam("id")
	if queueID == "" {
		return c.JSON(http.StatusBadRequest, map[string]any{"error": "id is required"})
	}

	ctx := c.Request().Context()

	entry, err := h.store.Get(ctx, queueID)
	if errors.Is(err, status.ErrEntryNotFound) {
		return c.JSON(http.StatusOK, map[string]any{"status": "expired"})
	}
	if err != nil {
		return c.JSON(http.StatusInternalServerError, map[string]any{"error": "Failed to load entry"})
	}

	resp := map[string]any{"status": string(entry.Status)}
	if entry.Status == models.StatusReserved {
		resp["timer_ends_at"] = entry.TimerEndsAt.UnixMilli()
	}
	if entry.Status == models.StatusWaiting {
		ids, err := h.store.ListWaitingIDs(ctx, 0)
		if err == nil {
			for i, id := range ids {
				if id == queueID {
					resp["position"] = i + 1
					break
				}
			}
		}
	}

	return c.JSON(http.StatusOK, resp)
}
