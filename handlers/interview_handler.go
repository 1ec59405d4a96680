package handlers

import (
	"errors"
	"net/http"

	"interview-system/services"
	"interview-system/status"
	"interview-system/storage"

	"github.com/labstack/echo/v5"
)

type InterviewHandler struct {
	sessions   *services.SessionService
	interviews *storage.InterviewStore
}

func NewInterviewHandler(sessions *services.SessionService, interviews *storage.InterviewStore) *InterviewHandler {
	return &InterviewHandler{
		sessions:   sessions,
		interviews: interviews,
	}
}

// StartInterview claims a reservation (or a START_NOW admission) and brings
// up the voice session. Success deletes the queue entry.
func (h *InterviewHandler) StartInterview(c echo.Context) error {
	var req struct {
		UserID  string `json:"user_id"`
		QueueID string `json:"queue_id"`
	}
	if err := c.Bind(&req); err != nil {
		return c.JSON(http.StatusBadRequest, map[string]any{"error": "Invalid request"})
	}
	if req.UserID == "" {
		return c.JSON(http.StatusBadRequest, map[string]any{"error": "user_id is required"})
	}

	rec, call, err := h.sessions.StartInterview(c.Request().Context(), services.StartInterviewParams{
		UserID:  req.UserID,
		QueueID: req.QueueID,
	})
	if err != nil {
		if errors.Is(err, status.ErrInsufficientCredits) {
			return c.JSON(http.StatusPaymentRequired, map[string]any{"error": "No interview credits remaining"})
		}
		return c.JSON(http.StatusInternalServerError, map[string]any{"error": "Failed to launch interview"})
	}

	return c.JSON(http.StatusOK, map[string]any{
		"interview_id": rec.ID,
		"call_id":      call.CallID,
		"access_token": call.AccessToken,
	})
}

// GetHistory lists the user's past interview sessions.
func (h *InterviewHandler) GetHistory(c echo.Context) error {
	userID := c.QueryParam("user_id")
	if userID == "" {
		return c.JSON(http.StatusBadRequest, map[string]any{"error": "user_id is required"})
	}

	records, err := h.interviews.ListByUser(c.Request().Context(), userID)
	if err != nil {
		return c.JSON(http.StatusInternalServerError, map[string]any{"error": "Failed to load history"})
	}

	return c.JSON(http.StatusOK, map[string]any{"interviews": records})
}
