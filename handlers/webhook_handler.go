package handlers

import (
	"log"
	"net/http"
	"time"

	"interview-system/retell"
	"interview-system/services"
	"interview-system/storage"

	"github.com/labstack/echo/v5"
)

const eventCallEnded = "call_ended"

type WebhookHandler struct {
	promoter       *services.PromotionService
	interviews     *storage.InterviewStore
	provider       *retell.Client
	maxConcurrency int
}

func NewWebhookHandler(promoter *services.PromotionService, interviews *storage.InterviewStore, provider *retell.Client, maxConcurrency int) *WebhookHandler {
	return &WebhookHandler{
		promoter:       promoter,
		interviews:     interviews,
		provider:       provider,
		maxConcurrency: maxConcurrency,
	}
}

// HandleProviderEvent receives the voice provider's event callbacks. A
// terminal call event triggers the expire-then-promote pass. The response
// is 200 whether or not a promotion occurred; the provider only needs the
// delivery acknowledged.
func (h *WebhookHandler) HandleProviderEvent(c echo.Context) error {
	var payload struct {
		Event     string `json:"event"`
		EventType string `json:"event_type"`
		Call      struct {
			CallID string `json:"call_id"`
		} `json:"call"`
	}
	if err := c.Bind(&payload); err != nil {
		return c.JSON(http.StatusBadRequest, map[string]any{"error": "Invalid payload"})
	}

	event := payload.Event
	if event == "" {
		event = payload.EventType
	}

	if event == eventCallEnded {
		ctx := c.Request().Context()

		if h.interviews != nil && payload.Call.CallID != "" {
			if err := h.interviews.MarkEnded(ctx, payload.Call.CallID, time.Now().UTC()); err != nil {
				log.Printf("Failed to mark interview ended for call %s: %v", payload.Call.CallID, err)
			}
		}

		if err := h.promoter.HandleCallEnded(ctx); err != nil {
			log.Printf("Webhook promotion error: %v", err)
		}
	}

	return c.JSON(http.StatusOK, map[string]any{"received": true})
}

// GetProviderStatus reports a single call's status (?callId=) or, without a
// call id, a concurrency snapshot.
func (h *WebhookHandler) GetProviderStatus(c echo.Context) error {
	ctx := c.Request().Context()

	if callID := c.QueryParam("callId"); callID != "" {
		call, err := h.provider.GetCall(ctx, callID)
		if err != nil {
			return c.JSON(http.StatusInternalServerError, map[string]any{"error": "Server Error"})
		}
		return c.JSON(http.StatusOK, map[string]any{"call_status": call.CallStatus})
	}

	count, err := h.provider.CountOngoingCalls(ctx)
	if err != nil {
		return c.JSON(http.StatusInternalServerError, map[string]any{"error": "Server Error"})
	}

	return c.JSON(http.StatusOK, map[string]any{
		"can_start":     count < h.maxConcurrency,
		"ongoing_count": count,
		"limit":         h.maxConcurrency,
	})
}
