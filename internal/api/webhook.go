package api

import (
	"crypto/subtle"
	"net/http"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"
	"github.com/rs/zerolog/log"

	"github.com/tagai-dao/tagclaw/pkg/models"
)

// webhookPayload is the inbound batch from the mention stream.
type webhookPayload struct {
	EventType string          `json:"event_type"`
	Tweets    []*models.Event `json:"tweets"`
}

// handleWebhook acknowledges the batch immediately and dispatches the
// events off the request goroutine, so slow downstream work never backs
// up into the sender's delivery pipeline.
func (s *Server) handleWebhook(c echo.Context) error {
	if s.deps.APIKey != "" {
		provided := c.Request().Header.Get("x-api-key")
		if subtle.ConstantTimeCompare([]byte(provided), []byte(s.deps.APIKey)) != 1 {
			return echo.NewHTTPError(http.StatusUnauthorized, "invalid api key")
		}
	}

	var payload webhookPayload
	if err := c.Bind(&payload); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid body")
	}

	traceID := uuid.NewString()
	log.Info().
		Str("trace_id", traceID).
		Str("event_type", payload.EventType).
		Int("count", len(payload.Tweets)).
		Msg("Webhook batch received")

	if payload.EventType == "tweet" && len(payload.Tweets) > 0 {
		events := payload.Tweets
		go func() {
			for _, event := range events {
				s.deps.Bot.OnEvent(event)
			}
			log.Debug().
				Str("trace_id", traceID).
				Int("count", len(events)).
				Msg("Webhook batch dispatched")
		}()
	}

	return c.JSON(http.StatusOK, map[string]interface{}{
		"status":   "received",
		"trace_id": traceID,
		"count":    len(payload.Tweets),
	})
}
