package api

import (
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/rs/zerolog/log"
)

type chatRequest struct {
	UserID  string `json:"user_id"`
	Message string `json:"message"`
}

type chatReply struct {
	Reply string `json:"reply"`
}

// handleChat is a synchronous completion proxy for operators testing
// the gateway. It bypasses quotas and persistence entirely.
func (s *Server) handleChat(c echo.Context) error {
	var req chatRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid body")
	}
	if strings.TrimSpace(req.Message) == "" {
		return echo.NewHTTPError(http.StatusBadRequest, "message is required")
	}

	userID := req.UserID
	if userID == "" {
		userID = "operator"
	}
	sessionID := fmt.Sprintf("chat_%s_%d", userID, time.Now().UnixMilli())

	reply, err := s.deps.Completer.Complete(c.Request().Context(), sessionID, req.Message)
	if err != nil {
		log.Error().Err(err).Str("user_id", userID).Msg("Chat completion failed")
		return echo.NewHTTPError(http.StatusBadGateway, "completion failed")
	}
	return c.JSON(http.StatusOK, chatReply{Reply: reply})
}
