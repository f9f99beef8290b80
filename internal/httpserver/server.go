// Package httpserver exposes the signaling and session-control HTTP surface.
package httpserver

import (
	"context"
	"errors"
	"net/http"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"

	"github.com/talentloop/interviewd/internal/bootstrap"
	"github.com/talentloop/interviewd/internal/interview"
	"github.com/talentloop/interviewd/internal/rtc"
)

// Orchestrator is the slice of the application the HTTP surface drives.
type Orchestrator interface {
	StartSession(ctx context.Context, sessionID, authToken string, offer rtc.SessionDescription) (rtc.SessionDescription, error)
	EndSession(sessionID string) bool
	SessionStatus(sessionID string) (interview.Status, bool)
}

type offerRequest struct {
	Type  string `json:"type"`
	SDP   string `json:"sdp"`
	Token string `json:"token"`
}

type statusResponse struct {
	SessionID string `json:"session_id"`
	State     string `json:"state"`
	Remaining int    `json:"remaining_seconds"`
}

// New builds the echo server with all routes registered.
func New(app Orchestrator) *echo.Echo {
	e := echo.New()
	e.HideBanner = true
	e.Use(middleware.Recover())
	e.Use(middleware.CORS())

	e.GET("/healthz", func(c echo.Context) error {
		return c.JSON(http.StatusOK, map[string]string{"status": "ok"})
	})

	e.POST("/api/interviews/:id/offer", func(c echo.Context) error {
		sessionID := c.Param("id")
		var req offerRequest
		if err := c.Bind(&req); err != nil {
			return c.JSON(http.StatusBadRequest, map[string]string{"error": "invalid json"})
		}
		if req.Type != "offer" || req.SDP == "" || req.Token == "" {
			return c.JSON(http.StatusBadRequest, map[string]string{"error": "type, sdp and token are required"})
		}

		answer, err := app.StartSession(c.Request().Context(), sessionID, req.Token,
			rtc.SessionDescription{Type: req.Type, SDP: req.SDP})
		if err != nil {
			switch {
			case errors.Is(err, bootstrap.ErrSessionExists):
				return c.JSON(http.StatusConflict, map[string]string{"error": "session already running"})
			case errors.Is(err, bootstrap.ErrShuttingDown):
				return c.JSON(http.StatusServiceUnavailable, map[string]string{"error": "server shutting down"})
			default:
				return c.JSON(http.StatusBadGateway, map[string]string{"error": err.Error()})
			}
		}
		return c.JSON(http.StatusOK, answer)
	})

	e.POST("/api/interviews/:id/end", func(c echo.Context) error {
		if !app.EndSession(c.Param("id")) {
			return c.JSON(http.StatusNotFound, map[string]string{"error": "unknown session"})
		}
		return c.JSON(http.StatusOK, map[string]string{"status": "ending"})
	})

	e.GET("/api/interviews/:id", func(c echo.Context) error {
		sessionID := c.Param("id")
		status, ok := app.SessionStatus(sessionID)
		if !ok {
			return c.JSON(http.StatusNotFound, map[string]string{"error": "unknown session"})
		}
		return c.JSON(http.StatusOK, statusResponse{
			SessionID: sessionID,
			State:     status.State.String(),
			Remaining: status.Remaining,
		})
	})

	return e
}
