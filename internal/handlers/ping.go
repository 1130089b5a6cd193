package handlers

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/labstack/echo/v4"

	"github.com/sableline/wagate/internal/session"
)

type healthResponse struct {
	Status   string `json:"status"`
	Uptime   string `json:"uptime"`
	Sessions int    `json:"sessions"`
}

type PingHandler struct {
	logger   *slog.Logger
	registry *session.Registry
	started  time.Time
}

func NewPingHandler(log *slog.Logger, registry *session.Registry) *PingHandler {
	return &PingHandler{
		logger:   log.With(slog.String("handler", "ping")),
		registry: registry,
		started:  time.Now(),
	}
}

func (h *PingHandler) Register(e *echo.Echo) {
	e.GET("/ping", h.Ping)
	e.HEAD("/health", h.PingHead)
}

// Ping godoc
// @Summary Liveness check
// @Description Report gateway uptime and the number of managed sessions
// @Tags health
// @Success 200 {object} healthResponse
// @Router /ping [get]
func (h *PingHandler) Ping(c echo.Context) error {
	resp := healthResponse{
		Status: "ok",
		Uptime: time.Since(h.started).Round(time.Second).String(),
	}
	if h.registry != nil {
		resp.Sessions = len(h.registry.List())
	}
	return c.JSON(http.StatusOK, resp)
}

func (h *PingHandler) PingHead(c echo.Context) error {
	return c.NoContent(http.StatusOK)
}
