package handlers

import (
	"encoding/base64"
	"errors"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/labstack/echo/v4"

	"github.com/sableline/wagate/internal/engine"
	"github.com/sableline/wagate/internal/media"
	"github.com/sableline/wagate/internal/realtime"
	"github.com/sableline/wagate/internal/session"
)

// SessionsHandler exposes session lifecycle and messaging over REST, plus
// the WebSocket event stream.
type SessionsHandler struct {
	registry *session.Registry
	hub      *realtime.Hub
	logger   *slog.Logger
}

func NewSessionsHandler(log *slog.Logger, registry *session.Registry, hub *realtime.Hub) *SessionsHandler {
	if log == nil {
		log = slog.Default()
	}
	return &SessionsHandler{
		registry: registry,
		hub:      hub,
		logger:   log.With(slog.String("handler", "sessions")),
	}
}

func (h *SessionsHandler) Register(e *echo.Echo) {
	e.GET("/ws", h.StreamAll)

	group := e.Group("/sessions")
	group.POST("", h.CreateSession)
	group.GET("", h.ListSessions)
	group.GET("/:id", h.GetSession)
	group.DELETE("/:id", h.DeleteSession)
	group.GET("/:id/qr", h.GetQR)
	group.POST("/:id/reconnect", h.Reconnect)
	group.POST("/:id/messages", h.SendText)
	group.POST("/:id/media", h.SendMedia)
	group.POST("/:id/revoke", h.Revoke)
	group.GET("/:id/ws", h.StreamSession)
}

type createSessionRequest struct {
	ID string `json:"id" validate:"required"`
}

type sessionResponse struct {
	ID           string           `json:"id"`
	Status       string           `json:"status"`
	SelfIdentity *engine.Identity `json:"self_identity,omitempty"`
}

func toSessionResponse(info session.Info) sessionResponse {
	return sessionResponse{
		ID:           info.ID,
		Status:       string(info.Status),
		SelfIdentity: info.SelfIdentity,
	}
}

type qrResponse struct {
	Code  string `json:"code"`
	Image string `json:"image,omitempty"`
}

type sendTextRequest struct {
	To   string `json:"to" validate:"required"`
	Text string `json:"text" validate:"required"`
}

type sendMediaRequest struct {
	To       string `json:"to" validate:"required"`
	Data     string `json:"data" validate:"required"`
	MimeType string `json:"mime_type" validate:"required"`
	FileName string `json:"file_name"`
	Caption  string `json:"caption"`
	AsVoice  bool   `json:"as_voice"`
}

type revokeRequest struct {
	ChatID    string `json:"chat_id" validate:"required"`
	MessageID string `json:"message_id" validate:"required"`
}

type sentResponse struct {
	MessageID string    `json:"message_id"`
	ChatID    string    `json:"chat_id"`
	Timestamp time.Time `json:"timestamp"`
}

// CreateSession godoc
// @Summary Create a session
// @Description Register a session and start pairing in the background
// @Tags sessions
// @Param payload body createSessionRequest true "Session payload"
// @Success 201 {object} sessionResponse
// @Failure 400 {object} ErrorResponse
// @Router /sessions [post]
func (h *SessionsHandler) CreateSession(c echo.Context) error {
	var req createSessionRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	if err := c.Validate(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	s, err := h.registry.Create(c.Request().Context(), strings.TrimSpace(req.ID))
	if err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusCreated, toSessionResponse(s.Info()))
}

// ListSessions godoc
// @Summary List sessions
// @Description List live sessions in creation order
// @Tags sessions
// @Success 200 {array} sessionResponse
// @Router /sessions [get]
func (h *SessionsHandler) ListSessions(c echo.Context) error {
	infos := h.registry.List()
	out := make([]sessionResponse, 0, len(infos))
	for _, info := range infos {
		out = append(out, toSessionResponse(info))
	}
	return c.JSON(http.StatusOK, out)
}

// GetSession godoc
// @Summary Get a session
// @Tags sessions
// @Success 200 {object} sessionResponse
// @Failure 404 {object} ErrorResponse
// @Router /sessions/{id} [get]
func (h *SessionsHandler) GetSession(c echo.Context) error {
	s, err := h.registry.Get(c.Param("id"))
	if err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusOK, toSessionResponse(s.Info()))
}

// DeleteSession godoc
// @Summary Delete a session
// @Description Terminate the session and purge its stored credentials
// @Tags sessions
// @Success 204
// @Router /sessions/{id} [delete]
func (h *SessionsHandler) DeleteSession(c echo.Context) error {
	if err := h.registry.Delete(c.Request().Context(), c.Param("id")); err != nil {
		return httpError(err)
	}
	return c.NoContent(http.StatusNoContent)
}

// GetQR godoc
// @Summary Get the current pairing challenge
// @Tags sessions
// @Success 200 {object} qrResponse
// @Failure 404 {object} ErrorResponse
// @Failure 409 {object} ErrorResponse
// @Router /sessions/{id}/qr [get]
func (h *SessionsHandler) GetQR(c echo.Context) error {
	s, err := h.registry.Get(c.Param("id"))
	if err != nil {
		return httpError(err)
	}
	if s.Status() != session.StatusQR {
		return echo.NewHTTPError(http.StatusConflict, "session has no pending pairing challenge")
	}
	qr := s.QR()
	return c.JSON(http.StatusOK, qrResponse{Code: qr.Code, Image: qr.Image})
}

// Reconnect godoc
// @Summary Reconnect a session
// @Description Tear the engine down, keep credentials, and start over
// @Tags sessions
// @Success 200 {object} sessionResponse
// @Failure 404 {object} ErrorResponse
// @Router /sessions/{id}/reconnect [post]
func (h *SessionsHandler) Reconnect(c echo.Context) error {
	s, err := h.registry.Reconnect(c.Request().Context(), c.Param("id"))
	if err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusOK, toSessionResponse(s.Info()))
}

// SendText godoc
// @Summary Send a text message
// @Tags sessions
// @Param payload body sendTextRequest true "Message payload"
// @Success 200 {object} sentResponse
// @Failure 400 {object} ErrorResponse
// @Failure 409 {object} ErrorResponse
// @Router /sessions/{id}/messages [post]
func (h *SessionsHandler) SendText(c echo.Context) error {
	var req sendTextRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	if err := c.Validate(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	sent, err := h.registry.SendText(c.Request().Context(), c.Param("id"), req.To, req.Text)
	if err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusOK, sentResponse{
		MessageID: sent.ID,
		ChatID:    sent.ChatID,
		Timestamp: sent.Timestamp,
	})
}

// SendMedia godoc
// @Summary Send a media message
// @Description Send a base64-encoded attachment, optionally as a voice note
// @Tags sessions
// @Param payload body sendMediaRequest true "Media payload"
// @Success 200 {object} sentResponse
// @Failure 400 {object} ErrorResponse
// @Failure 413 {object} ErrorResponse
// @Router /sessions/{id}/media [post]
func (h *SessionsHandler) SendMedia(c echo.Context) error {
	var req sendMediaRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	if err := c.Validate(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	decoder := base64.NewDecoder(base64.StdEncoding, strings.NewReader(req.Data))
	data, err := media.ReadAllWithLimit(decoder, media.MaxPayloadBytes)
	if err != nil {
		if errors.Is(err, media.ErrTooLarge) {
			return httpError(err)
		}
		return echo.NewHTTPError(http.StatusBadRequest, "data is not valid base64")
	}
	sent, err := h.registry.SendMedia(c.Request().Context(), c.Param("id"), req.To, media.SendInput{
		Data:     data,
		MimeType: req.MimeType,
		FileName: req.FileName,
		Caption:  req.Caption,
		AsVoice:  req.AsVoice,
	})
	if err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusOK, sentResponse{
		MessageID: sent.ID,
		ChatID:    sent.ChatID,
		Timestamp: sent.Timestamp,
	})
}

// Revoke godoc
// @Summary Revoke a sent message
// @Description Delete a previously sent message for everyone
// @Tags sessions
// @Param payload body revokeRequest true "Revoke payload"
// @Success 204
// @Failure 404 {object} ErrorResponse
// @Failure 501 {object} ErrorResponse
// @Router /sessions/{id}/revoke [post]
func (h *SessionsHandler) Revoke(c echo.Context) error {
	var req revokeRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	if err := c.Validate(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	if err := h.registry.Revoke(c.Request().Context(), c.Param("id"), req.ChatID, req.MessageID); err != nil {
		return httpError(err)
	}
	return c.NoContent(http.StatusNoContent)
}

// StreamAll upgrades to a WebSocket observing every session's events,
// preceded by a snapshot of the live sessions.
func (h *SessionsHandler) StreamAll(c echo.Context) error {
	return h.hub.Serve(c.Response(), c.Request(), realtime.RoomGlobal)
}

// StreamSession upgrades to a WebSocket observing one session's events.
func (h *SessionsHandler) StreamSession(c echo.Context) error {
	id := c.Param("id")
	if _, err := h.registry.Get(id); err != nil {
		return httpError(err)
	}
	return h.hub.Serve(c.Response(), c.Request(), id)
}
