package handlers

import (
	"errors"
	"net/http"

	"github.com/labstack/echo/v4"

	"github.com/sableline/wagate/internal/media"
	"github.com/sableline/wagate/internal/session"
)

// ErrorResponse is the JSON error body.
type ErrorResponse struct {
	Message string `json:"message"`
}

// httpError maps domain errors onto HTTP status codes.
func httpError(err error) error {
	switch {
	case errors.Is(err, session.ErrSessionNotFound),
		errors.Is(err, session.ErrMessageNotFound):
		return echo.NewHTTPError(http.StatusNotFound, err.Error())
	case errors.Is(err, session.ErrSessionNotReady):
		return echo.NewHTTPError(http.StatusConflict, err.Error())
	case errors.Is(err, session.ErrInvalidArgument),
		errors.Is(err, session.ErrInvalidRecipient),
		errors.Is(err, media.ErrInvalidMedia):
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	case errors.Is(err, media.ErrTooLarge):
		return echo.NewHTTPError(http.StatusRequestEntityTooLarge, err.Error())
	case errors.Is(err, session.ErrRevokeUnsupported):
		return echo.NewHTTPError(http.StatusNotImplemented, err.Error())
	}
	return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
}
