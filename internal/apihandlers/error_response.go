package apihandlers

import (
	"errors"
	"fmt"
	"net/http"

	"github.com/gin-gonic/gin"
	log "github.com/sirupsen/logrus"

	"discowatch/internal/discovery"
	"discowatch/internal/models"
	"discowatch/internal/poller"
	"discowatch/internal/services"
	"discowatch/internal/store"
)

// ErrorBody is the payload of every error response.
// Example: { "error": { "code": "not_found", "message": "watch not found" } }
type ErrorBody struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

type errorResponse struct {
	Error ErrorBody `json:"error"`
}

// JSONError sends a structured error response
func JSONError(ctx *gin.Context, status int, code, msg string) {
	ctx.AbortWithStatusJSON(status, errorResponse{Error: ErrorBody{Code: code, Message: msg}})
}

func BadRequest(ctx *gin.Context, msg string) {
	JSONError(ctx, http.StatusBadRequest, "bad_request", msg)
}

func NotFound(ctx *gin.Context, msg string) {
	JSONError(ctx, http.StatusNotFound, "not_found", msg)
}

func Conflict(ctx *gin.Context, msg string) {
	JSONError(ctx, http.StatusConflict, "conflict", msg)
}

func Unavailable(ctx *gin.Context, msg string) {
	JSONError(ctx, http.StatusServiceUnavailable, "unavailable", msg)
}

// Upstream reports a failed, unreachable or malformed Discovery response.
func Upstream(ctx *gin.Context, msg string) {
	JSONError(ctx, http.StatusBadGateway, "upstream_error", msg)
}

func Internal(ctx *gin.Context, msg string) {
	JSONError(ctx, http.StatusInternalServerError, "internal_error", msg)
}

// respondWithServiceError maps service and upstream errors onto HTTP responses.
func respondWithServiceError(c *gin.Context, op string, err error) {
	var apiErr *discovery.APIError
	switch {
	case errors.Is(err, models.ErrValidation), errors.Is(err, models.ErrUnknownKind):
		BadRequest(c, err.Error())
	case errors.Is(err, models.ErrNotFound):
		NotFound(c, err.Error())
	case errors.Is(err, models.ErrWatchNotRunning):
		Conflict(c, err.Error())
	case errors.Is(err, services.ErrQueueDisabled), errors.Is(err, store.ErrDisabled):
		Unavailable(c, err.Error())
	case errors.Is(err, models.ErrUnexpectedType), errors.As(err, &apiErr), poller.IsTransportError(err):
		Upstream(c, err.Error())
	default:
		log.WithError(err).Errorf("%s failed", op)
		Internal(c, fmt.Sprintf("%s: %v", op, err))
	}
}
