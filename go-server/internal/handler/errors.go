package handler

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/fonsecaaso/linkpulse/go-server/internal/allocator"
	"github.com/fonsecaaso/linkpulse/go-server/internal/middleware"
	"github.com/fonsecaaso/linkpulse/go-server/internal/repository"
	"github.com/fonsecaaso/linkpulse/go-server/internal/resolver"
	"github.com/fonsecaaso/linkpulse/go-server/internal/service"
	"github.com/fonsecaaso/linkpulse/go-server/internal/urlgate"
)

type ErrorResponse struct {
	Error     string `json:"error"`
	Code      string `json:"code"`
	RequestID string `json:"request_id,omitempty"`
}

func respondError(c *gin.Context, status int, message, code string) {
	c.AbortWithStatusJSON(status, ErrorResponse{
		Error:     message,
		Code:      code,
		RequestID: middleware.GetRequestID(c),
	})
}

// handleError maps domain errors onto HTTP responses. Anything unrecognized
// becomes a 500 that carries no internals.
func handleError(c *gin.Context, logger *zap.Logger, err error) {
	switch {
	case errors.Is(err, urlgate.ErrInvalidDestination):
		// the rejection reason stays in the logs; it can name internal addresses
		logger.Debug("Invalid destination URL", zap.Error(err))
		respondError(c, http.StatusBadRequest, "Invalid URL", "INVALID_URL")
	case errors.Is(err, service.ErrInvalidAlias), errors.Is(err, allocator.ErrInvalidAlias):
		respondError(c, http.StatusBadRequest, service.ErrInvalidAlias.Error(), "INVALID_ALIAS")
	case errors.Is(err, service.ErrInvalidExpiry):
		respondError(c, http.StatusBadRequest, err.Error(), "INVALID_EXPIRY")
	case errors.Is(err, service.ErrInvalidRedirectKind):
		respondError(c, http.StatusBadRequest, err.Error(), "INVALID_REDIRECT_TYPE")
	case errors.Is(err, service.ErrEmptyUpdate):
		respondError(c, http.StatusBadRequest, err.Error(), "EMPTY_UPDATE")
	case errors.Is(err, service.ErrInvalidAccount):
		respondError(c, http.StatusBadRequest, err.Error(), "INVALID_PAYLOAD")
	case errors.Is(err, service.ErrUnauthenticated):
		respondError(c, http.StatusUnauthorized, "Authentication required", "UNAUTHORIZED")
	case errors.Is(err, service.ErrInvalidCredentials):
		respondError(c, http.StatusUnauthorized, "Invalid email or password", "INVALID_CREDENTIALS")
	case errors.Is(err, service.ErrForbidden):
		respondError(c, http.StatusForbidden, "You do not have access to this short URL", "FORBIDDEN")
	case errors.Is(err, repository.ErrLinkNotFound), errors.Is(err, resolver.ErrNotFound):
		respondError(c, http.StatusNotFound, "Short URL not found", "URL_NOT_FOUND")
	case errors.Is(err, allocator.ErrAliasTaken):
		respondError(c, http.StatusConflict, "Custom alias already in use", "ALIAS_TAKEN")
	case errors.Is(err, service.ErrEmailAlreadyExists):
		respondError(c, http.StatusConflict, "Email already registered", "EMAIL_EXISTS")
	case errors.Is(err, resolver.ErrExpired):
		respondError(c, http.StatusGone, "Short URL has expired", "URL_EXPIRED")
	case errors.Is(err, allocator.ErrAllocationExhausted):
		logger.Error("Short code allocation exhausted", zap.Error(err))
		respondError(c, http.StatusServiceUnavailable, "Service temporarily unavailable", "ID_GENERATION_FAILED")
	case errors.Is(err, resolver.ErrDependencyUnavailable), errors.Is(err, repository.ErrDatabaseError):
		logger.Error("Database error", zap.Error(err))
		respondError(c, http.StatusServiceUnavailable, "Service temporarily unavailable", "DB_ERROR")
	default:
		logger.Error("Unexpected error", zap.Error(err))
		respondError(c, http.StatusInternalServerError, "Internal server error", "INTERNAL_ERROR")
	}
}
