// Package handlers defines HTTP-layer error codes used across all API
// endpoints, plus the mapping from internal error values to HTTP responses.
//
// Codes are lowercase snake_case and stable: clients branch on them for
// programmatic error handling, supplementing the human-readable message.
package handlers

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/tbourn/go-delivery-console/internal/domain"
	"github.com/tbourn/go-delivery-console/internal/remote"
	"github.com/tbourn/go-delivery-console/internal/store"
)

const (
	ErrCodeBadRequest       = "bad_request"
	ErrCodeNotFound         = "not_found"
	ErrCodeConflict         = "conflict"
	ErrCodeRateLimited      = "rate_limited"
	ErrCodeInternal         = "internal_error"
	ErrCodeMethodNotAllowed = "method_not_allowed"

	// Domain-specific:
	ErrCodeValidationFailed = "validation_failed"
	ErrCodeUpstreamError    = "upstream_error"
	ErrCodeUpstreamTimeout  = "upstream_timeout"
	ErrCodeFetchFailed      = "fetch_failed"
)

// failFromErr translates an error from the coordinator or store into the
// appropriate HTTP response. Local store errors are contract violations and
// map to 404/409; remote failures map to gateway-style statuses.
func failFromErr(c *gin.Context, err error) {
	var ve *domain.ValidationError
	switch {
	case errors.As(err, &ve):
		fail(c, http.StatusBadRequest, ErrCodeValidationFailed, ve.Error())
	case errors.Is(err, domain.ErrValidation):
		fail(c, http.StatusBadRequest, ErrCodeValidationFailed, err.Error())
	case errors.Is(err, store.ErrNotFound):
		fail(c, http.StatusNotFound, ErrCodeNotFound, "delivery not found")
	case errors.Is(err, store.ErrDuplicateID):
		fail(c, http.StatusConflict, ErrCodeConflict, "delivery id already exists")
	case errors.Is(err, remote.ErrTimeout):
		fail(c, http.StatusGatewayTimeout, ErrCodeUpstreamTimeout, "backing service timed out")
	default:
		var se *remote.ServerError
		var ne *remote.NetworkError
		if errors.As(err, &se) || errors.As(err, &ne) {
			fail(c, http.StatusBadGateway, ErrCodeUpstreamError, "backing service unavailable")
			return
		}
		fail(c, http.StatusInternalServerError, ErrCodeInternal, "internal server error")
	}
}
