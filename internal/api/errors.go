package api

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/kicet3/AIMEX-back-sub002/internal/gpu"
	"github.com/kicet3/AIMEX-back-sub002/internal/session"
)

var ErrInvalidRequest = errors.New("invalid request")

func respondError(c *gin.Context, code int, err error) {
	c.JSON(code, ErrorResponse{
		Error: err.Error(),
		Code:  code,
	})
}

func respondErrorWithDetails(c *gin.Context, code int, err error, details string) {
	c.JSON(code, ErrorResponse{
		Error:   err.Error(),
		Code:    code,
		Details: details,
	})
}

func mapError(err error) int {
	switch {
	case err == nil:
		return http.StatusOK
	case errors.Is(err, session.ErrSessionNotFound), errors.Is(err, gpu.ErrEndpointNotFound):
		return http.StatusNotFound
	case errors.Is(err, session.ErrInvalidState):
		return http.StatusConflict
	case errors.Is(err, gpu.ErrReadinessTimeout),
		errors.Is(err, gpu.ErrProvisioning),
		errors.Is(err, gpu.ErrManualProvisioningRequired):
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}
