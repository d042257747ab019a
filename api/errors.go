package api

import (
	"errors"
	"math"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/xraph/courier"
)

// ErrorResponse is the body of every non-2xx response.
type ErrorResponse struct {
	Error   string     `json:"error"`
	Code    string     `json:"code"`
	RetryAt *time.Time `json:"retry_at,omitempty"`
	Limit   int64      `json:"limit,omitempty"`
	Used    int64      `json:"used,omitempty"`
}

// writeError maps err to a status code and writes it. Retry-After is
// measured against the engine clock.
func (a *API) writeError(c *gin.Context, err error) {
	_ = c.Error(err)

	var rej *courier.RejectionError
	if errors.As(err, &rej) {
		resp := ErrorResponse{Error: rej.Error(), Limit: rej.Limit, Used: rej.Used}
		status := http.StatusConflict
		resp.Code = "duplicate_content"
		if errors.Is(rej, courier.ErrQuotaExceeded) {
			status = http.StatusTooManyRequests
			resp.Code = "quota_exceeded"
		}
		if !rej.RetryAt.IsZero() {
			retryAt := rej.RetryAt.UTC()
			resp.RetryAt = &retryAt
			secs := int64(math.Ceil(retryAt.Sub(a.now()).Seconds()))
			if secs > 0 {
				c.Header("Retry-After", strconv.FormatInt(secs, 10))
			}
		}
		c.JSON(status, resp)
		return
	}

	status, code := http.StatusInternalServerError, "internal"
	switch {
	case errors.Is(err, courier.ErrInvalidJob):
		status, code = http.StatusBadRequest, "invalid_request"
	case isNotFound(err):
		status, code = http.StatusNotFound, "not_found"
	case errors.Is(err, courier.ErrInvalidTransition), errors.Is(err, courier.ErrIdempotencyConflict):
		status, code = http.StatusConflict, "conflict"
	case errors.Is(err, courier.ErrStoreUnavailable):
		status, code = http.StatusServiceUnavailable, "unavailable"
	}
	c.JSON(status, ErrorResponse{Error: err.Error(), Code: code})
}

func badRequest(c *gin.Context, msg string) {
	c.JSON(http.StatusBadRequest, ErrorResponse{Error: msg, Code: "invalid_request"})
}

func isNotFound(err error) bool {
	return errors.Is(err, courier.ErrJobNotFound) ||
		errors.Is(err, courier.ErrDLQNotFound)
}

func defaultLimit(limit int) int {
	if limit <= 0 {
		return 50
	}
	if limit > 500 {
		return 500
	}
	return limit
}
