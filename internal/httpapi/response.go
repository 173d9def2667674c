// Package httpapi is the engine's HTTP surface: four routes wrapping
// Intake (§4.6) with validator/v10 request binding and the flat error
// envelope of spec.md §6. Grounded on the teacher's
// internal/http/response/response.go for the respond-error/respond-ok
// split, reshaped from that file's nested {error:{message,code}} envelope
// into spec.md §6's flat {error, code, retry_after?} shape.
package httpapi

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/corwinhq/taskforge/internal/engineerr"
)

// ErrorEnvelope is spec.md §6's exact error shape.
type ErrorEnvelope struct {
	Error      string         `json:"error"`
	Code       engineerr.Code `json:"code"`
	RetryAfter int            `json:"retry_after,omitempty"`
}

var codeStatus = map[engineerr.Code]int{
	engineerr.CodeAuthRequired:    http.StatusUnauthorized,
	engineerr.CodeValidationError: http.StatusBadRequest,
	engineerr.CodeNotFound:        http.StatusNotFound,
	engineerr.CodeInvalidState:    http.StatusBadRequest,
	engineerr.CodeRateLimited:     http.StatusTooManyRequests,
	engineerr.CodeInternalError:   http.StatusInternalServerError,
}

// respondErr maps any error into spec.md §6's envelope and status code.
// Errors not carrying an *engineerr.Error are treated as internal faults
// — per §7, engine faults propagate to the caller rather than being
// swallowed.
func respondErr(c *gin.Context, err error) {
	e, ok := engineerr.As(err)
	if !ok {
		e = engineerr.Wrap(engineerr.CodeInternalError, err)
	}
	status, ok := codeStatus[e.Code]
	if !ok {
		status = http.StatusInternalServerError
	}
	c.JSON(status, ErrorEnvelope{
		Error:      e.Error(),
		Code:       e.Code,
		RetryAfter: e.RetryAfter,
	})
}

func respondJSON(c *gin.Context, status int, payload any) {
	c.JSON(status, payload)
}
