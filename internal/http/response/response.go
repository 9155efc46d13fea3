// Package response wraps every HTTP response in the wire envelope:
// {"request_id": "req_<hex>", "data": {...}} on success,
// {"request_id": ..., "error": {"code": CODE, "message": TEXT}} on failure.
package response

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/PoetCoderJun/autocut-backend/internal/platform/apierr"
)

type apiError struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

type successEnvelope struct {
	RequestID string `json:"request_id"`
	Data      any    `json:"data"`
}

type errorEnvelope struct {
	RequestID string   `json:"request_id"`
	Error     apiError `json:"error"`
}

// statusForCode maps an error code to its fixed HTTP status. Codes not
// listed here default to 500.
func statusForCode(code string) int {
	switch code {
	case "BAD_REQUEST":
		return http.StatusBadRequest
	case "UNAUTHORIZED":
		return http.StatusUnauthorized
	case "FORBIDDEN":
		return http.StatusForbidden
	case "NOT_FOUND":
		return http.StatusNotFound
	case "INVALID_STEP_STATE":
		return http.StatusConflict
	case "UPLOAD_TOO_LARGE":
		return http.StatusRequestEntityTooLarge
	case "UNSUPPORTED_AUDIO_FORMAT", "COUPON_CODE_INVALID", "COUPON_CODE_EXPIRED", "COUPON_CODE_EXHAUSTED":
		return http.StatusUnprocessableEntity
	case "INSUFFICIENT_CREDITS":
		return http.StatusPaymentRequired
	default:
		return http.StatusInternalServerError
	}
}

func requestID(c *gin.Context) string {
	return c.GetString("request_id")
}

// OK wraps payload in the success envelope and writes it with status 200.
func OK(c *gin.Context, payload any) {
	Status(c, http.StatusOK, payload)
}

// Status wraps payload in the success envelope with a caller-chosen status.
func Status(c *gin.Context, status int, payload any) {
	c.JSON(status, successEnvelope{RequestID: requestID(c), Data: payload})
}

// Error writes the error envelope. If err is an *apierr.Error (not a wrapped
// one) its Code drives the response, with its Status or, when that is zero,
// statusForCode(Code). Any other error is written as 500/INTERNAL_ERROR with
// a neutral message: raw internal error text never reaches a client.
func Error(c *gin.Context, err error) {
	if apiErr, ok := err.(*apierr.Error); ok {
		status := apiErr.Status
		if status == 0 {
			status = statusForCode(apiErr.Code)
		}
		writeError(c, status, apiErr.Code, apiErr.Error())
		return
	}
	writeError(c, http.StatusInternalServerError, "INTERNAL_ERROR", "internal error")
}

// ErrorCode writes a fixed code/message pair directly, for call sites that
// haven't gone through apierr.
func ErrorCode(c *gin.Context, code, message string) {
	writeError(c, statusForCode(code), code, message)
}

func writeError(c *gin.Context, status int, code, message string) {
	c.JSON(status, errorEnvelope{
		RequestID: requestID(c),
		Error:     apiError{Code: code, Message: message},
	})
}
