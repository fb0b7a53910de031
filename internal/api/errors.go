package api

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	apperrors "application-tracker/internal/common/errors"
)

// notFoundMessage is the single answer public lookups give for both unknown
// and expired codes.
const notFoundMessage = "This application could not be found or has expired"

func errorBody(code apperrors.ErrorCode, message string) gin.H {
	return gin.H{"error": gin.H{"code": code, "message": message}}
}

func statusOf(err error) int {
	switch {
	case errors.Is(err, apperrors.ErrInvalidInput):
		return http.StatusBadRequest
	case errors.Is(err, apperrors.ErrSessionNotFound):
		return http.StatusInternalServerError
	case errors.Is(err, apperrors.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, apperrors.ErrExpired):
		return http.StatusGone
	case errors.Is(err, apperrors.ErrConflict):
		return http.StatusConflict
	case errors.Is(err, apperrors.ErrUpstreamUnavailable):
		return http.StatusBadGateway
	default:
		if stdErr := apperrors.AsStandardError(err); stdErr.Code == apperrors.ErrCodeInvalidStatusTransition {
			return http.StatusUnprocessableEntity
		}
		return http.StatusInternalServerError
	}
}

// fail writes err with its own status: Expired and NotFound stay distinct.
func (h *handlers) fail(c *gin.Context, err error) {
	stdErr := apperrors.AsStandardError(err)
	status := statusOf(err)

	if status >= http.StatusInternalServerError {
		h.Logger.Error("request error", map[string]interface{}{
			"route": routeOf(c),
			"code":  string(stdErr.Code),
			"error": err.Error(),
		})
		c.AbortWithStatusJSON(status, errorBody(stdErr.Code, stdErr.Message))
		return
	}

	body := errorBody(stdErr.Code, stdErr.Message)
	if stdErr.Details != "" {
		body["error"].(gin.H)["details"] = stdErr.Details
	}
	if v, ok := stdErr.Metadata["validationErrors"]; ok {
		body["error"].(gin.H)["fields"] = v
	}
	c.AbortWithStatusJSON(status, body)
}

// failLookup hides whether a public code never existed or has expired.
func (h *handlers) failLookup(c *gin.Context, err error) {
	if errors.Is(err, apperrors.ErrNotFound) || errors.Is(err, apperrors.ErrExpired) {
		c.AbortWithStatusJSON(http.StatusNotFound, errorBody(apperrors.ErrCodeApplicationNotFound, notFoundMessage))
		return
	}
	h.fail(c, err)
}

// bind decodes the JSON body into dst, writing a 400 on failure.
func (h *handlers) bind(c *gin.Context, dst interface{}) bool {
	if err := c.ShouldBindJSON(dst); err != nil {
		h.fail(c, apperrors.NewInvalidInputError("malformed request body: "+err.Error()))
		return false
	}
	return true
}

// check validates a request against the named task-type schema.
func (h *handlers) check(c *gin.Context, taskType string, req interface{}) bool {
	if h.Validator == nil {
		return true
	}
	if err := h.Validator.Check(taskType, req); err != nil {
		h.fail(c, err)
		return false
	}
	return true
}
