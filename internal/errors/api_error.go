package errors

import (
	"net/http"

	"github.com/gin-gonic/gin"
)

// APIError represents a simple standardized error response.
type APIError struct {
	Detail string `json:"detail"`
}

// NewAPIError creates a new APIError with the given message.
func NewAPIError(detail string) *APIError {
	return &APIError{Detail: detail}
}

// AbortWithNotFound sends a 404 Not Found response and aborts the request.
func AbortWithNotFound(c *gin.Context, detail string) {
	c.AbortWithStatusJSON(http.StatusNotFound, NewAPIError(detail))
}

// AbortWithUnauthorized sends a 401 Unauthorized response and aborts the request.
func AbortWithUnauthorized(c *gin.Context, detail string) {
	c.AbortWithStatusJSON(http.StatusUnauthorized, NewAPIError(detail))
}

// AbortWithForbidden sends a 403 Forbidden response and aborts the request.
func AbortWithForbidden(c *gin.Context, detail string) {
	c.AbortWithStatusJSON(http.StatusForbidden, NewAPIError(detail))
}

// AbortWithBadRequest sends a 400 Bad Request response and aborts the request.
func AbortWithBadRequest(c *gin.Context, detail string) {
	c.AbortWithStatusJSON(http.StatusBadRequest, NewAPIError(detail))
}
