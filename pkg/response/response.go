package response

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"gorm.io/gorm"

	"github.com/ShayanSpiel/fallenempire-sub002/internal/types"
)

// Response represents a standardized API response
type Response struct {
	Success bool        `json:"success"`
	Data    interface{} `json:"data,omitempty"`
	Error   *Error      `json:"error,omitempty"`
}

// Error represents an error response
type Error struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// Common error codes
const (
	ErrCodeNotFound           = "NOT_FOUND"
	ErrCodeBadRequest         = "BAD_REQUEST"
	ErrCodeUnauthorized       = "UNAUTHORIZED"
	ErrCodeForbidden          = "FORBIDDEN"
	ErrCodeInternalError      = "INTERNAL_ERROR"
	ErrCodeValidationFailed   = "VALIDATION_FAILED"
	ErrCodeDuplicateResource  = "DUPLICATE_RESOURCE"
	ErrCodeInsufficientFunds  = "INSUFFICIENT_FUNDS"
	ErrCodeLocationRestricted = "LOCATION_RESTRICTED"
	ErrCodeSelfTrade          = "SELF_TRADE_NOT_ALLOWED"
	ErrCodeOrderNotActive     = "ORDER_NOT_ACTIVE"
	ErrCodeConflictRetry      = "CONFLICT_RETRY"
)

// Handle processes the error and returns appropriate response
func Handle(c *gin.Context, data interface{}, err error) {
	if err == nil {
		Success(c, data)
		return
	}

	var validationErr *types.ValidationError

	switch {
	case errors.As(err, &validationErr):
		respondError(c, http.StatusBadRequest, ErrCodeValidationFailed, validationErr.Message)
	case errors.Is(err, types.ErrInsufficientFunds):
		respondError(c, http.StatusBadRequest, ErrCodeInsufficientFunds, err.Error())
	case errors.Is(err, types.ErrLocationRestricted):
		respondError(c, http.StatusForbidden, ErrCodeLocationRestricted, err.Error())
	case errors.Is(err, types.ErrSelfTradeNotAllowed):
		respondError(c, http.StatusBadRequest, ErrCodeSelfTrade, err.Error())
	case errors.Is(err, types.ErrOrderNotFound):
		NotFound(c, err.Error())
	case errors.Is(err, types.ErrOrderNotActive):
		respondError(c, http.StatusConflict, ErrCodeOrderNotActive, err.Error())
	case errors.Is(err, types.ErrUnauthorized):
		Forbidden(c, err.Error())
	case errors.Is(err, types.ErrConcurrencyConflict):
		respondError(c, http.StatusConflict, ErrCodeConflictRetry, err.Error())
	case errors.Is(err, gorm.ErrRecordNotFound):
		NotFound(c, "Resource not found")
	case errors.Is(err, gorm.ErrDuplicatedKey):
		Conflict(c, "Resource already exists")
	default:
		InternalError(c, "An unexpected error occurred")
	}
}

// Success sends a successful response
func Success(c *gin.Context, data interface{}) {
	status := http.StatusOK
	if c.Request.Method == "POST" {
		status = http.StatusCreated
	}

	c.JSON(status, Response{
		Success: true,
		Data:    data,
	})
}

// NotFound sends a 404 response
func NotFound(c *gin.Context, message string) {
	respondError(c, http.StatusNotFound, ErrCodeNotFound, message)
}

// BadRequest sends a 400 response
func BadRequest(c *gin.Context, message string) {
	respondError(c, http.StatusBadRequest, ErrCodeBadRequest, message)
}

// Unauthorized sends a 401 response
func Unauthorized(c *gin.Context, message string) {
	respondError(c, http.StatusUnauthorized, ErrCodeUnauthorized, message)
}

// Forbidden sends a 403 response
func Forbidden(c *gin.Context, message string) {
	respondError(c, http.StatusForbidden, ErrCodeForbidden, message)
}

// InternalError sends a 500 response
func InternalError(c *gin.Context, message string) {
	respondError(c, http.StatusInternalServerError, ErrCodeInternalError, message)
}

// Conflict sends a 409 response
func Conflict(c *gin.Context, message string) {
	respondError(c, http.StatusConflict, ErrCodeDuplicateResource, message)
}

func respondError(c *gin.Context, status int, code, message string) {
	c.JSON(status, Response{
		Success: false,
		Error: &Error{
			Code:    code,
			Message: message,
		},
	})
}
