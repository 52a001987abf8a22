package response

import (
	"net/http"

	"github.com/labstack/echo/v4"
)

// APIResponse is the envelope of every successful response.
type APIResponse struct {
	Success bool   `json:"success"`
	Data    any    `json:"data,omitempty"`
	Message string `json:"message,omitempty"`
}

// ErrorResponse is the envelope of every failed response.
type ErrorResponse struct {
	Success bool   `json:"success"`
	Error   string `json:"error"`
}

// PaginatedResponse wraps a page of results.
type PaginatedResponse struct {
	Success bool `json:"success"`
	Data    any  `json:"data"`
	Meta    Meta `json:"meta"`
}

// Meta contains pagination metadata.
type Meta struct {
	Total  int `json:"total"`
	Limit  int `json:"limit"`
	Offset int `json:"offset"`
}

// Success returns 200 with data.
func Success(c echo.Context, data any) error {
	return c.JSON(http.StatusOK, APIResponse{Success: true, Data: data})
}

// SuccessWithMessage returns 200 with data and a message.
func SuccessWithMessage(c echo.Context, data any, message string) error {
	return c.JSON(http.StatusOK, APIResponse{Success: true, Data: data, Message: message})
}

// Paginated returns 200 with a page of data.
func Paginated(c echo.Context, data any, total, limit, offset int) error {
	return c.JSON(http.StatusOK, PaginatedResponse{
		Success: true,
		Data:    data,
		Meta:    Meta{Total: total, Limit: limit, Offset: offset},
	})
}

// Fail returns status with an error message.
func Fail(c echo.Context, status int, message string) error {
	return c.JSON(status, ErrorResponse{Success: false, Error: message})
}

// BadRequest returns 400.
func BadRequest(c echo.Context, message string) error {
	return Fail(c, http.StatusBadRequest, message)
}

// NotFound returns 404.
func NotFound(c echo.Context, message string) error {
	return Fail(c, http.StatusNotFound, message)
}

// InternalError returns 500.
func InternalError(c echo.Context, message string) error {
	return Fail(c, http.StatusInternalServerError, message)
}

// ServiceUnavailable returns 503.
func ServiceUnavailable(c echo.Context, message string) error {
	return Fail(c, http.StatusServiceUnavailable, message)
}
