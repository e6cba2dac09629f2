package response

import (
	"errors"
	"net/http"
	"reflect"

	"github.com/gin-gonic/gin"
	"github.com/strata-cms/core/internal/pkg/errs"
)

// Pagination metadata returned with paginated responses.
type Pagination struct {
	Total       int64 `json:"total"`
	CurrentPage int   `json:"current_page"`
	TotalPage   int   `json:"total_page"`
	Size        int   `json:"size"`
	HasNextPage bool  `json:"has_next_page"`
}

// pagedResponse is the envelope for paginated list responses.
type pagedResponse struct {
	Data       interface{} `json:"data"`
	Pagination Pagination  `json:"pagination"`
}

// OK sends a 200 response. Arrays/slices are wrapped in {data: [...]}.
func OK(c *gin.Context, data interface{}) {
	if data != nil {
		v := reflect.ValueOf(data)
		if v.Kind() == reflect.Slice {
			c.JSON(http.StatusOK, gin.H{"data": data})
			return
		}
	}
	c.JSON(http.StatusOK, data)
}

// Paged sends a paginated response.
func Paged(c *gin.Context, data interface{}, pagination Pagination) {
	c.JSON(http.StatusOK, pagedResponse{Data: data, Pagination: pagination})
}

// Created sends a 201 response.
func Created(c *gin.Context, data interface{}) {
	c.JSON(http.StatusCreated, data)
}

// NoContent sends a 204 response.
func NoContent(c *gin.Context) {
	c.Status(http.StatusNoContent)
}

// BadRequest sends a 400 error response.
func BadRequest(c *gin.Context, message string) {
	abort(c, http.StatusBadRequest, message)
}

// Unauthorized sends a 401 error response.
func Unauthorized(c *gin.Context) {
	abort(c, http.StatusUnauthorized, "authentication required")
}

// Forbidden sends a 403 error response.
func Forbidden(c *gin.Context) {
	abort(c, http.StatusForbidden, "insufficient permissions")
}

// NotFound sends a 404 error response.
func NotFound(c *gin.Context) {
	abort(c, http.StatusNotFound, "not found")
}

// NotFoundMsg sends a 404 error with a custom message.
func NotFoundMsg(c *gin.Context, message string) {
	abort(c, http.StatusNotFound, message)
}

// MethodNotAllowed sends a 405 error response.
func MethodNotAllowed(c *gin.Context) {
	abort(c, http.StatusMethodNotAllowed, "method not allowed")
}

// Conflict sends a 409 error response.
func Conflict(c *gin.Context, message string) {
	abort(c, http.StatusConflict, message)
}

// UnprocessableEntity sends a 422 error response.
func UnprocessableEntity(c *gin.Context, message string) {
	abort(c, http.StatusUnprocessableEntity, message)
}

// InternalError sends a 500 error response.
func InternalError(c *gin.Context, err error) {
	abort(c, http.StatusInternalServerError, err.Error())
}

// Error maps a content-core error onto its HTTP status. The core never
// retries; everything is recovered here at the boundary.
func Error(c *gin.Context, err error) {
	switch {
	case errors.Is(err, errs.ErrNotFound):
		abort(c, http.StatusNotFound, err.Error())
	case errors.Is(err, errs.ErrPayloadTooLarge):
		abort(c, http.StatusRequestEntityTooLarge, err.Error())
	case errors.Is(err, errs.ErrValidation):
		abortValidation(c, err)
	case errors.Is(err, errs.ErrInvalidTransition):
		abort(c, http.StatusConflict, err.Error())
	case errors.Is(err, errs.ErrCompatibilityBlocked):
		abortCompatibility(c, err)
	case errors.Is(err, errs.ErrActivationConflict):
		abort(c, http.StatusConflict, err.Error())
	case errors.Is(err, errs.ErrConflict):
		abort(c, http.StatusConflict, err.Error())
	case errors.Is(err, errs.ErrForbidden):
		abort(c, http.StatusForbidden, err.Error())
	default:
		abort(c, http.StatusInternalServerError, err.Error())
	}
}

func abort(c *gin.Context, code int, message string) {
	c.AbortWithStatusJSON(code, gin.H{"ok": 0, "code": code, "message": message})
}

func abortValidation(c *gin.Context, err error) {
	var ve *errs.ValidationError
	if errors.As(err, &ve) {
		c.AbortWithStatusJSON(http.StatusUnprocessableEntity, gin.H{
			"ok":      0,
			"code":    http.StatusUnprocessableEntity,
			"message": ve.Message,
			"path":    ve.Path,
		})
		return
	}
	abort(c, http.StatusUnprocessableEntity, err.Error())
}

func abortCompatibility(c *gin.Context, err error) {
	var ce *errs.CompatibilityError
	if errors.As(err, &ce) {
		c.AbortWithStatusJSON(http.StatusConflict, gin.H{
			"ok":      0,
			"code":    http.StatusConflict,
			"message": "schema activation blocked by compatibility policy",
			"errors":  ce.Violations,
		})
		return
	}
	abort(c, http.StatusConflict, err.Error())
}
