package respond

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
)

const startTimeKey = "requestStartTime"

// Response unified response envelope
type Response struct {
	Code           int         `json:"code" example:"0"`
	Message        string      `json:"message" example:"success"`
	Data           interface{} `json:"data,omitempty"`
	ProcessingTime int64       `json:"processingTime" example:"12"` // milliseconds
}

// TimingMiddleware records the request start so responses can report processing time
func TimingMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Set(startTimeKey, time.Now())
		c.Next()
	}
}

func processingTime(c *gin.Context) int64 {
	v, ok := c.Get(startTimeKey)
	if !ok {
		return 0
	}
	start, ok := v.(time.Time)
	if !ok {
		return 0
	}
	return time.Since(start).Milliseconds()
}

func write(c *gin.Context, status, code int, message string, data interface{}) {
	c.JSON(status, Response{
		Code:           code,
		Message:        message,
		Data:           data,
		ProcessingTime: processingTime(c),
	})
}

// Success 200 with data
func Success(c *gin.Context, data interface{}) {
	write(c, http.StatusOK, 0, "success", data)
}

// SuccessWithCode success envelope with a non-200 status, e.g. 202 Accepted
func SuccessWithCode(c *gin.Context, status int, data interface{}) {
	write(c, status, 0, "success", data)
}

// InvalidParam 400
func InvalidParam(c *gin.Context, message string) {
	write(c, http.StatusBadRequest, http.StatusBadRequest, message, nil)
}

// NotFound 404
func NotFound(c *gin.Context, message string) {
	write(c, http.StatusNotFound, http.StatusNotFound, message, nil)
}

// Conflict 409, data carries details such as missing chunk indices
func Conflict(c *gin.Context, message string, data interface{}) {
	write(c, http.StatusConflict, http.StatusConflict, message, data)
}

// Unprocessable 422
func Unprocessable(c *gin.Context, message string) {
	write(c, http.StatusUnprocessableEntity, http.StatusUnprocessableEntity, message, nil)
}

// ServiceUnavailable 503
func ServiceUnavailable(c *gin.Context, message string) {
	write(c, http.StatusServiceUnavailable, http.StatusServiceUnavailable, message, nil)
}

// ServerError 500
func ServerError(c *gin.Context, message string) {
	write(c, http.StatusInternalServerError, http.StatusInternalServerError, message, nil)
}
