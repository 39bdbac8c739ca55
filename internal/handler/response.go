package handler

import (
	stderrors "errors"
	"net/http"

	"github.com/gin-gonic/gin"
)

type Response struct {
	Status  string      `json:"status"`
	Message string      `json:"message,omitempty"`
	Data    interface{} `json:"data,omitempty"`
}

func NewSuccessResponse(data interface{}) *Response {
	return &Response{
		Status: "success",
		Data:   data,
	}
}

func NewErrorResponse(message string) *Response {
	return &Response{
		Status:  "error",
		Message: message,
	}
}

type statusCoder interface {
	StatusCode() int
}

// StatusOf maps err onto an HTTP status. Errors without a status are 500.
func StatusOf(err error) int {
	var sc statusCoder
	if stderrors.As(err, &sc) {
		return sc.StatusCode()
	}
	return http.StatusInternalServerError
}

// RespondWithError writes the error envelope and records err on the context
// for the error middleware to log. Internal errors are not echoed back.
func RespondWithError(c *gin.Context, err error) {
	_ = c.Error(err)
	status := StatusOf(err)
	msg := err.Error()
	if status == http.StatusInternalServerError {
		msg = "internal server error"
	}
	c.AbortWithStatusJSON(status, NewErrorResponse(msg))
}
