package server

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/ifuryst/autopost/internal/repository"
	"github.com/ifuryst/autopost/internal/service"
	"github.com/ifuryst/autopost/internal/storage"
)

// Response is the envelope every API handler writes.
type Response struct {
	Success bool        `json:"success"`
	Message string      `json:"message,omitempty"`
	Data    interface{} `json:"data,omitempty"`
	Count   *int        `json:"count,omitempty"`
	Error   string      `json:"error,omitempty"`
}

func ok(c *gin.Context, status int, message string, data interface{}) {
	c.JSON(status, Response{Success: true, Message: message, Data: data})
}

func list[T any](c *gin.Context, items []T) {
	if items == nil {
		items = []T{}
	}
	n := len(items)
	c.JSON(http.StatusOK, Response{Success: true, Data: items, Count: &n})
}

func fail(c *gin.Context, status int, message string, err error) {
	resp := Response{Success: false, Message: message}
	if err != nil {
		resp.Error = err.Error()
	}
	c.JSON(status, resp)
}

func badRequest(c *gin.Context, message string) {
	c.JSON(http.StatusBadRequest, Response{Success: false, Message: message})
}

// statusFor maps service and store errors onto HTTP status codes.
func statusFor(err error) int {
	switch {
	case errors.Is(err, repository.ErrNotFound), errors.Is(err, storage.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, service.ErrValidation),
		errors.Is(err, service.ErrScheduleInPast),
		errors.Is(err, storage.ErrUnsupportedType):
		return http.StatusBadRequest
	case errors.Is(err, storage.ErrFileTooLarge):
		return http.StatusRequestEntityTooLarge
	case errors.Is(err, repository.ErrConflict),
		errors.Is(err, repository.ErrDuplicate),
		errors.Is(err, service.ErrInFlight),
		errors.Is(err, service.ErrAlreadyPublished):
		return http.StatusConflict
	case errors.Is(err, service.ErrPublishFailed):
		return http.StatusBadGateway
	}
	return http.StatusInternalServerError
}

// respondError writes err with its mapped status. Client errors carry the
// error text as message; server errors are logged and get a generic one.
func (s *Server) respondError(c *gin.Context, fallback string, err error) {
	status := statusFor(err)
	if status >= http.StatusInternalServerError {
		s.Logger.Error(fallback, zap.Error(err), zap.String("path", c.FullPath()))
		fail(c, status, fallback, err)
		return
	}
	c.JSON(status, Response{Success: false, Message: clientMessage(err)})
}

func clientMessage(err error) string {
	switch {
	case errors.Is(err, repository.ErrNotFound):
		return "Not found"
	case errors.Is(err, repository.ErrDuplicate):
		return "A template with this name already exists"
	}
	return err.Error()
}
