package errors

import (
	"net/http"
	"runtime/debug"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"
)

// Handler turns component failures into HTTP responses. Individual
// component failures never propagate to the caller directly; the
// orchestrator's aggregate verdict is what gets mapped here.
type Handler struct {
	logger *logrus.Logger
}

// NewHandler creates an error handler.
func NewHandler(logger *logrus.Logger) *Handler {
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	return &Handler{logger: logger}
}

// Response is the JSON body returned for a failed request.
type Response struct {
	Error Detail `json:"error"`
}

// Detail is the structured diagnostic payload returned on OrchestratorFatal.
type Detail struct {
	Code      Code        `json:"code"`
	Message   string      `json:"message"`
	Details   interface{} `json:"details,omitempty"`
	TraceID   string      `json:"trace_id,omitempty"`
	Timestamp time.Time   `json:"timestamp"`
}

// statusFor maps a Code to the HTTP status the gateway returns. Only
// OrchestratorFatal and validation-time errors are user-visible per
// spec.md §7; the others are logged and absorbed by the orchestrator
// before reaching here.
func statusFor(code Code) int {
	switch code {
	case CodeValidation:
		return http.StatusBadRequest
	case CodeAuthentication:
		return http.StatusUnauthorized
	case CodeOrchestratorFatal:
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

// Handle writes the appropriate JSON error response for err.
func (h *Handler) Handle(c *gin.Context, err error) {
	var resp Response
	var status int

	if ae, ok := err.(*AppError); ok {
		status = statusFor(ae.Code)
		resp = Response{Error: Detail{
			Code:      ae.Code,
			Message:   ae.Message,
			Details:   ae.Details,
			TraceID:   c.GetString("trace_id"),
			Timestamp: time.Now(),
		}}
	} else {
		status = http.StatusInternalServerError
		resp = Response{Error: Detail{
			Code:      CodeInternal,
			Message:   "an internal error occurred",
			TraceID:   c.GetString("trace_id"),
			Timestamp: time.Now(),
		}}
	}

	h.logger.WithFields(logrus.Fields{
		"status": status,
		"code":   resp.Error.Code,
		"path":   c.Request.URL.Path,
	}).WithError(err).Warn("request failed")

	c.JSON(status, resp)
}

// Recovery is gin middleware that turns a panic into a 500 response instead
// of crashing the process, logging the stack for diagnosis.
func (h *Handler) Recovery() gin.HandlerFunc {
	return func(c *gin.Context) {
		defer func() {
			if r := recover(); r != nil {
				h.logger.WithField("stack", string(debug.Stack())).Errorf("panic recovered: %v", r)
				c.AbortWithStatusJSON(http.StatusInternalServerError, Response{Error: Detail{
					Code:      CodeInternal,
					Message:   "an internal error occurred",
					Timestamp: time.Now(),
				}})
			}
		}()
		c.Next()
	}
}
