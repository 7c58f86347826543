package middleware

import (
	"encoding/json"

	"github.com/gin-gonic/gin"
)

// errorEnvelope is the JSON body every terminating stage produces.
type errorEnvelope struct {
	Error   errorBody `json:"error"`
	TraceID string    `json:"traceId,omitempty"`
}

type errorBody struct {
	ErrorCode string `json:"errorCode"`
	Message   string `json:"message"`
}

// abortWithError terminates the request with the structured envelope. If the
// body cannot be encoded the stream is still completed with an empty body
// rather than left hanging.
func abortWithError(c *gin.Context, status int, code, message string) {
	envelope := errorEnvelope{
		Error:   errorBody{ErrorCode: code, Message: message},
		TraceID: GetTraceID(c),
	}
	if _, err := json.Marshal(envelope); err != nil {
		c.AbortWithStatus(status)
		return
	}
	c.AbortWithStatusJSON(status, envelope)
}
