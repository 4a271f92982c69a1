package middleware

import (
	"net/http"

	"github.com/chatcpg/backend/internal/interfaces/http/dto"
	"github.com/gin-gonic/gin"
)

// BodyLimit rejects request bodies larger than maxBytes. Webhook payloads
// and checkout requests are small, so anything past the limit is noise or
// abuse. Requests that declare an oversized Content-Length are refused up
// front; chunked bodies are cut off mid-read by a MaxBytesReader.
func BodyLimit(maxBytes int64) gin.HandlerFunc {
	return func(c *gin.Context) {
		if c.Request.ContentLength > maxBytes {
			requestID := getRequestIDFromContext(c)
			c.AbortWithStatusJSON(http.StatusRequestEntityTooLarge,
				dto.NewErrorResponseWithRequestID(dto.ErrCodePayloadTooLarge, "Request body exceeds the maximum allowed size", requestID))
			return
		}

		c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, maxBytes)
		c.Next()
	}
}
