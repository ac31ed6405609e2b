package api

import (
	"context"
	"errors"
	"net/http"

	"github.com/arencloud/depot/internal/models"
	"github.com/arencloud/depot/internal/stream"

	"github.com/gin-contrib/requestid"
	"github.com/gin-gonic/gin"
)

func (s *server) respondError(c *gin.Context, code int, msg string) {
	if code >= http.StatusInternalServerError {
		s.Logger.Error("request failed", "path", c.FullPath(), "status", code, "error", msg, "requestId", requestid.Get(c))
	} else {
		s.Logger.Debug("request rejected", "path", c.FullPath(), "status", code, "error", msg, "requestId", requestid.Get(c))
	}
	c.AbortWithStatusJSON(code, gin.H{"error": msg})
}

// respondErr maps err onto a status code.
func (s *server) respondErr(c *gin.Context, err error) {
	switch {
	case errors.Is(err, models.ErrNotFound):
		s.respondError(c, http.StatusNotFound, "resource not found")
	default:
		s.respondError(c, http.StatusInternalServerError, err.Error())
	}
}

// startStream switches the response to NDJSON. Work run on the returned
// context outlives the client connection.
func startStream(c *gin.Context) (context.Context, *stream.NDJSON) {
	stream.SetHeaders(c.Writer.Header())
	c.Status(http.StatusOK)
	c.Writer.WriteHeaderNow()
	c.Writer.Flush()
	return context.WithoutCancel(c.Request.Context()), stream.NewNDJSON(c.Writer)
}
