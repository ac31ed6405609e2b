package middleware

import (
	"errors"
	"net/http"

	"github.com/arencloud/depot/internal/logging"

	"github.com/gin-contrib/requestid"
	"github.com/gin-gonic/gin"
)

// Recoverer turns a handler panic into a 500 and logs it. If the response has
// already started (a stream), the connection is just aborted.
func Recoverer(logger logging.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		defer func() {
			rec := recover()
			if rec == nil {
				return
			}
			if err, ok := rec.(error); ok && errors.Is(err, http.ErrAbortHandler) {
				panic(rec)
			}
			logger.Error("panic recovered", "error", rec, "method", c.Request.Method, "path", c.Request.URL.Path, "requestId", requestid.Get(c))
			if c.Writer.Written() {
				c.Abort()
				return
			}
			c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": "internal error"})
		}()
		c.Next()
	}
}
