package api

import (
	"net/http"
	"strconv"

	"github.com/arencloud/depot/internal/logging"

	"github.com/gin-gonic/gin"
)

// logsRecent returns the newest in-memory log entries, newest first.
func logsRecent(c *gin.Context) {
	limit := 200
	if v := c.Query("limit"); v != "" {
		if i, err := strconv.Atoi(v); err == nil && i > 0 {
			limit = i
		}
	}
	c.Header("Cache-Control", "no-store")
	c.JSON(http.StatusOK, logging.Recent(limit))
}

func logsGetLevel(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"level": logging.GetLevel()})
}

func logsSetLevel(c *gin.Context) {
	var in struct {
		Level string `json:"level" binding:"required,oneof=debug info warn error"`
	}
	if err := c.ShouldBindJSON(&in); err != nil {
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	logging.SetLevel(in.Level)
	c.JSON(http.StatusOK, gin.H{"ok": true, "level": logging.GetLevel()})
}
