package api

import (
	"errors"
	"net/http"

	"github.com/arencloud/depot/internal/command"
	"github.com/arencloud/depot/internal/proc"
	"github.com/arencloud/depot/internal/stream"

	"github.com/gin-gonic/gin"
)

type commandRequest struct {
	Command string `json:"command" binding:"required"`
}

func (s *server) runCommand(c *gin.Context) {
	var in commandRequest
	if err := c.ShouldBindJSON(&in); err != nil {
		s.respondError(c, http.StatusBadRequest, err.Error())
		return
	}
	if _, err := s.Commands.Parse(in.Command); err != nil {
		code := http.StatusBadRequest
		if errors.Is(err, command.ErrNotAllowed) {
			code = http.StatusForbidden
		}
		s.respondError(c, code, err.Error())
		return
	}
	stream.SetHeaders(c.Writer.Header())
	c.Status(http.StatusOK)
	// ad hoc commands stop with the client; use the kill endpoint to stop them earlier
	_ = s.Commands.Run(c.Request.Context(), in.Command, stream.NewNDJSON(c.Writer))
}

func (s *server) killCommand(c *gin.Context) {
	err := s.Commands.Kill(c.Param("session"))
	switch {
	case err == nil:
		c.JSON(http.StatusOK, gin.H{"success": true})
	case errors.Is(err, proc.ErrUnknownSession):
		s.respondError(c, http.StatusNotFound, err.Error())
	default:
		s.respondError(c, http.StatusInternalServerError, err.Error())
	}
}
