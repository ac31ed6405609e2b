package api

import (
	"errors"
	"net/http"

	"github.com/arencloud/depot/internal/deploy"
	"github.com/arencloud/depot/internal/models"
	"github.com/arencloud/depot/internal/reconcile"
	"github.com/arencloud/depot/internal/teardown"

	"github.com/gin-gonic/gin"
)

func (s *server) deploy(c *gin.Context) {
	var req deploy.Request
	if err := c.ShouldBindJSON(&req); err != nil {
		s.respondError(c, http.StatusBadRequest, err.Error())
		return
	}
	if req.ResourceID == "" && req.ObjectStoreName == "" {
		s.respondError(c, http.StatusBadRequest, "resourceId or objectStoreName is required")
		return
	}
	if req.ResourceID != "" {
		rec, err := s.Store.GetResource(c.Request.Context(), req.ResourceID)
		if err != nil {
			s.respondErr(c, err)
			return
		}
		if rec.Status == models.StatusDeleting {
			s.respondError(c, http.StatusConflict, "resource is being deleted")
			return
		}
	}
	ctx, sw := startStream(c)
	if _, err := s.Runner.Run(ctx, req, sw); err != nil {
		s.Logger.Warn("deploy request failed", "resource", req.ResourceID, "error", err)
	}
}

func (s *server) checkSync(c *gin.Context) {
	st, err := s.Reconciler.Check(c.Request.Context(), c.Param("id"))
	if err != nil {
		if errors.Is(err, models.ErrNotFound) {
			s.respondErr(c, err)
			return
		}
		s.respondError(c, http.StatusBadGateway, err.Error())
		return
	}
	c.JSON(http.StatusOK, st)
}

func (s *server) syncAll(c *gin.Context) {
	ctx, sw := startStream(c)
	if _, err := s.Reconciler.SyncAll(ctx, func(st reconcile.SyncStatus) { _ = sw.Send(st) }); err != nil {
		s.Logger.Error("sync sweep failed", "error", err)
		_ = sw.Send(gin.H{"error": err.Error()})
	}
}

type applySyncRequest struct {
	Action reconcile.Action `json:"action" binding:"required"`
}

func (s *server) applySync(c *gin.Context) {
	var in applySyncRequest
	if err := c.ShouldBindJSON(&in); err != nil {
		s.respondError(c, http.StatusBadRequest, err.Error())
		return
	}
	err := s.Reconciler.Apply(c.Request.Context(), c.Param("id"), in.Action)
	switch {
	case err == nil:
		c.JSON(http.StatusOK, gin.H{"success": true})
	case errors.Is(err, reconcile.ErrUnknownAction):
		s.respondError(c, http.StatusBadRequest, err.Error())
	default:
		s.respondErr(c, err)
	}
}

func (s *server) teardown(c *gin.Context) {
	id := c.Param("id")
	rec, err := s.Store.GetResource(c.Request.Context(), id)
	switch {
	case errors.Is(err, models.ErrNotFound):
		// rerun against an already removed resource; every step is a no-op
	case err != nil:
		s.respondErr(c, err)
		return
	case rec.Status == models.StatusDeploying:
		s.respondError(c, http.StatusConflict, "resource is deploying")
		return
	}
	ctx, sw := startStream(c)
	_ = s.Teardown.Run(ctx, id, func(e teardown.StepEvent) { _ = sw.Send(e) })
}
