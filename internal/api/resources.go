package api

import (
	"net/http"
	"strings"
	"time"

	"github.com/arencloud/depot/internal/models"
	"github.com/arencloud/depot/internal/teardown"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
)

type createResourceRequest struct {
	OwnerID     string                `json:"ownerId" binding:"required"`
	DisplayName string                `json:"displayName" binding:"required"`
	Region      string                `json:"region"`
	Config      models.ResourceConfig `json:"config"`
}

var encryptionModes = map[string]bool{"SSE-S3": true, "SSE-KMS": true, "none": true}

func (s *server) listResources(c *gin.Context) {
	items, err := s.Store.ListResources(c.Request.Context())
	if err != nil {
		s.respondErr(c, err)
		return
	}
	c.JSON(http.StatusOK, items)
}

func (s *server) createResource(c *gin.Context) {
	var in createResourceRequest
	if err := c.ShouldBindJSON(&in); err != nil {
		s.respondError(c, http.StatusBadRequest, err.Error())
		return
	}
	in.DisplayName = strings.TrimSpace(in.DisplayName)
	if in.DisplayName == "" {
		s.respondError(c, http.StatusBadRequest, "displayName is required")
		return
	}
	if in.Config.Encryption == "" {
		in.Config.Encryption = "SSE-S3"
	}
	if !encryptionModes[in.Config.Encryption] {
		s.respondError(c, http.StatusBadRequest, "encryption must be one of SSE-S3, SSE-KMS, none")
		return
	}
	if in.Config.MaxObjectSizeMB < 0 {
		s.respondError(c, http.StatusBadRequest, "maxObjectSizeMb must not be negative")
		return
	}
	if in.Region == "" {
		in.Region = s.Config.AWS.Region
	}
	rec := &models.Resource{
		ID:              uuid.NewString(),
		OwnerID:         in.OwnerID,
		DisplayName:     in.DisplayName,
		ObjectStoreName: models.NewObjectStoreName(in.DisplayName, time.Now()),
		Region:          in.Region,
		Status:          models.StatusPending,
		Config:          in.Config,
	}
	if err := s.Store.CreateResource(c.Request.Context(), rec); err != nil {
		s.respondErr(c, err)
		return
	}
	s.Logger.Info("resource created", "resource", rec.ID, "objectStore", rec.ObjectStoreName)
	c.JSON(http.StatusCreated, rec)
}

func (s *server) getResource(c *gin.Context) {
	rec, err := s.Store.GetResource(c.Request.Context(), c.Param("id"))
	if err != nil {
		s.respondErr(c, err)
		return
	}
	c.JSON(http.StatusOK, rec)
}

// softDeleteResource drops the local record only; cloud resources stay.
func (s *server) softDeleteResource(c *gin.Context) {
	id := c.Param("id")
	if err := teardown.SoftDelete(c.Request.Context(), s.Store, id); err != nil {
		s.respondErr(c, err)
		return
	}
	s.Logger.Info("resource soft-deleted", "resource", id)
	c.JSON(http.StatusOK, gin.H{"success": true})
}
