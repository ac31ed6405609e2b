package api

import (
	"net/http"
	"strings"

	"github.com/arencloud/depot/internal/models"
	"github.com/arencloud/depot/internal/s3"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
)

// activeResource loads the resource in :id and rejects it unless it is active.
func (s *server) activeResource(c *gin.Context) (*models.Resource, bool) {
	rec, err := s.Store.GetResource(c.Request.Context(), c.Param("id"))
	if err != nil {
		s.respondErr(c, err)
		return nil, false
	}
	if rec.Status != models.StatusActive {
		s.respondError(c, http.StatusConflict, "resource is "+string(rec.Status)+", not active")
		return nil, false
	}
	return rec, true
}

// cleanKey rejects empty keys and strips a leading slash.
func cleanKey(k string) (string, bool) {
	k = strings.TrimLeft(strings.TrimSpace(k), "/")
	return k, k != ""
}

func (s *server) listObjects(c *gin.Context) {
	rec, ok := s.activeResource(c)
	if !ok {
		return
	}
	prefix := c.Query("prefix")
	recursive := c.Query("recursive") == "true"
	items, err := s.Provider.ListObjects(c.Request.Context(), rec.ObjectStoreName, rec.Region, prefix, recursive)
	if err != nil {
		if s3.IsNoSuchBucket(err) {
			s.respondError(c, http.StatusNotFound, "object store not found")
			return
		}
		s.respondError(c, http.StatusBadGateway, err.Error())
		return
	}
	if items == nil {
		items = []s3.Object{}
	}
	c.JSON(http.StatusOK, items)
}

func (s *server) deleteObject(c *gin.Context) {
	rec, ok := s.activeResource(c)
	if !ok {
		return
	}
	key, ok := cleanKey(c.Query("key"))
	if !ok {
		s.respondError(c, http.StatusBadRequest, "key is required")
		return
	}
	if err := s.Provider.DeleteObject(c.Request.Context(), rec.ObjectStoreName, rec.Region, key); err != nil {
		s.respondError(c, http.StatusBadGateway, err.Error())
		return
	}
	c.Status(http.StatusNoContent)
}

type moveRequest struct {
	From string `json:"from" binding:"required"`
	To   string `json:"to" binding:"required"`
}

func (s *server) moveObject(c *gin.Context) {
	rec, ok := s.activeResource(c)
	if !ok {
		return
	}
	var in moveRequest
	if err := c.ShouldBindJSON(&in); err != nil {
		s.respondError(c, http.StatusBadRequest, err.Error())
		return
	}
	from, ok1 := cleanKey(in.From)
	to, ok2 := cleanKey(in.To)
	if !ok1 || !ok2 || from == to {
		s.respondError(c, http.StatusBadRequest, "from and to must be different, non-empty keys")
		return
	}
	if err := s.Provider.MoveObject(c.Request.Context(), rec.ObjectStoreName, rec.Region, from, to); err != nil {
		s.respondError(c, http.StatusBadGateway, err.Error())
		return
	}
	c.JSON(http.StatusOK, gin.H{"success": true})
}

type uploadURLRequest struct {
	Key         string `json:"key" binding:"required"`
	ContentType string `json:"contentType"`
	Size        int64  `json:"size"`
}

func (s *server) uploadURL(c *gin.Context) {
	rec, ok := s.activeResource(c)
	if !ok {
		return
	}
	var in uploadURLRequest
	if err := c.ShouldBindJSON(&in); err != nil {
		s.respondError(c, http.StatusBadRequest, err.Error())
		return
	}
	key, ok := cleanKey(in.Key)
	if !ok {
		s.respondError(c, http.StatusBadRequest, "key is required")
		return
	}
	if limit := int64(rec.Config.MaxObjectSizeMB) << 20; limit > 0 && in.Size > limit {
		s.respondError(c, http.StatusRequestEntityTooLarge, "object exceeds the resource's size limit")
		return
	}
	if in.ContentType == "" {
		in.ContentType = "application/octet-stream"
	}
	u, err := s.Provider.PresignUpload(c.Request.Context(), rec.ObjectStoreName, rec.Region, key, in.ContentType, s.Config.UploadURLTTL)
	if err != nil {
		s.respondError(c, http.StatusBadGateway, err.Error())
		return
	}
	meta := &models.FileMetadata{
		ID:              uuid.NewString(),
		ResourceID:      rec.ID,
		ObjectStoreName: rec.ObjectStoreName,
		Key:             key,
		Size:            in.Size,
		ContentType:     in.ContentType,
	}
	if err := s.Store.CreateFile(c.Request.Context(), meta); err != nil {
		s.respondErr(c, err)
		return
	}
	c.JSON(http.StatusOK, u)
}

func (s *server) listFiles(c *gin.Context) {
	rec, err := s.Store.GetResource(c.Request.Context(), c.Param("id"))
	if err != nil {
		s.respondErr(c, err)
		return
	}
	files, err := s.Store.ListFiles(c.Request.Context(), rec.ObjectStoreName)
	if err != nil {
		s.respondErr(c, err)
		return
	}
	c.JSON(http.StatusOK, files)
}
