// Package dbtest opens a throwaway sqlite-backed store for tests.
package dbtest

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/arencloud/depot/internal/config"
	"github.com/arencloud/depot/internal/db"
	"github.com/arencloud/depot/internal/logging"
	"github.com/arencloud/depot/internal/models"
)

func Open(t testing.TB) *db.Store {
	t.Helper()
	cfg := &config.Config{Env: "test", DBDriver: "sqlite", DBPath: filepath.Join(t.TempDir(), "test.db")}
	s, err := db.Open(cfg, logging.Nop())
	if err != nil {
		t.Fatalf("db open: %v", err)
	}
	return s
}

// Seed inserts a resource with the given id and status.
func Seed(t testing.TB, s *db.Store, id string, status models.ResourceStatus) *models.Resource {
	t.Helper()
	r := &models.Resource{
		ID:              id,
		OwnerID:         "owner-1",
		DisplayName:     "Assets " + id,
		ObjectStoreName: models.NewObjectStoreName("assets-"+id, time.Now()),
		Region:          "eu-west-1",
		Status:          status,
		Config:          models.ResourceConfig{Versioning: true, Encryption: "SSE-S3", MaxObjectSizeMB: 50},
	}
	if err := s.CreateResource(context.Background(), r); err != nil {
		t.Fatalf("seed %s: %v", id, err)
	}
	return r
}
