package db

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/arencloud/depot/internal/config"
	"github.com/arencloud/depot/internal/logging"
	"github.com/arencloud/depot/internal/models"

	"github.com/stretchr/testify/require"
)

func openTestStore(t *testing.T) *Store {
	t.Helper()
	cfg := &config.Config{DBDriver: "sqlite", DBPath: filepath.Join(t.TempDir(), "test.db")}
	s, err := Open(cfg, logging.Nop())
	require.NoError(t, err)
	return s
}

func TestResourceLifecycle(t *testing.T) {
	ctx := context.Background()
	s := openTestStore(t)
	r := &models.Resource{
		ID:              "r1",
		OwnerID:         "p1",
		DisplayName:     "Media",
		ObjectStoreName: models.NewObjectStoreName("Media", time.Now()),
		Region:          "eu-west-1",
		Status:          models.StatusPending,
		Config:          models.ResourceConfig{Versioning: true, Encryption: "SSE-S3", MaxObjectSizeMB: 100},
	}
	require.NoError(t, s.CreateResource(ctx, r))

	got, err := s.GetResource(ctx, "r1")
	require.NoError(t, err)
	require.Equal(t, models.StatusPending, got.Status)
	require.True(t, got.Config.Versioning)
	require.Equal(t, 100, got.Config.MaxObjectSizeMB)

	require.NoError(t, s.UpdateResource(ctx, "r1", models.SetStatusAndOutputs(models.StatusActive, models.StackOutputs{
		ObjectStoreArn: "arn:aws:s3:::x", CDNDomain: "d.cloudfront.net", CDNDistributionID: "E1",
	})))
	got, err = s.GetResource(ctx, "r1")
	require.NoError(t, err)
	require.Equal(t, models.StatusActive, got.Status)
	require.Equal(t, "E1", got.CDNDistributionID)

	// clearing outputs writes empty strings, not skipped zero values
	require.NoError(t, s.UpdateResource(ctx, "r1", models.SetStatusAndOutputs(models.StatusPending, models.StackOutputs{})))
	got, err = s.GetResource(ctx, "r1")
	require.NoError(t, err)
	require.Empty(t, got.ObjectStoreArn)
	require.Empty(t, got.CDNDistributionID)

	list, err := s.ListResources(ctx)
	require.NoError(t, err)
	require.Len(t, list, 1)

	require.NoError(t, s.DeleteResource(ctx, "r1"))
	_, err = s.GetResource(ctx, "r1")
	require.ErrorIs(t, err, models.ErrNotFound)
	require.ErrorIs(t, s.DeleteResource(ctx, "r1"), models.ErrNotFound)
	require.ErrorIs(t, s.UpdateResource(ctx, "r1", models.SetStatus(models.StatusFailed)), models.ErrNotFound)
}

func TestUpdateResourceRejectsUnknownStatus(t *testing.T) {
	ctx := context.Background()
	s := openTestStore(t)
	r := &models.Resource{ID: "r1", ObjectStoreName: "media-1", Status: models.StatusActive}
	require.NoError(t, s.CreateResource(ctx, r))

	err := s.UpdateResource(ctx, "r1", models.SetStatus("archived"))
	require.Error(t, err)
	require.NotErrorIs(t, err, models.ErrNotFound)

	got, err := s.GetResource(ctx, "r1")
	require.NoError(t, err)
	require.Equal(t, models.StatusActive, got.Status)
}

func TestObjectStoreNameUnique(t *testing.T) {
	ctx := context.Background()
	s := openTestStore(t)
	require.NoError(t, s.CreateResource(ctx, &models.Resource{ID: "a", DisplayName: "a", ObjectStoreName: "dup-1", Status: models.StatusPending}))
	require.Error(t, s.CreateResource(ctx, &models.Resource{ID: "b", DisplayName: "b", ObjectStoreName: "dup-1", Status: models.StatusPending}))
}

func TestFileMetadataByObjectStore(t *testing.T) {
	ctx := context.Background()
	s := openTestStore(t)
	for i, key := range []string{"a.txt", "b.txt"} {
		require.NoError(t, s.CreateFile(ctx, &models.FileMetadata{ID: string(rune('1' + i)), ResourceID: "r1", ObjectStoreName: "bucket-1", Key: key}))
	}
	require.NoError(t, s.CreateFile(ctx, &models.FileMetadata{ID: "9", ResourceID: "r2", ObjectStoreName: "bucket-2", Key: "c.txt"}))

	files, err := s.ListFiles(ctx, "bucket-1")
	require.NoError(t, err)
	require.Len(t, files, 2)

	n, err := s.DeleteFiles(ctx, "bucket-1")
	require.NoError(t, err)
	require.EqualValues(t, 2, n)
	n, err = s.DeleteFiles(ctx, "bucket-1")
	require.NoError(t, err)
	require.Zero(t, n)

	files, err = s.ListFiles(ctx, "bucket-2")
	require.NoError(t, err)
	require.Len(t, files, 1)
}
