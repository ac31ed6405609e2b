package reconcile

import (
	"context"
	"errors"
	"testing"

	"github.com/arencloud/depot/internal/db"
	"github.com/arencloud/depot/internal/db/dbtest"
	"github.com/arencloud/depot/internal/logging"
	"github.com/arencloud/depot/internal/models"
	"github.com/arencloud/depot/internal/provider"
	"github.com/arencloud/depot/internal/provider/providertest"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func completeStack(name string) *provider.Stack {
	return &provider.Stack{
		Name:   models.StackName(name),
		Status: "CREATE_COMPLETE",
		Outputs: map[string]string{
			"BucketArn":              "arn:aws:s3:::" + name,
			"DistributionDomainName": "d1.cloudfront.net",
			"DistributionId":         "EDIST",
		},
		Resources: []provider.StackResource{{LogicalID: "Bucket", Type: "AWS::S3::Bucket", Status: "CREATE_COMPLETE"}},
	}
}

func setup(t *testing.T) (*db.Store, *providertest.Fake, *Reconciler) {
	store := dbtest.Open(t)
	fake := providertest.New()
	return store, fake, New(store, fake, logging.Nop(), nil)
}

func TestCheck_DoesNotMutate(t *testing.T) {
	ctx := context.Background()
	store, fake, rc := setup(t)
	rec := dbtest.Seed(t, store, "r1", models.StatusPending)
	fake.PutStack(rec.ObjectStoreName, completeStack(rec.ObjectStoreName))
	fake.PutObject(rec.ObjectStoreName, "a.txt", 3)

	st, err := rc.Check(ctx, rec.ID)
	require.NoError(t, err)
	assert.True(t, st.StackExists)
	assert.True(t, st.ObjectStoreExists)
	assert.Equal(t, Complete, st.Classification)
	assert.True(t, st.NeedsSync)
	assert.Equal(t, ActionUpdateToActive, st.RecommendedAction)
	require.NotNil(t, st.Outputs)
	assert.Equal(t, "EDIST", st.Outputs.CDNDistributionID)
	assert.Len(t, st.Resources, 1)

	got, err := store.GetResource(ctx, rec.ID)
	require.NoError(t, err)
	assert.Equal(t, models.StatusPending, got.Status)

	_, err = rc.Check(ctx, "missing")
	assert.ErrorIs(t, err, models.ErrNotFound)
}

func TestSyncAll_AppliesUnambiguousCorrections(t *testing.T) {
	ctx := context.Background()
	store, fake, rc := setup(t)

	toActive := dbtest.Seed(t, store, "to-active", models.StatusPending)
	fake.PutStack(toActive.ObjectStoreName, completeStack(toActive.ObjectStoreName))

	toFailed := dbtest.Seed(t, store, "to-failed", models.StatusDeploying)
	fake.PutStack(toFailed.ObjectStoreName, &provider.Stack{Status: "ROLLBACK_COMPLETE"})

	toPending := dbtest.Seed(t, store, "to-pending", models.StatusActive)
	require.NoError(t, store.UpdateResource(ctx, toPending.ID, models.SetStatusAndOutputs(models.StatusActive, models.StackOutputs{ObjectStoreArn: "arn:old"})))

	orphan := dbtest.Seed(t, store, "orphan", models.StatusActive)
	fake.PutObject(orphan.ObjectStoreName, "k", 1)

	busy := dbtest.Seed(t, store, "busy", models.StatusFailed)
	fake.PutStack(busy.ObjectStoreName, &provider.Stack{Status: "UPDATE_IN_PROGRESS"})

	var streamed []SyncStatus
	results, err := rc.SyncAll(ctx, func(s SyncStatus) { streamed = append(streamed, s) })
	require.NoError(t, err)
	require.Len(t, results, 5)
	assert.Equal(t, results, streamed)

	byID := map[string]SyncStatus{}
	for _, r := range results {
		byID[r.ResourceID] = r
	}
	assert.True(t, byID["to-active"].Applied)
	assert.True(t, byID["to-failed"].Applied)
	assert.True(t, byID["to-pending"].Applied)
	assert.False(t, byID["orphan"].Applied)
	assert.Equal(t, ActionUpdateToActive, byID["orphan"].RecommendedAction)
	assert.False(t, byID["busy"].Applied)
	assert.True(t, byID["busy"].NeedsSync)

	status := func(id string) *models.Resource {
		r, err := store.GetResource(ctx, id)
		require.NoError(t, err)
		return r
	}
	a := status("to-active")
	assert.Equal(t, models.StatusActive, a.Status)
	assert.Equal(t, "arn:aws:s3:::"+toActive.ObjectStoreName, a.ObjectStoreArn)
	assert.Equal(t, "d1.cloudfront.net", a.CDNDomain)
	assert.Equal(t, models.StatusFailed, status("to-failed").Status)
	p := status("to-pending")
	assert.Equal(t, models.StatusPending, p.Status)
	assert.Empty(t, p.ObjectStoreArn)
	assert.Equal(t, models.StatusActive, status("orphan").Status)
	assert.Equal(t, models.StatusFailed, status("busy").Status)
}

func TestSyncAll_ProviderErrorIsIsolated(t *testing.T) {
	ctx := context.Background()
	store, fake, rc := setup(t)
	first := dbtest.Seed(t, store, "first", models.StatusActive)
	second := dbtest.Seed(t, store, "second", models.StatusPending)
	fake.DescribeErrs = map[string]error{first.ObjectStoreName: errors.New("throttled")}
	fake.PutStack(second.ObjectStoreName, completeStack(second.ObjectStoreName))

	results, err := rc.SyncAll(ctx, nil)
	require.NoError(t, err)
	require.Len(t, results, 2)
	for _, r := range results {
		switch r.ResourceID {
		case "first":
			assert.False(t, r.NeedsSync)
			assert.Equal(t, ActionNone, r.RecommendedAction)
			assert.Contains(t, r.Error, "throttled")
		case "second":
			assert.True(t, r.Applied)
		}
	}
	got, err := store.GetResource(ctx, first.ID)
	require.NoError(t, err)
	assert.Equal(t, models.StatusActive, got.Status)
}

func TestApply_Actions(t *testing.T) {
	ctx := context.Background()
	store, fake, rc := setup(t)
	rec := dbtest.Seed(t, store, "r1", models.StatusFailed)
	fake.PutStack(rec.ObjectStoreName, completeStack(rec.ObjectStoreName))

	require.NoError(t, rc.Apply(ctx, rec.ID, ActionUpdateToActive))
	got, _ := store.GetResource(ctx, rec.ID)
	assert.Equal(t, models.StatusActive, got.Status)
	assert.Equal(t, "EDIST", got.CDNDistributionID)

	require.NoError(t, rc.Apply(ctx, rec.ID, ActionUpdateToFailed))
	got, _ = store.GetResource(ctx, rec.ID)
	assert.Equal(t, models.StatusFailed, got.Status)

	require.NoError(t, rc.Apply(ctx, rec.ID, ActionUpdateToPending))
	got, _ = store.GetResource(ctx, rec.ID)
	assert.Equal(t, models.StatusPending, got.Status)
	assert.Empty(t, got.CDNDistributionID)

	require.NoError(t, rc.Apply(ctx, rec.ID, ActionNone))
	assert.ErrorIs(t, rc.Apply(ctx, rec.ID, Action("explode")), ErrUnknownAction)
	assert.ErrorIs(t, rc.Apply(ctx, "missing", ActionNone), models.ErrNotFound)
}

func TestApply_RollbackDeletesStackFirst(t *testing.T) {
	ctx := context.Background()
	store, fake, rc := setup(t)
	rec := dbtest.Seed(t, store, "r1", models.StatusFailed)
	fake.PutStack(rec.ObjectStoreName, &provider.Stack{Status: "UPDATE_ROLLBACK_FAILED"})

	fake.DeleteStackErr = errors.New("denied")
	require.Error(t, rc.Apply(ctx, rec.ID, ActionRollback))
	got, _ := store.GetResource(ctx, rec.ID)
	assert.Equal(t, models.StatusFailed, got.Status)

	fake.DeleteStackErr = nil
	require.NoError(t, rc.Apply(ctx, rec.ID, ActionRollback))
	got, _ = store.GetResource(ctx, rec.ID)
	assert.Equal(t, models.StatusPending, got.Status)
	assert.Empty(t, fake.Stacks)
	assert.Equal(t, 2, fake.CallsTo("DeleteStack"))
}

func TestApply_CleanupRemovesLocalStateOnly(t *testing.T) {
	ctx := context.Background()
	store, fake, rc := setup(t)
	rec := dbtest.Seed(t, store, "r1", models.StatusActive)
	fake.PutObject(rec.ObjectStoreName, "a", 1)
	require.NoError(t, store.CreateFile(ctx, &models.FileMetadata{ID: "f1", ResourceID: rec.ID, ObjectStoreName: rec.ObjectStoreName, Key: "a"}))

	require.NoError(t, rc.Apply(ctx, rec.ID, ActionCleanup))
	_, err := store.GetResource(ctx, rec.ID)
	assert.ErrorIs(t, err, models.ErrNotFound)
	files, err := store.ListFiles(ctx, rec.ObjectStoreName)
	require.NoError(t, err)
	assert.Empty(t, files)
	assert.Contains(t, fake.Buckets, rec.ObjectStoreName)
}
