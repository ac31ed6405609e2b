package api

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/arencloud/depot/internal/command"
	"github.com/arencloud/depot/internal/config"
	"github.com/arencloud/depot/internal/db"
	"github.com/arencloud/depot/internal/db/dbtest"
	"github.com/arencloud/depot/internal/deploy"
	"github.com/arencloud/depot/internal/errorpattern"
	"github.com/arencloud/depot/internal/logging"
	"github.com/arencloud/depot/internal/models"
	"github.com/arencloud/depot/internal/proc"
	"github.com/arencloud/depot/internal/provider"
	"github.com/arencloud/depot/internal/provider/providertest"
	"github.com/arencloud/depot/internal/reconcile"
	"github.com/arencloud/depot/internal/teardown"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type cannedProcess struct{ code int }

func (p cannedProcess) Stdout() io.Reader              { return strings.NewReader("StorageStack: deploying... [1/1]\n") }
func (p cannedProcess) Stderr() io.Reader              { return strings.NewReader("") }
func (p cannedProcess) Wait() (proc.ExitStatus, error) { return proc.ExitStatus{Code: p.code}, nil }
func (p cannedProcess) Stop(time.Duration) error       { return nil }
func (p cannedProcess) PID() int                       { return 1 }

type cannedSpawner struct{ code int }

func (s cannedSpawner) Spawn(context.Context, proc.Spec) (proc.Process, error) {
	return cannedProcess{code: s.code}, nil
}

type testEnv struct {
	ts    *httptest.Server
	store *db.Store
	fake  *providertest.Fake
}

// set up a temporary DB, fake provider and router for integration-style tests
func setupTestServer(t *testing.T) *testEnv {
	t.Helper()
	gin.SetMode(gin.TestMode)
	infra := t.TempDir()
	require.NoError(t, os.MkdirAll(filepath.Join(infra, "node_modules"), 0o755))

	cfg := &config.Config{Env: "test", UploadURLTTL: 15 * time.Minute}
	cfg.AWS.Region = "eu-central-1"
	logger := logging.Nop()
	store := dbtest.Open(t)
	fake := providertest.New()

	h := Router(Deps{
		Config:     cfg,
		Logger:     logger,
		Store:      store,
		Provider:   fake,
		Runner:     deploy.NewRunner(deploy.Options{Dir: infra}, store, cannedSpawner{}, errorpattern.Default(), logger, nil),
		Reconciler: reconcile.New(store, fake, logger, nil),
		Teardown:   teardown.New(store, fake, logger, nil),
		Commands:   command.NewExecutor(command.Options{Allowlist: []string{"echo"}}, proc.ExecSpawner{}, nil, logger, nil),
		Gatherer:   prometheus.NewRegistry(),
	})
	ts := httptest.NewServer(h)
	t.Cleanup(ts.Close)
	return &testEnv{ts: ts, store: store, fake: fake}
}

func (e *testEnv) do(t *testing.T, method, path string, body any) *http.Response {
	t.Helper()
	var rd io.Reader
	if body != nil {
		b, err := json.Marshal(body)
		require.NoError(t, err)
		rd = bytes.NewReader(b)
	}
	req, err := http.NewRequest(method, e.ts.URL+path, rd)
	require.NoError(t, err)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	t.Cleanup(func() { resp.Body.Close() })
	return resp
}

func decode[T any](t *testing.T, resp *http.Response) T {
	t.Helper()
	var v T
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&v))
	return v
}

func lines(t *testing.T, resp *http.Response) []map[string]any {
	t.Helper()
	var out []map[string]any
	sc := bufio.NewScanner(resp.Body)
	for sc.Scan() {
		var m map[string]any
		require.NoError(t, json.Unmarshal(sc.Bytes(), &m), sc.Text())
		out = append(out, m)
	}
	require.NoError(t, sc.Err())
	return out
}

func TestHealthVersionMetrics(t *testing.T) {
	env := setupTestServer(t)
	for _, p := range []string{"/health", "/api/version", "/metrics"} {
		resp := env.do(t, http.MethodGet, p, nil)
		assert.Equal(t, http.StatusOK, resp.StatusCode, p)
	}
	resp := env.do(t, http.MethodGet, "/api/version", nil)
	v := decode[map[string]string](t, resp)
	assert.Equal(t, "depot", v["name"])
	assert.NotEmpty(t, resp.Header.Get("X-Request-ID"))
}

func TestResourceCRUD(t *testing.T) {
	env := setupTestServer(t)

	resp := env.do(t, http.MethodPost, "/api/v1/resources", map[string]any{"ownerId": "p1"})
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	resp = env.do(t, http.MethodPost, "/api/v1/resources", map[string]any{"ownerId": "p1", "displayName": "X", "config": map[string]any{"encryption": "rot13"}})
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)

	resp = env.do(t, http.MethodPost, "/api/v1/resources", map[string]any{"ownerId": "p1", "displayName": "Marketing Assets"})
	require.Equal(t, http.StatusCreated, resp.StatusCode)
	created := decode[models.Resource](t, resp)
	assert.Equal(t, models.StatusPending, created.Status)
	assert.True(t, strings.HasPrefix(created.ObjectStoreName, "marketing-assets-"))
	assert.Equal(t, "eu-central-1", created.Region)
	assert.Equal(t, "SSE-S3", created.Config.Encryption)

	resp = env.do(t, http.MethodGet, "/api/v1/resources", nil)
	assert.Len(t, decode[[]models.Resource](t, resp), 1)

	resp = env.do(t, http.MethodGet, "/api/v1/resources/"+created.ID, nil)
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	resp = env.do(t, http.MethodDelete, "/api/v1/resources/"+created.ID, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, true, decode[map[string]any](t, resp)["success"])

	resp = env.do(t, http.MethodGet, "/api/v1/resources/"+created.ID, nil)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestDeployStream(t *testing.T) {
	env := setupTestServer(t)
	rec := dbtest.Seed(t, env.store, "r1", models.StatusPending)

	resp := env.do(t, http.MethodPost, "/api/v1/deploy", map[string]any{"action": "deploy", "resourceId": rec.ID})
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "application/x-ndjson", resp.Header.Get("Content-Type"))
	events := lines(t, resp)
	require.NotEmpty(t, events)
	last := events[len(events)-1]
	assert.Equal(t, "result", last["type"])
	assert.Equal(t, "success", last["status"])

	got, err := env.store.GetResource(context.Background(), rec.ID)
	require.NoError(t, err)
	assert.Equal(t, models.StatusActive, got.Status)
}

func TestDeployRejections(t *testing.T) {
	env := setupTestServer(t)
	rec := dbtest.Seed(t, env.store, "r1", models.StatusDeleting)

	resp := env.do(t, http.MethodPost, "/api/v1/deploy", map[string]any{"action": "deploy", "resourceId": rec.ID})
	assert.Equal(t, http.StatusConflict, resp.StatusCode)
	resp = env.do(t, http.MethodPost, "/api/v1/deploy", map[string]any{"action": "destroy", "resourceId": rec.ID})
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	resp = env.do(t, http.MethodPost, "/api/v1/deploy", map[string]any{"action": "deploy"})
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	resp = env.do(t, http.MethodPost, "/api/v1/deploy", map[string]any{"action": "deploy", "resourceId": "missing"})
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestTeardownStream(t *testing.T) {
	env := setupTestServer(t)
	rec := dbtest.Seed(t, env.store, "r1", models.StatusActive)
	env.fake.PutObject(rec.ObjectStoreName, "a.txt", 1)

	resp := env.do(t, http.MethodPost, "/api/v1/resources/"+rec.ID+"/teardown", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var final []string
	for _, ev := range lines(t, resp) {
		if ev["status"] != "running" {
			final = append(final, ev["step"].(string)+":"+ev["status"].(string))
		}
	}
	assert.Equal(t, []string{"files:done", "cdn:done", "store:done", "metadata:done", "complete:done"}, final)

	busy := dbtest.Seed(t, env.store, "r2", models.StatusDeploying)
	resp = env.do(t, http.MethodPost, "/api/v1/resources/"+busy.ID+"/teardown", nil)
	assert.Equal(t, http.StatusConflict, resp.StatusCode)
}

func TestSyncEndpoints(t *testing.T) {
	env := setupTestServer(t)
	rec := dbtest.Seed(t, env.store, "r1", models.StatusPending)
	env.fake.PutStack(rec.ObjectStoreName, &provider.Stack{Status: "CREATE_COMPLETE", Outputs: map[string]string{"BucketArn": "arn:x"}})

	resp := env.do(t, http.MethodGet, "/api/v1/resources/"+rec.ID+"/sync", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	st := decode[reconcile.SyncStatus](t, resp)
	assert.True(t, st.NeedsSync)
	assert.Equal(t, reconcile.ActionUpdateToActive, st.RecommendedAction)

	resp = env.do(t, http.MethodPost, "/api/v1/resources/"+rec.ID+"/sync", map[string]any{"action": "bogus"})
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)

	resp = env.do(t, http.MethodPost, "/api/v1/sync/all", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	all := lines(t, resp)
	require.Len(t, all, 1)
	assert.Equal(t, true, all[0]["applied"])

	resp = env.do(t, http.MethodPost, "/api/v1/resources/"+rec.ID+"/sync", map[string]any{"action": "update-to-failed"})
	require.Equal(t, http.StatusOK, resp.StatusCode)
	got, err := env.store.GetResource(context.Background(), rec.ID)
	require.NoError(t, err)
	assert.Equal(t, models.StatusFailed, got.Status)
}

func TestObjectEndpoints(t *testing.T) {
	env := setupTestServer(t)
	pending := dbtest.Seed(t, env.store, "p", models.StatusPending)
	resp := env.do(t, http.MethodGet, "/api/v1/resources/"+pending.ID+"/objects", nil)
	assert.Equal(t, http.StatusConflict, resp.StatusCode)

	rec := dbtest.Seed(t, env.store, "r1", models.StatusActive)
	env.fake.PutObject(rec.ObjectStoreName, "docs/a.txt", 5)
	base := "/api/v1/resources/" + rec.ID

	resp = env.do(t, http.MethodGet, base+"/objects?prefix=docs/", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Len(t, decode[[]map[string]any](t, resp), 1)

	resp = env.do(t, http.MethodPost, base+"/objects/move", map[string]any{"from": "docs/a.txt", "to": "docs/b.txt"})
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Contains(t, env.fake.Buckets[rec.ObjectStoreName], "docs/b.txt")

	resp = env.do(t, http.MethodDelete, base+"/objects?key=docs/b.txt", nil)
	assert.Equal(t, http.StatusNoContent, resp.StatusCode)

	resp = env.do(t, http.MethodPost, base+"/upload-url", map[string]any{"key": "big.bin", "size": 51 << 20})
	assert.Equal(t, http.StatusRequestEntityTooLarge, resp.StatusCode)

	resp = env.do(t, http.MethodPost, base+"/upload-url", map[string]any{"key": "/img/logo.png", "contentType": "image/png", "size": 1024})
	require.Equal(t, http.StatusOK, resp.StatusCode)
	u := decode[map[string]any](t, resp)
	assert.Contains(t, u["url"], "img/logo.png")

	resp = env.do(t, http.MethodGet, base+"/files", nil)
	files := decode[[]models.FileMetadata](t, resp)
	require.Len(t, files, 1)
	assert.Equal(t, "img/logo.png", files[0].Key)
}

func TestCommandEndpoints(t *testing.T) {
	env := setupTestServer(t)
	resp := env.do(t, http.MethodPost, "/api/v1/commands", map[string]any{"command": "rm -rf /"})
	assert.Equal(t, http.StatusForbidden, resp.StatusCode)

	resp = env.do(t, http.MethodPost, "/api/v1/commands", map[string]any{"command": "echo hi"})
	require.Equal(t, http.StatusOK, resp.StatusCode)
	events := lines(t, resp)
	require.NotEmpty(t, events)
	assert.Equal(t, "session", events[0]["type"])
	assert.Equal(t, "success", events[len(events)-1]["status"])

	resp = env.do(t, http.MethodDelete, "/api/v1/commands/nope", nil)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestLogEndpoints(t *testing.T) {
	env := setupTestServer(t)
	resp := env.do(t, http.MethodGet, "/api/v1/logs/recent?limit=5", nil)
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	resp = env.do(t, http.MethodPut, "/api/v1/logs/level", map[string]any{"level": "loud"})
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	resp = env.do(t, http.MethodPut, "/api/v1/logs/level", map[string]any{"level": "debug"})
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "debug", decode[map[string]any](t, resp)["level"])
	resp = env.do(t, http.MethodPut, "/api/v1/logs/level", map[string]any{"level": "info"})
	assert.Equal(t, http.StatusOK, resp.StatusCode)
}
