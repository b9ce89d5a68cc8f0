package handlers

import (
	"context"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"

	"github.com/attic-backup/attic/internal/backup"
	"github.com/attic-backup/attic/internal/models"
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// mockRestorer records restore requests.
type mockRestorer struct {
	requests []models.RestoreRequest
	err      error
}

func (m *mockRestorer) Restore(_ context.Context, _ *models.Device, req models.RestoreRequest) (*backup.RestoreResult, error) {
	if m.err != nil {
		return nil, m.err
	}
	m.requests = append(m.requests, req)
	return &backup.RestoreResult{Version: "v1", Source: req.SourcePath, Destination: req.DestPath}, nil
}

type versionFixture struct {
	store    *mockStore
	versions *backup.VersionStore
	restorer *mockRestorer
	router   *gin.Engine
	device   *models.Device
}

func newVersionFixture(t *testing.T) *versionFixture {
	t.Helper()
	f := &versionFixture{
		store:    newMockStore(),
		versions: backup.NewVersionStore(t.TempDir(), zerolog.Nop()),
		restorer: &mockRestorer{},
	}
	f.device = serverDevice()
	f.store.devices[f.device.ID] = f.device

	f.router = gin.New()
	NewVersionHandler(f.store, f.versions, f.restorer, zerolog.Nop()).RegisterRoutes(f.router.Group("/api/v1"))
	return f
}

// seedVersion creates version n with a single file at relPath.
func (f *versionFixture) seedVersion(t *testing.T, n int, relPath, content string) {
	t.Helper()
	full := filepath.Join(f.versions.VersionDir(f.device.ID, n), relPath)
	require.NoError(t, os.MkdirAll(filepath.Dir(full), 0o755))
	require.NoError(t, os.WriteFile(full, []byte(content), 0o644))
	require.NoError(t, f.versions.SetLatest(f.device.ID, n))
}

func TestListVersions(t *testing.T) {
	f := newVersionFixture(t)
	f.seedVersion(t, 1, "home/doc.txt", "one")
	f.seedVersion(t, 2, "home/doc.txt", "two")

	w := f.get(t, "/versions")
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	assert.JSONEq(t, `{"versions": [1, 2], "latest": 2, "count": 2}`, w.Body.String())
}

func TestListVersionsEmpty(t *testing.T) {
	f := newVersionFixture(t)

	w := f.get(t, "/versions")
	require.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, `{"versions": [], "latest": 0, "count": 0}`, w.Body.String())
}

func TestBrowseVersion(t *testing.T) {
	f := newVersionFixture(t)
	f.seedVersion(t, 1, "home/docs/report.txt", "hello")

	w := f.get(t, "/versions/v1/browse?path=home/docs")
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	assert.Contains(t, w.Body.String(), "report.txt")

	w = f.get(t, "/versions/latest/browse")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), "home")
}

func TestBrowseRejectsEscape(t *testing.T) {
	f := newVersionFixture(t)
	f.seedVersion(t, 1, "home/doc.txt", "x")

	w := f.get(t, "/versions/v1/browse?path=../../etc")
	assert.Equal(t, http.StatusBadRequest, w.Code, w.Body.String())
}

func TestBrowseUnknownVersion(t *testing.T) {
	f := newVersionFixture(t)

	w := f.get(t, "/versions/v9/browse")
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestDownloadFile(t *testing.T) {
	f := newVersionFixture(t)
	f.seedVersion(t, 1, "home/doc.txt", "file body")

	w := f.get(t, "/versions/v1/download?path=home/doc.txt")
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	assert.Equal(t, "file body", w.Body.String())
	assert.Contains(t, w.Header().Get("Content-Disposition"), "doc.txt")
}

func TestDownloadRejectsDirectoryAndMissingPath(t *testing.T) {
	f := newVersionFixture(t)
	f.seedVersion(t, 1, "home/doc.txt", "x")

	w := f.get(t, "/versions/v1/download?path=home")
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = f.get(t, "/versions/v1/download")
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = f.get(t, "/versions/v1/download?path=home/missing.txt")
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestRestoreEndpoint(t *testing.T) {
	f := newVersionFixture(t)

	w := f.post(t, "/restore", `{"version": "latest", "sourcePath": "home/doc.txt"}`)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	require.Len(t, f.restorer.requests, 1)
	assert.Equal(t, "home/doc.txt", f.restorer.requests[0].SourcePath)
}

func TestRestoreErrors(t *testing.T) {
	f := newVersionFixture(t)

	t.Run("missing source", func(t *testing.T) {
		w := f.post(t, "/restore", `{"version": "latest"}`)
		assert.Equal(t, http.StatusBadRequest, w.Code)
	})

	t.Run("unknown version", func(t *testing.T) {
		f.restorer.err = backup.ErrVersionNotFound
		defer func() { f.restorer.err = nil }()
		w := f.post(t, "/restore", `{"version": "v9", "sourcePath": "home"}`)
		assert.Equal(t, http.StatusNotFound, w.Code)
	})

	t.Run("escaping source", func(t *testing.T) {
		f.restorer.err = backup.ErrPathEscapes
		defer func() { f.restorer.err = nil }()
		w := f.post(t, "/restore", `{"version": "latest", "sourcePath": "../../etc"}`)
		assert.Equal(t, http.StatusBadRequest, w.Code)
	})
}

func TestRestoreRejectsAgentManaged(t *testing.T) {
	f := newVersionFixture(t)
	agent := agentDevice()
	f.store.devices[agent.ID] = agent

	w := f.post(t, "/restore", `{"version": "latest", "sourcePath": "home"}`, agent.ID)
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Empty(t, f.restorer.requests)
}

func TestUsageEndpoint(t *testing.T) {
	f := newVersionFixture(t)
	f.seedVersion(t, 1, "home/doc.txt", "0123456789")

	w := f.get(t, "/usage")
	require.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, `{"bytes": 10}`, w.Body.String())
}

func (f *versionFixture) get(t *testing.T, suffix string) *httptest.ResponseRecorder {
	t.Helper()
	return doRequest(t, f.router, http.MethodGet, "/api/v1/devices/"+f.device.ID.String()+suffix, "")
}

func (f *versionFixture) post(t *testing.T, suffix, body string, deviceID ...uuid.UUID) *httptest.ResponseRecorder {
	t.Helper()
	id := f.device.ID
	if len(deviceID) > 0 {
		id = deviceID[0]
	}
	return doRequest(t, f.router, http.MethodPost, "/api/v1/devices/"+id.String()+suffix, body)
}
