package handlers

import (
	"context"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/attic-backup/attic/internal/models"
	"github.com/attic-backup/attic/internal/registry"
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

func init() {
	gin.SetMode(gin.TestMode)
}

// mockStore is an in-memory DeviceStore.
type mockStore struct {
	devices map[uuid.UUID]*models.Device
	pending []*models.PendingAgent
}

func newMockStore() *mockStore {
	return &mockStore{devices: make(map[uuid.UUID]*models.Device)}
}

func (m *mockStore) ListDevices(context.Context) ([]*models.Device, error) {
	out := make([]*models.Device, 0, len(m.devices))
	for _, d := range m.devices {
		out = append(out, d)
	}
	return out, nil
}

func (m *mockStore) GetDevice(_ context.Context, id uuid.UUID) (*models.Device, error) {
	d, ok := m.devices[id]
	if !ok {
		return nil, registry.ErrDeviceNotFound
	}
	copied := *d
	return &copied, nil
}

func (m *mockStore) SaveDevice(_ context.Context, d *models.Device) error {
	m.devices[d.ID] = d
	return nil
}

func (m *mockStore) UpdateDevice(_ context.Context, id uuid.UUID, fn func(*models.Device) error) (*models.Device, error) {
	d, ok := m.devices[id]
	if !ok {
		return nil, registry.ErrDeviceNotFound
	}
	if err := fn(d); err != nil {
		return nil, err
	}
	return d, nil
}

func (m *mockStore) DeleteDevice(_ context.Context, id uuid.UUID) error {
	delete(m.devices, id)
	return nil
}

func (m *mockStore) ListPending(context.Context) ([]*models.PendingAgent, error) {
	return m.pending, nil
}

// mockEngine records backup runs.
type mockEngine struct {
	running map[uuid.UUID]bool
	runs    int
	done    chan struct{}
}

func newMockEngine() *mockEngine {
	return &mockEngine{running: make(map[uuid.UUID]bool), done: make(chan struct{}, 8)}
}

func (m *mockEngine) RunBackup(_ context.Context, _ *models.Device) error {
	m.runs++
	m.done <- struct{}{}
	return nil
}

func (m *mockEngine) Status(id uuid.UUID) models.RunStatus {
	if m.running[id] {
		return models.RunStatus{Status: "running"}
	}
	return models.RunStatus{Status: "idle"}
}

// mockTrust records trust operations.
type mockTrust struct {
	approved  []uuid.UUID
	rejected  []uuid.UUID
	triggered []uuid.UUID
}

func (m *mockTrust) Approve(_ context.Context, id uuid.UUID, _ models.ApproveRequest) (*models.ApproveResponse, error) {
	m.approved = append(m.approved, id)
	return &models.ApproveResponse{Device: &models.Device{ID: id}}, nil
}

func (m *mockTrust) Reject(_ context.Context, id uuid.UUID) error {
	m.rejected = append(m.rejected, id)
	return nil
}

func (m *mockTrust) Trigger(_ context.Context, id uuid.UUID) error {
	m.triggered = append(m.triggered, id)
	return nil
}

// mockCleaner records version-store cleanup.
type mockCleaner struct {
	removed []uuid.UUID
	usage   int64
}

func (m *mockCleaner) RemoveDevice(id uuid.UUID) error {
	m.removed = append(m.removed, id)
	return nil
}

func (m *mockCleaner) DeviceUsage(uuid.UUID) int64 { return m.usage }

// mockDeprovisioner records share removals.
type mockDeprovisioner struct {
	shares []string
}

func (m *mockDeprovisioner) Deprovision(_ context.Context, share string) error {
	m.shares = append(m.shares, share)
	return nil
}

func serverDevice() *models.Device {
	d := models.NewDevice("nas-1", models.BackupTypeFiles)
	d.IP = "10.0.0.9"
	d.SSHUser = "backup"
	d.Paths = []string{"/srv/data"}
	return d
}

func agentDevice() *models.Device {
	d := models.NewDevice("pc-1", models.BackupTypeFiles)
	d.IP = "10.0.0.5"
	d.AgentToken = "atk_" + strings.Repeat("ab", 32)
	return d
}

type deviceFixture struct {
	handler *DeviceHandler
	store   *mockStore
	engine  *mockEngine
	trust   *mockTrust
	cleaner *mockCleaner
	shares  *mockDeprovisioner
	router  *gin.Engine
}

func newDeviceFixture() *deviceFixture {
	f := &deviceFixture{
		store:   newMockStore(),
		engine:  newMockEngine(),
		trust:   &mockTrust{},
		cleaner: &mockCleaner{},
		shares:  &mockDeprovisioner{},
	}
	f.handler = NewDeviceHandler(f.store, f.engine, f.trust, f.cleaner, f.shares, zerolog.Nop())
	f.router = gin.New()
	f.handler.RegisterRoutes(f.router.Group("/api/v1"))
	return f
}

func (f *deviceFixture) do(t *testing.T, method, path, body string) *httptest.ResponseRecorder {
	t.Helper()
	return doRequest(t, f.router, method, path, body)
}

func doRequest(t *testing.T, router *gin.Engine, method, path, body string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)
	return w
}
