package handlers

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/attic-backup/attic/internal/backup"
	"github.com/attic-backup/attic/internal/models"
	"github.com/attic-backup/attic/internal/registry"
	"github.com/attic-backup/attic/internal/sanitize"
	"github.com/attic-backup/attic/internal/transfer"
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

// DeviceStore defines the registry operations the device handler needs.
type DeviceStore interface {
	ListDevices(ctx context.Context) ([]*models.Device, error)
	GetDevice(ctx context.Context, id uuid.UUID) (*models.Device, error)
	SaveDevice(ctx context.Context, device *models.Device) error
	UpdateDevice(ctx context.Context, id uuid.UUID, fn func(*models.Device) error) (*models.Device, error)
	DeleteDevice(ctx context.Context, id uuid.UUID) error
	ListPending(ctx context.Context) ([]*models.PendingAgent, error)
}

// BackupEngine defines the run operations the device handler needs.
type BackupEngine interface {
	RunBackup(ctx context.Context, device *models.Device) error
	Status(deviceID uuid.UUID) models.RunStatus
}

// TrustService defines the approval and trigger operations the device
// handler needs.
type TrustService interface {
	Approve(ctx context.Context, pendingID uuid.UUID, req models.ApproveRequest) (*models.ApproveResponse, error)
	Reject(ctx context.Context, pendingID uuid.UUID) error
	Trigger(ctx context.Context, deviceID uuid.UUID) error
}

// ShareDeprovisioner removes a device's Samba account on deletion.
type ShareDeprovisioner interface {
	Deprovision(ctx context.Context, shareName string) error
}

// VersionCleaner removes a device's version directory on deletion.
type VersionCleaner interface {
	RemoveDevice(deviceID uuid.UUID) error
	DeviceUsage(deviceID uuid.UUID) int64
}

const sshProbeTimeout = 10 * time.Second

// DeviceHandler handles device and pending-agent management endpoints.
type DeviceHandler struct {
	store    DeviceStore
	engine   BackupEngine
	trust    TrustService
	versions VersionCleaner
	shares   ShareDeprovisioner
	logger   zerolog.Logger
}

// NewDeviceHandler creates a new DeviceHandler. shares may be nil when
// share provisioning is unavailable.
func NewDeviceHandler(store DeviceStore, engine BackupEngine, trustSvc TrustService, versions VersionCleaner, shares ShareDeprovisioner, logger zerolog.Logger) *DeviceHandler {
	return &DeviceHandler{
		store:    store,
		engine:   engine,
		trust:    trustSvc,
		versions: versions,
		shares:   shares,
		logger:   logger.With().Str("component", "device_handler").Logger(),
	}
}

// RegisterRoutes registers device routes on the given router group.
func (h *DeviceHandler) RegisterRoutes(r *gin.RouterGroup) {
	devices := r.Group("/devices")
	{
		devices.GET("", h.List)
		devices.POST("", h.Create)
		devices.GET("/:id", h.Get)
		devices.PUT("/:id", h.Update)
		devices.DELETE("/:id", h.Delete)
		devices.POST("/:id/backup", h.RunBackup)
		devices.GET("/:id/status", h.Status)
		devices.POST("/:id/test-connection", h.TestConnection)
	}

	pending := r.Group("/pending")
	{
		pending.GET("", h.ListPending)
		pending.POST("/:id/approve", h.Approve)
		pending.POST("/:id/reject", h.Reject)
	}
}

// List returns all registered devices.
// GET /api/v1/devices
func (h *DeviceHandler) List(c *gin.Context) {
	devices, err := h.store.ListDevices(c.Request.Context())
	if err != nil {
		h.logger.Error().Err(err).Msg("failed to list devices")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to list devices"})
		return
	}
	if devices == nil {
		devices = []*models.Device{}
	}
	c.JSON(http.StatusOK, gin.H{"devices": devices, "count": len(devices)})
}

// Create registers a server-managed device.
// POST /api/v1/devices
func (h *DeviceHandler) Create(c *gin.Context) {
	var req models.DeviceRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request: " + err.Error()})
		return
	}

	device := models.NewDevice(req.Name, req.BackupType)
	if err := h.applyRequest(device, &req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	if err := h.store.SaveDevice(c.Request.Context(), device); err != nil {
		h.logger.Error().Err(err).Msg("failed to save device")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to save device"})
		return
	}

	h.logger.Info().
		Str("device_id", device.ID.String()).
		Str("device", device.Name).
		Str("backup_type", string(device.BackupType)).
		Msg("device created")

	c.JSON(http.StatusCreated, device)
}

// Get returns a single device.
// GET /api/v1/devices/:id
func (h *DeviceHandler) Get(c *gin.Context) {
	device := h.lookupDevice(c)
	if device == nil {
		return
	}
	c.JSON(http.StatusOK, device)
}

// Update replaces a device's configuration.
// PUT /api/v1/devices/:id
func (h *DeviceHandler) Update(c *gin.Context) {
	id, ok := parseID(c)
	if !ok {
		return
	}

	var req models.DeviceRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request: " + err.Error()})
		return
	}

	device, err := h.store.UpdateDevice(c.Request.Context(), id, func(d *models.Device) error {
		return h.applyRequest(d, &req)
	})
	if err != nil {
		if errors.Is(err, registry.ErrDeviceNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": "device not found"})
			return
		}
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	c.JSON(http.StatusOK, device)
}

// applyRequest copies a validated request onto a device.
func (h *DeviceHandler) applyRequest(device *models.Device, req *models.DeviceRequest) error {
	paths, bad, ok := sanitize.SourcePaths(req.Paths)
	if !ok {
		return errors.New("invalid source path: " + bad)
	}
	excludes, bad, ok := sanitize.Paths(req.Excludes)
	if !ok {
		return errors.New("invalid exclude: " + bad)
	}

	device.Name = req.Name
	device.IP = req.IP
	device.Hostname = req.Hostname
	device.MAC = req.MAC
	device.OS = req.OS
	device.BackupType = req.BackupType
	device.SSHUser = req.SSHUser
	// The request is a full replacement; omitted numeric fields fall back
	// to their defaults rather than keeping stale values.
	device.SSHPort = req.SSHPort
	if device.SSHPort == 0 {
		device.SSHPort = 22
	}
	device.SambaShare = req.SambaShare
	device.Paths = paths
	device.Excludes = excludes
	device.Schedule = req.Schedule
	device.Retention = req.Retention
	if device.Retention == 0 {
		device.Retention = 3
	}
	if req.Enabled != nil {
		device.Enabled = *req.Enabled
	}
	return device.Validate()
}

// Delete removes a device and everything derived from it: its stored
// versions and, for image devices, the provisioned share account.
// DELETE /api/v1/devices/:id
func (h *DeviceHandler) Delete(c *gin.Context) {
	device := h.lookupDevice(c)
	if device == nil {
		return
	}

	if status := h.engine.Status(device.ID); status.Status == "running" {
		c.JSON(http.StatusConflict, gin.H{"error": "a backup is currently running for this device"})
		return
	}

	if err := h.store.DeleteDevice(c.Request.Context(), device.ID); err != nil {
		h.logger.Error().Err(err).Str("device_id", device.ID.String()).Msg("failed to delete device")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to delete device"})
		return
	}

	if err := h.versions.RemoveDevice(device.ID); err != nil {
		h.logger.Error().Err(err).Str("device_id", device.ID.String()).Msg("failed to remove stored versions")
	}
	if device.SambaShare != "" && h.shares != nil {
		if err := h.shares.Deprovision(c.Request.Context(), device.SambaShare); err != nil {
			h.logger.Error().Err(err).Str("share", device.SambaShare).Msg("failed to deprovision share")
		}
	}

	h.logger.Info().Str("device_id", device.ID.String()).Str("device", device.Name).Msg("device deleted")
	c.JSON(http.StatusOK, gin.H{"status": "deleted"})
}

// RunBackup starts a backup immediately. Server-managed devices run in the
// background; agent-managed devices get the trigger flag set for their
// next poll.
// POST /api/v1/devices/:id/backup
func (h *DeviceHandler) RunBackup(c *gin.Context) {
	device := h.lookupDevice(c)
	if device == nil {
		return
	}

	if !device.Enabled {
		c.JSON(http.StatusConflict, gin.H{"error": "device is disabled"})
		return
	}

	if device.IsAgentManaged() {
		if err := h.trust.Trigger(c.Request.Context(), device.ID); err != nil {
			h.logger.Error().Err(err).Str("device_id", device.ID.String()).Msg("failed to set trigger flag")
			c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to trigger backup"})
			return
		}
		c.JSON(http.StatusAccepted, gin.H{"status": "triggered"})
		return
	}

	if status := h.engine.Status(device.ID); status.Status == "running" {
		c.JSON(http.StatusConflict, gin.H{"error": "a backup is already running for this device"})
		return
	}

	go func() {
		if err := h.engine.RunBackup(context.Background(), device); err != nil {
			if errors.Is(err, backup.ErrRunInProgress) {
				return
			}
			h.logger.Error().Err(err).Str("device", device.Name).Msg("backup run failed")
		}
	}()

	c.JSON(http.StatusAccepted, gin.H{"status": "started"})
}

// Status reports whether a backup is currently running for the device.
// GET /api/v1/devices/:id/status
func (h *DeviceHandler) Status(c *gin.Context) {
	device := h.lookupDevice(c)
	if device == nil {
		return
	}
	c.JSON(http.StatusOK, h.engine.Status(device.ID))
}

// TestConnection probes SSH reachability of a files-mode device.
// POST /api/v1/devices/:id/test-connection
func (h *DeviceHandler) TestConnection(c *gin.Context) {
	device := h.lookupDevice(c)
	if device == nil {
		return
	}
	if device.BackupType != models.BackupTypeFiles || device.IsAgentManaged() {
		c.JSON(http.StatusBadRequest, gin.H{"error": "connection test applies to server-managed file backups only"})
		return
	}

	if err := transfer.CheckSSH(c.Request.Context(), device.IP, device.SSHPort, device.SSHUser, sshProbeTimeout); err != nil {
		c.JSON(http.StatusOK, gin.H{"reachable": false, "error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"reachable": true})
}

// ListPending returns agents awaiting approval.
// GET /api/v1/pending
func (h *DeviceHandler) ListPending(c *gin.Context) {
	pending, err := h.store.ListPending(c.Request.Context())
	if err != nil {
		h.logger.Error().Err(err).Msg("failed to list pending agents")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to list pending agents"})
		return
	}
	if pending == nil {
		pending = []*models.PendingAgent{}
	}
	c.JSON(http.StatusOK, gin.H{"pending": pending, "count": len(pending)})
}

// Approve promotes a pending agent to a device.
// POST /api/v1/pending/:id/approve
func (h *DeviceHandler) Approve(c *gin.Context) {
	id, ok := parseID(c)
	if !ok {
		return
	}

	var req models.ApproveRequest
	if err := c.ShouldBindJSON(&req); err != nil && err.Error() != "EOF" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request: " + err.Error()})
		return
	}

	resp, err := h.trust.Approve(c.Request.Context(), id, req)
	if err != nil {
		if errors.Is(err, registry.ErrPendingNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": "pending agent not found"})
			return
		}
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, resp)
}

// Reject discards a pending agent.
// POST /api/v1/pending/:id/reject
func (h *DeviceHandler) Reject(c *gin.Context) {
	id, ok := parseID(c)
	if !ok {
		return
	}
	if err := h.trust.Reject(c.Request.Context(), id); err != nil {
		if errors.Is(err, registry.ErrPendingNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": "pending agent not found"})
			return
		}
		h.logger.Error().Err(err).Str("pending_id", id.String()).Msg("failed to reject pending agent")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to reject pending agent"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "rejected"})
}

func (h *DeviceHandler) lookupDevice(c *gin.Context) *models.Device {
	id, ok := parseID(c)
	if !ok {
		return nil
	}
	device, err := h.store.GetDevice(c.Request.Context(), id)
	if err != nil {
		if errors.Is(err, registry.ErrDeviceNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": "device not found"})
			return nil
		}
		h.logger.Error().Err(err).Str("device_id", id.String()).Msg("failed to load device")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to load device"})
		return nil
	}
	return device
}

func parseID(c *gin.Context) (uuid.UUID, bool) {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid id"})
		return uuid.Nil, false
	}
	return id, true
}
