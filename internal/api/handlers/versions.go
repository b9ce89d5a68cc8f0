package handlers

import (
	"context"
	"errors"
	"net/http"
	"os"
	"path/filepath"

	"github.com/attic-backup/attic/internal/backup"
	"github.com/attic-backup/attic/internal/models"
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

// VersionBrowser defines the version-store operations the version
// handler needs.
type VersionBrowser interface {
	ListVersions(deviceID uuid.UUID) ([]int, error)
	Resolve(deviceID uuid.UUID, version string) (string, int, error)
	ResolveWithin(versionDir, rel string) (string, error)
	Browse(deviceID uuid.UUID, version, rel string) ([]backup.Entry, error)
	DeviceUsage(deviceID uuid.UUID) int64
}

// Restorer defines the restore operation the version handler needs.
type Restorer interface {
	Restore(ctx context.Context, device *models.Device, req models.RestoreRequest) (*backup.RestoreResult, error)
}

// VersionHandler handles version listing, browsing, download and restore.
type VersionHandler struct {
	store    DeviceStore
	versions VersionBrowser
	restorer Restorer
	logger   zerolog.Logger
}

// NewVersionHandler creates a new VersionHandler.
func NewVersionHandler(store DeviceStore, versions VersionBrowser, restorer Restorer, logger zerolog.Logger) *VersionHandler {
	return &VersionHandler{
		store:    store,
		versions: versions,
		restorer: restorer,
		logger:   logger.With().Str("component", "version_handler").Logger(),
	}
}

// RegisterRoutes registers version routes on the given router group.
func (h *VersionHandler) RegisterRoutes(r *gin.RouterGroup) {
	devices := r.Group("/devices/:id")
	{
		devices.GET("/versions", h.List)
		devices.GET("/versions/:version/browse", h.Browse)
		devices.GET("/versions/:version/download", h.Download)
		devices.POST("/restore", h.Restore)
		devices.GET("/usage", h.Usage)
	}
}

// List returns the stored version numbers for a device, plus which one
// latest points at.
// GET /api/v1/devices/:id/versions
func (h *VersionHandler) List(c *gin.Context) {
	device := h.lookupDevice(c)
	if device == nil {
		return
	}

	versions, err := h.versions.ListVersions(device.ID)
	if err != nil {
		h.logger.Error().Err(err).Str("device_id", device.ID.String()).Msg("failed to list versions")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to list versions"})
		return
	}

	if versions == nil {
		versions = []int{}
	}

	latest := 0
	if _, n, err := h.versions.Resolve(device.ID, "latest"); err == nil {
		latest = n
	}

	c.JSON(http.StatusOK, gin.H{"versions": versions, "latest": latest, "count": len(versions)})
}

// Browse lists one directory level inside a stored version.
// GET /api/v1/devices/:id/versions/:version/browse?path=...
func (h *VersionHandler) Browse(c *gin.Context) {
	device := h.lookupDevice(c)
	if device == nil {
		return
	}

	entries, err := h.versions.Browse(device.ID, c.Param("version"), c.Query("path"))
	if err != nil {
		h.versionError(c, err)
		return
	}
	if entries == nil {
		entries = []backup.Entry{}
	}
	c.JSON(http.StatusOK, gin.H{"entries": entries, "count": len(entries)})
}

// Download streams a single file out of a stored version.
// GET /api/v1/devices/:id/versions/:version/download?path=...
func (h *VersionHandler) Download(c *gin.Context) {
	device := h.lookupDevice(c)
	if device == nil {
		return
	}

	rel := c.Query("path")
	if rel == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "path is required"})
		return
	}

	versionDir, _, err := h.versions.Resolve(device.ID, c.Param("version"))
	if err != nil {
		h.versionError(c, err)
		return
	}
	abs, err := h.versions.ResolveWithin(versionDir, rel)
	if err != nil {
		h.versionError(c, err)
		return
	}

	info, err := os.Stat(abs)
	if err != nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "file not found"})
		return
	}
	if info.IsDir() {
		c.JSON(http.StatusBadRequest, gin.H{"error": "path is a directory"})
		return
	}

	c.FileAttachment(abs, filepath.Base(abs))
}

// Restore copies a file or directory from a stored version back to the
// device.
// POST /api/v1/devices/:id/restore
func (h *VersionHandler) Restore(c *gin.Context) {
	device := h.lookupDevice(c)
	if device == nil {
		return
	}

	if device.BackupType != models.BackupTypeFiles || device.IsAgentManaged() {
		c.JSON(http.StatusBadRequest, gin.H{"error": "restore applies to server-managed file backups only"})
		return
	}

	var req models.RestoreRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request: " + err.Error()})
		return
	}

	result, err := h.restorer.Restore(c.Request.Context(), device, req)
	if err != nil {
		switch {
		case errors.Is(err, backup.ErrVersionNotFound):
			c.JSON(http.StatusNotFound, gin.H{"error": "version not found"})
		case errors.Is(err, backup.ErrPathEscapes), errors.Is(err, backup.ErrPathRejected):
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		case os.IsNotExist(err):
			c.JSON(http.StatusNotFound, gin.H{"error": "source path not found in version"})
		default:
			h.logger.Error().Err(err).Str("device", device.Name).Msg("restore failed")
			c.JSON(http.StatusInternalServerError, gin.H{"error": models.TruncateError(err.Error())})
		}
		return
	}

	c.JSON(http.StatusOK, result)
}

// Usage reports the total on-disk size of a device's stored versions.
// Hardlinked files are counted once per link, so this is an upper bound.
// GET /api/v1/devices/:id/usage
func (h *VersionHandler) Usage(c *gin.Context) {
	device := h.lookupDevice(c)
	if device == nil {
		return
	}
	c.JSON(http.StatusOK, gin.H{"bytes": h.versions.DeviceUsage(device.ID)})
}

func (h *VersionHandler) versionError(c *gin.Context, err error) {
	switch {
	case errors.Is(err, backup.ErrVersionNotFound):
		c.JSON(http.StatusNotFound, gin.H{"error": "version not found"})
	case errors.Is(err, backup.ErrPathEscapes):
		c.JSON(http.StatusBadRequest, gin.H{"error": "path escapes the version directory"})
	case os.IsNotExist(err):
		c.JSON(http.StatusNotFound, gin.H{"error": "path not found in version"})
	default:
		h.logger.Error().Err(err).Msg("version operation failed")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "version operation failed"})
	}
}

func (h *VersionHandler) lookupDevice(c *gin.Context) *models.Device {
	id, ok := parseID(c)
	if !ok {
		return nil
	}
	device, err := h.store.GetDevice(c.Request.Context(), id)
	if err != nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "device not found"})
		return nil
	}
	return device
}
