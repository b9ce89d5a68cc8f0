package backup

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/attic-backup/attic/internal/models"
	"github.com/attic-backup/attic/internal/notify"
	"github.com/attic-backup/attic/internal/sanitize"
	"github.com/attic-backup/attic/internal/transfer"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

// ErrRunInProgress is returned when a backup for the device is already
// executing. Runs are never queued; the caller gets a conflict.
var ErrRunInProgress = errors.New("backup already running for device")

// ErrPathRejected is returned when a stored path or exclude fails runtime
// re-validation.
var ErrPathRejected = errors.New("path rejected by sanitizer")

// TransferRunner is the slice of the transfer package the engine uses.
type TransferRunner interface {
	Sync(ctx context.Context, opts transfer.Options) (string, error)
}

// DeviceStore is the slice of the registry the engine writes run state to.
type DeviceStore interface {
	UpdateDevice(ctx context.Context, id uuid.UUID, fn func(*models.Device) error) (*models.Device, error)
}

// RunMetrics receives run lifecycle observations. All methods are nil-safe
// on the concrete implementation, so a nil *metrics.Metrics works.
type RunMetrics interface {
	RunStarted()
	RunCompleted(result string, seconds float64)
	VersionsPruned(n int)
}

type noopMetrics struct{}

func (noopMetrics) RunStarted()                  {}
func (noopMetrics) RunCompleted(string, float64) {}
func (noopMetrics) VersionsPruned(int)           {}

// runningJob is the ephemeral record of an in-flight backup. It is the
// single source of truth for "is a backup executing for this device" and is
// lost on restart by design.
type runningJob struct {
	startedAt time.Time
	mu        sync.Mutex
	output    strings.Builder
}

func (j *runningJob) append(s string) {
	j.mu.Lock()
	defer j.mu.Unlock()
	j.output.WriteString(s)
}

func (j *runningJob) snapshot() string {
	j.mu.Lock()
	defer j.mu.Unlock()
	return j.output.String()
}

// Engine orchestrates server-initiated backup runs for file-mode devices.
type Engine struct {
	versions *VersionStore
	runner   TransferRunner
	devices  DeviceStore
	notifier notify.Notifier
	metrics  RunMetrics

	runTimeout     time.Duration
	restoreTimeout time.Duration

	mu      sync.Mutex
	running map[uuid.UUID]*runningJob

	logger zerolog.Logger
}

// EngineConfig holds the engine's tunables.
type EngineConfig struct {
	// RunTimeout bounds one whole device run. On expiry the transfer child
	// is killed, the partial version is discarded, and the run is failed.
	RunTimeout time.Duration
	// RestoreTimeout bounds one restore transfer.
	RestoreTimeout time.Duration
}

// DefaultEngineConfig returns the engine defaults.
func DefaultEngineConfig() EngineConfig {
	return EngineConfig{
		RunTimeout:     6 * time.Hour,
		RestoreTimeout: 15 * time.Minute,
	}
}

// NewEngine creates a backup Engine.
func NewEngine(versions *VersionStore, runner TransferRunner, devices DeviceStore, notifier notify.Notifier, m RunMetrics, cfg EngineConfig, logger zerolog.Logger) *Engine {
	if cfg.RunTimeout <= 0 {
		cfg.RunTimeout = 6 * time.Hour
	}
	if cfg.RestoreTimeout <= 0 {
		cfg.RestoreTimeout = 15 * time.Minute
	}
	if m == nil {
		m = noopMetrics{}
	}
	return &Engine{
		versions:       versions,
		runner:         runner,
		devices:        devices,
		notifier:       notifier,
		metrics:        m,
		runTimeout:     cfg.RunTimeout,
		restoreTimeout: cfg.RestoreTimeout,
		running:        make(map[uuid.UUID]*runningJob),
		logger:         logger.With().Str("component", "engine").Logger(),
	}
}

// Status reports whether a backup is executing for the device.
func (e *Engine) Status(deviceID uuid.UUID) models.RunStatus {
	e.mu.Lock()
	job, ok := e.running[deviceID]
	e.mu.Unlock()
	if !ok {
		return models.RunStatus{Status: "idle"}
	}
	return models.RunStatus{
		Status:    "running",
		StartedAt: job.startedAt.Format(time.RFC3339),
		Output:    job.snapshot(),
	}
}

// RunBackup executes one backup run for a file-mode device: allocate the
// next version, transfer every configured path sequentially with hardlink
// deduplication against the previous version, then prune and repoint latest.
// At most one run per device is in flight; concurrent calls get
// ErrRunInProgress.
func (e *Engine) RunBackup(ctx context.Context, device *models.Device) error {
	e.mu.Lock()
	if _, busy := e.running[device.ID]; busy {
		e.mu.Unlock()
		return ErrRunInProgress
	}
	job := &runningJob{startedAt: time.Now()}
	e.running[device.ID] = job
	e.mu.Unlock()

	e.metrics.RunStarted()
	defer func() {
		e.mu.Lock()
		delete(e.running, device.ID)
		e.mu.Unlock()
	}()

	ctx, cancel := context.WithTimeout(ctx, e.runTimeout)
	defer cancel()

	start := job.startedAt
	err := e.run(ctx, device, job)
	duration := time.Since(start).Seconds()

	if err != nil {
		e.recordFailure(device, duration, err)
		e.metrics.RunCompleted(string(models.RunResultFailed), duration)
		return err
	}

	if _, uerr := e.devices.UpdateDevice(ctx, device.ID, func(d *models.Device) error {
		d.RecordRun(models.RunResultSuccess, duration, "")
		return nil
	}); uerr != nil {
		e.logger.Error().Err(uerr).Str("device_id", device.ID.String()).Msg("failed to record successful run")
	}
	e.metrics.RunCompleted(string(models.RunResultSuccess), duration)
	return nil
}

func (e *Engine) run(ctx context.Context, device *models.Device, job *runningJob) error {
	// Stored config is re-validated at run time; it may have been mutated
	// since save time and excludes feed straight into the child process.
	paths, bad, ok := sanitize.SourcePaths(device.Paths)
	if !ok {
		return fmt.Errorf("%w: source path %q", ErrPathRejected, bad)
	}
	excludes, bad, ok := sanitize.Paths(device.Excludes)
	if !ok {
		return fmt.Errorf("%w: exclude %q", ErrPathRejected, bad)
	}
	if len(paths) == 0 {
		return fmt.Errorf("%w: no source paths configured", ErrPathRejected)
	}

	// link-dest references the highest version existing when the run
	// started, which is the true predecessor even if latest lags behind.
	n, prev, err := e.versions.NextVersion(device.ID)
	if err != nil {
		return err
	}
	vDir := e.versions.VersionDir(device.ID, n)

	e.logger.Info().
		Str("device_id", device.ID.String()).
		Str("device", device.Name).
		Int("version", n).
		Int("previous", prev).
		Msg("starting backup run")

	for _, src := range paths {
		dest := filepath.Join(vDir, src)
		if err := os.MkdirAll(dest, 0o750); err != nil {
			e.discard(device.ID, n)
			return fmt.Errorf("create version directory: %w", err)
		}

		opts := transfer.Options{
			Source:  fmt.Sprintf("%s@%s:%s/", device.SSHUser, device.IP, strings.TrimSuffix(src, "/")),
			Dest:    dest,
			SSHPort: device.SSHPort,
		}
		if prev > 0 {
			opts.LinkDest = filepath.Join(e.versions.VersionDir(device.ID, prev), src)
		}
		opts.Excludes = excludes

		out, err := e.runner.Sync(ctx, opts)
		job.append(out)
		if err != nil {
			// A failed version must never be partially visible.
			e.discard(device.ID, n)
			return fmt.Errorf("transfer %s: %w", src, err)
		}
	}

	// Latest moves before pruning so it never dangles mid-operation.
	if err := e.versions.SetLatest(device.ID, n); err != nil {
		e.discard(device.ID, n)
		return err
	}
	removed, err := e.versions.Prune(device.ID, device.Retention)
	e.metrics.VersionsPruned(len(removed))
	if err != nil {
		e.logger.Error().Err(err).Str("device_id", device.ID.String()).Msg("retention pruning failed")
	}

	e.logger.Info().
		Str("device_id", device.ID.String()).
		Int("version", n).
		Int("pruned", len(removed)).
		Msg("backup run completed")
	return nil
}

func (e *Engine) discard(deviceID uuid.UUID, n int) {
	if err := e.versions.RemoveVersion(deviceID, n); err != nil {
		e.logger.Error().Err(err).
			Str("device_id", deviceID.String()).
			Int("version", n).
			Msg("failed to discard partial version")
	}
}

func (e *Engine) recordFailure(device *models.Device, duration float64, runErr error) {
	msg := models.TruncateError(runErr.Error())
	if _, err := e.devices.UpdateDevice(context.Background(), device.ID, func(d *models.Device) error {
		d.RecordRun(models.RunResultFailed, duration, msg)
		return nil
	}); err != nil {
		e.logger.Error().Err(err).Str("device_id", device.ID.String()).Msg("failed to record failed run")
	}
	if e.notifier != nil {
		if err := e.notifier.NotifyFailure(context.Background(), device.Name, msg); err != nil {
			e.logger.Error().Err(err).Str("device", device.Name).Msg("failure notification not delivered")
		}
	}
}
