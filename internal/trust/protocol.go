package trust

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/attic-backup/attic/internal/models"
	"github.com/attic-backup/attic/internal/notify"
	"github.com/attic-backup/attic/internal/registry"
	"github.com/attic-backup/attic/internal/sanitize"
	"github.com/attic-backup/attic/internal/share"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

// ErrUnknownToken is returned when a presented agent token matches nothing.
var ErrUnknownToken = errors.New("unknown agent token")

// ErrNotAgentManaged is returned when an agent-only operation targets a
// device the server backs up itself.
var ErrNotAgentManaged = errors.New("device is not agent-managed")

// Registry is the slice of the device registry the protocol needs.
type Registry interface {
	FindDeviceByIdentity(ctx context.Context, hostname, ip, mac string) (*models.Device, error)
	FindPendingByIdentity(ctx context.Context, hostname, ip, mac string) (*models.PendingAgent, error)
	GetPending(ctx context.Context, id uuid.UUID) (*models.PendingAgent, error)
	GetPendingByToken(ctx context.Context, token string) (*models.PendingAgent, error)
	GetDeviceByToken(ctx context.Context, token string) (*models.Device, error)
	SavePending(ctx context.Context, agent *models.PendingAgent) error
	DeletePending(ctx context.Context, id uuid.UUID) error
	SaveDevice(ctx context.Context, device *models.Device) error
	UpdateDevice(ctx context.Context, id uuid.UUID, fn func(*models.Device) error) (*models.Device, error)
}

var _ Registry = (*registry.Registry)(nil)

// ShareProvisioner creates a per-device file share for image backups.
type ShareProvisioner interface {
	Provision(ctx context.Context, deviceName string) (*share.Provisioned, error)
}

// Service implements the trust protocol state machine.
type Service struct {
	registry   Registry
	shares     ShareProvisioner
	notifier   notify.Notifier
	nasAddress string
	logger     zerolog.Logger
}

// NewService creates a trust Service. shares may be nil when image-mode
// provisioning is unavailable; approve then reports that as a provisioning
// error without blocking promotion.
func NewService(reg Registry, shares ShareProvisioner, notifier notify.Notifier, nasAddress string, logger zerolog.Logger) *Service {
	return &Service{
		registry:   reg,
		shares:     shares,
		notifier:   notifier,
		nasAddress: nasAddress,
		logger:     logger.With().Str("component", "trust").Logger(),
	}
}

// Register enrolls an agent by its (hostname, ip, mac) identity. The call is
// idempotent: an identity already known as a device or pending agent gets
// its existing record back, with no side effects.
func (s *Service) Register(ctx context.Context, req models.RegisterRequest) (*models.RegisterResponse, error) {
	if device, err := s.registry.FindDeviceByIdentity(ctx, req.Hostname, req.IP, req.MAC); err == nil {
		return &models.RegisterResponse{
			Status:     "approved",
			AgentID:    device.ID,
			AgentToken: device.AgentToken,
		}, nil
	} else if !errors.Is(err, registry.ErrDeviceNotFound) {
		return nil, err
	}

	if pending, err := s.registry.FindPendingByIdentity(ctx, req.Hostname, req.IP, req.MAC); err == nil {
		return &models.RegisterResponse{
			Status:     "pending",
			AgentID:    pending.ID,
			AgentToken: pending.AgentToken,
		}, nil
	} else if !errors.Is(err, registry.ErrPendingNotFound) {
		return nil, err
	}

	token, err := GenerateToken()
	if err != nil {
		return nil, err
	}
	pending := models.NewPendingAgent(req.Hostname, req.IP, req.MAC, req.OS, token)
	if err := s.registry.SavePending(ctx, pending); err != nil {
		return nil, err
	}

	s.logger.Info().
		Str("agent_id", pending.ID.String()).
		Str("hostname", req.Hostname).
		Str("ip", req.IP).
		Msg("agent enrolled, awaiting approval")

	return &models.RegisterResponse{
		Status:     "pending",
		AgentID:    pending.ID,
		AgentToken: token,
	}, nil
}

// Poll answers an agent's configuration request, authenticated by token
// only. A pending agent gets bare status; an approved device gets its
// effective run configuration plus the manual-trigger flag, which is
// cleared in the same registry write that serves it.
func (s *Service) Poll(ctx context.Context, token string) (*models.PollResponse, error) {
	if !IsValidTokenFormat(token) {
		return nil, ErrUnknownToken
	}

	if _, err := s.registry.GetPendingByToken(ctx, token); err == nil {
		return &models.PollResponse{Status: "pending"}, nil
	} else if !errors.Is(err, registry.ErrPendingNotFound) {
		return nil, err
	}

	device, err := s.registry.GetDeviceByToken(ctx, token)
	if err != nil {
		if errors.Is(err, registry.ErrDeviceNotFound) {
			return nil, ErrUnknownToken
		}
		return nil, err
	}

	triggered := device.TriggerBackup
	if triggered {
		if _, err := s.registry.UpdateDevice(ctx, device.ID, func(d *models.Device) error {
			d.TriggerBackup = false
			return nil
		}); err != nil {
			s.logger.Error().Err(err).Str("device_id", device.ID.String()).Msg("failed to clear trigger flag")
		}
	}

	return &models.PollResponse{
		Status:        "approved",
		Config:        s.buildConfig(device),
		TriggerBackup: triggered,
	}, nil
}

func (s *Service) buildConfig(d *models.Device) *models.PollConfig {
	cfg := &models.PollConfig{
		DeviceName: d.Name,
		BackupType: d.BackupType,
		Schedule:   d.Schedule,
		Retention:  d.Retention,
	}
	switch d.BackupType {
	case models.BackupTypeFiles:
		cfg.Paths = d.Paths
		cfg.Excludes = d.Excludes
	case models.BackupTypeImage:
		cfg.SambaShare = d.SambaShare
		cfg.SambaUser = d.SambaUser
		cfg.SambaPass = d.SambaPass
		cfg.NASAddress = s.nasAddress
	}
	return cfg
}

// Report records a run outcome posted by an agent. This is the only write
// path for agent-managed devices' run state; the server never executes
// their backups.
func (s *Service) Report(ctx context.Context, token string, req models.ReportRequest) error {
	if !IsValidTokenFormat(token) {
		return ErrUnknownToken
	}
	device, err := s.registry.GetDeviceByToken(ctx, token)
	if err != nil {
		if errors.Is(err, registry.ErrDeviceNotFound) {
			return ErrUnknownToken
		}
		return err
	}

	var result models.RunResult
	switch req.Status {
	case string(models.RunResultSuccess):
		result = models.RunResultSuccess
	case string(models.RunResultFailed):
		result = models.RunResultFailed
	default:
		return fmt.Errorf("invalid report status %q", req.Status)
	}

	if _, err := s.registry.UpdateDevice(ctx, device.ID, func(d *models.Device) error {
		d.RecordRun(result, req.Duration, req.Error)
		return nil
	}); err != nil {
		return err
	}

	s.logger.Info().
		Str("device_id", device.ID.String()).
		Str("device", device.Name).
		Str("result", string(result)).
		Float64("duration", req.Duration).
		Msg("agent run reported")

	if result == models.RunResultFailed && s.notifier != nil {
		if err := s.notifier.NotifyFailure(ctx, device.Name, models.TruncateError(req.Error)); err != nil {
			s.logger.Error().Err(err).Str("device", device.Name).Msg("failure notification not delivered")
		}
	}
	return nil
}

// Approve promotes a pending agent to an approved device, applying any
// admin overrides. For image mode a dedicated least-privilege share account
// is provisioned; a provisioning failure is reported in the response but
// does not block the promotion, since the admin can re-run setup.
func (s *Service) Approve(ctx context.Context, pendingID uuid.UUID, req models.ApproveRequest) (*models.ApproveResponse, error) {
	pending, err := s.registry.GetPending(ctx, pendingID)
	if err != nil {
		return nil, err
	}

	backupType := req.BackupType
	if backupType == "" {
		backupType = models.BackupTypeFiles
	}
	if backupType != models.BackupTypeFiles && backupType != models.BackupTypeImage {
		return nil, fmt.Errorf("unknown backup type %q", backupType)
	}
	if req.Schedule != "" {
		if err := models.ValidateSchedule(req.Schedule); err != nil {
			return nil, err
		}
	}
	paths := req.Paths
	excludes := req.Excludes
	if backupType == models.BackupTypeFiles {
		var bad string
		var ok bool
		if paths, bad, ok = sanitize.SourcePaths(paths); !ok {
			return nil, fmt.Errorf("invalid source path %q", bad)
		}
		if excludes, bad, ok = sanitize.Paths(excludes); !ok {
			return nil, fmt.Errorf("invalid exclude %q", bad)
		}
	}

	now := time.Now()
	device := &models.Device{
		ID:           pending.ID,
		Name:         pending.Hostname,
		Hostname:     pending.Hostname,
		IP:           pending.IP,
		MAC:          pending.MAC,
		OS:           pending.OS,
		BackupType:   backupType,
		SSHUser:      req.SSHUser,
		SSHPort:      req.SSHPort,
		Paths:        paths,
		Excludes:     excludes,
		Schedule:     req.Schedule,
		Retention:    req.Retention,
		Enabled:      true,
		AgentToken:   pending.AgentToken,
		RegisteredAt: pending.RegisteredAt,
		ApprovedAt:   &now,
	}
	if device.Retention < 1 {
		device.Retention = 3
	}
	if device.SSHPort <= 0 {
		device.SSHPort = 22
	}

	var provisionErr error
	if backupType == models.BackupTypeImage {
		if s.shares == nil {
			provisionErr = errors.New("share provisioning is not configured")
		} else if prov, err := s.shares.Provision(ctx, pending.Hostname); err != nil {
			provisionErr = err
		} else {
			device.SambaShare = prov.ShareName
			device.SambaUser = prov.Username
			device.SambaPass = prov.Password
		}
	}

	if err := s.registry.SaveDevice(ctx, device); err != nil {
		return nil, err
	}
	if err := s.registry.DeletePending(ctx, pending.ID); err != nil {
		s.logger.Error().Err(err).Str("pending_id", pending.ID.String()).Msg("failed to delete promoted pending agent")
	}

	logEvent := s.logger.Info().
		Str("device_id", device.ID.String()).
		Str("device", device.Name).
		Str("backup_type", string(backupType))
	if provisionErr != nil {
		logEvent = logEvent.Str("provision_error", provisionErr.Error())
	}
	logEvent.Msg("pending agent approved")

	resp := &models.ApproveResponse{Device: device}
	if provisionErr != nil {
		resp.ProvisionError = provisionErr.Error()
	}
	return resp, nil
}

// Reject deletes a pending agent with no successor.
func (s *Service) Reject(ctx context.Context, pendingID uuid.UUID) error {
	if _, err := s.registry.GetPending(ctx, pendingID); err != nil {
		return err
	}
	if err := s.registry.DeletePending(ctx, pendingID); err != nil {
		return err
	}
	s.logger.Info().Str("pending_id", pendingID.String()).Msg("pending agent rejected")
	return nil
}

// Trigger requests a manual backup on an agent-managed device. The flag is
// surfaced on the device's next poll; delivery is at-most-once only in the
// sense that the serving poll clears it.
func (s *Service) Trigger(ctx context.Context, deviceID uuid.UUID) error {
	_, err := s.registry.UpdateDevice(ctx, deviceID, func(d *models.Device) error {
		if !d.IsAgentManaged() {
			return ErrNotAgentManaged
		}
		d.TriggerBackup = true
		return nil
	})
	return err
}
