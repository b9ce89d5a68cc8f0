// Package registry persists Device and PendingAgent records in the
// configuration store.
package registry

import (
	"context"
	"crypto/subtle"
	"errors"
	"fmt"

	"github.com/attic-backup/attic/internal/models"
	"github.com/attic-backup/attic/internal/store"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

// Store keys for the two collections.
const (
	keyDevices = "devices"
	keyPending = "pending_agents"
)

// ErrDeviceNotFound is returned when no device matches the lookup.
var ErrDeviceNotFound = errors.New("device not found")

// ErrPendingNotFound is returned when no pending agent matches the lookup.
var ErrPendingNotFound = errors.New("pending agent not found")

// KV is the slice of the configuration store the registry needs.
type KV interface {
	Get(ctx context.Context, key string, dest any) error
	Save(ctx context.Context, key string, value any) error
	Update(ctx context.Context, key string, dest any, fn func() error) error
}

var _ KV = (*store.Store)(nil)

// Registry is the persistent collection of devices and pending agents.
type Registry struct {
	kv     KV
	logger zerolog.Logger
}

// New creates a Registry on top of the given configuration store.
func New(kv KV, logger zerolog.Logger) *Registry {
	return &Registry{
		kv:     kv,
		logger: logger.With().Str("component", "registry").Logger(),
	}
}

// ListDevices returns all registered devices.
func (r *Registry) ListDevices(ctx context.Context) ([]*models.Device, error) {
	var devices []*models.Device
	if err := r.kv.Get(ctx, keyDevices, &devices); err != nil {
		if errors.Is(err, store.ErrKeyNotFound) {
			return nil, nil
		}
		return nil, fmt.Errorf("list devices: %w", err)
	}
	return devices, nil
}

// GetDevice returns the device with the given ID.
func (r *Registry) GetDevice(ctx context.Context, id uuid.UUID) (*models.Device, error) {
	devices, err := r.ListDevices(ctx)
	if err != nil {
		return nil, err
	}
	for _, d := range devices {
		if d.ID == id {
			return d, nil
		}
	}
	return nil, ErrDeviceNotFound
}

// GetDeviceByToken returns the agent-managed device holding the given token.
// Token comparison is constant-time.
func (r *Registry) GetDeviceByToken(ctx context.Context, token string) (*models.Device, error) {
	if token == "" {
		return nil, ErrDeviceNotFound
	}
	devices, err := r.ListDevices(ctx)
	if err != nil {
		return nil, err
	}
	for _, d := range devices {
		if d.AgentToken != "" && tokenEqual(d.AgentToken, token) {
			return d, nil
		}
	}
	return nil, ErrDeviceNotFound
}

// FindDeviceByIdentity returns the device matching the (hostname, ip, mac)
// enrollment tuple, or ErrDeviceNotFound.
func (r *Registry) FindDeviceByIdentity(ctx context.Context, hostname, ip, mac string) (*models.Device, error) {
	devices, err := r.ListDevices(ctx)
	if err != nil {
		return nil, err
	}
	for _, d := range devices {
		if d.Hostname == hostname && d.IP == ip && d.MAC == mac {
			return d, nil
		}
	}
	return nil, ErrDeviceNotFound
}

// SaveDevice inserts or replaces a device by ID.
func (r *Registry) SaveDevice(ctx context.Context, device *models.Device) error {
	var devices []*models.Device
	err := r.kv.Update(ctx, keyDevices, &devices, func() error {
		for i, d := range devices {
			if d.ID == device.ID {
				devices[i] = device
				return nil
			}
		}
		devices = append(devices, device)
		return nil
	})
	if err != nil {
		return fmt.Errorf("save device %s: %w", device.ID, err)
	}
	return nil
}

// UpdateDevice applies fn to the stored device with the given ID inside a
// single read-modify-write cycle and returns the updated record.
func (r *Registry) UpdateDevice(ctx context.Context, id uuid.UUID, fn func(*models.Device) error) (*models.Device, error) {
	var updated *models.Device
	var devices []*models.Device
	err := r.kv.Update(ctx, keyDevices, &devices, func() error {
		for _, d := range devices {
			if d.ID == id {
				if err := fn(d); err != nil {
					return err
				}
				updated = d
				return nil
			}
		}
		return ErrDeviceNotFound
	})
	if err != nil {
		return nil, err
	}
	return updated, nil
}

// DeleteDevice removes the device with the given ID.
func (r *Registry) DeleteDevice(ctx context.Context, id uuid.UUID) error {
	var devices []*models.Device
	return r.kv.Update(ctx, keyDevices, &devices, func() error {
		for i, d := range devices {
			if d.ID == id {
				devices = append(devices[:i], devices[i+1:]...)
				return nil
			}
		}
		return ErrDeviceNotFound
	})
}

// ListPending returns all pending agents.
func (r *Registry) ListPending(ctx context.Context) ([]*models.PendingAgent, error) {
	var pending []*models.PendingAgent
	if err := r.kv.Get(ctx, keyPending, &pending); err != nil {
		if errors.Is(err, store.ErrKeyNotFound) {
			return nil, nil
		}
		return nil, fmt.Errorf("list pending agents: %w", err)
	}
	return pending, nil
}

// GetPending returns the pending agent with the given ID.
func (r *Registry) GetPending(ctx context.Context, id uuid.UUID) (*models.PendingAgent, error) {
	pending, err := r.ListPending(ctx)
	if err != nil {
		return nil, err
	}
	for _, p := range pending {
		if p.ID == id {
			return p, nil
		}
	}
	return nil, ErrPendingNotFound
}

// GetPendingByToken returns the pending agent holding the given token.
func (r *Registry) GetPendingByToken(ctx context.Context, token string) (*models.PendingAgent, error) {
	if token == "" {
		return nil, ErrPendingNotFound
	}
	pending, err := r.ListPending(ctx)
	if err != nil {
		return nil, err
	}
	for _, p := range pending {
		if tokenEqual(p.AgentToken, token) {
			return p, nil
		}
	}
	return nil, ErrPendingNotFound
}

// FindPendingByIdentity returns the pending agent matching the identity
// tuple, or ErrPendingNotFound.
func (r *Registry) FindPendingByIdentity(ctx context.Context, hostname, ip, mac string) (*models.PendingAgent, error) {
	pending, err := r.ListPending(ctx)
	if err != nil {
		return nil, err
	}
	for _, p := range pending {
		if p.Matches(hostname, ip, mac) {
			return p, nil
		}
	}
	return nil, ErrPendingNotFound
}

// SavePending inserts or replaces a pending agent by ID.
func (r *Registry) SavePending(ctx context.Context, agent *models.PendingAgent) error {
	var pending []*models.PendingAgent
	err := r.kv.Update(ctx, keyPending, &pending, func() error {
		for i, p := range pending {
			if p.ID == agent.ID {
				pending[i] = agent
				return nil
			}
		}
		pending = append(pending, agent)
		return nil
	})
	if err != nil {
		return fmt.Errorf("save pending agent %s: %w", agent.ID, err)
	}
	return nil
}

// DeletePending removes the pending agent with the given ID.
func (r *Registry) DeletePending(ctx context.Context, id uuid.UUID) error {
	var pending []*models.PendingAgent
	return r.kv.Update(ctx, keyPending, &pending, func() error {
		for i, p := range pending {
			if p.ID == id {
				pending = append(pending[:i], pending[i+1:]...)
				return nil
			}
		}
		return ErrPendingNotFound
	})
}

func tokenEqual(a, b string) bool {
	return subtle.ConstantTimeCompare([]byte(a), []byte(b)) == 1
}
