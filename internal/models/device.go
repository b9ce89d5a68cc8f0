// Package models defines the persistent records of the backup orchestrator.
package models

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/robfig/cron/v3"
)

// BackupType selects how a device is backed up.
type BackupType string

const (
	// BackupTypeFiles backs up configured source paths over SSH/rsync.
	BackupTypeFiles BackupType = "files"
	// BackupTypeImage receives opaque disk-image artifacts over a Samba share.
	BackupTypeImage BackupType = "image"
)

// RunResult is the recorded outcome of the most recent backup run.
type RunResult string

const (
	// RunResultSuccess indicates the last run completed all transfers.
	RunResultSuccess RunResult = "success"
	// RunResultFailed indicates the last run failed and its version was discarded.
	RunResultFailed RunResult = "failed"
)

// MaxErrorLength bounds the stored lastError string.
const MaxErrorLength = 500

// scheduleParser accepts standard 5-field cron expressions. Execution of the
// schedule is external; parsing only keeps garbage out of stored config.
var scheduleParser = cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow)

// Device is a registered, approved backup target.
type Device struct {
	ID         uuid.UUID  `json:"id"`
	Name       string     `json:"name"`
	IP         string     `json:"ip"`
	Hostname   string     `json:"hostname,omitempty"`
	MAC        string     `json:"mac,omitempty"`
	OS         string     `json:"os,omitempty"`
	BackupType BackupType `json:"backupType"`

	// Transport credentials. SSH fields apply to files mode, Samba fields to
	// image mode. SambaPass is stored so the agent can retrieve it on poll.
	SSHUser    string `json:"sshUser,omitempty"`
	SSHPort    int    `json:"sshPort,omitempty"`
	SambaShare string `json:"sambaShare,omitempty"`
	SambaUser  string `json:"sambaUser,omitempty"`
	SambaPass  string `json:"sambaPass,omitempty"`

	Paths    []string `json:"paths,omitempty"`
	Excludes []string `json:"excludes,omitempty"`

	Schedule  string `json:"schedule,omitempty"`
	Retention int    `json:"retention"`
	Enabled   bool   `json:"enabled"`

	// AgentToken is set only for agent-managed devices. It is returned
	// verbatim on idempotent re-registration, so it is stored in the clear.
	AgentToken string `json:"agentToken,omitempty"`

	// TriggerBackup is an ephemeral manual-run flag surfaced on the next
	// poll and cleared when served.
	TriggerBackup bool `json:"triggerBackup,omitempty"`

	RegisteredAt time.Time  `json:"registeredAt"`
	ApprovedAt   *time.Time `json:"approvedAt,omitempty"`

	LastBackup   *time.Time `json:"lastBackup,omitempty"`
	LastResult   RunResult  `json:"lastResult,omitempty"`
	LastError    string     `json:"lastError,omitempty"`
	LastDuration float64    `json:"lastDuration,omitempty"`
}

// NewDevice creates a Device with a fresh ID and the given name and type.
func NewDevice(name string, backupType BackupType) *Device {
	return &Device{
		ID:           uuid.New(),
		Name:         name,
		BackupType:   backupType,
		SSHPort:      22,
		Retention:    3,
		Enabled:      true,
		RegisteredAt: time.Now(),
	}
}

// IsAgentManaged reports whether the device runs its own backups and only
// reports outcomes back to the server.
func (d *Device) IsAgentManaged() bool {
	return d.AgentToken != ""
}

// RecordRun updates the last-run fields from a completed run or agent report.
func (d *Device) RecordRun(result RunResult, duration float64, runErr string) {
	now := time.Now()
	d.LastBackup = &now
	d.LastResult = result
	d.LastDuration = duration
	d.LastError = TruncateError(runErr)
}

// Validate checks the invariants a Device must satisfy before being saved.
func (d *Device) Validate() error {
	if d.Name == "" {
		return errors.New("device name is required")
	}
	if d.Retention < 1 {
		return errors.New("retention must be at least 1")
	}
	switch d.BackupType {
	case BackupTypeFiles:
		// Agent-managed devices run their own backups; SSH credentials and
		// server-side source paths only apply when the server pulls.
		if !d.IsAgentManaged() {
			if d.SSHUser == "" {
				return errors.New("sshUser is required for file backups")
			}
			if len(d.Paths) == 0 {
				return errors.New("at least one source path is required for file backups")
			}
		}
		// Source paths become transfer destinations under the version
		// directory; a relative entry would aim the transfer outside it.
		for _, p := range d.Paths {
			if !strings.HasPrefix(p, "/") {
				return fmt.Errorf("source path %q must be absolute", p)
			}
		}
	case BackupTypeImage:
		if d.ApprovedAt != nil && d.SambaShare == "" {
			return errors.New("sambaShare is required for image backups")
		}
	default:
		return fmt.Errorf("unknown backup type %q", d.BackupType)
	}
	if d.Schedule != "" {
		if err := ValidateSchedule(d.Schedule); err != nil {
			return err
		}
	}
	return nil
}

// ValidateSchedule checks that a cron expression parses. The schedule itself
// is interpreted by an external trigger.
func ValidateSchedule(expr string) error {
	if _, err := scheduleParser.Parse(expr); err != nil {
		return fmt.Errorf("invalid schedule %q: %w", expr, err)
	}
	return nil
}

// TruncateError bounds an error string for storage and API responses.
func TruncateError(msg string) string {
	if len(msg) > MaxErrorLength {
		return msg[:MaxErrorLength]
	}
	return msg
}

// PendingAgent is an enrollment request awaiting administrator approval.
type PendingAgent struct {
	ID           uuid.UUID `json:"id"`
	Hostname     string    `json:"hostname"`
	IP           string    `json:"ip"`
	MAC          string    `json:"mac"`
	OS           string    `json:"os,omitempty"`
	AgentToken   string    `json:"agentToken"`
	RegisteredAt time.Time `json:"registeredAt"`
}

// NewPendingAgent creates a PendingAgent for the given identity tuple.
func NewPendingAgent(hostname, ip, mac, osName, token string) *PendingAgent {
	return &PendingAgent{
		ID:           uuid.New(),
		Hostname:     hostname,
		IP:           ip,
		MAC:          mac,
		OS:           osName,
		AgentToken:   token,
		RegisteredAt: time.Now(),
	}
}

// Matches reports whether the pending agent has the given identity tuple.
func (p *PendingAgent) Matches(hostname, ip, mac string) bool {
	return p.Hostname == hostname && p.IP == ip && p.MAC == mac
}
