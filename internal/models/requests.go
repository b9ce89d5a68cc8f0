package models

import "github.com/google/uuid"

// RegisterRequest is the body an agent posts to enroll itself.
type RegisterRequest struct {
	Hostname string `json:"hostname" binding:"required"`
	IP       string `json:"ip" binding:"required"`
	MAC      string `json:"mac" binding:"required"`
	OS       string `json:"os,omitempty"`
}

// RegisterResponse is returned from register, idempotently.
type RegisterResponse struct {
	Status     string    `json:"status"` // pending or approved
	AgentID    uuid.UUID `json:"agentId"`
	AgentToken string    `json:"agentToken"`
}

// PollConfig is the effective run configuration served to an approved agent.
type PollConfig struct {
	DeviceName string     `json:"deviceName"`
	BackupType BackupType `json:"backupType"`
	Schedule   string     `json:"schedule,omitempty"`
	Retention  int        `json:"retention"`
	Paths      []string   `json:"paths,omitempty"`
	Excludes   []string   `json:"excludes,omitempty"`
	SambaShare string     `json:"sambaShare,omitempty"`
	SambaUser  string     `json:"sambaUser,omitempty"`
	SambaPass  string     `json:"sambaPass,omitempty"`
	NASAddress string     `json:"nasAddress,omitempty"`
}

// PollResponse is returned from poll.
type PollResponse struct {
	Status        string      `json:"status"` // pending or approved
	Config        *PollConfig `json:"config,omitempty"`
	TriggerBackup bool        `json:"triggerBackup,omitempty"`
}

// ReportRequest is the body an agent posts after running its own backup.
type ReportRequest struct {
	Status   string  `json:"status" binding:"required"` // success or failed
	Duration float64 `json:"duration,omitempty"`
	Size     int64   `json:"size,omitempty"`
	Error    string  `json:"error,omitempty"`
}

// DeviceRequest is the body for creating or updating a server-managed
// device. Pointer fields distinguish "absent" from zero on update.
type DeviceRequest struct {
	Name       string     `json:"name" binding:"required"`
	IP         string     `json:"ip" binding:"required"`
	Hostname   string     `json:"hostname,omitempty"`
	MAC        string     `json:"mac,omitempty"`
	OS         string     `json:"os,omitempty"`
	BackupType BackupType `json:"backupType" binding:"required"`
	SSHUser    string     `json:"sshUser,omitempty"`
	SSHPort    int        `json:"sshPort,omitempty"`
	SambaShare string     `json:"sambaShare,omitempty"`
	Paths      []string   `json:"paths,omitempty"`
	Excludes   []string   `json:"excludes,omitempty"`
	Schedule   string     `json:"schedule,omitempty"`
	Retention  int        `json:"retention,omitempty"`
	Enabled    *bool      `json:"enabled,omitempty"`
}

// ApproveRequest carries optional admin overrides when promoting a
// pending agent to a device.
type ApproveRequest struct {
	BackupType BackupType `json:"backupType,omitempty"`
	Schedule   string     `json:"schedule,omitempty"`
	Retention  int        `json:"retention,omitempty"`
	Paths      []string   `json:"paths,omitempty"`
	Excludes   []string   `json:"excludes,omitempty"`
	SSHUser    string     `json:"sshUser,omitempty"`
	SSHPort    int        `json:"sshPort,omitempty"`
}

// ApproveResponse reports the promoted device and any provisioning error.
// A provisioning failure does not block the promotion; the admin can re-run
// share setup afterwards.
type ApproveResponse struct {
	Device         *Device `json:"device"`
	ProvisionError string  `json:"provisionError,omitempty"`
}

// RestoreRequest selects what to copy back to the device.
type RestoreRequest struct {
	Version    string `json:"version" binding:"required"` // "latest" or "v<N>"
	SourcePath string `json:"sourcePath" binding:"required"`
	DestPath   string `json:"destPath,omitempty"`
}

// RunStatus describes whether a backup is currently executing for a device.
type RunStatus struct {
	Status    string `json:"status"` // running or idle
	StartedAt string `json:"startedAt,omitempty"`
	Output    string `json:"output,omitempty"`
}
