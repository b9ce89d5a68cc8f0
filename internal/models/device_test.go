package models

import (
	"strings"
	"testing"
	"time"
)

func validFilesDevice() *Device {
	d := NewDevice("nas-1", BackupTypeFiles)
	d.SSHUser = "backup"
	d.Paths = []string{"/srv/data"}
	return d
}

func TestDeviceValidate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*Device)
		wantErr bool
	}{
		{"valid files device", func(d *Device) {}, false},
		{"missing name", func(d *Device) { d.Name = "" }, true},
		{"zero retention", func(d *Device) { d.Retention = 0 }, true},
		{"files without sshUser", func(d *Device) { d.SSHUser = "" }, true},
		{"files without paths", func(d *Device) { d.Paths = nil }, true},
		{"unknown type", func(d *Device) { d.BackupType = "tape" }, true},
		{"relative path", func(d *Device) { d.Paths = []string{"srv/data"} }, true},
		{"dotted path", func(d *Device) { d.Paths = []string{".."} }, true},
		{"valid schedule", func(d *Device) { d.Schedule = "30 3 * * 1" }, false},
		{"bad schedule", func(d *Device) { d.Schedule = "whenever" }, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			d := validFilesDevice()
			tt.mutate(d)
			err := d.Validate()
			if (err != nil) != tt.wantErr {
				t.Errorf("Validate() = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}

func TestValidateAgentManagedFilesDevice(t *testing.T) {
	d := NewDevice("pc-1", BackupTypeFiles)
	d.AgentToken = "atk_" + strings.Repeat("0", 64)
	if err := d.Validate(); err != nil {
		t.Errorf("agent-managed device should not need SSH config: %v", err)
	}
}

func TestValidateImageDevice(t *testing.T) {
	d := NewDevice("pc-2", BackupTypeImage)
	if err := d.Validate(); err != nil {
		t.Errorf("unapproved image device should validate without a share: %v", err)
	}

	now := time.Now()
	d.ApprovedAt = &now
	if err := d.Validate(); err == nil {
		t.Error("approved image device without a share should fail validation")
	}

	d.SambaShare = "pc-2"
	if err := d.Validate(); err != nil {
		t.Errorf("approved image device with share: %v", err)
	}
}

func TestRecordRun(t *testing.T) {
	d := validFilesDevice()
	d.RecordRun(RunResultFailed, 12.5, strings.Repeat("e", MaxErrorLength+50))

	if d.LastResult != RunResultFailed || d.LastDuration != 12.5 {
		t.Errorf("run state = %+v", d)
	}
	if d.LastBackup == nil {
		t.Error("lastBackup not set")
	}
	if len(d.LastError) != MaxErrorLength {
		t.Errorf("lastError length = %d, want %d", len(d.LastError), MaxErrorLength)
	}

	d.RecordRun(RunResultSuccess, 3, "")
	if d.LastError != "" {
		t.Errorf("lastError = %q after a clean run", d.LastError)
	}
}

func TestPendingAgentMatches(t *testing.T) {
	p := NewPendingAgent("pc-1", "10.0.0.5", "AA:BB:CC:DD:EE:FF", "windows", "atk_x")

	if !p.Matches("pc-1", "10.0.0.5", "AA:BB:CC:DD:EE:FF") {
		t.Error("identical tuple should match")
	}
	if p.Matches("pc-1", "10.0.0.6", "AA:BB:CC:DD:EE:FF") {
		t.Error("different ip should not match")
	}
	if p.Matches("pc-2", "10.0.0.5", "AA:BB:CC:DD:EE:FF") {
		t.Error("different hostname should not match")
	}
}
