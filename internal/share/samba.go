// Package share provisions per-device Samba shares for image backups.
package share

import (
	"bytes"
	"context"
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"os/exec"
	"path/filepath"
	"regexp"
	"strings"
	"time"

	"github.com/rs/zerolog"
)

const commandTimeout = 30 * time.Second

var shareNameSanitizer = regexp.MustCompile(`[^a-zA-Z0-9_-]+`)

// Provisioned holds the credentials of a freshly created share account.
// The account can write into its own share and nothing else.
type Provisioned struct {
	ShareName string `json:"shareName"`
	Username  string `json:"username"`
	Password  string `json:"-"`
}

// Provisioner creates system users and Samba accounts via the host's
// user and samba tooling.
type Provisioner struct {
	shareRoot string
	logger    zerolog.Logger
}

// NewProvisioner creates a Provisioner rooted at shareRoot, the directory
// under which per-device share directories are created.
func NewProvisioner(shareRoot string, logger zerolog.Logger) *Provisioner {
	return &Provisioner{
		shareRoot: shareRoot,
		logger:    logger.With().Str("component", "share").Logger(),
	}
}

// Provision creates a share directory, a matching no-login system user and
// a Samba account with a random password for the named device.
func (p *Provisioner) Provision(ctx context.Context, deviceName string) (*Provisioned, error) {
	name := shareNameSanitizer.ReplaceAllString(strings.ToLower(deviceName), "-")
	name = strings.Trim(name, "-")
	if name == "" {
		return nil, fmt.Errorf("device name %q yields an empty share name", deviceName)
	}

	username := "bkp-" + name
	shareDir := filepath.Join(p.shareRoot, name)
	password, err := randomPassword()
	if err != nil {
		return nil, err
	}

	steps := [][]string{
		{"install", "-d", "-m", "0750", shareDir},
		{"useradd", "--system", "--no-create-home", "--shell", "/usr/sbin/nologin", "--home-dir", shareDir, username},
		{"chown", username + ":" + username, shareDir},
	}
	for _, step := range steps {
		if out, err := p.runCommand(ctx, step[0], step[1:]...); err != nil {
			// useradd exit code 9 means the user already exists, which is
			// fine when re-provisioning a device.
			if step[0] == "useradd" && strings.Contains(out, "already exists") {
				continue
			}
			return nil, fmt.Errorf("%s failed: %w: %s", step[0], err, strings.TrimSpace(out))
		}
	}

	if out, err := p.setSambaPassword(ctx, username, password); err != nil {
		return nil, fmt.Errorf("smbpasswd failed: %w: %s", err, strings.TrimSpace(out))
	}

	p.logger.Info().
		Str("share", name).
		Str("username", username).
		Msg("samba share provisioned")

	return &Provisioned{ShareName: name, Username: username, Password: password}, nil
}

// Deprovision removes the Samba account and system user for a device's
// share. The share directory and its backups are left in place.
func (p *Provisioner) Deprovision(ctx context.Context, shareName string) error {
	username := "bkp-" + shareName
	if out, err := p.runCommand(ctx, "smbpasswd", "-x", username); err != nil {
		return fmt.Errorf("smbpasswd -x failed: %w: %s", err, strings.TrimSpace(out))
	}
	if out, err := p.runCommand(ctx, "userdel", username); err != nil {
		return fmt.Errorf("userdel failed: %w: %s", err, strings.TrimSpace(out))
	}
	p.logger.Info().Str("share", shareName).Msg("samba share deprovisioned")
	return nil
}

func (p *Provisioner) runCommand(ctx context.Context, name string, args ...string) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, commandTimeout)
	defer cancel()

	var buf bytes.Buffer
	cmd := exec.CommandContext(ctx, name, args...)
	cmd.Stdout = &buf
	cmd.Stderr = &buf
	err := cmd.Run()
	return buf.String(), err
}

// setSambaPassword feeds the password to smbpasswd on stdin twice, as the
// interactive prompt expects.
func (p *Provisioner) setSambaPassword(ctx context.Context, username, password string) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, commandTimeout)
	defer cancel()

	var buf bytes.Buffer
	cmd := exec.CommandContext(ctx, "smbpasswd", "-a", "-s", username)
	cmd.Stdin = strings.NewReader(password + "\n" + password + "\n")
	cmd.Stdout = &buf
	cmd.Stderr = &buf
	err := cmd.Run()
	return buf.String(), err
}

func randomPassword() (string, error) {
	raw := make([]byte, 24)
	if _, err := rand.Read(raw); err != nil {
		return "", fmt.Errorf("failed to generate share password: %w", err)
	}
	return hex.EncodeToString(raw), nil
}
