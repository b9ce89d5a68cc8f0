// Package transfer wraps the external rsync tool as a supervised child
// process and provides a reachability probe for file-mode devices.
package transfer

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os/exec"
	"strings"
	"time"

	"github.com/rs/zerolog"
)

// ErrTransferFailed wraps a non-zero rsync exit.
var ErrTransferFailed = errors.New("transfer failed")

// Options describes one rsync invocation.
type Options struct {
	// Source and Dest in rsync syntax; remote endpoints use user@host:path.
	// A trailing slash on Source copies the directory's contents, not the
	// directory itself; callers rely on rsync's semantics here.
	Source string
	Dest   string

	// LinkDest, when set, hardlinks unchanged files against this directory
	// instead of copying them.
	LinkDest string

	Excludes []string

	// SSHPort selects a non-default remote port.
	SSHPort int

	// Timeout bounds the child process; zero means the caller's context
	// decides.
	Timeout time.Duration
}

// Runner invokes rsync and resolves success by exit status.
type Runner struct {
	binary string
	logger zerolog.Logger
}

// NewRunner creates a Runner using the rsync binary on PATH.
func NewRunner(logger zerolog.Logger) *Runner {
	return NewRunnerWithBinary("rsync", logger)
}

// NewRunnerWithBinary creates a Runner with a custom binary path.
func NewRunnerWithBinary(binary string, logger zerolog.Logger) *Runner {
	return &Runner{
		binary: binary,
		logger: logger.With().Str("component", "transfer").Logger(),
	}
}

// Sync runs one rsync transfer and returns the combined output. A non-zero
// exit returns the output alongside an error wrapping ErrTransferFailed.
func (r *Runner) Sync(ctx context.Context, opts Options) (string, error) {
	if opts.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, opts.Timeout)
		defer cancel()
	}

	args := buildArgs(opts)
	cmd := exec.CommandContext(ctx, r.binary, args...)

	var combined bytes.Buffer
	cmd.Stdout = &combined
	cmd.Stderr = &combined

	r.logger.Debug().
		Str("command", r.binary).
		Strs("args", args).
		Msg("executing transfer")

	err := cmd.Run()
	output := combined.String()
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return output, fmt.Errorf("%w: %v", ErrTransferFailed, ctxErr)
		}
		msg := strings.TrimSpace(output)
		if msg == "" {
			msg = err.Error()
		}
		return output, fmt.Errorf("%w: %s", ErrTransferFailed, msg)
	}
	return output, nil
}

func buildArgs(opts Options) []string {
	args := []string{"-a", "--delete"}
	if opts.SSHPort > 0 && opts.SSHPort != 22 {
		args = append(args, "-e", fmt.Sprintf("ssh -p %d", opts.SSHPort))
	}
	if opts.LinkDest != "" {
		args = append(args, "--link-dest="+opts.LinkDest)
	}
	for _, ex := range opts.Excludes {
		args = append(args, "--exclude="+ex)
	}
	return append(args, opts.Source, opts.Dest)
}
