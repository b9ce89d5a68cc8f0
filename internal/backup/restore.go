package backup

import (
	"context"
	"fmt"
	"strings"

	"github.com/attic-backup/attic/internal/models"
	"github.com/attic-backup/attic/internal/sanitize"
	"github.com/attic-backup/attic/internal/transfer"
)

// RestoreResult reports a completed restore.
type RestoreResult struct {
	Version     string `json:"version"`
	Source      string `json:"source"`
	Destination string `json:"destination"`
	Output      string `json:"output,omitempty"`
}

// Restore copies a file or directory from a stored version back to the
// device over the same transport, in reverse. The source path is resolved
// inside the version directory and rejected if it escapes it; a trailing
// slash on the request's source carries through to rsync, so restoring
// "dir/" copies the directory's contents into the destination.
//
// The transfer is bounded by the engine's restore timeout: a hung restore
// fails instead of holding the connection open indefinitely.
func (e *Engine) Restore(ctx context.Context, device *models.Device, req models.RestoreRequest) (*RestoreResult, error) {
	versionDir, n, err := e.versions.Resolve(device.ID, req.Version)
	if err != nil {
		return nil, err
	}

	localPath, err := e.versions.ResolveWithin(versionDir, req.SourcePath)
	if err != nil {
		return nil, err
	}
	if strings.HasSuffix(req.SourcePath, "/") && !strings.HasSuffix(localPath, "/") {
		localPath += "/"
	}

	destPath := req.DestPath
	if destPath == "" {
		destPath = "/" + strings.TrimPrefix(strings.TrimSuffix(req.SourcePath, "/"), "/")
	}
	cleanDest, ok := sanitize.Path(destPath)
	if !ok || !strings.HasPrefix(cleanDest, "/") {
		return nil, fmt.Errorf("%w: destination %q", ErrPathRejected, destPath)
	}

	e.logger.Info().
		Str("device_id", device.ID.String()).
		Int("version", n).
		Str("source", localPath).
		Str("destination", cleanDest).
		Msg("starting restore")

	out, err := e.runner.Sync(ctx, transfer.Options{
		Source:  localPath,
		Dest:    fmt.Sprintf("%s@%s:%s", device.SSHUser, device.IP, cleanDest),
		SSHPort: device.SSHPort,
		Timeout: e.restoreTimeout,
	})
	if err != nil {
		return nil, fmt.Errorf("restore v%d %s: %s", n, req.SourcePath, models.TruncateError(err.Error()))
	}

	return &RestoreResult{
		Version:     fmt.Sprintf("v%d", n),
		Source:      req.SourcePath,
		Destination: cleanDest,
		Output:      out,
	}, nil
}
