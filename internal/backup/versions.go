// Package backup implements the versioned backup engine: the on-disk version
// store, the run orchestration, retention pruning, restore, and browse.
package backup

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

// ErrVersionNotFound is returned when a requested version does not exist.
var ErrVersionNotFound = errors.New("version not found")

// ErrPathEscapes is returned when a requested path resolves outside its
// version root.
var ErrPathEscapes = errors.New("path escapes version root")

const latestLink = "latest"

// VersionStore manages the per-device version directory layout:
// <root>/<deviceID>/v<N> with a "latest" symlink at the device root.
//
// The whole tree must live on one filesystem; --link-dest deduplication
// degrades to full copies across filesystem boundaries.
type VersionStore struct {
	root   string
	logger zerolog.Logger
}

// NewVersionStore creates a VersionStore rooted at root.
func NewVersionStore(root string, logger zerolog.Logger) *VersionStore {
	return &VersionStore{
		root:   root,
		logger: logger.With().Str("component", "versions").Logger(),
	}
}

// DeviceDir returns the backup directory for a device.
func (s *VersionStore) DeviceDir(deviceID uuid.UUID) string {
	return filepath.Join(s.root, deviceID.String())
}

// VersionDir returns the directory for version n of a device.
func (s *VersionStore) VersionDir(deviceID uuid.UUID, n int) string {
	return filepath.Join(s.DeviceDir(deviceID), fmt.Sprintf("v%d", n))
}

// ListVersions returns the existing version numbers in ascending order.
// A missing device directory yields an empty list.
func (s *VersionStore) ListVersions(deviceID uuid.UUID) ([]int, error) {
	entries, err := os.ReadDir(s.DeviceDir(deviceID))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("list versions: %w", err)
	}

	var versions []int
	for _, e := range entries {
		if !e.IsDir() {
			continue
		}
		name := e.Name()
		if !strings.HasPrefix(name, "v") {
			continue
		}
		n, err := strconv.Atoi(name[1:])
		if err != nil || n < 1 {
			continue
		}
		versions = append(versions, n)
	}
	sort.Ints(versions)
	return versions, nil
}

// NextVersion returns the next version number to assign and the highest
// existing version (0 when none exists). Version numbers are assigned once
// and never reused, even after pruning.
func (s *VersionStore) NextVersion(deviceID uuid.UUID) (int, int, error) {
	versions, err := s.ListVersions(deviceID)
	if err != nil {
		return 0, 0, err
	}
	if len(versions) == 0 {
		return 1, 0, nil
	}
	prev := versions[len(versions)-1]
	return prev + 1, prev, nil
}

// SetLatest atomically repoints the latest symlink at version n. The link
// target is relative so the device directory can be relocated as a unit.
func (s *VersionStore) SetLatest(deviceID uuid.UUID, n int) error {
	dir := s.DeviceDir(deviceID)
	tmp := filepath.Join(dir, latestLink+".tmp")
	_ = os.Remove(tmp)
	if err := os.Symlink(fmt.Sprintf("v%d", n), tmp); err != nil {
		return fmt.Errorf("create latest symlink: %w", err)
	}
	if err := os.Rename(tmp, filepath.Join(dir, latestLink)); err != nil {
		_ = os.Remove(tmp)
		return fmt.Errorf("repoint latest symlink: %w", err)
	}
	return nil
}

// RemoveLatest removes the latest symlink; absence is not an error.
func (s *VersionStore) RemoveLatest(deviceID uuid.UUID) error {
	err := os.Remove(filepath.Join(s.DeviceDir(deviceID), latestLink))
	if err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("remove latest symlink: %w", err)
	}
	return nil
}

// RemoveVersion deletes the directory of version n entirely.
func (s *VersionStore) RemoveVersion(deviceID uuid.UUID, n int) error {
	if err := os.RemoveAll(s.VersionDir(deviceID, n)); err != nil {
		return fmt.Errorf("remove v%d: %w", n, err)
	}
	return nil
}

// RemoveDevice deletes a device's whole backup tree.
func (s *VersionStore) RemoveDevice(deviceID uuid.UUID) error {
	if err := os.RemoveAll(s.DeviceDir(deviceID)); err != nil {
		return fmt.Errorf("remove device tree: %w", err)
	}
	return nil
}

// Resolve maps a version selector ("latest" or "v<N>") to its concrete
// directory and version number. The latest selector follows the symlink.
func (s *VersionStore) Resolve(deviceID uuid.UUID, version string) (string, int, error) {
	if version == latestLink {
		target, err := os.Readlink(filepath.Join(s.DeviceDir(deviceID), latestLink))
		if err != nil {
			return "", 0, ErrVersionNotFound
		}
		version = filepath.Base(target)
	}
	if !strings.HasPrefix(version, "v") {
		return "", 0, ErrVersionNotFound
	}
	n, err := strconv.Atoi(version[1:])
	if err != nil || n < 1 {
		return "", 0, ErrVersionNotFound
	}
	dir := s.VersionDir(deviceID, n)
	info, err := os.Stat(dir)
	if err != nil || !info.IsDir() {
		return "", 0, ErrVersionNotFound
	}
	return dir, n, nil
}

// ResolveWithin resolves rel against a version directory and rejects any
// result outside it. The check runs on fully resolved paths, so ".."
// segments and symlinks pointing out of the tree are both caught.
func (s *VersionStore) ResolveWithin(versionDir, rel string) (string, error) {
	base, err := filepath.EvalSymlinks(versionDir)
	if err != nil {
		return "", fmt.Errorf("resolve version root: %w", err)
	}

	joined := filepath.Join(base, filepath.FromSlash(rel))
	resolved, err := filepath.EvalSymlinks(joined)
	if err != nil {
		if os.IsNotExist(err) {
			// Still refuse fabricated paths that would land outside.
			if !contained(base, filepath.Clean(joined)) {
				return "", ErrPathEscapes
			}
			return "", err
		}
		return "", fmt.Errorf("resolve path: %w", err)
	}

	if !contained(base, resolved) {
		return "", ErrPathEscapes
	}
	return resolved, nil
}

func contained(base, path string) bool {
	return path == base || strings.HasPrefix(path, base+string(filepath.Separator))
}
