package backup

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"time"

	"github.com/google/uuid"
)

// maxSizeDepth bounds recursive directory sizing so a pathological tree
// cannot recurse without limit.
const maxSizeDepth = 64

// Entry is one item of a version's directory listing.
type Entry struct {
	Name    string    `json:"name"`
	IsDir   bool      `json:"isDir"`
	Size    int64     `json:"size"`
	ModTime time.Time `json:"modTime"`
}

// Browse lists the directory at rel inside the given version, with the same
// containment check as restore. Directories sort before files, then
// lexicographically by name. Directory sizes are computed recursively;
// symlinks are not followed.
func (s *VersionStore) Browse(deviceID uuid.UUID, version, rel string) ([]Entry, error) {
	versionDir, _, err := s.Resolve(deviceID, version)
	if err != nil {
		return nil, err
	}

	dir, err := s.ResolveWithin(versionDir, rel)
	if err != nil {
		return nil, err
	}

	items, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("read directory: %w", err)
	}

	entries := make([]Entry, 0, len(items))
	for _, item := range items {
		info, err := item.Info()
		if err != nil {
			continue
		}
		e := Entry{
			Name:    item.Name(),
			IsDir:   item.IsDir(),
			ModTime: info.ModTime(),
		}
		if item.IsDir() {
			e.Size = dirSize(filepath.Join(dir, item.Name()), 0)
		} else {
			e.Size = info.Size()
		}
		entries = append(entries, e)
	}

	sort.Slice(entries, func(i, j int) bool {
		if entries[i].IsDir != entries[j].IsDir {
			return entries[i].IsDir
		}
		return entries[i].Name < entries[j].Name
	})
	return entries, nil
}

// DeviceUsage sums the sizes of everything under a device's backup
// directory. Hardlinked files are counted once per link, so this reports
// apparent size, not unique disk usage.
func (s *VersionStore) DeviceUsage(deviceID uuid.UUID) int64 {
	return dirSize(s.DeviceDir(deviceID), 0)
}

// dirSize sums file sizes under dir using Lstat semantics: symlinks count
// as their link size and are never followed.
func dirSize(dir string, depth int) int64 {
	if depth > maxSizeDepth {
		return 0
	}
	items, err := os.ReadDir(dir)
	if err != nil {
		return 0
	}
	var total int64
	for _, item := range items {
		path := filepath.Join(dir, item.Name())
		if item.IsDir() {
			total += dirSize(path, depth+1)
			continue
		}
		info, err := os.Lstat(path)
		if err != nil {
			continue
		}
		total += info.Size()
	}
	return total
}
