package backup

import (
	"fmt"

	"github.com/google/uuid"
)

// Prune enforces the retention count R for a device: all but the last R
// versions are deleted, and the latest symlink is repointed at the highest
// survivor (or removed when none remain).
//
// Prune is idempotent. It must only run while the device's single-flight
// slot is held, which the engine guarantees by pruning inside the run.
func (s *VersionStore) Prune(deviceID uuid.UUID, retention int) ([]int, error) {
	if retention < 1 {
		return nil, fmt.Errorf("retention must be at least 1, got %d", retention)
	}

	versions, err := s.ListVersions(deviceID)
	if err != nil {
		return nil, err
	}

	var removed []int
	if len(versions) > retention {
		for _, n := range versions[:len(versions)-retention] {
			if err := s.RemoveVersion(deviceID, n); err != nil {
				return removed, err
			}
			removed = append(removed, n)
		}
		versions = versions[len(versions)-retention:]
	}

	if len(versions) == 0 {
		if err := s.RemoveLatest(deviceID); err != nil {
			return removed, err
		}
		return removed, nil
	}

	if err := s.SetLatest(deviceID, versions[len(versions)-1]); err != nil {
		return removed, err
	}

	if len(removed) > 0 {
		s.logger.Info().
			Str("device_id", deviceID.String()).
			Ints("removed", removed).
			Int("kept", len(versions)).
			Msg("pruned old versions")
	}
	return removed, nil
}
