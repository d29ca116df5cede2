package state

import (
	"os"
	"path/filepath"

	"github.com/groundskeeper/groundskeeper/pkg/consts"
	"github.com/pkg/errors"
)

// RequestCancel drops a cancel marker for planID. A live coordinator checks
// the marker before each dispatch and stops scheduling new chunks; in-flight
// attempts finish first so no chunk is left stuck in running.
func (s *Store) RequestCancel(planID string) error {
	path := s.cancelPath(planID)

	if err := os.MkdirAll(filepath.Dir(path), consts.ModeDir); err != nil {
		return errors.Wrap(err, "failed to create runs directory")
	}

	if err := os.WriteFile(path, []byte{}, consts.ModeFile); err != nil {
		return errors.Wrap(err, "failed to write cancel marker")
	}

	return nil
}

// CancelRequested reports whether a cancel marker exists for planID.
func (s *Store) CancelRequested(planID string) bool {
	_, err := os.Stat(s.cancelPath(planID))
	return err == nil
}

// ClearCancel removes the cancel marker. Not an error if none exists.
func (s *Store) ClearCancel(planID string) error {
	err := os.Remove(s.cancelPath(planID))
	if err != nil && !os.IsNotExist(err) {
		return errors.Wrap(err, "failed to clear cancel marker")
	}
	return nil
}

func (s *Store) cancelPath(planID string) string {
	return filepath.Join(s.dir, "runs", planID+".cancel")
}
