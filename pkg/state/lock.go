package state

import (
	"encoding/json"
	"os"
	"path/filepath"
	"time"

	"github.com/groundskeeper/groundskeeper/pkg/consts"
	"github.com/pkg/errors"
)

// ErrLockHeld is returned when another process already holds the run lock
// for a plan.
var ErrLockHeld = errors.New("run lock already held")

type (
	// RunLock is an exclusive marker tied to a plan's run file. Exactly one
	// coordinator may hold it at a time, preventing two processes from
	// executing (and checkpointing) the same plan concurrently.
	RunLock struct {
		path string
	}

	// LockInfo is the content of a lock marker, recorded for diagnostics.
	LockInfo struct {
		PID        int       `json:"pid"`
		AcquiredAt time.Time `json:"acquired_at"`
	}
)

// AcquireRunLock takes the exclusive run lock for planID. Returns ErrLockHeld
// if another coordinator currently owns the plan.
//
// The lock is a marker file created with O_EXCL, so acquisition is atomic.
// Release removes the marker; a crashed coordinator leaves it behind, which
// doctor surfaces via ReadRunLock.
func (s *Store) AcquireRunLock(planID string) (*RunLock, error) {
	path := s.lockPath(planID)

	if err := os.MkdirAll(filepath.Dir(path), consts.ModeDir); err != nil {
		return nil, errors.Wrap(err, "failed to create runs directory")
	}

	f, err := os.OpenFile(path, os.O_CREATE|os.O_EXCL|os.O_WRONLY, consts.ModeFile)
	if os.IsExist(err) {
		return nil, errors.Wrapf(ErrLockHeld, "plan %s", planID)
	}
	if err != nil {
		return nil, errors.Wrapf(err, "failed to create lock %s", path)
	}
	defer func() { _ = f.Close() }()

	info := LockInfo{PID: os.Getpid(), AcquiredAt: time.Now().UTC()}
	if err := json.NewEncoder(f).Encode(info); err != nil {
		_ = os.Remove(path)
		return nil, errors.Wrap(err, "failed to record lock info")
	}

	return &RunLock{path: path}, nil
}

// ReadRunLock returns the lock info for planID, or nil if no lock is held.
func (s *Store) ReadRunLock(planID string) (*LockInfo, error) {
	data, err := os.ReadFile(s.lockPath(planID))
	if os.IsNotExist(err) {
		return nil, nil
	}
	if err != nil {
		return nil, errors.Wrap(err, "failed to read run lock")
	}

	var info LockInfo
	if err := json.Unmarshal(data, &info); err != nil {
		return nil, errors.Wrap(err, "failed to parse run lock")
	}

	return &info, nil
}

// ClearRunLock removes a leftover lock marker. Used by doctor-recommended
// recovery after a crashed run; it is not an error if no lock exists.
func (s *Store) ClearRunLock(planID string) error {
	err := os.Remove(s.lockPath(planID))
	if err != nil && !os.IsNotExist(err) {
		return errors.Wrap(err, "failed to clear run lock")
	}
	return nil
}

func (s *Store) lockPath(planID string) string {
	return filepath.Join(s.dir, "runs", planID+".lock")
}

// Release gives up the lock. Safe to call once; the marker is removed.
func (l *RunLock) Release() error {
	err := os.Remove(l.path)
	if err != nil && !os.IsNotExist(err) {
		return errors.Wrap(err, "failed to release run lock")
	}
	return nil
}
