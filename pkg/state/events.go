package state

import (
	"bufio"
	"encoding/json"
	"os"
	"path/filepath"

	"github.com/groundskeeper/groundskeeper/pkg/consts"
	"github.com/pkg/errors"
)

// AppendEvent appends one JSON line to the plan's event log. The log is an
// audit/debug artifact only; correctness never depends on it, so append
// failures are surfaced but callers may choose to log and continue.
func (s *Store) AppendEvent(planID string, event any) error {
	path := s.EventLogPath(planID)

	if err := os.MkdirAll(filepath.Dir(path), consts.ModeDir); err != nil {
		return errors.Wrap(err, "failed to create events directory")
	}

	f, err := os.OpenFile(path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, consts.ModeFile)
	if err != nil {
		return errors.Wrapf(err, "failed to open event log %s", path)
	}
	defer func() { _ = f.Close() }()

	if err := json.NewEncoder(f).Encode(event); err != nil {
		return errors.Wrap(err, "failed to append event")
	}

	return nil
}

// ReadEvents returns all raw events recorded for planID, oldest first.
// Returns nil if no event log exists.
func (s *Store) ReadEvents(planID string) ([]json.RawMessage, error) {
	f, err := os.Open(s.EventLogPath(planID))
	if os.IsNotExist(err) {
		return nil, nil
	}
	if err != nil {
		return nil, errors.Wrap(err, "failed to open event log")
	}
	defer func() { _ = f.Close() }()

	var events []json.RawMessage
	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		line := scanner.Bytes()
		if len(line) == 0 {
			continue
		}
		events = append(events, json.RawMessage(append([]byte(nil), line...)))
	}

	if err := scanner.Err(); err != nil {
		return nil, errors.Wrap(err, "failed to scan event log")
	}

	return events, nil
}
