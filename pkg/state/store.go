package state

import (
	"encoding/json"
	"os"
	"path/filepath"
	"strings"

	"github.com/groundskeeper/groundskeeper/pkg/consts"
	"github.com/pkg/errors"
)

// SchemaVersion is the current on-disk document schema version. Documents
// written by this version of groundskeeper carry it in their envelope;
// loading rejects documents written by a newer version.
const SchemaVersion = 1

type (
	// Store is a small JSON-document store rooted at a state directory.
	//
	// The store knows nothing about backfill semantics; it persists opaque
	// documents in a versioned envelope and enforces the directory layout
	// and atomic-write discipline. The backfill package owns the document
	// types.
	//
	// Example usage:
	//
	//	store := state.New(".groundskeeper")
	//
	//	if err := store.WritePlan("01J3...", plan); err != nil {
	//		log.Fatal(err)
	//	}
	//
	//	var loaded backfill.Plan
	//	if err := store.ReadPlan("01J3...", &loaded); err != nil {
	//		log.Fatal(err)
	//	}
	Store struct {
		dir string
	}

	envelope struct {
		SchemaVersion int             `json:"schema_version"`
		Document      json.RawMessage `json:"document"`
	}
)

// New creates a Store rooted at dir. Directories are created lazily on first
// write.
func New(dir string) *Store {
	return &Store{dir: dir}
}

// Dir returns the root state directory.
func (s *Store) Dir() string { return s.dir }

// PlanPath returns the path of the plan document for planID.
func (s *Store) PlanPath(planID string) string {
	return filepath.Join(s.dir, "plans", planID+".json")
}

// RunPath returns the path of the run document for planID.
func (s *Store) RunPath(planID string) string {
	return filepath.Join(s.dir, "runs", planID+".json")
}

// EventLogPath returns the path of the event log for planID.
func (s *Store) EventLogPath(planID string) string {
	return filepath.Join(s.dir, "events", planID+".ndjson")
}

// WritePlan persists a plan document atomically.
func (s *Store) WritePlan(planID string, doc any) error {
	return s.write(s.PlanPath(planID), doc)
}

// ReadPlan loads the plan document for planID into out.
func (s *Store) ReadPlan(planID string, out any) error {
	return s.read(s.PlanPath(planID), out)
}

// PlanExists reports whether a plan document exists for planID.
func (s *Store) PlanExists(planID string) (bool, error) {
	return s.exists(s.PlanPath(planID))
}

// WriteRun persists a run document atomically. This is the checkpoint write
// the coordinator performs after every terminal chunk attempt.
func (s *Store) WriteRun(planID string, doc any) error {
	return s.write(s.RunPath(planID), doc)
}

// ReadRun loads the run document for planID into out.
func (s *Store) ReadRun(planID string, out any) error {
	return s.read(s.RunPath(planID), out)
}

// RunExists reports whether a run document exists for planID.
func (s *Store) RunExists(planID string) (bool, error) {
	return s.exists(s.RunPath(planID))
}

// ListPlanIDs returns the ids of all persisted plans.
func (s *Store) ListPlanIDs() ([]string, error) {
	entries, err := os.ReadDir(filepath.Join(s.dir, "plans"))
	if os.IsNotExist(err) {
		return nil, nil
	}
	if err != nil {
		return nil, errors.Wrap(err, "failed to list plans")
	}

	ids := make([]string, 0, len(entries))
	for _, entry := range entries {
		name := entry.Name()
		if entry.IsDir() || !strings.HasSuffix(name, ".json") {
			continue
		}
		ids = append(ids, strings.TrimSuffix(name, ".json"))
	}

	return ids, nil
}

func (s *Store) exists(path string) (bool, error) {
	_, err := os.Stat(path)
	if os.IsNotExist(err) {
		return false, nil
	}
	if err != nil {
		return false, errors.Wrapf(err, "failed to stat %s", path)
	}
	return true, nil
}

func (s *Store) write(path string, doc any) error {
	raw, err := json.Marshal(doc)
	if err != nil {
		return errors.Wrap(err, "failed to marshal document")
	}

	data, err := json.MarshalIndent(envelope{
		SchemaVersion: SchemaVersion,
		Document:      raw,
	}, "", "  ")
	if err != nil {
		return errors.Wrap(err, "failed to marshal envelope")
	}

	if err := os.MkdirAll(filepath.Dir(path), consts.ModeDir); err != nil {
		return errors.Wrapf(err, "failed to create directory for %s", path)
	}

	// Write to a temp file in the same directory, then rename. Rename is
	// atomic on the same filesystem, so readers never see a partial write.
	tmp, err := os.CreateTemp(filepath.Dir(path), "."+filepath.Base(path)+".tmp")
	if err != nil {
		return errors.Wrap(err, "failed to create temp file")
	}

	if _, err := tmp.Write(data); err != nil {
		_ = tmp.Close()
		_ = os.Remove(tmp.Name())
		return errors.Wrapf(err, "failed to write %s", path)
	}

	if err := tmp.Sync(); err != nil {
		_ = tmp.Close()
		_ = os.Remove(tmp.Name())
		return errors.Wrapf(err, "failed to sync %s", path)
	}

	if err := tmp.Close(); err != nil {
		_ = os.Remove(tmp.Name())
		return errors.Wrapf(err, "failed to close temp file for %s", path)
	}

	if err := os.Rename(tmp.Name(), path); err != nil {
		_ = os.Remove(tmp.Name())
		return errors.Wrapf(err, "failed to replace %s", path)
	}

	return nil
}

func (s *Store) read(path string, out any) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return errors.Wrapf(err, "failed to read %s", path)
	}

	var env envelope
	if err := json.Unmarshal(data, &env); err != nil {
		return errors.Wrapf(err, "failed to parse %s", path)
	}

	if env.SchemaVersion > SchemaVersion {
		return errors.Errorf(
			"%s was written by a newer groundskeeper (schema version %d, supported %d)",
			path, env.SchemaVersion, SchemaVersion,
		)
	}

	if err := json.Unmarshal(env.Document, out); err != nil {
		return errors.Wrapf(err, "failed to decode document in %s", path)
	}

	return nil
}
