package store

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"time"

	"github.com/apptrail-sh/replica-sentinel/internal/model"
)

// CurrentStateVersion is the schema version of the state file. Bumping it
// requires adding a migration in migrate below.
const CurrentStateVersion = 1

// stateFile is the on-disk layout.
type stateFile struct {
	Version int                             `json:"version"`
	SavedAt time.Time                       `json:"savedAt"`
	Records map[string]model.TrackingRecord `json:"records"`
}

// FileStore persists state as a versioned JSON file, committed via
// write-to-temp then atomic rename. A sibling lock file enforces the
// single-writer discipline across overlapping invocations.
type FileStore struct {
	path     string
	lockPath string
	locked   bool
}

// NewFileStore creates a store backed by the given file path. The parent
// directory must exist.
func NewFileStore(path string) *FileStore {
	return &FileStore{
		path:     path,
		lockPath: path + ".lock",
	}
}

// Acquire takes the exclusive lock, failing fast with ErrLockHeld if another
// invocation owns it. The lock is a file created with O_EXCL so two processes
// racing for it cannot both win.
func (s *FileStore) Acquire() error {
	f, err := os.OpenFile(s.lockPath, os.O_CREATE|os.O_EXCL|os.O_WRONLY, 0o644)
	if err != nil {
		if os.IsExist(err) {
			return fmt.Errorf("%w: %s", ErrLockHeld, s.lockPath)
		}
		return fmt.Errorf("failed to create lock file: %w", err)
	}
	fmt.Fprintf(f, "%d\n", os.Getpid())
	if err := f.Close(); err != nil {
		return fmt.Errorf("failed to write lock file: %w", err)
	}
	s.locked = true
	return nil
}

// Release drops the exclusive lock. Safe to call when the lock was never
// acquired.
func (s *FileStore) Release() error {
	if !s.locked {
		return nil
	}
	s.locked = false
	if err := os.Remove(s.lockPath); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("failed to remove lock file: %w", err)
	}
	return nil
}

// Load reads and validates the prior state. A missing file is a first run and
// yields an empty map; anything unparsable or violating the record invariants
// is ErrCorruptState.
func (s *FileStore) Load(_ context.Context) (map[model.WorkloadIdentity]model.TrackingRecord, error) {
	data, err := os.ReadFile(s.path)
	if err != nil {
		if os.IsNotExist(err) {
			return map[model.WorkloadIdentity]model.TrackingRecord{}, nil
		}
		return nil, fmt.Errorf("failed to read state file %s: %w", s.path, err)
	}

	var file stateFile
	if err := json.Unmarshal(data, &file); err != nil {
		return nil, fmt.Errorf("%w: %s: %v", ErrCorruptState, s.path, err)
	}

	if err := migrate(&file); err != nil {
		return nil, err
	}

	records := make(map[model.WorkloadIdentity]model.TrackingRecord, len(file.Records))
	for key, rec := range file.Records {
		if err := validateRecord(key, rec); err != nil {
			return nil, fmt.Errorf("%w: %s: %v", ErrCorruptState, s.path, err)
		}
		records[rec.Identity] = rec
	}
	return records, nil
}

// Commit writes the full state to a temp file in the same directory, syncs
// it, and renames it over the old file. Rename within one directory is atomic
// on POSIX filesystems, so a crash at any point leaves a complete state file.
func (s *FileStore) Commit(_ context.Context, records map[model.WorkloadIdentity]model.TrackingRecord) error {
	file := stateFile{
		Version: CurrentStateVersion,
		SavedAt: time.Now().UTC(),
		Records: make(map[string]model.TrackingRecord, len(records)),
	}
	for id, rec := range records {
		file.Records[id.Key()] = rec
	}

	data, err := json.MarshalIndent(&file, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to encode state: %w", err)
	}

	dir := filepath.Dir(s.path)
	tmp, err := os.CreateTemp(dir, filepath.Base(s.path)+".tmp-*")
	if err != nil {
		return fmt.Errorf("failed to create temp state file: %w", err)
	}
	tmpName := tmp.Name()

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return fmt.Errorf("failed to write temp state file: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return fmt.Errorf("failed to sync temp state file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("failed to close temp state file: %w", err)
	}

	if err := os.Rename(tmpName, s.path); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("failed to replace state file: %w", err)
	}
	return nil
}

// migrate upgrades older state file versions in place. There is only one
// version so far; an unknown version is corruption, not a reason to discard
// state.
func migrate(file *stateFile) error {
	switch file.Version {
	case CurrentStateVersion:
		return nil
	default:
		return fmt.Errorf("%w: unsupported state version %d", ErrCorruptState, file.Version)
	}
}

// validateRecord enforces the record invariants at the trust boundary: the
// map key must match the embedded identity, the state must be known, and
// degraded-since must be set exactly when the state is not Healthy.
func validateRecord(key string, rec model.TrackingRecord) error {
	if rec.Identity.Key() != key {
		return fmt.Errorf("record key %q does not match identity %q", key, rec.Identity.Key())
	}
	switch rec.State {
	case model.StateHealthy:
		if rec.DegradedSince != nil {
			return fmt.Errorf("healthy record %s has degraded-since set", key)
		}
	case model.StateDegraded, model.StateAlerting:
		if rec.DegradedSince == nil {
			return fmt.Errorf("%s record %s has no degraded-since", rec.State, key)
		}
		if rec.DedupKey == "" {
			return fmt.Errorf("%s record %s has no dedup key", rec.State, key)
		}
	default:
		return fmt.Errorf("record %s has unknown state %q", key, rec.State)
	}
	return nil
}

// SortedIdentities returns the identities of a record map in stable key
// order, for reproducible iteration and logging.
func SortedIdentities(records map[model.WorkloadIdentity]model.TrackingRecord) []model.WorkloadIdentity {
	ids := make([]model.WorkloadIdentity, 0, len(records))
	for id := range records {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i].Key() < ids[j].Key() })
	return ids
}
