// Package runstate owns the bench's on-disk run artifacts: per-run
// directories under runs/, the atomically rewritten state.yaml snapshot,
// and the path layout the status and follow commands read from.
package runstate

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/DAVEWEYLAND1993/PBL-Opentrons-Protocol-100-50.50-75.25/internal/lock"
	"github.com/DAVEWEYLAND1993/PBL-Opentrons-Protocol-100-50.50-75.25/internal/model"
	yamlutil "github.com/DAVEWEYLAND1993/PBL-Opentrons-Protocol-100-50.50-75.25/internal/yaml"
)

const (
	runsDirName   = "runs"
	stateFileName = "state.yaml"
	logFileName   = "log.jsonl"
)

// Store resolves and persists run artifacts under one bench directory.
type Store struct {
	benchDir string
	locks    *lock.MutexMap
}

// NewStore builds a store rooted at benchDir (the .gelpilot directory).
func NewStore(benchDir string) *Store {
	return &Store{benchDir: benchDir, locks: lock.NewMutexMap()}
}

func (s *Store) BenchDir() string { return s.benchDir }

// RunDir returns runs/<run_id> under the bench.
func (s *Store) RunDir(runID string) string {
	return filepath.Join(s.benchDir, runsDirName, runID)
}

// StatePath returns the snapshot path for runID.
func (s *Store) StatePath(runID string) string {
	return filepath.Join(s.RunDir(runID), stateFileName)
}

// LogPath returns the execution log path for runID.
func (s *Store) LogPath(runID string) string {
	return filepath.Join(s.RunDir(runID), logFileName)
}

// CreateRun makes the run directory. Refuses malformed IDs so stray
// directories can never masquerade as runs.
func (s *Store) CreateRun(runID string) (string, error) {
	if !model.ValidateID(runID) {
		return "", fmt.Errorf("invalid run ID %q", runID)
	}
	dir := s.RunDir(runID)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", fmt.Errorf("create run directory: %w", err)
	}
	return dir, nil
}

// SaveState atomically rewrites the snapshot for st.RunID, stamping the
// schema header and UpdatedAt. Serialized per run so the executor and the
// poller cannot interleave half-written snapshots.
func (s *Store) SaveState(st *model.RunState) error {
	if st.RunID == "" {
		return fmt.Errorf("run state has no run ID")
	}
	st.SchemaVersion = model.CurrentSchemaVersion
	st.FileType = model.FileTypeRunState
	st.UpdatedAt = time.Now().UTC().Format(time.RFC3339)

	key := filepath.Join(runsDirName, st.RunID, stateFileName)
	s.locks.Lock(key)
	defer s.locks.Unlock(key)
	return yamlutil.AtomicWriteTyped(s.StatePath(st.RunID), st, model.FileTypeRunState)
}

// LoadState reads the snapshot for runID. A corrupted snapshot is
// quarantined and recovered (backup first, then skeleton) before rereading;
// the skeleton case surfaces as a snapshot with no status, which callers
// report rather than trust.
func (s *Store) LoadState(runID string) (*model.RunState, error) {
	path := s.StatePath(runID)
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read run state: %w", err)
	}

	if verr := yamlutil.ValidateSchemaHeaderFromBytes(data, model.FileTypeRunState); verr != nil {
		if recErr := yamlutil.RecoverCorruptedFile(s.benchDir, path, model.FileTypeRunState); recErr != nil {
			return nil, fmt.Errorf("run state corrupt (%v) and unrecoverable: %w", verr, recErr)
		}
		if data, err = os.ReadFile(path); err != nil {
			return nil, fmt.Errorf("reread recovered run state: %w", err)
		}
	}

	var st model.RunState
	if err := yaml.Unmarshal(data, &st); err != nil {
		return nil, fmt.Errorf("parse run state: %w", err)
	}
	if st.RunID == "" {
		st.RunID = runID
	}
	return &st, nil
}

// ListRuns returns every run ID under runs/, newest first. The zero-padded
// timestamp inside the ID makes lexicographic order chronological.
func (s *Store) ListRuns() ([]string, error) {
	entries, err := os.ReadDir(filepath.Join(s.benchDir, runsDirName))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("list runs: %w", err)
	}
	var ids []string
	for _, e := range entries {
		if e.IsDir() && model.ValidateID(e.Name()) {
			ids = append(ids, e.Name())
		}
	}
	sort.Sort(sort.Reverse(sort.StringSlice(ids)))
	return ids, nil
}

// LatestRun returns the most recent run ID, or "" when the bench has none.
func (s *Store) LatestRun() (string, error) {
	ids, err := s.ListRuns()
	if err != nil {
		return "", err
	}
	if len(ids) == 0 {
		return "", nil
	}
	return ids[0], nil
}
