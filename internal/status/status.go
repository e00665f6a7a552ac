// Package status implements `gelpilot status`: a snapshot of the active run
// over the control socket when one is live, the latest run's state file
// otherwise, and an execution-log follower for --follow.
package status

import (
	"bufio"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/fsnotify/fsnotify"

	"github.com/DAVEWEYLAND1993/PBL-Opentrons-Protocol-100-50.50-75.25/internal/events"
	"github.com/DAVEWEYLAND1993/PBL-Opentrons-Protocol-100-50.50-75.25/internal/model"
	"github.com/DAVEWEYLAND1993/PBL-Opentrons-Protocol-100-50.50-75.25/internal/runstate"
	"github.com/DAVEWEYLAND1993/PBL-Opentrons-Protocol-100-50.50-75.25/internal/uds"
)

// Snapshot is the status command's view of a run, from either source.
type Snapshot struct {
	Live          bool                `json:"live"` // answered by an active run's socket
	RunID         string              `json:"run_id,omitempty"`
	Protocol      string              `json:"protocol,omitempty"`
	Status        model.RunStatus     `json:"status,omitempty"`
	CurrentAction int                 `json:"current_action"`
	TotalActions  int                 `json:"total_actions"`
	Checkpoint    string              `json:"checkpoint,omitempty"`
	Modules       []model.ModuleState `json:"modules,omitempty"`
	LastError     string              `json:"last_error,omitempty"`
	UpdatedAt     string              `json:"updated_at,omitempty"`
}

// Run collects and prints the bench status. With follow set it then tails
// the run's execution log until stop closes (or forever when stop is nil).
func Run(benchDir string, jsonOutput, follow bool, stop <-chan struct{}) error {
	snap, err := Collect(benchDir)
	if err != nil {
		return err
	}

	if jsonOutput {
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		if err := enc.Encode(snap); err != nil {
			return err
		}
	} else {
		printSnapshot(os.Stdout, snap)
	}

	if !follow {
		return nil
	}
	if snap.RunID == "" {
		return fmt.Errorf("no run to follow")
	}
	store := runstate.NewStore(benchDir)
	return Follow(store.LogPath(snap.RunID), os.Stdout, stop)
}

// Collect probes the control socket first; a connectable socket means a run
// is in flight and its answer is fresher than any file. Otherwise the
// latest run's state snapshot serves as the post-mortem view.
func Collect(benchDir string) (*Snapshot, error) {
	if snap, ok := liveSnapshot(filepath.Join(benchDir, uds.DefaultSocketName)); ok {
		return snap, nil
	}
	return diskSnapshot(benchDir)
}

func liveSnapshot(sockPath string) (*Snapshot, bool) {
	client := uds.NewClient(sockPath)
	resp, err := client.SendCommand("status", nil)
	if err != nil || !resp.Success {
		return nil, false
	}
	var snap Snapshot
	if err := json.Unmarshal(resp.Data, &snap); err != nil {
		return nil, false
	}
	snap.Live = true
	return &snap, true
}

func diskSnapshot(benchDir string) (*Snapshot, error) {
	store := runstate.NewStore(benchDir)
	runID, err := store.LatestRun()
	if err != nil {
		return nil, err
	}
	if runID == "" {
		return &Snapshot{}, nil
	}
	st, err := store.LoadState(runID)
	if err != nil {
		return nil, fmt.Errorf("run %s: %w", runID, err)
	}
	return &Snapshot{
		RunID:         st.RunID,
		Protocol:      st.ProtocolName,
		Status:        st.Status,
		CurrentAction: st.CurrentAction,
		TotalActions:  st.TotalActions,
		Checkpoint:    st.Checkpoint,
		Modules:       st.Modules,
		LastError:     st.LastError,
		UpdatedAt:     st.UpdatedAt,
	}, nil
}

func printSnapshot(w io.Writer, s *Snapshot) {
	if s.RunID == "" {
		fmt.Fprintln(w, "No runs on this bench yet.")
		return
	}

	source := "last run"
	if s.Live {
		source = "live"
	}
	fmt.Fprintf(w, "Run:      %s (%s)\n", s.RunID, s.Protocol)
	fmt.Fprintf(w, "Status:   %s [%s]\n", s.Status, source)
	fmt.Fprintf(w, "Progress: %d/%d actions\n", s.CurrentAction, s.TotalActions)
	if s.Checkpoint != "" {
		fmt.Fprintf(w, "Waiting:  %s\n", s.Checkpoint)
	}
	if len(s.Modules) > 0 {
		fmt.Fprintln(w, "Modules:")
		for _, m := range s.Modules {
			fmt.Fprintf(w, "  %-12s  target=%5.1fC  observed=%5.1fC  status=%s\n",
				m.ModuleID, m.TargetC, m.ObservedC, m.Status)
		}
	}
	if s.LastError != "" {
		fmt.Fprintf(w, "Last error: %s\n", s.LastError)
	}
}

// Follow streams execution log records to out as they are appended,
// starting with everything already on disk. It returns when stop closes.
// The watch sits on the run directory, not the file: the log may not exist
// yet when following starts right after run creation.
func Follow(logPath string, out io.Writer, stop <-chan struct{}) error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("create watcher: %w", err)
	}
	defer watcher.Close()

	if err := watcher.Add(filepath.Dir(logPath)); err != nil {
		return fmt.Errorf("watch %s: %w", filepath.Dir(logPath), err)
	}

	tail := newTailer(logPath, out)
	defer tail.close()
	tail.drain()

	for {
		select {
		case <-stop:
			tail.drain()
			return nil
		case event, ok := <-watcher.Events:
			if !ok {
				return nil
			}
			if event.Name != logPath {
				continue
			}
			if event.Has(fsnotify.Write) || event.Has(fsnotify.Create) {
				tail.drain()
			}
		case werr, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			return fmt.Errorf("watch execution log: %w", werr)
		}
	}
}

// tailer reads complete JSONL lines from a growing file. A torn final line
// (the executor fsyncs whole records, but reads can still race a write)
// stays buffered until its newline arrives.
type tailer struct {
	path    string
	out     io.Writer
	file    *os.File
	reader  *bufio.Reader
	pending []byte
}

func newTailer(path string, out io.Writer) *tailer {
	return &tailer{path: path, out: out}
}

func (t *tailer) drain() {
	if t.file == nil {
		f, err := os.Open(t.path)
		if err != nil {
			return
		}
		t.file = f
		t.reader = bufio.NewReader(f)
	}
	for {
		chunk, err := t.reader.ReadBytes('\n')
		if err != nil {
			t.pending = append(t.pending, chunk...)
			return
		}
		line := append(t.pending, chunk...)
		t.pending = nil
		t.printRecord(line)
	}
}

func (t *tailer) printRecord(line []byte) {
	var rec events.Record
	if err := json.Unmarshal(line, &rec); err != nil {
		return
	}
	out := fmt.Sprintf("%s  %-18s %-16s %s",
		rec.Timestamp.Local().Format("15:04:05"), rec.Kind, rec.Outcome, rec.Summary)
	if rec.Error != "" {
		out += "  error: " + rec.Error
	}
	fmt.Fprintln(t.out, out)
}

func (t *tailer) close() {
	if t.file != nil {
		_ = t.file.Close()
		t.file = nil
	}
}
