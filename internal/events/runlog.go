package events

import (
	"bufio"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/DAVEWEYLAND1993/PBL-Opentrons-Protocol-100-50.50-75.25/internal/model"
)

// LogFileExtension is the execution log file extension.
const LogFileExtension = ".jsonl"

// Record is one execution log entry: exactly one per worklist action, in
// dispatch order, never rewritten.
type Record struct {
	Seq          int                    `json:"seq"`
	Timestamp    time.Time              `json:"timestamp"`
	RunID        string                 `json:"run_id"`
	ActionIndex  int                    `json:"action_index"`
	Kind         model.ActionKind       `json:"kind"`
	Outcome      model.ActionOutcome    `json:"outcome"`
	Summary      string                 `json:"summary,omitempty"`
	Detail       map[string]interface{} `json:"detail,omitempty"`
	Error        string                 `json:"error,omitempty"`
	Finalization bool                   `json:"finalization,omitempty"`
	Checksum     string                 `json:"checksum,omitempty"`
}

// RunLog is the append-only execution log for one run. Every record is
// fsynced before the executor moves on, and each checksum folds in the
// previous record's so truncation or edits anywhere break the chain.
type RunLog struct {
	mu           sync.Mutex
	file         *os.File
	logPath      string
	runID        string
	nextSeq      int
	prevChecksum string
}

// NewRunLog opens (or creates) the execution log at logPath. Reopening an
// existing file resumes the sequence and checksum chain from its tail.
func NewRunLog(logPath, runID string) (*RunLog, error) {
	logDir := filepath.Dir(logPath)
	if err := os.MkdirAll(logDir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create log directory: %w", err)
	}

	l := &RunLog{
		logPath: logPath,
		runID:   runID,
		nextSeq: 1,
	}

	if err := l.resumeChain(); err != nil {
		return nil, err
	}

	file, err := os.OpenFile(logPath, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0644)
	if err != nil {
		return nil, fmt.Errorf("failed to open log file: %w", err)
	}
	l.file = file

	return l, nil
}

// resumeChain reads an existing log to find the last seq and checksum.
func (l *RunLog) resumeChain() error {
	file, err := os.Open(l.logPath)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return fmt.Errorf("failed to read existing log: %w", err)
	}
	defer file.Close()

	scanner := bufio.NewScanner(file)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for scanner.Scan() {
		var rec Record
		if err := json.Unmarshal(scanner.Bytes(), &rec); err != nil {
			continue
		}
		l.nextSeq = rec.Seq + 1
		l.prevChecksum = rec.Checksum
	}
	return scanner.Err()
}

// Append assigns the next sequence number, chains the checksum, and writes
// the record followed by an fsync. The passed record's Seq, RunID,
// Timestamp, and Checksum fields are overwritten.
func (l *RunLog) Append(rec *Record) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	rec.Seq = l.nextSeq
	rec.RunID = l.runID
	if rec.Timestamp.IsZero() {
		rec.Timestamp = time.Now().UTC()
	}
	rec.Checksum = chainChecksum(rec, l.prevChecksum)

	data, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("failed to marshal log record: %w", err)
	}
	data = append(data, '\n')

	if _, err := l.file.Write(data); err != nil {
		return fmt.Errorf("failed to write log record: %w", err)
	}

	// Sync to disk for durability before the run proceeds
	if err := l.file.Sync(); err != nil {
		return fmt.Errorf("failed to sync log file: %w", err)
	}

	l.nextSeq++
	l.prevChecksum = rec.Checksum
	return nil
}

// Path returns the log file path.
func (l *RunLog) Path() string {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.logPath
}

// Close closes the execution log.
func (l *RunLog) Close() error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.file != nil {
		if err := l.file.Sync(); err != nil {
			return err
		}
		err := l.file.Close()
		l.file = nil
		return err
	}
	return nil
}

// chainChecksum hashes the record (checksum field cleared) together with the
// previous record's checksum.
func chainChecksum(rec *Record, prev string) string {
	recCopy := *rec
	recCopy.Checksum = ""

	data, err := json.Marshal(recCopy)
	if err != nil {
		return ""
	}
	return fmt.Sprintf("%x", simpleHash(append([]byte(prev), data...)))
}

// simpleHash provides a basic hash function for checksums.
func simpleHash(data []byte) uint64 {
	var hash uint64 = 5381
	for _, b := range data {
		hash = ((hash << 5) + hash) + uint64(b)
	}
	return hash
}

// Load reads all records from a log file. Malformed lines are skipped, the
// way VerifyIntegrity skips them, so a torn final write does not hide the
// rest of the history.
func Load(logPath string) ([]Record, error) {
	file, err := os.Open(logPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open log file: %w", err)
	}
	defer file.Close()

	var records []Record
	scanner := bufio.NewScanner(file)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for scanner.Scan() {
		var rec Record
		if err := json.Unmarshal(scanner.Bytes(), &rec); err != nil {
			continue
		}
		records = append(records, rec)
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("failed to scan log file: %w", err)
	}
	return records, nil
}

// VerifyIntegrity walks a log's checksum chain. It returns the total number
// of parseable records and how many sit on an unbroken chain from the start.
// A record with no checksum ends verification of the chain but still counts
// toward the total.
func VerifyIntegrity(logPath string) (int, int, error) {
	records, err := Load(logPath)
	if err != nil {
		return 0, 0, err
	}

	valid := 0
	prev := ""
	chainIntact := true
	for i, rec := range records {
		if !chainIntact {
			break
		}
		if rec.Seq != i+1 {
			chainIntact = false
			break
		}
		if rec.Checksum == "" {
			chainIntact = false
			break
		}
		expected := rec.Checksum
		recCopy := rec
		recCopy.Checksum = ""
		data, err := json.Marshal(recCopy)
		if err != nil {
			chainIntact = false
			break
		}
		actual := fmt.Sprintf("%x", simpleHash(append([]byte(prev), data...)))
		if actual != expected {
			chainIntact = false
			break
		}
		valid++
		prev = expected
	}

	return len(records), valid, nil
}

// RunLogSummary aggregates a finished run's records for the exit report.
type RunLogSummary struct {
	RunID     string
	Total     int
	ByOutcome map[model.ActionOutcome]int
	FirstAt   time.Time
	LastAt    time.Time
	LastError string
}

// Summarize folds records into a RunLogSummary.
func Summarize(records []Record) RunLogSummary {
	s := RunLogSummary{ByOutcome: make(map[model.ActionOutcome]int)}
	for i, rec := range records {
		if i == 0 {
			s.RunID = rec.RunID
			s.FirstAt = rec.Timestamp
		}
		s.Total++
		s.ByOutcome[rec.Outcome]++
		s.LastAt = rec.Timestamp
		if rec.Error != "" {
			s.LastError = rec.Error
		}
	}
	return s
}
