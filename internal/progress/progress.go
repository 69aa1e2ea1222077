// Package progress is the unified status surface the polling API reads.
// Orchestrators write keyed Progress records; consumers poll, so durability
// only needs to survive a worker restart, not a push channel.
package progress

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"disclosure-backend/internal/shared/util"
)

// Status is the coarse lifecycle state of a tracked job.
type Status string

const (
	StatusQueued    Status = "queued"
	StatusRunning   Status = "running"
	StatusCompleted Status = "completed"
	StatusFailed    Status = "failed"
)

// statusRank orders states so a record never moves backwards. Failed is
// terminal and reachable from anywhere.
func statusRank(s Status) int {
	switch s {
	case StatusQueued:
		return 0
	case StatusRunning:
		return 1
	case StatusCompleted:
		return 2
	case StatusFailed:
		return 3
	default:
		return 0
	}
}

// Record is one progress snapshot.
type Record struct {
	Status            Status    `json:"status"`
	Progress          int       `json:"progress"`
	Step              string    `json:"step"`
	CurrentSection    string    `json:"current_section,omitempty"`
	TotalSections     int       `json:"total_sections,omitempty"`
	CompletedSections int       `json:"completed_sections,omitempty"`
	Error             string    `json:"error,omitempty"`
	UpdatedAt         time.Time `json:"updated_at"`
}

// DocumentKey keys a structuring job.
func DocumentKey(id string) string { return "document:" + id }

// ComparisonKey keys a comparison job.
func ComparisonKey(id string) string { return "comparison:" + id }

// ErrNotFound is returned when no record exists for a key.
var ErrNotFound = errors.New("progress: record not found")

// Reporter stores progress records keyed by job.
type Reporter interface {
	// Update merges rec into the stored record. Progress is monotonic
	// unless the status moves to failed, and status never regresses.
	Update(ctx context.Context, key string, rec Record) error
	Get(ctx context.Context, key string) (Record, error)
	Delete(ctx context.Context, key string) error
}

// merge applies the monotonicity rules to an incoming record.
func merge(old Record, exists bool, next Record) Record {
	now := time.Now().UTC()
	next.UpdatedAt = now
	if !exists {
		return next
	}
	if statusRank(next.Status) < statusRank(old.Status) {
		next.Status = old.Status
	}
	if next.Status != StatusFailed && next.Progress < old.Progress {
		next.Progress = old.Progress
	}
	return next
}

// FileReporter persists one JSON file per key under baseDir.
type FileReporter struct {
	baseDir string
	locks   *util.KeyedLock
}

// NewFileReporter creates the backing directory if needed.
func NewFileReporter(baseDir string) (*FileReporter, error) {
	if err := os.MkdirAll(baseDir, 0o755); err != nil {
		return nil, fmt.Errorf("create progress dir %s: %w", baseDir, err)
	}
	return &FileReporter{baseDir: baseDir, locks: util.NewKeyedLock()}, nil
}

func (r *FileReporter) path(key string) string {
	// Keys contain a colon, which some filesystems reject.
	return filepath.Join(r.baseDir, strings.ReplaceAll(key, ":", "_")+".json")
}

func (r *FileReporter) Update(ctx context.Context, key string, rec Record) error {
	release, err := r.locks.Acquire(ctx, key)
	if err != nil {
		return err
	}
	defer release()

	old, exists, err := r.read(key)
	if err != nil {
		return err
	}
	next := merge(old, exists, rec)

	raw, err := json.MarshalIndent(next, "", "  ")
	if err != nil {
		return fmt.Errorf("encode progress %s: %w", key, err)
	}
	tmp := r.path(key) + ".tmp"
	if err := os.WriteFile(tmp, raw, 0o644); err != nil {
		return fmt.Errorf("write progress %s: %w", key, err)
	}
	if err := os.Rename(tmp, r.path(key)); err != nil {
		return fmt.Errorf("commit progress %s: %w", key, err)
	}
	return nil
}

func (r *FileReporter) Get(ctx context.Context, key string) (Record, error) {
	if err := ctx.Err(); err != nil {
		return Record{}, err
	}
	rec, exists, err := r.read(key)
	if err != nil {
		return Record{}, err
	}
	if !exists {
		return Record{}, ErrNotFound
	}
	return rec, nil
}

func (r *FileReporter) Delete(ctx context.Context, key string) error {
	release, err := r.locks.Acquire(ctx, key)
	if err != nil {
		return err
	}
	defer release()

	if err := os.Remove(r.path(key)); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("delete progress %s: %w", key, err)
	}
	return nil
}

func (r *FileReporter) read(key string) (Record, bool, error) {
	raw, err := os.ReadFile(r.path(key))
	if os.IsNotExist(err) {
		return Record{}, false, nil
	}
	if err != nil {
		return Record{}, false, fmt.Errorf("read progress %s: %w", key, err)
	}
	var rec Record
	if err := json.Unmarshal(raw, &rec); err != nil {
		return Record{}, false, fmt.Errorf("decode progress %s: %w", key, err)
	}
	return rec, true, nil
}

// MemoryReporter is the in-process implementation used in tests and dev mode.
type MemoryReporter struct {
	mu      sync.Mutex
	records map[string]Record
}

// NewMemoryReporter constructs an empty reporter.
func NewMemoryReporter() *MemoryReporter {
	return &MemoryReporter{records: make(map[string]Record)}
}

func (r *MemoryReporter) Update(ctx context.Context, key string, rec Record) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	old, exists := r.records[key]
	r.records[key] = merge(old, exists, rec)
	return nil
}

func (r *MemoryReporter) Get(ctx context.Context, key string) (Record, error) {
	if err := ctx.Err(); err != nil {
		return Record{}, err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	rec, ok := r.records[key]
	if !ok {
		return Record{}, ErrNotFound
	}
	return rec, nil
}

func (r *MemoryReporter) Delete(ctx context.Context, key string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.records, key)
	return nil
}
