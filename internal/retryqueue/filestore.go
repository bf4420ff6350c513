package retryqueue

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"
)

const fileSchemaVersion = 1

type fileSnapshot struct {
	SchemaVersion int    `json:"schema_version"`
	Jobs          []*Job `json:"jobs"`
}

// FileStore is a Store persisted as a JSON snapshot. Every mutation rewrites
// the snapshot through a temporary file and an atomic rename.
type FileStore struct {
	mu   sync.Mutex
	path string
	mem  *MemoryStore
}

var _ Store = (*FileStore)(nil)

// OpenFileStore loads the snapshot at path, creating an empty store when the
// file does not exist. Jobs a crashed process left in processing are reset
// to pending.
func OpenFileStore(path string) (*FileStore, error) {
	s := &FileStore{path: path, mem: NewMemoryStore()}

	data, err := os.ReadFile(path)
	switch {
	case errors.Is(err, os.ErrNotExist):
		return s, nil
	case err != nil:
		return nil, fmt.Errorf("reading retry queue state: %w", err)
	}

	var snap fileSnapshot
	if err := json.Unmarshal(data, &snap); err != nil {
		return nil, fmt.Errorf("decoding retry queue state %s: %w", path, err)
	}
	for _, job := range snap.Jobs {
		if job.Status == StatusProcessing {
			job.Status = StatusPending
		}
	}
	s.mem.restore(snap.Jobs)
	return s, nil
}

// Path returns the snapshot location.
func (s *FileStore) Path() string {
	return s.path
}

// Insert adds a job and persists the snapshot.
func (s *FileStore) Insert(ctx context.Context, job *Job) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.mem.Insert(ctx, job); err != nil {
		return err
	}
	return s.persist()
}

// Due returns pending jobs ready to run.
func (s *FileStore) Due(ctx context.Context, now time.Time, limit int) ([]*Job, error) {
	return s.mem.Due(ctx, now, limit)
}

// Claim transitions a pending job to processing and persists the snapshot.
// When the snapshot cannot be written the job is put back to pending and
// the claim is reported as not taken.
func (s *FileStore) Claim(ctx context.Context, id string, now time.Time) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	prev, err := s.mem.Get(ctx, id)
	if err != nil {
		return false, err
	}
	ok, err := s.mem.Claim(ctx, id, now)
	if err != nil || !ok {
		return ok, err
	}
	if err := s.persist(); err != nil {
		if rbErr := s.mem.Update(ctx, prev); rbErr != nil {
			return false, errors.Join(err, rbErr)
		}
		return false, err
	}
	return true, nil
}

// Update replaces a job and persists the snapshot.
func (s *FileStore) Update(ctx context.Context, job *Job) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.mem.Update(ctx, job); err != nil {
		return err
	}
	return s.persist()
}

// Get returns a copy of a job.
func (s *FileStore) Get(ctx context.Context, id string) (*Job, error) {
	return s.mem.Get(ctx, id)
}

// List returns jobs, filtered by status when given.
func (s *FileStore) List(ctx context.Context, status Status) ([]*Job, error) {
	return s.mem.List(ctx, status)
}

func (s *FileStore) persist() error {
	data, err := json.MarshalIndent(fileSnapshot{
		SchemaVersion: fileSchemaVersion,
		Jobs:          s.mem.snapshot(),
	}, "", "  ")
	if err != nil {
		return fmt.Errorf("encoding retry queue state: %w", err)
	}

	if dir := filepath.Dir(s.path); dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("creating retry queue directory: %w", err)
		}
	}

	tmp := s.path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return fmt.Errorf("writing retry queue state: %w", err)
	}
	if err := os.Rename(tmp, s.path); err != nil {
		return fmt.Errorf("replacing retry queue state: %w", err)
	}
	return nil
}
