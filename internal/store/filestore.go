package store

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"github.com/google/uuid"
	"github.com/paybridge/filegen/pkg/models"
)

const tmpSuffix = ".tmp"

// FileStore implements Store with one JSON document per job under a
// directory. Writes go to a temporary path first and are renamed into place,
// so an abrupt termination never leaves a truncated final document.
type FileStore struct {
	dir         string
	initialised bool

	// rename is swapped out in tests to exercise the overwrite path.
	rename func(oldpath, newpath string) error
}

// NewFileStore creates a FileStore rooted at dir. Init must be called before
// any other method.
func NewFileStore(dir string) *FileStore {
	return &FileStore{dir: dir, rename: os.Rename}
}

// Init creates the store directory if absent. Idempotent.
func (s *FileStore) Init() error {
	if err := os.MkdirAll(s.dir, 0o755); err != nil {
		return fmt.Errorf("create store dir: %w", err)
	}
	s.initialised = true
	return nil
}

// Save writes the job document atomically. On a rename error (in-place
// replace contention on some platforms) it retries once with a direct
// overwrite of the final path.
func (s *FileStore) Save(job *models.Job) error {
	if !s.initialised {
		return ErrNotInitialised
	}

	data, err := json.MarshalIndent(job, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal job %s: %w", job.ID, err)
	}

	final := s.path(job.ID)
	tmp := final + tmpSuffix

	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return fmt.Errorf("write temp document: %w", err)
	}

	if err := s.rename(tmp, final); err != nil {
		slog.Warn("rename failed, retrying with direct overwrite", "job_id", job.ID, "error", err)
		os.Remove(tmp)
		if err := os.WriteFile(final, data, 0o644); err != nil {
			return fmt.Errorf("overwrite document: %w", err)
		}
	}

	return nil
}

// Load returns the document for id, or ErrNotFound. Corrupt content is
// logged and treated as not found.
func (s *FileStore) Load(id uuid.UUID) (*models.Job, error) {
	if !s.initialised {
		return nil, ErrNotInitialised
	}

	data, err := os.ReadFile(s.path(id))
	if os.IsNotExist(err) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("read document: %w", err)
	}

	var job models.Job
	if err := json.Unmarshal(data, &job); err != nil {
		slog.Warn("corrupt job document", "job_id", id, "error", err)
		return nil, ErrNotFound
	}
	return &job, nil
}

// LoadAll scans the store directory and returns every parseable document.
// Temporary and zero-byte files are skipped; a corrupt file is logged and
// skipped without aborting the scan.
func (s *FileStore) LoadAll() ([]*models.Job, error) {
	if !s.initialised {
		return nil, ErrNotInitialised
	}

	entries, err := os.ReadDir(s.dir)
	if err != nil {
		return nil, fmt.Errorf("read store dir: %w", err)
	}

	var jobs []*models.Job
	for _, entry := range entries {
		name := entry.Name()
		if entry.IsDir() || strings.HasSuffix(name, tmpSuffix) || !strings.HasSuffix(name, ".json") {
			continue
		}

		path := filepath.Join(s.dir, name)
		info, err := entry.Info()
		if err != nil || info.Size() == 0 {
			// A zero-byte file is a write that never made it.
			continue
		}

		data, err := os.ReadFile(path)
		if err != nil {
			slog.Warn("unreadable job document", "path", path, "error", err)
			continue
		}

		var job models.Job
		if err := json.Unmarshal(data, &job); err != nil {
			slog.Warn("corrupt job document skipped", "path", path, "error", err)
			continue
		}
		jobs = append(jobs, &job)
	}

	return jobs, nil
}

// Delete removes the document for id. Absence is not an error.
func (s *FileStore) Delete(id uuid.UUID) error {
	if !s.initialised {
		return ErrNotInitialised
	}
	if err := os.Remove(s.path(id)); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("delete document: %w", err)
	}
	return nil
}

func (s *FileStore) path(id uuid.UUID) string {
	return filepath.Join(s.dir, id.String()+".json")
}

// Compile-time check that FileStore implements Store.
var _ Store = (*FileStore)(nil)
