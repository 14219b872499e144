// Package artifacts keeps finished export documents on local disk, keyed by
// export job id.
package artifacts

import (
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/worklenz/activitylog/internal/activitylog"
)

// ErrNotFound is returned for unknown or unfinished jobs.
var ErrNotFound = errors.New("artifacts: export not found")

const metaSuffix = ".json"

// Meta describes a stored artifact.
type Meta struct {
	JobID       string    `json:"job_id"`
	Name        string    `json:"name"`
	ContentType string    `json:"content_type"`
	File        string    `json:"file"`
	Size        int       `json:"size"`
	Pages       int       `json:"pages"`
	Records     int       `json:"records"`
	Skipped     int       `json:"skipped"`
	CreatedAt   time.Time `json:"created_at"`
}

// Store writes artifacts below dir.
type Store struct {
	dir string
	now func() time.Time
}

// NewStore returns a store rooted at dir. The directory is created lazily.
func NewStore(dir string) *Store {
	if strings.TrimSpace(dir) == "" {
		dir = filepath.Join(os.TempDir(), "activity-exports")
	}
	return &Store{dir: dir, now: time.Now}
}

// Dir returns the storage directory.
func (s *Store) Dir() string { return s.dir }

// Save writes the document and its metadata. The metadata file is renamed
// into place last, so a job only becomes visible once complete.
func (s *Store) Save(jobID string, artifact activitylog.Artifact) (Meta, error) {
	if err := checkID(jobID); err != nil {
		return Meta{}, err
	}
	if err := os.MkdirAll(s.dir, 0o755); err != nil {
		return Meta{}, err
	}
	meta := Meta{
		JobID:       jobID,
		Name:        artifact.Name,
		ContentType: artifact.ContentType,
		File:        jobID + filepath.Ext(artifact.Name),
		Size:        len(artifact.Data),
		Pages:       artifact.Pages,
		Records:     artifact.Records,
		Skipped:     artifact.Skipped,
		CreatedAt:   s.now().UTC(),
	}
	if err := writeAtomic(filepath.Join(s.dir, meta.File), artifact.Data); err != nil {
		return Meta{}, err
	}
	raw, err := json.Marshal(meta)
	if err != nil {
		return Meta{}, err
	}
	if err := writeAtomic(filepath.Join(s.dir, jobID+metaSuffix), raw); err != nil {
		return Meta{}, err
	}
	return meta, nil
}

// Stat returns the metadata of a finished job.
func (s *Store) Stat(jobID string) (Meta, error) {
	if err := checkID(jobID); err != nil {
		return Meta{}, ErrNotFound
	}
	raw, err := os.ReadFile(filepath.Join(s.dir, jobID+metaSuffix))
	if errors.Is(err, fs.ErrNotExist) {
		return Meta{}, ErrNotFound
	}
	if err != nil {
		return Meta{}, err
	}
	var meta Meta
	if err := json.Unmarshal(raw, &meta); err != nil {
		return Meta{}, fmt.Errorf("artifacts: corrupt metadata for %s: %w", jobID, err)
	}
	return meta, nil
}

// Open returns the metadata and an open handle on the document.
func (s *Store) Open(jobID string) (Meta, *os.File, error) {
	meta, err := s.Stat(jobID)
	if err != nil {
		return Meta{}, nil, err
	}
	f, err := os.Open(filepath.Join(s.dir, filepath.Base(meta.File)))
	if errors.Is(err, fs.ErrNotExist) {
		return Meta{}, nil, ErrNotFound
	}
	if err != nil {
		return Meta{}, nil, err
	}
	return meta, f, nil
}

// Sweep removes artifacts older than maxAge and returns how many jobs were
// deleted.
func (s *Store) Sweep(maxAge time.Duration) (int, error) {
	entries, err := os.ReadDir(s.dir)
	if errors.Is(err, fs.ErrNotExist) {
		return 0, nil
	}
	if err != nil {
		return 0, err
	}
	cutoff := s.now().Add(-maxAge)
	removed := 0
	var errs []error
	for _, entry := range entries {
		name := entry.Name()
		if entry.IsDir() || !strings.HasSuffix(name, metaSuffix) {
			continue
		}
		jobID := strings.TrimSuffix(name, metaSuffix)
		meta, err := s.Stat(jobID)
		if err != nil {
			errs = append(errs, err)
			continue
		}
		if meta.CreatedAt.After(cutoff) {
			continue
		}
		if err := os.Remove(filepath.Join(s.dir, name)); err != nil {
			errs = append(errs, err)
			continue
		}
		if err := os.Remove(filepath.Join(s.dir, filepath.Base(meta.File))); err != nil && !errors.Is(err, fs.ErrNotExist) {
			errs = append(errs, err)
		}
		removed++
	}
	return removed, errors.Join(errs...)
}

func checkID(jobID string) error {
	if _, err := uuid.Parse(jobID); err != nil {
		return fmt.Errorf("artifacts: invalid job id %q", jobID)
	}
	return nil
}

func writeAtomic(path string, data []byte) error {
	tmp, err := os.CreateTemp(filepath.Dir(path), ".tmp-*")
	if err != nil {
		return err
	}
	defer func() { _ = os.Remove(tmp.Name()) }()
	if _, err := tmp.Write(data); err != nil {
		_ = tmp.Close()
		return err
	}
	if err := tmp.Close(); err != nil {
		return err
	}
	return os.Rename(tmp.Name(), path)
}
