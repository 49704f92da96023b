// Package blob stores original document bytes. Synced files land in a local
// scratch directory for the duration of a pipeline run; the originals are
// uploaded to an S3-compatible bucket so the drive copy can change or vanish
// without losing the source bytes.
package blob

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/google/uuid"
)

// Store persists original document bytes under stable keys.
type Store interface {
	// Put uploads the object and returns a stable URL for it.
	Put(ctx context.Context, key string, body io.Reader, contentType string) (string, error)
	// Get opens the object for reading. The caller closes the reader.
	Get(ctx context.Context, key string) (io.ReadCloser, error)
	// Delete removes the object. Deleting a missing object is not an error.
	Delete(ctx context.Context, key string) error
	// List returns the keys under prefix.
	List(ctx context.Context, prefix string) ([]string, error)
}

// Scratch is the per-run working directory for synced files. Each run gets
// its own subdirectory so concurrent runs never collide, and Purge removes
// the whole run when the pipeline finishes.
type Scratch struct {
	root string
	run  string
}

// NewScratch creates a fresh run directory under root.
func NewScratch(root string) (*Scratch, error) {
	run := filepath.Join(root, uuid.NewString())
	if err := os.MkdirAll(run, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create scratch dir; %w", err)
	}
	return &Scratch{root: root, run: run}, nil
}

// Dir returns the run directory. Sync adapters write downloaded files here.
func (s *Scratch) Dir() string {
	return s.run
}

// WriteFile writes body to name inside the run directory, via a temp file and
// rename so a crashed write never leaves a partial file behind.
func (s *Scratch) WriteFile(name string, body io.Reader) (string, error) {
	dest := filepath.Join(s.run, filepath.Clean(name))
	if err := os.MkdirAll(filepath.Dir(dest), 0o755); err != nil {
		return "", fmt.Errorf("failed to create scratch subdir; %w", err)
	}

	tmp, err := os.CreateTemp(filepath.Dir(dest), ".partial-*")
	if err != nil {
		return "", fmt.Errorf("failed to create temp file; %w", err)
	}
	if _, err := io.Copy(tmp, body); err != nil {
		tmp.Close()
		os.Remove(tmp.Name())
		return "", fmt.Errorf("failed to write scratch file; %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmp.Name())
		return "", fmt.Errorf("failed to close scratch file; %w", err)
	}
	if err := os.Rename(tmp.Name(), dest); err != nil {
		os.Remove(tmp.Name())
		return "", fmt.Errorf("failed to finalize scratch file; %w", err)
	}
	return dest, nil
}

// Open opens a file previously written to this run.
func (s *Scratch) Open(name string) (io.ReadCloser, error) {
	f, err := os.Open(filepath.Join(s.run, filepath.Clean(name)))
	if err != nil {
		return nil, fmt.Errorf("failed to open scratch file; %w", err)
	}
	return f, nil
}

// Purge removes the run directory and everything in it.
func (s *Scratch) Purge() error {
	return os.RemoveAll(s.run)
}
