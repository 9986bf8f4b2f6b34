package storage

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"time"

	"github.com/google/uuid"
)

// LocalStorage keeps transcript exports on the local filesystem under
// <base>/exports/<debate_id>/
type LocalStorage struct {
	basePath string
	logger   *slog.Logger
}

// LocalStorageConfig configures local storage
type LocalStorageConfig struct {
	BasePath string // e.g. "./data"
}

// FileMetadata describes a stored export
type FileMetadata struct {
	DebateID    uuid.UUID `json:"debate_id"`
	Name        string    `json:"name"`
	StoredPath  string    `json:"stored_path"`
	Size        int64     `json:"size"`
	Hash        string    `json:"sha256"`
	ContentType string    `json:"content_type"`
	CreatedAt   time.Time `json:"created_at"`
}

// NewLocalStorage creates a new local storage instance
func NewLocalStorage(cfg *LocalStorageConfig, logger *slog.Logger) (*LocalStorage, error) {
	if logger == nil {
		logger = slog.Default()
	}
	if err := os.MkdirAll(cfg.BasePath, 0755); err != nil {
		return nil, fmt.Errorf("failed to create base directory: %w", err)
	}

	return &LocalStorage{
		basePath: cfg.BasePath,
		logger:   logger,
	}, nil
}

// ExportDir is the directory holding a debate's exports
func (s *LocalStorage) ExportDir(debateID uuid.UUID) string {
	return filepath.Join(s.basePath, "exports", debateID.String())
}

// SaveExport writes reader to <debate_id>/<filename>, hashing while copying.
// The file appears under its final name only once fully written.
func (s *LocalStorage) SaveExport(ctx context.Context, debateID uuid.UUID, filename string, reader io.Reader) (*FileMetadata, error) {
	dir := s.ExportDir(debateID)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create export directory: %w", err)
	}

	safeName := filepath.Base(filename)
	destPath := filepath.Join(dir, safeName)

	tmp, err := os.CreateTemp(dir, "."+safeName+".*")
	if err != nil {
		return nil, fmt.Errorf("failed to create destination file: %w", err)
	}
	defer os.Remove(tmp.Name())

	hash := sha256.New()
	size, err := io.Copy(io.MultiWriter(tmp, hash), reader)
	if closeErr := tmp.Close(); err == nil {
		err = closeErr
	}
	if err != nil {
		return nil, fmt.Errorf("failed to write export: %w", err)
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if err := os.Rename(tmp.Name(), destPath); err != nil {
		return nil, fmt.Errorf("failed to move export into place: %w", err)
	}

	metadata := &FileMetadata{
		DebateID:    debateID,
		Name:        safeName,
		StoredPath:  destPath,
		Size:        size,
		Hash:        hex.EncodeToString(hash.Sum(nil)),
		ContentType: getContentType(safeName),
		CreatedAt:   time.Now().UTC(),
	}

	s.logger.Info("export saved",
		slog.String("debate_id", debateID.String()),
		slog.String("filename", safeName),
		slog.Int64("size", size),
		slog.String("hash", metadata.Hash))

	return metadata, nil
}

// OpenExport opens a stored export for reading
func (s *LocalStorage) OpenExport(ctx context.Context, debateID uuid.UUID, filename string) (io.ReadCloser, error) {
	file, err := os.Open(filepath.Join(s.ExportDir(debateID), filepath.Base(filename)))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("export not found: %s/%s", debateID, filename)
		}
		return nil, fmt.Errorf("failed to open export: %w", err)
	}
	return file, nil
}

// ListExports returns the export file names of a debate, sorted
func (s *LocalStorage) ListExports(ctx context.Context, debateID uuid.UUID) ([]string, error) {
	entries, err := os.ReadDir(s.ExportDir(debateID))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to read export directory: %w", err)
	}

	var names []string
	for _, e := range entries {
		if e.IsDir() || e.Name()[0] == '.' {
			continue
		}
		names = append(names, e.Name())
	}
	sort.Strings(names)
	return names, nil
}

// DeleteExports removes every export of a debate
func (s *LocalStorage) DeleteExports(ctx context.Context, debateID uuid.UUID) error {
	if err := os.RemoveAll(s.ExportDir(debateID)); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("failed to delete export directory: %w", err)
	}

	s.logger.Info("exports deleted", slog.String("debate_id", debateID.String()))
	return nil
}

// getContentType returns the content type based on file extension
func getContentType(filename string) string {
	switch filepath.Ext(filename) {
	case ".md":
		return "text/markdown"
	case ".json":
		return "application/json"
	default:
		return "application/octet-stream"
	}
}
