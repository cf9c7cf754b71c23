package storage

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"robot-qlearning/pkg/logger"
)

// Blob is a stored payload plus the metadata backends may index
type Blob struct {
	Data     []byte
	Revision string
	SavedAt  time.Time
}

// Backend stores whole blobs by key
type Backend interface {
	// Read returns ErrNotFound if nothing is stored under key
	Read(ctx context.Context, key string) (Blob, error)
	// Write replaces the blob atomically
	Write(ctx context.Context, key string, blob Blob) error
	Close() error
}

// FileBackend keeps one file per key under a root directory. Writes go to
// a temporary file that is synced and renamed over the target; the
// previous version is copied to backups/ first
type FileBackend struct {
	root        string
	backupCount int
}

// NewFileBackend creates the root directory if needed
func NewFileBackend(root string, backupCount int) (*FileBackend, error) {
	if root == "" {
		root = "."
	}
	if err := os.MkdirAll(root, 0755); err != nil {
		return nil, fmt.Errorf("failed to create storage directory: %w", err)
	}
	return &FileBackend{root: root, backupCount: backupCount}, nil
}

// Path is where key is stored
func (b *FileBackend) Path(key string) string {
	if filepath.IsAbs(key) {
		return key
	}
	return filepath.Join(b.root, key)
}

func (b *FileBackend) Read(ctx context.Context, key string) (Blob, error) {
	if err := ctx.Err(); err != nil {
		return Blob{}, err
	}
	path := b.Path(key)
	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return Blob{}, fmt.Errorf("%w: %s", ErrNotFound, path)
		}
		return Blob{}, fmt.Errorf("failed to read %s: %w", path, err)
	}
	blob := Blob{Data: data}
	if info, err := os.Stat(path); err == nil {
		blob.SavedAt = info.ModTime()
	}
	return blob, nil
}

func (b *FileBackend) Write(ctx context.Context, key string, blob Blob) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	path := b.Path(key)
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("failed to create directory %s: %w", dir, err)
	}

	if b.backupCount > 0 {
		if _, err := os.Stat(path); err == nil {
			if err := b.createBackup(path); err != nil {
				logger.GetLogger().Warnf("Failed to create backup of %s: %v", path, err)
			}
		}
	}

	tmp, err := os.CreateTemp(dir, filepath.Base(path)+".*.tmp")
	if err != nil {
		return fmt.Errorf("failed to create temp file: %w", err)
	}
	tmpPath := tmp.Name()
	cleanup := func() {
		tmp.Close()
		os.Remove(tmpPath)
	}

	if _, err := tmp.Write(blob.Data); err != nil {
		cleanup()
		return fmt.Errorf("failed to write temp file: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		cleanup()
		return fmt.Errorf("failed to sync temp file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("failed to close temp file: %w", err)
	}
	if err := os.Rename(tmpPath, path); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("failed to rename temp file: %w", err)
	}
	return nil
}

func (b *FileBackend) backupDir() string {
	return filepath.Join(b.root, "backups")
}

func (b *FileBackend) createBackup(path string) error {
	dir := b.backupDir()
	if err := os.MkdirAll(dir, 0755); err != nil {
		return err
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return err
	}

	base := strings.TrimSuffix(filepath.Base(path), filepath.Ext(path))
	timestamp := time.Now().Format("20060102_150405.000000")
	backupPath := filepath.Join(dir, fmt.Sprintf("%s_%s%s", base, timestamp, filepath.Ext(path)))
	if err := os.WriteFile(backupPath, data, 0644); err != nil {
		return err
	}
	return b.pruneBackups(base, filepath.Ext(path))
}

// Backups lists backups of key, oldest first
func (b *FileBackend) Backups(key string) ([]string, error) {
	path := b.Path(key)
	base := strings.TrimSuffix(filepath.Base(path), filepath.Ext(path))
	return b.listBackups(base, filepath.Ext(path))
}

func (b *FileBackend) listBackups(base, ext string) ([]string, error) {
	matches, err := filepath.Glob(filepath.Join(b.backupDir(), base+"_*"+ext))
	if err != nil {
		return nil, err
	}
	sort.Strings(matches)
	return matches, nil
}

func (b *FileBackend) pruneBackups(base, ext string) error {
	backups, err := b.listBackups(base, ext)
	if err != nil {
		return err
	}
	for len(backups) > b.backupCount {
		if err := os.Remove(backups[0]); err != nil {
			return err
		}
		backups = backups[1:]
	}
	return nil
}

func (b *FileBackend) Close() error { return nil }
