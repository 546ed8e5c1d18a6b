package storage

import (
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"

	"go.uber.org/zap"
)

// LocalStore keeps media in a directory that the HTTP server exposes under
// /uploads.
type LocalStore struct {
	dir    string
	logger *zap.Logger
}

func NewLocalStore(dir string, logger *zap.Logger) (*LocalStore, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create upload dir %s: %w", dir, err)
	}
	return &LocalStore{dir: dir, logger: logger}, nil
}

func (s *LocalStore) Dir() string {
	return s.dir
}

func (s *LocalStore) Save(ctx context.Context, name, contentType string, body io.Reader) (string, error) {
	name, err := cleanRef(name)
	if err != nil {
		return "", err
	}

	target := filepath.Join(s.dir, name)
	f, err := os.OpenFile(target, os.O_CREATE|os.O_EXCL|os.O_WRONLY, 0o644)
	if err != nil {
		return "", fmt.Errorf("failed to create %s: %w", target, err)
	}
	if _, err := io.Copy(f, body); err != nil {
		f.Close()
		os.Remove(target)
		return "", fmt.Errorf("failed to write %s: %w", target, err)
	}
	if err := f.Close(); err != nil {
		return "", fmt.Errorf("failed to close %s: %w", target, err)
	}

	s.logger.Debug("Stored upload", zap.String("ref", name), zap.String("content_type", contentType))
	return name, nil
}

func (s *LocalStore) Open(ctx context.Context, ref string) (string, func(), error) {
	name, err := cleanRef(ref)
	if err != nil {
		return "", nil, err
	}

	target := filepath.Join(s.dir, name)
	if _, err := os.Stat(target); err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return "", nil, fmt.Errorf("%s: %w", ref, ErrNotFound)
		}
		return "", nil, fmt.Errorf("failed to stat %s: %w", target, err)
	}

	abs, err := filepath.Abs(target)
	if err != nil {
		return "", nil, err
	}
	return abs, func() {}, nil
}

func (s *LocalStore) Delete(ctx context.Context, ref string) error {
	name, err := cleanRef(ref)
	if err != nil {
		return err
	}
	if err := os.Remove(filepath.Join(s.dir, name)); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("failed to delete %s: %w", ref, err)
	}
	return nil
}

func (s *LocalStore) URL(ref string) string {
	name, err := cleanRef(ref)
	if err != nil {
		return ""
	}
	return "/uploads/" + name
}
