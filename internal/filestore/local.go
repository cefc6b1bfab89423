package filestore

import (
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
)

// Local keeps files under a base directory.
type Local struct {
	baseDir string
}

// NewLocal stores files below baseDir.
func NewLocal(baseDir string) *Local {
	return &Local{baseDir: baseDir}
}

func (l *Local) Put(_ context.Context, key, _ string, body []byte) (string, error) {
	key = sanitizeKey(key)
	path := filepath.Join(l.baseDir, filepath.FromSlash(key))
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return "", fmt.Errorf("create dirs: %w", err)
	}
	if err := os.WriteFile(path, body, 0o644); err != nil {
		return "", fmt.Errorf("write file: %w", err)
	}
	return key, nil
}

func (l *Local) Open(_ context.Context, storageKey string) (io.ReadCloser, error) {
	f, err := os.Open(filepath.Join(l.baseDir, filepath.FromSlash(sanitizeKey(storageKey))))
	if errors.Is(err, fs.ErrNotExist) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("open file: %w", err)
	}
	return f, nil
}
