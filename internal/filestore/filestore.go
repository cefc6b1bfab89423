// Package filestore persists rendered documents under opaque keys.
package filestore

import (
	"context"
	"errors"
	"fmt"
	"io"
	"path/filepath"
	"strings"

	"github.com/character-tun/character-crm-sub000/internal/config"
)

// ErrNotFound is returned by Open for unknown storage keys.
var ErrNotFound = errors.New("stored file not found")

// FileStore writes document bytes and reads them back by storage key.
type FileStore interface {
	Put(ctx context.Context, key, mime string, body []byte) (string, error)
	Open(ctx context.Context, storageKey string) (io.ReadCloser, error)
}

// New chooses the backend named by cfg.FilesBackend.
func New(ctx context.Context, cfg config.Config) (FileStore, error) {
	switch strings.ToLower(cfg.FilesBackend) {
	case "s3":
		if cfg.S3Bucket == "" {
			return nil, errors.New("files backend s3 requested but S3_BUCKET is not configured")
		}
		client, err := newS3Client(ctx, cfg)
		if err != nil {
			return nil, err
		}
		return NewS3(client, cfg.S3Bucket, cfg.S3Prefix), nil
	case "local", "":
		dir := cfg.FilesDir
		if dir == "" {
			dir = "./data/files"
		}
		return NewLocal(dir), nil
	}
	return nil, fmt.Errorf("unknown files backend %q", cfg.FilesBackend)
}

func sanitizeKey(key string) string {
	key = filepath.ToSlash(filepath.Clean("/" + key))
	return strings.TrimPrefix(key, "/")
}
