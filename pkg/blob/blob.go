// Package blob is the write-once content-addressable store for entity documents.
package blob

import (
	"context"
	"fmt"
	"strings"

	apperrors "github.com/Bafix001/zibridge/pkg/errors"
)

const (
	DriverMemory     = "memory"
	DriverFilesystem = "fs"
	DriverS3         = "s3"

	keyPrefix = "blobs/"
	keySuffix = ".json"
)

// Store is write-once: Put never overwrites and nothing is ever deleted.
type Store interface {
	// Put stores data under key unless key already exists. It reports whether
	// the bytes were written.
	Put(ctx context.Context, key string, data []byte) (bool, error)
	// Get returns a NotFound error when key is absent.
	Get(ctx context.Context, key string) ([]byte, error)
	Exists(ctx context.Context, key string) (bool, error)
}

// Key is the storage key of a content hash.
func Key(hash string) string {
	return keyPrefix + hash + keySuffix
}

// HashOf reverses Key.
func HashOf(key string) (string, bool) {
	if !strings.HasPrefix(key, keyPrefix) || !strings.HasSuffix(key, keySuffix) {
		return "", false
	}
	hash := strings.TrimSuffix(strings.TrimPrefix(key, keyPrefix), keySuffix)
	return hash, hash != ""
}

func notFound(key string) error {
	return apperrors.NotFoundf("blob %s not found", key)
}

// Config selects and configures a backend.
type Config struct {
	Driver string
	Root   string // fs
	S3     S3Config
}

// Open builds the configured backend.
func Open(ctx context.Context, cfg Config) (Store, error) {
	switch cfg.Driver {
	case "", DriverMemory:
		return NewMemory(), nil
	case DriverFilesystem:
		return NewFilesystem(cfg.Root)
	case DriverS3:
		return NewS3(ctx, cfg.S3)
	default:
		return nil, fmt.Errorf("unknown blob driver %q", cfg.Driver)
	}
}
