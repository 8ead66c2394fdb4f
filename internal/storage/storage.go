// Package storage moves registry snapshots to and from object storage.
package storage

import (
	"context"
	"errors"
	"fmt"

	"github.com/minipdb/minipdb/internal/config"
)

// Common errors for storage operations.
var (
	ErrObjectNotFound = errors.New("object not found")
	ErrUploadFailed   = errors.New("upload failed")
	ErrDownloadFailed = errors.New("download failed")
	ErrDeleteFailed   = errors.New("delete failed")
)

// ObjectStorage is the object store snapshots are published to.
type ObjectStorage interface {
	// Upload copies the local file to objectPath.
	Upload(ctx context.Context, localPath, objectPath string) error

	// UploadLarge uploads in parts when the file exceeds the part size and
	// returns the ETag of the stored object.
	UploadLarge(ctx context.Context, localPath, objectPath string) (string, error)

	// Download copies objectPath to the local file, creating parent directories.
	Download(ctx context.Context, objectPath, localPath string) error

	// Delete removes an object. Deleting a missing object is not an error.
	Delete(ctx context.Context, objectPath string) error

	// Exists reports whether an object exists.
	Exists(ctx context.Context, objectPath string) (bool, error)

	// List returns every object path under prefix.
	List(ctx context.Context, prefix string) ([]string, error)

	// Location describes where objects go, for log lines.
	Location() string
}

// PartConfig controls multipart uploads.
type PartConfig struct {
	// PartSize is the size of each part in bytes
	PartSize int64
}

// DefaultPartConfig returns 8 MiB parts.
func DefaultPartConfig() PartConfig {
	return PartConfig{PartSize: 8 * 1024 * 1024}
}

// New builds the storage selected by cfg.
func New(ctx context.Context, cfg config.StorageConfig) (ObjectStorage, error) {
	switch cfg.Type {
	case "", "local":
		return NewLocalStorage(cfg.Path)
	case "s3":
		return NewS3Storage(ctx, cfg.S3.Bucket, S3Config{
			Region:       cfg.S3.Region,
			Endpoint:     cfg.S3.Endpoint,
			UsePathStyle: cfg.S3.UsePathStyle,
			Parts:        DefaultPartConfig(),
		})
	default:
		return nil, fmt.Errorf("storage: unsupported type %q", cfg.Type)
	}
}
