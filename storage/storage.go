// Package storage keeps the binary side of listing images: the bytes behind a UserImage file name.
package storage

import (
	"context"
	"errors"
	"fmt"
	"io"
	"path/filepath"
	"regexp"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/cppla/bookswap/config"
)

// ErrNotFound is returned by Open when no file is stored under the name.
var ErrNotFound = errors.New("stored file not found")

// ErrInvalidName rejects names that would escape the store (path separators, dot names).
var ErrInvalidName = errors.New("invalid stored file name")

// FileStore is durable storage for uploaded files, addressed by their unique stored name.
type FileStore interface {
	// Save writes r under name. Saving over an existing name is an error.
	Save(ctx context.Context, name string, r io.Reader, size int64, contentType string) error
	// Open returns the stored bytes. Callers close the reader.
	Open(ctx context.Context, name string) (io.ReadCloser, error)
	// Delete removes the file. Deleting a missing file succeeds.
	Delete(ctx context.Context, name string) error
	// Backend names the implementation, e.g. "local".
	Backend() string
}

var unsafeChars = regexp.MustCompile(`[^A-Za-z0-9._-]+`)

// UniqueName builds a collision-free stored name: <uid>_<unix ms>_<random>_<original>.
func UniqueName(userID uint, original string) string {
	base := filepath.Base(strings.ReplaceAll(original, "\\", "/"))
	base = unsafeChars.ReplaceAllString(base, "_")
	if base == "." || base == "/" || base == "" {
		base = "file"
	}
	suffix := strings.ReplaceAll(uuid.NewString(), "-", "")[:10]
	return fmt.Sprintf("%d_%d_%s_%s", userID, time.Now().UnixMilli(), suffix, base)
}

func checkName(name string) error {
	if name == "" || name == "." || name == ".." || strings.ContainsAny(name, `/\`) {
		return ErrInvalidName
	}
	return nil
}

// New opens the backend selected by STORAGE_BACKEND.
func New(ctx context.Context, cfg config.AppConfig) (FileStore, error) {
	switch strings.ToLower(cfg.StorageBackend) {
	case "", "local":
		return NewLocalStore(cfg.UploadDir)
	case "minio":
		return NewMinioStore(ctx, cfg.MinioEndpoint, cfg.MinioAccessKey, cfg.MinioSecretKey, cfg.MinioBucket, cfg.MinioUseSSL)
	case "gridfs":
		return NewGridFSStore(ctx, cfg.MongoURI, cfg.MongoDB)
	default:
		return nil, fmt.Errorf("unknown storage backend %q", cfg.StorageBackend)
	}
}
