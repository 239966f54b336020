package storage

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/wonny/aegis-etl/internal/contracts"
	"github.com/wonny/aegis-etl/pkg/config"
	"github.com/wonny/aegis-etl/pkg/logger"
)

// New returns the BlobStore selected by config (gcs | fs)
func New(ctx context.Context, cfg config.StorageConfig, log *logger.Logger) (contracts.BlobStore, error) {
	switch cfg.Provider {
	case "gcs":
		return NewGCSStore(ctx, cfg.Bucket, log)
	case "fs", "":
		return NewFSStore(cfg.Dir, log), nil
	default:
		return nil, &contracts.ConfigError{Field: "STORAGE_PROVIDER", Reason: fmt.Sprintf("unknown provider %q", cfg.Provider)}
	}
}

// ObjectKey returns <prefix>/<base name of localPath>
func ObjectKey(prefix, localPath string) string {
	base := filepath.Base(localPath)
	prefix = strings.Trim(prefix, "/")
	if prefix == "" {
		return base
	}
	return prefix + "/" + base
}

// FSStore mirrors objects into a local directory (dev / tests)
type FSStore struct {
	root   string
	logger *logger.Logger
}

func NewFSStore(root string, log *logger.Logger) *FSStore {
	return &FSStore{
		root:   root,
		logger: log.WithField("module", "storage.fs"),
	}
}

func (s *FSStore) path(key string) (string, error) {
	clean := filepath.Clean("/" + key)
	if clean == "/" {
		return "", fmt.Errorf("invalid object key %q", key)
	}
	return filepath.Join(s.root, clean), nil
}

func (s *FSStore) Upload(ctx context.Context, localPath, key string) error {
	dst, err := s.path(key)
	if err != nil {
		return err
	}
	if err := copyFile(ctx, localPath, dst); err != nil {
		return fmt.Errorf("upload %s: %w", key, err)
	}
	s.logger.WithFields(map[string]interface{}{"key": key, "path": dst}).Debug("Object stored")
	return nil
}

func (s *FSStore) Download(ctx context.Context, key, localPath string) error {
	src, err := s.path(key)
	if err != nil {
		return err
	}
	if err := copyFile(ctx, src, localPath); err != nil {
		return fmt.Errorf("download %s: %w", key, err)
	}
	return nil
}

func copyFile(ctx context.Context, src, dst string) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()

	if err := os.MkdirAll(filepath.Dir(dst), 0o755); err != nil {
		return err
	}
	tmp := dst + ".part"
	out, err := os.Create(tmp)
	if err != nil {
		return err
	}
	if _, err := io.Copy(out, in); err != nil {
		out.Close()
		os.Remove(tmp)
		return err
	}
	if err := out.Close(); err != nil {
		os.Remove(tmp)
		return err
	}
	return os.Rename(tmp, dst)
}
