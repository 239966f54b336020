package storage

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"cloud.google.com/go/storage"
	"google.golang.org/api/googleapi"
	"google.golang.org/api/option"

	"github.com/wonny/aegis-etl/internal/contracts"
	"github.com/wonny/aegis-etl/pkg/logger"
)

const gcsSource = "gcs"

// GCSStore uploads snapshots to a Google Cloud Storage bucket
type GCSStore struct {
	client *storage.Client
	bucket string
	logger *logger.Logger
}

// NewGCSStore uses application default credentials unless opts override them
func NewGCSStore(ctx context.Context, bucket string, log *logger.Logger, opts ...option.ClientOption) (*GCSStore, error) {
	if bucket == "" {
		return nil, &contracts.ConfigError{Field: "GCS_BUCKET", Reason: "required for gcs storage"}
	}
	client, err := storage.NewClient(ctx, opts...)
	if err != nil {
		return nil, &contracts.AuthError{Source: gcsSource, Err: err}
	}
	return &GCSStore{
		client: client,
		bucket: bucket,
		logger: log.WithFields(map[string]interface{}{"module": "storage.gcs", "bucket": bucket}),
	}, nil
}

func (s *GCSStore) Close() error { return s.client.Close() }

func (s *GCSStore) Upload(ctx context.Context, localPath, key string) error {
	f, err := os.Open(localPath)
	if err != nil {
		return fmt.Errorf("open %s: %w", localPath, err)
	}
	defer f.Close()

	w := s.client.Bucket(s.bucket).Object(key).NewWriter(ctx)
	if _, err := io.Copy(w, f); err != nil {
		w.Close()
		return classify(err)
	}
	if err := w.Close(); err != nil {
		return classify(err)
	}

	s.logger.WithFields(map[string]interface{}{"key": key, "bytes": w.Attrs().Size}).Info("Uploaded object")
	return nil
}

func (s *GCSStore) Download(ctx context.Context, key, localPath string) error {
	r, err := s.client.Bucket(s.bucket).Object(key).NewReader(ctx)
	if err != nil {
		return classify(err)
	}
	defer r.Close()

	if err := os.MkdirAll(filepath.Dir(localPath), 0o755); err != nil {
		return err
	}
	out, err := os.Create(localPath)
	if err != nil {
		return err
	}
	if _, err := io.Copy(out, r); err != nil {
		out.Close()
		return classify(err)
	}
	return out.Close()
}

// classify maps GCS failures onto the error taxonomy
func classify(err error) error {
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return err
	}
	if errors.Is(err, storage.ErrObjectNotExist) || errors.Is(err, storage.ErrBucketNotExist) {
		return err
	}

	var gerr *googleapi.Error
	if errors.As(err, &gerr) {
		switch {
		case gerr.Code == 401 || gerr.Code == 403:
			return &contracts.AuthError{Source: gcsSource, Err: err}
		case gerr.Code == 429:
			return &contracts.RateLimitError{Source: gcsSource}
		case gerr.Code >= 500:
			return &contracts.SourceUnavailableError{Source: gcsSource, Err: err}
		}
		return err
	}
	return &contracts.SourceUnavailableError{Source: gcsSource, Err: err}
}

// IsNotExist reports whether err means the object key is absent (fs or gcs)
func IsNotExist(err error) bool {
	return errors.Is(err, os.ErrNotExist) || errors.Is(err, storage.ErrObjectNotExist)
}
