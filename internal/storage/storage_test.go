package storage

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/api/googleapi"

	"github.com/wonny/aegis-etl/internal/contracts"
	"github.com/wonny/aegis-etl/pkg/config"
	"github.com/wonny/aegis-etl/pkg/logger"
)

func TestFSStore_RoundTrip(t *testing.T) {
	root := t.TempDir()
	work := t.TempDir()
	store := NewFSStore(root, logger.Nop())
	ctx := context.Background()

	src := filepath.Join(work, "ohlcv_panel_x.parquet")
	require.NoError(t, os.WriteFile(src, []byte("PAR1"), 0o644))

	key := ObjectKey("aegis_top20", src)
	assert.Equal(t, "aegis_top20/ohlcv_panel_x.parquet", key)
	require.NoError(t, store.Upload(ctx, src, key))
	assert.FileExists(t, filepath.Join(root, "aegis_top20", "ohlcv_panel_x.parquet"))

	dst := filepath.Join(work, "restored", "panel.parquet")
	require.NoError(t, store.Download(ctx, key, dst))
	data, err := os.ReadFile(dst)
	require.NoError(t, err)
	assert.Equal(t, "PAR1", string(data))
}

func TestFSStore_KeyStaysInRoot(t *testing.T) {
	root := t.TempDir()
	store := NewFSStore(root, logger.Nop())

	p, err := store.path("../../etc/passwd")
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(root, "etc", "passwd"), p)

	_, err = store.path("/")
	assert.Error(t, err)
}

func TestFSStore_DownloadMissing(t *testing.T) {
	store := NewFSStore(t.TempDir(), logger.Nop())
	err := store.Download(context.Background(), "nope.parquet", filepath.Join(t.TempDir(), "x"))
	assert.ErrorIs(t, err, os.ErrNotExist)
	assert.True(t, IsNotExist(err))
	assert.False(t, IsNotExist(context.Canceled))
}

func TestNew(t *testing.T) {
	s, err := New(context.Background(), config.StorageConfig{Provider: "fs", Dir: t.TempDir()}, logger.Nop())
	require.NoError(t, err)
	assert.IsType(t, &FSStore{}, s)

	_, err = New(context.Background(), config.StorageConfig{Provider: "s3"}, logger.Nop())
	var ce *contracts.ConfigError
	assert.ErrorAs(t, err, &ce)

	_, err = New(context.Background(), config.StorageConfig{Provider: "gcs"}, logger.Nop())
	assert.ErrorAs(t, err, &ce, "bucket required")
}

func TestClassify(t *testing.T) {
	var auth *contracts.AuthError
	assert.ErrorAs(t, classify(&googleapi.Error{Code: 403}), &auth)

	var rl *contracts.RateLimitError
	assert.ErrorAs(t, classify(&googleapi.Error{Code: 429}), &rl)

	var su *contracts.SourceUnavailableError
	assert.ErrorAs(t, classify(&googleapi.Error{Code: 503}), &su)
	assert.ErrorAs(t, classify(fmt.Errorf("dial: %w", errors.New("connection reset"))), &su)

	assert.ErrorIs(t, classify(context.Canceled), context.Canceled)
	assert.True(t, contracts.IsRetryable(classify(&googleapi.Error{Code: 500})))
}
