package api

import (
	"context"
	"net"
	"net/http"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/wonny/aegis-etl/internal/api/handlers"
	"github.com/wonny/aegis-etl/internal/pipeline"
	"github.com/wonny/aegis-etl/pkg/config"
	"github.com/wonny/aegis-etl/pkg/logger"
)

func TestServer_ServeUntilCancelled(t *testing.T) {
	log := logger.Nop()
	router := NewRouter(handlers.NewRunsHandler(pipeline.NewHistory(1), log), nil, log)
	srv := New(&config.Config{Env: "development", StatusPort: "0"}, log, router)

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- srv.Serve(ctx, ln) }()

	resp, err := http.Get("http://" + ln.Addr().String() + "/health")
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("server did not stop")
	}
}
