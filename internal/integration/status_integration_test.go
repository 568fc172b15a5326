package integration

import (
	"context"
	"net"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/arthur326/ARMS/internal/api/grpc/health"
	"github.com/arthur326/ARMS/internal/domain/alert"
	"github.com/arthur326/ARMS/internal/repository/state"
	"github.com/arthur326/ARMS/internal/service/status"
)

// startHealth serves a health server on a free loopback port.
// Returns its address and a stop function that waits for graceful shutdown.
func startHealth(t *testing.T, s *health.Server) (addr string, stop func()) {
	t.Helper()

	// Create cancellable context for server lifecycle.
	ctx, cancel := context.WithCancel(context.Background())

	l, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)

	served := make(chan error, 1)

	// Start server in background goroutine.
	go func() { served <- s.Serve(ctx, l) }()

	return l.Addr().String(), func() {
		cancel()
		require.NoError(t, <-served)
	}
}

// TestStatus_Roundtrip reports an alert through the status service and observes it
// on disk, on the flag file and through the health client.
func TestStatus_Roundtrip(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	statePath := filepath.Join(dir, "state.json")
	flagPath := filepath.Join(dir, "not_in_alert")

	ctx := context.Background()
	hs := health.NewServer()

	addr, stop := startHealth(t, hs)
	defer stop()

	svc, err := status.New(ctx, state.NewFileRepository(statePath), flagPath, hs)
	require.NoError(t, err)

	// Connect to the test server with timeout.
	c, err := health.Dial(ctx, addr, health.WithCallTimeout(3*time.Second))
	require.NoError(t, err)

	defer func() { _ = c.Close() }()

	svc.Report(ctx, &alert.Status{Mode: alert.ModeScanning, Channel: 6})

	operating, inAlert, err := c.Summary(ctx)
	require.NoError(t, err)
	require.True(t, operating)
	require.False(t, inAlert)
	require.FileExists(t, flagPath)

	episode := &alert.Episode{ID: "episode-1", Channel: 6, Behavior: alert.InitialAlert, Started: time.Now()}
	svc.Report(ctx, &alert.Status{Mode: alert.ModeAlert, Channel: 6, Episode: episode})

	operating, inAlert, err = c.Summary(ctx)
	require.NoError(t, err)
	require.True(t, operating)
	require.True(t, inAlert)
	require.NoFileExists(t, flagPath)

	// The persisted status survives a restart of the status service.
	loaded, err := state.NewFileRepository(statePath).Load(ctx)
	require.NoError(t, err)
	require.Equal(t, alert.ModeAlert, loaded.Mode)
	require.Equal(t, "episode-1", loaded.Episode.ID)

	svc.Report(ctx, &alert.Status{Mode: alert.ModeStopped})

	operating, inAlert, err = c.Summary(ctx)
	require.NoError(t, err)
	require.False(t, operating)
	require.False(t, inAlert)
}
