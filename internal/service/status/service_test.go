package status

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/arthur326/ARMS/internal/domain/alert"
	repo "github.com/arthur326/ARMS/internal/repository/state"
)

var errTestLoad = errors.New("test load error")

// memoryRepository is a minimal in-memory Repository implementation for tests.
type memoryRepository struct {
	// status is returned from Load.
	status *alert.Status
	// loadErr is the error to return from Load operations.
	loadErr error
	// saved stores every status passed to Save.
	saved []*alert.Status
}

func (m *memoryRepository) Load(context.Context) (*alert.Status, error) {
	return m.status, m.loadErr
}

func (m *memoryRepository) Save(_ context.Context, s *alert.Status) error {
	m.saved = append(m.saved, s)

	return nil
}

// recorder is a Publisher remembering what it received.
type recorder struct {
	mu       sync.Mutex
	received []*alert.Status
}

func (r *recorder) Publish(_ context.Context, s *alert.Status) {
	r.mu.Lock()
	r.received = append(r.received, s)
	r.mu.Unlock()
}

// TestNew_LoadsOrDefaults asserts New behavior on existing, missing, and error states.
func TestNew_LoadsOrDefaults(t *testing.T) {
	t.Parallel()

	old := &alert.Status{
		Timestamp: time.Unix(100, 0),
		Mode:      alert.ModeAlert,
		Episode:   &alert.Episode{ID: "x", Channel: 8},
	}

	s, err := New(context.Background(), &memoryRepository{status: old}, "")
	require.NoError(t, err)
	require.Equal(t, alert.ModeStarting, s.Current().Mode)

	_, err = New(context.Background(), &memoryRepository{loadErr: repo.ErrNotFound}, "")
	require.NoError(t, err)

	_, err = New(context.Background(), &memoryRepository{loadErr: errTestLoad}, "")
	require.ErrorIs(t, err, errTestLoad)

	s, err = New(context.Background(), nil, "")
	require.NoError(t, err)
	require.NotNil(t, s.Current())
}

// TestReport_PersistsPublishesAndFlags checks every side effect of a report.
func TestReport_PersistsPublishesAndFlags(t *testing.T) {
	t.Parallel()

	flag := filepath.Join(t.TempDir(), "not_in_alert")
	memory := new(memoryRepository)
	rec := new(recorder)

	s, err := New(context.Background(), memory, flag, rec)
	require.NoError(t, err)

	s.Report(context.Background(), &alert.Status{Mode: alert.ModeScanning, Channel: 6})

	_, err = os.Stat(flag)
	require.NoError(t, err)
	require.Len(t, memory.saved, 1)
	require.False(t, memory.saved[0].Timestamp.IsZero())

	episode := &alert.Episode{ID: "e1", Channel: 6, Behavior: alert.InitialAlert}
	s.Report(context.Background(), &alert.Status{Mode: alert.ModeAlert, Channel: 1, Episode: episode})

	_, err = os.Stat(flag)
	require.ErrorIs(t, err, os.ErrNotExist)

	current := s.Current()
	require.True(t, current.InAlert())
	require.Equal(t, "e1", current.Episode.ID)
	require.NotSame(t, episode, current.Episode)

	s.Report(context.Background(), &alert.Status{Mode: alert.ModeScanning, Channel: 6})

	_, err = os.Stat(flag)
	require.NoError(t, err)
	require.Len(t, rec.received, 3)
	require.Equal(t, alert.ModeAlert, rec.received[1].Mode)
}
