package status

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/arthur326/ARMS/internal/config"
	"github.com/arthur326/ARMS/internal/domain/alert"
	"github.com/arthur326/ARMS/internal/logger"
	repo "github.com/arthur326/ARMS/internal/repository/state"
)

// Publisher receives every status change.
type Publisher interface {
	Publish(ctx context.Context, status *alert.Status)
}

// Service encapsulates the status bookkeeping and persistence orchestration.
type Service struct {
	// repo handles persistent storage of the status. Nil disables persistence.
	repo repo.Repository
	// flagPath is the file present while no alert is in progress. Empty disables it.
	flagPath string
	// publishers are notified after every change.
	publishers []Publisher
	// status is the current in-memory status.
	status *alert.Status
	// mu protects concurrent access to the status.
	mu sync.RWMutex
}

// New creates a service backed by the provided repository.
// The status left by the previous run, if any, is logged and replaced.
func New(ctx context.Context, repository repo.Repository, flagPath string, publishers ...Publisher) (*Service, error) {
	s := &Service{
		repo:       repository,
		flagPath:   flagPath,
		publishers: publishers,
		status: &alert.Status{
			Timestamp: time.Now(),
			Mode:      alert.ModeStarting,
		},
	}

	if repository == nil {
		return s, nil
	}

	previous, err := repository.Load(ctx)
	switch {
	case err == nil:
		if previous != nil && previous.InAlert() {
			logger.WarnKV(ctx, "Previous run ended during an alert",
				"episode", previous.Episode.ID,
				"channel", previous.Episode.Channel,
				"since", previous.Episode.Started)
		}
	case errors.Is(err, repo.ErrNotFound):
		// First run.
	default:
		return nil, fmt.Errorf("load state: %w", err)
	}

	return s, nil
}

// Report records a new status, persists it and notifies the publishers.
// Persistence failures are logged; the controller keeps running.
func (s *Service) Report(ctx context.Context, status *alert.Status) {
	s.mu.Lock()
	defer s.mu.Unlock()

	next := status.Clone()
	if next.Timestamp.IsZero() {
		next.Timestamp = time.Now()
	}

	changed := next.Mode != s.status.Mode || next.InAlert() != s.status.InAlert()
	s.status = next

	if err := s.syncFlag(next.InAlert()); err != nil {
		logger.ErrorKV(ctx, "Failed to update alert flag file", "path", s.flagPath, "error", err)
	}

	if s.repo != nil {
		if err := s.repo.Save(ctx, next); err != nil {
			logger.Errorf(ctx, "Failed to persist status: %v", err)
		}
	}

	for _, p := range s.publishers {
		p.Publish(ctx, next.Clone())
	}

	if changed {
		logger.InfoKV(ctx, "Status changed", "mode", next.Mode, "channel", next.Channel, "in_alert", next.InAlert())
	}
}

// Current returns the current status.
func (s *Service) Current() *alert.Status {
	s.mu.RLock()
	defer s.mu.RUnlock()

	return s.status.Clone()
}

// syncFlag creates the flag file outside alerts and removes it during one.
func (s *Service) syncFlag(inAlert bool) error {
	if s.flagPath == "" {
		return nil
	}

	path := filepath.Clean(s.flagPath)

	if inAlert {
		if err := os.Remove(path); err != nil && !errors.Is(err, os.ErrNotExist) {
			return err
		}

		return nil
	}

	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY, config.DefaultFilePermissions)
	if err != nil {
		return err
	}

	return f.Close()
}
