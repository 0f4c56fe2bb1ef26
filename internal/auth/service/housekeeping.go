package service

import (
	"context"
	"log/slog"
	"time"

	"github.com/create-newspulse/newspulse-auth/internal/auth/store"
)

// HousekeepingService periodically deletes expired refresh sessions and
// spent password reset grants.
type HousekeepingService struct {
	Store    store.Store
	Logger   *slog.Logger
	Interval time.Duration

	// Internal channels for lifecycle management
	stopCh chan struct{}
	doneCh chan struct{}
}

// NewHousekeepingService creates a new housekeeping service with the given interval.
// If interval is 0 or negative, defaults to 1 hour.
func NewHousekeepingService(store store.Store, logger *slog.Logger, interval time.Duration) *HousekeepingService {
	if interval <= 0 {
		interval = 1 * time.Hour
	}

	return &HousekeepingService{
		Store:    store,
		Logger:   logger,
		Interval: interval,
		stopCh:   make(chan struct{}),
		doneCh:   make(chan struct{}),
	}
}

// Start begins the background worker that periodically runs cleanup.
// This is non-blocking and should be called after the database is ready.
// Call Stop() to gracefully shutdown the worker.
func (s *HousekeepingService) Start() {
	go s.run()
	s.Logger.Info("housekeeping service started", "interval", s.Interval)
}

// Stop gracefully shuts down the background worker.
// Blocks until the worker has finished any in-progress cleanup.
func (s *HousekeepingService) Stop() {
	close(s.stopCh)
	<-s.doneCh
	s.Logger.Info("housekeeping service stopped")
}

// run is the main background worker loop.
func (s *HousekeepingService) run() {
	defer close(s.doneCh)

	ticker := time.NewTicker(s.Interval)
	defer ticker.Stop()

	// Run cleanup immediately on startup
	s.cleanup()

	for {
		select {
		case <-ticker.C:
			s.cleanup()
		case <-s.stopCh:
			return
		}
	}
}

// StaleResetAge is how long used or expired reset grants are kept.
const StaleResetAge = 24 * time.Hour

// cleanup deletes expired refresh sessions and stale reset grants. Each
// deletion is independent; a failure in one does not stop the other.
func (s *HousekeepingService) cleanup() {
	ctx, cancel := context.WithTimeout(context.Background(), time.Minute)
	defer cancel()

	now := time.Now().UTC()

	sessions, err := s.Store.RefreshSessions().DeleteExpiredRefreshSessions(ctx, now)
	if err != nil {
		s.Logger.Error("failed to delete expired refresh sessions", "error", err)
	}

	resets, err := s.Store.PasswordResets().DeleteStalePasswordResets(ctx, now.Add(-StaleResetAge))
	if err != nil {
		s.Logger.Error("failed to delete stale password resets", "error", err)
	}

	s.Logger.Info("housekeeping cleanup completed",
		"refresh_sessions_deleted", sessions,
		"password_resets_deleted", resets,
	)
}
