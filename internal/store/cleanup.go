package store

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/etaengine/internal/common/config"
	"github.com/etaengine/internal/common/logger"
)

// CleanupScheduler periodically deletes log rows older than the retention
// window.
type CleanupScheduler struct {
	store     *PersistenceStore
	config    config.StoreConfig
	logger    logger.Logger
	mu        sync.RWMutex
	isRunning bool
	cancelFn  context.CancelFunc
}

func NewCleanupScheduler(store *PersistenceStore, cfg config.StoreConfig, log logger.Logger) *CleanupScheduler {
	return &CleanupScheduler{
		store:  store,
		config: cfg,
		logger: log,
	}
}

func (s *CleanupScheduler) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.isRunning {
		return fmt.Errorf("cleanup scheduler is already running")
	}
	if s.config.RetentionDays <= 0 || s.config.CleanupInterval <= 0 {
		return fmt.Errorf("retention days and cleanup interval must be positive")
	}

	ctx, cancel := context.WithCancel(ctx)
	s.cancelFn = cancel
	s.isRunning = true

	s.logger.Info("Starting cleanup scheduler",
		"retention_days", s.config.RetentionDays,
		"interval", s.config.CleanupInterval)

	go s.cleanupLoop(ctx)

	return nil
}

func (s *CleanupScheduler) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.isRunning {
		return
	}
	if s.cancelFn != nil {
		s.cancelFn()
	}
	s.isRunning = false
	s.logger.Info("Cleanup scheduler stopped")
}

func (s *CleanupScheduler) IsRunning() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.isRunning
}

func (s *CleanupScheduler) cleanupLoop(ctx context.Context) {
	ticker := time.NewTicker(s.config.CleanupInterval)
	defer ticker.Stop()

	// Run once shortly after startup, then on the configured interval.
	initialDelay := time.NewTimer(1 * time.Minute)
	defer initialDelay.Stop()

	for {
		select {
		case <-ctx.Done():
			s.logger.Info("Cleanup loop stopping")
			return
		case <-initialDelay.C:
			s.performCleanup(ctx)
		case <-ticker.C:
			s.performCleanup(ctx)
		}
	}
}

func (s *CleanupScheduler) performCleanup(ctx context.Context) {
	cutoff := time.Now().UTC().AddDate(0, 0, -s.config.RetentionDays).Format("2006-01-02")
	start := time.Now()

	for _, table := range []string{"eta_predictions", "stop_arrivals"} {
		res, err := s.store.db.DB().ExecContext(ctx,
			fmt.Sprintf("DELETE FROM %s WHERE date < $1", table), cutoff)
		if err != nil {
			s.logger.Error("Cleanup failed", "table", table, "error", err)
			continue
		}
		deleted, _ := res.RowsAffected()
		s.logger.Info("Cleanup completed",
			"table", table, "rows_deleted", deleted, "cutoff", cutoff)
	}

	s.logger.Debug("Cleanup pass finished", "duration", time.Since(start))
}
