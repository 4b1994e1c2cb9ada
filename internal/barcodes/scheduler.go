package barcodes

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/robfig/cron/v3"
	"go.uber.org/zap"
)

const autoSyncJobTimeout = 2 * time.Minute

// StartAutoSync schedules a recurring reconciliation pass. Starting a new
// schedule cancels any previous one, so at most one is active.
func (s *Service) StartAutoSync(interval time.Duration) error {
	if interval <= 0 {
		interval = time.Minute
	}

	s.schedMu.Lock()
	defer s.schedMu.Unlock()

	if s.sched != nil {
		s.sched.Stop()
		s.sched = nil
	}

	schedule := cron.New()
	if _, err := schedule.AddFunc(fmt.Sprintf("@every %s", interval), s.autoSyncJob); err != nil {
		return fmt.Errorf("barcodes: schedule sync: %w", err)
	}
	schedule.Start()
	s.sched = schedule

	s.logger.Info("auto sync started", zap.Duration("interval", interval))
	return nil
}

// StopAutoSync cancels the periodic schedule. An in-flight pass runs to
// completion.
func (s *Service) StopAutoSync() {
	s.schedMu.Lock()
	defer s.schedMu.Unlock()

	if s.sched == nil {
		return
	}
	s.sched.Stop()
	s.sched = nil
	s.logger.Info("auto sync stopped")
}

// AutoSyncActive reports whether a periodic schedule is currently installed.
func (s *Service) AutoSyncActive() bool {
	s.schedMu.Lock()
	defer s.schedMu.Unlock()
	return s.sched != nil
}

func (s *Service) autoSyncJob() {
	ctx, cancel := context.WithTimeout(context.Background(), autoSyncJobTimeout)
	defer cancel()

	summary, err := s.SyncAll(ctx, nil)
	if errors.Is(err, ErrSyncInProgress) {
		s.logger.Debug("sync pass already running, skipping scheduled run")
		return
	}
	if err != nil {
		s.logger.Error("scheduled sync failed", zap.Error(err))
		return
	}
	if summary.Attempted > 0 {
		s.logger.Info("scheduled sync finished",
			zap.Int("synced", summary.Synced),
			zap.Int("failed", summary.Failed))
	}
}
