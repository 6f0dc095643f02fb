// -----------------------------------------------------------------------
// Retention - Scheduled cleanup of finished tasks and archived outcomes
// -----------------------------------------------------------------------

package retention

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/ternarybob/arbor"
	"github.com/ternarybob/jobwatch/internal/interfaces"
)

// Config controls what the sweep removes
type Config struct {
	Schedule    string        // cron spec, e.g. "@every 1m"
	FinishedTTL time.Duration // finished records older than this are released, 0 disables
	HistoryTTL  time.Duration // archived outcomes older than this are deleted, 0 disables
}

// Service periodically releases finished task records and prunes the archive
type Service struct {
	tracker interfaces.TaskTracker
	archive interfaces.TaskArchive
	config  Config
	cron    *cron.Cron
	logger  arbor.ILogger
	now     func() time.Time

	mu      sync.Mutex // Prevents overlapping sweeps
	running bool
}

// NewService creates a retention service. archive may be nil.
func NewService(tracker interfaces.TaskTracker, archive interfaces.TaskArchive, config Config, logger arbor.ILogger) *Service {
	return &Service{
		tracker: tracker,
		archive: archive,
		config:  config,
		cron:    cron.New(),
		logger:  logger,
		now:     time.Now,
	}
}

// Start registers the sweep on the configured schedule
func (s *Service) Start() error {
	if s.running {
		return fmt.Errorf("retention service already running")
	}

	schedule := s.config.Schedule
	if schedule == "" {
		schedule = "@every 1m"
	}
	if _, err := cron.ParseStandard(schedule); err != nil {
		return fmt.Errorf("invalid retention schedule %q: %w", schedule, err)
	}

	if _, err := s.cron.AddFunc(schedule, s.runScheduled); err != nil {
		return fmt.Errorf("failed to add cron job: %w", err)
	}

	s.cron.Start()
	s.running = true

	s.logger.Info().
		Str("schedule", schedule).
		Dur("finished_ttl", s.config.FinishedTTL).
		Dur("history_ttl", s.config.HistoryTTL).
		Msg("Retention service started")

	return nil
}

// Stop halts the schedule and waits for a running sweep to finish
func (s *Service) Stop() error {
	if !s.running {
		return nil
	}
	<-s.cron.Stop().Done()
	s.running = false
	s.logger.Info().Msg("Retention service stopped")
	return nil
}

func (s *Service) runScheduled() {
	defer func() {
		if r := recover(); r != nil {
			s.logger.Error().
				Str("panic", fmt.Sprintf("%v", r)).
				Msg("Recovered from panic in retention sweep")
		}
	}()

	ctx, cancel := context.WithTimeout(context.Background(), time.Minute)
	defer cancel()
	s.RunOnce(ctx)
}

// RunOnce performs both sweeps immediately
func (s *Service) RunOnce(ctx context.Context) {
	s.mu.Lock()
	defer s.mu.Unlock()

	released := s.ReleaseFinished()

	pruned, err := s.PruneHistory(ctx)
	if err != nil {
		s.logger.Warn().Err(err).Msg("Failed to prune task history")
	}

	if released > 0 || pruned > 0 {
		s.logger.Debug().
			Int("released", released).
			Int("pruned", pruned).
			Msg("Retention sweep completed")
	}
}

// ReleaseFinished stops finished records whose terminal state is older than
// FinishedTTL and returns how many were released
func (s *Service) ReleaseFinished() int {
	if s.config.FinishedTTL <= 0 {
		return 0
	}

	cutoff := s.now().Add(-s.config.FinishedTTL)
	released := 0
	for _, snapshot := range s.tracker.Snapshot() {
		if !snapshot.Finished || snapshot.FinishedAt == nil {
			continue
		}
		if snapshot.FinishedAt.Before(cutoff) && s.tracker.StopIfFinished(snapshot.Key, snapshot.StartedAt) {
			released++
		}
	}
	return released
}

// PruneHistory deletes archived outcomes older than HistoryTTL
func (s *Service) PruneHistory(ctx context.Context) (int, error) {
	if s.archive == nil || s.config.HistoryTTL <= 0 {
		return 0, nil
	}
	return s.archive.DeleteBefore(ctx, s.now().Add(-s.config.HistoryTTL))
}
