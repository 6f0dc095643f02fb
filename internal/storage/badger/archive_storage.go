package badger

import (
	"context"
	"fmt"
	"time"

	"github.com/ternarybob/arbor"
	"github.com/ternarybob/jobwatch/internal/interfaces"
	"github.com/ternarybob/jobwatch/internal/models"
	"github.com/timshannon/badgerhold/v4"
)

// ArchiveStorage implements the TaskArchive interface for Badger
type ArchiveStorage struct {
	db     *BadgerDB
	logger arbor.ILogger
}

var _ interfaces.TaskArchive = (*ArchiveStorage)(nil)

// NewArchiveStorage creates a new ArchiveStorage instance
func NewArchiveStorage(db *BadgerDB, logger arbor.ILogger) *ArchiveStorage {
	return &ArchiveStorage{
		db:     db,
		logger: logger,
	}
}

// SaveOutcome stores or replaces an archived outcome
func (s *ArchiveStorage) SaveOutcome(ctx context.Context, outcome *models.TaskOutcome) error {
	if outcome == nil {
		return fmt.Errorf("outcome is required")
	}
	if outcome.ID == "" {
		return fmt.Errorf("outcome ID is required")
	}

	if err := s.db.Store().Upsert(outcome.ID, outcome); err != nil {
		return fmt.Errorf("failed to save outcome: %w", err)
	}
	return nil
}

// GetOutcome loads a single archived outcome
func (s *ArchiveStorage) GetOutcome(ctx context.Context, id string) (*models.TaskOutcome, error) {
	var outcome models.TaskOutcome
	if err := s.db.Store().Get(id, &outcome); err != nil {
		if err == badgerhold.ErrNotFound {
			return nil, fmt.Errorf("outcome not found: %s", id)
		}
		return nil, fmt.Errorf("failed to get outcome: %w", err)
	}
	return &outcome, nil
}

// ListOutcomes returns archived outcomes newest first. A limit of zero or less returns all.
func (s *ArchiveStorage) ListOutcomes(ctx context.Context, limit int) ([]*models.TaskOutcome, error) {
	query := badgerhold.Where("ID").Ne("").SortBy("FinishedAt").Reverse()
	if limit > 0 {
		query = query.Limit(limit)
	}

	var outcomes []models.TaskOutcome
	if err := s.db.Store().Find(&outcomes, query); err != nil {
		return nil, fmt.Errorf("failed to list outcomes: %w", err)
	}

	result := make([]*models.TaskOutcome, len(outcomes))
	for i := range outcomes {
		result[i] = &outcomes[i]
	}
	return result, nil
}

// DeleteBefore removes outcomes that finished before cutoff and returns how many were removed
func (s *ArchiveStorage) DeleteBefore(ctx context.Context, cutoff time.Time) (int, error) {
	query := badgerhold.Where("FinishedAt").Lt(cutoff)

	count, err := s.db.Store().Count(&models.TaskOutcome{}, query)
	if err != nil {
		return 0, fmt.Errorf("failed to count expired outcomes: %w", err)
	}
	if count == 0 {
		return 0, nil
	}

	if err := s.db.Store().DeleteMatching(&models.TaskOutcome{}, query); err != nil {
		return 0, fmt.Errorf("failed to delete expired outcomes: %w", err)
	}

	s.logger.Debug().
		Int("count", int(count)).
		Str("cutoff", cutoff.Format(time.RFC3339)).
		Msg("Deleted expired task outcomes")

	return int(count), nil
}
