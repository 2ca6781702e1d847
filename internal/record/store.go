package record

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/example/face-verify/internal/logging"
)

// Store provides persistence for verification records. The database is the
// arbiter for concurrent resolutions: Resolve only flips pending rows, so two
// racing writers cannot both install different outcomes.
type Store struct {
	db             *gorm.DB
	logger         *zap.Logger
	retryAttempts  int
	initialBackoff time.Duration
	maxBackoff     time.Duration
}

// NewStore creates a new store instance.
func NewStore(db *gorm.DB, logger *zap.Logger) *Store {
	return &Store{
		db:             db,
		logger:         logger.Named("record_store"),
		retryAttempts:  3,
		initialBackoff: 50 * time.Millisecond,
		maxBackoff:     time.Second,
	}
}

// AutoMigrate ensures the schema is available.
func (s *Store) AutoMigrate(ctx context.Context) error {
	return s.db.WithContext(ctx).AutoMigrate(&VerificationRecord{})
}

// Create persists a new pending record. The id is generated here if unset.
func (s *Store) Create(ctx context.Context, rec *VerificationRecord) error {
	if rec.ID == "" {
		rec.ID = uuid.NewString()
	}
	rec.Status = StatusPending
	if rec.CreatedAt.IsZero() {
		rec.CreatedAt = time.Now().UTC()
	}
	return s.executeWithRetry(ctx, "record.create", rec.ID, func() error {
		return s.db.WithContext(ctx).Create(rec).Error
	})
}

// Resolve transitions a pending record to a terminal status. Resolving an
// already-terminal record with the identical outcome is a no-op success;
// resolving it with a different outcome returns ErrConflict.
func (s *Store) Resolve(ctx context.Context, id string, outcome Outcome) (*VerificationRecord, error) {
	if !outcome.Status.Terminal() {
		return nil, logging.NewOperationError("record.resolve", id,
			fmt.Errorf("outcome status %q is not terminal", outcome.Status))
	}

	now := time.Now().UTC()
	updates := map[string]interface{}{
		"status":           outcome.Status,
		"score":            outcome.Score,
		"threshold":        outcome.Threshold,
		"pass":             outcome.Pass,
		"match_latency_ms": outcome.MatchLatencyMs,
		"failure_reason":   outcome.FailureReason,
		"resolved_at":      now,
	}

	var affected int64
	err := s.executeWithRetry(ctx, "record.resolve", id, func() error {
		tx := s.db.WithContext(ctx).
			Model(&VerificationRecord{}).
			Where("id = ? AND status = ?", id, StatusPending).
			Updates(updates)
		affected = tx.RowsAffected
		return tx.Error
	})
	if err != nil {
		return nil, err
	}

	if affected == 0 {
		existing, err := s.Get(ctx, id)
		if err != nil {
			return nil, err
		}
		if outcome.Matches(existing) {
			return existing, nil
		}
		return nil, logging.NewOperationError("record.resolve", id,
			fmt.Errorf("%w: record already %s", ErrConflict, existing.Status))
	}

	return s.Get(ctx, id)
}

// Get retrieves a record by id.
func (s *Store) Get(ctx context.Context, id string) (*VerificationRecord, error) {
	var rec VerificationRecord
	err := s.executeWithRetry(ctx, "record.get", id, func() error {
		return s.db.WithContext(ctx).First(&rec, "id = ?", id).Error
	})
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, fmt.Errorf("%w: %s", ErrNotFound, id)
		}
		return nil, err
	}
	return &rec, nil
}

// GetForSubject retrieves a record scoped to its owning subject.
func (s *Store) GetForSubject(ctx context.Context, id, subjectID string) (*VerificationRecord, error) {
	var rec VerificationRecord
	err := s.executeWithRetry(ctx, "record.get_for_subject", id, func() error {
		return s.db.WithContext(ctx).First(&rec, "id = ? AND subject_id = ?", id, subjectID).Error
	})
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, fmt.Errorf("%w: %s", ErrNotFound, id)
		}
		return nil, err
	}
	return &rec, nil
}

// FindStalePending lists pending records created before the cutoff. Used by
// the reconciler to close records abandoned past the comparator deadline.
func (s *Store) FindStalePending(ctx context.Context, cutoff time.Time, limit int) ([]*VerificationRecord, error) {
	var recs []*VerificationRecord
	err := s.executeWithRetry(ctx, "record.find_stale_pending", "", func() error {
		return s.db.WithContext(ctx).
			Where("status = ? AND created_at < ?", StatusPending, cutoff).
			Order("created_at").
			Limit(limit).
			Find(&recs).Error
	})
	if err != nil {
		return nil, err
	}
	return recs, nil
}

func (s *Store) executeWithRetry(ctx context.Context, operation, recordID string, fn func() error) error {
	backoff := s.initialBackoff
	opLogger := logging.WithOperation(s.logger, operation, recordID)
	var err error
	for attempt := 0; attempt < s.retryAttempts; attempt++ {
		if attempt > 0 {
			select {
			case <-ctx.Done():
				return logging.NewOperationError(operation, recordID, ctx.Err())
			case <-time.After(backoff):
			}
			if next := backoff * 2; next <= s.maxBackoff {
				backoff = next
			}
		}

		err = fn()
		if err == nil {
			if attempt > 0 {
				opLogger.Info("database operation succeeded after retry", zap.Int("attempt", attempt+1))
			}
			return nil
		}
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return err
		}

		if !isTransientError(err) || attempt == s.retryAttempts-1 {
			opLogger.Error("database operation failed", zap.Error(err), zap.Int("attempt", attempt+1))
			return logging.NewOperationError(operation, recordID, err)
		}

		opLogger.Warn("transient database error", zap.Error(err), zap.Int("attempt", attempt+1))
	}
	return logging.NewOperationError(operation, recordID, err)
}

func isTransientError(err error) bool {
	if err == nil {
		return false
	}

	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}

	var netErr interface{ Timeout() bool }
	if errors.As(err, &netErr) && netErr.Timeout() {
		return true
	}

	var temporary interface{ Temporary() bool }
	if errors.As(err, &temporary) && temporary.Temporary() {
		return true
	}

	return false
}
