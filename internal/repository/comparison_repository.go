package repository

import (
	"context"
	"errors"
	"time"

	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/example/face-compare/internal/logging"
)

// ErrNotFound is returned when no comparison log matches the lookup.
var ErrNotFound = errors.New("comparison log not found")

// ComparisonLog represents one persisted comparison attempt.
type ComparisonLog struct {
	ID             uint      `gorm:"primaryKey"`
	AttemptID      string    `gorm:"column:attempt_id;uniqueIndex;size:64"`
	OwnerID        string    `gorm:"column:owner_id;index;size:64"`
	Outcome        string    `gorm:"column:outcome;size:16"`
	FailureKind    string    `gorm:"column:failure_kind;size:16"`
	Score          *float64  `gorm:"column:score"`
	Message        string    `gorm:"column:message;type:text"`
	FirstFilename  string    `gorm:"column:first_filename;size:255"`
	SecondFilename string    `gorm:"column:second_filename;size:255"`
	LatencyMs      int64     `gorm:"column:latency_ms"`
	CreatedAt      time.Time `gorm:"column:created_at;index"`
}

// TableName overrides the default table name.
func (ComparisonLog) TableName() string {
	return "comparison_logs"
}

// MetricsAggregation is the raw per-owner aggregate computed by the database.
// AverageSuccessScore is nil when the owner has no succeeded attempt.
type MetricsAggregation struct {
	TotalCount             int64
	SuccessCount           int64
	StructuredFailureCount int64
	TransportFailureCount  int64
	AverageSuccessScore    *float64
	AverageLatencyMs       float64
}

// ComparisonRepository provides persistence APIs for comparison logs.
type ComparisonRepository struct {
	db             *gorm.DB
	logger         *zap.Logger
	retryAttempts  int
	initialBackoff time.Duration
	maxBackoff     time.Duration
}

// NewComparisonRepository creates a new repository instance.
func NewComparisonRepository(db *gorm.DB, logger *zap.Logger) *ComparisonRepository {
	return &ComparisonRepository{
		db:             db,
		logger:         logger.Named("comparison_repository"),
		retryAttempts:  3,
		initialBackoff: 50 * time.Millisecond,
		maxBackoff:     time.Second,
	}
}

// AutoMigrate ensures the schema is available.
func (r *ComparisonRepository) AutoMigrate(ctx context.Context) error {
	return r.db.WithContext(ctx).AutoMigrate(&ComparisonLog{})
}

// SaveLog persists a comparison log entry.
func (r *ComparisonRepository) SaveLog(ctx context.Context, log *ComparisonLog) error {
	return r.executeWithRetry(ctx, "repository.save_log", log.OwnerID, func() error {
		return r.db.WithContext(ctx).Create(log).Error
	})
}

// FindByAttemptIDAndOwner retrieves a comparison log matching the attempt and owner.
func (r *ComparisonRepository) FindByAttemptIDAndOwner(ctx context.Context, attemptID, ownerID string) (*ComparisonLog, error) {
	var log ComparisonLog
	err := r.executeWithRetry(ctx, "repository.find_attempt", ownerID, func() error {
		return r.db.WithContext(ctx).First(&log, "attempt_id = ? AND owner_id = ?", attemptID, ownerID).Error
	})
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &log, nil
}

// ListByOwner returns the owner's most recent attempts, newest first.
func (r *ComparisonRepository) ListByOwner(ctx context.Context, ownerID string, limit int) ([]*ComparisonLog, error) {
	var logs []*ComparisonLog
	err := r.executeWithRetry(ctx, "repository.list_attempts", ownerID, func() error {
		return r.db.WithContext(ctx).
			Where("owner_id = ?", ownerID).
			Order("created_at DESC").
			Limit(limit).
			Find(&logs).Error
	})
	if err != nil {
		return nil, err
	}
	return logs, nil
}

// AggregateMetrics computes attempt counts per outcome and failure kind, the
// average score of succeeded attempts and the average latency for an owner.
func (r *ComparisonRepository) AggregateMetrics(ctx context.Context, ownerID string) (*MetricsAggregation, error) {
	var row struct {
		TotalCount             int64
		SuccessCount           int64
		StructuredFailureCount int64
		TransportFailureCount  int64
		AverageSuccessScore    *float64
		AverageLatencyMs       *float64
	}
	err := r.executeWithRetry(ctx, "repository.aggregate_metrics", ownerID, func() error {
		return r.db.WithContext(ctx).
			Model(&ComparisonLog{}).
			Select(`COUNT(*) AS total_count,
				COUNT(*) FILTER (WHERE outcome = 'succeeded') AS success_count,
				COUNT(*) FILTER (WHERE outcome = 'failed' AND failure_kind = 'structured') AS structured_failure_count,
				COUNT(*) FILTER (WHERE outcome = 'failed' AND failure_kind = 'transport') AS transport_failure_count,
				AVG(score) FILTER (WHERE outcome = 'succeeded') AS average_success_score,
				AVG(latency_ms) AS average_latency_ms`).
			Where("owner_id = ?", ownerID).
			Scan(&row).Error
	})
	if err != nil {
		return nil, err
	}

	agg := &MetricsAggregation{
		TotalCount:             row.TotalCount,
		SuccessCount:           row.SuccessCount,
		StructuredFailureCount: row.StructuredFailureCount,
		TransportFailureCount:  row.TransportFailureCount,
		AverageSuccessScore:    row.AverageSuccessScore,
	}
	if row.AverageLatencyMs != nil {
		agg.AverageLatencyMs = *row.AverageLatencyMs
	}
	return agg, nil
}

func (r *ComparisonRepository) executeWithRetry(ctx context.Context, operation, ownerID string, fn func() error) error {
	attempts := r.retryAttempts
	if attempts < 1 {
		attempts = 1
	}

	backoff := r.initialBackoff
	opLogger := logging.WithOperation(r.logger, operation, ownerID)
	var err error
	for attempt := 0; attempt < attempts; attempt++ {
		if attempt > 0 {
			select {
			case <-ctx.Done():
				return logging.NewOperationError(operation, ownerID, ctx.Err())
			case <-time.After(backoff):
			}
			if next := backoff * 2; next <= r.maxBackoff {
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
		if !IsTransientError(err) || attempt == attempts-1 {
			opLogger.Error("database operation failed", zap.Error(err), zap.Int("attempt", attempt+1))
			return logging.NewOperationError(operation, ownerID, err)
		}

		opLogger.Warn("transient database error", zap.Error(err), zap.Int("attempt", attempt+1))
	}
	return logging.NewOperationError(operation, ownerID, err)
}

// IsTransientError reports whether err looks like a timeout or temporary failure.
func IsTransientError(err error) bool {
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
