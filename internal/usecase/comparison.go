package usecase

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/example/face-compare/internal/logging"
	"github.com/example/face-compare/internal/preview"
	"github.com/example/face-compare/internal/repository"
	"github.com/example/face-compare/internal/session"
)

const (
	attemptCacheTTL  = 5 * time.Minute
	defaultListLimit = 20
	maxListLimit     = 100
)

// ComparisonRepository defines the persistence operations needed by the use case.
type ComparisonRepository interface {
	SaveLog(ctx context.Context, log *repository.ComparisonLog) error
	FindByAttemptIDAndOwner(ctx context.Context, attemptID, ownerID string) (*repository.ComparisonLog, error)
	ListByOwner(ctx context.Context, ownerID string, limit int) ([]*repository.ComparisonLog, error)
	AggregateMetrics(ctx context.Context, ownerID string) (*repository.MetricsAggregation, error)
}

// ComparisonUseCase drives per-owner comparison sessions and records every attempt.
type ComparisonUseCase struct {
	sessions       *session.Registry
	repo           ComparisonRepository
	cache          Cache
	origin         string
	logger         *zap.Logger
	retryAttempts  int
	initialBackoff time.Duration
	maxBackoff     time.Duration
	now            func() time.Time
}

// Attempt is one recorded submission.
type Attempt struct {
	ID         string          `json:"attempt_id"`
	Result     *session.Result `json:"result"`
	Superseded bool            `json:"superseded"`
}

type cachedAttempt struct {
	AttemptID      string    `json:"attempt_id"`
	OwnerID        string    `json:"owner_id"`
	Outcome        string    `json:"outcome"`
	FailureKind    string    `json:"failure_kind"`
	Score          *float64  `json:"score"`
	Message        string    `json:"message"`
	FirstFilename  string    `json:"first_filename"`
	SecondFilename string    `json:"second_filename"`
	LatencyMs      int64     `json:"latency_ms"`
	CreatedAt      time.Time `json:"created_at"`
}

// NewComparisonUseCase constructs a new use case instance. origin is the
// prediction service origin that returned image paths are resolved against.
func NewComparisonUseCase(sessions *session.Registry, repo ComparisonRepository, cache Cache, origin string, logger *zap.Logger) *ComparisonUseCase {
	return &ComparisonUseCase{
		sessions:       sessions,
		repo:           repo,
		cache:          cache,
		origin:         origin,
		logger:         logger.Named("comparison_usecase"),
		retryAttempts:  3,
		initialBackoff: 50 * time.Millisecond,
		maxBackoff:     time.Second,
		now:            time.Now,
	}
}

// SelectImage decodes file into the owner's slot.
func (uc *ComparisonUseCase) SelectImage(ctx context.Context, ownerID string, slot session.Slot, file preview.File) (*SessionView, error) {
	if err := uc.sessions.Get(ownerID).SelectImage(ctx, slot, file); err != nil {
		return nil, err
	}
	return uc.Snapshot(ownerID), nil
}

// Reset clears the owner's session.
func (uc *ComparisonUseCase) Reset(ownerID string) *SessionView {
	uc.sessions.Get(ownerID).Reset()
	return uc.Snapshot(ownerID)
}

// Snapshot returns the owner's session ready for display.
func (uc *ComparisonUseCase) Snapshot(ownerID string) *SessionView {
	return newSessionView(uc.sessions.Get(ownerID).Snapshot(), uc.origin)
}

// Submit runs one comparison for the owner and records its outcome. Guard
// failures (session.ErrNotReady, session.ErrInFlight) are returned unchanged
// and record nothing.
func (uc *ComparisonUseCase) Submit(ctx context.Context, ownerID string) (*Attempt, error) {
	started := uc.now()
	sub, err := uc.sessions.Get(ownerID).Submit(ctx)
	if sub == nil {
		return nil, err
	}
	return uc.recordSubmission(ctx, ownerID, sub, started, err), nil
}

// Activate performs the owner's primary action. Attempt is nil when the action was a reset.
func (uc *ComparisonUseCase) Activate(ctx context.Context, ownerID string) (session.Action, *Attempt, error) {
	started := uc.now()
	action, sub, err := uc.sessions.Get(ownerID).Activate(ctx)
	if sub == nil {
		return action, nil, err
	}
	return action, uc.recordSubmission(ctx, ownerID, sub, started, err), nil
}

func (uc *ComparisonUseCase) recordSubmission(ctx context.Context, ownerID string, sub *session.Submission, started time.Time, submitErr error) *Attempt {
	result := sub.Result
	attempt := &Attempt{
		ID:         uuid.NewString(),
		Result:     result,
		Superseded: errors.Is(submitErr, session.ErrSuperseded),
	}
	log := &repository.ComparisonLog{
		AttemptID:      attempt.ID,
		OwnerID:        ownerID,
		Outcome:        string(session.StateSucceeded),
		FailureKind:    string(result.FailureKind),
		Score:          result.SimilarityScore,
		Message:        result.Error,
		FirstFilename:  sub.First.Filename,
		SecondFilename: sub.Second.Filename,
		LatencyMs:      uc.now().Sub(started).Milliseconds(),
		CreatedAt:      uc.now().UTC(),
	}
	if !result.Succeeded() {
		log.Outcome = string(session.StateFailed)
	}
	uc.record(context.WithoutCancel(ctx), log)
	return attempt
}

// record persists and caches log; failures are logged and never reach the session.
func (uc *ComparisonUseCase) record(ctx context.Context, log *repository.ComparisonLog) {
	opLogger := logging.WithOperation(uc.logger, "usecase.record_attempt", log.OwnerID).With(zap.String("attempt_id", log.AttemptID))

	if err := uc.repo.SaveLog(ctx, log); err != nil {
		opLogger.Error("failed to persist comparison log", zap.Error(err))
	}

	serialized, err := json.Marshal(toCached(log))
	if err != nil {
		opLogger.Error("failed to serialize comparison log", zap.Error(err))
		return
	}
	if err := uc.withRedisRetry(ctx, log.OwnerID, "cache.set.attempt", func() error {
		return uc.cache.Set(ctx, attemptCacheKey(log.AttemptID), string(serialized), attemptCacheTTL)
	}); err != nil {
		opLogger.Error("failed to cache comparison log", zap.Error(err))
	}
}

// GetAttempt retrieves a recorded attempt from cache, falling back to persistence.
func (uc *ComparisonUseCase) GetAttempt(ctx context.Context, ownerID, attemptID string) (*repository.ComparisonLog, error) {
	opLogger := logging.WithOperation(uc.logger, "usecase.get_attempt", ownerID)

	cached, err := uc.withRedisGet(ctx, ownerID, "cache.get.attempt", attemptCacheKey(attemptID))
	if err == nil {
		var payload cachedAttempt
		if err := json.Unmarshal([]byte(cached), &payload); err != nil {
			opLogger.Warn("failed to decode cached attempt", zap.Error(err))
		} else if payload.OwnerID == ownerID {
			return fromCached(payload), nil
		}
	} else if !errors.Is(err, redis.Nil) {
		opLogger.Warn("failed to read cache", zap.Error(err))
	}

	return uc.repo.FindByAttemptIDAndOwner(ctx, attemptID, ownerID)
}

// ListAttempts returns the owner's recent attempts. limit is clamped to [1, 100]; 0 means the default.
func (uc *ComparisonUseCase) ListAttempts(ctx context.Context, ownerID string, limit int) ([]*repository.ComparisonLog, error) {
	switch {
	case limit <= 0:
		limit = defaultListLimit
	case limit > maxListLimit:
		limit = maxListLimit
	}
	return uc.repo.ListByOwner(ctx, ownerID, limit)
}

func (uc *ComparisonUseCase) withRedisRetry(ctx context.Context, ownerID, operation string, fn func() error) error {
	if uc.retryAttempts <= 1 {
		return logging.NewOperationError(operation, ownerID, fn())
	}

	backoff := uc.initialBackoff
	opLogger := logging.WithOperation(uc.logger, operation, ownerID)
	var err error
	for attempt := 0; attempt < uc.retryAttempts; attempt++ {
		if attempt > 0 {
			select {
			case <-ctx.Done():
				return logging.NewOperationError(operation, ownerID, ctx.Err())
			case <-time.After(backoff):
			}
			if next := backoff * 2; next <= uc.maxBackoff {
				backoff = next
			}
		}

		err = fn()
		if err == nil {
			if attempt > 0 {
				opLogger.Info("redis operation succeeded after retry", zap.Int("attempt", attempt+1))
			}
			return nil
		}

		if errors.Is(err, redis.Nil) {
			return err
		}
		if !repository.IsTransientError(err) || attempt == uc.retryAttempts-1 {
			opLogger.Error("redis operation failed", zap.Error(err), zap.Int("attempt", attempt+1))
			return logging.NewOperationError(operation, ownerID, err)
		}

		opLogger.Warn("transient redis error", zap.Error(err), zap.Int("attempt", attempt+1))
	}
	return logging.NewOperationError(operation, ownerID, err)
}

func (uc *ComparisonUseCase) withRedisGet(ctx context.Context, ownerID, operation, cacheKey string) (string, error) {
	var result string
	err := uc.withRedisRetry(ctx, ownerID, operation, func() error {
		value, err := uc.cache.Get(ctx, cacheKey)
		if err != nil {
			return err
		}
		result = value
		return nil
	})
	if err != nil {
		return "", err
	}
	return result, nil
}

func toCached(log *repository.ComparisonLog) cachedAttempt {
	return cachedAttempt{
		AttemptID:      log.AttemptID,
		OwnerID:        log.OwnerID,
		Outcome:        log.Outcome,
		FailureKind:    log.FailureKind,
		Score:          log.Score,
		Message:        log.Message,
		FirstFilename:  log.FirstFilename,
		SecondFilename: log.SecondFilename,
		LatencyMs:      log.LatencyMs,
		CreatedAt:      log.CreatedAt,
	}
}

func fromCached(payload cachedAttempt) *repository.ComparisonLog {
	return &repository.ComparisonLog{
		AttemptID:      payload.AttemptID,
		OwnerID:        payload.OwnerID,
		Outcome:        payload.Outcome,
		FailureKind:    payload.FailureKind,
		Score:          payload.Score,
		Message:        payload.Message,
		FirstFilename:  payload.FirstFilename,
		SecondFilename: payload.SecondFilename,
		LatencyMs:      payload.LatencyMs,
		CreatedAt:      payload.CreatedAt,
	}
}
