package usecase

import (
	"context"

	"github.com/example/face-compare/internal/logging"
	"github.com/example/face-compare/internal/prediction"
)

// FailureBreakdown splits failed attempts by how they failed.
type FailureBreakdown struct {
	Structured int64 `json:"structured"`
	Transport  int64 `json:"transport"`
}

// MetricsSummary describes one owner's comparison history. The similarity
// average only covers succeeded attempts and is absent until one exists.
type MetricsSummary struct {
	TotalAttempts            int64            `json:"total_attempts"`
	SuccessfulAttempts       int64            `json:"successful_attempts"`
	Failures                 FailureBreakdown `json:"failures"`
	SuccessRate              float64          `json:"success_rate"`
	AverageSimilarityScore   *float64         `json:"average_similarity_score,omitempty"`
	AverageSimilarityPercent string           `json:"average_similarity_percent,omitempty"`
	AverageLatencyMs         float64          `json:"average_latency_ms"`
}

// GetMetricsSummary reports the owner's attempt counts, failure split and averages.
func (uc *ComparisonUseCase) GetMetricsSummary(ctx context.Context, ownerID string) (*MetricsSummary, error) {
	agg, err := uc.repo.AggregateMetrics(ctx, ownerID)
	if err != nil {
		return nil, logging.NewOperationError("usecase.metrics_summary", ownerID, err)
	}

	summary := &MetricsSummary{
		TotalAttempts:      agg.TotalCount,
		SuccessfulAttempts: agg.SuccessCount,
		Failures: FailureBreakdown{
			Structured: agg.StructuredFailureCount,
			Transport:  agg.TransportFailureCount,
		},
		AverageLatencyMs: agg.AverageLatencyMs,
	}
	if agg.TotalCount > 0 {
		summary.SuccessRate = float64(agg.SuccessCount) / float64(agg.TotalCount)
	}
	if agg.AverageSuccessScore != nil {
		score := *agg.AverageSuccessScore
		summary.AverageSimilarityScore = &score
		summary.AverageSimilarityPercent = prediction.FormatPercent(score)
	}
	return summary, nil
}
