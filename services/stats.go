package services

import (
	"context"
	"math"

	"github.com/camden-git/visionledger/models"
)

// LedgerStatistics is the statistics report served to clients.
type LedgerStatistics struct {
	models.GenerationStatistics
	TotalStorageMB float64 `json:"total_storage_mb"`
	SuccessRate    float64 `json:"success_rate"` // completed / (completed + failed)
}

type statisticsSource interface {
	Statistics(ctx context.Context) (models.GenerationStatistics, error)
}

// StatsAggregator derives the report from the raw ledger aggregates.
type StatsAggregator struct {
	source statisticsSource
}

func NewStatsAggregator(source statisticsSource) *StatsAggregator {
	return &StatsAggregator{source: source}
}

func (a *StatsAggregator) Report(ctx context.Context) (LedgerStatistics, error) {
	raw, err := a.source.Statistics(ctx)
	if err != nil {
		return LedgerStatistics{}, err
	}

	report := LedgerStatistics{
		GenerationStatistics: raw,
		TotalStorageMB:       round2(float64(raw.TotalBytes) / (1024 * 1024)),
	}
	report.AvgDurationSeconds = round2(raw.AvgDurationSeconds)

	if finalized := raw.Completed + raw.Failed; finalized > 0 {
		report.SuccessRate = float64(raw.Completed) / float64(finalized)
	}
	return report, nil
}

func round2(v float64) float64 {
	return math.Round(v*100) / 100
}
