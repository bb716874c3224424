package quality

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"token-feature-lab/internal/domain"
)

func fixedBuilder() *ReportBuilder {
	return NewReportBuilder().WithClock(func() time.Time { return testNow })
}

func TestReportBuilder_CleanRunScoresExactly100(t *testing.T) {
	b := fixedBuilder()
	b.AddCandleValidation(ValidationResult{IsValid: true})
	b.AddFeatureValidation(ValidationResult{IsValid: true})
	b.AddIntegrityChecks(CheckSeriesIntegrity("TokenA", domain.Timeframe1h, validSeries(10), 10))
	for i := 0; i < 3; i++ {
		b.AddTaskOutcome(true)
	}

	report := b.Build()
	assert.Equal(t, 100.0, report.OverallScore)
	assert.Equal(t, 100.0, report.ComponentScores.Candles)
	assert.Equal(t, 100.0, report.ComponentScores.Features)
	assert.Equal(t, 100.0, report.ComponentScores.Database)
	assert.Equal(t, 100.0, report.ComponentScores.Processing)
	assert.Equal(t, domain.IssueCounts{}, report.Issues)
	assert.Equal(t, []string{"all quality components healthy"}, report.Recommendations)
	assert.Nil(t, report.Trends)
	assert.Equal(t, testNow.UnixMilli(), report.GeneratedAtMs)
}

func TestReportBuilder_ScoreFlooredAtZero(t *testing.T) {
	b := fixedBuilder()
	errs := make([]string, 15)
	for i := range errs {
		errs[i] = "bad candle"
	}
	b.AddCandleValidation(ValidationResult{Errors: errs})

	report := b.Build()
	assert.Equal(t, 0.0, report.ComponentScores.Candles)
	assert.Equal(t, 75.0, report.OverallScore)
}

func TestReportBuilder_ComponentScoring(t *testing.T) {
	b := fixedBuilder()
	b.AddCandleValidation(ValidationResult{Errors: []string{"e1"}, Warnings: []string{"w1"}})
	b.AddFeatureValidation(ValidationResult{Errors: []string{"e1", "e2"}})
	b.AddIntegrityChecks([]domain.IntegrityCheck{
		{Type: "row_count", Status: domain.IntegrityFail},
		{Type: "timestamp_ordering", Status: domain.IntegrityPass},
	})
	for i := 0; i < 3; i++ {
		b.AddDatabaseError()
	}
	b.AddTaskOutcome(true)
	b.AddTaskOutcome(false)

	report := b.Build()
	// Integrity failures count against the candle component.
	assert.Equal(t, 80.0, report.ComponentScores.Candles)
	assert.Equal(t, 80.0, report.ComponentScores.Features)
	assert.Equal(t, 70.0, report.ComponentScores.Database)
	assert.Equal(t, 90.0, report.ComponentScores.Processing)
	assert.Equal(t, 80.0, report.OverallScore)

	// Validation errors land as high issues, integrity and storage failures
	// as medium, warnings as low.
	assert.Equal(t, 3, report.Issues.High)
	assert.Equal(t, 4, report.Issues.Medium)
	assert.Equal(t, 1, report.Issues.Low)
	assert.Equal(t, 0, report.Issues.Critical)

	require.Len(t, report.Recommendations, 1)
	assert.Contains(t, report.Recommendations[0], "storage errors")
}

func TestReportBuilder_AnomalySeverityTally(t *testing.T) {
	b := fixedBuilder()
	b.AddAnomalies([]domain.AnomalyRecord{
		{Type: domain.AnomalyPriceOutlier, Severity: domain.SeverityCritical},
		{Type: domain.AnomalyPriceOutlier, Severity: domain.SeverityHigh},
		{Type: domain.AnomalyVolumeSpike, Severity: domain.SeverityMedium},
		{Type: domain.AnomalyDataGap, Severity: domain.SeverityLow},
		{Type: domain.AnomalyDataGap, Severity: domain.SeverityLow},
	})

	report := b.Build()
	assert.Equal(t, 1, report.Issues.Critical)
	assert.Equal(t, 1, report.Issues.High)
	assert.Equal(t, 1, report.Issues.Medium)
	assert.Equal(t, 2, report.Issues.Low)
	assert.Len(t, report.Anomalies, 5)

	// Anomalies alone do not deduct from component scores.
	assert.Equal(t, 100.0, report.OverallScore)
}

func TestReportBuilder_Trends(t *testing.T) {
	b := fixedBuilder().WithPreviousScores(map[string]float64{
		"candles": 90, "features": 100, "database": 70, "processing": 100,
	})
	b.AddDatabaseError()

	report := b.Build()
	require.NotNil(t, report.Trends)
	assert.Equal(t, 10.0, report.Trends["candles"])
	assert.Equal(t, 0.0, report.Trends["features"])
	assert.Equal(t, 20.0, report.Trends["database"])
	assert.Equal(t, 0.0, report.Trends["processing"])
}
