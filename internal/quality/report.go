package quality

import (
	"time"

	"token-feature-lab/internal/domain"
)

// errorDeduction is the score penalty per validation error, floored at 0.
const errorDeduction = 10

// ReportBuilder accumulates quality findings during a run and builds the
// composite QualityReport. It is built fresh per run and never persisted.
type ReportBuilder struct {
	now func() time.Time

	candleErrors    int
	candleWarnings  int
	featureErrors   int
	featureWarnings int
	databaseErrors  int
	taskFailures    int
	tasksTotal      int

	anomalies       []domain.AnomalyRecord
	integrityChecks []domain.IntegrityCheck
	previousScores  map[string]float64
}

// NewReportBuilder creates a ReportBuilder using the wall clock.
func NewReportBuilder() *ReportBuilder {
	return &ReportBuilder{now: time.Now}
}

// WithClock injects a clock, for tests.
func (b *ReportBuilder) WithClock(now func() time.Time) *ReportBuilder {
	b.now = now
	return b
}

// WithPreviousScores seeds trend computation from the last run's component
// scores.
func (b *ReportBuilder) WithPreviousScores(scores map[string]float64) *ReportBuilder {
	b.previousScores = scores
	return b
}

// AddCandleValidation records the outcome of one candle validation.
func (b *ReportBuilder) AddCandleValidation(result ValidationResult) {
	b.candleErrors += len(result.Errors)
	b.candleWarnings += len(result.Warnings)
}

// AddFeatureValidation records the outcome of one feature validation.
func (b *ReportBuilder) AddFeatureValidation(result ValidationResult) {
	b.featureErrors += len(result.Errors)
	b.featureWarnings += len(result.Warnings)
}

// AddAnomalies records detected anomalies.
func (b *ReportBuilder) AddAnomalies(anomalies []domain.AnomalyRecord) {
	b.anomalies = append(b.anomalies, anomalies...)
}

// AddIntegrityChecks records structural check results.
func (b *ReportBuilder) AddIntegrityChecks(checks []domain.IntegrityCheck) {
	b.integrityChecks = append(b.integrityChecks, checks...)
}

// AddDatabaseError records one storage failure.
func (b *ReportBuilder) AddDatabaseError() { b.databaseErrors++ }

// AddTaskOutcome records one processed task.
func (b *ReportBuilder) AddTaskOutcome(succeeded bool) {
	b.tasksTotal++
	if !succeeded {
		b.taskFailures++
	}
}

// score deducts errorDeduction per error from 100, floored at 0.
func score(errors int) float64 {
	s := 100 - float64(errors*errorDeduction)
	if s < 0 {
		return 0
	}
	return s
}

// Build assembles the report from everything recorded so far.
func (b *ReportBuilder) Build() *domain.QualityReport {
	integrityFailures := 0
	for _, c := range b.integrityChecks {
		if c.Status == domain.IntegrityFail {
			integrityFailures++
		}
	}

	components := domain.ComponentScores{
		Candles:    score(b.candleErrors + integrityFailures),
		Features:   score(b.featureErrors),
		Database:   score(b.databaseErrors),
		Processing: score(b.taskFailures),
	}
	overall := (components.Candles + components.Features + components.Database + components.Processing) / 4

	issues := domain.IssueCounts{}
	for _, a := range b.anomalies {
		switch a.Severity {
		case domain.SeverityCritical:
			issues.Critical++
		case domain.SeverityHigh:
			issues.High++
		case domain.SeverityMedium:
			issues.Medium++
		default:
			issues.Low++
		}
	}
	issues.High += b.candleErrors + b.featureErrors
	issues.Medium += integrityFailures + b.databaseErrors
	issues.Low += b.candleWarnings + b.featureWarnings

	report := &domain.QualityReport{
		OverallScore:    overall,
		ComponentScores: components,
		Issues:          issues,
		Recommendations: b.recommendations(components),
		Anomalies:       b.anomalies,
		IntegrityChecks: b.integrityChecks,
		GeneratedAtMs:   b.now().UnixMilli(),
	}

	if b.previousScores != nil {
		report.Trends = map[string]float64{
			"candles":    components.Candles - b.previousScores["candles"],
			"features":   components.Features - b.previousScores["features"],
			"database":   components.Database - b.previousScores["database"],
			"processing": components.Processing - b.previousScores["processing"],
		}
	}

	return report
}

// recommendations turns component scores into free-text operator guidance.
func (b *ReportBuilder) recommendations(c domain.ComponentScores) []string {
	recs := make([]string, 0, 4)
	if c.Candles < 80 {
		recs = append(recs, "candle quality degraded: inspect the ingestion feed for gaps and malformed bars")
	}
	if c.Features < 80 {
		recs = append(recs, "feature validation failures detected: check indicator inputs for NaN propagation")
	}
	if c.Database < 80 {
		recs = append(recs, "storage errors recorded: check database connectivity and circuit breaker state")
	}
	if c.Processing < 80 {
		recs = append(recs, "task failure rate elevated: review worker timeouts and per-task error codes")
	}
	if len(recs) == 0 {
		recs = append(recs, "all quality components healthy")
	}
	return recs
}
