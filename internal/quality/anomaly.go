package quality

import (
	"fmt"
	"math"

	"token-feature-lab/internal/domain"
	"token-feature-lab/internal/ta"
)

// DetectorConfig tunes anomaly detection.
type DetectorConfig struct {
	// ConfidenceThreshold filters out low-confidence findings, 0-1.
	ConfidenceThreshold float64
	// PriceZScoreLimit flags a close whose z-score against the trailing
	// window exceeds this magnitude.
	PriceZScoreLimit float64
	// VolumeSpikeRatio flags volume this many times the trailing mean.
	VolumeSpikeRatio float64
	// Window is the trailing window for price/volume statistics.
	Window int
}

// DefaultDetectorConfig returns the detection thresholds used in production.
func DefaultDetectorConfig() DetectorConfig {
	return DetectorConfig{
		ConfidenceThreshold: 0.5,
		PriceZScoreLimit:    4.0,
		VolumeSpikeRatio:    10.0,
		Window:              20,
	}
}

// Detector finds statistical anomalies in candle series.
type Detector struct {
	config DetectorConfig
}

// NewDetector creates a Detector.
func NewDetector(config DetectorConfig) *Detector {
	if config.Window < 2 {
		config.Window = 20
	}
	if config.PriceZScoreLimit <= 0 {
		config.PriceZScoreLimit = 4.0
	}
	if config.VolumeSpikeRatio <= 1 {
		config.VolumeSpikeRatio = 10.0
	}
	return &Detector{config: config}
}

// Detect runs all anomaly detectors over the series and returns findings
// whose confidence clears the configured threshold.
func (d *Detector) Detect(tokenID string, timeframe domain.Timeframe, candles []*domain.Candle) []domain.AnomalyRecord {
	var anomalies []domain.AnomalyRecord
	anomalies = append(anomalies, d.detectPriceOutliers(tokenID, timeframe, candles)...)
	anomalies = append(anomalies, d.detectVolumeSpikes(tokenID, timeframe, candles)...)
	anomalies = append(anomalies, d.detectDataGaps(tokenID, timeframe, candles)...)

	filtered := anomalies[:0]
	for _, a := range anomalies {
		if a.Confidence >= d.config.ConfidenceThreshold {
			filtered = append(filtered, a)
		}
	}
	return filtered
}

// detectPriceOutliers flags closes whose z-score against the trailing
// window exceeds the configured limit.
func (d *Detector) detectPriceOutliers(tokenID string, timeframe domain.Timeframe, candles []*domain.Candle) []domain.AnomalyRecord {
	n := d.config.Window
	if len(candles) <= n {
		return nil
	}

	closes := make([]float64, len(candles))
	for i, c := range candles {
		closes[i] = c.Close
	}

	var out []domain.AnomalyRecord
	for i := n; i < len(candles); i++ {
		mean := ta.SMA(closes, n, i-1)
		sd := ta.Stdev(closes, n, i-1)
		z := ta.ZScore(closes[i], mean, sd)
		if math.Abs(z) <= d.config.PriceZScoreLimit {
			continue
		}

		// Confidence grows with how far past the limit the z-score lands.
		confidence := math.Min(1, math.Abs(z)/(2*d.config.PriceZScoreLimit))
		severity := domain.SeverityMedium
		if math.Abs(z) > 2*d.config.PriceZScoreLimit {
			severity = domain.SeverityHigh
		}
		out = append(out, domain.AnomalyRecord{
			Type:        domain.AnomalyPriceOutlier,
			Severity:    severity,
			Confidence:  confidence,
			Description: fmt.Sprintf("close %.8g deviates %.1f sigma from trailing %d-bar mean", closes[i], z, n),
			TokenID:     tokenID,
			Timeframe:   timeframe,
			TimestampMs: candles[i].TimestampMs,
		})
	}
	return out
}

// detectVolumeSpikes flags volume a configured multiple above the trailing
// mean volume.
func (d *Detector) detectVolumeSpikes(tokenID string, timeframe domain.Timeframe, candles []*domain.Candle) []domain.AnomalyRecord {
	n := d.config.Window
	if len(candles) <= n {
		return nil
	}

	var out []domain.AnomalyRecord
	for i := n; i < len(candles); i++ {
		var sum float64
		for j := i - n; j < i; j++ {
			sum += candles[j].Volume
		}
		mean := sum / float64(n)
		if mean <= 0 {
			continue
		}
		ratio := candles[i].Volume / mean
		if ratio < d.config.VolumeSpikeRatio {
			continue
		}

		confidence := math.Min(1, ratio/(2*d.config.VolumeSpikeRatio))
		severity := domain.SeverityLow
		if ratio >= 2*d.config.VolumeSpikeRatio {
			severity = domain.SeverityMedium
		}
		out = append(out, domain.AnomalyRecord{
			Type:        domain.AnomalyVolumeSpike,
			Severity:    severity,
			Confidence:  confidence,
			Description: fmt.Sprintf("volume %.8g is %.1fx the trailing %d-bar mean", candles[i].Volume, ratio, n),
			TokenID:     tokenID,
			Timeframe:   timeframe,
			TimestampMs: candles[i].TimestampMs,
		})
	}
	return out
}

// detectDataGaps flags missing candle intervals for timeframes with a known
// bar duration.
func (d *Detector) detectDataGaps(tokenID string, timeframe domain.Timeframe, candles []*domain.Candle) []domain.AnomalyRecord {
	interval := timeframe.DurationMs()
	if interval == 0 || len(candles) < 2 {
		return nil
	}

	var out []domain.AnomalyRecord
	for i := 1; i < len(candles); i++ {
		delta := candles[i].TimestampMs - candles[i-1].TimestampMs
		if delta <= interval {
			continue
		}
		missing := delta/interval - 1
		if missing < 1 {
			continue
		}

		severity := domain.SeverityLow
		if missing >= 5 {
			severity = domain.SeverityHigh
		} else if missing >= 2 {
			severity = domain.SeverityMedium
		}
		out = append(out, domain.AnomalyRecord{
			Type:        domain.AnomalyDataGap,
			Severity:    severity,
			Confidence:  1.0, // gaps are arithmetic, not statistical
			Description: fmt.Sprintf("%d missing %s candle(s) before %d", missing, timeframe, candles[i].TimestampMs),
			TokenID:     tokenID,
			Timeframe:   timeframe,
			TimestampMs: candles[i].TimestampMs,
		})
	}
	return out
}
