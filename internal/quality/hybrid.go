package quality

import (
	"context"
	"math"

	"token-feature-lab/internal/domain"
)

// QualityPredictor is the contract for the external ML quality model. The
// core only needs a scalar quality prediction and a confidence; training
// and inference internals are opaque.
type QualityPredictor interface {
	// PredictQuality scores a candle/feature batch, returning a predicted
	// quality score 0-100 and a confidence 0-1.
	PredictQuality(ctx context.Context, candles []*domain.Candle, features []*domain.FeatureRecord) (score float64, confidence float64, err error)
}

// HybridConfig tunes the combination of traditional and ML scores.
type HybridConfig struct {
	// TraditionalWeight is the share of the traditional score in the
	// combined value, 0-1. The ML score carries the remainder.
	TraditionalWeight float64
	// ConsensusThreshold is the maximum score disagreement (absolute,
	// 0-100 scale) for the validation to be marked trusted.
	ConsensusThreshold float64
	// MinimumConfidence below which the ML prediction is ignored entirely.
	MinimumConfidence float64
}

// DefaultHybridConfig returns the 60/40 weighting used in production.
func DefaultHybridConfig() HybridConfig {
	return HybridConfig{
		TraditionalWeight:  0.6,
		ConsensusThreshold: 20,
		MinimumConfidence:  0.3,
	}
}

// HybridResult is the outcome of combining the traditional quality score
// with the ML prediction. Disagreement is surfaced, never auto-resolved.
type HybridResult struct {
	TraditionalScore float64
	PredictedScore   float64
	Confidence       float64
	CombinedScore    float64
	Disagreement     float64 // |traditional - predicted|
	Trusted          bool    // scores agree within the consensus threshold
	MLUsed           bool    // false when prediction was unavailable or low-confidence
}

// HybridValidator combines the traditional quality score with an external
// ML prediction.
type HybridValidator struct {
	predictor QualityPredictor
	config    HybridConfig
}

// NewHybridValidator creates a HybridValidator. A nil predictor disables
// the ML path: Assess then returns the traditional score as trusted.
func NewHybridValidator(predictor QualityPredictor, config HybridConfig) *HybridValidator {
	if config.TraditionalWeight <= 0 || config.TraditionalWeight > 1 {
		config.TraditionalWeight = 0.6
	}
	if config.ConsensusThreshold <= 0 {
		config.ConsensusThreshold = 20
	}
	return &HybridValidator{predictor: predictor, config: config}
}

// Assess combines the traditional score with the ML prediction for the
// batch. Prediction failures degrade to traditional-only scoring rather
// than failing the assessment.
func (h *HybridValidator) Assess(ctx context.Context, traditionalScore float64, candles []*domain.Candle, features []*domain.FeatureRecord) HybridResult {
	result := HybridResult{
		TraditionalScore: traditionalScore,
		CombinedScore:    traditionalScore,
		Trusted:          true,
	}
	if h.predictor == nil {
		return result
	}

	predicted, confidence, err := h.predictor.PredictQuality(ctx, candles, features)
	if err != nil || confidence < h.config.MinimumConfidence {
		return result
	}

	w := h.config.TraditionalWeight
	result.PredictedScore = predicted
	result.Confidence = confidence
	result.MLUsed = true
	result.CombinedScore = w*traditionalScore + (1-w)*predicted
	result.Disagreement = math.Abs(traditionalScore - predicted)
	result.Trusted = result.Disagreement <= h.config.ConsensusThreshold
	return result
}
