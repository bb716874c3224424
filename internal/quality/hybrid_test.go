package quality

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"

	"token-feature-lab/internal/domain"
)

type fakePredictor struct {
	score      float64
	confidence float64
	err        error
	calls      int
}

func (p *fakePredictor) PredictQuality(_ context.Context, _ []*domain.Candle, _ []*domain.FeatureRecord) (float64, float64, error) {
	p.calls++
	return p.score, p.confidence, p.err
}

func TestHybridValidator_NilPredictor(t *testing.T) {
	h := NewHybridValidator(nil, DefaultHybridConfig())
	result := h.Assess(context.Background(), 85, nil, nil)

	assert.Equal(t, 85.0, result.TraditionalScore)
	assert.Equal(t, 85.0, result.CombinedScore)
	assert.True(t, result.Trusted)
	assert.False(t, result.MLUsed)
}

func TestHybridValidator_CombinesScores(t *testing.T) {
	p := &fakePredictor{score: 90, confidence: 0.9}
	h := NewHybridValidator(p, DefaultHybridConfig())

	result := h.Assess(context.Background(), 100, nil, nil)
	assert.True(t, result.MLUsed)
	assert.InDelta(t, 96.0, result.CombinedScore, 1e-9)
	assert.Equal(t, 10.0, result.Disagreement)
	assert.True(t, result.Trusted)
	assert.Equal(t, 1, p.calls)
}

func TestHybridValidator_DisagreementBeyondConsensus(t *testing.T) {
	p := &fakePredictor{score: 40, confidence: 0.8}
	h := NewHybridValidator(p, DefaultHybridConfig())

	result := h.Assess(context.Background(), 100, nil, nil)
	assert.True(t, result.MLUsed)
	assert.Equal(t, 60.0, result.Disagreement)
	assert.False(t, result.Trusted)
	assert.InDelta(t, 76.0, result.CombinedScore, 1e-9)
}

func TestHybridValidator_LowConfidenceIgnored(t *testing.T) {
	p := &fakePredictor{score: 10, confidence: 0.2}
	h := NewHybridValidator(p, DefaultHybridConfig())

	result := h.Assess(context.Background(), 95, nil, nil)
	assert.False(t, result.MLUsed)
	assert.Equal(t, 95.0, result.CombinedScore)
	assert.True(t, result.Trusted)
	assert.Equal(t, 1, p.calls)
}

func TestHybridValidator_PredictionErrorDegradesToTraditional(t *testing.T) {
	p := &fakePredictor{err: errors.New("model endpoint unreachable")}
	h := NewHybridValidator(p, DefaultHybridConfig())

	result := h.Assess(context.Background(), 88, nil, nil)
	assert.False(t, result.MLUsed)
	assert.Equal(t, 88.0, result.CombinedScore)
	assert.True(t, result.Trusted)
}

func TestHybridValidator_ConfigDefaults(t *testing.T) {
	p := &fakePredictor{score: 50, confidence: 0.9}
	h := NewHybridValidator(p, HybridConfig{TraditionalWeight: 2, ConsensusThreshold: -1})

	result := h.Assess(context.Background(), 100, nil, nil)
	assert.InDelta(t, 80.0, result.CombinedScore, 1e-9) // falls back to 0.6 weight
	assert.False(t, result.Trusted)                     // disagreement 50 > default 20
}
