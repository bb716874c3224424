package features

import (
	"math"
	"math/rand"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"token-feature-lab/internal/domain"
)

func flatCandles(n int) []*domain.Candle {
	candles := make([]*domain.Candle, n)
	for i := 0; i < n; i++ {
		candles[i] = &domain.Candle{
			TokenID:     "FlatToken",
			Timeframe:   domain.Timeframe1h,
			TimestampMs: int64(i) * 3_600_000,
			Open:        100,
			High:        100,
			Low:         100,
			Close:       100,
			Volume:      0,
		}
	}
	return candles
}

func noisyCandles(n int, seed int64) []*domain.Candle {
	rng := rand.New(rand.NewSource(seed))
	candles := make([]*domain.Candle, n)
	close := 100.0
	for i := 0; i < n; i++ {
		close *= 1 + (rng.Float64()-0.48)*0.03
		high := close * (1 + rng.Float64()*0.01)
		low := close * (1 - rng.Float64()*0.01)
		candles[i] = &domain.Candle{
			TokenID:     "NoisyToken",
			Timeframe:   domain.Timeframe1h,
			TimestampMs: int64(i) * 3_600_000,
			Open:        (high + low) / 2,
			High:        high,
			Low:         low,
			Close:       close,
			Volume:      500 + rng.Float64()*1000,
		}
	}
	return candles
}

func TestComputeFeatures_ShortSeriesIsEmpty(t *testing.T) {
	engine := NewEngine()

	for _, n := range []int{0, 1, 30, MinLookback - 1} {
		records := engine.ComputeFeatures(noisyCandles(n, 1), "Token", domain.Timeframe1h)
		assert.Empty(t, records, "series length %d", n)
	}
}

func TestComputeFeatures_RecordCount(t *testing.T) {
	engine := NewEngine()

	for _, n := range []int{MinLookback, 61, 100, 250} {
		records := engine.ComputeFeatures(noisyCandles(n, 2), "Token", domain.Timeframe1h)
		assert.Len(t, records, n-MinLookback+1, "series length %d", n)
	}
}

func TestComputeFeatures_RecordIdentity(t *testing.T) {
	engine := NewEngine()
	candles := noisyCandles(70, 3)

	records := engine.ComputeFeatures(candles, "TokenA", domain.Timeframe4h)
	require.Len(t, records, 11)

	// First record belongs to the first bar past the lookback
	assert.Equal(t, candles[MinLookback-1].TimestampMs, records[0].TimestampMs)
	assert.Equal(t, candles[69].TimestampMs, records[10].TimestampMs)
	for _, rec := range records {
		assert.Equal(t, "TokenA", rec.TokenID)
		assert.Equal(t, domain.Timeframe4h, rec.Timeframe)
	}
}

func TestComputeFeatures_Deterministic(t *testing.T) {
	engine := NewEngine()
	candles := noisyCandles(120, 4)

	first := engine.ComputeFeatures(candles, "Token", domain.Timeframe1h)
	second := engine.ComputeFeatures(candles, "Token", domain.Timeframe1h)

	require.Equal(t, len(first), len(second))
	for i := range first {
		assert.Equal(t, *first[i], *second[i], "record %d", i)
	}
}

func TestComputeFeatures_FlatSeries(t *testing.T) {
	engine := NewEngine()

	records := engine.ComputeFeatures(flatCandles(MinLookback), "FlatToken", domain.Timeframe1h)
	require.Len(t, records, 1)
	rec := records[0]

	assert.InDelta(t, 0.0, rec.BBWidth, 1e-12)
	assert.InDelta(t, 50.0, rec.RSI14, 1e-12)
	assert.InDelta(t, 50.0, rec.SmartMoneyIndex, 1e-12)
	assert.False(t, rec.BreakoutHigh20)
	assert.False(t, rec.BreakoutLow20)
	assert.InDelta(t, 100.0, rec.VWAP, 1e-12)
	assert.InDelta(t, 0.0, rec.VolumeZScore, 1e-12)
	assert.InDelta(t, 0.0, rec.ATR14, 1e-12)

	for name, v := range map[string]float64{
		"rsi":             rec.RSI14,
		"smart_money":     rec.SmartMoneyIndex,
		"bb_width":        rec.BBWidth,
		"bb_width_rank":   rec.BBWidthRank,
		"atr":             rec.ATR14,
		"trend_alignment": rec.TrendAlignment,
		"volume_profile":  rec.VolumeProfileScore,
		"volume_zscore":   rec.VolumeZScore,
	} {
		assert.False(t, math.IsNaN(v), "%s is NaN", name)
	}
}

func TestComputeFeatures_BoundedIndicators(t *testing.T) {
	engine := NewEngine()
	records := engine.ComputeFeatures(noisyCandles(300, 5), "Token", domain.Timeframe1h)

	for i, rec := range records {
		assert.GreaterOrEqual(t, rec.RSI14, 0.0, "record %d", i)
		assert.LessOrEqual(t, rec.RSI14, 100.0, "record %d", i)
		assert.GreaterOrEqual(t, rec.SmartMoneyIndex, 0.0, "record %d", i)
		assert.LessOrEqual(t, rec.SmartMoneyIndex, 100.0, "record %d", i)
		assert.GreaterOrEqual(t, rec.BBWidthRank, 0.0, "record %d", i)
		assert.LessOrEqual(t, rec.BBWidthRank, 100.0, "record %d", i)
		assert.GreaterOrEqual(t, rec.TrendAlignment, 0.0, "record %d", i)
		assert.LessOrEqual(t, rec.TrendAlignment, 1.0, "record %d", i)
		assert.GreaterOrEqual(t, rec.VolumeProfileScore, 0.0, "record %d", i)
		assert.LessOrEqual(t, rec.VolumeProfileScore, 1.0, "record %d", i)
		assert.GreaterOrEqual(t, rec.ATR14, 0.0, "record %d", i)
	}
}

func TestComputeFeatures_BreakoutInvariants(t *testing.T) {
	engine := NewEngine()
	records := engine.ComputeFeatures(noisyCandles(300, 6), "Token", domain.Timeframe1h)

	sawHigh := false
	for i, rec := range records {
		if rec.BreakoutHigh20 {
			sawHigh = true
			assert.Greater(t, rec.Close, rec.DonchianHigh20, "record %d", i)
		}
		if rec.BreakoutLow20 {
			assert.Less(t, rec.Close, rec.DonchianLow20, "record %d", i)
		}
		assert.False(t, rec.BreakoutHigh20 && rec.BreakoutLow20, "record %d: both breakout flags set", i)
	}
	// A 300-bar noisy series should break its 20-bar channel at least once
	assert.True(t, sawHigh, "expected at least one upside breakout")
}

func TestComputeFeatures_CrossoverFlags(t *testing.T) {
	// A long decline followed by a strong recovery forces EMA50 back above
	// EMA200 at some point
	n := 400
	candles := make([]*domain.Candle, n)
	price := 200.0
	for i := 0; i < n; i++ {
		if i < 200 {
			price *= 0.995
		} else {
			price *= 1.012
		}
		candles[i] = &domain.Candle{
			TokenID:     "CrossToken",
			Timeframe:   domain.Timeframe1d,
			TimestampMs: int64(i) * 86_400_000,
			Open:        price,
			High:        price * 1.005,
			Low:         price * 0.995,
			Close:       price,
			Volume:      1000,
		}
	}

	engine := NewEngine()
	records := engine.ComputeFeatures(candles, "CrossToken", domain.Timeframe1d)

	goldenAt := -1
	for i, rec := range records {
		if rec.GoldenCross {
			require.Equal(t, -1, goldenAt, "golden cross must fire on exactly one bar")
			goldenAt = i
		}
	}
	require.NotEqual(t, -1, goldenAt, "expected a golden cross in the recovery")

	// After the cross the fast EMA stays above the slow one
	after := records[goldenAt]
	assert.Greater(t, after.EMA50, after.EMA200)
}

func TestComputeFeatures_SupportResistanceDistances(t *testing.T) {
	engine := NewEngine()
	records := engine.ComputeFeatures(noisyCandles(100, 8), "Token", domain.Timeframe1h)

	for i, rec := range records {
		// Support sits at or below the close, resistance at or above
		assert.LessOrEqual(t, rec.SupportDistance, 0.0, "record %d", i)
		assert.GreaterOrEqual(t, rec.ResistanceDistance, 0.0, "record %d", i)
		assert.LessOrEqual(t, rec.SupportLevel, rec.Close, "record %d", i)
		assert.GreaterOrEqual(t, rec.ResistanceLevel, rec.Close, "record %d", i)
	}
}
