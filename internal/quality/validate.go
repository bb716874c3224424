// Package quality implements the data quality gate: candle and feature
// validation, statistical anomaly detection, structural integrity checks
// and the composite quality report consumed by operators.
package quality

import (
	"fmt"
	"math"
	"time"

	"token-feature-lab/internal/domain"
)

// ValidationResult is the outcome of validating one batch.
type ValidationResult struct {
	IsValid  bool
	Errors   []string
	Warnings []string
	Info     []string
}

func (r *ValidationResult) addError(format string, args ...interface{}) {
	r.IsValid = false
	r.Errors = append(r.Errors, fmt.Sprintf(format, args...))
}

func (r *ValidationResult) addWarning(format string, args ...interface{}) {
	r.Warnings = append(r.Warnings, fmt.Sprintf(format, args...))
}

// Validator validates candles and feature records. The clock is injected so
// future-timestamp checks are deterministic under test.
type Validator struct {
	now func() time.Time
}

// NewValidator creates a Validator using the wall clock.
func NewValidator() *Validator {
	return &Validator{now: time.Now}
}

// WithClock injects a clock, for tests.
func (v *Validator) WithClock(now func() time.Time) *Validator {
	v.now = now
	return v
}

// ValidateCandles checks a candle batch before feature computation. Zero
// volume is flagged as a warning, not an error: thin markets legitimately
// print empty bars.
func (v *Validator) ValidateCandles(candles []*domain.Candle) ValidationResult {
	result := ValidationResult{IsValid: true}
	if len(candles) == 0 {
		result.addWarning("empty candle batch")
		return result
	}

	nowMs := v.now().UnixMilli()
	var prevTs int64

	for i, c := range candles {
		for _, p := range []struct {
			name  string
			value float64
		}{
			{"open", c.Open}, {"high", c.High}, {"low", c.Low}, {"close", c.Close},
		} {
			if math.IsNaN(p.value) || math.IsInf(p.value, 0) {
				result.addError("candle %d: non-finite %s", i, p.name)
			} else if p.value <= 0 {
				result.addError("candle %d: non-positive %s %v", i, p.name, p.value)
			}
		}

		if c.High < math.Max(c.Open, math.Max(c.Close, c.Low)) {
			result.addError("candle %d: high %v below open/close/low", i, c.High)
		}
		if c.Low > math.Min(c.Open, math.Min(c.Close, c.High)) {
			result.addError("candle %d: low %v above open/close/high", i, c.Low)
		}

		if c.Volume < 0 {
			result.addError("candle %d: negative volume %v", i, c.Volume)
		} else if c.Volume == 0 {
			result.addWarning("candle %d: zero volume", i)
		}
		if c.QuoteVolume < 0 {
			result.addError("candle %d: negative quote volume %v", i, c.QuoteVolume)
		}

		if c.TimestampMs > nowMs {
			result.addError("candle %d: timestamp %d is in the future", i, c.TimestampMs)
		}

		if i > 0 {
			if c.TimestampMs == prevTs {
				result.addError("candle %d: duplicate timestamp %d", i, c.TimestampMs)
			} else if c.TimestampMs < prevTs {
				result.addError("candle %d: timestamp %d out of order", i, c.TimestampMs)
			}
		}
		prevTs = c.TimestampMs
	}

	return result
}

// ValidateFeatures range-checks bounded indicators and flags NaN or
// implausible values in a computed feature batch.
func (v *Validator) ValidateFeatures(records []*domain.FeatureRecord) ValidationResult {
	result := ValidationResult{IsValid: true}

	for i, rec := range records {
		for _, f := range []struct {
			name  string
			value float64
		}{
			{"sma20", rec.SMA20}, {"ema20", rec.EMA20}, {"ema200", rec.EMA200},
			{"rsi14", rec.RSI14}, {"macd", rec.MACD}, {"atr14", rec.ATR14},
			{"bb_width", rec.BBWidth}, {"vwap", rec.VWAP},
			{"smart_money_index", rec.SmartMoneyIndex},
			{"volume_zscore", rec.VolumeZScore},
		} {
			if math.IsNaN(f.value) || math.IsInf(f.value, 0) {
				result.addError("record %d: non-finite %s", i, f.name)
			}
		}

		if rec.RSI14 < 0 || rec.RSI14 > 100 {
			result.addError("record %d: rsi14 %v out of [0,100]", i, rec.RSI14)
		}
		if rec.SmartMoneyIndex < 0 || rec.SmartMoneyIndex > 100 {
			result.addError("record %d: smart_money_index %v out of [0,100]", i, rec.SmartMoneyIndex)
		}
		if rec.ATR14 < 0 {
			result.addError("record %d: negative atr14 %v", i, rec.ATR14)
		}
		if rec.BBWidth < 0 {
			result.addError("record %d: negative bb_width %v", i, rec.BBWidth)
		}
		if rec.BBWidthRank < 0 || rec.BBWidthRank > 100 {
			result.addError("record %d: bb_width_rank %v out of [0,100]", i, rec.BBWidthRank)
		}
		if rec.TrendAlignment < 0 || rec.TrendAlignment > 1 {
			result.addError("record %d: trend_alignment %v out of [0,1]", i, rec.TrendAlignment)
		}
		if rec.VolumeProfileScore < 0 || rec.VolumeProfileScore > 1 {
			result.addError("record %d: volume_profile_score %v out of [0,1]", i, rec.VolumeProfileScore)
		}

		// Breakout flags are mutually exclusive by construction; both set
		// means the channel math is broken upstream.
		if rec.BreakoutHigh20 && rec.BreakoutLow20 {
			result.addError("record %d: breakout_high_20 and breakout_low_20 both set", i)
		}
	}

	return result
}
