// Package features drives the indicator library across a candle series for
// one (token_id, timeframe) and emits one FeatureRecord per candle once the
// minimum lookback is satisfied.
package features

import (
	"token-feature-lab/internal/domain"
	"token-feature-lab/internal/ta"
)

// MinLookback is the minimum number of candles required before any feature
// record is produced. Shorter series yield an empty result, not an error:
// insufficient history is an expected state, not a failure.
const MinLookback = 60

// Indicator window sizes.
const (
	rsiPeriod        = 14
	atrPeriod        = 14
	smartMoneyPeriod = 14
	macdFast         = 12
	macdSlow         = 26
	macdSignal       = 9
	bollingerPeriod  = 20
	bollingerK       = 2.0
	bbRankWindow     = 60
	donchianPeriod   = 20
	srLookback       = 20
	vwapBandPeriod   = 20
	vwapBandK        = 2.0
	volumeZWindow    = 20
	volumeZSlopeLen  = 5
	volumeProfileWin = 50
	srNearBand       = 0.02
	nearBreakoutPct  = 0.99
)

// Engine computes feature records from candle series. It is stateless and
// safe for concurrent use.
type Engine struct{}

// NewEngine creates a feature computation engine.
func NewEngine() *Engine {
	return &Engine{}
}

// ComputeFeatures turns an ascending-time candle series into one
// FeatureRecord per candle from index MinLookback-1 onward. Given an
// identical candle slice the output is bit-for-bit reproducible. Series
// shorter than MinLookback return an empty slice.
//
// Malformed candles (non-finite prices, negative volume) are expected to be
// rejected by the quality gate before this stage; if one slips through, NaNs
// propagate into the affected record fields instead of aborting the batch.
func (e *Engine) ComputeFeatures(candles []*domain.Candle, tokenID string, timeframe domain.Timeframe) []*domain.FeatureRecord {
	n := len(candles)
	if n < MinLookback {
		return nil
	}

	highs := make([]float64, n)
	lows := make([]float64, n)
	closes := make([]float64, n)
	volumes := make([]float64, n)
	for i, c := range candles {
		highs[i] = c.High
		lows[i] = c.Low
		closes[i] = c.Close
		volumes[i] = c.Volume
	}

	// Every underlying series is computed once per call; record emission
	// below is an O(1) amortized lookup per index.
	ema7 := ta.EMA(closes, 7)
	ema20 := ta.EMA(closes, 20)
	ema50 := ta.EMA(closes, 50)
	ema200 := ta.EMA(closes, 200)

	rsi := ta.RSI(closes, rsiPeriod)
	macd, signal, hist := ta.MACD(closes, macdFast, macdSlow, macdSignal)
	atr := ta.ATR(highs, lows, closes, atrPeriod)
	bbWidth := ta.BollingerWidth(closes, bollingerPeriod, bollingerK)
	donchianHigh, donchianLow := ta.Donchian(highs, lows, donchianPeriod)
	vwap := ta.VWAP(highs, lows, closes, volumes)
	vwapUpper, vwapLower := ta.VWAPBands(closes, vwap, vwapBandPeriod, vwapBandK)
	support, resistance := ta.SupportResistance(highs, lows, srLookback)
	smartMoney := ta.SmartMoneyIndex(highs, lows, closes, volumes, smartMoneyPeriod)

	volumeZ := make([]float64, n)
	for i := volumeZWindow - 1; i < n; i++ {
		mean := ta.SMA(volumes, volumeZWindow, i)
		sd := ta.Stdev(volumes, volumeZWindow, i)
		volumeZ[i] = ta.ZScore(volumes[i], mean, sd)
	}

	records := make([]*domain.FeatureRecord, 0, n-MinLookback+1)
	for i := MinLookback - 1; i < n; i++ {
		c := candles[i]
		rec := &domain.FeatureRecord{
			TokenID:     tokenID,
			Timeframe:   timeframe,
			TimestampMs: c.TimestampMs,
			Close:       c.Close,
			Volume:      c.Volume,

			SMA7:   ta.SMA(closes, 7, i),
			SMA20:  ta.SMA(closes, 20, i),
			SMA50:  ta.SMA(closes, 50, i),
			EMA7:   ema7[i],
			EMA20:  ema20[i],
			EMA50:  ema50[i],
			EMA200: ema200[i],

			RSI14:      rsi[i],
			MACD:       macd[i],
			MACDSignal: signal[i],
			MACDHist:   hist[i],

			ATR14:   atr[i],
			BBWidth: bbWidth[i],

			DonchianHigh20: donchianHigh[i],
			DonchianLow20:  donchianLow[i],

			VolumeZScore: volumeZ[i],

			VWAP: vwap[i],

			SupportLevel:    support[i],
			ResistanceLevel: resistance[i],

			SmartMoneyIndex: smartMoney[i],
			TrendAlignment:  ta.TrendAlignment(ema7, ema20, ema50, ema200, i),
		}

		if i >= 199 {
			rec.SMA200 = ta.SMA(closes, 200, i)
		} else {
			rec.SMA200 = ta.SMA(closes, i+1, i)
		}

		// Donchian breakouts. The channel excludes the current bar, so the
		// two breakout flags are mutually exclusive by construction.
		rec.BreakoutHigh20 = c.Close > donchianHigh[i]
		rec.BreakoutLow20 = c.Close < donchianLow[i]
		rec.NearBreakoutHigh = c.Close >= nearBreakoutPct*donchianHigh[i]

		// Bollinger width percentile rank over the trailing 60 bars,
		// normalizing the volatility regime.
		rankStart := i - bbRankWindow + 1
		if rankStart < 0 {
			rankStart = 0
		}
		rec.BBWidthRank = ta.PercentileRank(bbWidth[i], bbWidth[rankStart:i+1])

		rec.VolumeZScoreSlope = ta.Slope(volumeZ[:i+1], volumeZSlopeLen)

		// EMA 50/200 crossovers on this bar.
		if i > 0 {
			rec.GoldenCross = ema50[i-1] <= ema200[i-1] && ema50[i] > ema200[i]
			rec.DeathCross = ema50[i-1] >= ema200[i-1] && ema50[i] < ema200[i]
		}

		rec.BullishRSIDivergence = ta.BullishRSIDivergence(lows, rsi, i)

		// VWAP positioning.
		if vwap[i] > 0 {
			rec.VWAPDistance = (c.Close - vwap[i]) / vwap[i]
		}
		if halfBand := vwapUpper[i] - vwap[i]; halfBand > 0 {
			rec.VWAPBandPosition = (c.Close - vwap[i]) / halfBand
		}
		rec.VWAPBreakoutBullish = c.Close > vwapUpper[i]
		rec.VWAPBreakoutBearish = c.Close < vwapLower[i]

		// Support / resistance distances as signed fractional offsets.
		if c.Close > 0 {
			rec.SupportDistance = (support[i] - c.Close) / c.Close
			rec.ResistanceDistance = (resistance[i] - c.Close) / c.Close
		}
		rec.NearSupport = absFloat(rec.SupportDistance) <= srNearBand
		rec.NearResistance = absFloat(rec.ResistanceDistance) <= srNearBand

		rec.VolumeProfileScore = ta.VolumeProfileScore(closes, volumes, volumeProfileWin, i)

		rec.SmartMoneyBullish = rec.SmartMoneyIndex > 60
		rec.TrendAligned = rec.TrendAlignment >= 0.75

		records = append(records, rec)
	}

	return records
}

func absFloat(x float64) float64 {
	if x < 0 {
		return -x
	}
	return x
}
