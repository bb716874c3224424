package ta

import "math"

// Warm-up convention used throughout this package:
//   - bounded oscillators (RSI, smart-money index) fill the warm-up region
//     with the neutral value 50
//   - unbounded smoothers (ATR) back-fill the warm-up region with the first
//     computed value
//   - long-lookback scores (trend alignment) are 0 until enough bars exist
// All indicator functions return a series positionally aligned with the input.

// RSI returns the Wilder-smoothed relative strength index over the given
// period. The first average gain/loss is a simple mean of the first
// `period` deltas; subsequent values smooth as avg = (avg*(p-1) + new)/p.
// Indices below `period` hold the neutral value 50.
func RSI(closes []float64, period int) []float64 {
	out := make([]float64, len(closes))
	for i := range out {
		out[i] = 50
	}
	if len(closes) <= period {
		return out
	}

	var avgGain, avgLoss float64
	for i := 1; i <= period; i++ {
		delta := closes[i] - closes[i-1]
		if delta > 0 {
			avgGain += delta
		} else {
			avgLoss -= delta
		}
	}
	avgGain /= float64(period)
	avgLoss /= float64(period)
	out[period] = rsiValue(avgGain, avgLoss)

	p := float64(period)
	for i := period + 1; i < len(closes); i++ {
		delta := closes[i] - closes[i-1]
		gain, loss := 0.0, 0.0
		if delta > 0 {
			gain = delta
		} else {
			loss = -delta
		}
		avgGain = (avgGain*(p-1) + gain) / p
		avgLoss = (avgLoss*(p-1) + loss) / p
		out[i] = rsiValue(avgGain, avgLoss)
	}
	return out
}

// rsiValue maps average gain/loss to 0-100. A completely flat window
// (no gains, no losses) is neutral 50 rather than the conventional 100.
func rsiValue(avgGain, avgLoss float64) float64 {
	if avgLoss == 0 {
		if avgGain == 0 {
			return 50
		}
		return 100
	}
	rs := avgGain / avgLoss
	return 100 - 100/(1+rs)
}

// MACD returns the MACD line (EMA fast − EMA slow), its signal line
// (EMA of the MACD line) and the histogram (MACD − signal).
func MACD(closes []float64, fast, slow, signal int) (macd, signalLine, hist []float64) {
	emaFast := EMA(closes, fast)
	emaSlow := EMA(closes, slow)

	macd = make([]float64, len(closes))
	for i := range closes {
		macd[i] = emaFast[i] - emaSlow[i]
	}

	signalLine = EMA(macd, signal)

	hist = make([]float64, len(closes))
	for i := range closes {
		hist[i] = macd[i] - signalLine[i]
	}
	return macd, signalLine, hist
}

// ATR returns the Wilder-smoothed average true range over the given period.
// True range is max(high-low, |high-prevClose|, |low-prevClose|). The
// warm-up region is back-filled with the first computed value.
func ATR(highs, lows, closes []float64, period int) []float64 {
	n := len(closes)
	out := make([]float64, n)
	if n == 0 {
		return out
	}

	tr := make([]float64, n)
	tr[0] = highs[0] - lows[0]
	for i := 1; i < n; i++ {
		hl := highs[i] - lows[i]
		hc := math.Abs(highs[i] - closes[i-1])
		lc := math.Abs(lows[i] - closes[i-1])
		tr[i] = math.Max(hl, math.Max(hc, lc))
	}

	if n <= period {
		// Not enough bars to seed: back-fill with a simple mean of what exists.
		sum := 0.0
		for _, v := range tr {
			sum += v
		}
		mean := sum / float64(n)
		for i := range out {
			out[i] = mean
		}
		return out
	}

	sum := 0.0
	for i := 0; i < period; i++ {
		sum += tr[i]
	}
	atr := sum / float64(period)
	for i := 0; i < period; i++ {
		out[i] = atr
	}
	p := float64(period)
	for i := period; i < n; i++ {
		atr = (atr*(p-1) + tr[i]) / p
		out[i] = atr
	}
	return out
}

// BollingerWidth returns (upper-lower)/middle per bar, where the bands are
// SMA(n) ± k·Stdev(n). Indices below n-1 and bars with a non-positive
// middle hold 0.
func BollingerWidth(closes []float64, n int, k float64) []float64 {
	out := make([]float64, len(closes))
	for i := n - 1; i < len(closes); i++ {
		middle := SMA(closes, n, i)
		if middle <= 0 {
			continue
		}
		sd := Stdev(closes, n, i)
		out[i] = (2 * k * sd) / middle
	}
	return out
}

// Donchian returns the rolling max(high) and min(low) over the n bars
// preceding each index (the current bar is excluded so a close can
// actually break the channel). Index 0 falls back to its own high/low.
func Donchian(highs, lows []float64, n int) (upper, lower []float64) {
	upper = make([]float64, len(highs))
	lower = make([]float64, len(lows))
	for i := range highs {
		if i == 0 {
			upper[0] = highs[0]
			lower[0] = lows[0]
			continue
		}
		start := i - n
		if start < 0 {
			start = 0
		}
		hi, lo := highs[start], lows[start]
		for j := start + 1; j < i; j++ {
			if highs[j] > hi {
				hi = highs[j]
			}
			if lows[j] < lo {
				lo = lows[j]
			}
		}
		upper[i] = hi
		lower[i] = lo
	}
	return upper, lower
}

// VWAP returns the anchored volume-weighted average price: cumulative
// typicalPrice·volume over cumulative volume from the series start.
// While cumulative volume is zero the VWAP falls back to the typical price.
func VWAP(highs, lows, closes, volumes []float64) []float64 {
	out := make([]float64, len(closes))
	var cumPV, cumVol float64
	for i := range closes {
		typical := (highs[i] + lows[i] + closes[i]) / 3
		cumPV += typical * volumes[i]
		cumVol += volumes[i]
		if cumVol > 0 {
			out[i] = cumPV / cumVol
		} else {
			out[i] = typical
		}
	}
	return out
}

// VWAPBands returns upper and lower bands at vwap ± k·sd, where sd is the
// trailing sample stdev of (close − vwap) over n bars. Bands collapse to
// the VWAP itself during the warm-up region.
func VWAPBands(closes, vwap []float64, n int, k float64) (upper, lower []float64) {
	upper = make([]float64, len(closes))
	lower = make([]float64, len(closes))
	dev := make([]float64, len(closes))
	for i := range closes {
		dev[i] = closes[i] - vwap[i]
	}
	for i := range closes {
		if i < n-1 {
			upper[i] = vwap[i]
			lower[i] = vwap[i]
			continue
		}
		sd := Stdev(dev, n, i)
		upper[i] = vwap[i] + k*sd
		lower[i] = vwap[i] - k*sd
	}
	return upper, lower
}

// SupportResistance returns the rolling min(low) and max(high) over the
// trailing n bars (current bar included) as support and resistance levels.
func SupportResistance(highs, lows []float64, n int) (support, resistance []float64) {
	support = make([]float64, len(lows))
	resistance = make([]float64, len(highs))
	for i := range highs {
		start := i - n + 1
		if start < 0 {
			start = 0
		}
		lo, hi := lows[start], highs[start]
		for j := start + 1; j <= i; j++ {
			if lows[j] < lo {
				lo = lows[j]
			}
			if highs[j] > hi {
				hi = highs[j]
			}
		}
		support[i] = lo
		resistance[i] = hi
	}
	return support, resistance
}

// SmartMoneyIndex returns the typical-price-weighted money flow index over
// the given period, mapped 0-100 like RSI. Indices below `period` hold the
// neutral value 50, as does any window with no flow at all.
func SmartMoneyIndex(highs, lows, closes, volumes []float64, period int) []float64 {
	n := len(closes)
	out := make([]float64, n)
	for i := range out {
		out[i] = 50
	}
	if n <= period {
		return out
	}

	typical := make([]float64, n)
	for i := range closes {
		typical[i] = (highs[i] + lows[i] + closes[i]) / 3
	}

	for i := period; i < n; i++ {
		var posFlow, negFlow float64
		for j := i - period + 1; j <= i; j++ {
			flow := typical[j] * volumes[j]
			if typical[j] > typical[j-1] {
				posFlow += flow
			} else if typical[j] < typical[j-1] {
				negFlow += flow
			}
		}
		switch {
		case posFlow == 0 && negFlow == 0:
			out[i] = 50
		case negFlow == 0:
			out[i] = 100
		default:
			ratio := posFlow / negFlow
			out[i] = 100 - 100/(1+ratio)
		}
	}
	return out
}

// TrendAlignment returns the fraction (0-1) of the four bullish EMA
// orderings (7>20, 20>50, 50>200, 7>200) that hold at index i. Returns 0
// until 200 bars of history exist.
func TrendAlignment(ema7, ema20, ema50, ema200 []float64, i int) float64 {
	if i < 199 {
		return 0
	}
	held := 0
	if ema7[i] > ema20[i] {
		held++
	}
	if ema20[i] > ema50[i] {
		held++
	}
	if ema50[i] > ema200[i] {
		held++
	}
	if ema7[i] > ema200[i] {
		held++
	}
	return float64(held) / 4
}

// VolumeProfileScore returns the fraction of trailing-window volume traded
// within ±2% of the close at index i, a liquidity-concentration proxy.
// Returns 0 when the window traded no volume.
func VolumeProfileScore(closes, volumes []float64, n, i int) float64 {
	start := i - n + 1
	if start < 0 {
		start = 0
	}
	ref := closes[i]
	if ref <= 0 {
		return 0
	}
	var total, near float64
	for j := start; j <= i; j++ {
		total += volumes[j]
		if math.Abs(closes[j]-ref)/ref <= 0.02 {
			near += volumes[j]
		}
	}
	if total == 0 {
		return 0
	}
	return near / total
}
