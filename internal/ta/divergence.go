package ta

// swingRadius is the half-width of the local-minimum window used for
// swing-low detection: a bar is a swing low when its low is the minimum
// of the ±swingRadius bars around it.
const swingRadius = 2

// SwingLows returns the indices of swing lows in lows[0..i], oldest first.
// A swing low is a strict local minimum over a ±swingRadius bar window;
// edge bars without a full window on both sides are never swing lows.
func SwingLows(lows []float64, i int) []int {
	var idxs []int
	for j := swingRadius; j <= i-swingRadius; j++ {
		isLow := true
		for k := j - swingRadius; k <= j+swingRadius; k++ {
			if k == j {
				continue
			}
			if lows[k] <= lows[j] {
				isLow = false
				break
			}
		}
		if isLow {
			idxs = append(idxs, j)
		}
	}
	return idxs
}

// BullishRSIDivergence reports whether the two most recent swing lows at or
// before index i diverge bullishly: price makes a lower low while RSI makes
// a higher low. When price does not make a lower low, an equal-or-higher
// RSI low at an equal price low still counts.
func BullishRSIDivergence(lows, rsi []float64, i int) bool {
	swings := SwingLows(lows, i)
	if len(swings) < 2 {
		return false
	}
	prev := swings[len(swings)-2]
	last := swings[len(swings)-1]

	if lows[last] < lows[prev] {
		return rsi[last] > rsi[prev]
	}
	if lows[last] == lows[prev] {
		return rsi[last] >= rsi[prev]
	}
	return false
}
