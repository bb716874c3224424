package domain

// Timeframe identifies the bar granularity of a candle series.
type Timeframe string

// Supported timeframes.
const (
	Timeframe5m  Timeframe = "5m"
	Timeframe15m Timeframe = "15m"
	Timeframe1h  Timeframe = "1h"
	Timeframe4h  Timeframe = "4h"
	Timeframe1d  Timeframe = "1d"
)

// DurationMs returns the expected interval between consecutive candles
// in milliseconds, or 0 for an unknown timeframe.
func (tf Timeframe) DurationMs() int64 {
	switch tf {
	case Timeframe5m:
		return 5 * 60 * 1000
	case Timeframe15m:
		return 15 * 60 * 1000
	case Timeframe1h:
		return 60 * 60 * 1000
	case Timeframe4h:
		return 4 * 60 * 60 * 1000
	case Timeframe1d:
		return 24 * 60 * 60 * 1000
	default:
		return 0
	}
}

// Valid reports whether the timeframe is one of the supported values.
func (tf Timeframe) Valid() bool {
	return tf.DurationMs() > 0
}
