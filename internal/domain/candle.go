package domain

// Candle represents one OHLCV observation for a (token_id, timeframe) series.
// Corresponds to the candles table in PostgreSQL.
type Candle struct {
	TokenID     string    // token identifier
	Timeframe   Timeframe // bar granularity
	TimestampMs int64     // bar open time, Unix milliseconds
	Open        float64
	High        float64
	Low         float64
	Close       float64
	Volume      float64 // base-asset volume
	QuoteVolume float64 // quote-asset volume
}

// TypicalPrice returns (high + low + close) / 3.
func (c *Candle) TypicalPrice() float64 {
	return (c.High + c.Low + c.Close) / 3
}
