package domain

// FeatureRecord is one computed technical-analysis row keyed by
// (token_id, timeframe, timestamp_ms). Corresponds to the token_features
// table in ClickHouse. Records are immutable once produced: a later run
// with the same key supersedes the earlier row via idempotent upsert.
type FeatureRecord struct {
	TokenID     string
	Timeframe   Timeframe
	TimestampMs int64

	Close  float64
	Volume float64

	// Moving averages
	SMA7   float64
	SMA20  float64
	SMA50  float64
	SMA200 float64
	EMA7   float64
	EMA20  float64
	EMA50  float64
	EMA200 float64

	// Oscillators
	RSI14      float64
	MACD       float64
	MACDSignal float64
	MACDHist   float64

	// Volatility
	ATR14       float64
	BBWidth     float64
	BBWidthRank float64 // 60-bar percentile rank of BBWidth, 0-100

	// Donchian channel / breakouts
	DonchianHigh20   float64
	DonchianLow20    float64
	BreakoutHigh20   bool
	BreakoutLow20    bool
	NearBreakoutHigh bool

	// Volume
	VolumeZScore      float64
	VolumeZScoreSlope float64

	// Crossovers
	GoldenCross bool // EMA50 crossed above EMA200 on this bar
	DeathCross  bool // EMA50 crossed below EMA200 on this bar

	// Divergence
	BullishRSIDivergence bool

	// Elite composite fields
	VWAP                float64
	VWAPDistance        float64 // (close - vwap) / vwap
	VWAPBandPosition    float64 // position within bands, -1..1 beyond
	VWAPBreakoutBullish bool
	VWAPBreakoutBearish bool

	SupportLevel       float64
	ResistanceLevel    float64
	SupportDistance    float64 // signed fractional offset from close
	ResistanceDistance float64
	NearSupport        bool
	NearResistance     bool

	SmartMoneyIndex    float64 // 0-100, money-flow ratio mapped like RSI
	TrendAlignment     float64 // 0-1, fraction of bullish EMA orderings
	VolumeProfileScore float64 // 0-1, trailing volume within ±2% of close

	SmartMoneyBullish bool
	TrendAligned      bool
}

// Key returns the composite identity of the record.
func (f *FeatureRecord) Key() (string, Timeframe, int64) {
	return f.TokenID, f.Timeframe, f.TimestampMs
}
