package domain

// Severity classifies the impact of an anomaly or task failure.
type Severity string

const (
	SeverityLow      Severity = "low"
	SeverityMedium   Severity = "medium"
	SeverityHigh     Severity = "high"
	SeverityCritical Severity = "critical"
)

// AnomalyType identifies the kind of statistical anomaly detected.
type AnomalyType string

const (
	AnomalyPriceOutlier AnomalyType = "price_outlier"
	AnomalyVolumeSpike  AnomalyType = "volume_spike"
	AnomalyDataGap      AnomalyType = "data_gap"
)

// AnomalyRecord is one statistical anomaly detected by the data quality gate.
type AnomalyRecord struct {
	Type        AnomalyType
	Severity    Severity
	Confidence  float64 // 0-1
	Description string
	TokenID     string
	Timeframe   Timeframe
	TimestampMs int64
}

// IntegrityStatus is the outcome of one structural integrity check.
type IntegrityStatus string

const (
	IntegrityPass IntegrityStatus = "pass"
	IntegrityFail IntegrityStatus = "fail"
)

// IntegrityCheck is one structural check result per (token_id, timeframe).
type IntegrityCheck struct {
	Type        string
	Status      IntegrityStatus
	Description string
	TimestampMs int64
}

// ComponentScores breaks the overall quality score down by subsystem.
type ComponentScores struct {
	Candles    float64
	Features   float64
	Database   float64
	Processing float64
}

// IssueCounts tallies quality findings by severity.
type IssueCounts struct {
	Critical int
	High     int
	Medium   int
	Low      int
}

// QualityReport is a point-in-time aggregate snapshot of data quality.
// It is built fresh on each request and never persisted by the core.
type QualityReport struct {
	OverallScore    float64 // 0-100
	ComponentScores ComponentScores
	Issues          IssueCounts
	Recommendations []string
	Trends          map[string]float64 // score history deltas by component
	Anomalies       []AnomalyRecord
	IntegrityChecks []IntegrityCheck
	GeneratedAtMs   int64
}
