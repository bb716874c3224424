package quality

import (
	"fmt"

	"token-feature-lab/internal/domain"
)

// CheckSeriesIntegrity runs structural checks over one (token_id, timeframe)
// candle series: duplicate timestamps, ordering, and expected row count.
// expectedRows <= 0 skips the row-count check.
func CheckSeriesIntegrity(tokenID string, timeframe domain.Timeframe, candles []*domain.Candle, expectedRows int) []domain.IntegrityCheck {
	var nowMs int64
	if len(candles) > 0 {
		nowMs = candles[len(candles)-1].TimestampMs
	}

	checks := make([]domain.IntegrityCheck, 0, 3)

	// Duplicate timestamps
	seen := make(map[int64]struct{}, len(candles))
	duplicates := 0
	for _, c := range candles {
		if _, ok := seen[c.TimestampMs]; ok {
			duplicates++
			continue
		}
		seen[c.TimestampMs] = struct{}{}
	}
	dup := domain.IntegrityCheck{
		Type:        "duplicate_timestamps",
		Status:      domain.IntegrityPass,
		Description: fmt.Sprintf("%s/%s: no duplicate timestamps", tokenID, timeframe),
		TimestampMs: nowMs,
	}
	if duplicates > 0 {
		dup.Status = domain.IntegrityFail
		dup.Description = fmt.Sprintf("%s/%s: %d duplicate timestamp(s)", tokenID, timeframe, duplicates)
	}
	checks = append(checks, dup)

	// Strict ascending order
	outOfOrder := 0
	for i := 1; i < len(candles); i++ {
		if candles[i].TimestampMs <= candles[i-1].TimestampMs {
			outOfOrder++
		}
	}
	ord := domain.IntegrityCheck{
		Type:        "timestamp_ordering",
		Status:      domain.IntegrityPass,
		Description: fmt.Sprintf("%s/%s: strictly ascending timestamps", tokenID, timeframe),
		TimestampMs: nowMs,
	}
	if outOfOrder > 0 {
		ord.Status = domain.IntegrityFail
		ord.Description = fmt.Sprintf("%s/%s: %d out-of-order timestamp(s)", tokenID, timeframe, outOfOrder)
	}
	checks = append(checks, ord)

	// Expected row count
	if expectedRows > 0 {
		rc := domain.IntegrityCheck{
			Type:        "row_count",
			Status:      domain.IntegrityPass,
			Description: fmt.Sprintf("%s/%s: %d rows as expected", tokenID, timeframe, len(candles)),
			TimestampMs: nowMs,
		}
		if len(candles) != expectedRows {
			rc.Status = domain.IntegrityFail
			rc.Description = fmt.Sprintf("%s/%s: %d rows, expected %d", tokenID, timeframe, len(candles), expectedRows)
		}
		checks = append(checks, rc)
	}

	return checks
}
