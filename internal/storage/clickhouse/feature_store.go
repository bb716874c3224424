package clickhouse

import (
	"context"
	"fmt"

	"token-feature-lab/internal/domain"
	"token-feature-lab/internal/storage"
)

// upsertChunkSize caps the rows per insert batch. ClickHouse prefers
// fewer, larger inserts, but a failed batch is retried whole, so the
// chunk bounds the blast radius of a mid-stream failure.
const upsertChunkSize = 500

// FeatureStore implements storage.FeatureStore backed by a
// ReplacingMergeTree table. Re-inserting a (token_id, timeframe,
// timestamp_ms) key supersedes the earlier row at merge time, which
// makes UpsertBulk idempotent.
type FeatureStore struct {
	conn *Conn
}

// NewFeatureStore creates a new FeatureStore.
func NewFeatureStore(conn *Conn) *FeatureStore {
	return &FeatureStore{conn: conn}
}

// Compile-time interface checks.
var (
	_ storage.FeatureStore           = (*FeatureStore)(nil)
	_ storage.LatestFeatureRefresher = (*FeatureStore)(nil)
)

const insertFeaturesQuery = `
	INSERT INTO token_features (
		token_id, timeframe, timestamp_ms, close, volume,
		sma_7, sma_20, sma_50, sma_200,
		ema_7, ema_20, ema_50, ema_200,
		rsi_14, macd, macd_signal, macd_hist,
		atr_14, bb_width, bb_width_rank,
		donchian_high_20, donchian_low_20,
		breakout_high_20, breakout_low_20, near_breakout_high,
		volume_zscore, volume_zscore_slope,
		golden_cross, death_cross, bullish_rsi_divergence,
		vwap, vwap_distance, vwap_band_position,
		vwap_breakout_bullish, vwap_breakout_bearish,
		support_level, resistance_level,
		support_distance, resistance_distance,
		near_support, near_resistance,
		smart_money_index, trend_alignment, volume_profile_score,
		smart_money_bullish, trend_aligned
	)
`

// UpsertBulk inserts feature records in chunks. Safe to call with rows
// that already exist: the table's ReplacingMergeTree engine deduplicates
// by key on merge.
func (s *FeatureStore) UpsertBulk(ctx context.Context, records []*domain.FeatureRecord) error {
	for start := 0; start < len(records); start += upsertChunkSize {
		end := start + upsertChunkSize
		if end > len(records) {
			end = len(records)
		}
		if err := s.insertChunk(ctx, records[start:end]); err != nil {
			return fmt.Errorf("upsert features chunk [%d:%d]: %w", start, end, err)
		}
	}
	return nil
}

func (s *FeatureStore) insertChunk(ctx context.Context, records []*domain.FeatureRecord) error {
	batch, err := s.conn.PrepareBatch(ctx, insertFeaturesQuery)
	if err != nil {
		return fmt.Errorf("prepare batch: %w", err)
	}

	for _, r := range records {
		if r == nil || r.TokenID == "" {
			return storage.ErrInvalidInput
		}
		err := batch.Append(
			r.TokenID, string(r.Timeframe), r.TimestampMs, r.Close, r.Volume,
			r.SMA7, r.SMA20, r.SMA50, r.SMA200,
			r.EMA7, r.EMA20, r.EMA50, r.EMA200,
			r.RSI14, r.MACD, r.MACDSignal, r.MACDHist,
			r.ATR14, r.BBWidth, r.BBWidthRank,
			r.DonchianHigh20, r.DonchianLow20,
			r.BreakoutHigh20, r.BreakoutLow20, r.NearBreakoutHigh,
			r.VolumeZScore, r.VolumeZScoreSlope,
			r.GoldenCross, r.DeathCross, r.BullishRSIDivergence,
			r.VWAP, r.VWAPDistance, r.VWAPBandPosition,
			r.VWAPBreakoutBullish, r.VWAPBreakoutBearish,
			r.SupportLevel, r.ResistanceLevel,
			r.SupportDistance, r.ResistanceDistance,
			r.NearSupport, r.NearResistance,
			r.SmartMoneyIndex, r.TrendAlignment, r.VolumeProfileScore,
			r.SmartMoneyBullish, r.TrendAligned,
		)
		if err != nil {
			return fmt.Errorf("append feature row: %w", err)
		}
	}

	if err := batch.Send(); err != nil {
		return fmt.Errorf("send batch: %w", err)
	}
	return nil
}

// GetSeries retrieves up to limit most recent feature records for a
// series in ascending timestamp order. limit <= 0 returns the full
// series. FINAL collapses superseded rows so re-runs never double-count.
func (s *FeatureStore) GetSeries(ctx context.Context, tokenID string, timeframe domain.Timeframe, limit int) ([]*domain.FeatureRecord, error) {
	query := `
		SELECT
			token_id, timeframe, timestamp_ms, close, volume,
			sma_7, sma_20, sma_50, sma_200,
			ema_7, ema_20, ema_50, ema_200,
			rsi_14, macd, macd_signal, macd_hist,
			atr_14, bb_width, bb_width_rank,
			donchian_high_20, donchian_low_20,
			breakout_high_20, breakout_low_20, near_breakout_high,
			volume_zscore, volume_zscore_slope,
			golden_cross, death_cross, bullish_rsi_divergence,
			vwap, vwap_distance, vwap_band_position,
			vwap_breakout_bullish, vwap_breakout_bearish,
			support_level, resistance_level,
			support_distance, resistance_distance,
			near_support, near_resistance,
			smart_money_index, trend_alignment, volume_profile_score,
			smart_money_bullish, trend_aligned
		FROM token_features FINAL
		WHERE token_id = ? AND timeframe = ?
		ORDER BY timestamp_ms DESC
	`
	args := []interface{}{tokenID, string(timeframe)}
	if limit > 0 {
		query += " LIMIT ?"
		args = append(args, limit)
	}

	rows, err := s.conn.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query feature series: %w", err)
	}
	defer rows.Close()

	var records []*domain.FeatureRecord
	for rows.Next() {
		var r domain.FeatureRecord
		var timeframe string
		err := rows.Scan(
			&r.TokenID, &timeframe, &r.TimestampMs, &r.Close, &r.Volume,
			&r.SMA7, &r.SMA20, &r.SMA50, &r.SMA200,
			&r.EMA7, &r.EMA20, &r.EMA50, &r.EMA200,
			&r.RSI14, &r.MACD, &r.MACDSignal, &r.MACDHist,
			&r.ATR14, &r.BBWidth, &r.BBWidthRank,
			&r.DonchianHigh20, &r.DonchianLow20,
			&r.BreakoutHigh20, &r.BreakoutLow20, &r.NearBreakoutHigh,
			&r.VolumeZScore, &r.VolumeZScoreSlope,
			&r.GoldenCross, &r.DeathCross, &r.BullishRSIDivergence,
			&r.VWAP, &r.VWAPDistance, &r.VWAPBandPosition,
			&r.VWAPBreakoutBullish, &r.VWAPBreakoutBearish,
			&r.SupportLevel, &r.ResistanceLevel,
			&r.SupportDistance, &r.ResistanceDistance,
			&r.NearSupport, &r.NearResistance,
			&r.SmartMoneyIndex, &r.TrendAlignment, &r.VolumeProfileScore,
			&r.SmartMoneyBullish, &r.TrendAligned,
		)
		if err != nil {
			return nil, fmt.Errorf("scan feature row: %w", err)
		}
		r.Timeframe = domain.Timeframe(timeframe)
		records = append(records, &r)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate feature rows: %w", err)
	}

	// Reverse DESC page into ascending order.
	for i, j := 0, len(records)-1; i < j; i, j = i+1, j-1 {
		records[i], records[j] = records[j], records[i]
	}
	return records, nil
}

// RefreshLatest forces a merge so superseded rows are collapsed and
// readers that skip FINAL see only the latest version of each key.
func (s *FeatureStore) RefreshLatest(ctx context.Context) error {
	if err := s.conn.Exec(ctx, "OPTIMIZE TABLE token_features FINAL"); err != nil {
		return fmt.Errorf("optimize token_features: %w", err)
	}
	return nil
}
