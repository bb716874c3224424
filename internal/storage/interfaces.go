package storage

import (
	"context"

	"token-feature-lab/internal/domain"
)

// CandleStore provides access to the candles table (the candle source).
type CandleStore interface {
	// InsertBulk adds multiple candles. Returns ErrDuplicateKey if any
	// (token_id, timeframe, timestamp_ms) already exists.
	InsertBulk(ctx context.Context, candles []*domain.Candle) error

	// GetSeries retrieves up to limit most recent candles for a series,
	// returned in ascending timestamp order. limit <= 0 returns all.
	GetSeries(ctx context.Context, tokenID string, timeframe domain.Timeframe, limit int) ([]*domain.Candle, error)

	// GetByTimeRange retrieves candles within [start, end] (inclusive),
	// ordered by timestamp ASC.
	GetByTimeRange(ctx context.Context, tokenID string, timeframe domain.Timeframe, start, end int64) ([]*domain.Candle, error)
}

// FeatureStore provides access to the token_features table (the feature sink).
type FeatureStore interface {
	// UpsertBulk writes feature records idempotently, keyed by
	// (token_id, timeframe, timestamp_ms). Re-running a batch with the
	// same keys supersedes the earlier rows. Writes are chunked internally
	// to keep payloads bounded.
	UpsertBulk(ctx context.Context, records []*domain.FeatureRecord) error

	// GetSeries retrieves up to limit most recent feature records for a
	// series, returned in ascending timestamp order. limit <= 0 returns all.
	GetSeries(ctx context.Context, tokenID string, timeframe domain.Timeframe, limit int) ([]*domain.FeatureRecord, error)
}

// LatestFeatureRefresher refreshes the materialized "latest features" view.
// Invoked once per full run; failure is logged, never fatal to the run.
type LatestFeatureRefresher interface {
	RefreshLatest(ctx context.Context) error
}
