package postgres

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"

	"token-feature-lab/internal/domain"
	"token-feature-lab/internal/storage"
)

// CandleStore implements storage.CandleStore using PostgreSQL.
type CandleStore struct {
	pool *Pool
}

// NewCandleStore creates a new CandleStore.
func NewCandleStore(pool *Pool) *CandleStore {
	return &CandleStore{pool: pool}
}

// Compile-time interface check.
var _ storage.CandleStore = (*CandleStore)(nil)

// InsertBulk adds multiple candles in one transaction. Returns
// ErrDuplicateKey if any (token_id, timeframe, timestamp_ms) exists.
func (s *CandleStore) InsertBulk(ctx context.Context, candles []*domain.Candle) error {
	if len(candles) == 0 {
		return nil
	}

	batch := &pgx.Batch{}
	query := `
		INSERT INTO candles (
			token_id, timeframe, timestamp_ms,
			open, high, low, close, volume, quote_volume
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
	`
	for _, c := range candles {
		if c == nil || c.TokenID == "" {
			return storage.ErrInvalidInput
		}
		batch.Queue(query,
			c.TokenID, string(c.Timeframe), c.TimestampMs,
			c.Open, c.High, c.Low, c.Close, c.Volume, c.QuoteVolume,
		)
	}

	results := s.pool.SendBatch(ctx, batch)
	defer results.Close()

	for range candles {
		if _, err := results.Exec(); err != nil {
			if isDuplicateKeyError(err) {
				return storage.ErrDuplicateKey
			}
			return fmt.Errorf("insert candles: %w", err)
		}
	}
	return nil
}

// GetSeries retrieves up to limit most recent candles for a series in
// ascending timestamp order. limit <= 0 returns the full series.
func (s *CandleStore) GetSeries(ctx context.Context, tokenID string, timeframe domain.Timeframe, limit int) ([]*domain.Candle, error) {
	query := `
		SELECT token_id, timeframe, timestamp_ms, open, high, low, close, volume, quote_volume
		FROM (
			SELECT token_id, timeframe, timestamp_ms, open, high, low, close, volume, quote_volume
			FROM candles
			WHERE token_id = $1 AND timeframe = $2
			ORDER BY timestamp_ms DESC
			LIMIT $3
		) recent
		ORDER BY timestamp_ms ASC
	`
	var lim interface{}
	if limit > 0 {
		lim = limit
	}

	rows, err := s.pool.Query(ctx, query, tokenID, string(timeframe), lim)
	if err != nil {
		return nil, fmt.Errorf("query candle series: %w", err)
	}
	defer rows.Close()

	return scanCandles(rows)
}

// GetByTimeRange retrieves candles within [start, end] (inclusive),
// ordered by timestamp ASC.
func (s *CandleStore) GetByTimeRange(ctx context.Context, tokenID string, timeframe domain.Timeframe, start, end int64) ([]*domain.Candle, error) {
	query := `
		SELECT token_id, timeframe, timestamp_ms, open, high, low, close, volume, quote_volume
		FROM candles
		WHERE token_id = $1 AND timeframe = $2 AND timestamp_ms >= $3 AND timestamp_ms <= $4
		ORDER BY timestamp_ms ASC
	`

	rows, err := s.pool.Query(ctx, query, tokenID, string(timeframe), start, end)
	if err != nil {
		return nil, fmt.Errorf("query candles by time range: %w", err)
	}
	defer rows.Close()

	return scanCandles(rows)
}

// scanCandles scans multiple rows.
func scanCandles(rows pgx.Rows) ([]*domain.Candle, error) {
	var candles []*domain.Candle

	for rows.Next() {
		var c domain.Candle
		var timeframe string
		err := rows.Scan(
			&c.TokenID, &timeframe, &c.TimestampMs,
			&c.Open, &c.High, &c.Low, &c.Close, &c.Volume, &c.QuoteVolume,
		)
		if err != nil {
			return nil, fmt.Errorf("scan candle row: %w", err)
		}
		c.Timeframe = domain.Timeframe(timeframe)
		candles = append(candles, &c)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate candle rows: %w", err)
	}
	return candles, nil
}
