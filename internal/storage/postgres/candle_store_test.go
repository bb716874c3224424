package postgres

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"token-feature-lab/internal/domain"
	"token-feature-lab/internal/storage"
)

func testCandle(tokenID string, ts int64, close float64) *domain.Candle {
	return &domain.Candle{
		TokenID:     tokenID,
		Timeframe:   domain.Timeframe1h,
		TimestampMs: ts,
		Open:        close - 1,
		High:        close + 2,
		Low:         close - 2,
		Close:       close,
		Volume:      1000,
		QuoteVolume: 1000 * close,
	}
}

func TestCandleStore_InsertBulkAndGetSeries(t *testing.T) {
	pool, cleanup := setupTestDB(t)
	defer cleanup()

	ctx := context.Background()
	store := NewCandleStore(pool)

	candles := []*domain.Candle{
		testCandle("TokenA", 1000, 10),
		testCandle("TokenA", 2000, 11),
		testCandle("TokenA", 3000, 12),
		testCandle("TokenA", 4000, 13),
		testCandle("TokenB", 1000, 99),
	}

	err := store.InsertBulk(ctx, candles)
	require.NoError(t, err)

	// Full series for TokenA, ascending
	series, err := store.GetSeries(ctx, "TokenA", domain.Timeframe1h, 0)
	require.NoError(t, err)
	require.Len(t, series, 4)
	assert.Equal(t, int64(1000), series[0].TimestampMs)
	assert.Equal(t, int64(4000), series[3].TimestampMs)

	// Limit returns the most recent bars, still ascending
	recent, err := store.GetSeries(ctx, "TokenA", domain.Timeframe1h, 2)
	require.NoError(t, err)
	require.Len(t, recent, 2)
	assert.Equal(t, int64(3000), recent[0].TimestampMs)
	assert.Equal(t, int64(4000), recent[1].TimestampMs)
	assert.InDelta(t, 13.0, recent[1].Close, 0.0001)
}

func TestCandleStore_GetByTimeRange(t *testing.T) {
	pool, cleanup := setupTestDB(t)
	defer cleanup()

	ctx := context.Background()
	store := NewCandleStore(pool)

	err := store.InsertBulk(ctx, []*domain.Candle{
		testCandle("RangeToken", 1000, 10),
		testCandle("RangeToken", 2000, 11),
		testCandle("RangeToken", 3000, 12),
	})
	require.NoError(t, err)

	// Range is inclusive on both ends
	candles, err := store.GetByTimeRange(ctx, "RangeToken", domain.Timeframe1h, 1000, 2000)
	require.NoError(t, err)
	require.Len(t, candles, 2)
	assert.Equal(t, int64(1000), candles[0].TimestampMs)
	assert.Equal(t, int64(2000), candles[1].TimestampMs)
}

func TestCandleStore_InsertDuplicate(t *testing.T) {
	pool, cleanup := setupTestDB(t)
	defer cleanup()

	ctx := context.Background()
	store := NewCandleStore(pool)

	candle := testCandle("DupToken", 1000, 10)

	err := store.InsertBulk(ctx, []*domain.Candle{candle})
	require.NoError(t, err)

	// Same (token_id, timeframe, timestamp_ms) must be rejected
	err = store.InsertBulk(ctx, []*domain.Candle{candle})
	assert.ErrorIs(t, err, storage.ErrDuplicateKey)
}

func TestCandleStore_InsertBulkAtomic(t *testing.T) {
	pool, cleanup := setupTestDB(t)
	defer cleanup()

	ctx := context.Background()
	store := NewCandleStore(pool)

	require.NoError(t, store.InsertBulk(ctx, []*domain.Candle{
		testCandle("AtomicToken", 2000, 11),
	}))

	// Batch with one duplicate fails as a whole
	err := store.InsertBulk(ctx, []*domain.Candle{
		testCandle("AtomicToken", 1000, 10),
		testCandle("AtomicToken", 2000, 11),
		testCandle("AtomicToken", 3000, 12),
	})
	assert.ErrorIs(t, err, storage.ErrDuplicateKey)

	series, err := store.GetSeries(ctx, "AtomicToken", domain.Timeframe1h, 0)
	require.NoError(t, err)
	assert.Len(t, series, 1)
}

func TestCandleStore_InsertBulkInvalidInput(t *testing.T) {
	pool, cleanup := setupTestDB(t)
	defer cleanup()

	ctx := context.Background()
	store := NewCandleStore(pool)

	err := store.InsertBulk(ctx, []*domain.Candle{testCandle("", 1000, 10)})
	assert.ErrorIs(t, err, storage.ErrInvalidInput)
}
