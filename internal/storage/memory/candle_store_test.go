package memory

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"token-feature-lab/internal/domain"
	"token-feature-lab/internal/storage"
)

func candle(tokenID string, ts int64, close float64) *domain.Candle {
	return &domain.Candle{
		TokenID:     tokenID,
		Timeframe:   domain.Timeframe1h,
		TimestampMs: ts,
		Open:        close,
		High:        close,
		Low:         close,
		Close:       close,
		Volume:      100,
	}
}

func TestCandleStore_InsertBulkAndGetSeries(t *testing.T) {
	ctx := context.Background()
	store := NewCandleStore()

	err := store.InsertBulk(ctx, []*domain.Candle{
		candle("TokenA", 3000, 12),
		candle("TokenA", 1000, 10),
		candle("TokenA", 2000, 11),
		candle("TokenB", 1000, 99),
	})
	require.NoError(t, err)

	series, err := store.GetSeries(ctx, "TokenA", domain.Timeframe1h, 0)
	require.NoError(t, err)
	require.Len(t, series, 3)
	assert.Equal(t, int64(1000), series[0].TimestampMs)
	assert.Equal(t, int64(3000), series[2].TimestampMs)

	recent, err := store.GetSeries(ctx, "TokenA", domain.Timeframe1h, 2)
	require.NoError(t, err)
	require.Len(t, recent, 2)
	assert.Equal(t, int64(2000), recent[0].TimestampMs)
}

func TestCandleStore_InsertBulkDuplicate(t *testing.T) {
	ctx := context.Background()
	store := NewCandleStore()

	require.NoError(t, store.InsertBulk(ctx, []*domain.Candle{candle("DupToken", 1000, 10)}))

	// Duplicate against existing data
	err := store.InsertBulk(ctx, []*domain.Candle{candle("DupToken", 1000, 10)})
	assert.ErrorIs(t, err, storage.ErrDuplicateKey)

	// Intra-batch duplicate fails the whole batch
	err = store.InsertBulk(ctx, []*domain.Candle{
		candle("DupToken", 2000, 11),
		candle("DupToken", 2000, 11),
	})
	assert.ErrorIs(t, err, storage.ErrDuplicateKey)

	series, err := store.GetSeries(ctx, "DupToken", domain.Timeframe1h, 0)
	require.NoError(t, err)
	assert.Len(t, series, 1)
}

func TestCandleStore_GetByTimeRange(t *testing.T) {
	ctx := context.Background()
	store := NewCandleStore()

	require.NoError(t, store.InsertBulk(ctx, []*domain.Candle{
		candle("RangeToken", 1000, 10),
		candle("RangeToken", 2000, 11),
		candle("RangeToken", 3000, 12),
	}))

	candles, err := store.GetByTimeRange(ctx, "RangeToken", domain.Timeframe1h, 2000, 3000)
	require.NoError(t, err)
	require.Len(t, candles, 2)
	assert.Equal(t, int64(2000), candles[0].TimestampMs)
}

func TestCandleStore_TimeframesIsolated(t *testing.T) {
	ctx := context.Background()
	store := NewCandleStore()

	fiveMin := candle("IsoToken", 1000, 10)
	fiveMin.Timeframe = domain.Timeframe5m

	require.NoError(t, store.InsertBulk(ctx, []*domain.Candle{
		candle("IsoToken", 1000, 10),
		fiveMin,
	}))

	series, err := store.GetSeries(ctx, "IsoToken", domain.Timeframe1h, 0)
	require.NoError(t, err)
	assert.Len(t, series, 1)
}
