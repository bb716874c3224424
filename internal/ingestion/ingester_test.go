package ingestion

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"token-feature-lab/internal/domain"
	"token-feature-lab/internal/storage/memory"
)

func ingestCandle(ts int64) *domain.Candle {
	return &domain.Candle{
		TokenID:     "TokenA",
		Timeframe:   domain.Timeframe1h,
		TimestampMs: ts,
		Open:        100, High: 102, Low: 98, Close: 101,
		Volume: 1000, QuoteVolume: 101_000,
	}
}

func TestIngester_RequiresStoreAndSource(t *testing.T) {
	_, err := NewIngester(IngesterOptions{Source: make(chan *domain.Candle)})
	assert.Error(t, err)

	_, err = NewIngester(IngesterOptions{Store: memory.NewCandleStore()})
	assert.Error(t, err)
}

func TestIngester_FlushesOnBatchSize(t *testing.T) {
	store := memory.NewCandleStore()
	source := make(chan *domain.Candle)

	ingester, err := NewIngester(IngesterOptions{
		Store:         store,
		Source:        source,
		Logger:        quietLogger(),
		BatchSize:     3,
		FlushInterval: time.Hour, // timer never fires
	})
	require.NoError(t, err)

	runDone := make(chan error, 1)
	go func() { runDone <- ingester.Run(context.Background()) }()

	for ts := int64(1000); ts <= 3000; ts += 1000 {
		source <- ingestCandle(ts)
	}
	close(source)
	require.NoError(t, <-runDone)

	candles, err := store.GetSeries(context.Background(), "TokenA", domain.Timeframe1h, 0)
	require.NoError(t, err)
	assert.Len(t, candles, 3)
	assert.Equal(t, int64(3), ingester.Inserted())
	assert.Equal(t, int64(0), ingester.Skipped())
}

func TestIngester_FlushesOnTimer(t *testing.T) {
	store := memory.NewCandleStore()
	source := make(chan *domain.Candle)

	ingester, err := NewIngester(IngesterOptions{
		Store:         store,
		Source:        source,
		Logger:        quietLogger(),
		BatchSize:     100,
		FlushInterval: 20 * time.Millisecond,
	})
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	runDone := make(chan error, 1)
	go func() { runDone <- ingester.Run(ctx) }()

	source <- ingestCandle(1000)
	source <- ingestCandle(2000)

	assert.Eventually(t, func() bool {
		candles, err := store.GetSeries(context.Background(), "TokenA", domain.Timeframe1h, 0)
		return err == nil && len(candles) == 2
	}, 2*time.Second, 10*time.Millisecond)

	close(source)
	require.NoError(t, <-runDone)
}

func TestIngester_SkipsDuplicatesAfterReplay(t *testing.T) {
	store := memory.NewCandleStore()
	require.NoError(t, store.InsertBulk(context.Background(), []*domain.Candle{ingestCandle(1000)}))

	source := make(chan *domain.Candle)
	ingester, err := NewIngester(IngesterOptions{
		Store:         store,
		Source:        source,
		Logger:        quietLogger(),
		BatchSize:     2,
		FlushInterval: time.Hour,
	})
	require.NoError(t, err)

	runDone := make(chan error, 1)
	go func() { runDone <- ingester.Run(context.Background()) }()

	// A feed reconnect re-delivers the bar at 1000.
	source <- ingestCandle(1000)
	source <- ingestCandle(2000)
	close(source)
	require.NoError(t, <-runDone)

	candles, err := store.GetSeries(context.Background(), "TokenA", domain.Timeframe1h, 0)
	require.NoError(t, err)
	assert.Len(t, candles, 2)
	assert.Equal(t, int64(1), ingester.Inserted())
	assert.Equal(t, int64(1), ingester.Skipped())
}

func TestIngester_CancelFlushesBufferedCandles(t *testing.T) {
	store := memory.NewCandleStore()
	source := make(chan *domain.Candle)

	ingester, err := NewIngester(IngesterOptions{
		Store:         store,
		Source:        source,
		Logger:        quietLogger(),
		BatchSize:     100,
		FlushInterval: time.Hour,
	})
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	runDone := make(chan error, 1)
	go func() { runDone <- ingester.Run(ctx) }()

	source <- ingestCandle(1000)
	source <- ingestCandle(2000)
	cancel()

	assert.ErrorIs(t, <-runDone, context.Canceled)

	candles, err := store.GetSeries(context.Background(), "TokenA", domain.Timeframe1h, 0)
	require.NoError(t, err)
	assert.Len(t, candles, 2)
}
