package ingestion

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/sirupsen/logrus"

	"token-feature-lab/internal/domain"
	"token-feature-lab/internal/observability"
	"token-feature-lab/internal/storage"
)

const (
	defaultBatchSize     = 100
	defaultFlushInterval = 5 * time.Second
	finalFlushTimeout    = 5 * time.Second
)

// IngesterOptions configures an Ingester.
type IngesterOptions struct {
	Store  storage.CandleStore
	Source <-chan *domain.Candle
	Logger *logrus.Logger

	// Metrics is optional; nil disables instrumentation.
	Metrics *observability.Metrics

	// BatchSize is the flush threshold. Defaults to 100.
	BatchSize int
	// FlushInterval bounds how long a partial batch waits. Defaults to 5s.
	FlushInterval time.Duration
}

// Ingester drains a candle channel into the candle store in batches. Batches
// flush on size or on a timer, whichever comes first. Duplicate keys are
// expected after feed reconnects and are skipped, not errored.
type Ingester struct {
	store         storage.CandleStore
	source        <-chan *domain.Candle
	logger        *logrus.Logger
	metrics       *observability.Metrics
	batchSize     int
	flushInterval time.Duration

	inserted int64
	skipped  int64
}

// NewIngester creates an Ingester.
func NewIngester(opts IngesterOptions) (*Ingester, error) {
	if opts.Store == nil {
		return nil, fmt.Errorf("ingester requires a candle store")
	}
	if opts.Source == nil {
		return nil, fmt.Errorf("ingester requires a candle source")
	}
	if opts.Logger == nil {
		opts.Logger = logrus.New()
	}
	if opts.BatchSize <= 0 {
		opts.BatchSize = defaultBatchSize
	}
	if opts.FlushInterval <= 0 {
		opts.FlushInterval = defaultFlushInterval
	}
	return &Ingester{
		store:         opts.Store,
		source:        opts.Source,
		logger:        opts.Logger,
		metrics:       opts.Metrics,
		batchSize:     opts.BatchSize,
		flushInterval: opts.FlushInterval,
	}, nil
}

// Inserted reports how many candles have been persisted.
func (in *Ingester) Inserted() int64 { return in.inserted }

// Skipped reports how many duplicate candles were dropped.
func (in *Ingester) Skipped() int64 { return in.skipped }

// Run consumes the source channel until it closes or the context is
// cancelled, flushing any buffered candles before returning.
func (in *Ingester) Run(ctx context.Context) error {
	batch := make([]*domain.Candle, 0, in.batchSize)

	ticker := time.NewTicker(in.flushInterval)
	defer ticker.Stop()

	finalFlush := func() error {
		if len(batch) == 0 {
			return nil
		}
		// The run context may already be cancelled; the buffered bars still
		// have to land.
		flushCtx, cancel := context.WithTimeout(context.Background(), finalFlushTimeout)
		defer cancel()
		return in.flush(flushCtx, batch)
	}

	for {
		select {
		case <-ctx.Done():
			if err := finalFlush(); err != nil {
				return err
			}
			return ctx.Err()

		case candle, ok := <-in.source:
			if !ok {
				return finalFlush()
			}
			batch = append(batch, candle)
			if len(batch) >= in.batchSize {
				if err := in.flush(ctx, batch); err != nil {
					return err
				}
				batch = batch[:0]
			}

		case <-ticker.C:
			if len(batch) == 0 {
				continue
			}
			if err := in.flush(ctx, batch); err != nil {
				return err
			}
			batch = batch[:0]
		}
	}
}

// flush writes one batch. A duplicate key fails the whole bulk insert, so on
// that error the batch is replayed candle by candle, skipping duplicates.
func (in *Ingester) flush(ctx context.Context, batch []*domain.Candle) error {
	err := in.store.InsertBulk(ctx, batch)
	if err == nil {
		in.recordInserted(len(batch))
		return nil
	}
	if !errors.Is(err, storage.ErrDuplicateKey) {
		return fmt.Errorf("flush candle batch: %w", err)
	}

	for _, candle := range batch {
		err := in.store.InsertBulk(ctx, []*domain.Candle{candle})
		switch {
		case err == nil:
			in.recordInserted(1)
		case errors.Is(err, storage.ErrDuplicateKey):
			in.skipped++
		default:
			return fmt.Errorf("flush candle: %w", err)
		}
	}

	in.logger.WithFields(logrus.Fields{
		"batch":   len(batch),
		"skipped": in.skipped,
	}).Debug("candle batch contained duplicates")
	return nil
}

func (in *Ingester) recordInserted(n int) {
	in.inserted += int64(n)
	if in.metrics != nil {
		in.metrics.CandlesIngested.Add(float64(n))
	}
}
