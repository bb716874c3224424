package memory

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"token-feature-lab/internal/domain"
	"token-feature-lab/internal/storage"
)

// CandleStore is an in-memory implementation of storage.CandleStore.
type CandleStore struct {
	mu   sync.RWMutex
	data map[string]*domain.Candle // keyed by (token_id, timeframe, timestamp_ms)
}

// NewCandleStore creates a new in-memory candle store.
func NewCandleStore() *CandleStore {
	return &CandleStore{
		data: make(map[string]*domain.Candle),
	}
}

// Compile-time interface check.
var _ storage.CandleStore = (*CandleStore)(nil)

// seriesKey generates a unique key for a candle.
func seriesKey(tokenID string, timeframe domain.Timeframe, timestampMs int64) string {
	return fmt.Sprintf("%s|%s|%d", tokenID, timeframe, timestampMs)
}

// InsertBulk adds multiple candles. Fails entire batch on duplicate.
func (s *CandleStore) InsertBulk(_ context.Context, candles []*domain.Candle) error {
	if len(candles) == 0 {
		return nil
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	// Track keys in this batch to detect intra-batch duplicates
	batchKeys := make(map[string]struct{}, len(candles))

	// First pass: check for duplicates (existing + intra-batch)
	for _, c := range candles {
		if c == nil || c.TokenID == "" {
			return storage.ErrInvalidInput
		}
		key := seriesKey(c.TokenID, c.Timeframe, c.TimestampMs)

		if _, exists := s.data[key]; exists {
			return storage.ErrDuplicateKey
		}
		if _, exists := batchKeys[key]; exists {
			return storage.ErrDuplicateKey
		}
		batchKeys[key] = struct{}{}
	}

	// Second pass: insert all
	for _, c := range candles {
		key := seriesKey(c.TokenID, c.Timeframe, c.TimestampMs)
		candleCopy := *c
		s.data[key] = &candleCopy
	}

	return nil
}

// GetSeries retrieves up to limit most recent candles, ascending.
func (s *CandleStore) GetSeries(_ context.Context, tokenID string, timeframe domain.Timeframe, limit int) ([]*domain.Candle, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var result []*domain.Candle
	for _, c := range s.data {
		if c.TokenID == tokenID && c.Timeframe == timeframe {
			candleCopy := *c
			result = append(result, &candleCopy)
		}
	}

	sort.Slice(result, func(i, j int) bool {
		return result[i].TimestampMs < result[j].TimestampMs
	})

	if limit > 0 && len(result) > limit {
		result = result[len(result)-limit:]
	}

	return result, nil
}

// GetByTimeRange retrieves candles within [start, end] (inclusive), ascending.
func (s *CandleStore) GetByTimeRange(_ context.Context, tokenID string, timeframe domain.Timeframe, start, end int64) ([]*domain.Candle, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var result []*domain.Candle
	for _, c := range s.data {
		if c.TokenID == tokenID && c.Timeframe == timeframe &&
			c.TimestampMs >= start && c.TimestampMs <= end {
			candleCopy := *c
			result = append(result, &candleCopy)
		}
	}

	sort.Slice(result, func(i, j int) bool {
		return result[i].TimestampMs < result[j].TimestampMs
	})

	return result, nil
}
