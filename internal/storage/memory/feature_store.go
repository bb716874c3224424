package memory

import (
	"context"
	"sort"
	"sync"

	"token-feature-lab/internal/domain"
	"token-feature-lab/internal/storage"
)

// FeatureStore is an in-memory implementation of storage.FeatureStore.
// Upserts overwrite by (token_id, timeframe, timestamp_ms), mirroring
// the ReplacingMergeTree semantics of the ClickHouse store.
type FeatureStore struct {
	mu   sync.RWMutex
	data map[string]*domain.FeatureRecord

	refreshCount int
}

// NewFeatureStore creates a new in-memory feature store.
func NewFeatureStore() *FeatureStore {
	return &FeatureStore{
		data: make(map[string]*domain.FeatureRecord),
	}
}

// Compile-time interface checks.
var (
	_ storage.FeatureStore           = (*FeatureStore)(nil)
	_ storage.LatestFeatureRefresher = (*FeatureStore)(nil)
)

// UpsertBulk writes records, overwriting existing keys.
func (s *FeatureStore) UpsertBulk(_ context.Context, records []*domain.FeatureRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, r := range records {
		if r == nil || r.TokenID == "" {
			return storage.ErrInvalidInput
		}
		recordCopy := *r
		s.data[seriesKey(r.TokenID, r.Timeframe, r.TimestampMs)] = &recordCopy
	}

	return nil
}

// GetSeries retrieves up to limit most recent records, ascending.
func (s *FeatureStore) GetSeries(_ context.Context, tokenID string, timeframe domain.Timeframe, limit int) ([]*domain.FeatureRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var result []*domain.FeatureRecord
	for _, r := range s.data {
		if r.TokenID == tokenID && r.Timeframe == timeframe {
			recordCopy := *r
			result = append(result, &recordCopy)
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

// RefreshLatest is a no-op for the in-memory store; it only records the
// call so tests can assert the pipeline triggered a refresh.
func (s *FeatureStore) RefreshLatest(_ context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.refreshCount++
	return nil
}

// RefreshCount reports how many times RefreshLatest was invoked.
func (s *FeatureStore) RefreshCount() int {
	s.mu.RLock()
	defer s.mu.RUnlock()

	return s.refreshCount
}
