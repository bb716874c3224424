package scheduler

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"token-feature-lab/internal/domain"
	"token-feature-lab/internal/resilience"
)

func testLogger() *logrus.Logger {
	logger := logrus.New()
	logger.SetOutput(io.Discard)
	return logger
}

func makeJobs(n int) []Job {
	jobs := make([]Job, n)
	for i := range jobs {
		jobs[i] = Job{Task: domain.Task{TokenID: fmt.Sprintf("Token%d", i), Timeframe: domain.Timeframe1h}}
	}
	return jobs
}

func TestPool_Defaults(t *testing.T) {
	pool := NewPool(Options{Logger: testLogger()})
	assert.Greater(t, pool.Workers(), 0)
	assert.LessOrEqual(t, pool.Workers(), MaxWorkers)

	capped := NewPool(Options{Workers: 100, Logger: testLogger()})
	assert.Equal(t, MaxWorkers, capped.Workers())
}

func TestPool_DispatchAll(t *testing.T) {
	pool := NewPool(Options{Workers: 4, Logger: testLogger()})

	results := pool.Dispatch(context.Background(), makeJobs(20), func(job Job) ([]*domain.FeatureRecord, error) {
		return []*domain.FeatureRecord{{TokenID: job.Task.TokenID}}, nil
	})

	require.Len(t, results, 20)
	seen := make(map[string]bool)
	for _, r := range results {
		assert.True(t, r.Succeeded())
		require.Len(t, r.Records, 1)
		seen[r.Task.TokenID] = true
	}
	assert.Len(t, seen, 20)
}

func TestPool_EmptyJobs(t *testing.T) {
	pool := NewPool(Options{Workers: 2, Logger: testLogger()})
	assert.Nil(t, pool.Dispatch(context.Background(), nil, func(Job) ([]*domain.FeatureRecord, error) {
		t.Fatal("compute must not run")
		return nil, nil
	}))
}

// One job's failure never aborts the others.
func TestPool_MixedResults(t *testing.T) {
	pool := NewPool(Options{Workers: 4, Logger: testLogger()})

	results := pool.Dispatch(context.Background(), makeJobs(10), func(job Job) ([]*domain.FeatureRecord, error) {
		if job.Task.TokenID < "Token5" { // Token0..Token4
			return nil, resilience.New(resilience.CodeDatabaseConnection, "fetch", errors.New("refused"))
		}
		return []*domain.FeatureRecord{{TokenID: job.Task.TokenID}}, nil
	})

	require.Len(t, results, 10)
	succeeded, failed := 0, 0
	for _, r := range results {
		if r.Succeeded() {
			succeeded++
		} else {
			failed++
			assert.Equal(t, resilience.CodeDatabaseConnection, r.Err.Code)
			assert.Equal(t, r.Task.TokenID, r.Err.TokenID)
		}
	}
	assert.Equal(t, 5, succeeded)
	assert.Equal(t, 5, failed)
}

func TestPool_BoundsConcurrency(t *testing.T) {
	const workers = 3
	pool := NewPool(Options{Workers: workers, Logger: testLogger()})

	var current, peak int64
	var mu sync.Mutex
	results := pool.Dispatch(context.Background(), makeJobs(12), func(Job) ([]*domain.FeatureRecord, error) {
		n := atomic.AddInt64(&current, 1)
		mu.Lock()
		if n > peak {
			peak = n
		}
		mu.Unlock()
		time.Sleep(10 * time.Millisecond)
		atomic.AddInt64(&current, -1)
		return nil, nil
	})

	require.Len(t, results, 12)
	assert.LessOrEqual(t, peak, int64(workers))
}

// A worker exceeding the task timeout is abandoned with a TIMEOUT error;
// its eventual output is discarded.
func TestPool_TimeoutAbandonsWorker(t *testing.T) {
	pool := NewPool(Options{Workers: 2, TaskTimeout: 20 * time.Millisecond, Logger: testLogger()})

	block := make(chan struct{})
	defer close(block)

	jobs := makeJobs(2)
	results := pool.Dispatch(context.Background(), jobs, func(job Job) ([]*domain.FeatureRecord, error) {
		if job.Task.TokenID == "Token0" {
			<-block
		}
		return []*domain.FeatureRecord{{TokenID: job.Task.TokenID}}, nil
	})

	require.Len(t, results, 2)
	byToken := make(map[string]Result)
	for _, r := range results {
		byToken[r.Task.TokenID] = r
	}

	slow := byToken["Token0"]
	require.False(t, slow.Succeeded())
	assert.Equal(t, resilience.CodeTimeout, slow.Err.Code)
	assert.Equal(t, 20*time.Millisecond, slow.Err.Timeout)
	assert.Nil(t, slow.Records)

	fast := byToken["Token1"]
	assert.True(t, fast.Succeeded())
}

// A panicking compute is recovered into a WORKER error instead of killing
// the process.
func TestPool_PanicBecomesWorkerError(t *testing.T) {
	pool := NewPool(Options{Workers: 2, Logger: testLogger()})

	results := pool.Dispatch(context.Background(), makeJobs(1), func(Job) ([]*domain.FeatureRecord, error) {
		panic("index out of range")
	})

	require.Len(t, results, 1)
	require.False(t, results[0].Succeeded())
	assert.Equal(t, resilience.CodeWorker, results[0].Err.Code)
	assert.Contains(t, results[0].Err.Error(), "index out of range")
}

func TestPool_ResultCarriesDuration(t *testing.T) {
	pool := NewPool(Options{Workers: 1, Logger: testLogger()})

	results := pool.Dispatch(context.Background(), makeJobs(1), func(Job) ([]*domain.FeatureRecord, error) {
		time.Sleep(15 * time.Millisecond)
		return nil, nil
	})

	require.Len(t, results, 1)
	assert.GreaterOrEqual(t, results[0].Duration, 15*time.Millisecond)
}
