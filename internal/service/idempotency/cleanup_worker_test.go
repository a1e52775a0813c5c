package idempotency

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vladislavdragonenkov/retail-orders/internal/domain"
	"github.com/vladislavdragonenkov/retail-orders/internal/metrics"
	"github.com/vladislavdragonenkov/retail-orders/internal/storage/memory"
)

// batchRepo отдаёт заранее заданные результаты DeleteExpired; остальные
// методы порта не нужны воркеру и паникуют через nil-встраивание.
type batchRepo struct {
	domain.IdempotencyRepository

	mu      sync.Mutex
	results []int
	err     error
	limits  []int
}

func (r *batchRepo) DeleteExpired(_ context.Context, _ time.Time, limit int) (int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.limits = append(r.limits, limit)
	if r.err != nil {
		return 0, r.err
	}
	if len(r.results) == 0 {
		return 0, nil
	}
	n := r.results[0]
	r.results = r.results[1:]
	return n, nil
}

func (r *batchRepo) calls() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.limits)
}

func TestCleanupWorker_DeleteExpired(t *testing.T) {
	tests := []struct {
		name       string
		results    []int
		maxBatches int
		wantTotal  int
		wantCalls  int
	}{
		{name: "stops on partial batch", results: []int{2, 2, 1}, maxBatches: 10, wantTotal: 5, wantCalls: 3},
		{name: "nothing to delete", results: nil, maxBatches: 10, wantTotal: 0, wantCalls: 1},
		{name: "batch limit", results: []int{2, 2, 2, 2}, maxBatches: 2, wantTotal: 4, wantCalls: 2},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			repo := &batchRepo{results: tc.results}
			worker := NewCleanupWorker(repo, WithBatchSize(2), WithMaxBatches(tc.maxBatches))

			total, err := worker.DeleteExpired(context.Background(), time.Now())
			require.NoError(t, err)
			assert.Equal(t, tc.wantTotal, total)
			assert.Equal(t, tc.wantCalls, repo.calls())
			for _, limit := range repo.limits {
				assert.Equal(t, 2, limit)
			}
		})
	}
}

func TestCleanupWorker_DeleteExpiredErrors(t *testing.T) {
	failing := NewCleanupWorker(&batchRepo{err: errors.New("connection reset")})
	_, err := failing.DeleteExpired(context.Background(), time.Now())
	assert.ErrorContains(t, err, "connection reset")

	repo := &batchRepo{results: []int{10}}
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err = NewCleanupWorker(repo).DeleteExpired(ctx, time.Now())
	assert.ErrorIs(t, err, context.Canceled)
	assert.Zero(t, repo.calls(), "repo must not be touched after cancel")
}

func TestCleanupWorker_RunRecordsMetrics(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := metrics.NewIdempotencyMetrics(reg)
	repo := &batchRepo{results: []int{3}}
	worker := NewCleanupWorker(repo, WithInterval(5*time.Millisecond), WithBatchSize(10), WithMetrics(m))

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		worker.Run(ctx)
	}()

	require.Eventually(t, func() bool { return repo.calls() >= 2 }, time.Second, 5*time.Millisecond)
	cancel()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("worker did not stop on context cancel")
	}

	expected := `
# HELP retail_idempotency_cleanup_deleted_total Total number of deleted expired idempotency records
# TYPE retail_idempotency_cleanup_deleted_total counter
retail_idempotency_cleanup_deleted_total 3
`
	assert.NoError(t, testutil.GatherAndCompare(reg, strings.NewReader(expected), "retail_idempotency_cleanup_deleted_total"))
}

func TestCleanupWorker_RunWithoutRepo(t *testing.T) {
	done := make(chan struct{})
	go func() {
		defer close(done)
		NewCleanupWorker(nil).Run(context.Background())
	}()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("worker without repo must return immediately")
	}
}

func TestCleanupWorker_MemoryStoreKeepsLiveKeys(t *testing.T) {
	repo := memory.NewStore().Idempotency()
	ctx := context.Background()
	now := time.Now().UTC()

	keys := map[string]time.Duration{"stale-1": -time.Hour, "stale-2": -time.Minute, "stale-3": -time.Second, "live": time.Hour}
	for key, ttl := range keys {
		_, err := repo.CreateProcessing(ctx, key, "hash-"+key, now.Add(ttl))
		require.NoError(t, err)
	}

	deleted, err := NewCleanupWorker(repo, WithBatchSize(2)).DeleteExpired(ctx, now)
	require.NoError(t, err)
	assert.Equal(t, 3, deleted)

	_, err = repo.Get(ctx, "live")
	assert.NoError(t, err)
	_, err = repo.Get(ctx, "stale-2")
	assert.ErrorIs(t, err, domain.ErrIdempotencyKeyNotFound)
}
