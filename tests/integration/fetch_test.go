//go:build integration

package integration

import (
	"context"
	"testing"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/wait"

	"github.com/chainfetch/chainfetch/internal/testutil"
	"github.com/chainfetch/chainfetch/pkg/cache"
	"github.com/chainfetch/chainfetch/pkg/fetcher"
	"github.com/chainfetch/chainfetch/pkg/provider"
	"github.com/chainfetch/chainfetch/pkg/ratelimit"
	"github.com/chainfetch/chainfetch/pkg/retry"
)

// setupRedis creates a Redis container for integration testing.
func setupRedis(t *testing.T) (*redis.Client, func()) {
	t.Helper()

	ctx := context.Background()

	req := testcontainers.ContainerRequest{
		Image:        "redis:7-alpine",
		ExposedPorts: []string{"6379/tcp"},
		WaitingFor:   wait.ForLog("Ready to accept connections"),
	}

	container, err := testcontainers.GenericContainer(ctx, testcontainers.GenericContainerRequest{
		ContainerRequest: req,
		Started:          true,
	})
	if err != nil {
		t.Fatalf("Failed to start Redis container: %v", err)
	}

	host, err := container.Host(ctx)
	if err != nil {
		t.Fatalf("Failed to get container host: %v", err)
	}

	port, err := container.MappedPort(ctx, "6379")
	if err != nil {
		t.Fatalf("Failed to get container port: %v", err)
	}

	redisClient := redis.NewClient(&redis.Options{
		Addr: host + ":" + port.Port(),
	})

	cleanup := func() {
		redisClient.Close()
		container.Terminate(ctx)
	}

	return redisClient, cleanup
}

func newClient(t *testing.T, mock *testutil.MockProvider, pageCache *cache.Manager) *provider.Client {
	t.Helper()
	client, err := provider.New(provider.Config{
		BaseURL: mock.URL(),
		APIKey:  "test-key",
		Cache:   pageCache,
	})
	if err != nil {
		t.Fatalf("provider.New() error = %v", err)
	}
	return client
}

// TestRangeFetchFlow exercises the full adaptive range flow against a
// cap-truncating provider with the shared limiter and page cache in
// front: limiter admission, split on saturation, dedup, ordered output.
func TestRangeFetchFlow(t *testing.T) {
	redisClient, cleanup := setupRedis(t)
	defer cleanup()

	mock := testutil.NewMockProvider()
	defer mock.Close()
	mock.HeadBlock = 2047
	mock.ResultCap = 256

	pageCache := cache.NewManager(redisClient, time.Hour)
	client := newClient(t, mock, pageCache)

	engine := fetcher.New(fetcher.Config{
		MaxConcurrent: 4,
		Limiter:       ratelimit.NewSharedLimiter(redisClient, 5*time.Millisecond),
		Retry:         retry.DefaultPolicy("txlist"),
	})

	spec := fetcher.DefaultRangeSpec("txlist",
		client.RangeFunc("account", "txlist", map[string]string{"address": "0xabc"}))
	spec.Key = provider.ItemKey("hash")
	spec.Order = provider.ItemOrder("blockNumber", "transactionIndex")
	spec.MaxOffset = 256
	spec.MinRangeWidth = 16
	spec.RPSKey = "provider"

	items, stats, err := engine.FetchAllRanges(context.Background(), 0, 2047, spec)
	if err != nil {
		t.Fatalf("FetchAllRanges() error = %v", err)
	}

	// One tx per block over [0, 2047].
	if len(items) != 2048 {
		t.Fatalf("got %d items, want 2048", len(items))
	}
	if stats.RangesSplit == 0 {
		t.Error("expected splits against a cap-truncating provider")
	}
	if stats.RangesFailed != 0 {
		t.Errorf("RangesFailed = %d, want 0", stats.RangesFailed)
	}
	for i, it := range items {
		block, _ := spec.Order(it)
		if block != int64(i) {
			t.Fatalf("items[%d] block = %d, want %d", i, block, i)
		}
	}
}

// TestRangeFetchCacheReuse verifies a second identical run is served
// from the page cache without new provider calls.
func TestRangeFetchCacheReuse(t *testing.T) {
	redisClient, cleanup := setupRedis(t)
	defer cleanup()

	mock := testutil.NewMockProvider()
	defer mock.Close()
	mock.HeadBlock = 500
	mock.ResultCap = 10_000

	pageCache := cache.NewManager(redisClient, time.Hour)
	client := newClient(t, mock, pageCache)
	engine := fetcher.New(fetcher.Config{MaxConcurrent: 2})

	spec := fetcher.DefaultRangeSpec("txlist",
		client.RangeFunc("account", "txlist", nil))
	spec.Key = provider.ItemKey("hash")
	spec.Order = provider.ItemOrder("blockNumber", "transactionIndex")

	first, _, err := engine.FetchAllRanges(context.Background(), 100, 200, spec)
	if err != nil {
		t.Fatalf("first run error = %v", err)
	}
	callsAfterFirst := mock.GetRequestCount()

	second, _, err := engine.FetchAllRanges(context.Background(), 100, 200, spec)
	if err != nil {
		t.Fatalf("second run error = %v", err)
	}

	if mock.GetRequestCount() != callsAfterFirst {
		t.Errorf("second run made %d new provider calls, want 0",
			mock.GetRequestCount()-callsAfterFirst)
	}
	if len(first) != len(second) {
		t.Errorf("cache run returned %d items, direct run %d", len(second), len(first))
	}
}

// TestPagedFetchFlow exercises paged pagination with chain head
// resolution end to end.
func TestPagedFetchFlow(t *testing.T) {
	redisClient, cleanup := setupRedis(t)
	defer cleanup()

	mock := testutil.NewMockProvider()
	defer mock.Close()
	mock.HeadBlock = 249

	client := newClient(t, mock, nil)
	engine := fetcher.New(fetcher.Config{
		MaxConcurrent: 3,
		Limiter:       ratelimit.NewSharedLimiter(redisClient, time.Millisecond),
	})

	spec := fetcher.FetchSpec{
		Name:            "txlist",
		FetchPage:       client.PageFunc("account", "txlist", nil),
		Key:             provider.ItemKey("hash"),
		Order:           provider.ItemOrder("blockNumber", "transactionIndex"),
		MaxOffset:       100,
		ResolveEndBlock: client.ResolveEndBlock,
	}
	policy := fetcher.Policy{
		Mode:     fetcher.ModePaged,
		Prefetch: 2,
		RPSKey:   "provider",
	}

	items, stats, err := engine.FetchAllPages(context.Background(), 0, fetcher.EndBlockLatest, spec, policy)
	if err != nil {
		t.Fatalf("FetchAllPages() error = %v", err)
	}

	if len(items) != 250 {
		t.Fatalf("got %d items, want 250", len(items))
	}
	if stats.EndBlock != 249 {
		t.Errorf("resolved end block = %d, want 249", stats.EndBlock)
	}
	if stats.PagesProcessed < 3 {
		t.Errorf("PagesProcessed = %d, want >= 3", stats.PagesProcessed)
	}
}

// TestSharedLimiterAcrossEngines verifies two engines sharing a Redis
// limiter key pace each other.
func TestSharedLimiterAcrossEngines(t *testing.T) {
	redisClient, cleanup := setupRedis(t)
	defer cleanup()

	mock := testutil.NewMockProvider()
	defer mock.Close()
	mock.HeadBlock = 9

	client := newClient(t, mock, nil)
	interval := 60 * time.Millisecond

	newEngine := func() *fetcher.Engine {
		return fetcher.New(fetcher.Config{
			MaxConcurrent: 2,
			Limiter:       ratelimit.NewSharedLimiter(redisClient, interval),
		})
	}

	spec := fetcher.DefaultRangeSpec("txlist", client.RangeFunc("account", "txlist", nil))
	spec.Key = provider.ItemKey("hash")
	spec.Order = provider.ItemOrder("blockNumber", "transactionIndex")
	spec.EdgesFirst = false
	spec.RPSKey = "provider"

	start := time.Now()
	done := make(chan error, 2)
	for i := 0; i < 2; i++ {
		go func() {
			_, _, err := newEngine().FetchAllRanges(context.Background(), 0, 9, spec)
			done <- err
		}()
	}
	for i := 0; i < 2; i++ {
		if err := <-done; err != nil {
			t.Fatalf("fetch error = %v", err)
		}
	}

	// Two single-call runs behind one shared slot need at least one
	// interval between them.
	if elapsed := time.Since(start); elapsed < interval {
		t.Errorf("runs completed in %v, want >= %v", elapsed, interval)
	}
}
