package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/chainfetch/chainfetch/pkg/cache"
	"github.com/chainfetch/chainfetch/pkg/fetcher"
	"github.com/chainfetch/chainfetch/pkg/logging"
	"github.com/chainfetch/chainfetch/pkg/provider"
	"github.com/chainfetch/chainfetch/pkg/ratelimit"
	"github.com/chainfetch/chainfetch/pkg/retry"
	"github.com/chainfetch/chainfetch/pkg/telemetry"
)

func main() {
	var (
		mode       = flag.String("mode", "ranges", "fetch strategy: ranges, paged or sliding")
		address    = flag.String("address", "", "account address to fetch")
		action     = flag.String("action", "txlist", "provider list action (txlist, tokentx)")
		startBlock = flag.Int64("start", 0, "start block")
		endBlock   = flag.Int64("end", fetcher.EndBlockLatest, "end block (-1 resolves the chain head)")
		timeout    = flag.Duration("timeout", 10*time.Minute, "overall fetch timeout")
		pretty     = flag.Bool("pretty", false, "human-readable log output")
	)
	flag.Parse()

	logCfg := logging.DefaultConfig()
	logCfg.Level = logging.LogLevel(getEnv("LOG_LEVEL", string(logging.LevelInfo)))
	logCfg.Pretty = *pretty
	logger := logging.Setup(logCfg)

	if *address == "" {
		logger.Fatal().Msg("-address is required")
	}

	baseURL := getEnv("PROVIDER_URL", "https://api.etherscan.io/api")
	apiKey := getEnv("PROVIDER_API_KEY", "")
	interval := envDuration("RATE_LIMIT_INTERVAL", 200*time.Millisecond)

	ctx, cancel := context.WithTimeout(context.Background(), *timeout)
	defer cancel()

	// Redis is optional. With it the rate limit slot is shared across
	// processes and closed-range pages are cached; without it both fall
	// back to in-process equivalents.
	var limiter fetcher.RateLimiter
	var pageCache *cache.Manager
	if redisURL := os.Getenv("REDIS_URL"); redisURL != "" {
		redisClient := redis.NewClient(&redis.Options{Addr: redisURL})
		if err := redisClient.Ping(ctx).Err(); err != nil {
			logger.Fatal().Err(err).Str("redis_url", redisURL).Msg("Failed to connect to Redis")
		}
		logger.Info().Str("redis_url", redisURL).Msg("Connected to Redis")
		limiter = ratelimit.NewSharedLimiter(redisClient, interval)
		pageCache = cache.NewManager(redisClient, envDuration("CACHE_TTL", 24*time.Hour))
	} else {
		limiter = ratelimit.NewIntervalLimiter(interval)
	}

	client, err := provider.New(provider.Config{
		BaseURL: baseURL,
		APIKey:  apiKey,
		Cache:   pageCache,
	})
	if err != nil {
		logger.Fatal().Err(err).Msg("Failed to create provider client")
	}

	engine := fetcher.New(fetcher.Config{
		MaxConcurrent: envInt("MAX_CONCURRENT", 5),
		Limiter:       limiter,
		Retry:         retry.DefaultPolicy(*action),
		Telemetry:     telemetry.NewLogSink(logger),
	})

	params := map[string]string{"address": *address}
	key := provider.ItemKey("hash")
	order := provider.ItemOrder("blockNumber", "transactionIndex")

	var (
		items []fetcher.Item
		stats fetcher.RunStats
	)

	switch *mode {
	case "ranges":
		end := *endBlock
		if end == fetcher.EndBlockLatest {
			end, err = client.ResolveEndBlock(ctx)
			if err != nil {
				logger.Warn().Err(err).Msg("Chain head resolution failed, using sentinel")
				end = fetcher.EndBlockSentinel
			}
		}
		spec := fetcher.DefaultRangeSpec(*action, client.RangeFunc("account", *action, params))
		spec.Key = key
		spec.Order = order
		spec.MaxOffset = envInt("MAX_OFFSET", 1000)
		spec.RPSKey = "provider"
		items, stats, err = engine.FetchAllRanges(ctx, *startBlock, end, spec)

	case "paged", "sliding":
		spec := fetcher.FetchSpec{
			Name:            *action,
			FetchPage:       client.PageFunc("account", *action, params),
			Key:             key,
			Order:           order,
			MaxOffset:       envInt("MAX_OFFSET", 1000),
			ResolveEndBlock: client.ResolveEndBlock,
		}
		policy := fetcher.Policy{
			Mode:     fetcher.Mode(*mode),
			Prefetch: envInt("PREFETCH", 1),
			RPSKey:   "provider",
		}
		items, stats, err = engine.FetchAllPages(ctx, *startBlock, *endBlock, spec, policy)

	default:
		logger.Fatal().Str("mode", *mode).Msg("Unknown mode")
	}

	if err != nil {
		logger.Fatal().Err(err).Msg("Fetch failed")
	}

	logger.Info().
		Object("stats", stats).
		Bool("partial", stats.Partial()).
		Msg("Fetch complete")

	encoder := json.NewEncoder(os.Stdout)
	if err := encoder.Encode(items); err != nil {
		logger.Fatal().Err(err).Msg("Failed to encode output")
	}
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func envInt(key string, defaultValue int) int {
	raw := os.Getenv(key)
	if raw == "" {
		return defaultValue
	}
	value, err := strconv.Atoi(raw)
	if err != nil {
		fmt.Fprintf(os.Stderr, "invalid %s=%q, using %d\n", key, raw, defaultValue)
		return defaultValue
	}
	return value
}

func envDuration(key string, defaultValue time.Duration) time.Duration {
	raw := os.Getenv(key)
	if raw == "" {
		return defaultValue
	}
	value, err := time.ParseDuration(raw)
	if err != nil {
		fmt.Fprintf(os.Stderr, "invalid %s=%q, using %s\n", key, raw, defaultValue)
		return defaultValue
	}
	return value
}
