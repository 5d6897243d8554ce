// Package provider implements an etherscan-style HTTP collaborator for
// the fetch engine: page and range callbacks, chain head resolution,
// envelope parsing and error classification.
package provider

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/chainfetch/chainfetch/pkg/cache"
	"github.com/chainfetch/chainfetch/pkg/fetcher"
)

// Prometheus metrics for provider requests.
var (
	requestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "chainfetch_provider_requests_total",
		Help: "Total provider requests by action and status",
	}, []string{"action", "status"})

	requestDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "chainfetch_provider_request_duration_seconds",
		Help:    "Provider request duration in seconds by action",
		Buckets: []float64{0.1, 0.5, 1, 2, 5, 10},
	}, []string{"action"})

	providerErrorsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "chainfetch_provider_errors_total",
		Help: "Total provider errors by class",
	}, []string{"class"})
)

// envelope is the provider's standard response wrapper.
type envelope struct {
	Status  string          `json:"status"`
	Message string          `json:"message"`
	Result  json.RawMessage `json:"result"`
}

// Config holds the provider client configuration.
type Config struct {
	// BaseURL is the provider API endpoint (e.g. "https://api.etherscan.io/api").
	BaseURL string

	// APIKey is appended to every request. Optional for some providers.
	APIKey string

	// UserAgent identifies this client to the provider.
	UserAgent string

	// Timeout per HTTP request.
	Timeout time.Duration

	// Cache, when set, stores successful pages of closed historical
	// ranges. Optional.
	Cache *cache.Manager
}

// Client is an HTTP client for one provider endpoint.
type Client struct {
	httpClient *http.Client
	config     Config
	logger     zerolog.Logger
}

// New creates a provider client.
func New(cfg Config) (*Client, error) {
	if cfg.BaseURL == "" {
		return nil, fmt.Errorf("base URL is required")
	}
	if _, err := url.Parse(cfg.BaseURL); err != nil {
		return nil, fmt.Errorf("parse base URL: %w", err)
	}
	if cfg.UserAgent == "" {
		cfg.UserAgent = "chainfetch/0.1.0"
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 30 * time.Second
	}

	return &Client{
		httpClient: &http.Client{
			Timeout: cfg.Timeout,
		},
		config: cfg,
		logger: log.With().Str("component", "provider").Logger(),
	}, nil
}

// SetHTTPClient sets a custom HTTP client (for testing).
func (c *Client) SetHTTPClient(client *http.Client) {
	c.httpClient = client
}

// PageFunc builds a fetcher.PageFunc for the given provider action with
// fixed extra query parameters (e.g. the account address).
func (c *Client) PageFunc(module, action string, params map[string]string) fetcher.PageFunc {
	return func(ctx context.Context, page int, startBlock, endBlock int64, offset int) ([]fetcher.Item, error) {
		query := c.baseQuery(module, action, params)
		query.Set("startblock", strconv.FormatInt(startBlock, 10))
		query.Set("endblock", strconv.FormatInt(endBlock, 10))
		query.Set("page", strconv.Itoa(page))
		query.Set("offset", strconv.Itoa(offset))
		query.Set("sort", "asc")

		key := cache.PageKey{
			Name:       action,
			StartBlock: startBlock,
			EndBlock:   endBlock,
			Page:       page,
			Offset:     offset,
		}
		return c.fetchList(ctx, action, key, query)
	}
}

// RangeFunc builds a fetcher.RangeFunc for the given provider action.
// Range queries carry no page number; the provider returns up to its
// internal cap for the whole range.
func (c *Client) RangeFunc(module, action string, params map[string]string) fetcher.RangeFunc {
	return func(ctx context.Context, start, end int64) ([]fetcher.Item, error) {
		query := c.baseQuery(module, action, params)
		query.Set("startblock", strconv.FormatInt(start, 10))
		query.Set("endblock", strconv.FormatInt(end, 10))
		query.Set("sort", "asc")

		key := cache.PageKey{
			Name:       action,
			StartBlock: start,
			EndBlock:   end,
		}
		return c.fetchList(ctx, action, key, query)
	}
}

// ResolveEndBlock fetches the current chain head via the provider's
// proxy action. Satisfies fetcher.ResolveFunc.
func (c *Client) ResolveEndBlock(ctx context.Context) (int64, error) {
	query := c.baseQuery("proxy", "eth_blockNumber", nil)

	body, err := c.get(ctx, "eth_blockNumber", query)
	if err != nil {
		return 0, err
	}

	var env envelope
	if err := json.Unmarshal(body, &env); err != nil {
		return 0, fmt.Errorf("decode head response: %w", err)
	}

	var hex string
	if err := json.Unmarshal(env.Result, &hex); err != nil {
		return 0, fmt.Errorf("decode head result: %w", err)
	}

	head, err := strconv.ParseInt(strings.TrimPrefix(hex, "0x"), 16, 64)
	if err != nil {
		return 0, fmt.Errorf("parse head block %q: %w", hex, err)
	}
	return head, nil
}

func (c *Client) baseQuery(module, action string, params map[string]string) url.Values {
	query := url.Values{}
	query.Set("module", module)
	query.Set("action", action)
	for k, v := range params {
		query.Set(k, v)
	}
	if c.config.APIKey != "" {
		query.Set("apikey", c.config.APIKey)
	}
	return query
}

// fetchList performs a list request with page caching around it.
func (c *Client) fetchList(ctx context.Context, action string, key cache.PageKey, query url.Values) ([]fetcher.Item, error) {
	if c.config.Cache != nil {
		entry, err := c.config.Cache.Get(ctx, key)
		if err == nil {
			c.logger.Debug().
				Str("action", action).
				Str("key", key.String()).
				Msg("Page cache hit")
			return entryItems(entry), nil
		}
		if err != cache.ErrCacheMiss {
			c.logger.Warn().Err(err).Str("action", action).Msg("Page cache get error")
		}
	}

	body, err := c.get(ctx, action, query)
	if err != nil {
		return nil, err
	}

	items, err := decodeList(body)
	if err != nil {
		return nil, err
	}

	if c.config.Cache != nil {
		if err := c.config.Cache.Set(ctx, key, itemsEntry(items)); err != nil {
			c.logger.Warn().Err(err).Str("action", action).Msg("Page cache set error")
		}
	}

	return items, nil
}

// get performs one HTTP request and classifies transport and HTTP-level
// failures.
func (c *Client) get(ctx context.Context, action string, query url.Values) ([]byte, error) {
	start := time.Now()
	defer func() {
		requestDuration.WithLabelValues(action).Observe(time.Since(start).Seconds())
	}()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.config.BaseURL+"?"+query.Encode(), nil)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("User-Agent", c.config.UserAgent)
	req.Header.Set("Accept", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		providerErrorsTotal.WithLabelValues(string(ErrorClassNetwork)).Inc()
		requestsTotal.WithLabelValues(action, "network_error").Inc()
		c.logger.Error().Err(err).Str("action", action).Msg("HTTP request failed")
		return nil, &Error{Class: ErrorClassNetwork, Message: "request failed", Err: err}
	}
	defer resp.Body.Close()

	requestsTotal.WithLabelValues(action, strconv.Itoa(resp.StatusCode)).Inc()

	if resp.StatusCode >= 400 {
		class := classifyStatus(resp.StatusCode)
		providerErrorsTotal.WithLabelValues(string(class)).Inc()
		c.logger.Warn().
			Str("action", action).
			Int("status", resp.StatusCode).
			Str("error_class", string(class)).
			Msg("Provider request error")
		return nil, &Error{StatusCode: resp.StatusCode, Class: class, Message: resp.Status}
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		providerErrorsTotal.WithLabelValues(string(ErrorClassNetwork)).Inc()
		return nil, &Error{Class: ErrorClassNetwork, Message: "read body", Err: err}
	}
	return body, nil
}

// classifyStatus categorizes an HTTP status for observability and retry
// handling.
func classifyStatus(status int) ErrorClass {
	switch {
	case status == http.StatusTooManyRequests:
		return ErrorClassRateLimit
	case status >= 400 && status < 500:
		return ErrorClassClient
	case status >= 500:
		return ErrorClassServer
	default:
		return ""
	}
}

// decodeList unwraps the provider envelope into items. A status "0"
// with a "no records" message is a legitimate empty page, not an error;
// any other non-"1" status is a provider rejection.
func decodeList(body []byte) ([]fetcher.Item, error) {
	var env envelope
	if err := json.Unmarshal(body, &env); err != nil {
		return nil, &Error{Class: ErrorClassServer, Message: "malformed envelope", Err: err}
	}

	if env.Status != "1" {
		msg := strings.ToLower(env.Message)
		if strings.Contains(msg, "no transactions found") || strings.Contains(msg, "no records found") {
			return nil, nil
		}
		if strings.Contains(msg, "rate limit") {
			return nil, &Error{Class: ErrorClassRateLimit, Message: env.Message}
		}
		return nil, &Error{Class: ErrorClassClient, Message: env.Message}
	}

	var raw []map[string]any
	if err := json.Unmarshal(env.Result, &raw); err != nil {
		return nil, &Error{Class: ErrorClassServer, Message: "malformed result list", Err: err}
	}

	items := make([]fetcher.Item, len(raw))
	for i, m := range raw {
		items[i] = fetcher.Item(m)
	}
	return items, nil
}

func entryItems(entry *cache.PageEntry) []fetcher.Item {
	items := make([]fetcher.Item, len(entry.Items))
	for i, m := range entry.Items {
		items[i] = fetcher.Item(m)
	}
	return items
}

func itemsEntry(items []fetcher.Item) *cache.PageEntry {
	raw := make([]map[string]any, len(items))
	for i, it := range items {
		raw[i] = map[string]any(it)
	}
	return &cache.PageEntry{Items: raw, CachedAt: time.Now()}
}
