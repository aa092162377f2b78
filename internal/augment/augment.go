// Package augment fetches real-time context for a classified chat message.
// The returned block is injected into the model prompt as a system message.
package augment

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/hashicorp/go-retryablehttp"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.uber.org/zap"

	"github.com/capitalize-ai/streamchat/internal/cache"
	"github.com/capitalize-ai/streamchat/internal/intent"
	"github.com/capitalize-ai/streamchat/pkg/logger"
	"github.com/capitalize-ai/streamchat/pkg/metrics"
	"github.com/capitalize-ai/streamchat/pkg/tracing"
)

// ErrSearchDisabled is returned for search-backed intents when no search API
// key is configured.
var ErrSearchDisabled = errors.New("web search is not configured")

// Endpoints are the upstream base URLs.
type Endpoints struct {
	Geocoding    string
	Forecast     string
	CoinGecko    string
	ExchangeRate string
	Tavily       string
}

// DefaultEndpoints returns the public service URLs.
func DefaultEndpoints() Endpoints {
	return Endpoints{
		Geocoding:    "https://geocoding-api.open-meteo.com",
		Forecast:     "https://api.open-meteo.com",
		CoinGecko:    "https://api.coingecko.com",
		ExchangeRate: "https://open.er-api.com",
		Tavily:       "https://api.tavily.com",
	}
}

// Config holds augmentation settings.
type Config struct {
	Endpoints   Endpoints
	TavilyKey   string
	DefaultCity string
	MaxResults  int
	Timeout     time.Duration
	RetryMax    int
	// TTL overrides the cache lifetime per intent. Zero disables caching.
	TTL map[intent.Intent]time.Duration
}

// DefaultTTL returns the cache lifetimes used when Config.TTL is nil.
func DefaultTTL() map[intent.Intent]time.Duration {
	return map[intent.Intent]time.Duration{
		intent.Weather:    10 * time.Minute,
		intent.Crypto:     time.Minute,
		intent.Currency:   30 * time.Minute,
		intent.Stocks:     2 * time.Minute,
		intent.News:       10 * time.Minute,
		intent.Cricket:    time.Minute,
		intent.WebSearch:  30 * time.Minute,
		intent.DeepSearch: time.Hour,
	}
}

// Augmenter resolves real-time context for an intent.
type Augmenter struct {
	cfg    Config
	http   *retryablehttp.Client
	cache  cache.Cache
	logger *logger.Logger
	now    func() time.Time
}

// New creates an augmenter. A nil cache disables caching.
func New(cfg Config, c cache.Cache, log *logger.Logger) *Augmenter {
	if log == nil {
		log = logger.Nop()
	}
	if cfg.Endpoints == (Endpoints{}) {
		cfg.Endpoints = DefaultEndpoints()
	}
	if cfg.TTL == nil {
		cfg.TTL = DefaultTTL()
	}
	if cfg.MaxResults <= 0 {
		cfg.MaxResults = 5
	}
	if cfg.DefaultCity == "" {
		cfg.DefaultCity = "London"
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 10 * time.Second
	}

	rc := retryablehttp.NewClient()
	rc.RetryMax = cfg.RetryMax
	rc.RetryWaitMin = 100 * time.Millisecond
	rc.RetryWaitMax = time.Second
	rc.HTTPClient.Timeout = cfg.Timeout
	rc.Logger = nil

	return &Augmenter{
		cfg:    cfg,
		http:   rc,
		cache:  c,
		logger: log.Named("augment"),
		now:    time.Now,
	}
}

// Augment returns the context block for res, or "" when the intent needs no
// lookup.
func (a *Augmenter) Augment(ctx context.Context, res intent.Result, text string) (string, error) {
	fetch := a.fetcher(res.Intent)
	if fetch == nil {
		return "", nil
	}

	ctx, span := tracing.Start(ctx, "augment."+string(res.Intent))
	defer span.End()
	span.SetAttributes(attribute.String("intent.rule", res.Rule))

	key := cacheKey(res.Intent, text)
	ttl := a.cfg.TTL[res.Intent]
	if block, ok := a.cached(ctx, res.Intent, key, ttl); ok {
		span.SetAttributes(attribute.Bool("cache.hit", true))
		return block, nil
	}

	start := time.Now()
	body, err := fetch(ctx, text)
	if err != nil {
		metrics.RecordAugment(string(res.Intent), "error", time.Since(start).Seconds())
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return "", fmt.Errorf("augment %s: %w", res.Intent, err)
	}
	metrics.RecordAugment(string(res.Intent), "ok", time.Since(start).Seconds())

	block := fmt.Sprintf("Real-time data (%s, retrieved %s):\n%s",
		res.Intent, a.now().UTC().Format(time.RFC3339), body)

	if a.cache != nil && ttl > 0 {
		if err := a.cache.Set(ctx, key, block, ttl); err != nil {
			a.logger.Warn("failed to cache augmentation", zap.String("intent", string(res.Intent)), zap.Error(err))
		}
	}
	return block, nil
}

type fetchFunc func(ctx context.Context, text string) (string, error)

func (a *Augmenter) fetcher(i intent.Intent) fetchFunc {
	switch i {
	case intent.Weather:
		return a.weather
	case intent.Crypto:
		return a.crypto
	case intent.Currency:
		return a.currency
	case intent.Time:
		return a.localTime
	case intent.Stocks:
		return a.searchWith(" stock price today", "news")
	case intent.News:
		return a.searchWith("", "news")
	case intent.Cricket:
		return a.searchWith(" live score", "news")
	case intent.WebSearch:
		return a.searchWith("", "general")
	case intent.DeepSearch:
		return a.deepSearch
	default:
		return nil
	}
}

func (a *Augmenter) cached(ctx context.Context, i intent.Intent, key string, ttl time.Duration) (string, bool) {
	if a.cache == nil || ttl <= 0 {
		return "", false
	}
	block, ok, err := a.cache.Get(ctx, key)
	if err != nil {
		a.logger.Warn("augmentation cache lookup failed", zap.String("intent", string(i)), zap.Error(err))
		return "", false
	}
	if ok {
		metrics.AugmentCacheHits.WithLabelValues(string(i)).Inc()
	}
	return block, ok
}

func cacheKey(i intent.Intent, text string) string {
	sum := sha256.Sum256([]byte(strings.ToLower(strings.TrimSpace(text))))
	return "augment:" + string(i) + ":" + hex.EncodeToString(sum[:12])
}

func (a *Augmenter) getJSON(ctx context.Context, url string, out any) error {
	req, err := retryablehttp.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return err
	}
	req.Header.Set("Accept", "application/json")
	return a.do(req, out)
}

func (a *Augmenter) postJSON(ctx context.Context, url, bearer string, in, out any) error {
	body, err := json.Marshal(in)
	if err != nil {
		return fmt.Errorf("failed to marshal request: %w", err)
	}
	req, err := retryablehttp.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	if bearer != "" {
		req.Header.Set("Authorization", "Bearer "+bearer)
	}
	return a.do(req, out)
}

func (a *Augmenter) do(req *retryablehttp.Request, out any) error {
	resp, err := a.http.Do(req)
	if err != nil {
		return fmt.Errorf("request %s: %w", req.URL.Host, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return fmt.Errorf("request %s (status %d): %s", req.URL.Host, resp.StatusCode, strings.TrimSpace(string(msg)))
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode %s response: %w", req.URL.Host, err)
	}
	return nil
}
