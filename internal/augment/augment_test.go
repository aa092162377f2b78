package augment

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"
	_ "time/tzdata"

	"github.com/stretchr/testify/require"

	"github.com/capitalize-ai/streamchat/internal/cache"
	"github.com/capitalize-ai/streamchat/internal/intent"
)

type upstream struct {
	*httptest.Server
	forecastCalls atomic.Int32
	searchQueries chan string
}

func newUpstream(t *testing.T) *upstream {
	t.Helper()
	u := &upstream{searchQueries: make(chan string, 16)}

	mux := http.NewServeMux()
	mux.HandleFunc("/v1/search", func(w http.ResponseWriter, r *http.Request) {
		name := r.URL.Query().Get("name")
		if name == "Atlantis" {
			_, _ = io.WriteString(w, `{}`)
			return
		}
		_ = json.NewEncoder(w).Encode(geoResponse{Results: []geoResult{{
			Name: name, Country: "France", Latitude: 48.85, Longitude: 2.35, Timezone: "Europe/Paris",
		}}})
	})
	mux.HandleFunc("/v1/forecast", func(w http.ResponseWriter, r *http.Request) {
		u.forecastCalls.Add(1)
		require.Equal(t, "48.8500", r.URL.Query().Get("latitude"))
		_, _ = io.WriteString(w, `{"current":{"time":"2026-10-15T12:00","temperature_2m":18.4,"relative_humidity_2m":61,"wind_speed_10m":12.5,"weather_code":2}}`)
	})
	mux.HandleFunc("/api/v3/simple/price", func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "ethereum,bitcoin", r.URL.Query().Get("ids"))
		_, _ = io.WriteString(w, `{"bitcoin":{"usd":65000.5,"usd_24h_change":-1.25},"ethereum":{"usd":3100,"usd_24h_change":2}}`)
	})
	mux.HandleFunc("/v6/latest/USD", func(w http.ResponseWriter, r *http.Request) {
		_, _ = io.WriteString(w, `{"result":"success","base_code":"USD","time_last_update_utc":"Thu, 15 Oct 2026 00:00:01 +0000","rates":{"INR":83.5,"EUR":0.92}}`)
	})
	mux.HandleFunc("/search", func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "Bearer tvly-test", r.Header.Get("Authorization"))
		var req tavilyRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		u.searchQueries <- req.Query
		_ = json.NewEncoder(w).Encode(tavilyResponse{Results: []SearchResult{
			{Title: "Shared", URL: "https://example.com/shared", Content: "common result"},
			{Title: req.Query, URL: "https://example.com/" + strings.ReplaceAll(req.Query, " ", "-"), Content: "specific"},
		}})
	})
	mux.HandleFunc("/broken", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	})

	u.Server = httptest.NewServer(mux)
	t.Cleanup(u.Close)
	return u
}

func newAugmenter(t *testing.T, u *upstream, c cache.Cache) *Augmenter {
	t.Helper()
	a := New(Config{
		Endpoints: Endpoints{
			Geocoding:    u.URL,
			Forecast:     u.URL,
			CoinGecko:    u.URL,
			ExchangeRate: u.URL,
			Tavily:       u.URL,
		},
		TavilyKey: "tvly-test",
	}, c, nil)
	a.now = func() time.Time { return time.Date(2026, 10, 15, 10, 30, 0, 0, time.UTC) }
	return a
}

func TestAugment_Weather(t *testing.T) {
	u := newUpstream(t)
	a := newAugmenter(t, u, nil)

	block, err := a.Augment(context.Background(), intent.Result{Intent: intent.Weather}, "What's the weather in Paris?")
	require.NoError(t, err)
	require.Contains(t, block, "Real-time data (weather, retrieved 2026-10-15T10:30:00Z)")
	require.Contains(t, block, "Paris, France: partly cloudy, 18.4°C, humidity 61%, wind 12.5 km/h")
}

func TestAugment_WeatherUnknownPlace(t *testing.T) {
	u := newUpstream(t)
	a := newAugmenter(t, u, nil)

	_, err := a.Augment(context.Background(), intent.Result{Intent: intent.Weather}, "weather in Atlantis")
	require.ErrorContains(t, err, "unknown place")
}

func TestAugment_CachesPerIntent(t *testing.T) {
	u := newUpstream(t)
	a := newAugmenter(t, u, cache.NewMemory())
	ctx := context.Background()
	res := intent.Result{Intent: intent.Weather}

	first, err := a.Augment(ctx, res, "weather in Paris")
	require.NoError(t, err)
	second, err := a.Augment(ctx, res, "  Weather in Paris ")
	require.NoError(t, err)

	require.Equal(t, first, second)
	require.EqualValues(t, 1, u.forecastCalls.Load())
}

func TestAugment_Crypto(t *testing.T) {
	u := newUpstream(t)
	a := newAugmenter(t, u, nil)

	block, err := a.Augment(context.Background(), intent.Result{Intent: intent.Crypto}, "ETH vs bitcoin price")
	require.NoError(t, err)
	require.Contains(t, block, "ethereum: $3100.00 USD (24h change +2.00%)")
	require.Contains(t, block, "bitcoin: $65000.50 USD (24h change -1.25%)")
}

func TestAugment_Currency(t *testing.T) {
	u := newUpstream(t)
	a := newAugmenter(t, u, nil)

	block, err := a.Augment(context.Background(), intent.Result{Intent: intent.Currency}, "convert 100 usd to inr")
	require.NoError(t, err)
	require.Contains(t, block, "100 USD = 8350.0000 INR")
	require.NotContains(t, block, "EUR")
}

func TestAugment_LocalTime(t *testing.T) {
	u := newUpstream(t)
	a := newAugmenter(t, u, nil)

	block, err := a.Augment(context.Background(), intent.Result{Intent: intent.Time}, "what time is it in Paris")
	require.NoError(t, err)
	require.Contains(t, block, "Paris, France (Europe/Paris): 12:30 on Thursday, 15 October 2026")
}

func TestAugment_DeepSearchDedupesByURL(t *testing.T) {
	u := newUpstream(t)
	a := newAugmenter(t, u, nil)

	block, err := a.Augment(context.Background(), intent.Result{Intent: intent.DeepSearch}, "fusion energy")
	require.NoError(t, err)
	require.Len(t, u.searchQueries, 3)
	require.Equal(t, 1, strings.Count(block, "https://example.com/shared"))
	require.Contains(t, block, "https://example.com/fusion-energy-analysis")
	require.Contains(t, block, "https://example.com/fusion-energy-latest-developments")
}

func TestAugment_SearchBackedIntents(t *testing.T) {
	u := newUpstream(t)
	a := newAugmenter(t, u, nil)

	_, err := a.Augment(context.Background(), intent.Result{Intent: intent.Stocks}, "AAPL")
	require.NoError(t, err)
	require.Equal(t, "AAPL stock price today", <-u.searchQueries)

	_, err = a.Augment(context.Background(), intent.Result{Intent: intent.Cricket}, "India vs Australia")
	require.NoError(t, err)
	require.Equal(t, "India vs Australia live score", <-u.searchQueries)
}

func TestAugment_SearchDisabledWithoutKey(t *testing.T) {
	u := newUpstream(t)
	a := newAugmenter(t, u, nil)
	a.cfg.TavilyKey = ""

	_, err := a.Augment(context.Background(), intent.Result{Intent: intent.WebSearch}, "anything")
	require.ErrorIs(t, err, ErrSearchDisabled)
}

func TestAugment_NoLookupForDirect(t *testing.T) {
	a := New(Config{}, nil, nil)
	for _, i := range []intent.Intent{intent.Direct, intent.ImageGeneration, intent.Vision} {
		block, err := a.Augment(context.Background(), intent.Result{Intent: i}, "hello")
		require.NoError(t, err)
		require.Empty(t, block)
	}
}

func TestAugment_UpstreamFailure(t *testing.T) {
	u := newUpstream(t)
	a := newAugmenter(t, u, nil)
	a.cfg.Endpoints.CoinGecko = u.URL + "/broken"

	_, err := a.Augment(context.Background(), intent.Result{Intent: intent.Crypto}, "btc")
	require.Error(t, err)
}

func TestExtract(t *testing.T) {
	require.Equal(t, "New York", place("what time is it in New York?"))
	require.Equal(t, "", place("weather in paris"))

	require.Equal(t, []string{"bitcoin"}, coins("how are markets"))
	require.Equal(t, []string{"solana", "bitcoin"}, coins("SOL or BTC or bitcoin"))

	base, quotes, amount := currencyPair("50 EUR in GBP")
	require.Equal(t, "EUR", base)
	require.Equal(t, []string{"GBP"}, quotes)
	require.Equal(t, 50.0, amount)

	base, quotes, amount = currencyPair("INR exchange rate")
	require.Equal(t, "INR", base)
	require.Equal(t, []string{"USD", "EUR", "GBP"}, quotes)
	require.Equal(t, 1.0, amount)
}
