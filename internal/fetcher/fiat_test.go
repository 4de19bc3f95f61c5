package fetcher

import (
	"context"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/shopspring/decimal"
)

func priceServer(t *testing.T, status int, body string, hits *int32) *httptest.Server {
	t.Helper()
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/simple/price" {
			t.Errorf("unexpected path %s", r.URL.Path)
		}
		if r.URL.Query().Get("ids") != "ethereum" || r.URL.Query().Get("vs_currencies") != "usd" {
			t.Errorf("unexpected query %s", r.URL.RawQuery)
		}
		if hits != nil {
			atomic.AddInt32(hits, 1)
		}
		w.WriteHeader(status)
		_, _ = w.Write([]byte(body))
	}))
}

func TestCoinGeckoFetchSuccess(t *testing.T) {
	srv := priceServer(t, http.StatusOK, `{"ethereum":{"usd":3120.55}}`, nil)
	defer srv.Close()

	c := NewCoinGecko(FiatOptions{BaseURL: srv.URL + "/", Timeout: time.Second}, noopLogger())
	rate, err := c.FetchRate(context.Background(), "Ethereum")
	if err != nil {
		t.Fatalf("成功响应不应报错: %v", err)
	}
	if !rate.Equal(decimal.RequireFromString("3120.55")) {
		t.Fatalf("期望 3120.55, 实际 %s", rate)
	}
}

func TestCoinGeckoFetchErrors(t *testing.T) {
	cases := map[string]struct {
		status int
		body   string
	}{
		"http error":  {http.StatusTooManyRequests, `{"status":{"error_code":429,"error_message":"rate limited"}}`},
		"missing":     {http.StatusOK, `{}`},
		"not json":    {http.StatusOK, `<html>`},
		"zero price":  {http.StatusOK, `{"ethereum":{"usd":0}}`},
		"plain error": {http.StatusBadGateway, `bad gateway`},
	}
	for name, tc := range cases {
		t.Run(name, func(t *testing.T) {
			srv := priceServer(t, tc.status, tc.body, nil)
			defer srv.Close()

			c := NewCoinGecko(FiatOptions{BaseURL: srv.URL, Timeout: time.Second}, noopLogger())
			if _, err := c.FetchRate(context.Background(), "ethereum"); err == nil {
				t.Fatal("expected error")
			}
		})
	}
}

func TestCoinGeckoRequiresAsset(t *testing.T) {
	c := NewCoinGecko(FiatOptions{}, noopLogger())
	if _, err := c.FetchRate(context.Background(), " "); err == nil {
		t.Fatal("empty asset should fail")
	}
}

func TestCachedFiatServesFromRedis(t *testing.T) {
	mr, err := miniredis.Run()
	if err != nil {
		t.Fatalf("failed to start miniredis: %v", err)
	}
	defer mr.Close()

	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	defer client.Close()

	var hits int32
	srv := priceServer(t, http.StatusOK, `{"ethereum":{"usd":2000}}`, &hits)
	defer srv.Close()

	upstream := NewCoinGecko(FiatOptions{BaseURL: srv.URL, Timeout: time.Second}, noopLogger())
	cached := NewCachedFiat(upstream, client, time.Minute, "usd", noopLogger())

	for i := 0; i < 3; i++ {
		rate, err := cached.FetchRate(context.Background(), "ethereum")
		if err != nil {
			t.Fatalf("fetch %d: %v", i, err)
		}
		if !rate.Equal(decimal.NewFromInt(2000)) {
			t.Fatalf("unexpected rate %s", rate)
		}
	}
	if atomic.LoadInt32(&hits) != 1 {
		t.Fatalf("expected a single upstream call, got %d", hits)
	}

	if ttl := mr.TTL(fiatCacheKeyPrefix + "usd:ethereum"); ttl != time.Minute {
		t.Fatalf("unexpected ttl %s", ttl)
	}

	mr.FastForward(2 * time.Minute)
	if _, err := cached.FetchRate(context.Background(), "ethereum"); err != nil {
		t.Fatal(err)
	}
	if atomic.LoadInt32(&hits) != 2 {
		t.Fatalf("expired entry should refetch, hits=%d", hits)
	}
}

func TestCachedFiatFallsThroughWhenRedisDown(t *testing.T) {
	mr, err := miniredis.Run()
	if err != nil {
		t.Fatal(err)
	}
	client := redis.NewClient(&redis.Options{Addr: mr.Addr(), MaxRetries: -1})
	defer client.Close()
	mr.Close()

	var hits int32
	srv := priceServer(t, http.StatusOK, `{"ethereum":{"usd":1500.5}}`, &hits)
	defer srv.Close()

	cached := NewCachedFiat(NewCoinGecko(FiatOptions{BaseURL: srv.URL}, noopLogger()), client, time.Minute, "usd", noopLogger())
	rate, err := cached.FetchRate(context.Background(), "ethereum")
	if err != nil {
		t.Fatalf("redis outage should not fail the lookup: %v", err)
	}
	if !rate.Equal(decimal.RequireFromString("1500.5")) || atomic.LoadInt32(&hits) != 1 {
		t.Fatalf("unexpected rate %s hits %d", rate, hits)
	}
}

func TestConnectRedis(t *testing.T) {
	mr, err := miniredis.Run()
	if err != nil {
		t.Fatal(err)
	}
	defer mr.Close()

	client, err := ConnectRedis(context.Background(), "redis://"+mr.Addr()+"/0")
	if err != nil {
		t.Fatalf("connect: %v", err)
	}
	client.Close()

	if _, err := ConnectRedis(context.Background(), "::not a url"); err == nil {
		t.Fatal("invalid url should fail")
	}
}

func TestCachedFiatKeysByCurrency(t *testing.T) {
	mr, err := miniredis.Run()
	if err != nil {
		t.Fatalf("failed to start miniredis: %v", err)
	}
	defer mr.Close()

	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	defer client.Close()

	var usdHits, eurHits int32
	usdSrv := priceServer(t, http.StatusOK, `{"ethereum":{"usd":2000}}`, &usdHits)
	defer usdSrv.Close()
	eurSrv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Query().Get("vs_currencies") != "eur" {
			t.Errorf("unexpected query %s", r.URL.RawQuery)
		}
		atomic.AddInt32(&eurHits, 1)
		_, _ = w.Write([]byte(`{"ethereum":{"eur":1800}}`))
	}))
	defer eurSrv.Close()

	usd := NewCachedFiat(NewCoinGecko(FiatOptions{BaseURL: usdSrv.URL, VsCurrency: "usd"}, noopLogger()), client, time.Minute, "usd", noopLogger())
	eur := NewCachedFiat(NewCoinGecko(FiatOptions{BaseURL: eurSrv.URL, VsCurrency: "eur"}, noopLogger()), client, time.Minute, "EUR", noopLogger())

	if rate, err := usd.FetchRate(context.Background(), "ethereum"); err != nil || !rate.Equal(decimal.NewFromInt(2000)) {
		t.Fatalf("usd rate %s err %v", rate, err)
	}
	rate, err := eur.FetchRate(context.Background(), "ethereum")
	if err != nil {
		t.Fatal(err)
	}
	if !rate.Equal(decimal.NewFromInt(1800)) {
		t.Fatalf("eur lookup must not reuse the usd entry, got %s", rate)
	}
	if atomic.LoadInt32(&eurHits) != 1 {
		t.Fatalf("eur should hit upstream once, got %d", eurHits)
	}
	if !mr.Exists(fiatCacheKeyPrefix+"usd:ethereum") || !mr.Exists(fiatCacheKeyPrefix+"eur:ethereum") {
		t.Fatalf("expected per-currency keys, have %v", mr.Keys())
	}
}
