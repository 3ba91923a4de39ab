package feed

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/rs/zerolog"
)

func noopLogger() zerolog.Logger {
	return zerolog.Nop()
}

func TestFetchSpotSuccess(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/v2/prices/BTC-USD/spot" {
			t.Fatalf("路径不正确: %s", r.URL.Path)
		}
		_ = json.NewEncoder(w).Encode(map[string]any{
			"data": map[string]string{"amount": "90255.37", "base": "BTC", "currency": "USD"},
		})
	}))
	defer srv.Close()

	fetcher := NewCoinbase(CoinbaseOptions{BaseURL: srv.URL, Timeout: time.Second, UserAgent: "test"}, noopLogger())
	spot, err := fetcher.FetchSpot(context.Background(), "BTC-USD")
	if err != nil {
		t.Fatalf("FetchSpot 不应报错: %v", err)
	}
	if spot.Price != 90255.37 {
		t.Fatalf("价格期望 90255.37, 实际 %f", spot.Price)
	}
	if spot.AsOf.IsZero() {
		t.Fatal("AsOf 应被填充")
	}
}

func TestFetchSpotRejectsNonPositivePrice(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode(map[string]any{
			"data": map[string]string{"amount": "0", "base": "BTC", "currency": "USD"},
		})
	}))
	defer srv.Close()

	fetcher := NewCoinbase(CoinbaseOptions{BaseURL: srv.URL, Timeout: time.Second}, noopLogger())
	if _, err := fetcher.FetchSpot(context.Background(), "BTC-USD"); err == nil {
		t.Fatal("零价格应报错")
	}
}

func TestFetchSpotHTTPError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	fetcher := NewCoinbase(CoinbaseOptions{BaseURL: srv.URL, Timeout: time.Second}, noopLogger())
	if _, err := fetcher.FetchSpot(context.Background(), "BTC-USD"); err == nil {
		t.Fatal("HTTP 503 应报错")
	}
}

func TestStaticFetcher(t *testing.T) {
	spot, err := Static{Price: 42000}.FetchSpot(context.Background(), "BTC-USD")
	if err != nil {
		t.Fatalf("Static 不应报错: %v", err)
	}
	if spot.Price != 42000 {
		t.Fatalf("价格期望 42000, 实际 %f", spot.Price)
	}
}
