package binance

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/tradecore/tradecore/internal/domain"
)

func newTestClient(t *testing.T, handler http.HandlerFunc) *Client {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	return NewClient(Config{RESTBaseURL: srv.URL}, slog.Default())
}

func TestWireSymbol(t *testing.T) {
	if got := wireSymbol("BTC/USDT"); got != "BTCUSDT" {
		t.Fatalf("expected BTCUSDT, got %s", got)
	}
}

func TestWireStatusToDomain(t *testing.T) {
	cases := map[string]domain.OrderStatus{
		"FILLED":   domain.OrderStatusFilled,
		"CANCELED": domain.OrderStatusCanceled,
		"EXPIRED":  domain.OrderStatusCanceled,
		"REJECTED": domain.OrderStatusRejected,
		"NEW":      domain.OrderStatusOpen,
		"":         domain.OrderStatusOpen,
	}
	for in, want := range cases {
		if got := wireStatusToDomain(in); got != want {
			t.Errorf("wireStatusToDomain(%q) = %q, want %q", in, got, want)
		}
	}
}

func TestFetchMarkets(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode(exchangeInfoResp{
			Symbols: []symbolInfo{
				{Symbol: "BTCUSDT", QuoteAsset: "USDT", Filters: []symbolFilter{}},
			},
		})
	})

	refs, err := client.FetchMarkets(context.Background(), domain.DecryptedCredential{})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(refs) != 1 || refs[0].Symbol != "BTCUSDT" {
		t.Fatalf("unexpected refs: %+v", refs)
	}
}

func TestDoRequestClassifiesRateLimit(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Retry-After", "7")
		w.WriteHeader(http.StatusTooManyRequests)
		_, _ = w.Write([]byte(`{"code":-1003,"msg":"too many requests"}`))
	})

	_, err := client.FetchTicker(context.Background(), domain.DecryptedCredential{}, "BTC/USDT")
	var adapterErr *domain.AdapterError
	if err == nil {
		t.Fatal("expected error")
	}
	if !errors.As(err, &adapterErr) {
		t.Fatalf("expected AdapterError, got %T: %v", err, err)
	}
	if adapterErr.Kind != domain.AdapterErrRateLimited {
		t.Fatalf("expected rate_limited kind, got %s", adapterErr.Kind)
	}
	if adapterErr.RetryAfter != 7 {
		t.Fatalf("expected RetryAfter=7, got %d", adapterErr.RetryAfter)
	}
	if !adapterErr.Retryable() {
		t.Fatal("expected rate limited error to be retryable")
	}
}

func TestDoRequestClassifiesAuthFailure(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
		_, _ = w.Write([]byte(`{"code":-2015,"msg":"invalid api key"}`))
	})

	_, err := client.FetchBalance(context.Background(), domain.DecryptedCredential{Key: "bad"})
	var adapterErr *domain.AdapterError
	if !errors.As(err, &adapterErr) {
		t.Fatalf("expected AdapterError, got %T: %v", err, err)
	}
	if adapterErr.Kind != domain.AdapterErrAuth {
		t.Fatalf("expected auth kind, got %s", adapterErr.Kind)
	}
	if adapterErr.Retryable() {
		t.Fatal("auth errors should not be retryable")
	}
}
