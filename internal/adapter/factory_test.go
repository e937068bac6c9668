package adapter

import (
	"testing"
	"time"

	"github.com/tradecore/tradecore/internal/domain"
)

type stubAdapter struct{ domain.ExchangeAdapter }

func (s *stubAdapter) Name() string { return "stub" }

func TestFactoryCachesWithinTTL(t *testing.T) {
	calls := 0
	f := NewFactory(time.Hour)
	f.Register("stub", func() (domain.ExchangeAdapter, error) {
		calls++
		return &stubAdapter{}, nil
	})

	a1, err := f.Adapter("stub")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	a2, err := f.Adapter("stub")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if a1 != a2 {
		t.Fatal("expected the same cached adapter instance")
	}
	if calls != 1 {
		t.Fatalf("expected builder to be called once, got %d", calls)
	}
}

func TestFactoryRebuildsAfterTTL(t *testing.T) {
	calls := 0
	f := NewFactory(time.Millisecond)
	f.Register("stub", func() (domain.ExchangeAdapter, error) {
		calls++
		return &stubAdapter{}, nil
	})

	if _, err := f.Adapter("stub"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	time.Sleep(5 * time.Millisecond)
	if _, err := f.Adapter("stub"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if calls != 2 {
		t.Fatalf("expected builder to be called twice after TTL expiry, got %d", calls)
	}
}

func TestFactoryUnregisteredExchange(t *testing.T) {
	f := NewFactory(time.Minute)
	if _, err := f.Adapter("nope"); err == nil {
		t.Fatal("expected error for unregistered exchange")
	}
}
