package crypto

import (
	"net/url"
	"strings"
	"testing"
	"time"
)

func TestRequestSignerSignAtIsDeterministic(t *testing.T) {
	s := NewRequestSigner("key123", "secretabc", 5000)
	at := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)

	params := url.Values{"symbol": {"BTCUSDT"}, "side": {"BUY"}}

	a := s.SignAt(params, at)
	b := s.SignAt(params, at)
	if a != b {
		t.Fatalf("expected deterministic signature, got %q and %q", a, b)
	}
	if !strings.Contains(a, "signature=") {
		t.Fatalf("expected signed query to contain signature param, got %q", a)
	}
	if !strings.Contains(a, "recvWindow=5000") {
		t.Fatalf("expected recvWindow to be appended, got %q", a)
	}
}

func TestRequestSignerDifferentSecretsDiffer(t *testing.T) {
	at := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	params := url.Values{"symbol": {"ETHUSDT"}}

	a := NewRequestSigner("k", "secret-one", 0).SignAt(params, at)
	b := NewRequestSigner("k", "secret-two", 0).SignAt(params, at)
	if a == b {
		t.Fatal("expected different secrets to produce different signatures")
	}
}

func TestRequestSignerDefaultRecvWindow(t *testing.T) {
	s := NewRequestSigner("k", "s", 0)
	if s.RecvWindowMS != 5000 {
		t.Fatalf("expected default recvWindow 5000, got %d", s.RecvWindowMS)
	}
}

func TestAuthHeader(t *testing.T) {
	s := NewRequestSigner("mykey", "secret", 0)
	name, val := s.AuthHeader()
	if name != "X-MBX-APIKEY" || val != "mykey" {
		t.Fatalf("unexpected auth header: %s=%s", name, val)
	}
}
