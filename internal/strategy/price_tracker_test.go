package strategy

import (
	"math"
	"testing"
	"time"
)

func TestPriceTracker_AverageAndVolatility(t *testing.T) {
	pt := NewPriceTracker(time.Hour)
	base := time.Now()

	prices := []float64{100, 102, 98, 100}
	for i, p := range prices {
		pt.Track("sym", p, base.Add(time.Duration(i)*time.Second))
	}

	got := pt.GetAverage("sym")
	want := 100.0
	if math.Abs(got-want) > 1e-9 {
		t.Fatalf("GetAverage() = %v, want %v", got, want)
	}

	vol := pt.GetVolatility("sym")
	if vol <= 0 {
		t.Fatalf("GetVolatility() = %v, want > 0 for varying prices", vol)
	}
}

func TestPriceTracker_VolatilityRequiresTwoPoints(t *testing.T) {
	pt := NewPriceTracker(time.Hour)
	pt.Track("sym", 100, time.Now())
	if v := pt.GetVolatility("sym"); v != 0 {
		t.Fatalf("GetVolatility() with one point = %v, want 0", v)
	}
}

func TestPriceTracker_TrimsOutsideWindow(t *testing.T) {
	pt := NewPriceTracker(time.Second)
	base := time.Now()

	pt.Track("sym", 100, base)
	pt.Track("sym", 200, base.Add(2*time.Second))

	history := pt.GetHistory("sym")
	if len(history) != 1 {
		t.Fatalf("GetHistory() len = %d, want 1 after the first point falls outside the window", len(history))
	}
	if history[0].Price != 200 {
		t.Fatalf("GetHistory()[0].Price = %v, want the surviving point (200)", history[0].Price)
	}
}

func TestPriceTracker_OldestAndEmptyKey(t *testing.T) {
	pt := NewPriceTracker(time.Hour)
	if _, ok := pt.Oldest("missing"); ok {
		t.Fatal("Oldest() on an untracked key should report false")
	}

	base := time.Now()
	pt.Track("sym", 10, base)
	pt.Track("sym", 20, base.Add(time.Second))

	oldest, ok := pt.Oldest("sym")
	if !ok || oldest != 10 {
		t.Fatalf("Oldest() = (%v, %v), want (10, true)", oldest, ok)
	}
}

func TestPriceTracker_DetectFlashCrash(t *testing.T) {
	pt := NewPriceTracker(time.Hour)
	base := time.Now()

	pt.Track("sym", 100, base)
	pt.Track("sym", 100, base.Add(time.Second))
	pt.Track("sym", 100, base.Add(2*time.Second))
	pt.Track("sym", 80, base.Add(3*time.Second)) // 20% drop from the prior average

	if !pt.DetectFlashCrash("sym", 0.10) {
		t.Fatal("expected a flash crash to be detected for a 20% drop against a 10% threshold")
	}
	if pt.DetectFlashCrash("sym", 0.50) {
		t.Fatal("a 20% drop should not trip a 50% threshold")
	}
}

func TestPriceTracker_DetectFlashCrashNeedsHistory(t *testing.T) {
	pt := NewPriceTracker(time.Hour)
	pt.Track("sym", 100, time.Now())
	if pt.DetectFlashCrash("sym", 0.01) {
		t.Fatal("a single point cannot establish a baseline average to crash from")
	}
}
