package strategy

import (
	"math"
	"sync"
	"time"
)

// PricePoint records a single price observation at a point in time.
type PricePoint struct {
	Price float64
	Time  time.Time
}

// PriceTracker maintains a sliding window of recent prices per key (keyed by
// instance id, so multiple instances of the same strategy kind running
// against different symbols never share history) and exposes the
// statistical helpers strategies evaluate against.
type PriceTracker struct {
	history    map[string][]PricePoint
	windowSize time.Duration
	mu         sync.RWMutex
}

// NewPriceTracker creates a PriceTracker with the given sliding window size.
// windowSize controls how far back the in-memory history extends; points
// older than the window are discarded on every Track call.
func NewPriceTracker(windowSize time.Duration) *PriceTracker {
	if windowSize <= 0 {
		windowSize = 5 * time.Minute
	}
	return &PriceTracker{
		history:    make(map[string][]PricePoint),
		windowSize: windowSize,
	}
}

// Track records a new price observation for key and trims points that have
// fallen outside the sliding window.
func (pt *PriceTracker) Track(key string, price float64, ts time.Time) {
	pt.mu.Lock()
	defer pt.mu.Unlock()

	pt.history[key] = append(pt.history[key], PricePoint{Price: price, Time: ts})
	pt.trim(key, ts)
}

// GetHistory returns a copy of the price history within the sliding window
// for key. The returned slice is safe to mutate.
func (pt *PriceTracker) GetHistory(key string) []PricePoint {
	pt.mu.RLock()
	defer pt.mu.RUnlock()

	src := pt.history[key]
	if len(src) == 0 {
		return nil
	}
	out := make([]PricePoint, len(src))
	copy(out, src)
	return out
}

// GetAverage returns the arithmetic mean of all prices in the sliding window
// for key. Returns 0 when there are no recorded points.
func (pt *PriceTracker) GetAverage(key string) float64 {
	pt.mu.RLock()
	defer pt.mu.RUnlock()

	pts := pt.history[key]
	if len(pts) == 0 {
		return 0
	}
	var sum float64
	for _, p := range pts {
		sum += p.Price
	}
	return sum / float64(len(pts))
}

// GetVolatility returns the population standard deviation of the prices in
// the sliding window for key. Returns 0 when there are fewer than two points.
func (pt *PriceTracker) GetVolatility(key string) float64 {
	pt.mu.RLock()
	defer pt.mu.RUnlock()

	pts := pt.history[key]
	if len(pts) < 2 {
		return 0
	}

	var sum float64
	for _, p := range pts {
		sum += p.Price
	}
	mean := sum / float64(len(pts))

	var variance float64
	for _, p := range pts {
		d := p.Price - mean
		variance += d * d
	}
	variance /= float64(len(pts))
	return math.Sqrt(variance)
}

// Oldest returns the oldest recorded price still inside the sliding window
// for key, and whether one exists.
func (pt *PriceTracker) Oldest(key string) (float64, bool) {
	pt.mu.RLock()
	defer pt.mu.RUnlock()
	pts := pt.history[key]
	if len(pts) == 0 {
		return 0, false
	}
	return pts[0].Price, true
}

// DetectFlashCrash returns true when the most recent price has dropped by
// more than threshold (as a fraction, e.g. 0.10 for 10%) relative to the
// recent average.
func (pt *PriceTracker) DetectFlashCrash(key string, threshold float64) bool {
	pt.mu.RLock()
	defer pt.mu.RUnlock()

	pts := pt.history[key]
	if len(pts) < 2 {
		return false
	}

	var sum float64
	n := len(pts) - 1
	for i := 0; i < n; i++ {
		sum += pts[i].Price
	}
	avg := sum / float64(n)
	if avg == 0 {
		return false
	}

	current := pts[len(pts)-1].Price
	drop := (avg - current) / avg
	return drop >= threshold
}

// trim removes all points older than windowSize relative to the reference
// time. The caller must hold pt.mu.
func (pt *PriceTracker) trim(key string, now time.Time) {
	cutoff := now.Add(-pt.windowSize)
	pts := pt.history[key]

	i := 0
	for i < len(pts) && pts[i].Time.Before(cutoff) {
		i++
	}
	if i > 0 {
		pt.history[key] = pts[i:]
	}
}
