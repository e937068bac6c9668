package s3blob

import (
	"context"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/tradecore/tradecore/internal/domain"
)

type fakeArchiver struct {
	mu          sync.Mutex
	calls       int
	tradesN     int64
	ordersN     int64
	footprintsN int64
	err         error
}

func (f *fakeArchiver) ArchiveTrades(context.Context, time.Time) (int64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	return f.tradesN, f.err
}

func (f *fakeArchiver) ArchiveOrders(context.Context, time.Time) (int64, error) {
	return f.ordersN, f.err
}

func (f *fakeArchiver) ArchiveFootprints(context.Context, time.Time) (int64, error) {
	return f.footprintsN, f.err
}

func (f *fakeArchiver) callCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls
}

var _ domain.Archiver = (*fakeArchiver)(nil)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestScheduler_RunsOnEveryTick(t *testing.T) {
	archiver := &fakeArchiver{tradesN: 3, ordersN: 1, footprintsN: 2}
	s := NewScheduler(archiver, 5*time.Millisecond, time.Hour, testLogger())

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Millisecond)
	defer cancel()

	err := s.Run(ctx)
	if err != context.DeadlineExceeded {
		t.Fatalf("Run() error = %v, want context.DeadlineExceeded", err)
	}
	if archiver.callCount() < 2 {
		t.Fatalf("expected at least 2 ticks to have fired, got %d", archiver.callCount())
	}
}

func TestScheduler_StopsOnCancel(t *testing.T) {
	archiver := &fakeArchiver{}
	s := NewScheduler(archiver, time.Hour, time.Hour, testLogger())

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- s.Run(ctx) }()

	cancel()
	select {
	case err := <-done:
		if err != context.Canceled {
			t.Fatalf("Run() error = %v, want context.Canceled", err)
		}
	case <-time.After(time.Second):
		t.Fatal("Run did not return promptly after cancellation")
	}
}

func TestScheduler_DefaultsAppliedForNonPositiveDurations(t *testing.T) {
	s := NewScheduler(&fakeArchiver{}, 0, -1, testLogger())
	if s.interval != 24*time.Hour {
		t.Fatalf("interval default = %v, want 24h", s.interval)
	}
	if s.retention != 90*24*time.Hour {
		t.Fatalf("retention default = %v, want 90 days", s.retention)
	}
}

func TestScheduler_ErrorsAreLoggedNotFatal(t *testing.T) {
	archiver := &fakeArchiver{err: io.ErrUnexpectedEOF}
	s := NewScheduler(archiver, 5*time.Millisecond, time.Hour, testLogger())

	ctx, cancel := context.WithTimeout(context.Background(), 15*time.Millisecond)
	defer cancel()

	if err := s.Run(ctx); err != context.DeadlineExceeded {
		t.Fatalf("Run() error = %v, want context.DeadlineExceeded", err)
	}
	if archiver.callCount() == 0 {
		t.Fatal("expected the scheduler to keep ticking despite archiver errors")
	}
}
