package service

import (
	"context"
	"testing"
	"time"
)

type fakeRateCounter struct {
	buckets     map[string]int
	warmupStart time.Time
}

func newFakeRateCounter(start time.Time) *fakeRateCounter {
	return &fakeRateCounter{buckets: make(map[string]int), warmupStart: start}
}

func (f *fakeRateCounter) IncrBucket(ctx context.Context, bucket string) error {
	f.buckets[bucket]++
	return nil
}

func (f *fakeRateCounter) SumBuckets(ctx context.Context, buckets []string) (int, error) {
	total := 0
	for _, b := range buckets {
		total += f.buckets[b]
	}
	return total, nil
}

func (f *fakeRateCounter) WarmupStart(ctx context.Context, now time.Time) (time.Time, error) {
	if f.warmupStart.IsZero() {
		f.warmupStart = now
	}
	return f.warmupStart, nil
}

func TestCeilingGrowsPerHour(t *testing.T) {
	start := time.Date(2025, 3, 1, 9, 0, 0, 0, time.UTC)
	counter := newFakeRateCounter(start)
	limiter := NewHourlyLimiter(counter, 100, 50, 2000)

	cases := []struct {
		elapsed time.Duration
		want    int
	}{
		{0, 100},
		{30 * time.Minute, 100},
		{1 * time.Hour, 150},
		{5 * time.Hour, 350},
		{200 * time.Hour, 2000},
	}
	for _, c := range cases {
		limiter.now = func() time.Time { return start.Add(c.elapsed) }
		got, err := limiter.Ceiling(context.Background())
		if err != nil {
			t.Fatalf("Ceiling: %v", err)
		}
		if got != c.want {
			t.Errorf("ceiling after %v = %d, want %d", c.elapsed, got, c.want)
		}
	}
}

func TestAllowUnderAndOverCeiling(t *testing.T) {
	start := time.Date(2025, 3, 1, 9, 0, 0, 0, time.UTC)
	counter := newFakeRateCounter(start)
	limiter := NewHourlyLimiter(counter, 3, 0, 3)
	limiter.now = func() time.Time { return start }

	ctx := context.Background()
	for i := 0; i < 3; i++ {
		ok, err := limiter.Allow(ctx)
		if err != nil {
			t.Fatalf("Allow: %v", err)
		}
		if !ok {
			t.Fatalf("send %d should be allowed under ceiling", i+1)
		}
		if err := limiter.Record(ctx); err != nil {
			t.Fatalf("Record: %v", err)
		}
	}

	ok, err := limiter.Allow(ctx)
	if err != nil {
		t.Fatalf("Allow: %v", err)
	}
	if ok {
		t.Error("send over the ceiling should be deferred")
	}
}

func TestAllowCountsRollingHourOnly(t *testing.T) {
	start := time.Date(2025, 3, 1, 9, 0, 0, 0, time.UTC)
	counter := newFakeRateCounter(start)
	limiter := NewHourlyLimiter(counter, 2, 0, 2)
	ctx := context.Background()

	limiter.now = func() time.Time { return start }
	_ = limiter.Record(ctx)
	_ = limiter.Record(ctx)

	if ok, _ := limiter.Allow(ctx); ok {
		t.Fatal("should be at the ceiling right after recording")
	}

	// An hour later the old buckets fall outside the window.
	limiter.now = func() time.Time { return start.Add(61 * time.Minute) }
	if ok, _ := limiter.Allow(ctx); !ok {
		t.Error("old buckets should not count against the new rolling hour")
	}
}

func TestDelayWithinRange(t *testing.T) {
	limiter := NewHourlyLimiter(newFakeRateCounter(time.Now()), 100, 50, 2000)
	for i := 0; i < 100; i++ {
		d := limiter.Delay()
		if d < 30*time.Minute || d >= 60*time.Minute {
			t.Fatalf("delay %v outside [30m, 60m)", d)
		}
	}
}
