package service

import (
	"context"
	"fmt"
	"math/rand"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"
)

// RateCounter persists the rolling-hour send counters and the warm-up
// start time. Backed by Redis in production; tests use an in-memory fake.
type RateCounter interface {
	IncrBucket(ctx context.Context, bucket string) error
	SumBuckets(ctx context.Context, buckets []string) (int, error)
	WarmupStart(ctx context.Context, now time.Time) (time.Time, error)
}

// HourlyLimiter is the adaptive send-rate warm-up: the hourly ceiling
// starts low and grows by a fixed increment each hour up to a cap, so a
// fresh sending domain ramps up instead of burning its reputation. When
// the ceiling is reached, jobs are delayed by a randomized 30-60 minutes,
// never dropped.
type HourlyLimiter struct {
	counter   RateCounter
	base      int
	increment int
	cap       int
	now       func() time.Time
}

func NewHourlyLimiter(counter RateCounter, base, increment, capacity int) *HourlyLimiter {
	if base <= 0 {
		base = 100
	}
	if increment < 0 {
		increment = 0
	}
	if capacity < base {
		capacity = base
	}
	return &HourlyLimiter{
		counter:   counter,
		base:      base,
		increment: increment,
		cap:       capacity,
		now:       time.Now,
	}
}

// Allow reports whether one more send fits under the current ceiling for
// the rolling hour ending now.
func (l *HourlyLimiter) Allow(ctx context.Context) (bool, error) {
	now := l.now()
	ceiling, err := l.Ceiling(ctx)
	if err != nil {
		return false, err
	}
	count, err := l.counter.SumBuckets(ctx, bucketKeys(now))
	if err != nil {
		return false, err
	}
	return count < ceiling, nil
}

// Record counts one sent email in the current minute bucket.
func (l *HourlyLimiter) Record(ctx context.Context) error {
	return l.counter.IncrBucket(ctx, bucketKey(l.now()))
}

// Ceiling returns the currently permitted sends per rolling hour.
func (l *HourlyLimiter) Ceiling(ctx context.Context) (int, error) {
	start, err := l.counter.WarmupStart(ctx, l.now())
	if err != nil {
		return 0, err
	}
	return ceilingAt(l.now(), start, l.base, l.increment, l.cap), nil
}

// Delay returns a randomized 30-60 minute reschedule delay for a job
// deferred by the limiter.
func (l *HourlyLimiter) Delay() time.Duration {
	return 30*time.Minute + time.Duration(rand.Int63n(int64(30*time.Minute)))
}

func ceilingAt(now, warmupStart time.Time, base, increment, capacity int) int {
	if now.Before(warmupStart) {
		return base
	}
	hours := int(now.Sub(warmupStart) / time.Hour)
	ceiling := base + hours*increment
	if ceiling > capacity {
		return capacity
	}
	return ceiling
}

func bucketKey(t time.Time) string {
	return "ratelimit:sends:" + strconv.FormatInt(t.Unix()/60, 10)
}

// bucketKeys returns the minute buckets covering the rolling hour ending
// at t.
func bucketKeys(t time.Time) []string {
	keys := make([]string, 0, 60)
	minute := t.Unix() / 60
	for i := int64(0); i < 60; i++ {
		keys = append(keys, "ratelimit:sends:"+strconv.FormatInt(minute-i, 10))
	}
	return keys
}

// RedisRateCounter stores minute buckets and the warm-up start in Redis
// so all workers share one view of the send rate.
type RedisRateCounter struct {
	Client *redis.Client
}

const warmupStartKey = "ratelimit:warmup_start"

func (c *RedisRateCounter) IncrBucket(ctx context.Context, bucket string) error {
	pipe := c.Client.TxPipeline()
	pipe.Incr(ctx, bucket)
	pipe.Expire(ctx, bucket, 2*time.Hour)
	_, err := pipe.Exec(ctx)
	return err
}

func (c *RedisRateCounter) SumBuckets(ctx context.Context, buckets []string) (int, error) {
	values, err := c.Client.MGet(ctx, buckets...).Result()
	if err != nil {
		return 0, err
	}
	total := 0
	for _, raw := range values {
		if raw == nil {
			continue
		}
		s, ok := raw.(string)
		if !ok {
			continue
		}
		n, err := strconv.Atoi(s)
		if err != nil {
			return 0, fmt.Errorf("corrupt rate bucket value %q: %w", s, err)
		}
		total += n
	}
	return total, nil
}

func (c *RedisRateCounter) WarmupStart(ctx context.Context, now time.Time) (time.Time, error) {
	ok, err := c.Client.SetNX(ctx, warmupStartKey, now.Unix(), 0).Result()
	if err != nil {
		return time.Time{}, err
	}
	if ok {
		return now, nil
	}
	unix, err := c.Client.Get(ctx, warmupStartKey).Int64()
	if err != nil {
		return time.Time{}, err
	}
	return time.Unix(unix, 0), nil
}

var _ RateCounter = (*RedisRateCounter)(nil)
