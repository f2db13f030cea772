package ratelimit

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// QuotaResult is the outcome of a daily quota check.
type QuotaResult struct {
	Allowed bool
	Used    int64
	Limit   int64
}

// QuotaTracker counts successful sends per API key per UTC day.
type QuotaTracker struct {
	rdb *redis.Client
	now func() time.Time
}

// NewQuotaTracker creates a quota tracker. If rdb is nil, all checks pass.
func NewQuotaTracker(rdb *redis.Client) *QuotaTracker {
	return &QuotaTracker{rdb: rdb, now: time.Now}
}

func (q *QuotaTracker) dailyKey(keyID string) string {
	day := q.now().UTC().Format("2006-01-02")
	return fmt.Sprintf("smsgw:quota:daily:%s:%s", keyID, day)
}

// Check reports whether keyID still has sends left today. A limit <= 0 means
// unlimited.
func (q *QuotaTracker) Check(ctx context.Context, keyID string, limit int64) (QuotaResult, error) {
	if q.rdb == nil || limit <= 0 {
		return QuotaResult{Allowed: true, Limit: limit}, nil
	}

	used, err := q.rdb.Get(ctx, q.dailyKey(keyID)).Int64()
	if err != nil && !errors.Is(err, redis.Nil) {
		// Fail open on Redis errors
		return QuotaResult{Allowed: true, Limit: limit}, nil
	}

	return QuotaResult{
		Allowed: used < limit,
		Used:    used,
		Limit:   limit,
	}, nil
}

// Record counts one delivered send against keyID's daily quota.
func (q *QuotaTracker) Record(ctx context.Context, keyID string) error {
	if q.rdb == nil {
		return nil
	}

	key := q.dailyKey(keyID)
	// Expire at end of day UTC + 1 hour buffer
	now := q.now().UTC()
	endOfDay := time.Date(now.Year(), now.Month(), now.Day()+1, 0, 0, 0, 0, time.UTC)

	pipe := q.rdb.Pipeline()
	pipe.Incr(ctx, key)
	pipe.Expire(ctx, key, endOfDay.Sub(now)+time.Hour)
	_, err := pipe.Exec(ctx)
	return err
}
