package ratelimit

import (
	"context"
	"fmt"
	"time"

	"github.com/ulule/limiter/v3"
	"github.com/ulule/limiter/v3/drivers/store/memory"
)

// Quota is a fixed window counter backed by a shared limiter.Store, so the
// count survives restarts and is shared between instances when the store is redis.
type Quota struct {
	lim *limiter.Limiter
}

type Result struct {
	Allowed   bool
	Limit     int64
	Remaining int64
	Reset     time.Time
}

// NewQuota allows limit hits per period for each key. A limit of zero or less
// disables the quota and every Take is allowed.
func NewQuota(store limiter.Store, limit int64, period time.Duration) *Quota {
	if limit <= 0 {
		return &Quota{}
	}
	if store == nil {
		store = memory.NewStore()
	}
	return &Quota{lim: limiter.New(store, limiter.Rate{Period: period, Limit: limit})}
}

func (q *Quota) Enabled() bool { return q != nil && q.lim != nil }

// Take consumes one hit for key.
func (q *Quota) Take(ctx context.Context, key string) (Result, error) {
	if !q.Enabled() {
		return Result{Allowed: true}, nil
	}
	lc, err := q.lim.Get(ctx, key)
	if err != nil {
		return Result{}, fmt.Errorf("quota %s: %w", key, err)
	}
	return Result{
		Allowed:   !lc.Reached,
		Limit:     lc.Limit,
		Remaining: lc.Remaining,
		Reset:     time.Unix(lc.Reset, 0),
	}, nil
}

// Peek reports the current state for key without consuming a hit.
func (q *Quota) Peek(ctx context.Context, key string) (Result, error) {
	if !q.Enabled() {
		return Result{Allowed: true}, nil
	}
	lc, err := q.lim.Peek(ctx, key)
	if err != nil {
		return Result{}, fmt.Errorf("quota %s: %w", key, err)
	}
	return Result{
		Allowed:   !lc.Reached && lc.Remaining > 0,
		Limit:     lc.Limit,
		Remaining: lc.Remaining,
		Reset:     time.Unix(lc.Reset, 0),
	}, nil
}
