// Package ratelimit implements sliding-window request limits shared across replicas
// through Redis, with a per-process fallback when Redis is unreachable.
package ratelimit

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/shelfwise/shelfwise/config"
	"github.com/shelfwise/shelfwise/internal/metrics"
	"github.com/sirupsen/logrus"
)

// Result is the outcome of one check. ResetIn is how long until the oldest counted
// request leaves the window.
type Result struct {
	Allowed   bool          `json:"allowed"`
	Remaining int           `json:"remaining"`
	ResetIn   time.Duration `json:"reset_in"`
}

// RetryAfterSeconds rounds ResetIn up, never below one second.
func (r Result) RetryAfterSeconds() int {
	secs := int((r.ResetIn + time.Second - 1) / time.Second)
	if secs < 1 {
		return 1
	}
	return secs
}

type Store interface {
	Check(ctx context.Context, key string, limit int, window time.Duration, now time.Time) (Result, error)
}

type Policy struct {
	Limit  int
	Window time.Duration
}

type Policies struct {
	OAuth   Policy
	Webhook Policy
	API     Policy
	Sync    Policy
}

func DefaultPolicies() Policies {
	return Policies{
		OAuth:   Policy{Limit: 10, Window: time.Minute},
		Webhook: Policy{Limit: 100, Window: time.Minute},
		API:     Policy{Limit: 30, Window: time.Minute},
		Sync:    Policy{Limit: 5, Window: time.Minute},
	}
}

func PoliciesFromConfig(cnf config.RateLimitConfig) Policies {
	p := DefaultPolicies()
	apply := func(dst *Policy, src config.Policy) {
		if src.Limit > 0 {
			dst.Limit = src.Limit
		}
		if src.WindowSeconds > 0 {
			dst.Window = src.Window()
		}
	}
	apply(&p.OAuth, cnf.OAuth)
	apply(&p.Webhook, cnf.Webhook)
	apply(&p.API, cnf.API)
	apply(&p.Sync, cnf.Sync)
	return p
}

var ErrInvalidPolicy = errors.New("rate limit and window must be positive")

// Limiter checks Redis first and degrades to the local store on any Redis error.
// While degraded each replica enforces the limit on its own.
type Limiter struct {
	distributed Store
	local       *LocalStore
	metrics     *metrics.Metrics
	logger      *logrus.Entry
	now         func() time.Time
}

// NewLimiter builds a two-tier limiter. A nil client gives a local-only limiter.
func NewLimiter(client redis.UniversalClient, m *metrics.Metrics) *Limiter {
	l := &Limiter{
		local:   NewLocalStore(),
		metrics: m,
		logger:  logrus.WithField("component", "ratelimit"),
		now:     time.Now,
	}
	if client != nil {
		l.distributed = NewRedisStore(client)
	}
	return l
}

// Local exposes the fallback store so callers can run its janitor.
func (l *Limiter) Local() *LocalStore {
	return l.local
}

func Key(identifier string, limit int, window time.Duration) string {
	return fmt.Sprintf("rl:%s:%d:%d", identifier, limit, int64(window/time.Second))
}

func (l *Limiter) Check(ctx context.Context, identifier string, limit int, window time.Duration) (Result, error) {
	if limit <= 0 || window <= 0 {
		return Result{}, ErrInvalidPolicy
	}
	key := Key(identifier, limit, window)
	now := l.now()

	if l.distributed != nil {
		res, err := l.distributed.Check(ctx, key, limit, window, now)
		if err == nil {
			l.metrics.RateLimitDecision("redis", res.Allowed)
			return res, nil
		}
		l.logger.WithFields(logrus.Fields{
			"identifier":  identifier,
			"distributed": false,
			"error":       err.Error(),
		}).Warn("redis rate limiter unavailable, falling back to local limits")
	}

	res, err := l.local.Check(ctx, key, limit, window, now)
	if err != nil {
		return Result{}, err
	}
	l.metrics.RateLimitDecision("local", res.Allowed)
	return res, nil
}

func (l *Limiter) Allow(ctx context.Context, identifier string, p Policy) (Result, error) {
	return l.Check(ctx, identifier, p.Limit, p.Window)
}
