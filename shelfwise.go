/*
Copyright 2024 Shelfwise Authors.

Licensed under the Apache License, Version 2.0 (the "License");
you may not use this file except in compliance with the License.
You may obtain a copy of the License at

	http://www.apache.org/licenses/LICENSE-2.0

Unless required by applicable law or agreed to in writing, software
distributed under the License is distributed on an "AS IS" BASIS,
WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
See the License for the specific language governing permissions and
limitations under the License.
*/

package shelfwise

import (
	"context"
	"embed"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/shelfwise/shelfwise/config"
	"github.com/shelfwise/shelfwise/database"
	"github.com/shelfwise/shelfwise/internal/apierror"
	"github.com/shelfwise/shelfwise/internal/cache"
	redlock "github.com/shelfwise/shelfwise/internal/lock"
	"github.com/shelfwise/shelfwise/internal/metrics"
	"github.com/shelfwise/shelfwise/internal/notification"
	"github.com/shelfwise/shelfwise/internal/platform"
	"github.com/shelfwise/shelfwise/internal/ratelimit"
	redis_db "github.com/shelfwise/shelfwise/internal/redis-db"
	"github.com/shelfwise/shelfwise/internal/tokenization"
	"github.com/sirupsen/logrus"
)

//go:embed sql/*.sql
var SQLFiles embed.FS

// Shelfwise is the inventory service: the ledger, reservations, transfers, webhook
// ingestion and platform integrations all hang off it.
type Shelfwise struct {
	conf       *config.Configuration
	datasource database.IDataSource
	redis      redis.UniversalClient
	cache      cache.Cache
	limiter    *ratelimit.Limiter
	policies   ratelimit.Policies
	metrics    *metrics.Metrics
	notifier   *notification.Notifier
	vault      *tokenization.TokenizationService
	platforms  map[string]platform.API
	queue      *Queue
	logger     *logrus.Entry
	now        func() time.Time
}

type Option func(*Shelfwise)

// WithMetrics replaces the collectors registered on the default registry.
func WithMetrics(m *metrics.Metrics) Option {
	return func(s *Shelfwise) { s.metrics = m }
}

func WithNotifier(n *notification.Notifier) Option {
	return func(s *Shelfwise) { s.notifier = n }
}

// WithPlatform overrides the client used for one platform.
func WithPlatform(name string, api platform.API) Option {
	return func(s *Shelfwise) { s.platforms[normalizePlatform(name)] = api }
}

func WithQueue(q *Queue) Option {
	return func(s *Shelfwise) { s.queue = q }
}

func WithClock(now func() time.Time) Option {
	return func(s *Shelfwise) { s.now = now }
}

// NewShelfwise wires the service from the loaded configuration.
func NewShelfwise(db database.IDataSource, opts ...Option) (*Shelfwise, error) {
	configuration, err := config.Fetch()
	if err != nil {
		return nil, err
	}
	redisClient, err := redis_db.FromConfig(configuration.Redis)
	if err != nil {
		return nil, err
	}

	s := &Shelfwise{
		conf:       configuration,
		datasource: db,
		redis:      redisClient.Client(),
		cache:      cache.NewCache(redisClient.Client()),
		policies:   ratelimit.PoliciesFromConfig(configuration.RateLimit),
		metrics:    metrics.New(),
		notifier:   notification.New(configuration.Notification),
		platforms:  make(map[string]platform.API),
		logger:     logrus.WithField("component", "shelfwise"),
		now:        time.Now,
	}

	if key := configuration.Security.EncryptionKey; key != "" {
		s.vault, err = tokenization.NewTokenizationService([]byte(key))
		if err != nil {
			return nil, err
		}
	}

	s.queue, err = NewQueue(configuration)
	if err != nil {
		return nil, err
	}

	for name, ic := range configuration.Integrations {
		s.platforms[name] = platform.NewClient(name, ic, configuration.RateLimit.OutboundPerSecond)
	}

	for _, opt := range opts {
		opt(s)
	}
	s.limiter = ratelimit.NewLimiter(s.redis, s.metrics)
	return s, nil
}

// Limiter exposes the shared two-tier limiter to the HTTP layer.
func (s *Shelfwise) Limiter() *ratelimit.Limiter {
	return s.limiter
}

func (s *Shelfwise) Policies() ratelimit.Policies {
	return s.policies
}

func (s *Shelfwise) Redis() redis.UniversalClient {
	return s.redis
}

func (s *Shelfwise) withLock(ctx context.Context, key string, timeout time.Duration, fn func(ctx context.Context) error) error {
	err := redlock.WithLock(ctx, s.redis, key, timeout, s.conf.Lock.WaitTimeout, fn)
	if errors.Is(err, redlock.ErrLockHeld) {
		return apierror.NewAPIError(apierror.ErrConflict, fmt.Sprintf("'%s' is being processed by another request", key), err)
	}
	return err
}

func (s *Shelfwise) platform(name string) (platform.API, error) {
	api, ok := s.platforms[normalizePlatform(name)]
	if !ok {
		return nil, apierror.NewAPIError(apierror.ErrNotFound, fmt.Sprintf("Platform '%s' is not configured", name), nil)
	}
	return api, nil
}
