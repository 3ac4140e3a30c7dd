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
package middleware

import (
	"crypto/subtle"
	"net/http"
	"strconv"
	"time"

	"github.com/didip/tollbooth/v7"
	"github.com/didip/tollbooth/v7/limiter"
	"github.com/gin-gonic/gin"
	"github.com/shelfwise/shelfwise/config"
	"github.com/shelfwise/shelfwise/internal/ratelimit"
	"github.com/sirupsen/logrus"
)

const (
	KeyHeader    = "X-Shelfwise-Key"
	CallerHeader = "X-Shelfwise-User"
)

// RateLimitMiddleware is the per-process burst guard in front of every route. The
// sliding-window limits shared across replicas are applied per route by SlidingWindow.
func RateLimitMiddleware(conf *config.Configuration) gin.HandlerFunc {
	if conf.RateLimit.RequestsPerSecond == nil || conf.RateLimit.Burst == nil {
		// Rate limiting is disabled
		return func(c *gin.Context) {
			c.Next()
		}
	}

	rps := *conf.RateLimit.RequestsPerSecond
	burst := *conf.RateLimit.Burst
	ttl := time.Minute
	if conf.RateLimit.CleanupIntervalSec != nil {
		ttl = time.Duration(*conf.RateLimit.CleanupIntervalSec) * time.Second
	}

	lmt := tollbooth.NewLimiter(rps, &limiter.ExpirableOptions{
		DefaultExpirationTTL: ttl,
	})
	lmt.SetBurst(burst)
	return func(c *gin.Context) {
		httpError := tollbooth.LimitByRequest(lmt, c.Writer, c.Request)
		if httpError != nil {
			c.AbortWithStatusJSON(httpError.StatusCode, gin.H{"error": httpError.Message})
			return
		}
		c.Next()
	}
}

func SecretKeyAuthMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		conf, err := config.Fetch()
		if err != nil {
			c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": "Secret key is not configured"})
			return
		}
		secretKey := conf.Server.SecretKey
		if secretKey == "" {
			c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": "Secret key is not configured"})
			return
		}

		clientSecret := c.GetHeader(KeyHeader)

		if clientSecret == "" {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "Missing secret key"})
			return
		}

		if !secureCompare(secretKey, clientSecret) {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "Invalid secret key"})
			return
		}

		c.Next()
	}
}

func secureCompare(a, b string) bool {
	return subtle.ConstantTimeCompare([]byte(a), []byte(b)) == 1
}

// KeyFunc picks the limiter identifier for a request. An empty identifier skips the
// check.
type KeyFunc func(c *gin.Context) string

// SlidingWindow admits at most policy.Limit requests per policy.Window for each key,
// counted across every replica sharing the limiter's Redis.
func SlidingWindow(l *ratelimit.Limiter, policy ratelimit.Policy, key KeyFunc) gin.HandlerFunc {
	return func(c *gin.Context) {
		id := key(c)
		if id == "" {
			c.Next()
			return
		}
		res, err := l.Allow(c.Request.Context(), id, policy)
		if err != nil {
			// fail open; the burst guard still applies
			logrus.WithError(err).WithField("identifier", id).Error("rate limit check failed")
			c.Next()
			return
		}

		c.Header("X-RateLimit-Limit", strconv.Itoa(policy.Limit))
		c.Header("X-RateLimit-Remaining", strconv.Itoa(res.Remaining))
		if !res.Allowed {
			retryAfter := res.RetryAfterSeconds()
			c.Header("Retry-After", strconv.Itoa(retryAfter))
			c.AbortWithStatusJSON(http.StatusTooManyRequests, gin.H{
				"error":       "Too many requests",
				"retry_after": retryAfter,
			})
			return
		}
		c.Next()
	}
}

// ByClientIP keys a limiter on prefix plus the client address.
func ByClientIP(prefix string) KeyFunc {
	return func(c *gin.Context) string {
		return prefix + ":" + c.ClientIP()
	}
}

// ByParam keys a limiter on prefix plus a route parameter.
func ByParam(prefix, param string) KeyFunc {
	return func(c *gin.Context) string {
		v := c.Param(param)
		if v == "" {
			return ""
		}
		return prefix + ":" + v
	}
}

// ByCaller keys a limiter on the caller header, falling back to the client address.
func ByCaller(prefix string) KeyFunc {
	return func(c *gin.Context) string {
		if caller := Caller(c); caller != "" {
			return prefix + ":" + caller
		}
		return prefix + ":" + c.ClientIP()
	}
}

// ByParamAndCaller keys a limiter on a route parameter and the caller together, so
// one user cannot use up another user's allowance for the same resource.
func ByParamAndCaller(prefix, param string) KeyFunc {
	byParam, byCaller := ByParam(prefix, param), ByCaller("")
	return func(c *gin.Context) string {
		key := byParam(c)
		if key == "" {
			return ""
		}
		return key + byCaller(c)
	}
}

// Caller is the user id the upstream auth layer put on the request.
func Caller(c *gin.Context) string {
	return c.GetHeader(CallerHeader)
}
