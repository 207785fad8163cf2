package middleware

import (
	"context"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"sync/atomic"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"github.com/eldtechnologies/batepapo/internal/metrics"
)

const (
	// Auto-block after this many rejected requests within violationWindow.
	violationThreshold = 10
	violationWindow    = time.Hour
	blockDuration      = 24 * time.Hour
)

// requestSeq keeps window members unique when two requests share a timestamp.
var requestSeq atomic.Uint64

// RateLimit defines limits for a route.
type RateLimit struct {
	Requests int
	Window   time.Duration
	KeyFunc  func(r *http.Request) string
}

// RateLimiterConfig holds configuration for the rate limiter.
type RateLimiterConfig struct {
	Whitelist        []string // IPs or CIDRs exempt from rate limiting
	AutoBlockEnabled bool     // Enable auto-blocking after repeated violations
}

// RateLimiter implements sliding window rate limiting backed by Redis.
type RateLimiter struct {
	client    *redis.Client
	limits    map[string]RateLimit
	blocker   *IPBlocker
	allow     ipSet
	autoBlock bool
	logger    zerolog.Logger
}

// NewRateLimiter creates a rate limiter with the chat's per-route limits.
// Client addresses come from r.RemoteAddr, so ClientIP must run first when
// the server sits behind a proxy.
func NewRateLimiter(client *redis.Client, logger zerolog.Logger, cfg RateLimiterConfig) *RateLimiter {
	allow := parseIPSet(cfg.Whitelist, logger)
	if !allow.empty() {
		logger.Info().
			Int("ips", len(allow.ips)).
			Int("cidrs", len(allow.nets)).
			Msg("rate limit whitelist configured")
	}

	return &RateLimiter{
		client:    client,
		blocker:   NewIPBlocker(client),
		allow:     allow,
		autoBlock: cfg.AutoBlockEnabled,
		logger:    logger,
		limits: map[string]RateLimit{
			"POST /participants": {10, time.Minute, ipKey},
			"GET /participants":  {120, time.Minute, ipKey},
			"POST /messages":     {60, time.Minute, userKey},
			"GET /messages":      {120, time.Minute, userKey},
			"POST /status":       {60, time.Minute, userKey}, // clients beat every few seconds
		},
	}
}

// ipKey limits by client address.
func ipKey(r *http.Request) string {
	return "ratelimit:ip:" + remoteHost(r)
}

// userKey returns a key per participant name, falling back to the client IP
// when the user header is absent.
func userKey(r *http.Request) string {
	user := strings.TrimSpace(r.Header.Get("User"))
	if user == "" {
		return ipKey(r)
	}
	return "ratelimit:user:" + user
}

// CheckAndIncrement records a request in the key's sliding window and
// reports whether it is within the limit.
// Returns (allowed, remaining, resetAt).
func (rl *RateLimiter) CheckAndIncrement(ctx context.Context, key string, limit int, window time.Duration) (bool, int, time.Time) {
	now := time.Now()
	windowStart := now.Add(-window)

	pipe := rl.client.TxPipeline()
	// Drop requests that left the window
	pipe.ZRemRangeByScore(ctx, key, "-inf", fmt.Sprintf("(%d", windowStart.UnixMilli()))
	countCmd := pipe.ZCard(ctx, key)
	oldestCmd := pipe.ZRangeWithScores(ctx, key, 0, 0)
	pipe.ZAdd(ctx, key, redis.Z{
		Score:  float64(now.UnixMilli()),
		Member: fmt.Sprintf("%d-%d", now.UnixNano(), requestSeq.Add(1)),
	})
	pipe.Expire(ctx, key, window)

	if _, err := pipe.Exec(ctx); err != nil {
		// Fail open: Redis trouble must not take the chat down
		rl.logger.Warn().Err(err).Str("key", key).Msg("rate limit check failed")
		return true, limit, now.Add(window)
	}

	count := int(countCmd.Val())
	remaining := max(limit-count-1, 0)

	resetAt := now.Add(window)
	if oldest := oldestCmd.Val(); len(oldest) > 0 {
		resetAt = time.UnixMilli(int64(oldest[0].Score)).Add(window)
	}

	return count < limit, remaining, resetAt
}

// Middleware returns the rate limiting middleware.
func (rl *RateLimiter) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()
		ip := remoteHost(r)

		if rl.allow.contains(ip) {
			next.ServeHTTP(w, r)
			return
		}

		if rl.blocker.IsBlocked(ctx, ip) {
			metrics.BlockedRequests.WithLabelValues("ip_blocked").Inc()
			rl.securityEvent(r, ip, "blocked_request").Msg("blocked IP attempted request")
			writeJSONError(w, http.StatusForbidden, "temporarily blocked")
			return
		}

		limit, ok := rl.limits[r.Method+" "+r.URL.Path]
		if !ok {
			next.ServeHTTP(w, r)
			return
		}

		key := limit.KeyFunc(r)
		allowed, remaining, resetAt := rl.CheckAndIncrement(ctx, key, limit.Requests, limit.Window)

		h := w.Header()
		h.Set("X-RateLimit-Limit", strconv.Itoa(limit.Requests))
		h.Set("X-RateLimit-Remaining", strconv.Itoa(remaining))
		h.Set("X-RateLimit-Reset", strconv.FormatInt(resetAt.Unix(), 10))

		if !allowed {
			h.Set("Retry-After", strconv.Itoa(max(int(time.Until(resetAt).Seconds()), 1)))
			metrics.RateLimitHits.WithLabelValues(r.Method + " " + r.URL.Path).Inc()
			rl.securityEvent(r, ip, "rate_limit_exceeded").Str("key", key).Msg("rate limit exceeded")
			rl.trackViolation(ctx, ip)
			writeJSONError(w, http.StatusTooManyRequests, "rate limit exceeded")
			return
		}

		next.ServeHTTP(w, r)
	})
}

func (rl *RateLimiter) securityEvent(r *http.Request, ip, event string) *zerolog.Event {
	return rl.logger.Warn().
		Str("type", "security").
		Str("event", event).
		Str("ip", ip).
		Str("user", r.Header.Get("User")).
		Str("endpoint", r.Method+" "+r.URL.Path)
}

// trackViolation counts rejected requests per IP and blocks repeat offenders
// when auto-blocking is enabled.
func (rl *RateLimiter) trackViolation(ctx context.Context, ip string) {
	if !rl.autoBlock {
		return
	}

	key := "violations:ip:" + ip
	pipe := rl.client.TxPipeline()
	incr := pipe.Incr(ctx, key)
	pipe.Expire(ctx, key, violationWindow)
	if _, err := pipe.Exec(ctx); err != nil {
		rl.logger.Warn().Err(err).Str("ip", ip).Msg("failed to record rate limit violation")
		return
	}

	if count := incr.Val(); count >= violationThreshold {
		if err := rl.blocker.Block(ctx, ip, blockDuration, "repeated rate limit violations"); err != nil {
			rl.logger.Error().Err(err).Str("ip", ip).Msg("failed to block IP")
			return
		}
		rl.logger.Warn().
			Str("type", "security").
			Str("event", "ip_auto_blocked").
			Str("ip", ip).
			Int64("violations", count).
			Msg("IP auto-blocked for repeated violations")
	}
}

// IPBlocker manages temporary IP blocks.
type IPBlocker struct {
	client *redis.Client
}

// NewIPBlocker creates a new IP blocker.
func NewIPBlocker(client *redis.Client) *IPBlocker {
	return &IPBlocker{client: client}
}

func blockKey(ip string) string {
	return "blocked:ip:" + ip
}

// IsBlocked reports whether ip is currently blocked. Lookup errors count as
// not blocked.
func (b *IPBlocker) IsBlocked(ctx context.Context, ip string) bool {
	n, err := b.client.Exists(ctx, blockKey(ip)).Result()
	return err == nil && n > 0
}

// Block blocks ip for duration, storing reason as the key's value.
func (b *IPBlocker) Block(ctx context.Context, ip string, duration time.Duration, reason string) error {
	return b.client.Set(ctx, blockKey(ip), reason, duration).Err()
}
