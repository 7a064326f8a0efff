package middleware

import (
	"context"
	"net"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/eldtechnologies/chatmesh/internal/metrics"
)

const (
	violationWindow    = time.Hour
	violationThreshold = 10
	autoBlockDuration  = 24 * time.Hour
)

// RateLimit defines limits for an endpoint prefix. Channel send cadence is
// enforced by the validation policy; these limits only guard the HTTP
// surface against floods.
type RateLimit struct {
	Pattern  string
	Requests int
	Window   time.Duration
	KeyFunc  func(r *http.Request) string
}

// DefaultLimits is ordered most specific first.
var DefaultLimits = []RateLimit{
	{"POST /admin/", 10, time.Minute, ipKey},
	{"PUT /participants/", 120, time.Minute, ipKey},
	{"DELETE /participants/", 60, time.Minute, ipKey},
	{"POST /messages", 600, time.Minute, participantOrIPKey},
	{"GET /channels", 120, time.Minute, ipKey},
}

// Usage is the state of one key after a hit.
type Usage struct {
	Allowed   bool
	Remaining int
	ResetAt   time.Time
}

// Counter counts requests per key within a window.
type Counter interface {
	Hit(ctx context.Context, key string, limit int, window time.Duration, now time.Time) (Usage, error)
}

// Blocker keeps temporary client blocks and violation tallies.
type Blocker interface {
	IsBlocked(ctx context.Context, ip string) bool
	Block(ctx context.Context, ip string, duration time.Duration, reason string)
	Unblock(ctx context.Context, ip string)
	// Violation records one violation and returns the tally for the
	// current violation window.
	Violation(ctx context.Context, ip string) (int64, error)
}

// RateLimiterConfig holds configuration for the rate limiter.
type RateLimiterConfig struct {
	Whitelist        []string // IPs or CIDRs exempt from rate limiting
	AutoBlockEnabled bool     // Enable auto-blocking after repeated violations
	Limits           []RateLimit
}

// RateLimiter implements per-endpoint request limiting.
type RateLimiter struct {
	counter          Counter
	blocker          Blocker
	limits           []RateLimit
	logger           zerolog.Logger
	whitelist        []*net.IPNet
	whitelistIPs     map[string]bool
	autoBlockEnabled bool
	now              func() time.Time
}

// NewRateLimiter creates a rate limiter over the given backend.
func NewRateLimiter(counter Counter, blocker Blocker, logger zerolog.Logger, cfg RateLimiterConfig) *RateLimiter {
	rl := &RateLimiter{
		counter:          counter,
		blocker:          blocker,
		limits:           cfg.Limits,
		logger:           logger.With().Str("component", "http_ratelimit").Logger(),
		whitelistIPs:     make(map[string]bool),
		autoBlockEnabled: cfg.AutoBlockEnabled,
		now:              time.Now,
	}
	if rl.limits == nil {
		rl.limits = DefaultLimits
	}

	for _, entry := range cfg.Whitelist {
		if !strings.Contains(entry, "/") {
			rl.whitelistIPs[entry] = true
			continue
		}
		_, ipNet, err := net.ParseCIDR(entry)
		if err != nil {
			rl.logger.Warn().Str("entry", entry).Err(err).Msg("invalid CIDR in whitelist")
			continue
		}
		rl.whitelist = append(rl.whitelist, ipNet)
	}

	if len(cfg.Whitelist) > 0 {
		rl.logger.Info().
			Int("ips", len(rl.whitelistIPs)).
			Int("cidrs", len(rl.whitelist)).
			Msg("rate limit whitelist configured")
	}

	return rl
}

func (rl *RateLimiter) isWhitelisted(ipStr string) bool {
	if rl.whitelistIPs[ipStr] {
		return true
	}
	ip := net.ParseIP(ipStr)
	if ip == nil {
		return false
	}
	for _, ipNet := range rl.whitelist {
		if ipNet.Contains(ip) {
			return true
		}
	}
	return false
}

func ipKey(r *http.Request) string {
	return "httplimit:ip:" + RealIP(r)
}

func participantOrIPKey(r *http.Request) string {
	if id := r.Header.Get(ParticipantHeader); id != "" {
		return "httplimit:participant:" + id
	}
	return ipKey(r)
}

// RealIP extracts the real client IP from headers or connection.
func RealIP(r *http.Request) string {
	if ip := r.Header.Get("X-Forwarded-For"); ip != "" {
		return strings.TrimSpace(strings.Split(ip, ",")[0])
	}
	if ip := r.Header.Get("X-Real-IP"); ip != "" {
		return ip
	}
	ip, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return ip
}

// Middleware returns the rate limiting middleware. A failing backend lets
// requests through.
func (rl *RateLimiter) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ip := RealIP(r)
		if rl.isWhitelisted(ip) {
			next.ServeHTTP(w, r)
			return
		}

		if rl.blocker.IsBlocked(r.Context(), ip) {
			metrics.HTTPThrottled.WithLabelValues("blocked").Inc()
			rl.logger.Warn().
				Str("type", "security").
				Str("event", "blocked_request").
				Str("ip", ip).
				Str("endpoint", r.URL.Path).
				Msg("blocked IP attempted request")
			jsonError(w, http.StatusForbidden, "temporarily blocked")
			return
		}

		limit := rl.findLimit(r)
		if limit == nil {
			next.ServeHTTP(w, r)
			return
		}

		key := limit.KeyFunc(r)
		usage, err := rl.counter.Hit(r.Context(), key, limit.Requests, limit.Window, rl.now())
		if err != nil {
			rl.logger.Warn().Err(err).Str("key", key).Msg("rate limit check failed, allowing request")
			next.ServeHTTP(w, r)
			return
		}

		w.Header().Set("X-RateLimit-Limit", strconv.Itoa(limit.Requests))
		w.Header().Set("X-RateLimit-Remaining", strconv.Itoa(usage.Remaining))
		w.Header().Set("X-RateLimit-Reset", strconv.FormatInt(usage.ResetAt.Unix(), 10))

		if usage.Allowed {
			next.ServeHTTP(w, r)
			return
		}

		retry := int(time.Until(usage.ResetAt).Seconds())
		if retry < 1 {
			retry = 1
		}
		w.Header().Set("Retry-After", strconv.Itoa(retry))
		metrics.HTTPThrottled.WithLabelValues("rate_limited").Inc()
		rl.trackViolation(r.Context(), ip)

		rl.logger.Warn().
			Str("type", "security").
			Str("event", "rate_limit_exceeded").
			Str("ip", ip).
			Str("participant", r.Header.Get(ParticipantHeader)).
			Str("endpoint", r.URL.Path).
			Str("key", key).
			Msg("rate limit exceeded")

		jsonError(w, http.StatusTooManyRequests, "rate limit exceeded")
	})
}

func (rl *RateLimiter) findLimit(r *http.Request) *RateLimit {
	key := r.Method + " " + r.URL.Path
	for i := range rl.limits {
		if strings.HasPrefix(key, rl.limits[i].Pattern) {
			l := rl.limits[i]
			return &l
		}
	}
	return nil
}

// trackViolation auto-blocks repeat offenders.
func (rl *RateLimiter) trackViolation(ctx context.Context, ip string) {
	if !rl.autoBlockEnabled {
		return
	}

	count, err := rl.blocker.Violation(ctx, ip)
	if err != nil || count < violationThreshold {
		return
	}

	rl.blocker.Block(ctx, ip, autoBlockDuration, "repeated rate limit violations")
	rl.logger.Warn().
		Str("type", "security").
		Str("event", "ip_auto_blocked").
		Str("ip", ip).
		Int64("violations", count).
		Msg("IP auto-blocked for repeated violations")
}
