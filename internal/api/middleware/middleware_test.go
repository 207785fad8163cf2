package middleware

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"
)

var ok = http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
})

func TestSecurityHeaders(t *testing.T) {
	rr := httptest.NewRecorder()
	SecurityHeaders(ok).ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/messages", nil))

	require.Equal(t, "nosniff", rr.Header().Get("X-Content-Type-Options"))
	require.Equal(t, "DENY", rr.Header().Get("X-Frame-Options"))
	require.Equal(t, "default-src 'none'", rr.Header().Get("Content-Security-Policy"))
}

func TestMaxBodySize(t *testing.T) {
	h := MaxBodySize(16)(ok)

	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, httptest.NewRequest(http.MethodPost, "/participants", strings.NewReader(`{"name":"a-very-long-name"}`)))
	require.Equal(t, http.StatusRequestEntityTooLarge, rr.Code)

	rr = httptest.NewRecorder()
	h.ServeHTTP(rr, httptest.NewRequest(http.MethodPost, "/participants", strings.NewReader(`{}`)))
	require.Equal(t, http.StatusOK, rr.Code)
}

func TestValidateRequest(t *testing.T) {
	tests := []struct {
		name   string
		method string
		target string
		ct     string
		body   string
		want   int
	}{
		{"json post", http.MethodPost, "/messages", "application/json", `{}`, http.StatusOK},
		{"empty post without content type", http.MethodPost, "/status", "", "", http.StatusOK},
		{"form post", http.MethodPost, "/messages", "application/x-www-form-urlencoded", "a=b", http.StatusUnsupportedMediaType},
		{"script in query", http.MethodGet, "/messages?limit=<script>", "", "", http.StatusBadRequest},
		{"encoded script in query", http.MethodGet, "/messages?limit=%3Cscript%3E", "", "", http.StatusBadRequest},
		{"plain get", http.MethodGet, "/messages?limit=10", "", "", http.StatusOK},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(tt.method, tt.target, strings.NewReader(tt.body))
			if tt.ct != "" {
				req.Header.Set("Content-Type", tt.ct)
			}
			rr := httptest.NewRecorder()
			ValidateRequest(ok).ServeHTTP(rr, req)
			require.Equal(t, tt.want, rr.Code)
		})
	}
}

func TestClientIP(t *testing.T) {
	trusted := []string{"10.0.0.0/8", "192.0.2.1"}

	tests := []struct {
		name   string
		remote string
		xff    string
		realIP string
		want   string
	}{
		{"no headers", "203.0.113.9:5555", "", "", "203.0.113.9"},
		{"untrusted peer ignores forwarded for", "203.0.113.9:5555", "198.51.100.1", "", "203.0.113.9"},
		{"untrusted peer ignores real ip", "203.0.113.9:5555", "", "198.51.100.1", "203.0.113.9"},
		{"trusted peer single hop", "10.0.0.2:80", "198.51.100.1", "", "198.51.100.1"},
		{"spoofed left hop ignored", "10.0.0.2:80", "1.2.3.4, 198.51.100.1", "", "198.51.100.1"},
		{"trusted hops skipped", "10.0.0.2:80", "198.51.100.1, 192.0.2.1, 10.9.9.9", "", "198.51.100.1"},
		{"malformed hop stops walk", "10.0.0.2:80", "198.51.100.1, junk, 10.9.9.9", "", "10.0.0.2"},
		{"all hops trusted falls back to real ip", "10.0.0.2:80", "10.1.1.1", "198.51.100.7", "198.51.100.7"},
		{"invalid real ip ignored", "10.0.0.2:80", "", "nonsense", "10.0.0.2"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var got string
			h := ClientIP(trusted, zerolog.Nop())(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				got = r.RemoteAddr
			}))

			req := httptest.NewRequest(http.MethodGet, "/", nil)
			req.RemoteAddr = tt.remote
			if tt.xff != "" {
				req.Header.Set("X-Forwarded-For", tt.xff)
			}
			if tt.realIP != "" {
				req.Header.Set("X-Real-IP", tt.realIP)
			}
			h.ServeHTTP(httptest.NewRecorder(), req)
			require.Equal(t, tt.want, got)
		})
	}
}

func TestClientIP_NoTrustedProxies(t *testing.T) {
	var got string
	h := ClientIP(nil, zerolog.Nop())(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		got = r.RemoteAddr
	}))

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.RemoteAddr = "127.0.0.1:4000"
	req.Header.Set("X-Forwarded-For", "198.51.100.1")
	req.Header.Set("X-Real-IP", "198.51.100.2")
	h.ServeHTTP(httptest.NewRecorder(), req)
	require.Equal(t, "127.0.0.1", got)
}

func TestUserKey(t *testing.T) {
	req := httptest.NewRequest(http.MethodGet, "/messages", nil)
	req.RemoteAddr = "10.0.0.7:5555"
	require.Equal(t, "ratelimit:ip:10.0.0.7", userKey(req))

	req.Header.Set("User", "Alice")
	require.Equal(t, "ratelimit:user:Alice", userKey(req))
}

func TestIPSet(t *testing.T) {
	set := parseIPSet([]string{"127.0.0.1", "10.0.0.0/8", "not-a-cidr/99"}, zerolog.Nop())

	require.True(t, set.contains("127.0.0.1"))
	require.True(t, set.contains("10.20.30.40"))
	require.False(t, set.contains("192.168.1.1"))
	require.False(t, set.contains("garbage"))
	require.False(t, set.empty())
	require.True(t, parseIPSet(nil, zerolog.Nop()).empty())
}

func TestRateLimiter_AutoBlock(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	rl := NewRateLimiter(client, zerolog.Nop(), RateLimiterConfig{AutoBlockEnabled: true})
	h := rl.Middleware(ok)

	post := func() int {
		req := httptest.NewRequest(http.MethodPost, "/participants", nil)
		req.RemoteAddr = "203.0.113.5:4000"
		rr := httptest.NewRecorder()
		h.ServeHTTP(rr, req)
		return rr.Code
	}

	for i := 0; i < 10; i++ {
		require.Equal(t, http.StatusOK, post())
	}
	for i := 0; i < violationThreshold; i++ {
		require.Equal(t, http.StatusTooManyRequests, post())
	}
	require.True(t, rl.blocker.IsBlocked(context.Background(), "203.0.113.5"))
	require.Equal(t, http.StatusForbidden, post())
}

func TestRateLimiter_WhitelistBypasses(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	rl := NewRateLimiter(client, zerolog.Nop(), RateLimiterConfig{Whitelist: []string{"203.0.113.0/24"}})
	h := rl.Middleware(ok)

	for i := 0; i < 20; i++ {
		req := httptest.NewRequest(http.MethodPost, "/participants", nil)
		req.RemoteAddr = "203.0.113.5:4000"
		rr := httptest.NewRecorder()
		h.ServeHTTP(rr, req)
		require.Equal(t, http.StatusOK, rr.Code)
		require.Empty(t, rr.Header().Get("X-RateLimit-Limit"))
	}
}
