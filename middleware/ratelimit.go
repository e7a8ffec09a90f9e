package middleware

import (
	"net"
	"net/http"
	"strconv"

	authcore "github.com/cmskit/authcore"
	"github.com/cmskit/authcore/internal/metrics"
	"github.com/cmskit/authcore/internal/rate"
)

// RateLimit enforces a policy per caller. The key is the verified
// identity when the Guard ran earlier in the chain, the client IP
// otherwise. Responses always carry X-RateLimit-* headers; a denial is
// 429 with Retry-After in seconds.
func RateLimit(engine *authcore.Engine, policy rate.Policy) func(http.Handler) http.Handler {
	limiter := engine.Limiter()

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			key := limitKey(r)

			d := limiter.Hit(r.Context(), key, policy)
			writeRateHeaders(w, d)

			if !d.Allowed {
				engine.Counters().Inc(metrics.RateLimitHit)
				tooManyRequests(w, d)
				return
			}

			next.ServeHTTP(w, r)
		})
	}
}

func limitKey(r *http.Request) string {
	if id, ok := authcore.IdentityFromContext(r.Context()); ok {
		return "id:" + id.AccountID
	}
	return "ip:" + ClientIP(r)
}

// ClientIP strips the port from RemoteAddr. Deployments behind a proxy
// terminate that concern before this process.
func ClientIP(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}

// ClientContext attaches the caller's IP and user agent to the request
// context for fingerprinting and flow-level rate limiting.
func ClientContext(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ctx := authcore.WithClientIP(r.Context(), ClientIP(r))
		ctx = authcore.WithUserAgent(ctx, r.UserAgent())
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

func writeRateHeaders(w http.ResponseWriter, d rate.Decision) {
	w.Header().Set("X-RateLimit-Limit", strconv.Itoa(d.Limit))
	w.Header().Set("X-RateLimit-Remaining", strconv.Itoa(d.Remaining))
	w.Header().Set("X-RateLimit-Reset", strconv.FormatInt(d.ResetAt.Unix(), 10))
}

func tooManyRequests(w http.ResponseWriter, d rate.Decision) {
	retry := int(d.RetryAfter.Seconds())
	if retry < 1 {
		retry = 1
	}
	w.Header().Set("Retry-After", strconv.Itoa(retry))
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusTooManyRequests)
	_, _ = w.Write([]byte(`{"error":"rate limited"}`))
}
