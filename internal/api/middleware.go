package api

import (
	"context"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5/middleware"

	"github.com/nftecnologia/mailgenius/internal/apikey"
	"github.com/nftecnologia/mailgenius/internal/metrics"
	"github.com/nftecnologia/mailgenius/internal/pkg/logger"
)

type ctxKey int

const identityKey ctxKey = iota

// IdentityFrom returns the authenticated caller, or nil on public routes.
func IdentityFrom(ctx context.Context) *apikey.Identity {
	id, _ := ctx.Value(identityKey).(*apikey.Identity)
	return id
}

func clientIP(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}

// authenticate resolves the bearer token to an identity. Failures are
// logged as security events and answered uniformly so that callers cannot
// distinguish unknown from revoked keys.
func (h *Handlers) authenticate(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		token := strings.TrimPrefix(r.Header.Get("Authorization"), "Bearer ")
		if token == "" || token == r.Header.Get("Authorization") {
			logger.Warn("request without bearer token", "path", r.URL.Path, "ip", clientIP(r))
			Error(w, http.StatusUnauthorized, "UNAUTHORIZED", "missing bearer token")
			return
		}

		identity, err := h.keys.Validate(r.Context(), token, &apikey.RequestContext{
			IPAddress: clientIP(r),
			UserAgent: r.UserAgent(),
		})
		if err != nil {
			Fail(w, err)
			return
		}
		if identity == nil {
			logger.Warn("invalid api key rejected", "path", r.URL.Path, "ip", clientIP(r))
			Error(w, http.StatusUnauthorized, "UNAUTHORIZED", "invalid api key")
			return
		}

		next.ServeHTTP(w, r.WithContext(context.WithValue(r.Context(), identityKey, identity)))
	})
}

// limit applies one rate-limit profile to the route. Authenticated calls
// count per owner, public calls per client IP. Quota headers are emitted
// on every response, allowed or not.
func (h *Handlers) limit(profileName string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			identifier := clientIP(r)
			if id := IdentityFrom(r.Context()); id != nil {
				identifier = id.OwnerID
			}

			start := time.Now()
			res := h.limiter.Check(r.Context(), identifier, profileName)
			if h.monitor != nil {
				h.monitor.Observe(identifier, profileName, res.Allowed, time.Since(start))
			}
			for k, v := range res.Headers() {
				w.Header().Set(k, v)
			}
			if !res.Allowed {
				h.metrics.Record(metrics.RateLimitHits, 1, map[string]string{"profile": profileName})
				Error(w, http.StatusTooManyRequests, "RATE_LIMIT_EXCEEDED", res.Message)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

// instrument records latency and status for every request.
func (h *Handlers) instrument(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		start := time.Now()
		next.ServeHTTP(ww, r)
		h.metrics.RecordAPICall(r.URL.Path, ww.Status(), float64(time.Since(start).Milliseconds()))
	})
}
