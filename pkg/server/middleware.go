package server

import (
	"log/slog"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/relayforge/relayforge/internal/governance"
	"github.com/relayforge/relayforge/pkg/domain"
)

// publicPaths need no login: health, the login flow itself and static
// assets.
var publicPaths = []string{"/healthz", "/login", "/logout", "/metrics"}

func isPublicPath(path string) bool {
	for _, p := range publicPaths {
		if path == p {
			return true
		}
	}
	return strings.HasPrefix(path, "/static/")
}

// SessionGuard rejects unauthenticated requests. API calls get a JSON
// 401; page requests get redirected to the login page with the stale
// cookie cleared so the browser does not resend it.
type SessionGuard struct {
	tokens  *TokenStore
	enabled bool
	logger  *slog.Logger
}

// NewSessionGuard builds the guard. When enabled is false every request
// passes through, which is the single-user development mode.
func NewSessionGuard(tokens *TokenStore, enabled bool, logger *slog.Logger) *SessionGuard {
	if logger == nil {
		logger = slog.Default()
	}
	return &SessionGuard{tokens: tokens, enabled: enabled, logger: logger}
}

// Wrap wraps an HTTP handler with login enforcement.
func (g *SessionGuard) Wrap(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !g.enabled || isPublicPath(r.URL.Path) {
			next.ServeHTTP(w, r)
			return
		}

		if g.tokens.Valid(requestToken(r)) {
			next.ServeHTTP(w, r)
			return
		}

		g.logger.Warn("Unauthenticated request",
			"path", r.URL.Path,
			"method", r.Method,
			"remote_addr", r.RemoteAddr,
		)

		if strings.HasPrefix(r.URL.Path, "/api/") {
			writeError(r.Context(), w, domain.ErrUnauthorized)
			return
		}

		// Only a credential that was actually presented gets cleared; an
		// anonymous first visit is just redirected.
		if requestToken(r) != "" {
			http.SetCookie(w, &http.Cookie{
				Name:     SessionCookie,
				Value:    "",
				Path:     "/",
				MaxAge:   -1,
				HttpOnly: true,
			})
		}
		http.Redirect(w, r, "/login", http.StatusFound)
	})
}

// RateLimitMiddleware applies the fixed-window limiter to API routes,
// keyed by login token when present and by remote address otherwise.
type RateLimitMiddleware struct {
	limiter *governance.Limiter
	metrics *Metrics
	logger  *slog.Logger
}

// NewRateLimitMiddleware builds the middleware.
func NewRateLimitMiddleware(limiter *governance.Limiter, metrics *Metrics, logger *slog.Logger) *RateLimitMiddleware {
	if logger == nil {
		logger = slog.Default()
	}
	return &RateLimitMiddleware{limiter: limiter, metrics: metrics, logger: logger}
}

// Wrap wraps an HTTP handler with rate limiting.
func (m *RateLimitMiddleware) Wrap(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !strings.HasPrefix(r.URL.Path, "/api/") {
			next.ServeHTTP(w, r)
			return
		}

		d := m.limiter.Allow(r.Context(), clientKey(r))
		governance.WriteHeaders(w, d)
		if !d.Allowed {
			if m.metrics != nil {
				m.metrics.RecordRateLimited(r.URL.Path)
			}
			m.logger.Warn("Rate limit exceeded",
				"path", r.URL.Path,
				"retry_after", d.RetryAfter,
			)
			writeRateLimited(w, d)
			return
		}
		next.ServeHTTP(w, r)
	})
}

func writeRateLimited(w http.ResponseWriter, d governance.Decision) {
	writeJSON(w, http.StatusTooManyRequests, domain.ErrorResponse{
		Code:       domain.CodeRateLimited,
		Message:    domain.ErrRateLimited.Error(),
		RetryAfter: int(d.RetryAfter.Seconds()),
	})
}

// clientKey identifies the caller for rate accounting.
func clientKey(r *http.Request) string {
	if tok := requestToken(r); tok != "" {
		return "token:" + tok
	}
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return "addr:" + r.RemoteAddr
	}
	return "addr:" + host
}

// LoggingMiddleware emits one structured line per request.
type LoggingMiddleware struct {
	logger *slog.Logger
}

// NewLoggingMiddleware builds the middleware.
func NewLoggingMiddleware(logger *slog.Logger) *LoggingMiddleware {
	if logger == nil {
		logger = slog.Default()
	}
	return &LoggingMiddleware{logger: logger}
}

// Wrap wraps an HTTP handler with request logging.
func (m *LoggingMiddleware) Wrap(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		wrapped := &statusWriter{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(wrapped, r)
		m.logger.Info("Request handled",
			"method", r.Method,
			"path", r.URL.Path,
			"status", wrapped.status,
			"duration", time.Since(start),
		)
	})
}

// statusWriter captures the response status for logging and metrics.
type statusWriter struct {
	http.ResponseWriter
	status int
}

func (w *statusWriter) WriteHeader(code int) {
	w.status = code
	w.ResponseWriter.WriteHeader(code)
}
