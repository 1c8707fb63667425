package middleware

import (
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"golang.org/x/time/rate"
)

// Per-IP rate limiting on the exposed API. The standard tier comes from
// config; GET runs at twice that rate and snapshot ingestion at ten times,
// since every completed operation records one snapshot.
const (
	getTierFactor    = 2
	ingestTierFactor = 10
)

type rateLimitTier int

const (
	tierIngest rateLimitTier = iota
	tierGet
	tierStandard
)

// APIRateLimiter holds per-IP limiters per tier. Injected into the router,
// one per server instance.
type APIRateLimiter struct {
	mu       sync.Mutex
	perMin   int
	burst    int
	ingest   map[string]*rate.Limiter
	get      map[string]*rate.Limiter
	standard map[string]*rate.Limiter
}

// NewAPIRateLimiter creates an empty per-IP limiter set. perMin and burst
// size the standard tier; perMin <= 0 disables limiting entirely.
func NewAPIRateLimiter(perMin, burst int) *APIRateLimiter {
	if burst <= 0 {
		burst = perMin
	}
	return &APIRateLimiter{
		perMin:   perMin,
		burst:    burst,
		ingest:   make(map[string]*rate.Limiter),
		get:      make(map[string]*rate.Limiter),
		standard: make(map[string]*rate.Limiter),
	}
}

func (l *APIRateLimiter) enabled() bool { return l.perMin > 0 }

func (l *APIRateLimiter) tierConfig(t rateLimitTier) (perMin, burst int) {
	switch t {
	case tierIngest:
		return l.perMin * ingestTierFactor, l.burst * ingestTierFactor
	case tierGet:
		return l.perMin * getTierFactor, l.burst * getTierFactor
	default:
		return l.perMin, l.burst
	}
}

func getClientIP(r *http.Request) string {
	if xff := r.Header.Get("X-Forwarded-For"); xff != "" {
		if idx := strings.Index(xff, ","); idx > 0 {
			return strings.TrimSpace(xff[:idx])
		}
		return strings.TrimSpace(xff)
	}
	if xri := r.Header.Get("X-Real-IP"); xri != "" {
		return strings.TrimSpace(xri)
	}
	addr := r.RemoteAddr
	if idx := strings.LastIndex(addr, ":"); idx >= 0 {
		addr = addr[:idx]
	}
	return addr
}

func tierForRequest(r *http.Request) rateLimitTier {
	if strings.HasSuffix(strings.TrimSuffix(strings.ToLower(r.URL.Path), "/"), "/internal/snapshots") {
		return tierIngest
	}
	if r.Method == http.MethodGet || r.Method == http.MethodHead {
		return tierGet
	}
	return tierStandard
}

func (l *APIRateLimiter) getLimiter(ip string, t rateLimitTier) *rate.Limiter {
	perMin, burst := l.tierConfig(t)
	limit := rate.Limit(float64(perMin) / 60.0)
	var m map[string]*rate.Limiter
	switch t {
	case tierIngest:
		m = l.ingest
	case tierGet:
		m = l.get
	default:
		m = l.standard
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	if lim, ok := m[ip]; ok {
		return lim
	}
	lim := rate.NewLimiter(limit, burst)
	m[ip] = lim
	return lim
}

func writeRateLimited(w http.ResponseWriter, limitPerMin, retryAfter int, reset time.Time) {
	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("Retry-After", strconv.Itoa(retryAfter))
	w.Header().Set("X-RateLimit-Limit", strconv.Itoa(limitPerMin))
	w.Header().Set("X-RateLimit-Remaining", "0")
	w.Header().Set("X-RateLimit-Reset", strconv.FormatInt(reset.Unix(), 10))
	w.WriteHeader(http.StatusTooManyRequests)
	_, _ = w.Write([]byte(`{"error":"Too many requests. Please retry later."}`))
}

// RateLimit returns middleware that limits requests per IP using a token
// bucket per tier; GET gets twice the standard rate, ingestion ten times.
// /healthz and /metrics are exempt. Returns 429 with Retry-After and
// X-RateLimit-* headers.
func RateLimit(limiters *APIRateLimiter) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			path := r.URL.Path
			if path == "/healthz" || path == "/metrics" || !limiters.enabled() {
				next.ServeHTTP(w, r)
				return
			}
			ip := getClientIP(r)
			tier := tierForRequest(r)
			tierPerMin, _ := limiters.tierConfig(tier)
			limiter := limiters.getLimiter(ip, tier)
			reservation := limiter.Reserve()
			if !reservation.OK() {
				writeRateLimited(w, tierPerMin, 60, time.Now().Add(60*time.Second))
				return
			}
			delay := reservation.Delay()
			if delay > 0 {
				reservation.Cancel()
				retryAfter := int(delay.Seconds()) + 1
				if retryAfter > 60 {
					retryAfter = 60
				}
				writeRateLimited(w, tierPerMin, retryAfter, time.Now().Add(delay))
				return
			}
			tokens := int(limiter.Tokens())
			if tokens < 0 {
				tokens = 0
			}
			w.Header().Set("X-RateLimit-Limit", strconv.Itoa(tierPerMin))
			w.Header().Set("X-RateLimit-Remaining", strconv.Itoa(tokens))
			w.Header().Set("X-RateLimit-Reset", strconv.FormatInt(time.Now().Add(time.Minute).Unix(), 10))
			next.ServeHTTP(w, r)
		})
	}
}

// DefaultMaxBodyBytes limits standard request bodies (256KB).
const DefaultMaxBodyBytes = 256 * 1024

// IngestMaxBodyBytes limits snapshot ingestion batches (2MB).
const IngestMaxBodyBytes = 2 * 1024 * 1024

// MaxBodySize returns middleware that limits request body size: ingestMax
// for the snapshot ingestion endpoint, standardMax otherwise. GET/HEAD are
// not limited.
func MaxBodySize(standardMax, ingestMax int64) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if r.Body == nil || r.Method == http.MethodGet || r.Method == http.MethodHead {
				next.ServeHTTP(w, r)
				return
			}
			max := standardMax
			if tierForRequest(r) == tierIngest {
				max = ingestMax
			}
			r.Body = http.MaxBytesReader(w, r.Body, max)
			next.ServeHTTP(w, r)
		})
	}
}
