// Package http serves the cashbook JSON API.
package http

import (
	"context"
	"fmt"
	"net/http"
	"sync"
	"time"

	"cashbook/internal/log"
	"cashbook/internal/middleware/ratelimit"
	"cashbook/internal/middleware/security"
	"cashbook/internal/middleware/trace"
	"cashbook/internal/services"
)

// Options configures a Server. Zero values fall back to defaults.
type Options struct {
	Logger         *log.Logger
	SecureCookie   bool
	AuthRateLimit  int
	TrustedProxies []string
}

// Server is the API's HTTP server.
type Server struct {
	http.Server
	svc          *services.Service
	logger       *log.Logger
	detector     *security.Detector
	authLimiter  *ratelimit.Limiter
	tracer       *trace.Middleware
	secureCookie bool
	shutdownOnce sync.Once
}

// NewServer wires routes and middleware around svc.
func NewServer(addr string, svc *services.Service, opts Options) (*Server, error) {
	if svc == nil {
		return nil, fmt.Errorf("service is required")
	}
	logger := opts.Logger
	if logger == nil {
		logger = log.Default()
	}
	logger = logger.WithComponent(log.ComponentHTTP)

	detector := security.NewDetector()
	for _, cidr := range opts.TrustedProxies {
		if err := detector.AddTrustedProxy(cidr); err != nil {
			return nil, err
		}
	}

	s := &Server{
		svc:          svc,
		logger:       logger,
		detector:     detector,
		authLimiter:  ratelimit.NewLimiter(ratelimit.Config{RequestsPerMinute: opts.AuthRateLimit}),
		tracer:       trace.NewMiddleware(detector.ExtractClientIP),
		secureCookie: opts.SecureCookie,
	}

	mux := http.NewServeMux()
	limited := s.authLimiter.Middleware(detector.ExtractClientIP, s.rateLimited)

	mux.HandleFunc("GET /api/health", s.handleHealth)
	mux.HandleFunc("GET /api/ready", s.handleReady)

	mux.Handle("POST /api/register", limited(http.HandlerFunc(s.handleRegister)))
	mux.Handle("POST /api/login", limited(http.HandlerFunc(s.handleLogin)))
	mux.HandleFunc("POST /api/logout", s.handleLogout)

	mux.HandleFunc("POST /api/create_cashbook", s.requireUser(s.handleCreateCashbook))
	mux.HandleFunc("GET /api/get_cashbooks", s.requireUser(s.handleGetCashbooks))
	mux.HandleFunc("DELETE /api/delete_cashbook", s.requireUser(s.handleDeleteCashbook))

	mux.HandleFunc("POST /api/add_entry", s.requireUser(s.handleAddEntry))
	mux.HandleFunc("GET /api/get_entries", s.requireUser(s.handleGetEntries))
	mux.HandleFunc("DELETE /api/delete_entry/{entry_id}", s.requireUser(s.handleDeleteEntry))
	mux.HandleFunc("GET /api/summary/{cashbook}", s.requireUser(s.handleSummary))
	mux.HandleFunc("GET /api/export", s.requireUser(s.handleExport))

	headers := security.NewHeadersMiddleware(security.DefaultHeadersConfig())

	var handler http.Handler = mux
	handler = detector.Middleware(handler)
	handler = log.RequestIDMiddleware(func(r *http.Request) string {
		return trace.GetRequestID(r.Context())
	})(handler)
	handler = s.tracer.Middleware(handler)
	handler = headers.Middleware(handler)
	handler = log.Middleware(logger)(handler)

	s.Server = http.Server{
		Addr:              addr,
		Handler:           handler,
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       15 * time.Second,
		WriteTimeout:      30 * time.Second,
		IdleTimeout:       60 * time.Second,
	}
	return s, nil
}

// Shutdown stops accepting connections, waits for in-flight requests and
// releases the rate limiter.
func (s *Server) Shutdown(ctx context.Context) error {
	var err error
	s.shutdownOnce.Do(func() {
		s.logger.InfoContext(ctx, "Shutting down HTTP server", log.FieldOperation, log.OpShutdown)
		err = s.Server.Shutdown(ctx)
		s.authLimiter.Stop()
	})
	return err
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

type readyResponse struct {
	Status    string      `json:"status"`
	Timestamp string      `json:"timestamp"`
	Checks    readyChecks `json:"checks"`
}

type readyChecks struct {
	Store       string           `json:"store"`
	RateLimiter rateLimiterCheck `json:"rate_limiter"`
	Security    securityCheck    `json:"security"`
	Requests    requestsCheck    `json:"requests"`
}

type rateLimiterCheck struct {
	ActiveClients int64 `json:"active_clients"`
	Rejected      int64 `json:"rejected_total"`
}

type securityCheck struct {
	SuspiciousRequests int64 `json:"suspicious_requests"`
	InvalidIPAttempts  int64 `json:"invalid_ip_attempts"`
}

type requestsCheck struct {
	Total             int64 `json:"total"`
	AvgResponseTimeUS int64 `json:"avg_response_time_us"`
}

func (s *Server) handleReady(w http.ResponseWriter, r *http.Request) {
	limiter := s.authLimiter.GetMetrics()
	sec := s.detector.GetMetrics()
	tr := s.tracer.GetMetrics()
	resp := readyResponse{
		Status:    "ready",
		Timestamp: time.Now().UTC().Format(time.RFC3339),
		Checks: readyChecks{
			Store:       "ok",
			RateLimiter: rateLimiterCheck{ActiveClients: limiter.ClientCount, Rejected: limiter.TotalHits},
			Security:    securityCheck{SuspiciousRequests: sec.SuspiciousRequests, InvalidIPAttempts: sec.InvalidIPAttempts},
			Requests:    requestsCheck{Total: tr.TotalRequests, AvgResponseTimeUS: tr.AverageResponseTime},
		},
	}

	ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
	defer cancel()
	if err := s.svc.Ready(ctx); err != nil {
		log.FromContext(r.Context()).WarnContext(r.Context(), "Readiness check failed", log.FieldError, err)
		resp.Status = "unavailable"
		resp.Checks.Store = "unreachable"
		writeJSON(w, http.StatusServiceUnavailable, resp)
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) rateLimited(w http.ResponseWriter, r *http.Request) {
	log.FromContext(r.Context()).WithComponent(log.ComponentRateLimit).WarnContext(r.Context(), "Rate limit exceeded",
		log.NewFields().
			WithClientIP(s.detector.ExtractClientIP(r)).
			WithHTTPRequest(r.Method, r.URL.Path, "", "").
			ToSlice()...)
	writeDetail(w, http.StatusTooManyRequests, "Too many requests")
}
