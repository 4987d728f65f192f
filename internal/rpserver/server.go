//
// Copyright 2021-2026 the Authors
//
// This file is part of this program.
//
// This program is free software: you can redistribute it and/or modify it under the
// terms of the GNU General Public License as published by the Free Software
// Foundation, either version 3 of the License, or (at your option) any later
// version.
//
// This program is distributed in the hope that it will be useful, but WITHOUT ANY
// WARRANTY; without even the implied warranty of MERCHANTABILITY or FITNESS FOR
// A PARTICULAR PURPOSE. See the GNU General Public License for more details.
//
// You should have received a copy of the GNU General Public License along with
// this program. If not, see <https://www.gnu.org/licenses/>.

// Package rpserver is a reference HTTP relying-party daemon built on top of
// the stateless webauthn core: it owns challenge tracking, device
// persistence and the HTTP transport the core deliberately stays ignorant
// of.
package rpserver

import (
	"context"
	"crypto/tls"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/NYTimes/gziphandler"
	lru "github.com/hashicorp/golang-lru"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"golang.org/x/time/rate"

	webauthnrp "webauthnrp"
	"webauthnrp/internal/log"
	"webauthnrp/internal/server/basicauth"
	"webauthnrp/internal/server/limit"
	"webauthnrp/internal/store"
)

type ctxKey int

const connKey ctxKey = 1

var (
	reqLatency = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "rpserver_response_time",
			Help:    "The server's response time",
			Buckets: []float64{0.001, 0.005, 0.01, 0.05, 0.1, 0.25, 0.5, 1, 2, 5},
		},
		[]string{"method", "uri"},
	)
	reqStatus = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "rpserver_response_status_total",
			Help: "Number of requests by status",
		},
		[]string{"method", "uri", "status"},
	)
	reqSize = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "rpserver_request_size",
			Help:    "The size of requests",
			Buckets: prometheus.ExponentialBuckets(1, 2, 24),
		},
		[]string{"code"},
	)
	respSize = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "rpserver_response_size",
			Help:    "The size of responses",
			Buckets: prometheus.ExponentialBuckets(1, 2, 24),
		},
		[]string{"code"},
	)
)

func init() {
	prometheus.MustRegister(reqLatency, reqStatus, reqSize, respSize)
}

// pendingChallenge is what the server caches between issuing a request and
// validating its response, per the core's "caller generates/stores the
// challenge" contract (SPEC_FULL.md §5).
type pendingChallenge struct {
	challenge []byte
	userID    string
}

// Server is a reference relying-party HTTP daemon wired around
// webauthn.RelyingParty, internal/store, and a TOTP fallback factor.
type Server struct {
	MaxConcurrentRequests int

	rp         *webauthnrp.RelyingParty
	devices    *store.Store
	mux        *http.ServeMux
	srv        *http.Server
	addr       string
	pathPrefix string
	basicAuth  *basicauth.BasicAuth

	challenges *lru.Cache

	loginLimiterMu sync.Mutex
	loginLimiters  map[string]*rate.Limiter
}

// Config bundles the inputs New needs to stand up a Server.
type Config struct {
	RelyingParty *webauthnrp.RelyingParty
	Devices      *store.Store
	Addr         string
	PathPrefix   string
	// HTDigestFile, if set, protects /metrics with HTTP Basic Auth using a
	// htdigest-format credentials file.
	HTDigestFile string
}

// New returns a Server ready to Run.
func New(cfg Config) *Server {
	s := &Server{
		MaxConcurrentRequests: 50,
		rp:                    cfg.RelyingParty,
		devices:               cfg.Devices,
		mux:                   http.NewServeMux(),
		addr:                  cfg.Addr,
		pathPrefix:            cfg.PathPrefix,
		loginLimiters:         make(map[string]*rate.Limiter),
	}
	cache, err := lru.New(10000)
	if err != nil {
		log.Fatalf("lru.New: %v", err)
	}
	s.challenges = cache

	if cfg.HTDigestFile != "" {
		ba, err := basicauth.New(cfg.HTDigestFile)
		if err != nil {
			log.Errorf("basicauth.New: %v", err)
		}
		s.basicAuth = ba
	}
	if s.basicAuth != nil {
		s.mux.HandleFunc(s.pathPrefix+"/metrics", s.basicAuth.Handler("Metrics", promhttp.Handler()))
	} else {
		s.mux.Handle(s.pathPrefix+"/metrics", promhttp.Handler())
	}

	s.mux.HandleFunc(s.pathPrefix+"/register/options", s.handleRegisterOptions)
	s.mux.HandleFunc(s.pathPrefix+"/register/finish", s.handleRegisterFinish)
	s.mux.HandleFunc(s.pathPrefix+"/login/options", s.handleLoginOptions)
	s.mux.HandleFunc(s.pathPrefix+"/login/finish", s.rateLimitedByIP(s.handleLoginFinish))
	s.mux.HandleFunc(s.pathPrefix+"/otp/generate", s.handleGenerateOTP)
	s.mux.HandleFunc(s.pathPrefix+"/otp/set", s.handleSetOTP)

	return s
}

func (s *Server) wrapHandler() http.Handler {
	handler := http.Handler(s.mux)
	handler = gziphandler.GzipHandler(handler)
	handler = limit.New(s.MaxConcurrentRequests, handler)
	handler = promhttp.InstrumentHandlerRequestSize(reqSize, handler)
	handler = promhttp.InstrumentHandlerResponseSize(respSize, handler)
	return handler
}

// rateLimitedByIP guards /login/finish with a per-IP token bucket, on top
// of the global limit.ConnLimiter every route gets: repeated failed
// assertions against one IP are throttled independent of how busy the rest
// of the daemon is (SPEC_FULL.md §4.9 EXPANSION — new relative to the
// teacher, which only rate-limited by a fixed global connection count).
func (s *Server) rateLimitedByIP(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		host, _, err := net.SplitHostPort(r.RemoteAddr)
		if err != nil {
			host = r.RemoteAddr
		}
		if !s.limiterFor(host).Allow() {
			w.Header().Set("Retry-After", "5")
			http.Error(w, "Too Many Requests", http.StatusTooManyRequests)
			return
		}
		next(w, r)
	}
}

func (s *Server) limiterFor(host string) *rate.Limiter {
	s.loginLimiterMu.Lock()
	defer s.loginLimiterMu.Unlock()
	l, ok := s.loginLimiters[host]
	if !ok {
		l = rate.NewLimiter(rate.Every(time.Second), 5)
		s.loginLimiters[host] = l
	}
	return l
}

func (s *Server) httpServer() *http.Server {
	s.srv = &http.Server{
		Addr:              s.addr,
		Handler:           s.wrapHandler(),
		ReadHeaderTimeout: 30 * time.Second,
		IdleTimeout:       10 * time.Second,
		ConnContext: func(ctx context.Context, c net.Conn) context.Context {
			return context.WithValue(ctx, connKey, c)
		},
		ErrorLog: log.GoLogger(),
		TLSConfig: &tls.Config{
			MinVersion: tls.VersionTLS12,
			NextProtos: []string{"h2", "http/1.1"},
		},
	}
	return s.srv
}

// Run runs the HTTP server on the configured address, without TLS. Intended
// for use behind a TLS-terminating proxy.
func (s *Server) Run() error {
	return s.httpServer().ListenAndServe()
}

// RunWithTLS runs the HTTP server with TLS certificates from disk.
func (s *Server) RunWithTLS(certFile, keyFile string) error {
	return s.httpServer().ListenAndServeTLS(certFile, keyFile)
}

// Shutdown gracefully stops the server.
func (s *Server) Shutdown(ctx context.Context) error {
	if s.srv == nil {
		return nil
	}
	return s.srv.Shutdown(ctx)
}
