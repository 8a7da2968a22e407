// Package server exposes the compiled policy to the browser extension
// over a loopback HTTP endpoint. Requests are authenticated by socket
// ownership: the kernel tells us which uid opened the connection, and
// that uid's policy is what gets served.
package server

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"net/netip"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"github.com/hostfocus/focusd/internal/config"
	"github.com/hostfocus/focusd/internal/metrics"
	"github.com/hostfocus/focusd/internal/snapshot"
)

// PeerResolver attributes a local socket to the uid owning it.
// *procfs.Table implements it.
type PeerResolver interface {
	PeerUID(peer netip.AddrPort) (uint32, error)
}

// Server serves GET /v1/policy plus health and metrics endpoints on a
// loopback listener.
type Server struct {
	cfg     config.ServeConfig
	store   *snapshot.Store
	peers   PeerResolver
	logger  *slog.Logger
	metrics *metrics.Metrics

	mu         sync.Mutex
	limiters   map[uint32]*rate.Limiter
	httpServer *http.Server
	listener   net.Listener // when non-nil, Start serves on it instead of binding
}

// New creates a Server around the snapshot store.
func New(cfg config.ServeConfig, store *snapshot.Store, peers PeerResolver, logger *slog.Logger, m *metrics.Metrics) *Server {
	return &Server{
		cfg:      cfg,
		store:    store,
		peers:    peers,
		logger:   logger,
		metrics:  m,
		limiters: make(map[uint32]*rate.Limiter),
	}
}

// Handler builds the route table.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /v1/policy", s.handlePolicy)
	mux.HandleFunc("GET /healthz", s.handleHealth)
	mux.Handle("GET /metrics", s.metrics.Handler())
	return mux
}

// Start listens and serves until the context is cancelled, then shuts
// down gracefully.
func (s *Server) Start(ctx context.Context) error {
	s.mu.Lock()
	ln := s.listener
	if ln == nil {
		addr := fmt.Sprintf("%s:%d", s.cfg.Host, s.cfg.Port)
		var err error
		ln, err = net.Listen("tcp", addr)
		if err != nil {
			s.mu.Unlock()
			return fmt.Errorf("cannot listen on %s: %w", addr, err)
		}
	}
	s.httpServer = &http.Server{
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}
	srv := s.httpServer
	s.mu.Unlock()

	s.logger.Info("policy endpoint listening", "addr", ln.Addr().String())

	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.Serve(ln)
	}()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	}
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	fmt.Fprintln(w, `{"status":"ok"}`)
}

func (s *Server) handlePolicy(w http.ResponseWriter, r *http.Request) {
	status := s.servePolicy(w, r)
	s.metrics.Request(status)
}

// servePolicy authenticates the peer, applies its rate budget, and
// serves its web policy. With ?wait=<revision> matching the current
// snapshot, the request parks until the next publish or the long-poll
// timeout, then answers with whatever is current.
func (s *Server) servePolicy(w http.ResponseWriter, r *http.Request) int {
	peer, err := netip.ParseAddrPort(r.RemoteAddr)
	if err != nil {
		return fail(w, http.StatusBadRequest, "unparseable peer address")
	}
	if !peer.Addr().IsLoopback() {
		s.logger.Warn("rejected non-loopback request", "peer", r.RemoteAddr)
		return fail(w, http.StatusForbidden, "loopback only")
	}

	uid, err := s.peers.PeerUID(peer)
	if err != nil {
		s.logger.Warn("cannot attribute request to a user", "peer", r.RemoteAddr, "error", err)
		return fail(w, http.StatusForbidden, "unattributable socket")
	}

	if !s.limiter(uid).Allow() {
		return fail(w, http.StatusTooManyRequests, "slow down")
	}

	snap, changed := s.store.Watch()
	if snap == nil {
		return fail(w, http.StatusServiceUnavailable, "no policy compiled yet")
	}

	if wait := r.URL.Query().Get("wait"); wait != "" && wait == snap.Revision {
		snap = s.waitForChange(r.Context(), snap, changed)
	}

	body, err := snap.WebJSON(uid)
	if err != nil {
		s.logger.Error("cannot serialize policy", "uid", uid, "error", err)
		return fail(w, http.StatusInternalServerError, "serialization failure")
	}

	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.Header().Set("Access-Control-Allow-Origin", "*")
	w.Header().Set("X-Policy-Revision", snap.Revision)
	w.Write(body)
	return http.StatusOK
}

// waitForChange blocks until a new snapshot is published, the timeout
// elapses, or the client goes away. It returns the snapshot current at
// wake-up time. The changed channel must come from the same Watch call
// that produced current, so a publish between the snapshot read and the
// select still wakes the waiter.
func (s *Server) waitForChange(ctx context.Context, current *snapshot.Snapshot, changed <-chan struct{}) *snapshot.Snapshot {
	s.metrics.LongPollWaiterStarted()
	defer s.metrics.LongPollWaiterDone()

	timer := time.NewTimer(s.cfg.LongPollTimeout.Duration)
	defer timer.Stop()

	select {
	case <-changed:
	case <-timer.C:
	case <-ctx.Done():
	}
	if snap := s.store.Current(); snap != nil {
		return snap
	}
	return current
}

// limiter returns the uid's token bucket, creating it on first sight.
func (s *Server) limiter(uid uint32) *rate.Limiter {
	s.mu.Lock()
	defer s.mu.Unlock()
	l, ok := s.limiters[uid]
	if !ok {
		l = rate.NewLimiter(rate.Limit(s.cfg.RatePerPeer), s.cfg.RateBurst)
		s.limiters[uid] = l
	}
	return l
}

func fail(w http.ResponseWriter, status int, message string) int {
	http.Error(w, message, status)
	return status
}
