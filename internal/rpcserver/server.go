// Package rpcserver exposes the RPC Surface (§4.7): FetchContent,
// GetRandomProxy, and GetProxyStats over net/http+JSON, plus the ambient
// /metrics and /ws/stats endpoints.
package rpcserver

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"math/rand"
	"net"
	"net/http"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"fetchbroker/internal/browserpool"
	"fetchbroker/internal/config"
	"fetchbroker/internal/dispatcher"
	"fetchbroker/internal/validator"
	"fetchbroker/pkg/logger"
	"fetchbroker/pkg/metrics"
)

const maxBodyBytes = 64 << 20

// occupancyPollInterval is how often the serving pool's in-use/idle counts
// are sampled and pushed into the metrics collector.
const occupancyPollInterval = 5 * time.Second

// Server is the thin net/http adapter carrying the three RPC operations.
type Server struct {
	dispatcher  *dispatcher.Dispatcher
	proxies     *validator.ValidProxyMap
	servingPool *browserpool.Pool
	collector   *metrics.Collector
	poolHooks   *metrics.PoolHooks
	tunables    config.Tunables
	log         *logger.Logger

	work chan func()

	limiterMu sync.Mutex
	limiters  map[string]*rate.Limiter

	httpServer *http.Server
}

// New builds a Server ready to Run. It starts a bounded pool of RPC
// workers (§5 "RPC surface dispatches each call on a worker from a bounded
// pool of size 10"). servingPool may be nil in tests that never exercise
// FetchContent's browser steps; when non-nil, its occupancy is sampled
// periodically and reported through the metrics collector.
func New(d *dispatcher.Dispatcher, proxies *validator.ValidProxyMap, servingPool *browserpool.Pool, collector *metrics.Collector, tunables config.Tunables) *Server {
	var hooks *metrics.PoolHooks
	if collector != nil {
		hooks = metrics.NewPoolHooks(collector)
	}
	s := &Server{
		dispatcher:  d,
		proxies:     proxies,
		servingPool: servingPool,
		collector:   collector,
		poolHooks:   hooks,
		tunables:    tunables,
		log:         logger.Default().With(zap.String("component", "rpcserver")),
		work:        make(chan func()),
		limiters:    make(map[string]*rate.Limiter),
	}
	for i := 0; i < tunables.RPCWorkers; i++ {
		go s.worker()
	}
	return s
}

// pollOccupancy samples the serving pool's occupancy on a fixed interval
// until ctx is cancelled. No-op when the server has no serving pool or no
// metrics collector wired in.
func (s *Server) pollOccupancy(ctx context.Context) {
	if s.servingPool == nil || s.poolHooks == nil {
		return
	}
	ticker := time.NewTicker(occupancyPollInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			inUse, available := s.servingPool.Occupancy()
			s.poolHooks.OnOccupancyChange(inUse, available)
		}
	}
}

func (s *Server) worker() {
	for fn := range s.work {
		func() {
			defer func() {
				if r := recover(); r != nil {
					s.log.Error("rpc handler panicked", zap.Any("panic", r))
				}
			}()
			fn()
		}()
	}
}

// dispatch runs next on one of the server's bounded pool of RPC workers
// (§5 "RPC surface dispatches each call on a worker from a bounded pool of
// size 10"), blocking the net/http handler goroutine until it completes or
// the request's context is cancelled.
func (s *Server) dispatch(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		done := make(chan struct{})
		select {
		case s.work <- func() {
			defer close(done)
			next(w, r)
		}:
		case <-r.Context().Done():
			http.Error(w, "request cancelled", http.StatusServiceUnavailable)
			return
		}
		select {
		case <-done:
		case <-r.Context().Done():
		}
	}
}

func (s *Server) limiterFor(remote string) *rate.Limiter {
	s.limiterMu.Lock()
	defer s.limiterMu.Unlock()
	l, ok := s.limiters[remote]
	if !ok {
		l = rate.NewLimiter(rate.Limit(5), 10)
		s.limiters[remote] = l
	}
	return l
}

// Routes builds the server's http.Handler.
func (s *Server) Routes() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/rpc/FetchContent", s.rateLimited(s.dispatch(s.handleFetchContent)))
	mux.HandleFunc("/rpc/GetRandomProxy", s.dispatch(s.handleGetRandomProxy))
	mux.HandleFunc("/rpc/GetProxyStats", s.dispatch(s.handleGetProxyStats))
	if s.collector != nil {
		mux.Handle("/metrics", s.collector.MetricsHandler())
	}
	mux.HandleFunc("/ws/stats", s.handleWSStats)
	return mux
}

// Run starts the HTTP listener and blocks until ctx is cancelled.
func (s *Server) Run(ctx context.Context) error {
	s.httpServer = &http.Server{
		Addr:           s.tunables.ListenAddr,
		Handler:        s.Routes(),
		MaxHeaderBytes: 1 << 20,
	}

	go s.pollOccupancy(ctx)

	errCh := make(chan error, 1)
	go func() {
		s.log.Info("rpc server listening", zap.String("addr", s.tunables.ListenAddr))
		if err := s.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
			return
		}
		errCh <- nil
	}()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = s.httpServer.Shutdown(shutdownCtx)
		close(s.work)
		return nil
	case err := <-errCh:
		close(s.work)
		return err
	}
}

func (s *Server) rateLimited(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		host, _, err := net.SplitHostPort(r.RemoteAddr)
		if err != nil {
			host = r.RemoteAddr
		}
		if !s.limiterFor(host).Allow() {
			http.Error(w, "Too Many Requests", http.StatusTooManyRequests)
			return
		}
		next(w, r)
	}
}

func decodeJSON(r *http.Request, v interface{}) error {
	body := io.LimitReader(r.Body, maxBodyBytes)
	return json.NewDecoder(body).Decode(v)
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

type rpcError struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

func writeRPCError(w http.ResponseWriter, status int, code, message string) {
	writeJSON(w, status, rpcError{Code: code, Message: message})
}

type fetchContentRequest struct {
	URL     string `json:"url"`
	Session string `json:"session"`
	Proxy   bool   `json:"proxy"`
}

type fetchContentResponse struct {
	Content []byte `json:"content"`
}

func (s *Server) handleFetchContent(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	var req fetchContentRequest
	if err := decodeJSON(r, &req); err != nil {
		writeRPCError(w, http.StatusBadRequest, "INVALID_ARGUMENT", "cuerpo JSON inválido")
		return
	}

	body, err := s.dispatcher.Fetch(r.Context(), req.URL, req.Session, req.Proxy)
	if err != nil {
		switch {
		case errors.Is(err, dispatcher.ErrEmptySession):
			writeRPCError(w, http.StatusBadRequest, "INVALID_ARGUMENT", "La sesión no puede estar vacía")
		case errors.Is(err, dispatcher.ErrUnknownSession):
			writeRPCError(w, http.StatusBadRequest, "INVALID_ARGUMENT", "Sesión no encontrada")
		default:
			writeRPCError(w, http.StatusInternalServerError, "INTERNAL", err.Error())
		}
		return
	}
	writeJSON(w, http.StatusOK, fetchContentResponse{Content: body})
}

type getRandomProxyRequest struct {
	Session string `json:"session"`
}

type getRandomProxyResponse struct {
	Proxy   string `json:"proxy"`
	Success bool   `json:"success"`
	Message string `json:"message"`
}

func (s *Server) handleGetRandomProxy(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	var req getRandomProxyRequest
	if err := decodeJSON(r, &req); err != nil {
		writeRPCError(w, http.StatusBadRequest, "INVALID_ARGUMENT", "cuerpo JSON inválido")
		return
	}
	if req.Session == "" {
		writeRPCError(w, http.StatusBadRequest, "INVALID_ARGUMENT", "La sesión no puede estar vacía")
		return
	}
	if _, ok := config.Lookup(req.Session); !ok {
		writeJSON(w, http.StatusOK, getRandomProxyResponse{Success: false, Message: "Sesión no encontrada"})
		return
	}

	list := s.proxies.Snapshot()[req.Session]
	if len(list) == 0 {
		writeJSON(w, http.StatusOK, getRandomProxyResponse{Success: false, Message: "No hay proxies válidos para esta sesión"})
		return
	}
	proxy := list[rand.Intn(len(list))]
	writeJSON(w, http.StatusOK, getRandomProxyResponse{Proxy: proxy, Success: true, Message: "ok"})
}

type getProxyStatsResponse struct {
	ProxyCountBySession map[string]int `json:"proxy_count_by_session"`
	TotalValidProxies   int            `json:"total_valid_proxies"`
}

func (s *Server) handleGetProxyStats(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.statsSnapshot())
}

func (s *Server) statsSnapshot() getProxyStatsResponse {
	snapshot := s.proxies.Snapshot()
	counts := make(map[string]int, len(snapshot))
	total := 0
	for session, list := range snapshot {
		counts[session] = len(list)
		total += len(list)
	}
	return getProxyStatsResponse{ProxyCountBySession: counts, TotalValidProxies: total}
}
