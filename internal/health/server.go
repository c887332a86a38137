package health

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"time"

	"cogstate/internal/engine"
)

// BeliefSource is the read side of the engine.
type BeliefSource interface {
	Belief() engine.Belief
	Paused() bool
	Streak() uint32
}

// BeliefResponse is the body of /belief.
type BeliefResponse struct {
	Belief     map[string]float64 `json:"belief"`
	MostLikely string             `json:"most_likely"`
	Paused     bool               `json:"paused"`
	Streak     uint32             `json:"deletion_streak"`
	Timestamp  time.Time          `json:"timestamp"`
}

// BeliefHandler serves the displayed belief.
func BeliefHandler(src BeliefSource) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		b := src.Belief()
		resp := BeliefResponse{
			Belief:     make(map[string]float64, engine.NumStates),
			MostLikely: b.MostLikely().String(),
			Paused:     src.Paused(),
			Streak:     src.Streak(),
			Timestamp:  time.Now(),
		}
		for s, p := range b.Map() {
			resp.Belief[s.String()] = p
		}
		writeJSON(w, http.StatusOK, resp)
	})
}

// Server is the status HTTP server.
type Server struct {
	srv    *http.Server
	logger *slog.Logger
}

// ServerConfig wires the endpoints. Metrics may be nil.
type ServerConfig struct {
	Addr    string
	Checker *Checker
	Belief  BeliefSource
	Metrics http.Handler
	Logger  *slog.Logger
}

// NewServer builds the mux:
//
//	/healthz   liveness
//	/readyz    readiness
//	/health    status, ?full=true runs every check
//	/belief    displayed belief
//	/metrics   Prometheus exposition
func NewServer(cfg ServerConfig) *Server {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Server{
		srv: &http.Server{
			Addr:              cfg.Addr,
			Handler:           NewMux(cfg),
			ReadHeaderTimeout: 5 * time.Second,
		},
		logger: logger.With("component", "status"),
	}
}

// NewMux returns the status handler without a listener.
func NewMux(cfg ServerConfig) *http.ServeMux {
	mux := http.NewServeMux()
	mux.Handle("GET /healthz", cfg.Checker.LivenessHandler())
	mux.Handle("GET /readyz", cfg.Checker.ReadinessHandler())
	mux.Handle("GET /health", cfg.Checker.HealthHandler())
	if cfg.Belief != nil {
		mux.Handle("GET /belief", BeliefHandler(cfg.Belief))
	}
	if cfg.Metrics != nil {
		mux.Handle("GET /metrics", cfg.Metrics)
	}
	return mux
}

// Run listens until ctx is cancelled, then shuts down gracefully.
func (s *Server) Run(ctx context.Context) error {
	ln, err := net.Listen("tcp", s.srv.Addr)
	if err != nil {
		return fmt.Errorf("status listen: %w", err)
	}
	return s.Serve(ctx, ln)
}

// Serve is Run on an existing listener.
func (s *Server) Serve(ctx context.Context, ln net.Listener) error {
	s.logger.Info("status server listening", "addr", ln.Addr().String())

	errc := make(chan error, 1)
	go func() { errc <- s.srv.Serve(ln) }()

	select {
	case err := <-errc:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := s.srv.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("status shutdown: %w", err)
		}
		<-errc
		return nil
	}
}
