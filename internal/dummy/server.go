package dummy

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"math/rand"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"golang.org/x/net/http2"
	"golang.org/x/net/http2/h2c"

	"forkbench/internal/rpc"
)

type ServerConfig struct {
	Port int
	// Each call sleeps a random duration in [MinLatency, MaxLatency).
	MinLatency time.Duration
	MaxLatency time.Duration
	// ErrorRate is the share of calls (0..1) answered with an error status.
	ErrorRate float64
}

type procedure func(params []any) ([]map[string]any, error)

type server struct {
	cfg   ServerConfig
	store *Store
	procs map[string]procedure
}

// NewHandler returns the service handler, speaking HTTP/1.1 and h2c.
func NewHandler(cfg ServerConfig) http.Handler {
	s := &server{cfg: cfg, store: NewStore()}
	s.procs = map[string]procedure{
		rpc.ProcInsert:     s.insert,
		rpc.ProcSelect:     s.selectRow,
		rpc.ProcResults:    s.results,
		rpc.ProcInitialize: s.initialize,
		rpc.ProcVote:       s.vote,
	}

	r := chi.NewRouter()
	r.Use(middleware.Recoverer)
	r.Get(rpc.HealthPath, func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})
	r.Post(rpc.CallPathPrefix+"{procedure}", s.handleCall)

	return h2c.NewHandler(r, &http2.Server{})
}

// Start runs the service on cfg.Port in the background.
func Start(cfg ServerConfig) *http.Server {
	addr := fmt.Sprintf(":%d", cfg.Port)
	slog.Info("dummy service listening", "addr", addr,
		"procedures", []string{rpc.ProcInsert, rpc.ProcSelect, rpc.ProcResults, rpc.ProcInitialize, rpc.ProcVote})

	server := &http.Server{
		Addr:    addr,
		Handler: NewHandler(cfg),
	}

	go func() {
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			slog.Error("dummy service failed", "err", err)
		}
	}()
	return server
}

func (s *server) handleCall(w http.ResponseWriter, r *http.Request) {
	name := chi.URLParam(r, "procedure")

	var req rpc.CallRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeResponse(w, http.StatusBadRequest, rpc.CallResponse{Status: rpc.StatusError, Error: "malformed request: " + err.Error()})
		return
	}
	resp := rpc.CallResponse{ID: req.ID, Status: rpc.StatusOK}

	proc, ok := s.procs[name]
	if !ok {
		resp.Status = rpc.StatusError
		resp.Error = fmt.Sprintf("unknown procedure %q", name)
		writeResponse(w, http.StatusNotFound, resp)
		return
	}

	s.simulateLatency()
	if s.cfg.ErrorRate > 0 && rand.Float64() < s.cfg.ErrorRate {
		resp.Status = rpc.StatusError
		resp.Error = "injected failure"
		writeResponse(w, http.StatusOK, resp)
		return
	}

	rows, err := proc(req.Params)
	if err != nil {
		resp.Status = rpc.StatusError
		resp.Error = err.Error()
	}
	resp.Rows = rows
	writeResponse(w, http.StatusOK, resp)
}

func (s *server) simulateLatency() {
	lo, hi := s.cfg.MinLatency, s.cfg.MaxLatency
	if hi <= lo {
		if lo > 0 {
			time.Sleep(lo)
		}
		return
	}
	time.Sleep(lo + time.Duration(rand.Int63n(int64(hi-lo))))
}

func writeResponse(w http.ResponseWriter, status int, resp rpc.CallResponse) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(resp)
}
