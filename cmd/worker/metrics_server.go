package main

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/dysthesis/sift/internal/handler/http/requestid"
	"github.com/dysthesis/sift/internal/handler/http/respond"
	"github.com/dysthesis/sift/internal/observability/tracing"
	"github.com/dysthesis/sift/internal/resilience/circuitbreaker"
	"github.com/dysthesis/sift/internal/usecase/schedule"
	"github.com/dysthesis/sift/internal/usecase/scoring"
)

const (
	defaultRankedLimit = 20
	maxRankedLimit     = 500
)

// breakerSource is a fetcher guarded by a circuit breaker.
type breakerSource interface {
	Breaker() *circuitbreaker.CircuitBreaker
}

// stateSource exposes the published ranking.
type stateSource interface {
	Current() *scoring.State
}

// BreakerHealthResponse reports the fetch circuit breakers.
type BreakerHealthResponse struct {
	Healthy  bool            `json:"healthy"`
	Breakers []BreakerStatus `json:"breakers"`
}

// BreakerStatus is one circuit breaker.
type BreakerStatus struct {
	Name  string `json:"name"`
	State string `json:"state"`
}

// StateResponse summarises the current epoch.
type StateResponse struct {
	Epoch        uint64         `json:"epoch"`
	RunID        string         `json:"run_id"`
	GraphVersion uint64         `json:"graph_version"`
	ComputedAt   time.Time      `json:"computed_at"`
	Approximate  bool           `json:"approximate"`
	Entries      int            `json:"entries"`
	Feeds        map[string]int `json:"feeds_by_state"`
	Ranked       []RankedEntry  `json:"ranked"`
}

// RankedEntry is one row of the ranking.
type RankedEntry struct {
	EntryID   int64   `json:"entry_id"`
	FeedID    int64   `json:"feed_id"`
	Score     float64 `json:"score"`
	FeedScore float64 `json:"feed_score"`
}

// startMetricsServer serves the admin endpoints on port until ctx is
// cancelled.
//
//   - GET /metrics: Prometheus exposition
//   - GET /health: liveness
//   - GET /health/breakers: 503 while any fetch circuit breaker is open
//   - GET /state?limit=N: current epoch and the top N entries
func startMetricsServer(ctx context.Context, logger *slog.Logger, port int, engine stateSource, sched *schedule.Scheduler, breakers []breakerSource) *http.Server {
	server := &http.Server{
		Addr:         fmt.Sprintf(":%d", port),
		Handler:      newAdminHandler(engine, sched, breakers),
		ReadTimeout:  5 * time.Second,
		WriteTimeout: 10 * time.Second,
		IdleTimeout:  120 * time.Second,
	}

	go func() {
		logger.Info("metrics server starting", slog.Int("port", port))
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("metrics server error", slog.Any("error", err))
		}
	}()

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := server.Shutdown(shutdownCtx); err != nil {
			logger.Error("metrics server shutdown error", slog.Any("error", err))
			return
		}
		logger.Info("metrics server stopped")
	}()

	return server
}

func newAdminHandler(engine stateSource, sched *schedule.Scheduler, breakers []breakerSource) http.Handler {
	mux := http.NewServeMux()
	mux.Handle("GET /metrics", promhttp.Handler())
	mux.HandleFunc("GET /health", func(w http.ResponseWriter, _ *http.Request) {
		respond.JSON(w, http.StatusOK, map[string]string{"status": "healthy"})
	})
	mux.HandleFunc("GET /health/breakers", breakerHealthHandler(breakers))
	mux.HandleFunc("GET /state", stateHandler(engine, sched))
	return requestid.Middleware(tracing.Middleware(mux))
}

func breakerHealthHandler(sources []breakerSource) http.HandlerFunc {
	return func(w http.ResponseWriter, _ *http.Request) {
		resp := BreakerHealthResponse{Healthy: true, Breakers: make([]BreakerStatus, 0, len(sources))}
		for _, src := range sources {
			cb := src.Breaker()
			resp.Breakers = append(resp.Breakers, BreakerStatus{Name: cb.Name(), State: cb.State().String()})
			if cb.IsOpen() {
				resp.Healthy = false
			}
		}
		status := http.StatusOK
		if !resp.Healthy {
			status = http.StatusServiceUnavailable
		}
		respond.JSON(w, status, resp)
	}
}

func stateHandler(engine stateSource, sched *schedule.Scheduler) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		limit := defaultRankedLimit
		if v := r.URL.Query().Get("limit"); v != "" {
			n, err := strconv.Atoi(v)
			if err != nil || n < 1 || n > maxRankedLimit {
				respond.Error(w, http.StatusBadRequest, fmt.Sprintf("limit must be an integer between 1 and %d", maxRankedLimit))
				return
			}
			limit = n
		}

		st := engine.Current()
		if st == nil {
			respond.Error(w, http.StatusServiceUnavailable, "no ranking published yet")
			return
		}
		resp := StateResponse{
			Epoch:        st.Epoch,
			RunID:        st.RunID,
			GraphVersion: st.GraphVersion,
			ComputedAt:   st.ComputedAt,
			Approximate:  st.Approximate,
			Entries:      len(st.Scores),
			Feeds:        sched.StateCounts(),
		}
		for _, e := range st.Ranked(limit) {
			fs, _ := st.FeedScore(e.FeedID)
			resp.Ranked = append(resp.Ranked, RankedEntry{EntryID: e.EntryID, FeedID: e.FeedID, Score: e.Score, FeedScore: fs})
		}
		respond.JSON(w, http.StatusOK, resp)
	}
}
