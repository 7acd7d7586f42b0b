package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/sells-group/venue-fusion/internal/config"
	"github.com/sells-group/venue-fusion/internal/model"
	"github.com/sells-group/venue-fusion/internal/monitoring"
	"github.com/sells-group/venue-fusion/internal/ratelimit"
	"github.com/sells-group/venue-fusion/internal/resilience"
	"github.com/sells-group/venue-fusion/internal/scheduler"
	"github.com/sells-group/venue-fusion/internal/store"
)

var servePort int

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the scheduler with an HTTP control API",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		env, err := initEnv(ctx, config.ModeServe)
		if err != nil {
			return err
		}
		defer env.Close()

		if cfg.Scheduler.Enabled {
			if err := env.Scheduler.Start(ctx); err != nil {
				return eris.Wrap(err, "start scheduler")
			}
		}

		checker := monitoring.NewChecker(env.Collector, env.Alerter, cfg.Monitoring)
		go checker.Run(ctx)

		port := servePort
		if port == 0 {
			port = cfg.Server.Port
		}

		srv := &http.Server{
			Addr:              fmt.Sprintf(":%d", port),
			Handler:           buildRouter(newControlServer(ctx, env, cfg.Scheduler)),
			ReadHeaderTimeout: 10 * time.Second,
		}

		// Graceful shutdown
		go func() {
			<-ctx.Done()
			zap.L().Info("shutting down server")
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
			defer cancel()
			_ = srv.Shutdown(shutdownCtx)
		}()

		zap.L().Info("starting server", zap.Int("port", port))
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			return eris.Wrap(err, "server listen")
		}

		return nil
	},
}

func init() {
	serveCmd.Flags().IntVar(&servePort, "port", 0, "server port (default from config)")
	rootCmd.AddCommand(serveCmd)
}

// controlServer serves the control API over an initialized environment.
// Manual runs started over HTTP use ctx so they stop with the server.
type controlServer struct {
	ctx          context.Context
	env          *appEnv
	freshWithin  time.Duration
	overdueAfter time.Duration
}

func newControlServer(ctx context.Context, env *appEnv, sc scheduler.Config) *controlServer {
	return &controlServer{
		ctx:          ctx,
		env:          env,
		freshWithin:  time.Duration(sc.FreshnessDays) * 24 * time.Hour,
		overdueAfter: time.Duration(sc.OverdueDays) * 24 * time.Hour,
	}
}

// buildRouter registers the control API routes.
func buildRouter(s *controlServer) http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: []string{"*"},
		AllowedMethods: []string{http.MethodGet, http.MethodPost, http.MethodOptions},
		AllowedHeaders: []string{"Accept", "Content-Type"},
		MaxAge:         300,
	}))

	r.Get("/health", s.handleHealth)
	r.Get("/status", s.handleStatus)
	r.Route("/scheduler", func(r chi.Router) {
		r.Post("/start", s.handleSchedulerStart)
		r.Post("/stop", s.handleSchedulerStop)
	})
	r.Route("/runs", func(r chi.Router) {
		r.Get("/", s.handleListRuns)
		r.Post("/", s.handleStartRun)
		r.Get("/last", s.handleLastRun)
	})
	r.Get("/errors", s.handleErrors)
	r.Get("/metrics", s.handleMetrics)
	return r
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, code int, msg string) {
	writeJSON(w, code, map[string]string{"error": msg})
}

// queryInt reads a positive integer query parameter, falling back to def.
func queryInt(r *http.Request, key string, def int) int {
	n, err := strconv.Atoi(r.URL.Query().Get(key))
	if err != nil || n <= 0 {
		return def
	}
	return n
}

func (s *controlServer) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

type statusResponse struct {
	Scheduler scheduler.Status      `json:"scheduler"`
	RunState  model.RunState        `json:"run_state,omitempty"`
	Progress  *model.Progress       `json:"progress,omitempty"`
	Venues    *model.VenueStats     `json:"venues,omitempty"`
	Freshness *model.FreshnessStats `json:"freshness,omitempty"`
	DLQDepth  int                   `json:"dlq_depth"`
	Breakers  map[string]string     `json:"breakers,omitempty"`
	Limits    []ratelimit.Usage     `json:"limits,omitempty"`
}

func (s *controlServer) handleStatus(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	resp := statusResponse{Scheduler: s.env.Scheduler.Status()}

	if o := s.env.Orchestrator; o != nil {
		resp.RunState = o.State()
		if resp.RunState == model.RunRunning {
			p := o.Progress()
			resp.Progress = &p
		}
	}

	var err error
	if resp.Venues, err = s.env.Store.Stats(ctx); err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	if resp.Freshness, err = s.env.Store.FreshnessStats(ctx, s.freshWithin, s.overdueAfter); err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	if resp.DLQDepth, err = s.env.Store.CountDLQ(ctx); err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	if s.env.Breakers != nil {
		resp.Breakers = s.env.Breakers.States()
	}
	if s.env.Limiter != nil {
		resp.Limits = s.env.Limiter.Snapshot()
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *controlServer) handleSchedulerStart(w http.ResponseWriter, _ *http.Request) {
	err := s.env.Scheduler.Start(s.ctx)
	switch {
	case errors.Is(err, scheduler.ErrAlreadyStarted):
		writeError(w, http.StatusConflict, err.Error())
	case err != nil:
		writeError(w, http.StatusBadRequest, err.Error())
	default:
		writeJSON(w, http.StatusOK, s.env.Scheduler.Status())
	}
}

func (s *controlServer) handleSchedulerStop(w http.ResponseWriter, _ *http.Request) {
	s.env.Scheduler.Stop()
	writeJSON(w, http.StatusOK, s.env.Scheduler.Status())
}

func (s *controlServer) handleStartRun(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Type string `json:"type"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil && !errors.Is(err, io.EOF) {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if req.Type == "" {
		req.Type = string(model.UpdateFull)
	}
	typ, err := parseUpdateType(req.Type)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	err = s.env.Scheduler.StartManualUpdate(s.ctx, typ, func(rep *model.RunReport, err error) {
		if err != nil {
			zap.L().Error("manual update failed", zap.String("update_type", string(typ)), zap.Error(err))
			return
		}
		zap.L().Info("manual update complete",
			zap.String("run_id", rep.ID),
			zap.String("state", string(rep.State)),
		)
	})
	if errors.Is(err, scheduler.ErrRunInProgress) {
		writeError(w, http.StatusConflict, err.Error())
		return
	}
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	writeJSON(w, http.StatusAccepted, map[string]string{
		"status": "accepted",
		"type":   string(typ),
	})
}

func (s *controlServer) handleListRuns(w http.ResponseWriter, r *http.Request) {
	runs, err := s.env.Store.ListRuns(r.Context(), store.RunFilter{
		State: model.RunState(r.URL.Query().Get("state")),
		Limit: queryInt(r, "limit", 20),
	})
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	if runs == nil {
		runs = []model.RunReport{}
	}
	writeJSON(w, http.StatusOK, runs)
}

func (s *controlServer) handleLastRun(w http.ResponseWriter, _ *http.Request) {
	var last *model.RunReport
	if s.env.Runner != nil {
		last = s.env.Runner.Last()
	}
	if last == nil {
		writeError(w, http.StatusNotFound, "no run since startup")
		return
	}
	writeJSON(w, http.StatusOK, last)
}

type errorsResponse struct {
	Recent   []resilience.Event    `json:"recent"`
	Stats    resilience.Stats      `json:"stats"`
	Analysis resilience.Analysis   `json:"analysis"`
	DLQ      []resilience.DLQEntry `json:"dlq"`
}

func (s *controlServer) handleErrors(w http.ResponseWriter, r *http.Request) {
	limit := queryInt(r, "limit", 20)
	dlq, err := s.env.Store.ListDLQ(r.Context(), resilience.DLQFilter{
		ErrorType: resilience.ErrorType(r.URL.Query().Get("type")),
		Limit:     limit,
	})
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	resp := errorsResponse{
		Recent:   s.env.Handler.Recent(limit),
		Stats:    s.env.Handler.Stats(),
		Analysis: s.env.Handler.Analyze(),
		DLQ:      dlq,
	}
	if resp.Recent == nil {
		resp.Recent = []resilience.Event{}
	}
	if resp.DLQ == nil {
		resp.DLQ = []resilience.DLQEntry{}
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *controlServer) handleMetrics(w http.ResponseWriter, r *http.Request) {
	snap, err := s.env.Collector.Collect(r.Context(), queryInt(r, "hours", 24))
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"metrics": snap,
		"alerts":  s.env.Alerter.Evaluate(snap),
	})
}
