// Package api serves the sensor status HTTP API.
//
// Routes:
//
//	GET  /healthz
//	GET  /metrics
//	GET  /sensors
//	GET  /sensors/{name}
//	GET  /sensors/{name}/ticks?limit=N
//	POST /sensors/{name}/start
//	POST /sensors/{name}/stop
//	POST /sensors/{name}/tick
package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/henriblancke/dagster/internal/daemon"
	"github.com/henriblancke/dagster/internal/ir"
	"github.com/henriblancke/dagster/internal/sensor"
	"github.com/henriblancke/dagster/internal/telemetry"
)

// DefaultTickLimit is the number of ticks returned when no limit is given.
const DefaultTickLimit = 25

// shutdownTimeout bounds graceful shutdown in ListenAndServe.
const shutdownTimeout = 5 * time.Second

// Server exposes a Daemon over HTTP.
type Server struct {
	daemon    *daemon.Daemon
	telemetry *telemetry.Provider
	logger    *slog.Logger
}

// Option configures a Server.
type Option func(*Server)

// WithTelemetry serves p's metrics on /metrics.
func WithTelemetry(p *telemetry.Provider) Option {
	return func(s *Server) { s.telemetry = p }
}

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) Option {
	return func(s *Server) { s.logger = logger }
}

// New creates a Server for d.
func New(d *daemon.Daemon, opts ...Option) *Server {
	s := &Server{daemon: d, logger: slog.Default()}
	for _, opt := range opts {
		opt(s)
	}
	s.logger = s.logger.With("component", "api")
	return s
}

// SensorView is the API representation of a registered sensor.
type SensorView struct {
	Name                   string          `json:"name"`
	RunStatus              ir.RunStatus    `json:"run_status"`
	EventType              ir.EventType    `json:"event_type"`
	Status                 ir.SensorStatus `json:"status"`
	Scope                  string          `json:"scope"`
	MinimumIntervalSeconds int             `json:"minimum_interval_seconds"`
	Description            string          `json:"description,omitempty"`
	RequestJobs            []string        `json:"request_jobs,omitempty"`
	Cursor                 string          `json:"cursor,omitempty"`
}

// Handler returns the router with every route registered.
func (s *Server) Handler() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.Recoverer)
	r.Use(s.logRequests)
	s.RegisterHTTP(r)
	return r
}

// RegisterHTTP registers the routes on r.
func (s *Server) RegisterHTTP(r chi.Router) {
	r.Get("/healthz", s.handleHealth)
	r.Get("/metrics", s.handleMetrics)
	r.Route("/sensors", func(r chi.Router) {
		r.Get("/", s.handleList)
		r.Route("/{name}", func(r chi.Router) {
			r.Get("/", s.handleGet)
			r.Get("/ticks", s.handleTicks)
			r.Post("/start", s.handleStart)
			r.Post("/stop", s.handleStop)
			r.Post("/tick", s.handleTick)
		})
	})
}

// ListenAndServe serves the API on addr until ctx is cancelled.
func (s *Server) ListenAndServe(ctx context.Context, addr string) error {
	srv := &http.Server{
		Addr:              addr,
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("http api listening", "addr", addr)
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		return fmt.Errorf("http api: %w", err)
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("http api shutdown: %w", err)
		}
		return nil
	}
}

func (s *Server) logRequests(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		start := time.Now()
		next.ServeHTTP(ww, r)
		s.logger.Debug("http request",
			"method", r.Method,
			"path", r.URL.Path,
			"status", ww.Status(),
			"duration", time.Since(start))
	})
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"status":  "ok",
		"sensors": s.daemon.Registry().Len(),
		"version": ir.EngineVersion,
	})
}

func (s *Server) handleMetrics(w http.ResponseWriter, r *http.Request) {
	if s.telemetry == nil {
		writeError(w, http.StatusNotFound, errors.New("metrics are disabled"))
		return
	}
	points, err := s.telemetry.Snapshot(r.Context())
	if err != nil {
		s.writeInternal(w, "metrics snapshot failed", err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"metrics": points})
}

func (s *Server) handleList(w http.ResponseWriter, r *http.Request) {
	defs := s.daemon.Registry().All()
	views := make([]SensorView, 0, len(defs))
	for _, def := range defs {
		view, err := s.view(r.Context(), def)
		if err != nil {
			s.writeInternal(w, "list sensors failed", err)
			return
		}
		views = append(views, view)
	}
	writeJSON(w, http.StatusOK, map[string]any{"sensors": views})
}

func (s *Server) handleGet(w http.ResponseWriter, r *http.Request) {
	def, ok := s.lookup(w, r)
	if !ok {
		return
	}
	view, err := s.view(r.Context(), def)
	if err != nil {
		s.writeInternal(w, "get sensor failed", err)
		return
	}
	writeJSON(w, http.StatusOK, view)
}

func (s *Server) handleTicks(w http.ResponseWriter, r *http.Request) {
	def, ok := s.lookup(w, r)
	if !ok {
		return
	}
	limit := DefaultTickLimit
	if raw := r.URL.Query().Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n <= 0 {
			writeError(w, http.StatusBadRequest, fmt.Errorf("limit must be a positive integer, got %q", raw))
			return
		}
		limit = n
	}
	ticks, err := s.daemon.Ticks(r.Context(), def.Name, limit)
	if err != nil {
		s.writeInternal(w, "list ticks failed", err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"sensor": def.Name, "ticks": ticks})
}

func (s *Server) handleStart(w http.ResponseWriter, r *http.Request) {
	s.toggle(w, r, ir.SensorStatusRunning)
}

func (s *Server) handleStop(w http.ResponseWriter, r *http.Request) {
	s.toggle(w, r, ir.SensorStatusStopped)
}

func (s *Server) toggle(w http.ResponseWriter, r *http.Request, status ir.SensorStatus) {
	def, ok := s.lookup(w, r)
	if !ok {
		return
	}
	var err error
	if status == ir.SensorStatusRunning {
		err = s.daemon.Start(r.Context(), def.Name)
	} else {
		err = s.daemon.Stop(r.Context(), def.Name)
	}
	if err != nil {
		s.writeInternal(w, "set sensor status failed", err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"name": def.Name, "status": status})
}

func (s *Server) handleTick(w http.ResponseWriter, r *http.Request) {
	def, ok := s.lookup(w, r)
	if !ok {
		return
	}
	res, err := s.daemon.TickSensor(r.Context(), def.Name)
	switch {
	case errors.Is(err, daemon.ErrTickInProgress):
		writeError(w, http.StatusConflict, err)
	case err != nil:
		s.writeInternal(w, "tick failed", err)
	default:
		writeJSON(w, http.StatusOK, res)
	}
}

func (s *Server) lookup(w http.ResponseWriter, r *http.Request) (*sensor.Definition, bool) {
	name := chi.URLParam(r, "name")
	def, ok := s.daemon.Registry().Get(name)
	if !ok {
		writeError(w, http.StatusNotFound, fmt.Errorf("%w: %s", daemon.ErrUnknownSensor, name))
		return nil, false
	}
	return def, true
}

func (s *Server) view(ctx context.Context, def *sensor.Definition) (SensorView, error) {
	status, err := s.daemon.Status(ctx, def.Name)
	if err != nil {
		return SensorView{}, err
	}
	cursor, _, err := s.daemon.CursorStore().Cursor(ctx, def.Name)
	if err != nil {
		return SensorView{}, err
	}
	return SensorView{
		Name:                   def.Name,
		RunStatus:              def.RunStatus,
		EventType:              def.EventType,
		Status:                 status,
		Scope:                  def.Scope.String(),
		MinimumIntervalSeconds: def.MinimumIntervalSeconds,
		Description:            def.Description,
		RequestJobs:            def.RequestJobs,
		Cursor:                 cursor,
	}, nil
}

func (s *Server) writeInternal(w http.ResponseWriter, msg string, err error) {
	s.logger.Error(msg, "error", err)
	writeError(w, http.StatusInternalServerError, err)
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, code int, err error) {
	writeJSON(w, code, map[string]string{"error": err.Error()})
}
