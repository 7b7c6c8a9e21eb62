package httpserver

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/goccy/go-json"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/radiusdt/adspend-kpi/internal/config"
	"github.com/radiusdt/adspend-kpi/internal/database"
	"github.com/radiusdt/adspend-kpi/internal/kpi"
	"github.com/radiusdt/adspend-kpi/internal/metrics"
	"github.com/radiusdt/adspend-kpi/internal/middleware"
	"github.com/radiusdt/adspend-kpi/internal/models"
	"github.com/radiusdt/adspend-kpi/internal/storage"
)

// Error codes returned in the "code" field of error bodies.
const (
	CodeInvalidParameter = "invalid_parameter"
	CodeInvalidRange     = "invalid_range"
	CodeDataSource       = "datasource_error"
)

const readyTimeout = 2 * time.Second

// Dependencies holds all external dependencies for the server.
type Dependencies struct {
	Source  storage.SpendSource
	Redis   *database.RedisDB
	Config  *config.Config
	Logger  *zap.Logger
	Metrics *metrics.Metrics
}

// Server wraps HTTP handlers around the KPI calculator.
type Server struct {
	calculator *kpi.Calculator
	source     storage.SpendSource
	redis      *database.RedisDB
	logger     *zap.Logger
	limiter    *middleware.RateLimitMiddleware
	handler    http.Handler
}

// NewServer constructs the router with all routes and middleware registered.
func NewServer(deps *Dependencies) *Server {
	logger := deps.Logger
	if logger == nil {
		logger = zap.NewNop()
	}

	s := &Server{
		calculator: kpi.NewCalculator(deps.Source, logger, deps.Metrics, deps.Config.Database.QueryTimeout),
		source:     deps.Source,
		redis:      deps.Redis,
		logger:     logger,
	}

	s.limiter = middleware.NewRateLimitMiddleware(deps.Config.RateLimit, logger, deps.Metrics, s.redisClient())

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.NewLoggingMiddleware(logger, deps.Metrics).Handler)
	r.Use(middleware.NewRecoveryMiddleware(logger).Handler)
	r.Use(s.limiter.Handler)
	r.Use(middleware.NewAuthMiddleware(deps.Config.Auth, logger).Handler)

	r.NotFound(func(w http.ResponseWriter, r *http.Request) {
		s.errorResponse(w, "not found", "not_found", http.StatusNotFound)
	})
	r.MethodNotAllowed(func(w http.ResponseWriter, r *http.Request) {
		s.errorResponse(w, "method not allowed", "method_not_allowed", http.StatusMethodNotAllowed)
	})

	r.Get("/health", s.handleHealth)
	r.Get("/ready", s.handleReady)
	r.Get("/metrics", s.handleMetrics)

	s.handler = r
	return s
}

// ServeHTTP implements http.Handler.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.handler.ServeHTTP(w, r)
}

// RateLimiter exposes the rate limiter so the caller can run its cleanup loop.
func (s *Server) RateLimiter() *middleware.RateLimitMiddleware {
	return s.limiter
}

func (s *Server) redisClient() *redis.Client {
	if s.redis == nil {
		return nil
	}
	return s.redis.Client
}

// ---- Health Check ----

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	s.jsonResponse(w, map[string]string{"status": "ok"})
}

func (s *Server) handleReady(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), readyTimeout)
	defer cancel()

	checks := map[string]string{}
	ready := true

	if p, ok := s.source.(storage.Pinger); ok {
		if err := p.Ping(ctx); err != nil {
			s.logger.Warn("data source not ready", zap.Error(err))
			checks["datasource"] = err.Error()
			ready = false
		} else {
			checks["datasource"] = "ok"
		}
	}

	if s.redis != nil {
		if err := s.redis.Ping(ctx); err != nil {
			// the limiter fails open, so Redis is reported but does not gate readiness
			s.logger.Warn("redis not ready", zap.Error(err))
			checks["redis"] = err.Error()
		} else {
			checks["redis"] = "ok"
		}
	}

	status := "ready"
	code := http.StatusOK
	if !ready {
		status = "not_ready"
		code = http.StatusServiceUnavailable
	}

	s.jsonResponseCode(w, map[string]any{"status": status, "checks": checks}, code)
}

// ---- KPI ----

func (s *Server) handleMetrics(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()

	start, ok := s.parseDate(w, q.Get("start_date"), "start_date")
	if !ok {
		return
	}
	end, ok := s.parseDate(w, q.Get("end_date"), "end_date")
	if !ok {
		return
	}

	report, err := s.calculator.Compute(r.Context(), start, end)
	if err != nil {
		var rangeErr *kpi.InvalidRangeError
		var dsErr *kpi.DataSourceError
		switch {
		case errors.As(err, &rangeErr):
			s.errorResponse(w, rangeErr.Error(), CodeInvalidRange, http.StatusBadRequest)
		case errors.As(err, &dsErr):
			s.logger.Error("failed to compute kpis",
				zap.String("start_date", start.Format(models.DateLayout)),
				zap.String("end_date", end.Format(models.DateLayout)),
				zap.String("request_id", middleware.GetRequestID(r.Context())),
				zap.Error(dsErr.Err),
			)
			s.errorResponse(w, dsErr.Error(), CodeDataSource, http.StatusInternalServerError)
		default:
			s.logger.Error("unexpected kpi error", zap.Error(err))
			s.errorResponse(w, "internal server error", "internal_error", http.StatusInternalServerError)
		}
		return
	}

	s.jsonResponse(w, report)
}

func (s *Server) parseDate(w http.ResponseWriter, raw, name string) (time.Time, bool) {
	if raw == "" {
		s.errorResponse(w, name+" is required (YYYY-MM-DD)", CodeInvalidParameter, http.StatusBadRequest)
		return time.Time{}, false
	}
	t, err := time.Parse(models.DateLayout, raw)
	if err != nil {
		s.errorResponse(w, "invalid "+name+": expected YYYY-MM-DD", CodeInvalidParameter, http.StatusBadRequest)
		return time.Time{}, false
	}
	return t, true
}

// ---- Helper Methods ----

func (s *Server) jsonResponse(w http.ResponseWriter, data interface{}) {
	s.jsonResponseCode(w, data, http.StatusOK)
}

func (s *Server) jsonResponseCode(w http.ResponseWriter, data interface{}, code int) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		s.logger.Error("failed to encode response", zap.Error(err))
	}
}

func (s *Server) errorResponse(w http.ResponseWriter, message, code string, status int) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(map[string]string{"error": message, "code": code})
}
