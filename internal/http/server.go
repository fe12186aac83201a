// Package http serves the mileage JSON API.
package http

import (
	"context"
	"net/http"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/render"

	"ritten/internal/chart"
	"ritten/internal/core"
	applog "ritten/internal/log"
	"ritten/internal/metrics"
	"ritten/internal/middleware/ratelimit"
	"ritten/internal/middleware/security"
	"ritten/internal/middleware/trace"
	"ritten/internal/services"
)

// MileageService is what the handlers need from services.MileageService.
type MileageService interface {
	RecordReading(ctx context.Context, r core.OdometerReading) (core.StoredReading, error)
	DeleteReading(ctx context.Context, id int64) error
	ListReadings(ctx context.Context) ([]core.StoredReading, error)
	RecordCarChange(ctx context.Context, c core.CarChangeEvent) (core.StoredCarChange, error)
	DeleteCarChange(ctx context.Context, id int64) error
	ListCarChanges(ctx context.Context) ([]core.StoredCarChange, error)
	ImportWorkMileage(ctx context.Context, table core.WorkMileageTable, mode services.ImportMode) error
	ImportChartLabels(ctx context.Context, labels []string) (chart.Import, error)
	WorkMileage(ctx context.Context) (core.WorkMileageTable, error)
	Overview(ctx context.Context, fy core.FiscalYear) (core.Result, error)
	CurrentFiscalYear() core.FiscalYear
	Location() *time.Location
}

// Options configures NewServer.
type Options struct {
	Addr               string
	RateLimitPerMinute int
	// Ready reports whether the store is usable; nil means always ready
	Ready  func(ctx context.Context) error
	Logger *applog.Logger
}

type Server struct {
	http.Server
	mileage  MileageService
	ready    func(ctx context.Context) error
	limiter  *ratelimit.Limiter
	detector *security.Detector
	logger   *applog.Logger

	shutdownOnce sync.Once
}

// NewServer configures routes and middleware, returning a ready-to-run server.
func NewServer(mileage MileageService, opts Options) *Server {
	logger := opts.Logger
	if logger == nil {
		logger = applog.New(applog.DefaultConfig())
	}

	s := &Server{
		Server: http.Server{
			Addr:              opts.Addr,
			ReadHeaderTimeout: 10 * time.Second,
			ReadTimeout:       15 * time.Second,
			WriteTimeout:      30 * time.Second,
			IdleTimeout:       time.Minute,
		},
		mileage:  mileage,
		ready:    opts.Ready,
		limiter:  ratelimit.NewLimiter(ratelimit.Config{RequestsPerMinute: opts.RateLimitPerMinute}),
		detector: security.NewDetector(),
		logger:   logger.WithComponent(applog.ComponentHTTP),
	}
	s.Handler = s.routes()
	return s
}

func (s *Server) routes() http.Handler {
	r := chi.NewRouter()

	r.Use(middleware.Recoverer)
	r.Use(trace.NewMiddleware(s.logger, s.detector.ExtractClientIP).Handler)
	r.Use(security.Headers(security.DefaultHeadersConfig()))
	r.Use(s.detector.Middleware(s.logger))

	r.Get("/healthz", handleHealth)
	r.Get("/readyz", s.handleReady)
	r.Handle("/metrics", metrics.Handler())

	r.Route("/api", func(r chi.Router) {
		r.Use(render.SetContentType(render.ContentTypeJSON))
		r.Use(s.limiter.Middleware(s.detector.ExtractClientIP, isWrite, s.onRateLimit))

		r.Get("/overview", s.handleOverview)
		r.Get("/overview/current", s.handleCurrentOverview)

		r.Route("/readings", func(r chi.Router) {
			r.Get("/", s.handleListReadings)
			r.Post("/", s.handleCreateReading)
			r.Delete("/{id}", s.handleDeleteReading)
		})

		r.Route("/car-changes", func(r chi.Router) {
			r.Get("/", s.handleListCarChanges)
			r.Post("/", s.handleCreateCarChange)
			r.Delete("/{id}", s.handleDeleteCarChange)
		})

		r.Route("/work-mileage", func(r chi.Router) {
			r.Get("/", s.handleGetWorkMileage)
			r.Put("/", s.handlePutWorkMileage)
			r.Post("/chart", s.handleImportChart)
		})
	})

	return r
}

func isWrite(r *http.Request) bool {
	return r.Method != http.MethodGet && r.Method != http.MethodHead
}

func (s *Server) onRateLimit(w http.ResponseWriter, r *http.Request) {
	metrics.Rejected.WithLabelValues("rate_limit").Inc()
	applog.FromContext(r.Context()).WarnContext(r.Context(), "Rate limit exceeded",
		applog.FieldClientIP, s.detector.ExtractClientIP(r),
		applog.FieldMethod, r.Method,
		applog.FieldPath, r.URL.Path)
	_ = render.Render(w, r, errTooManyRequests)
}

// Shutdown stops the rate limiter and gracefully shuts down the HTTP server.
func (s *Server) Shutdown(ctx context.Context) error {
	var err error
	s.shutdownOnce.Do(func() {
		s.limiter.Stop()
		err = s.Server.Shutdown(ctx)
	})
	return err
}

func handleHealth(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("ok"))
}

func (s *Server) handleReady(w http.ResponseWriter, r *http.Request) {
	if s.ready != nil {
		ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
		defer cancel()
		if err := s.ready(ctx); err != nil {
			applog.FromContext(r.Context()).WarnContext(r.Context(), "Readiness check failed", applog.FieldError, err)
			http.Error(w, "not ready", http.StatusServiceUnavailable)
			return
		}
	}
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("ready"))
}
