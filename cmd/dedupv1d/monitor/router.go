package monitor

import (
	"net/http"
	"net/http/pprof"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/dedupv1/dedupv1-go/internal/logger"
	"github.com/dedupv1/dedupv1-go/pkg/bootstrap"
	"github.com/dedupv1/dedupv1-go/pkg/config"
)

// NewRouter builds the monitor HTTP surface: a small set of JSON endpoints
// for operators and test harnesses to introspect and prod a running daemon,
// grounded on the original dedupv1d monitor system's config/stats/lock/
// logging/idle/trace/profile handlers (dedupv1d/unit_test/*_monitor_test.cc)
// and on the teacher's pkg/api.NewRouter middleware stack.
func NewRouter(sys *bootstrap.System, cfg *config.Config) http.Handler {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(requestLogger)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(30 * time.Second))

	h := &handler{sys: sys, cfg: cfg}

	r.Get("/", func(w http.ResponseWriter, req *http.Request) {
		http.Redirect(w, req, "/stats", http.StatusTemporaryRedirect)
	})

	r.Get("/config", h.config)
	r.Get("/stats", h.stats)
	r.Route("/lock", func(r chi.Router) {
		r.Get("/", h.lock)
	})
	r.Route("/logging", func(r chi.Router) {
		r.Get("/", h.getLogging)
		r.Post("/", h.setLogging)
	})
	r.Route("/idle", func(r chi.Router) {
		r.Get("/", h.getIdle)
		r.Post("/", h.setIdle)
	})
	r.Get("/trace", h.trace)
	r.Get("/profile", h.profile)

	r.Handle("/metrics", promhttp.Handler())

	// pprof is mounted under /debug/pprof the same way net/http/pprof's
	// init() registers it on DefaultServeMux; exposed here explicitly so it
	// only lives on the monitor listener, not a public-facing one.
	r.Route("/debug/pprof", func(r chi.Router) {
		r.Get("/", pprof.Index)
		r.Get("/cmdline", pprof.Cmdline)
		r.Get("/profile", pprof.Profile)
		r.Get("/symbol", pprof.Symbol)
		r.Post("/symbol", pprof.Symbol)
		r.Get("/trace", pprof.Trace)
		r.Get("/{name}", pprof.Index)
	})

	return r
}

func requestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		requestID := middleware.GetReqID(r.Context())

		logger.Debug("monitor request started",
			"request_id", requestID,
			"method", r.Method,
			"path", r.URL.Path,
		)

		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)

		logger.Info("monitor request completed",
			"request_id", requestID,
			"method", r.Method,
			"path", r.URL.Path,
			"status", ww.Status(),
			"duration", time.Since(start).String(),
		)
	})
}
