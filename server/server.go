package server

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/julienschmidt/httprouter"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/levkk/rwf/internal/config"
	"github.com/levkk/rwf/internal/logging"
	"github.com/levkk/rwf/internal/metrics"
	"github.com/levkk/rwf/internal/middleware"
)

// Server runs the main listener serving the guest application, plus an
// optional admin listener for health, stats, metrics, and reload.
type Server struct {
	cfg       *config.Config
	app       App
	collector *metrics.Collector

	main  *http.Server
	admin *http.Server

	limiter    *middleware.Limiter
	compressor *middleware.Compressor
	watcher    *Watcher
	startTime  time.Time
}

// New builds the server: the guest application, the middleware chain,
// both listeners, and the reload watcher when enabled.
func New(cfg *config.Config) (*Server, error) {
	app, err := NewApp(context.Background(), cfg.App)
	if err != nil {
		return nil, err
	}

	s := &Server{
		cfg:       cfg,
		app:       app,
		collector: metrics.NewCollector(),
		startTime: time.Now(),
	}

	builder := middleware.NewBuilder().
		Use(middleware.Recovery()).
		Use(middleware.RequestIDWithConfig(middleware.RequestIDConfig{
			Header:      cfg.Middleware.RequestID.Header,
			TrustHeader: cfg.Middleware.RequestID.TrustHeader,
		})).
		UseIf(cfg.Middleware.AccessLog.Enabled, middleware.AccessLog())

	if cfg.Middleware.RateLimit.Enabled {
		s.limiter = middleware.NewLimiter(cfg.Middleware.RateLimit.Rate, cfg.Middleware.RateLimit.Burst)
		builder.Use(s.limiter.Middleware())
	}
	if cfg.Middleware.Compression.Enabled {
		s.compressor = middleware.NewCompressor(cfg.Middleware.Compression)
		builder.Use(s.compressor.Middleware())
	}

	s.main = &http.Server{
		Addr:         cfg.Server.Listen,
		Handler:      builder.Handler(NewHandler(app, s.collector)),
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
	}

	if cfg.Server.Admin.Enabled {
		s.admin = &http.Server{
			Addr:         cfg.Server.Admin.Listen,
			Handler:      s.adminHandler(),
			ReadTimeout:  10 * time.Second,
			WriteTimeout: 10 * time.Second,
		}
	}

	if cfg.App.Reload.Enabled {
		watcher, err := NewWatcher(cfg.App.Path, cfg.App.Reload.Debounce, s.reload)
		if err != nil {
			app.Close()
			return nil, err
		}
		s.watcher = watcher
	}

	return s, nil
}

// Run starts the listeners and blocks until shutdown. SIGHUP reloads
// the application; SIGINT and SIGTERM shut down gracefully.
func (s *Server) Run() error {
	g, ctx := errgroup.WithContext(context.Background())

	g.Go(func() error {
		logging.Info("Starting server",
			zap.String("listen", s.cfg.Server.Listen),
			zap.String("app", s.app.Name()),
			zap.String("kind", s.cfg.App.Kind),
		)
		if err := s.main.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})

	if s.admin != nil {
		g.Go(func() error {
			logging.Info("Starting admin server",
				zap.String("listen", s.cfg.Server.Admin.Listen),
			)
			if err := s.admin.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
				return err
			}
			return nil
		})
	}

	g.Go(func() error {
		quit := make(chan os.Signal, 1)
		signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM, syscall.SIGHUP)
		defer signal.Stop(quit)

		for {
			select {
			case sig := <-quit:
				switch sig {
				case syscall.SIGHUP:
					s.reload()
				default:
					logging.Info("Shutting down gracefully...")
					return s.Shutdown(s.cfg.Server.ShutdownTimeout)
				}
			case <-ctx.Done():
				// A listener failed; stop the rest.
				return s.Shutdown(s.cfg.Server.ShutdownTimeout)
			}
		}
	})

	return g.Wait()
}

// Shutdown stops the listeners, the watcher, and the application.
func (s *Server) Shutdown(timeout time.Duration) error {
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()

	if s.admin != nil {
		if err := s.admin.Shutdown(ctx); err != nil {
			logging.Error("Admin server shutdown error", zap.Error(err))
		}
	}
	err := s.main.Shutdown(ctx)
	if err != nil {
		logging.Error("Server shutdown error", zap.Error(err))
	}

	if s.watcher != nil {
		s.watcher.Close()
	}
	if cerr := s.app.Close(); cerr != nil {
		logging.Error("Application close error", zap.Error(cerr))
	}

	logging.Info("Server shutdown complete")
	return err
}

// reload swaps in a fresh load of the application file. On failure the
// old application keeps serving.
func (s *Server) reload() {
	err := s.app.Reload()
	s.collector.RecordReload(err == nil)
	if err != nil {
		logging.Error("Application reload failed",
			zap.String("app", s.app.Name()),
			zap.Error(err),
		)
		return
	}
	logging.Info("Application reloaded", zap.String("app", s.app.Name()))
}

// adminHandler builds the admin API router.
func (s *Server) adminHandler() http.Handler {
	router := httprouter.New()
	router.HandlerFunc(http.MethodGet, "/health", s.handleHealth)
	router.HandlerFunc(http.MethodGet, "/healthz", s.handleHealth)
	router.HandlerFunc(http.MethodGet, "/stats", s.handleStats)
	router.Handler(http.MethodGet, "/metrics", s.collector.Handler())
	router.HandlerFunc(http.MethodPost, "/reload", s.handleReload)
	return router
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]any{
		"status":    "healthy",
		"uptime":    time.Since(s.startTime).String(),
		"timestamp": time.Now().UTC().Format(time.RFC3339),
	})
}

func (s *Server) handleStats(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")

	response := map[string]any{
		"app":      s.app.Stats(),
		"requests": s.collector.Snapshot(),
		"uptime":   time.Since(s.startTime).String(),
	}
	if s.limiter != nil {
		response["rate_limit"] = s.limiter.Stats()
	}
	if s.compressor != nil {
		response["compression"] = s.compressor.Stats()
	}

	json.NewEncoder(w).Encode(response)
}

func (s *Server) handleReload(w http.ResponseWriter, r *http.Request) {
	err := s.app.Reload()
	s.collector.RecordReload(err == nil)

	w.Header().Set("Content-Type", "application/json")
	result := map[string]any{"success": err == nil}
	if err != nil {
		result["error"] = err.Error()
		w.WriteHeader(http.StatusInternalServerError)
	}
	json.NewEncoder(w).Encode(result)
}
