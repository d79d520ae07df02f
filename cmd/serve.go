package main

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/tcc-deals/dealsync/internal/history"
	"github.com/tcc-deals/dealsync/internal/registry"
	"github.com/tcc-deals/dealsync/internal/syncer"
)

var servePort int

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the sync HTTP API",
	Long:  "Serves batch invocation, progress, and active-deal endpoints for the deals dashboard.",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		pool, err := syncPool(ctx)
		if err != nil {
			return err
		}
		defer pool.Close()

		if err := syncer.Migrate(ctx, pool); err != nil {
			return eris.Wrap(err, "serve: migrate")
		}

		o, closeCache, err := buildOrchestrator(pool)
		if err != nil {
			return err
		}
		defer closeCache()

		api := &syncAPI{
			orchestrator: o,
			registry:     registry.NewStore(pool),
			history:      history.NewStore(pool),
			defaults: syncer.RunOpts{
				BatchSize:   cfg.Sync.BatchSize,
				MaxAPICalls: cfg.Sync.MaxAPICalls,
			},
		}

		port := servePort
		if port == 0 {
			port = cfg.Server.Port
		}

		srv := &http.Server{
			Addr:              fmt.Sprintf(":%d", port),
			Handler:           api.routes(cfg.Server.AllowedOrigins),
			ReadHeaderTimeout: 10 * time.Second,
		}

		g, gctx := errgroup.WithContext(ctx)
		g.Go(func() error {
			zap.L().Info("starting server", zap.Int("port", port))
			if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
				return eris.Wrap(err, "server listen")
			}
			return nil
		})
		g.Go(func() error {
			<-gctx.Done()
			zap.L().Info("shutting down server")
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
			defer cancel()
			return srv.Shutdown(shutdownCtx)
		})

		return g.Wait()
	},
}

func init() {
	serveCmd.Flags().IntVar(&servePort, "port", 0, "server port (default from config)")
	rootCmd.AddCommand(serveCmd)
}

type batchRunner interface {
	RunBatch(ctx context.Context, opts syncer.RunOpts) (*syncer.BatchResult, error)
}

type progressReader interface {
	Progress(ctx context.Context) (*registry.Progress, error)
}

type dealsReader interface {
	ActiveDeals(ctx context.Context) ([]history.Deal, error)
}

// syncAPI holds the handlers behind the HTTP surface. Batch runs are
// serialized with an in-process mutex; a second run request while one is in
// flight gets 409 rather than queueing behind it.
type syncAPI struct {
	orchestrator batchRunner
	registry     progressReader
	history      dealsReader
	defaults     syncer.RunOpts

	running sync.Mutex
}

func (a *syncAPI) routes(allowedOrigins []string) http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.Recoverer)
	r.Use(requestLogger)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: allowedOrigins,
		AllowedMethods: []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders: []string{"Accept", "Content-Type"},
	}))

	r.Get("/healthz", a.handleHealth)
	r.Get("/sync/progress", a.handleProgress)
	r.Post("/sync/run", a.handleRun)
	r.Get("/deals", a.handleDeals)
	return r
}

// requestLogger logs each request with method, path, and duration.
func requestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		next.ServeHTTP(w, r)
		zap.L().Info("http request",
			zap.String("method", r.Method),
			zap.String("path", r.URL.Path),
			zap.Duration("duration", time.Since(start)),
		)
	})
}

func (a *syncAPI) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (a *syncAPI) handleProgress(w http.ResponseWriter, r *http.Request) {
	progress, err := a.registry.Progress(r.Context())
	if err != nil {
		zap.L().Error("progress query failed", zap.Error(err))
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "progress query failed"})
		return
	}
	writeJSON(w, http.StatusOK, progress)
}

func (a *syncAPI) handleRun(w http.ResponseWriter, r *http.Request) {
	if !a.running.TryLock() {
		writeJSON(w, http.StatusConflict, map[string]string{"error": "a sync run is already in flight"})
		return
	}
	defer a.running.Unlock()

	opts := a.defaults
	if r.Body != nil && r.ContentLength != 0 {
		if err := json.NewDecoder(r.Body).Decode(&opts); err != nil {
			writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid request body"})
			return
		}
	}
	if opts.BatchSize <= 0 {
		opts.BatchSize = a.defaults.BatchSize
	}

	result, err := a.orchestrator.RunBatch(r.Context(), opts)
	if err != nil {
		zap.L().Error("batch run failed", zap.Error(err))
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "batch run failed"})
		return
	}
	writeJSON(w, http.StatusOK, result)
}

func (a *syncAPI) handleDeals(w http.ResponseWriter, r *http.Request) {
	deals, err := a.history.ActiveDeals(r.Context())
	if err != nil {
		zap.L().Error("deals query failed", zap.Error(err))
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "deals query failed"})
		return
	}
	if deals == nil {
		deals = []history.Deal{}
	}
	writeJSON(w, http.StatusOK, deals)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
