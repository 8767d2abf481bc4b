package main

import (
	"fmt"
	"net/http"
	"os/signal"
	"syscall"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/robfig/cron/v3"
	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

var servePort int

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the HTTP API server",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		env, err := initEnv(ctx)
		if err != nil {
			return err
		}
		defer env.Close()

		// Periodic maintenance: cache sweep, retention pruning, vacuum.
		if spec := cfg.Server.MaintenanceCron; spec != "" {
			c := cron.New()
			_, err := c.AddFunc(spec, func() {
				if err := env.Store.RunMaintenance(ctx); err != nil {
					zap.L().Error("scheduled maintenance failed", zap.Error(err))
				}
			})
			if err != nil {
				return eris.Wrapf(err, "bad maintenance cron spec %q", spec)
			}
			c.Start()
			defer c.Stop()
			zap.L().Info("maintenance scheduled", zap.String("cron", spec))
		}

		port := servePort
		if port == 0 {
			port = cfg.Server.Port
		}

		srv := &http.Server{
			Addr:    fmt.Sprintf(":%d", port),
			Handler: newRouter(env),
		}

		// Graceful shutdown
		go func() {
			<-ctx.Done()
			zap.L().Info("shutting down server")
			srv.Shutdown(ctx)
		}()

		zap.L().Info("starting server", zap.Int("port", port))
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			return eris.Wrap(err, "server listen")
		}

		return nil
	},
}

// newRouter builds the API router. Split out so tests can drive it with
// httptest against an in-memory store.
func newRouter(env *appEnv) chi.Router {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: []string{"*"},
		AllowedMethods: []string{"GET", "POST", "DELETE", "OPTIONS"},
		AllowedHeaders: []string{"Accept", "Content-Type"},
	}))

	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		respondJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})

	r.Route("/api", func(r chi.Router) {
		r.Get("/listings", env.handleListListings)
		r.Post("/listings", env.handleUpsertListings)
		r.Get("/listings/{id}", env.handleGetListing)

		r.Get("/makes", env.handleMakes)
		r.Get("/makes/{make}/models", env.handleModels)
		r.Get("/years", env.handleYears)
		r.Get("/stats", env.handleStats)

		r.Post("/analyses", env.handleStartAnalysis)
		r.Get("/jobs/{id}", env.handleJobStatus)
		r.Delete("/jobs/{id}", env.handleJobCancel)
		r.Get("/jobs/{id}/result", env.handleJobResult)
	})

	return r
}

func init() {
	serveCmd.Flags().IntVar(&servePort, "port", 0, "server port (default from config)")
	rootCmd.AddCommand(serveCmd)
}
