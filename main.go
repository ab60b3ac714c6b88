package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gorilla/handlers"
	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/robfig/cron/v3"

	"channel-automation/api/pkg/config"
	"channel-automation/api/pkg/db"
	"channel-automation/api/pkg/logging"
	"channel-automation/api/services/workflow"
)

func main() {
	ctx := context.Background()

	cfg, err := config.Load("")
	if err != nil {
		logging.New("info", "json", os.Stdout).Error("Failed to load config: " + err.Error())
		return
	}
	logger := logging.New(cfg.Log.Level, cfg.Log.Format, os.Stdout)

	if err := cfg.Validate(); err != nil {
		logger.Error("Invalid config: " + err.Error())
		return
	}

	pool, err := db.ConnectWithConfig(ctx, db.Config{
		URI:             cfg.DatabaseURL,
		MaxConns:        cfg.DB.MaxConns,
		ConnMaxLifetime: cfg.DB.ConnMaxLifetime,
	})
	if err != nil {
		logger.Error("Failed to connect to database: " + err.Error())
		return
	}
	defer pool.Close()

	// Initialize database schema and seed data
	if err := workflow.InitDB(ctx, pool); err != nil {
		logger.Error("Failed to initialize database: " + err.Error())
		return
	}

	loc, _ := cfg.TimerLocation()
	metrics := workflow.NewMetrics(prometheus.DefaultRegisterer)
	bridge := workflow.NewHTTPBridge(cfg.Bridge.URL, cfg.Bridge.Token, cfg.Bridge.Timeout)
	dispatcher := workflow.NewDispatcher(bridge,
		workflow.WithCallTimeout(cfg.Bridge.Timeout),
		workflow.WithDispatchLogger(logger.WithFields(map[string]any{"component": "dispatcher"})),
		workflow.WithDispatchMetrics(metrics),
	)
	timers := workflow.NewTimerScheduler(logger.WithFields(map[string]any{"component": "timers"}), cron.WithLocation(loc))
	runtime := workflow.NewRuntime(dispatcher,
		workflow.WithTimers(timers),
		workflow.WithMaxConcurrentFirings(cfg.Dispatch.MaxConcurrentFirings),
		workflow.WithRuntimeLogger(logger.WithFields(map[string]any{"component": "runtime"})),
	)

	workflowService := workflow.NewService(workflow.NewRepository(pool), runtime,
		workflow.WithServiceLogger(logger.WithFields(map[string]any{"component": "workflow"})),
		workflow.WithServiceMetrics(metrics),
		workflow.WithGraphOptions(workflow.GraphOptions{AllowChaining: cfg.Graph.AllowChaining}),
	)
	if err := workflowService.Hydrate(ctx); err != nil {
		logger.Error("Failed to hydrate runtime: " + err.Error())
		return
	}
	timers.Start()
	defer timers.Stop()

	// setup router
	mainRouter := mux.NewRouter()
	mainRouter.Handle("/metrics", promhttp.Handler()).Methods("GET")

	apiRouter := mainRouter.PathPrefix("/api/v1").Subrouter()
	workflowService.LoadRoutes(apiRouter)

	corsHandler := handlers.CORS(
		handlers.AllowedOrigins(cfg.AllowedOrigins),
		handlers.AllowedMethods([]string{"GET", "POST", "PUT", "DELETE", "OPTIONS"}),
		handlers.AllowedHeaders([]string{"Content-Type", "Authorization"}),
		handlers.AllowCredentials(),
	)(mainRouter)

	srv := &http.Server{
		Addr:    cfg.ListenAddr,
		Handler: handlers.RecoveryHandler()(corsHandler),
	}

	serverErrors := make(chan error, 1)

	go func() {
		logger.Info("Starting server on " + cfg.ListenAddr)
		serverErrors <- srv.ListenAndServe()
	}()

	shutdown := make(chan os.Signal, 1)
	signal.Notify(shutdown, os.Interrupt, syscall.SIGTERM)

	select {
	case err := <-serverErrors:
		logger.Error("Server error: " + err.Error())

	case sig := <-shutdown:
		logger.WithFields(map[string]any{"signal": sig.String()}).Info("Shutdown signal received")

		ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
		defer cancel()

		if err := srv.Shutdown(ctx); err != nil {
			logger.Error("Could not stop server gracefully: " + err.Error())
			srv.Close()
		}
	}
}
