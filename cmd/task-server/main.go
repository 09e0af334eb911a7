package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"

	"task-tracker/internal/config"
	"task-tracker/internal/logging"
	"task-tracker/internal/middleware"
	"task-tracker/internal/tasks"

	gfshutdown "github.com/gelmium/graceful-shutdown"
	"github.com/go-chi/chi/v5"
	chiMiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

var configPath string

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

var rootCmd = &cobra.Command{
	Use:   "task-server",
	Short: "Per-user task tracking service",
	Long: `task-server stores each user's tasks in its own JSON file and serves
them over HTTP. Without a subcommand it runs the HTTP server.`,
	SilenceUsage: true,
	RunE:         runServe,
}

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the HTTP server",
	RunE:  runServe,
}

func init() {
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "", "path to a YAML config file")
	rootCmd.AddCommand(serveCmd)
	rootCmd.AddCommand(exportCmd)
	rootCmd.AddCommand(importCmd)
}

// Здесь только:
// - создание зависимостей;
// - настройка middleware;
// - запуск HTTP-сервера и его остановка по сигналу.
func runServe(cmd *cobra.Command, _ []string) error {
	cfg, log, err := setup()
	if err != nil {
		return err
	}
	defer func() { _ = log.Sync() }()

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))

	svc, err := openService(cfg, log, tasks.WithMetrics(tasks.NewMetrics(reg)))
	if err != nil {
		return err
	}

	handler := tasks.NewHandler(svc, log, tasks.HandlerConfig{
		UserHeader:     cfg.UserHeader,
		RequestTimeout: cfg.RequestTimeout,
	})

	srv := &http.Server{
		Addr:    cfg.HTTPAddr,
		Handler: chiWithMiddleware(handler.Router(), reg, log),
	}

	go func() {
		log.Info("server listening", zap.String("addr", cfg.HTTPAddr), zap.String("data_dir", cfg.DataDir))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Error("server start error", zap.Error(err))
		}
	}()

	wait := gfshutdown.GracefulShutdown(context.Background(), cfg.ShutdownTimeout, map[string]gfshutdown.Operation{
		"http-server": func(ctx context.Context) error {
			log.Info("graceful shutdown initiated")
			err := srv.Shutdown(ctx)
			// Сервис закрываем после HTTP: принятые запросы должны доработать.
			_ = svc.Close()
			return err
		},
	})

	exitCode := <-wait
	if exitCode != 0 {
		return fmt.Errorf("shutdown finished with exit code %d", exitCode)
	}
	log.Info("server stopped")
	return nil
}

// chiWithMiddleware навешивает общие middleware на уже собранный роутер
// и добавляет служебные ручки /healthz и /metrics.
func chiWithMiddleware(h http.Handler, reg *prometheus.Registry, log *zap.Logger) http.Handler {
	r := chi.NewRouter()

	r.Use(chiMiddleware.RequestID)
	r.Use(chiMiddleware.Recoverer)
	r.Use(middleware.LoggingMiddleware(log))

	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/json; charset=utf-8")
		_, _ = w.Write([]byte(`{"status":"ok"}`))
	})
	r.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{}))

	r.Mount("/", h)
	return r
}

// setup загружает настройки и создаёт логгер.
func setup() (*config.Config, *zap.Logger, error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, nil, err
	}
	log, err := logging.New(cfg.LogLevel, cfg.LogFormat)
	if err != nil {
		return nil, nil, err
	}
	return cfg, log, nil
}

// openService собирает цепочку validator -> store -> service.
func openService(cfg *config.Config, log *zap.Logger, opts ...tasks.ServiceOption) (*tasks.Service, error) {
	store, err := tasks.NewTaskStore(cfg.DataDir, tasks.NewValidator(), log.Named("store"))
	if err != nil {
		return nil, fmt.Errorf("open task store: %w", err)
	}
	opts = append([]tasks.ServiceOption{tasks.WithLogger(log.Named("service"))}, opts...)
	return tasks.NewService(store, opts...), nil
}
