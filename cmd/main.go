package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"downloadcenter/internal/api"
	"downloadcenter/internal/callback"
	"downloadcenter/internal/config"
	fileutil "downloadcenter/internal/file"
	"downloadcenter/internal/storage"
	"downloadcenter/internal/task"
)

func main() {
	configPath := flag.String("config", "config.yml", "path to the YAML or TOML config file")
	flag.Parse()

	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.RFC3339})
	zerolog.SetGlobalLevel(zerolog.InfoLevel)

	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatal().Err(err).Str("path", *configPath).Msg("failed to load config")
	}
	setLogLevel(cfg.LogLevel)

	for _, dir := range []string{cfg.DataDir, cfg.Downloader.SaveFolder} {
		if err := fileutil.EnsureDir(dir); err != nil {
			log.Fatal().Err(err).Str("dir", dir).Msg("ensure data dir")
		}
	}

	store, err := storage.Open(cfg.Storage.Path)
	if err != nil {
		log.Fatal().Err(err).Str("path", cfg.Storage.Path).Msg("open storage")
	}

	baseCtx, baseCancel := context.WithCancel(context.Background())

	taskManager := buildTaskManager(baseCtx, cfg, store)
	if err := taskManager.Recover(baseCtx); err != nil {
		log.Fatal().Err(err).Msg("recover stored tasks")
	}
	if err := taskManager.Start(baseCtx); err != nil {
		log.Fatal().Err(err).Msg("start task manager")
	}

	router := setupRouter()
	wireAPI(router, taskManager, *configPath)

	const (
		readHeaderTimeout = 5 * time.Second
		shutdownTimeout   = 10 * time.Second
	)

	srv := newHTTPServer(cfg.Port, router, readHeaderTimeout)

	go func() {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatal().Err(err).Msg("http server failed")
		}
	}()
	log.Info().Int("port", cfg.Port).Msg("download center started")

	waitForShutdownSignal()

	gracefulShutdown(srv, baseCancel, taskManager, shutdownTimeout)
	if err := store.Close(); err != nil {
		log.Warn().Err(err).Msg("close storage")
	}
}

func setLogLevel(level string) {
	parsed, err := zerolog.ParseLevel(level)
	if err != nil || level == "" {
		log.Warn().Str("log_level", level).Msg("unknown log level, using info")
		return
	}
	zerolog.SetGlobalLevel(parsed)
}

func setupRouter() *gin.Engine {
	r := gin.New()

	r.Use(gin.Recovery())
	r.Use(api.ZerologLogger())
	return r
}

func buildTaskManager(ctx context.Context, cfg config.Config, store *storage.Store) *task.Manager {
	notifier := callback.New(callback.Options{
		BotHost:    cfg.Callbacks.BotHost,
		Timeout:    cfg.Callbacks.Timeout.Std(),
		StatusRate: cfg.Callbacks.StatusRate,
	})
	tm := task.NewManager(ctx, task.Options{
		Config:   cfg,
		Store:    store,
		Cache:    store,
		Notifier: notifier,
	})
	tm.SetBaseContext(ctx)
	return tm
}

func wireAPI(router *gin.Engine, tm *task.Manager, configPath string) {
	apiHandler := api.NewAPI(tm, func() (config.Config, error) { return config.Load(configPath) })
	apiHandler.RegisterRoutes(router)
	apiHandler.RegisterUIRoutes(router)
}

func newHTTPServer(port int, handler http.Handler, readHeaderTimeout time.Duration) *http.Server {
	return &http.Server{
		Addr:              fmt.Sprintf(":%d", port),
		Handler:           handler,
		ReadHeaderTimeout: readHeaderTimeout,
	}
}

func waitForShutdownSignal() {
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, os.Interrupt, syscall.SIGTERM)
	<-quit
	log.Info().Msg("shutdown signal received")
}

func gracefulShutdown(srv *http.Server, cancelBase context.CancelFunc, tm *task.Manager, timeout time.Duration) {
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()
	if err := srv.Shutdown(ctx); err != nil {
		log.Warn().Err(err).Msg("http server shutdown warning")
	}

	cancelBase()
	done := tm.WaitAll(ctx)
	if !done {
		log.Warn().Msg("background workers did not finish before timeout")
	}
	log.Info().Msg("server exited cleanly")
}
