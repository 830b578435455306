package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"audio-cutter/internal/audio"
	"audio-cutter/internal/cutter"
	"audio-cutter/internal/platform/config"
	"audio-cutter/internal/platform/logger"
	"audio-cutter/internal/platform/metrics"
	"audio-cutter/internal/platform/ratelimit"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"golang.org/x/sync/errgroup"
)

const shutdownTimeout = 10 * time.Second

func main() {
	_ = config.Load()
	cfg := config.FromEnv()

	log := logger.New(cfg.LogLevel, cfg.LogFormat)

	ff := audio.NewFFmpeg(cfg.FFmpegPath, cfg.FFprobePath, audio.DefaultFrameSamples, log)
	codecs := audio.NewDefaultRegistry(audio.DefaultFrameSamples, ff)
	store := cutter.NewFSAssetStore(cfg.InputDir, cfg.OutputDir, codecs.Supports)
	met := metrics.New()
	engine := cutter.NewEngine(cfg.ChunkSeconds, cfg.ChunkTimeout, log)
	ctrl := cutter.NewController(store, codecs, codecs, engine, log, met)
	h := cutter.NewHandler(ctrl, store, log)

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)
	r.Use(logger.RequestLogger(log))
	r.Use(metrics.RequestMiddleware(met))
	r.Get("/metrics", func(w http.ResponseWriter, r *http.Request) {
		met.Handler(func() {
			snap := ctrl.Progress()
			met.SetJob(snap.State.Active(), snap.Percent)
		}).ServeHTTP(w, r)
	})
	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
	h.Register(r, ratelimit.PerIP(cfg.RateLimitPerMinute, time.Minute))

	addr := ":" + cfg.Port
	srv := &http.Server{Addr: addr, Handler: r, ReadHeaderTimeout: 10 * time.Second}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-ctx.Done()
		log.Info("shutdown signal received, draining connections")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()

		// The running cut is cancelled so its pending output is discarded.
		if err := ctrl.Shutdown(shutdownCtx); err != nil {
			log.Error("cut job did not stop", "error", err)
		}
		return srv.Shutdown(shutdownCtx)
	})

	log.Info("server starting",
		"port", cfg.Port,
		"input_dir", cfg.InputDir,
		"output_dir", cfg.OutputDir,
		"formats", codecs.Extensions(),
		"chunk_seconds", cfg.ChunkSeconds,
		"log_level", cfg.LogLevel,
	)

	if err := g.Wait(); err != nil {
		log.Error("server error", "error", err)
		os.Exit(1)
	}

	log.Info("server stopped")
}
