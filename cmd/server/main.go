package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"hls-gateway/internal/gateway"
	"hls-gateway/internal/platform/config"
	"hls-gateway/internal/platform/logger"
	"hls-gateway/internal/platform/metrics"
	"hls-gateway/internal/transmux"
	"hls-gateway/internal/upstream"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
)

const shutdownTimeout = 10 * time.Second

func main() {
	_ = config.Load()

	port := config.GetEnv("PORT", "8080")
	host := config.GetEnv("UPSTREAM_HOST", "https://animepahe.si")
	cacheDir := config.GetEnv("CACHE_DIR", filepath.Join(os.TempDir(), "gateway-transmux"))
	minSegments := config.GetEnvInt("PREPARE_MIN_SEGMENTS", transmux.DefaultMinSegments)
	tokenTTL := config.GetEnvSeconds("TOKEN_TTL_SECONDS", 3600)
	logLevel := config.GetEnv("LOG_LEVEL", "info")
	logFormat := config.GetEnv("LOG_FORMAT", "json")

	log := logger.New(logLevel, logFormat)

	if err := os.MkdirAll(cacheDir, 0o755); err != nil {
		log.Error("cache dir unavailable", "dir", cacheDir, "error", err)
		os.Exit(1)
	}

	met := metrics.New()
	client := upstream.New(host, log)
	tokens := gateway.NewTokenStore(tokenTTL)
	sup := transmux.New(cacheDir, upstream.DefaultUserAgent, minSegments, log)
	svc := gateway.NewService(client, log, met)
	h := gateway.NewHandler(svc, tokens, sup, client, log, met)
	p := gateway.NewProxy(tokens, client, log, met)

	r := chi.NewRouter()
	r.Use(middleware.Recoverer)
	r.Use(logger.RequestLogger(log))
	r.Use(metrics.RequestMiddleware(met))

	r.Get("/metrics", func(w http.ResponseWriter, r *http.Request) {
		met.Handler(func() { met.SetTransmuxActive(sup.ActiveProcessCount()) }).ServeHTTP(w, r)
	})
	r.Get("/health", h.Health)

	r.Get("/watch/{slug}/{episode}/master.m3u8", h.WatchMaster)
	r.Route("/proxy", func(r chi.Router) {
		r.Get("/playlist", p.ServePlaylist)
		r.Get("/segment", p.ServeSegment)
		r.Get("/key", p.ServeKey)
	})
	r.Handle("/cache/*", gateway.CacheHandler(cacheDir))

	r.Route("/api", func(r chi.Router) {
		r.Get("/search", h.Search)
		r.Get("/anime/{slug}/episodes", h.Episodes)
		r.Get("/anime/{slug}/meta", h.Meta)
		r.Get("/options/{slug}/{episode}", h.Options)
	})
	r.Get("/img", h.Image)

	addr := ":" + port
	srv := &http.Server{Addr: addr, Handler: r}

	go func() {
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Error("server error", "error", err)
			os.Exit(1)
		}
	}()

	log.Info("server starting",
		"port", port,
		"upstream_host", host,
		"cache_dir", cacheDir,
		"min_segments", minSegments,
		"log_level", logLevel,
	)

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
	<-sigCh

	log.Info("shutdown signal received, draining connections")

	ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	if err := srv.Shutdown(ctx); err != nil {
		log.Error("shutdown error", "error", err)
		os.Exit(1)
	}

	log.Info("server stopped")
}
