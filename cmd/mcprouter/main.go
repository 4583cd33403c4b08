package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/sirupsen/logrus"

	"dev.helix.router/internal/config"
	"dev.helix.router/internal/enhance"
	"dev.helix.router/internal/httpapi"
	"dev.helix.router/internal/promptcache"
	"dev.helix.router/internal/registry"
	"dev.helix.router/internal/sse"
)

func main() {
	log := logrus.New()
	cfg := config.Load()

	level, err := logrus.ParseLevel(cfg.Router.LogLevel)
	if err != nil {
		level = logrus.InfoLevel
	}
	log.SetLevel(level)

	log.Infof("starting MCP router on %s:%d", cfg.Router.Host, cfg.Router.Port)
	log.Infof("ollama endpoint: %s", cfg.Ollama.URL())

	var store promptcache.VectorStore
	if cfg.Qdrant.Enabled() {
		qdrantStore, err := promptcache.NewQdrantStore(promptcache.QdrantConfig{
			Host: cfg.Qdrant.Host,
			Port: cfg.Qdrant.Port,
		})
		if err != nil {
			log.Warnf("qdrant not available, L2 cache disabled: %v", err)
		} else {
			store = qdrantStore
		}
	}

	cache := promptcache.New(promptcache.Config{
		MaxSize:             cfg.Cache.MaxSize,
		SimilarityThreshold: float32(cfg.Cache.SimilarityThreshold),
	}, store, log)

	rules, err := enhance.LoadRuleSet(cfg.Router.EnhancementRulesPath)
	if err != nil {
		log.Fatalf("failed to load enhancement rules: %v", err)
	}
	enhancer := enhance.New(cfg.Ollama.URL(), rules, cache, log)

	serverConfigs, serverOrder, err := registry.LoadServerConfigs(cfg.Router.ServerConfigPath)
	if err != nil {
		log.Fatalf("failed to load server config: %v", err)
	}
	reg := registry.New(serverConfigs, serverOrder, log)

	startCtx, startCancel := context.WithTimeout(context.Background(), 30*time.Second)
	reg.Initialize(startCtx)
	startCancel()

	sessions := sse.NewManager(log)

	api := httpapi.New(reg, enhancer, sessions, log)

	srv := &http.Server{
		Addr:         cfg.Router.Host + ":" + strconv.Itoa(cfg.Router.Port),
		Handler:      api.Handler(),
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 0, // SSE connections are long-lived
		IdleTimeout:  120 * time.Second,
	}

	go func() {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatalf("server error: %v", err)
		}
	}()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, os.Interrupt, syscall.SIGTERM)
	<-stop

	log.Info("shutting down MCP router")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Errorf("graceful shutdown failed: %v", err)
	}
	if err := reg.Shutdown(); err != nil {
		log.Errorf("failed to stop backends: %v", err)
	}

	log.Info("MCP router shutdown complete")
}
