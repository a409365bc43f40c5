package main

import (
	"context"
	"encoding/json"
	"flag"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/kenny-assistant/kenny"
)

func main() {
	configPath := flag.String("config", "", "Path to config file (JSON)")
	port := flag.String("port", "8420", "Loopback port to listen on")
	flag.Parse()

	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: slog.LevelInfo,
	}))
	slog.SetDefault(logger)

	cfg := kenny.DefaultConfig()
	if *configPath != "" {
		f, err := os.Open(*configPath)
		if err != nil {
			logger.Error("opening config", "error", err)
			os.Exit(1)
		}
		if err := json.NewDecoder(f).Decode(&cfg); err != nil {
			f.Close()
			logger.Error("parsing config", "error", err)
			os.Exit(1)
		}
		f.Close()
	}

	// KENNY_DB_PATH is the only environment variable Kenny honors, per
	// spec.md §6; it is read inside Config.ResolveDBPath, not here.

	engine, err := kenny.New(cfg, kenny.Readers{}, logger)
	if err != nil {
		logger.Error("creating engine", "error", err)
		os.Exit(1)
	}
	defer engine.Close()

	h := newHandler(engine, logger)
	mux := http.NewServeMux()

	mux.HandleFunc("GET /status", h.handleStatus)
	mux.HandleFunc("POST /ingest", h.handleIngest)
	mux.HandleFunc("POST /search", h.handleSearch)
	mux.HandleFunc("POST /nl_query", h.handleNLQuery)
	mux.HandleFunc("GET /documents/{id}", h.handleFetchDocument)

	// Middleware chain: recovery -> logging -> mux. No corsMiddleware or
	// authMiddleware: Kenny is a loopback-only local assistant with no
	// multi-origin browser clients and no remote callers to authenticate,
	// and spec.md §6 permits exactly one environment variable, so there is
	// no GOREASON_API_KEY/GOREASON_CORS_ORIGINS-style override surface to
	// carry over.
	var handlerChain http.Handler = mux
	handlerChain = logMiddleware(logger, handlerChain)
	handlerChain = recoveryMiddleware(logger, handlerChain)

	addr := "127.0.0.1:" + *port
	srv := &http.Server{
		Addr:         addr,
		Handler:      handlerChain,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 0, // ingest responses can take a while
		IdleTimeout:  120 * time.Second,
	}

	done := make(chan os.Signal, 1)
	signal.Notify(done, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		logger.Info("kennyd starting", "addr", addr)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("server error", "error", err)
			os.Exit(1)
		}
	}()

	<-done
	logger.Info("shutting down kennyd...")

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := srv.Shutdown(ctx); err != nil {
		logger.Error("server shutdown error", "error", err)
	}

	logger.Info("kennyd stopped")
}
