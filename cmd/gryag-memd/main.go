// Package main provides the memory daemon: it keeps the episode
// lifecycle running (idle-window flushes, stale-episode archival) and
// exposes store health over HTTP.
package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/ThatHunky/gryag-sub000/internal/background"
	"github.com/ThatHunky/gryag-sub000/internal/config"
	"github.com/ThatHunky/gryag-sub000/internal/db"
	"github.com/ThatHunky/gryag-sub000/internal/llm"
	"github.com/ThatHunky/gryag-sub000/internal/metrics"
	"github.com/ThatHunky/gryag-sub000/internal/service"
)

func main() {
	wipeDB := flag.Bool("wipe", false, "wipe all data from database on startup (testing only)")
	flag.Parse()

	cfg := config.Load()
	if err := cfg.Validate(); err != nil {
		fmt.Fprintf(os.Stderr, "invalid configuration: %v\n", err)
		os.Exit(1)
	}

	logger, cleanup := config.SetupLogger(cfg.LogFile, cfg.LogLevel)
	slog.SetDefault(logger)
	defer func() {
		if err := cleanup(); err != nil {
			fmt.Fprintf(os.Stderr, "failed to close log file: %v\n", err)
		}
	}()

	port := os.Getenv("GRYAG_MEMD_PORT")
	if port == "" {
		port = "8585"
	}

	slog.Info("starting gryag-memd", "port", port)

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	dbClient, err := db.NewClient(ctx, db.Config{
		URL:       cfg.SurrealDBURL,
		Namespace: cfg.SurrealDBNamespace,
		Database:  cfg.SurrealDBDatabase,
		Username:  cfg.SurrealDBUser,
		Password:  cfg.SurrealDBPass,
		AuthLevel: cfg.SurrealDBAuthLevel,
	}, logger)
	if err != nil {
		slog.Error("failed to connect to database", "error", err)
		cancel()
		os.Exit(1)
	}
	if err := dbClient.InitSchema(ctx, cfg.EmbedDimension); err != nil {
		slog.Error("failed to initialize schema", "error", err)
		cancel()
		os.Exit(1)
	}
	cancel()
	defer func() {
		if err := dbClient.Close(context.Background()); err != nil {
			slog.Error("failed to close database", "error", err)
		}
	}()

	if *wipeDB || os.Getenv("GRYAG_WIPE_DB") == "true" {
		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		err := dbClient.WipeData(ctx)
		cancel()
		if err != nil {
			slog.Error("failed to wipe database", "error", err)
			os.Exit(1)
		}
		slog.Warn("wiped all memory data")
	}

	embedder, err := llm.NewEmbedder(cfg)
	if err != nil {
		slog.Error("failed to init embedder", "error", err)
		os.Exit(1)
	}
	summarizer, err := llm.NewSummarizer(cfg)
	if err != nil {
		slog.Error("failed to init summarizer", "error", err)
		os.Exit(1)
	}

	queue := background.NewQueue(cfg.QueueCapacity, 2)
	defer queue.Close()

	collector := metrics.NewCollector()
	episodes := service.NewEpisodeManager(dbClient, summarizer, embedder, queue, collector, cfg)

	// Lifecycle loops: flush idle conversation windows frequently,
	// archive stale episodes at the configured interval.
	loopCtx, stopLoops := context.WithCancel(context.Background())
	defer stopLoops()

	idleThreshold := 2 * time.Duration(cfg.EpisodeGapSeconds) * time.Second
	go func() {
		ticker := time.NewTicker(time.Minute)
		defer ticker.Stop()
		for {
			select {
			case <-loopCtx.Done():
				return
			case <-ticker.C:
				if created := episodes.FlushIdle(loopCtx, idleThreshold); created > 0 {
					slog.Info("flushed idle windows", "episodes_created", created)
				}
			}
		}
	}()

	go func() {
		ticker := time.NewTicker(cfg.EpisodeSweepInterval)
		defer ticker.Stop()
		for {
			select {
			case <-loopCtx.Done():
				return
			case <-ticker.C:
				archived, err := episodes.Sweep(loopCtx, 30, cfg.EpisodeMinImportance)
				if err != nil {
					slog.Warn("episode sweep failed", "error", err)
					continue
				}
				if archived > 0 {
					slog.Info("archived stale episodes", "count", archived)
				}
			}
		}
	}()

	mux := http.NewServeMux()
	mux.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		fmt.Fprintln(w, "ok")
	})
	mux.HandleFunc("/stats", func(w http.ResponseWriter, r *http.Request) {
		ctx, cancel := context.WithTimeout(r.Context(), 10*time.Second)
		defer cancel()
		stats, err := dbClient.CollectStats(ctx)
		if err != nil {
			http.Error(w, err.Error(), http.StatusInternalServerError)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(stats)
	})
	mux.HandleFunc("/metrics", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(collector.Snapshot())
	})

	httpServer := &http.Server{
		Addr:         ":" + port,
		Handler:      mux,
		ReadTimeout:  5 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  120 * time.Second,
	}

	go func() {
		slog.Info("health endpoint available", "url", fmt.Sprintf("http://localhost:%s/health", port))
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			slog.Error("server error", "error", err)
			os.Exit(1)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	slog.Info("shutting down...")
	stopLoops()

	// Flush every open window so in-progress topics are not lost.
	shutdownCtx, cancelShutdown := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancelShutdown()
	if created := episodes.FlushIdle(shutdownCtx, 0); created > 0 {
		slog.Info("flushed open windows at shutdown", "episodes_created", created)
	}

	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		slog.Error("server forced to shutdown", "error", err)
		os.Exit(1)
	}

	slog.Info("daemon stopped")
}
