// Package cli provides the command-line interface for inspecting and
// maintaining the memory store.
package cli

import (
	"context"
	"fmt"
	"os"

	"github.com/ThatHunky/gryag-sub000/internal/background"
	"github.com/ThatHunky/gryag-sub000/internal/cache"
	"github.com/ThatHunky/gryag-sub000/internal/config"
	"github.com/ThatHunky/gryag-sub000/internal/db"
	"github.com/ThatHunky/gryag-sub000/internal/llm"
	"github.com/ThatHunky/gryag-sub000/internal/metrics"
	"github.com/ThatHunky/gryag-sub000/internal/search"
	"github.com/ThatHunky/gryag-sub000/internal/service"
	"github.com/ThatHunky/gryag-sub000/internal/tokens"
	"github.com/spf13/cobra"
)

var (
	// Version is set at build time.
	Version = "0.1.0"

	// Global flags
	verbose bool

	// Global config and db client
	cfg      config.Config
	dbClient *db.Client

	// Lazy-initialized service graph
	svc *services
)

// services bundles the wired-up service layer for one CLI invocation.
// The LLM components are only initialized for commands that embed or
// summarize.
type services struct {
	embedder   *llm.Embedder
	summarizer *llm.Summarizer
	queue      *background.Queue
	trackQueue *background.Queue
	turnCache  *cache.TurnCache
	weights    *cache.WeightCache

	engine    *search.Engine
	facts     *service.FactManager
	episodes  *service.EpisodeManager
	assembler *service.Assembler
	recorder  *service.Recorder
}

// rootCmd represents the base command when called without any subcommands.
var rootCmd = &cobra.Command{
	Use:   "gryagmem",
	Short: "Conversational memory store",
	Long: `Gryagmem manages the retrieval and memory core of a group-chat
assistant: hybrid search over conversation history, a versioned fact
store, episodic memories, and budget-aware context assembly.

All commands operate directly on the SurrealDB backing store.`,
	Version: Version,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		// Skip DB connection for version and help commands
		if cmd.Name() == "version" || cmd.Name() == "help" {
			return nil
		}

		cfg = config.Load()
		if err := cfg.Validate(); err != nil {
			return fmt.Errorf("invalid configuration: %w", err)
		}

		ctx := context.Background()
		dbCfg := db.Config{
			URL:       cfg.SurrealDBURL,
			Namespace: cfg.SurrealDBNamespace,
			Database:  cfg.SurrealDBDatabase,
			Username:  cfg.SurrealDBUser,
			Password:  cfg.SurrealDBPass,
			AuthLevel: cfg.SurrealDBAuthLevel,
		}

		var err error
		dbClient, err = db.NewClient(ctx, dbCfg, nil)
		if err != nil {
			return fmt.Errorf("connect to database: %w", err)
		}

		if err := dbClient.InitSchema(ctx, cfg.EmbedDimension); err != nil {
			return fmt.Errorf("initialize schema: %w", err)
		}

		return nil
	},
	PersistentPostRun: func(cmd *cobra.Command, args []string) {
		if svc != nil {
			svc.close()
		}
		if dbClient != nil {
			if err := dbClient.Close(context.Background()); err != nil {
				fmt.Fprintf(os.Stderr, "Warning: failed to close database: %v\n", err)
			}
		}
	},
}

// getServices wires the service graph with lazy LLM initialization.
// Commands that embed or summarize pass requireLLM=true.
func getServices(ctx context.Context, requireLLM bool) (*services, error) {
	if svc == nil {
		turnCache, err := cache.NewTurnCache(1024, cfg.ImmediateSize, cfg.ImmediateCacheTTL)
		if err != nil {
			return nil, fmt.Errorf("init turn cache: %w", err)
		}
		weights, err := cache.NewWeightCache(1024, cfg.WeightCacheTTL)
		if err != nil {
			return nil, fmt.Errorf("init weight cache: %w", err)
		}
		svc = &services{
			queue: background.NewQueue(cfg.QueueCapacity, 2),
			// Episode tracking is order-sensitive, so it gets its own
			// single-worker queue.
			trackQueue: background.NewQueue(cfg.QueueCapacity, 1),
			turnCache:  turnCache,
			weights:    weights,
		}
	}

	if requireLLM && svc.embedder == nil {
		var err error
		svc.embedder, err = llm.NewEmbedder(cfg)
		if err != nil {
			return nil, fmt.Errorf("init embedder: %w", err)
		}
		svc.summarizer, err = llm.NewSummarizer(cfg)
		if err != nil {
			return nil, fmt.Errorf("init summarizer: %w", err)
		}
	}

	collector := metrics.NewCollector()
	estimator := tokens.NewHeuristic(cfg.MediaTokenCost)

	// Typed-nil guard: a nil *llm.Embedder must stay a nil interface so
	// commands that never embed can run without LLM configuration.
	var embedder service.Embedder
	var summarizer service.Summarizer
	var searchEmbedder search.Embedder
	if svc.embedder != nil {
		embedder = svc.embedder
		summarizer = svc.summarizer
		searchEmbedder = svc.embedder
	}

	svc.engine = search.NewEngine(dbClient, searchEmbedder, svc.weights, svc.queue, collector, cfg)
	svc.facts = service.NewFactManager(dbClient, embedder, collector, cfg)
	svc.episodes = service.NewEpisodeManager(dbClient, summarizer, embedder, svc.queue, collector, cfg)
	svc.assembler = service.NewAssembler(dbClient, svc.engine, svc.facts, svc.episodes, embedder, svc.turnCache, estimator, collector, cfg)
	svc.recorder = service.NewRecorder(dbClient, embedder, svc.turnCache, svc.episodes, svc.trackQueue)

	return svc, nil
}

// close drains the background queues and releases the caches.
func (s *services) close() {
	if s.queue != nil {
		s.queue.Close()
	}
	if s.trackQueue != nil {
		s.trackQueue.Close()
	}
	if s.turnCache != nil {
		s.turnCache.Close()
	}
	if s.weights != nil {
		s.weights.Close()
	}
}

// Execute adds all child commands to the root command and sets flags appropriately.
func Execute() error {
	return rootCmd.Execute()
}

func init() {
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "verbose output")

	rootCmd.AddCommand(recordCmd)
	rootCmd.AddCommand(searchCmd)
	rootCmd.AddCommand(contextCmd)
	rootCmd.AddCommand(factsCmd)
	rootCmd.AddCommand(episodesCmd)
	rootCmd.AddCommand(statsCmd)
	rootCmd.AddCommand(wipeCmd)
}
