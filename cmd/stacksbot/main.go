package main

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"stacksbot/internal/agent"
	"stacksbot/internal/arbiter"
	"stacksbot/internal/classifier"
	"stacksbot/internal/config"
	"stacksbot/internal/embedding"
	"stacksbot/internal/exemplar"
	"stacksbot/internal/logging"
	"stacksbot/internal/router"
	"stacksbot/internal/triage"
)

var (
	verbose    bool
	configPath string
	workspace  string
	asJSON     bool

	logger *zap.Logger
)

var rootCmd = &cobra.Command{
	Use:   "stacksbot",
	Short: "Intent classification and routing for the library help desk",
	Long: `stacksbot resolves student questions to intent categories by
nearest-neighbor search over an exemplar catalog, escalates thin margins
to an LLM arbiter, asks for clarification when that fails, and routes the
resolved category to a downstream agent.`,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		// A missing .env is fine; explicit environment wins anyway.
		_ = godotenv.Load()

		zcfg := zap.NewProductionConfig()
		if verbose {
			zcfg.Level = zap.NewAtomicLevelAt(zapcore.DebugLevel)
		}
		var err error
		logger, err = zcfg.Build()
		if err != nil {
			return fmt.Errorf("failed to initialize logger: %w", err)
		}
		return nil
	},
	PersistentPostRun: func(cmd *cobra.Command, args []string) {
		if logger != nil {
			_ = logger.Sync()
		}
		logging.CloseAll()
	},
	RunE: func(cmd *cobra.Command, args []string) error {
		return runChat(cmd.Context())
	},
}

var classifyCmd = &cobra.Command{
	Use:   "classify [question]",
	Short: "Classify a single question and print the routing outcome",
	Args:  cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		app, err := buildApp(cmd.Context())
		if err != nil {
			return err
		}
		defer app.Close()

		out := app.pipeline.Classify(cmd.Context(), "", strings.Join(args, " "))
		return printOutcome(out)
	},
}

var routeCmd = &cobra.Command{
	Use:   "route [category]",
	Short: "Print the routing decision for a category",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		decision := router.Route(args[0])
		return printJSON(decision)
	},
}

var chatCmd = &cobra.Command{
	Use:   "chat",
	Short: "Interactive line-oriented session against the triage pipeline",
	RunE: func(cmd *cobra.Command, args []string) error {
		return runChat(cmd.Context())
	},
}

var catalogCmd = &cobra.Command{
	Use:   "catalog",
	Short: "Exemplar catalog tooling",
}

var catalogValidateCmd = &cobra.Command{
	Use:   "validate",
	Short: "Validate the configured exemplar catalog",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		cat, err := exemplar.LoadCatalog(cfg.Catalog.Path)
		if err != nil {
			return err
		}
		if err := cat.Validate(); err != nil {
			return err
		}
		fmt.Printf("catalog ok: version=%s exemplars=%d categories=%d\n",
			cat.Version, len(cat.Exemplars), len(cat.Categories()))
		return nil
	},
}

var catalogStatsCmd = &cobra.Command{
	Use:   "stats",
	Short: "Print per-category exemplar counts",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		cat, err := exemplar.LoadCatalog(cfg.Catalog.Path)
		if err != nil {
			return err
		}
		counts := make(map[string]int)
		for _, ex := range cat.Exemplars {
			counts[ex.Category]++
		}
		for _, category := range cat.Categories() {
			fmt.Printf("%-30s %d\n", category, counts[category])
		}
		return nil
	},
}

// app bundles everything a command needs to run the pipeline.
type app struct {
	cfg      *config.Config
	index    *exemplar.Index
	watcher  *exemplar.CatalogWatcher
	pipeline *triage.Pipeline
	agents   *agent.Registry
}

func (a *app) Close() {
	if a.watcher != nil {
		a.watcher.Stop()
	}
	if a.index != nil {
		_ = a.index.Close()
	}
}

func loadConfig() (*config.Config, error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func buildApp(ctx context.Context) (*app, error) {
	cfg, err := loadConfig()
	if err != nil {
		return nil, err
	}

	if err := logging.Initialize(workspace, logging.Options{
		DebugMode:  verbose || cfg.Logging.DebugMode,
		Categories: cfg.Logging.Categories,
		Level:      cfg.Logging.Level,
		JSONFormat: cfg.Logging.JSONFormat,
	}); err != nil {
		return nil, err
	}
	logging.Boot("building app: provider=%s catalog=%s watch=%v",
		cfg.Embedding.Provider, cfg.Catalog.Path, cfg.Catalog.Watch)

	engine, err := embedding.NewEngine(embedding.Config{
		Provider:       cfg.Embedding.Provider,
		OllamaEndpoint: cfg.Embedding.OllamaEndpoint,
		OllamaModel:    cfg.Embedding.OllamaModel,
		GenAIAPIKey:    cfg.Embedding.GenAIAPIKey,
		GenAIModel:     cfg.Embedding.GenAIModel,
	})
	if err != nil {
		return nil, fmt.Errorf("embedding engine: %w", err)
	}

	cat, err := exemplar.LoadCatalog(cfg.Catalog.Path)
	if err != nil {
		return nil, fmt.Errorf("load catalog: %w", err)
	}
	if err := cat.Validate(); err != nil {
		return nil, fmt.Errorf("catalog invalid: %w", err)
	}
	store, err := exemplar.BuildMemoryStore(ctx, cat, engine)
	if err != nil {
		return nil, fmt.Errorf("build exemplar store: %w", err)
	}
	index := exemplar.NewIndex(store)
	logging.BootDebug("exemplar store ready: version=%s exemplars=%d", cat.Version, store.Len())

	// A persistent secondary index backs learned exemplars when a
	// database path is configured.
	var secondary *exemplar.Index
	if cfg.Catalog.DatabasePath != "" {
		sqlStore, err := exemplar.OpenSQLiteStore(cfg.Catalog.DatabasePath, engine.Dimensions())
		if err != nil {
			logger.Warn("sqlite exemplar store unavailable", zap.Error(err))
		} else {
			secondary = exemplar.NewIndex(sqlStore)
		}
	}

	var watcher *exemplar.CatalogWatcher
	if cfg.Catalog.Watch && cfg.Catalog.Path != "" {
		watcher, err = exemplar.NewCatalogWatcher(cfg.Catalog.Path, index, engine)
		if err != nil {
			logger.Warn("catalog watcher unavailable", zap.Error(err))
		} else if err := watcher.Start(ctx); err != nil {
			logger.Warn("catalog watcher failed to start", zap.Error(err))
			watcher = nil
		}
	}

	cls, err := classifier.New(engine, index, secondary, classifier.Config{
		TopK:           cfg.Classifier.TopK,
		MinSimilarity:  cfg.Classifier.MinSimilarity,
		PriorityWeight: cfg.Classifier.PriorityWeight,
		ActionBoost:    cfg.Classifier.ActionBoost,
		ParallelSearch: cfg.Classifier.ParallelSearch,
		EmbedTimeout:   cfg.GetEmbeddingTimeout(),
	})
	if err != nil {
		return nil, err
	}

	var arb triage.Arbiter
	if cfg.Arbiter.APIKey != "" {
		client := arbiter.NewGeminiClient(arbiter.GeminiConfig{
			APIKey:     cfg.Arbiter.APIKey,
			BaseURL:    cfg.Arbiter.BaseURL,
			Model:      cfg.Arbiter.Model,
			Timeout:    cfg.GetArbiterTimeout(),
			MaxRetries: cfg.Arbiter.MaxRetries,
		})
		arb = arbiter.New(client, arbiter.Config{DailyBudget: cfg.Arbiter.DailyBudget})
	} else {
		logger.Info("no arbiter API key configured, escalation disabled")
	}

	pipeline := triage.New(cls, arb, triage.Config{
		MarginThreshold:          cfg.Classifier.MarginThreshold,
		ConfidenceFloor:          cfg.Classifier.ConfidenceFloor,
		MaxReclassificationDepth: cfg.Classifier.MaxReclassificationDepth,
		SessionTTL:               cfg.GetSessionTTL(),
	})

	return &app{
		cfg:      cfg,
		index:    index,
		watcher:  watcher,
		pipeline: pipeline,
		agents:   agent.NewRegistry(),
	}, nil
}

// runChat is a line-oriented REPL over the pipeline. Clarification
// choices are picked by typing the choice id; anything else is treated as
// a question or as the detail a reclassification asked for.
func runChat(ctx context.Context) error {
	app, err := buildApp(ctx)
	if err != nil {
		return err
	}
	defer app.Close()

	ctx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	fmt.Println("stacksbot ready. Ask a question, or 'quit' to exit.")
	scanner := bufio.NewScanner(os.Stdin)
	sessionID := ""
	awaitingChoice := false
	awaitingDetails := false

	for {
		fmt.Print("> ")
		if !scanner.Scan() || ctx.Err() != nil {
			break
		}
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		if line == "quit" || line == "exit" {
			break
		}

		var out triage.Outcome
		switch {
		case awaitingChoice && strings.HasPrefix(line, "choice_"):
			out = app.pipeline.Resume(ctx, sessionID, line)
		case awaitingDetails:
			out = app.pipeline.ProvideDetails(ctx, sessionID, line)
		default:
			out = app.pipeline.Classify(ctx, sessionID, line)
		}
		sessionID = out.SessionID
		awaitingChoice = out.Clarification != nil
		awaitingDetails = out.Clarification == nil && out.Routing == nil && out.Message != ""

		if out.Message != "" {
			fmt.Println(out.Message)
		}
		if out.Clarification != nil {
			for _, c := range out.Clarification.Choices {
				fmt.Printf("  [%s] %s — %s\n", c.ID, c.Label, c.Description)
			}
			continue
		}
		if out.Routing != nil {
			if out.Routing.IsOutOfScope {
				fmt.Println("That one's outside what the library help desk covers.")
				continue
			}
			res, err := app.agents.Execute(ctx, *out.Routing, line)
			if err != nil {
				fmt.Printf("agent error: %v\n", err)
				continue
			}
			fmt.Printf("[%s] %s\n", out.Routing.PrimaryAgentID, res.Text)
		}
	}
	return scanner.Err()
}

func printOutcome(out triage.Outcome) error {
	if asJSON {
		return printJSON(out)
	}
	fmt.Printf("category:   %s\n", out.Result.Category)
	fmt.Printf("confidence: %.3f\n", out.Result.Confidence)
	if out.Result.Margin != nil {
		fmt.Printf("margin:     %.3f (vs %s)\n", *out.Result.Margin, out.Result.AlternativeCategory)
	}
	if out.Result.LLMUsed {
		fmt.Printf("arbiter:    %s\n", out.Result.LLMReasoning)
	}
	if out.Clarification != nil {
		fmt.Println("needs clarification:")
		for _, c := range out.Clarification.Choices {
			fmt.Printf("  [%s] %s\n", c.ID, c.Label)
		}
		return nil
	}
	if out.Routing != nil {
		fmt.Printf("agent:      %s\n", out.Routing.PrimaryAgentID)
	}
	return nil
}

func printJSON(v any) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return err
	}
	fmt.Println(string(data))
	return nil
}

func main() {
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "enable debug logging")
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "", "path to config file")
	rootCmd.PersistentFlags().StringVarP(&workspace, "workspace", "w", ".", "workspace directory for logs")
	classifyCmd.Flags().BoolVar(&asJSON, "json", false, "print the full outcome as JSON")

	catalogCmd.AddCommand(catalogValidateCmd, catalogStatsCmd)
	rootCmd.AddCommand(classifyCmd, routeCmd, chatCmd, catalogCmd)

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}
