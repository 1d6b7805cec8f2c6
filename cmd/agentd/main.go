package main

import (
	"context"
	"database/sql"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	_ "github.com/mattn/go-sqlite3"
	"github.com/rs/zerolog"

	"github.com/vutler/agentd/agent"
	"github.com/vutler/agentd/config"
	"github.com/vutler/agentd/identity"
	"github.com/vutler/agentd/llm"
	"github.com/vutler/agentd/llm/anthropic"
	"github.com/vutler/agentd/llm/openai"
	agentdlogger "github.com/vutler/agentd/logger"
	"github.com/vutler/agentd/memory"
	"github.com/vutler/agentd/migrations"
	"github.com/vutler/agentd/prompt"
	"github.com/vutler/agentd/runtime"
	"github.com/vutler/agentd/server"
	"github.com/vutler/agentd/tasks"
	"github.com/vutler/agentd/tools"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	// Best-effort; a missing .env is not an error.
	_ = godotenv.Load()

	var (
		configPath = flag.String("config", config.DefaultPath(), "Path to YAML config file")
		logFile    = flag.String("logfile", "", "Path to log file. If not set, logs to stdout")
		pretty     = flag.Bool("pretty", false, "Use pretty console output (only valid when logfile is not set)")
	)
	flag.Parse()

	if *logFile != "" && *pretty {
		return fmt.Errorf("--logfile and --pretty are mutually exclusive")
	}

	logger, err := agentdlogger.Init(*logFile, *pretty)
	if err != nil {
		return fmt.Errorf("failed to initialize logger: %w", err)
	}

	cfg, err := config.Load(*configPath)
	if err != nil {
		return fmt.Errorf("failed to load configuration: %w", err)
	}
	if cfg.LogFile != "" && *logFile == "" {
		logger, err = agentdlogger.Init(cfg.LogFile, false)
		if err != nil {
			return fmt.Errorf("failed to initialize logger: %w", err)
		}
	}

	logger.Info().
		Str("config", *configPath).
		Str("addr", cfg.Server.Addr).
		Str("db", cfg.Database.Path).
		Msg("agentd starting")

	if cfg.Anthropic.APIKey == "" {
		return fmt.Errorf("missing anthropic api_key (config file or ANTHROPIC_API_KEY)")
	}

	db, err := sql.Open("sqlite3", cfg.Database.Path)
	if err != nil {
		return fmt.Errorf("failed to open database: %w", err)
	}
	defer db.Close() //nolint:errcheck // No remedy for db close errors

	if err := migrations.RunMigrations(db, cfg.Database.MigrationsPath, logger); err != nil {
		return fmt.Errorf("failed to run migrations: %w", err)
	}

	memoryStore := memory.NewStore(db, logger)
	identityStore := identity.NewStore(db, logger)
	taskStore := tasks.NewStore(db, logger)

	assembler := prompt.NewAssembler(identityStore, memoryStore, taskStore, logger)

	anthropicClient, err := anthropic.NewClient(cfg.Anthropic.APIKey, logger)
	if err != nil {
		return fmt.Errorf("failed to create anthropic client: %w", err)
	}

	registry := tools.NewRegistry(logger)
	registry.RegisterMemoryTools(memoryStore)

	runtimeStrategy := agent.NewRuntimeStrategy(
		anthropicClient, assembler, registry, registry,
		cfg.Anthropic.Model, cfg.Anthropic.MaxTokens, logger)

	legacyStrategy, err := buildLegacyStrategy(cfg, anthropicClient, assembler, logger)
	if err != nil {
		return err
	}

	router := agent.NewRouter(identityStore, runtimeStrategy, legacyStrategy, logger)

	scheduler, err := runtime.NewScheduler(memoryStore, cfg.Memory.MaintenanceSchedule, cfg.Memory.DecayDays, logger)
	if err != nil {
		return fmt.Errorf("failed to create scheduler: %w", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	go scheduler.Start(ctx)
	logger.Info().Msg("Background maintenance scheduler started")

	srv := server.New(server.Config{
		Addr:        cfg.Server.Addr,
		TurnTimeout: time.Duration(cfg.Server.ChatTimeout) * time.Second,
	}, router, identityStore, memoryStore, logger)

	serverErr := make(chan error, 1)
	go func() {
		logger.Info().Str("addr", cfg.Server.Addr).Msg("Starting HTTP server")
		serverErr <- srv.Start()
	}()

	select {
	case <-ctx.Done():
		logger.Info().Msg("Received shutdown signal")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("server shutdown: %w", err)
		}
	case err := <-serverErr:
		if err != nil {
			return fmt.Errorf("server error: %w", err)
		}
	}
	return nil
}

// buildLegacyStrategy prefers the OpenAI-compatible endpoint when a key is
// configured, so the non-tool path can run on a separate provider. Without
// one it shares the Anthropic client with the runtime strategy.
func buildLegacyStrategy(cfg *config.Config, anthropicClient llm.Client, assembler *prompt.Assembler, logger zerolog.Logger) (*agent.LegacyStrategy, error) {
	if cfg.OpenAI.APIKey != "" {
		openaiClient, err := openai.NewClient(cfg.OpenAI.APIKey, cfg.OpenAI.BaseURL, cfg.OpenAI.Model, cfg.OpenAI.Organization)
		if err != nil {
			return nil, fmt.Errorf("failed to create openai client: %w", err)
		}
		logger.Info().Str("model", cfg.OpenAI.Model).Msg("Legacy strategy using OpenAI-compatible provider")
		return agent.NewLegacyStrategy(openaiClient, assembler, cfg.OpenAI.Model, cfg.Anthropic.MaxTokens, logger), nil
	}
	return agent.NewLegacyStrategy(anthropicClient, assembler, cfg.Anthropic.Model, cfg.Anthropic.MaxTokens, logger), nil
}
