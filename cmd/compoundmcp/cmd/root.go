// Package cmd provides the CLI for the compoundmcp engine.
package cmd

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/compoundkb/compoundmcp/internal/activation"
	"github.com/compoundkb/compoundmcp/internal/chat"
	"github.com/compoundkb/compoundmcp/internal/config"
	"github.com/compoundkb/compoundmcp/internal/embed"
	"github.com/compoundkb/compoundmcp/internal/logging"
	"github.com/compoundkb/compoundmcp/internal/mcp"
	"github.com/compoundkb/compoundmcp/internal/store"
	"github.com/compoundkb/compoundmcp/pkg/version"
)

// NewRootCmd creates the root command. Running it with no subcommand
// starts the MCP server on stdio.
func NewRootCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "compoundmcp",
		Short: "Markdown knowledge-base indexing and retrieval MCP server",
		Long: `compoundmcp keeps a per-project corpus of markdown documents
continuously indexed into PostgreSQL/pgvector and serves semantic
search and retrieval-augmented generation over MCP stdio.

A client spawns the binary, calls activate_project, and the engine
watches the docs tree, embedding changes as they settle.`,
		Version:       version.Version,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			if len(args) > 0 {
				return cmd.Help()
			}
			return runServe(cmd)
		},
	}
	cmd.SetVersionTemplate("compoundmcp version {{.Version}}\n")

	defaults := config.NewEngine()
	flags := cmd.Flags()
	flags.String("postgres-host", defaults.PostgresHost, "PostgreSQL host")
	flags.Int("postgres-port", defaults.PostgresPort, "PostgreSQL port")
	flags.String("postgres-database", defaults.PostgresDatabase, "PostgreSQL database name")
	flags.String("postgres-user", defaults.PostgresUser, "PostgreSQL user")
	flags.String("postgres-password", defaults.PostgresPassword, "PostgreSQL password")
	flags.String("embedding-host", defaults.EmbeddingHost, "embedding/chat host")
	flags.Int("embedding-port", defaults.EmbeddingPort, "embedding/chat port")
	flags.String("embedding-model", defaults.EmbeddingModel, "embedding model name")
	flags.Int("embedding-dimensions", defaults.EmbeddingDimensions, "expected embedding vector width")
	flags.String("chat-model", defaults.ChatModel, "chat model for RAG answers")
	flags.Bool("skip-dimension-check", false, "skip startup dimension validation (emits a warning)")
	flags.String("log-level", defaults.LogLevel, "minimum log level (debug, info, warn, error)")
	flags.String("log-file", defaults.LogFile, "optional file receiving a JSON copy of the logs")

	cmd.AddCommand(newVersionCmd())
	return cmd
}

// buildEngineConfig resolves the engine configuration: defaults, then
// COMPOUNDMCP_* environment variables, then explicitly set flags.
func buildEngineConfig(cmd *cobra.Command) (*config.Engine, error) {
	eng := config.NewEngine()
	eng.ApplyEnvOverrides()

	flags := cmd.Flags()
	if flags.Changed("postgres-host") {
		eng.PostgresHost, _ = flags.GetString("postgres-host")
	}
	if flags.Changed("postgres-port") {
		eng.PostgresPort, _ = flags.GetInt("postgres-port")
	}
	if flags.Changed("postgres-database") {
		eng.PostgresDatabase, _ = flags.GetString("postgres-database")
	}
	if flags.Changed("postgres-user") {
		eng.PostgresUser, _ = flags.GetString("postgres-user")
	}
	if flags.Changed("postgres-password") {
		eng.PostgresPassword, _ = flags.GetString("postgres-password")
	}
	if flags.Changed("embedding-host") {
		eng.EmbeddingHost, _ = flags.GetString("embedding-host")
	}
	if flags.Changed("embedding-port") {
		eng.EmbeddingPort, _ = flags.GetInt("embedding-port")
	}
	if flags.Changed("embedding-model") {
		eng.EmbeddingModel, _ = flags.GetString("embedding-model")
	}
	if flags.Changed("embedding-dimensions") {
		eng.EmbeddingDimensions, _ = flags.GetInt("embedding-dimensions")
	}
	if flags.Changed("chat-model") {
		eng.ChatModel, _ = flags.GetString("chat-model")
	}
	if flags.Changed("skip-dimension-check") {
		eng.SkipDimensionCheck, _ = flags.GetBool("skip-dimension-check")
	}
	if flags.Changed("log-level") {
		eng.LogLevel, _ = flags.GetString("log-level")
	}
	if flags.Changed("log-file") {
		eng.LogFile, _ = flags.GetString("log-file")
	}

	if err := eng.Validate(); err != nil {
		return nil, err
	}
	return eng, nil
}

func runServe(cmd *cobra.Command) error {
	eng, err := buildEngineConfig(cmd)
	if err != nil {
		return err
	}

	// stdout carries MCP frames only; all logging goes to stderr and the
	// optional log file.
	logCfg := logging.DefaultConfig()
	logCfg.Level = eng.LogLevel
	logCfg.FilePath = eng.LogFile
	logger, logCleanup, err := logging.Setup(logCfg)
	if err != nil {
		return fmt.Errorf("logging setup: %w", err)
	}
	defer logCleanup()
	slog.SetDefault(logger)

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	st, err := store.NewStore(ctx, store.Config{
		DSN:        eng.PostgresDSN(),
		Dimensions: eng.EmbeddingDimensions,
	})
	if err != nil {
		return fmt.Errorf("connect to postgres: %w", err)
	}
	defer st.Close()
	if err := st.EnsureSchema(ctx); err != nil {
		return fmt.Errorf("ensure schema: %w", err)
	}

	embedder := embed.NewCachedEmbedder(embed.NewOllamaEmbedder(embed.OllamaConfig{
		Host:       eng.EmbeddingBaseURL(),
		Model:      eng.EmbeddingModel,
		Dimensions: eng.EmbeddingDimensions,
	}), embed.DefaultQueryCacheSize)
	defer func() { _ = embedder.Close() }()

	chatGen := chat.NewOllamaChat(chat.Config{
		Host:  eng.EmbeddingBaseURL(),
		Model: eng.ChatModel,
	})
	defer func() { _ = chatGen.Close() }()

	engine := activation.New(activation.Config{
		Store:    st,
		Embedder: embedder,
		Chat:     chatGen,
		Engine:   eng,
		LockDir:  defaultLockDir(),
		Logger:   logger,
	})
	defer engine.Shutdown(context.Background())

	server, err := mcp.NewServer(engine, logger)
	if err != nil {
		return err
	}

	logger.Info("engine starting",
		slog.String("version", version.Version),
		slog.String("postgres", fmt.Sprintf("%s:%d/%s", eng.PostgresHost, eng.PostgresPort, eng.PostgresDatabase)),
		slog.String("embedding_model", eng.EmbeddingModel),
		slog.String("chat_model", eng.ChatModel))

	return server.Run(ctx)
}

// defaultLockDir is where worktree flocks live. Falls back to the
// temp dir when the home directory cannot be resolved.
func defaultLockDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return filepath.Join(os.TempDir(), "compoundmcp", "locks")
	}
	return filepath.Join(home, ".compoundmcp", "locks")
}

// Execute runs the root command.
func Execute() error {
	root := NewRootCmd()
	if err := root.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		return err
	}
	return nil
}
