package main

import (
	"errors"
	"fmt"
	"log/slog"
	"os"

	"github.com/spf13/cobra"

	"github.com/lucialabs/lucia/internal/config"
	"github.com/lucialabs/lucia/internal/domain"
)

func main() {
	if err := rootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(exitCode(err))
	}
}

func rootCmd() *cobra.Command {
	var logLevel string

	root := &cobra.Command{
		Use:   "lucia",
		Short: "Lucía - intent resolution and action orchestration engine",
		Long: `Lucía resolves natural-language requests into catalog intents and
orchestrates the tool actions behind them. Classification combines
RAG retrieval over intent exemplars with a jury of LLM experts.`,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			var err error
			cfg, err = config.Load()
			if err != nil {
				return err
			}
			logger = newLogger(logLevel)
			slog.SetDefault(logger)
			return nil
		},
	}
	root.PersistentFlags().StringVar(&logLevel, "log-level", "info", "log level (debug|info|warn|error)")

	root.AddCommand(
		resolveCmd(),
		chatCmd(),
		serveCmd(),
		registryCmd(),
		configCmd(),
		versionCmd(),
	)
	return root
}

// exitCode maps error classes onto process exit codes: configuration
// problems are 3, input validation problems 2, everything else 1.
func exitCode(err error) int {
	var cfgErr *domain.ConfigurationError
	if errors.As(err, &cfgErr) {
		return 3
	}
	var valErr *domain.ValidationError
	if errors.As(err, &valErr) {
		return 2
	}
	return 1
}

func newLogger(level string) *slog.Logger {
	var l slog.Level
	switch level {
	case "debug":
		l = slog.LevelDebug
	case "warn":
		l = slog.LevelWarn
	case "error":
		l = slog.LevelError
	default:
		l = slog.LevelInfo
	}
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: l}))
}

// configCmd shows the effective configuration
func configCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "config",
		Short: "Show current configuration",
		RunE: func(cmd *cobra.Command, args []string) error {
			fmt.Println("LLM:")
			fmt.Printf("  URL:         %s\n", cfg.LLM.URL)
			fmt.Printf("  Model:       %s\n", cfg.LLM.Model)
			fmt.Printf("  Max Tokens:  %d\n", cfg.LLM.MaxTokens)
			fmt.Printf("  Temperature: %.2f\n", cfg.LLM.Temperature)
			fmt.Printf("  API Key:     %s\n", maskSecret(os.Getenv(cfg.LLM.APIKeyEnv)))
			fmt.Println()

			fmt.Println("Embedding:")
			fmt.Printf("  URL:        %s\n", cfg.Embedding.URL)
			fmt.Printf("  Model:      %s\n", cfg.Embedding.Model)
			fmt.Printf("  Dimensions: %d\n", cfg.Embedding.Dimensions)
			fmt.Println()

			fmt.Println("Classification:")
			fmt.Printf("  RAG examples:         %d\n", cfg.RAG.MaxExamples)
			fmt.Printf("  Confidence threshold: %.2f\n", cfg.RAG.ConfidenceThreshold)
			fmt.Printf("  Prompt strategy:      %s\n", cfg.RAG.PromptStrategy)
			fmt.Printf("  MoE enabled:          %t\n", cfg.MoE.Enabled)
			fmt.Printf("  MoE algorithm:        %s\n", cfg.MoE.Algorithm)
			fmt.Printf("  Debate rounds:        %d\n", cfg.MoE.DebateRounds)
			fmt.Println()

			fmt.Println("Registries:")
			fmt.Printf("  Intents: %s\n", cfg.Registries.IntentsPath)
			fmt.Printf("  Tools:   %s\n", cfg.Registries.ToolsPath)
			fmt.Printf("  Jury:    %s\n", cfg.Registries.JuryPath)
			fmt.Printf("  Watch:   %t\n", cfg.Registries.Watch)
			fmt.Println()

			fmt.Println("Database:")
			fmt.Printf("  PostgreSQL: %s\n", maskSecret(cfg.Database.PostgresURL))
			fmt.Println()

			fmt.Println("Environment variables:")
			fmt.Println("  LUCIA_LLM_URL, LUCIA_LLM_MODEL, LUCIA_LLM_API_KEY")
			fmt.Println("  LUCIA_EMBEDDING_URL, LUCIA_EMBEDDING_MODEL")
			fmt.Println("  LUCIA_POSTGRES_URL, LUCIA_SERVER_PORT")
			fmt.Println("  LUCIA_PROVIDER_<NAME>_URL for per-juror endpoints")
			return nil
		},
	}
}

func versionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Show version information",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Printf("Lucía %s\n", version)
			fmt.Printf("  Commit:     %s\n", commit)
			fmt.Printf("  Build Date: %s\n", buildDate)
		},
	}
}
