// Package main is the entry point for the Nitro CLI.
// Nitro is a chat backend that answers with a local Ollama model when one is
// running and falls back to Gemini, keeping per-session conversation memory.
package main

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/charmbracelet/lipgloss"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/normanking/nitro/internal/config"
	"github.com/normanking/nitro/internal/logging"
)

var (
	cfgPath  string
	verbose  bool
	logLevel string

	cfg      *config.Config
	closeLog func() error
)

// skipConfig marks commands that must run before a config file exists.
const skipConfig = "skip-config"

var (
	titleStyle = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("#7D56F4"))
	labelStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("#888888"))
	okStyle    = lipgloss.NewStyle().Foreground(lipgloss.Color("#04B575"))
	errStyle   = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("#FF5F87"))
)

func main() {
	rootCmd := &cobra.Command{
		Use:   "nitro",
		Short: "Nitro - chat backend with local-first model routing",
		Long: `Nitro serves a chat API backed by a local Ollama model with a Gemini
fallback, and keeps conversation history per session.

Start the server:     nitro serve
One-shot question:    nitro ask "What is a goroutine?"
Inspect sessions:     nitro sessions list
Configuration:        nitro config show`,
		PersistentPreRunE:  initLogging,
		PersistentPostRunE: finishLogging,
		SilenceUsage:       true,
	}

	rootCmd.PersistentFlags().StringVar(&cfgPath, "config", "", "config file path (default ~/.nitro/config.yaml)")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "verbose output")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "", "log level override (debug, info, warn, error)")

	rootCmd.AddCommand(&cobra.Command{
		Use:   "version",
		Short: "Print version information",
		Annotations: map[string]string{
			skipConfig: "true",
		},
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Printf("%s v%s\n", config.AppName, config.Version)
		},
	})

	rootCmd.AddCommand(serveCmd())
	rootCmd.AddCommand(askCmd())
	rootCmd.AddCommand(detectCmd())
	rootCmd.AddCommand(sessionsCmd())
	rootCmd.AddCommand(statsCmd())
	rootCmd.AddCommand(configCmd())

	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

// initLogging loads the configuration and installs the global logger.
func initLogging(cmd *cobra.Command, args []string) error {
	if cmd.Annotations[skipConfig] != "" {
		closeLog, _ = logging.Setup(&logging.Config{Level: levelFor(config.Default())})
		return nil
	}

	loaded, err := config.LoadFromPath(getConfigPath())
	if err != nil {
		return err
	}
	if logLevel != "" {
		loaded.Logging.Level = logLevel
	}
	if err := loaded.Validate(); err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}
	cfg = loaded

	closeLog, err = logging.Setup(&logging.Config{
		Level:    levelFor(cfg),
		FilePath: cfg.Logging.File,
		Format:   cfg.Logging.Format,
	})
	if err != nil {
		return err
	}
	if verbose {
		logging.EnableVerbose()
	}

	log.Debug().Str("config", getConfigPath()).Str("backend", cfg.Storage.Backend).Msg("configuration loaded")
	return nil
}

func finishLogging(cmd *cobra.Command, args []string) error {
	if closeLog != nil {
		return closeLog()
	}
	return nil
}

func levelFor(c *config.Config) logging.Level {
	if verbose {
		return logging.LevelDebug
	}
	return logging.ParseLevel(c.Logging.Level)
}

func getConfigPath() string {
	if cfgPath != "" {
		return cfgPath
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return filepath.Join(".nitro", "config.yaml")
	}
	return filepath.Join(home, ".nitro", "config.yaml")
}

// ═══════════════════════════════════════════════════════════════════════════════
// CONFIG COMMANDS
// ═══════════════════════════════════════════════════════════════════════════════

func configCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "config",
		Short: "Manage configuration",
	}

	cmd.AddCommand(&cobra.Command{
		Use:   "show",
		Short: "Show current configuration",
		RunE: func(cmd *cobra.Command, args []string) error {
			apiKey := "not set"
			if cfg.Server.APIKey != "" {
				apiKey = "set"
			}
			cloudKey := "not set"
			if cfg.Cloud.APIKey != "" || os.Getenv("GEMINI_API_KEY") != "" {
				cloudKey = "set"
			}

			fmt.Println(titleStyle.Render("Nitro Configuration"))
			fmt.Println("───────────────────")
			row("Listen", cfg.Addr())
			row("API key", apiKey)
			row("Origins", strings.Join(cfg.Server.AllowedOrigins, ", "))
			row("Deployment", cfg.Deployment.Mode)
			row("Local model", cfg.Local.Model+" @ "+cfg.Local.Endpoint)
			row("Cloud models", strings.Join(cfg.Cloud.Models, ", "))
			row("Cloud key", cloudKey)
			row("Store", cfg.Storage.Backend+" ("+storeLocation()+")")
			row("Rate limit", fmt.Sprintf("%d/min", cfg.Limits.RateLimitPerMinute))
			row("Log level", cfg.Logging.Level)
			row("Log file", cfg.Logging.File)
			return nil
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "path",
		Short: "Show configuration file path",
		Annotations: map[string]string{
			skipConfig: "true",
		},
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Println(getConfigPath())
		},
	})

	var force bool
	initCmd := &cobra.Command{
		Use:   "init",
		Short: "Write a default configuration file",
		Annotations: map[string]string{
			skipConfig: "true",
		},
		RunE: func(cmd *cobra.Command, args []string) error {
			path := getConfigPath()
			if _, err := os.Stat(path); err == nil && !force {
				return fmt.Errorf("%s already exists (use --force to overwrite)", path)
			}
			if err := config.Default().SaveToPath(path); err != nil {
				return err
			}
			fmt.Println(okStyle.Render("Wrote " + path))
			return nil
		},
	}
	initCmd.Flags().BoolVar(&force, "force", false, "overwrite an existing file")
	cmd.AddCommand(initCmd)

	return cmd
}

func storeLocation() string {
	if cfg.Storage.Backend == "redis" {
		return cfg.Storage.RedisAddr
	}
	return cfg.StorePath()
}

func row(label, value string) {
	fmt.Printf("%s %s\n", labelStyle.Render(fmt.Sprintf("%-13s", label+":")), value)
}

func truncate(s string, maxLen int) string {
	r := []rune(s)
	if len(r) <= maxLen {
		return s
	}
	return string(r[:maxLen-3]) + "..."
}
