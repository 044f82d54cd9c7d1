// Command examctl drives the exam verification flow against the biometric API
// without a browser, using artifacts read from files.
package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"

	"examgate/internal/platform/config"
	"examgate/internal/platform/logger"
)

var apiURL string

var rootCmd = &cobra.Command{
	Use:   "examctl",
	Short: "Drive biometric exam sessions from the command line",
	Long: `examctl logs a subject in against the biometric verification API, enrolls
reference templates, runs the start and end checkpoints with face and voice
files, and prints session reports. It uses the same state machine as the
gateway, so a refused step fails here exactly as it would in the browser.`,
	SilenceUsage: true,
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	err := rootCmd.ExecuteContext(ctx)
	stop()
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func init() {
	cobra.OnInitialize(initConfig)
	rootCmd.PersistentFlags().StringVar(&apiURL, "api", "", "Biometric API base URL (overrides BIOMETRIC_API_URL)")
}

func initConfig() {
	// .env file is optional, don't fail if not found
	_ = godotenv.Load()
}

// loadConfig reads the environment and applies command line overrides. Logs
// go to stderr so stdout stays a clean report.
func loadConfig() (config.Server, *slog.Logger, error) {
	if apiURL != "" {
		if err := os.Setenv("BIOMETRIC_API_URL", apiURL); err != nil {
			return config.Server{}, nil, err
		}
	}
	cfg, err := config.FromEnv()
	if err != nil {
		return config.Server{}, nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, logger.NewWithWriter(os.Stderr, cfg.LogLevel, "text"), nil
}
