// Package cli implements the medihelp command line.
package cli

import (
	"os"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"medihelp/internal/config"
	"medihelp/internal/logger"
)

// version is set at build time with -ldflags.
var version = "dev"

var configPath string

var rootCmd = &cobra.Command{
	Use:   "medihelp",
	Short: "Medical report extraction and chat assistant",
	Long: `MediHelp extracts the content of a medical report, scan or voice recording
with Gemini, lets you review it, and answers questions about it in a chat.

Run "medihelp serve" for the HTTP API and "medihelp session" to use it
from the terminal.`,
	SilenceUsage: true,
}

func init() {
	rootCmd.PersistentFlags().StringVar(&configPath, "config", os.Getenv("MEDIHELP_CONFIG"), "path to config.json")
}

// Execute runs the root command.
func Execute() error {
	return rootCmd.Execute()
}

func loadConfig() (*config.Config, *zap.Logger, error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, nil, err
	}
	log, err := logger.New(logger.Options{
		Level:       cfg.BasicConfig.LogLevel,
		Development: cfg.BasicConfig.Development,
		File:        cfg.BasicConfig.LogFile,
	})
	if err != nil {
		return nil, nil, err
	}
	return cfg, log, nil
}
