package main

import (
	"context"
	"fmt"
	"os"

	"github.com/franckalain/freshness/internal/config"
	"github.com/franckalain/freshness/internal/logging"
	"github.com/franckalain/freshness/internal/ml"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

var (
	// Global flags
	configPath string
	verbose    bool

	cfg    *config.Config
	logger *zap.Logger
)

var rootCmd = &cobra.Command{
	Use:   "freshness",
	Short: "Food freshness detection and food safety assistant",
	Long: `freshness checks whether fruit and vegetables in a photo look fresh or rotten.

Images are sent to an external classifier service. The server command exposes
the upload flow and the food safety assistant to browsers over a websocket;
the other commands use the same pieces from the terminal.`,
	SilenceUsage: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		var err error
		cfg, err = config.LoadConfig(configPath)
		if err != nil {
			return fmt.Errorf("failed to load configuration: %w", err)
		}
		logger, err = logging.New(verbose || cfg.Server.Debug)
		if err != nil {
			return err
		}
		return nil
	},
	PersistentPostRun: func(cmd *cobra.Command, args []string) {
		if logger != nil {
			_ = logger.Sync()
		}
	},
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", config.GetConfigPath(), "path to configuration file (JSON or YAML)")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "enable debug logging")

	rootCmd.AddCommand(serveCmd)
	rootCmd.AddCommand(detectCmd)
	rootCmd.AddCommand(healthCmd)
	rootCmd.AddCommand(askCmd)
	rootCmd.AddCommand(chatCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

// loadModel builds the configured classifier client
func loadModel(ctx context.Context) (ml.Model, error) {
	model, err := ml.NewModel(cfg.Classifier.Type, ml.RemoteConfigFrom(cfg), logger)
	if err != nil {
		return nil, fmt.Errorf("failed to create classifier: %w", err)
	}
	if err := model.Load(ctx); err != nil {
		return nil, fmt.Errorf("failed to load classifier: %w", err)
	}
	return model, nil
}
