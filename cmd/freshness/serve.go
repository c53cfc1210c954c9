package main

import (
	"os"
	"os/signal"
	"syscall"

	"github.com/franckalain/freshness/internal/server"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

var servePort string

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Serve the web front end and the websocket API",
	RunE: func(cmd *cobra.Command, args []string) error {
		if servePort != "" {
			cfg.Server.Port = servePort
		}

		ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
		defer stop()

		model, err := loadModel(ctx)
		if err != nil {
			return err
		}

		logger.Info("configuration loaded",
			zap.String("port", cfg.Server.Port),
			zap.String("static_dir", cfg.Server.StaticDir),
			zap.String("classifier", cfg.Classifier.Endpoint))

		return server.New(cfg, model, logger).Start(ctx)
	},
}

func init() {
	serveCmd.Flags().StringVarP(&servePort, "port", "p", "", "port to listen on (overrides config)")
}
