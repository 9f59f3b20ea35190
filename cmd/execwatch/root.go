package main

import (
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/kandev/execwatch/internal/common/config"
	"github.com/kandev/execwatch/internal/common/logger"
	"github.com/kandev/execwatch/internal/tracing"
)

// version is set at build time with -ldflags "-X main.version=...".
var version = "dev"

var rootCmd = &cobra.Command{
	Use:   "execwatch",
	Short: "Execution state reconciliation and tool approval client",
	Long: `execwatch follows a multi-agent execution through the orchestrator's push
channel, keeps one consistent view of its state alongside stored snapshots,
and lets a human approve, deny or reset individual tool calls.

Running 'execwatch' without a subcommand is equivalent to 'execwatch serve'.`,
	Version:       version,
	SilenceUsage:  true,
	SilenceErrors: true,
	RunE: func(cmd *cobra.Command, args []string) error {
		return serveCmd.RunE(cmd, args)
	},
}

func init() {
	rootCmd.AddCommand(serveCmd)
	rootCmd.AddCommand(historyCmd)
	rootCmd.AddCommand(exportCmd)

	rootCmd.PersistentFlags().StringP("config", "c", "", "Directory containing config.yaml (default: ., /etc/execwatch)")
}

// Execute runs the root command
func Execute() error {
	return rootCmd.Execute()
}

// loadConfig reads configuration and builds the process logger.
func loadConfig(cmd *cobra.Command) (*config.Config, *logger.Logger, error) {
	path, _ := cmd.Flags().GetString("config")
	cfg, err := config.LoadWithPath(path)
	if err != nil {
		return nil, nil, err
	}
	log, err := logger.NewLogger(logger.LoggingConfig{
		Level:      cfg.Logging.Level,
		Format:     cfg.Logging.Format,
		OutputPath: cfg.Logging.OutputPath,
	})
	if err != nil {
		return nil, nil, err
	}
	logger.SetDefault(log)
	if err := tracing.Configure(cfg.Tracing, version); err != nil {
		log.Warn("tracing disabled", zap.Error(err))
	}
	return cfg, log, nil
}
