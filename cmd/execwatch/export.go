package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/kandev/execwatch/internal/execution/logs"
	"github.com/kandev/execwatch/internal/execution/repository"
)

var exportCmd = &cobra.Command{
	Use:   "export <execution-id>",
	Short: "Export a stored execution graph as YAML",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, _, err := loadConfig(cmd)
		if err != nil {
			return err
		}
		output, _ := cmd.Flags().GetString("output")
		withHistory, _ := cmd.Flags().GetBool("synthesize")

		repo, cleanup, err := repository.Provide(cfg.Database)
		if err != nil {
			return err
		}
		defer func() { _ = cleanup() }()

		g, err := repo.GetExecutionGraph(cmd.Context(), args[0])
		if err != nil {
			return err
		}
		if withHistory {
			g.Logs = logs.Merge(g.Logs, logs.Synthesize(g), nil, nil)
		}

		data, err := yaml.Marshal(g)
		if err != nil {
			return fmt.Errorf("failed to encode execution: %w", err)
		}
		if output == "" || output == "-" {
			_, err = cmd.OutOrStdout().Write(data)
			return err
		}
		return os.WriteFile(output, data, 0o644)
	},
}

func init() {
	exportCmd.Flags().StringP("output", "o", "", "Write to file instead of stdout")
	exportCmd.Flags().Bool("synthesize", false, "Add log entries derived from the graph")
}
