package main

import (
	"fmt"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/kandev/execwatch/internal/execution/repository"
)

var historyCmd = &cobra.Command{
	Use:   "history",
	Short: "List recent executions from durable storage",
	RunE: func(cmd *cobra.Command, _ []string) error {
		cfg, _, err := loadConfig(cmd)
		if err != nil {
			return err
		}
		limit, _ := cmd.Flags().GetInt("limit")

		repo, cleanup, err := repository.Provide(cfg.Database)
		if err != nil {
			return err
		}
		defer func() { _ = cleanup() }()

		list, err := repo.ListExecutions(cmd.Context(), limit)
		if err != nil {
			return err
		}
		w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
		fmt.Fprintln(w, "ID\tSTATUS\tCREATED\tTASK")
		for _, e := range list {
			fmt.Fprintf(w, "%s\t%s\t%s\t%s\n", e.ID, e.Status, e.CreatedAt.Format(time.RFC3339), e.TaskDescription)
		}
		return w.Flush()
	},
}

func init() {
	historyCmd.Flags().IntP("limit", "n", 20, "Maximum number of executions to list")
}
