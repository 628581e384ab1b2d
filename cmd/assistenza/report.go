package main

import (
	"context"
	"fmt"
	"time"

	"github.com/spf13/cobra"
)

func reportCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "report",
		Short: "Health-check reports",
	}
	var from, to string
	generate := &cobra.Command{
		Use:   "generate",
		Short: "Render a PDF health report for a period (default last 7 days)",
		RunE: func(cmd *cobra.Command, args []string) error {
			start, err := parseDay(from)
			if err != nil {
				return fmt.Errorf("--from: %w", err)
			}
			end, err := parseDay(to)
			if err != nil {
				return fmt.Errorf("--to: %w", err)
			}

			application, err := buildRuntime(cmd.Context())
			if err != nil {
				return err
			}
			defer application.Shutdown(context.Background())

			record, err := application.App().Reports.Generate(cmd.Context(), start, end)
			if err != nil {
				return err
			}
			return printJSON(cmd, record)
		},
	}
	generate.Flags().StringVar(&from, "from", "", "period start (YYYY-MM-DD)")
	generate.Flags().StringVar(&to, "to", "", "period end (YYYY-MM-DD)")

	cmd.AddCommand(generate)
	return cmd
}

func parseDay(raw string) (time.Time, error) {
	if raw == "" {
		return time.Time{}, nil
	}
	return time.Parse("2006-01-02", raw)
}
