package main

import (
	"context"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	model "github.com/richiesta-assistenza/service_layer/internal/app/domain/healthcheck"
)

func healthCheckCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "healthcheck",
		Short: "Run module health checks",
	}
	var failUnhealthy bool
	run := &cobra.Command{
		Use:   "run [module]",
		Short: "Run the checks of one module or of all modules",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, cancel := context.WithTimeout(cmd.Context(), 2*time.Minute)
			defer cancel()

			application, err := buildRuntime(ctx)
			if err != nil {
				return err
			}
			defer application.Shutdown(context.Background())

			module := ""
			if len(args) == 1 {
				module = args[0]
			}
			results, err := application.App().Scheduler.RunManualCheck(ctx, module)
			if err != nil {
				return err
			}
			if err := printJSON(cmd, results); err != nil {
				return err
			}
			if failUnhealthy {
				for _, r := range results {
					if r.Status != model.StatusHealthy {
						return fmt.Errorf("module %s is %s (score %d)", r.Module, r.Status, r.Score)
					}
				}
			}
			return nil
		},
	}
	run.Flags().BoolVar(&failUnhealthy, "fail-unhealthy", false, "exit non-zero when a module is not healthy")

	modules := &cobra.Command{
		Use:   "modules",
		Short: "List the registered modules",
		RunE: func(cmd *cobra.Command, args []string) error {
			application, err := buildRuntime(cmd.Context())
			if err != nil {
				return err
			}
			defer application.Shutdown(context.Background())
			return printJSON(cmd, application.App().Health.Modules())
		},
	}

	cmd.AddCommand(run, modules)
	return cmd
}
