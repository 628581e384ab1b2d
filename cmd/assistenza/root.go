package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/richiesta-assistenza/service_layer/internal/app/runtime"
	"github.com/richiesta-assistenza/service_layer/internal/config"
)

var (
	configPath string
	cfg        *config.Config
)

func execute() error {
	root := newRootCmd()
	return root.Execute()
}

func newRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:           "assistenza",
		Short:         "Richiesta Assistenza service marketplace",
		SilenceUsage:  true,
		SilenceErrors: false,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			if configPath != "" {
				if err := os.Setenv("CONFIG_FILE", configPath); err != nil {
					return err
				}
			}
			loaded, err := config.Load()
			if err != nil {
				return fmt.Errorf("load config: %w", err)
			}
			cfg = loaded
			return nil
		},
	}
	root.PersistentFlags().StringVarP(&configPath, "config", "c", "", "YAML config file (overrides CONFIG_FILE)")

	root.AddCommand(serveCmd(), migrateCmd(), healthCheckCmd(), reportCmd())
	return root
}

// buildRuntime wires the application without starting the HTTP server.
func buildRuntime(ctx context.Context) (*runtime.Application, error) {
	return runtime.NewApplication(ctx, cfg)
}

func printJSON(cmd *cobra.Command, v interface{}) error {
	enc := json.NewEncoder(cmd.OutOrStdout())
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
