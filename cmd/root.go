// Package cmd defines the CLI commands for the crawler executable.
package cmd

import (
	"context"
	"errors"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/JakeFAU/retail-variant-crawler/internal/app"
	"github.com/JakeFAU/retail-variant-crawler/internal/config"
)

// configKeyType is the key for storing the loaded Config in the context.
type configKeyType struct{}

// newRootCmd creates the root command. opts are passed to every app.Build,
// which lets tests swap the logger and metrics registry.
func newRootCmd(opts ...app.Option) *cobra.Command {
	var cfgFile string
	cmd := &cobra.Command{
		Use:   "variant-crawler",
		Short: "Explores every variant of retail product pages in a real browser.",
		Long: `variant-crawler opens product pages in Chrome, walks every combination
of the retailer's variant selectors (size, colour, material, ...) and emits one
record per distinct variant to the configured sinks.`,
		SilenceUsage: true,

		// Runs before every subcommand so they all see the same Config.
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := config.Load(cfgFile)
			if err != nil {
				return fmt.Errorf("load config: %w", err)
			}
			cmd.SetContext(context.WithValue(cmd.Context(), configKeyType{}, cfg))
			return nil
		},
	}

	cmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (YAML); CRAWLER_* environment variables override it")

	cmd.AddCommand(newExploreCmd(opts...))
	cmd.AddCommand(newServeCmd(opts...))
	return cmd
}

func configFrom(ctx context.Context) (config.Config, error) {
	cfg, ok := ctx.Value(configKeyType{}).(config.Config)
	if !ok {
		return config.Config{}, errors.New("configuration not loaded")
	}
	return cfg, nil
}

// Execute is the main entry point.
func Execute() {
	if err := newRootCmd().ExecuteContext(context.Background()); err != nil {
		os.Exit(1)
	}
}
