package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/JakeFAU/retail-variant-crawler/internal/app"
)

// newServeCmd runs the HTTP API and worker pool until interrupted.
func newServeCmd(opts ...app.Option) *cobra.Command {
	var port int
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP API and crawl submitted products until interrupted",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := configFrom(cmd.Context())
			if err != nil {
				return err
			}
			if port > 0 {
				cfg.Server.Port = port
			}
			a, err := app.Build(cmd.Context(), cfg, opts...)
			if err != nil {
				return fmt.Errorf("build app: %w", err)
			}
			return a.Serve(cmd.Context())
		},
	}
	cmd.Flags().IntVar(&port, "port", 0, "override server.port")
	return cmd
}
