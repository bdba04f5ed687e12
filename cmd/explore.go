package cmd

import (
	"encoding/json"
	"errors"
	"fmt"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/JakeFAU/retail-variant-crawler/internal/app"
	"github.com/JakeFAU/retail-variant-crawler/internal/crawler"
)

// newExploreCmd explores the given product URLs once and exits.
func newExploreCmd(opts ...app.Option) *cobra.Command {
	var (
		limit   int
		workers int
	)
	cmd := &cobra.Command{
		Use:   "explore URL [URL...]",
		Short: "Explore the variants of one or more product pages and exit",
		Long: `Explores each product URL with the configured retailers and sinks. One
JSON outcome per product is written to stdout as it finishes. The command
fails when any product does not finish cleanly.`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if limit < 0 {
				return errors.New("--limit must be >= 0")
			}
			cfg, err := configFrom(cmd.Context())
			if err != nil {
				return err
			}
			if workers > 0 {
				cfg.Crawler.Workers = workers
			}

			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			a, err := app.Build(ctx, cfg, opts...)
			if err != nil {
				return fmt.Errorf("build app: %w", err)
			}
			defer a.Close(cmd.Context())

			outcomes, err := a.Explore(ctx, args, limit)
			if err != nil {
				return fmt.Errorf("explore: %w", err)
			}

			enc := json.NewEncoder(cmd.OutOrStdout())
			failed := 0
			for _, o := range outcomes {
				if err := enc.Encode(o); err != nil {
					return fmt.Errorf("write outcome: %w", err)
				}
				if o.Status != crawler.ProductStatusDone {
					failed++
				}
			}
			a.Logger().Info("explore finished",
				zap.Int("products", len(outcomes)),
				zap.Int("failed", failed),
			)
			if failed > 0 {
				return fmt.Errorf("%d of %d products did not finish", failed, len(args))
			}
			return nil
		},
	}
	cmd.Flags().IntVar(&limit, "limit", 0, "maximum variants to emit per product (0 = unbounded)")
	cmd.Flags().IntVar(&workers, "workers", 0, "override crawler.workers")
	return cmd
}
