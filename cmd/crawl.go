package cmd

import (
	"context"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/omu-rag/newsingest/internal/config"
)

// newCrawlCmd creates the 'crawl' subcommand, which runs one full crawl of
// every configured department and prints the summary table.
func newCrawlCmd() *cobra.Command {
	var pagination string

	cmd := &cobra.Command{
		Use:   "crawl",
		Short: "Crawls all departments once",
		Long: `Discovers article URLs on every department's news listing (plus the
requested number of paginated pages), then fetches, extracts and stores each
article together with its linked documents.`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			appInstance, err := resolveApp(cmd.Context())
			if err != nil {
				return err
			}
			logger := appInstance.Logger()

			depth := appInstance.Config().Crawler.Pagination
			if cmd.Flags().Changed("pagination") {
				n, warn := config.NormalizePagination(pagination)
				if warn != "" {
					logger.Warn("invalid pagination flag", zap.String("detail", warn))
				}
				depth = n
			}

			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			report := appInstance.Crawl(ctx, depth)
			report.Render(cmd.OutOrStdout())
			if ctx.Err() != nil {
				logger.Warn("crawl interrupted", zap.Error(context.Cause(ctx)))
			}
			logger.Info("crawl command finished", zap.Duration("duration", report.Duration()))
			return nil
		},
	}
	cmd.Flags().StringVar(&pagination, "pagination", "", "number of paginated listing pages to visit per department")
	return cmd
}
