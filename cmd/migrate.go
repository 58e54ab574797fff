package cmd

import (
	"fmt"
	"strconv"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/omu-rag/newsingest/internal/app"
	"github.com/omu-rag/newsingest/internal/logging"
	"github.com/omu-rag/newsingest/internal/storage/postgres"
)

// newMigrateCmd manages the Postgres schema. It only needs configuration, so
// it does not start the crawl services.
func newMigrateCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "migrate",
		Short: "Applies or rolls back the Postgres schema",
	}

	cmd.AddCommand(&cobra.Command{
		Use:         "up",
		Short:       "Applies all pending migrations",
		Annotations: map[string]string{"skipApp": "true"},
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := resolveConfig(cmd.Context())
			if err != nil {
				return err
			}
			logger, err := migrateLogger(cfg.Logging.Development)
			if err != nil {
				return err
			}
			defer func() { _ = logger.Sync() }()
			return postgres.MigrateUp(app.PostgresConfig(cfg.DB), logger)
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:         "down [steps]",
		Short:       "Rolls back migrations (one step by default)",
		Args:        cobra.MaximumNArgs(1),
		Annotations: map[string]string{"skipApp": "true"},
		RunE: func(cmd *cobra.Command, args []string) error {
			steps := 1
			if len(args) == 1 {
				n, err := strconv.Atoi(args[0])
				if err != nil || n <= 0 {
					return fmt.Errorf("steps must be a positive integer, got %q", args[0])
				}
				steps = n
			}
			cfg, err := resolveConfig(cmd.Context())
			if err != nil {
				return err
			}
			logger, err := migrateLogger(cfg.Logging.Development)
			if err != nil {
				return err
			}
			defer func() { _ = logger.Sync() }()
			return postgres.MigrateDown(app.PostgresConfig(cfg.DB), steps, logger)
		},
	})
	return cmd
}

func migrateLogger(development bool) (*zap.Logger, error) {
	return logging.New(logging.Config{Development: development, Stderr: true})
}
