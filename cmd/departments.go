package cmd

import (
	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/spf13/cobra"

	"github.com/omu-rag/newsingest/internal/crawler"
)

func newDepartmentsCmd() *cobra.Command {
	return &cobra.Command{
		Use:         "departments",
		Short:       "Lists the configured departments and their news listing URLs",
		Annotations: map[string]string{"skipApp": "true"},
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := resolveConfig(cmd.Context())
			if err != nil {
				return err
			}
			t := table.NewWriter()
			t.SetOutputMirror(cmd.OutOrStdout())
			t.SetStyle(table.StyleLight)
			t.AppendHeader(table.Row{"Department", "Base URL", "Listing Pages"})
			for _, d := range cfg.DepartmentList() {
				t.AppendRow(table.Row{d.ID, d.BaseURL, len(crawler.ListingURLs(d.BaseURL, cfg.Crawler.Pagination))})
			}
			t.Render()
			return nil
		},
	}
}
