package main

import (
	"fmt"
	"time"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/agiledata/jirapull/internal/extract"
	"github.com/agiledata/jirapull/internal/timeparsing"
)

var (
	extractProject     string
	extractStartDate   string
	extractEndDate     string
	extractIncremental bool
)

var extractCmd = &cobra.Command{
	Use:   "extract",
	Short: "Extract issues from a Jira project into the database",
	Long: `Extract issues from one Jira project and upsert them into the local
database. With --incremental, only issues updated since the last completed
run for the project are fetched; with --start-date/--end-date, issues
created in that inclusive range. The two modes are mutually exclusive.

Date flags accept absolute dates (2024-01-15), compact durations relative
to now (2w = two weeks ago), and natural language ("last monday").`,
	RunE: func(cmd *cobra.Command, args []string) error {
		now := time.Now()
		var start, end *time.Time
		if extractStartDate != "" {
			t, err := timeparsing.ParseDate(extractStartDate, now)
			if err != nil {
				return fmt.Errorf("config: --start-date: %w", err)
			}
			start = &t
		}
		if extractEndDate != "" {
			t, err := timeparsing.ParseDate(extractEndDate, now)
			if err != nil {
				return fmt.Errorf("config: --end-date: %w", err)
			}
			end = &t
		}

		client, err := newClient()
		if err != nil {
			return err
		}
		cfg, err := loadConfig()
		if err != nil {
			return fmt.Errorf("config: %w", err)
		}
		store, err := openStore()
		if err != nil {
			return err
		}
		defer func() { _ = store.Close() }()

		// Connection and credentials check before touching any data.
		info, err := client.Info(rootCtx)
		if err != nil {
			return withStage(err)
		}
		log.Info().
			Str("server", info.Version).
			Str("auth", client.AuthMethod()).
			Msg("connected to Jira")

		extractor := extract.New(client, store, cfg.CustomFieldMapping, cfg.Fields, log)
		summary, err := extractor.Run(rootCtx, extract.Options{
			ProjectKey:  extractProject,
			StartDate:   start,
			EndDate:     end,
			Incremental: extractIncremental,
		})
		if err != nil {
			return withStage(err)
		}

		if jsonOutput {
			outputJSON(summary)
			return nil
		}
		color.Green("Extracted %d issues from project %s in %s (%d pages)",
			summary.IssuesExtracted, summary.ProjectKey,
			summary.Elapsed.Round(time.Millisecond), summary.Pages)
		return nil
	},
}

func init() {
	extractCmd.Flags().StringVarP(&extractProject, "project", "p", "", "project key to extract (required)")
	_ = extractCmd.MarkFlagRequired("project")
	extractCmd.Flags().StringVar(&extractStartDate, "start-date", "", "only issues created on or after this date")
	extractCmd.Flags().StringVar(&extractEndDate, "end-date", "", "only issues created on or before this date")
	extractCmd.Flags().BoolVar(&extractIncremental, "incremental", false, "only issues updated since the last completed run")
	rootCmd.AddCommand(extractCmd)
}
