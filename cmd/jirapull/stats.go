package main

import (
	"fmt"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/agiledata/jirapull/internal/storage/sqlite"
)

var statsProject string

var statsCmd = &cobra.Command{
	Use:   "stats",
	Short: "Summarize extracted issues in the database",
	Long: `Read-only summary of the local database: issue counts by status,
type and assignee, plus the most recent extraction runs. Does not talk
to Jira.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		store, err := openStore()
		if err != nil {
			return err
		}
		defer func() { _ = store.Close() }()

		total, err := store.IssueCount(rootCtx, statsProject)
		if err != nil {
			return err
		}
		byStatus, err := store.CountBy(rootCtx, "status", statsProject)
		if err != nil {
			return err
		}
		byType, err := store.CountBy(rootCtx, "issue_type", statsProject)
		if err != nil {
			return err
		}
		byAssignee, err := store.CountBy(rootCtx, "assignee", statsProject)
		if err != nil {
			return err
		}
		if len(byAssignee) > 10 {
			byAssignee = byAssignee[:10]
		}
		logs, err := store.RecentLogs(rootCtx, 5)
		if err != nil {
			return err
		}

		if jsonOutput {
			outputJSON(map[string]interface{}{
				"total":       total,
				"by_status":   byStatus,
				"by_type":     byType,
				"by_assignee": byAssignee,
				"recent_runs": logs,
			})
			return nil
		}

		header := color.New(color.Bold)
		if statsProject != "" {
			_, _ = header.Printf("Project %s: %d issues\n", statsProject, total)
		} else {
			_, _ = header.Printf("All projects: %d issues\n", total)
		}

		printGroup := func(title string, counts []sqlite.GroupCount) {
			if len(counts) == 0 {
				return
			}
			fmt.Printf("\n%s\n", title)
			for _, c := range counts {
				value := c.Value
				if value == "" {
					value = "(none)"
				}
				fmt.Printf("  %-30s %d\n", value, c.Count)
			}
		}
		printGroup("By status:", byStatus)
		printGroup("By type:", byType)
		printGroup("By assignee (top 10):", byAssignee)

		if len(logs) > 0 {
			fmt.Printf("\nRecent extraction runs:\n")
			for _, e := range logs {
				fmt.Printf("  %s  %-12s %6d issues\n",
					e.ExtractionTime.Format("2006-01-02 15:04:05"),
					e.ProjectKey, e.IssuesExtracted)
			}
		}
		return nil
	},
}

func init() {
	statsCmd.Flags().StringVarP(&statsProject, "project", "p", "", "limit to one project key")
	rootCmd.AddCommand(statsCmd)
}
