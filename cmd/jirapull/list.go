package main

import (
	"fmt"
	"sort"

	"github.com/spf13/cobra"
)

var projectsCmd = &cobra.Command{
	Use:   "projects",
	Short: "List projects visible to the authenticated user",
	RunE: func(cmd *cobra.Command, args []string) error {
		client, err := newClient()
		if err != nil {
			return err
		}

		projects, err := client.Projects(rootCtx)
		if err != nil {
			return withStage(err)
		}

		if jsonOutput {
			outputJSON(projects)
			return nil
		}
		for _, p := range projects {
			fmt.Printf("%-12s %s\n", p.Key, p.Name)
		}
		return nil
	},
}

var fieldsCmd = &cobra.Command{
	Use:   "fields",
	Short: "List custom field IDs and their display names",
	Long: `List the Jira instance's custom fields as ID -> display name pairs.
Use the output to populate custom_field_mapping in the config file.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		client, err := newClient()
		if err != nil {
			return err
		}

		fields, err := client.CustomFields(rootCtx)
		if err != nil {
			return withStage(err)
		}

		if jsonOutput {
			outputJSON(fields)
			return nil
		}
		ids := make([]string, 0, len(fields))
		for id := range fields {
			ids = append(ids, id)
		}
		sort.Strings(ids)
		for _, id := range ids {
			fmt.Printf("%-24s %s\n", id, fields[id])
		}
		return nil
	},
}

func init() {
	rootCmd.AddCommand(projectsCmd)
	rootCmd.AddCommand(fieldsCmd)
}
