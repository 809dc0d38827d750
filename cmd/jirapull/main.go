// jirapull extracts issue data from a Jira Server REST API into a local
// SQLite database file for analysis.
package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/fatih/color"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/agiledata/jirapull/internal/configfile"
	"github.com/agiledata/jirapull/internal/extract"
	"github.com/agiledata/jirapull/internal/jira"
	"github.com/agiledata/jirapull/internal/logger"
	"github.com/agiledata/jirapull/internal/storage/sqlite"
)

var (
	verboseFlag bool
	jsonOutput  bool

	// Signal-aware context for graceful cancellation between pages.
	rootCtx    context.Context
	rootCancel context.CancelFunc

	log zerolog.Logger
)

var rootCmd = &cobra.Command{
	Use:   "jirapull",
	Short: "Extract Jira Server issues into a local SQLite database",
	Long: `jirapull pulls issue data from a Jira Server REST v2 API and loads it
into a local SQLite database file, with incremental extraction and an
append-only audit log of completed runs.

Credentials and connection settings can also be supplied through the
environment: JIRA_URL, JIRA_TOKEN, JIRA_USERNAME, JIRA_PASSWORD, JIRA_DB.`,
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRun: func(cmd *cobra.Command, args []string) {
		log = logger.New(verboseFlag)
	},
}

func init() {
	pf := rootCmd.PersistentFlags()
	pf.String("url", "", "Jira Server base URL")
	pf.String("token", "", "Jira personal access token (bearer auth)")
	pf.String("username", "", "Jira username (basic auth)")
	pf.String("password", "", "Jira password (basic auth)")
	pf.String("db", "jira_data.db", "path to the SQLite database file")
	pf.String("config", configfile.DefaultFileName, "path to the JSON extraction config")
	pf.Duration("timeout", jira.DefaultTimeout, "per-request HTTP timeout")
	pf.BoolVarP(&verboseFlag, "verbose", "v", false, "enable debug logging")
	pf.BoolVar(&jsonOutput, "json", false, "machine-readable output")

	viper.SetEnvPrefix("JIRA")
	viper.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	viper.AutomaticEnv()
	for _, name := range []string{"url", "token", "username", "password", "db", "config", "timeout"} {
		_ = viper.BindPFlag(name, pf.Lookup(name))
	}
}

func main() {
	rootCtx, rootCancel = signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer rootCancel()

	if err := rootCmd.Execute(); err != nil {
		color.New(color.FgRed).Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

// newClient builds the Jira client from flags and environment.
func newClient() (*jira.Client, error) {
	client, err := jira.NewClient(
		viper.GetString("url"),
		viper.GetString("token"),
		viper.GetString("username"),
		viper.GetString("password"),
		viper.GetDuration("timeout"),
		log,
	)
	if err != nil {
		return nil, fmt.Errorf("auth: %w", err)
	}
	return client, nil
}

func openStore() (*sqlite.Store, error) {
	store, err := sqlite.New(viper.GetString("db"))
	if err != nil {
		return nil, fmt.Errorf("persist: %w", err)
	}
	return store, nil
}

func loadConfig() (*configfile.Config, error) {
	return configfile.Load(viper.GetString("config"))
}

// withStage prefixes a pipeline error with the stage it failed in, so the
// user can tell a credentials problem from a flaky server or bad data.
func withStage(err error) error {
	if err == nil {
		return nil
	}

	var authErr *jira.AuthError
	var notFoundErr *jira.NotFoundError
	var transientErr *jira.TransientError
	var protocolErr *jira.ProtocolError
	var normErr *jira.NormalizationError
	var optsErr *extract.OptionsError

	switch {
	case errors.As(err, &optsErr):
		return fmt.Errorf("config: %w", err)
	case errors.As(err, &authErr):
		return fmt.Errorf("auth: %w", err)
	case errors.As(err, &normErr):
		return fmt.Errorf("normalize: %w", err)
	case errors.As(err, &notFoundErr), errors.As(err, &transientErr), errors.As(err, &protocolErr):
		return fmt.Errorf("fetch: %w", err)
	}
	return err
}

func outputJSON(v interface{}) {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	_ = enc.Encode(v)
}
