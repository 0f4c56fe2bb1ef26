package main

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/create-newspulse/newspulse-auth/internal/auth/metrics"
	"github.com/create-newspulse/newspulse-auth/internal/auth/store/drivers/sqlite"
	"github.com/create-newspulse/newspulse-auth/pkg/cryptox"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/cobra"
)

var (
	flagJSON     bool
	flagDatabase string
	flagPepper   string

	db *sqlite.Store
	// authctl is not scraped; the metrics only satisfy the services.
	mtr *metrics.Metrics
)

var rootCmd = &cobra.Command{
	Use:   "authctl",
	Short: "Operate the NewsPulse admin auth database",
	Long: `authctl manages admin identities and the authority lock directly
against the auth service database.

Examples:
  authctl bootstrap --email founder@newspulse.in
  authctl identity create --email desk@newspulse.in --role employee
  authctl identity suspend --email editor@newspulse.in
  authctl lockdown set --by founder@newspulse.in --reason "incident 42"`,
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		if cmd.Annotations["offline"] == "true" {
			cryptox.SetPepperPath(flagPepper)
			return nil
		}
		return openStore()
	},
	PersistentPostRunE: func(cmd *cobra.Command, args []string) error {
		if db != nil {
			return db.Close()
		}
		return nil
	},
}

func init() {
	rootCmd.PersistentFlags().BoolVar(&flagJSON, "json", false, "Output as JSON")
	rootCmd.PersistentFlags().StringVar(&flagDatabase, "db", envOr("AUTH_DATABASE_FILE", "auth.db"), "SQLite database file")
	rootCmd.PersistentFlags().StringVar(&flagPepper, "pepper", envOr("AUTH_PEPPER_FILE", "pepper"), "Password pepper file")
}

func openStore() error {
	cryptox.SetPepperPath(flagPepper)

	st, err := sqlite.NewStore(fmt.Sprintf("file:%s?_busy_timeout=5000&_journal_mode=WAL", flagDatabase))
	if err != nil {
		return fmt.Errorf("opening database: %w", err)
	}
	if err := st.ApplyMigrations(); err != nil {
		_ = st.Close()
		return fmt.Errorf("applying migrations: %w", err)
	}
	db = st

	m, err := metrics.New(prometheus.NewRegistry())
	if err != nil {
		return err
	}
	mtr = m
	return nil
}

// Execute runs the root command.
func Execute() error {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		return err
	}
	return nil
}

func printJSON(v any) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func envOr(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}
