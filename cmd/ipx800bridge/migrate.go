package main

import (
	"fmt"
	"io"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/nerrad567/ipx800-bridge/internal/infrastructure/config"
	"github.com/nerrad567/ipx800-bridge/internal/infrastructure/database"
	"github.com/nerrad567/ipx800-bridge/migrations"
)

func newMigrateCommand() *cobra.Command {
	var configPath string

	cmd := &cobra.Command{
		Use:   "migrate",
		Short: "Manage the audit database schema",
	}
	cmd.PersistentFlags().StringVarP(&configPath, "config", "c", "", "config file (default $"+configEnv+" or "+defaultConfigPath+")")

	withDB := func(fn func(cmd *cobra.Command, db *database.DB, schema database.Schema) error) func(*cobra.Command, []string) error {
		return func(cmd *cobra.Command, _ []string) error {
			cfg, err := config.Load(resolveConfigPath(configPath))
			if err != nil {
				return fmt.Errorf("loading config: %w", err)
			}
			if !cfg.Database.Enabled {
				return fmt.Errorf("database is disabled in configuration")
			}
			schema, err := migrations.Schema()
			if err != nil {
				return fmt.Errorf("loading migrations: %w", err)
			}
			db, err := database.Open(database.FromConfig(cfg.Database))
			if err != nil {
				return fmt.Errorf("opening database: %w", err)
			}
			defer db.Close() //nolint:errcheck // read-mostly CLI session
			return fn(cmd, db, schema)
		}
	}

	cmd.AddCommand(
		&cobra.Command{
			Use:   "status",
			Short: "List schema versions and when they were applied",
			RunE: withDB(func(cmd *cobra.Command, db *database.DB, schema database.Schema) error {
				status, err := db.Status(cmd.Context(), schema)
				if err != nil {
					return err
				}
				return writeMigrationStatus(cmd.OutOrStdout(), status)
			}),
		},
		&cobra.Command{
			Use:   "up",
			Short: "Apply pending schema versions",
			RunE: withDB(func(cmd *cobra.Command, db *database.DB, schema database.Schema) error {
				n, err := db.Migrate(cmd.Context(), schema)
				if err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "applied %d migration(s)\n", n)
				return nil
			}),
		},
		&cobra.Command{
			Use:   "down",
			Short: "Revert the most recent schema version",
			RunE: withDB(func(cmd *cobra.Command, db *database.DB, schema database.Schema) error {
				st, err := db.Rollback(cmd.Context(), schema)
				if err != nil {
					return err
				}
				if st.Version == "" {
					fmt.Fprintln(cmd.OutOrStdout(), "nothing to roll back")
					return nil
				}
				fmt.Fprintf(cmd.OutOrStdout(), "rolled back %s_%s\n", st.Version, st.Name)
				return nil
			}),
		},
	)
	return cmd
}

func writeMigrationStatus(w io.Writer, status []database.StepStatus) error {
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "VERSION\tNAME\tAPPLIED")
	for _, s := range status {
		applied := "pending"
		if s.AppliedAt != nil {
			applied = s.AppliedAt.Format(time.RFC3339)
		}
		fmt.Fprintf(tw, "%s\t%s\t%s\n", s.Version, s.Name, applied)
	}
	return tw.Flush()
}
