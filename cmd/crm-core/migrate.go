package main

import (
	"fmt"
	"strings"
	"text/tabwriter"

	"github.com/spf13/cobra"
	"gorm.io/gorm"

	"catalyzed-crm/internal/domain/kv"
	platformconfig "catalyzed-crm/internal/platform/config"
	platformstorage "catalyzed-crm/internal/platform/storage"
)

type migrateOptions struct {
	configPath    string
	disableDotEnv bool
}

// newMigrateCmd manages the SQLite schema used by the sqlite storage driver.
func newMigrateCmd() *cobra.Command {
	var opts migrateOptions

	cmd := &cobra.Command{
		Use:   "migrate",
		Short: "Inspect and manage the SQLite schema",
	}
	cmd.PersistentFlags().StringVarP(&opts.configPath, "config", "c", "", "config file (default is ./config.yaml)")
	cmd.PersistentFlags().BoolVar(&opts.disableDotEnv, "no-dotenv", false, "do not load variables from .env")

	cmd.AddCommand(
		&cobra.Command{
			Use:   "status",
			Short: "List applied migrations",
			Args:  cobra.NoArgs,
			RunE: func(cmd *cobra.Command, _ []string) error {
				return withDatabase(opts, platformstorage.Connect, func(db *gorm.DB) error {
					return printHistory(cmd, platformstorage.NewManager(db))
				})
			},
		},
		&cobra.Command{
			Use:   "up",
			Short: "Apply pending migrations",
			Args:  cobra.NoArgs,
			RunE: func(cmd *cobra.Command, _ []string) error {
				return withDatabase(opts, platformstorage.Open, func(db *gorm.DB) error {
					return printHistory(cmd, platformstorage.NewManager(db))
				})
			},
		},
		&cobra.Command{
			Use:   "down <version>",
			Short: "Roll back one applied migration",
			Args:  cobra.ExactArgs(1),
			RunE: func(cmd *cobra.Command, args []string) error {
				return withDatabase(opts, platformstorage.Connect, func(db *gorm.DB) error {
					if err := platformstorage.NewManager(db).RollbackMigration(args[0]); err != nil {
						return err
					}
					_, err := fmt.Fprintf(cmd.OutOrStdout(), "rolled back %s\n", args[0])
					return err
				})
			},
		},
	)
	return cmd
}

func withDatabase(opts migrateOptions, open func(string) (*gorm.DB, error), fn func(*gorm.DB) error) error {
	result, err := platformconfig.NewLoader().
		WithPath(opts.configPath).
		WithDotEnv(!opts.disableDotEnv).
		Load()
	if err != nil {
		return err
	}
	storage := result.Config.Storage
	if !strings.EqualFold(storage.Driver, kv.DriverSQLite) {
		return fmt.Errorf("storage driver %q has no schema; migrations need %q", storage.Driver, kv.DriverSQLite)
	}

	db, err := open(storage.SQLite.DSN)
	if err != nil {
		return err
	}
	if sqlDB, err := db.DB(); err == nil {
		defer sqlDB.Close()
	}
	return fn(db)
}

func printHistory(cmd *cobra.Command, manager *platformstorage.MigrationManager) error {
	history, err := manager.GetMigrationHistory()
	if err != nil {
		return err
	}
	out := cmd.OutOrStdout()
	if len(history) == 0 {
		_, err := fmt.Fprintln(out, "no migrations applied")
		return err
	}
	w := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "VERSION\tNAME\tAPPLIED")
	for _, record := range history {
		fmt.Fprintf(w, "%s\t%s\t%s\n", record.Version, record.Name, record.AppliedAt.Format("2006-01-02 15:04:05"))
	}
	return w.Flush()
}
