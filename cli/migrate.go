package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/justbri/shelfmark/database"
)

func NewMigrateCommand(rootOpts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Create or upgrade the database schema",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			db, dialect, err := database.Connect(rootOpts.Config())
			if err != nil {
				return err
			}
			defer db.Close()

			if err := database.RunMigrations(db, dialect); err != nil {
				return fmt.Errorf("failed to run migrations: %w", err)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Migrations applied (%s)\n", dialect)
			return nil
		},
	}
}

func NewSeedAdminCommand(rootOpts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "seed-admin",
		Short: "Create the admin account from ADMIN_USERNAME / ADMIN_PASSWORD",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg := rootOpts.Config()
			if cfg.Admin.Password == "" {
				return fmt.Errorf("ADMIN_PASSWORD is not set")
			}

			db, dialect, err := database.Connect(cfg)
			if err != nil {
				return err
			}
			defer db.Close()
			if err := database.RunMigrations(db, dialect); err != nil {
				return fmt.Errorf("failed to run migrations: %w", err)
			}

			created, err := database.SeedAdminUser(cmd.Context(), db, cfg.Admin)
			if err != nil {
				return err
			}
			if created {
				fmt.Fprintf(cmd.OutOrStdout(), "Admin user %q created\n", cfg.Admin.Username)
			} else {
				fmt.Fprintf(cmd.OutOrStdout(), "Admin user %q already exists\n", cfg.Admin.Username)
			}
			return nil
		},
	}
}
