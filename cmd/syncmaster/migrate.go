package main

import (
	"context"
	"errors"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/justestif/syncmaster/internal/config"
	"github.com/justestif/syncmaster/internal/db"
)

var migrateCmd = &cobra.Command{
	Use:   "migrate [up|down|version]",
	Short: "Manage the Postgres schema",
	Long: `Apply, roll back or report the database migrations. With --seed the static
briefs and directory are loaded after migrating up.`,
	Args:      cobra.MaximumNArgs(1),
	ValidArgs: []string{"up", "down", "version"},
	RunE:      runMigrate,
}

func init() {
	migrateCmd.Flags().Bool("seed", false, "load seed briefs and directory entries")
	rootCmd.AddCommand(migrateCmd)
}

func runMigrate(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load(v)
	if err != nil {
		return err
	}
	if cfg.DatabaseURL == "" {
		return errors.New("database_url is required (set SYNCMASTER_DATABASE_URL)")
	}

	action := "up"
	if len(args) == 1 {
		action = args[0]
	}

	switch action {
	case "up":
		if err := db.Migrate(cfg.DatabaseURL); err != nil {
			return err
		}
		fmt.Println("Migrations applied")
	case "down":
		if err := db.Rollback(cfg.DatabaseURL); err != nil {
			return err
		}
		fmt.Println("Rolled back one migration")
	case "version":
		version, dirty, err := db.MigrationVersion(cfg.DatabaseURL)
		if err != nil {
			return err
		}
		fmt.Printf("Schema version %d (dirty: %t)\n", version, dirty)
		return nil
	default:
		return fmt.Errorf("unknown migrate action %q", action)
	}

	seed, _ := cmd.Flags().GetBool("seed")
	if !seed || action != "up" {
		return nil
	}

	ctx := context.Background()
	database, err := db.New(ctx, cfg.DatabaseURL)
	if err != nil {
		return err
	}
	defer database.Close()

	if err := database.RowStore().Seed(ctx); err != nil {
		return fmt.Errorf("seeding: %w", err)
	}
	fmt.Println("Seed data loaded")
	return nil
}
