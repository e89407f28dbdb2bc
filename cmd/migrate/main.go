package main

import (
	"database/sql"
	"fmt"
	"os"
	"time"

	"github.com/irfndi/SimpleFund/internal/auth"
	"github.com/irfndi/SimpleFund/internal/config"
	"github.com/irfndi/SimpleFund/internal/database"
	"github.com/irfndi/SimpleFund/internal/models"
	_ "github.com/lib/pq"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
)

func main() {
	if err := rootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}

func rootCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:          "simplefund-admin",
		Short:        "Schema and operator commands for SimpleFund",
		SilenceUsage: true,
	}

	cmd.AddCommand(
		cmdUp(),
		cmdDown(),
		cmdVersion(),
		cmdAutoMigrate(),
		cmdIssueToken(),
	)
	return cmd
}

func openPostgres(cfg *config.Config) (*sql.DB, error) {
	if cfg.Database.Driver == "sqlite" {
		return nil, fmt.Errorf("SQL migrations target postgres, use automigrate for sqlite")
	}
	db, err := sql.Open("postgres", cfg.Database.URL())
	if err != nil {
		return nil, err
	}
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("connect to database: %w", err)
	}
	return db, nil
}

func migrateCmd(use, short string, direction database.Direction) *cobra.Command {
	var steps int
	cmd := &cobra.Command{
		Use:   use,
		Short: short,
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load()
			if err != nil {
				return err
			}
			db, err := openPostgres(cfg)
			if err != nil {
				return err
			}
			defer db.Close()

			return database.RunMigrations(db, cfg.Database.MigrationsPath, direction, steps)
		},
	}
	cmd.Flags().IntVar(&steps, "steps", 0, "number of migrations to apply, 0 for all")
	return cmd
}

func cmdUp() *cobra.Command {
	return migrateCmd("up", "Apply pending migrations", database.Up)
}

func cmdDown() *cobra.Command {
	return migrateCmd("down", "Roll back migrations", database.Down)
}

func cmdVersion() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print the current schema version",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load()
			if err != nil {
				return err
			}
			db, err := openPostgres(cfg)
			if err != nil {
				return err
			}
			defer db.Close()

			version, dirty, err := database.MigrationVersion(db, cfg.Database.MigrationsPath)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "version=%d dirty=%t\n", version, dirty)
			return nil
		},
	}
}

func cmdAutoMigrate() *cobra.Command {
	return &cobra.Command{
		Use:   "automigrate",
		Short: "Create or update tables from the models (development and sqlite)",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load()
			if err != nil {
				return err
			}
			cfg.Database.AutoMigrate = true
			db, err := database.Open(cfg.Database)
			if err != nil {
				return err
			}
			if sqlDB, err := db.DB(); err == nil {
				defer sqlDB.Close()
			}
			logrus.WithField("driver", cfg.Database.Driver).Info("Schema is up to date")
			return nil
		},
	}
}

func cmdIssueToken() *cobra.Command {
	var (
		subject string
		role    string
		ttl     time.Duration
	)
	cmd := &cobra.Command{
		Use:   "issue-token",
		Short: "Sign a bearer token with the configured secret",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if !models.ValidRole(role) {
				return fmt.Errorf("unknown role %q", role)
			}
			cfg, err := config.Load()
			if err != nil {
				return err
			}
			token, err := auth.NewAuthMiddleware(cfg.Auth).IssueToken(subject, role, ttl)
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), token)
			return nil
		},
	}
	cmd.Flags().StringVar(&subject, "sub", "", "token subject")
	cmd.Flags().StringVar(&role, "role", models.RoleInvestor, "INVESTOR, MANAGER or ADMIN")
	cmd.Flags().DurationVar(&ttl, "ttl", time.Hour, "token lifetime")
	_ = cmd.MarkFlagRequired("sub")
	return cmd
}
