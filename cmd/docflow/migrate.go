package main

import (
	"errors"

	"github.com/spf13/cobra"

	"github.com/joseph-ayodele/docflow/internal/repository"
)

var migrateCmd = &cobra.Command{
	Use:   "migrate",
	Short: "Create or update the database tables",
	RunE:  runMigrate,
}

func init() {
	rootCmd.AddCommand(migrateCmd)
}

func runMigrate(cmd *cobra.Command, _ []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	logger := newLogger(cfg.LogLevel)

	var s *repository.Store
	switch {
	case cfg.Database.DSN != "":
		s, err = repository.Open(cmd.Context(), repository.ConfigFrom(cfg.Database), logger)
	case cfg.Database.SQLitePath != "":
		s, err = repository.OpenSQLite(cmd.Context(), cfg.Database.SQLitePath, logger)
	default:
		return errors.New("set database.dsn or database.sqlite_path")
	}
	if err != nil {
		return err
	}
	defer func() { _ = s.Close() }()

	if err := s.HealthCheck(cmd.Context(), cfg.Database.DialTimeout); err != nil {
		return err
	}
	if err := s.Migrate(cmd.Context()); err != nil {
		return err
	}
	cmd.Println("Database schema is up to date.")
	return nil
}
