package main

import (
	"context"
	"fmt"
	"time"

	log "github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"bashbook/config"
	"bashbook/storage"
)

const provisionTimeout = time.Minute

var initCmd = &cobra.Command{
	Use:   "init",
	Short: "Create the storage the server needs",
	Long: `Seed the data file with an empty list, or create the guests table and
the changes queue when the table backend is configured. Existing data is
left alone, so running init twice is safe.`,
	Args: cobra.NoArgs,
	RunE: runInit,
}

func init() {
	rootCmd.AddCommand(initCmd)
}

func runInit(cmd *cobra.Command, _ []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	logger := newLogger(cfg)
	logger.Info("storage init starting")

	ctx, cancel := context.WithTimeout(cmd.Context(), provisionTimeout)
	defer cancel()

	if err := provision(ctx, cfg, logger); err != nil {
		return err
	}
	logger.Info("storage init complete")
	return nil
}

func provision(ctx context.Context, cfg config.Config, logger *log.Logger) error {
	switch cfg.Backend {
	case config.BackendTable:
		ts, err := storage.NewTableStore(cfg.StorageConnectionString, cfg.GuestsTable, cfg.GuestList)
		if err != nil {
			return fmt.Errorf("create table client: %w", err)
		}
		if err := ts.EnsureTable(ctx); err != nil {
			return fmt.Errorf("create table %s: %w", cfg.GuestsTable, err)
		}
		logger.WithField("table", cfg.GuestsTable).Info("table ready")
	default:
		fs := storage.NewFileStore(cfg.DataFile)
		created, err := fs.EnsureFile(ctx)
		if err != nil {
			return fmt.Errorf("seed %s: %w", cfg.DataFile, err)
		}
		logger.WithFields(log.Fields{"path": fs.Path(), "created": created}).Info("data file ready")
	}

	if cfg.ChangesQueue != "" {
		if err := storage.EnsureQueue(ctx, cfg.StorageConnectionString, cfg.ChangesQueue); err != nil {
			return fmt.Errorf("create queue %s: %w", cfg.ChangesQueue, err)
		}
		logger.WithField("queue", cfg.ChangesQueue).Info("queue ready")
	}
	return nil
}
