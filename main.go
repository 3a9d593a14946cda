package main

import (
	"os"

	log "github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"bashbook/config"
)

var configPath string

var rootCmd = &cobra.Command{
	Use:   "bashbook",
	Short: "Guest check-in list for the party door",
	Long: `BashBook keeps the guest list for a party door.

Run "bashbook serve" next to the data file to expose the list over HTTP,
then "bashbook tui" at the door to search, add, check in and remove guests.`,
	SilenceUsage: true,
}

func init() {
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "", "TOML config file (defaults to $"+config.EnvConfigPath+")")
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func loadConfig() (config.Config, error) {
	return config.Load(configPath)
}

// newLogger builds the process logger from cfg. Output goes to stderr.
func newLogger(cfg config.Config) *log.Logger {
	logger := log.New()
	logger.SetOutput(os.Stderr)
	if cfg.Debug {
		logger.SetLevel(log.DebugLevel)
	}
	if cfg.LogFormat == "json" {
		logger.SetFormatter(&log.JSONFormatter{})
	}
	return logger
}
