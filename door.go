package main

import (
	"fmt"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"bashbook/client"
	"bashbook/tui"
)

var (
	tuiURL     string
	tuiTimeout time.Duration
)

var tuiCmd = &cobra.Command{
	Use:   "tui",
	Short: "Run the door front-end in the terminal",
	Long: `Open the interactive guest list.

The front-end asks for the door password first, then shows the list.
Keys: / search, a add, space check in/out, d delete, r reload, q quit.`,
	Args: cobra.NoArgs,
	RunE: runTUI,
}

func init() {
	tuiCmd.Flags().StringVar(&tuiURL, "url", "", "BashBook server URL (overrides $BASHBOOK_URL)")
	tuiCmd.Flags().DurationVar(&tuiTimeout, "timeout", 10*time.Second, "Per-request timeout")
	rootCmd.AddCommand(tuiCmd)
}

func runTUI(cmd *cobra.Command, _ []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	url := cfg.ServerURL
	if tuiURL != "" {
		url = tuiURL
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGTERM)
	defer stop()

	httpClient := client.NewHTTP(url, client.WithTimeout(tuiTimeout))
	defer httpClient.Close()

	if err := tui.Run(ctx, client.NewBook(httpClient), client.NewGate(httpClient)); err != nil {
		return fmt.Errorf("tui: %w", err)
	}
	return nil
}
