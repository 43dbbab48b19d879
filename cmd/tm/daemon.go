package main

import (
	"context"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/taskmirror/taskmirror/internal/daemon"
	"github.com/taskmirror/taskmirror/internal/dashboard"
)

var daemonCmd = &cobra.Command{
	Use:   "daemon",
	Short: "Sync continuously in the background",
	Long: `Run reconciliation passes continuously.

The daemon runs a full pass on startup, then an incremental pass whenever
the local database changes on disk (debounced) and on a fixed interval
regardless of activity.

With the dashboard enabled, a WebSocket server broadcasts every pass
summary and serves the latest state at /status.

  tm daemon                  # sync on changes and every interval
  tm daemon --dashboard      # also start the monitoring server
  tm daemon --full           # every pass reconciles deletions`,
	Run: func(cmd *cobra.Command, args []string) {
		withDashboard, _ := cmd.Flags().GetBool("dashboard")
		full, _ := cmd.Flags().GetBool("full")

		cfg := mustConfig()

		var logger *log.Logger
		if cfg.Sync.LogFile != "" {
			logger = daemon.RotatingLogger(cfg.Sync.LogFile)
		} else {
			logger = log.New(os.Stderr, "[daemon] ", log.LstdFlags)
		}

		ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
		defer cancel()

		eng, err := buildEngine(ctx, cfg, logger)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			os.Exit(1)
		}
		defer eng.Close()

		if withDashboard || cfg.Dashboard.Enabled {
			server := dashboard.NewServer(&dashboard.Config{
				Addr:   cfg.Dashboard.Addr,
				Logger: logger,
			})
			if err := server.Start(); err != nil {
				fmt.Fprintf(os.Stderr, "Error: failed to start dashboard: %v\n", err)
				os.Exit(1)
			}
			defer func() {
				if err := server.Stop(); err != nil {
					logger.Printf("Dashboard shutdown error: %v", err)
				}
			}()

			handler := dashboard.NewHandler(server, logger)
			eng.orch.OnSummary(handler.OnPassComplete)
			fmt.Printf("Dashboard: http://localhost%s (ws://localhost%s/ws)\n", cfg.Dashboard.Addr, cfg.Dashboard.Addr)
		}

		d, err := daemon.New(eng.orch, cfg.LocalDB, &daemon.Config{
			Interval: cfg.Sync.Interval,
			Debounce: cfg.Sync.Debounce,
			Push:     true,
			Pull:     true,
			Full:     full,
			Logger:   logger,
		})
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			os.Exit(1)
		}

		fmt.Printf("Syncing %s every %v; press Ctrl+C to stop\n", cfg.LocalDB, cfg.Sync.Interval)
		if err := d.Start(ctx); err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			os.Exit(1)
		}
	},
}

func init() {
	daemonCmd.Flags().Bool("dashboard", false, "Start the WebSocket monitoring server")
	daemonCmd.Flags().Bool("full", false, "Make every pass a full pass")

	rootCmd.AddCommand(daemonCmd)
}
