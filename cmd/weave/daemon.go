package main

import (
	"context"
	"fmt"
	"io"
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"gopkg.in/natefinch/lumberjack.v2"

	"github.com/yonngwoo/weave/internal/bus"
	"github.com/yonngwoo/weave/internal/config"
	"github.com/yonngwoo/weave/internal/coordinator"
	"github.com/yonngwoo/weave/internal/dashboard"
)

var daemonCmd = &cobra.Command{
	Use:     "daemon",
	GroupID: "sync",
	Short:   "Run the background sync daemon",
	Long: `Run timed background syncs until interrupted.

Every sync interval (default 15 minutes) the daemon syncs logins and then
history as independent attempts. When logins_db_path is configured, local
login changes additionally trigger a debounced logins-only sync. When
dashboard_addr is configured, a WebSocket dashboard broadcasts sync
events in real time.`,
	Run: func(cmd *cobra.Command, args []string) {
		cfg, err := config.Load(configPath)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			os.Exit(1)
		}

		logger := log.New(daemonLogWriter(cfg), "[weave] ", log.LstdFlags)

		var reporter coordinator.Reporter
		var dash *dashboard.Server
		if cfg.DashboardAddr != "" {
			dash = dashboard.NewServer(cfg.DashboardAddr, logger)
			if err := dash.Start(); err != nil {
				fmt.Fprintf(os.Stderr, "Error: %v\n", err)
				os.Exit(1)
			}
			defer func() {
				if err := dash.Stop(); err != nil {
					logger.Printf("Dashboard shutdown error: %v", err)
				}
			}()
			reporter = dashboard.NewReporter(dash)
			fmt.Printf("Dashboard: ws://%s/ws\n", dash.GetAddr())
		}

		a, err := openApp(logger, reporter)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			os.Exit(1)
		}
		defer a.close()

		ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
		defer cancel()

		if cfg.LoginsDBPath != "" {
			watcher, err := bus.NewLoginsWatcher(cfg.LoginsDBPath, a.bus, logger)
			if err != nil {
				fmt.Fprintf(os.Stderr, "Error: %v\n", err)
				os.Exit(1)
			}
			if err := watcher.Start(ctx); err != nil {
				fmt.Fprintf(os.Stderr, "Error: %v\n", err)
				os.Exit(1)
			}
			defer func() {
				if err := watcher.Stop(); err != nil {
					logger.Printf("Watcher shutdown error: %v", err)
				}
			}()
			logger.Printf("Watching %s for login changes", cfg.LoginsDBPath)
		}

		a.coord.BeginTimedSyncs()
		defer a.coord.EndTimedSyncs()

		fmt.Printf("Sync daemon running, interval %s. Press Ctrl+C to stop.\n", cfg.SyncInterval)
		<-ctx.Done()
		fmt.Println("\nShutting down...")
	},
}

// daemonLogWriter routes daemon logs to a rotated file when log_file is
// configured, otherwise to stderr.
func daemonLogWriter(cfg *config.Config) io.Writer {
	if cfg.LogFile == "" {
		return os.Stderr
	}
	return &lumberjack.Logger{
		Filename:   cfg.LogFile,
		MaxSize:    10, // megabytes
		MaxBackups: 3,
		MaxAge:     28, // days
		Compress:   true,
	}
}

func init() {
	rootCmd.AddCommand(daemonCmd)
}
