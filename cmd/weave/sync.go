package main

import (
	"context"
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"github.com/yonngwoo/weave/internal/coordinator"
	"github.com/yonngwoo/weave/internal/engine"
)

var syncCmd = &cobra.Command{
	Use:     "sync",
	GroupID: "sync",
	Short:   "Run sync attempts against the remote storage service",
	Long: `Run one or more collection synchronizers over a single shared session.

Each collection reports its own status; a failure in one collection never
aborts the others. A second sync requested while one is in flight is
rejected immediately as "already syncing", not queued.`,
}

var syncEverythingCmd = &cobra.Command{
	Use:   "everything",
	Short: "Sync clients, tabs, history, and logins",
	Run: func(cmd *cobra.Command, args []string) {
		a := mustOpenApp(nil)
		defer a.close()

		results := a.coord.SyncEverything(context.Background())
		printResults(results)
		exitOnFailure(results)
	},
}

var syncTabsCmd = &cobra.Command{
	Use:   "tabs",
	Short: "Sync the client registry, then tabs",
	Long: `Sync the clients collection and then the tabs collection over one
session. The tabs status is what this command reports.`,
	Run: func(cmd *cobra.Command, args []string) {
		a := mustOpenApp(nil)
		defer a.close()

		st := a.coord.SyncClientsThenTabs(context.Background())
		printStatus("tabs", st)
		if !st.Ok() {
			os.Exit(1)
		}
	},
}

var syncClientsCmd = &cobra.Command{
	Use:   "clients",
	Short: "Sync the client registry",
	Run: func(cmd *cobra.Command, args []string) {
		a := mustOpenApp(nil)
		defer a.close()

		st := a.coord.SyncClients(context.Background())
		printStatus("clients", st)
		if !st.Ok() {
			os.Exit(1)
		}
	},
}

var syncHistoryCmd = &cobra.Command{
	Use:   "history",
	Short: "Sync the history collection",
	Run: func(cmd *cobra.Command, args []string) {
		a := mustOpenApp(nil)
		defer a.close()

		st := a.coord.SyncHistory(context.Background())
		printStatus("history", st)
		if !st.Ok() {
			os.Exit(1)
		}
	},
}

var syncLoginsCmd = &cobra.Command{
	Use:   "logins",
	Short: "Sync the logins collection",
	Run: func(cmd *cobra.Command, args []string) {
		a := mustOpenApp(nil)
		defer a.close()

		st := a.coord.SyncLogins(context.Background())
		printStatus("logins", st)
		if !st.Ok() {
			os.Exit(1)
		}
	},
}

func printStatus(label string, st engine.Status) {
	if st.Ok() {
		fmt.Printf("%s: completed\n", label)
	} else {
		fmt.Printf("%s: %s\n", label, st)
	}
}

func printResults(results []coordinator.Result) {
	for _, r := range results {
		printStatus(r.Label, r.Status)
	}
}

func exitOnFailure(results []coordinator.Result) {
	for _, r := range results {
		if !r.Status.Ok() {
			os.Exit(1)
		}
	}
}

func init() {
	syncCmd.AddCommand(syncEverythingCmd)
	syncCmd.AddCommand(syncTabsCmd)
	syncCmd.AddCommand(syncClientsCmd)
	syncCmd.AddCommand(syncHistoryCmd)
	syncCmd.AddCommand(syncLoginsCmd)
	rootCmd.AddCommand(syncCmd)
}
