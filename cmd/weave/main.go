// Command weave is a multi-collection browser sync client. It reconciles
// a local store of clients, tabs, history, and logins with a remote
// storage service, one watermarked collection at a time.
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

var configPath string

var rootCmd = &cobra.Command{
	Use:   "weave",
	Short: "Multi-collection browser sync client",
	Long: `Weave keeps a local store of remote clients, open tabs, history, and
logins in sync with a remote storage service.

Each collection syncs independently behind a single global sync lock:
fetch records newer than the collection's watermark, apply them to the
local store, advance the watermark, then upload local state.`,
}

func init() {
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "", "Path to config file")

	rootCmd.AddGroup(
		&cobra.Group{ID: "sync", Title: "Sync Commands:"},
		&cobra.Group{ID: "account", Title: "Account Commands:"},
	)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}
