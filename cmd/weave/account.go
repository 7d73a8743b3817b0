package main

import (
	"context"
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"github.com/yonngwoo/weave/internal/auth"
	"github.com/yonngwoo/weave/internal/record"
)

var accountCmd = &cobra.Command{
	Use:     "account",
	GroupID: "account",
	Short:   "Manage the signed-in account",
}

var accountAddCmd = &cobra.Command{
	Use:   "add",
	Short: "Sign in with a storage token and run a first sync",
	Long: `Install the account's bearer token, generate a payload key bundle if
none exists yet, and run a full first sync.

The remote server URL comes from the config file or WEAVE_SERVER_URL.`,
	Run: func(cmd *cobra.Command, args []string) {
		token, _ := cmd.Flags().GetString("token")
		if token == "" {
			fmt.Fprintf(os.Stderr, "Error: --token is required\n")
			os.Exit(1)
		}

		a := mustOpenApp(nil)
		defer a.close()

		if a.cfg.ServerURL == "" {
			fmt.Fprintf(os.Stderr, "Error: server_url is not configured\n")
			os.Exit(1)
		}

		if err := a.prefs.SetToken(token); err != nil {
			fmt.Fprintf(os.Stderr, "Error: failed to store token: %v\n", err)
			os.Exit(1)
		}

		keys, err := a.prefs.KeyBundle()
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error: failed to load key bundle: %v\n", err)
			os.Exit(1)
		}
		if keys == nil {
			keys, err = record.NewKeyBundle()
			if err != nil {
				fmt.Fprintf(os.Stderr, "Error: failed to generate keys: %v\n", err)
				os.Exit(1)
			}
			if err := a.prefs.SetKeyBundle(keys); err != nil {
				fmt.Fprintf(os.Stderr, "Error: failed to store keys: %v\n", err)
				os.Exit(1)
			}
			fmt.Println("Generated new payload key bundle")
		}

		results := a.coord.OnAddedAccount(context.Background(), &auth.Account{
			Token:     token,
			ServerURL: a.cfg.ServerURL,
		})

		fmt.Println("Account added, first sync:")
		printResults(results)
		exitOnFailure(results)
	},
}

var accountRemoveCmd = &cobra.Command{
	Use:   "remove",
	Short: "Sign out and clear local sync state",
	Long: `Sign out of the account. Flags history for a future re-sync and clears
the remote client and tab cache concurrently, then wipes sync preferences
and secrets regardless of the cleanup outcome.`,
	Run: func(cmd *cobra.Command, args []string) {
		a := mustOpenApp(nil)
		defer a.close()

		if err := a.coord.OnRemovedAccount(context.Background()); err != nil {
			fmt.Fprintf(os.Stderr, "Warning: cleanup incomplete: %v\n", err)
			// Preferences and secrets were still wiped; the account is gone.
		}
		fmt.Println("Account removed")
	},
}

var accountNameCmd = &cobra.Command{
	Use:   "name [new-name]",
	Short: "Show or set this device's display name",
	Args:  cobra.MaximumNArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		a := mustOpenApp(nil)
		defer a.close()

		if len(args) == 0 {
			name, err := a.prefs.ClientName()
			if err != nil {
				fmt.Fprintf(os.Stderr, "Error: %v\n", err)
				os.Exit(1)
			}
			fmt.Println(name)
			return
		}

		if err := a.prefs.SetClientName(args[0]); err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			os.Exit(1)
		}
		fmt.Printf("Device name set to %q\n", args[0])
	},
}

func init() {
	accountAddCmd.Flags().String("token", "", "Storage service bearer token")

	accountCmd.AddCommand(accountAddCmd)
	accountCmd.AddCommand(accountRemoveCmd)
	accountCmd.AddCommand(accountNameCmd)
	rootCmd.AddCommand(accountCmd)
}
