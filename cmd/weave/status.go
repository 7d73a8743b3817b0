package main

import (
	"context"
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/yonngwoo/weave/internal/engine"
)

// syncStatus is the status command's output document.
type syncStatus struct {
	ClientID    string               `yaml:"client_id"`
	ClientName  string               `yaml:"client_name"`
	HasAccount  bool                 `yaml:"has_account"`
	Clients     []clientStatus       `yaml:"clients"`
	Collections map[string]collState `yaml:"collections"`
}

type clientStatus struct {
	GUID     string `yaml:"guid"`
	Name     string `yaml:"name"`
	Type     string `yaml:"type"`
	Tabs     int    `yaml:"tabs"`
	LastSync int64  `yaml:"last_sync"`
}

type collState struct {
	LastFetched int64 `yaml:"last_fetched"`
	Records     int   `yaml:"records,omitempty"`
}

var statusCmd = &cobra.Command{
	Use:     "status",
	GroupID: "sync",
	Short:   "Show local sync state",
	Long: `Show this device's identity, the known remote clients with their tab
counts, and each collection's watermark.`,
	Run: func(cmd *cobra.Command, args []string) {
		format, _ := cmd.Flags().GetString("format")

		a := mustOpenApp(nil)
		defer a.close()

		doc, err := collectStatus(a)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			os.Exit(1)
		}

		switch format {
		case "yaml":
			out, err := yaml.Marshal(doc)
			if err != nil {
				fmt.Fprintf(os.Stderr, "Error: %v\n", err)
				os.Exit(1)
			}
			fmt.Print(string(out))
		default:
			printStatusText(doc)
		}
	},
}

func collectStatus(a *app) (*syncStatus, error) {
	ctx := context.Background()

	clientID, err := a.prefs.ClientID()
	if err != nil {
		return nil, err
	}
	clientName, err := a.prefs.ClientName()
	if err != nil {
		return nil, err
	}

	doc := &syncStatus{
		ClientID:    clientID,
		ClientName:  clientName,
		HasAccount:  a.coord.Account() != nil,
		Collections: make(map[string]collState),
	}

	joined, err := a.store.GetClientsAndTabs(ctx, clientID)
	if err != nil {
		return nil, err
	}
	for _, ct := range joined {
		doc.Clients = append(doc.Clients, clientStatus{
			GUID:     ct.Client.GUID,
			Name:     ct.Client.Name,
			Type:     ct.Client.Type,
			Tabs:     len(ct.Tabs),
			LastSync: ct.ApproximateLastSyncTime(),
		})
	}

	for _, coll := range []string{
		engine.CollectionClients,
		engine.CollectionTabs,
		engine.CollectionHistory,
		engine.CollectionLogins,
	} {
		last, err := a.prefs.LastFetched(coll)
		if err != nil {
			return nil, err
		}
		state := collState{LastFetched: last}
		switch coll {
		case engine.CollectionHistory, engine.CollectionLogins:
			count, err := a.store.RecordCount(ctx, coll)
			if err != nil {
				return nil, err
			}
			state.Records = count
		}
		doc.Collections[coll] = state
	}

	return doc, nil
}

func printStatusText(doc *syncStatus) {
	fmt.Printf("Device: %s (%s)\n", doc.ClientName, doc.ClientID)
	if doc.HasAccount {
		fmt.Println("Account: signed in")
	} else {
		fmt.Println("Account: signed out")
	}

	fmt.Printf("\nKnown clients: %d\n", len(doc.Clients))
	for _, c := range doc.Clients {
		fmt.Printf("  %s (%s): %d tabs, last sync %d\n", c.Name, c.Type, c.Tabs, c.LastSync)
	}

	fmt.Println("\nCollections:")
	for _, coll := range []string{"clients", "tabs", "history", "logins"} {
		state := doc.Collections[coll]
		if state.Records > 0 {
			fmt.Printf("  %-8s watermark %d, %d records\n", coll, state.LastFetched, state.Records)
		} else {
			fmt.Printf("  %-8s watermark %d\n", coll, state.LastFetched)
		}
	}
}

func init() {
	statusCmd.Flags().StringP("format", "f", "text", "Output format (text or yaml)")
	rootCmd.AddCommand(statusCmd)
}
