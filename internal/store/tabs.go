package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
)

// RemoteTab is one open tab belonging to some client.
type RemoteTab struct {
	// ClientGUID is the owning client's GUID. Empty means the tab belongs
	// to the local device and has not been assigned a remote identity.
	ClientGUID string

	// URL is the tab's current URL, always the last entry of History.
	URL string

	// Title is the page title.
	Title string

	// History is the tab's navigation history, ordered most-recent-last.
	History []string

	// LastUsed is the last interaction time in milliseconds.
	LastUsed int64

	// Icon is an optional favicon URL.
	Icon string
}

// InsertOrUpdateTabsForClientGUID replaces the complete tab set for one
/// client. Tabs are always replaced in bulk per client: the previous set for
// that GUID is deleted first, then the new set inserted, inside one
// transaction. An empty guid addresses the local device's own tab set.
//
// Returns the number of tabs inserted.
func (s *Store) InsertOrUpdateTabsForClientGUID(ctx context.Context, guid string, tabs []RemoteTab) (int, error) {
	inserted := 0

	err := s.withTx(ctx, "replace tabs", func(tx *sql.Tx) error {
		if err := deleteTabsTx(ctx, tx, guid); err != nil {
			return err
		}

		for i, tab := range tabs {
			if len(tab.History) == 0 {
				return dbErr("replace tabs", fmt.Errorf("tab %d for %q has no history", i, guid))
			}
			history, err := json.Marshal(tab.History)
			if err != nil {
				return dbErr("replace tabs", fmt.Errorf("failed to marshal history: %w", err))
			}

			var clientGUID sql.NullString
			if guid != "" {
				clientGUID = sql.NullString{String: guid, Valid: true}
			}

			_, err = tx.ExecContext(ctx, `
				INSERT INTO tabs (client_guid, url, title, history, last_used, icon, position)
				VALUES (?, ?, ?, ?, ?, ?, ?)
			`, clientGUID, tab.URL, tab.Title, string(history), tab.LastUsed, tab.Icon, i)
			if err != nil {
				return dbErr(fmt.Sprintf("insert tab for %q", guid), err)
			}
			inserted++
		}
		return nil
	})
	if err != nil {
		return 0, err
	}

	return inserted, nil
}

// GetTabsForClientGUID returns the tab set for one client in insertion
// order. An empty guid addresses the local device's own tabs.
func (s *Store) GetTabsForClientGUID(ctx context.Context, guid string) ([]RemoteTab, error) {
	var tabs []RemoteTab

	err := s.withTx(ctx, "get tabs", func(tx *sql.Tx) error {
		var err error
		tabs, err = getTabsTx(ctx, tx, guid)
		return err
	})
	if err != nil {
		return nil, err
	}
	return tabs, nil
}

// WipeTabs removes every tab row for every client. Destructive, used on
// fresh-start and on account removal.
func (s *Store) WipeTabs(ctx context.Context) error {
	conn, err := s.db("wipe tabs")
	if err != nil {
		return err
	}
	if _, err := conn.ExecContext(ctx, "DELETE FROM tabs"); err != nil {
		return dbErr("wipe tabs", err)
	}
	return nil
}

func deleteTabsTx(ctx context.Context, tx *sql.Tx, guid string) error {
	var err error
	if guid == "" {
		_, err = tx.ExecContext(ctx, "DELETE FROM tabs WHERE client_guid IS NULL")
	} else {
		_, err = tx.ExecContext(ctx, "DELETE FROM tabs WHERE client_guid = ?", guid)
	}
	if err != nil {
		return dbErr(fmt.Sprintf("delete tabs for %q", guid), err)
	}
	return nil
}

func getTabsTx(ctx context.Context, tx *sql.Tx, guid string) ([]RemoteTab, error) {
	query := `
	SELECT COALESCE(client_guid, ''), url, title, history, last_used, COALESCE(icon, '')
	FROM tabs
	WHERE client_guid = ?
	ORDER BY position ASC
	`
	args := []interface{}{guid}
	if guid == "" {
		query = `
		SELECT COALESCE(client_guid, ''), url, title, history, last_used, COALESCE(icon, '')
		FROM tabs
		WHERE client_guid IS NULL
		ORDER BY position ASC
		`
		args = nil
	}

	rows, err := tx.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, dbErr("get tabs", err)
	}
	defer rows.Close()

	var tabs []RemoteTab
	for rows.Next() {
		var tab RemoteTab
		var historyJSON string
		if err := rows.Scan(&tab.ClientGUID, &tab.URL, &tab.Title, &historyJSON, &tab.LastUsed, &tab.Icon); err != nil {
			return nil, dbErr("scan tab", err)
		}
		if err := json.Unmarshal([]byte(historyJSON), &tab.History); err != nil {
			return nil, dbErr("get tabs", fmt.Errorf("failed to unmarshal history: %w", err))
		}
		tabs = append(tabs, tab)
	}
	if err := rows.Err(); err != nil {
		return nil, dbErr("iterate tabs", err)
	}
	return tabs, nil
}
