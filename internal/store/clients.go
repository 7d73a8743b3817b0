package store

import (
	"context"
	"database/sql"
	"fmt"
)

// RemoteClient identifies one synced device.
type RemoteClient struct {
	// GUID uniquely identifies a client row.
	GUID string

	// Name is the device's display name.
	Name string

	// Modified is the record's last-modified time in milliseconds.
	Modified int64

	// Type is the device type, e.g. "desktop" or "mobile".
	Type string
}

// ClientAndTabs joins one remote client with its current tab set.
type ClientAndTabs struct {
	Client RemoteClient
	Tabs   []RemoteTab
}

// ApproximateLastSyncTime is a freshness proxy for listings: the client
// record's modified time when it carries no tabs, otherwise the most recent
// tab use time.
func (c *ClientAndTabs) ApproximateLastSyncTime() int64 {
	if len(c.Tabs) == 0 {
		return c.Client.Modified
	}
	latest := c.Tabs[0].LastUsed
	for _, tab := range c.Tabs[1:] {
		if tab.LastUsed > latest {
			latest = tab.LastUsed
		}
	}
	return latest
}

// GetClients returns all known remote clients, excluding the local device's
// own record when its GUID is given. Results are ordered by modified time,
// most recent first.
func (s *Store) GetClients(ctx context.Context, localGUID string) ([]RemoteClient, error) {
	query := `
	SELECT guid, name, modified, COALESCE(type, '')
	FROM clients
	WHERE guid != ?
	ORDER BY modified DESC
	`

	conn, err := s.db("get clients")
	if err != nil {
		return nil, err
	}
	rows, err := conn.QueryContext(ctx, query, localGUID)
	if err != nil {
		return nil, dbErr("get clients", err)
	}
	defer rows.Close()

	return scanClients(rows)
}

// GetClientsAndTabs returns every remote client joined with its tab set,
// excluding the local device's own record. The whole read happens inside
// one transaction so no interleaved writer can produce a client with a
// stale or missing tab set.
func (s *Store) GetClientsAndTabs(ctx context.Context, localGUID string) ([]ClientAndTabs, error) {
	var result []ClientAndTabs

	err := s.withTx(ctx, "get clients and tabs", func(tx *sql.Tx) error {
		rows, err := tx.QueryContext(ctx, `
			SELECT guid, name, modified, COALESCE(type, '')
			FROM clients
			WHERE guid != ?
			ORDER BY modified DESC
		`, localGUID)
		if err != nil {
			return dbErr("get clients and tabs", err)
		}
		clients, err := scanClients(rows)
		if err != nil {
			return err
		}

		for _, client := range clients {
			tabs, err := getTabsTx(ctx, tx, client.GUID)
			if err != nil {
				return err
			}
			result = append(result, ClientAndTabs{Client: client, Tabs: tabs})
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	return result, nil
}

// InsertOrUpdateClients upserts a batch of clients by GUID.
//
// The whole batch runs inside one transaction: any single failure aborts
// and rolls back the batch, leaving the store in its prior state.
func (s *Store) InsertOrUpdateClients(ctx context.Context, clients []RemoteClient) error {
	return s.withTx(ctx, "upsert clients", func(tx *sql.Tx) error {
		for _, client := range clients {
			if client.GUID == "" {
				return dbErr("upsert clients", fmt.Errorf("client has empty guid"))
			}
			_, err := tx.ExecContext(ctx, `
				INSERT INTO clients (guid, name, modified, type)
				VALUES (?, ?, ?, ?)
				ON CONFLICT(guid) DO UPDATE SET
					name = excluded.name,
					modified = excluded.modified,
					type = excluded.type
			`, client.GUID, client.Name, client.Modified, client.Type)
			if err != nil {
				return dbErr(fmt.Sprintf("upsert client %s", client.GUID), err)
			}
		}
		return nil
	})
}

// WipeClients removes every client row. Destructive, used on fresh-start
// and on account removal.
func (s *Store) WipeClients(ctx context.Context) error {
	conn, err := s.db("wipe clients")
	if err != nil {
		return err
	}
	if _, err := conn.ExecContext(ctx, "DELETE FROM clients"); err != nil {
		return dbErr("wipe clients", err)
	}
	return nil
}

func scanClients(rows *sql.Rows) ([]RemoteClient, error) {
	defer rows.Close()

	var clients []RemoteClient
	for rows.Next() {
		var c RemoteClient
		if err := rows.Scan(&c.GUID, &c.Name, &c.Modified, &c.Type); err != nil {
			return nil, dbErr("scan client", err)
		}
		clients = append(clients, c)
	}
	if err := rows.Err(); err != nil {
		return nil, dbErr("iterate clients", err)
	}
	return clients, nil
}
