package store

import (
	"context"
	"database/sql"
	"fmt"
)

// SyncCommand is a queued outgoing instruction (e.g. "display URI")
// addressed to a specific client. Commands are created when a local action
// such as send-to-device occurs, persisted until the target client's next
// sync fetches and deletes them, and never mutated in between.
type SyncCommand struct {
	// ClientGUID is the target client. Empty on commands that have not
	// been addressed yet; InsertCommands stamps it per target.
	ClientGUID string

	// Command is the command name, e.g. "displayURI".
	Command string

	// Payload is an opaque string argument blob.
	Payload string
}

// InsertCommands materializes each command once per target client, stamped
// with that client's GUID. The cross-product insert runs in one transaction.
//
// Returns the number of command rows inserted.
func (s *Store) InsertCommands(ctx context.Context, commands []SyncCommand, forClients []RemoteClient) (int, error) {
	inserted := 0

	err := s.withTx(ctx, "insert commands", func(tx *sql.Tx) error {
		for _, client := range forClients {
			for _, cmd := range commands {
				_, err := tx.ExecContext(ctx, `
					INSERT INTO commands (client_guid, command, payload)
					VALUES (?, ?, ?)
				`, client.GUID, cmd.Command, cmd.Payload)
				if err != nil {
					return dbErr(fmt.Sprintf("insert command for %s", client.GUID), err)
				}
				inserted++
			}
		}
		return nil
	})
	if err != nil {
		return 0, err
	}

	return inserted, nil
}

// GetCommandsForClient returns the queued commands addressed to one client,
// oldest first.
func (s *Store) GetCommandsForClient(ctx context.Context, guid string) ([]SyncCommand, error) {
	conn, err := s.db("get commands")
	if err != nil {
		return nil, err
	}
	rows, err := conn.QueryContext(ctx, `
		SELECT client_guid, command, COALESCE(payload, '')
		FROM commands
		WHERE client_guid = ?
		ORDER BY id ASC
	`, guid)
	if err != nil {
		return nil, dbErr("get commands", err)
	}
	defer rows.Close()

	var commands []SyncCommand
	for rows.Next() {
		var cmd SyncCommand
		if err := rows.Scan(&cmd.ClientGUID, &cmd.Command, &cmd.Payload); err != nil {
			return nil, dbErr("scan command", err)
		}
		commands = append(commands, cmd)
	}
	if err := rows.Err(); err != nil {
		return nil, dbErr("iterate commands", err)
	}
	return commands, nil
}

// DeleteCommandsForClient removes all queued commands for one client.
// Called after the commands have been delivered into the client's remote
// record. Returns nil if there were none (idempotent).
func (s *Store) DeleteCommandsForClient(ctx context.Context, guid string) error {
	conn, err := s.db("delete commands")
	if err != nil {
		return err
	}
	if _, err := conn.ExecContext(ctx, "DELETE FROM commands WHERE client_guid = ?", guid); err != nil {
		return dbErr(fmt.Sprintf("delete commands for %s", guid), err)
	}
	return nil
}
