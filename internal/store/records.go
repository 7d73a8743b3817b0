package store

import (
	"context"
	"database/sql"
	"fmt"
)

// CachedRecord is one decrypted record in the generic per-collection cache
// backing the history and logins engines. The payload is stored cleartext;
// encryption is a wire concern, not a local-store concern.
type CachedRecord struct {
	ID       string
	Payload  string
	Modified int64
}

// UpsertRecords inserts or replaces a batch of records for one collection
// in a single transaction. Any single failure rolls back the whole batch.
func (s *Store) UpsertRecords(ctx context.Context, collection string, recs []CachedRecord) error {
	return s.withTx(ctx, "upsert records", func(tx *sql.Tx) error {
		for _, rec := range recs {
			if rec.ID == "" {
				return dbErr("upsert records", fmt.Errorf("record has empty id"))
			}
			_, err := tx.ExecContext(ctx, `
				INSERT INTO collection_records (collection, id, payload, modified)
				VALUES (?, ?, ?, ?)
				ON CONFLICT(collection, id) DO UPDATE SET
					payload = excluded.payload,
					modified = excluded.modified
			`, collection, rec.ID, rec.Payload, rec.Modified)
			if err != nil {
				return dbErr(fmt.Sprintf("upsert record %s/%s", collection, rec.ID), err)
			}
		}
		return nil
	})
}

// GetRecords returns all cached records for one collection ordered by
// modified time ascending.
func (s *Store) GetRecords(ctx context.Context, collection string) ([]CachedRecord, error) {
	conn, err := s.db("get records")
	if err != nil {
		return nil, err
	}
	rows, err := conn.QueryContext(ctx, `
		SELECT id, payload, modified
		FROM collection_records
		WHERE collection = ?
		ORDER BY modified ASC
	`, collection)
	if err != nil {
		return nil, dbErr("get records", err)
	}
	defer rows.Close()

	var recs []CachedRecord
	for rows.Next() {
		var rec CachedRecord
		if err := rows.Scan(&rec.ID, &rec.Payload, &rec.Modified); err != nil {
			return nil, dbErr("scan record", err)
		}
		recs = append(recs, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, dbErr("iterate records", err)
	}
	return recs, nil
}

// RecordCount returns the number of cached records for one collection.
func (s *Store) RecordCount(ctx context.Context, collection string) (int, error) {
	conn, err := s.db("count records")
	if err != nil {
		return 0, err
	}
	var count int
	err = conn.QueryRowContext(ctx,
		"SELECT COUNT(*) FROM collection_records WHERE collection = ?", collection).Scan(&count)
	if err != nil {
		return 0, dbErr("count records", err)
	}
	return count, nil
}

// WipeCollection removes every cached record for one collection.
func (s *Store) WipeCollection(ctx context.Context, collection string) error {
	conn, err := s.db("wipe collection")
	if err != nil {
		return err
	}
	if _, err := conn.ExecContext(ctx,
		"DELETE FROM collection_records WHERE collection = ?", collection); err != nil {
		return dbErr(fmt.Sprintf("wipe collection %s", collection), err)
	}
	return nil
}

// MarkCollectionForResync flags a collection so its next sync attempt
// performs a fresh-start fetch regardless of its watermark. Used on account
// removal, where local data must be reconciled against whatever account
// signs in next.
func (s *Store) MarkCollectionForResync(ctx context.Context, collection string) error {
	conn, err := s.db("mark resync")
	if err != nil {
		return err
	}
	_, err = conn.ExecContext(ctx, `
		INSERT INTO sync_meta (key, value) VALUES (?, '1')
		ON CONFLICT(key) DO UPDATE SET value = '1'
	`, resyncKey(collection))
	if err != nil {
		return dbErr(fmt.Sprintf("mark %s for resync", collection), err)
	}
	return nil
}

// NeedsResync reports whether a collection has been flagged for a
// fresh-start fetch.
func (s *Store) NeedsResync(ctx context.Context, collection string) (bool, error) {
	conn, err := s.db("read resync flag")
	if err != nil {
		return false, err
	}
	var value string
	err = conn.QueryRowContext(ctx,
		"SELECT value FROM sync_meta WHERE key = ?", resyncKey(collection)).Scan(&value)
	if err == sql.ErrNoRows {
		return false, nil
	}
	if err != nil {
		return false, dbErr("read resync flag", err)
	}
	return value == "1", nil
}

// ClearResync drops the resync flag for a collection after a successful
// fresh-start sync.
func (s *Store) ClearResync(ctx context.Context, collection string) error {
	conn, err := s.db("clear resync flag")
	if err != nil {
		return err
	}
	if _, err := conn.ExecContext(ctx,
		"DELETE FROM sync_meta WHERE key = ?", resyncKey(collection)); err != nil {
		return dbErr("clear resync flag", err)
	}
	return nil
}

func resyncKey(collection string) string {
	return "resync." + collection
}
