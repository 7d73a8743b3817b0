// Package prefs provides the persistent sync preference and secret store.
//
// Preferences live in a small bbolt database next to the main store: the
// local device's own client identity, the per-collection watermarks
// (lastFetched), the serialized key bundle, and the cached auth token.
// Keeping this state out of the SQLite store lets account removal wipe
// credentials and bookkeeping without touching synced rows, and the other
// way around.
package prefs

import (
	"encoding/binary"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"github.com/google/uuid"
	bolt "go.etcd.io/bbolt"

	"github.com/yonngwoo/weave/internal/record"
)

var (
	bucketIdentity   = []byte("identity")
	bucketWatermarks = []byte("watermarks")
	bucketSecrets    = []byte("secrets")

	keyClientID   = []byte("client_id")
	keyClientName = []byte("client_name")
	keyBundle     = []byte("key_bundle")
	keyToken      = []byte("token")
)

// Prefs is the bbolt-backed preference store.
type Prefs struct {
	db *bolt.DB
}

// Open opens (or creates) the preference store at the given path.
//
// The caller MUST call Close() when done.
func Open(path string) (*Prefs, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return nil, fmt.Errorf("failed to create prefs directory: %w", err)
	}

	db, err := bolt.Open(path, 0600, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to open prefs database: %w", err)
	}

	err = db.Update(func(tx *bolt.Tx) error {
		for _, name := range [][]byte{bucketIdentity, bucketWatermarks, bucketSecrets} {
			if _, err := tx.CreateBucketIfNotExists(name); err != nil {
				return fmt.Errorf("failed to create bucket %s: %w", name, err)
			}
		}
		return nil
	})
	if err != nil {
		_ = db.Close()
		return nil, err
	}

	return &Prefs{db: db}, nil
}

// Close closes the preference store.
func (p *Prefs) Close() error {
	return p.db.Close()
}

// ClientID returns the local device's own client GUID, generating and
// persisting a fresh one on first use.
func (p *Prefs) ClientID() (string, error) {
	var id string
	err := p.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketIdentity)
		if v := b.Get(keyClientID); v != nil {
			id = string(v)
			return nil
		}
		id = uuid.NewString()
		return b.Put(keyClientID, []byte(id))
	})
	if err != nil {
		return "", fmt.Errorf("failed to load client id: %w", err)
	}
	return id, nil
}

// ClientName returns the local device's display name, or a default when
// none has been set.
func (p *Prefs) ClientName() (string, error) {
	name := "Weave Client"
	err := p.db.View(func(tx *bolt.Tx) error {
		if v := tx.Bucket(bucketIdentity).Get(keyClientName); v != nil {
			name = string(v)
		}
		return nil
	})
	if err != nil {
		return "", fmt.Errorf("failed to load client name: %w", err)
	}
	return name, nil
}

// SetClientName stores the local device's display name.
func (p *Prefs) SetClientName(name string) error {
	err := p.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket(bucketIdentity).Put(keyClientName, []byte(name))
	})
	if err != nil {
		return fmt.Errorf("failed to store client name: %w", err)
	}
	return nil
}

// LastFetched returns the watermark for one collection: the last remote
// modification time (milliseconds) fully and successfully processed.
// Zero means the collection has never been synced.
func (p *Prefs) LastFetched(collection string) (int64, error) {
	var ts int64
	err := p.db.View(func(tx *bolt.Tx) error {
		if v := tx.Bucket(bucketWatermarks).Get([]byte(collection)); len(v) == 8 {
			ts = int64(binary.BigEndian.Uint64(v))
		}
		return nil
	})
	if err != nil {
		return 0, fmt.Errorf("failed to load watermark for %s: %w", collection, err)
	}
	return ts, nil
}

// SetLastFetched advances the watermark for one collection.
func (p *Prefs) SetLastFetched(collection string, ts int64) error {
	buf := make([]byte, 8)
	binary.BigEndian.PutUint64(buf, uint64(ts))
	err := p.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket(bucketWatermarks).Put([]byte(collection), buf)
	})
	if err != nil {
		return fmt.Errorf("failed to store watermark for %s: %w", collection, err)
	}
	return nil
}

// KeyBundle returns the stored key bundle, or nil when none is present.
func (p *Prefs) KeyBundle() (*record.KeyBundle, error) {
	var data []byte
	err := p.db.View(func(tx *bolt.Tx) error {
		if v := tx.Bucket(bucketSecrets).Get(keyBundle); v != nil {
			data = append([]byte(nil), v...)
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("failed to load key bundle: %w", err)
	}
	if data == nil {
		return nil, nil
	}

	var bundle record.KeyBundle
	if err := json.Unmarshal(data, &bundle); err != nil {
		return nil, fmt.Errorf("failed to parse key bundle: %w", err)
	}
	return &bundle, nil
}

// SetKeyBundle stores the key bundle.
func (p *Prefs) SetKeyBundle(bundle *record.KeyBundle) error {
	data, err := json.Marshal(bundle)
	if err != nil {
		return fmt.Errorf("failed to marshal key bundle: %w", err)
	}
	err = p.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket(bucketSecrets).Put(keyBundle, data)
	})
	if err != nil {
		return fmt.Errorf("failed to store key bundle: %w", err)
	}
	return nil
}

// Token returns the cached auth token, empty when none is present.
func (p *Prefs) Token() (string, error) {
	var token string
	err := p.db.View(func(tx *bolt.Tx) error {
		if v := tx.Bucket(bucketSecrets).Get(keyToken); v != nil {
			token = string(v)
		}
		return nil
	})
	if err != nil {
		return "", fmt.Errorf("failed to load token: %w", err)
	}
	return token, nil
}

// SetToken caches the auth token.
func (p *Prefs) SetToken(token string) error {
	err := p.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket(bucketSecrets).Put(keyToken, []byte(token))
	})
	if err != nil {
		return fmt.Errorf("failed to store token: %w", err)
	}
	return nil
}

// ClearSyncState wipes all watermarks and secrets. The client identity is
// kept: the device remains the same device across accounts. Idempotent.
func (p *Prefs) ClearSyncState() error {
	err := p.db.Update(func(tx *bolt.Tx) error {
		for _, name := range [][]byte{bucketWatermarks, bucketSecrets} {
			if err := tx.DeleteBucket(name); err != nil {
				return fmt.Errorf("failed to delete bucket %s: %w", name, err)
			}
			if _, err := tx.CreateBucket(name); err != nil {
				return fmt.Errorf("failed to recreate bucket %s: %w", name, err)
			}
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("failed to clear sync state: %w", err)
	}
	return nil
}
