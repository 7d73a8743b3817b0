package engine

import (
	"context"
	"fmt"
	"log"
	"os"

	"github.com/yonngwoo/weave/internal/auth"
	"github.com/yonngwoo/weave/internal/prefs"
	"github.com/yonngwoo/weave/internal/record"
	"github.com/yonngwoo/weave/internal/store"
)

// Remote collection names for the record-cache engines.
const (
	CollectionHistory = "history"
	CollectionLogins  = "logins"
)

// cacheSynchronizer runs the synchronizer template over the store's
// generic record cache. History and logins use it: their collection-
// specific merge logic lives upstream, so locally they are a decrypted
// mirror of the remote collection.
//
// These engines are download-only; they have no local mutation source to
// upload, so the upload phase is empty.
type cacheSynchronizer struct {
	collection string
	store      *store.Store
	prefs      *prefs.Prefs
	logger     *log.Logger
}

// NewHistorySynchronizer creates the history synchronizer.
func NewHistorySynchronizer(st *store.Store, p *prefs.Prefs, logger *log.Logger) Synchronizer {
	return newCacheSynchronizer(CollectionHistory, st, p, logger)
}

// NewLoginsSynchronizer creates the logins synchronizer.
func NewLoginsSynchronizer(st *store.Store, p *prefs.Prefs, logger *log.Logger) Synchronizer {
	return newCacheSynchronizer(CollectionLogins, st, p, logger)
}

func newCacheSynchronizer(collection string, st *store.Store, p *prefs.Prefs, logger *log.Logger) *cacheSynchronizer {
	if logger == nil {
		logger = log.New(os.Stderr, "["+collection+"] ", log.LstdFlags)
	}
	return &cacheSynchronizer{collection: collection, store: st, prefs: p, logger: logger}
}

// Collection implements Synchronizer.Collection.
func (c *cacheSynchronizer) Collection() string {
	return c.collection
}

// Sync implements Synchronizer.Sync.
func (c *cacheSynchronizer) Sync(ctx context.Context, sess *auth.Session) Status {
	if !sess.Keys.Valid() {
		return Failed(fmt.Errorf("%s: %w", c.collection, record.ErrMissingKeys))
	}

	pad, err := loadScratchpad(c.prefs, sess, c.collection)
	if err != nil {
		return Failed(err)
	}

	// Account removal flags collections for resync; honor the flag by
	// dropping back to the fresh-start sentinel before deciding to fetch.
	needsResync, err := c.store.NeedsResync(ctx, c.collection)
	if err != nil {
		return Failed(err)
	}
	if needsResync && !pad.FreshStart() {
		c.logger.Printf("Collection flagged for resync, resetting watermark")
		if err := pad.Reset(); err != nil {
			return Failed(err)
		}
	}

	remoteModified := sess.Collections[c.collection]
	if remoteModified <= pad.LastFetched && !pad.FreshStart() {
		c.logger.Printf("Remote %s not newer than watermark %d, nothing to do", c.collection, pad.LastFetched)
		return Completed()
	}

	recs, serverModified, err := sess.Client.GetSince(ctx, c.collection, pad.LastFetched)
	if err != nil {
		return Failed(fmt.Errorf("failed to fetch %s: %w", c.collection, err))
	}

	if pad.FreshStart() {
		c.logger.Printf("Fresh start, wiping local %s cache", c.collection)
		if err := c.store.WipeCollection(ctx, c.collection); err != nil {
			return Failed(err)
		}
	}

	batch := make([]store.CachedRecord, 0, len(recs))
	for _, rec := range recs {
		cleartext, err := pad.Keys.Decrypt(rec.Payload)
		if err != nil {
			return Failed(fmt.Errorf("failed to decrypt %s record %s: %w", c.collection, rec.ID, err))
		}
		batch = append(batch, store.CachedRecord{
			ID:       rec.ID,
			Payload:  string(cleartext),
			Modified: rec.Modified,
		})
	}

	if len(batch) > 0 {
		if err := c.store.UpsertRecords(ctx, c.collection, batch); err != nil {
			return Failed(err)
		}
	}

	if err := pad.Advance(serverModified); err != nil {
		return Failed(err)
	}
	if needsResync {
		if err := c.store.ClearResync(ctx, c.collection); err != nil {
			return Failed(err)
		}
	}

	c.logger.Printf("Applied %d %s records, watermark now %d", len(batch), c.collection, serverModified)
	return Completed()
}
