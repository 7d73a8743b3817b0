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

// CollectionTabs is the remote collection name for tab snapshots.
const CollectionTabs = "tabs"

// TabsSynchronizer reconciles the tabs collection. Each remote record is
// one client's complete tab snapshot; applying it fully replaces that
// client's local tab set, which makes reapplication idempotent.
type TabsSynchronizer struct {
	store  *store.Store
	prefs  *prefs.Prefs
	logger *log.Logger
}

// NewTabsSynchronizer creates a tabs synchronizer.
//
// If logger is nil, a default logger writing to stderr is used.
func NewTabsSynchronizer(st *store.Store, p *prefs.Prefs, logger *log.Logger) *TabsSynchronizer {
	if logger == nil {
		logger = log.New(os.Stderr, "[tabs] ", log.LstdFlags)
	}
	return &TabsSynchronizer{store: st, prefs: p, logger: logger}
}

// Collection implements Synchronizer.Collection.
func (t *TabsSynchronizer) Collection() string {
	return CollectionTabs
}

// Sync implements Synchronizer.Sync.
//
// Local tabs are uploaded unconditionally at the end of every attempt,
// whether or not a fetch happened: local tabs may have changed even when
// the remote end has not.
func (t *TabsSynchronizer) Sync(ctx context.Context, sess *auth.Session) Status {
	if !sess.Keys.Valid() {
		return Failed(fmt.Errorf("tabs: %w", record.ErrMissingKeys))
	}

	pad, err := loadScratchpad(t.prefs, sess, CollectionTabs)
	if err != nil {
		return Failed(err)
	}

	remoteModified := sess.Collections[CollectionTabs]
	if remoteModified > pad.LastFetched || pad.FreshStart() {
		if st := t.fetchAndApply(ctx, sess, pad); !st.Ok() {
			return st
		}
	} else {
		t.logger.Printf("Remote tabs not newer than watermark %d, skipping fetch", pad.LastFetched)
	}

	if err := t.uploadLocalTabs(ctx, sess, pad); err != nil {
		return Failed(err)
	}

	return Completed()
}

// fetchAndApply pulls remote records since the watermark and applies them.
// The watermark advances only after the whole batch applied successfully.
func (t *TabsSynchronizer) fetchAndApply(ctx context.Context, sess *auth.Session, pad *Scratchpad) Status {
	recs, serverModified, err := sess.Client.GetSince(ctx, CollectionTabs, pad.LastFetched)
	if err != nil {
		return Failed(fmt.Errorf("failed to fetch tabs: %w", err))
	}

	// A zero watermark means either a first sync or leftovers from a
	// previously-synced account sharing this store. Wipe before applying.
	if pad.FreshStart() {
		t.logger.Printf("Fresh start, wiping local tabs")
		if err := t.store.WipeTabs(ctx); err != nil {
			return Failed(err)
		}
	}

	applied := 0
	for _, rec := range recs {
		// A device never re-imports its own uploaded snapshot.
		if rec.ID == pad.ClientID {
			continue
		}
		if err := t.applyRecord(ctx, pad, rec); err != nil {
			return Failed(fmt.Errorf("failed to apply tabs record %s: %w", rec.ID, err))
		}
		applied++
	}

	if err := pad.Advance(serverModified); err != nil {
		return Failed(err)
	}

	t.logger.Printf("Applied %d tabs records, watermark now %d", applied, serverModified)
	return Completed()
}

// applyRecord replaces one client's tab set with the fetched snapshot.
func (t *TabsSynchronizer) applyRecord(ctx context.Context, pad *Scratchpad, rec record.Record) error {
	cleartext, err := pad.Keys.Decrypt(rec.Payload)
	if err != nil {
		return err
	}
	payload, err := record.DecodeTabsPayload(cleartext)
	if err != nil {
		return err
	}

	tabs := make([]store.RemoteTab, 0, len(payload.Tabs))
	for _, entry := range payload.Tabs {
		tabs = append(tabs, store.RemoteTab{
			ClientGUID: rec.ID,
			URL:        entry.URLHistory[len(entry.URLHistory)-1],
			Title:      entry.Title,
			History:    entry.URLHistory,
			LastUsed:   entry.LastUsed,
			Icon:       entry.Icon,
		})
	}

	_, err = t.store.InsertOrUpdateTabsForClientGUID(ctx, rec.ID, tabs)
	return err
}

// uploadLocalTabs serializes the local device's own tabs into one record
// addressed by its own GUID and pushes it as an unconditional overwrite.
// Only this device ever writes its own record, so no conflict detection
// is needed.
func (t *TabsSynchronizer) uploadLocalTabs(ctx context.Context, sess *auth.Session, pad *Scratchpad) error {
	localTabs, err := t.store.GetTabsForClientGUID(ctx, "")
	if err != nil {
		return err
	}

	payload := &record.TabsPayload{
		ClientID:   pad.ClientID,
		ClientName: pad.ClientName,
		Tabs:       make([]record.TabEntry, 0, len(localTabs)),
	}
	for _, tab := range localTabs {
		payload.Tabs = append(payload.Tabs, record.TabEntry{
			Title:      tab.Title,
			Icon:       tab.Icon,
			URLHistory: tab.History,
			LastUsed:   tab.LastUsed,
		})
	}

	cleartext, err := record.EncodeTabsPayload(payload)
	if err != nil {
		return fmt.Errorf("failed to encode local tabs: %w", err)
	}
	encrypted, err := pad.Keys.Encrypt(cleartext)
	if err != nil {
		return fmt.Errorf("failed to encrypt local tabs: %w", err)
	}

	_, err = sess.Client.Put(ctx, CollectionTabs, record.Record{
		ID:      pad.ClientID,
		Payload: encrypted,
	}, 0)
	if err != nil {
		return fmt.Errorf("failed to upload local tabs: %w", err)
	}

	t.logger.Printf("Uploaded %d local tabs", len(localTabs))
	return nil
}
