package engine

import (
	"context"
	"errors"
	"fmt"
	"log"
	"os"

	"github.com/yonngwoo/weave/internal/auth"
	"github.com/yonngwoo/weave/internal/prefs"
	"github.com/yonngwoo/weave/internal/record"
	"github.com/yonngwoo/weave/internal/remote"
	"github.com/yonngwoo/weave/internal/store"
)

// CollectionClients is the remote collection name for client records.
const CollectionClients = "clients"

// DeviceType is this device's type as advertised in its client record.
const DeviceType = "desktop"

// ClientsSynchronizer reconciles the clients collection: the registry of
// devices attached to the account. Beyond the fetch/apply template it also
// consumes commands other devices queued for this one, and delivers
// locally queued outgoing commands by rewriting the target client's record.
type ClientsSynchronizer struct {
	store  *store.Store
	prefs  *prefs.Prefs
	logger *log.Logger

	// OnCommand, when set, receives each command addressed to this
	// device. The UI shell hooks this to act on display-URI requests.
	OnCommand func(record.CommandEntry)
}

// NewClientsSynchronizer creates a clients synchronizer.
//
// If logger is nil, a default logger writing to stderr is used.
func NewClientsSynchronizer(st *store.Store, p *prefs.Prefs, logger *log.Logger) *ClientsSynchronizer {
	if logger == nil {
		logger = log.New(os.Stderr, "[clients] ", log.LstdFlags)
	}
	return &ClientsSynchronizer{store: st, prefs: p, logger: logger}
}

// Collection implements Synchronizer.Collection.
func (c *ClientsSynchronizer) Collection() string {
	return CollectionClients
}

// Sync implements Synchronizer.Sync.
func (c *ClientsSynchronizer) Sync(ctx context.Context, sess *auth.Session) Status {
	if !sess.Keys.Valid() {
		return Failed(fmt.Errorf("clients: %w", record.ErrMissingKeys))
	}

	pad, err := loadScratchpad(c.prefs, sess, CollectionClients)
	if err != nil {
		return Failed(err)
	}

	// Decrypted payloads by GUID, kept for command delivery below.
	payloads := make(map[string]*record.ClientPayload)
	modifiedByGUID := make(map[string]int64)

	remoteModified := sess.Collections[CollectionClients]
	if remoteModified > pad.LastFetched || pad.FreshStart() {
		if st := c.fetchAndApply(ctx, sess, pad, payloads, modifiedByGUID); !st.Ok() {
			return st
		}
	}

	if err := c.uploadOwnRecord(ctx, sess, pad); err != nil {
		return Failed(err)
	}

	if err := c.deliverQueuedCommands(ctx, sess, pad, payloads, modifiedByGUID); err != nil {
		return Failed(err)
	}

	return Completed()
}

func (c *ClientsSynchronizer) fetchAndApply(ctx context.Context, sess *auth.Session, pad *Scratchpad,
	payloads map[string]*record.ClientPayload, modifiedByGUID map[string]int64) Status {

	recs, serverModified, err := sess.Client.GetSince(ctx, CollectionClients, pad.LastFetched)
	if err != nil {
		return Failed(fmt.Errorf("failed to fetch clients: %w", err))
	}

	if pad.FreshStart() {
		c.logger.Printf("Fresh start, wiping client registry")
		if err := c.store.WipeClients(ctx); err != nil {
			return Failed(err)
		}
	}

	var batch []store.RemoteClient
	for _, rec := range recs {
		cleartext, err := pad.Keys.Decrypt(rec.Payload)
		if err != nil {
			return Failed(fmt.Errorf("failed to decrypt client record %s: %w", rec.ID, err))
		}
		payload, err := record.DecodeClientPayload(cleartext)
		if err != nil {
			return Failed(fmt.Errorf("failed to decode client record %s: %w", rec.ID, err))
		}

		if rec.ID == pad.ClientID {
			// Commands other devices queued for this one.
			c.processOwnCommands(payload.Commands)
			continue
		}

		payloads[rec.ID] = payload
		modifiedByGUID[rec.ID] = rec.Modified
		batch = append(batch, store.RemoteClient{
			GUID:     rec.ID,
			Name:     payload.Name,
			Modified: rec.Modified,
			Type:     payload.Type,
		})
	}

	if len(batch) > 0 {
		if err := c.store.InsertOrUpdateClients(ctx, batch); err != nil {
			return Failed(err)
		}
	}

	if err := pad.Advance(serverModified); err != nil {
		return Failed(err)
	}

	c.logger.Printf("Applied %d client records, watermark now %d", len(batch), serverModified)
	return Completed()
}

func (c *ClientsSynchronizer) processOwnCommands(commands []record.CommandEntry) {
	for _, cmd := range commands {
		c.logger.Printf("Received command: %s %v", cmd.Command, cmd.Args)
		if c.OnCommand != nil {
			c.OnCommand(cmd)
		}
	}
}

// uploadOwnRecord pushes this device's client record. The upload is an
// unconditional overwrite with an empty command list, which also clears
// any commands this device just consumed.
func (c *ClientsSynchronizer) uploadOwnRecord(ctx context.Context, sess *auth.Session, pad *Scratchpad) error {
	cleartext, err := record.EncodeClientPayload(&record.ClientPayload{
		ID:   pad.ClientID,
		Name: pad.ClientName,
		Type: DeviceType,
	})
	if err != nil {
		return fmt.Errorf("failed to encode own client record: %w", err)
	}
	encrypted, err := pad.Keys.Encrypt(cleartext)
	if err != nil {
		return fmt.Errorf("failed to encrypt own client record: %w", err)
	}

	if _, err := sess.Client.Put(ctx, CollectionClients, record.Record{
		ID:      pad.ClientID,
		Payload: encrypted,
	}, 0); err != nil {
		return fmt.Errorf("failed to upload own client record: %w", err)
	}
	return nil
}

// deliverQueuedCommands writes locally queued outgoing commands into the
// target clients' records. Deliveries are conditional on the record being
// unmodified since we fetched it: a conflict means the target synced in
// between, so the commands stay queued for the next attempt rather than
// clobbering the fresher record.
func (c *ClientsSynchronizer) deliverQueuedCommands(ctx context.Context, sess *auth.Session, pad *Scratchpad,
	payloads map[string]*record.ClientPayload, modifiedByGUID map[string]int64) error {

	for guid, payload := range payloads {
		queued, err := c.store.GetCommandsForClient(ctx, guid)
		if err != nil {
			return err
		}
		if len(queued) == 0 {
			continue
		}

		for _, cmd := range queued {
			payload.Commands = append(payload.Commands, record.CommandEntry{
				Command: cmd.Command,
				Args:    []string{cmd.Payload},
			})
		}

		cleartext, err := record.EncodeClientPayload(payload)
		if err != nil {
			return fmt.Errorf("failed to encode client record %s: %w", guid, err)
		}
		encrypted, err := pad.Keys.Encrypt(cleartext)
		if err != nil {
			return fmt.Errorf("failed to encrypt client record %s: %w", guid, err)
		}

		_, err = sess.Client.Put(ctx, CollectionClients, record.Record{
			ID:      guid,
			Payload: encrypted,
		}, modifiedByGUID[guid])
		if errors.Is(err, remote.ErrConflict) {
			c.logger.Printf("Client %s changed remotely, keeping %d commands queued", guid, len(queued))
			continue
		}
		if err != nil {
			return fmt.Errorf("failed to deliver commands to %s: %w", guid, err)
		}

		if err := c.store.DeleteCommandsForClient(ctx, guid); err != nil {
			return err
		}
		c.logger.Printf("Delivered %d commands to %s", len(queued), guid)
	}

	return nil
}
