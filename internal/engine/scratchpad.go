package engine

import (
	"fmt"

	"github.com/yonngwoo/weave/internal/auth"
	"github.com/yonngwoo/weave/internal/prefs"
	"github.com/yonngwoo/weave/internal/record"
)

// Scratchpad is the per-collection local checkpoint: the device's own
// identity, the key bundle, and the watermark of the last successfully
// processed remote modification time.
//
// A scratchpad is exclusively owned by its synchronizer for the duration
// of one sync attempt; concurrent synchronizers in a fan-out run hold
// disjoint scratchpads, so no locking is needed beyond the coordinator's
// global sync lock.
type Scratchpad struct {
	ClientID   string
	ClientName string
	Keys       *record.KeyBundle

	// LastFetched is the watermark in milliseconds. Zero is the sentinel
	// for "never synced", which forces a destructive local wipe before
	// the first fetch is applied.
	LastFetched int64

	collection string
	prefs      *prefs.Prefs
}

// loadScratchpad builds the scratchpad for one collection from the session
// identity and the persisted watermark.
func loadScratchpad(p *prefs.Prefs, sess *auth.Session, collection string) (*Scratchpad, error) {
	last, err := p.LastFetched(collection)
	if err != nil {
		return nil, fmt.Errorf("failed to load %s watermark: %w", collection, err)
	}

	return &Scratchpad{
		ClientID:    sess.ClientID,
		ClientName:  sess.ClientName,
		Keys:        sess.Keys,
		LastFetched: last,
		collection:  collection,
		prefs:       p,
	}, nil
}

// FreshStart reports whether this collection has never been synced.
func (s *Scratchpad) FreshStart() bool {
	return s.LastFetched == 0
}

// Advance persists a new watermark. Called only after every record of a
// fetch batch applied successfully, so a partially applied batch never
// partially advances the watermark.
func (s *Scratchpad) Advance(ts int64) error {
	if err := s.prefs.SetLastFetched(s.collection, ts); err != nil {
		return fmt.Errorf("failed to advance %s watermark: %w", s.collection, err)
	}
	s.LastFetched = ts
	return nil
}

// Reset drops the watermark back to the fresh-start sentinel.
func (s *Scratchpad) Reset() error {
	return s.Advance(0)
}
