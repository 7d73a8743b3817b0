// Package auth resolves an account into a "ready" sync session: an
// authenticated storage client handle plus the remote collection metadata
// and the key bundle, valid for one sync attempt.
//
// The authentication handshake itself (token exchange, key derivation) is
// owned by an external provider; this package only defines the contract the
// coordinator consumes and a token-backed implementation of it.
package auth

import (
	"context"
	"errors"
	"fmt"

	"github.com/yonngwoo/weave/internal/prefs"
	"github.com/yonngwoo/weave/internal/record"
	"github.com/yonngwoo/weave/internal/remote"
)

// Common errors returned by session establishment.
//
// These can be checked with errors.Is():
//
//	if errors.Is(err, auth.ErrNoAccount) {
//	    // report NotStarted(NoAccount)
//	}
var (
	// ErrNoAccount is returned when session establishment requires an
	// account but none is present.
	ErrNoAccount = errors.New("no account configured")

	// ErrNotReady is returned when the account exists but the remote
	// end cannot be driven to a ready state (server unreachable,
	// metadata fetch failed).
	ErrNotReady = errors.New("remote storage not ready")
)

// Account identifies the signed-in user.
type Account struct {
	UID       string
	Email     string
	Token     string
	ServerURL string
}

// Session is an established, authenticated handle to the remote store,
// plus the remote collection metadata and decryption keys. A session is
// valid for one sync attempt and shared across the synchronizers of a
// fan-out run.
type Session struct {
	// ClientID is the local device's own client GUID.
	ClientID string

	// ClientName is the local device's display name.
	ClientName string

	// Client is the authenticated storage handle.
	Client remote.StorageClient

	// Collections is the remote metadata snapshot taken at session
	// establishment.
	Collections remote.InfoCollections

	// Keys is the payload key bundle. May be nil when keys are missing;
	// synchronizers treat that as fatal for their collection.
	Keys *record.KeyBundle
}

// SessionProvider drives an account to a ready session.
type SessionProvider interface {
	// ReadySession resolves the account into a ready session, or a typed
	// not-ready reason (ErrNoAccount, ErrNotReady).
	ReadySession(ctx context.Context, acct *Account) (*Session, error)
}

// TokenProvider is a SessionProvider that builds sessions from the
// account's bearer token and the key bundle cached in prefs. Readiness is
// proven by fetching info/collections.
type TokenProvider struct {
	Prefs *prefs.Prefs

	// NewClient constructs the storage client for an account. Defaults
	// to remote.NewHTTPClient; tests substitute an in-memory client.
	NewClient func(acct *Account) remote.StorageClient
}

// ReadySession implements SessionProvider.
func (p *TokenProvider) ReadySession(ctx context.Context, acct *Account) (*Session, error) {
	if acct == nil {
		return nil, ErrNoAccount
	}

	clientID, err := p.Prefs.ClientID()
	if err != nil {
		return nil, fmt.Errorf("failed to load client identity: %w", err)
	}
	clientName, err := p.Prefs.ClientName()
	if err != nil {
		return nil, fmt.Errorf("failed to load client name: %w", err)
	}
	keys, err := p.Prefs.KeyBundle()
	if err != nil {
		return nil, fmt.Errorf("failed to load key bundle: %w", err)
	}

	newClient := p.NewClient
	if newClient == nil {
		newClient = func(acct *Account) remote.StorageClient {
			return remote.NewHTTPClient(acct.ServerURL, acct.Token)
		}
	}
	client := newClient(acct)

	info, err := client.InfoCollections(ctx)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrNotReady, err)
	}

	return &Session{
		ClientID:    clientID,
		ClientName:  clientName,
		Client:      client,
		Collections: info,
		Keys:        keys,
	}, nil
}
