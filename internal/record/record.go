// Package record defines the wire-level record types exchanged with the
// remote storage service, along with the payload codecs and the key bundle
// used to encrypt and decrypt payloads.
//
// A record on the wire is an (id, encrypted payload, ttl) tuple. The server
// stamps each record with a modified timestamp in milliseconds since the
// Unix epoch; clients use those timestamps as per-collection watermarks.
package record

import (
	"encoding/json"
	"fmt"
)

// Record is one stored object in a remote collection.
//
// Payload is an opaque string. For synced user data it is an encrypted
// envelope produced by KeyBundle.Encrypt; metadata collections may carry
// cleartext JSON.
type Record struct {
	ID      string `json:"id"`
	Payload string `json:"payload"`
	TTL     int    `json:"ttl,omitempty"`

	// Modified is the server-assigned modification time in milliseconds.
	// It is zero on records that have not been uploaded yet.
	Modified int64 `json:"modified,omitempty"`
}

// TabEntry is one open tab inside a tabs payload.
//
// URLHistory is ordered most-recent-last; the last element is the tab's
// current URL.
type TabEntry struct {
	Title      string   `json:"title"`
	Icon       string   `json:"icon,omitempty"`
	URLHistory []string `json:"urlHistory"`
	LastUsed   int64    `json:"lastUsed"`
}

// TabsPayload is the cleartext form of one client's complete tab snapshot.
// A device always uploads its whole tab set in a single record addressed
// by its own client ID.
type TabsPayload struct {
	ClientID   string     `json:"id"`
	ClientName string     `json:"clientName"`
	Tabs       []TabEntry `json:"tabs"`
}

// CommandEntry is one queued command embedded in a client record, e.g. a
// request to display a URI that was sent from another device.
type CommandEntry struct {
	Command string   `json:"command"`
	Args    []string `json:"args,omitempty"`
}

// ClientPayload is the cleartext form of a client (device) record.
// Commands are consumed by the addressed device on its next sync and
// cleared from the record afterwards.
type ClientPayload struct {
	ID       string         `json:"id"`
	Name     string         `json:"name"`
	Type     string         `json:"type"`
	Commands []CommandEntry `json:"commands,omitempty"`
}

// Validate checks that a tabs payload is well formed.
func (p *TabsPayload) Validate() error {
	if p.ClientID == "" {
		return fmt.Errorf("client id is required")
	}
	for i, tab := range p.Tabs {
		if len(tab.URLHistory) == 0 {
			return fmt.Errorf("tab %d has empty url history", i)
		}
	}
	return nil
}

// Validate checks that a client payload is well formed.
func (p *ClientPayload) Validate() error {
	if p.ID == "" {
		return fmt.Errorf("client id is required")
	}
	if p.Name == "" {
		return fmt.Errorf("client name is required")
	}
	return nil
}

// EncodeTabsPayload marshals a tabs payload to its cleartext JSON form.
func EncodeTabsPayload(p *TabsPayload) ([]byte, error) {
	if err := p.Validate(); err != nil {
		return nil, fmt.Errorf("invalid tabs payload: %w", err)
	}
	return json.Marshal(p)
}

// DecodeTabsPayload parses and validates a cleartext tabs payload.
func DecodeTabsPayload(data []byte) (*TabsPayload, error) {
	var p TabsPayload
	if err := json.Unmarshal(data, &p); err != nil {
		return nil, fmt.Errorf("failed to parse tabs payload: %w", err)
	}
	if err := p.Validate(); err != nil {
		return nil, fmt.Errorf("invalid tabs payload: %w", err)
	}
	return &p, nil
}

// EncodeClientPayload marshals a client payload to its cleartext JSON form.
func EncodeClientPayload(p *ClientPayload) ([]byte, error) {
	if err := p.Validate(); err != nil {
		return nil, fmt.Errorf("invalid client payload: %w", err)
	}
	return json.Marshal(p)
}

// DecodeClientPayload parses and validates a cleartext client payload.
func DecodeClientPayload(data []byte) (*ClientPayload, error) {
	var p ClientPayload
	if err := json.Unmarshal(data, &p); err != nil {
		return nil, fmt.Errorf("failed to parse client payload: %w", err)
	}
	if err := p.Validate(); err != nil {
		return nil, fmt.Errorf("invalid client payload: %w", err)
	}
	return &p, nil
}
