package remote

import (
	"context"
	"fmt"
	"sync"

	"github.com/yonngwoo/weave/internal/record"
)

// InMemoryClient is a StorageClient backed by process memory. It is used
// by tests and by local development against no server, and implements the
// same modified-timestamp semantics as the HTTP client.
type InMemoryClient struct {
	mu          sync.Mutex
	collections map[string]map[string]record.Record
	modified    map[string]int64
	clock       int64

	// FailGets, when set, makes GetSince return this error. Lets tests
	// exercise fetch-phase failure paths.
	FailGets error

	// FailPuts, when set, makes Put return this error.
	FailPuts error
}

// NewInMemoryClient creates an empty in-memory storage server.
func NewInMemoryClient() *InMemoryClient {
	return &InMemoryClient{
		collections: make(map[string]map[string]record.Record),
		modified:    make(map[string]int64),
		clock:       1000,
	}
}

// Seed stores a record directly, advancing the collection's modified time.
// Intended for test setup; bypasses FailPuts.
func (c *InMemoryClient) Seed(collection string, rec record.Record) int64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.putLocked(collection, rec)
}

// InfoCollections implements StorageClient.InfoCollections.
func (c *InMemoryClient) InfoCollections(ctx context.Context) (InfoCollections, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	info := InfoCollections{}
	for name, ts := range c.modified {
		info[name] = ts
	}
	return info, nil
}

// GetSince implements StorageClient.GetSince.
func (c *InMemoryClient) GetSince(ctx context.Context, collection string, since int64) ([]record.Record, int64, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.FailGets != nil {
		return nil, 0, c.FailGets
	}

	var recs []record.Record
	for _, rec := range c.collections[collection] {
		if rec.Modified > since {
			recs = append(recs, rec)
		}
	}
	return recs, c.modified[collection], nil
}

// Put implements StorageClient.Put.
func (c *InMemoryClient) Put(ctx context.Context, collection string, rec record.Record, ifUnmodifiedSince int64) (int64, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.FailPuts != nil {
		return 0, c.FailPuts
	}

	if ifUnmodifiedSince > 0 {
		if existing, ok := c.collections[collection][rec.ID]; ok && existing.Modified > ifUnmodifiedSince {
			return 0, fmt.Errorf("put %s/%s: %w", collection, rec.ID, ErrConflict)
		}
	}

	return c.putLocked(collection, rec), nil
}

// Record returns a stored record and whether it exists. Test helper.
func (c *InMemoryClient) Record(collection, id string) (record.Record, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	rec, ok := c.collections[collection][id]
	return rec, ok
}

func (c *InMemoryClient) putLocked(collection string, rec record.Record) int64 {
	c.clock++
	rec.Modified = c.clock

	if c.collections[collection] == nil {
		c.collections[collection] = make(map[string]record.Record)
	}
	c.collections[collection][rec.ID] = rec
	c.modified[collection] = c.clock
	return c.clock
}
