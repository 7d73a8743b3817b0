// Package remote provides the client for the per-collection remote storage
// service.
//
// The service stores records as (id, payload, ttl) tuples grouped into named
// collections, stamps every write with a server-side modification time in
// milliseconds, and exposes that metadata through an info/collections
// endpoint so clients can decide per collection whether any remote work
// exists before paying for a fetch.
package remote

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/cenkalti/backoff"

	"github.com/yonngwoo/weave/internal/record"
)

// Common errors returned by remote storage operations.
var (
	// ErrConflict is returned when a conditional Put finds the record
	// modified since the given timestamp.
	ErrConflict = errors.New("record modified since given timestamp")

	// ErrUnauthorized is returned when the server rejects the auth token.
	ErrUnauthorized = errors.New("storage server rejected credentials")

	// ErrServer is returned for unexpected server-side failures after
	// retries are exhausted.
	ErrServer = errors.New("storage server error")
)

// InfoCollections maps collection name to its server-side last-modified
// time in milliseconds.
type InfoCollections map[string]int64

// StorageClient is the contract the sync engines consume.
//
// GetSince and Put address collections by name; both report the
// server-side last-modified time so callers can maintain watermarks.
type StorageClient interface {
	// InfoCollections fetches the metadata snapshot of every collection.
	InfoCollections(ctx context.Context) (InfoCollections, error)

	// GetSince returns every record in the collection modified strictly
	// after since, along with the server's reported last-modified time
	// for the batch.
	GetSince(ctx context.Context, collection string, since int64) ([]record.Record, int64, error)

	// Put uploads one record. When ifUnmodifiedSince is non-zero the
	// write is conditional and fails with ErrConflict if the record has
	// been modified after that time. Returns the record's new modified
	// time.
	Put(ctx context.Context, collection string, rec record.Record, ifUnmodifiedSince int64) (int64, error)
}

// HTTPClient talks to a sync storage server over HTTP.
type HTTPClient struct {
	baseURL string
	token   string
	http    *http.Client

	// MaxRetries bounds the exponential backoff on transient failures.
	MaxRetries uint64
}

// NewHTTPClient creates a storage client for the given server base URL
// (e.g. "https://sync.example/1.5/12345") and bearer token.
func NewHTTPClient(baseURL, token string) *HTTPClient {
	return &HTTPClient{
		baseURL:    baseURL,
		token:      token,
		http:       &http.Client{Timeout: 30 * time.Second},
		MaxRetries: 3,
	}
}

// InfoCollections implements StorageClient.InfoCollections.
func (c *HTTPClient) InfoCollections(ctx context.Context) (InfoCollections, error) {
	var info InfoCollections
	err := c.retry(ctx, func() error {
		body, _, err := c.get(ctx, c.baseURL+"/info/collections")
		if err != nil {
			return err
		}
		info = InfoCollections{}
		if err := json.Unmarshal(body, &info); err != nil {
			return backoff.Permanent(fmt.Errorf("failed to parse info/collections: %w", err))
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return info, nil
}

// GetSince implements StorageClient.GetSince.
func (c *HTTPClient) GetSince(ctx context.Context, collection string, since int64) ([]record.Record, int64, error) {
	u := fmt.Sprintf("%s/storage/%s?full=1&newer=%d", c.baseURL, url.PathEscape(collection), since)

	var recs []record.Record
	var modified int64
	err := c.retry(ctx, func() error {
		body, header, err := c.get(ctx, u)
		if err != nil {
			return err
		}
		recs = nil
		if err := json.Unmarshal(body, &recs); err != nil {
			return backoff.Permanent(fmt.Errorf("failed to parse %s batch: %w", collection, err))
		}
		modified, err = parseModified(header)
		if err != nil {
			return backoff.Permanent(err)
		}
		return nil
	})
	if err != nil {
		return nil, 0, err
	}
	return recs, modified, nil
}

// Put implements StorageClient.Put.
func (c *HTTPClient) Put(ctx context.Context, collection string, rec record.Record, ifUnmodifiedSince int64) (int64, error) {
	u := fmt.Sprintf("%s/storage/%s/%s", c.baseURL, url.PathEscape(collection), url.PathEscape(rec.ID))

	payload, err := json.Marshal(rec)
	if err != nil {
		return 0, fmt.Errorf("failed to marshal record %s: %w", rec.ID, err)
	}

	var modified int64
	err = c.retry(ctx, func() error {
		req, err := http.NewRequestWithContext(ctx, http.MethodPut, u, bytes.NewReader(payload))
		if err != nil {
			return backoff.Permanent(err)
		}
		req.Header.Set("Content-Type", "application/json")
		req.Header.Set("Authorization", "Bearer "+c.token)
		if ifUnmodifiedSince > 0 {
			req.Header.Set("X-If-Unmodified-Since", strconv.FormatInt(ifUnmodifiedSince, 10))
		}

		resp, err := c.http.Do(req)
		if err != nil {
			return err
		}
		defer resp.Body.Close()
		io.Copy(io.Discard, resp.Body)

		switch {
		case resp.StatusCode == http.StatusPreconditionFailed:
			return backoff.Permanent(fmt.Errorf("put %s/%s: %w", collection, rec.ID, ErrConflict))
		case resp.StatusCode == http.StatusUnauthorized:
			return backoff.Permanent(fmt.Errorf("put %s/%s: %w", collection, rec.ID, ErrUnauthorized))
		case resp.StatusCode >= 500:
			return fmt.Errorf("put %s/%s: %w: status %d", collection, rec.ID, ErrServer, resp.StatusCode)
		case resp.StatusCode >= 400:
			return backoff.Permanent(fmt.Errorf("put %s/%s: %w: status %d", collection, rec.ID, ErrServer, resp.StatusCode))
		}

		modified, err = parseModified(resp.Header)
		if err != nil {
			return backoff.Permanent(err)
		}
		return nil
	})
	if err != nil {
		return 0, err
	}
	return modified, nil
}

// get performs one authorized GET, classifying failures for retry.
func (c *HTTPClient) get(ctx context.Context, u string) ([]byte, http.Header, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return nil, nil, backoff.Permanent(err)
	}
	req.Header.Set("Authorization", "Bearer "+c.token)

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, nil, err
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, nil, err
	}

	switch {
	case resp.StatusCode == http.StatusUnauthorized:
		return nil, nil, backoff.Permanent(fmt.Errorf("get %s: %w", u, ErrUnauthorized))
	case resp.StatusCode >= 500:
		return nil, nil, fmt.Errorf("get %s: %w: status %d", u, ErrServer, resp.StatusCode)
	case resp.StatusCode >= 400:
		return nil, nil, backoff.Permanent(fmt.Errorf("get %s: %w: status %d", u, ErrServer, resp.StatusCode))
	}

	return body, resp.Header, nil
}

// retry runs op with bounded exponential backoff. Permanent errors abort
// immediately; context cancellation stops the retry loop.
func (c *HTTPClient) retry(ctx context.Context, op func() error) error {
	b := backoff.WithContext(backoff.WithMaxRetries(backoff.NewExponentialBackOff(), c.MaxRetries), ctx)
	return backoff.Retry(op, b)
}

func parseModified(header http.Header) (int64, error) {
	v := header.Get("X-Last-Modified")
	if v == "" {
		return 0, fmt.Errorf("server response missing X-Last-Modified")
	}
	ts, err := strconv.ParseInt(v, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("bad X-Last-Modified %q: %w", v, err)
	}
	return ts, nil
}
