// Package directory fetches person records from the external person
// directory that owns them.
package directory

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"github.com/arkantrust/order-service/models"
)

// DefaultTimeout bounds a single person fetch.
const DefaultTimeout = 200 * time.Millisecond

// ErrPersonNotFound is returned when the directory answers 404.
var ErrPersonNotFound = errors.New("person not found")

// Client performs bounded-latency person lookups.
type Client struct {
	baseURL string
	timeout time.Duration
	http    *http.Client
}

// New returns a client for the directory reachable at baseURL, for example
// "http://localhost:8080". A timeout <= 0 selects DefaultTimeout.
func New(baseURL string, timeout time.Duration) *Client {
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	return &Client{
		baseURL: baseURL,
		timeout: timeout,
		http:    &http.Client{},
	}
}

// Fetch returns the current record for id. It fails once the timeout has
// elapsed, on any non-2xx answer, on a malformed body and on a body whose id
// does not match the one requested.
func (c *Client) Fetch(ctx context.Context, id string) (models.Person, error) {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	endpoint := c.baseURL + "/api/v1/person/" + url.PathEscape(id)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return models.Person{}, fmt.Errorf("fetch person %s: %w", id, err)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return models.Person{}, fmt.Errorf("fetch person %s: %w", id, err)
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusNotFound:
		return models.Person{}, fmt.Errorf("fetch person %s: %w", id, ErrPersonNotFound)
	case resp.StatusCode < 200 || resp.StatusCode > 299:
		return models.Person{}, fmt.Errorf("fetch person %s: unexpected status %d", id, resp.StatusCode)
	}

	var p models.Person
	if err := json.NewDecoder(io.LimitReader(resp.Body, 1<<20)).Decode(&p); err != nil {
		return models.Person{}, fmt.Errorf("fetch person %s: decode: %w", id, err)
	}
	if p.ID != id {
		return models.Person{}, fmt.Errorf("fetch person %s: directory returned id %q", id, p.ID)
	}
	return p, nil
}
