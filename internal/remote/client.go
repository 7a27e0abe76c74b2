// Package remote implements the client for the backing deliveries service.
//
// The client translates the four logical collection operations into HTTP
// calls (GET/POST/PUT/DELETE under /deliveries) and reports success or a
// typed failure per call. It holds no cache and no state beyond its
// configuration; all caching and rollback logic lives in internal/cache.
package remote

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"strings"

	"github.com/rs/zerolog"

	"github.com/tbourn/go-delivery-console/internal/domain"
)

// Ack is the backing service's acknowledgement of a delete.
type Ack struct {
	Success bool  `json:"success"`
	ID      int64 `json:"id"`
}

// Client issues CRUD calls against the backing deliveries service.
// Construct with New; the zero value is not usable.
type Client struct {
	base string
	http *http.Client
	log  zerolog.Logger
}

// New returns a Client rooted at baseURL. The *http.Client is injected so
// callers control timeouts and transport; pass http.DefaultClient when in
// doubt. Timeouts configured on hc surface as ErrTimeout.
func New(baseURL string, hc *http.Client, log zerolog.Logger) *Client {
	if hc == nil {
		hc = http.DefaultClient
	}
	return &Client{
		base: strings.TrimRight(baseURL, "/"),
		http: hc,
		log:  log.With().Str("component", "remote").Logger(),
	}
}

// List fetches the full current server-side collection.
func (c *Client) List(ctx context.Context) ([]domain.Delivery, error) {
	var out []domain.Delivery
	if err := c.do(ctx, "list", http.MethodGet, "/deliveries", nil, &out); err != nil {
		return nil, err
	}
	return out, nil
}

// Create posts a new record and returns the server-confirmed record. The
// server may rewrite fields (e.g. assign a canonical id); the caller must
// tolerate a response that differs from its input.
func (c *Client) Create(ctx context.Context, d domain.Delivery) (domain.Delivery, error) {
	var out domain.Delivery
	if err := c.do(ctx, "create", http.MethodPost, "/deliveries", d, &out); err != nil {
		return domain.Delivery{}, err
	}
	return out, nil
}

// Update puts a partial patch for id and returns the server-confirmed record.
func (c *Client) Update(ctx context.Context, id int64, patch domain.DeliveryPatch) (domain.Delivery, error) {
	var out domain.Delivery
	path := fmt.Sprintf("/deliveries/%d", id)
	if err := c.do(ctx, "update", http.MethodPut, path, patch, &out); err != nil {
		return domain.Delivery{}, err
	}
	return out, nil
}

// Delete removes id server-side and returns the acknowledgement.
func (c *Client) Delete(ctx context.Context, id int64) (Ack, error) {
	var out Ack
	path := fmt.Sprintf("/deliveries/%d", id)
	if err := c.do(ctx, "delete", http.MethodDelete, path, nil, &out); err != nil {
		return Ack{}, err
	}
	return out, nil
}

// do performs one HTTP round trip and decodes the JSON response into out.
// Failures are classified into the package taxonomy: deadline overruns wrap
// ErrTimeout, other transport failures become *NetworkError, and non-2xx
// responses become *ServerError.
func (c *Client) do(ctx context.Context, op, method, path string, body, out any) error {
	var rd io.Reader
	if body != nil {
		buf, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("remote %s: encode body: %w", op, err)
		}
		rd = bytes.NewReader(buf)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.base+path, rd)
	if err != nil {
		return fmt.Errorf("remote %s: build request: %w", op, err)
	}
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return c.classify(op, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		b, _ := io.ReadAll(io.LimitReader(resp.Body, 4<<10))
		c.log.Warn().Str("op", op).Int("status", resp.StatusCode).Msg("server rejected request")
		return &ServerError{Op: op, Status: resp.StatusCode, Body: strings.TrimSpace(string(b))}
	}

	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return &NetworkError{Op: op, Err: fmt.Errorf("decode response: %w", err)}
	}
	c.log.Debug().Str("op", op).Str("path", path).Msg("remote call ok")
	return nil
}

// classify maps a transport error into the package taxonomy.
func (c *Client) classify(op string, err error) error {
	if errors.Is(err, context.DeadlineExceeded) {
		return fmt.Errorf("remote %s: %w", op, ErrTimeout)
	}
	var ne net.Error
	if errors.As(err, &ne) && ne.Timeout() {
		return fmt.Errorf("remote %s: %w", op, ErrTimeout)
	}
	return &NetworkError{Op: op, Err: err}
}
