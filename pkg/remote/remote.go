// Package remote is the HTTP client for the model services that extract
// drafts and classify agent commands.
package remote

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/harrisonrobin/chronos/pkg/model"
)

const maxResponseBytes = 4 << 20

type Client struct {
	endpoint string
	client   *http.Client
}

// New creates a client for endpoint. timeout bounds each request on top of
// the caller's context.
func New(endpoint string, timeout time.Duration) *Client {
	return &Client{
		endpoint: endpoint,
		client:   &http.Client{Timeout: timeout},
	}
}

// Post sends body and returns the response body. 429 and 5xx answers and
// network failures are reported as model.ErrTransient, a deadline as
// model.ErrTimeout.
func (c *Client) Post(ctx context.Context, contentType string, body []byte) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", contentType)
	req.Header.Set("Accept", "application/json")

	resp, err := c.client.Do(req)
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) || errors.Is(ctx.Err(), context.DeadlineExceeded) {
			return nil, fmt.Errorf("%w: %s: %v", model.ErrTimeout, c.endpoint, err)
		}
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, fmt.Errorf("%w: %s: %v", model.ErrTransient, c.endpoint, err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		return nil, fmt.Errorf("%w: read response: %v", model.ErrTransient, err)
	}

	switch {
	case resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode >= 500:
		return nil, fmt.Errorf("%w: %s returned %d", model.ErrTransient, c.endpoint, resp.StatusCode)
	case resp.StatusCode >= 400:
		return nil, fmt.Errorf("%w: %s returned %d: %s", model.ErrInvalidInput, c.endpoint, resp.StatusCode, bytes.TrimSpace(respBody))
	}
	return respBody, nil
}
