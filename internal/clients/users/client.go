// Package users checks order owners against the users service.
package users

import (
	"context"
	"fmt"
	"io"
	"net/http"

	"github.com/go-faster/errors"

	"github.com/xenking/orderflow/internal/clients"
	"github.com/xenking/orderflow/internal/domain/order"
)

const dependency = "users"

var _ order.Users = (*Client)(nil)

// Client implements order.Users over the users service REST API.
type Client struct {
	http *http.Client
	cfg  clients.Config
}

// New returns a users Client.
func New(httpClient *http.Client, cfg clients.Config) *Client {
	return &Client{http: httpClient, cfg: cfg.Normalize()}
}

// Exists reports whether GET {base}/{id} answers 200. Other 4xx answers
// mean the user does not exist; 5xx and transport failures are reported as
// an unavailable dependency.
func (c *Client) Exists(ctx context.Context, userID int64) (bool, error) {
	ctx, cancel := context.WithTimeout(ctx, c.cfg.Timeout)
	defer cancel()

	url := fmt.Sprintf("%s/%d", c.cfg.BaseURL, userID)
	req, err := clients.NewRequest(ctx, http.MethodGet, url, nil)
	if err != nil {
		return false, errors.Wrap(err, "build request")
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return false, clients.Unavailable(dependency, err)
	}
	defer func() { _ = resp.Body.Close() }()
	_, _ = io.Copy(io.Discard, resp.Body)

	switch {
	case resp.StatusCode >= 200 && resp.StatusCode < 300:
		return true, nil
	case resp.StatusCode >= 400 && resp.StatusCode < 500:
		return false, nil
	default:
		return false, clients.Unavailable(dependency, &clients.StatusError{
			Method: req.Method,
			URL:    url,
			Code:   resp.StatusCode,
		})
	}
}
