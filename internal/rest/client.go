// Package rest implements the fallback HTTP client used for initial loads
// and for message operations while the socket is down.
package rest

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/gigdesk/msgd/internal/wire"
)

// Client talks to the marketplace messaging REST API.
type Client struct {
	base   string
	userID string
	token  string
	http   *http.Client
}

// New creates a REST client. httpClient may be nil to use a default with a
// 15s timeout.
func New(baseURL, userID, token string, httpClient *http.Client) *Client {
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 15 * time.Second}
	}
	return &Client{
		base:   baseURL,
		userID: userID,
		token:  token,
		http:   httpClient,
	}
}

// Contacts fetches the contact list for the session user.
func (c *Client) Contacts(ctx context.Context) ([]wire.ContactSummary, error) {
	var out []wire.ContactSummary
	err := c.do(ctx, http.MethodGet, "/contacts/"+url.PathEscape(c.userID), nil, nil, &out)
	return out, err
}

// User fetches a single contact record, used when a conversation is opened
// for a contact the directory has never seen.
func (c *Client) User(ctx context.Context, contactID string) (*wire.ContactSummary, error) {
	var out wire.ContactSummary
	if err := c.do(ctx, http.MethodGet, "/users/"+url.PathEscape(contactID), nil, nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// Messages fetches persisted history for a conversation.
func (c *Client) Messages(ctx context.Context, contactID string, limit int) ([]wire.Message, error) {
	q := url.Values{}
	q.Set("userId", c.userID)
	q.Set("contactId", contactID)
	if limit > 0 {
		q.Set("limit", strconv.Itoa(limit))
	}
	var out []wire.Message
	err := c.do(ctx, http.MethodGet, "/messages", q, nil, &out)
	return out, err
}

// Send posts a message, returning the server-assigned id and timestamp.
func (c *Client) Send(ctx context.Context, msg *wire.Message) (*wire.SendAck, error) {
	var out wire.SendAck
	if err := c.do(ctx, http.MethodPost, "/send", nil, msg, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// DeleteMessage removes a message server-side.
func (c *Client) DeleteMessage(ctx context.Context, messageID string) error {
	q := url.Values{}
	q.Set("userId", c.userID)
	q.Set("messageId", messageID)
	return c.do(ctx, http.MethodDelete, "/message", q, nil, nil)
}

func (c *Client) do(ctx context.Context, method, path string, query url.Values, body, out any) error {
	u := c.base + path
	if len(query) > 0 {
		u += "?" + query.Encode()
	}

	var rd io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("marshal body: %w", err)
		}
		rd = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, u, rd)
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+c.token)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("%s %s: %w", method, path, err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return fmt.Errorf("%s %s: HTTP %d", method, path, resp.StatusCode)
	}
	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("%s %s: decode response: %w", method, path, err)
	}
	return nil
}
