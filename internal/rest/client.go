// Package rest is the HTTP/JSON client for the marketplace backend. It
// covers only the collaborator contract the realtime engine depends on:
// contact baselines, conversation history, and the notification fallback
// endpoints that parallel the live channel.
package rest

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/craftlance/relay/internal/roster"
	"github.com/craftlance/relay/internal/wire"
)

// ErrUnauthorized is returned when the backend rejects the bearer token.
var ErrUnauthorized = errors.New("rest: unauthorized")

// Client talks to the marketplace REST API on behalf of one user.
type Client struct {
	baseURL string
	token   string
	http    *http.Client
}

// NewClient creates a client for baseURL authenticating with token.
func NewClient(baseURL, token string) *Client {
	return &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		token:   token,
		http:    &http.Client{Timeout: 30 * time.Second},
	}
}

// Contacts fetches the contact baseline, including server-computed unread
// counts. This is the authoritative reconciliation source for the ledger.
func (c *Client) Contacts(ctx context.Context) ([]roster.Contact, error) {
	var out []roster.Contact
	if err := c.getJSON(ctx, "/contacts", &out); err != nil {
		return nil, err
	}
	return out, nil
}

// History fetches the message history with another user, oldest first.
func (c *Client) History(ctx context.Context, otherUserID string) ([]wire.ChatMessage, error) {
	var out []wire.ChatMessage
	path := "/messages/" + url.PathEscape(otherUserID)
	if err := c.getJSON(ctx, path, &out); err != nil {
		return nil, err
	}
	return out, nil
}

// Notifications fetches the notification baseline, newest first.
func (c *Client) Notifications(ctx context.Context) ([]wire.Notification, error) {
	var out []wire.Notification
	if err := c.getJSON(ctx, "/notifications", &out); err != nil {
		return nil, err
	}
	return out, nil
}

// NotificationCount fetches the server-side unread notification count.
func (c *Client) NotificationCount(ctx context.Context) (int, error) {
	var out struct {
		Count int `json:"count"`
	}
	if err := c.getJSON(ctx, "/notifications/unread-count", &out); err != nil {
		return 0, err
	}
	return out.Count, nil
}

// MarkNotificationRead marks one notification read on the backend.
func (c *Client) MarkNotificationRead(ctx context.Context, id string) error {
	path := "/notifications/" + url.PathEscape(id) + "/read"
	return c.do(ctx, http.MethodPatch, path)
}

// MarkAllNotificationsRead marks every notification read on the backend.
func (c *Client) MarkAllNotificationsRead(ctx context.Context) error {
	return c.do(ctx, http.MethodPatch, "/notifications/read-all")
}

func (c *Client) getJSON(ctx context.Context, path string, out any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+path, nil)
	if err != nil {
		return err
	}
	resp, err := c.send(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("rest: decode %s: %w", path, err)
	}
	return nil
}

func (c *Client) do(ctx context.Context, method, path string) error {
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, nil)
	if err != nil {
		return err
	}
	resp, err := c.send(req)
	if err != nil {
		return err
	}
	_, _ = io.Copy(io.Discard, resp.Body)
	return resp.Body.Close()
}

func (c *Client) send(req *http.Request) (*http.Response, error) {
	req.Header.Set("Authorization", "Bearer "+c.token)
	req.Header.Set("Accept", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("rest: %s %s: %w", req.Method, req.URL.Path, err)
	}
	switch {
	case resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden:
		resp.Body.Close()
		return nil, ErrUnauthorized
	case resp.StatusCode < 200 || resp.StatusCode > 299:
		resp.Body.Close()
		return nil, fmt.Errorf("rest: %s %s: unexpected status %d", req.Method, req.URL.Path, resp.StatusCode)
	}
	return resp, nil
}
