// Package api is the client for the portal's REST endpoints. The engine
// consumes these as opaque request/response contracts; the server owns all
// durable state.
package api

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/pulse-presence/internal/model"
)

type Client struct {
	baseURL    string
	token      string
	httpClient *http.Client
}

func NewClient(baseURL, token string) *Client {
	return &Client{
		baseURL: strings.TrimSuffix(baseURL, "/"),
		token:   token,
		httpClient: &http.Client{
			Timeout: 10 * time.Second,
		},
	}
}

// Teams returns the team list. With includeAll, the server also returns teams
// the user is not a member of (requires the monitoring privilege).
func (c *Client) Teams(ctx context.Context, includeAll bool) ([]model.Team, error) {
	path := "/api/teams"
	if includeAll {
		path += "?all=1"
	}
	var out []model.Team
	if err := c.getJSON(ctx, path, &out); err != nil {
		return nil, fmt.Errorf("api.Teams: %w", err)
	}
	return out, nil
}

// Contacts returns the DM contact list, each with a server-computed unread
// count.
func (c *Client) Contacts(ctx context.Context) ([]model.Contact, error) {
	var out []model.Contact
	if err := c.getJSON(ctx, "/api/contacts", &out); err != nil {
		return nil, fmt.Errorf("api.Contacts: %w", err)
	}
	return out, nil
}

// Preferences returns every per-chat preference the user has customized.
func (c *Client) Preferences(ctx context.Context) ([]model.ChatPreference, error) {
	var out []model.ChatPreference
	if err := c.getJSON(ctx, "/api/chat-preferences", &out); err != nil {
		return nil, fmt.Errorf("api.Preferences: %w", err)
	}
	return out, nil
}

// Settings returns the global notification settings singleton.
func (c *Client) Settings(ctx context.Context) (model.GlobalSettings, error) {
	var out model.GlobalSettings
	if err := c.getJSON(ctx, "/api/settings", &out); err != nil {
		return model.GlobalSettings{}, fmt.Errorf("api.Settings: %w", err)
	}
	return out, nil
}

func (c *Client) SetMuted(ctx context.Context, ref model.ChatRef, muted bool) error {
	action := "unmute"
	if muted {
		action = "mute"
	}
	if err := c.postJSON(ctx, chatPath(ref, action), nil, nil); err != nil {
		return fmt.Errorf("api.SetMuted: %w", err)
	}
	return nil
}

func (c *Client) SetHidden(ctx context.Context, ref model.ChatRef, hidden bool) error {
	action := "unhide"
	if hidden {
		action = "hide"
	}
	if err := c.postJSON(ctx, chatPath(ref, action), nil, nil); err != nil {
		return fmt.Errorf("api.SetHidden: %w", err)
	}
	return nil
}

func (c *Client) SetHidePreview(ctx context.Context, ref model.ChatRef, hide bool) error {
	body := map[string]bool{"hide": hide}
	if err := c.postJSON(ctx, chatPath(ref, "preview"), body, nil); err != nil {
		return fmt.Errorf("api.SetHidePreview: %w", err)
	}
	return nil
}

func (c *Client) SetGlobalMute(ctx context.Context, on bool) error {
	body := map[string]bool{"on": on}
	if err := c.postJSON(ctx, "/api/settings/mute", body, nil); err != nil {
		return fmt.Errorf("api.SetGlobalMute: %w", err)
	}
	return nil
}

func (c *Client) SetGlobalHidePreview(ctx context.Context, on bool) error {
	body := map[string]bool{"on": on}
	if err := c.postJSON(ctx, "/api/settings/preview", body, nil); err != nil {
		return fmt.Errorf("api.SetGlobalHidePreview: %w", err)
	}
	return nil
}

// MarkRead records the chat as read on the server.
func (c *Client) MarkRead(ctx context.Context, ref model.ChatRef) error {
	if err := c.postJSON(ctx, chatPath(ref, "read"), nil, nil); err != nil {
		return fmt.Errorf("api.MarkRead: %w", err)
	}
	return nil
}

// MarkUnread flags the chat unread. The server decides the resulting count
// (messages since the last read marker) and returns it.
func (c *Client) MarkUnread(ctx context.Context, ref model.ChatRef) (int, error) {
	var out struct {
		UnreadCount int `json:"unread_count"`
	}
	if err := c.postJSON(ctx, chatPath(ref, "unread"), nil, &out); err != nil {
		return 0, fmt.Errorf("api.MarkUnread: %w", err)
	}
	return out.UnreadCount, nil
}

// RemoveHistory stores a cutoff timestamp on the server; all prior messages
// are excluded from future counts.
func (c *Client) RemoveHistory(ctx context.Context, ref model.ChatRef) error {
	if err := c.postJSON(ctx, chatPath(ref, "remove-history"), nil, nil); err != nil {
		return fmt.Errorf("api.RemoveHistory: %w", err)
	}
	return nil
}

func (c *Client) LeaveTeam(ctx context.Context, teamID string) error {
	if err := c.postJSON(ctx, "/api/teams/"+url.PathEscape(teamID)+"/leave", nil, nil); err != nil {
		return fmt.Errorf("api.LeaveTeam: %w", err)
	}
	return nil
}

func chatPath(ref model.ChatRef, action string) string {
	return "/api/chats/" + url.PathEscape(string(ref.Type)) + "/" + url.PathEscape(ref.ID) + "/" + action
}

func (c *Client) getJSON(ctx context.Context, path string, out any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+path, nil)
	if err != nil {
		return err
	}
	return c.do(req, out)
}

func (c *Client) postJSON(ctx context.Context, path string, body, out any) error {
	var rd io.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		if err != nil {
			return err
		}
		rd = bytes.NewReader(raw)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, rd)
	if err != nil {
		return err
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	return c.do(req, out)
}

func (c *Client) do(req *http.Request, out any) error {
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return err
	}
	defer func() {
		io.Copy(io.Discard, io.LimitReader(resp.Body, 4096))
		resp.Body.Close()
	}()
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("%s %s: status %d", req.Method, req.URL.Path, resp.StatusCode)
	}
	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("%s %s: decode: %w", req.Method, req.URL.Path, err)
	}
	return nil
}
