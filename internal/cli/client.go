package cli

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
)

type Client struct {
	BaseURL string
	HTTP    *http.Client
}

func NewClient(baseURL string) *Client {
	return &Client{
		BaseURL: strings.TrimRight(baseURL, "/"),
		HTTP: &http.Client{
			Timeout: 30 * time.Second,
		},
	}
}

func (c *Client) ListInstruments(ctx context.Context) (map[string]any, error) {
	var out map[string]any
	err := c.jsonRequest(ctx, http.MethodGet, "/v1/instruments", "", nil, &out, "")
	return out, err
}

func (c *Client) CurrentLuck(ctx context.Context, userID string) (map[string]any, error) {
	var out map[string]any
	err := c.jsonRequest(ctx, http.MethodGet, "/v1/luck", userID, nil, &out, "")
	return out, err
}

func (c *Client) Profile(ctx context.Context, userID string) (map[string]any, error) {
	var out map[string]any
	err := c.jsonRequest(ctx, http.MethodGet, "/v1/profile", userID, nil, &out, "")
	return out, err
}

func (c *Client) RecordDiscovery(ctx context.Context, userID, instrumentKey string) (map[string]any, error) {
	var out map[string]any
	err := c.jsonRequest(ctx, http.MethodPost, "/v1/discoveries", userID, map[string]any{
		"instrument_key": instrumentKey,
	}, &out, "")
	return out, err
}

func (c *Client) EnsureWorkspace(ctx context.Context, userID, workspaceID string) (map[string]any, error) {
	var out map[string]any
	err := c.jsonRequest(ctx, http.MethodPost, "/v1/workspaces", userID, map[string]any{
		"workspace_id": workspaceID,
	}, &out, "")
	return out, err
}

func (c *Client) WorkspaceState(ctx context.Context, userID, workspaceID string) (map[string]any, error) {
	var out map[string]any
	err := c.jsonRequest(ctx, http.MethodGet, "/v1/workspaces/"+url.PathEscape(workspaceID), userID, nil, &out, "")
	return out, err
}

func (c *Client) ResolveTribute(ctx context.Context, userID, workspaceID, instrumentKey, idem string) (map[string]any, error) {
	var out map[string]any
	err := c.jsonRequest(ctx, http.MethodPost, "/v1/workspaces/"+url.PathEscape(workspaceID)+"/tributes", userID, map[string]any{
		"instrument_key": instrumentKey,
	}, &out, idem)
	return out, err
}

func (c *Client) Ledger(ctx context.Context, userID, workspaceID string, limit int) (map[string]any, error) {
	path := "/v1/workspaces/" + url.PathEscape(workspaceID) + "/ledger"
	if limit > 0 {
		path = fmt.Sprintf("%s?limit=%d", path, limit)
	}
	var out map[string]any
	err := c.jsonRequest(ctx, http.MethodGet, path, userID, nil, &out, "")
	return out, err
}

func (c *Client) jsonRequest(ctx context.Context, method, path, userID string, in any, out any, idem string) error {
	var body io.Reader
	if in != nil {
		raw, err := json.Marshal(in)
		if err != nil {
			return err
		}
		body = bytes.NewReader(raw)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.BaseURL+path, body)
	if err != nil {
		return err
	}
	req.Header.Set("Accept", "application/json")
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if userID != "" {
		req.Header.Set("X-User-ID", userID)
	}
	if idem != "" {
		req.Header.Set("Idempotency-Key", idem)
	}
	resp, err := c.HTTP.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		raw, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return fmt.Errorf("api status %d: %s", resp.StatusCode, strings.TrimSpace(string(raw)))
	}
	if out == nil {
		return nil
	}
	return json.NewDecoder(resp.Body).Decode(out)
}
