package admin

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"rudder/internal/automaton"
)

// Client talks to a running orchestrator's admin API. Used by the CLI.
type Client struct {
	baseURL string
	http    *http.Client
}

// NewClient creates an admin client for the given base URL, e.g.
// "http://127.0.0.1:44250".
func NewClient(baseURL string) *Client {
	return &Client{
		baseURL: baseURL,
		http:    &http.Client{Timeout: 2 * time.Minute},
	}
}

// ListStatuses fetches every live machine's snapshot.
func (c *Client) ListStatuses(ctx context.Context) ([]automaton.Status, error) {
	var out []automaton.Status
	err := c.get(ctx, "/api/v1/resources", &out)
	return out, err
}

// TenantStatuses fetches a tenant's machine snapshots.
func (c *Client) TenantStatuses(ctx context.Context, tenantID string) ([]automaton.Status, error) {
	var out []automaton.Status
	err := c.get(ctx, "/api/v1/tenants/"+url.PathEscape(tenantID)+"/resources", &out)
	return out, err
}

// GetStatus fetches one resource's snapshot.
func (c *Client) GetStatus(ctx context.Context, resourceID string) (automaton.Status, error) {
	var out automaton.Status
	err := c.get(ctx, "/api/v1/resources/"+url.PathEscape(resourceID), &out)
	return out, err
}

// ResourceCommand runs a command against one resource and returns the
// outcome of the pass it triggered.
func (c *Client) ResourceCommand(ctx context.Context, resourceID, command string) (CommandResult, error) {
	var out CommandResult
	err := c.post(ctx, "/api/v1/resources/"+url.PathEscape(resourceID)+"/"+url.PathEscape(command), &out)
	return out, err
}

// TenantCommand runs a command against every resource of a tenant. The
// tenant "*" addresses all resources.
func (c *Client) TenantCommand(ctx context.Context, tenantID, command string) ([]CommandResult, error) {
	var out []CommandResult
	err := c.post(ctx, "/api/v1/tenants/"+url.PathEscape(tenantID)+"/"+url.PathEscape(command), &out)
	return out, err
}

func (c *Client) get(ctx context.Context, path string, out interface{}) error {
	return c.do(ctx, http.MethodGet, path, out)
}

func (c *Client) post(ctx context.Context, path string, out interface{}) error {
	return c.do(ctx, http.MethodPost, path, out)
}

func (c *Client) do(ctx context.Context, method, path string, out interface{}) error {
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, nil)
	if err != nil {
		return err
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("reaching orchestrator at %s: %w", c.baseURL, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return err
	}

	if resp.StatusCode != http.StatusOK {
		var apiErr struct {
			Error string `json:"error"`
		}
		if json.Unmarshal(body, &apiErr) == nil && apiErr.Error != "" {
			return fmt.Errorf("%s (HTTP %d)", apiErr.Error, resp.StatusCode)
		}
		return fmt.Errorf("unexpected HTTP %d from %s", resp.StatusCode, path)
	}

	if out == nil {
		return nil
	}
	return json.Unmarshal(body, out)
}
