// Package nightscout provides a client for interacting with the Nightscout API
package nightscout

import (
	"context"
	"crypto/sha1" //nolint:gosec // Required for Nightscout API secret hashing (legacy API requirement)
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/mrcode/nightscout-delta/internal/models"
)

// Client handles communication with the Nightscout API
type Client struct {
	baseURL    string
	apiSecret  string
	apiToken   string
	useToken   bool
	httpClient *http.Client
}

// NewClient creates a new Nightscout client
func NewClient(baseURL, apiSecret, apiToken string, useToken bool) *Client {
	return &Client{
		baseURL:   strings.TrimRight(baseURL, "/"),
		apiSecret: apiSecret,
		apiToken:  apiToken,
		useToken:  useToken,
		httpClient: &http.Client{
			Timeout: 30 * time.Second,
		},
	}
}

// NewClientFromSettings creates a client from the nightscout settings section
func NewClientFromSettings(s models.NightscoutSettings) *Client {
	c := NewClient(s.URL, s.APISecret, s.APIToken, s.UseToken)
	if s.Timeout > 0 {
		c.httpClient.Timeout = s.Timeout
	}
	return c
}

// hashSecret generates SHA1 hash of the API secret
// Note: SHA1 is required for Nightscout API compatibility
func hashSecret(secret string) string {
	hasher := sha1.New() //nolint:gosec // Required for Nightscout API
	hasher.Write([]byte(secret))
	return hex.EncodeToString(hasher.Sum(nil))
}

// buildRequest creates an HTTP request with proper authentication
func (c *Client) buildRequest(ctx context.Context, method, endpoint string, params url.Values) (*http.Request, error) {
	fullURL := c.baseURL + endpoint
	if params != nil {
		fullURL += "?" + params.Encode()
	}

	req, err := http.NewRequestWithContext(ctx, method, fullURL, nil)
	if err != nil {
		return nil, err
	}

	req.Header.Set("Accept", "application/json")

	// Add authentication
	if c.useToken && c.apiToken != "" {
		req.Header.Set("Authorization", "Bearer "+c.apiToken)
	} else if c.apiSecret != "" {
		req.Header.Set("API-SECRET", hashSecret(c.apiSecret))
	}

	return req, nil
}

// get executes a GET request and returns the response body
func (c *Client) get(ctx context.Context, endpoint string, params url.Values) ([]byte, error) {
	req, err := c.buildRequest(ctx, http.MethodGet, endpoint, params)
	if err != nil {
		return nil, err
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("request failed: %w", err)
	}
	defer func() {
		_ = resp.Body.Close()
	}()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("reading response: %w", err)
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, fmt.Errorf("API error %d: %s", resp.StatusCode, string(body))
	}

	return body, nil
}

// GetStatus retrieves the Nightscout server status
func (c *Client) GetStatus(ctx context.Context) (*models.ServerStatus, error) {
	body, err := c.get(ctx, "/api/v1/status", nil)
	if err != nil {
		return nil, err
	}

	var status models.ServerStatus
	if err := json.Unmarshal(body, &status); err != nil {
		return nil, fmt.Errorf("parsing status: %w", err)
	}

	return &status, nil
}

// TestConnection tests if the connection to Nightscout works
func (c *Client) TestConnection(ctx context.Context) error {
	_, err := c.GetStatus(ctx)
	return err
}

// GetCurrentEntry retrieves the most recent glucose entry
func (c *Client) GetCurrentEntry(ctx context.Context) (*models.GlucoseEntry, error) {
	params := url.Values{}
	params.Set("count", "1")

	body, err := c.get(ctx, "/api/v1/entries/current", params)
	if err != nil {
		return nil, err
	}

	// Current endpoint returns a single object or array
	var entry models.GlucoseEntry
	if err := json.Unmarshal(body, &entry); err != nil {
		var entries []models.GlucoseEntry
		if err := json.Unmarshal(body, &entries); err != nil {
			return nil, fmt.Errorf("parsing entry: %w", err)
		}
		if len(entries) > 0 {
			return &entries[0], nil
		}
		return nil, fmt.Errorf("no entries returned")
	}

	return &entry, nil
}

// GetEntries retrieves sgv entries for a time range.
// Zero times leave that side of the range open; count <= 0 uses the server default.
func (c *Client) GetEntries(ctx context.Context, from, to time.Time, count int) ([]models.GlucoseEntry, error) {
	params := url.Values{}

	if !from.IsZero() {
		params.Set("find[date][$gte]", fmt.Sprintf("%d", from.UnixMilli()))
	}
	if !to.IsZero() {
		params.Set("find[date][$lte]", fmt.Sprintf("%d", to.UnixMilli()))
	}
	if count > 0 {
		params.Set("count", fmt.Sprintf("%d", count))
	}

	body, err := c.get(ctx, "/api/v1/entries/sgv", params)
	if err != nil {
		return nil, err
	}

	var entries []models.GlucoseEntry
	if err := json.Unmarshal(body, &entries); err != nil {
		return nil, fmt.Errorf("parsing entries: %w", err)
	}

	return entries, nil
}

// GetEntriesAround retrieves the sgv entries within halfWidth of center, inclusive.
// The count assumes at most one reading per minute, the densest CGM rate in use.
func (c *Client) GetEntriesAround(ctx context.Context, center time.Time, halfWidth time.Duration) ([]models.GlucoseEntry, error) {
	count := int(2*halfWidth/time.Minute) + 2
	return c.GetEntries(ctx, center.Add(-halfWidth), center.Add(halfWidth), count)
}
