package api

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"github.com/oddstack/browserpool/internal/slot"
)

// Client is browserpoolctl's view of a running daemon.
type Client struct {
	BaseURL    string
	HTTPClient *http.Client
}

// NewClient builds a Client pointed at a browserpoold listen address.
func NewClient(baseURL string) *Client {
	return &Client{
		BaseURL:    baseURL,
		HTTPClient: &http.Client{Timeout: 30 * time.Second},
	}
}

func (c *Client) Browsers() (*BrowsersResponse, error) {
	var resp BrowsersResponse
	if err := c.get("/browsers", &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

func (c *Client) BrowsersFromRuntime() (*BrowsersResponse, error) {
	var resp BrowsersResponse
	if err := c.get("/browsers/runtime", &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

func (c *Client) Reserve(leaseMinutes int) (*ReserveResponse, error) {
	var resp ReserveResponse
	if err := c.post("/reserve", ReserveRequest{LeaseMinutes: leaseMinutes}, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

func (c *Client) Extend(name string, leaseMinutes int) error {
	return c.post(fmt.Sprintf("/browsers/%s/extend", url.PathEscape(name)), ExtendRequest{LeaseMinutes: leaseMinutes}, nil)
}

func (c *Client) Release(name string) error {
	return c.post(fmt.Sprintf("/browsers/%s/release", url.PathEscape(name)), nil, nil)
}

func (c *Client) SetResolution(name, resolution string) error {
	return c.post(fmt.Sprintf("/browsers/%s/resolution", url.PathEscape(name)), ReInitResolutionRequest{Resolution: resolution}, nil)
}

func (c *Client) SetDefaultViewport(vp slot.Viewport) error {
	return c.post("/default-viewport", SetDefaultViewportRequest{Viewport: vp}, nil)
}

func (c *Client) get(path string, result interface{}) error {
	resp, err := c.HTTPClient.Get(c.BaseURL + path)
	if err != nil {
		return fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()
	return decodeOrError(resp, result)
}

func (c *Client) post(path string, payload, result interface{}) error {
	var body io.Reader
	if payload != nil {
		data, err := json.Marshal(payload)
		if err != nil {
			return fmt.Errorf("marshaling request: %w", err)
		}
		body = bytes.NewReader(data)
	}

	resp, err := c.HTTPClient.Post(c.BaseURL+path, "application/json", body)
	if err != nil {
		return fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()
	return decodeOrError(resp, result)
}

func decodeOrError(resp *http.Response, result interface{}) error {
	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("reading response: %w", err)
	}
	if resp.StatusCode >= 300 {
		var errResp ErrorResponse
		if json.Unmarshal(respBody, &errResp) == nil && errResp.Error != "" {
			return fmt.Errorf("%s", errResp.Error)
		}
		return fmt.Errorf("HTTP %d: %s", resp.StatusCode, respBody)
	}
	if result != nil {
		return json.Unmarshal(respBody, result)
	}
	return nil
}
